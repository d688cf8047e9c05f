package fn

import (
	"fmt"
	"os"
	"strings"
)

// The built-in function library, exposed to the VM through the
// foreign-function surface: each handler works directly against the
// stack top and finishes by pushing its result. Builtins are defined
// in the fn/builtin namespace; every new namespace receives aliases
// to them (see AddRuntimeNamespace).

// BuiltinNamespace is the namespace builtins are defined in.
const BuiltinNamespace = "fn/builtin"

func rtErrorf(format string, args ...interface{}) error {
	return &RuntimeError{Message: fmt.Sprintf(format, args...)}
}

func (S *IState) argNum(i, n int, who string) (float64, error) {
	v := S.stack[S.sp-n+i]
	if !v.IsNum() {
		return 0, rtErrorf("%s: argument %d is not a number, but %s", who, i+1, v.Tag())
	}
	return v.num, nil
}

func installBuiltins(S *IState) {
	def := func(name string, numParams int, vari bool, f ForeignFunc) {
		S.pushForeign(name, numParams, vari, f)
		fqn := S.Env.Resolve(S.Symtab, S.ns, S.Symtab.Intern(name))
		S.Env.SetGlobal(fqn, S.pop())
	}

	def("+", 0, true, biAdd)
	def("-", 1, true, biSub)
	def("*", 0, true, biMul)
	def("/", 1, true, biDiv)
	def("mod", 2, false, biMod)
	def("=", 2, true, biEq)
	def("<", 2, true, biCmp(func(a, b float64) bool { return a < b }, "<"))
	def(">", 2, true, biCmp(func(a, b float64) bool { return a > b }, ">"))
	def("<=", 2, true, biCmp(func(a, b float64) bool { return a <= b }, "<="))
	def(">=", 2, true, biCmp(func(a, b float64) bool { return a >= b }, ">="))
	def("not", 1, false, biNot)
	def("List", 0, true, biList)
	def("Table", 0, true, biTable)
	def("cons", 2, false, biCons)
	def("head", 1, false, biHead)
	def("tail", 1, false, biTail)
	def("nth", 2, false, biNth)
	def("length", 1, false, biLength)
	def("concat", 0, true, biConcat)
	def("get", 2, true, biGet)
	def("put!", 3, false, biPut)
	def("error", 1, false, biError)
	def("print", 0, true, biPrint(false))
	def("println", 0, true, biPrint(true))
	def("String", 0, true, biString)
	def("gensym", 0, false, biGensym)
	def("nil?", 1, false, biPred(func(v Value) bool { return v.IsNil() }))
	def("bool?", 1, false, biPred(func(v Value) bool { return v.IsBool() }))
	def("number?", 1, false, biPred(func(v Value) bool { return v.IsNum() }))
	def("string?", 1, false, biPred(func(v Value) bool { return v.IsString() }))
	def("symbol?", 1, false, biPred(func(v Value) bool { return v.IsSym() }))
	def("list?", 1, false, biPred(func(v Value) bool { return v.IsList() }))
	def("empty?", 1, false, biPred(func(v Value) bool { return v.IsEmpty() }))
	def("table?", 1, false, biPred(func(v Value) bool { return v.IsTable() }))
	def("function?", 1, false, biPred(func(v Value) bool { return v.IsFunc() }))
}

func biAdd(S *IState, n int) error {
	sum := 0.0
	for i := 0; i < n; i++ {
		f, err := S.argNum(i, n, "+")
		if err != nil {
			return err
		}
		sum += f
	}
	S.push(BoxNum(sum))
	return nil
}

func biSub(S *IState, n int) error {
	first, err := S.argNum(0, n, "-")
	if err != nil {
		return err
	}
	if n == 1 {
		S.push(BoxNum(-first))
		return nil
	}
	acc := first
	for i := 1; i < n; i++ {
		f, err := S.argNum(i, n, "-")
		if err != nil {
			return err
		}
		acc -= f
	}
	S.push(BoxNum(acc))
	return nil
}

func biMul(S *IState, n int) error {
	prod := 1.0
	for i := 0; i < n; i++ {
		f, err := S.argNum(i, n, "*")
		if err != nil {
			return err
		}
		prod *= f
	}
	S.push(BoxNum(prod))
	return nil
}

func biDiv(S *IState, n int) error {
	first, err := S.argNum(0, n, "/")
	if err != nil {
		return err
	}
	if n == 1 {
		if first == 0 {
			return rtErrorf("division by zero")
		}
		S.push(BoxNum(1 / first))
		return nil
	}
	acc := first
	for i := 1; i < n; i++ {
		f, err := S.argNum(i, n, "/")
		if err != nil {
			return err
		}
		if f == 0 {
			return rtErrorf("division by zero")
		}
		acc /= f
	}
	S.push(BoxNum(acc))
	return nil
}

func biMod(S *IState, n int) error {
	a, err := S.argNum(0, n, "mod")
	if err != nil {
		return err
	}
	b, err := S.argNum(1, n, "mod")
	if err != nil {
		return err
	}
	if b == 0 {
		return rtErrorf("division by zero")
	}
	r := float64(int64(a) % int64(b))
	S.push(BoxNum(r))
	return nil
}

func biEq(S *IState, n int) error {
	for i := 1; i < n; i++ {
		if !Equal(S.stack[S.sp-n+i-1], S.stack[S.sp-n+i]) {
			S.push(No)
			return nil
		}
	}
	S.push(Yes)
	return nil
}

func biCmp(cmp func(a, b float64) bool, who string) ForeignFunc {
	return func(S *IState, n int) error {
		for i := 1; i < n; i++ {
			a, err := S.argNum(i-1, n, who)
			if err != nil {
				return err
			}
			b, err := S.argNum(i, n, who)
			if err != nil {
				return err
			}
			if !cmp(a, b) {
				S.push(No)
				return nil
			}
		}
		S.push(Yes)
		return nil
	}
}

func biNot(S *IState, n int) error {
	S.push(BoxBool(!S.peek(0).Truthy()))
	return nil
}

func biList(S *IState, n int) error {
	S.popToList(n)
	return nil
}

func biTable(S *IState, n int) error {
	if n%2 != 0 {
		return rtErrorf("Table requires an even number of arguments")
	}
	return S.popToTable(n)
}

func biCons(S *IState, n int) error {
	tl := S.peek(0)
	if !tl.IsList() {
		return rtErrorf("cons tail is not a list, but %s", tl.Tag())
	}
	// operands stay on the stack across the allocation
	c := S.Alloc.allocObject(gcCons, 2*ObjAlign)
	c.head = S.peek(1)
	c.tail = S.peek(0)
	S.push(BoxCons(c))
	return nil
}

func biHead(S *IState, n int) error {
	v := S.peek(0)
	if !v.IsCons() {
		return rtErrorf("head of a non-list value of type %s", v.Tag())
	}
	S.push(v.obj.head)
	return nil
}

func biTail(S *IState, n int) error {
	v := S.peek(0)
	if !v.IsCons() {
		return rtErrorf("tail of a non-list value of type %s", v.Tag())
	}
	S.push(v.obj.tail)
	return nil
}

func biNth(S *IState, n int) error {
	idx := S.peek(1)
	if !idx.IsNum() {
		return rtErrorf("nth: index is not a number")
	}
	v := S.peek(0)
	i := int(idx.num)
	for ; i > 0 && v.IsCons(); i-- {
		v = v.obj.tail
	}
	if !v.IsCons() {
		return rtErrorf("nth: index %s out of bounds", formatNum(idx.num))
	}
	S.push(v.obj.head)
	return nil
}

func biLength(S *IState, n int) error {
	v := S.peek(0)
	switch {
	case v.IsList():
		l := v.ListLen()
		if l < 0 {
			return rtErrorf("length of an improper list")
		}
		S.push(BoxNum(float64(l)))
	case v.IsString():
		S.push(BoxNum(float64(len(v.obj.bytes))))
	case v.IsTable():
		S.push(BoxNum(float64(v.obj.cnt)))
	default:
		return rtErrorf("length of a value of type %s", v.Tag())
	}
	return nil
}

func biConcat(S *IState, n int) error {
	base := S.sp - n
	total := 0
	for i := 0; i < n; i++ {
		lst := S.stack[base+i]
		for ; lst.IsCons(); lst = lst.obj.tail {
			if S.sp >= len(S.stack)-64 {
				return rtErrorf("stack overflow in concat")
			}
			S.push(lst.obj.head)
			total++
		}
		// lst is still valid here: the pushes above cannot allocate
		if !lst.IsEmpty() {
			return rtErrorf("concat argument %d is not a proper list", i+1)
		}
	}
	S.popToList(total)
	return nil
}

func biGet(S *IState, n int) error {
	t := S.stack[S.sp-n]
	if !t.IsTable() {
		return rtErrorf("get: not a table, but %s", t.Tag())
	}
	v, ok := tableGetWithMeta(t.obj, S.stack[S.sp-n+1])
	if !ok && n >= 3 {
		v = S.stack[S.sp-n+2]
	}
	S.push(v)
	return nil
}

func biPut(S *IState, n int) error {
	// arguments already sit in the obj-set stack order: table key value
	t := S.peek(2)
	if !t.IsTable() {
		return rtErrorf("put!: not a table, but %s", t.Tag())
	}
	if err := S.tableSetAt(); err != nil {
		return err
	}
	S.push(Nil)
	return nil
}

func biError(S *IState, n int) error {
	v := S.peek(0)
	if v.IsString() {
		return &RuntimeError{Message: string(v.obj.bytes)}
	}
	return &RuntimeError{Message: ValueString(v, S.Symtab, true)}
}

func biPrint(newline bool) ForeignFunc {
	return func(S *IState, n int) error {
		var b strings.Builder
		for i := 0; i < n; i++ {
			b.WriteString(ValueString(S.stack[S.sp-n+i], S.Symtab, false))
		}
		if newline {
			b.WriteByte('\n')
		}
		os.Stdout.WriteString(b.String())
		S.push(Nil)
		return nil
	}
}

func biString(S *IState, n int) error {
	var b strings.Builder
	for i := 0; i < n; i++ {
		b.WriteString(ValueString(S.stack[S.sp-n+i], S.Symtab, false))
	}
	S.pushString(b.String())
	return nil
}

func biGensym(S *IState, n int) error {
	S.push(BoxSym(S.Symtab.Gensym()))
	return nil
}

func biPred(p func(Value) bool) ForeignFunc {
	return func(S *IState, n int) error {
		S.push(BoxBool(p(S.peek(0))))
		return nil
	}
}
