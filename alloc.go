package fn

import "math"

// Object constructors. Each constructor fills non-pointer fields
// first, pins intermediates in handles when further allocations
// follow, and applies the write barrier on every pointer store into
// a pre-existing object. Constructors that need operands across an
// allocation take them from the VM stack, never from Go locals.

// ForeignFunc is a built-in function handler. It manipulates the top
// of the stack directly: its n arguments sit at stack[sp-n : sp],
// and it must finish by pushing its result (or returning an error).
type ForeignFunc func(S *IState, n int) error

// UpvalDesc describes one captured variable of a stub: a stack index
// in the enclosing frame when direct, an upvalue id of the enclosing
// function otherwise.
type UpvalDesc struct {
	Source uint8
	Direct bool
}

// CodeInfo associates the instructions from StartPC (until the next
// entry) with a source location.
type CodeInfo struct {
	StartPC uint32
	Loc     SourceLoc
}

// FuncStub is the immutable, code-carrying portion of a function.
// Many closures may share one stub. Stubs are heap objects (the
// carrying Object has kind gcStub); consts and subFuns hold GC
// references and are scavenged.
type FuncStub struct {
	foreign   ForeignFunc
	name      string
	filename  string
	nsID      SymbolID
	numParams uint8
	numOpt    uint8
	vari      bool
	variTable bool
	code      []byte
	consts    []Value
	subFuns   []*Object
	upvals    []UpvalDesc
	ci        []CodeInfo
}

// NumUpvals returns the number of upvalues functions on this stub
// capture.
func (fs *FuncStub) NumUpvals() int { return len(fs.upvals) }

// frameSlots is the number of stack slots a call to this stub
// occupies before its body runs: parameters, rest list, rest table,
// and one supplied-indicator per optional.
func (fs *FuncStub) frameSlots() int {
	n := int(fs.numParams) + int(fs.numOpt)
	if fs.vari {
		n++
	}
	if fs.variTable {
		n++
	}
	return n
}

// instrLoc finds the source location of the instruction at pc.
func (fs *FuncStub) instrLoc(pc uint32) SourceLoc {
	var loc SourceLoc
	for _, ci := range fs.ci {
		if ci.StartPC > pc {
			break
		}
		loc = ci.Loc
	}
	return loc
}

func (a *Allocator) allocString(s string) *Object {
	o := a.allocObject(gcString, ObjAlign+len(s))
	o.bytes = []byte(s)
	return o
}

func (a *Allocator) allocBytes(n uint32) *Object {
	o := a.allocObject(gcBytes, ObjAlign+16*int(n))
	o.slots = make([]Value, n)
	for i := range o.slots {
		o.slots[i] = Unin
	}
	return o
}

// pushString allocates a string object and pushes it.
func (S *IState) pushString(s string) {
	S.push(BoxString(S.Alloc.allocString(s)))
}

// popToList pops the top n stack values and pushes a list of them in
// stack order (deepest value first). The operands stay on the stack
// between the cell allocations, so a collection mid-way updates both
// the elements and the partial chain.
func (S *IState) popToList(n int) {
	S.push(EmptyList)
	for i := 0; i < n; i++ {
		c := S.Alloc.allocObject(gcCons, 2*ObjAlign)
		c.head = S.stack[S.sp-2]
		c.tail = S.stack[S.sp-1]
		S.stack[S.sp-2] = BoxCons(c)
		S.sp--
	}
}

const initialTableCap = 8

// pushTable allocates an empty table with at least the requested
// capacity and pushes it. The slot array is allocated before the
// header so only assignment remains once the header exists.
func (S *IState) pushTable(capHint uint32) {
	a := S.Alloc
	cap := uint32(initialTableCap)
	for cap < capHint {
		cap *= 2
	}
	data := a.allocBytes(2 * cap)
	h := a.PinHandle(data)
	t := a.allocObject(gcTable, 3*ObjAlign)
	data = h.Obj()
	h.Release()
	t.tcap = cap
	t.rehash = cap - cap/4
	t.data = data
	t.metatable = Nil
	a.writeBarrierObj(t, data)
	S.push(BoxTable(t))
}

// popToTable pops n stack values (alternating keys and values, n
// even) and pushes a table built from them.
func (S *IState) popToTable(n int) error {
	S.pushTable(uint32(n))
	t := S.stack[S.sp-1]
	base := S.sp - 1 - n
	for i := 0; i < n; i += 2 {
		if err := tableInsert(S.Alloc, t.obj, S.stack[base+i], S.stack[base+i+1]); err != nil {
			return err
		}
	}
	S.stack[base] = t
	S.sp = base + 1
	return nil
}

const fnvOffset = 14695981039346656037
const fnvPrime = 1099511628211

func hashBytes(h uint64, bs []byte) uint64 {
	for _, b := range bs {
		h ^= uint64(b)
		h *= fnvPrime
	}
	return h
}

func hashUint(h, u uint64) uint64 {
	for i := 0; i < 8; i++ {
		h ^= u & 0xff
		h *= fnvPrime
		u >>= 8
	}
	return h
}

// hashValue hashes a table key. Only atoms hash: aggregate keys have
// no content hash that survives a moving collector.
func hashValue(v Value) (uint64, bool) {
	h := uint64(fnvOffset)
	switch v.tag {
	case TagNum:
		return hashUint(h^1, math.Float64bits(v.num)), true
	case TagSym:
		return hashUint(h^2, uint64(v.sym)), true
	case TagString:
		return hashBytes(h^3, v.obj.bytes), true
	case TagNil, TagYes, TagNo, TagEmpty:
		return hashUint(h^4, uint64(v.tag)), true
	}
	return 0, false
}

func keyEqual(a, b Value) bool {
	if a.tag != b.tag {
		return false
	}
	if a.tag == TagString {
		return string(a.obj.bytes) == string(b.obj.bytes)
	}
	return a.Same(b)
}

// tableGet probes for key in t's own entries.
func tableGet(t *Object, key Value) (Value, bool) {
	h, ok := hashValue(key)
	if !ok {
		return Nil, false
	}
	slots := t.data.slots
	cap := uint64(t.tcap)
	i := h % cap
	for {
		k := slots[2*i]
		if k.IsUnin() {
			return Nil, false
		}
		if keyEqual(k, key) {
			return slots[2*i+1], true
		}
		i = (i + 1) % cap
	}
}

// tableGetWithMeta reads through the metatable chain on a miss.
func tableGetWithMeta(t *Object, key Value) (Value, bool) {
	for depth := 0; depth < 32; depth++ {
		if v, ok := tableGet(t, key); ok {
			return v, true
		}
		if !t.metatable.IsTable() {
			return Nil, false
		}
		t = t.metatable.obj
	}
	return Nil, false
}

// tableInsert adds or updates an entry. The caller must have ensured
// capacity; tableInsert itself never allocates.
func tableInsert(a *Allocator, t *Object, key, v Value) error {
	h, ok := hashValue(key)
	if !ok {
		return &RuntimeError{Message: "table key must be a number, string, symbol, bool, nil, or the empty list"}
	}
	slots := t.data.slots
	cap := uint64(t.tcap)
	i := h % cap
	for {
		k := slots[2*i]
		if k.IsUnin() {
			slots[2*i] = key
			slots[2*i+1] = v
			t.cnt++
			a.writeBarrier(t.data, key)
			a.writeBarrier(t.data, v)
			return nil
		}
		if keyEqual(k, key) {
			slots[2*i+1] = v
			a.writeBarrier(t.data, v)
			return nil
		}
		i = (i + 1) % cap
	}
}

// growTable doubles the capacity of the table held at stack index
// idx (from the top). The table is re-read from the stack after the
// allocation, which may have moved it.
func (S *IState) growTable(idx int) {
	a := S.Alloc
	newCap := S.peek(idx).obj.tcap * 2
	data := a.allocBytes(2 * newCap)
	t := S.peek(idx).obj
	old := t.data.slots
	t.tcap = newCap
	t.rehash = newCap - newCap/4
	t.data = data
	t.cnt = 0
	a.writeBarrierObj(t, data)
	for i := 0; i < len(old); i += 2 {
		if !old[i].IsUnin() {
			tableInsert(a, t, old[i], old[i+1])
		}
	}
}

// tableSetAt performs the OBJ_SET operation against the stack:
// ->[new-value] key obj. All three operands are popped. Sets always
// write the table's own entry; the metatable affects reads only.
func (S *IState) tableSetAt() error {
	tv := S.peek(2)
	if !tv.IsTable() {
		return &RuntimeError{Message: "obj-set target is not a table, but " + tv.Tag().String()}
	}
	if tv.obj.cnt+1 > tv.obj.rehash {
		S.growTable(2)
	}
	t := S.peek(2).obj
	if err := tableInsert(S.Alloc, t, S.peek(1), S.peek(0)); err != nil {
		return err
	}
	S.popN(3)
	return nil
}

// pushForeign allocates a foreign-function stub and closure, and
// pushes the closure.
func (S *IState) pushForeign(name string, numParams int, vari bool, f ForeignFunc) {
	a := S.Alloc
	so := a.allocObject(gcStub, 2*ObjAlign)
	so.fs = &FuncStub{
		foreign:   f,
		name:      name,
		nsID:      S.nsID,
		numParams: uint8(numParams),
		vari:      vari,
	}
	h := a.PinHandle(so)
	fo := a.allocObject(gcFunction, 2*ObjAlign)
	fo.stub = h.Obj()
	h.Release()
	a.writeBarrierObj(fo, fo.stub)
	S.push(BoxFunc(fo))
}

func stubSize(out *CompilerOutput) int {
	n := ObjAlign + len(out.Code) + 16*len(out.Consts) + 8*len(out.SubFuns)
	n += 2*len(out.Upvals) + 16*len(out.CI)
	return n
}

// reify materializes a compiler output record into a function object
// and pushes it. This is the only point where compilation touches
// the GC heap: string and quoted constants are allocated here, and
// global references are patched from local names to FQNs against the
// current namespace.
func (S *IState) reify(out *CompilerOutput) error {
	h, err := S.reifyStub(out)
	if err != nil {
		return err
	}
	fo := S.Alloc.allocObject(gcFunction, 2*ObjAlign)
	fo.stub = h.Obj()
	h.Release()
	S.Alloc.writeBarrierObj(fo, fo.stub)
	S.push(BoxFunc(fo))
	return nil
}

func (S *IState) reifyStub(out *CompilerOutput) (*Handle, error) {
	a := S.Alloc
	so := a.allocObject(gcStub, stubSize(out))
	so.fs = &FuncStub{
		name:      out.Name,
		filename:  S.filename,
		nsID:      S.nsID,
		numParams: out.NumParams,
		numOpt:    out.NumOpt,
		vari:      out.Vari,
		variTable: out.VariTable,
		code:      append([]byte(nil), out.Code...),
		consts:    make([]Value, len(out.Consts)),
		subFuns:   make([]*Object, len(out.SubFuns)),
		upvals:    append([]UpvalDesc(nil), out.Upvals...),
		ci:        append([]CodeInfo(nil), out.CI...),
	}
	h := a.PinHandle(so)
	for i := range out.Consts {
		ce := &out.Consts[i]
		switch ce.kind {
		case constNum:
			h.Obj().fs.consts[i] = BoxNum(ce.num)
		case constSym:
			h.Obj().fs.consts[i] = BoxSym(ce.sym)
		case constEmpty:
			h.Obj().fs.consts[i] = EmptyList
		case constGlobalName:
			fqn := S.Env.Resolve(S.Symtab, S.ns, ce.sym)
			h.Obj().fs.consts[i] = BoxSym(fqn)
		case constStr:
			str := a.allocString(ce.str)
			so := h.Obj()
			so.fs.consts[i] = BoxString(str)
			a.writeBarrierObj(so, str)
		case constQuote:
			if err := S.pushAstValue(ce.quoted); err != nil {
				h.Release()
				return nil, err
			}
			so := h.Obj()
			so.fs.consts[i] = S.stack[S.sp-1]
			a.writeBarrier(so, so.fs.consts[i])
			S.pop()
		}
	}
	for i, sub := range out.SubFuns {
		ch, err := S.reifyStub(sub)
		if err != nil {
			h.Release()
			return nil, err
		}
		so := h.Obj()
		so.fs.subFuns[i] = ch.Obj()
		a.writeBarrierObj(so, ch.Obj())
		ch.Release()
	}
	return h, nil
}

// pushAstValue converts an AST node into a runtime value on the
// stack: numbers box, strings and lists allocate, symbols box their
// id.
func (S *IState) pushAstValue(node *AstNode) error {
	switch node.Kind {
	case AstNumber:
		S.push(BoxNum(node.Num))
	case AstString:
		S.pushString(node.Str)
	case AstSymbol:
		S.push(BoxSym(node.Sym))
	case AstList:
		for _, child := range node.List {
			if err := S.pushAstValue(child); err != nil {
				return err
			}
		}
		S.popToList(len(node.List))
	}
	return nil
}

// valueToAst converts a macroexpansion result back into syntax. The
// produced nodes carry the macro call's location with the expansion
// flag set.
func valueToAst(st *SymbolTable, v Value, loc SourceLoc) (*AstNode, error) {
	loc.Expanded = true
	switch v.tag {
	case TagNum:
		return &AstNode{Kind: AstNumber, Loc: loc, Num: v.num}, nil
	case TagString:
		return &AstNode{Kind: AstString, Loc: loc, Str: string(v.obj.bytes)}, nil
	case TagSym:
		return &AstNode{Kind: AstSymbol, Loc: loc, Sym: v.sym, Str: st.NiceName(v.sym)}, nil
	case TagNil:
		return &AstNode{Kind: AstSymbol, Loc: loc, Sym: st.Intern("nil"), Str: "nil"}, nil
	case TagYes:
		return &AstNode{Kind: AstSymbol, Loc: loc, Sym: st.Intern("true"), Str: "true"}, nil
	case TagNo:
		return &AstNode{Kind: AstSymbol, Loc: loc, Sym: st.Intern("false"), Str: "false"}, nil
	case TagEmpty:
		return &AstNode{Kind: AstList, Loc: loc}, nil
	case TagCons:
		var children []*AstNode
		for ; v.IsCons(); v = v.obj.tail {
			child, err := valueToAst(st, v.obj.head, loc)
			if err != nil {
				return nil, err
			}
			children = append(children, child)
		}
		if !v.IsEmpty() {
			return nil, &ExpandError{Loc: loc, Message: "macro returned an improper list"}
		}
		return &AstNode{Kind: AstList, Loc: loc, List: children}, nil
	}
	return nil, &ExpandError{Loc: loc, Message: "macro returned a value with no syntax form: " + v.Tag().String()}
}
