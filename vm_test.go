package fn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// run evaluates source on a fresh interpreter and returns the last
// value.
func run(t *testing.T, src string) (Value, *IState) {
	t.Helper()
	S := NewIState(DefaultOptions())
	v, err := S.EvalString(src, "<test>")
	require.NoError(t, err)
	return v, S
}

func runErr(t *testing.T, src string) error {
	t.Helper()
	S := NewIState(DefaultOptions())
	_, err := S.EvalString(src, "<test>")
	require.Error(t, err)
	return err
}

func display(v Value, S *IState) string {
	return ValueString(v, S.Symtab, true)
}

func TestArithmetic(t *testing.T) {
	v, _ := run(t, "(+ 1 2 3)")
	assert.Equal(t, 6.0, v.Num())

	v, _ = run(t, "(- 10 2 3)")
	assert.Equal(t, 5.0, v.Num())

	v, _ = run(t, "(* 2 3 4)")
	assert.Equal(t, 24.0, v.Num())

	v, _ = run(t, "(/ 12 4)")
	assert.Equal(t, 3.0, v.Num())

	v, _ = run(t, "(+ (* 2 3) (/ 10 5))")
	assert.Equal(t, 8.0, v.Num())
}

func TestClosures(t *testing.T) {
	t.Run("closure over a parameter", func(t *testing.T) {
		v, _ := run(t, `
			(def f ((fn (x) (fn (y) (+ x y))) 10))
			(f 5)
		`)
		assert.Equal(t, 15.0, v.Num())
	})

	t.Run("the cell closes when the outer frame returns", func(t *testing.T) {
		_, S := run(t, `
			(def f ((fn (x) (fn (y) (+ x y))) 10))
			(f 5)
		`)
		fqn := S.Env.Resolve(S.Symtab, S.CurrentNamespace(), S.Symtab.Intern("f"))
		fv, ok := S.Env.GetGlobal(fqn)
		require.True(t, ok)
		require.True(t, fv.IsFunc())
		require.Len(t, fv.Obj().upvals, 1)
		cell := fv.Obj().upvals[0]
		assert.True(t, cell.closed)
		assert.Equal(t, 10.0, cell.val.Num())
	})

	t.Run("three levels of capture", func(t *testing.T) {
		v, _ := run(t, `
			(def make (fn (x) (fn () (fn () x))))
			(((make 7)))
		`)
		assert.Equal(t, 7.0, v.Num())
	})
}

func TestVariadicAndOptional(t *testing.T) {
	const defs = "(defn f (a (b 2) & rest) [a b rest])\n"
	for _, tc := range []struct {
		call string
		want string
	}{
		{"(f 1)", "[1 2 []]"},
		{"(f 1 9)", "[1 9 []]"},
		{"(f 1 9 3 4)", "[1 9 [3 4]]"},
	} {
		v, S := run(t, defs+tc.call)
		assert.Equal(t, tc.want, display(v, S), tc.call)
	}

	t.Run("arity violations", func(t *testing.T) {
		err := runErr(t, defs+"(f)")
		assert.Contains(t, err.Error(), "too few arguments")

		err = runErr(t, "(defn g (a b) a) (g 1 2 3)")
		assert.Contains(t, err.Error(), "too many arguments")

		err = runErr(t, "(defn g (a b) a) (g 1)")
		assert.Contains(t, err.Error(), "too few arguments")
	})

	t.Run("keyword rest table", func(t *testing.T) {
		v, S := run(t, "(defn f (a :& kw) [a kw]) (f 1 'x 10 'y 20)")
		assert.Equal(t, 1.0, v.Head().Num())
		kw := v.Tail().Head()
		require.True(t, kw.IsTable())
		x, ok := tableGet(kw.Obj(), BoxSym(S.Symtab.Intern("x")))
		require.True(t, ok)
		assert.Equal(t, 10.0, x.Num())
	})

	t.Run("init forms may reference enclosing scope", func(t *testing.T) {
		v, _ := run(t, "(def base 100) (defn f ((n (+ base 1))) n) (f)")
		assert.Equal(t, 101.0, v.Num())
	})
}

func TestMacros(t *testing.T) {
	const when = "(defmacro when (c & body) `(if ,c (do ,@body) nil))\n"

	t.Run("expansion and evaluation", func(t *testing.T) {
		v, _ := run(t, when+"(when true 1 2 3)")
		assert.Equal(t, 3.0, v.Num())
	})

	t.Run("unevaluated branch", func(t *testing.T) {
		v, _ := run(t, when+`(when false (error "x"))`)
		assert.True(t, v.IsNil())
	})

	t.Run("macro errors are wrapped", func(t *testing.T) {
		err := runErr(t, `(defmacro bad () (error "boom")) (bad)`)
		assert.Contains(t, err.Error(), "during macroexpansion")
		assert.Contains(t, err.Error(), "boom")
	})

	t.Run("macros expand recursively", func(t *testing.T) {
		v, _ := run(t, when+`
			(defmacro unless (c & body) `+"`"+`(when (not ,c) ,@body))
			(unless false 42)
		`)
		assert.Equal(t, 42.0, v.Num())
	})
}

func TestTailRecursion(t *testing.T) {
	v, S := run(t, `
		(defn loop (n) (if (= n 0) 'done (loop (- n 1))))
		(loop 100000)
	`)
	require.True(t, v.IsSym())
	assert.Equal(t, "done", S.Symtab.NiceName(v.Sym()))
}

func TestDeepNonTailRecursionOverflows(t *testing.T) {
	err := runErr(t, `
		(defn f (n) (if (= n 0) 0 (+ 1 (f (- n 1)))))
		(f 100000)
	`)
	assert.Contains(t, err.Error(), "stack overflow")
}

func TestUpvalueSharing(t *testing.T) {
	v, _ := run(t, `
		(defn make-pair ()
		  (let x 0
		       inc (fn () (set! x (+ x 1)))
		       get (fn () x))
		  (List inc get))
		(with (p (make-pair))
		  ((nth 0 p)) ((nth 0 p))
		  ((nth 1 p)))
	`)
	assert.Equal(t, 2.0, v.Num())
}

func TestConditionals(t *testing.T) {
	for _, tc := range []struct {
		src  string
		want string
	}{
		{"(if true 1 2)", "1"},
		{"(if false 1 2)", "2"},
		{"(if nil 1 2)", "2"},
		{"(if 0 1 2)", "1"},
		{"(if [] 1 2)", "1"},
		{"(and 1 2 3)", "3"},
		{"(and 1 false 3)", "false"},
		{"(and)", "true"},
		{"(or nil false 7)", "7"},
		{"(or nil nil)", "nil"},
		{"(or)", "false"},
		{"(cond false 1 true 2)", "2"},
		{"(cond false 1 false 2)", "nil"},
	} {
		v, S := run(t, tc.src)
		assert.Equal(t, tc.want, display(v, S), tc.src)
	}
}

func TestTablesAndDot(t *testing.T) {
	t.Run("literal, read, write", func(t *testing.T) {
		v, _ := run(t, "(with (tbl {'a 1 'b 2}) tbl.a)")
		assert.Equal(t, 1.0, v.Num())

		v, _ = run(t, "(with (tbl {'a 1}) (set! tbl.a 5) tbl.a)")
		assert.Equal(t, 5.0, v.Num())

		v, _ = run(t, "(with (tbl {'a 1}) (set! tbl.fresh 9) tbl.fresh)")
		assert.Equal(t, 9.0, v.Num())
	})

	t.Run("nested dot chains", func(t *testing.T) {
		v, _ := run(t, "(with (tbl {'inner {'x 3}}) tbl.inner.x)")
		assert.Equal(t, 3.0, v.Num())

		v, _ = run(t, "(with (tbl {'inner {'x 3}}) (set! tbl.inner.x 8) tbl.inner.x)")
		assert.Equal(t, 8.0, v.Num())
	})

	t.Run("missing keys read nil", func(t *testing.T) {
		v, _ := run(t, "(with (tbl {}) tbl.nope)")
		assert.True(t, v.IsNil())
	})

	t.Run("rehash preserves entries", func(t *testing.T) {
		v, _ := run(t, `
			(defn fill (tbl n)
			  (if (= n 0) tbl (do (put! tbl n (* n 10)) (fill tbl (- n 1)))))
			(get (fill {} 100) 37)
		`)
		assert.Equal(t, 370.0, v.Num())
	})

	t.Run("metatable read-through", func(t *testing.T) {
		_, S := run(t, "(def tbl {'own 1})")
		fqn := S.Env.Resolve(S.Symtab, S.CurrentNamespace(), S.Symtab.Intern("tbl"))
		tv, ok := S.Env.GetGlobal(fqn)
		require.True(t, ok)
		S.push(tv)
		S.pushTable(8)
		meta := S.peek(0)
		require.NoError(t, tableInsert(S.Alloc, meta.Obj(), BoxSym(S.Symtab.Intern("inherited")), BoxNum(42)))
		tv = S.peek(1)
		tv.Obj().metatable = meta
		S.Alloc.writeBarrier(tv.Obj(), meta)

		v, ok := tableGetWithMeta(tv.Obj(), BoxSym(S.Symtab.Intern("inherited")))
		assert.True(t, ok)
		assert.Equal(t, 42.0, v.Num())
		// reads only: the table's own entry still wins
		v, _ = tableGetWithMeta(tv.Obj(), BoxSym(S.Symtab.Intern("own")))
		assert.Equal(t, 1.0, v.Num())
		S.popN(2)
	})
}

func TestApply(t *testing.T) {
	v, _ := run(t, "(apply + [1 2 3])")
	assert.Equal(t, 6.0, v.Num())

	v, _ = run(t, "(apply + 10 20 [1 2])")
	assert.Equal(t, 33.0, v.Num())

	v, S := run(t, "(defn f (& rest) rest) (apply f 1 [2 3])")
	assert.Equal(t, "[1 2 3]", display(v, S))

	t.Run("tail apply", func(t *testing.T) {
		v, _ := run(t, `
			(defn loop (n) (if (= n 0) 'ok (apply loop [(- n 1)])))
			(loop 50000)
		`)
		assert.True(t, v.IsSym())
	})
}

func TestDollarFn(t *testing.T) {
	v, _ := run(t, "($(+ $ 1) 41)")
	assert.Equal(t, 42.0, v.Num())

	v, _ = run(t, "($(+ $0 $1) 40 2)")
	assert.Equal(t, 42.0, v.Num())

	v, S := run(t, "($[$ $] 5)")
	assert.Equal(t, "[5 5]", display(v, S))
}

func TestRuntimeErrors(t *testing.T) {
	for _, tc := range []struct {
		src string
		msg string
	}{
		{"(no-such-fn 1)", "unbound global"},
		{"(1 2)", "call a non-function"},
		{"(/ 1 0)", "division by zero"},
		{`(error "custom failure")`, "custom failure"},
		{"(head 5)", "head of a non-list"},
		{"(+ 1 'sym)", "not a number"},
	} {
		err := runErr(t, tc.src)
		assert.Contains(t, err.Error(), tc.msg, tc.src)
	}

	t.Run("errors carry location and trace", func(t *testing.T) {
		// the inner call sits in argument position so the outer
		// frame is not elided by a tail call
		err := runErr(t, "(defn f (n)\n  (+ 0 (g n)))\n(defn g (n) (error \"inside\"))\n(f 1)")
		re, ok := err.(*RuntimeError)
		require.True(t, ok)
		assert.Contains(t, re.Trace, "at g")
		assert.Contains(t, re.Trace, "at f")
	})

	t.Run("the host can continue after an error", func(t *testing.T) {
		S := NewIState(DefaultOptions())
		_, err := S.EvalString("(error \"first\")", "")
		require.Error(t, err)
		v, err := S.EvalString("(+ 1 1)", "")
		require.NoError(t, err)
		assert.Equal(t, 2.0, v.Num())
	})
}

func TestSetGlobalAndDef(t *testing.T) {
	v, S := run(t, "(def x 1) (set! x 9) x")
	assert.Equal(t, 9.0, v.Num())
	_ = S

	v, S = run(t, "(def x 1) 'whatever (def y 2) (+ x y)")
	assert.Equal(t, 3.0, v.Num())
	_ = S

	t.Run("def returns the defined symbol", func(t *testing.T) {
		v, S := run(t, "(def x 5)")
		require.True(t, v.IsSym())
		assert.Equal(t, "x", S.Symtab.NiceName(v.Sym()))
	})
}

func TestStrings(t *testing.T) {
	v, S := run(t, `(String "a" 1 "b")`)
	require.True(t, v.IsString())
	assert.Equal(t, "a1b", string(v.StringBytes()))
	_ = S

	v, _ = run(t, `(length "hello")`)
	assert.Equal(t, 5.0, v.Num())

	v, _ = run(t, `(= "abc" "abc")`)
	assert.True(t, v.Truthy())
}

func TestListBuiltins(t *testing.T) {
	for _, tc := range []struct {
		src  string
		want string
	}{
		{"(cons 1 [2 3])", "[1 2 3]"},
		{"(head [1 2])", "1"},
		{"(tail [1 2])", "[2]"},
		{"(nth 2 [9 8 7])", "7"},
		{"(length [1 2 3])", "3"},
		{"(concat [1] [] [2 3])", "[1 2 3]"},
		{"(not nil)", "true"},
		{"(list? [1])", "true"},
		{"(list? 5)", "false"},
		{"(symbol? 'a)", "true"},
		{"(empty? [])", "true"},
	} {
		v, S := run(t, tc.src)
		assert.Equal(t, tc.want, display(v, S), tc.src)
	}
}

func TestSuspensionWithoutResolver(t *testing.T) {
	S := NewIState(DefaultOptions())
	S.importHook = nil
	_, err := S.EvalString("(import missing)", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no resolver")
	assert.Equal(t, "missing", S.Symtab.NiceName(S.PendingImport()))
}
