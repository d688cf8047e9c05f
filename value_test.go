package fn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueBasics(t *testing.T) {
	t.Run("boxing and predicates", func(t *testing.T) {
		assert.True(t, BoxNum(3.5).IsNum())
		assert.Equal(t, 3.5, BoxNum(3.5).Num())
		assert.True(t, BoxSym(7).IsSym())
		assert.Equal(t, SymbolID(7), BoxSym(7).Sym())
		assert.Equal(t, Yes, BoxBool(true))
		assert.Equal(t, No, BoxBool(false))
		assert.True(t, Nil.IsNil())
		assert.True(t, EmptyList.IsList())
		assert.False(t, Nil.IsList())
	})

	t.Run("truthiness", func(t *testing.T) {
		assert.False(t, Nil.Truthy())
		assert.False(t, No.Truthy())
		assert.True(t, Yes.Truthy())
		assert.True(t, BoxNum(0).Truthy())
		assert.True(t, EmptyList.Truthy())
	})

	t.Run("raw equality", func(t *testing.T) {
		assert.True(t, BoxNum(2).Same(BoxNum(2)))
		assert.False(t, BoxNum(2).Same(BoxNum(3)))
		assert.False(t, BoxNum(2).Same(BoxSym(2)))
		assert.True(t, Nil.Same(Nil))
	})
}

func TestValueEqual(t *testing.T) {
	S := NewIState(DefaultOptions())

	t.Run("strings compare byte-wise", func(t *testing.T) {
		S.pushString("abc")
		S.pushString("abc")
		b := S.pop()
		a := S.pop()
		assert.False(t, a.Same(b))
		assert.True(t, Equal(a, b))
	})

	t.Run("lists compare recursively", func(t *testing.T) {
		a, err := S.EvalString("[1 [2 3] 4]", "")
		require.NoError(t, err)
		S.push(a)
		b, err := S.EvalString("[1 [2 3] 4]", "")
		require.NoError(t, err)
		a = S.pop()
		assert.True(t, Equal(a, b))

		S.push(b)
		c, err := S.EvalString("[1 [2 9] 4]", "")
		require.NoError(t, err)
		b = S.pop()
		assert.False(t, Equal(b, c))
	})

	t.Run("tables compare by contents", func(t *testing.T) {
		a, err := S.EvalString("{1 2 'k [3]}", "")
		require.NoError(t, err)
		S.push(a)
		b, err := S.EvalString("{'k [3] 1 2}", "")
		require.NoError(t, err)
		a = S.pop()
		assert.True(t, Equal(a, b))
	})
}

func TestValueString(t *testing.T) {
	S := NewIState(DefaultOptions())
	for _, tc := range []struct {
		src  string
		want string
	}{
		{"42", "42"},
		{"1.5", "1.5"},
		{"nil", "nil"},
		{"true", "true"},
		{"[]", "[]"},
		{"[1 2 3]", "[1 2 3]"},
		{"'sym", "sym"},
		{`"hi"`, `"hi"`},
		{"[1 [2] \"s\"]", `[1 [2] "s"]`},
	} {
		v, err := S.EvalString(tc.src, "")
		require.NoError(t, err, tc.src)
		assert.Equal(t, tc.want, ValueString(v, S.Symtab, true), tc.src)
	}
}
