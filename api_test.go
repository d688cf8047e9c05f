package fn

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvalString(t *testing.T) {
	S := NewIState(DefaultOptions())

	t.Run("empty input evaluates to nil", func(t *testing.T) {
		v, err := S.EvalString("", "")
		require.NoError(t, err)
		assert.True(t, v.IsNil())
	})

	t.Run("the last form's value is returned", func(t *testing.T) {
		v, err := S.EvalString("1 2 3", "")
		require.NoError(t, err)
		assert.Equal(t, 3.0, v.Num())
	})

	t.Run("definitions persist across calls", func(t *testing.T) {
		_, err := S.EvalString("(def persistent 11)", "")
		require.NoError(t, err)
		v, err := S.EvalString("persistent", "")
		require.NoError(t, err)
		assert.Equal(t, 11.0, v.Num())
	})

	t.Run("stack balance is maintained", func(t *testing.T) {
		before := S.sp
		_, err := S.EvalString("(+ 1 2) (def q 1) [1 2 3]", "")
		require.NoError(t, err)
		assert.Equal(t, before, S.sp)
	})
}

func TestInterpretFileMainPackage(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "prog.fn")
	require.NoError(t, os.WriteFile(path,
		[]byte("(package prog)\n(def here 'prog-ns)\nhere"), 0644))
	S := NewIState(DefaultOptions())
	v, err := S.InterpretFile(path)
	require.NoError(t, err)
	assert.Equal(t, "prog-ns", S.Symtab.NiceName(v.Sym()))
	// the file's package became the ambient namespace
	assert.Equal(t, "prog", S.Symtab.NiceName(S.CurrentNamespace().ID()))
}

func TestREPLResumableInput(t *testing.T) {
	S := NewIState(DefaultOptions())
	in := strings.NewReader("(+ 1\n2)\n(def x 9) x\n")
	var out strings.Builder
	require.NoError(t, S.REPL(in, &out))
	assert.Contains(t, out.String(), "..> ")
	assert.Contains(t, out.String(), "3")
	assert.Contains(t, out.String(), "9")
}

func TestREPLErrorRecovery(t *testing.T) {
	S := NewIState(DefaultOptions())
	in := strings.NewReader("(no-such 1)\n(+ 2 2)\n")
	var out strings.Builder
	require.NoError(t, S.REPL(in, &out))
	assert.Contains(t, out.String(), "unbound global")
	assert.Contains(t, out.String(), "4")
}
