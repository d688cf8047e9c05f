package fn

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNamespaceResolution(t *testing.T) {
	st := NewSymbolTable()
	env := NewGlobalEnv()
	ns := env.AddNamespace(st.Intern("app/core"))

	t.Run("resolve installs and reuses FQNs", func(t *testing.T) {
		fqn := env.Resolve(st, ns, st.Intern("handler"))
		assert.Equal(t, "app/core:handler", st.SymbolName(fqn))
		assert.Equal(t, fqn, env.Resolve(st, ns, st.Intern("handler")))
	})

	t.Run("globals are FQN-indexed", func(t *testing.T) {
		fqn := env.Resolve(st, ns, st.Intern("x"))
		_, ok := env.GetGlobal(fqn)
		assert.False(t, ok)
		env.SetGlobal(fqn, BoxNum(1))
		v, ok := env.GetGlobal(fqn)
		require.True(t, ok)
		assert.Equal(t, 1.0, v.Num())
	})

	t.Run("copydefs aliases under a prefix", func(t *testing.T) {
		dest := env.AddNamespace(st.Intern("app/other"))
		env.CopyDefs(st, dest, ns, "core:")
		fqn, ok := dest.resolve[st.Intern("core:handler")]
		require.True(t, ok)
		assert.Equal(t, "app/core:handler", st.SymbolName(fqn))
	})

	t.Run("namespaces are created once", func(t *testing.T) {
		assert.Same(t, ns, env.AddNamespace(st.Intern("app/core")))
	})
}

func TestPackagePaths(t *testing.T) {
	assert.True(t, IsSubpackage("a/b/c", "a/b"))
	assert.True(t, IsSubpackage("a/b", "a/b"))
	assert.False(t, IsSubpackage("a/bc", "a/b"))
	assert.True(t, IsSubpackage("anything", ""))

	assert.Equal(t, "a/b", PackageParent("a/b/c"))
	assert.Equal(t, "", PackageParent("top"))
	assert.Equal(t, "c", PackageBase("a/b/c"))
	assert.Equal(t, "top", PackageBase("top"))
	assert.Equal(t, "c", RelativePackagePath("a/b/c", "a/b"))
	assert.Equal(t, "", RelativePackagePath("a/b", "a/b"))
}

func TestImport(t *testing.T) {
	dir := t.TempDir()
	write := func(name, src string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(src), 0644))
	}

	t.Run("import binds prefixed names", func(t *testing.T) {
		write("mathx.fn", "(package mathx)\n(def answer 42)\n(defn double (n) (* n 2))")
		write("main.fn", "(import mathx)\n(mathx:double mathx:answer)")
		S := NewIState(DefaultOptions())
		v, err := S.InterpretFile(filepath.Join(dir, "main.fn"))
		require.NoError(t, err)
		assert.Equal(t, 84.0, v.Num())
	})

	t.Run("namespaces load once", func(t *testing.T) {
		write("counted.fn", "(def marker 1)")
		write("twice.fn", "(import counted)\n(import counted)\ncounted:marker")
		S := NewIState(DefaultOptions())
		v, err := S.InterpretFile(filepath.Join(dir, "twice.fn"))
		require.NoError(t, err)
		assert.Equal(t, 1.0, v.Num())
	})

	t.Run("imports nest", func(t *testing.T) {
		write("inner.fn", "(def deep 'found)")
		write("middle.fn", "(import inner)\n(def relay inner:deep)")
		write("outer.fn", "(import middle)\nmiddle:relay")
		S := NewIState(DefaultOptions())
		v, err := S.InterpretFile(filepath.Join(dir, "outer.fn"))
		require.NoError(t, err)
		assert.Equal(t, "found", S.Symtab.NiceName(v.Sym()))
	})

	t.Run("missing modules fail with an import error", func(t *testing.T) {
		write("broken.fn", "(import nowhere-to-be-found)")
		S := NewIState(DefaultOptions())
		_, err := S.InterpretFile(filepath.Join(dir, "broken.fn"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "module not found")
	})

	t.Run("package form mismatch is rejected", func(t *testing.T) {
		write("liar.fn", "(package somebody-else)\n(def x 1)")
		write("trusting.fn", "(import liar)")
		S := NewIState(DefaultOptions())
		_, err := S.InterpretFile(filepath.Join(dir, "trusting.fn"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "declares package")
	})

	t.Run("system prefix path", func(t *testing.T) {
		sys := t.TempDir()
		require.NoError(t, os.MkdirAll(filepath.Join(sys, "lib"), 0755))
		require.NoError(t, os.WriteFile(filepath.Join(sys, "lib", "util.fn"),
			[]byte("(def tag 'system)"), 0644))
		write("sysuser.fn", "(import lib.util)\nutil:tag")
		opts := DefaultOptions()
		opts.PackagePath = sys
		S := NewIState(opts)
		v, err := S.InterpretFile(filepath.Join(dir, "sysuser.fn"))
		require.NoError(t, err)
		assert.Equal(t, "system", S.Symtab.NiceName(v.Sym()))
	})
}
