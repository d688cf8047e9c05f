package fn

import (
	"os"
	"path/filepath"
	"strings"
)

// Import resolution. A namespace under the parent package of the
// importing namespace is searched in the importing file's directory
// at its path below that parent (a/b/c from a/b/x is <dir>/c.fn, from
// a/x it is <dir>/b/c.fn); failing that, under the configured system
// prefix path. Namespaces load once; later imports only rebind names.

// defaultImportHook satisfies an IMPORT instruction: it locates and
// interprets the namespace's source file in a fresh namespace, then
// aliases its definitions into the importing namespace under
// "<base>:" prefixed names. Imports nest; each nested file runs in
// its own namespace on the same interpreter state.
func defaultImportHook(S *IState, nsID SymbolID) error {
	st := S.Symtab
	name := st.NiceName(nsID)
	importing := S.ns

	if S.Env.Namespace(nsID) == nil {
		path, err := S.findModuleFile(name)
		if err != nil {
			return err
		}
		savedNS := S.ns
		ns := S.AddRuntimeNamespace(nsID)
		S.setNamespace(ns)
		_, err = S.InterpretFile(path)
		S.setNamespace(savedNS)
		if err != nil {
			return err
		}
	}

	imported := S.Env.Namespace(nsID)
	prefix := PackageBase(name) + ":"
	own := name + ":"
	for local, fqn := range imported.resolve {
		// only names the namespace defined itself; builtin
		// aliases and its own imports stay behind
		if strings.HasPrefix(st.NiceName(fqn), own) {
			importing.resolve[st.Intern(prefix+st.NiceName(local))] = fqn
		}
	}
	return nil
}

// findModuleFile maps a namespace name to a source file path.
func (S *IState) findModuleFile(name string) (string, error) {
	dir := S.wd
	if S.filename != "" {
		dir = filepath.Dir(S.filename)
	}
	base := PackageParent(S.Symtab.NiceName(S.nsID))
	if IsSubpackage(name, base) {
		rel := RelativePackagePath(name, base)
		path := filepath.Join(dir, filepath.FromSlash(rel)+".fn")
		if fileExists(path) {
			return path, nil
		}
	}
	if S.opts.PackagePath != "" {
		path := filepath.Join(S.opts.PackagePath, filepath.FromSlash(name)+".fn")
		if fileExists(path) {
			return path, nil
		}
	}
	return "", &ImportError{Message: "module not found: " + name}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
