package fn

import "strings"

// Namespace maps local names to fully-qualified names. The FQN form
// is `<ns>:<name>`, interned as a symbol and used as the key of the
// global value and macro tables.
type Namespace struct {
	id      SymbolID
	resolve map[SymbolID]SymbolID
}

func (ns *Namespace) ID() SymbolID { return ns.id }

// GlobalEnv holds every loaded namespace, the FQN-indexed definition
// table, and the FQN-indexed macro table. The definition and macro
// values are GC roots.
type GlobalEnv struct {
	byNs   map[SymbolID]*Namespace
	defs   map[SymbolID]Value
	macros map[SymbolID]Value
}

func NewGlobalEnv() *GlobalEnv {
	return &GlobalEnv{
		byNs:   make(map[SymbolID]*Namespace),
		defs:   make(map[SymbolID]Value),
		macros: make(map[SymbolID]Value),
	}
}

// AddNamespace creates a namespace or returns the existing one.
func (e *GlobalEnv) AddNamespace(id SymbolID) *Namespace {
	if ns, ok := e.byNs[id]; ok {
		return ns
	}
	ns := &Namespace{id: id, resolve: make(map[SymbolID]SymbolID)}
	e.byNs[id] = ns
	return ns
}

// Namespace returns a loaded namespace, or nil.
func (e *GlobalEnv) Namespace(id SymbolID) *Namespace {
	return e.byNs[id]
}

// Resolve returns the FQN a local name maps to in ns, installing
// `<ns>:<name>` on first use.
func (e *GlobalEnv) Resolve(st *SymbolTable, ns *Namespace, name SymbolID) SymbolID {
	if fqn, ok := ns.resolve[name]; ok {
		return fqn
	}
	fqn := st.Intern(st.SymbolName(ns.id) + ":" + st.NiceName(name))
	ns.resolve[name] = fqn
	return fqn
}

func (e *GlobalEnv) GetGlobal(fqn SymbolID) (Value, bool) {
	v, ok := e.defs[fqn]
	return v, ok
}

func (e *GlobalEnv) SetGlobal(fqn SymbolID, v Value) {
	e.defs[fqn] = v
}

func (e *GlobalEnv) GetMacro(fqn SymbolID) (Value, bool) {
	v, ok := e.macros[fqn]
	return v, ok
}

func (e *GlobalEnv) SetMacro(fqn SymbolID, v Value) {
	e.macros[fqn] = v
}

// CopyDefs imports every name resolvable in src into dest under
// prefix + local name. The imported aliases point at src's FQNs, so
// dest sees src's definitions without copying values.
func (e *GlobalEnv) CopyDefs(st *SymbolTable, dest, src *Namespace, prefix string) {
	for name, fqn := range src.resolve {
		alias := name
		if prefix != "" {
			alias = st.Intern(prefix + st.NiceName(name))
		}
		dest.resolve[alias] = fqn
	}
}

// IsSubpackage tells whether pkg is parent itself or nested below
// it, at the lexical level of '/'-separated names. Every package is
// a subpackage of the root (empty) package.
func IsSubpackage(pkg, parent string) bool {
	if parent == "" {
		return true
	}
	return pkg == parent || strings.HasPrefix(pkg, parent+"/")
}

// PackageParent strips the last '/'-separated component; the parent
// of a top-level package is the empty string.
func PackageParent(pkg string) string {
	if i := strings.LastIndexByte(pkg, '/'); i >= 0 {
		return pkg[:i]
	}
	return ""
}

// PackageBase returns the last '/'-separated component.
func PackageBase(pkg string) string {
	if i := strings.LastIndexByte(pkg, '/'); i >= 0 {
		return pkg[i+1:]
	}
	return pkg
}

// RelativePackagePath returns pkg's path below parent. It is only
// meaningful when IsSubpackage(pkg, parent) holds.
func RelativePackagePath(pkg, parent string) string {
	if pkg == parent {
		return ""
	}
	return strings.TrimPrefix(pkg, parent+"/")
}
