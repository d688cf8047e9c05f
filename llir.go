package fn

// Low-level IR. The expander lowers surface forms into these nodes;
// the compiler consumes them. LLIR lives outside the GC like the
// AST, and quoted constants keep AST pointers until reification.

type llirForm interface {
	Origin() SourceLoc
}

type llirBase struct {
	origin SourceLoc
}

func (b llirBase) Origin() SourceLoc { return b.origin }

type constKind int

const (
	constNum constKind = iota
	constStr
	constSym
	constQuote
	// constGlobalName entries hold a local name that reification
	// resolves against the current namespace and patches to an FQN
	constGlobalName
	constNil
	constYes
	constNo
	constEmpty
)

type llirConst struct {
	llirBase
	kind   constKind
	num    float64
	str    string
	sym    SymbolID
	quoted *AstNode
}

// llirVar is a variable reference, resolved by the compiler to a
// local, an upvalue, or a global.
type llirVar struct {
	llirBase
	name SymbolID
}

type llirDef struct {
	llirBase
	name  SymbolID
	value llirForm
}

type llirDefmacro struct {
	llirBase
	name SymbolID
	fun  llirForm
}

type llirDot struct {
	llirBase
	obj  llirForm
	keys []SymbolID
}

type llirCall struct {
	llirBase
	callee llirForm
	args   []llirForm
}

// llirApply is a call whose final argument is a list spliced into
// extra positional arguments at runtime.
type llirApply struct {
	llirBase
	callee llirForm
	args   []llirForm
	list   llirForm
}

type llirIf struct {
	llirBase
	test llirForm
	then llirForm
	els  llirForm
}

type optParam struct {
	name SymbolID
	init llirForm
}

type fnParams struct {
	pos  []SymbolID
	opts []optParam
	// & rest list parameter
	hasVari  bool
	variName SymbolID
	// :& rest table parameter
	hasVariTable  bool
	variTableName SymbolID
}

type llirFn struct {
	llirBase
	name   string
	params fnParams
	body   llirForm
}

type llirImport struct {
	llirBase
	// ns is the '/'-joined namespace path symbol
	ns SymbolID
	// alias is the local prefix the imported names bind under
	alias SymbolID
}

// llirSet writes a place: target is an llirVar or an llirDot.
type llirSet struct {
	llirBase
	target llirForm
	value  llirForm
}

type withBind struct {
	name SymbolID
	init llirForm
}

// llirWith is a sequence of expressions under a new lexical scope.
// Bindings are pre-declared, so their init forms see one another.
type llirWith struct {
	llirBase
	binds []withBind
	body  []llirForm
}
