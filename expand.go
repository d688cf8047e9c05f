package fn

import (
	"strconv"
	"strings"
)

// The expander walks reader output, invokes the VM on macro calls,
// and lowers surface forms into LLIR. It allocates through the
// interpreter state (macro arguments become runtime values), so it
// follows the same stack/handle discipline as the VM.

type expander struct {
	S *IState
}

var reservedNames = map[string]bool{
	"nil": true, "true": true, "false": true,
	"&": true, ":&": true,
	"quote": true, "quasiquote": true, "unquote": true, "unquote-splicing": true,
	"if": true, "fn": true, "def": true, "defmacro": true, "defn": true,
	"do": true, "let": true, "letfn": true, "with": true, "set!": true,
	"import": true, "apply": true, "dot": true,
	"and": true, "or": true, "cond": true, "dollar-fn": true,
}

func (x *expander) legalBinding(name SymbolID, loc SourceLoc) error {
	text := x.S.Symtab.NiceName(name)
	if text == "" {
		return &CompileError{Loc: loc, Message: "binding name is not a symbol"}
	}
	if strings.HasPrefix(text, ":") {
		return &CompileError{Loc: loc, Message: "cannot bind keyword " + text}
	}
	if reservedNames[text] {
		return &CompileError{Loc: loc, Message: "cannot bind reserved name " + text}
	}
	return nil
}

// Expand lowers one top-level form, running macroexpansion to a
// fixpoint at each list head.
func (x *expander) Expand(node *AstNode) (llirForm, error) {
	st := x.S.Symtab
	switch node.Kind {
	case AstNumber:
		return &llirConst{llirBase{node.Loc}, constNum, node.Num, "", 0, nil}, nil
	case AstString:
		return &llirConst{llirBase{node.Loc}, constStr, 0, node.Str, 0, nil}, nil
	case AstSymbol:
		name := st.NiceName(node.Sym)
		switch name {
		case "nil":
			return &llirConst{llirBase{node.Loc}, constNil, 0, "", 0, nil}, nil
		case "true":
			return &llirConst{llirBase{node.Loc}, constYes, 0, "", 0, nil}, nil
		case "false":
			return &llirConst{llirBase{node.Loc}, constNo, 0, "", 0, nil}, nil
		}
		if strings.HasPrefix(name, ":") {
			return &llirConst{llirBase{node.Loc}, constSym, 0, "", node.Sym, nil}, nil
		}
		return &llirVar{llirBase{node.Loc}, node.Sym}, nil
	}
	if len(node.List) == 0 {
		return &llirConst{llirBase{node.Loc}, constEmpty, 0, "", 0, nil}, nil
	}

	// run macro calls to a fixpoint before inspecting the head
	node, err := x.macroexpand(node)
	if err != nil {
		return nil, err
	}
	if node.Kind != AstList || len(node.List) == 0 {
		return x.Expand(node)
	}

	head := node.List[0]
	args := node.List[1:]
	if head.Kind == AstSymbol {
		switch st.NiceName(head.Sym) {
		case "quote":
			return x.expandQuote(node, args)
		case "quasiquote":
			if len(args) != 1 {
				return nil, &CompileError{Loc: node.Loc, Message: "quasiquote requires exactly 1 argument"}
			}
			expanded, err := x.quasi(args[0], 1)
			if err != nil {
				return nil, err
			}
			return x.Expand(expanded)
		case "unquote", "unquote-splicing":
			return nil, &CompileError{Loc: node.Loc, Message: st.NiceName(head.Sym) + " outside quasiquote"}
		case "if":
			return x.expandIf(node, args)
		case "fn":
			if len(args) < 1 {
				return nil, &CompileError{Loc: node.Loc, Message: "fn requires a parameter list"}
			}
			return x.expandFn(node.Loc, "", args[0], args[1:])
		case "def":
			return x.expandDef(node, args)
		case "defn":
			return x.expandDefn(node, args)
		case "defmacro":
			return x.expandDefmacro(node, args)
		case "do":
			return x.expandBody(args, node.Loc)
		case "let", "letfn":
			return nil, &CompileError{Loc: node.Loc, Message: st.NiceName(head.Sym) + " is only legal at the start of a body"}
		case "with":
			return x.expandWith(node, args)
		case "set!":
			return x.expandSet(node, args)
		case "import":
			return x.expandImport(node, args)
		case "apply":
			return x.expandApply(node, args)
		case "dot":
			return x.expandDot(node, args)
		case "and":
			return x.expandAnd(node.Loc, args)
		case "or":
			return x.expandOr(node.Loc, args)
		case "cond":
			return x.expandCond(node.Loc, args)
		case "dollar-fn":
			if len(args) != 1 {
				return nil, &CompileError{Loc: node.Loc, Message: "dollar-fn requires exactly 1 argument"}
			}
			return x.expandDollarFn(node.Loc, args[0])
		}
	}

	callee, err := x.Expand(head)
	if err != nil {
		return nil, err
	}
	lowered := make([]llirForm, len(args))
	for i, a := range args {
		if lowered[i], err = x.Expand(a); err != nil {
			return nil, err
		}
	}
	return &llirCall{llirBase{node.Loc}, callee, lowered}, nil
}

// macroexpand repeatedly rewrites node while its head symbol names a
// macro in the current namespace.
func (x *expander) macroexpand(node *AstNode) (*AstNode, error) {
	S := x.S
	for i := 0; ; i++ {
		if i > 1000 {
			return nil, &ExpandError{Loc: node.Loc, Message: "macroexpansion did not terminate"}
		}
		if node.Kind != AstList || len(node.List) == 0 || node.List[0].Kind != AstSymbol {
			return node, nil
		}
		head := node.List[0]
		if reservedNames[S.Symtab.NiceName(head.Sym)] {
			return node, nil
		}
		fqn := S.Env.Resolve(S.Symtab, S.ns, head.Sym)
		if _, ok := S.Env.GetMacro(fqn); !ok {
			return node, nil
		}
		next, err := x.macroexpand1(node, fqn)
		if err != nil {
			return nil, err
		}
		node = next
	}
}

// macroexpand1 pushes the macro function and the unevaluated
// argument forms (converted to values), invokes the VM, and converts
// the result back to syntax at the call's location.
func (x *expander) macroexpand1(call *AstNode, fqn SymbolID) (*AstNode, error) {
	S := x.S
	m, _ := S.Env.GetMacro(fqn)
	S.push(m)
	nargs := len(call.List) - 1
	for _, arg := range call.List[1:] {
		if err := S.pushAstValue(arg); err != nil {
			return nil, err
		}
	}
	if err := S.callTop(nargs); err != nil {
		return nil, &ExpandError{Loc: call.Loc, Message: err.Error() + " (during macroexpansion)"}
	}
	result := S.stack[S.sp-1]
	ast, err := valueToAst(S.Symtab, result, call.Loc)
	S.pop()
	return ast, err
}

func (x *expander) expandQuote(node *AstNode, args []*AstNode) (llirForm, error) {
	if len(args) != 1 {
		return nil, &CompileError{Loc: node.Loc, Message: "quote requires exactly 1 argument"}
	}
	q := args[0]
	switch q.Kind {
	case AstNumber:
		return &llirConst{llirBase{node.Loc}, constNum, q.Num, "", 0, nil}, nil
	case AstString:
		return &llirConst{llirBase{node.Loc}, constStr, 0, q.Str, 0, nil}, nil
	case AstSymbol:
		return &llirConst{llirBase{node.Loc}, constSym, 0, "", q.Sym, nil}, nil
	}
	if len(q.List) == 0 {
		return &llirConst{llirBase{node.Loc}, constEmpty, 0, "", 0, nil}, nil
	}
	return &llirConst{llirBase{node.Loc}, constQuote, 0, "", 0, q}, nil
}

func (x *expander) expandIf(node *AstNode, args []*AstNode) (llirForm, error) {
	if len(args) != 2 && len(args) != 3 {
		return nil, &CompileError{Loc: node.Loc, Message: "if requires 2 or 3 arguments"}
	}
	test, err := x.Expand(args[0])
	if err != nil {
		return nil, err
	}
	then, err := x.Expand(args[1])
	if err != nil {
		return nil, err
	}
	var els llirForm = &llirConst{llirBase{node.Loc}, constNil, 0, "", 0, nil}
	if len(args) == 3 {
		if els, err = x.Expand(args[2]); err != nil {
			return nil, err
		}
	}
	return &llirIf{llirBase{node.Loc}, test, then, els}, nil
}

func (x *expander) expandDef(node *AstNode, args []*AstNode) (llirForm, error) {
	if len(args) != 2 {
		return nil, &CompileError{Loc: node.Loc, Message: "def requires exactly 2 arguments"}
	}
	if args[0].Kind != AstSymbol {
		return nil, &CompileError{Loc: args[0].Loc, Message: "def name is not a symbol"}
	}
	if err := x.legalBinding(args[0].Sym, args[0].Loc); err != nil {
		return nil, err
	}
	value, err := x.expandNamed(args[1], x.S.Symtab.NiceName(args[0].Sym))
	if err != nil {
		return nil, err
	}
	return &llirDef{llirBase{node.Loc}, args[0].Sym, value}, nil
}

// expandNamed expands a form, attaching name to it when it is a
// function expression, for stack traces.
func (x *expander) expandNamed(node *AstNode, name string) (llirForm, error) {
	form, err := x.Expand(node)
	if err != nil {
		return nil, err
	}
	if fn, ok := form.(*llirFn); ok && fn.name == "" {
		fn.name = name
	}
	return form, nil
}

func (x *expander) expandDefn(node *AstNode, args []*AstNode) (llirForm, error) {
	if len(args) < 2 {
		return nil, &CompileError{Loc: node.Loc, Message: "defn requires a name and a parameter list"}
	}
	if args[0].Kind != AstSymbol {
		return nil, &CompileError{Loc: args[0].Loc, Message: "defn name is not a symbol"}
	}
	if err := x.legalBinding(args[0].Sym, args[0].Loc); err != nil {
		return nil, err
	}
	fn, err := x.expandFn(node.Loc, x.S.Symtab.NiceName(args[0].Sym), args[1], args[2:])
	if err != nil {
		return nil, err
	}
	return &llirDef{llirBase{node.Loc}, args[0].Sym, fn}, nil
}

func (x *expander) expandDefmacro(node *AstNode, args []*AstNode) (llirForm, error) {
	if len(args) < 2 {
		return nil, &CompileError{Loc: node.Loc, Message: "defmacro requires a name and a parameter list"}
	}
	if args[0].Kind != AstSymbol {
		return nil, &CompileError{Loc: args[0].Loc, Message: "defmacro name is not a symbol"}
	}
	if err := x.legalBinding(args[0].Sym, args[0].Loc); err != nil {
		return nil, err
	}
	fn, err := x.expandFn(node.Loc, x.S.Symtab.NiceName(args[0].Sym), args[1], args[2:])
	if err != nil {
		return nil, err
	}
	return &llirDefmacro{llirBase{node.Loc}, args[0].Sym, fn}, nil
}

func (x *expander) expandWith(node *AstNode, args []*AstNode) (llirForm, error) {
	if len(args) < 1 || args[0].Kind != AstList {
		return nil, &CompileError{Loc: node.Loc, Message: "with requires a binding list"}
	}
	bindForms := args[0].List
	if len(bindForms)%2 != 0 {
		return nil, &CompileError{Loc: args[0].Loc, Message: "odd-length binding list"}
	}
	var binds []withBind
	for i := 0; i < len(bindForms); i += 2 {
		nameNode := bindForms[i]
		if nameNode.Kind != AstSymbol {
			return nil, &CompileError{Loc: nameNode.Loc, Message: "binding name is not a symbol"}
		}
		if err := x.legalBinding(nameNode.Sym, nameNode.Loc); err != nil {
			return nil, err
		}
		init, err := x.expandNamed(bindForms[i+1], x.S.Symtab.NiceName(nameNode.Sym))
		if err != nil {
			return nil, err
		}
		binds = append(binds, withBind{nameNode.Sym, init})
	}
	body, err := x.expandForms(args[1:])
	if err != nil {
		return nil, err
	}
	if len(body) == 0 {
		body = []llirForm{&llirConst{llirBase{node.Loc}, constNil, 0, "", 0, nil}}
	}
	return &llirWith{llirBase{node.Loc}, binds, body}, nil
}

func (x *expander) expandSet(node *AstNode, args []*AstNode) (llirForm, error) {
	if len(args) != 2 {
		return nil, &CompileError{Loc: node.Loc, Message: "set! requires exactly 2 arguments"}
	}
	value, err := x.Expand(args[1])
	if err != nil {
		return nil, err
	}
	place := args[0]
	if place.Kind == AstSymbol {
		if err := x.legalBinding(place.Sym, place.Loc); err != nil {
			return nil, err
		}
		return &llirSet{llirBase{node.Loc}, &llirVar{llirBase{place.Loc}, place.Sym}, value}, nil
	}
	if place.IsCallTo(x.S.Symtab, "dot") {
		target, err := x.expandDot(place, place.List[1:])
		if err != nil {
			return nil, err
		}
		return &llirSet{llirBase{node.Loc}, target, value}, nil
	}
	return nil, &CompileError{Loc: place.Loc, Message: "set! target is not a place"}
}

func (x *expander) expandImport(node *AstNode, args []*AstNode) (llirForm, error) {
	if len(args) != 1 {
		return nil, &CompileError{Loc: node.Loc, Message: "import requires exactly 1 argument"}
	}
	st := x.S.Symtab
	var parts []string
	target := args[0]
	switch {
	case target.Kind == AstSymbol:
		parts = []string{st.NiceName(target.Sym)}
	case target.IsCallTo(st, "dot"):
		for _, p := range target.List[1:] {
			if p.Kind != AstSymbol {
				return nil, &CompileError{Loc: p.Loc, Message: "import path component is not a symbol"}
			}
			parts = append(parts, st.NiceName(p.Sym))
		}
	default:
		return nil, &CompileError{Loc: target.Loc, Message: "import target is not a namespace name"}
	}
	ns := st.Intern(strings.Join(parts, "/"))
	alias := st.Intern(parts[len(parts)-1])
	return &llirImport{llirBase{node.Loc}, ns, alias}, nil
}

func (x *expander) expandApply(node *AstNode, args []*AstNode) (llirForm, error) {
	if len(args) < 2 {
		return nil, &CompileError{Loc: node.Loc, Message: "apply requires a function and a list argument"}
	}
	callee, err := x.Expand(args[0])
	if err != nil {
		return nil, err
	}
	pos := make([]llirForm, len(args)-2)
	for i, a := range args[1 : len(args)-1] {
		if pos[i], err = x.Expand(a); err != nil {
			return nil, err
		}
	}
	list, err := x.Expand(args[len(args)-1])
	if err != nil {
		return nil, err
	}
	return &llirApply{llirBase{node.Loc}, callee, pos, list}, nil
}

func (x *expander) expandDot(node *AstNode, args []*AstNode) (llirForm, error) {
	if len(args) < 2 {
		return nil, &CompileError{Loc: node.Loc, Message: "dot requires an object and at least one key"}
	}
	obj, err := x.Expand(args[0])
	if err != nil {
		return nil, err
	}
	keys := make([]SymbolID, len(args)-1)
	for i, k := range args[1:] {
		if k.Kind != AstSymbol {
			return nil, &CompileError{Loc: k.Loc, Message: "dot key is not a symbol"}
		}
		keys[i] = k.Sym
	}
	return &llirDot{llirBase{node.Loc}, obj, keys}, nil
}

func (x *expander) expandAnd(loc SourceLoc, args []*AstNode) (llirForm, error) {
	if len(args) == 0 {
		return &llirConst{llirBase{loc}, constYes, 0, "", 0, nil}, nil
	}
	form, err := x.Expand(args[len(args)-1])
	if err != nil {
		return nil, err
	}
	for i := len(args) - 2; i >= 0; i-- {
		test, err := x.Expand(args[i])
		if err != nil {
			return nil, err
		}
		tmp := x.S.Symtab.Gensym()
		form = &llirWith{llirBase{loc},
			[]withBind{{tmp, test}},
			[]llirForm{&llirIf{llirBase{loc},
				&llirVar{llirBase{loc}, tmp},
				form,
				&llirVar{llirBase{loc}, tmp}}}}
	}
	return form, nil
}

func (x *expander) expandOr(loc SourceLoc, args []*AstNode) (llirForm, error) {
	if len(args) == 0 {
		return &llirConst{llirBase{loc}, constNo, 0, "", 0, nil}, nil
	}
	form, err := x.Expand(args[len(args)-1])
	if err != nil {
		return nil, err
	}
	for i := len(args) - 2; i >= 0; i-- {
		test, err := x.Expand(args[i])
		if err != nil {
			return nil, err
		}
		tmp := x.S.Symtab.Gensym()
		form = &llirWith{llirBase{loc},
			[]withBind{{tmp, test}},
			[]llirForm{&llirIf{llirBase{loc},
				&llirVar{llirBase{loc}, tmp},
				&llirVar{llirBase{loc}, tmp},
				form}}}
	}
	return form, nil
}

func (x *expander) expandCond(loc SourceLoc, args []*AstNode) (llirForm, error) {
	if len(args)%2 != 0 {
		return nil, &CompileError{Loc: loc, Message: "cond requires an even number of arguments"}
	}
	var form llirForm = &llirConst{llirBase{loc}, constNil, 0, "", 0, nil}
	for i := len(args) - 2; i >= 0; i -= 2 {
		test, err := x.Expand(args[i])
		if err != nil {
			return nil, err
		}
		val, err := x.Expand(args[i+1])
		if err != nil {
			return nil, err
		}
		form = &llirIf{llirBase{loc}, test, val, form}
	}
	return form, nil
}

// expandDollarFn builds the function a $(...) form denotes: its
// positional parameters are $0..$N for the largest $N appearing in
// the body, with $ an alias of $0.
func (x *expander) expandDollarFn(loc SourceLoc, body *AstNode) (llirForm, error) {
	st := x.S.Symtab
	maxIdx, plain := dollarScan(st, body, -1, false)
	params := fnParams{}
	n := maxIdx
	if plain && n < 0 {
		n = 0
	}
	for i := 0; i <= n; i++ {
		params.pos = append(params.pos, st.Intern("$"+strconv.Itoa(i)))
	}
	inner, err := x.expandBody([]*AstNode{body}, loc)
	if err != nil {
		return nil, err
	}
	bodyForm := inner
	if plain {
		bodyForm = &llirWith{llirBase{loc},
			[]withBind{{st.Intern("$"), &llirVar{llirBase{loc}, st.Intern("$0")}}},
			[]llirForm{inner}}
	}
	return &llirFn{llirBase{loc}, "", params, bodyForm}, nil
}

// dollarScan finds the highest positional dollar symbol in a body,
// without descending into nested dollar functions or quoted forms.
func dollarScan(st *SymbolTable, node *AstNode, max int, plain bool) (int, bool) {
	switch node.Kind {
	case AstSymbol:
		name := st.NiceName(node.Sym)
		if name == "$" {
			return max, true
		}
		if strings.HasPrefix(name, "$") {
			if idx, err := strconv.Atoi(name[1:]); err == nil && idx >= 0 && idx > max {
				return idx, plain
			}
		}
	case AstList:
		if node.IsCallTo(st, "dollar-fn") || node.IsCallTo(st, "quote") {
			return max, plain
		}
		for _, child := range node.List {
			max, plain = dollarScan(st, child, max, plain)
		}
	}
	return max, plain
}

func (x *expander) expandForms(forms []*AstNode) ([]llirForm, error) {
	var out []llirForm
	for _, f := range forms {
		lowered, err := x.Expand(f)
		if err != nil {
			return nil, err
		}
		out = append(out, lowered)
	}
	return out, nil
}

// expandBody lowers a form sequence. Leading let and letfn forms
// extend the surrounding scope over the remainder of the body; they
// are illegal anywhere else.
func (x *expander) expandBody(forms []*AstNode, loc SourceLoc) (llirForm, error) {
	st := x.S.Symtab
	var binds []withBind
	i := 0
	for ; i < len(forms); i++ {
		f := forms[i]
		if f.IsCallTo(st, "let") {
			args := f.List[1:]
			if len(args)%2 != 0 {
				return nil, &CompileError{Loc: f.Loc, Message: "odd-length binding list"}
			}
			for j := 0; j < len(args); j += 2 {
				nameNode := args[j]
				if nameNode.Kind != AstSymbol {
					return nil, &CompileError{Loc: nameNode.Loc, Message: "binding name is not a symbol"}
				}
				if err := x.legalBinding(nameNode.Sym, nameNode.Loc); err != nil {
					return nil, err
				}
				init, err := x.expandNamed(args[j+1], st.NiceName(nameNode.Sym))
				if err != nil {
					return nil, err
				}
				binds = append(binds, withBind{nameNode.Sym, init})
			}
			continue
		}
		if f.IsCallTo(st, "letfn") {
			args := f.List[1:]
			if len(args) < 2 {
				return nil, &CompileError{Loc: f.Loc, Message: "letfn requires a name and a parameter list"}
			}
			nameNode := args[0]
			if nameNode.Kind != AstSymbol {
				return nil, &CompileError{Loc: nameNode.Loc, Message: "letfn name is not a symbol"}
			}
			if err := x.legalBinding(nameNode.Sym, nameNode.Loc); err != nil {
				return nil, err
			}
			fnForm, err := x.expandFn(f.Loc, st.NiceName(nameNode.Sym), args[1], args[2:])
			if err != nil {
				return nil, err
			}
			binds = append(binds, withBind{nameNode.Sym, fnForm})
			continue
		}
		break
	}
	body, err := x.expandForms(forms[i:])
	if err != nil {
		return nil, err
	}
	if len(body) == 0 {
		body = []llirForm{&llirConst{llirBase{loc}, constNil, 0, "", 0, nil}}
	}
	if len(binds) == 0 && len(body) == 1 {
		return body[0], nil
	}
	return &llirWith{llirBase{loc}, binds, body}, nil
}

// expandFn parses a parameter list (positionals, (name init)
// optionals, then & rest and/or :& rest-table in either order) and
// lowers the body.
func (x *expander) expandFn(loc SourceLoc, name string, paramsNode *AstNode, body []*AstNode) (llirForm, error) {
	st := x.S.Symtab
	if paramsNode.Kind != AstList {
		return nil, &CompileError{Loc: paramsNode.Loc, Message: "fn parameter list is not a list"}
	}
	// bracket forms read as (List ...); strip the reader's head
	items := paramsNode.List
	if paramsNode.IsCallTo(st, "List") {
		items = items[1:]
	}
	var params fnParams
	seen := make(map[SymbolID]bool)
	declare := func(sym SymbolID, loc SourceLoc) error {
		if err := x.legalBinding(sym, loc); err != nil {
			return err
		}
		if seen[sym] {
			return &CompileError{Loc: loc, Message: "duplicate parameter " + st.NiceName(sym)}
		}
		seen[sym] = true
		return nil
	}
	sawOpt := false
	i := 0
	for ; i < len(items); i++ {
		item := items[i]
		if item.Kind == AstSymbol {
			n := st.NiceName(item.Sym)
			if n == "&" || n == ":&" {
				break
			}
			if sawOpt {
				return nil, &CompileError{Loc: item.Loc, Message: "positional parameter after optional"}
			}
			if err := declare(item.Sym, item.Loc); err != nil {
				return nil, err
			}
			params.pos = append(params.pos, item.Sym)
			continue
		}
		if item.Kind == AstList && len(item.List) == 2 && item.List[0].Kind == AstSymbol {
			sawOpt = true
			if err := declare(item.List[0].Sym, item.List[0].Loc); err != nil {
				return nil, err
			}
			init, err := x.Expand(item.List[1])
			if err != nil {
				return nil, err
			}
			params.opts = append(params.opts, optParam{item.List[0].Sym, init})
			continue
		}
		return nil, &CompileError{Loc: item.Loc, Message: "malformed parameter"}
	}
	for i < len(items) {
		marker := st.NiceName(items[i].Sym)
		if i+1 >= len(items) || items[i+1].Kind != AstSymbol {
			return nil, &CompileError{Loc: items[i].Loc, Message: marker + " requires a parameter name"}
		}
		nameSym := items[i+1].Sym
		if err := declare(nameSym, items[i+1].Loc); err != nil {
			return nil, err
		}
		switch marker {
		case "&":
			if params.hasVari {
				return nil, &CompileError{Loc: items[i].Loc, Message: "duplicate & parameter"}
			}
			params.hasVari = true
			params.variName = nameSym
		case ":&":
			if params.hasVariTable {
				return nil, &CompileError{Loc: items[i].Loc, Message: "duplicate :& parameter"}
			}
			params.hasVariTable = true
			params.variTableName = nameSym
		default:
			return nil, &CompileError{Loc: items[i].Loc, Message: "malformed parameter " + marker}
		}
		i += 2
	}
	bodyForm, err := x.expandBody(body, loc)
	if err != nil {
		return nil, err
	}
	return &llirFn{llirBase{loc}, name, params, bodyForm}, nil
}

// quasi rewrites a quasiquoted template into list-building calls.
// Unquotes at the current depth splice evaluated forms in; deeper
// levels are rebuilt as data.
func (x *expander) quasi(node *AstNode, depth int) (*AstNode, error) {
	st := x.S.Symtab
	quoteOf := func(n *AstNode) *AstNode {
		return &AstNode{Kind: AstList, Loc: n.Loc, List: []*AstNode{
			{Kind: AstSymbol, Loc: n.Loc, Sym: st.Intern("quote"), Str: "quote"}, n}}
	}
	symAt := func(loc SourceLoc, name string) *AstNode {
		return &AstNode{Kind: AstSymbol, Loc: loc, Sym: st.Intern(name), Str: name}
	}
	if node.Kind != AstList || len(node.List) == 0 {
		return quoteOf(node), nil
	}
	if node.IsCallTo(st, "unquote") {
		if len(node.List) != 2 {
			return nil, &CompileError{Loc: node.Loc, Message: "unquote requires exactly 1 argument"}
		}
		if depth == 1 {
			return node.List[1], nil
		}
		inner, err := x.quasi(node.List[1], depth-1)
		if err != nil {
			return nil, err
		}
		return &AstNode{Kind: AstList, Loc: node.Loc, List: []*AstNode{
			symAt(node.Loc, "List"), quoteOf(symAt(node.Loc, "unquote")), inner}}, nil
	}
	if node.IsCallTo(st, "quasiquote") {
		if len(node.List) != 2 {
			return nil, &CompileError{Loc: node.Loc, Message: "quasiquote requires exactly 1 argument"}
		}
		inner, err := x.quasi(node.List[1], depth+1)
		if err != nil {
			return nil, err
		}
		return &AstNode{Kind: AstList, Loc: node.Loc, List: []*AstNode{
			symAt(node.Loc, "List"), quoteOf(symAt(node.Loc, "quasiquote")), inner}}, nil
	}
	if node.IsCallTo(st, "unquote-splicing") {
		return nil, &CompileError{Loc: node.Loc, Message: "unquote-splicing outside a list template"}
	}

	var segments []*AstNode
	var current []*AstNode
	flush := func(loc SourceLoc) {
		if len(current) > 0 {
			segments = append(segments, &AstNode{Kind: AstList, Loc: loc,
				List: append([]*AstNode{symAt(loc, "List")}, current...)})
			current = nil
		}
	}
	sawSplice := false
	for _, child := range node.List {
		if child.IsCallTo(st, "unquote-splicing") {
			if len(child.List) != 2 {
				return nil, &CompileError{Loc: child.Loc, Message: "unquote-splicing requires exactly 1 argument"}
			}
			if depth == 1 {
				sawSplice = true
				flush(child.Loc)
				segments = append(segments, child.List[1])
				continue
			}
			inner, err := x.quasi(child.List[1], depth-1)
			if err != nil {
				return nil, err
			}
			current = append(current, &AstNode{Kind: AstList, Loc: child.Loc, List: []*AstNode{
				symAt(child.Loc, "List"), quoteOf(symAt(child.Loc, "unquote-splicing")), inner}})
			continue
		}
		elem, err := x.quasi(child, depth)
		if err != nil {
			return nil, err
		}
		current = append(current, elem)
	}
	if !sawSplice {
		return &AstNode{Kind: AstList, Loc: node.Loc,
			List: append([]*AstNode{symAt(node.Loc, "List")}, current...)}, nil
	}
	flush(node.Loc)
	return &AstNode{Kind: AstList, Loc: node.Loc,
		List: append([]*AstNode{symAt(node.Loc, "concat")}, segments...)}, nil
}
