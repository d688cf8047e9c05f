package fn

import (
	"bufio"
	"fmt"
	"io"
	"os"
)

// Options configures a new interpreter state. The zero value of any
// field falls back to its default.
type Options struct {
	// StackSize is the fixed VM value-stack size (minimum 256).
	StackSize int
	// NurseryCards is the nursery card budget before a collection
	// runs.
	NurseryCards int
	// PackagePath is the system prefix directory searched for
	// imported namespaces that are not subpackages of the current
	// package.
	PackagePath string
}

func DefaultOptions() Options {
	return Options{
		StackSize:    DefaultStackSize,
		NurseryCards: DefaultNurserySize,
	}
}

// NewIState builds a fresh interpreter: allocator, symbol table,
// global environment, built-in library, and a main namespace. The
// default import resolver reads .fn files per the package search
// rules.
func NewIState(opts Options) *IState {
	if opts.StackSize < MinStackSize {
		opts.StackSize = DefaultStackSize
	}
	st := NewSymbolTable()
	env := NewGlobalEnv()
	alloc := newAllocator(opts.NurseryCards)
	S := &IState{
		Alloc:  alloc,
		Symtab: st,
		Env:    env,
		stack:  make([]Value, opts.StackSize),
		opts:   opts,
	}
	alloc.S = S
	if wd, err := os.Getwd(); err == nil {
		S.wd = wd
	}
	bi := env.AddNamespace(st.Intern(BuiltinNamespace))
	S.setNamespace(bi)
	installBuiltins(S)
	S.setNamespace(S.AddRuntimeNamespace(st.Intern("main")))
	S.importHook = defaultImportHook
	return S
}

// AddRuntimeNamespace creates (or returns) a namespace and aliases
// the built-in definitions into it under their plain names.
func (S *IState) AddRuntimeNamespace(id SymbolID) *Namespace {
	ns := S.Env.AddNamespace(id)
	if bi := S.Env.Namespace(S.Symtab.Intern(BuiltinNamespace)); bi != nil && bi != ns {
		S.Env.CopyDefs(S.Symtab, ns, bi, "")
	}
	return ns
}

// EvalString evaluates every top-level form in src and returns the
// last value. Each form runs the full pipeline (expand, compile,
// reify, execute) before the next is expanded, so definitions and
// macros take effect immediately.
func (S *IState) EvalString(src, filename string) (Value, error) {
	nodes, err := ParseAll(src, filename, S.Symtab)
	if err != nil {
		return Nil, err
	}
	return S.evalNodes(nodes, filename)
}

func (S *IState) evalNodes(nodes []*AstNode, filename string) (Value, error) {
	savedFile := S.filename
	S.filename = filename
	defer func() { S.filename = savedFile }()

	x := &expander{S: S}
	have := false
	fail := func(err error) (Value, error) {
		S.recoverState()
		return Nil, err
	}
	for _, node := range nodes {
		form, err := x.Expand(node)
		if err != nil {
			return fail(err)
		}
		out, err := Compile(S, form)
		if err != nil {
			return fail(err)
		}
		if err := S.reify(out); err != nil {
			return fail(err)
		}
		if err := S.callTop(0); err != nil {
			return fail(err)
		}
		if have {
			// collapse the previous form's result under the new one
			S.stack[S.sp-2] = S.stack[S.sp-1]
			S.sp--
		}
		have = true
	}
	if !have {
		return Nil, nil
	}
	return S.pop(), nil
}

// InterpretFile evaluates a source file. A leading (package name)
// form asserts the ambient namespace and is otherwise skipped; when
// the ambient namespace is main, a differing declared package is
// opened and becomes the ambient namespace instead.
func (S *IState) InterpretFile(path string) (Value, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Nil, &ImportError{Message: err.Error()}
	}
	nodes, err := ParseAll(string(data), path, S.Symtab)
	if err != nil {
		return Nil, err
	}
	if len(nodes) > 0 && nodes[0].IsCallTo(S.Symtab, "package") {
		pkg := nodes[0]
		if len(pkg.List) != 2 || pkg.List[1].Kind != AstSymbol {
			return Nil, &CompileError{Loc: pkg.Loc, Message: "malformed package form"}
		}
		declared := S.Symtab.NiceName(pkg.List[1].Sym)
		ambient := S.Symtab.NiceName(S.nsID)
		if declared != ambient && declared != PackageBase(ambient) {
			if ambient != "main" {
				return Nil, &ImportError{Loc: pkg.Loc,
					Message: fmt.Sprintf("file declares package %s but was loaded as %s", declared, ambient)}
			}
			// a main-program file may open its own package
			S.setNamespace(S.AddRuntimeNamespace(pkg.List[1].Sym))
		}
		nodes = nodes[1:]
	}
	return S.evalNodes(nodes, path)
}

// REPL reads forms from in, printing each result to out. Resumable
// parse errors keep accumulating input; all other errors print and
// reset.
func (S *IState) REPL(in io.Reader, out io.Writer) error {
	lines := bufio.NewScanner(in)
	var buf string
	prompt := "fn> "
	for {
		fmt.Fprint(out, prompt)
		if !lines.Scan() {
			fmt.Fprintln(out)
			return lines.Err()
		}
		buf += lines.Text() + "\n"
		nodes, err := ParseAll(buf, "<repl>", S.Symtab)
		if err != nil {
			if IsResumable(err) {
				prompt = "..> "
				continue
			}
			fmt.Fprintln(out, err)
			buf = ""
			prompt = "fn> "
			continue
		}
		buf = ""
		prompt = "fn> "
		v, err := S.evalNodes(nodes, "<repl>")
		if err != nil {
			fmt.Fprintln(out, err)
			continue
		}
		fmt.Fprintln(out, ValueString(v, S.Symtab, true))
	}
}
