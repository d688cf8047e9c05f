package fn

// The bytecode compiler. One compiler instance corresponds to one
// function body; nested fn forms get child compilers linked through
// parent, which is how free variables become upvalues. The compiler
// performs no GC allocation: its output is a plain record that the
// allocator materializes later (see reify).

type constEntry struct {
	kind   constKind
	num    float64
	str    string
	sym    SymbolID
	quoted *AstNode
}

// CompilerOutput is the reifiable description of one compiled
// function and, recursively, its sub-functions.
type CompilerOutput struct {
	Name      string
	NumParams uint8
	NumOpt    uint8
	Vari      bool
	VariTable bool
	Upvals    []UpvalDesc
	Code      []byte
	Consts    []constEntry
	SubFuns   []*CompilerOutput
	CI        []CodeInfo
}

type localVar struct {
	name SymbolID
	idx  int
}

type upvalEntry struct {
	name SymbolID
	desc UpvalDesc
}

type compiler struct {
	parent  *compiler
	st      *SymbolTable
	env     *GlobalEnv
	ns      *Namespace
	vars    []localVar
	upvals  []upvalEntry
	sp      int
	out     *CompilerOutput
	lastLoc SourceLoc
}

// Compile lowers one top-level form into a zero-argument function
// record.
func Compile(S *IState, form llirForm) (*CompilerOutput, error) {
	c := &compiler{st: S.Symtab, env: S.Env, ns: S.ns, out: &CompilerOutput{}}
	if err := c.compileForm(form, false); err != nil {
		return nil, err
	}
	c.emitOp(form.Origin(), opReturn)
	return c.out, nil
}

func (c *compiler) emitLoc(loc SourceLoc) {
	if loc == c.lastLoc || loc.Line == 0 {
		return
	}
	c.lastLoc = loc
	c.out.CI = append(c.out.CI, CodeInfo{StartPC: uint32(len(c.out.Code)), Loc: loc})
}

func (c *compiler) emitOp(loc SourceLoc, op byte, args ...byte) {
	c.emitLoc(loc)
	c.out.Code = append(c.out.Code, op)
	c.out.Code = append(c.out.Code, args...)
}

func (c *compiler) emitU16(loc SourceLoc, op byte, v uint16) {
	c.emitLoc(loc)
	c.out.Code = append(c.out.Code, op, byte(v>>8), byte(v))
}

// emitJump emits a jump with a zero offset and returns its position
// for patching.
func (c *compiler) emitJump(loc SourceLoc, op byte) int {
	at := len(c.out.Code)
	c.emitU16(loc, op, 0)
	return at
}

// patchJump points the jump at `at` past the last emitted byte. The
// offset is relative to the end of the jump instruction.
func (c *compiler) patchJump(at int, loc SourceLoc) error {
	delta := len(c.out.Code) - (at + 3)
	if delta > 32767 || delta < -32768 {
		return &CompileError{Loc: loc, Message: "jump distance too large"}
	}
	writeU16(c.out.Code, at+1, uint16(int16(delta)))
	return nil
}

func (c *compiler) constID(e constEntry, loc SourceLoc) (uint16, error) {
	for i, have := range c.out.Consts {
		if have.kind == e.kind && have.num == e.num && have.str == e.str &&
			have.sym == e.sym && have.quoted == e.quoted {
			return uint16(i), nil
		}
	}
	if len(c.out.Consts) > 0xffff {
		return 0, &CompileError{Loc: loc, Message: "too many constants in one function"}
	}
	c.out.Consts = append(c.out.Consts, e)
	return uint16(len(c.out.Consts) - 1), nil
}

func (c *compiler) resolveLocal(name SymbolID) (int, bool) {
	for i := len(c.vars) - 1; i >= 0; i-- {
		if c.vars[i].name == name {
			return c.vars[i].idx, true
		}
	}
	return 0, false
}

// resolveUpval finds or records an upvalue for name. A hit in the
// immediate parent's locals records a direct capture of that stack
// slot; a hit farther out threads through the parent's own upvalue.
func (c *compiler) resolveUpval(name SymbolID, loc SourceLoc) (int, bool, error) {
	for i, u := range c.upvals {
		if u.name == name {
			return i, true, nil
		}
	}
	if c.parent == nil {
		return 0, false, nil
	}
	add := func(desc UpvalDesc) (int, bool, error) {
		if len(c.upvals) > 0xff {
			return 0, false, &CompileError{Loc: loc, Message: "too many upvalues in one function"}
		}
		c.upvals = append(c.upvals, upvalEntry{name, desc})
		c.out.Upvals = append(c.out.Upvals, desc)
		return len(c.upvals) - 1, true, nil
	}
	if idx, ok := c.parent.resolveLocal(name); ok {
		if idx > 0xff {
			return 0, false, &CompileError{Loc: loc, Message: "captured variable index too large"}
		}
		return add(UpvalDesc{Source: uint8(idx), Direct: true})
	}
	uid, ok, err := c.parent.resolveUpval(name, loc)
	if err != nil || !ok {
		return 0, false, err
	}
	return add(UpvalDesc{Source: uint8(uid), Direct: false})
}

func (c *compiler) declareLocal(name SymbolID, loc SourceLoc) error {
	if c.sp > 0xff {
		return &CompileError{Loc: loc, Message: "too many locals in one function"}
	}
	c.vars = append(c.vars, localVar{name, c.sp})
	return nil
}

func (c *compiler) compileForm(form llirForm, tail bool) error {
	switch f := form.(type) {
	case *llirConst:
		return c.compileConst(f)
	case *llirVar:
		return c.compileVar(f)
	case *llirDef:
		return c.compileDef(f)
	case *llirDefmacro:
		return c.compileDefmacro(f)
	case *llirSet:
		return c.compileSet(f)
	case *llirIf:
		return c.compileIf(f, tail)
	case *llirWith:
		return c.compileWith(f, tail)
	case *llirCall:
		return c.compileCall(f, tail)
	case *llirApply:
		return c.compileApply(f, tail)
	case *llirDot:
		return c.compileDot(f)
	case *llirImport:
		return c.compileImport(f)
	case *llirFn:
		return c.compileFn(f)
	}
	return &CompileError{Loc: form.Origin(), Message: "unhandled form"}
}

func (c *compiler) compileConst(f *llirConst) error {
	switch f.kind {
	case constNil:
		c.emitOp(f.Origin(), opNil)
	case constYes:
		c.emitOp(f.Origin(), opYes)
	case constNo:
		c.emitOp(f.Origin(), opNo)
	default:
		k, err := c.constID(constEntry{kind: f.kind, num: f.num, str: f.str, sym: f.sym, quoted: f.quoted}, f.Origin())
		if err != nil {
			return err
		}
		c.emitU16(f.Origin(), opConst, k)
	}
	c.sp++
	return nil
}

func (c *compiler) compileVar(f *llirVar) error {
	if idx, ok := c.resolveLocal(f.name); ok {
		c.emitOp(f.Origin(), opLocal, byte(idx))
		c.sp++
		return nil
	}
	uid, ok, err := c.resolveUpval(f.name, f.Origin())
	if err != nil {
		return err
	}
	if ok {
		c.emitOp(f.Origin(), opUpvalue, byte(uid))
		c.sp++
		return nil
	}
	k, err := c.constID(constEntry{kind: constGlobalName, sym: f.name}, f.Origin())
	if err != nil {
		return err
	}
	c.emitU16(f.Origin(), opGlobal, k)
	c.sp++
	return nil
}

func (c *compiler) compileDef(f *llirDef) error {
	if err := c.compileForm(f.value, false); err != nil {
		return err
	}
	k, err := c.constID(constEntry{kind: constGlobalName, sym: f.name}, f.Origin())
	if err != nil {
		return err
	}
	c.emitU16(f.Origin(), opSetGlobal, k)
	c.sp--
	sk, err := c.constID(constEntry{kind: constSym, sym: f.name}, f.Origin())
	if err != nil {
		return err
	}
	c.emitU16(f.Origin(), opConst, sk)
	c.sp++
	return nil
}

func (c *compiler) compileDefmacro(f *llirDefmacro) error {
	k, err := c.constID(constEntry{kind: constGlobalName, sym: f.name}, f.Origin())
	if err != nil {
		return err
	}
	c.emitU16(f.Origin(), opConst, k)
	c.sp++
	if err := c.compileForm(f.fun, false); err != nil {
		return err
	}
	c.emitOp(f.Origin(), opSetMacro)
	c.sp -= 2
	sk, err := c.constID(constEntry{kind: constSym, sym: f.name}, f.Origin())
	if err != nil {
		return err
	}
	c.emitU16(f.Origin(), opConst, sk)
	c.sp++
	return nil
}

func (c *compiler) compileSet(f *llirSet) error {
	switch target := f.target.(type) {
	case *llirVar:
		if err := c.compileForm(f.value, false); err != nil {
			return err
		}
		if idx, ok := c.resolveLocal(target.name); ok {
			c.emitOp(f.Origin(), opSetLocal, byte(idx))
			c.sp--
		} else if uid, ok, err := c.resolveUpval(target.name, f.Origin()); err != nil {
			return err
		} else if ok {
			c.emitOp(f.Origin(), opSetUpvalue, byte(uid))
			c.sp--
		} else {
			k, err := c.constID(constEntry{kind: constGlobalName, sym: target.name}, f.Origin())
			if err != nil {
				return err
			}
			c.emitU16(f.Origin(), opSetGlobal, k)
			c.sp--
		}
	case *llirDot:
		if err := c.compileForm(target.obj, false); err != nil {
			return err
		}
		for _, key := range target.keys[:len(target.keys)-1] {
			k, err := c.constID(constEntry{kind: constSym, sym: key}, f.Origin())
			if err != nil {
				return err
			}
			c.emitU16(f.Origin(), opConst, k)
			c.sp++
			c.emitOp(f.Origin(), opObjGet)
			c.sp--
		}
		k, err := c.constID(constEntry{kind: constSym, sym: target.keys[len(target.keys)-1]}, f.Origin())
		if err != nil {
			return err
		}
		c.emitU16(f.Origin(), opConst, k)
		c.sp++
		if err := c.compileForm(f.value, false); err != nil {
			return err
		}
		c.emitOp(f.Origin(), opObjSet)
		c.sp -= 3
	default:
		return &CompileError{Loc: f.Origin(), Message: "set! target is not a place"}
	}
	c.emitOp(f.Origin(), opNil)
	c.sp++
	return nil
}

func (c *compiler) compileIf(f *llirIf, tail bool) error {
	base := c.sp
	if err := c.compileForm(f.test, false); err != nil {
		return err
	}
	elseJump := c.emitJump(f.Origin(), opCjump)
	c.sp--
	if err := c.compileForm(f.then, tail); err != nil {
		return err
	}
	endJump := c.emitJump(f.Origin(), opJump)
	if err := c.patchJump(elseJump, f.Origin()); err != nil {
		return err
	}
	c.sp = base
	if err := c.compileForm(f.els, tail); err != nil {
		return err
	}
	if err := c.patchJump(endJump, f.Origin()); err != nil {
		return err
	}
	c.sp = base + 1
	return nil
}

// compileWith lowers a lexical scope: a result slot, pre-declared
// nil bindings assigned in order, the body sequenced, and CLOSE over
// the binding slots on the way out. The result is stored below the
// bindings so CLOSE can discard them around it.
func (c *compiler) compileWith(f *llirWith, tail bool) error {
	start := c.sp
	c.emitOp(f.Origin(), opNil)
	c.sp++
	base := c.sp
	for _, b := range f.binds {
		if err := c.declareLocal(b.name, f.Origin()); err != nil {
			return err
		}
		c.emitOp(f.Origin(), opNil)
		c.sp++
	}
	for i, b := range f.binds {
		if err := c.compileForm(b.init, false); err != nil {
			return err
		}
		c.emitOp(f.Origin(), opSetLocal, byte(base+i))
		c.sp--
	}
	for _, form := range f.body[:len(f.body)-1] {
		if err := c.compileForm(form, false); err != nil {
			return err
		}
		c.emitOp(form.Origin(), opPop)
		c.sp--
	}
	if err := c.compileForm(f.body[len(f.body)-1], tail); err != nil {
		return err
	}
	c.emitOp(f.Origin(), opSetLocal, byte(start))
	c.sp--
	c.emitOp(f.Origin(), opClose, byte(c.sp-start-1))
	c.sp = start + 1
	c.vars = c.vars[:len(c.vars)-len(f.binds)]
	return nil
}

func (c *compiler) compileCall(f *llirCall, tail bool) error {
	base := c.sp
	if err := c.compileForm(f.callee, false); err != nil {
		return err
	}
	if len(f.args) > 0xff {
		return &CompileError{Loc: f.Origin(), Message: "function call with more than 255 arguments"}
	}
	for _, a := range f.args {
		if err := c.compileForm(a, false); err != nil {
			return err
		}
	}
	op := opCall
	if tail {
		op = opTcall
	}
	c.emitOp(f.Origin(), op, byte(len(f.args)))
	c.sp = base + 1
	return nil
}

func (c *compiler) compileApply(f *llirApply, tail bool) error {
	base := c.sp
	if err := c.compileForm(f.callee, false); err != nil {
		return err
	}
	if len(f.args) > 0xff {
		return &CompileError{Loc: f.Origin(), Message: "function call with more than 255 arguments"}
	}
	for _, a := range f.args {
		if err := c.compileForm(a, false); err != nil {
			return err
		}
	}
	if err := c.compileForm(f.list, false); err != nil {
		return err
	}
	op := opApply
	if tail {
		op = opTapply
	}
	c.emitOp(f.Origin(), op, byte(len(f.args)))
	c.sp = base + 1
	return nil
}

func (c *compiler) compileDot(f *llirDot) error {
	if err := c.compileForm(f.obj, false); err != nil {
		return err
	}
	for _, key := range f.keys {
		k, err := c.constID(constEntry{kind: constSym, sym: key}, f.Origin())
		if err != nil {
			return err
		}
		c.emitU16(f.Origin(), opConst, k)
		c.sp++
		c.emitOp(f.Origin(), opObjGet)
		c.sp--
	}
	return nil
}

func (c *compiler) compileImport(f *llirImport) error {
	k, err := c.constID(constEntry{kind: constSym, sym: f.ns}, f.Origin())
	if err != nil {
		return err
	}
	c.emitU16(f.Origin(), opConst, k)
	c.emitOp(f.Origin(), opImport)
	c.sp++
	return nil
}

// compileFn compiles a child function and emits the closure
// instruction, preceded by the optional-parameter init expressions
// the closure captures.
func (c *compiler) compileFn(f *llirFn) error {
	p := f.params
	numParams := len(p.pos) + len(p.opts)
	if numParams > 0xff {
		return &CompileError{Loc: f.Origin(), Message: "too many parameters"}
	}
	child := &compiler{
		parent: c,
		st:     c.st,
		env:    c.env,
		ns:     c.ns,
		out: &CompilerOutput{
			Name:      f.name,
			NumParams: uint8(numParams),
			NumOpt:    uint8(len(p.opts)),
			Vari:      p.hasVari,
			VariTable: p.hasVariTable,
		},
	}
	for _, sym := range p.pos {
		child.vars = append(child.vars, localVar{sym, child.sp})
		child.sp++
	}
	for _, opt := range p.opts {
		child.vars = append(child.vars, localVar{opt.name, child.sp})
		child.sp++
	}
	if p.hasVari {
		child.vars = append(child.vars, localVar{p.variName, child.sp})
		child.sp++
	}
	if p.hasVariTable {
		child.vars = append(child.vars, localVar{p.variTableName, child.sp})
		child.sp++
	}
	// one anonymous supplied-indicator slot per optional
	child.sp += len(p.opts)
	if err := child.compileForm(f.body, true); err != nil {
		return err
	}
	child.emitOp(f.Origin(), opReturn)

	if len(c.out.SubFuns) > 0xffff {
		return &CompileError{Loc: f.Origin(), Message: "too many sub-functions"}
	}
	id := uint16(len(c.out.SubFuns))
	c.out.SubFuns = append(c.out.SubFuns, child.out)

	for _, opt := range p.opts {
		if err := c.compileForm(opt.init, false); err != nil {
			return err
		}
	}
	c.emitU16(f.Origin(), opClosure, id)
	c.sp -= len(p.opts)
	c.sp++
	return nil
}
