package fn

// The dispatch loop. Instructions are one opcode byte plus a 1- or
// 2-byte payload; pc is advanced past the payload before the
// instruction's effect runs, so jump offsets are relative to the
// next instruction.

// execute runs bytecode until an error, a return through a host
// frame, or an import suspension.
func (S *IState) execute() {
	for !S.errHappened && !S.paused && S.status == StatusRunning {
		code := S.callee.stub.fs.code
		S.opPC = S.pc
		op := code[S.pc]
		S.pc += uint32(instrWidth(op))
		switch op {
		case opNop:
		case opPop:
			S.popN(1)
		case opLocal:
			S.push(S.stack[S.bp+int(code[S.opPC+1])])
		case opSetLocal:
			S.stack[S.bp+int(code[S.opPC+1])] = S.pop()
		case opCopy:
			S.push(S.peek(int(code[S.opPC+1])))
		case opUpvalue:
			cell := S.callee.upvals[code[S.opPC+1]]
			if cell.closed {
				S.push(cell.val)
			} else {
				S.push(S.stack[cell.pos])
			}
		case opSetUpvalue:
			cell := S.callee.upvals[code[S.opPC+1]]
			v := S.pop()
			if cell.closed {
				cell.val = v
				S.Alloc.writeBarrier(cell, v)
			} else {
				S.stack[cell.pos] = v
			}
		case opClosure:
			S.instantiateClosure(readU16(code, int(S.opPC)+1))
		case opClose:
			n := int(code[S.opPC+1])
			S.closeUpvals(S.sp - n)
			S.popN(n)
		case opGlobal:
			fqn := S.callee.stub.fs.consts[readU16(code, int(S.opPC)+1)].sym
			v, ok := S.Env.GetGlobal(fqn)
			if !ok {
				S.ierror("attempt to access unbound global variable " + S.Symtab.NiceName(fqn))
				break
			}
			S.push(v)
		case opSetGlobal:
			fqn := S.callee.stub.fs.consts[readU16(code, int(S.opPC)+1)].sym
			S.Env.SetGlobal(fqn, S.pop())
		case opConst:
			S.push(S.callee.stub.fs.consts[readU16(code, int(S.opPC)+1)])
		case opNil:
			S.push(Nil)
		case opYes:
			S.push(Yes)
		case opNo:
			S.push(No)
		case opJump:
			S.pc = uint32(int32(S.pc) + int32(int16(readU16(code, int(S.opPC)+1))))
		case opCjump:
			if !S.pop().Truthy() {
				S.pc = uint32(int32(S.pc) + int32(int16(readU16(code, int(S.opPC)+1))))
			}
		case opCall:
			S.callValue(int(code[S.opPC+1]), false, false)
		case opTcall:
			S.callValue(int(code[S.opPC+1]), true, false)
		case opApply:
			S.applyValue(int(code[S.opPC+1]), false)
		case opTapply:
			S.applyValue(int(code[S.opPC+1]), true)
		case opReturn:
			S.doReturn()
		case opObjGet:
			obj := S.peek(1)
			if !obj.IsTable() {
				S.ierror("obj-get target is not a table, but " + obj.Tag().String())
				break
			}
			v, _ := tableGetWithMeta(obj.obj, S.peek(0))
			S.popN(2)
			S.push(v)
		case opObjSet:
			if err := S.tableSetAt(); err != nil {
				S.ierrorFrom(err)
			}
		case opMacro:
			sym := S.pop()
			if !sym.IsSym() {
				S.ierror("macro-get operand is not a symbol")
				break
			}
			m, ok := S.Env.GetMacro(sym.sym)
			if !ok {
				S.ierror("no macro named " + S.Symtab.NiceName(sym.sym))
				break
			}
			S.push(m)
		case opSetMacro:
			fn := S.pop()
			sym := S.pop()
			if !sym.IsSym() {
				S.ierror("set-macro operand is not a symbol")
				break
			}
			if !fn.IsFunc() {
				S.ierror("set-macro operand is not a function")
				break
			}
			S.Env.SetMacro(sym.sym, fn)
		case opImport:
			sym := S.pop()
			if !sym.IsSym() {
				S.ierror("import operand is not a symbol")
				break
			}
			if S.importHook == nil {
				S.pendingImport = sym.sym
				S.status = StatusWaitingImport
				break
			}
			if err := S.importHook(S, sym.sym); err != nil {
				S.ierrorFrom(err)
				break
			}
			S.paused = false
			S.push(Nil)
		case opTable:
			S.pushTable(0)
		default:
			S.ierror("illegal instruction")
		}
	}
}

// instantiateClosure builds a function object from sub-stub k of the
// current callee: it pops the optional-parameter init values and
// captures upvalues per the stub's descriptors, creating the open
// cells before the function object itself.
func (S *IState) instantiateClosure(k uint16) {
	fs := S.callee.stub.fs.subFuns[k].fs
	numOpt := int(fs.numOpt)

	// open cells for direct captures first; the open list roots
	// them across the remaining allocations
	for _, d := range fs.upvals {
		if d.Direct {
			S.findOrCreateUpval(uint32(S.bp + int(d.Source)))
		}
	}

	fo := S.Alloc.allocObject(gcFunction,
		2*ObjAlign+8*len(fs.upvals)+16*numOpt)
	stubObj := S.callee.stub.fs.subFuns[k]
	fo.stub = stubObj
	S.Alloc.writeBarrierObj(fo, stubObj)
	fo.upvals = make([]*Object, len(fs.upvals))
	for i, d := range fs.upvals {
		var cell *Object
		if d.Direct {
			cell = S.lookupUpval(uint32(S.bp + int(d.Source)))
		} else {
			cell = S.callee.upvals[d.Source]
		}
		fo.upvals[i] = cell
		S.Alloc.writeBarrierObj(fo, cell)
	}
	if numOpt > 0 {
		fo.initVals = make([]Value, numOpt)
		for i := 0; i < numOpt; i++ {
			fo.initVals[i] = S.stack[S.sp-numOpt+i]
			S.Alloc.writeBarrier(fo, fo.initVals[i])
		}
		S.popN(numOpt)
	}
	S.push(BoxFunc(fo))
}

// callValue implements CALL and TCALL with n positional arguments;
// the function sits below them at sp-n-1. Host-entered calls push a
// marked frame so returning through it pauses the loop.
func (S *IState) callValue(n int, tail, host bool) bool {
	calleeV := S.peek(n)
	if !calleeV.IsFunc() {
		S.ierror("attempt to call a non-function value of type " + calleeV.Tag().String())
		return false
	}
	fs := calleeV.obj.stub.fs

	if fs.foreign != nil {
		S.callForeign(calleeV.obj, n)
		if tail && !S.errHappened {
			// a tail call to a foreign function returns its
			// result from the current frame directly
			S.doReturn()
		}
		return false
	}

	if S.sp+fs.frameSlots()+32 > len(S.stack) {
		S.ierror("stack overflow")
		return false
	}

	if tail {
		// reuse the frame: close this frame's captured locals,
		// then relocate the function and arguments to the base
		S.closeUpvals(S.bp)
		copy(S.stack[S.bp-1:], S.stack[S.sp-n-1:S.sp])
		S.sp = S.bp + n
		S.callee = S.peek(n).obj
	} else {
		S.frames = append(S.frames, frameInfo{
			retPC:  S.pc,
			retBP:  S.bp,
			callee: S.callee,
			nsID:   S.nsID,
			ns:     S.ns,
			host:   host,
		})
		S.bp = S.sp - n
		S.callee = calleeV.obj
	}
	if ns := S.Env.Namespace(S.callee.stub.fs.nsID); ns != nil {
		S.setNamespace(ns)
	}
	if !S.arrangeCallStack(n) {
		return false
	}
	S.pc = 0
	return true
}

// arrangeCallStack validates arity and finishes the frame: missing
// optionals filled from the closure's stored init values, variadic
// overflow packed into a list (and/or key/value table), and one
// supplied indicator pushed per optional slot.
func (S *IState) arrangeCallStack(n int) bool {
	fs := S.callee.stub.fs
	numParams := int(fs.numParams)
	numOpt := int(fs.numOpt)
	minArgs := numParams - numOpt
	if n < minArgs {
		S.ierror("too few arguments in function call")
		return false
	}
	if !fs.vari && !fs.variTable && n > numParams {
		S.ierror("too many arguments in function call")
		return false
	}
	callee := S.callee
	for i := n; i < numParams; i++ {
		S.push(callee.initVals[i-minArgs])
	}
	overflow := 0
	if n > numParams {
		overflow = n - numParams
	}
	if fs.vari {
		S.popToList(overflow)
		overflow = 0
	}
	if fs.variTable {
		if overflow%2 != 0 {
			S.ierror("odd number of keyword arguments")
			return false
		}
		if err := S.popToTable(overflow); err != nil {
			S.ierrorFrom(err)
			return false
		}
	}
	// supplied indicators for the optional slots
	m := numParams
	if n < m {
		m = n
	}
	for i := minArgs; i < m; i++ {
		S.push(Yes)
	}
	for i := n; i < numParams; i++ {
		S.push(No)
	}
	return true
}

// callForeign runs a foreign handler over the stack top and collapses
// the call frame around its pushed result.
func (S *IState) callForeign(fn *Object, n int) {
	fs := fn.stub.fs
	if n < int(fs.numParams) {
		S.ierror("too few arguments in call to " + fs.name)
		return
	}
	if !fs.vari && n > int(fs.numParams) {
		S.ierror("too many arguments in call to " + fs.name)
		return
	}
	base := S.sp - n
	if err := fs.foreign(S, n); err != nil {
		S.ierrorFrom(err)
		return
	}
	S.stack[base-1] = S.stack[S.sp-1]
	S.sp = base
}

// doReturn pops the return value, closes this frame's upvalues,
// writes the result over the callee slot, and restores the caller.
func (S *IState) doReturn() {
	ret := S.pop()
	S.closeUpvals(S.bp)
	S.stack[S.bp-1] = ret
	S.sp = S.bp
	f := S.frames[len(S.frames)-1]
	S.frames = S.frames[:len(S.frames)-1]
	S.pc = f.retPC
	S.bp = f.retBP
	S.callee = f.callee
	if f.ns != nil {
		S.ns = f.ns
		S.nsID = f.nsID
	}
	if f.host {
		S.paused = true
	}
}

// applyValue implements APPLY: the list on top of the stack is
// spliced into extra positional arguments before a normal call.
func (S *IState) applyValue(n int, tail bool) {
	lst := S.pop()
	extra := 0
	for ; lst.IsCons(); lst = lst.obj.tail {
		if S.sp >= len(S.stack)-64 {
			S.ierror("stack overflow in apply")
			return
		}
		S.push(lst.obj.head)
		extra++
	}
	if !lst.IsEmpty() {
		S.ierror("apply argument is not a proper list")
		return
	}
	if n+extra > 0xff {
		S.ierror("apply expanded to more than 255 arguments")
		return
	}
	S.callValue(n+extra, tail, false)
}

// callTop calls the function below the top n stack values from the
// host and runs it to completion. The result replaces function and
// arguments on the stack.
func (S *IState) callTop(n int) error {
	entered := S.callValue(n, false, true)
	if S.errHappened {
		return S.takeError()
	}
	if !entered {
		return nil
	}
	S.paused = false
	S.execute()
	if S.errHappened {
		return S.takeError()
	}
	if S.status == StatusWaitingImport {
		return &ImportError{Loc: S.errLoc, Message: "import requested but no resolver is installed"}
	}
	return nil
}

// Resume continues execution after the host satisfied a
// waiting-for-import suspension. The import expression's value is
// pushed before execution restarts. EvalString and InterpretFile
// reset the VM when they report the import error, so after them
// Resume returns a "resume without a pending import" error.
func (S *IState) Resume() error {
	if S.status != StatusWaitingImport {
		return &RuntimeError{Message: "resume without a pending import"}
	}
	S.status = StatusRunning
	S.paused = false
	S.push(Nil)
	S.execute()
	if S.errHappened {
		return S.takeError()
	}
	return nil
}
