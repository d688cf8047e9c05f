package fn

import (
	"fmt"
	"sort"
	"strings"
)

const (
	DefaultStackSize = 4096
	MinStackSize     = 256
)

type VMStatus int

const (
	StatusRunning VMStatus = iota
	// StatusWaitingImport is entered by the IMPORT instruction when
	// no import resolver is installed, and Resume continues from it.
	// EvalString and InterpretFile report the suspension as an
	// ImportError and reset the VM before returning, so a Resume
	// after them fails; PendingImport stays readable.
	StatusWaitingImport
)

// TraceFrame is one captured stack-trace entry.
type TraceFrame struct {
	callee *Object
	pc     uint32
}

type frameInfo struct {
	retPC  uint32
	retBP  int
	callee *Object
	nsID   SymbolID
	ns     *Namespace
	// host frames mark calls entered from outside the VM loop;
	// returning through one pauses execution
	host bool
}

// IState is the whole interpreter state: allocator, symbol table,
// global environment, the value stack, and the error machinery.
// There is no module-level mutable state anywhere; everything
// threads through here.
type IState struct {
	Alloc  *Allocator
	Symtab *SymbolTable
	Env    *GlobalEnv

	nsID SymbolID
	ns   *Namespace

	pc     uint32
	opPC   uint32
	bp     int
	sp     int
	stack  []Value
	callee *Object
	frames []frameInfo

	// open upvalue cells, ordered by stack position
	openUpvals []*Object

	filename string
	wd       string

	errHappened bool
	errMsg      string
	errLoc      SourceLoc
	traceFrames []TraceFrame

	status        VMStatus
	paused        bool
	pendingImport SymbolID
	importHook    func(*IState, SymbolID) error

	opts Options
}

// CurrentNamespace returns the namespace the VM resolves globals in.
func (S *IState) CurrentNamespace() *Namespace { return S.ns }

func (S *IState) setNamespace(ns *Namespace) {
	S.ns = ns
	S.nsID = ns.id
}

// PendingImport returns the namespace id the VM suspended on.
func (S *IState) PendingImport() SymbolID { return S.pendingImport }

/// stack operations

func (S *IState) push(v Value) {
	if S.sp >= len(S.stack) {
		panic(&FatalError{Message: "value stack overflow"})
	}
	S.stack[S.sp] = v
	S.sp++
}

func (S *IState) pop() Value {
	S.sp--
	return S.stack[S.sp]
}

func (S *IState) popN(n int) {
	S.sp -= n
}

// peek reads relative to the top of the stack; peek(0) is the top.
func (S *IState) peek(i int) Value {
	return S.stack[S.sp-1-i]
}

// Push exposes push for foreign functions and embedding hosts.
func (S *IState) Push(v Value) { S.push(v) }

// Pop exposes pop for foreign functions and embedding hosts.
func (S *IState) Pop() Value { return S.pop() }

// Peek exposes peek for foreign functions and embedding hosts.
func (S *IState) Peek(i int) Value { return S.peek(i) }

// PushString allocates and pushes a string value.
func (S *IState) PushString(s string) { S.pushString(s) }

// PopToList pops n values into a list, pushing the result.
func (S *IState) PopToList(n int) { S.popToList(n) }

/// errors

// ierror raises a runtime error: it sets the error flag, records the
// message and location, and captures the stack trace. The VM loop
// unwinds to the host on the next dispatch check.
func (S *IState) ierror(msg string) {
	if S.errHappened {
		return
	}
	S.errHappened = true
	S.errMsg = msg
	S.errLoc = SourceLoc{File: S.filename}
	if S.callee != nil {
		S.errLoc = S.callee.stub.fs.instrLoc(S.opPC)
		if S.errLoc.File == "" {
			S.errLoc.File = S.callee.stub.fs.filename
		}
	}
	S.captureTrace()
}

// ierrorFrom raises err as a VM error, unwrapping the message of an
// already-typed runtime error instead of nesting its formatting.
func (S *IState) ierrorFrom(err error) {
	if re, ok := err.(*RuntimeError); ok {
		S.ierror(re.Message)
		return
	}
	S.ierror(err.Error())
}

func (S *IState) captureTrace() {
	S.traceFrames = S.traceFrames[:0]
	if S.callee != nil {
		S.traceFrames = append(S.traceFrames, TraceFrame{S.callee, S.opPC})
	}
	for i := len(S.frames) - 1; i >= 0; i-- {
		f := S.frames[i]
		if f.callee != nil {
			S.traceFrames = append(S.traceFrames, TraceFrame{f.callee, f.retPC})
		}
	}
}

// traceString renders the captured frames, innermost first, through
// each stub's pc-to-location table.
func (S *IState) traceString() string {
	var b strings.Builder
	for _, f := range S.traceFrames {
		fs := f.callee.stub.fs
		name := fs.name
		if name == "" {
			name = "<anonymous>"
		}
		loc := fs.instrLoc(f.pc)
		file := loc.File
		if file == "" {
			file = fs.filename
		}
		fmt.Fprintf(&b, "  at %s (%s:%d:%d)\n", name, file, loc.Line, loc.Col)
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// takeError converts the pending error flag into a RuntimeError and
// clears it so the host can continue.
func (S *IState) takeError() error {
	err := &RuntimeError{Loc: S.errLoc, Message: S.errMsg, Trace: S.traceString()}
	S.errHappened = false
	S.errMsg = ""
	S.traceFrames = S.traceFrames[:0]
	return err
}

// recoverState resets the VM after an error unwound to the host:
// open upvalues are closed over whatever the stack held, and the
// stack and frames are discarded.
func (S *IState) recoverState() {
	S.closeUpvals(0)
	S.sp = 0
	S.bp = 0
	S.frames = S.frames[:0]
	S.callee = nil
	S.paused = false
	S.status = StatusRunning
}

/// open upvalues

// findOrCreateUpval returns the unique open cell for a stack
// position, creating it if needed. The open list is a GC root, so
// a collection triggered by the cell allocation is safe.
func (S *IState) findOrCreateUpval(pos uint32) *Object {
	i := sort.Search(len(S.openUpvals), func(i int) bool {
		return S.openUpvals[i].pos >= pos
	})
	if i < len(S.openUpvals) && S.openUpvals[i].pos == pos {
		return S.openUpvals[i]
	}
	cell := S.Alloc.allocObject(gcUpvalue, 2*ObjAlign)
	cell.pos = pos
	S.openUpvals = append(S.openUpvals, nil)
	copy(S.openUpvals[i+1:], S.openUpvals[i:])
	S.openUpvals[i] = cell
	return cell
}

func (S *IState) lookupUpval(pos uint32) *Object {
	i := sort.Search(len(S.openUpvals), func(i int) bool {
		return S.openUpvals[i].pos >= pos
	})
	if i < len(S.openUpvals) && S.openUpvals[i].pos == pos {
		return S.openUpvals[i]
	}
	return nil
}

// closeUpvals closes every open cell at stack position from or
// above: the cell captures the current stack value and all functions
// sharing the cell now see the heap copy.
func (S *IState) closeUpvals(from int) {
	i := sort.Search(len(S.openUpvals), func(i int) bool {
		return int(S.openUpvals[i].pos) >= from
	})
	for j := i; j < len(S.openUpvals); j++ {
		cell := S.openUpvals[j]
		cell.closed = true
		cell.val = S.stack[cell.pos]
		S.Alloc.writeBarrier(cell, cell.val)
	}
	S.openUpvals = S.openUpvals[:i]
}
