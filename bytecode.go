package fn

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// NOTE: changing the order of these variants changes the bytecode
// encoding; the compiler and VM must agree.
const (
	opNop byte = iota
	opPop
	opLocal
	opSetLocal
	opCopy
	opUpvalue
	opSetUpvalue
	opClosure
	opClose
	opGlobal
	opSetGlobal
	opConst
	opNil
	opYes
	opNo
	opJump
	opCjump
	opCall
	opTcall
	opApply
	opTapply
	opReturn
	opObjGet
	opObjSet
	opMacro
	opSetMacro
	opImport
	opTable
)

// instrWidth gives the width of an instruction plus its payload in
// bytes.
func instrWidth(op byte) int {
	switch op {
	case opLocal, opSetLocal, opCopy, opUpvalue, opSetUpvalue,
		opClose, opCall, opTcall, opApply, opTapply:
		return 2
	case opClosure, opGlobal, opSetGlobal, opConst, opJump, opCjump:
		return 3
	}
	return 1
}

var opNames = map[byte]string{
	opNop:        "nop",
	opPop:        "pop",
	opLocal:      "local",
	opSetLocal:   "set-local",
	opCopy:       "copy",
	opUpvalue:    "upvalue",
	opSetUpvalue: "set-upvalue",
	opClosure:    "closure",
	opClose:      "close",
	opGlobal:     "global",
	opSetGlobal:  "set-global",
	opConst:      "const",
	opNil:        "nil",
	opYes:        "yes",
	opNo:         "no",
	opJump:       "jump",
	opCjump:      "cjump",
	opCall:       "call",
	opTcall:      "tcall",
	opApply:      "apply",
	opTapply:     "tapply",
	opReturn:     "return",
	opObjGet:     "obj-get",
	opObjSet:     "obj-set",
	opMacro:      "macro",
	opSetMacro:   "set-macro",
	opImport:     "import",
	opTable:      "table",
}

func readU16(code []byte, at int) uint16 {
	return binary.BigEndian.Uint16(code[at:])
}

func writeU16(code []byte, at int, v uint16) {
	binary.BigEndian.PutUint16(code[at:], v)
}

// DisassembleOutput renders a compiler output record, sub-functions
// included, for tests and debugging.
func DisassembleOutput(out *CompilerOutput, st *SymbolTable) string {
	var b strings.Builder
	disassembleOutput(&b, out, st, "")
	return b.String()
}

func disassembleOutput(b *strings.Builder, out *CompilerOutput, st *SymbolTable, indent string) {
	name := out.Name
	if name == "" {
		name = "<anonymous>"
	}
	fmt.Fprintf(b, "%sfunction %s (params=%d opt=%d vari=%v)\n",
		indent, name, out.NumParams, out.NumOpt, out.Vari)
	for pc := 0; pc < len(out.Code); {
		op := out.Code[pc]
		fmt.Fprintf(b, "%s  %04d %s", indent, pc, opNames[op])
		switch instrWidth(op) {
		case 2:
			fmt.Fprintf(b, " %d", out.Code[pc+1])
		case 3:
			switch op {
			case opJump, opCjump:
				fmt.Fprintf(b, " %d", int16(readU16(out.Code, pc+1)))
			case opConst, opGlobal, opSetGlobal:
				k := readU16(out.Code, pc+1)
				fmt.Fprintf(b, " %d", k)
				if int(k) < len(out.Consts) {
					fmt.Fprintf(b, " ; %s", out.Consts[k].describe(st))
				}
			default:
				fmt.Fprintf(b, " %d", readU16(out.Code, pc+1))
			}
		}
		b.WriteByte('\n')
		pc += instrWidth(op)
	}
	for _, sub := range out.SubFuns {
		disassembleOutput(b, sub, st, indent+"  ")
	}
}

func (ce *constEntry) describe(st *SymbolTable) string {
	switch ce.kind {
	case constNum:
		return formatNum(ce.num)
	case constStr:
		return fmt.Sprintf("%q", ce.str)
	case constSym:
		return "'" + st.NiceName(ce.sym)
	case constGlobalName:
		return st.NiceName(ce.sym)
	case constQuote:
		return "'" + PrintAst(ce.quoted, st)
	}
	return "?"
}
