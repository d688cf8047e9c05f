package fn

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Tag discriminates the kinds a Value can hold. The tag rides
// alongside the payload rather than being packed into spare mantissa
// bits of a 64-bit word, which carries the same information without
// relying on pointer bit layout.
type Tag uint8

const (
	TagNum Tag = iota
	TagString
	TagCons
	TagTable
	TagFunc
	TagSym
	TagNil
	TagYes
	TagNo
	TagEmpty
	TagUnin
)

func (t Tag) String() string {
	switch t {
	case TagNum:
		return "number"
	case TagString:
		return "string"
	case TagCons:
		return "cons"
	case TagTable:
		return "table"
	case TagFunc:
		return "function"
	case TagSym:
		return "symbol"
	case TagNil:
		return "nil"
	case TagYes, TagNo:
		return "bool"
	case TagEmpty:
		return "empty"
	case TagUnin:
		return "uninitialized"
	}
	return "unknown"
}

// Value is a single Fn value. Pointer-bearing tags keep their target
// in obj; TagNum uses num; TagSym uses sym.
type Value struct {
	tag Tag
	num float64
	sym SymbolID
	obj *Object
}

// Sentinel values.
var (
	Nil       = Value{tag: TagNil}
	Yes       = Value{tag: TagYes}
	No        = Value{tag: TagNo}
	EmptyList = Value{tag: TagEmpty}
	Unin      = Value{tag: TagUnin}
)

func (v Value) Tag() Tag { return v.tag }

func BoxNum(f float64) Value     { return Value{tag: TagNum, num: f} }
func BoxSym(id SymbolID) Value   { return Value{tag: TagSym, sym: id} }
func BoxString(o *Object) Value  { return Value{tag: TagString, obj: o} }
func BoxCons(o *Object) Value    { return Value{tag: TagCons, obj: o} }
func BoxTable(o *Object) Value   { return Value{tag: TagTable, obj: o} }
func BoxFunc(o *Object) Value    { return Value{tag: TagFunc, obj: o} }

func BoxBool(b bool) Value {
	if b {
		return Yes
	}
	return No
}

func (v Value) IsNum() bool    { return v.tag == TagNum }
func (v Value) IsString() bool { return v.tag == TagString }
func (v Value) IsCons() bool   { return v.tag == TagCons }
func (v Value) IsTable() bool  { return v.tag == TagTable }
func (v Value) IsFunc() bool   { return v.tag == TagFunc }
func (v Value) IsSym() bool    { return v.tag == TagSym }
func (v Value) IsNil() bool    { return v.tag == TagNil }
func (v Value) IsBool() bool   { return v.tag == TagYes || v.tag == TagNo }
func (v Value) IsEmpty() bool  { return v.tag == TagEmpty }
func (v Value) IsUnin() bool   { return v.tag == TagUnin }

// IsList reports whether v is a cons cell or the empty list.
func (v Value) IsList() bool { return v.tag == TagCons || v.tag == TagEmpty }

func (v Value) Num() float64  { return v.num }
func (v Value) Sym() SymbolID { return v.sym }
func (v Value) Obj() *Object  { return v.obj }

// Truthy is false only for nil and no.
func (v Value) Truthy() bool {
	return v.tag != TagNil && v.tag != TagNo
}

// Same is raw equality: bit equality on numbers and symbols,
// identity on heap objects.
func (v Value) Same(w Value) bool {
	if v.tag != w.tag {
		return false
	}
	switch v.tag {
	case TagNum:
		return math.Float64bits(v.num) == math.Float64bits(w.num)
	case TagSym:
		return v.sym == w.sym
	case TagString, TagCons, TagTable, TagFunc:
		return v.obj == w.obj
	}
	return true
}

// equalDepthLimit bounds structural comparison. Cyclic structures
// are undefined under Equal; the limit keeps the recursion finite.
const equalDepthLimit = 512

// Equal is structural equality: recursive on cons cells and tables,
// byte-wise on strings, raw on everything else.
func Equal(v, w Value) bool {
	return equalRec(v, w, equalDepthLimit)
}

func equalRec(v, w Value, depth int) bool {
	if depth <= 0 {
		return false
	}
	if v.tag != w.tag {
		return false
	}
	switch v.tag {
	case TagString:
		return string(v.obj.bytes) == string(w.obj.bytes)
	case TagCons:
		return equalRec(v.obj.head, w.obj.head, depth-1) &&
			equalRec(v.obj.tail, w.obj.tail, depth-1)
	case TagTable:
		return tableEqual(v.obj, w.obj, depth-1)
	default:
		return v.Same(w)
	}
}

func tableEqual(a, b *Object, depth int) bool {
	if a.cnt != b.cnt {
		return false
	}
	slots := a.data.slots
	for i := 0; i < len(slots); i += 2 {
		k := slots[i]
		if k.IsUnin() {
			continue
		}
		bv, ok := tableGet(b, k)
		if !ok || !equalRec(slots[i+1], bv, depth) {
			return false
		}
	}
	return true
}

// ListLen walks a proper list and returns its length, or -1 when the
// chain does not end in the empty list.
func (v Value) ListLen() int {
	n := 0
	for ; v.IsCons(); v = v.obj.tail {
		n++
	}
	if !v.IsEmpty() {
		return -1
	}
	return n
}

// Head and Tail are undefined on non-cons values.
func (v Value) Head() Value { return v.obj.head }
func (v Value) Tail() Value { return v.obj.tail }

// StringBytes returns the byte contents of a string value.
func (v Value) StringBytes() []byte { return v.obj.bytes }

// ValueString renders v for display. Code format quotes strings and
// escapes their contents so the output reads back as source.
func ValueString(v Value, st *SymbolTable, codeFormat bool) string {
	var b strings.Builder
	writeValue(&b, v, st, codeFormat, equalDepthLimit)
	return b.String()
}

func writeValue(b *strings.Builder, v Value, st *SymbolTable, code bool, depth int) {
	if depth <= 0 {
		b.WriteString("...")
		return
	}
	switch v.tag {
	case TagNum:
		b.WriteString(formatNum(v.num))
	case TagString:
		if code {
			writeQuotedString(b, string(v.obj.bytes))
		} else {
			b.Write(v.obj.bytes)
		}
	case TagSym:
		b.WriteString(st.NiceName(v.sym))
	case TagNil:
		b.WriteString("nil")
	case TagYes:
		b.WriteString("true")
	case TagNo:
		b.WriteString("false")
	case TagEmpty:
		b.WriteString("[]")
	case TagUnin:
		b.WriteString("#<uninitialized>")
	case TagCons:
		b.WriteByte('[')
		first := true
		for ; v.IsCons(); v = v.obj.tail {
			if !first {
				b.WriteByte(' ')
			}
			first = false
			writeValue(b, v.obj.head, st, true, depth-1)
		}
		if !v.IsEmpty() {
			b.WriteString(" . ")
			writeValue(b, v, st, true, depth-1)
		}
		b.WriteByte(']')
	case TagTable:
		b.WriteByte('{')
		first := true
		slots := v.obj.data.slots
		for i := 0; i < len(slots); i += 2 {
			if slots[i].IsUnin() {
				continue
			}
			if !first {
				b.WriteByte(' ')
			}
			first = false
			writeValue(b, slots[i], st, true, depth-1)
			b.WriteByte(' ')
			writeValue(b, slots[i+1], st, true, depth-1)
		}
		b.WriteByte('}')
	case TagFunc:
		name := v.obj.stub.fs.name
		if name == "" {
			name = "<anonymous>"
		}
		fmt.Fprintf(b, "#<function:%s>", name)
	}
}

func formatNum(f float64) string {
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.FormatFloat(f, 'f', 0, 64)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}
