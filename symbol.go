package fn

import "strconv"

// SymbolID identifies an interned symbol or a gensym. Interned ids
// grow from 0; gensym ids grow downward from the top of the u32
// range. The two counters never hand out the same id.
type SymbolID uint32

type SymbolTable struct {
	byName     map[string]SymbolID
	byID       []string
	nextGensym SymbolID
}

func NewSymbolTable() *SymbolTable {
	return &SymbolTable{
		byName:     make(map[string]SymbolID),
		nextGensym: ^SymbolID(0),
	}
}

// Intern returns the id already associated with name, or allocates
// the next one.
func (st *SymbolTable) Intern(name string) SymbolID {
	if id, ok := st.byName[name]; ok {
		return id
	}
	id := SymbolID(len(st.byID))
	if id >= st.nextGensym {
		panic(&FatalError{Message: "symbol table exhausted"})
	}
	st.byName[name] = id
	st.byID = append(st.byID, name)
	return id
}

// Gensym allocates a fresh unnamed symbol id from the top of the id
// range.
func (st *SymbolTable) Gensym() SymbolID {
	id := st.nextGensym
	if id <= SymbolID(len(st.byID)) {
		panic(&FatalError{Message: "symbol table exhausted"})
	}
	st.nextGensym--
	return id
}

func (st *SymbolTable) IsGensym(id SymbolID) bool {
	return id > st.nextGensym
}

// SymbolName returns the name of an interned symbol, or the empty
// string when id is unknown or a gensym.
func (st *SymbolTable) SymbolName(id SymbolID) string {
	if int(id) < len(st.byID) {
		return st.byID[id]
	}
	return ""
}

// GensymName returns a synthetic display name for a gensym. It is
// not a real symbol name and cannot be interned back.
func (st *SymbolTable) GensymName(id SymbolID) string {
	return "#gensym:" + strconv.FormatUint(uint64(^id), 10)
}

// NiceName acts like GensymName for gensyms and SymbolName otherwise.
func (st *SymbolTable) NiceName(id SymbolID) string {
	if st.IsGensym(id) {
		return st.GensymName(id)
	}
	return st.SymbolName(id)
}
