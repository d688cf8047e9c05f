package fn

import "fmt"

// SourceLoc points at a position within an input file. Expanded is
// set on nodes produced by macroexpansion, whose positions refer to
// the macro call site rather than literal source text.
type SourceLoc struct {
	File     string
	Line     int
	Col      int
	Expanded bool
}

func (l SourceLoc) String() string {
	file := l.File
	if file == "" {
		file = "<input>"
	}
	return fmt.Sprintf("line %d, col %d in %s", l.Line, l.Col, file)
}
