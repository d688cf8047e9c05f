package fn

import "strings"

type AstKind int

const (
	AstNumber AstKind = iota
	AstString
	AstSymbol
	AstList
)

// AstNode is one node of the reader's output graph. The AST lives
// outside the GC heap: it is owned by the caller and referenced by
// compiler output (quoted constants) until reification, so it must
// outlive the compiler output it feeds.
type AstNode struct {
	Kind AstKind
	Loc  SourceLoc
	Num  float64
	Str  string
	Sym  SymbolID
	List []*AstNode
}

// IsCallTo reports whether n is a list form whose head is the named
// symbol.
func (n *AstNode) IsCallTo(st *SymbolTable, name string) bool {
	return n.Kind == AstList && len(n.List) > 0 &&
		n.List[0].Kind == AstSymbol && st.SymbolName(n.List[0].Sym) == name
}

// AstEqual compares two nodes structurally, ignoring locations.
func AstEqual(a, b *AstNode) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case AstNumber:
		return a.Num == b.Num
	case AstString:
		return a.Str == b.Str
	case AstSymbol:
		return a.Sym == b.Sym
	case AstList:
		if len(a.List) != len(b.List) {
			return false
		}
		for i := range a.List {
			if !AstEqual(a.List[i], b.List[i]) {
				return false
			}
		}
		return true
	}
	return false
}

// Parser consumes tokens and produces AST nodes, applying the reader
// macros: 'x, `x, ,x, ,@x, dollar forms, braces, and brackets.
type Parser struct {
	sc  *Scanner
	st  *SymbolTable
	tok Token
	// primed is set once the lookahead token is valid
	primed bool
}

func NewParser(sc *Scanner, st *SymbolTable) *Parser {
	return &Parser{sc: sc, st: st}
}

func (p *Parser) peek() (Token, error) {
	if !p.primed {
		tok, err := p.sc.NextToken()
		if err != nil {
			return Token{}, err
		}
		p.tok = tok
		p.primed = true
	}
	return p.tok, nil
}

func (p *Parser) next() (Token, error) {
	tok, err := p.peek()
	p.primed = false
	return tok, err
}

func (p *Parser) symNode(loc SourceLoc, name string) *AstNode {
	return &AstNode{Kind: AstSymbol, Loc: loc, Sym: p.st.Intern(name), Str: name}
}

// Next parses one top-level form. It returns (nil, nil) at a clean
// end of input. A form cut off by the end of input yields a
// resumable parse error, which a REPL uses to request more input.
func (p *Parser) Next() (*AstNode, error) {
	tok, err := p.next()
	if err != nil {
		return nil, err
	}
	if tok.Kind == TkEOF {
		return nil, nil
	}
	return p.parseExpr(tok)
}

func (p *Parser) parseExpr(tok Token) (*AstNode, error) {
	switch tok.Kind {
	case TkEOF:
		return nil, &ParseError{Loc: tok.Loc, Message: "unexpected end of input", Resumable: true}
	case TkNumber:
		return &AstNode{Kind: AstNumber, Loc: tok.Loc, Num: tok.Num}, nil
	case TkString:
		return &AstNode{Kind: AstString, Loc: tok.Loc, Str: tok.Str}, nil
	case TkSymbol:
		return p.symNode(tok.Loc, tok.Str), nil
	case TkDot:
		// a.b.c reads as (dot a b c); the keys are bare symbols,
		// taken literally by the compiler's OBJ_GET chain
		nodes := []*AstNode{p.symNode(tok.Loc, "dot"), p.symNode(tok.Loc, tok.Parts[0])}
		for _, part := range tok.Parts[1:] {
			nodes = append(nodes, p.symNode(tok.Loc, part))
		}
		return &AstNode{Kind: AstList, Loc: tok.Loc, List: nodes}, nil
	case TkLParen:
		return p.parseListBody(tok.Loc, TkRParen, nil)
	case TkLBracket:
		return p.parseListBody(tok.Loc, TkRBracket, []*AstNode{p.symNode(tok.Loc, "List")})
	case TkLBrace:
		return p.parseListBody(tok.Loc, TkRBrace, []*AstNode{p.symNode(tok.Loc, "Table")})
	case TkQuote:
		return p.parsePrefixed(tok.Loc, "quote")
	case TkBacktick:
		return p.parsePrefixed(tok.Loc, "quasiquote")
	case TkComma:
		return p.parsePrefixed(tok.Loc, "unquote")
	case TkCommaAt:
		return p.parsePrefixed(tok.Loc, "unquote-splicing")
	case TkDollarParen:
		inner, err := p.parseListBody(tok.Loc, TkRParen, nil)
		if err != nil {
			return nil, err
		}
		return p.dollarNode(tok.Loc, inner), nil
	case TkDollarBracket:
		inner, err := p.parseListBody(tok.Loc, TkRBracket, []*AstNode{p.symNode(tok.Loc, "List")})
		if err != nil {
			return nil, err
		}
		return p.dollarNode(tok.Loc, inner), nil
	case TkDollarBrace:
		inner, err := p.parseListBody(tok.Loc, TkRBrace, []*AstNode{p.symNode(tok.Loc, "Table")})
		if err != nil {
			return nil, err
		}
		return p.dollarNode(tok.Loc, inner), nil
	case TkDollarBacktick:
		inner, err := p.parsePrefixed(tok.Loc, "quasiquote")
		if err != nil {
			return nil, err
		}
		return p.dollarNode(tok.Loc, inner), nil
	default:
		return nil, &ParseError{Loc: tok.Loc, Message: "unexpected '" + tok.Kind.String() + "'"}
	}
}

func (p *Parser) dollarNode(loc SourceLoc, body *AstNode) *AstNode {
	return &AstNode{
		Kind: AstList,
		Loc:  loc,
		List: []*AstNode{p.symNode(loc, "dollar-fn"), body},
	}
}

func (p *Parser) parsePrefixed(loc SourceLoc, head string) (*AstNode, error) {
	tok, err := p.next()
	if err != nil {
		return nil, err
	}
	if tok.Kind == TkEOF {
		return nil, &ParseError{Loc: tok.Loc, Message: "unexpected end of input after " + head, Resumable: true}
	}
	expr, err := p.parseExpr(tok)
	if err != nil {
		return nil, err
	}
	return &AstNode{
		Kind: AstList,
		Loc:  loc,
		List: []*AstNode{p.symNode(loc, head), expr},
	}, nil
}

func (p *Parser) parseListBody(loc SourceLoc, closer TokenKind, prefix []*AstNode) (*AstNode, error) {
	children := prefix
	for {
		tok, err := p.peek()
		if err != nil {
			return nil, err
		}
		if tok.Kind == TkEOF {
			return nil, &ParseError{Loc: tok.Loc, Message: "unexpected end of input: expected '" + closer.String() + "'", Resumable: true}
		}
		if tok.Kind == closer {
			p.primed = false
			return &AstNode{Kind: AstList, Loc: loc, List: children}, nil
		}
		if tok.Kind == TkRParen || tok.Kind == TkRBracket || tok.Kind == TkRBrace {
			return nil, &ParseError{Loc: tok.Loc, Message: "mismatched delimiter: expected '" + closer.String() + "', found '" + tok.Kind.String() + "'"}
		}
		p.primed = false
		child, err := p.parseExpr(tok)
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}
}

// PrintAst renders a node as source text that reads back to an equal
// node.
func PrintAst(n *AstNode, st *SymbolTable) string {
	var b strings.Builder
	writeAst(&b, n, st)
	return b.String()
}

func writeAst(b *strings.Builder, n *AstNode, st *SymbolTable) {
	switch n.Kind {
	case AstNumber:
		b.WriteString(formatNum(n.Num))
	case AstString:
		writeQuotedString(b, n.Str)
	case AstSymbol:
		writeSymbolText(b, st.NiceName(n.Sym))
	case AstList:
		b.WriteByte('(')
		for i, child := range n.List {
			if i > 0 {
				b.WriteByte(' ')
			}
			writeAst(b, child, st)
		}
		b.WriteByte(')')
	}
}

func writeQuotedString(b *strings.Builder, s string) {
	b.WriteByte('"')
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch ch {
		case '"':
			b.WriteString("\\\"")
		case '\\':
			b.WriteString("\\\\")
		case '\n':
			b.WriteString("\\n")
		case '\t':
			b.WriteString("\\t")
		case '\r':
			b.WriteString("\\r")
		default:
			if ch < 0x20 {
				b.WriteString("\\x")
				const hex = "0123456789abcdef"
				b.WriteByte(hex[ch>>4])
				b.WriteByte(hex[ch&0xf])
			} else {
				b.WriteByte(ch)
			}
		}
	}
	b.WriteByte('"')
}

// writeSymbolText escapes any character that would change how the
// symbol reads back: delimiters, dots, and a numeric-looking shape.
func writeSymbolText(b *strings.Builder, name string) {
	if name == "" {
		return
	}
	if _, isNum := parseNumber(name); isNum {
		b.WriteByte('\\')
	}
	for i := 0; i < len(name); i++ {
		ch := name[i]
		if isDelimiter(ch) || ch == '\\' || ch == '.' {
			b.WriteByte('\\')
		}
		b.WriteByte(ch)
	}
}

// ParseAll reads every top-level form from src. Used by tests and
// the string evaluator.
func ParseAll(src, filename string, st *SymbolTable) ([]*AstNode, error) {
	p := NewParser(NewScanner([]byte(src), filename), st)
	var nodes []*AstNode
	for {
		n, err := p.Next()
		if err != nil {
			return nodes, err
		}
		if n == nil {
			return nodes, nil
		}
		nodes = append(nodes, n)
	}
}
