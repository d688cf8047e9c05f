package fn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scanAll(t *testing.T, src string) []Token {
	t.Helper()
	sc := NewScanner([]byte(src), "<test>")
	var toks []Token
	for {
		tok, err := sc.NextToken()
		require.NoError(t, err)
		if tok.Kind == TkEOF {
			return toks
		}
		toks = append(toks, tok)
	}
}

func scanOne(t *testing.T, src string) Token {
	t.Helper()
	toks := scanAll(t, src)
	require.Len(t, toks, 1)
	return toks[0]
}

func TestScannerBasics(t *testing.T) {
	t.Run("empty input yields EOF", func(t *testing.T) {
		sc := NewScanner(nil, "")
		tok, err := sc.NextToken()
		require.NoError(t, err)
		assert.Equal(t, TkEOF, tok.Kind)
	})

	t.Run("delimiters and quote marks", func(t *testing.T) {
		toks := scanAll(t, "( ) [ ] { } ' ` , ,@")
		kinds := make([]TokenKind, len(toks))
		for i, tok := range toks {
			kinds[i] = tok.Kind
		}
		assert.Equal(t, []TokenKind{
			TkLParen, TkRParen, TkLBracket, TkRBracket, TkLBrace, TkRBrace,
			TkQuote, TkBacktick, TkComma, TkCommaAt,
		}, kinds)
	})

	t.Run("dollar variants", func(t *testing.T) {
		toks := scanAll(t, "$( $[ ${ $`")
		kinds := make([]TokenKind, len(toks))
		for i, tok := range toks {
			kinds[i] = tok.Kind
		}
		assert.Equal(t, []TokenKind{
			TkDollarParen, TkDollarBracket, TkDollarBrace, TkDollarBacktick,
		}, kinds)
	})

	t.Run("comments are skipped to end of line", func(t *testing.T) {
		toks := scanAll(t, "a ; the rest is noise ( ] \nb")
		require.Len(t, toks, 2)
		assert.Equal(t, "a", toks[0].Str)
		assert.Equal(t, "b", toks[1].Str)
		assert.Equal(t, 2, toks[1].Loc.Line)
	})

	t.Run("locations track lines and columns", func(t *testing.T) {
		toks := scanAll(t, "a\n  b")
		assert.Equal(t, 1, toks[0].Loc.Line)
		assert.Equal(t, 2, toks[1].Loc.Line)
		assert.Equal(t, 2, toks[1].Loc.Col)
	})
}

func TestScannerNumbers(t *testing.T) {
	for _, tc := range []struct {
		src  string
		want float64
	}{
		{"42", 42},
		{"-1.5", -1.5},
		{"+7", 7},
		{"1e3", 1000},
		{"2.5e-1", 0.25},
		{"1e+21", 1e21},
		{"0x10", 16},
		{"0x1.8", 1.5},
		{"0x1p4", 16},
		{"-0xffP0", -255},
	} {
		tok := scanOne(t, tc.src)
		assert.Equal(t, TkNumber, tok.Kind, tc.src)
		assert.Equal(t, tc.want, tok.Num, tc.src)
	}

	t.Run("non-numbers scan as symbols", func(t *testing.T) {
		for _, src := range []string{"+", "-", "1x", "e5x", "--2", "0x", "1e"} {
			tok := scanOne(t, src)
			assert.Equal(t, TkSymbol, tok.Kind, src)
		}
	})
}

func TestScannerSymbols(t *testing.T) {
	t.Run("symbol constituents", func(t *testing.T) {
		tok := scanOne(t, "foo-bar!*?<>=:x$1#")
		assert.Equal(t, TkSymbol, tok.Kind)
		assert.Equal(t, "foo-bar!*?<>=:x$1#", tok.Str)
	})

	t.Run("backslash escapes the next character", func(t *testing.T) {
		tok := scanOne(t, `a\ b`)
		assert.Equal(t, TkSymbol, tok.Kind)
		assert.Equal(t, "a b", tok.Str)
	})

	t.Run("escaped digits stay symbols", func(t *testing.T) {
		tok := scanOne(t, `\42`)
		assert.Equal(t, TkSymbol, tok.Kind)
		assert.Equal(t, "42", tok.Str)
	})

	t.Run("interior dots build a dotted symbol", func(t *testing.T) {
		tok := scanOne(t, "a.b.c")
		assert.Equal(t, TkDot, tok.Kind)
		assert.Equal(t, []string{"a", "b", "c"}, tok.Parts)
	})

	t.Run("escaped dots are plain constituents", func(t *testing.T) {
		tok := scanOne(t, `a\.b`)
		assert.Equal(t, TkSymbol, tok.Kind)
		assert.Equal(t, "a.b", tok.Str)
	})

	t.Run("leading or trailing dots are errors", func(t *testing.T) {
		for _, src := range []string{".a", "a.", "a..b"} {
			sc := NewScanner([]byte(src), "")
			_, err := sc.NextToken()
			require.Error(t, err, src)
			assert.IsType(t, &ScanError{}, err)
		}
	})
}

func TestScannerStrings(t *testing.T) {
	t.Run("plain and escaped contents", func(t *testing.T) {
		tok := scanOne(t, `"a\tb\n\"q\" \\ \x41 \101"`)
		assert.Equal(t, TkString, tok.Kind)
		assert.Equal(t, "a\tb\n\"q\" \\ A A", tok.Str)
	})

	t.Run("unterminated string at EOF", func(t *testing.T) {
		sc := NewScanner([]byte(`"abc`), "")
		_, err := sc.NextToken()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unterminated")
	})

	t.Run("short hex escape", func(t *testing.T) {
		sc := NewScanner([]byte(`"\x4"`), "")
		_, err := sc.NextToken()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "hex escape")
	})

	t.Run("unknown escape", func(t *testing.T) {
		sc := NewScanner([]byte(`"\q"`), "")
		_, err := sc.NextToken()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unrecognized escape")
	})
}
