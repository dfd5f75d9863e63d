package lexer

import "testing"

func TestNextTokenPunctuationAndOperators(t *testing.T) {
	input := `(){},.-+;/*?:!!====<<=>>=`

	want := []TokenType{
		TokenLeftParen, TokenRightParen, TokenLeftBrace, TokenRightBrace,
		TokenComma, TokenDot, TokenMinus, TokenPlus, TokenSemicolon,
		TokenSlash, TokenStar, TokenQuestion, TokenColon,
		TokenBang, TokenBangEqual, TokenEqualEqual, TokenEqual,
		TokenLess, TokenLessEqual, TokenGreater, TokenGreaterEqual,
		TokenEOF,
	}

	l := New(input)
	for i, tt := range want {
		tok := l.NextToken()
		if tok.Type != tt {
			t.Fatalf("token %d: got %v, want %v (lexeme %q)", i, tok.Type, tt, tok.Lexeme)
		}
	}
}

func TestKeywordsAndIdentifiers(t *testing.T) {
	input := "and class else false for fun if nil or print return super this true var while break continue foo _bar1"

	wantTypes := []TokenType{
		TokenAnd, TokenClass, TokenElse, TokenFalse, TokenFor, TokenFun, TokenIf,
		TokenNil, TokenOr, TokenPrint, TokenReturn, TokenSuper, TokenThis, TokenTrue,
		TokenVar, TokenWhile, TokenBreak, TokenContinue, TokenIdentifier, TokenIdentifier,
	}

	l := New(input)
	for i, want := range wantTypes {
		tok := l.NextToken()
		if tok.Type != want {
			t.Fatalf("token %d (%q): got %v, want %v", i, tok.Lexeme, tok.Type, want)
		}
	}
}

func TestNumbers(t *testing.T) {
	tests := []struct {
		input string
	}{
		{"123"},
		{"3.14"},
		{"0"},
	}
	for _, tc := range tests {
		l := New(tc.input)
		tok := l.NextToken()
		if tok.Type != TokenNumber || tok.Lexeme != tc.input {
			t.Errorf("input %q: got type=%v lexeme=%q", tc.input, tok.Type, tok.Lexeme)
		}
	}
}

func TestNumberNoLeadingDotNoTrailingDot(t *testing.T) {
	// "1." is a number "1" followed by a DOT, not a trailing-dot float.
	l := New("1.")
	tok := l.NextToken()
	if tok.Type != TokenNumber || tok.Lexeme != "1" {
		t.Fatalf("got type=%v lexeme=%q, want NUMBER \"1\"", tok.Type, tok.Lexeme)
	}
	dot := l.NextToken()
	if dot.Type != TokenDot {
		t.Fatalf("got %v, want DOT", dot.Type)
	}
}

func TestStrings(t *testing.T) {
	l := New(`"hello, world"`)
	tok := l.NextToken()
	if tok.Type != TokenString || tok.Lexeme != `"hello, world"` {
		t.Fatalf("got type=%v lexeme=%q", tok.Type, tok.Lexeme)
	}
}

func TestUnterminatedString(t *testing.T) {
	l := New(`"unterminated`)
	tok := l.NextToken()
	if tok.Type != TokenError || tok.Lexeme != "unterminated string" {
		t.Fatalf("got type=%v lexeme=%q", tok.Type, tok.Lexeme)
	}
}

func TestMultilineStringTracksLines(t *testing.T) {
	l := New("\"a\nb\nc\" 1")
	str := l.NextToken()
	if str.Type != TokenString {
		t.Fatalf("got type=%v, want STRING", str.Type)
	}
	num := l.NextToken()
	if num.Line != 3 {
		t.Fatalf("got line=%d, want 3", num.Line)
	}
}

func TestLineCommentsAreSkipped(t *testing.T) {
	l := New("1 // a comment\n2")
	first := l.NextToken()
	second := l.NextToken()
	if first.Lexeme != "1" || second.Lexeme != "2" || second.Line != 2 {
		t.Fatalf("got %+v, %+v", first, second)
	}
}

func TestUnexpectedCharacter(t *testing.T) {
	l := New("$")
	tok := l.NextToken()
	if tok.Type != TokenError || tok.Lexeme != "unexpected character" {
		t.Fatalf("got type=%v lexeme=%q", tok.Type, tok.Lexeme)
	}
}

func TestTokenizeStopsAtEOF(t *testing.T) {
	toks, err := New("1 + 2;").Tokenize()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if toks[len(toks)-1].Type != TokenEOF {
		t.Fatalf("last token should be EOF, got %v", toks[len(toks)-1].Type)
	}
}
