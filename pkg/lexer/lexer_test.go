package lexer

import "testing"

func TestSingleCharacterTokens(t *testing.T) {
	input := "(){}[],.-+;/*:"

	expected := []TokenType{
		TokenLeftParen, TokenRightParen, TokenLeftBrace, TokenRightBrace,
		TokenLeftBracket, TokenRightBracket, TokenComma, TokenDot,
		TokenMinus, TokenPlus, TokenSemicolon, TokenSlash, TokenStar,
		TokenColon, TokenEOF,
	}

	l := New(input)
	for i, want := range expected {
		tok := l.NextToken()
		if tok.Type != want {
			t.Errorf("token %d: expected %v, got %v (%q)", i, want, tok.Type, tok.Lexeme)
		}
	}
}

func TestOneOrTwoCharacterTokens(t *testing.T) {
	tests := []struct {
		input    string
		expected TokenType
	}{
		{"!", TokenBang},
		{"!=", TokenBangEqual},
		{"=", TokenEqual},
		{"==", TokenEqualEqual},
		{"<", TokenLess},
		{"<=", TokenLessEqual},
		{">", TokenGreater},
		{">=", TokenGreaterEqual},
	}

	for _, tt := range tests {
		l := New(tt.input)
		tok := l.NextToken()
		if tok.Type != tt.expected {
			t.Errorf("for %q: expected %v, got %v", tt.input, tt.expected, tok.Type)
		}
		if tok.Lexeme != tt.input {
			t.Errorf("for %q: expected lexeme %q, got %q", tt.input, tt.input, tok.Lexeme)
		}
	}
}

func TestKeywords(t *testing.T) {
	tests := []struct {
		input    string
		expected TokenType
	}{
		{"and", TokenAnd},
		{"class", TokenClass},
		{"else", TokenElse},
		{"false", TokenFalse},
		{"for", TokenFor},
		{"fun", TokenFun},
		{"if", TokenIf},
		{"nil", TokenNil},
		{"or", TokenOr},
		{"print", TokenPrint},
		{"return", TokenReturn},
		{"super", TokenSuper},
		{"this", TokenThis},
		{"true", TokenTrue},
		{"var", TokenVar},
		{"while", TokenWhile},
	}

	for _, tt := range tests {
		l := New(tt.input)
		tok := l.NextToken()
		if tok.Type != tt.expected {
			t.Errorf("for %q: expected %v, got %v", tt.input, tt.expected, tok.Type)
		}
	}
}

func TestKeywordPrefixesAreIdentifiers(t *testing.T) {
	for _, input := range []string{"an", "classy", "fortune", "superb", "thistle", "variable", "_"} {
		l := New(input)
		tok := l.NextToken()
		if tok.Type != TokenIdentifier {
			t.Errorf("for %q: expected IDENTIFIER, got %v", input, tok.Type)
		}
	}
}

func TestNumbers(t *testing.T) {
	tests := []struct {
		input  string
		lexeme string
	}{
		{"42", "42"},
		{"3.14", "3.14"},
		{"0", "0"},
		{"123.456", "123.456"},
	}

	for _, tt := range tests {
		l := New(tt.input)
		tok := l.NextToken()
		if tok.Type != TokenNumber {
			t.Fatalf("for %q: expected NUMBER, got %v", tt.input, tok.Type)
		}
		if tok.Lexeme != tt.lexeme {
			t.Errorf("for %q: expected lexeme %q, got %q", tt.input, tt.lexeme, tok.Lexeme)
		}
	}
}

func TestNumberDoesNotEatTrailingDot(t *testing.T) {
	l := New("1.foo")
	if tok := l.NextToken(); tok.Type != TokenNumber || tok.Lexeme != "1" {
		t.Fatalf("expected NUMBER '1', got %v %q", tok.Type, tok.Lexeme)
	}
	if tok := l.NextToken(); tok.Type != TokenDot {
		t.Fatalf("expected DOT, got %v", tok.Type)
	}
	if tok := l.NextToken(); tok.Type != TokenIdentifier {
		t.Fatalf("expected IDENTIFIER, got %v", tok.Type)
	}
}

func TestStringLiteral(t *testing.T) {
	l := New(`"hello world"`)
	tok := l.NextToken()
	if tok.Type != TokenString {
		t.Fatalf("expected STRING, got %v", tok.Type)
	}
	if tok.Lexeme != `"hello world"` {
		t.Errorf("expected quoted lexeme, got %q", tok.Lexeme)
	}
}

func TestMultiLineString(t *testing.T) {
	l := New("\"line one\nline two\" 42")
	tok := l.NextToken()
	if tok.Type != TokenString {
		t.Fatalf("expected STRING, got %v", tok.Type)
	}
	next := l.NextToken()
	if next.Type != TokenNumber {
		t.Fatalf("expected NUMBER after string, got %v", next.Type)
	}
	if next.Line != 2 {
		t.Errorf("expected number on line 2, got %d", next.Line)
	}
}

func TestUnterminatedString(t *testing.T) {
	l := New(`"no closing quote`)
	tok := l.NextToken()
	if tok.Type != TokenError {
		t.Fatalf("expected ERROR, got %v", tok.Type)
	}
	if tok.Lexeme != "Unterminated string." {
		t.Errorf("expected unterminated string message, got %q", tok.Lexeme)
	}
}

func TestUnexpectedCharacter(t *testing.T) {
	l := New("@")
	tok := l.NextToken()
	if tok.Type != TokenError {
		t.Fatalf("expected ERROR, got %v", tok.Type)
	}
	if tok.Lexeme != "Unexpected character: @" {
		t.Errorf("unexpected message %q", tok.Lexeme)
	}
}

func TestLineComments(t *testing.T) {
	input := "// a comment\n42 // trailing\n// last"
	l := New(input)

	tok := l.NextToken()
	if tok.Type != TokenNumber || tok.Line != 2 {
		t.Fatalf("expected NUMBER on line 2, got %v on line %d", tok.Type, tok.Line)
	}
	if tok = l.NextToken(); tok.Type != TokenEOF {
		t.Fatalf("expected EOF, got %v", tok.Type)
	}
}

func TestLineTracking(t *testing.T) {
	input := "one\ntwo\n\nthree"
	l := New(input)

	lines := []int{1, 2, 4}
	for i, want := range lines {
		tok := l.NextToken()
		if tok.Line != want {
			t.Errorf("token %d: expected line %d, got %d", i, want, tok.Line)
		}
	}
}

func TestTokenizeCollectsErrors(t *testing.T) {
	tokens := New("1 @ 2 # 3").Tokenize()

	errorCount := 0
	for _, tok := range tokens {
		if tok.Type == TokenError {
			errorCount++
		}
	}
	if errorCount != 2 {
		t.Errorf("expected 2 error tokens, got %d", errorCount)
	}
	if tokens[len(tokens)-1].Type != TokenEOF {
		t.Errorf("expected EOF terminator")
	}
}

func TestStatementTokenStream(t *testing.T) {
	input := `var answer = 42; print answer;`
	expected := []TokenType{
		TokenVar, TokenIdentifier, TokenEqual, TokenNumber, TokenSemicolon,
		TokenPrint, TokenIdentifier, TokenSemicolon, TokenEOF,
	}

	l := New(input)
	for i, want := range expected {
		tok := l.NextToken()
		if tok.Type != want {
			t.Errorf("token %d: expected %v, got %v", i, want, tok.Type)
		}
	}
}
