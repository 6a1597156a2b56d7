package parser

import (
	"strings"
	"testing"

	"github.com/kristofer/lox/pkg/ast"
)

func parseToString(t *testing.T, source string) string {
	t.Helper()
	expr, err := New(source).Parse()
	if err != nil {
		t.Fatalf("parse of %q failed: %v", source, err)
	}
	return ast.Print(expr)
}

func TestParseExpressions(t *testing.T) {
	tests := []struct {
		source   string
		expected string
	}{
		{"1 + 2", "(+ 1.0 2.0)"},
		{"1 + 2 * 3", "(+ 1.0 (* 2.0 3.0))"},
		{"(1 + 2) * 3", "(* (group (+ 1.0 2.0)) 3.0)"},
		{"-5", "(- 5.0)"},
		{"!true", "(! true)"},
		{"!!false", "(! (! false))"},
		{"1 < 2 == true", "(== (< 1.0 2.0) true)"},
		{"nil", "nil"},
		{`"hello"`, "hello"},
		{"3.25", "3.25"},
		{"1 - 2 - 3", "(- (- 1.0 2.0) 3.0)"},
		{"1 != 2", "(!= 1.0 2.0)"},
		{"4 >= 3", "(>= 4.0 3.0)"},
	}

	for _, tt := range tests {
		if got := parseToString(t, tt.source); got != tt.expected {
			t.Errorf("parse(%q) printed %q, want %q", tt.source, got, tt.expected)
		}
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		source  string
		message string
	}{
		{"", "Unexpected end of input."},
		{"(1 + 2", "Expect ')' after expression."},
		{"+", "Expect expression."},
		{"1 +", "Unexpected end of input."},
	}

	for _, tt := range tests {
		_, err := New(tt.source).Parse()
		if err == nil {
			t.Errorf("parse(%q) should fail", tt.source)
			continue
		}
		if !strings.Contains(err.Error(), tt.message) {
			t.Errorf("parse(%q) error %q should contain %q", tt.source, err, tt.message)
		}
	}
}

func TestParseErrorFormat(t *testing.T) {
	_, err := New("(1").Parse()
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "[line 1] Error at end:") {
		t.Errorf("error %q should carry line and position", err)
	}
}
