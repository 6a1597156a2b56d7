// Package ast defines the expression tree produced by the standalone
// expression parser and its parenthesized printer. The bytecode compiler
// does not build this tree; it exists for the parse subcommand, which
// prints expressions in a lisp-like form for inspection.
package ast

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/kristofer/lox/pkg/lexer"
)

// Expr is an expression node
type Expr interface {
	expr()
}

// Binary is an infix operator application
type Binary struct {
	Operator lexer.Token
	Left     Expr
	Right    Expr
}

// Unary is a prefix operator application
type Unary struct {
	Operator lexer.Token
	Right    Expr
}

// Grouping is a parenthesized expression
type Grouping struct {
	Expression Expr
}

// Literal is a number, string, boolean, or nil literal carrying its token
type Literal struct {
	Token lexer.Token
}

func (*Binary) expr()   {}
func (*Unary) expr()    {}
func (*Grouping) expr() {}
func (*Literal) expr()  {}

// Print renders an expression in parenthesized prefix form:
//
//	1 + 2 * 3   ->   (+ 1.0 (* 2.0 3.0))
//
// Number literals with integer values print with one decimal place, the
// convention the tokenizer output shares.
func Print(e Expr) string {
	var b strings.Builder
	printExpr(&b, e)
	return b.String()
}

func printExpr(b *strings.Builder, e Expr) {
	switch e := e.(type) {
	case *Literal:
		printLiteral(b, e.Token)
	case *Binary:
		fmt.Fprintf(b, "(%s ", e.Operator.Lexeme)
		printExpr(b, e.Left)
		b.WriteByte(' ')
		printExpr(b, e.Right)
		b.WriteByte(')')
	case *Unary:
		fmt.Fprintf(b, "(%s ", e.Operator.Lexeme)
		printExpr(b, e.Right)
		b.WriteByte(')')
	case *Grouping:
		b.WriteString("(group ")
		printExpr(b, e.Expression)
		b.WriteByte(')')
	}
}

func printLiteral(b *strings.Builder, tok lexer.Token) {
	switch tok.Type {
	case lexer.TokenNumber:
		value, _ := strconv.ParseFloat(tok.Lexeme, 64)
		b.WriteString(FormatNumberLiteral(value))
	case lexer.TokenString:
		// Strip the surrounding quotes.
		b.WriteString(tok.Lexeme[1 : len(tok.Lexeme)-1])
	default:
		b.WriteString(tok.Lexeme)
	}
}

// FormatNumberLiteral renders a number the way the tokenize and parse
// subcommands present literals: integer values with a trailing .0,
// everything else in shortest form.
func FormatNumberLiteral(value float64) string {
	if value == float64(int64(value)) {
		return strconv.FormatFloat(value, 'f', 1, 64)
	}
	return strconv.FormatFloat(value, 'g', -1, 64)
}
