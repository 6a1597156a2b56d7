// Package parser implements a recursive-descent parser for lox expressions,
// producing the ast package's tree. It serves the parse subcommand; the
// bytecode compiler parses on its own, emitting code directly.
package parser

import (
	"fmt"

	"github.com/kristofer/lox/pkg/ast"
	"github.com/kristofer/lox/pkg/lexer"
)

// Parser holds the token cursor for one parse
type Parser struct {
	lexer    *lexer.Lexer
	current  lexer.Token
	previous lexer.Token
	errors   []string
}

// New creates a parser over the given source
func New(source string) *Parser {
	return &Parser{lexer: lexer.New(source)}
}

// Parse parses a single expression. On failure it returns an error whose
// message is the first diagnostic; Errors exposes the rest.
func (p *Parser) Parse() (ast.Expr, error) {
	p.advance()
	expr := p.equality()
	if len(p.errors) > 0 {
		return nil, fmt.Errorf("%s", p.errors[0])
	}
	return expr, nil
}

// Errors returns every diagnostic collected during the parse
func (p *Parser) Errors() []string {
	return p.errors
}

// equality -> comparison ( ( "!=" | "==" ) comparison )*
func (p *Parser) equality() ast.Expr {
	expr := p.comparison()
	for p.match(lexer.TokenBangEqual) || p.match(lexer.TokenEqualEqual) {
		operator := p.previous
		right := p.comparison()
		expr = &ast.Binary{Operator: operator, Left: expr, Right: right}
	}
	return expr
}

// comparison -> term ( ( ">" | ">=" | "<" | "<=" ) term )*
func (p *Parser) comparison() ast.Expr {
	expr := p.term()
	for p.match(lexer.TokenGreater) || p.match(lexer.TokenGreaterEqual) ||
		p.match(lexer.TokenLess) || p.match(lexer.TokenLessEqual) {
		operator := p.previous
		right := p.term()
		expr = &ast.Binary{Operator: operator, Left: expr, Right: right}
	}
	return expr
}

// term -> factor ( ( "-" | "+" ) factor )*
func (p *Parser) term() ast.Expr {
	expr := p.factor()
	for p.match(lexer.TokenMinus) || p.match(lexer.TokenPlus) {
		operator := p.previous
		right := p.factor()
		expr = &ast.Binary{Operator: operator, Left: expr, Right: right}
	}
	return expr
}

// factor -> unary ( ( "/" | "*" ) unary )*
func (p *Parser) factor() ast.Expr {
	expr := p.unary()
	for p.match(lexer.TokenSlash) || p.match(lexer.TokenStar) {
		operator := p.previous
		right := p.unary()
		expr = &ast.Binary{Operator: operator, Left: expr, Right: right}
	}
	return expr
}

// unary -> ( "!" | "-" ) unary | primary
func (p *Parser) unary() ast.Expr {
	if p.match(lexer.TokenBang) || p.match(lexer.TokenMinus) {
		operator := p.previous
		right := p.unary()
		return &ast.Unary{Operator: operator, Right: right}
	}
	return p.primary()
}

func (p *Parser) primary() ast.Expr {
	if p.current.Type == lexer.TokenEOF {
		p.errorAtCurrent("Unexpected end of input.")
		return nil
	}

	if p.match(lexer.TokenTrue) || p.match(lexer.TokenFalse) ||
		p.match(lexer.TokenNil) || p.match(lexer.TokenNumber) ||
		p.match(lexer.TokenString) {
		return &ast.Literal{Token: p.previous}
	}

	if p.match(lexer.TokenLeftParen) {
		expr := p.equality()
		p.consume(lexer.TokenRightParen, "Expect ')' after expression.")
		return &ast.Grouping{Expression: expr}
	}

	p.errorAtCurrent("Expect expression.")
	return nil
}

func (p *Parser) advance() {
	p.previous = p.current
	for {
		p.current = p.lexer.NextToken()
		if p.current.Type != lexer.TokenError {
			break
		}
		p.errorAtCurrent(p.current.Lexeme)
	}
}

func (p *Parser) match(t lexer.TokenType) bool {
	if p.current.Type != t {
		return false
	}
	p.advance()
	return true
}

func (p *Parser) consume(t lexer.TokenType, message string) {
	if p.current.Type == t {
		p.advance()
		return
	}
	p.errorAtCurrent(message)
}

func (p *Parser) errorAtCurrent(message string) {
	where := fmt.Sprintf("at '%s'", p.current.Lexeme)
	if p.current.Type == lexer.TokenEOF {
		where = "at end"
	}
	p.errors = append(p.errors,
		fmt.Sprintf("[line %d] Error %s: %s", p.current.Line, where, message))
}
