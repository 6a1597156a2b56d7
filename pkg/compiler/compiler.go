// Package compiler compiles lox source into bytecode in a single pass.
//
// There is no AST: a Pratt parser walks the token stream and emits
// instructions into the current function's chunk as it goes. Each function
// being compiled gets its own compiler frame; frames link through
// enclosing pointers so name resolution can walk outward, turning outer
// locals into upvalues on the way back in.
package compiler

import (
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/kristofer/lox/pkg/bytecode"
	"github.com/kristofer/lox/pkg/lexer"
)

// ErrCompile is returned when compilation finished with diagnostics. The
// diagnostics themselves stream to the writer passed to Compile.
var ErrCompile = errors.New("compile error")

const (
	maxLocals    = 256
	maxUpvalues  = 256
	maxConstants = 256
	maxArity     = 255
	maxJump      = 0xffff
)

// Precedence levels from loosest to tightest binding.
type precedence int

const (
	precNone       precedence = iota
	precAssignment            // =
	precOr                    // or
	precAnd                   // and
	precEquality              // == !=
	precComparison            // < > <= >=
	precTerm                  // + -
	precFactor                // * /
	precUnary                 // ! -
	precCall                  // . () []
	precPrimary
)

type parseFn func(s *state, canAssign bool)

type parseRule struct {
	prefix parseFn
	infix  parseFn
	prec   precedence
}

// rules is the Pratt table indexed by token type. Filled in by init to
// break the initialization cycle between the table and the handlers that
// recurse through it.
var rules [lexer.TokenEOF + 1]parseRule

func init() {
	rules[lexer.TokenLeftParen] = parseRule{(*state).grouping, (*state).call, precCall}
	rules[lexer.TokenLeftBrace] = parseRule{(*state).mapLiteral, nil, precNone}
	rules[lexer.TokenLeftBracket] = parseRule{(*state).listLiteral, (*state).index, precCall}
	rules[lexer.TokenDot] = parseRule{nil, (*state).dot, precCall}
	rules[lexer.TokenMinus] = parseRule{(*state).unary, (*state).binary, precTerm}
	rules[lexer.TokenPlus] = parseRule{nil, (*state).binary, precTerm}
	rules[lexer.TokenSlash] = parseRule{nil, (*state).binary, precFactor}
	rules[lexer.TokenStar] = parseRule{nil, (*state).binary, precFactor}
	rules[lexer.TokenBang] = parseRule{(*state).unary, nil, precNone}
	rules[lexer.TokenBangEqual] = parseRule{nil, (*state).binary, precEquality}
	rules[lexer.TokenEqualEqual] = parseRule{nil, (*state).binary, precEquality}
	rules[lexer.TokenGreater] = parseRule{nil, (*state).binary, precComparison}
	rules[lexer.TokenGreaterEqual] = parseRule{nil, (*state).binary, precComparison}
	rules[lexer.TokenLess] = parseRule{nil, (*state).binary, precComparison}
	rules[lexer.TokenLessEqual] = parseRule{nil, (*state).binary, precComparison}
	rules[lexer.TokenIdentifier] = parseRule{(*state).variable, nil, precNone}
	rules[lexer.TokenString] = parseRule{(*state).stringLiteral, nil, precNone}
	rules[lexer.TokenNumber] = parseRule{(*state).number, nil, precNone}
	rules[lexer.TokenAnd] = parseRule{nil, (*state).and, precAnd}
	rules[lexer.TokenOr] = parseRule{nil, (*state).or, precOr}
	rules[lexer.TokenFalse] = parseRule{(*state).literal, nil, precNone}
	rules[lexer.TokenNil] = parseRule{(*state).literal, nil, precNone}
	rules[lexer.TokenTrue] = parseRule{(*state).literal, nil, precNone}
	rules[lexer.TokenSuper] = parseRule{(*state).super, nil, precNone}
	rules[lexer.TokenThis] = parseRule{(*state).this, nil, precNone}
}

// functionType distinguishes the compile targets that change how slot 0
// and return statements behave.
type functionType int

const (
	typeFunction functionType = iota
	typeInitializer
	typeMethod
	typeScript
)

// local is a declared local variable. depth stays -1 until the
// initializer completes, which is what rejects `var a = a;`.
type local struct {
	name       lexer.Token
	depth      int
	isCaptured bool
}

// upvalue is a capture descriptor: a slot index in the enclosing function
// (isLocal) or an index into the enclosing function's own upvalues.
type upvalue struct {
	index   byte
	isLocal bool
}

// compiler is the per-function compile frame.
type compiler struct {
	enclosing  *compiler
	function   *bytecode.Function
	fnType     functionType
	locals     [maxLocals]local
	localCount int
	upvalues   [maxUpvalues]upvalue
	scopeDepth int
}

// classCompiler tracks the innermost class declaration so this/super know
// where they are.
type classCompiler struct {
	enclosing     *classCompiler
	hasSuperclass bool
}

// state is one compilation: the token cursor, the compiler frame chain,
// and the heap receiving functions and string constants.
type state struct {
	lexer        *lexer.Lexer
	current      lexer.Token
	previous     lexer.Token
	hadError     bool
	panicMode    bool
	errOut       io.Writer
	heap         *bytecode.Heap
	compiler     *compiler
	currentClass *classCompiler
}

// MarkRoots keeps compile-time allocations alive across collections that
// trigger mid-compile: every function on the compiler chain is a root.
func (s *state) MarkRoots(h *bytecode.Heap) {
	for c := s.compiler; c != nil; c = c.enclosing {
		// A frame being set up has no function until NewFunction returns.
		if c.function != nil {
			h.MarkObject(c.function)
		}
	}
}

// Compile compiles a script. Diagnostics stream to errOut; if any were
// produced the function is discarded and ErrCompile returned.
func Compile(source string, heap *bytecode.Heap, errOut io.Writer) (*bytecode.Function, error) {
	s := newState(source, heap, errOut)
	defer heap.RemoveRootSource(s)

	s.advance()
	for !s.match(lexer.TokenEOF) {
		s.declaration()
	}

	function := s.endCompiler()
	if s.hadError {
		return nil, ErrCompile
	}
	return function, nil
}

// CompileExpression compiles a single expression and wraps it so running
// the result prints its value. This is the evaluate subcommand's entry.
func CompileExpression(source string, heap *bytecode.Heap, errOut io.Writer) (*bytecode.Function, error) {
	s := newState(source, heap, errOut)
	defer heap.RemoveRootSource(s)

	s.advance()
	s.expression()
	s.consume(lexer.TokenEOF, "Expect end of expression.")
	s.emitByte(byte(bytecode.OpPrint))

	function := s.endCompiler()
	if s.hadError {
		return nil, ErrCompile
	}
	return function, nil
}

func newState(source string, heap *bytecode.Heap, errOut io.Writer) *state {
	s := &state{
		lexer:  lexer.New(source),
		errOut: errOut,
		heap:   heap,
	}
	heap.AddRootSource(s)
	s.initCompiler(&compiler{}, typeScript)
	return s
}

// initCompiler pushes a fresh compile frame and reserves stack slot 0:
// methods use it for this, plain functions leave it unnamed.
func (s *state) initCompiler(c *compiler, fnType functionType) {
	c.enclosing = s.compiler
	c.fnType = fnType
	s.compiler = c
	c.function = s.heap.NewFunction()
	if fnType != typeScript {
		c.function.Name = s.heap.CopyString(s.previous.Lexeme)
	}

	slotZero := &c.locals[c.localCount]
	c.localCount++
	slotZero.depth = 0
	if fnType != typeFunction {
		slotZero.name = lexer.Token{Type: lexer.TokenThis, Lexeme: "this"}
	}
}

func (s *state) endCompiler() *bytecode.Function {
	s.emitReturn()
	function := s.compiler.function
	s.compiler = s.compiler.enclosing
	return function
}

func (s *state) currentChunk() *bytecode.Chunk {
	return s.compiler.function.Chunk
}

// ---- error reporting ----

func (s *state) errorAt(token lexer.Token, message string) {
	if s.panicMode {
		return
	}
	s.panicMode = true
	fmt.Fprintf(s.errOut, "[line %d] Error", token.Line)
	switch token.Type {
	case lexer.TokenEOF:
		fmt.Fprintf(s.errOut, " at end")
	case lexer.TokenError:
		// the lexeme is the message itself, not source text
	default:
		fmt.Fprintf(s.errOut, " at '%s'", token.Lexeme)
	}
	fmt.Fprintf(s.errOut, ": %s\n", message)
	s.hadError = true
}

func (s *state) error(message string) {
	s.errorAt(s.previous, message)
}

func (s *state) errorAtCurrent(message string) {
	s.errorAt(s.current, message)
}

// synchronize skips tokens until a statement boundary so one mistake does
// not cascade into a page of diagnostics.
func (s *state) synchronize() {
	s.panicMode = false
	for s.current.Type != lexer.TokenEOF {
		if s.previous.Type == lexer.TokenSemicolon {
			return
		}
		switch s.current.Type {
		case lexer.TokenClass, lexer.TokenFun, lexer.TokenVar, lexer.TokenFor,
			lexer.TokenIf, lexer.TokenWhile, lexer.TokenPrint, lexer.TokenReturn:
			return
		}
		s.advance()
	}
}

// ---- token cursor ----

func (s *state) advance() {
	s.previous = s.current
	for {
		s.current = s.lexer.NextToken()
		if s.current.Type != lexer.TokenError {
			break
		}
		s.errorAtCurrent(s.current.Lexeme)
	}
}

func (s *state) consume(t lexer.TokenType, message string) {
	if s.current.Type == t {
		s.advance()
		return
	}
	s.errorAtCurrent(message)
}

func (s *state) check(t lexer.TokenType) bool {
	return s.current.Type == t
}

func (s *state) match(t lexer.TokenType) bool {
	if !s.check(t) {
		return false
	}
	s.advance()
	return true
}

// ---- emitting ----

func (s *state) emitByte(b byte) {
	s.currentChunk().Write(b, s.previous.Line)
}

func (s *state) emitBytes(b1, b2 byte) {
	s.emitByte(b1)
	s.emitByte(b2)
}

func (s *state) emitOp(op bytecode.Opcode) {
	s.emitByte(byte(op))
}

func (s *state) emitReturn() {
	if s.compiler.fnType == typeInitializer {
		// init returns its receiver
		s.emitBytes(byte(bytecode.OpGetLocal), 0)
	} else {
		s.emitOp(bytecode.OpNil)
	}
	s.emitOp(bytecode.OpReturn)
}

// emitJump writes a forward jump with a placeholder offset and returns the
// position to patch.
func (s *state) emitJump(op bytecode.Opcode) int {
	s.emitOp(op)
	s.emitByte(0xff)
	s.emitByte(0xff)
	return len(s.currentChunk().Code) - 2
}

func (s *state) patchJump(offset int) {
	// -2 adjusts for the offset bytes themselves.
	jump := len(s.currentChunk().Code) - offset - 2
	if jump > maxJump {
		s.error("Too much code to jump over.")
	}
	s.currentChunk().Code[offset] = byte(jump >> 8)
	s.currentChunk().Code[offset+1] = byte(jump)
}

func (s *state) emitLoop(loopStart int) {
	s.emitOp(bytecode.OpLoop)
	offset := len(s.currentChunk().Code) - loopStart + 2
	if offset > maxJump {
		s.error("Loop body too large.")
	}
	s.emitByte(byte(offset >> 8))
	s.emitByte(byte(offset))
}

func (s *state) makeConstant(value bytecode.Value) byte {
	s.heap.PushTempRoot(value)
	constant := s.currentChunk().AddConstant(value)
	s.heap.PopTempRoot()
	if constant >= maxConstants {
		s.error("Too many constants in one chunk.")
		return 0
	}
	return byte(constant)
}

func (s *state) emitConstant(value bytecode.Value) {
	s.emitBytes(byte(bytecode.OpConstant), s.makeConstant(value))
}

// identifierConstant interns an identifier's name and stashes it in the
// constant pool.
func (s *state) identifierConstant(name lexer.Token) byte {
	return s.makeConstant(bytecode.ObjVal(s.heap.CopyString(name.Lexeme)))
}

// ---- scope and variable resolution ----

func (s *state) beginScope() {
	s.compiler.scopeDepth++
}

// endScope pops the scope's locals, closing over any that were captured.
func (s *state) endScope() {
	c := s.compiler
	c.scopeDepth--
	for c.localCount > 0 && c.locals[c.localCount-1].depth > c.scopeDepth {
		if c.locals[c.localCount-1].isCaptured {
			s.emitOp(bytecode.OpCloseUpvalue)
		} else {
			s.emitOp(bytecode.OpPop)
		}
		c.localCount--
	}
}

func identifiersEqual(a, b lexer.Token) bool {
	return a.Lexeme == b.Lexeme
}

// resolveLocal finds a name in the current function's locals, returning
// its slot or -1.
func (s *state) resolveLocal(c *compiler, name lexer.Token) int {
	for i := c.localCount - 1; i >= 0; i-- {
		l := &c.locals[i]
		if identifiersEqual(name, l.name) {
			if l.depth == -1 {
				s.error("Can't read local variable in its own initializer.")
			}
			return i
		}
	}
	return -1
}

// addUpvalue records a capture descriptor, deduplicating repeats.
func (s *state) addUpvalue(c *compiler, index byte, isLocal bool) int {
	upvalueCount := c.function.UpvalueCount
	for i := 0; i < upvalueCount; i++ {
		uv := &c.upvalues[i]
		if uv.index == index && uv.isLocal == isLocal {
			return i
		}
	}

	if upvalueCount == maxUpvalues {
		s.error("Too many closure variables in function.")
		return 0
	}

	c.upvalues[upvalueCount] = upvalue{index: index, isLocal: isLocal}
	c.function.UpvalueCount++
	return upvalueCount
}

// resolveUpvalue walks the enclosing compiler chain. A hit in the
// immediately enclosing function captures that local; anything further out
// recurses, threading the descriptor down one function at a time.
func (s *state) resolveUpvalue(c *compiler, name lexer.Token) int {
	if c.enclosing == nil {
		return -1
	}

	if localSlot := s.resolveLocal(c.enclosing, name); localSlot != -1 {
		c.enclosing.locals[localSlot].isCaptured = true
		return s.addUpvalue(c, byte(localSlot), true)
	}

	if upvalueSlot := s.resolveUpvalue(c.enclosing, name); upvalueSlot != -1 {
		return s.addUpvalue(c, byte(upvalueSlot), false)
	}

	return -1
}

func (s *state) addLocal(name lexer.Token) {
	c := s.compiler
	if c.localCount == maxLocals {
		s.error("Too many local variables in function.")
		return
	}
	l := &c.locals[c.localCount]
	c.localCount++
	l.name = name
	l.depth = -1
	l.isCaptured = false
}

// declareVariable registers a local in the current scope; globals are
// late-bound by name and need no declaration.
func (s *state) declareVariable() {
	c := s.compiler
	if c.scopeDepth == 0 {
		return
	}

	name := s.previous
	for i := c.localCount - 1; i >= 0; i-- {
		l := &c.locals[i]
		if l.depth != -1 && l.depth < c.scopeDepth {
			break
		}
		if identifiersEqual(name, l.name) {
			s.error("Already a variable with this name in this scope.")
		}
	}
	s.addLocal(name)
}

func (s *state) parseVariable(errorMessage string) byte {
	s.consume(lexer.TokenIdentifier, errorMessage)
	s.declareVariable()
	if s.compiler.scopeDepth > 0 {
		return 0
	}
	return s.identifierConstant(s.previous)
}

func (s *state) markInitialized() {
	c := s.compiler
	if c.scopeDepth == 0 {
		return
	}
	c.locals[c.localCount-1].depth = c.scopeDepth
}

func (s *state) defineVariable(global byte) {
	if s.compiler.scopeDepth > 0 {
		s.markInitialized()
		return
	}
	s.emitBytes(byte(bytecode.OpDefineGlobal), global)
}

// namedVariable emits the right get or set for a name: local slot,
// upvalue, or global by interned name.
func (s *state) namedVariable(name lexer.Token, canAssign bool) {
	var getOp, setOp bytecode.Opcode
	arg := s.resolveLocal(s.compiler, name)
	switch {
	case arg != -1:
		getOp = bytecode.OpGetLocal
		setOp = bytecode.OpSetLocal
	default:
		if arg = s.resolveUpvalue(s.compiler, name); arg != -1 {
			getOp = bytecode.OpGetUpvalue
			setOp = bytecode.OpSetUpvalue
		} else {
			arg = int(s.identifierConstant(name))
			getOp = bytecode.OpGetGlobal
			setOp = bytecode.OpSetGlobal
		}
	}

	if canAssign && s.match(lexer.TokenEqual) {
		s.expression()
		s.emitBytes(byte(setOp), byte(arg))
	} else {
		s.emitBytes(byte(getOp), byte(arg))
	}
}

func syntheticToken(text string) lexer.Token {
	return lexer.Token{Type: lexer.TokenIdentifier, Lexeme: text}
}

// ---- expressions ----

func (s *state) expression() {
	s.parsePrecedence(precAssignment)
}

// parsePrecedence is the Pratt core: one prefix handler, then infix
// handlers while the next operator binds at least as tightly. canAssign
// flows to handlers so only real l-values accept '='.
func (s *state) parsePrecedence(prec precedence) {
	s.advance()
	prefix := rules[s.previous.Type].prefix
	if prefix == nil {
		s.error("Expect expression.")
		return
	}

	canAssign := prec <= precAssignment
	prefix(s, canAssign)

	for prec <= rules[s.current.Type].prec {
		s.advance()
		infix := rules[s.previous.Type].infix
		infix(s, canAssign)
	}

	if canAssign && s.match(lexer.TokenEqual) {
		s.error("Invalid assignment target.")
	}
}

func (s *state) grouping(canAssign bool) {
	s.expression()
	s.consume(lexer.TokenRightParen, "Expect ')' after expression.")
}

func (s *state) number(canAssign bool) {
	value, _ := strconv.ParseFloat(s.previous.Lexeme, 64)
	s.emitConstant(bytecode.NumberVal(value))
}

func (s *state) stringLiteral(canAssign bool) {
	lexeme := s.previous.Lexeme
	chars := lexeme[1 : len(lexeme)-1] // strip quotes
	s.emitConstant(bytecode.ObjVal(s.heap.CopyString(chars)))
}

func (s *state) literal(canAssign bool) {
	switch s.previous.Type {
	case lexer.TokenFalse:
		s.emitOp(bytecode.OpFalse)
	case lexer.TokenNil:
		s.emitOp(bytecode.OpNil)
	case lexer.TokenTrue:
		s.emitOp(bytecode.OpTrue)
	}
}

func (s *state) variable(canAssign bool) {
	s.namedVariable(s.previous, canAssign)
}

func (s *state) unary(canAssign bool) {
	operatorType := s.previous.Type
	s.parsePrecedence(precUnary)
	switch operatorType {
	case lexer.TokenBang:
		s.emitOp(bytecode.OpNot)
	case lexer.TokenMinus:
		s.emitOp(bytecode.OpNegate)
	}
}

func (s *state) binary(canAssign bool) {
	operatorType := s.previous.Type
	rule := rules[operatorType]
	s.parsePrecedence(rule.prec + 1)

	switch operatorType {
	case lexer.TokenBangEqual:
		s.emitOp(bytecode.OpEqual)
		s.emitOp(bytecode.OpNot)
	case lexer.TokenEqualEqual:
		s.emitOp(bytecode.OpEqual)
	case lexer.TokenGreater:
		s.emitOp(bytecode.OpGreater)
	case lexer.TokenGreaterEqual:
		s.emitOp(bytecode.OpLess)
		s.emitOp(bytecode.OpNot)
	case lexer.TokenLess:
		s.emitOp(bytecode.OpLess)
	case lexer.TokenLessEqual:
		s.emitOp(bytecode.OpGreater)
		s.emitOp(bytecode.OpNot)
	case lexer.TokenPlus:
		s.emitOp(bytecode.OpAdd)
	case lexer.TokenMinus:
		s.emitOp(bytecode.OpSubtract)
	case lexer.TokenStar:
		s.emitOp(bytecode.OpMultiply)
	case lexer.TokenSlash:
		s.emitOp(bytecode.OpDivide)
	}
}

// and short-circuits: if the left operand is falsy it is the result and
// the right side is skipped entirely.
func (s *state) and(canAssign bool) {
	endJump := s.emitJump(bytecode.OpJumpIfFalse)
	s.emitOp(bytecode.OpPop)
	s.parsePrecedence(precAnd)
	s.patchJump(endJump)
}

func (s *state) or(canAssign bool) {
	elseJump := s.emitJump(bytecode.OpJumpIfFalse)
	endJump := s.emitJump(bytecode.OpJump)
	s.patchJump(elseJump)
	s.emitOp(bytecode.OpPop)
	s.parsePrecedence(precOr)
	s.patchJump(endJump)
}

func (s *state) call(canAssign bool) {
	argCount := s.argumentList()
	s.emitBytes(byte(bytecode.OpCall), argCount)
}

// dot compiles property access, assignment, or — when a call follows
// immediately — a fused method invocation.
func (s *state) dot(canAssign bool) {
	s.consume(lexer.TokenIdentifier, "Expect property name after '.'.")
	name := s.identifierConstant(s.previous)

	switch {
	case canAssign && s.match(lexer.TokenEqual):
		s.expression()
		s.emitBytes(byte(bytecode.OpSetProperty), name)
	case s.match(lexer.TokenLeftParen):
		argCount := s.argumentList()
		s.emitBytes(byte(bytecode.OpInvoke), name)
		s.emitByte(argCount)
	default:
		s.emitBytes(byte(bytecode.OpGetProperty), name)
	}
}

// index compiles the subscript operator for lists and maps.
func (s *state) index(canAssign bool) {
	s.expression()
	s.consume(lexer.TokenRightBracket, "Expect ']' after index.")

	if canAssign && s.match(lexer.TokenEqual) {
		s.expression()
		s.emitOp(bytecode.OpSetIndex)
	} else {
		s.emitOp(bytecode.OpGetIndex)
	}
}

// listLiteral compiles [a, b, ...]: an empty list followed by one
// LIST_DATA per element, so the list under construction stays rooted on
// the stack the whole time.
func (s *state) listLiteral(canAssign bool) {
	s.emitOp(bytecode.OpListInit)
	if !s.check(lexer.TokenRightBracket) {
		for {
			s.expression()
			s.emitOp(bytecode.OpListData)
			if !s.match(lexer.TokenComma) {
				break
			}
		}
	}
	s.consume(lexer.TokenRightBracket, "Expect ']' after list elements.")
}

// mapLiteral compiles {key: value, ...} in expression position.
func (s *state) mapLiteral(canAssign bool) {
	s.emitOp(bytecode.OpMapInit)
	if !s.check(lexer.TokenRightBrace) {
		for {
			s.expression()
			s.consume(lexer.TokenColon, "Expect ':' after map key.")
			s.expression()
			s.emitOp(bytecode.OpMapData)
			if !s.match(lexer.TokenComma) {
				break
			}
		}
	}
	s.consume(lexer.TokenRightBrace, "Expect '}' after map entries.")
}

func (s *state) this(canAssign bool) {
	if s.currentClass == nil {
		s.error("Can't use 'this' outside of a class.")
		return
	}
	s.variable(false)
}

// super compiles super.m and super.m(...). The receiver and the
// superclass both load from the synthesized 'this' and 'super' locals the
// class declaration set up, so resolution is lexical, not dynamic.
func (s *state) super(canAssign bool) {
	if s.currentClass == nil {
		s.error("Can't use 'super' outside of a class.")
	} else if !s.currentClass.hasSuperclass {
		s.error("Can't use 'super' in a class with no superclass.")
	}

	s.consume(lexer.TokenDot, "Expect '.' after 'super'.")
	s.consume(lexer.TokenIdentifier, "Expect superclass method name.")
	name := s.identifierConstant(s.previous)

	s.namedVariable(syntheticToken("this"), false)
	if s.match(lexer.TokenLeftParen) {
		argCount := s.argumentList()
		s.namedVariable(syntheticToken("super"), false)
		s.emitBytes(byte(bytecode.OpSuperInvoke), name)
		s.emitByte(argCount)
	} else {
		s.namedVariable(syntheticToken("super"), false)
		s.emitBytes(byte(bytecode.OpGetSuper), name)
	}
}

func (s *state) argumentList() byte {
	argCount := 0
	if !s.check(lexer.TokenRightParen) {
		for {
			s.expression()
			if argCount == maxArity {
				s.error("Can't have more than 255 arguments.")
			}
			argCount++
			if !s.match(lexer.TokenComma) {
				break
			}
		}
	}
	s.consume(lexer.TokenRightParen, "Expect ')' after arguments.")
	return byte(argCount)
}

// ---- statements and declarations ----

func (s *state) declaration() {
	switch {
	case s.match(lexer.TokenClass):
		s.classDeclaration()
	case s.match(lexer.TokenFun):
		s.funDeclaration()
	case s.match(lexer.TokenVar):
		s.varDeclaration()
	default:
		s.statement()
	}

	if s.panicMode {
		s.synchronize()
	}
}

func (s *state) statement() {
	switch {
	case s.match(lexer.TokenPrint):
		s.printStatement()
	case s.match(lexer.TokenFor):
		s.forStatement()
	case s.match(lexer.TokenIf):
		s.ifStatement()
	case s.match(lexer.TokenReturn):
		s.returnStatement()
	case s.match(lexer.TokenWhile):
		s.whileStatement()
	case s.match(lexer.TokenLeftBrace):
		s.beginScope()
		s.block()
		s.endScope()
	default:
		s.expressionStatement()
	}
}

func (s *state) block() {
	for !s.check(lexer.TokenRightBrace) && !s.check(lexer.TokenEOF) {
		s.declaration()
	}
	s.consume(lexer.TokenRightBrace, "Expect '}' after block.")
}

func (s *state) varDeclaration() {
	global := s.parseVariable("Expect variable name.")

	if s.match(lexer.TokenEqual) {
		s.expression()
	} else {
		s.emitOp(bytecode.OpNil)
	}
	s.consume(lexer.TokenSemicolon, "Expect ';' after variable declaration.")

	s.defineVariable(global)
}

func (s *state) funDeclaration() {
	global := s.parseVariable("Expect function name.")
	// A function may refer to itself; it is initialized before its body
	// compiles.
	s.markInitialized()
	s.function(typeFunction)
	s.defineVariable(global)
}

// function compiles a function body in its own compiler frame, then emits
// CLOSURE with one descriptor pair per captured upvalue.
func (s *state) function(fnType functionType) {
	s.initCompiler(&compiler{}, fnType)
	s.beginScope()

	s.consume(lexer.TokenLeftParen, "Expect '(' after function name.")
	if !s.check(lexer.TokenRightParen) {
		for {
			s.compiler.function.Arity++
			if s.compiler.function.Arity > maxArity {
				s.errorAtCurrent("Can't have more than 255 parameters.")
			}
			constant := s.parseVariable("Expect parameter name.")
			s.defineVariable(constant)
			if !s.match(lexer.TokenComma) {
				break
			}
		}
	}
	s.consume(lexer.TokenRightParen, "Expect ')' after parameters.")
	s.consume(lexer.TokenLeftBrace, "Expect '{' before function body.")
	s.block()

	upvalues := s.compiler.upvalues
	function := s.endCompiler()
	s.emitBytes(byte(bytecode.OpClosure), s.makeConstant(bytecode.ObjVal(function)))

	for i := 0; i < function.UpvalueCount; i++ {
		if upvalues[i].isLocal {
			s.emitByte(1)
		} else {
			s.emitByte(0)
		}
		s.emitByte(upvalues[i].index)
	}
}

func (s *state) method() {
	s.consume(lexer.TokenIdentifier, "Expect method name.")
	constant := s.identifierConstant(s.previous)

	fnType := typeMethod
	if s.previous.Lexeme == "init" {
		fnType = typeInitializer
	}
	s.function(fnType)
	s.emitBytes(byte(bytecode.OpMethod), constant)
}

func (s *state) classDeclaration() {
	s.consume(lexer.TokenIdentifier, "Expect class name.")
	className := s.previous
	nameConstant := s.identifierConstant(s.previous)
	s.declareVariable()

	s.emitBytes(byte(bytecode.OpClass), nameConstant)
	s.defineVariable(nameConstant)

	cc := &classCompiler{enclosing: s.currentClass}
	s.currentClass = cc

	if s.match(lexer.TokenLess) {
		s.consume(lexer.TokenIdentifier, "Expect superclass name.")
		s.variable(false)

		if identifiersEqual(className, s.previous) {
			s.error("A class can't inherit from itself.")
		}

		s.beginScope()
		s.addLocal(syntheticToken("super"))
		s.defineVariable(0)

		s.namedVariable(className, false)
		s.emitOp(bytecode.OpInherit)
		cc.hasSuperclass = true
	}

	s.namedVariable(className, false)
	s.consume(lexer.TokenLeftBrace, "Expect '{' before class body.")
	for !s.check(lexer.TokenRightBrace) && !s.check(lexer.TokenEOF) {
		s.method()
	}
	s.consume(lexer.TokenRightBrace, "Expect '}' after class body.")
	s.emitOp(bytecode.OpPop)

	if cc.hasSuperclass {
		s.endScope()
	}

	s.currentClass = cc.enclosing
}

func (s *state) expressionStatement() {
	s.expression()
	s.consume(lexer.TokenSemicolon, "Expect ';' after expression.")
	s.emitOp(bytecode.OpPop)
}

func (s *state) printStatement() {
	s.expression()
	s.consume(lexer.TokenSemicolon, "Expect ';' after value.")
	s.emitOp(bytecode.OpPrint)
}

func (s *state) returnStatement() {
	if s.compiler.fnType == typeScript {
		s.error("Can't return from top-level code.")
	}

	if s.match(lexer.TokenSemicolon) {
		s.emitReturn()
		return
	}

	if s.compiler.fnType == typeInitializer {
		s.error("Can't return a value from an initializer.")
	}
	s.expression()
	s.consume(lexer.TokenSemicolon, "Expect ';' after return value.")
	s.emitOp(bytecode.OpReturn)
}

func (s *state) ifStatement() {
	s.consume(lexer.TokenLeftParen, "Expect '(' after 'if'.")
	s.expression()
	s.consume(lexer.TokenRightParen, "Expect ')' after condition.")

	thenJump := s.emitJump(bytecode.OpJumpIfFalse)
	s.emitOp(bytecode.OpPop)
	s.statement()
	elseJump := s.emitJump(bytecode.OpJump)

	s.patchJump(thenJump)
	s.emitOp(bytecode.OpPop)
	if s.match(lexer.TokenElse) {
		s.statement()
	}
	s.patchJump(elseJump)
}

func (s *state) whileStatement() {
	loopStart := len(s.currentChunk().Code)
	s.consume(lexer.TokenLeftParen, "Expect '(' after 'while'.")
	s.expression()
	s.consume(lexer.TokenRightParen, "Expect ')' after condition.")

	exitJump := s.emitJump(bytecode.OpJumpIfFalse)
	s.emitOp(bytecode.OpPop)
	s.statement()
	s.emitLoop(loopStart)

	s.patchJump(exitJump)
	s.emitOp(bytecode.OpPop)
}

// forStatement lowers the C-style for into while form. The initializer
// variable is scoped to the loop.
func (s *state) forStatement() {
	s.beginScope()
	s.consume(lexer.TokenLeftParen, "Expect '(' after 'for'.")

	switch {
	case s.match(lexer.TokenSemicolon):
		// no initializer
	case s.match(lexer.TokenVar):
		s.varDeclaration()
	default:
		s.expressionStatement()
	}

	loopStart := len(s.currentChunk().Code)
	exitJump := -1
	if !s.match(lexer.TokenSemicolon) {
		s.expression()
		s.consume(lexer.TokenSemicolon, "Expect ';' after loop condition.")
		exitJump = s.emitJump(bytecode.OpJumpIfFalse)
		s.emitOp(bytecode.OpPop)
	}

	if !s.match(lexer.TokenRightParen) {
		bodyJump := s.emitJump(bytecode.OpJump)
		incrementStart := len(s.currentChunk().Code)
		s.expression()
		s.emitOp(bytecode.OpPop)
		s.consume(lexer.TokenRightParen, "Expect ')' after for clauses.")

		s.emitLoop(loopStart)
		loopStart = incrementStart
		s.patchJump(bodyJump)
	}

	s.statement()
	s.emitLoop(loopStart)

	if exitJump != -1 {
		s.patchJump(exitJump)
		s.emitOp(bytecode.OpPop)
	}
	s.endScope()
}
