package bytecode

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/cinder-lang/cinder/compiler"
)

// Per-function limits. Slot indices, upvalue indices, constant indices, and
// argument counts all travel in one operand byte.
const (
	maxLocals    = 256
	maxUpvalues  = 256
	maxConstants = 256
	maxArguments = 255
	maxJump      = math.MaxUint16
)

// CompileError carries every diagnostic produced during a failed
// compilation. No function is produced alongside it.
type CompileError struct {
	Diagnostics []string
}

func (e *CompileError) Error() string {
	return strings.Join(e.Diagnostics, "\n")
}

// functionType distinguishes the kinds of function bodies being compiled;
// it drives slot-0 naming and return rules.
type functionType int

const (
	typeFunction functionType = iota
	typeInitializer
	typeMethod
	typeScript
)

// uninitialized is the scope-depth sentinel for a declared-but-undefined
// local. Reading such a local is the use-in-own-initializer error.
const uninitialized = -1

type local struct {
	name     compiler.Token
	depth    int
	captured bool
}

type upvalueDesc struct {
	index   uint8
	isLocal bool
}

// funcContext is the per-function compilation state. Contexts nest while
// the compiler is inside nested function declarations.
type funcContext struct {
	enclosing  *funcContext
	function   Handle
	fnType     functionType
	locals     [maxLocals]local
	localCount int
	upvalues   [maxUpvalues]upvalueDesc
	scopeDepth int
}

// classContext tracks the innermost class declaration, for 'this' and
// 'super' validity.
type classContext struct {
	enclosing     *classContext
	hasSuperclass bool
}

// Compiler is a single-pass compiler: it drives the lexer directly and
// emits bytecode as it parses, resolving locals, upvalues, and jump
// targets inline.
type Compiler struct {
	heap *Heap
	lex  *compiler.Lexer

	current   compiler.Token
	previous  compiler.Token
	hadError  bool
	panicMode bool
	diags     []string

	ctx   *funcContext
	class *classContext
}

// Compile compiles source into a top-level script function. On failure it
// returns a *CompileError carrying every diagnostic.
func Compile(heap *Heap, source string) (Handle, error) {
	c := &Compiler{heap: heap, lex: compiler.NewLexer(source)}

	// Functions under construction are only reachable through the compiler
	// until the script function is handed over.
	heap.AddRootSource(c)
	defer heap.RemoveRootSource(c)

	c.beginFunction(typeScript)

	c.advance()
	for !c.match(compiler.TokenEOF) {
		c.declaration()
	}

	script := c.endFunction()
	if c.hadError {
		return NilHandle, &CompileError{Diagnostics: c.diags}
	}
	return script, nil
}

// MarkRoots marks the functions of every open compilation context.
func (c *Compiler) MarkRoots(h *Heap) {
	for ctx := c.ctx; ctx != nil; ctx = ctx.enclosing {
		h.MarkObject(ctx.function)
	}
}

// ---------------------------------------------------------------------------
// Precedence and parse rules
// ---------------------------------------------------------------------------

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
	precCall                  // . ()
	precPrimary
)

type parseFn func(c *Compiler, canAssign bool)

// parseRule tells how to compile a prefix expression beginning with a
// token, how to continue an infix expression whose operator is that token,
// and the operator's precedence.
type parseRule struct {
	prefix     parseFn
	infix      parseFn
	precedence precedence
}

var parseRules [compiler.TokenEOF + 1]parseRule

// The rule table refers to handlers that recursively parse expressions, so
// it has to be filled in at run time to break the initialization cycle.
func init() {
	parseRules[compiler.TokenLeftParen] = parseRule{(*Compiler).grouping, (*Compiler).callExpr, precCall}
	parseRules[compiler.TokenDot] = parseRule{nil, (*Compiler).dot, precCall}
	parseRules[compiler.TokenMinus] = parseRule{(*Compiler).unary, (*Compiler).binary, precTerm}
	parseRules[compiler.TokenPlus] = parseRule{nil, (*Compiler).binary, precTerm}
	parseRules[compiler.TokenSlash] = parseRule{nil, (*Compiler).binary, precFactor}
	parseRules[compiler.TokenStar] = parseRule{nil, (*Compiler).binary, precFactor}
	parseRules[compiler.TokenBang] = parseRule{(*Compiler).unary, nil, precNone}
	parseRules[compiler.TokenBangEqual] = parseRule{nil, (*Compiler).binary, precEquality}
	parseRules[compiler.TokenEqualEqual] = parseRule{nil, (*Compiler).binary, precEquality}
	parseRules[compiler.TokenGreater] = parseRule{nil, (*Compiler).binary, precComparison}
	parseRules[compiler.TokenGreaterEqual] = parseRule{nil, (*Compiler).binary, precComparison}
	parseRules[compiler.TokenLess] = parseRule{nil, (*Compiler).binary, precComparison}
	parseRules[compiler.TokenLessEqual] = parseRule{nil, (*Compiler).binary, precComparison}
	parseRules[compiler.TokenIdentifier] = parseRule{(*Compiler).variable, nil, precNone}
	parseRules[compiler.TokenString] = parseRule{(*Compiler).stringLiteral, nil, precNone}
	parseRules[compiler.TokenNumber] = parseRule{(*Compiler).number, nil, precNone}
	parseRules[compiler.TokenAnd] = parseRule{nil, (*Compiler).and, precAnd}
	parseRules[compiler.TokenOr] = parseRule{nil, (*Compiler).or, precOr}
	parseRules[compiler.TokenFalse] = parseRule{(*Compiler).literal, nil, precNone}
	parseRules[compiler.TokenNil] = parseRule{(*Compiler).literal, nil, precNone}
	parseRules[compiler.TokenTrue] = parseRule{(*Compiler).literal, nil, precNone}
	parseRules[compiler.TokenSuper] = parseRule{(*Compiler).superExpr, nil, precNone}
	parseRules[compiler.TokenThis] = parseRule{(*Compiler).thisExpr, nil, precNone}
}

func ruleFor(t compiler.TokenType) parseRule {
	if int(t) < len(parseRules) {
		return parseRules[t]
	}
	return parseRule{}
}

// ---------------------------------------------------------------------------
// Error reporting
// ---------------------------------------------------------------------------

func (c *Compiler) errorAt(tok compiler.Token, message string) {
	// Panic mode suppresses everything after the first diagnostic of a
	// statement; synchronize clears it.
	if c.panicMode {
		return
	}
	c.panicMode = true

	var where string
	switch tok.Type {
	case compiler.TokenEOF:
		where = " at end"
	case compiler.TokenError:
		// The lexeme is the message itself, not source text.
	default:
		where = fmt.Sprintf(" at '%s'", tok.Lexeme)
	}

	c.diags = append(c.diags, fmt.Sprintf("[line %d] Error%s: %s", tok.Line, where, message))
	c.hadError = true
}

func (c *Compiler) error(message string) {
	c.errorAt(c.previous, message)
}

func (c *Compiler) errorAtCurrent(message string) {
	c.errorAt(c.current, message)
}

// synchronize discards tokens until a statement boundary so one mistake
// yields one diagnostic.
func (c *Compiler) synchronize() {
	c.panicMode = false

	for c.current.Type != compiler.TokenEOF {
		if c.previous.Type == compiler.TokenSemicolon {
			return
		}
		switch c.current.Type {
		case compiler.TokenClass, compiler.TokenFun, compiler.TokenVar,
			compiler.TokenFor, compiler.TokenIf, compiler.TokenWhile,
			compiler.TokenPrint, compiler.TokenReturn:
			return
		}
		c.advance()
	}
}

// ---------------------------------------------------------------------------
// Token plumbing
// ---------------------------------------------------------------------------

func (c *Compiler) advance() {
	c.previous = c.current
	for {
		c.current = c.lex.NextToken()
		if c.current.Type != compiler.TokenError {
			break
		}
		c.errorAtCurrent(c.current.Lexeme)
	}
}

func (c *Compiler) consume(t compiler.TokenType, message string) {
	if c.current.Type == t {
		c.advance()
		return
	}
	c.errorAtCurrent(message)
}

func (c *Compiler) check(t compiler.TokenType) bool {
	return c.current.Type == t
}

func (c *Compiler) match(t compiler.TokenType) bool {
	if !c.check(t) {
		return false
	}
	c.advance()
	return true
}

// ---------------------------------------------------------------------------
// Emission
// ---------------------------------------------------------------------------

func (c *Compiler) currentChunk() *Chunk {
	return c.heap.fun(c.ctx.function).Chunk
}

func (c *Compiler) emitByte(b byte) {
	c.currentChunk().Write(b, c.previous.Line)
}

func (c *Compiler) emitOp(op Opcode) {
	c.emitByte(byte(op))
}

func (c *Compiler) emitBytes(op Opcode, operand byte) {
	c.emitOp(op)
	c.emitByte(operand)
}

func (c *Compiler) emitReturn() {
	if c.ctx.fnType == typeInitializer {
		// An initializer returns its instance, which lives in slot 0.
		c.emitBytes(OpGetLocal, 0)
	} else {
		c.emitOp(OpNil)
	}
	c.emitOp(OpReturn)
}

func (c *Compiler) makeConstant(v Value) byte {
	index := c.currentChunk().AddConstant(v)
	if index >= maxConstants {
		c.error("Too many constants in one chunk.")
		return 0
	}
	return byte(index)
}

func (c *Compiler) emitConstant(v Value) {
	c.emitBytes(OpConstant, c.makeConstant(v))
}

// emitJump writes op with a two-byte placeholder and returns the
// placeholder's offset for patching.
func (c *Compiler) emitJump(op Opcode) int {
	c.emitOp(op)
	c.emitByte(0xff)
	c.emitByte(0xff)
	return len(c.currentChunk().Code) - 2
}

// patchJump points the placeholder at the current end of code.
func (c *Compiler) patchJump(offset int) {
	chunk := c.currentChunk()
	// The offset is relative to the byte just past the operand.
	jump := len(chunk.Code) - offset - 2
	if jump > maxJump {
		c.error("Too much code to jump over.")
	}
	chunk.Code[offset] = byte(jump >> 8)
	chunk.Code[offset+1] = byte(jump)
}

func (c *Compiler) emitLoop(loopStart int) {
	c.emitOp(OpLoop)
	offset := len(c.currentChunk().Code) - loopStart + 2
	if offset > maxJump {
		c.error("Loop body too large.")
	}
	c.emitByte(byte(offset >> 8))
	c.emitByte(byte(offset))
}

// ---------------------------------------------------------------------------
// Function contexts
// ---------------------------------------------------------------------------

func (c *Compiler) beginFunction(fnType functionType) {
	ctx := &funcContext{
		enclosing: c.ctx,
		function:  c.heap.NewFunction(),
		fnType:    fnType,
	}
	c.ctx = ctx

	if fnType != typeScript {
		c.heap.fun(ctx.function).Name = c.heap.InternString(c.previous.Lexeme)
	}

	// Slot 0 belongs to the callee, or to 'this' inside methods.
	slotZero := &ctx.locals[0]
	ctx.localCount = 1
	slotZero.depth = 0
	if fnType == typeMethod || fnType == typeInitializer {
		slotZero.name = compiler.Token{Type: compiler.TokenThis, Lexeme: "this"}
	}
}

func (c *Compiler) endFunction() Handle {
	c.emitReturn()
	fn := c.ctx.function
	c.ctx = c.ctx.enclosing
	return fn
}

func (c *Compiler) beginScope() {
	c.ctx.scopeDepth++
}

func (c *Compiler) endScope() {
	ctx := c.ctx
	ctx.scopeDepth--

	for ctx.localCount > 0 && ctx.locals[ctx.localCount-1].depth > ctx.scopeDepth {
		if ctx.locals[ctx.localCount-1].captured {
			c.emitOp(OpCloseUpvalue)
		} else {
			c.emitOp(OpPop)
		}
		ctx.localCount--
	}
}

// ---------------------------------------------------------------------------
// Variable resolution: local, then upvalue, then global
// ---------------------------------------------------------------------------

func (c *Compiler) identifierConstant(name compiler.Token) byte {
	return c.makeConstant(ObjectValue(c.heap.InternString(name.Lexeme)))
}

func identifiersEqual(a, b compiler.Token) bool {
	return a.Lexeme == b.Lexeme
}

func (c *Compiler) resolveLocal(ctx *funcContext, name compiler.Token) int {
	for i := ctx.localCount - 1; i >= 0; i-- {
		l := &ctx.locals[i]
		if identifiersEqual(name, l.name) {
			if l.depth == uninitialized {
				c.error("Can't read local variable in its own initializer.")
			}
			return i
		}
	}
	return -1
}

func (c *Compiler) addUpvalue(ctx *funcContext, index uint8, isLocal bool) int {
	fn := c.heap.fun(ctx.function)

	for i := 0; i < fn.UpvalueCount; i++ {
		uv := &ctx.upvalues[i]
		if uv.index == index && uv.isLocal == isLocal {
			return i
		}
	}

	if fn.UpvalueCount == maxUpvalues {
		c.error("Too many closure variables in function.")
		return 0
	}

	ctx.upvalues[fn.UpvalueCount] = upvalueDesc{index: index, isLocal: isLocal}
	fn.UpvalueCount++
	return fn.UpvalueCount - 1
}

// resolveUpvalue walks enclosing function contexts. Finding the name as a
// local there marks it captured and records a local upvalue; finding it as
// an upvalue of the enclosing context chains through.
func (c *Compiler) resolveUpvalue(ctx *funcContext, name compiler.Token) int {
	if ctx.enclosing == nil {
		return -1
	}

	if local := c.resolveLocal(ctx.enclosing, name); local != -1 {
		ctx.enclosing.locals[local].captured = true
		return c.addUpvalue(ctx, uint8(local), true)
	}

	if upvalue := c.resolveUpvalue(ctx.enclosing, name); upvalue != -1 {
		return c.addUpvalue(ctx, uint8(upvalue), false)
	}

	return -1
}

func (c *Compiler) addLocal(name compiler.Token) {
	ctx := c.ctx
	if ctx.localCount == maxLocals {
		c.error("Too many local variables in function.")
		return
	}
	ctx.locals[ctx.localCount] = local{name: name, depth: uninitialized}
	ctx.localCount++
}

func (c *Compiler) declareVariable() {
	if c.ctx.scopeDepth == 0 {
		return
	}

	name := c.previous
	for i := c.ctx.localCount - 1; i >= 0; i-- {
		l := &c.ctx.locals[i]
		if l.depth != uninitialized && l.depth < c.ctx.scopeDepth {
			break
		}
		if identifiersEqual(name, l.name) {
			c.error("Already a variable with this name in this scope.")
		}
	}

	c.addLocal(name)
}

func (c *Compiler) parseVariable(message string) byte {
	c.consume(compiler.TokenIdentifier, message)

	c.declareVariable()
	if c.ctx.scopeDepth > 0 {
		return 0
	}

	return c.identifierConstant(c.previous)
}

func (c *Compiler) markInitialized() {
	if c.ctx.scopeDepth == 0 {
		return
	}
	c.ctx.locals[c.ctx.localCount-1].depth = c.ctx.scopeDepth
}

func (c *Compiler) defineVariable(global byte) {
	if c.ctx.scopeDepth > 0 {
		c.markInitialized()
		return
	}
	c.emitBytes(OpDefineGlobal, global)
}

func (c *Compiler) namedVariable(name compiler.Token, canAssign bool) {
	var getOp, setOp Opcode
	var arg int

	if arg = c.resolveLocal(c.ctx, name); arg != -1 {
		getOp, setOp = OpGetLocal, OpSetLocal
	} else if arg = c.resolveUpvalue(c.ctx, name); arg != -1 {
		getOp, setOp = OpGetUpvalue, OpSetUpvalue
	} else {
		arg = int(c.identifierConstant(name))
		getOp, setOp = OpGetGlobal, OpSetGlobal
	}

	if canAssign && c.match(compiler.TokenEqual) {
		c.expression()
		c.emitBytes(setOp, byte(arg))
	} else {
		c.emitBytes(getOp, byte(arg))
	}
}

func syntheticToken(text string) compiler.Token {
	return compiler.Token{Type: compiler.TokenIdentifier, Lexeme: text}
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

// parsePrecedence parses anything at the given precedence or tighter: one
// prefix expression, then every infix operator binding at least as hard.
// Assignability threads through the handlers so only the levels at or
// below assignment accept '='.
func (c *Compiler) parsePrecedence(prec precedence) {
	c.advance()
	prefix := ruleFor(c.previous.Type).prefix
	if prefix == nil {
		c.error("Expect expression.")
		return
	}

	canAssign := prec <= precAssignment
	prefix(c, canAssign)

	for prec <= ruleFor(c.current.Type).precedence {
		c.advance()
		ruleFor(c.previous.Type).infix(c, canAssign)
	}

	if canAssign && c.match(compiler.TokenEqual) {
		c.error("Invalid assignment target.")
	}
}

func (c *Compiler) expression() {
	c.parsePrecedence(precAssignment)
}

func (c *Compiler) grouping(bool) {
	c.expression()
	c.consume(compiler.TokenRightParen, "Expect ')' after expression.")
}

func (c *Compiler) number(bool) {
	value, _ := strconv.ParseFloat(c.previous.Lexeme, 64)
	c.emitConstant(NumberValue(value))
}

func (c *Compiler) stringLiteral(bool) {
	lexeme := c.previous.Lexeme
	chars := lexeme[1 : len(lexeme)-1] // trim the quotes
	c.emitConstant(ObjectValue(c.heap.InternString(chars)))
}

func (c *Compiler) literal(bool) {
	switch c.previous.Type {
	case compiler.TokenFalse:
		c.emitOp(OpFalse)
	case compiler.TokenNil:
		c.emitOp(OpNil)
	case compiler.TokenTrue:
		c.emitOp(OpTrue)
	}
}

func (c *Compiler) variable(canAssign bool) {
	c.namedVariable(c.previous, canAssign)
}

func (c *Compiler) unary(bool) {
	op := c.previous.Type

	c.parsePrecedence(precUnary)

	switch op {
	case compiler.TokenMinus:
		c.emitOp(OpNegate)
	case compiler.TokenBang:
		c.emitOp(OpNot)
	}
}

func (c *Compiler) binary(bool) {
	op := c.previous.Type
	rule := ruleFor(op)
	c.parsePrecedence(rule.precedence + 1)

	switch op {
	case compiler.TokenBangEqual:
		c.emitOp(OpEqual)
		c.emitOp(OpNot)
	case compiler.TokenEqualEqual:
		c.emitOp(OpEqual)
	case compiler.TokenGreater:
		c.emitOp(OpGreater)
	case compiler.TokenGreaterEqual:
		c.emitOp(OpLess)
		c.emitOp(OpNot)
	case compiler.TokenLess:
		c.emitOp(OpLess)
	case compiler.TokenLessEqual:
		c.emitOp(OpGreater)
		c.emitOp(OpNot)
	case compiler.TokenPlus:
		c.emitOp(OpAdd)
	case compiler.TokenMinus:
		c.emitOp(OpSubtract)
	case compiler.TokenStar:
		c.emitOp(OpMultiply)
	case compiler.TokenSlash:
		c.emitOp(OpDivide)
	}
}

func (c *Compiler) and(bool) {
	endJump := c.emitJump(OpJumpIfFalse)
	c.emitOp(OpPop)
	c.parsePrecedence(precAnd)
	c.patchJump(endJump)
}

func (c *Compiler) or(bool) {
	elseJump := c.emitJump(OpJumpIfFalse)
	endJump := c.emitJump(OpJump)

	c.patchJump(elseJump)
	c.emitOp(OpPop)

	c.parsePrecedence(precOr)
	c.patchJump(endJump)
}

func (c *Compiler) argumentList() byte {
	var count int
	if !c.check(compiler.TokenRightParen) {
		for {
			c.expression()
			if count == maxArguments {
				c.error("Can't have more than 255 arguments.")
			}
			count++
			if !c.match(compiler.TokenComma) {
				break
			}
		}
	}
	c.consume(compiler.TokenRightParen, "Expect ')' after arguments.")
	return byte(count)
}

func (c *Compiler) callExpr(bool) {
	argc := c.argumentList()
	c.emitBytes(OpCall, argc)
}

func (c *Compiler) dot(canAssign bool) {
	c.consume(compiler.TokenIdentifier, "Expect property name after '.'.")
	name := c.identifierConstant(c.previous)

	if canAssign && c.match(compiler.TokenEqual) {
		c.expression()
		c.emitBytes(OpSetProperty, name)
	} else if c.match(compiler.TokenLeftParen) {
		argc := c.argumentList()
		c.emitBytes(OpInvoke, name)
		c.emitByte(argc)
	} else {
		c.emitBytes(OpGetProperty, name)
	}
}

func (c *Compiler) thisExpr(bool) {
	if c.class == nil {
		c.error("Can't use 'this' outside of a class.")
		return
	}
	c.variable(false)
}

func (c *Compiler) superExpr(bool) {
	if c.class == nil {
		c.error("Can't use 'super' outside of a class.")
	} else if !c.class.hasSuperclass {
		c.error("Can't use 'super' in a class with no superclass.")
	}

	c.consume(compiler.TokenDot, "Expect '.' after 'super'.")
	c.consume(compiler.TokenIdentifier, "Expect superclass method name.")
	name := c.identifierConstant(c.previous)

	c.namedVariable(syntheticToken("this"), false)
	if c.match(compiler.TokenLeftParen) {
		argc := c.argumentList()
		c.namedVariable(syntheticToken("super"), false)
		c.emitBytes(OpSuperInvoke, name)
		c.emitByte(argc)
	} else {
		c.namedVariable(syntheticToken("super"), false)
		c.emitBytes(OpGetSuper, name)
	}
}

// ---------------------------------------------------------------------------
// Declarations and statements
// ---------------------------------------------------------------------------

func (c *Compiler) declaration() {
	switch {
	case c.match(compiler.TokenClass):
		c.classDeclaration()
	case c.match(compiler.TokenFun):
		c.funDeclaration()
	case c.match(compiler.TokenVar):
		c.varDeclaration()
	default:
		c.statement()
	}

	if c.panicMode {
		c.synchronize()
	}
}

func (c *Compiler) varDeclaration() {
	global := c.parseVariable("Expect variable name.")

	if c.match(compiler.TokenEqual) {
		c.expression()
	} else {
		c.emitOp(OpNil)
	}
	c.consume(compiler.TokenSemicolon, "Expect ';' after variable declaration.")

	c.defineVariable(global)
}

func (c *Compiler) funDeclaration() {
	global := c.parseVariable("Expect function name.")
	// A function may refer to itself; the name is usable inside the body.
	c.markInitialized()
	c.function(typeFunction)
	c.defineVariable(global)
}

// function compiles a parameter list and body in a fresh context, then
// emits the closure instruction with its capture descriptors.
func (c *Compiler) function(fnType functionType) {
	c.beginFunction(fnType)
	c.beginScope()

	c.consume(compiler.TokenLeftParen, "Expect '(' after function name.")
	if !c.check(compiler.TokenRightParen) {
		for {
			fn := c.heap.fun(c.ctx.function)
			fn.Arity++
			if fn.Arity > maxArguments {
				c.errorAtCurrent("Can't have more than 255 parameters.")
			}
			constant := c.parseVariable("Expect parameter name.")
			c.defineVariable(constant)
			if !c.match(compiler.TokenComma) {
				break
			}
		}
	}
	c.consume(compiler.TokenRightParen, "Expect ')' after parameters.")
	c.consume(compiler.TokenLeftBrace, "Expect '{' before function body.")
	c.block()

	ctx := c.ctx
	fnHandle := c.endFunction()

	c.emitBytes(OpClosure, c.makeConstant(ObjectValue(fnHandle)))
	fn := c.heap.fun(fnHandle)
	for i := 0; i < fn.UpvalueCount; i++ {
		if ctx.upvalues[i].isLocal {
			c.emitByte(1)
		} else {
			c.emitByte(0)
		}
		c.emitByte(ctx.upvalues[i].index)
	}
}

func (c *Compiler) classDeclaration() {
	c.consume(compiler.TokenIdentifier, "Expect class name.")
	className := c.previous
	nameConstant := c.identifierConstant(c.previous)
	c.declareVariable()

	c.emitBytes(OpClass, nameConstant)
	c.defineVariable(nameConstant)

	cc := &classContext{enclosing: c.class}
	c.class = cc

	if c.match(compiler.TokenLess) {
		c.consume(compiler.TokenIdentifier, "Expect superclass name.")
		c.variable(false)

		if identifiersEqual(className, c.previous) {
			c.error("A class can't inherit from itself.")
		}

		// 'super' lives in a scope of its own so every method closes over
		// the same slot.
		c.beginScope()
		c.addLocal(syntheticToken("super"))
		c.defineVariable(0)

		c.namedVariable(className, false)
		c.emitOp(OpInherit)
		cc.hasSuperclass = true
	}

	c.namedVariable(className, false)
	c.consume(compiler.TokenLeftBrace, "Expect '{' before class body.")
	for !c.check(compiler.TokenRightBrace) && !c.check(compiler.TokenEOF) {
		c.method()
	}
	c.consume(compiler.TokenRightBrace, "Expect '}' after class body.")
	c.emitOp(OpPop)

	if cc.hasSuperclass {
		c.endScope()
	}

	c.class = c.class.enclosing
}

func (c *Compiler) method() {
	c.consume(compiler.TokenIdentifier, "Expect method name.")
	constant := c.identifierConstant(c.previous)

	fnType := typeMethod
	if c.previous.Lexeme == "init" {
		fnType = typeInitializer
	}
	c.function(fnType)

	c.emitBytes(OpMethod, constant)
}

func (c *Compiler) statement() {
	switch {
	case c.match(compiler.TokenPrint):
		c.printStatement()
	case c.match(compiler.TokenFor):
		c.forStatement()
	case c.match(compiler.TokenIf):
		c.ifStatement()
	case c.match(compiler.TokenReturn):
		c.returnStatement()
	case c.match(compiler.TokenWhile):
		c.whileStatement()
	case c.match(compiler.TokenLeftBrace):
		c.beginScope()
		c.block()
		c.endScope()
	default:
		c.expressionStatement()
	}
}

func (c *Compiler) block() {
	for !c.check(compiler.TokenRightBrace) && !c.check(compiler.TokenEOF) {
		c.declaration()
	}
	c.consume(compiler.TokenRightBrace, "Expect '}' after block.")
}

func (c *Compiler) printStatement() {
	c.expression()
	c.consume(compiler.TokenSemicolon, "Expect ';' after value.")
	c.emitOp(OpPrint)
}

func (c *Compiler) expressionStatement() {
	c.expression()
	c.consume(compiler.TokenSemicolon, "Expect ';' after expression.")
	c.emitOp(OpPop)
}

func (c *Compiler) ifStatement() {
	c.consume(compiler.TokenLeftParen, "Expect '(' after 'if'.")
	c.expression()
	c.consume(compiler.TokenRightParen, "Expect ')' after condition.")

	thenJump := c.emitJump(OpJumpIfFalse)
	c.emitOp(OpPop)
	c.statement()

	elseJump := c.emitJump(OpJump)
	c.patchJump(thenJump)
	c.emitOp(OpPop)

	if c.match(compiler.TokenElse) {
		c.statement()
	}
	c.patchJump(elseJump)
}

func (c *Compiler) whileStatement() {
	loopStart := len(c.currentChunk().Code)
	c.consume(compiler.TokenLeftParen, "Expect '(' after 'while'.")
	c.expression()
	c.consume(compiler.TokenRightParen, "Expect ')' after condition.")

	exitJump := c.emitJump(OpJumpIfFalse)
	c.emitOp(OpPop)
	c.statement()
	c.emitLoop(loopStart)

	c.patchJump(exitJump)
	c.emitOp(OpPop)
}

// forStatement desugars the three-clause loop: the initializer runs in its
// own scope, the condition guards an exit jump, and the increment runs on a
// trampoline after the body jumps back through it.
func (c *Compiler) forStatement() {
	c.beginScope()
	c.consume(compiler.TokenLeftParen, "Expect '(' after 'for'.")

	switch {
	case c.match(compiler.TokenSemicolon):
		// No initializer.
	case c.match(compiler.TokenVar):
		c.varDeclaration()
	default:
		c.expressionStatement()
	}

	loopStart := len(c.currentChunk().Code)
	exitJump := -1
	if !c.match(compiler.TokenSemicolon) {
		c.expression()
		c.consume(compiler.TokenSemicolon, "Expect ';' after loop condition.")

		exitJump = c.emitJump(OpJumpIfFalse)
		c.emitOp(OpPop)
	}

	if !c.match(compiler.TokenRightParen) {
		bodyJump := c.emitJump(OpJump)
		incrementStart := len(c.currentChunk().Code)
		c.expression()
		c.emitOp(OpPop)
		c.consume(compiler.TokenRightParen, "Expect ')' after for clauses.")

		c.emitLoop(loopStart)
		loopStart = incrementStart
		c.patchJump(bodyJump)
	}

	c.statement()
	c.emitLoop(loopStart)

	if exitJump != -1 {
		c.patchJump(exitJump)
		c.emitOp(OpPop)
	}

	c.endScope()
}

func (c *Compiler) returnStatement() {
	if c.ctx.fnType == typeScript {
		c.error("Can't return from top-level code.")
	}

	if c.match(compiler.TokenSemicolon) {
		c.emitReturn()
		return
	}

	if c.ctx.fnType == typeInitializer {
		c.error("Can't return a value from an initializer.")
	}
	c.expression()
	c.consume(compiler.TokenSemicolon, "Expect ';' after return value.")
	c.emitOp(OpReturn)
}
