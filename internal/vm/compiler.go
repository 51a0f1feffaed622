package vm

import (
	"fmt"

	"github.com/cmel-lang/cmel/internal/lexer"
)

// The compiler is a single-pass Pratt parser: it pulls tokens from the
// scanner and emits bytecode as it goes, with no AST in between. Scope,
// upvalue and class resolution happen inline in compiler_scope.go; the
// expression grammar lives in compiler_expr.go.

// parser carries the token stream and error state for one compilation.
type parser struct {
	vm      *VM
	scanner *lexer.Scanner

	current  lexer.Token
	previous lexer.Token

	hadError  bool
	panicMode bool
	errors    []string

	compiler *funcCompiler
	class    *classCompiler

	// constGlobals are the names const-declared at top level in this
	// compilation; assigning to them is a compile error.
	constGlobals map[string]bool
}

// Compile parses source and returns its top-level function, or nil if any
// compile error occurred. Diagnostics go to the VM's error writer.
func Compile(vm *VM, source string) *ObjFunction {
	p := &parser{
		vm:           vm,
		scanner:      lexer.New(source),
		constGlobals: make(map[string]bool),
	}
	p.initCompiler(typeScript, "")

	p.advance()
	for !p.match(lexer.EOF) {
		p.declaration()
	}

	function := p.endCompiler()
	vm.compiler = nil
	if p.hadError {
		return nil
	}
	return function
}

// Errors returns the diagnostics of the last compilation.
func (p *parser) Errors() []string { return p.errors }

// initCompiler pushes a fresh per-function compiler. Slot 0 is reserved:
// it holds the closure itself, or `this` inside methods.
func (p *parser) initCompiler(funcType functionType, name string) {
	c := &funcCompiler{
		enclosing: p.compiler,
		funcType:  funcType,
	}
	c.function = p.vm.newFunction()
	p.compiler = c
	p.vm.compiler = c
	// Interning the name can collect; the function is reachable through
	// the compiler chain from here on.
	if funcType != typeScript && name != "" {
		c.function.Name = p.vm.internString(name)
	}

	slotZero := &c.locals[0]
	c.localCount = 1
	slotZero.depth = 0
	if funcType == typeMethod || funcType == typeInitializer {
		slotZero.name = lexer.Token{Type: lexer.THIS, Lexeme: "this"}
	}
}

// endCompiler finishes the current function and pops back to the
// enclosing one.
func (p *parser) endCompiler() *ObjFunction {
	p.emitReturn()
	function := p.compiler.function
	p.compiler = p.compiler.enclosing
	p.vm.compiler = p.compiler
	return function
}

// Token plumbing.

func (p *parser) advance() {
	p.previous = p.current
	for {
		p.current = p.scanner.NextToken()
		if p.current.Type != lexer.ERROR {
			break
		}
		p.errorAtCurrent(p.current.Lexeme)
	}
}

func (p *parser) consume(typ lexer.TokenType, message string) {
	if p.current.Type == typ {
		p.advance()
		return
	}
	p.errorAtCurrent(message)
}

func (p *parser) check(typ lexer.TokenType) bool {
	return p.current.Type == typ
}

func (p *parser) match(typ lexer.TokenType) bool {
	if !p.check(typ) {
		return false
	}
	p.advance()
	return true
}

// Error reporting: panic mode suppresses cascades until the parser
// synchronizes at the next statement boundary.

func (p *parser) errorAt(token lexer.Token, message string) {
	if p.panicMode {
		return
	}
	p.panicMode = true
	p.hadError = true

	var where string
	switch token.Type {
	case lexer.EOF:
		where = " at end"
	case lexer.ERROR:
		// Scan errors carry the message as their lexeme.
	default:
		where = fmt.Sprintf(" at '%s'", token.Lexeme)
	}

	diagnostic := fmt.Sprintf("[line %d] Error%s: %s", token.Line, where, message)
	p.errors = append(p.errors, diagnostic)
	fmt.Fprintln(p.vm.errOut, diagnostic)
}

func (p *parser) error(message string) {
	p.errorAt(p.previous, message)
}

func (p *parser) errorAtCurrent(message string) {
	p.errorAt(p.current, message)
}

// synchronize skips forward to a likely statement boundary so one mistake
// yields one diagnostic.
func (p *parser) synchronize() {
	p.panicMode = false
	for p.current.Type != lexer.EOF {
		if p.previous.Type == lexer.SEMICOLON {
			return
		}
		switch p.current.Type {
		case lexer.CLASS, lexer.FUN, lexer.VAR, lexer.CONST, lexer.FOR,
			lexer.IF, lexer.WHILE, lexer.PRINT, lexer.RETURN,
			lexer.EXPORT, lexer.IMPORT:
			return
		}
		p.advance()
	}
}

// Declarations.

func (p *parser) declaration() {
	switch {
	case p.match(lexer.EXPORT):
		p.exportDeclaration()
	case p.match(lexer.CLASS):
		p.classDeclaration()
	case p.match(lexer.FUN):
		p.funDeclaration()
	case p.match(lexer.VAR):
		p.varDeclaration(false)
	case p.match(lexer.CONST):
		p.varDeclaration(true)
	default:
		p.statement()
	}

	if p.panicMode {
		p.synchronize()
	}
}

// exportDeclaration compiles `export <declaration>`, emitting OP_EXPORT
// with the declared name once the binding has executed.
func (p *parser) exportDeclaration() {
	if p.compiler.scopeDepth > 0 {
		p.error("Can only export from top-level code.")
	}

	var nameConstant int
	switch {
	case p.match(lexer.CLASS):
		nameConstant = p.classDeclaration()
	case p.match(lexer.FUN):
		nameConstant = p.funDeclaration()
	case p.match(lexer.VAR):
		nameConstant = p.varDeclaration(false)
	case p.match(lexer.CONST):
		nameConstant = p.varDeclaration(true)
	default:
		p.errorAtCurrent("Expect declaration after 'export'.")
		return
	}

	p.emitOpByte(OP_EXPORT, p.constantOperand(nameConstant))
}

// varDeclaration compiles a var or const declaration and returns the
// global name constant (0 for locals).
func (p *parser) varDeclaration(isConst bool) int {
	global := p.parseVariable("Expect variable name.", isConst)
	name := p.previous.Lexeme

	if p.match(lexer.EQUAL) {
		p.expression()
	} else {
		if isConst {
			p.error("Const variable must be initialized.")
		}
		p.emitOp(OP_NIL)
	}
	p.consume(lexer.SEMICOLON, "Expect ';' after variable declaration.")

	p.defineVariable(global, name, isConst)
	return global
}

// parseVariable consumes a name and declares it, returning the name
// constant for globals.
func (p *parser) parseVariable(message string, isConst bool) int {
	p.consume(lexer.IDENT, message)
	p.declareVariable(isConst)
	if p.compiler.scopeDepth > 0 {
		return 0
	}
	return p.identifierConstant(p.previous)
}

// declareVariable adds a local in block scope; globals are late-bound by
// name and need no declaration.
func (p *parser) declareVariable(isConst bool) {
	c := p.compiler
	if c.scopeDepth == 0 {
		return
	}

	name := p.previous
	for i := c.localCount - 1; i >= 0; i-- {
		l := &c.locals[i]
		if l.depth != -1 && l.depth < c.scopeDepth {
			break
		}
		if name.Lexeme == l.name.Lexeme {
			p.error("Already a variable with this name in this scope.")
		}
	}
	p.addLocal(name, isConst)
}

func (p *parser) defineVariable(global int, name string, isConst bool) {
	if p.compiler.scopeDepth > 0 {
		p.markInitialized()
		return
	}
	if isConst {
		p.constGlobals[name] = true
	}
	p.emitOpByte(OP_DEFINE_GLOBAL, p.constantOperand(global))
}

func (p *parser) identifierConstant(name lexer.Token) int {
	return p.makeConstant(ObjValue(p.vm.internString(name.Lexeme)))
}

// funDeclaration compiles a named function; the name is usable inside the
// body so functions can recurse.
func (p *parser) funDeclaration() int {
	global := p.parseVariable("Expect function name.", false)
	name := p.previous.Lexeme
	p.markInitialized()
	p.function(typeFunction, name)
	p.defineVariable(global, name, false)
	return global
}

// function compiles a parameter list and body into a new ObjFunction and
// emits the OP_CLOSURE that instantiates it.
func (p *parser) function(funcType functionType, name string) {
	p.initCompiler(funcType, name)
	p.beginScope()

	p.consume(lexer.LPAREN, "Expect '(' after function name.")
	if !p.check(lexer.RPAREN) {
		for {
			p.compiler.function.Arity++
			if p.compiler.function.Arity > 255 {
				p.errorAtCurrent("Can't have more than 255 parameters.")
			}
			constant := p.parseVariable("Expect parameter name.", false)
			p.defineVariable(constant, p.previous.Lexeme, false)
			if !p.match(lexer.COMMA) {
				break
			}
		}
	}
	p.consume(lexer.RPAREN, "Expect ')' after parameters.")
	p.consume(lexer.LBRACE, "Expect '{' before function body.")
	p.block()

	upvalues := p.compiler.upvalues
	function := p.endCompiler()

	idx := p.makeConstant(ObjValue(function))
	p.emitOpByte(OP_CLOSURE, p.constantOperand(idx))
	for i := 0; i < function.UpvalueCount; i++ {
		if upvalues[i].isLocal {
			p.emitByte(1)
		} else {
			p.emitByte(0)
		}
		p.emitByte(upvalues[i].index)
	}
}

// classDeclaration compiles a class, its optional superclass clause and
// its methods. Returns the class name constant.
func (p *parser) classDeclaration() int {
	p.consume(lexer.IDENT, "Expect class name.")
	className := p.previous
	nameConstant := p.identifierConstant(p.previous)
	p.declareVariable(false)

	p.emitOpByte(OP_CLASS, p.constantOperand(nameConstant))
	p.defineVariable(nameConstant, className.Lexeme, false)

	p.class = &classCompiler{enclosing: p.class}

	if p.match(lexer.LESS) {
		p.consume(lexer.IDENT, "Expect superclass name.")
		p.variable(false)
		if className.Lexeme == p.previous.Lexeme {
			p.error("A class can't inherit from itself.")
		}

		// `super` lives in a scope of its own wrapped around the methods,
		// captured as an upvalue wherever they mention it.
		p.beginScope()
		p.addLocal(lexer.Token{Type: lexer.SUPER, Lexeme: "super"}, false)
		p.markInitialized()

		p.namedVariable(className, false)
		p.emitOp(OP_INHERIT)
		p.class.hasSuperclass = true
	}

	p.namedVariable(className, false)
	p.consume(lexer.LBRACE, "Expect '{' before class body.")
	for !p.check(lexer.RBRACE) && !p.check(lexer.EOF) {
		p.method()
	}
	p.consume(lexer.RBRACE, "Expect '}' after class body.")
	p.emitOp(OP_POP)

	if p.class.hasSuperclass {
		p.endScope()
	}
	p.class = p.class.enclosing
	return nameConstant
}

func (p *parser) method() {
	p.consume(lexer.IDENT, "Expect method name.")
	constant := p.identifierConstant(p.previous)
	name := p.previous.Lexeme

	funcType := typeMethod
	if name == "init" {
		funcType = typeInitializer
	}
	p.function(funcType, name)
	p.emitOpByte(OP_METHOD, p.constantOperand(constant))
}

// Statements.

func (p *parser) statement() {
	switch {
	case p.match(lexer.PRINT):
		p.printStatement()
	case p.match(lexer.IF):
		p.ifStatement()
	case p.match(lexer.WHILE):
		p.whileStatement()
	case p.match(lexer.FOR):
		p.forStatement()
	case p.match(lexer.RETURN):
		p.returnStatement()
	case p.match(lexer.BREAK):
		p.breakStatement()
	case p.match(lexer.IMPORT):
		p.importStatement()
	case p.match(lexer.LBRACE):
		p.beginScope()
		p.block()
		p.endScope()
	default:
		p.expressionStatement()
	}
}

func (p *parser) block() {
	for !p.check(lexer.RBRACE) && !p.check(lexer.EOF) {
		p.declaration()
	}
	p.consume(lexer.RBRACE, "Expect '}' after block.")
}

func (p *parser) printStatement() {
	p.expression()
	p.consume(lexer.SEMICOLON, "Expect ';' after value.")
	p.emitOp(OP_PRINT)
}

func (p *parser) expressionStatement() {
	p.expression()
	p.consume(lexer.SEMICOLON, "Expect ';' after expression.")
	p.emitOp(OP_POP)
}

func (p *parser) ifStatement() {
	p.consume(lexer.LPAREN, "Expect '(' after 'if'.")
	p.expression()
	p.consume(lexer.RPAREN, "Expect ')' after condition.")

	thenJump := p.emitJump(OP_JUMP_IF_FALSE)
	p.emitOp(OP_POP)
	p.statement()

	elseJump := p.emitJump(OP_JUMP)
	p.patchJump(thenJump)
	p.emitOp(OP_POP)

	if p.match(lexer.ELSE) {
		p.statement()
	}
	p.patchJump(elseJump)
}

func (p *parser) whileStatement() {
	loopStart := p.currentChunk().Len()
	p.consume(lexer.LPAREN, "Expect '(' after 'while'.")
	p.expression()
	p.consume(lexer.RPAREN, "Expect ')' after condition.")

	exitJump := p.emitJump(OP_JUMP_IF_FALSE)
	p.emitOp(OP_POP)

	p.beginLoop(loopStart)
	p.statement()
	p.emitLoop(loopStart)

	p.patchJump(exitJump)
	p.emitOp(OP_POP)
	p.endLoop()
}

func (p *parser) forStatement() {
	p.beginScope()
	p.consume(lexer.LPAREN, "Expect '(' after 'for'.")

	switch {
	case p.match(lexer.SEMICOLON):
		// No initializer.
	case p.match(lexer.VAR):
		p.varDeclaration(false)
	default:
		p.expressionStatement()
	}

	loopStart := p.currentChunk().Len()
	exitJump := -1
	if !p.match(lexer.SEMICOLON) {
		p.expression()
		p.consume(lexer.SEMICOLON, "Expect ';' after loop condition.")
		exitJump = p.emitJump(OP_JUMP_IF_FALSE)
		p.emitOp(OP_POP)
	}

	if !p.match(lexer.RPAREN) {
		bodyJump := p.emitJump(OP_JUMP)
		incrementStart := p.currentChunk().Len()
		p.expression()
		p.emitOp(OP_POP)
		p.consume(lexer.RPAREN, "Expect ')' after for clauses.")

		p.emitLoop(loopStart)
		loopStart = incrementStart
		p.patchJump(bodyJump)
	}

	p.beginLoop(loopStart)
	p.statement()
	p.emitLoop(loopStart)

	if exitJump != -1 {
		p.patchJump(exitJump)
		p.emitOp(OP_POP)
	}
	p.endLoop()
	p.endScope()
}

func (p *parser) returnStatement() {
	if p.compiler.funcType == typeScript {
		p.error("Can't return from top-level code.")
	}

	if p.match(lexer.SEMICOLON) {
		p.emitReturn()
		return
	}

	if p.compiler.funcType == typeInitializer {
		p.error("Can't return a value from an initializer.")
	}
	p.expression()
	p.consume(lexer.SEMICOLON, "Expect ';' after return value.")
	p.emitOp(OP_RETURN)
}

// breakStatement pops the scopes opened inside the loop and emits a jump
// patched at the loop's end.
func (p *parser) breakStatement() {
	c := p.compiler
	if len(c.loopStack) == 0 {
		p.error("Can't use 'break' outside of a loop.")
		p.consume(lexer.SEMICOLON, "Expect ';' after 'break'.")
		return
	}
	p.consume(lexer.SEMICOLON, "Expect ';' after 'break'.")

	loop := &c.loopStack[len(c.loopStack)-1]
	// Discard locals belonging to scopes inside the loop without touching
	// compiler bookkeeping; execution continues past the loop.
	for i := c.localCount - 1; i >= 0 && c.locals[i].depth > loop.scopeDepth; i-- {
		if c.locals[i].isCaptured {
			p.emitOp(OP_CLOSE_UPVALUE)
		} else {
			p.emitOp(OP_POP)
		}
	}

	jump := p.emitJump(OP_JUMP)
	loop.breakJumps = append(loop.breakJumps, jump)
}

// importStatement compiles both import forms.
func (p *parser) importStatement() {
	if p.check(lexer.STRING) {
		p.advance()
		pathConstant := p.makeConstant(ObjValue(p.vm.internString(p.previous.Value)))
		p.consume(lexer.SEMICOLON, "Expect ';' after import path.")
		p.emitOpByte(OP_IMPORT, p.constantOperand(pathConstant))
		return
	}

	var names []int
	for {
		p.consume(lexer.IDENT, "Expect import name.")
		names = append(names, p.identifierConstant(p.previous))
		if !p.match(lexer.COMMA) {
			break
		}
	}
	p.consume(lexer.FROM, "Expect 'from' after import names.")
	p.consume(lexer.STRING, "Expect module path string.")
	pathConstant := p.makeConstant(ObjValue(p.vm.internString(p.previous.Value)))
	p.consume(lexer.SEMICOLON, "Expect ';' after import path.")

	for _, name := range names {
		p.emitOp(OP_IMPORT_FROM)
		p.emitByte(p.constantOperand(pathConstant))
		p.emitByte(p.constantOperand(name))
	}
}
