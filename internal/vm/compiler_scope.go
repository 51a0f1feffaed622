package vm

import "github.com/cmel-lang/cmel/internal/lexer"

// local represents a local variable during compilation. depth is -1
// between declaration and the end of the initializer, which is what makes
// `var x = x;` a compile error.
type local struct {
	name       lexer.Token
	depth      int
	isCaptured bool
	isConst    bool
}

// upvalue records one captured variable in the function being compiled.
type upvalue struct {
	index   byte
	isLocal bool
	isConst bool
}

// functionType distinguishes the kinds of function bodies the compiler
// can be inside; returns and `this` are legal in some and not others.
type functionType int

const (
	typeScript functionType = iota
	typeFunction
	typeMethod
	typeInitializer
)

// loopContext tracks an enclosing loop for break patching.
type loopContext struct {
	start      int   // bytecode offset each iteration jumps back to
	scopeDepth int   // scope depth at loop entry
	breakJumps []int // jump operands to patch to the loop exit
}

const maxLocals = 256

// funcCompiler holds per-function compilation state. Compilers nest
// through enclosing for nested function declarations; the chain doubles
// as a GC root set for the functions under construction.
type funcCompiler struct {
	enclosing *funcCompiler
	function  *ObjFunction
	funcType  functionType

	locals     [maxLocals]local
	localCount int
	scopeDepth int

	upvalues [maxLocals]upvalue

	loopStack []loopContext
}

// classCompiler tracks the innermost class declaration, for `this` and
// `super` validity checks.
type classCompiler struct {
	enclosing     *classCompiler
	hasSuperclass bool
}

func (p *parser) beginScope() {
	p.compiler.scopeDepth++
}

// endScope pops the scope's locals, closing the ones captured by inner
// functions.
func (p *parser) endScope() {
	c := p.compiler
	c.scopeDepth--

	for c.localCount > 0 && c.locals[c.localCount-1].depth > c.scopeDepth {
		if c.locals[c.localCount-1].isCaptured {
			p.emitOp(OP_CLOSE_UPVALUE)
		} else {
			p.emitOp(OP_POP)
		}
		c.localCount--
	}
}

func (p *parser) addLocal(name lexer.Token, isConst bool) {
	c := p.compiler
	if c.localCount == maxLocals {
		p.error("Too many local variables in function.")
		return
	}
	c.locals[c.localCount] = local{name: name, depth: -1, isConst: isConst}
	c.localCount++
}

func (p *parser) markInitialized() {
	c := p.compiler
	if c.scopeDepth == 0 {
		return
	}
	c.locals[c.localCount-1].depth = c.scopeDepth
}

// resolveLocal finds a local by name in one compiler, innermost first.
func (p *parser) resolveLocal(c *funcCompiler, name lexer.Token) int {
	for i := c.localCount - 1; i >= 0; i-- {
		l := &c.locals[i]
		if name.Lexeme == l.name.Lexeme {
			if l.depth == -1 {
				p.error("Can't read local variable in its own initializer.")
			}
			return i
		}
	}
	return -1
}

// resolveUpvalue searches enclosing functions for name, recording an
// upvalue at every level between the capture site and the local.
func (p *parser) resolveUpvalue(c *funcCompiler, name lexer.Token) int {
	if c.enclosing == nil {
		return -1
	}

	if localIdx := p.resolveLocal(c.enclosing, name); localIdx != -1 {
		src := &c.enclosing.locals[localIdx]
		src.isCaptured = true
		return p.addUpvalue(c, byte(localIdx), true, src.isConst)
	}

	if upvalueIdx := p.resolveUpvalue(c.enclosing, name); upvalueIdx != -1 {
		isConst := c.enclosing.upvalues[upvalueIdx].isConst
		return p.addUpvalue(c, byte(upvalueIdx), false, isConst)
	}

	return -1
}

// addUpvalue records a capture, deduplicating repeated references to the
// same variable.
func (p *parser) addUpvalue(c *funcCompiler, index byte, isLocal bool, isConst bool) int {
	count := c.function.UpvalueCount
	for i := 0; i < count; i++ {
		u := &c.upvalues[i]
		if u.index == index && u.isLocal == isLocal {
			return i
		}
	}

	if count == maxLocals {
		p.error("Too many closure variables in function.")
		return 0
	}

	c.upvalues[count] = upvalue{index: index, isLocal: isLocal, isConst: isConst}
	c.function.UpvalueCount++
	return count
}

// Emit helpers. Every byte is stamped with the line of the token that
// produced it.

func (p *parser) currentChunk() *Chunk {
	return &p.compiler.function.Chunk
}

func (p *parser) emitByte(b byte) {
	p.currentChunk().Write(b, p.previous.Line)
}

func (p *parser) emitOp(op Opcode) {
	p.emitByte(byte(op))
}

func (p *parser) emitOps(op1, op2 Opcode) {
	p.emitOp(op1)
	p.emitOp(op2)
}

func (p *parser) emitOpByte(op Opcode, b byte) {
	p.emitOp(op)
	p.emitByte(b)
}

// makeConstant appends to the constant pool and returns the index, or 0
// after reporting pool exhaustion.
func (p *parser) makeConstant(value Value) int {
	idx := p.currentChunk().AddConstant(value)
	if idx == -1 {
		p.error("Too many constants in one chunk.")
		return 0
	}
	return idx
}

// constantOperand narrows a constant index to the single-byte operand
// used by name-addressed instructions.
func (p *parser) constantOperand(idx int) byte {
	if idx > 0xff {
		p.error("Too many constants in one chunk.")
		return 0
	}
	return byte(idx)
}

// emitConstant pushes a literal, choosing the short or long form by index
// width.
func (p *parser) emitConstant(value Value) {
	idx := p.makeConstant(value)
	if idx < 256 {
		p.emitOpByte(OP_CONSTANT, byte(idx))
		return
	}
	p.emitOp(OP_CONSTANT_LONG)
	p.emitByte(byte(idx))
	p.emitByte(byte(idx >> 8))
	p.emitByte(byte(idx >> 16))
}

// emitJump writes a forward jump with a placeholder operand and returns
// the operand's offset for patching.
func (p *parser) emitJump(op Opcode) int {
	p.emitOp(op)
	p.emitByte(0xff)
	p.emitByte(0xff)
	return p.currentChunk().Len() - 2
}

func (p *parser) patchJump(offset int) {
	jump := p.currentChunk().Len() - offset - 2
	if jump > 0xffff {
		p.error("Too much code to jump over.")
	}
	p.currentChunk().Code[offset] = byte(jump >> 8)
	p.currentChunk().Code[offset+1] = byte(jump)
}

// emitLoop writes a backward jump to loopStart.
func (p *parser) emitLoop(loopStart int) {
	p.emitOp(OP_LOOP)
	offset := p.currentChunk().Len() - loopStart + 2
	if offset > 0xffff {
		p.error("Loop body too large.")
	}
	p.emitByte(byte(offset >> 8))
	p.emitByte(byte(offset))
}

func (p *parser) emitReturn() {
	if p.compiler.funcType == typeInitializer {
		// Constructors implicitly return their instance (slot 0).
		p.emitOpByte(OP_GET_LOCAL, 0)
	} else {
		p.emitOp(OP_NIL)
	}
	p.emitOp(OP_RETURN)
}

// Loop tracking for break.

func (p *parser) beginLoop(start int) {
	c := p.compiler
	c.loopStack = append(c.loopStack, loopContext{start: start, scopeDepth: c.scopeDepth})
}

// endLoop patches every pending break to jump here.
func (p *parser) endLoop() {
	c := p.compiler
	loop := c.loopStack[len(c.loopStack)-1]
	c.loopStack = c.loopStack[:len(c.loopStack)-1]
	for _, jump := range loop.breakJumps {
		p.patchJump(jump)
	}
}
