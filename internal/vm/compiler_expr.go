package vm

import (
	"strconv"

	"github.com/cmel-lang/cmel/internal/lexer"
)

// precedence orders the expression grammar from loosest to tightest.
type precedence int

const (
	precNone       precedence = iota
	precAssignment            // =
	precOr                    // or
	precAnd                   // and
	precEquality              // == !=
	precComparison            // < > <= >=
	precTerm                  // + -
	precFactor                // * / %
	precUnary                 // ! -
	precCall                  // . () []
	precPrimary
)

type parseFn func(p *parser, canAssign bool)

type parseRule struct {
	prefix parseFn
	infix  parseFn
	prec   precedence
}

var rules map[lexer.TokenType]parseRule

func init() {
	rules = map[lexer.TokenType]parseRule{
		lexer.LPAREN:        {prefix: grouping, infix: call, prec: precCall},
		lexer.LBRACKET:      {prefix: listLiteral, infix: subscript, prec: precCall},
		lexer.LBRACE:        {prefix: mapLiteral},
		lexer.DOT:           {infix: dot, prec: precCall},
		lexer.MINUS:         {prefix: unary, infix: binary, prec: precTerm},
		lexer.PLUS:          {infix: binary, prec: precTerm},
		lexer.SLASH:         {infix: binary, prec: precFactor},
		lexer.STAR:          {infix: binary, prec: precFactor},
		lexer.PERCENT:       {infix: binary, prec: precFactor},
		lexer.BANG:          {prefix: unary},
		lexer.BANG_EQUAL:    {infix: binary, prec: precEquality},
		lexer.EQUAL_EQUAL:   {infix: binary, prec: precEquality},
		lexer.GREATER:       {infix: binary, prec: precComparison},
		lexer.GREATER_EQUAL: {infix: binary, prec: precComparison},
		lexer.LESS:          {infix: binary, prec: precComparison},
		lexer.LESS_EQUAL:    {infix: binary, prec: precComparison},
		lexer.IDENT:         {prefix: identifier},
		lexer.STRING:        {prefix: stringLiteral},
		lexer.NUMBER:        {prefix: number},
		lexer.AND:           {infix: and, prec: precAnd},
		lexer.OR:            {infix: or, prec: precOr},
		lexer.FALSE:         {prefix: literal},
		lexer.TRUE:          {prefix: literal},
		lexer.NIL:           {prefix: literal},
		lexer.FUN:           {prefix: lambda},
		lexer.THIS:          {prefix: this},
		lexer.SUPER:         {prefix: superExpr},
	}
}

func getRule(typ lexer.TokenType) parseRule {
	return rules[typ]
}

func (p *parser) expression() {
	p.parsePrecedence(precAssignment)
}

// parsePrecedence is the Pratt core: one prefix parse, then infix parses
// while the lookahead binds at least as tightly.
func (p *parser) parsePrecedence(prec precedence) {
	p.advance()
	prefix := getRule(p.previous.Type).prefix
	if prefix == nil {
		p.error("Expect expression.")
		return
	}

	canAssign := prec <= precAssignment
	prefix(p, canAssign)

	for prec <= getRule(p.current.Type).prec {
		p.advance()
		infix := getRule(p.previous.Type).infix
		infix(p, canAssign)
	}

	if canAssign && p.match(lexer.EQUAL) {
		p.error("Invalid assignment target.")
	}
}

func grouping(p *parser, canAssign bool) {
	p.expression()
	p.consume(lexer.RPAREN, "Expect ')' after expression.")
}

func number(p *parser, canAssign bool) {
	value, _ := strconv.ParseFloat(p.previous.Lexeme, 64)
	p.emitConstant(NumberValue(value))
}

func stringLiteral(p *parser, canAssign bool) {
	p.emitConstant(ObjValue(p.vm.internString(p.previous.Value)))
}

func literal(p *parser, canAssign bool) {
	switch p.previous.Type {
	case lexer.FALSE:
		p.emitOp(OP_FALSE)
	case lexer.TRUE:
		p.emitOp(OP_TRUE)
	case lexer.NIL:
		p.emitOp(OP_NIL)
	}
}

func unary(p *parser, canAssign bool) {
	operator := p.previous.Type
	p.parsePrecedence(precUnary)
	switch operator {
	case lexer.MINUS:
		p.emitOp(OP_NEGATE)
	case lexer.BANG:
		p.emitOp(OP_NOT)
	}
}

func binary(p *parser, canAssign bool) {
	operator := p.previous.Type
	rule := getRule(operator)
	p.parsePrecedence(rule.prec + 1)

	switch operator {
	case lexer.PLUS:
		p.emitOp(OP_ADD)
	case lexer.MINUS:
		p.emitOp(OP_SUBTRACT)
	case lexer.STAR:
		p.emitOp(OP_MULTIPLY)
	case lexer.SLASH:
		p.emitOp(OP_DIVIDE)
	case lexer.PERCENT:
		p.emitOp(OP_MODULO)
	case lexer.BANG_EQUAL:
		p.emitOps(OP_EQUAL, OP_NOT)
	case lexer.EQUAL_EQUAL:
		p.emitOp(OP_EQUAL)
	case lexer.GREATER:
		p.emitOp(OP_GREATER)
	case lexer.LESS:
		p.emitOp(OP_LESS)
	case lexer.GREATER_EQUAL:
		// a >= b compiles as !(a < b); NaN operands follow from that.
		p.emitOps(OP_LESS, OP_NOT)
	case lexer.LESS_EQUAL:
		p.emitOps(OP_GREATER, OP_NOT)
	}
}

func and(p *parser, canAssign bool) {
	endJump := p.emitJump(OP_JUMP_IF_FALSE)
	p.emitOp(OP_POP)
	p.parsePrecedence(precAnd)
	p.patchJump(endJump)
}

func or(p *parser, canAssign bool) {
	elseJump := p.emitJump(OP_JUMP_IF_FALSE)
	endJump := p.emitJump(OP_JUMP)
	p.patchJump(elseJump)
	p.emitOp(OP_POP)
	p.parsePrecedence(precOr)
	p.patchJump(endJump)
}

func call(p *parser, canAssign bool) {
	argCount := p.argumentList()
	p.emitOpByte(OP_CALL, argCount)
}

func (p *parser) argumentList() byte {
	count := 0
	if !p.check(lexer.RPAREN) {
		for {
			p.expression()
			if count == 255 {
				p.error("Can't have more than 255 arguments.")
			}
			count++
			if !p.match(lexer.COMMA) {
				break
			}
		}
	}
	p.consume(lexer.RPAREN, "Expect ')' after arguments.")
	return byte(count)
}

func dot(p *parser, canAssign bool) {
	p.consume(lexer.IDENT, "Expect property name after '.'.")
	name := p.constantOperand(p.identifierConstant(p.previous))

	if canAssign && p.match(lexer.EQUAL) {
		p.expression()
		p.emitOpByte(OP_SET_PROPERTY, name)
	} else if p.match(lexer.LPAREN) {
		argCount := p.argumentList()
		p.emitOpByte(OP_INVOKE, name)
		p.emitByte(argCount)
	} else {
		p.emitOpByte(OP_GET_PROPERTY, name)
	}
}

func subscript(p *parser, canAssign bool) {
	p.expression()
	p.consume(lexer.RBRACKET, "Expect ']' after index.")

	if canAssign && p.match(lexer.EQUAL) {
		p.expression()
		p.emitOp(OP_STORE)
	} else {
		p.emitOp(OP_INDEX)
	}
}

func listLiteral(p *parser, canAssign bool) {
	count := 0
	if !p.check(lexer.RBRACKET) {
		for {
			p.expression()
			if count == 255 {
				p.error("Can't have more than 255 elements in a list literal.")
			}
			count++
			if !p.match(lexer.COMMA) {
				break
			}
		}
	}
	p.consume(lexer.RBRACKET, "Expect ']' after list elements.")
	p.emitOpByte(OP_BUILD_LIST, byte(count))
}

// mapLiteral compiles `{key: value, ...}`. Keys are string literals or
// bare identifiers standing for their own name.
func mapLiteral(p *parser, canAssign bool) {
	pairs := 0
	if !p.check(lexer.RBRACE) {
		for {
			switch {
			case p.match(lexer.STRING):
				p.emitConstant(ObjValue(p.vm.internString(p.previous.Value)))
			case p.match(lexer.IDENT):
				p.emitConstant(ObjValue(p.vm.internString(p.previous.Lexeme)))
			default:
				p.errorAtCurrent("Expect map key.")
				return
			}
			p.consume(lexer.COLON, "Expect ':' after map key.")
			p.expression()
			if pairs == 255 {
				p.error("Can't have more than 255 entries in a map literal.")
			}
			pairs++
			if !p.match(lexer.COMMA) {
				break
			}
		}
	}
	p.consume(lexer.RBRACE, "Expect '}' after map entries.")
	p.emitOpByte(OP_BUILD_MAP, byte(pairs))
}

func lambda(p *parser, canAssign bool) {
	p.function(typeFunction, "")
}

func identifier(p *parser, canAssign bool) {
	p.namedVariable(p.previous, canAssign)
}

// variable re-parses the previous token as a read of that name.
func (p *parser) variable(canAssign bool) {
	p.namedVariable(p.previous, canAssign)
}

// namedVariable emits the get or set for a name, resolving local, then
// upvalue, then global.
func (p *parser) namedVariable(name lexer.Token, canAssign bool) {
	var getOp, setOp Opcode
	var arg int
	var isConst bool

	if local := p.resolveLocal(p.compiler, name); local != -1 {
		getOp, setOp = OP_GET_LOCAL, OP_SET_LOCAL
		arg = local
		isConst = p.compiler.locals[local].isConst
	} else if upval := p.resolveUpvalue(p.compiler, name); upval != -1 {
		getOp, setOp = OP_GET_UPVALUE, OP_SET_UPVALUE
		arg = upval
		isConst = p.compiler.upvalues[upval].isConst
	} else {
		getOp, setOp = OP_GET_GLOBAL, OP_SET_GLOBAL
		arg = p.constantIndexByte(name)
		isConst = p.constGlobals[name.Lexeme]
	}

	if canAssign && p.match(lexer.EQUAL) {
		if isConst {
			p.error("Cannot assign to a const variable.")
		}
		p.expression()
		p.emitOpByte(setOp, byte(arg))
	} else {
		p.emitOpByte(getOp, byte(arg))
	}
}

func (p *parser) constantIndexByte(name lexer.Token) int {
	return int(p.constantOperand(p.identifierConstant(name)))
}

func this(p *parser, canAssign bool) {
	if p.class == nil {
		p.error("Can't use 'this' outside of a class.")
		return
	}
	p.variable(false)
}

func superExpr(p *parser, canAssign bool) {
	if p.class == nil {
		p.error("Can't use 'super' outside of a class.")
	} else if !p.class.hasSuperclass {
		p.error("Can't use 'super' in a class with no superclass.")
	}

	p.consume(lexer.DOT, "Expect '.' after 'super'.")
	p.consume(lexer.IDENT, "Expect superclass method name.")
	name := p.constantOperand(p.identifierConstant(p.previous))

	p.namedVariable(lexer.Token{Type: lexer.THIS, Lexeme: "this"}, false)
	if p.match(lexer.LPAREN) {
		argCount := p.argumentList()
		p.namedVariable(lexer.Token{Type: lexer.SUPER, Lexeme: "super"}, false)
		p.emitOpByte(OP_SUPER_INVOKE, name)
		p.emitByte(argCount)
	} else {
		p.namedVariable(lexer.Token{Type: lexer.SUPER, Lexeme: "super"}, false)
		p.emitOpByte(OP_GET_SUPER, name)
	}
}
