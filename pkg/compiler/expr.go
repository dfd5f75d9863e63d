package compiler

import (
	"math"
	"strconv"

	"github.com/kristofer/loxvm/pkg/bytecode"
	"github.com/kristofer/loxvm/pkg/lexer"
	"github.com/kristofer/loxvm/pkg/value"
)

func (c *Compiler) number(_ bool) {
	n, err := strconv.ParseFloat(c.prev.Lexeme, 64)
	if err != nil {
		c.error("invalid number literal")
		return
	}
	c.emitConstant(value.Number(n))
}

func (c *Compiler) string(_ bool) {
	// Strip the surrounding quotes; loxvm has no escape sequences, matching
	// the distilled scanner's string() rule.
	raw := c.prev.Lexeme
	unquoted := raw[1 : len(raw)-1]
	s := c.heap.InternString(unquoted)
	c.emitConstant(value.FromObject(s))
}

func (c *Compiler) literal(_ bool) {
	switch c.prev.Type {
	case lexer.TokenFalse:
		c.emitOp(bytecode.OpFalse)
	case lexer.TokenTrue:
		c.emitOp(bytecode.OpTrue)
	case lexer.TokenNil:
		c.emitOp(bytecode.OpNil)
	}
}

func (c *Compiler) grouping(_ bool) {
	c.expression()
	c.consume(lexer.TokenRightParen, "expect ')' after expression")
}

func (c *Compiler) unary(_ bool) {
	op := c.prev.Type
	c.parsePrecedence(precUnary)
	switch op {
	case lexer.TokenBang:
		c.emitOp(bytecode.OpNot)
	case lexer.TokenMinus:
		c.emitOp(bytecode.OpNegate)
	}
}

func (c *Compiler) binary(_ bool) {
	op := c.prev.Type
	rule := c.ruleFor(op)
	c.parsePrecedence(rule.prec + 1)

	switch op {
	case lexer.TokenBangEqual:
		c.emitOp(bytecode.OpEqual)
		c.emitOp(bytecode.OpNot)
	case lexer.TokenEqualEqual:
		c.emitOp(bytecode.OpEqual)
	case lexer.TokenGreater:
		c.emitOp(bytecode.OpGreater)
	case lexer.TokenGreaterEqual:
		c.emitOp(bytecode.OpLesser)
		c.emitOp(bytecode.OpNot)
	case lexer.TokenLess:
		c.emitOp(bytecode.OpLesser)
	case lexer.TokenLessEqual:
		c.emitOp(bytecode.OpGreater)
		c.emitOp(bytecode.OpNot)
	case lexer.TokenPlus:
		c.emitOp(bytecode.OpAdd)
	case lexer.TokenMinus:
		c.emitOp(bytecode.OpSubtract)
	case lexer.TokenStar:
		c.emitOp(bytecode.OpMultiply)
	case lexer.TokenSlash:
		c.emitOp(bytecode.OpDivide)
	}
}

// and implements short-circuit `and`: if the LHS (already on the stack) is
// falsey, skip the RHS and leave the LHS as the result.
func (c *Compiler) and(_ bool) {
	endJump := c.emitJump(bytecode.OpJumpIfFalse)
	c.emitOp(bytecode.OpPop)
	c.parsePrecedence(precAnd)
	c.patchJump(endJump)
}

// or implements short-circuit `or`: if the LHS is truthy, skip the RHS.
func (c *Compiler) or(_ bool) {
	elseJump := c.emitJump(bytecode.OpJumpIfFalse)
	endJump := c.emitJump(bytecode.OpJump)
	c.patchJump(elseJump)
	c.emitOp(bytecode.OpPop)
	c.parsePrecedence(precOr)
	c.patchJump(endJump)
}

// ternary compiles `cond ? then : else`, right-associative, lowered to the
// same jump pattern as an if/else expression. Not part of clox proper; a
// small, commonly added Lox extension, included since the scanner already
// tokenizes `?`/`:` and leaving them unhandled would be the exact defect
// the language's own break/continue tokens had before this implementation
// wired those up too.
func (c *Compiler) ternary(_ bool) {
	thenJump := c.emitJump(bytecode.OpJumpIfFalse)
	c.emitOp(bytecode.OpPop)
	c.parsePrecedence(precAssignment)
	elseJump := c.emitJump(bytecode.OpJump)
	c.patchJump(thenJump)
	c.emitOp(bytecode.OpPop)
	c.consume(lexer.TokenColon, "expect ':' after '?' branch")
	c.parsePrecedence(precTernary)
	c.patchJump(elseJump)
}

func (c *Compiler) variable(canAssign bool) {
	c.namedVariable(c.prev.Lexeme, canAssign)
}

func (c *Compiler) namedVariable(name string, canAssign bool) {
	var getOp, setOp bytecode.OpCode
	var arg byte

	if slot := c.resolveLocal(c.current, name); slot != -1 {
		arg, getOp, setOp = byte(slot), bytecode.OpGetLocal, bytecode.OpSetLocal
	} else if slot := c.resolveUpvalue(c.current, name); slot != -1 {
		arg, getOp, setOp = byte(slot), bytecode.OpGetUpvalue, bytecode.OpSetUpvalue
	} else {
		arg, getOp, setOp = c.identifierConstant(name), bytecode.OpGetGlobal, bytecode.OpSetGlobal
	}

	if canAssign && c.match(lexer.TokenEqual) {
		c.expression()
		c.emitOpByte(setOp, arg)
	} else {
		c.emitOpByte(getOp, arg)
	}
}

func (c *Compiler) this(_ bool) {
	if c.currentClass == nil {
		c.error("can't use 'this' outside of a class")
		return
	}
	c.namedVariable("this", false)
}

func (c *Compiler) super(_ bool) {
	if c.currentClass == nil {
		c.error("can't use 'super' outside of a class")
		return
	} else if !c.currentClass.hasSuperclass {
		c.error("can't use 'super' in a class with no superclass")
	}

	c.consume(lexer.TokenDot, "expect '.' after 'super'")
	c.consume(lexer.TokenIdentifier, "expect superclass method name")
	name := c.identifierConstant(c.prev.Lexeme)

	c.namedVariable("this", false)
	if c.match(lexer.TokenLeftParen) {
		argCount := c.argumentList()
		c.namedVariable("super", false)
		c.emitOp(bytecode.OpSuperInvoke)
		c.emitByte(name)
		c.emitByte(argCount)
	} else {
		c.namedVariable("super", false)
		c.emitOpByte(bytecode.OpGetSuper, name)
	}
}

func (c *Compiler) dot(canAssign bool) {
	c.consume(lexer.TokenIdentifier, "expect property name after '.'")
	name := c.identifierConstant(c.prev.Lexeme)

	switch {
	case canAssign && c.match(lexer.TokenEqual):
		c.expression()
		c.emitOpByte(bytecode.OpSetProperty, name)
	case c.match(lexer.TokenLeftParen):
		argCount := c.argumentList()
		c.emitOp(bytecode.OpInvoke)
		c.emitByte(name)
		c.emitByte(argCount)
	default:
		c.emitOpByte(bytecode.OpGetProperty, name)
	}
}

func (c *Compiler) call(_ bool) {
	argCount := c.argumentList()
	c.emitOpByte(bytecode.OpCall, argCount)
}

func (c *Compiler) argumentList() byte {
	var argCount int
	if !c.check(lexer.TokenRightParen) {
		for {
			c.expression()
			if argCount == math.MaxUint8 {
				c.error("can't have more than 255 arguments")
			}
			argCount++
			if !c.match(lexer.TokenComma) {
				break
			}
		}
	}
	c.consume(lexer.TokenRightParen, "expect ')' after arguments")
	return byte(argCount)
}
