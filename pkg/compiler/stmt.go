package compiler

import (
	"github.com/kristofer/loxvm/pkg/bytecode"
	"github.com/kristofer/loxvm/pkg/lexer"
	"github.com/kristofer/loxvm/pkg/object"
	"github.com/kristofer/loxvm/pkg/value"
)

func (c *Compiler) declaration() {
	switch {
	case c.match(lexer.TokenClass):
		c.classDeclaration()
	case c.match(lexer.TokenFun):
		c.funDeclaration()
	case c.match(lexer.TokenVar):
		c.varDeclaration()
	default:
		c.statement()
	}
	if c.panicMode {
		c.synchronize()
	}
}

func (c *Compiler) statement() {
	switch {
	case c.match(lexer.TokenPrint):
		c.printStatement()
	case c.match(lexer.TokenFor):
		c.forStatement()
	case c.match(lexer.TokenIf):
		c.ifStatement()
	case c.match(lexer.TokenReturn):
		c.returnStatement()
	case c.match(lexer.TokenWhile):
		c.whileStatement()
	case c.match(lexer.TokenBreak):
		c.breakStatement()
	case c.match(lexer.TokenContinue):
		c.continueStatement()
	case c.match(lexer.TokenLeftBrace):
		c.beginScope()
		c.block()
		c.endScope()
	default:
		c.expressionStatement()
	}
}

func (c *Compiler) block() {
	for !c.check(lexer.TokenRightBrace) && !c.check(lexer.TokenEOF) {
		c.declaration()
	}
	c.consume(lexer.TokenRightBrace, "expect '}' after block")
}

func (c *Compiler) expressionStatement() {
	c.expression()
	c.consume(lexer.TokenSemicolon, "expect ';' after expression")
	c.emitOp(bytecode.OpPop)
}

func (c *Compiler) printStatement() {
	c.expression()
	c.consume(lexer.TokenSemicolon, "expect ';' after value")
	c.emitOp(bytecode.OpPrint)
}

func (c *Compiler) ifStatement() {
	c.consume(lexer.TokenLeftParen, "expect '(' after 'if'")
	c.expression()
	c.consume(lexer.TokenRightParen, "expect ')' after condition")

	thenJump := c.emitJump(bytecode.OpJumpIfFalse)
	c.emitOp(bytecode.OpPop)
	c.statement()

	elseJump := c.emitJump(bytecode.OpJump)
	c.patchJump(thenJump)
	c.emitOp(bytecode.OpPop)

	if c.match(lexer.TokenElse) {
		c.statement()
	}
	c.patchJump(elseJump)
}

func (c *Compiler) pushLoop() {
	c.loop = &loopState{
		enclosing:  c.loop,
		loopStart:  len(c.chunk().Code),
		localCount: len(c.current.locals),
	}
}

func (c *Compiler) popLoop() {
	for _, hole := range c.loop.breakJumps {
		c.patchJump(hole)
	}
	c.loop = c.loop.enclosing
}

// emitLoopExitPops unwinds every local declared since the innermost loop
// was entered, the cleanup a normal fall-through endScope would perform,
// needed here because break/continue jump past those endScope calls.
func (c *Compiler) emitLoopExitPops() {
	locals := c.current.locals
	for i := len(locals) - 1; i >= c.loop.localCount; i-- {
		if locals[i].isCaptured {
			c.emitOp(bytecode.OpCloseUpvalue)
		} else {
			c.emitOp(bytecode.OpPop)
		}
	}
}

func (c *Compiler) whileStatement() {
	c.pushLoop()
	c.consume(lexer.TokenLeftParen, "expect '(' after 'while'")
	c.expression()
	c.consume(lexer.TokenRightParen, "expect ')' after condition")

	exitJump := c.emitJump(bytecode.OpJumpIfFalse)
	c.emitOp(bytecode.OpPop)
	c.statement()
	c.emitLoop(c.loop.loopStart)

	c.patchJump(exitJump)
	c.emitOp(bytecode.OpPop)
	c.popLoop()
}

func (c *Compiler) forStatement() {
	c.beginScope()
	c.consume(lexer.TokenLeftParen, "expect '(' after 'for'")

	switch {
	case c.match(lexer.TokenSemicolon):
		// No initializer.
	case c.match(lexer.TokenVar):
		c.varDeclaration()
	default:
		c.expressionStatement()
	}

	c.pushLoop()
	exitJump := -1
	if !c.match(lexer.TokenSemicolon) {
		c.expression()
		c.consume(lexer.TokenSemicolon, "expect ';' after loop condition")
		exitJump = c.emitJump(bytecode.OpJumpIfFalse)
		c.emitOp(bytecode.OpPop)
	}

	if !c.match(lexer.TokenRightParen) {
		bodyJump := c.emitJump(bytecode.OpJump)
		incrementStart := len(c.chunk().Code)
		c.expression()
		c.emitOp(bytecode.OpPop)
		c.consume(lexer.TokenRightParen, "expect ')' after for clauses")

		c.emitLoop(c.loop.loopStart)
		c.loop.loopStart = incrementStart
		c.patchJump(bodyJump)
	}

	c.statement()
	c.emitLoop(c.loop.loopStart)

	if exitJump != -1 {
		c.patchJump(exitJump)
		c.emitOp(bytecode.OpPop)
	}
	c.popLoop()
	c.endScope()
}

func (c *Compiler) breakStatement() {
	if c.loop == nil {
		c.error("can't use 'break' outside of a loop")
		return
	}
	c.consume(lexer.TokenSemicolon, "expect ';' after 'break'")
	c.emitLoopExitPops()
	hole := c.emitJump(bytecode.OpJump)
	c.loop.breakJumps = append(c.loop.breakJumps, hole)
}

func (c *Compiler) continueStatement() {
	if c.loop == nil {
		c.error("can't use 'continue' outside of a loop")
		return
	}
	c.consume(lexer.TokenSemicolon, "expect ';' after 'continue'")
	c.emitLoopExitPops()
	c.emitLoop(c.loop.loopStart)
}

func (c *Compiler) returnStatement() {
	if c.current.funcType == object.FuncTypeScript {
		c.error("can't return from top-level code")
	}
	if c.match(lexer.TokenSemicolon) {
		c.emitReturn()
		return
	}
	if c.current.funcType == object.FuncTypeInitializer {
		c.error("can't return a value from an initializer")
	}
	c.expression()
	c.consume(lexer.TokenSemicolon, "expect ';' after return value")
	c.emitOp(bytecode.OpReturn)
}

func (c *Compiler) varDeclaration() {
	global := c.parseVariable("expect variable name")
	if c.match(lexer.TokenEqual) {
		c.expression()
	} else {
		c.emitOp(bytecode.OpNil)
	}
	c.consume(lexer.TokenSemicolon, "expect ';' after variable declaration")
	c.defineVariable(global)
}

func (c *Compiler) funDeclaration() {
	global := c.parseVariable("expect function name")
	c.markInitialized()
	c.function(object.FuncTypeFunction)
	c.defineVariable(global)
}

// function compiles a function body: parameters, then a block, as its own
// nested funcState, and emits the enclosing OP_CLOSURE that turns the
// resulting prototype into a runtime closure over its captured upvalues.
func (c *Compiler) function(ft object.FunctionType) {
	name := c.prev.Lexeme
	c.pushFunc(ft, name)
	c.beginScope()

	c.consume(lexer.TokenLeftParen, "expect '(' after function name")
	if !c.check(lexer.TokenRightParen) {
		for {
			c.current.function.Arity++
			if c.current.function.Arity > 255 {
				c.errorAtCurr("can't have more than 255 parameters")
			}
			constant := c.parseVariable("expect parameter name")
			c.defineVariable(constant)
			if !c.match(lexer.TokenComma) {
				break
			}
		}
	}
	c.consume(lexer.TokenRightParen, "expect ')' after parameters")
	c.consume(lexer.TokenLeftBrace, "expect '{' before function body")
	c.block()

	fs := c.current
	fn := c.endFunc()
	c.emitOpByte(bytecode.OpClosure, c.makeConstant(value.FromObject(fn)))
	for _, uv := range fs.upvalues {
		if uv.isLocal {
			c.emitByte(1)
		} else {
			c.emitByte(0)
		}
		c.emitByte(uv.index)
	}
}

func (c *Compiler) method() {
	c.consume(lexer.TokenIdentifier, "expect method name")
	name := c.prev.Lexeme
	constant := c.identifierConstant(name)

	ft := object.FuncTypeMethod
	if name == "init" {
		ft = object.FuncTypeInitializer
	}
	c.function(ft)
	c.emitOpByte(bytecode.OpMethod, constant)
}

func (c *Compiler) classDeclaration() {
	c.consume(lexer.TokenIdentifier, "expect class name")
	className := c.prev.Lexeme
	nameConstant := c.identifierConstant(className)
	c.declareVariable()

	c.emitOpByte(bytecode.OpClass, nameConstant)
	c.defineVariable(nameConstant)

	cs := &classState{enclosing: c.currentClass}
	c.currentClass = cs

	if c.match(lexer.TokenLess) {
		c.consume(lexer.TokenIdentifier, "expect superclass name")
		c.variable(false)
		if c.prev.Lexeme == className {
			c.error("a class can't inherit from itself")
		}

		c.beginScope()
		c.addLocal("super")
		c.defineVariable(0)

		c.namedVariable(className, false)
		c.emitOp(bytecode.OpInherit)
		cs.hasSuperclass = true
	}

	c.namedVariable(className, false)
	c.consume(lexer.TokenLeftBrace, "expect '{' before class body")
	for !c.check(lexer.TokenRightBrace) && !c.check(lexer.TokenEOF) {
		c.method()
	}
	c.consume(lexer.TokenRightBrace, "expect '}' after class body")
	c.emitOp(bytecode.OpPop)

	if cs.hasSuperclass {
		c.endScope()
	}
	c.currentClass = cs.enclosing
}
