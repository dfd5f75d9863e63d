// Package compiler implements loxvm's single-pass compiler: scanning,
// Pratt parsing, and bytecode emission happen in one fused pass with no
// intermediate AST, mirroring the teacher's instinct for pipelining parse
// and codegen but generalized to the language this VM executes.
package compiler

import (
	"fmt"
	"math"

	"github.com/hashicorp/go-multierror"
	"github.com/josharian/intern"
	"github.com/sirupsen/logrus"

	"github.com/kristofer/loxvm/pkg/bytecode"
	"github.com/kristofer/loxvm/pkg/heap"
	"github.com/kristofer/loxvm/pkg/lexer"
	"github.com/kristofer/loxvm/pkg/object"
	"github.com/kristofer/loxvm/pkg/value"
)

const uninitialized = -1

// local is one entry in a funcState's stack-slot-ordered local variable
// list. Depth is uninitialized while the local's initializer is still
// compiling, so a reference to the variable's own name in its initializer
// ("var x = x;") can be rejected.
type local struct {
	name       string
	depth      int
	isCaptured bool
}

// upvalueRef records, for one funcState, where the Nth upvalue it closes
// over comes from: either slot index in the immediately enclosing
// function's locals (isLocal), or upvalue index of that enclosing
// function (chained capture, for a closure three or more levels deep).
type upvalueRef struct {
	index   byte
	isLocal bool
}

// funcState is the compiler's notion of "the function currently being
// compiled". Compiling a nested `fun` or method pushes a new funcState
// enclosing the old one; compiling its body finishes by popping back.
type funcState struct {
	enclosing *funcState
	function  *object.ObjFunction
	funcType  object.FunctionType
	locals    []local
	scopeDepth int
	upvalues  []upvalueRef
}

// classState tracks the class currently being compiled, so `this` and
// `super` can be validated and so methods know whether a superclass local
// is in scope.
type classState struct {
	enclosing     *classState
	hasSuperclass bool
}

// loopState tracks the innermost loop currently being compiled, so
// `break`/`continue` can be rejected outside a loop and otherwise emit the
// right jumps.
type loopState struct {
	enclosing  *loopState
	loopStart  int
	breakJumps []int
	// localCount is len(current.locals) at the point the loop was entered,
	// i.e. before its body's own scope (and any scope nested inside it) add
	// locals. break/continue must pop everything declared since, the same
	// cleanup a normal fall-through endScope would do, since the jump they
	// emit skips straight past those endScope calls.
	localCount int
}

// Compiler compiles one source string into a top-level ObjFunction (the
// "script"). It registers itself as a heap.RootSource for the duration of
// compilation, since functions under construction are reachable only
// through the compiler's own funcState chain.
type Compiler struct {
	lex  *lexer.Lexer
	heap *heap.Heap

	prev, curr lexer.Token

	current      *funcState
	currentClass *classState
	loop         *loopState

	errors    *multierror.Error
	panicMode bool

	log *logrus.Logger
}

// New constructs a Compiler for source, ready to compile it as a script
// (the unit the REPL and `run` both compile: a zero-arg top-level
// function). h must outlive the Compiler.
func New(source string, h *heap.Heap, log *logrus.Logger) *Compiler {
	c := &Compiler{
		lex:  lexer.New(source),
		heap: h,
		log:  log,
	}
	c.pushFunc(object.FuncTypeScript, "")
	h.AddRoot(c)
	return c
}

// Compile runs the compiler to completion, returning the compiled script
// function and any accumulated compile errors (nil if none). On error the
// returned function is still usable for inspection but must not be run.
func (c *Compiler) Compile() (*object.ObjFunction, error) {
	c.advance()
	for !c.match(lexer.TokenEOF) {
		c.declaration()
	}
	fn := c.endFunc()
	c.heap.RemoveRoot(c)
	if c.errors != nil {
		// One "[line N] error at ..." line per error, without multierror's
		// default "N errors occurred" header and bullet prefixes.
		c.errors.ErrorFormat = func(errs []error) string {
			s := ""
			for i, e := range errs {
				if i > 0 {
					s += "\n"
				}
				s += e.Error()
			}
			return s
		}
	}
	return fn, c.errors.ErrorOrNil()
}

// MarkRoots implements heap.RootSource: every function prototype still
// under construction (this one and every function enclosing it, for a
// nested `fun` or method) must survive a collection triggered mid-compile.
func (c *Compiler) MarkRoots(h *heap.Heap) {
	for fs := c.current; fs != nil; fs = fs.enclosing {
		h.MarkObject(fs.function)
	}
}

func (c *Compiler) pushFunc(ft object.FunctionType, name string) {
	fn := c.heap.NewFunction()
	fn.Name = name
	fs := &funcState{
		enclosing: c.current,
		function:  fn,
		funcType:  ft,
		// Slot 0 is reserved: the receiver for methods/initializers, the
		// called closure itself for bare functions and the script.
		locals: []local{{name: receiverSlotName(ft), depth: 0}},
	}
	c.current = fs
}

func receiverSlotName(ft object.FunctionType) string {
	if ft == object.FuncTypeMethod || ft == object.FuncTypeInitializer {
		return "this"
	}
	return ""
}

// endFunc finalizes the current funcState's function (emitting the
// implicit trailing return) and pops back to the enclosing one.
func (c *Compiler) endFunc() *object.ObjFunction {
	c.emitReturn()
	fn := c.current.function
	if c.log != nil {
		var buf fmtBuffer
		fn.Chunk.Disassemble(&buf, displayName(fn))
		c.log.WithField("function", displayName(fn)).Debug("compiler: " + buf.String())
	}
	c.current = c.current.enclosing
	return fn
}

func displayName(fn *object.ObjFunction) string {
	if fn.Name == "" {
		return "<script>"
	}
	return fn.Name
}

func (c *Compiler) chunk() *bytecode.Chunk { return c.current.function.Chunk }

/* Token stream */

func (c *Compiler) advance() {
	c.prev = c.curr
	for {
		c.curr = c.lex.NextToken()
		if c.curr.Type != lexer.TokenError {
			break
		}
		c.errorAt(c.curr, c.curr.Lexeme)
	}
}

func (c *Compiler) check(tt lexer.TokenType) bool { return c.curr.Type == tt }

func (c *Compiler) match(tt lexer.TokenType) bool {
	if !c.check(tt) {
		return false
	}
	c.advance()
	return true
}

func (c *Compiler) consume(tt lexer.TokenType, message string) {
	if c.curr.Type == tt {
		c.advance()
		return
	}
	c.errorAt(c.curr, message)
}

/* Error handling */

func (c *Compiler) errorAt(tok lexer.Token, message string) {
	if c.panicMode {
		return
	}
	c.panicMode = true

	var err error
	if tok.Type == lexer.TokenEOF {
		err = fmt.Errorf("[line %d] error at end: %s", tok.Line, message)
	} else {
		err = fmt.Errorf("[line %d] error at '%s': %s", tok.Line, tok.Lexeme, message)
	}
	c.errors = multierror.Append(c.errors, err)
	if c.log != nil {
		c.log.WithField("line", tok.Line).Debug(err.Error())
	}
}

func (c *Compiler) error(message string)    { c.errorAt(c.prev, message) }
func (c *Compiler) errorAtCurr(message string) { c.errorAt(c.curr, message) }

// synchronize implements clox's panic-mode recovery: skip tokens until a
// statement boundary, so one error doesn't cascade into dozens of
// misleading follow-on errors.
func (c *Compiler) synchronize() {
	c.panicMode = false
	for c.curr.Type != lexer.TokenEOF {
		if c.prev.Type == lexer.TokenSemicolon {
			return
		}
		switch c.curr.Type {
		case lexer.TokenClass, lexer.TokenFun, lexer.TokenVar, lexer.TokenFor,
			lexer.TokenIf, lexer.TokenWhile, lexer.TokenPrint, lexer.TokenReturn:
			return
		}
		c.advance()
	}
}

/* Emission */

func (c *Compiler) emitByte(b byte) {
	c.chunk().Write(b, c.prev.Line)
}

func (c *Compiler) emitOp(op bytecode.OpCode) { c.emitByte(byte(op)) }

func (c *Compiler) emitOpByte(op bytecode.OpCode, b byte) {
	c.emitOp(op)
	c.emitByte(b)
}

func (c *Compiler) emitReturn() {
	if c.current.funcType == object.FuncTypeInitializer {
		c.emitOpByte(bytecode.OpGetLocal, 0)
	} else {
		c.emitOp(bytecode.OpNil)
	}
	c.emitOp(bytecode.OpReturn)
}

func (c *Compiler) makeConstant(v value.Value) byte {
	index := c.chunk().AddConstant(v)
	if index > math.MaxUint8 {
		c.error("too many constants in one chunk")
		return 0
	}
	return byte(index)
}

func (c *Compiler) emitConstant(v value.Value) {
	c.emitOpByte(bytecode.OpConstant, c.makeConstant(v))
}

// identifierConstant interns name and stores it in the constant pool,
// returning its index, used for every OP_*_GLOBAL/OP_*_PROPERTY/OP_METHOD/
// OP_CLASS operand.
func (c *Compiler) identifierConstant(name string) byte {
	s := c.heap.InternString(intern.String(name))
	return c.makeConstant(value.FromObject(s))
}

func (c *Compiler) emitJump(op bytecode.OpCode) int {
	c.emitOp(op)
	c.emitByte(0xff)
	c.emitByte(0xff)
	return len(c.chunk().Code) - 2
}

func (c *Compiler) patchJump(offset int) {
	jump := len(c.chunk().Code) - offset - 2
	if jump > math.MaxUint16 {
		c.error("too much code to jump over")
		return
	}
	c.chunk().Code[offset] = byte(jump >> 8 & 0xff)
	c.chunk().Code[offset+1] = byte(jump & 0xff)
}

func (c *Compiler) emitLoop(loopStart int) {
	c.emitOp(bytecode.OpLoop)
	offset := len(c.chunk().Code) - loopStart + 2
	if offset > math.MaxUint16 {
		c.error("loop body too large")
		return
	}
	c.emitByte(byte(offset >> 8 & 0xff))
	c.emitByte(byte(offset & 0xff))
}

/* Scopes and variables */

func (c *Compiler) beginScope() { c.current.scopeDepth++ }

func (c *Compiler) endScope() {
	c.current.scopeDepth--
	locals := c.current.locals
	for len(locals) > 0 && locals[len(locals)-1].depth > c.current.scopeDepth {
		if locals[len(locals)-1].isCaptured {
			c.emitOp(bytecode.OpCloseUpvalue)
		} else {
			c.emitOp(bytecode.OpPop)
		}
		locals = locals[:len(locals)-1]
	}
	c.current.locals = locals
}

func (c *Compiler) addLocal(name string) {
	if len(c.current.locals) >= math.MaxUint8+1 {
		c.error("too many local variables in function")
		return
	}
	c.current.locals = append(c.current.locals, local{name: name, depth: uninitialized})
}

func (c *Compiler) declareVariable() {
	if c.current.scopeDepth == 0 {
		return
	}
	name := c.prev.Lexeme
	locals := c.current.locals
	for i := len(locals) - 1; i >= 0; i-- {
		if locals[i].depth != uninitialized && locals[i].depth < c.current.scopeDepth {
			break
		}
		if locals[i].name == name {
			c.error("a variable with this name already exists within this scope")
		}
	}
	c.addLocal(name)
}

// parseVariable consumes an identifier, declares it, and returns the
// constant-pool index to use for OP_DEFINE_GLOBAL (meaningless for
// locals, which resolve by stack slot instead).
func (c *Compiler) parseVariable(message string) byte {
	c.consume(lexer.TokenIdentifier, message)
	c.declareVariable()
	if c.current.scopeDepth > 0 {
		return 0
	}
	return c.identifierConstant(c.prev.Lexeme)
}

func (c *Compiler) markInitialized() {
	if c.current.scopeDepth == 0 {
		return
	}
	c.current.locals[len(c.current.locals)-1].depth = c.current.scopeDepth
}

func (c *Compiler) defineVariable(global byte) {
	if c.current.scopeDepth > 0 {
		c.markInitialized()
		return
	}
	c.emitOpByte(bytecode.OpDefineGlobal, global)
}

func (c *Compiler) resolveLocal(fs *funcState, name string) int {
	for i := len(fs.locals) - 1; i >= 0; i-- {
		if fs.locals[i].name == name {
			if fs.locals[i].depth == uninitialized {
				c.error("cannot read local variable in its own initializer")
			}
			return i
		}
	}
	return -1
}

func (c *Compiler) addUpvalue(fs *funcState, index byte, isLocal bool) int {
	for i, uv := range fs.upvalues {
		if uv.index == index && uv.isLocal == isLocal {
			return i
		}
	}
	if len(fs.upvalues) >= math.MaxUint8+1 {
		c.error("too many closure variables in function")
		return 0
	}
	fs.upvalues = append(fs.upvalues, upvalueRef{index: index, isLocal: isLocal})
	fs.function.UpvalueCount = len(fs.upvalues)
	return len(fs.upvalues) - 1
}

// resolveUpvalue recursively searches enclosing functions for name,
// threading a capture chain of upvalues through every intermediate
// function so a doubly-nested closure can reach a grandparent's local.
func (c *Compiler) resolveUpvalue(fs *funcState, name string) int {
	if fs.enclosing == nil {
		return -1
	}
	if slot := c.resolveLocal(fs.enclosing, name); slot != -1 {
		fs.enclosing.locals[slot].isCaptured = true
		return c.addUpvalue(fs, byte(slot), true)
	}
	if uv := c.resolveUpvalue(fs.enclosing, name); uv != -1 {
		return c.addUpvalue(fs, byte(uv), false)
	}
	return -1
}

// fmtBuffer is a tiny io.Writer adapter so the disassembler's "print to
// any writer" API can feed a single logrus field instead of stdout, kept
// local to avoid pulling in bytes.Buffer for one use site.
type fmtBuffer struct{ s string }

func (b *fmtBuffer) Write(p []byte) (int, error) {
	b.s += string(p)
	return len(p), nil
}
func (b *fmtBuffer) String() string { return b.s }
