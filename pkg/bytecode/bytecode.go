// Package bytecode defines the Chunk: a flat instruction stream, its
// constant pool, and the run-length-encoded line table used for error
// reporting and disassembly.
package bytecode

import "github.com/kristofer/loxvm/pkg/value"

// OpCode identifies one bytecode instruction. Operand widths (in bytes
// following the opcode) are documented per constant below.
type OpCode byte

const (
	OpConstant OpCode = iota // 1 operand: constant index
	OpNil
	OpTrue
	OpFalse
	OpPop
	OpGetLocal     // 1 operand: slot
	OpSetLocal     // 1 operand: slot
	OpGetGlobal    // 1 operand: name constant index
	OpSetGlobal    // 1 operand: name constant index
	OpDefineGlobal // 1 operand: name constant index
	OpGetUpvalue   // 1 operand: upvalue index
	OpSetUpvalue   // 1 operand: upvalue index
	OpGetProperty  // 1 operand: name constant index
	OpSetProperty  // 1 operand: name constant index
	OpGetSuper     // 1 operand: name constant index
	OpEqual
	OpGreater
	OpLesser
	OpAdd
	OpSubtract
	OpMultiply
	OpDivide
	OpNot
	OpNegate
	OpPrint
	OpJump        // 2 operands: u16 forward offset
	OpJumpIfFalse // 2 operands: u16 forward offset
	OpLoop        // 2 operands: u16 backward offset
	OpCall        // 1 operand: argc
	OpInvoke      // 2 operands: name constant index, argc
	OpSuperInvoke // 2 operands: name constant index, argc
	OpClosure     // 1 operand: function constant index, then 2 bytes per upvalue (is_local, index)
	OpCloseUpvalue
	OpReturn
	OpClass // 1 operand: name constant index
	OpInherit
	OpMethod // 1 operand: name constant index
)

var opNames = [...]string{
	OpConstant:     "OP_CONSTANT",
	OpNil:          "OP_NIL",
	OpTrue:         "OP_TRUE",
	OpFalse:        "OP_FALSE",
	OpPop:          "OP_POP",
	OpGetLocal:     "OP_GET_LOCAL",
	OpSetLocal:     "OP_SET_LOCAL",
	OpGetGlobal:    "OP_GET_GLOBAL",
	OpSetGlobal:    "OP_SET_GLOBAL",
	OpDefineGlobal: "OP_DEFINE_GLOBAL",
	OpGetUpvalue:   "OP_GET_UPVALUE",
	OpSetUpvalue:   "OP_SET_UPVALUE",
	OpGetProperty:  "OP_GET_PROPERTY",
	OpSetProperty:  "OP_SET_PROPERTY",
	OpGetSuper:     "OP_GET_SUPER",
	OpEqual:        "OP_EQUAL",
	OpGreater:      "OP_GREATER",
	OpLesser:       "OP_LESSER",
	OpAdd:          "OP_ADD",
	OpSubtract:     "OP_SUBTRACT",
	OpMultiply:     "OP_MULTIPLY",
	OpDivide:       "OP_DIVIDE",
	OpNot:          "OP_NOT",
	OpNegate:       "OP_NEGATE",
	OpPrint:        "OP_PRINT",
	OpJump:         "OP_JUMP",
	OpJumpIfFalse:  "OP_JUMP_IF_FALSE",
	OpLoop:         "OP_LOOP",
	OpCall:         "OP_CALL",
	OpInvoke:       "OP_INVOKE",
	OpSuperInvoke:  "OP_SUPER_INVOKE",
	OpClosure:      "OP_CLOSURE",
	OpCloseUpvalue: "OP_CLOSE_UPVALUE",
	OpReturn:       "OP_RETURN",
	OpClass:        "OP_CLASS",
	OpInherit:      "OP_INHERIT",
	OpMethod:       "OP_METHOD",
}

func (op OpCode) String() string {
	if int(op) < len(opNames) && opNames[op] != "" {
		return opNames[op]
	}
	return "OP_UNKNOWN"
}

// LineRun is one run of consecutive instruction bytes sharing a source
// line, run-length encoded so a multi-thousand-instruction chunk doesn't
// need one int per byte just to answer "what line is offset N on".
type LineRun struct {
	StartOffset int
	Line        int
}

// Chunk is a compiled sequence of bytecode plus the constants it references.
type Chunk struct {
	Code      []byte
	Constants []value.Value
	lines     []LineRun
}

// New returns an empty chunk.
func New() *Chunk {
	return &Chunk{}
}

// Write appends one instruction byte, attributing it to the given source
// line for later error reporting and disassembly.
func (c *Chunk) Write(b byte, line int) {
	offset := len(c.Code)
	c.Code = append(c.Code, b)
	if len(c.lines) == 0 || c.lines[len(c.lines)-1].Line != line {
		c.lines = append(c.lines, LineRun{StartOffset: offset, Line: line})
	}
}

// AddConstant appends v to the constant pool and returns its index. Callers
// are responsible for enforcing the 256-constant-per-chunk ceiling (spec
// boundary case): this returns whatever index results, even ≥256, so the
// compiler can detect and report the overflow itself with lexeme context.
func (c *Chunk) AddConstant(v value.Value) int {
	c.Constants = append(c.Constants, v)
	return len(c.Constants) - 1
}

// GetLine returns the source line attributed to the instruction at offset.
func (c *Chunk) GetLine(offset int) int {
	// A linear scan over line runs (not over instructions) is already
	// proportional to distinct lines, not chunk size.
	line := 0
	for _, run := range c.lines {
		if run.StartOffset > offset {
			break
		}
		line = run.Line
	}
	return line
}

// LineRuns returns the chunk's run-length-encoded line table, for
// serialization. Callers must not mutate the returned slice.
func (c *Chunk) LineRuns() []LineRun {
	return c.lines
}

// SetLineRuns installs a previously-serialized line table, used by
// deserialization to reconstruct a Chunk without replaying Write calls.
func (c *Chunk) SetLineRuns(runs []LineRun) {
	c.lines = runs
}
