// Package vm implements loxvm's stack-based bytecode interpreter: the
// value stack, call-frame stack, global variable table, and the opcode
// dispatch loop that drives a compiled chunk to completion.
package vm

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/kristofer/loxvm/pkg/bytecode"
	"github.com/kristofer/loxvm/pkg/heap"
	"github.com/kristofer/loxvm/pkg/object"
	"github.com/kristofer/loxvm/pkg/value"
)

const (
	framesMax = 64
	stackMax  = framesMax * 256
)

// CallFrame is one live call's bookkeeping: the closure it's executing,
// its instruction pointer into that closure's chunk, and the base index
// into the VM's shared value stack where its locals (including slot 0,
// the receiver or the called closure itself) begin.
type CallFrame struct {
	closure *object.ObjClosure
	ip      int
	slots   int
}

// VM is one instance of the interpreter. It is reusable across multiple
// top-level compiles sharing the same heap and globals, which is what
// backs the REPL: each input recompiles as its own zero-arity script
// function, but the VM, its globals table, and the heap persist.
type VM struct {
	stack    []value.Value
	stackTop int

	frames     [framesMax]CallFrame
	frameCount int

	globals *object.Table
	heap    *heap.Heap

	openUpvalues *object.ObjUpvalue

	out io.Writer
	log *logrus.Logger

	trace bool
}

// New constructs a VM backed by h. Native functions are registered
// immediately so they're visible to every subsequent compile/run cycle.
func New(h *heap.Heap, log *logrus.Logger) *VM {
	vm := &VM{
		stack:   make([]value.Value, stackMax),
		globals: object.NewTable(),
		heap:    h,
		out:     os.Stdout,
		log:     log,
	}
	h.AddRoot(vm)
	vm.defineNatives()
	return vm
}

// SetOutput redirects `print` output, used by tests to capture stdout.
func (vm *VM) SetOutput(w io.Writer) {
	vm.out = w
}

// SetTrace toggles per-instruction disassembly tracing to stderr.
func (vm *VM) SetTrace(on bool) {
	vm.trace = on
}

// Globals exposes the global variable table, used by the REPL to report
// top-level bindings and by tests asserting on global state.
func (vm *VM) Globals() *object.Table {
	return vm.globals
}

func (vm *VM) resetStack() {
	vm.stackTop = 0
	vm.frameCount = 0
	vm.openUpvalues = nil
}

func (vm *VM) push(v value.Value) {
	vm.stack[vm.stackTop] = v
	vm.stackTop++
}

func (vm *VM) pop() value.Value {
	vm.stackTop--
	return vm.stack[vm.stackTop]
}

func (vm *VM) peek(distance int) value.Value {
	return vm.stack[vm.stackTop-1-distance]
}

// MarkRoots implements heap.RootSource: the value stack, every live call
// frame's closure, the open-upvalue list, and the globals table are all
// reachable independent of any Lox-level variable, so the collector must
// trace them explicitly.
func (vm *VM) MarkRoots(h *heap.Heap) {
	for i := 0; i < vm.stackTop; i++ {
		h.MarkValue(vm.stack[i])
	}
	for i := 0; i < vm.frameCount; i++ {
		h.MarkObject(vm.frames[i].closure)
	}
	for uv := vm.openUpvalues; uv != nil; uv = uv.Next {
		h.MarkObject(uv)
	}
	h.MarkTable(vm.globals)
}

// Interpret runs fn (the top-level script or REPL input, as produced by
// the compiler) to completion. A *RuntimeError is returned for Lox-level
// runtime failures; any other error indicates a host-level problem.
func (vm *VM) Interpret(fn *object.ObjFunction) error {
	vm.push(value.FromObject(fn))
	closure := vm.heap.NewClosure(fn)
	vm.pop()
	vm.push(value.FromObject(closure))
	if err := vm.call(closure, 0); err != nil {
		vm.resetStack()
		return err
	}
	if err := vm.run(); err != nil {
		vm.resetStack()
		return err
	}
	return nil
}

func (vm *VM) frame() *CallFrame {
	return &vm.frames[vm.frameCount-1]
}

func (vm *VM) readByte(f *CallFrame) byte {
	b := f.closure.Function.Chunk.Code[f.ip]
	f.ip++
	return b
}

func (vm *VM) readShort(f *CallFrame) uint16 {
	hi := vm.readByte(f)
	lo := vm.readByte(f)
	return uint16(hi)<<8 | uint16(lo)
}

func (vm *VM) readConstant(f *CallFrame) value.Value {
	return f.closure.Function.Chunk.Constants[vm.readByte(f)]
}

func (vm *VM) readString(f *CallFrame) *object.ObjString {
	return vm.readConstant(f).AsObject().(*object.ObjString)
}

// runtimeError builds a *RuntimeError carrying the current call stack,
// innermost frame first, matching the traceback format the reference
// implementation's stderr output uses.
func (vm *VM) runtimeError(format string, args ...interface{}) *RuntimeError {
	msg := fmt.Sprintf(format, args...)
	trace := make([]StackFrame, 0, vm.frameCount)
	for i := vm.frameCount - 1; i >= 0; i-- {
		f := &vm.frames[i]
		fn := f.closure.Function
		line := fn.Chunk.GetLine(f.ip - 1)
		trace = append(trace, StackFrame{Name: fn.Name, SourceLine: line})
	}
	return newRuntimeError(msg, trace)
}

func (vm *VM) run() error {
	f := vm.frame()

	for {
		if vm.trace {
			vm.traceInstruction(f)
		}

		op := bytecode.OpCode(vm.readByte(f))
		switch op {
		case bytecode.OpConstant:
			vm.push(vm.readConstant(f))

		case bytecode.OpNil:
			vm.push(value.Nil)
		case bytecode.OpTrue:
			vm.push(value.Bool(true))
		case bytecode.OpFalse:
			vm.push(value.Bool(false))
		case bytecode.OpPop:
			vm.pop()

		case bytecode.OpGetLocal:
			slot := vm.readByte(f)
			vm.push(vm.stack[f.slots+int(slot)])
		case bytecode.OpSetLocal:
			slot := vm.readByte(f)
			vm.stack[f.slots+int(slot)] = vm.peek(0)

		case bytecode.OpGetGlobal:
			name := vm.readString(f)
			v, ok := vm.globals.Get(name)
			if !ok {
				return vm.runtimeError("undefined variable '%s'", name.Chars)
			}
			vm.push(v)
		case bytecode.OpDefineGlobal:
			name := vm.readString(f)
			vm.globals.Set(name, vm.peek(0))
			vm.pop()
		case bytecode.OpSetGlobal:
			name := vm.readString(f)
			if vm.globals.Set(name, vm.peek(0)) {
				vm.globals.Delete(name)
				return vm.runtimeError("undefined variable '%s'", name.Chars)
			}

		case bytecode.OpGetUpvalue:
			slot := vm.readByte(f)
			vm.push(*f.closure.Upvalues[slot].Location)
		case bytecode.OpSetUpvalue:
			slot := vm.readByte(f)
			*f.closure.Upvalues[slot].Location = vm.peek(0)

		case bytecode.OpGetProperty:
			if !vm.peek(0).IsObjType(value.ObjTypeInstance) {
				return vm.runtimeError("only instances have properties")
			}
			inst := vm.peek(0).AsObject().(*object.ObjInstance)
			name := vm.readString(f)
			if v, ok := inst.Fields.Get(name); ok {
				vm.pop()
				vm.push(v)
				break
			}
			if err := vm.bindMethod(inst.Class, name); err != nil {
				return err
			}
		case bytecode.OpSetProperty:
			if !vm.peek(1).IsObjType(value.ObjTypeInstance) {
				return vm.runtimeError("only instances have fields")
			}
			inst := vm.peek(1).AsObject().(*object.ObjInstance)
			name := vm.readString(f)
			inst.Fields.Set(name, vm.peek(0))
			v := vm.pop()
			vm.pop()
			vm.push(v)
		case bytecode.OpGetSuper:
			name := vm.readString(f)
			superclass := vm.pop().AsObject().(*object.ObjClass)
			if err := vm.bindMethod(superclass, name); err != nil {
				return err
			}

		case bytecode.OpEqual:
			b := vm.pop()
			a := vm.pop()
			vm.push(value.Bool(value.Equal(a, b)))
		case bytecode.OpGreater:
			if err := vm.binaryNumberOp(op); err != nil {
				return err
			}
		case bytecode.OpLesser:
			if err := vm.binaryNumberOp(op); err != nil {
				return err
			}
		case bytecode.OpAdd:
			if err := vm.add(); err != nil {
				return err
			}
		case bytecode.OpSubtract, bytecode.OpMultiply, bytecode.OpDivide:
			if err := vm.binaryNumberOp(op); err != nil {
				return err
			}
		case bytecode.OpNot:
			vm.push(value.Bool(vm.pop().IsFalsey()))
		case bytecode.OpNegate:
			if !vm.peek(0).IsNumber() {
				return vm.runtimeError("operand must be a number")
			}
			vm.push(value.Number(-vm.pop().AsNumber()))

		case bytecode.OpPrint:
			fmt.Fprintln(vm.out, vm.pop().String())

		case bytecode.OpJump:
			offset := vm.readShort(f)
			f.ip += int(offset)
		case bytecode.OpJumpIfFalse:
			offset := vm.readShort(f)
			if vm.peek(0).IsFalsey() {
				f.ip += int(offset)
			}
		case bytecode.OpLoop:
			offset := vm.readShort(f)
			f.ip -= int(offset)

		case bytecode.OpCall:
			argCount := int(vm.readByte(f))
			if err := vm.callValue(vm.peek(argCount), argCount); err != nil {
				return err
			}
			f = vm.frame()
		case bytecode.OpInvoke:
			name := vm.readString(f)
			argCount := int(vm.readByte(f))
			if err := vm.invoke(name, argCount); err != nil {
				return err
			}
			f = vm.frame()
		case bytecode.OpSuperInvoke:
			name := vm.readString(f)
			argCount := int(vm.readByte(f))
			superclass := vm.pop().AsObject().(*object.ObjClass)
			if err := vm.invokeFromClass(superclass, name, argCount); err != nil {
				return err
			}
			f = vm.frame()

		case bytecode.OpClosure:
			fn := vm.readConstant(f).AsObject().(*object.ObjFunction)
			closure := vm.heap.NewClosure(fn)
			vm.push(value.FromObject(closure))
			for i := range closure.Upvalues {
				isLocal := vm.readByte(f)
				index := vm.readByte(f)
				if isLocal != 0 {
					closure.Upvalues[i] = vm.captureUpvalue(f.slots + int(index))
				} else {
					closure.Upvalues[i] = f.closure.Upvalues[index]
				}
			}
		case bytecode.OpCloseUpvalue:
			vm.closeUpvalues(vm.stackTop - 1)
			vm.pop()

		case bytecode.OpReturn:
			result := vm.pop()
			vm.closeUpvalues(f.slots)
			vm.frameCount--
			if vm.frameCount == 0 {
				vm.pop()
				return nil
			}
			vm.stackTop = f.slots
			vm.push(result)
			f = vm.frame()

		case bytecode.OpClass:
			name := vm.readString(f)
			vm.push(value.FromObject(vm.heap.NewClass(name.Chars)))
		case bytecode.OpInherit:
			superVal := vm.peek(1)
			if !superVal.IsObjType(value.ObjTypeClass) {
				return vm.runtimeError("superclass must be a class")
			}
			superclass := superVal.AsObject().(*object.ObjClass)
			subclass := vm.peek(0).AsObject().(*object.ObjClass)
			superclass.Methods.AddAll(subclass.Methods)
			vm.pop()
		case bytecode.OpMethod:
			name := vm.readString(f)
			vm.defineMethod(name)

		default:
			return vm.runtimeError("unknown opcode %d", op)
		}
	}
}

func (vm *VM) binaryNumberOp(op bytecode.OpCode) error {
	if !vm.peek(0).IsNumber() || !vm.peek(1).IsNumber() {
		return vm.runtimeError("operands must be numbers")
	}
	b := vm.pop().AsNumber()
	a := vm.pop().AsNumber()
	switch op {
	case bytecode.OpGreater:
		vm.push(value.Bool(a > b))
	case bytecode.OpLesser:
		vm.push(value.Bool(a < b))
	case bytecode.OpSubtract:
		vm.push(value.Number(a - b))
	case bytecode.OpMultiply:
		vm.push(value.Number(a * b))
	case bytecode.OpDivide:
		vm.push(value.Number(a / b))
	}
	return nil
}

// add implements `+`, overloaded for numbers and strings; any other
// operand pairing is a runtime error.
func (vm *VM) add() error {
	switch {
	case vm.peek(0).IsNumber() && vm.peek(1).IsNumber():
		b := vm.pop().AsNumber()
		a := vm.pop().AsNumber()
		vm.push(value.Number(a + b))
	case vm.peek(0).IsObjType(value.ObjTypeString) && vm.peek(1).IsObjType(value.ObjTypeString):
		b := vm.pop().AsObject().(*object.ObjString)
		a := vm.pop().AsObject().(*object.ObjString)
		vm.push(value.FromObject(vm.heap.InternString(a.Chars + b.Chars)))
	default:
		return vm.runtimeError("operands must be two numbers or two strings")
	}
	return nil
}

func (vm *VM) defineMethod(name *object.ObjString) {
	method := vm.peek(0).AsObject().(*object.ObjClosure)
	class := vm.peek(1).AsObject().(*object.ObjClass)
	class.Methods.Set(name, value.FromObject(method))
	vm.pop()
}
