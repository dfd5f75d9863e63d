// Package object implements the heap object variants of loxvm's value
// model: strings, functions, closures, upvalues, classes, instances, and
// bound methods. Every variant embeds value.Obj so it satisfies
// value.Object automatically (header promotion), and is always referenced
// through a value.Value created with value.FromObject.
package object

import (
	"fmt"

	"github.com/kristofer/loxvm/pkg/bytecode"
	"github.com/kristofer/loxvm/pkg/value"
)

// ObjString is an immutable, interned byte string. Two ObjStrings with the
// same contents are always the same pointer once interned through a
// heap.Heap, so string equality in the VM is pointer equality.
type ObjString struct {
	value.Obj
	Chars string
	Hash  uint32
}

func (s *ObjString) String() string { return s.Chars }

// HashString computes the FNV-1a hash used both for table bucketing and for
// ObjString.Hash, matching clox's hashString exactly so behavior (bucket
// distribution aside) is unsurprising to anyone who has read the C source.
func HashString(s string) uint32 {
	var hash uint32 = 2166136261
	for i := 0; i < len(s); i++ {
		hash ^= uint32(s[i])
		hash *= 16777619
	}
	return hash
}

// NewString constructs an uninterned ObjString. Callers that need the
// language-level identity guarantee must go through heap.Heap.InternString
// instead; this constructor exists for the heap package itself and for
// tests that don't need interning.
func NewString(chars string) *ObjString {
	s := &ObjString{Chars: chars, Hash: HashString(chars)}
	s.Type = value.ObjTypeString
	return s
}

// FunctionType distinguishes the compiled forms a function body can take,
// affecting how the compiler lays out its implicit first local slot and
// how `return` is allowed to behave.
type FunctionType int

const (
	FuncTypeScript FunctionType = iota
	FuncTypeFunction
	FuncTypeMethod
	FuncTypeInitializer
)

// ObjFunction is a compiled function: its name, arity, upvalue count, and
// the chunk of bytecode that implements its body. The top-level script
// compiled from a source file is itself an ObjFunction with Name == "".
type ObjFunction struct {
	value.Obj
	Name         string
	Arity        int
	UpvalueCount int
	Chunk        *bytecode.Chunk
}

func NewFunction() *ObjFunction {
	f := &ObjFunction{Chunk: bytecode.New()}
	f.Type = value.ObjTypeFunction
	return f
}

// NumUpvalues reports the function's upvalue count, satisfying the
// bytecode package's disassembler's small local interface for printing
// OP_CLOSURE's trailing (is_local, index) operand pairs without bytecode
// needing to import this package.
func (f *ObjFunction) NumUpvalues() int { return f.UpvalueCount }

func (f *ObjFunction) String() string {
	if f.Name == "" {
		return "<script>"
	}
	return fmt.Sprintf("<fn %s>", f.Name)
}

// NativeFn is the signature every native (built-in) function implements.
// It receives its already-evaluated arguments and returns either a result
// value or an error describing a runtime failure (reported the same way as
// any other runtime error, with a call-stack traceback).
type NativeFn func(args []value.Value) (value.Value, error)

// ObjNative wraps a Go function so it can be called like any other loxvm
// callable.
type ObjNative struct {
	value.Obj
	Name string
	Fn   NativeFn
}

func (n *ObjNative) String() string { return fmt.Sprintf("<native fn %s>", n.Name) }

func NewNative(name string, fn NativeFn) *ObjNative {
	n := &ObjNative{Name: name, Fn: fn}
	n.Type = value.ObjTypeNative
	return n
}

// ObjUpvalue is a reference cell capturing one enclosing local variable.
// While open, Location points directly into a call frame's stack slot;
// Close copies that slot's value into Closed and repoints Location at it,
// so the variable survives its owning frame returning.
type ObjUpvalue struct {
	value.Obj
	Location *value.Value
	Closed   value.Value
	Next     *ObjUpvalue // next node in the VM's open-upvalue list, descending stack address
}

func NewUpvalue(slot *value.Value) *ObjUpvalue {
	u := &ObjUpvalue{Location: slot}
	u.Type = value.ObjTypeUpvalue
	return u
}

func (u *ObjUpvalue) String() string { return "<upvalue>" }

// Close snapshots the captured slot's current value into the upvalue and
// repoints Location at the snapshot, detaching it from the stack.
func (u *ObjUpvalue) Close() {
	u.Closed = *u.Location
	u.Location = &u.Closed
}

// ObjClosure pairs a compiled function with the upvalues it captured at
// the point its OP_CLOSURE instruction ran. Closures, not bare functions,
// are what the VM calls and what `fun` expressions evaluate to.
type ObjClosure struct {
	value.Obj
	Function *ObjFunction
	Upvalues []*ObjUpvalue
}

func NewClosure(fn *ObjFunction) *ObjClosure {
	c := &ObjClosure{Function: fn, Upvalues: make([]*ObjUpvalue, fn.UpvalueCount)}
	c.Type = value.ObjTypeClosure
	return c
}

func (c *ObjClosure) String() string { return c.Function.String() }

// ObjClass is a class: its name and its method table (name -> ObjClosure,
// as a value.Value so it stores uniformly in the hash table).
type ObjClass struct {
	value.Obj
	Name    string
	Methods *Table
}

func NewClass(name string) *ObjClass {
	c := &ObjClass{Name: name, Methods: NewTable()}
	c.Type = value.ObjTypeClass
	return c
}

func (c *ObjClass) String() string { return c.Name }

// ObjInstance is a runtime instance of a class: its class pointer plus its
// own field table (name -> arbitrary Value). Field lookups never consult
// the class; only method lookups fall back to Class.Methods.
type ObjInstance struct {
	value.Obj
	Class  *ObjClass
	Fields *Table
}

func NewInstance(class *ObjClass) *ObjInstance {
	i := &ObjInstance{Class: class, Fields: NewTable()}
	i.Type = value.ObjTypeInstance
	return i
}

func (i *ObjInstance) String() string { return fmt.Sprintf("%s instance", i.Class.Name) }

// ObjBoundMethod pairs a receiver with the closure a property access
// resolved to, so that `obj.method` can be passed around and later called
// with `this` already bound, independent of obj still being in scope.
type ObjBoundMethod struct {
	value.Obj
	Receiver value.Value
	Method   *ObjClosure
}

func NewBoundMethod(receiver value.Value, method *ObjClosure) *ObjBoundMethod {
	b := &ObjBoundMethod{Receiver: receiver, Method: method}
	b.Type = value.ObjTypeBoundMethod
	return b
}

func (b *ObjBoundMethod) String() string { return b.Method.String() }
