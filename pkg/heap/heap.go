// Package heap implements loxvm's managed allocator and tracing
// mark-sweep garbage collector. It owns every heap object ever allocated,
// the string-interning table, and the byte-accounted collection threshold;
// it has no knowledge of the compiler or VM beyond the small RootSource
// interface they each implement, so the collector can be constructed once
// in cmd/loxvm and threaded through explicitly rather than living behind a
// package-level singleton.
package heap

import (
	"os"

	"github.com/sirupsen/logrus"

	"github.com/kristofer/loxvm/pkg/object"
	"github.com/kristofer/loxvm/pkg/value"
)

const (
	initialNextGC = 1 << 20 // 1 MiB, matches clox's GC_HEAP_GROW_FACTOR starting point
	growFactor    = 2
)

// RootSource is implemented by every long-lived owner of Values the
// collector must treat as roots: the VM (its value stack, call frames,
// open upvalues, globals) and the live compiler chain (the function
// currently being compiled and every enclosing one, none of which are
// reachable any other way while compilation is in progress).
type RootSource interface {
	MarkRoots(h *Heap)
}

// Heap owns every object allocated during a program's lifetime.
type Heap struct {
	objects []value.Object
	strings *object.Table

	initString *object.ObjString // cached "init", looked up in a class's methods when the class is called

	bytesAllocated int
	nextGC         int

	gray []value.Object

	roots []RootSource

	stressGC bool

	log *logrus.Logger
}

// New constructs an empty heap. log may be nil, in which case collection
// events are silently dropped (no GC tracing).
func New(log *logrus.Logger) *Heap {
	h := &Heap{
		strings:  object.NewTable(),
		nextGC:   initialNextGC,
		stressGC: os.Getenv("LOXVM_STRESS_GC") != "",
		log:      log,
	}
	h.initString = h.InternString("init")
	return h
}

// SetStressGC toggles stress mode, in which every allocation that could
// grow the heap collects first. Used by tests to force collections at
// points a byte-threshold trigger would otherwise never reach.
func (h *Heap) SetStressGC(on bool) {
	h.stressGC = on
}

// AddRoot registers a RootSource whose MarkRoots will be called at the
// start of every collection. The VM and each compiler instance register
// themselves when constructed.
func (h *Heap) AddRoot(r RootSource) {
	h.roots = append(h.roots, r)
}

// RemoveRoot unregisters a RootSource, used when a Compiler finishes
// compiling its source and its compiler state goes away.
func (h *Heap) RemoveRoot(r RootSource) {
	for i, root := range h.roots {
		if root == r {
			h.roots = append(h.roots[:i], h.roots[i+1:]...)
			return
		}
	}
}

// InitString returns the heap's single interned "init" string, compared by
// pointer against method names to recognize class initializers.
func (h *Heap) InitString() *object.ObjString {
	return h.initString
}

func (h *Heap) track(o value.Object, size int) {
	h.objects = append(h.objects, o)
	h.bytesAllocated += size
	if h.log != nil {
		h.log.WithField("type", o.Header().Type).WithField("bytes", size).Debug("heap: allocate")
	}
}

func (h *Heap) maybeCollect() {
	if !h.stressGC && h.bytesAllocated <= h.nextGC {
		return
	}
	h.Collect()
}

// InternString returns the canonical *ObjString for chars, allocating and
// interning a new one only if this is the first time chars has been seen.
// Language-level string identity (and therefore `==` on strings) depends
// on every occurrence of the same contents resolving to the same pointer.
func (h *Heap) InternString(chars string) *object.ObjString {
	hash := object.HashString(chars)
	if existing := h.strings.FindString(chars, hash); existing != nil {
		return existing
	}
	h.maybeCollect()
	s := object.NewString(chars)
	h.strings.Set(s, value.Bool(true))
	h.track(s, len(chars)+16)
	return s
}

// NewFunction allocates an empty function prototype, ready for the
// compiler to fill in.
func (h *Heap) NewFunction() *object.ObjFunction {
	h.maybeCollect()
	fn := object.NewFunction()
	h.track(fn, 64)
	return fn
}

// NewNative allocates a native function wrapper.
func (h *Heap) NewNative(name string, fn object.NativeFn) *object.ObjNative {
	h.maybeCollect()
	n := object.NewNative(name, fn)
	h.track(n, 32)
	return n
}

// NewUpvalue allocates an open upvalue pointing at slot.
func (h *Heap) NewUpvalue(slot *value.Value) *object.ObjUpvalue {
	h.maybeCollect()
	u := object.NewUpvalue(slot)
	h.track(u, 32)
	return u
}

// NewClosure allocates a closure over fn with fn.UpvalueCount empty
// upvalue slots for the VM to fill as OP_CLOSURE executes.
func (h *Heap) NewClosure(fn *object.ObjFunction) *object.ObjClosure {
	h.maybeCollect()
	c := object.NewClosure(fn)
	h.track(c, 32+8*len(c.Upvalues))
	return c
}

// NewClass allocates a class named name with an empty method table.
func (h *Heap) NewClass(name string) *object.ObjClass {
	h.maybeCollect()
	c := object.NewClass(name)
	h.track(c, 48)
	return c
}

// NewInstance allocates an instance of class with an empty field table.
func (h *Heap) NewInstance(class *object.ObjClass) *object.ObjInstance {
	h.maybeCollect()
	i := object.NewInstance(class)
	h.track(i, 48)
	return i
}

// NewBoundMethod allocates a bound method pairing receiver with method.
func (h *Heap) NewBoundMethod(receiver value.Value, method *object.ObjClosure) *object.ObjBoundMethod {
	h.maybeCollect()
	b := object.NewBoundMethod(receiver, method)
	h.track(b, 32)
	return b
}

// BytesAllocated reports the collector's current live-byte estimate.
func (h *Heap) BytesAllocated() int {
	return h.bytesAllocated
}

// Collect runs one full mark-sweep cycle: mark every root reachable
// object, trace the graph to a fixed point, drop unmarked interned
// strings, then sweep every other unmarked object from the heap.
func (h *Heap) Collect() {
	before := h.bytesAllocated
	if h.log != nil {
		h.log.WithField("before", before).Debug("heap: gc begin")
	}

	h.MarkObject(h.initString)
	for _, r := range h.roots {
		r.MarkRoots(h)
	}
	h.traceReferences()
	h.strings.RemoveWhite()
	h.sweep()

	h.nextGC = h.bytesAllocated * growFactor
	if h.nextGC < initialNextGC {
		h.nextGC = initialNextGC
	}
	if h.log != nil {
		h.log.WithField("before", before).WithField("after", h.bytesAllocated).WithField("nextGC", h.nextGC).Debug("heap: gc end")
	}
}

// MarkValue marks v if it holds a heap object, queuing it on the gray
// stack if this is the first time it has been seen this cycle.
func (h *Heap) MarkValue(v value.Value) {
	if v.IsObject() {
		h.MarkObject(v.AsObject())
	}
}

// MarkObject marks o, queuing it for reference tracing if newly marked.
// Safe to call with nil.
func (h *Heap) MarkObject(o value.Object) {
	if o == nil {
		return
	}
	header := o.Header()
	if header.IsMarked {
		return
	}
	header.IsMarked = true
	// The gray stack is an ordinary Go slice living outside the byte-accounted
	// allocator: its growth never feeds back into bytesAllocated, matching the
	// C implementation's use of realloc() directly instead of reallocate().
	h.gray = append(h.gray, o)
}

// MarkTable marks every key and value stored in t, used for instance
// field tables and class method tables.
func (h *Heap) MarkTable(t *object.Table) {
	for _, k := range t.Keys() {
		h.MarkObject(k)
		if v, ok := t.Get(k); ok {
			h.MarkValue(v)
		}
	}
}

func (h *Heap) traceReferences() {
	for len(h.gray) > 0 {
		o := h.gray[len(h.gray)-1]
		h.gray = h.gray[:len(h.gray)-1]
		h.blacken(o)
	}
}

func (h *Heap) blacken(o value.Object) {
	switch obj := o.(type) {
	case *object.ObjString, *object.ObjNative:
		// No outgoing references.
	case *object.ObjUpvalue:
		h.MarkValue(obj.Closed)
	case *object.ObjFunction:
		for _, c := range obj.Chunk.Constants {
			h.MarkValue(c)
		}
	case *object.ObjClosure:
		h.MarkObject(obj.Function)
		for _, uv := range obj.Upvalues {
			h.MarkObject(uv)
		}
	case *object.ObjClass:
		h.MarkTable(obj.Methods)
	case *object.ObjInstance:
		h.MarkObject(obj.Class)
		h.MarkTable(obj.Fields)
	case *object.ObjBoundMethod:
		h.MarkValue(obj.Receiver)
		h.MarkObject(obj.Method)
	}
}

func (h *Heap) sweep() {
	kept := h.objects[:0]
	for _, o := range h.objects {
		header := o.Header()
		if header.IsMarked {
			header.IsMarked = false
			kept = append(kept, o)
			continue
		}
		h.bytesAllocated -= approxSize(o)
		if h.log != nil {
			h.log.WithField("type", header.Type).Debug("heap: sweep")
		}
	}
	h.objects = kept
}

// approxSize returns the same per-object byte estimate used at allocation
// time, so sweeping an object credits back what tracking it charged.
func approxSize(o value.Object) int {
	switch obj := o.(type) {
	case *object.ObjString:
		return len(obj.Chars) + 16
	case *object.ObjFunction:
		return 64
	case *object.ObjNative:
		return 32
	case *object.ObjUpvalue:
		return 32
	case *object.ObjClosure:
		return 32 + 8*len(obj.Upvalues)
	case *object.ObjClass:
		return 48
	case *object.ObjInstance:
		return 48
	case *object.ObjBoundMethod:
		return 32
	default:
		return 16
	}
}
