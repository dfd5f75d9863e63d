package vm

import (
	"fmt"
	"time"

	"github.com/kristofer/loxvm/pkg/object"
	"github.com/kristofer/loxvm/pkg/value"
)

// defineNative installs a native function as a global, available to
// every script compiled against this VM. The interned name and the
// native wrapper are kept on the value stack across the allocations
// that produce them, so a GC triggered while building the second value
// can't free the first before it reaches vm.globals.
func (vm *VM) defineNative(name string, fn object.NativeFn) {
	vm.push(value.FromObject(vm.heap.InternString(name)))
	vm.push(value.FromObject(vm.heap.NewNative(name, fn)))
	vm.globals.Set(vm.peek(1).AsObject().(*object.ObjString), vm.peek(0))
	vm.pop()
	vm.pop()
}

// defineNatives registers every native loxvm ships with out of the box.
func (vm *VM) defineNatives() {
	vm.defineNative("clock", nativeClock)
}

// nativeClock returns the number of seconds elapsed since the Unix
// epoch as a Lox number, matching the reference implementation's clock()
// (which reports process CPU time scaled by CLOCKS_PER_SEC) closely
// enough for benchmarking and timing scripts without binding to cgo.
func nativeClock(args []value.Value) (value.Value, error) {
	if len(args) != 0 {
		return value.Nil, fmt.Errorf("expected 0 arguments but got %d", len(args))
	}
	return value.Number(float64(time.Now().UnixNano()) / 1e9), nil
}
