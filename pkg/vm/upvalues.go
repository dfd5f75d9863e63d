package vm

import (
	"unsafe"

	"github.com/kristofer/loxvm/pkg/object"
	"github.com/kristofer/loxvm/pkg/value"
)

// addr gives a total order over slots of the VM's own backing array so
// open upvalues can be kept sorted by descending stack address without
// Go's pointer equality-only comparison getting in the way — mirroring
// the reference implementation's raw pointer arithmetic over its stack.
func addr(v *value.Value) uintptr {
	return uintptr(unsafe.Pointer(v))
}

// captureUpvalue returns the open upvalue for stack slot index, reusing
// an existing one if a prior closure already captured that exact slot.
// The open list is kept sorted by descending address so the search (and
// closeUpvalues below) can stop as soon as it passes the slot it wants.
func (vm *VM) captureUpvalue(slot int) *object.ObjUpvalue {
	target := addr(&vm.stack[slot])

	var prev *object.ObjUpvalue
	curr := vm.openUpvalues
	for curr != nil && addr(curr.Location) > target {
		prev = curr
		curr = curr.Next
	}
	if curr != nil && addr(curr.Location) == target {
		return curr
	}

	created := vm.heap.NewUpvalue(&vm.stack[slot])
	created.Next = curr
	if prev == nil {
		vm.openUpvalues = created
	} else {
		prev.Next = created
	}
	return created
}

// closeUpvalues closes every open upvalue capturing a slot at or above
// last, snapshotting its value off the stack so it survives the owning
// frame popping.
func (vm *VM) closeUpvalues(last int) {
	threshold := addr(&vm.stack[last])
	for vm.openUpvalues != nil && addr(vm.openUpvalues.Location) >= threshold {
		uv := vm.openUpvalues
		uv.Close()
		vm.openUpvalues = uv.Next
	}
}
