package vm

import (
	"github.com/kristofer/loxvm/pkg/object"
	"github.com/kristofer/loxvm/pkg/value"
)

// call pushes a new CallFrame for closure, checking arity and the
// frame-depth ceiling first. The closure itself and its arguments are
// assumed already in place on the value stack (slot 0 = the closure or
// receiver, slots 1..argCount = the arguments).
func (vm *VM) call(closure *object.ObjClosure, argCount int) error {
	if argCount != closure.Function.Arity {
		return vm.runtimeError("expected %d arguments but got %d", closure.Function.Arity, argCount)
	}
	if vm.frameCount == framesMax {
		return vm.runtimeError("stack overflow")
	}
	vm.frames[vm.frameCount] = CallFrame{
		closure: closure,
		ip:      0,
		slots:   vm.stackTop - argCount - 1,
	}
	vm.frameCount++
	return nil
}

// callValue dispatches a call to whatever callee turns out to be: a
// closure, a native function, a class (constructing an instance and
// invoking its initializer if any), or a bound method. Anything else is
// a runtime error, matching the host's "can only call functions and
// classes" diagnostic.
func (vm *VM) callValue(callee value.Value, argCount int) error {
	if !callee.IsObject() {
		return vm.runtimeError("can only call functions and classes")
	}

	switch obj := callee.AsObject().(type) {
	case *object.ObjClosure:
		return vm.call(obj, argCount)

	case *object.ObjNative:
		args := vm.stack[vm.stackTop-argCount : vm.stackTop]
		result, err := obj.Fn(args)
		if err != nil {
			return vm.runtimeError("%s", err.Error())
		}
		vm.stackTop -= argCount + 1
		vm.push(result)
		return nil

	case *object.ObjClass:
		instance := vm.heap.NewInstance(obj)
		vm.stack[vm.stackTop-argCount-1] = value.FromObject(instance)
		if initializer, ok := obj.Methods.Get(vm.heap.InitString()); ok {
			return vm.call(initializer.AsObject().(*object.ObjClosure), argCount)
		} else if argCount != 0 {
			return vm.runtimeError("expected 0 arguments but got %d", argCount)
		}
		return nil

	case *object.ObjBoundMethod:
		vm.stack[vm.stackTop-argCount-1] = obj.Receiver
		return vm.call(obj.Method, argCount)

	default:
		return vm.runtimeError("can only call functions and classes")
	}
}

// invoke is the OP_INVOKE fast path for `receiver.method(args)`: it
// skips materializing an intermediate bound method when the receiver is
// a plain instance, but still has to check the instance's own fields
// first in case a field shadows a method of the same name.
func (vm *VM) invoke(name *object.ObjString, argCount int) error {
	receiver := vm.peek(argCount)
	if !receiver.IsObjType(value.ObjTypeInstance) {
		return vm.runtimeError("only instances have methods")
	}
	inst := receiver.AsObject().(*object.ObjInstance)

	if v, ok := inst.Fields.Get(name); ok {
		vm.stack[vm.stackTop-argCount-1] = v
		return vm.callValue(v, argCount)
	}

	return vm.invokeFromClass(inst.Class, name, argCount)
}

func (vm *VM) invokeFromClass(class *object.ObjClass, name *object.ObjString, argCount int) error {
	method, ok := class.Methods.Get(name)
	if !ok {
		return vm.runtimeError("undefined property '%s'", name.Chars)
	}
	return vm.call(method.AsObject().(*object.ObjClosure), argCount)
}

// bindMethod resolves name on class into a bound method pairing it with
// the current receiver (peek(0)), replacing the receiver on the stack
// with the bound method value.
func (vm *VM) bindMethod(class *object.ObjClass, name *object.ObjString) error {
	method, ok := class.Methods.Get(name)
	if !ok {
		return vm.runtimeError("undefined property '%s'", name.Chars)
	}
	bound := vm.heap.NewBoundMethod(vm.peek(0), method.AsObject().(*object.ObjClosure))
	vm.pop()
	vm.push(value.FromObject(bound))
	return nil
}
