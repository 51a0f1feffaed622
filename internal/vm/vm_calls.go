package vm

// Call dispatch: entering closures, natives, bound methods and class
// constructors, plus upvalue capture and the fused OP_INVOKE paths.

// call pushes a frame for a closure invocation. The frame's base is the
// stack index of the closure itself; arguments already sit in the slots
// above it.
func (vm *VM) call(closure *ObjClosure, argCount int) bool {
	if argCount != closure.Function.Arity {
		vm.RuntimeError("Expected %d arguments but got %d.", closure.Function.Arity, argCount)
		return false
	}

	if vm.frameCount == FramesMax {
		vm.RuntimeError("Stack overflow.")
		return false
	}

	frame := &vm.frames[vm.frameCount]
	vm.frameCount++
	frame.closure = closure
	frame.ip = 0
	frame.base = vm.sp - argCount - 1
	return true
}

// callValue dispatches a call on any callee variant.
func (vm *VM) callValue(callee Value, argCount int) bool {
	if callee.IsObj() {
		switch obj := callee.AsObj().(type) {
		case *ObjBoundMethod:
			vm.stack[vm.sp-argCount-1] = obj.Receiver
			return vm.call(obj.Method, argCount)

		case *ObjBoundNative:
			// The receiver travels as a trailing argument.
			argCount++
			if !vm.checkNativeArity(obj.Native, argCount) {
				return false
			}
			vm.push(obj.Receiver)
			result := obj.Native.Fn(vm, argCount, vm.stack[vm.sp-argCount:vm.sp])
			vm.sp -= argCount + 1
			if result.IsError() {
				return false
			}
			vm.push(result)
			return true

		case *ObjClass:
			vm.stack[vm.sp-argCount-1] = ObjValue(vm.newInstance(obj))
			if initializer, ok := obj.Methods.Get(vm.initString); ok {
				closure, _ := asClosure(initializer)
				return vm.call(closure, argCount)
			} else if argCount != 0 {
				vm.RuntimeError("Expected 0 arguments but got %d.", argCount)
				return false
			}
			return true

		case *ObjClosure:
			return vm.call(obj, argCount)

		case *ObjNative:
			if !vm.checkNativeArity(obj, argCount) {
				return false
			}
			result := obj.Fn(vm, argCount, vm.stack[vm.sp-argCount:vm.sp])
			vm.sp -= argCount + 1
			if result.IsError() {
				return false
			}
			vm.push(result)
			return true
		}
	}
	vm.RuntimeError("Can only call functions and classes.")
	return false
}

// checkNativeArity validates the argument count against a native's arity.
// Negative arity means variadic with a minimum of |arity| arguments.
func (vm *VM) checkNativeArity(native *ObjNative, argCount int) bool {
	if native.Arity < 0 {
		if argCount < -native.Arity {
			vm.RuntimeError("Expected at least %d arguments but got %d", -native.Arity, argCount)
			return false
		}
		return true
	}
	if argCount != native.Arity {
		vm.RuntimeError("Expected %d arguments but got %d", native.Arity, argCount)
		return false
	}
	return true
}

// invokeFromClass calls a method looked up directly on a class.
func (vm *VM) invokeFromClass(class *ObjClass, name *ObjString, argCount int) bool {
	method, ok := class.Methods.Get(name)
	if !ok {
		vm.RuntimeError("Undefined property '%s'.", name.Chars)
		return false
	}
	closure, _ := asClosure(method)
	return vm.call(closure, argCount)
}

// invokePrimitive dispatches a method call on a non-instance receiver
// through its primitive class. The receiver is re-pushed as the trailing
// argument, matching the bound-native convention.
func (vm *VM) invokePrimitive(class *ObjClass, receiver Value, name *ObjString, argCount int) bool {
	method, ok := class.Methods.Get(name)
	if !ok {
		vm.RuntimeError("Undefined property '%s'.", name.Chars)
		return false
	}
	vm.push(receiver)
	return vm.callValue(method, argCount+1)
}

// invoke implements OP_INVOKE: fused property lookup and call.
func (vm *VM) invoke(name *ObjString, argCount int) bool {
	receiver := vm.peek(argCount)

	if instance, ok := asInstance(receiver); ok {
		// A callable field shadows a method of the same name.
		if field, ok := instance.Fields.Get(name); ok {
			vm.stack[vm.sp-argCount-1] = field
			return vm.callValue(field, argCount)
		}
		return vm.invokeFromClass(instance.Class, name, argCount)
	}

	if module, ok := moduleReceiver(receiver); ok {
		value, found := module.Exports.Get(name)
		if !found {
			vm.RuntimeError("Undefined property '%s'.", name.Chars)
			return false
		}
		vm.stack[vm.sp-argCount-1] = value
		return vm.callValue(value, argCount)
	}

	if class := vm.primitiveClassFor(receiver); class != nil {
		return vm.invokePrimitive(class, receiver, name, argCount)
	}

	vm.RuntimeError("Undefined property '%s'.", name.Chars)
	return false
}

// primitiveClassFor maps a receiver to its primitive method table, or nil
// if the variant has none.
func (vm *VM) primitiveClassFor(receiver Value) *ObjClass {
	switch {
	case receiver.IsNumber():
		return vm.numberClass
	case receiver.IsObj():
		switch receiver.AsObj().(type) {
		case *ObjString:
			return vm.stringClass
		case *ObjList:
			return vm.listClass
		case *ObjMap:
			return vm.mapClass
		}
	}
	return nil
}

func moduleReceiver(v Value) (*ObjModule, bool) {
	if v.Type != ValObj {
		return nil, false
	}
	m, ok := v.obj.(*ObjModule)
	return m, ok
}

// bindMethod wraps a class method around the receiver on top of the stack.
func (vm *VM) bindMethod(class *ObjClass, name *ObjString) bool {
	method, ok := class.Methods.Get(name)
	if !ok {
		vm.RuntimeError("Undefined property '%s'.", name.Chars)
		return false
	}
	closure, _ := asClosure(method)
	bound := vm.newBoundMethod(vm.peek(0), closure)
	vm.pop()
	vm.push(ObjValue(bound))
	return true
}

// bindNative wraps a primitive method around the receiver on top of the
// stack.
func (vm *VM) bindNative(class *ObjClass, name *ObjString) bool {
	method, ok := class.Methods.Get(name)
	if !ok {
		vm.RuntimeError("Undefined property '%s'.", name.Chars)
		return false
	}
	native := method.AsObj().(*ObjNative)
	bound := vm.newBoundNative(vm.peek(0), native)
	vm.pop()
	vm.push(ObjValue(bound))
	return true
}

// captureUpvalue returns the open upvalue for a stack slot, creating and
// threading a new one if the slot is not yet captured. The open list is
// kept sorted by descending slot index.
func (vm *VM) captureUpvalue(slot int) *ObjUpvalue {
	var prev *ObjUpvalue
	upvalue := vm.openUpvalues
	for upvalue != nil && upvalue.Location > slot {
		prev = upvalue
		upvalue = upvalue.Next
	}

	if upvalue != nil && upvalue.Location == slot {
		return upvalue
	}

	created := vm.newUpvalue(slot)
	created.Next = upvalue
	if prev == nil {
		vm.openUpvalues = created
	} else {
		prev.Next = created
	}
	return created
}

// closeUpvalues closes every open upvalue at or above the given slot:
// the stack value moves into the upvalue's own cell.
func (vm *VM) closeUpvalues(last int) {
	for vm.openUpvalues != nil && vm.openUpvalues.Location >= last {
		upvalue := vm.openUpvalues
		upvalue.Closed = vm.stack[upvalue.Location]
		upvalue.Location = upvalueClosed
		vm.openUpvalues = upvalue.Next
		upvalue.Next = nil
	}
}

// upvalueValue reads through an upvalue regardless of open/closed state.
func (vm *VM) upvalueValue(u *ObjUpvalue) Value {
	if u.IsOpen() {
		return vm.stack[u.Location]
	}
	return u.Closed
}

// setUpvalue writes through an upvalue regardless of open/closed state.
func (vm *VM) setUpvalue(u *ObjUpvalue, value Value) {
	if u.IsOpen() {
		vm.stack[u.Location] = value
	} else {
		u.Closed = value
	}
}

// defineMethod pops a method closure into the class beneath it.
func (vm *VM) defineMethod(name *ObjString) {
	method := vm.peek(0)
	class, _ := asClass(vm.peek(1))
	class.Methods.Set(name, method)
	vm.pop()
}

// callFromNative re-enters the interpreter from inside a native (list.map
// and friends). It pushes the callee and arguments, dispatches, and runs
// nested frames to completion. The result is returned popped.
func (vm *VM) callFromNative(callee Value, args []Value) (Value, bool) {
	floor := vm.frameCount
	vm.push(callee)
	for _, a := range args {
		vm.push(a)
	}
	if !vm.callValue(callee, len(args)) {
		return NilValue(), false
	}
	if vm.frameCount > floor {
		if vm.run(floor) != InterpretOK {
			return NilValue(), false
		}
	}
	return vm.pop(), true
}
