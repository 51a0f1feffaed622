package vm

import "math"

// run is the fetch-decode-execute loop. It executes until the frame count
// drops to exitFrame through OP_RETURN, leaving the return value on the
// stack. The top-level script runs with exitFrame 0; module loads and
// native re-entry run nested with their own floor.
func (vm *VM) run(exitFrame int) InterpretResult {
	frame := &vm.frames[vm.frameCount-1]

	readByte := func() byte {
		b := frame.closure.Function.Chunk.Code[frame.ip]
		frame.ip++
		return b
	}
	readShort := func() int {
		hi := int(readByte())
		lo := int(readByte())
		return hi<<8 | lo
	}
	readConstant := func() Value {
		return frame.closure.Function.Chunk.Constants[readByte()]
	}
	readConstantLong := func() Value {
		b0 := int(readByte())
		b1 := int(readByte())
		b2 := int(readByte())
		return frame.closure.Function.Chunk.Constants[b0|b1<<8|b2<<16]
	}
	readString := func() *ObjString {
		s, _ := asString(readConstant())
		return s
	}

	// unwind recovers from a reported runtime error when test mode allows:
	// the failing frame is discarded and its caller resumes with nil.
	unwind := func() bool {
		if !vm.testMode {
			return false
		}
		if vm.frameCount <= exitFrame+1 {
			return false
		}
		f := &vm.frames[vm.frameCount-1]
		vm.closeUpvalues(f.base)
		vm.frameCount--
		vm.sp = f.base
		vm.push(NilValue())
		frame = &vm.frames[vm.frameCount-1]
		return true
	}

	for {
		switch instruction := Opcode(readByte()); instruction {
		case OP_CONSTANT:
			vm.push(readConstant())

		case OP_CONSTANT_LONG:
			vm.push(readConstantLong())

		case OP_NIL:
			vm.push(NilValue())

		case OP_TRUE:
			vm.push(BoolValue(true))

		case OP_FALSE:
			vm.push(BoolValue(false))

		case OP_POP:
			vm.pop()

		case OP_GET_LOCAL:
			slot := int(readByte())
			vm.push(vm.stack[frame.base+slot])

		case OP_SET_LOCAL:
			slot := int(readByte())
			vm.stack[frame.base+slot] = vm.peek(0)

		case OP_GET_GLOBAL:
			name := readString()
			value, ok := vm.globalsFor(frame).Get(name)
			if !ok {
				vm.RuntimeError("Undefined variable '%s'.", name.Chars)
				if unwind() {
					continue
				}
				return InterpretRuntimeError
			}
			vm.push(value)

		case OP_DEFINE_GLOBAL:
			name := readString()
			vm.globalsFor(frame).Set(name, vm.peek(0))
			vm.pop()

		case OP_SET_GLOBAL:
			name := readString()
			globals := vm.globalsFor(frame)
			if globals.Set(name, vm.peek(0)) {
				globals.Delete(name)
				vm.RuntimeError("Undefined variable '%s'", name.Chars)
				if unwind() {
					continue
				}
				return InterpretRuntimeError
			}

		case OP_GET_UPVALUE:
			slot := int(readByte())
			vm.push(vm.upvalueValue(frame.closure.Upvalues[slot]))

		case OP_SET_UPVALUE:
			slot := int(readByte())
			vm.setUpvalue(frame.closure.Upvalues[slot], vm.peek(0))

		case OP_GET_PROPERTY:
			if instance, ok := asInstance(vm.peek(0)); ok {
				name := readString()
				if value, found := instance.Fields.Get(name); found {
					vm.pop()
					vm.push(value)
					continue
				}
				if !vm.bindMethod(instance.Class, name) {
					if unwind() {
						continue
					}
					return InterpretRuntimeError
				}
				continue
			}
			if module, ok := moduleReceiver(vm.peek(0)); ok {
				name := readString()
				value, found := module.Exports.Get(name)
				if !found {
					vm.RuntimeError("Undefined property '%s'.", name.Chars)
					if unwind() {
						continue
					}
					return InterpretRuntimeError
				}
				vm.pop()
				vm.push(value)
				continue
			}
			if class := vm.primitiveClassFor(vm.peek(0)); class != nil {
				name := readString()
				if !vm.bindNative(class, name) {
					if unwind() {
						continue
					}
					return InterpretRuntimeError
				}
				continue
			}
			vm.RuntimeError("Only instances have properties")
			if unwind() {
				continue
			}
			return InterpretRuntimeError

		case OP_SET_PROPERTY:
			instance, ok := asInstance(vm.peek(1))
			if !ok {
				vm.RuntimeError("Only instances have fields")
				if unwind() {
					continue
				}
				return InterpretRuntimeError
			}
			instance.Fields.Set(readString(), vm.peek(0))
			value := vm.pop()
			vm.pop()
			vm.push(value)

		case OP_GET_SUPER:
			name := readString()
			superclass, _ := asClass(vm.pop())
			if !vm.bindMethod(superclass, name) {
				if unwind() {
					continue
				}
				return InterpretRuntimeError
			}

		case OP_ADD:
			a, b := vm.peek(1), vm.peek(0)
			_, aIsString := asString(a)
			_, bIsString := asString(b)
			switch {
			case aIsString || bIsString:
				result := vm.internString(a.String() + b.String())
				vm.pop()
				vm.pop()
				vm.push(ObjValue(result))
			case a.IsNumber() && b.IsNumber():
				vm.pop()
				vm.pop()
				vm.push(NumberValue(a.AsNumber() + b.AsNumber()))
			default:
				vm.RuntimeError("Operands must be two numbers or two strings.")
				if unwind() {
					continue
				}
				return InterpretRuntimeError
			}

		case OP_SUBTRACT, OP_MULTIPLY, OP_DIVIDE, OP_MODULO, OP_GREATER, OP_LESS:
			if !vm.peek(0).IsNumber() || !vm.peek(1).IsNumber() {
				vm.RuntimeError("Operands must be numbers.")
				if unwind() {
					continue
				}
				return InterpretRuntimeError
			}
			b := vm.pop().AsNumber()
			a := vm.pop().AsNumber()
			switch instruction {
			case OP_SUBTRACT:
				vm.push(NumberValue(a - b))
			case OP_MULTIPLY:
				vm.push(NumberValue(a * b))
			case OP_DIVIDE:
				// Division by zero follows IEEE: inf or NaN, not an error.
				vm.push(NumberValue(a / b))
			case OP_MODULO:
				vm.push(NumberValue(math.Mod(a, b)))
			case OP_GREATER:
				vm.push(BoolValue(a > b))
			case OP_LESS:
				vm.push(BoolValue(a < b))
			}

		case OP_NEGATE:
			if !vm.peek(0).IsNumber() {
				vm.RuntimeError("Operand must be a number.")
				if unwind() {
					continue
				}
				return InterpretRuntimeError
			}
			vm.push(NumberValue(-vm.pop().AsNumber()))

		case OP_NOT:
			vm.push(BoolValue(vm.pop().IsFalsey()))

		case OP_EQUAL:
			b := vm.pop()
			a := vm.pop()
			vm.push(BoolValue(a.Equals(b)))

		case OP_PRINT:
			value := vm.pop()
			writeLine(vm.out, value.String())

		case OP_JUMP:
			offset := readShort()
			frame.ip += offset

		case OP_JUMP_IF_FALSE:
			offset := readShort()
			if vm.peek(0).IsFalsey() {
				frame.ip += offset
			}

		case OP_LOOP:
			offset := readShort()
			frame.ip -= offset

		case OP_CALL:
			argCount := int(readByte())
			if !vm.callValue(vm.peek(argCount), argCount) {
				if unwind() {
					continue
				}
				return InterpretRuntimeError
			}
			frame = &vm.frames[vm.frameCount-1]

		case OP_INVOKE:
			method := readString()
			argCount := int(readByte())
			if !vm.invoke(method, argCount) {
				if unwind() {
					continue
				}
				return InterpretRuntimeError
			}
			frame = &vm.frames[vm.frameCount-1]

		case OP_SUPER_INVOKE:
			method := readString()
			argCount := int(readByte())
			superclass, _ := asClass(vm.pop())
			if !vm.invokeFromClass(superclass, method, argCount) {
				if unwind() {
					continue
				}
				return InterpretRuntimeError
			}
			frame = &vm.frames[vm.frameCount-1]

		case OP_CLOSURE:
			function, _ := asFunction(readConstant())
			closure := vm.newClosure(function)
			// A closure belongs to the module its enclosing function was
			// defined in, wherever it happens to be instantiated.
			closure.Module = frame.closure.Module
			vm.push(ObjValue(closure))
			for i := 0; i < function.UpvalueCount; i++ {
				isLocal := readByte()
				index := int(readByte())
				if isLocal == 1 {
					closure.Upvalues[i] = vm.captureUpvalue(frame.base + index)
				} else {
					closure.Upvalues[i] = frame.closure.Upvalues[index]
				}
			}

		case OP_CLOSE_UPVALUE:
			vm.closeUpvalues(vm.sp - 1)
			vm.pop()

		case OP_RETURN:
			result := vm.pop()
			vm.closeUpvalues(frame.base)
			vm.frameCount--
			vm.sp = frame.base
			vm.push(result)
			if vm.frameCount == exitFrame {
				return InterpretOK
			}
			frame = &vm.frames[vm.frameCount-1]

		case OP_CLASS:
			vm.push(ObjValue(vm.newClass(readString())))

		case OP_INHERIT:
			superclass, ok := asClass(vm.peek(1))
			if !ok {
				vm.RuntimeError("Superclass must be a class.")
				if unwind() {
					continue
				}
				return InterpretRuntimeError
			}
			subclass, _ := asClass(vm.peek(0))
			subclass.Methods.AddAll(&superclass.Methods)
			vm.pop()

		case OP_METHOD:
			vm.defineMethod(readString())

		case OP_BUILD_LIST:
			list := vm.newList()
			itemCount := int(readByte())
			vm.push(ObjValue(list)) // keep reachable while appending
			for i := itemCount; i > 0; i-- {
				vm.listAppend(list, vm.peek(i))
			}
			vm.pop()
			vm.sp -= itemCount
			vm.push(ObjValue(list))

		case OP_BUILD_MAP:
			m := vm.newMap()
			pairCount := int(readByte())
			vm.push(ObjValue(m)) // keep reachable while inserting
			bad := false
			for i := pairCount * 2; i > 0; i -= 2 {
				key, ok := asString(vm.peek(i))
				if !ok {
					vm.RuntimeError("Map key must be a string.")
					bad = true
					break
				}
				vm.mapSet(m, key, vm.peek(i-1))
			}
			if bad {
				if unwind() {
					continue
				}
				return InterpretRuntimeError
			}
			vm.pop()
			vm.sp -= pairCount * 2
			vm.push(ObjValue(m))

		case OP_INDEX:
			indexVal := vm.pop()
			target := vm.pop()
			if list, ok := asList(target); ok {
				if !indexVal.IsNumber() {
					vm.RuntimeError("Index value must be a number.")
					if unwind() {
						continue
					}
					return InterpretRuntimeError
				}
				index := int(indexVal.AsNumber())
				if index < 0 || index >= len(list.Items) {
					vm.RuntimeError("Index out of range.")
					if unwind() {
						continue
					}
					return InterpretRuntimeError
				}
				vm.push(list.Items[index])
				continue
			}
			if m, ok := asMap(target); ok {
				key, ok := asString(indexVal)
				if !ok {
					vm.RuntimeError("Map key must be a string.")
					if unwind() {
						continue
					}
					return InterpretRuntimeError
				}
				// A missing key reads as nil.
				value, _ := m.Entries.Get(key)
				vm.push(value)
				continue
			}
			vm.RuntimeError("Can only index into lists and maps.")
			if unwind() {
				continue
			}
			return InterpretRuntimeError

		case OP_STORE:
			// Operands stay on the stack until the store lands: a map
			// insert can trigger a collection.
			item := vm.peek(0)
			indexVal := vm.peek(1)
			target := vm.peek(2)
			if list, ok := asList(target); ok {
				if !indexVal.IsNumber() {
					vm.RuntimeError("Index value must be a number.")
					if unwind() {
						continue
					}
					return InterpretRuntimeError
				}
				index := int(indexVal.AsNumber())
				if index < 0 || index >= len(list.Items) {
					vm.RuntimeError("Index out of range.")
					if unwind() {
						continue
					}
					return InterpretRuntimeError
				}
				list.Items[index] = item
				vm.sp -= 3
				vm.push(item)
				continue
			}
			if m, ok := asMap(target); ok {
				key, ok := asString(indexVal)
				if !ok {
					vm.RuntimeError("Map key must be a string.")
					if unwind() {
						continue
					}
					return InterpretRuntimeError
				}
				// Assigning a fresh key inserts it.
				vm.mapSet(m, key, item)
				vm.sp -= 3
				vm.push(item)
				continue
			}
			vm.RuntimeError("Can only store into lists and maps.")
			if unwind() {
				continue
			}
			return InterpretRuntimeError

		case OP_IMPORT:
			path := readString()
			module, ok := vm.loadModule(path)
			if !ok {
				if unwind() {
					continue
				}
				return InterpretRuntimeError
			}
			namespace := vm.globalsFor(frame)
			module.Exports.Range(func(key *ObjString, value Value) {
				namespace.Set(key, value)
			})

		case OP_IMPORT_FROM:
			path := readString()
			name := readString()
			module, ok := vm.loadModule(path)
			if !ok {
				if unwind() {
					continue
				}
				return InterpretRuntimeError
			}
			value, found := module.Exports.Get(name)
			if !found {
				vm.RuntimeError("Module '%s' has no exported name '%s'.", module.Name.Chars, name.Chars)
				if unwind() {
					continue
				}
				return InterpretRuntimeError
			}
			vm.globalsFor(frame).Set(name, value)

		case OP_EXPORT:
			name := readString()
			module := frame.closure.Module
			if module == nil {
				vm.RuntimeError("Cannot export outside of a module.")
				if unwind() {
					continue
				}
				return InterpretRuntimeError
			}
			// The exported value is read back from globals by name, so it
			// reflects whatever the global holds when this opcode runs.
			value, _ := vm.globalsFor(frame).Get(name)
			module.Exports.Set(name, value)
		}
	}
}
