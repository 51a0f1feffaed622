package vm

// Primitive-type methods. By the binding convention the receiver arrives
// as the last argument, pushed by invokePrimitive or the bound-native call
// path.

// String methods.

func stringLengthNative(vm *VM, argCount int, args []Value) Value {
	receiver, _ := asString(args[argCount-1])
	return NumberValue(float64(len(receiver.Chars)))
}

func stringSplitNative(vm *VM, argCount int, args []Value) Value {
	sep, ok := asString(args[0])
	if !ok {
		vm.RuntimeError("Can only split using a string.")
		return ErrorValue()
	}
	receiver, _ := asString(args[1])

	list := vm.newList()
	vm.PushTempRoot(ObjValue(list))

	if len(sep.Chars) == 0 {
		// An empty separator splits into individual bytes.
		for i := 0; i < len(receiver.Chars); i++ {
			part := vm.internString(receiver.Chars[i : i+1])
			vm.listAppend(list, ObjValue(part))
		}
	} else {
		start := 0
		for i := 0; i+len(sep.Chars) <= len(receiver.Chars); {
			if receiver.Chars[i:i+len(sep.Chars)] == sep.Chars {
				vm.listAppend(list, ObjValue(vm.internString(receiver.Chars[start:i])))
				i += len(sep.Chars)
				start = i
			} else {
				i++
			}
		}
		vm.listAppend(list, ObjValue(vm.internString(receiver.Chars[start:])))
	}

	vm.PopTempRoot()
	return ObjValue(list)
}

func stringCharAtNative(vm *VM, argCount int, args []Value) Value {
	if !args[0].IsNumber() {
		vm.RuntimeError("Index value must be a number.")
		return ErrorValue()
	}
	receiver, _ := asString(args[1])

	index := int(args[0].AsNumber())
	if index < 0 {
		index += len(receiver.Chars)
	}
	if index < 0 || index >= len(receiver.Chars) {
		vm.RuntimeError("Index out of range.")
		return ErrorValue()
	}
	return ObjValue(vm.internString(receiver.Chars[index : index+1]))
}

func stringSliceNative(vm *VM, argCount int, args []Value) Value {
	receiver, _ := asString(args[argCount-1])
	length := len(receiver.Chars)

	if !args[0].IsNumber() {
		vm.RuntimeError("Index value must be a number.")
		return ErrorValue()
	}
	start := int(args[0].AsNumber())

	end := length
	if argCount > 2 {
		if !args[1].IsNumber() {
			vm.RuntimeError("Index value must be a number.")
			return ErrorValue()
		}
		end = int(args[1].AsNumber())
	}

	// Negative indices count from the end; everything clamps into range.
	if start < 0 {
		start += length
	}
	if end < 0 {
		end += length
	}
	start = clamp(start, 0, length)
	end = clamp(end, 0, length)
	if end < start {
		end = start
	}

	return ObjValue(vm.internString(receiver.Chars[start:end]))
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Number methods.

func numberAddNative(vm *VM, argCount int, args []Value) Value {
	if !args[0].IsNumber() {
		vm.RuntimeError("Operands must be numbers.")
		return ErrorValue()
	}
	return NumberValue(args[0].AsNumber() + args[1].AsNumber())
}

// List methods.

func listAddNative(vm *VM, argCount int, args []Value) Value {
	list, _ := asList(args[1])
	vm.listAppend(list, args[0])
	return ObjValue(list)
}

func listRemoveNative(vm *VM, argCount int, args []Value) Value {
	list, _ := asList(args[1])
	if !args[0].IsNumber() {
		vm.RuntimeError("Index value must be a number.")
		return ErrorValue()
	}
	index := int(args[0].AsNumber())
	if index < 0 || index >= len(list.Items) {
		vm.RuntimeError("Index out of bounds.")
		return ErrorValue()
	}
	copy(list.Items[index:], list.Items[index+1:])
	list.Items = list.Items[:len(list.Items)-1]
	return ObjValue(list)
}

func listLengthNative(vm *VM, argCount int, args []Value) Value {
	list, _ := asList(args[0])
	return NumberValue(float64(len(list.Items)))
}

func listMapNative(vm *VM, argCount int, args []Value) Value {
	fn := args[0]
	list, _ := asList(args[1])

	result := vm.newList()
	vm.PushTempRoot(ObjValue(result))
	for _, item := range list.Items {
		value, ok := vm.callFromNative(fn, []Value{item})
		if !ok {
			vm.PopTempRoot()
			return ErrorValue()
		}
		vm.listAppend(result, value)
	}
	vm.PopTempRoot()
	return ObjValue(result)
}

func listFilterNative(vm *VM, argCount int, args []Value) Value {
	fn := args[0]
	list, _ := asList(args[1])

	result := vm.newList()
	vm.PushTempRoot(ObjValue(result))
	for _, item := range list.Items {
		keep, ok := vm.callFromNative(fn, []Value{item})
		if !ok {
			vm.PopTempRoot()
			return ErrorValue()
		}
		if !keep.IsFalsey() {
			vm.listAppend(result, item)
		}
	}
	vm.PopTempRoot()
	return ObjValue(result)
}

func listFindNative(vm *VM, argCount int, args []Value) Value {
	fn := args[0]
	list, _ := asList(args[1])

	for _, item := range list.Items {
		found, ok := vm.callFromNative(fn, []Value{item})
		if !ok {
			return ErrorValue()
		}
		if !found.IsFalsey() {
			return item
		}
	}
	return NilValue()
}

func listContainsNative(vm *VM, argCount int, args []Value) Value {
	target := args[0]
	list, _ := asList(args[1])
	for _, item := range list.Items {
		if item.Equals(target) {
			return BoolValue(true)
		}
	}
	return BoolValue(false)
}

func listReverseNative(vm *VM, argCount int, args []Value) Value {
	list, _ := asList(args[0])

	result := vm.newList()
	vm.PushTempRoot(ObjValue(result))
	for i := len(list.Items) - 1; i >= 0; i-- {
		vm.listAppend(result, list.Items[i])
	}
	vm.PopTempRoot()
	return ObjValue(result)
}

func listSumNative(vm *VM, argCount int, args []Value) Value {
	list, _ := asList(args[0])
	total := 0.0
	for _, item := range list.Items {
		if !item.IsNumber() {
			vm.RuntimeError("Can only sum a list of numbers.")
			return ErrorValue()
		}
		total += item.AsNumber()
	}
	return NumberValue(total)
}

// Map methods.

func mapKeysNative(vm *VM, argCount int, args []Value) Value {
	m, _ := asMap(args[0])

	result := vm.newList()
	vm.PushTempRoot(ObjValue(result))
	m.Entries.Range(func(key *ObjString, value Value) {
		vm.listAppend(result, ObjValue(key))
	})
	vm.PopTempRoot()
	return ObjValue(result)
}

func mapValuesNative(vm *VM, argCount int, args []Value) Value {
	m, _ := asMap(args[0])

	result := vm.newList()
	vm.PushTempRoot(ObjValue(result))
	m.Entries.Range(func(key *ObjString, value Value) {
		vm.listAppend(result, value)
	})
	vm.PopTempRoot()
	return ObjValue(result)
}

func mapHasNative(vm *VM, argCount int, args []Value) Value {
	key, ok := asString(args[0])
	if !ok {
		vm.RuntimeError("Map key must be a string.")
		return ErrorValue()
	}
	m, _ := asMap(args[1])
	_, found := m.Entries.Get(key)
	return BoolValue(found)
}

func mapRemoveNative(vm *VM, argCount int, args []Value) Value {
	key, ok := asString(args[0])
	if !ok {
		vm.RuntimeError("Map key must be a string.")
		return ErrorValue()
	}
	m, _ := asMap(args[1])
	m.Entries.Delete(key)
	return ObjValue(m)
}

func mapLengthNative(vm *VM, argCount int, args []Value) Value {
	m, _ := asMap(args[0])
	return NumberValue(float64(m.Entries.Len()))
}
