package vm

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// maxInputLine bounds the input() native, trailing newline included.
const maxInputLine = 256

// defineNatives installs the built-in functions into a globals table. It
// runs once for the script namespace and once per module load, so every
// namespace starts with the same bindings.
func (vm *VM) defineNatives(globals *Table) {
	vm.defineNative(globals, "clock", clockNative, 0)
	vm.defineNative(globals, "input", inputNative, 0)
	vm.defineNative(globals, "readFile", readFileNative, 1)
	vm.defineNative(globals, "number", numberNative, 1)
	vm.defineNative(globals, "assert", assertNative, -1)
	vm.defineNative(globals, "assertEqual", assertEqualNative, 2)
	vm.defineTestModeNatives(globals)
	vm.defineDatabaseNatives(globals)
}

func (vm *VM) defineNative(globals *Table, name string, fn NativeFn, arity int) {
	nameStr := vm.internString(name)
	vm.PushTempRoot(ObjValue(nameStr))
	native := vm.newNative(name, fn, arity)
	globals.Set(nameStr, ObjValue(native))
	vm.PopTempRoot()
}

// definePrimitiveClasses builds the method tables dispatched to by
// OP_INVOKE and property access on non-instance receivers.
func (vm *VM) definePrimitiveClasses() {
	vm.stringClass = vm.newPrimitiveClass("String", map[string]primitiveMethod{
		"length": {stringLengthNative, 1},
		"split":  {stringSplitNative, 2},
		"charAt": {stringCharAtNative, 2},
		"slice":  {stringSliceNative, -2},
	})
	vm.numberClass = vm.newPrimitiveClass("Number", map[string]primitiveMethod{
		"add": {numberAddNative, 2},
	})
	vm.listClass = vm.newPrimitiveClass("List", map[string]primitiveMethod{
		"add":      {listAddNative, 2},
		"remove":   {listRemoveNative, 2},
		"length":   {listLengthNative, 1},
		"map":      {listMapNative, 2},
		"filter":   {listFilterNative, 2},
		"find":     {listFindNative, 2},
		"contains": {listContainsNative, 2},
		"reverse":  {listReverseNative, 1},
		"sum":      {listSumNative, 1},
	})
	vm.mapClass = vm.newPrimitiveClass("Map", map[string]primitiveMethod{
		"keys":   {mapKeysNative, 1},
		"values": {mapValuesNative, 1},
		"has":    {mapHasNative, 2},
		"remove": {mapRemoveNative, 2},
		"length": {mapLengthNative, 1},
	})
}

type primitiveMethod struct {
	fn    NativeFn
	arity int
}

func (vm *VM) newPrimitiveClass(name string, methods map[string]primitiveMethod) *ObjClass {
	nameStr := vm.internString(name)
	vm.PushTempRoot(ObjValue(nameStr))
	class := vm.newClass(nameStr)
	vm.PushTempRoot(ObjValue(class))
	for methodName, m := range methods {
		methodStr := vm.internString(methodName)
		vm.PushTempRoot(ObjValue(methodStr))
		native := vm.newNative(methodName, m.fn, m.arity)
		class.Methods.Set(methodStr, ObjValue(native))
		vm.PopTempRoot()
	}
	vm.PopTempRoot()
	vm.PopTempRoot()
	return class
}

// Built-in functions. Primitive methods receive the receiver as the last
// argument.

func clockNative(vm *VM, argCount int, args []Value) Value {
	return NumberValue(time.Since(vm.startTime).Seconds())
}

func inputNative(vm *VM, argCount int, args []Value) Value {
	line, err := vm.stdin.ReadString('\n')
	if err != nil && line == "" {
		return ObjValue(vm.internString(""))
	}
	if len(strings.TrimSuffix(line, "\n")) >= maxInputLine {
		vm.RuntimeError("Input cannot be longer than 256 characters.")
		return ErrorValue()
	}
	line = strings.TrimSuffix(line, "\n")
	line = strings.TrimSuffix(line, "\r")
	return ObjValue(vm.internString(line))
}

func readFileNative(vm *VM, argCount int, args []Value) Value {
	path, ok := asString(args[0])
	if !ok {
		vm.RuntimeError("Argument must be a string.")
		return ErrorValue()
	}

	data, err := os.ReadFile(path.Chars)
	if err != nil {
		vm.RuntimeError("Could not open file \"%s\".", path.Chars)
		return ErrorValue()
	}
	return ObjValue(vm.internString(string(data)))
}

func numberNative(vm *VM, argCount int, args []Value) Value {
	val := args[0]
	switch {
	case val.IsNumber():
		return val
	case val.IsBool():
		if val.AsBool() {
			return NumberValue(1)
		}
		return NumberValue(0)
	case val.IsObj():
		if s, ok := asString(val); ok {
			n, err := strconv.ParseFloat(strings.TrimSpace(s.Chars), 64)
			if err != nil {
				// Unparseable text converts to zero.
				return NumberValue(0)
			}
			return NumberValue(n)
		}
	}
	vm.RuntimeError("Given type cannot be converted to a number.")
	return ErrorValue()
}

func assertNative(vm *VM, argCount int, args []Value) Value {
	if !args[0].IsFalsey() {
		return NilValue()
	}
	message := "Assertion failed."
	if argCount > 1 {
		if s, ok := asString(args[1]); ok {
			message = s.Chars
		}
	}
	vm.RuntimeError("%s", message)
	return ErrorValue()
}

func assertEqualNative(vm *VM, argCount int, args []Value) Value {
	expected, actual := args[0], args[1]
	if expected.Equals(actual) {
		return NilValue()
	}
	vm.RuntimeError("Assertion failed: expected %s but got %s.", expected.String(), actual.String())
	return ErrorValue()
}
