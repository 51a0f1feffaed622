package vm

import "reflect"

// Memory management: every object is created through the VM's allocate
// path, which links it into the arena list, charges its estimated size
// against the collection threshold, and may run a collection first.
//
// The collector is a precise stop-the-world mark-and-sweep. "Freeing" an
// object unlinks it from the arena and drops its outgoing references so
// the host runtime can reclaim it; live objects never move, so object
// pointers stay valid across collections.

const (
	objBaseSize   = 48 // estimated header + bookkeeping per object
	valueSize     = 24
	tableSlotSize = 32
)

// heapGrowFactor scales the next collection threshold after a sweep.
const heapGrowFactor = 2

// maybeCollect runs a collection if the threshold has been crossed (or on
// every call under stress mode). Callers must ensure every live object is
// reachable from a root before calling.
func (vm *VM) maybeCollect() {
	if vm.StressGC || vm.bytesAllocated > vm.nextGC {
		vm.collectGarbage()
	}
}

// allocate links a freshly created object into the arena. The collection
// check runs before linking, so the new object itself is never swept.
func (vm *VM) allocate(o Object, typ ObjType) {
	vm.maybeCollect()
	h := o.header()
	h.typ = typ
	h.next = vm.objects
	vm.objects = o
	vm.bytesAllocated += objectSize(o)
}

// chargeBytes accounts for payload growth (list append, table resize) that
// happens outside object creation.
func (vm *VM) chargeBytes(n int) {
	vm.bytesAllocated += n
	vm.maybeCollect()
}

// PushTempRoot keeps value reachable across allocations that happen before
// it lands on the stack or in a table. Must be paired LIFO with
// PopTempRoot.
func (vm *VM) PushTempRoot(value Value) {
	vm.tempRoots = append(vm.tempRoots, value)
}

// PopTempRoot removes the most recent temporary root.
func (vm *VM) PopTempRoot() {
	vm.tempRoots = vm.tempRoots[:len(vm.tempRoots)-1]
}

// Object constructors.

// internString returns the canonical string object for chars, allocating
// it on first sight.
func (vm *VM) internString(chars string) *ObjString {
	hash := hashString(chars)
	if interned := vm.strings.FindString(chars, hash); interned != nil {
		return interned
	}
	s := &ObjString{Chars: chars, Hash: hash}
	vm.allocate(s, OBJ_STRING)
	vm.strings.Set(s, NilValue())
	return s
}

func (vm *VM) newFunction() *ObjFunction {
	f := &ObjFunction{}
	vm.allocate(f, OBJ_FUNCTION)
	return f
}

func (vm *VM) newClosure(function *ObjFunction) *ObjClosure {
	c := &ObjClosure{
		Function: function,
		Upvalues: make([]*ObjUpvalue, function.UpvalueCount),
		Module:   vm.currentModule,
	}
	vm.allocate(c, OBJ_CLOSURE)
	return c
}

func (vm *VM) newUpvalue(slot int) *ObjUpvalue {
	u := &ObjUpvalue{Location: slot, Closed: NilValue()}
	vm.allocate(u, OBJ_UPVALUE)
	return u
}

func (vm *VM) newClass(name *ObjString) *ObjClass {
	c := &ObjClass{Name: name}
	vm.allocate(c, OBJ_CLASS)
	return c
}

func (vm *VM) newInstance(class *ObjClass) *ObjInstance {
	i := &ObjInstance{Class: class}
	vm.allocate(i, OBJ_INSTANCE)
	return i
}

func (vm *VM) newBoundMethod(receiver Value, method *ObjClosure) *ObjBoundMethod {
	b := &ObjBoundMethod{Receiver: receiver, Method: method}
	vm.allocate(b, OBJ_BOUND_METHOD)
	return b
}

func (vm *VM) newBoundNative(receiver Value, native *ObjNative) *ObjBoundNative {
	b := &ObjBoundNative{Receiver: receiver, Native: native}
	vm.allocate(b, OBJ_BOUND_NATIVE)
	return b
}

func (vm *VM) newNative(name string, fn NativeFn, arity int) *ObjNative {
	n := &ObjNative{Name: name, Arity: arity, Fn: fn}
	vm.allocate(n, OBJ_NATIVE)
	return n
}

func (vm *VM) newList() *ObjList {
	l := &ObjList{}
	vm.allocate(l, OBJ_LIST)
	return l
}

func (vm *VM) newMap() *ObjMap {
	m := &ObjMap{}
	vm.allocate(m, OBJ_MAP)
	return m
}

func (vm *VM) newModule(name *ObjString) *ObjModule {
	m := &ObjModule{Name: name}
	vm.allocate(m, OBJ_MODULE)
	return m
}

// listAppend grows a list, charging the collector for the new slot.
func (vm *VM) listAppend(list *ObjList, value Value) {
	list.Items = append(list.Items, value)
	vm.chargeBytes(valueSize)
}

// mapSet inserts into a map, charging the collector for fresh keys.
func (vm *VM) mapSet(m *ObjMap, key *ObjString, value Value) {
	if m.Entries.Set(key, value) {
		vm.chargeBytes(tableSlotSize)
	}
}

// Collection.

func (vm *VM) collectGarbage() {
	vm.markRoots()
	vm.traceReferences()
	// The intern table references strings weakly: drop entries whose key
	// did not survive marking before the sweep frees them.
	vm.strings.removeWhite()
	vm.sweep()
	vm.nextGC = vm.bytesAllocated * heapGrowFactor
}

func (vm *VM) markRoots() {
	for i := 0; i < vm.sp; i++ {
		vm.markValue(vm.stack[i])
	}
	for i := 0; i < vm.frameCount; i++ {
		vm.markObject(vm.frames[i].closure)
	}
	for u := vm.openUpvalues; u != nil; u = u.Next {
		vm.markObject(u)
	}
	vm.markTable(&vm.mainGlobals)
	if vm.globals != &vm.mainGlobals {
		vm.markTable(vm.globals)
	}
	vm.markTable(&vm.modules)
	vm.markObject(vm.initString)
	vm.markObject(vm.stringClass)
	vm.markObject(vm.numberClass)
	vm.markObject(vm.listClass)
	vm.markObject(vm.mapClass)
	if vm.currentModule != nil {
		vm.markObject(vm.currentModule)
	}
	for _, v := range vm.tempRoots {
		vm.markValue(v)
	}
	if vm.testFailures != nil {
		vm.markObject(vm.testFailures)
	}
	if vm.currentTest != nil {
		vm.markObject(vm.currentTest)
	}
	// Functions under construction are reachable only through the compiler
	// chain while compilation is in flight.
	for c := vm.compiler; c != nil; c = c.enclosing {
		vm.markObject(c.function)
	}
}

func (vm *VM) markValue(v Value) {
	if v.Type == ValObj {
		vm.markObject(v.obj)
	}
}

func (vm *VM) markObject(o Object) {
	// Optional references (a script function's Name, a closure's Module,
	// an upvalue slot not yet filled) arrive as typed nil pointers.
	if o == nil || reflect.ValueOf(o).IsNil() {
		return
	}
	h := o.header()
	if h.marked {
		return
	}
	h.marked = true
	vm.grayStack = append(vm.grayStack, o)
}

func (vm *VM) markTable(t *Table) {
	t.Range(func(key *ObjString, value Value) {
		vm.markObject(key)
		vm.markValue(value)
	})
}

func (vm *VM) traceReferences() {
	for len(vm.grayStack) > 0 {
		o := vm.grayStack[len(vm.grayStack)-1]
		vm.grayStack = vm.grayStack[:len(vm.grayStack)-1]
		vm.blackenObject(o)
	}
}

// blackenObject marks an object's outgoing references gray.
func (vm *VM) blackenObject(o Object) {
	switch obj := o.(type) {
	case *ObjString, *ObjNative:
		// No outgoing references.
	case *ObjFunction:
		vm.markObject(obj.Name)
		for _, c := range obj.Chunk.Constants {
			vm.markValue(c)
		}
	case *ObjClosure:
		vm.markObject(obj.Function)
		for _, u := range obj.Upvalues {
			vm.markObject(u)
		}
		vm.markObject(obj.Module)
	case *ObjUpvalue:
		vm.markValue(obj.Closed)
	case *ObjClass:
		vm.markObject(obj.Name)
		vm.markTable(&obj.Methods)
	case *ObjInstance:
		vm.markObject(obj.Class)
		vm.markTable(&obj.Fields)
	case *ObjBoundMethod:
		vm.markValue(obj.Receiver)
		vm.markObject(obj.Method)
	case *ObjBoundNative:
		vm.markValue(obj.Receiver)
		vm.markObject(obj.Native)
	case *ObjList:
		for _, item := range obj.Items {
			vm.markValue(item)
		}
	case *ObjMap:
		vm.markTable(&obj.Entries)
	case *ObjModule:
		vm.markObject(obj.Name)
		vm.markTable(&obj.Globals)
		vm.markTable(&obj.Exports)
	}
}

// sweep walks the arena, frees every unmarked object and clears the mark
// on the survivors.
func (vm *VM) sweep() {
	var previous Object
	object := vm.objects
	for object != nil {
		h := object.header()
		if h.marked {
			h.marked = false
			previous = object
			object = h.next
			continue
		}

		unreached := object
		object = h.next
		if previous == nil {
			vm.objects = object
		} else {
			previous.header().next = object
		}
		vm.freeObject(unreached)
	}
}

// freeObject unlinks an object's payload so nothing freed keeps other
// objects alive through stale references.
func (vm *VM) freeObject(o Object) {
	vm.bytesAllocated -= objectSize(o)
	if vm.bytesAllocated < 0 {
		// Sizes are estimates; growth charged elsewhere can make the
		// books come out slightly uneven.
		vm.bytesAllocated = 0
	}
	h := o.header()
	h.next = nil

	switch obj := o.(type) {
	case *ObjFunction:
		obj.Chunk = Chunk{}
		obj.Name = nil
	case *ObjClosure:
		obj.Upvalues = nil
		obj.Function = nil
		obj.Module = nil
	case *ObjUpvalue:
		obj.Closed = NilValue()
		obj.Next = nil
	case *ObjClass:
		obj.Methods = Table{}
	case *ObjInstance:
		obj.Fields = Table{}
		obj.Class = nil
	case *ObjList:
		obj.Items = nil
	case *ObjMap:
		obj.Entries = Table{}
	case *ObjModule:
		obj.Globals = Table{}
		obj.Exports = Table{}
	}
}

// objectSize estimates the heap charge for an object. The collector needs
// consistent accounting, not exact byte counts.
func objectSize(o Object) int {
	switch obj := o.(type) {
	case *ObjString:
		return objBaseSize + len(obj.Chars)
	case *ObjFunction:
		return objBaseSize + len(obj.Chunk.Code) + len(obj.Chunk.Constants)*valueSize + len(obj.Chunk.Lines)*8
	case *ObjClosure:
		return objBaseSize + len(obj.Upvalues)*8
	case *ObjList:
		return objBaseSize + cap(obj.Items)*valueSize
	case *ObjMap:
		return objBaseSize + len(obj.Entries.entries)*tableSlotSize
	case *ObjClass:
		return objBaseSize + len(obj.Methods.entries)*tableSlotSize
	case *ObjInstance:
		return objBaseSize + len(obj.Fields.entries)*tableSlotSize
	case *ObjModule:
		return objBaseSize + (len(obj.Globals.entries)+len(obj.Exports.entries))*tableSlotSize
	default:
		return objBaseSize
	}
}
