package vm

import "strings"

// ObjType identifies the concrete type of a heap object.
type ObjType byte

const (
	OBJ_STRING ObjType = iota
	OBJ_FUNCTION
	OBJ_CLOSURE
	OBJ_UPVALUE
	OBJ_CLASS
	OBJ_INSTANCE
	OBJ_BOUND_METHOD
	OBJ_BOUND_NATIVE
	OBJ_NATIVE
	OBJ_LIST
	OBJ_MAP
	OBJ_MODULE
)

// Object is the interface of every heap object. Concrete objects embed
// ObjHeader, which threads all allocations into the VM's single arena list
// for sweeping. References between objects are non-owning; only the
// collector frees.
type Object interface {
	header() *ObjHeader
	display() string
}

// ObjHeader is the common object header: type tag, mark bit and the arena
// link.
type ObjHeader struct {
	typ    ObjType
	marked bool
	next   Object
}

func (h *ObjHeader) header() *ObjHeader { return h }

// Type returns the object's type tag.
func (h *ObjHeader) Type() ObjType { return h.typ }

// ObjString is an immutable interned byte string. Two live strings never
// have equal contents; comparisons are pointer comparisons.
type ObjString struct {
	ObjHeader
	Chars string
	Hash  uint32
}

func (s *ObjString) display() string { return s.Chars }

// hashString implements FNV-1a over the string's bytes.
func hashString(key string) uint32 {
	hash := uint32(2166136261)
	for i := 0; i < len(key); i++ {
		hash ^= uint32(key[i])
		hash *= 16777619
	}
	return hash
}

// ObjFunction is compiled code: a chunk plus calling metadata. Functions
// are created by the compiler and wrapped in closures before they run.
type ObjFunction struct {
	ObjHeader
	Arity        int
	UpvalueCount int
	Name         *ObjString // nil for the top-level script
	Chunk        Chunk
}

func (f *ObjFunction) display() string {
	if f.Name == nil {
		return "<script>"
	}
	return "<fn " + f.Name.Chars + ">"
}

// ObjClosure pairs a function with its captured upvalues. Module is the
// module the closure was defined in, or nil for script and REPL code;
// global accesses inside the closure resolve against it.
type ObjClosure struct {
	ObjHeader
	Function *ObjFunction
	Upvalues []*ObjUpvalue
	Module   *ObjModule
}

func (c *ObjClosure) display() string { return c.Function.display() }

// ObjUpvalue is a captured variable. While open it points at a live stack
// slot (Location is the slot index); closing copies the slot into Closed
// and sets Location to -1. Open upvalues form a list sorted by descending
// slot index, threaded through Next.
type ObjUpvalue struct {
	ObjHeader
	Location int
	Closed   Value
	Next     *ObjUpvalue
}

const upvalueClosed = -1

// IsOpen reports whether the upvalue still points into the stack.
func (u *ObjUpvalue) IsOpen() bool { return u.Location != upvalueClosed }

func (u *ObjUpvalue) display() string { return "upvalue" }

// ObjClass is a user-defined class: a name and a method table mapping
// method names to closures. Inheritance copies the superclass's methods
// down at OP_INHERIT, so lookup never walks a parent chain.
type ObjClass struct {
	ObjHeader
	Name    *ObjString
	Methods Table
}

func (c *ObjClass) display() string { return c.Name.Chars }

// ObjInstance is an instance of a class with its own field table.
type ObjInstance struct {
	ObjHeader
	Class  *ObjClass
	Fields Table
}

func (i *ObjInstance) display() string { return i.Class.Name.Chars + " instance" }

// ObjBoundMethod is a method closed over its receiver, produced by property
// access on an instance.
type ObjBoundMethod struct {
	ObjHeader
	Receiver Value
	Method   *ObjClosure
}

func (b *ObjBoundMethod) display() string { return b.Method.Function.display() }

// ObjBoundNative is a primitive method closed over its receiver, produced
// by property access on a string, number, list or map.
type ObjBoundNative struct {
	ObjHeader
	Receiver Value
	Native   *ObjNative
}

func (b *ObjBoundNative) display() string { return "<native method>" }

// NativeFn is the signature of built-in functions. args holds argCount
// values; primitive methods receive their receiver as the last argument.
// Returning ErrorValue aborts the call after the native has reported the
// error through vm.RuntimeError.
type NativeFn func(vm *VM, argCount int, args []Value) Value

// ObjNative wraps a Go function. A negative arity means variadic with a
// minimum of |arity| arguments.
type ObjNative struct {
	ObjHeader
	Name  string
	Arity int
	Fn    NativeFn
}

func (n *ObjNative) display() string { return "<native fn>" }

// ObjList is a mutable dynamic array.
type ObjList struct {
	ObjHeader
	Items []Value
}

func (l *ObjList) display() string {
	var b strings.Builder
	b.WriteByte('[')
	for i, item := range l.Items {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(item.String())
	}
	b.WriteByte(']')
	return b.String()
}

// ObjMap is a mutable hash map with string keys.
type ObjMap struct {
	ObjHeader
	Entries Table
}

func (m *ObjMap) display() string {
	var b strings.Builder
	b.WriteByte('{')
	first := true
	m.Entries.Range(func(key *ObjString, value Value) {
		if !first {
			b.WriteString(", ")
		}
		first = false
		b.WriteString(key.Chars)
		b.WriteString(": ")
		b.WriteString(value.String())
	})
	b.WriteByte('}')
	return b.String()
}

// ObjModule is a loaded module: its own globals namespace plus the subset
// promoted through export declarations.
type ObjModule struct {
	ObjHeader
	Name    *ObjString
	Globals Table
	Exports Table
}

func (m *ObjModule) display() string { return "<module " + m.Name.Chars + ">" }

// Convenience accessors used throughout the interpreter.

func asString(v Value) (*ObjString, bool) {
	if v.Type != ValObj {
		return nil, false
	}
	s, ok := v.obj.(*ObjString)
	return s, ok
}

func asList(v Value) (*ObjList, bool) {
	if v.Type != ValObj {
		return nil, false
	}
	l, ok := v.obj.(*ObjList)
	return l, ok
}

func asMap(v Value) (*ObjMap, bool) {
	if v.Type != ValObj {
		return nil, false
	}
	m, ok := v.obj.(*ObjMap)
	return m, ok
}

func asInstance(v Value) (*ObjInstance, bool) {
	if v.Type != ValObj {
		return nil, false
	}
	i, ok := v.obj.(*ObjInstance)
	return i, ok
}

func asClass(v Value) (*ObjClass, bool) {
	if v.Type != ValObj {
		return nil, false
	}
	c, ok := v.obj.(*ObjClass)
	return c, ok
}

func asClosure(v Value) (*ObjClosure, bool) {
	if v.Type != ValObj {
		return nil, false
	}
	c, ok := v.obj.(*ObjClosure)
	return c, ok
}

func asFunction(v Value) (*ObjFunction, bool) {
	if v.Type != ValObj {
		return nil, false
	}
	f, ok := v.obj.(*ObjFunction)
	return f, ok
}
