package vm

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"time"
)

// FramesMax bounds call depth; StackMax sizes the operand stack. The stack
// is allocated once at VM creation and never grows, so open upvalues can
// hold slot indices without ever being invalidated by reallocation.
const (
	FramesMax = 64
	StackMax  = FramesMax * 256
)

// InterpretResult is the outcome of running a piece of source.
type InterpretResult int

const (
	InterpretOK InterpretResult = iota
	InterpretCompileError
	InterpretRuntimeError
)

// CallFrame is one activation record: the closure being run, its
// instruction pointer, and the stack index of the closure itself (locals
// sit in the slots above it).
type CallFrame struct {
	closure *ObjClosure
	ip      int
	base    int
}

// VM executes bytecode. It owns all mutable interpreter state: the value
// stack, call frames, globals, the string intern table, the module cache
// and the object heap. Nothing is package-global; every entry point takes
// the VM explicitly.
type VM struct {
	stack      []Value
	sp         int
	frames     [FramesMax]CallFrame
	frameCount int

	// globals points at the active namespace: the script table normally,
	// a module's own table while that module's body runs.
	globals     *Table
	mainGlobals Table

	strings       Table // string interning (weak keys, pruned at GC)
	modules       Table // path -> module, cached permanently
	currentModule *ObjModule
	loading       map[string]bool // paths being loaded, for cycle detection
	modulePaths   []string
	baseDir       string

	initString  *ObjString
	stringClass *ObjClass
	numberClass *ObjClass
	listClass   *ObjClass
	mapClass    *ObjClass

	openUpvalues *ObjUpvalue

	// Heap and collector state.
	objects        Object
	bytesAllocated int
	nextGC         int
	grayStack      []Object
	tempRoots      []Value

	// StressGC forces a collection before every allocation.
	StressGC bool

	// compiler is the live compiler chain during compilation; its
	// functions are GC roots.
	compiler *funcCompiler

	out       io.Writer
	errOut    io.Writer
	stdin     *bufio.Reader
	startTime time.Time

	// Test mode diverts runtime errors into testFailures instead of
	// halting; see the __enterTestMode native family.
	testMode     bool
	testFailures *ObjList
	currentTest  *ObjString

	// Open database handles for the sqlite natives.
	dbHandles map[int]*dbConn
	nextDB    int
}

// New creates a VM with its natives and primitive classes installed.
func New() *VM {
	vm := &VM{
		stack:     make([]Value, StackMax),
		nextGC:    1024 * 1024,
		loading:   make(map[string]bool),
		out:       os.Stdout,
		errOut:    os.Stderr,
		stdin:     bufio.NewReader(os.Stdin),
		startTime: time.Now(),
		dbHandles: make(map[int]*dbConn),
	}
	vm.globals = &vm.mainGlobals

	vm.initString = vm.internString("init")
	vm.defineNatives(vm.globals)
	vm.definePrimitiveClasses()
	return vm
}

// SetOutput redirects print output (defaults to stdout).
func (vm *VM) SetOutput(w io.Writer) { vm.out = w }

// SetErrorOutput redirects diagnostics and stack traces (defaults to
// stderr).
func (vm *VM) SetErrorOutput(w io.Writer) { vm.errOut = w }

// SetInput sets the reader behind the input() native (defaults to stdin).
func (vm *VM) SetInput(r io.Reader) { vm.stdin = bufio.NewReader(r) }

// SetBaseDir sets the directory relative imports resolve against,
// normally the directory of the running script.
func (vm *VM) SetBaseDir(dir string) { vm.baseDir = dir }

// SetModulePaths sets extra import roots, searched after the base
// directory.
func (vm *VM) SetModulePaths(paths []string) { vm.modulePaths = paths }

// SetGCThreshold overrides the allocation volume that triggers the first
// collection.
func (vm *VM) SetGCThreshold(bytes int) {
	if bytes > 0 {
		vm.nextGC = bytes
	}
}

// Interpret compiles and runs source as a top-level script.
func (vm *VM) Interpret(source string) InterpretResult {
	function := Compile(vm, source)
	if function == nil {
		return InterpretCompileError
	}

	vm.push(ObjValue(function))
	closure := vm.newClosure(function)
	vm.pop()
	vm.push(ObjValue(closure))
	vm.call(closure, 0)

	result := vm.run(0)
	if result == InterpretOK {
		vm.pop() // the script's return value
	}
	return result
}

func (vm *VM) push(value Value) {
	vm.stack[vm.sp] = value
	vm.sp++
}

func (vm *VM) pop() Value {
	vm.sp--
	return vm.stack[vm.sp]
}

func (vm *VM) peek(distance int) Value {
	return vm.stack[vm.sp-1-distance]
}

func (vm *VM) resetStack() {
	vm.sp = 0
	vm.frameCount = 0
	vm.openUpvalues = nil
}

// globalsFor resolves the namespace a frame's global accesses use: the
// frame's module if its closure carries one, the active namespace
// otherwise.
func (vm *VM) globalsFor(frame *CallFrame) *Table {
	if frame.closure.Module != nil {
		return &frame.closure.Module.Globals
	}
	return vm.globals
}

// RuntimeError reports a runtime error. In normal mode it prints the
// message and a stack trace to the error writer and resets the stack; the
// interpreter loop then aborts. In test mode it appends the message to the
// failure list and leaves the stack alone so the loop can unwind to the
// caller.
func (vm *VM) RuntimeError(format string, args ...interface{}) {
	message := fmt.Sprintf(format, args...)

	if vm.testMode {
		vm.recordTestFailure(message)
		return
	}

	fmt.Fprintf(vm.errOut, "%s\n", message)
	for i := vm.frameCount - 1; i >= 0; i-- {
		frame := &vm.frames[i]
		function := frame.closure.Function
		// ip already advanced past the failing instruction.
		line := function.Chunk.Lines[frame.ip-1]
		fmt.Fprintf(vm.errOut, "[line %d] in ", line)
		if function.Name == nil {
			fmt.Fprintf(vm.errOut, "script\n")
		} else {
			fmt.Fprintf(vm.errOut, "%s\n", function.Name.Chars)
		}
	}
	vm.resetStack()
}

func writeLine(w io.Writer, s string) {
	fmt.Fprintln(w, s)
}

// TestMode reports whether runtime errors are currently being diverted.
func (vm *VM) TestMode() bool { return vm.testMode }

// Close releases external resources (open database handles).
func (vm *VM) Close() {
	for _, conn := range vm.dbHandles {
		conn.db.Close()
	}
	vm.dbHandles = map[int]*dbConn{}
}
