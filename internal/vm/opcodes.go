package vm

// Opcode represents a single VM instruction. Operands follow inline in the
// bytecode stream; widths are noted per opcode.
type Opcode byte

const (
	// Constants and literals
	OP_CONSTANT      Opcode = iota // u8 constant index
	OP_CONSTANT_LONG               // u24 little-endian constant index
	OP_NIL
	OP_TRUE
	OP_FALSE

	// Stack
	OP_POP

	// Variables
	OP_GET_LOCAL     // u8 slot
	OP_SET_LOCAL     // u8 slot
	OP_GET_GLOBAL    // u8 name constant
	OP_DEFINE_GLOBAL // u8 name constant
	OP_SET_GLOBAL    // u8 name constant
	OP_GET_UPVALUE   // u8 upvalue index
	OP_SET_UPVALUE   // u8 upvalue index

	// Properties
	OP_GET_PROPERTY // u8 name constant
	OP_SET_PROPERTY // u8 name constant
	OP_GET_SUPER    // u8 name constant

	// Arithmetic and logic
	OP_ADD
	OP_SUBTRACT
	OP_MULTIPLY
	OP_DIVIDE
	OP_MODULO
	OP_NEGATE
	OP_NOT
	OP_EQUAL
	OP_GREATER
	OP_LESS

	// Control flow
	OP_PRINT
	OP_JUMP          // u16 forward offset
	OP_JUMP_IF_FALSE // u16 forward offset; does not pop the condition
	OP_LOOP          // u16 backward offset
	OP_CALL          // u8 arg count

	// Fused property invocation
	OP_INVOKE       // u8 name constant, u8 arg count
	OP_SUPER_INVOKE // u8 name constant, u8 arg count

	// Closures
	OP_CLOSURE // u8 function constant, then (isLocal u8, index u8) per upvalue
	OP_CLOSE_UPVALUE

	// Objects and structures
	OP_RETURN
	OP_CLASS // u8 name constant
	OP_INHERIT
	OP_METHOD     // u8 name constant
	OP_BUILD_LIST // u8 element count
	OP_BUILD_MAP  // u8 pair count
	OP_INDEX
	OP_STORE

	// Modules
	OP_IMPORT      // u8 path constant
	OP_IMPORT_FROM // u8 path constant, u8 name constant
	OP_EXPORT      // u8 name constant
)
