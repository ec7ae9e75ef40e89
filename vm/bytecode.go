package vm

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Opcode definitions
// ---------------------------------------------------------------------------

// Opcode represents a single bytecode instruction.
type Opcode byte

// Loads, stores, and stack shuffles
const (
	OpLoadFast       Opcode = 0x00 // push local variable (16-bit slot)
	OpStoreFast      Opcode = 0x01 // pop into local variable (16-bit slot)
	OpLoadConst      Opcode = 0x02 // push constant (16-bit index)
	OpLoadGlobal     Opcode = 0x03 // push global (16-bit name index)
	OpStoreGlobal    Opcode = 0x04 // pop into global (16-bit name index)
	OpLoadAttr       Opcode = 0x05 // pop object, push attribute (16-bit name index)
	OpStoreAttr      Opcode = 0x06 // pop object and value, set attribute
	OpLoadSubscr     Opcode = 0x07 // pop index and object, push object[index]
	OpStoreSubscr    Opcode = 0x08 // pop index, object, value; object[index] = value
	OpDeleteFast     Opcode = 0x09 // clear local variable slot (16-bit slot)
	OpDeleteGlobal   Opcode = 0x0A // remove global (16-bit name index)
	OpDeleteAttr     Opcode = 0x0B // pop object, delete attribute
	OpDeleteSubscr   Opcode = 0x0C // pop index and object, delete object[index]
	OpLoadName       Opcode = 0x0D // push by name: locals then globals (16-bit name index)
	OpStoreName      Opcode = 0x0E // pop into named scope (16-bit name index)
	OpLoadDeref      Opcode = 0x0F // push cell contents (16-bit cell slot)
	OpStoreDeref     Opcode = 0x10 // pop into cell (16-bit cell slot)
	OpLoadClassDeref Opcode = 0x11 // class-body deref: locals then cell (16-bit slot)
	OpDupTop         Opcode = 0x12 // duplicate top of stack
	OpDupTopTwo      Opcode = 0x13 // duplicate top two stack entries
	OpRotN           Opcode = 0x14 // rotate top N entries (8-bit count)
	OpPopTop         Opcode = 0x15 // discard top of stack
	OpSwap           Opcode = 0x16 // swap top two stack entries
	OpCopy           Opcode = 0x17 // push copy of the Nth entry from the top (8-bit depth)
	OpLoadClosure    Opcode = 0x18 // push the cell itself, for closure tuples (16-bit slot)
)

// Binary, in-place, and unary operators
const (
	OpBinaryAdd       Opcode = 0x20
	OpBinarySub       Opcode = 0x21
	OpBinaryMul       Opcode = 0x22
	OpBinaryDiv       Opcode = 0x23
	OpBinaryFloorDiv  Opcode = 0x24
	OpBinaryMod       Opcode = 0x25
	OpBinaryPow       Opcode = 0x26
	OpBinaryAnd       Opcode = 0x27
	OpBinaryOr        Opcode = 0x28
	OpBinaryXor       Opcode = 0x29
	OpBinaryLshift    Opcode = 0x2A
	OpBinaryRshift    Opcode = 0x2B
	OpBinaryMatMul    Opcode = 0x2C
	OpUnaryNeg        Opcode = 0x2D
	OpUnaryPos        Opcode = 0x2E
	OpUnaryInvert     Opcode = 0x2F
	OpUnaryNot        Opcode = 0x30
	OpInplaceAdd      Opcode = 0x31
	OpInplaceSub      Opcode = 0x32
	OpInplaceMul      Opcode = 0x33
	OpInplaceDiv      Opcode = 0x34
	OpInplaceFloorDiv Opcode = 0x35
	OpInplaceMod      Opcode = 0x36
	OpInplacePow      Opcode = 0x37
	OpInplaceAnd      Opcode = 0x38
	OpInplaceOr       Opcode = 0x39
	OpInplaceXor      Opcode = 0x3A
	OpInplaceLshift   Opcode = 0x3B
	OpInplaceRshift   Opcode = 0x3C
	OpInplaceMatMul   Opcode = 0x3D
)

// Comparisons
const (
	OpCompareLt      Opcode = 0x40
	OpCompareLe      Opcode = 0x41
	OpCompareEq      Opcode = 0x42
	OpCompareNe      Opcode = 0x43
	OpCompareGt      Opcode = 0x44
	OpCompareGe      Opcode = 0x45
	OpCompareIs      Opcode = 0x46
	OpCompareIsNot   Opcode = 0x47
	OpCompareIn      Opcode = 0x48
	OpCompareNotIn   Opcode = 0x49
	OpExceptionMatch Opcode = 0x4A // pop class, peek exception, push match flag
)

// Control flow and iteration
const (
	OpJump             Opcode = 0x50 // relative jump (signed 16-bit)
	OpJumpIfTrue       Opcode = 0x51 // pop, jump if truthy
	OpJumpIfFalse      Opcode = 0x52 // pop, jump if falsy
	OpJumpIfTrueOrPop  Opcode = 0x53 // jump keeping value if truthy, else pop
	OpJumpIfFalseOrPop Opcode = 0x54 // jump keeping value if falsy, else pop
	OpForIter          Opcode = 0x55 // advance iterator, jump past loop on exhaustion
	OpReturn           Opcode = 0x56 // pop and return top of stack
	OpYield            Opcode = 0x57 // pop and yield top of stack
	OpYieldFrom        Opcode = 0x58 // delegate to sub-iterator (16-bit, unused)
	OpGetIter          Opcode = 0x59 // pop value, push its iterator
	OpGetLen           Opcode = 0x5A // peek value, push its length
	OpContainsOp       Opcode = 0x5B // containment test (8-bit invert flag)
	OpImportName       Opcode = 0x5C // import module (16-bit name index)
	OpImportFrom       Opcode = 0x5D // push attribute from module on top (16-bit name index)
	OpImportStar       Opcode = 0x5E // pop module, copy public names into globals
	OpSetupAnnotations Opcode = 0x5F // ensure __annotations__ exists (16-bit, unused)
	OpPopJumpIfTrue    Opcode = 0x60
	OpPopJumpIfFalse   Opcode = 0x61
	OpPopJumpIfNone    Opcode = 0x62
	OpPopJumpIfNotNone Opcode = 0x63
)

// Calls and function construction
const (
	OpCall         Opcode = 0x70 // call with N positional args (16-bit argc)
	OpCallKw       Opcode = 0x71 // call with positional + keyword args (16-bit argc)
	OpCallEx       Opcode = 0x72 // call with unpacked *args/**kwargs (16-bit flags)
	OpMakeFunction Opcode = 0x73 // build function from code object (16-bit flag bits)
	OpMakeClosure  Opcode = 0x74 // build closure from code object + cells (16-bit flags)
	OpLoadMethod   Opcode = 0x75 // resolve method without binding (16-bit name index)
	OpCallMethod   Opcode = 0x76 // call method resolved by LoadMethod (16-bit argc)
	OpPushNull     Opcode = 0x77 // push call-protocol padding
	OpKwNames      Opcode = 0x78 // set keyword names for the next call (16-bit const index)
)

// Container construction and unpacking
const (
	OpBuildTuple     Opcode = 0x80 // pop N values, push tuple (8-bit count)
	OpBuildList      Opcode = 0x81 // pop N values, push list (8-bit count)
	OpBuildSet       Opcode = 0x82 // pop N values, push set (8-bit count)
	OpBuildDict      Opcode = 0x83 // pop N key/value pairs, push dict (8-bit count)
	OpBuildString    Opcode = 0x84 // pop N strings, push concatenation (8-bit count)
	OpBuildSlice     Opcode = 0x85 // pop N bounds, push slice (8-bit count: 2 or 3)
	OpListAppend     Opcode = 0x86 // append popped value to list at depth (16-bit depth)
	OpSetAdd         Opcode = 0x87 // add popped value to set at depth (16-bit depth)
	OpMapAdd         Opcode = 0x88 // pop key and value, insert into dict at depth (16-bit depth)
	OpListExtend     Opcode = 0x89 // extend list at depth with popped iterable (16-bit depth)
	OpSetUpdate      Opcode = 0x8A // update set at depth with popped iterable (16-bit depth)
	OpDictUpdate     Opcode = 0x8B // update dict at depth with popped mapping (16-bit depth)
	OpDictMerge      Opcode = 0x8C // like DictUpdate but duplicate keys error (16-bit depth)
	OpUnpackSequence Opcode = 0x8D // pop sequence, push N elements reversed (8-bit count)
	OpUnpackEx       Opcode = 0x8E // starred unpack (8-bit: low nibble before, high nibble after)
	OpFormatValue    Opcode = 0x8F // format top of stack (8-bit conversion flags)
)

// Exception handling and `with`
const (
	OpSetupExcept     Opcode = 0x90 // push except block (signed 16-bit handler offset)
	OpPopExcept       Opcode = 0x91 // pop handler block (16-bit, unused)
	OpRaise           Opcode = 0x92 // raise (8-bit argc: 0 bare, 1 exc, 2 exc from cause)
	OpReraise         Opcode = 0x93 // re-raise the active exception
	OpPushExcInfo     Opcode = 0x94 // push current exception info (16-bit, unused)
	OpCheckExcMatch   Opcode = 0x95 // pop class, test against peeked exception (16-bit, unused)
	OpCleanupThrow    Opcode = 0x96 // generator throw cleanup (16-bit, unused)
	OpSetupFinally    Opcode = 0x97 // push finally block (signed 16-bit handler offset)
	OpSetupWith       Opcode = 0x98 // push with block (signed 16-bit handler offset)
	OpBeforeWith      Opcode = 0x99 // call __enter__, push __exit__ then result (16-bit, unused)
	OpEndSend         Opcode = 0x9A // finish a Send: pop sub-iterator below result
	OpEndFinally      Opcode = 0x9B // resume pending action recorded by the finally marker
	OpWithExceptStart Opcode = 0x9C // call the retained __exit__ with the exception triple, push suppress flag
)

// Async
const (
	OpGetAwaitable    Opcode = 0xA0
	OpGetAiter        Opcode = 0xA1
	OpGetAnext        Opcode = 0xA2
	OpEndAsyncFor     Opcode = 0xA3
	OpBeforeAsyncWith Opcode = 0xA4
	OpSetupAsyncWith  Opcode = 0xA5
	OpSend            Opcode = 0xA6
	OpAsyncGenWrap    Opcode = 0xA7
)

// Special
const (
	OpNop       Opcode = 0xF0
	OpResume    Opcode = 0xF1 // resume point marker (8-bit kind)
	OpCache     Opcode = 0xF2 // inline cache padding (8-bit, unused)
	OpPrecall   Opcode = 0xF3 // call setup marker (8-bit, unused)
	OpBinaryOp  Opcode = 0xF4 // generic binary op (8-bit operator code)
	OpCompareOp Opcode = 0xF5 // generic comparison (8-bit operator code)
)

// ---------------------------------------------------------------------------
// Opcode metadata
// ---------------------------------------------------------------------------

// OpcodeInfo holds metadata about an opcode.
type OpcodeInfo struct {
	Name         string // human-readable name
	OperandBytes int    // number of operand bytes
	StackEffect  int    // net effect on stack (variable effects use the dominant case)
}

// opcodeTable maps opcodes to their metadata.
var opcodeTable = map[Opcode]OpcodeInfo{
	OpLoadFast:       {"LOAD_FAST", 2, 1},
	OpStoreFast:      {"STORE_FAST", 2, -1},
	OpLoadConst:      {"LOAD_CONST", 2, 1},
	OpLoadGlobal:     {"LOAD_GLOBAL", 2, 1},
	OpStoreGlobal:    {"STORE_GLOBAL", 2, -1},
	OpLoadAttr:       {"LOAD_ATTR", 2, 0},
	OpStoreAttr:      {"STORE_ATTR", 2, -2},
	OpLoadSubscr:     {"LOAD_SUBSCR", 0, -1},
	OpStoreSubscr:    {"STORE_SUBSCR", 0, -3},
	OpDeleteFast:     {"DELETE_FAST", 2, 0},
	OpDeleteGlobal:   {"DELETE_GLOBAL", 2, 0},
	OpDeleteAttr:     {"DELETE_ATTR", 2, -1},
	OpDeleteSubscr:   {"DELETE_SUBSCR", 0, -2},
	OpLoadName:       {"LOAD_NAME", 2, 1},
	OpStoreName:      {"STORE_NAME", 2, -1},
	OpLoadDeref:      {"LOAD_DEREF", 2, 1},
	OpStoreDeref:     {"STORE_DEREF", 2, -1},
	OpLoadClassDeref: {"LOAD_CLASSDEREF", 2, 1},
	OpDupTop:         {"DUP_TOP", 0, 1},
	OpDupTopTwo:      {"DUP_TOP_TWO", 0, 2},
	OpRotN:           {"ROT_N", 1, 0},
	OpPopTop:         {"POP_TOP", 0, -1},
	OpSwap:           {"SWAP", 0, 0},
	OpCopy:           {"COPY", 1, 1},
	OpLoadClosure:    {"LOAD_CLOSURE", 2, 1},

	OpBinaryAdd:       {"BINARY_ADD", 0, -1},
	OpBinarySub:       {"BINARY_SUB", 0, -1},
	OpBinaryMul:       {"BINARY_MUL", 0, -1},
	OpBinaryDiv:       {"BINARY_DIV", 0, -1},
	OpBinaryFloorDiv:  {"BINARY_FLOOR_DIV", 0, -1},
	OpBinaryMod:       {"BINARY_MOD", 0, -1},
	OpBinaryPow:       {"BINARY_POW", 0, -1},
	OpBinaryAnd:       {"BINARY_AND", 0, -1},
	OpBinaryOr:        {"BINARY_OR", 0, -1},
	OpBinaryXor:       {"BINARY_XOR", 0, -1},
	OpBinaryLshift:    {"BINARY_LSHIFT", 0, -1},
	OpBinaryRshift:    {"BINARY_RSHIFT", 0, -1},
	OpBinaryMatMul:    {"BINARY_MATMUL", 0, -1},
	OpUnaryNeg:        {"UNARY_NEG", 0, 0},
	OpUnaryPos:        {"UNARY_POS", 0, 0},
	OpUnaryInvert:     {"UNARY_INVERT", 0, 0},
	OpUnaryNot:        {"UNARY_NOT", 0, 0},
	OpInplaceAdd:      {"INPLACE_ADD", 0, -1},
	OpInplaceSub:      {"INPLACE_SUB", 0, -1},
	OpInplaceMul:      {"INPLACE_MUL", 0, -1},
	OpInplaceDiv:      {"INPLACE_DIV", 0, -1},
	OpInplaceFloorDiv: {"INPLACE_FLOOR_DIV", 0, -1},
	OpInplaceMod:      {"INPLACE_MOD", 0, -1},
	OpInplacePow:      {"INPLACE_POW", 0, -1},
	OpInplaceAnd:      {"INPLACE_AND", 0, -1},
	OpInplaceOr:       {"INPLACE_OR", 0, -1},
	OpInplaceXor:      {"INPLACE_XOR", 0, -1},
	OpInplaceLshift:   {"INPLACE_LSHIFT", 0, -1},
	OpInplaceRshift:   {"INPLACE_RSHIFT", 0, -1},
	OpInplaceMatMul:   {"INPLACE_MATMUL", 0, -1},

	OpCompareLt:      {"COMPARE_LT", 0, -1},
	OpCompareLe:      {"COMPARE_LE", 0, -1},
	OpCompareEq:      {"COMPARE_EQ", 0, -1},
	OpCompareNe:      {"COMPARE_NE", 0, -1},
	OpCompareGt:      {"COMPARE_GT", 0, -1},
	OpCompareGe:      {"COMPARE_GE", 0, -1},
	OpCompareIs:      {"COMPARE_IS", 0, -1},
	OpCompareIsNot:   {"COMPARE_IS_NOT", 0, -1},
	OpCompareIn:      {"COMPARE_IN", 0, -1},
	OpCompareNotIn:   {"COMPARE_NOT_IN", 0, -1},
	OpExceptionMatch: {"EXCEPTION_MATCH", 0, 0},

	OpJump:             {"JUMP", 2, 0},
	OpJumpIfTrue:       {"JUMP_IF_TRUE", 2, -1},
	OpJumpIfFalse:      {"JUMP_IF_FALSE", 2, -1},
	OpJumpIfTrueOrPop:  {"JUMP_IF_TRUE_OR_POP", 2, 0},
	OpJumpIfFalseOrPop: {"JUMP_IF_FALSE_OR_POP", 2, 0},
	OpForIter:          {"FOR_ITER", 2, 1},
	OpReturn:           {"RETURN", 0, -1},
	OpYield:            {"YIELD", 0, -1},
	OpYieldFrom:        {"YIELD_FROM", 2, 0},
	OpGetIter:          {"GET_ITER", 0, 0},
	OpGetLen:           {"GET_LEN", 0, 1},
	OpContainsOp:       {"CONTAINS_OP", 1, -1},
	OpImportName:       {"IMPORT_NAME", 2, 1},
	OpImportFrom:       {"IMPORT_FROM", 2, 1},
	OpImportStar:       {"IMPORT_STAR", 2, -1},
	OpSetupAnnotations: {"SETUP_ANNOTATIONS", 2, 0},
	OpPopJumpIfTrue:    {"POP_JUMP_IF_TRUE", 2, -1},
	OpPopJumpIfFalse:   {"POP_JUMP_IF_FALSE", 2, -1},
	OpPopJumpIfNone:    {"POP_JUMP_IF_NONE", 2, -1},
	OpPopJumpIfNotNone: {"POP_JUMP_IF_NOT_NONE", 2, -1},

	OpCall:         {"CALL", 2, 0},    // pops callee + argc, pushes result
	OpCallKw:       {"CALL_KW", 2, 0}, // pops callee + argc + kw tuple
	OpCallEx:       {"CALL_EX", 2, 0}, // pops callee + args [+ kwargs]
	OpMakeFunction: {"MAKE_FUNCTION", 2, 0},
	OpMakeClosure:  {"MAKE_CLOSURE", 2, 0},
	OpLoadMethod:   {"LOAD_METHOD", 2, 1},
	OpCallMethod:   {"CALL_METHOD", 2, 0},
	OpPushNull:     {"PUSH_NULL", 0, 1},
	OpKwNames:      {"KW_NAMES", 2, 0},

	OpBuildTuple:     {"BUILD_TUPLE", 1, 0},
	OpBuildList:      {"BUILD_LIST", 1, 0},
	OpBuildSet:       {"BUILD_SET", 1, 0},
	OpBuildDict:      {"BUILD_DICT", 1, 0},
	OpBuildString:    {"BUILD_STRING", 1, 0},
	OpBuildSlice:     {"BUILD_SLICE", 1, 0},
	OpListAppend:     {"LIST_APPEND", 2, -1},
	OpSetAdd:         {"SET_ADD", 2, -1},
	OpMapAdd:         {"MAP_ADD", 2, -2},
	OpListExtend:     {"LIST_EXTEND", 2, -1},
	OpSetUpdate:      {"SET_UPDATE", 2, -1},
	OpDictUpdate:     {"DICT_UPDATE", 2, -1},
	OpDictMerge:      {"DICT_MERGE", 2, -1},
	OpUnpackSequence: {"UNPACK_SEQUENCE", 1, 0},
	OpUnpackEx:       {"UNPACK_EX", 1, 0},
	OpFormatValue:    {"FORMAT_VALUE", 1, 0},

	OpSetupExcept:     {"SETUP_EXCEPT", 2, 0},
	OpPopExcept:       {"POP_EXCEPT", 2, 0},
	OpRaise:           {"RAISE", 1, 0},
	OpReraise:         {"RERAISE", 0, 0},
	OpPushExcInfo:     {"PUSH_EXC_INFO", 2, 1},
	OpCheckExcMatch:   {"CHECK_EXC_MATCH", 2, 0},
	OpCleanupThrow:    {"CLEANUP_THROW", 2, 0},
	OpSetupFinally:    {"SETUP_FINALLY", 2, 0},
	OpSetupWith:       {"SETUP_WITH", 2, 0},
	OpBeforeWith:      {"BEFORE_WITH", 2, 1},
	OpEndSend:         {"END_SEND", 0, -1},
	OpEndFinally:      {"END_FINALLY", 0, 0},
	OpWithExceptStart: {"WITH_EXCEPT_START", 2, 1},

	OpGetAwaitable:    {"GET_AWAITABLE", 2, 0},
	OpGetAiter:        {"GET_AITER", 2, 0},
	OpGetAnext:        {"GET_ANEXT", 2, 1},
	OpEndAsyncFor:     {"END_ASYNC_FOR", 2, 0},
	OpBeforeAsyncWith: {"BEFORE_ASYNC_WITH", 2, 1},
	OpSetupAsyncWith:  {"SETUP_ASYNC_WITH", 2, 0},
	OpSend:            {"SEND", 2, 0},
	OpAsyncGenWrap:    {"ASYNC_GEN_WRAP", 2, 0},

	OpNop:       {"NOP", 0, 0},
	OpResume:    {"RESUME", 1, 0},
	OpCache:     {"CACHE", 1, 0},
	OpPrecall:   {"PRECALL", 1, 0},
	OpBinaryOp:  {"BINARY_OP", 1, -1},
	OpCompareOp: {"COMPARE_OP", 1, -1},
}

// Info returns the metadata for an opcode.
func (op Opcode) Info() (OpcodeInfo, bool) {
	info, ok := opcodeTable[op]
	if !ok {
		return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN_%02X", byte(op))}, false
	}
	return info, true
}

// Name returns the human-readable name for an opcode.
func (op Opcode) Name() string {
	info, _ := op.Info()
	return info.Name
}

// OperandBytes returns the number of operand bytes for an opcode.
func (op Opcode) OperandBytes() int {
	info, _ := op.Info()
	return info.OperandBytes
}

// Width returns the total encoded size: one opcode byte plus operands.
func (op Opcode) Width() int {
	return 1 + op.OperandBytes()
}

// String implements the Stringer interface.
func (op Opcode) String() string {
	return op.Name()
}

// isJump reports whether the 16-bit operand is a signed relative offset.
func (op Opcode) isJump() bool {
	switch op {
	case OpJump, OpJumpIfTrue, OpJumpIfFalse, OpJumpIfTrueOrPop, OpJumpIfFalseOrPop,
		OpForIter, OpPopJumpIfTrue, OpPopJumpIfFalse, OpPopJumpIfNone, OpPopJumpIfNotNone,
		OpSetupExcept, OpSetupFinally, OpSetupWith, OpSetupAsyncWith, OpSend:
		return true
	}
	return false
}

// ---------------------------------------------------------------------------
// BytecodeBuilder: Helper for constructing bytecode
// ---------------------------------------------------------------------------

// BytecodeBuilder helps construct bytecode sequences.
type BytecodeBuilder struct {
	bytes []byte
}

// NewBytecodeBuilder creates a new bytecode builder.
func NewBytecodeBuilder() *BytecodeBuilder {
	return &BytecodeBuilder{
		bytes: make([]byte, 0, 64),
	}
}

// Bytes returns the constructed bytecode.
func (b *BytecodeBuilder) Bytes() []byte {
	return b.bytes
}

// Len returns the current length.
func (b *BytecodeBuilder) Len() int {
	return len(b.bytes)
}

// Emit appends an opcode with no operands.
func (b *BytecodeBuilder) Emit(op Opcode) {
	b.bytes = append(b.bytes, byte(op))
}

// EmitByte appends an opcode with a single byte operand.
func (b *BytecodeBuilder) EmitByte(op Opcode, operand byte) {
	b.bytes = append(b.bytes, byte(op), operand)
}

// EmitUint16 appends an opcode with a 16-bit operand (little-endian).
func (b *BytecodeBuilder) EmitUint16(op Opcode, operand uint16) {
	b.bytes = append(b.bytes, byte(op), byte(operand), byte(operand>>8))
}

// ---------------------------------------------------------------------------
// Label management for jumps
// ---------------------------------------------------------------------------

// Label represents a forward reference in bytecode.
type Label struct {
	resolved bool
	position int   // target position once resolved
	refs     []int // operand positions awaiting a patch
}

// NewLabel creates an unresolved label.
func (b *BytecodeBuilder) NewLabel() *Label {
	return &Label{refs: make([]int, 0, 2)}
}

// Mark resolves a label to the current position and patches all forward
// references. Jump offsets are measured from after the 2-byte operand.
func (b *BytecodeBuilder) Mark(label *Label) {
	if label.resolved {
		panic("label already resolved")
	}
	label.resolved = true
	label.position = len(b.bytes)

	for _, ref := range label.refs {
		offset := label.position - (ref + 2)
		b.bytes[ref] = byte(offset)
		b.bytes[ref+1] = byte(offset >> 8)
	}
	label.refs = nil
}

// EmitJump emits a jump or setup instruction targeting a label.
func (b *BytecodeBuilder) EmitJump(op Opcode, label *Label) {
	b.bytes = append(b.bytes, byte(op))
	if label.resolved {
		offset := label.position - (len(b.bytes) + 2)
		b.bytes = append(b.bytes, byte(offset), byte(offset>>8))
	} else {
		label.refs = append(label.refs, len(b.bytes))
		b.bytes = append(b.bytes, 0, 0) // placeholder
	}
}

// ---------------------------------------------------------------------------
// Bytecode reader
// ---------------------------------------------------------------------------

// BytecodeReader reads bytecode for interpretation or disassembly.
type BytecodeReader struct {
	bytes []byte
	pos   int
}

// NewBytecodeReader creates a reader for bytecode.
func NewBytecodeReader(bc []byte) *BytecodeReader {
	return &BytecodeReader{bytes: bc}
}

// Position returns the current read position.
func (r *BytecodeReader) Position() int {
	return r.pos
}

// HasMore returns true if there are more bytes to read.
func (r *BytecodeReader) HasMore() bool {
	return r.pos < len(r.bytes)
}

// ReadOpcode reads and returns the next opcode.
func (r *BytecodeReader) ReadOpcode() Opcode {
	if r.pos >= len(r.bytes) {
		panic("bytecode underflow")
	}
	op := Opcode(r.bytes[r.pos])
	r.pos++
	return op
}

// ReadByte reads a single byte operand.
func (r *BytecodeReader) ReadByte() byte {
	if r.pos >= len(r.bytes) {
		panic("bytecode underflow")
	}
	v := r.bytes[r.pos]
	r.pos++
	return v
}

// ReadUint16 reads a 16-bit operand (little-endian).
func (r *BytecodeReader) ReadUint16() uint16 {
	if r.pos+2 > len(r.bytes) {
		panic("bytecode underflow")
	}
	v := binary.LittleEndian.Uint16(r.bytes[r.pos:])
	r.pos += 2
	return v
}

// ReadInt16 reads a signed 16-bit operand (little-endian).
func (r *BytecodeReader) ReadInt16() int16 {
	return int16(r.ReadUint16())
}

// Seek sets the read position.
func (r *BytecodeReader) Seek(pos int) {
	r.pos = pos
}

// ---------------------------------------------------------------------------
// Disassembly
// ---------------------------------------------------------------------------

// DisassembleInstruction disassembles a single instruction at the reader's
// position. Returns the string representation and advances the reader.
func DisassembleInstruction(r *BytecodeReader, code *CodeObject) string {
	pos := r.Position()
	op := r.ReadOpcode()
	info, known := op.Info()
	if !known {
		return fmt.Sprintf("%04d  %s", pos, info.Name)
	}

	switch info.OperandBytes {
	case 0:
		return fmt.Sprintf("%04d  %s", pos, info.Name)
	case 1:
		arg := r.ReadByte()
		return fmt.Sprintf("%04d  %s %d", pos, info.Name, arg)
	default:
		if op.isJump() {
			offset := r.ReadInt16()
			return fmt.Sprintf("%04d  %s %d (-> %04d)", pos, info.Name, offset, r.Position()+int(offset))
		}
		arg := r.ReadUint16()
		if code != nil {
			if note := operandNote(op, arg, code); note != "" {
				return fmt.Sprintf("%04d  %s %d (%s)", pos, info.Name, arg, note)
			}
		}
		return fmt.Sprintf("%04d  %s %d", pos, info.Name, arg)
	}
}

// operandNote resolves a 16-bit operand against the code object's tables.
func operandNote(op Opcode, arg uint16, code *CodeObject) string {
	switch op {
	case OpLoadConst, OpKwNames:
		if int(arg) < len(code.Constants) {
			return Repr(code.Constants[arg])
		}
	case OpLoadGlobal, OpStoreGlobal, OpDeleteGlobal, OpLoadName, OpStoreName,
		OpLoadAttr, OpStoreAttr, OpDeleteAttr, OpLoadMethod,
		OpImportName, OpImportFrom:
		if int(arg) < len(code.Names) {
			return code.Names[arg]
		}
	case OpLoadFast, OpStoreFast, OpDeleteFast:
		if int(arg) < len(code.Varnames) {
			return code.Varnames[arg]
		}
	}
	return ""
}

// Disassemble returns a full disassembly of a code object's bytecode.
func Disassemble(code *CodeObject) string {
	r := NewBytecodeReader(code.Bytecode)
	var sb strings.Builder
	for r.HasMore() {
		if sb.Len() > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(DisassembleInstruction(r, code))
	}
	return sb.String()
}
