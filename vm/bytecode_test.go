package vm

import (
	"strings"
	"testing"
)

// ---------------------------------------------------------------------------
// Opcode metadata
// ---------------------------------------------------------------------------

func TestOpcodeInfo(t *testing.T) {
	tests := []struct {
		op           Opcode
		name         string
		operandBytes int
	}{
		{OpLoadFast, "LOAD_FAST", 2},
		{OpLoadConst, "LOAD_CONST", 2},
		{OpPopTop, "POP_TOP", 0},
		{OpDupTop, "DUP_TOP", 0},
		{OpSwap, "SWAP", 0},
		{OpCopy, "COPY", 1},
		{OpRotN, "ROT_N", 1},
		{OpBinaryAdd, "BINARY_ADD", 0},
		{OpUnaryNot, "UNARY_NOT", 0},
		{OpCompareLt, "COMPARE_LT", 0},
		{OpJump, "JUMP", 2},
		{OpForIter, "FOR_ITER", 2},
		{OpReturn, "RETURN", 0},
		{OpYield, "YIELD", 0},
		{OpYieldFrom, "YIELD_FROM", 2},
		{OpCall, "CALL", 2},
		{OpKwNames, "KW_NAMES", 2},
		{OpBuildTuple, "BUILD_TUPLE", 1},
		{OpListAppend, "LIST_APPEND", 2},
		{OpSetupExcept, "SETUP_EXCEPT", 2},
		{OpSetupFinally, "SETUP_FINALLY", 2},
		{OpRaise, "RAISE", 1},
		{OpEndFinally, "END_FINALLY", 0},
		{OpWithExceptStart, "WITH_EXCEPT_START", 2},
		{OpLoadClosure, "LOAD_CLOSURE", 2},
		{OpResume, "RESUME", 1},
		{OpBinaryOp, "BINARY_OP", 1},
	}

	for _, tt := range tests {
		info, ok := tt.op.Info()
		if !ok {
			t.Errorf("%s: not in opcode table", tt.name)
			continue
		}
		if info.Name != tt.name {
			t.Errorf("%s: Name = %q, want %q", tt.op, info.Name, tt.name)
		}
		if info.OperandBytes != tt.operandBytes {
			t.Errorf("%s: OperandBytes = %d, want %d", tt.op, info.OperandBytes, tt.operandBytes)
		}
	}
}

func TestOpcodeWidth(t *testing.T) {
	if OpPopTop.Width() != 1 {
		t.Errorf("POP_TOP width = %d, want 1", OpPopTop.Width())
	}
	if OpCopy.Width() != 2 {
		t.Errorf("COPY width = %d, want 2", OpCopy.Width())
	}
	if OpLoadConst.Width() != 3 {
		t.Errorf("LOAD_CONST width = %d, want 3", OpLoadConst.Width())
	}
	if OpYieldFrom.Width() != 3 {
		t.Errorf("YIELD_FROM width = %d, want 3", OpYieldFrom.Width())
	}
}

func TestUnknownOpcode(t *testing.T) {
	op := Opcode(0xEE)
	info, ok := op.Info()
	if ok {
		t.Error("0xEE should not be a known opcode")
	}
	if !strings.HasPrefix(info.Name, "UNKNOWN_") {
		t.Errorf("unknown opcode name = %q, want UNKNOWN_ prefix", info.Name)
	}
}

// ---------------------------------------------------------------------------
// BytecodeBuilder
// ---------------------------------------------------------------------------

func TestBuilderEmit(t *testing.T) {
	b := NewBytecodeBuilder()
	b.Emit(OpPopTop)
	b.EmitByte(OpCopy, 2)
	b.EmitUint16(OpLoadConst, 0x0201)

	want := []byte{byte(OpPopTop), byte(OpCopy), 2, byte(OpLoadConst), 0x01, 0x02}
	got := b.Bytes()
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("byte %d = %02x, want %02x", i, got[i], want[i])
		}
	}
}

func TestBuilderForwardJump(t *testing.T) {
	b := NewBytecodeBuilder()
	done := b.NewLabel()
	b.EmitJump(OpJump, done)
	b.Emit(OpPopTop)
	b.Mark(done)

	// Offset is measured from after the operand: target 4, operand ends at 3.
	bc := b.Bytes()
	if bc[1] != 1 || bc[2] != 0 {
		t.Errorf("forward jump offset = %d,%d, want 1,0", bc[1], bc[2])
	}
}

func TestBuilderBackwardJump(t *testing.T) {
	b := NewBytecodeBuilder()
	top := b.NewLabel()
	b.Mark(top)
	b.Emit(OpNop)
	b.EmitJump(OpJump, top)

	// Jump operand ends at position 4; target is 0, so offset is -4.
	bc := b.Bytes()
	off := int16(uint16(bc[2]) | uint16(bc[3])<<8)
	if off != -4 {
		t.Errorf("backward jump offset = %d, want -4", off)
	}
}

func TestBuilderDoubleMarkPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("marking a label twice should panic")
		}
	}()
	b := NewBytecodeBuilder()
	l := b.NewLabel()
	b.Mark(l)
	b.Mark(l)
}

// ---------------------------------------------------------------------------
// BytecodeReader
// ---------------------------------------------------------------------------

func TestReaderSequence(t *testing.T) {
	b := NewBytecodeBuilder()
	b.EmitUint16(OpLoadConst, 7)
	b.EmitByte(OpCopy, 3)
	b.Emit(OpReturn)

	r := NewBytecodeReader(b.Bytes())
	if op := r.ReadOpcode(); op != OpLoadConst {
		t.Errorf("opcode 1 = %s, want LOAD_CONST", op)
	}
	if v := r.ReadUint16(); v != 7 {
		t.Errorf("operand 1 = %d, want 7", v)
	}
	if op := r.ReadOpcode(); op != OpCopy {
		t.Errorf("opcode 2 = %s, want COPY", op)
	}
	if v := r.ReadByte(); v != 3 {
		t.Errorf("operand 2 = %d, want 3", v)
	}
	if op := r.ReadOpcode(); op != OpReturn {
		t.Errorf("opcode 3 = %s, want RETURN", op)
	}
	if r.HasMore() {
		t.Error("reader should be exhausted")
	}
}

func TestReaderNegativeOperand(t *testing.T) {
	r := NewBytecodeReader([]byte{0xFC, 0xFF})
	if v := r.ReadInt16(); v != -4 {
		t.Errorf("ReadInt16 = %d, want -4", v)
	}
}

func TestReaderUnderflowPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("reading past the end should panic")
		}
	}()
	r := NewBytecodeReader([]byte{byte(OpLoadConst)})
	r.ReadOpcode()
	r.ReadUint16()
}

// ---------------------------------------------------------------------------
// Disassembly
// ---------------------------------------------------------------------------

func TestDisassembleResolvesOperands(t *testing.T) {
	cb := NewCodeBuilder("f")
	b := NewBytecodeBuilder()
	b.EmitUint16(OpLoadConst, cb.Constant(FromInt(42)))
	b.EmitUint16(OpLoadGlobal, cb.Name("print"))
	b.EmitUint16(OpLoadFast, cb.Local("x"))
	b.Emit(OpReturn)
	code := buildCode(cb, b)

	out := Disassemble(code)
	for _, want := range []string{"LOAD_CONST", "42", "LOAD_GLOBAL", "print", "LOAD_FAST", "x", "RETURN"} {
		if !strings.Contains(out, want) {
			t.Errorf("disassembly missing %q:\n%s", want, out)
		}
	}
}
