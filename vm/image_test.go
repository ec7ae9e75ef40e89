package vm

import (
	"strings"
	"testing"

	"github.com/fxamacker/cbor/v2"
)

// ---------------------------------------------------------------------------
// Image round trips
// ---------------------------------------------------------------------------

func TestImageRoundTrip(t *testing.T) {
	inner := NewCodeBuilder("helper")
	innerBb := NewBytecodeBuilder()
	inner.Local("x")
	innerBb.EmitUint16(OpLoadFast, 0)
	innerBb.Emit(OpReturn)
	innerCode := inner.Args(1).Bytecode(innerBb.Bytes()).Build()
	innerCode.PosOnlyCount = 1

	cb := NewCodeBuilder("<module>")
	bb := NewBytecodeBuilder()
	for _, c := range []Value{
		None, True, FromInt(-7), FromFloat64(2.5),
		NewStr("héllo"), NewBytes([]byte{0, 1, 2}),
		NewTuple([]Value{FromInt(1), NewTuple([]Value{NewStr("nested")})}),
		NewCodeValue(innerCode),
	} {
		cb.Constant(c)
	}
	bb.EmitUint16(OpLoadConst, 2)
	bb.Emit(OpReturn)
	code := buildCode(cb, bb)
	code.FirstLine = 12

	data, err := WriteImage(code)
	if err != nil {
		t.Fatal(err)
	}
	got, err := ReadImage(data)
	if err != nil {
		t.Fatal(err)
	}

	if got.Name != "<module>" || got.FirstLine != 12 {
		t.Errorf("header: name %q, line %d", got.Name, got.FirstLine)
	}
	if len(got.Constants) != len(code.Constants) {
		t.Fatalf("constants: %d, want %d", len(got.Constants), len(code.Constants))
	}
	if got.Constants[2] != FromInt(-7) || got.Constants[4].StrVal() != "héllo" {
		t.Errorf("scalar constants did not survive")
	}
	tup := got.Constants[6].Object().Tuple
	if tup[1].Object().Tuple[0].StrVal() != "nested" {
		t.Errorf("nested tuple = %s", Repr(got.Constants[6]))
	}

	helper := got.Constants[7].Object().Code
	if helper.Name != "helper" || helper.ArgCount != 1 || helper.PosOnlyCount != 1 {
		t.Errorf("nested code: %+v", helper)
	}

	// The decoded code must actually run.
	v := New()
	out, err := v.Run(got)
	if err != nil || out != FromInt(-7) {
		t.Errorf("run decoded image: %s, %v", Repr(out), err)
	}
}

func TestImageRejectsBadMagic(t *testing.T) {
	env := imageEnvelope{Magic: "NOPE", Version: ImageVersion}
	data, err := cborEncMode.Marshal(env)
	if err != nil {
		t.Fatal(err)
	}
	_, err = ReadImage(data)
	if err == nil || !strings.Contains(err.Error(), "bad magic") {
		t.Errorf("err = %v", err)
	}
}

func TestImageRejectsUnsupportedVersion(t *testing.T) {
	cb := NewCodeBuilder("m")
	bb := NewBytecodeBuilder()
	bb.Emit(OpReturn)
	data, err := WriteImage(buildCode(cb, bb))
	if err != nil {
		t.Fatal(err)
	}
	var env imageEnvelope
	if err := cbor.Unmarshal(data, &env); err != nil {
		t.Fatal(err)
	}
	env.Version = 99
	data, err = cborEncMode.Marshal(env)
	if err != nil {
		t.Fatal(err)
	}
	_, err = ReadImage(data)
	if err == nil || !strings.Contains(err.Error(), "unsupported image version 99") {
		t.Errorf("err = %v", err)
	}
}

func TestImageDetectsTampering(t *testing.T) {
	cb := NewCodeBuilder("m")
	bb := NewBytecodeBuilder()
	bb.EmitUint16(OpLoadConst, cb.Constant(FromInt(1)))
	bb.Emit(OpReturn)
	data, err := WriteImage(buildCode(cb, bb))
	if err != nil {
		t.Fatal(err)
	}

	var env imageEnvelope
	if err := cbor.Unmarshal(data, &env); err != nil {
		t.Fatal(err)
	}
	env.Payload[len(env.Payload)/2] ^= 0xFF
	data, err = cborEncMode.Marshal(env)
	if err != nil {
		t.Fatal(err)
	}
	_, err = ReadImage(data)
	if err == nil || !strings.Contains(err.Error(), "image integrity check failed") {
		t.Errorf("err = %v", err)
	}
}

func TestImageRejectsGarbage(t *testing.T) {
	if _, err := ReadImage([]byte("not cbor at all")); err == nil {
		t.Error("garbage accepted")
	}
}

func TestImageRejectsUnserializableConstant(t *testing.T) {
	cb := NewCodeBuilder("m")
	bb := NewBytecodeBuilder()
	cb.Constant(NewListValue([]Value{FromInt(1)}))
	bb.Emit(OpReturn)
	_, err := WriteImage(buildCode(cb, bb))
	if err == nil || !strings.Contains(err.Error(), "not serializable") {
		t.Errorf("err = %v", err)
	}
}

func TestImageEncodingIsDeterministic(t *testing.T) {
	cb := NewCodeBuilder("m")
	bb := NewBytecodeBuilder()
	bb.EmitUint16(OpLoadConst, cb.Constant(NewStr("stable")))
	bb.Emit(OpReturn)
	code := buildCode(cb, bb)

	a, err := WriteImage(code)
	if err != nil {
		t.Fatal(err)
	}
	b, err := WriteImage(code)
	if err != nil {
		t.Fatal(err)
	}
	if string(a) != string(b) {
		t.Error("two encodings of the same code differ")
	}
}
