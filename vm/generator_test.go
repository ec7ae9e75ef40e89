package vm

import (
	"strings"
	"testing"
)

// ---------------------------------------------------------------------------
// Generator lifecycle
// ---------------------------------------------------------------------------

// countingGen builds the generator for: yield 1; yield 2; return 'end'.
func countingGen(t *testing.T, v *VirtualMachine) *Generator {
	t.Helper()
	cb := NewCodeBuilder("g")
	bb := NewBytecodeBuilder()
	bb.EmitUint16(OpLoadConst, cb.Constant(FromInt(1)))
	bb.Emit(OpYield)
	bb.Emit(OpPopTop)
	bb.EmitUint16(OpLoadConst, cb.Constant(FromInt(2)))
	bb.Emit(OpYield)
	bb.Emit(OpPopTop)
	bb.EmitUint16(OpLoadConst, cb.Constant(NewStr("end")))
	bb.Emit(OpReturn)
	code := cb.Flags(FlagGenerator).Bytecode(bb.Bytes()).Build()

	got, err := v.callFunction(makeFn(v, code), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !got.isKind(KindGenerator) {
		t.Fatalf("call produced %s, want generator", TypeName(got))
	}
	return got.Object().Gen
}

func TestGeneratorYieldsThenStops(t *testing.T) {
	v := New()
	g := countingGen(t, v)

	if g.State() != GenCreated {
		t.Fatalf("state = %d before first resume", g.State())
	}
	for i, want := range []Value{FromInt(1), FromInt(2)} {
		got, err := g.Next()
		if err != nil {
			t.Fatalf("next %d: %v", i, err)
		}
		if got != want {
			t.Errorf("yield %d = %s, want %s", i, Repr(got), Repr(want))
		}
		if g.State() != GenSuspended {
			t.Errorf("state after yield %d = %d", i, g.State())
		}
	}

	// Exhaustion raises StopIteration carrying the return value.
	_, err := g.Next()
	exc, ok := AsRaised(err)
	if !ok || exc.Class != "StopIteration" {
		t.Fatalf("err = %v", err)
	}
	if len(exc.Args) != 1 || exc.Args[0].StrVal() != "end" {
		t.Errorf("StopIteration args = %v", exc.Args)
	}
	if g.State() != GenCompleted {
		t.Errorf("state = %d after exhaustion", g.State())
	}

	// Resuming a completed generator keeps raising StopIteration, but
	// the return value is delivered only once.
	for i := 0; i < 2; i++ {
		_, err = g.Next()
		exc, ok := AsRaised(err)
		if !ok || exc.Class != "StopIteration" {
			t.Fatalf("resume %d: %v", i, err)
		}
		if len(exc.Args) != 0 {
			t.Errorf("resume %d StopIteration args = %v, want none", i, exc.Args)
		}
	}
}

func TestGeneratorSendValue(t *testing.T) {
	// x = yield 1; yield x
	v := New()
	cb := NewCodeBuilder("g")
	bb := NewBytecodeBuilder()
	x := cb.Local("x")
	bb.EmitUint16(OpLoadConst, cb.Constant(FromInt(1)))
	bb.Emit(OpYield)
	bb.EmitUint16(OpStoreFast, x)
	bb.EmitUint16(OpLoadFast, x)
	bb.Emit(OpYield)
	bb.Emit(OpPopTop)
	bb.EmitUint16(OpLoadConst, cb.Constant(None))
	bb.Emit(OpReturn)
	code := cb.Flags(FlagGenerator).Bytecode(bb.Bytes()).Build()

	genVal, err := v.callFunction(makeFn(v, code), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	g := genVal.Object().Gen

	if _, err := g.Next(); err != nil {
		t.Fatal(err)
	}
	got, err := g.Send(FromInt(42))
	if err != nil {
		t.Fatal(err)
	}
	if got != FromInt(42) {
		t.Errorf("sent value came back as %s", Repr(got))
	}
}

func TestGeneratorSendBeforeStart(t *testing.T) {
	v := New()
	g := countingGen(t, v)
	_, err := g.Send(FromInt(1))
	wantRaised(t, err, "TypeError", "can't send non-None value to a just-started generator")
}

func TestGeneratorThrow(t *testing.T) {
	v := New()
	g := countingGen(t, v)

	// Throw into a suspended frame with no handler: the exception
	// propagates and the generator is dead.
	if _, err := g.Next(); err != nil {
		t.Fatal(err)
	}
	_, err := g.Throw(NewException("ValueError", "injected"))
	wantRaised(t, err, "ValueError", "injected")
	if g.State() != GenFailed {
		t.Errorf("state = %d after throw", g.State())
	}

	_, err = g.Next()
	if exc, ok := AsRaised(err); !ok || exc.Class != "StopIteration" {
		t.Errorf("resume after failure: %v", err)
	}
}

func TestGeneratorThrowBeforeStart(t *testing.T) {
	v := New()
	g := countingGen(t, v)
	_, err := g.Throw(NewException("ValueError", "early"))
	wantRaised(t, err, "ValueError", "early")
	if g.State() != GenFailed {
		t.Errorf("state = %d", g.State())
	}
}

func TestGeneratorThrowCaughtInside(t *testing.T) {
	// try: yield 1 / except ValueError: yield 'handled'
	v := New()
	cb := NewCodeBuilder("g")
	bb := NewBytecodeBuilder()
	handler := bb.NewLabel()
	noMatch := bb.NewLabel()

	bb.EmitJump(OpSetupExcept, handler)
	bb.EmitUint16(OpLoadConst, cb.Constant(FromInt(1)))
	bb.Emit(OpYield)
	bb.Emit(OpPopTop)
	bb.EmitUint16(OpPopExcept, 0)
	bb.EmitUint16(OpLoadConst, cb.Constant(None))
	bb.Emit(OpReturn)

	bb.Mark(handler)
	bb.EmitUint16(OpLoadGlobal, cb.Name("ValueError"))
	bb.Emit(OpExceptionMatch)
	bb.EmitJump(OpPopJumpIfFalse, noMatch)
	bb.Emit(OpPopTop)
	bb.EmitUint16(OpLoadConst, cb.Constant(NewStr("handled")))
	bb.Emit(OpYield)
	bb.Emit(OpPopTop)
	bb.EmitUint16(OpLoadConst, cb.Constant(None))
	bb.Emit(OpReturn)
	bb.Mark(noMatch)
	bb.Emit(OpReraise)

	code := cb.Flags(FlagGenerator).Bytecode(bb.Bytes()).Build()
	genVal, err := v.callFunction(makeFn(v, code), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	g := genVal.Object().Gen

	if _, err := g.Next(); err != nil {
		t.Fatal(err)
	}
	got, err := g.Throw(NewException("ValueError", ""))
	if err != nil {
		t.Fatalf("throw: %v", err)
	}
	if got.StrVal() != "handled" {
		t.Errorf("got %s", Repr(got))
	}
}

// ---------------------------------------------------------------------------
// Close
// ---------------------------------------------------------------------------

func TestGeneratorCloseBeforeStart(t *testing.T) {
	v := New()
	g := countingGen(t, v)
	if err := g.Close(); err != nil {
		t.Fatal(err)
	}
	if g.State() != GenCompleted {
		t.Errorf("state = %d", g.State())
	}
	if err := g.Close(); err != nil {
		t.Errorf("second close: %v", err)
	}
}

func TestGeneratorCloseSuspended(t *testing.T) {
	v := New()
	g := countingGen(t, v)
	if _, err := g.Next(); err != nil {
		t.Fatal(err)
	}
	if err := g.Close(); err != nil {
		t.Fatal(err)
	}
	if g.State() != GenCompleted {
		t.Errorf("state = %d", g.State())
	}
}

func TestGeneratorIgnoringCloseIsAnError(t *testing.T) {
	// try: yield 1 / except BaseException: yield 2  — swallows GeneratorExit
	// and keeps yielding.
	v := New()
	cb := NewCodeBuilder("g")
	bb := NewBytecodeBuilder()
	handler := bb.NewLabel()

	bb.EmitJump(OpSetupExcept, handler)
	bb.EmitUint16(OpLoadConst, cb.Constant(FromInt(1)))
	bb.Emit(OpYield)
	bb.Emit(OpPopTop)
	bb.EmitUint16(OpLoadConst, cb.Constant(None))
	bb.Emit(OpReturn)

	bb.Mark(handler)
	bb.Emit(OpPopTop)
	bb.EmitUint16(OpLoadConst, cb.Constant(FromInt(2)))
	bb.Emit(OpYield)
	bb.Emit(OpPopTop)
	bb.EmitUint16(OpLoadConst, cb.Constant(None))
	bb.Emit(OpReturn)

	code := cb.Flags(FlagGenerator).Bytecode(bb.Bytes()).Build()
	genVal, err := v.callFunction(makeFn(v, code), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	g := genVal.Object().Gen

	if _, err := g.Next(); err != nil {
		t.Fatal(err)
	}
	err = g.Close()
	if err == nil || !strings.Contains(err.Error(), "generator ignored GeneratorExit") {
		t.Errorf("close: %v", err)
	}
}

// ---------------------------------------------------------------------------
// Delegation and iteration
// ---------------------------------------------------------------------------

func TestYieldFromDelegates(t *testing.T) {
	// yield from [10, 20]; return 'outer'
	v := New()
	cb := NewCodeBuilder("g")
	bb := NewBytecodeBuilder()
	items := NewListValue([]Value{FromInt(10), FromInt(20)})
	bb.EmitUint16(OpLoadConst, cb.Constant(items))
	bb.Emit(OpGetIter)
	bb.EmitUint16(OpLoadConst, cb.Constant(None))
	bb.EmitUint16(OpYieldFrom, 0)
	bb.Emit(OpPopTop)
	bb.EmitUint16(OpLoadConst, cb.Constant(NewStr("outer")))
	bb.Emit(OpReturn)

	code := cb.Flags(FlagGenerator).Bytecode(bb.Bytes()).Build()
	genVal, err := v.callFunction(makeFn(v, code), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	g := genVal.Object().Gen

	for _, want := range []int64{10, 20} {
		got, err := g.Next()
		if err != nil {
			t.Fatal(err)
		}
		if got != FromInt(want) {
			t.Errorf("got %s, want %d", Repr(got), want)
		}
	}
	_, err = g.Next()
	exc, ok := AsRaised(err)
	if !ok || exc.Class != "StopIteration" {
		t.Fatalf("err = %v", err)
	}
	if len(exc.Args) != 1 || exc.Args[0].StrVal() != "outer" {
		t.Errorf("return value = %v", exc.Args)
	}
}

func TestForLoopOverGenerator(t *testing.T) {
	// total = 0; for x in g(): total += x; return total
	v := New()

	genCb := NewCodeBuilder("g")
	genBb := NewBytecodeBuilder()
	for _, n := range []int64{3, 4, 5} {
		genBb.EmitUint16(OpLoadConst, genCb.Constant(FromInt(n)))
		genBb.Emit(OpYield)
		genBb.Emit(OpPopTop)
	}
	genBb.EmitUint16(OpLoadConst, genCb.Constant(None))
	genBb.Emit(OpReturn)
	genCode := genCb.Flags(FlagGenerator).Bytecode(genBb.Bytes()).Build()
	v.Globals.SetStr("g", NewFunctionValue(makeFn(v, genCode)))

	cb := NewCodeBuilder("<module>")
	bb := NewBytecodeBuilder()
	total := cb.Local("total")
	top := bb.NewLabel()
	done := bb.NewLabel()

	bb.EmitUint16(OpLoadConst, cb.Constant(FromInt(0)))
	bb.EmitUint16(OpStoreFast, total)
	bb.EmitUint16(OpLoadGlobal, cb.Name("g"))
	bb.EmitUint16(OpCall, 0)
	bb.Emit(OpGetIter)
	bb.Mark(top)
	bb.EmitJump(OpForIter, done)
	bb.EmitUint16(OpLoadFast, total)
	bb.Emit(OpBinaryAdd)
	bb.EmitUint16(OpStoreFast, total)
	bb.EmitJump(OpJump, top)
	bb.Mark(done)
	bb.EmitUint16(OpLoadFast, total)
	bb.Emit(OpReturn)

	got := run(t, buildCode(cb, bb))
	if got != FromInt(12) {
		t.Errorf("sum = %s, want 12", Repr(got))
	}
}

func TestGeneratorReentryRejected(t *testing.T) {
	// A generator that resumes itself while running trips the Running
	// guard rather than corrupting the frame.
	v := New()
	cb := NewCodeBuilder("g")
	bb := NewBytecodeBuilder()
	bb.EmitUint16(OpLoadGlobal, cb.Name("poke"))
	bb.EmitUint16(OpCall, 0)
	bb.Emit(OpReturn)
	code := cb.Flags(FlagGenerator).Bytecode(bb.Bytes()).Build()

	genVal, err := v.callFunction(makeFn(v, code), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	g := genVal.Object().Gen

	v.Builtins.SetStr("poke", NewBuiltin("poke", func(_ *VirtualMachine, _ []Value) (Value, error) {
		_, perr := g.Next()
		if perr == nil {
			return None, nil
		}
		return None, perr
	}))

	_, err = g.Next()
	wantRaised(t, err, "ValueError", "generator already executing")
}
