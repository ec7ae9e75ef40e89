package vm

import (
	"strings"
	"testing"
)

// ---------------------------------------------------------------------------
// Shared test infrastructure for vm package tests.
// ---------------------------------------------------------------------------

// buildCode finalizes a builder pair into a code object.
func buildCode(cb *CodeBuilder, b *BytecodeBuilder) *CodeObject {
	return cb.Bytecode(b.Bytes()).Build()
}

// run executes module-level code on a fresh VM and fails the test on error.
func run(t *testing.T, code *CodeObject) Value {
	t.Helper()
	v, err := New().Run(code)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	return v
}

// runRaised executes module-level code expecting a raised exception.
func runRaised(t *testing.T, code *CodeObject) *Exception {
	t.Helper()
	_, err := New().Run(code)
	if err == nil {
		t.Fatal("expected a raised exception")
	}
	exc, ok := AsRaised(err)
	if !ok {
		t.Fatalf("expected a raised exception, got %v", err)
	}
	return exc
}

// makeFn wraps a code object in a function bound to the VM's globals.
func makeFn(v *VirtualMachine, code *CodeObject) *Function {
	return &Function{
		Code:     code,
		Name:     code.Name,
		Qualname: code.Qualname,
		Params:   ParamsFromCode(code),
		Globals:  v.Globals,
	}
}

// wantRaised asserts that err carries an exception of the given class
// whose message contains msg.
func wantRaised(t *testing.T, err error, class, msg string) *Exception {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s, got nil error", class)
	}
	exc, ok := AsRaised(err)
	if !ok {
		t.Fatalf("expected %s, got %v", class, err)
	}
	if exc.Class != class {
		t.Fatalf("exception class = %s, want %s (message %q)", exc.Class, class, exc.Message)
	}
	if msg != "" && !strings.Contains(exc.Message, msg) {
		t.Errorf("exception message = %q, want substring %q", exc.Message, msg)
	}
	return exc
}

// returnConst builds module code that returns a single constant.
func returnConst(v Value) *CodeObject {
	cb := NewCodeBuilder("<module>")
	b := NewBytecodeBuilder()
	b.EmitUint16(OpLoadConst, cb.Constant(v))
	b.Emit(OpReturn)
	return buildCode(cb, b)
}
