package server

import (
	"context"
	"os"
	"strings"
	"testing"

	"connectrpc.com/connect"

	"github.com/chazu/pyrite/vm"
)

// ---------------------------------------------------------------------------
// Shared test infrastructure for server package tests.
// ---------------------------------------------------------------------------

var (
	testVM     *vm.VirtualMachine
	testWorker *VMWorker
)

// TestMain bootstraps a single VM for all server tests.
func TestMain(m *testing.M) {
	testVM = vm.New()
	testWorker = NewVMWorker(testVM)

	code := m.Run()

	testWorker.Stop()
	os.Exit(code)
}

func newTestEvalService() *EvalService {
	return NewEvalService(testWorker)
}

func connectReq[T any](msg *T) *connect.Request[T] {
	return connect.NewRequest(msg)
}

func bg() context.Context {
	return context.Background()
}

// moduleImage serializes module code that stores a constant under a
// global name, prints a greeting, and leaves the constant as the value
// of the last expression.
func moduleImage(t *testing.T) []byte {
	t.Helper()

	cb := vm.NewCodeBuilder("<module>")
	b := vm.NewBytecodeBuilder()

	answer := cb.Constant(vm.FromInt(42))
	greeting := cb.Constant(vm.NewStr("hello"))
	none := cb.Constant(vm.None)
	answerName := cb.Name("answer")
	printName := cb.Name("print")

	b.EmitUint16(vm.OpLoadConst, answer)
	b.EmitUint16(vm.OpStoreName, answerName)

	b.EmitUint16(vm.OpLoadName, printName)
	b.EmitUint16(vm.OpLoadConst, greeting)
	b.EmitUint16(vm.OpCall, 1)
	b.Emit(vm.OpPopTop)

	b.EmitUint16(vm.OpLoadConst, none)
	b.Emit(vm.OpReturn)

	image, err := vm.WriteImage(cb.Bytecode(b.Bytes()).Build())
	if err != nil {
		t.Fatalf("WriteImage failed: %v", err)
	}
	return image
}

// ---------------------------------------------------------------------------
// Eval
// ---------------------------------------------------------------------------

func TestEval_RunsImage(t *testing.T) {
	svc := newTestEvalService()

	resp, err := svc.Eval(bg(), connectReq(&EvalRequest{Image: moduleImage(t)}))
	if err != nil {
		t.Fatalf("Eval returned error: %v", err)
	}
	if !resp.Msg.Success {
		t.Fatalf("Eval was not successful: %s", resp.Msg.Error)
	}
	if resp.Msg.Output != "hello\n" {
		t.Errorf("Eval output = %q, want %q", resp.Msg.Output, "hello\n")
	}
}

func TestEval_RejectsEmptyImage(t *testing.T) {
	svc := newTestEvalService()

	_, err := svc.Eval(bg(), connectReq(&EvalRequest{}))
	if err == nil {
		t.Fatal("expected error for empty image")
	}
	if connect.CodeOf(err) != connect.CodeInvalidArgument {
		t.Errorf("error code = %v, want invalid_argument", connect.CodeOf(err))
	}
}

func TestEval_RejectsCorruptImage(t *testing.T) {
	svc := newTestEvalService()

	_, err := svc.Eval(bg(), connectReq(&EvalRequest{Image: []byte("not an image")}))
	if err == nil {
		t.Fatal("expected error for corrupt image")
	}
	if connect.CodeOf(err) != connect.CodeInvalidArgument {
		t.Errorf("error code = %v, want invalid_argument", connect.CodeOf(err))
	}
}

func TestEval_ReportsRuntimeError(t *testing.T) {
	svc := newTestEvalService()

	cb := vm.NewCodeBuilder("<module>")
	b := vm.NewBytecodeBuilder()
	missing := cb.Name("no_such_name")
	b.EmitUint16(vm.OpLoadName, missing)
	b.Emit(vm.OpReturn)
	image, err := vm.WriteImage(cb.Bytecode(b.Bytes()).Build())
	if err != nil {
		t.Fatalf("WriteImage failed: %v", err)
	}

	resp, err := svc.Eval(bg(), connectReq(&EvalRequest{Image: image}))
	if err != nil {
		t.Fatalf("Eval returned error: %v", err)
	}
	if resp.Msg.Success {
		t.Fatal("Eval should have failed")
	}
	if !strings.Contains(resp.Msg.Error, "no_such_name") {
		t.Errorf("Eval error = %q, want mention of no_such_name", resp.Msg.Error)
	}
}

// ---------------------------------------------------------------------------
// Inspect
// ---------------------------------------------------------------------------

func TestInspect_FindsGlobal(t *testing.T) {
	svc := newTestEvalService()

	if _, err := svc.Eval(bg(), connectReq(&EvalRequest{Image: moduleImage(t)})); err != nil {
		t.Fatalf("Eval returned error: %v", err)
	}

	resp, err := svc.Inspect(bg(), connectReq(&InspectRequest{Name: "answer"}))
	if err != nil {
		t.Fatalf("Inspect returned error: %v", err)
	}
	if !resp.Msg.Found {
		t.Fatal("Inspect did not find the global")
	}
	if resp.Msg.Type != "int" {
		t.Errorf("Inspect type = %q, want int", resp.Msg.Type)
	}
	if resp.Msg.Repr != "42" {
		t.Errorf("Inspect repr = %q, want 42", resp.Msg.Repr)
	}
}

func TestInspect_MissingGlobal(t *testing.T) {
	svc := newTestEvalService()

	resp, err := svc.Inspect(bg(), connectReq(&InspectRequest{Name: "definitely_absent"}))
	if err != nil {
		t.Fatalf("Inspect returned error: %v", err)
	}
	if resp.Msg.Found {
		t.Error("Inspect found a global that should not exist")
	}
}

func TestInspect_RejectsEmptyName(t *testing.T) {
	svc := newTestEvalService()

	_, err := svc.Inspect(bg(), connectReq(&InspectRequest{}))
	if err == nil {
		t.Fatal("expected error for empty name")
	}
	if connect.CodeOf(err) != connect.CodeInvalidArgument {
		t.Errorf("error code = %v, want invalid_argument", connect.CodeOf(err))
	}
}

// ---------------------------------------------------------------------------
// Profile
// ---------------------------------------------------------------------------

func TestProfile_ReturnsReport(t *testing.T) {
	svc := newTestEvalService()

	resp, err := svc.Profile(bg(), connectReq(&ProfileRequest{}))
	if err != nil {
		t.Fatalf("Profile returned error: %v", err)
	}
	for i := 1; i < len(resp.Msg.Functions); i++ {
		if resp.Msg.Functions[i-1].Count < resp.Msg.Functions[i].Count {
			t.Fatal("profile entries are not sorted busiest-first")
		}
	}
}
