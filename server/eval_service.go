package server

import (
	"bytes"
	"context"
	"fmt"

	"connectrpc.com/connect"

	"github.com/chazu/pyrite/vm"
)

// Procedure paths for the runtime service.
const (
	EvalProcedure    = "/pyrite.v1.RuntimeService/Eval"
	InspectProcedure = "/pyrite.v1.RuntimeService/Inspect"
	ProfileProcedure = "/pyrite.v1.RuntimeService/Profile"
)

// EvalRequest asks the runtime to execute a program image. When Call is
// set, the named function is invoked afterwards with Args.
type EvalRequest struct {
	Image []byte        `json:"image"`
	Call  string        `json:"call,omitempty"`
	Args  []interface{} `json:"args,omitempty"`
}

// EvalResponse reports the outcome of an evaluation.
type EvalResponse struct {
	Success bool   `json:"success"`
	Result  string `json:"result,omitempty"`
	Output  string `json:"output,omitempty"`
	Error   string `json:"error,omitempty"`
}

// InspectRequest asks for a snapshot of a global binding.
type InspectRequest struct {
	Name string `json:"name"`
}

// InspectResponse describes a global binding, if present.
type InspectResponse struct {
	Found bool   `json:"found"`
	Type  string `json:"type,omitempty"`
	Repr  string `json:"repr,omitempty"`
}

// ProfileRequest asks for the hot-code profile.
type ProfileRequest struct{}

// ProfileEntry is one function's call statistics.
type ProfileEntry struct {
	Qualname string `json:"qualname"`
	Count    uint64 `json:"count"`
	Hot      bool   `json:"hot"`
}

// ProfileResponse lists recorded functions, busiest first.
type ProfileResponse struct {
	Functions []ProfileEntry `json:"functions"`
}

// EvalService executes program images and inspects runtime state over
// the Connect protocol.
type EvalService struct {
	worker *VMWorker
}

// NewEvalService creates an EvalService.
func NewEvalService(worker *VMWorker) *EvalService {
	return &EvalService{worker: worker}
}

// Eval loads, verifies, and executes a program image.
func (s *EvalService) Eval(
	ctx context.Context,
	req *connect.Request[EvalRequest],
) (*connect.Response[EvalResponse], error) {
	if len(req.Msg.Image) == 0 {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("image is required"))
	}

	code, err := vm.ReadImage(req.Msg.Image)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}

	result, err := s.worker.Do(func(v *vm.VirtualMachine) interface{} {
		return s.evaluate(v, code, req.Msg.Call, req.Msg.Args)
	})
	if err != nil {
		return connect.NewResponse(&EvalResponse{
			Success: false,
			Error:   err.Error(),
		}), nil
	}

	return connect.NewResponse(result.(*EvalResponse)), nil
}

// Inspect reports the type and repr of a global binding.
func (s *EvalService) Inspect(
	ctx context.Context,
	req *connect.Request[InspectRequest],
) (*connect.Response[InspectResponse], error) {
	if req.Msg.Name == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("name is required"))
	}

	result, err := s.worker.Do(func(v *vm.VirtualMachine) interface{} {
		val, ok := v.Globals.GetStr(req.Msg.Name)
		if !ok {
			return &InspectResponse{Found: false}
		}
		return &InspectResponse{
			Found: true,
			Type:  vm.TypeName(val),
			Repr:  vm.Repr(val),
		}
	})
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}

	return connect.NewResponse(result.(*InspectResponse)), nil
}

// Profile returns per-function call counts from the hot-code profiler.
func (s *EvalService) Profile(
	ctx context.Context,
	req *connect.Request[ProfileRequest],
) (*connect.Response[ProfileResponse], error) {
	result, err := s.worker.Do(func(v *vm.VirtualMachine) interface{} {
		report := v.Profiler.Report()
		entries := make([]ProfileEntry, len(report))
		for i, row := range report {
			entries[i] = ProfileEntry{
				Qualname: row.Qualname,
				Count:    row.Count,
				Hot:      row.Hot,
			}
		}
		return &ProfileResponse{Functions: entries}
	})
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}

	return connect.NewResponse(result.(*ProfileResponse)), nil
}

// evaluate runs module code and an optional entry call, capturing program
// output. Must be called on the VM worker goroutine.
func (s *EvalService) evaluate(v *vm.VirtualMachine, code *vm.CodeObject, call string, args []interface{}) *EvalResponse {
	var output bytes.Buffer
	savedStdout := v.Stdout
	v.Stdout = &output
	defer func() { v.Stdout = savedStdout }()

	result, err := v.Run(code)
	if err == nil && call != "" {
		vmArgs := make([]vm.Value, len(args))
		for i, a := range args {
			vmArgs[i] = jsonToValue(a)
		}
		result, err = v.CallByName(call, vmArgs)
	}
	if err != nil {
		return &EvalResponse{
			Success: false,
			Output:  output.String(),
			Error:   err.Error(),
		}
	}

	return &EvalResponse{
		Success: true,
		Result:  vm.Repr(result),
		Output:  output.String(),
	}
}

// jsonToValue maps decoded JSON scalars and containers onto VM values.
func jsonToValue(a interface{}) vm.Value {
	switch x := a.(type) {
	case nil:
		return vm.None
	case bool:
		return vm.FromBool(x)
	case float64:
		if x == float64(int64(x)) {
			return vm.FromInt(int64(x))
		}
		return vm.FromFloat64(x)
	case string:
		return vm.NewStr(x)
	case []interface{}:
		items := make([]vm.Value, len(x))
		for i, el := range x {
			items[i] = jsonToValue(el)
		}
		return vm.NewListValue(items)
	case map[string]interface{}:
		d := vm.NewDict()
		for k, el := range x {
			d.SetStr(k, jsonToValue(el))
		}
		return vm.NewDictValue(d)
	}
	return vm.None
}
