package vm

import (
	"io"
	"os"
	"sync"
)

// DefaultRecursionLimit bounds nested user-function calls.
const DefaultRecursionLimit = 1000

// VirtualMachine owns the global execution state: the main namespace,
// the builtins, the module cache, and the hot-code profiler. Frames are
// single-goroutine; the module cache and profiler are safe to share.
type VirtualMachine struct {
	Globals  *Dict
	Builtins *Dict

	Stdout         io.Writer
	SysPath        []string
	RecursionLimit int
	Profiler       *Profiler
	CodeCache      *CodeCache

	modules sync.Map // module name -> Value (KindModule)
	depth   int
}

// New creates a bootstrapped virtual machine.
func New() *VirtualMachine {
	vm := &VirtualMachine{
		Globals:        NewDict(),
		Builtins:       NewDict(),
		Stdout:         os.Stdout,
		RecursionLimit: DefaultRecursionLimit,
		Profiler:       NewProfiler(DefaultHotThreshold),
	}
	vm.installBuiltins()
	vm.installRPCBuiltins()
	vm.Globals.SetStr("__name__", NewStr("__main__"))
	return vm
}

// Run executes module-level code against the main namespace.
func (vm *VirtualMachine) Run(code *CodeObject) (Value, error) {
	frame := NewFrame(code, vm.Globals, vm.Builtins, nil)
	return vm.RunFrame(frame)
}

// RunModule executes module-level code against a dedicated namespace and
// returns it, leaving the main namespace untouched.
func (vm *VirtualMachine) RunModule(name string, code *CodeObject) (*Dict, error) {
	globals := NewDict()
	globals.SetStr("__name__", NewStr(name))
	frame := NewFrame(code, globals, vm.Builtins, nil)
	if _, err := vm.RunFrame(frame); err != nil {
		return nil, err
	}
	return globals, nil
}

// CallByName invokes a function defined in the main namespace.
func (vm *VirtualMachine) CallByName(name string, args []Value) (Value, error) {
	fn, ok := vm.Globals.GetStr(name)
	if !ok {
		return None, nameErrorf("name '%s' is not defined", name)
	}
	return vm.callValue(fn, args, nil)
}

// Modules lists the names of loaded modules.
func (vm *VirtualMachine) Modules() []string {
	var names []string
	vm.modules.Range(func(k, _ any) bool {
		names = append(names, k.(string))
		return true
	})
	return names
}
