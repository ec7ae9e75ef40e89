package vm

import (
	"crypto/sha256"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ---------------------------------------------------------------------------
// Module import system
// ---------------------------------------------------------------------------

// ImportModule resolves a module by name: the process-wide cache first,
// then the builtin module table, then compiled images on the module
// search path. Absence is ModuleNotFoundError.
func (vm *VirtualMachine) ImportModule(name string) (Value, error) {
	if cached, ok := vm.modules.Load(name); ok {
		return cached.(Value), nil
	}

	if builder, ok := builtinModules[name]; ok {
		m := NewModule(name)
		builder(vm, m)
		m.Initialized = true
		v := NewModuleValue(m)
		actual, _ := vm.modules.LoadOrStore(name, v)
		return actual.(Value), nil
	}

	if v, err, found := vm.importImageModule(name); found {
		return v, err
	}

	return None, Raise(NewException("ModuleNotFoundError",
		"No module named '"+name+"'"))
}

// importImageModule locates a compiled image for the module and executes
// its root code in a fresh namespace. The module registers in the cache
// of live modules before its body runs, so import cycles observe a
// partially initialized module rather than recursing.
func (vm *VirtualMachine) importImageModule(name string) (Value, error, bool) {
	data, path, err := vm.findImage(name)
	if err != nil {
		return None, err, true
	}
	if data == nil {
		return None, nil, false
	}

	code, err := ReadImage(data)
	if err != nil {
		return None, err, true
	}

	m := NewModule(name)
	m.Dict.SetStr("__file__", NewStr(path))
	v := NewModuleValue(m)
	vm.modules.Store(name, v)

	frame := NewFrame(code, m.Dict, vm.Builtins, nil)
	if _, err := vm.RunFrame(frame); err != nil {
		vm.modules.Delete(name)
		return None, err, true
	}
	m.Initialized = true
	return v, nil, true
}

// findImage returns a module's image bytes and origin path. A warm code
// cache answers by module name without touching the search path; a disk
// hit warms it for the next import. Stale entries are the embedder's
// problem: CodeCache.Evict drops a module whose image changed on disk.
func (vm *VirtualMachine) findImage(name string) ([]byte, string, error) {
	if vm.CodeCache != nil {
		data, path, ok, err := vm.CodeCache.GetModule(name)
		if err != nil {
			return nil, "", err
		}
		if ok {
			return data, path, nil
		}
	}
	for _, dir := range vm.SysPath {
		path := filepath.Join(dir, name+ImageExtension)
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if vm.CodeCache != nil {
			hash := sha256.Sum256(data)
			if err := vm.CodeCache.Put(name, hash[:], path, data); err != nil {
				return nil, "", err
			}
		}
		return data, path, nil
	}
	return nil, "", nil
}

// importFrom resolves `from m import name` against an imported module.
func (vm *VirtualMachine) importFrom(moduleVal Value, name string) (Value, error) {
	if !moduleVal.isKind(KindModule) {
		return None, typeErrorf("'%s' object is not a module", TypeName(moduleVal))
	}
	m := moduleVal.Object().Module
	if v, ok := m.Dict.GetStr(name); ok {
		return v, nil
	}
	return None, importErrorf("cannot import name '%s' from '%s'", name, m.Name)
}

// importStar copies a module's public names into the target namespace:
// the names listed in __all__ when present, otherwise every name not
// starting with an underscore.
func (vm *VirtualMachine) importStar(moduleVal Value, target *Dict) error {
	if !moduleVal.isKind(KindModule) {
		return typeErrorf("'%s' object is not a module", TypeName(moduleVal))
	}
	m := moduleVal.Object().Module
	if allVal, ok := m.Dict.GetStr("__all__"); ok {
		names, err := unpackIterable(allVal)
		if err != nil {
			return err
		}
		for _, nv := range names {
			if !nv.IsStr() {
				return typeErrorf("__all__ entries must be str")
			}
			v, ok := m.Dict.GetStr(nv.StrVal())
			if !ok {
				return importErrorf("cannot import name '%s' from '%s'", nv.StrVal(), m.Name)
			}
			target.SetStr(nv.StrVal(), v)
		}
		return nil
	}
	for _, kv := range m.Dict.Keys() {
		name := kv.StrVal()
		if strings.HasPrefix(name, "_") {
			continue
		}
		v, _ := m.Dict.GetStr(name)
		target.SetStr(name, v)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Builtin modules
// ---------------------------------------------------------------------------

// builtinModules maps names to their initializers. Most entries exist so
// imports succeed and carry standard dunders; a few expose constants and
// thin native functions.
var builtinModules = map[string]func(*VirtualMachine, *Module){
	"sys": func(vm *VirtualMachine, m *Module) {
		m.Dict.SetStr("version", NewStr("3.11.0 (pyrite)"))
		m.Dict.SetStr("platform", NewStr("pyrite"))
		paths := make([]Value, len(vm.SysPath))
		for i, p := range vm.SysPath {
			paths[i] = NewStr(p)
		}
		m.Dict.SetStr("path", NewListValue(paths))
		m.Dict.SetStr("maxsize", FromInt(MaxSmallInt))
	},
	"builtins": func(vm *VirtualMachine, m *Module) {
		for _, kv := range vm.Builtins.Keys() {
			v, _ := vm.Builtins.GetStr(kv.StrVal())
			m.Dict.SetStr(kv.StrVal(), v)
		}
	},
	"os": func(vm *VirtualMachine, m *Module) {
		m.Dict.SetStr("name", NewStr("posix"))
		m.Dict.SetStr("sep", NewStr(string(filepath.Separator)))
		m.Dict.SetStr("linesep", NewStr("\n"))
		m.Dict.SetStr("getcwd", NewBuiltin("getcwd", func(vm *VirtualMachine, args []Value) (Value, error) {
			wd, err := os.Getwd()
			if err != nil {
				return None, Raise(NewException("OSError", err.Error()))
			}
			return NewStr(wd), nil
		}))
		// os.path is reachable both as an import and as an attribute.
		pathMod := NewModule("os.path")
		osPathInit(pathMod)
		m.Dict.SetStr("path", NewModuleValue(pathMod))
	},
	"os.path": func(vm *VirtualMachine, m *Module) { osPathInit(m) },
	"math": func(vm *VirtualMachine, m *Module) {
		m.Dict.SetStr("pi", FromFloat64(math.Pi))
		m.Dict.SetStr("e", FromFloat64(math.E))
		m.Dict.SetStr("tau", FromFloat64(2*math.Pi))
		m.Dict.SetStr("inf", FromFloat64(math.Inf(1)))
		m.Dict.SetStr("nan", FromFloat64(math.NaN()))
		m.Dict.SetStr("sqrt", mathUnary("sqrt", math.Sqrt))
		m.Dict.SetStr("floor", NewBuiltin("floor", func(vm *VirtualMachine, args []Value) (Value, error) {
			f, err := mathArg("floor", args)
			if err != nil {
				return None, err
			}
			return makeInt(int64(math.Floor(f))), nil
		}))
		m.Dict.SetStr("ceil", NewBuiltin("ceil", func(vm *VirtualMachine, args []Value) (Value, error) {
			f, err := mathArg("ceil", args)
			if err != nil {
				return None, err
			}
			return makeInt(int64(math.Ceil(f))), nil
		}))
		m.Dict.SetStr("fabs", mathUnary("fabs", math.Abs))
	},
	"time": func(vm *VirtualMachine, m *Module) {
		m.Dict.SetStr("time", NewBuiltin("time", func(vm *VirtualMachine, args []Value) (Value, error) {
			return FromFloat64(float64(time.Now().UnixNano()) / 1e9), nil
		}))
	},
	"string": func(vm *VirtualMachine, m *Module) {
		m.Dict.SetStr("ascii_lowercase", NewStr("abcdefghijklmnopqrstuvwxyz"))
		m.Dict.SetStr("ascii_uppercase", NewStr("ABCDEFGHIJKLMNOPQRSTUVWXYZ"))
		m.Dict.SetStr("digits", NewStr("0123456789"))
		m.Dict.SetStr("punctuation", NewStr("!\"#$%&'()*+,-./:;<=>?@[\\]^_`{|}~"))
	},
	"io":          func(vm *VirtualMachine, m *Module) {},
	"json":        func(vm *VirtualMachine, m *Module) {},
	"re":          func(vm *VirtualMachine, m *Module) {},
	"collections": func(vm *VirtualMachine, m *Module) {},
	"itertools":   func(vm *VirtualMachine, m *Module) {},
	"functools":   func(vm *VirtualMachine, m *Module) {},
	"typing":      func(vm *VirtualMachine, m *Module) {},
	"pathlib":     func(vm *VirtualMachine, m *Module) {},
	"datetime":    func(vm *VirtualMachine, m *Module) {},
	"random":      func(vm *VirtualMachine, m *Module) {},
}

func osPathInit(m *Module) {
	m.Dict.SetStr("sep", NewStr(string(filepath.Separator)))
	m.Dict.SetStr("join", NewBuiltin("join", func(vm *VirtualMachine, args []Value) (Value, error) {
		parts := make([]string, len(args))
		for i, a := range args {
			if !a.IsStr() {
				return None, typeErrorf("join() argument must be str, not %s", TypeName(a))
			}
			parts[i] = a.StrVal()
		}
		return NewStr(filepath.Join(parts...)), nil
	}))
	m.Dict.SetStr("basename", NewBuiltin("basename", func(vm *VirtualMachine, args []Value) (Value, error) {
		if len(args) != 1 || !args[0].IsStr() {
			return None, typeErrorf("basename() argument must be str")
		}
		return NewStr(filepath.Base(args[0].StrVal())), nil
	}))
	m.Dict.SetStr("dirname", NewBuiltin("dirname", func(vm *VirtualMachine, args []Value) (Value, error) {
		if len(args) != 1 || !args[0].IsStr() {
			return None, typeErrorf("dirname() argument must be str")
		}
		return NewStr(filepath.Dir(args[0].StrVal())), nil
	}))
}

func mathArg(name string, args []Value) (float64, error) {
	if len(args) != 1 || !isNumeric(args[0]) {
		return 0, typeErrorf("%s() argument must be a number", name)
	}
	return asFloat(args[0]), nil
}

func mathUnary(name string, fn func(float64) float64) Value {
	return NewBuiltin(name, func(vm *VirtualMachine, args []Value) (Value, error) {
		f, err := mathArg(name, args)
		if err != nil {
			return None, err
		}
		return FromFloat64(fn(f)), nil
	})
}
