package vm

// ---------------------------------------------------------------------------
// Calls and argument binding
// ---------------------------------------------------------------------------

// callValue invokes any callable value with positional args and optional
// keyword args.
func (vm *VirtualMachine) callValue(callee Value, args []Value, kwargs *Dict) (Value, error) {
	if !callee.IsObject() {
		return None, typeErrorf("'%s' object is not callable", TypeName(callee))
	}
	obj := callee.Object()
	switch obj.Kind {
	case KindBuiltin:
		if kwargs != nil && kwargs.Len() > 0 {
			return None, typeErrorf("%s() takes no keyword arguments", obj.Bltn.Name)
		}
		return obj.Bltn.Fn(vm, args)

	case KindFunction:
		return vm.callFunction(obj.Fn, args, kwargs)

	case KindBoundMethod:
		m := obj.Method
		switch {
		case m.Fn != nil:
			return vm.callFunction(m.Fn, append([]Value{m.Receiver}, args...), kwargs)
		case m.Bltn != nil:
			if kwargs != nil && kwargs.Len() > 0 {
				return None, typeErrorf("%s() takes no keyword arguments", m.Bltn.Name)
			}
			return m.Bltn.Fn(vm, append([]Value{m.Receiver}, args...))
		default:
			if kwargs != nil && kwargs.Len() > 0 {
				return None, typeErrorf("%s() takes no keyword arguments", m.Native)
			}
			return vm.callNativeMethod(m.Receiver, m.Native, args)
		}

	case KindType:
		if obj.Type.IsExceptionType() {
			return NewExceptionValue(instantiateException(obj.Type, args)), nil
		}
		return vm.instantiateClass(obj.Type, args, kwargs)
	}
	return None, typeErrorf("'%s' object is not callable", TypeName(callee))
}

// callFunction binds arguments into a fresh frame and runs it. Functions
// flagged as generators or coroutines build their suspension object
// instead of executing.
func (vm *VirtualMachine) callFunction(fn *Function, args []Value, kwargs *Dict) (Value, error) {
	frame := NewFrame(fn.Code, fn.Globals, vm.Builtins, fn.Closure)
	if err := bindArguments(fn, frame, args, kwargs); err != nil {
		return None, err
	}

	if fn.Code.IsGenerator() || fn.Code.IsCoroutine() {
		gen := NewGenerator(fn.Name, fn.Qualname, frame, vm.resumeFrame)
		if fn.Code.IsCoroutine() {
			return NewCoroutineValue(gen), nil
		}
		return NewGeneratorValue(gen), nil
	}

	vm.Profiler.RecordCall(fn.Qualname)

	vm.depth++
	defer func() { vm.depth-- }()
	if vm.depth > vm.RecursionLimit {
		return None, Raise(NewException("RecursionError", "maximum recursion depth exceeded"))
	}
	return vm.RunFrame(frame)
}

// bindArguments maps call arguments onto the frame's parameter slots.
// Parameters bind in declaration order: positional kinds consume the
// positional list, then keywords, then defaults; *args and **kwargs
// absorb the surplus.
func bindArguments(fn *Function, frame *Frame, args []Value, kwargs *Dict) error {
	posIdx := 0
	var usedKw map[string]bool
	if kwargs != nil {
		usedKw = make(map[string]bool, kwargs.Len())
	}

	slot := func(name string) uint16 {
		for i, vn := range fn.Code.Varnames {
			if vn == name {
				return uint16(i)
			}
		}
		// Parameters always occupy the leading varname slots.
		panic("parameter missing from varnames: " + name)
	}

	for _, p := range fn.Params {
		switch p.Kind {
		case ParamPositional, ParamPositionalOrKeyword:
			if posIdx < len(args) {
				frame.SetLocal(slot(p.Name), args[posIdx])
				posIdx++
				continue
			}
			if p.Kind == ParamPositionalOrKeyword && kwargs != nil {
				if v, ok := kwargs.GetStr(p.Name); ok {
					frame.SetLocal(slot(p.Name), v)
					usedKw[p.Name] = true
					continue
				}
			}
			if p.Default != nil {
				frame.SetLocal(slot(p.Name), *p.Default)
				continue
			}
			return typeErrorf("%s() missing required argument: '%s'", fn.Name, p.Name)

		case ParamVarPositional:
			rest := make([]Value, len(args)-posIdx)
			copy(rest, args[posIdx:])
			frame.SetLocal(slot(p.Name), NewTuple(rest))
			posIdx = len(args)

		case ParamKeywordOnly:
			if kwargs != nil {
				if v, ok := kwargs.GetStr(p.Name); ok {
					frame.SetLocal(slot(p.Name), v)
					usedKw[p.Name] = true
					continue
				}
			}
			if p.Default != nil {
				frame.SetLocal(slot(p.Name), *p.Default)
				continue
			}
			return typeErrorf("%s() missing required keyword argument: '%s'", fn.Name, p.Name)

		case ParamVarKeyword:
			extra := NewDict()
			if kwargs != nil {
				for _, k := range kwargs.Keys() {
					name := k.StrVal()
					if !usedKw[name] {
						v, _ := kwargs.GetStr(name)
						extra.SetStr(name, v)
						usedKw[name] = true
					}
				}
			}
			frame.SetLocal(slot(p.Name), NewDictValue(extra))
		}
	}

	if posIdx < len(args) {
		return typeErrorf("%s() takes %d positional arguments but %d were given",
			fn.Name, posIdx, len(args))
	}
	if kwargs != nil {
		for _, k := range kwargs.Keys() {
			if !usedKw[k.StrVal()] {
				return typeErrorf("%s() got an unexpected keyword argument '%s'",
					fn.Name, k.StrVal())
			}
		}
	}
	return nil
}

// MakeFunction flag bits: each marks a value pushed before the code
// object, popped here in reverse push order.
const (
	mkDefaults    = 1 << 0 // tuple of positional defaults
	mkKwDefaults  = 1 << 1 // dict of keyword-only defaults
	mkAnnotations = 1 << 2 // annotations dict
	mkClosure     = 1 << 3 // tuple of cells
)

// makeFunction assembles a function object from the operand stack.
func (vm *VirtualMachine) makeFunction(f *Frame, flags uint16, closureOp bool) error {
	codeVal := f.Pop()
	if !codeVal.isKind(KindCode) {
		return fatalf("MAKE_FUNCTION expects a code object")
	}
	code := codeVal.Object().Code

	var closure []Value
	if closureOp || flags&mkClosure != 0 {
		cv := f.Pop()
		if !cv.isKind(KindTuple) {
			return fatalf("closure must be a tuple of cells")
		}
		closure = cv.Object().Tuple
	}
	var annotations *Dict
	if flags&mkAnnotations != 0 {
		av := f.Pop()
		if av.isKind(KindDict) {
			annotations = av.Object().Dict
		}
	}
	var kwDefaults *Dict
	if flags&mkKwDefaults != 0 {
		kv := f.Pop()
		if kv.isKind(KindDict) {
			kwDefaults = kv.Object().Dict
		}
	}
	var defaults []Value
	if flags&mkDefaults != 0 {
		dv := f.Pop()
		if dv.isKind(KindTuple) {
			defaults = dv.Object().Tuple
		}
	}

	fn := &Function{
		Code:        code,
		Name:        code.Name,
		Qualname:    code.Qualname,
		Params:      ParamsFromCode(code),
		Globals:     f.Globals,
		Closure:     closure,
		Annotations: annotations,
		Doc:         None,
	}
	if len(code.Constants) > 0 && code.Constants[0].IsStr() {
		fn.Doc = code.Constants[0]
	}
	applyDefaults(fn, defaults, kwDefaults)
	f.Push(NewFunctionValue(fn))
	return nil
}

// applyDefaults attaches positional defaults to the trailing positional
// parameters and keyword defaults by name.
func applyDefaults(fn *Function, defaults []Value, kwDefaults *Dict) {
	if len(defaults) > 0 {
		positional := make([]*Parameter, 0, len(fn.Params))
		for i := range fn.Params {
			k := fn.Params[i].Kind
			if k == ParamPositional || k == ParamPositionalOrKeyword {
				positional = append(positional, &fn.Params[i])
			}
		}
		start := len(positional) - len(defaults)
		for i, d := range defaults {
			if start+i >= 0 && start+i < len(positional) {
				v := d
				positional[start+i].Default = &v
			}
		}
	}
	if kwDefaults != nil {
		for i := range fn.Params {
			if fn.Params[i].Kind != ParamKeywordOnly {
				continue
			}
			if v, ok := kwDefaults.GetStr(fn.Params[i].Name); ok {
				d := v
				fn.Params[i].Default = &d
			}
		}
	}
}

// instantiateClass creates an instance and runs __init__ when defined.
func (vm *VirtualMachine) instantiateClass(t *TypeObject, args []Value, kwargs *Dict) (Value, error) {
	inst := NewInstance(t)
	instVal := NewInstanceValue(inst)
	if initVal, ok := t.LookupMRO("__init__"); ok {
		if !initVal.isKind(KindFunction) {
			return None, typeErrorf("__init__ must be a function")
		}
		if _, err := vm.callFunction(initVal.Object().Fn, append([]Value{instVal}, args...), kwargs); err != nil {
			return None, err
		}
	} else if len(args) > 0 || (kwargs != nil && kwargs.Len() > 0) {
		return None, typeErrorf("%s() takes no arguments", t.Name)
	}
	return instVal, nil
}

// enterWith resolves the context manager protocol: __exit__ is looked up
// before __enter__ is called, so a manager missing either never runs.
func (vm *VirtualMachine) enterWith(mgr Value) (exit Value, entered Value, err error) {
	exitFn, err := vm.getAttr(mgr, "__exit__")
	if err != nil {
		return None, None, typeErrorf("'%s' object does not support the context manager protocol", TypeName(mgr))
	}
	enterFn, err := vm.getAttr(mgr, "__enter__")
	if err != nil {
		return None, None, typeErrorf("'%s' object does not support the context manager protocol (missed __enter__)", TypeName(mgr))
	}
	entered, err = vm.callValue(enterFn, nil, nil)
	if err != nil {
		return None, None, err
	}
	return exitFn, entered, nil
}
