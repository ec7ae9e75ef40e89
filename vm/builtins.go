package vm

import (
	"fmt"
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// Builtin function library
// ---------------------------------------------------------------------------

// installBuiltins populates the builtins namespace: the function library
// and the builtin exception classes.
func (vm *VirtualMachine) installBuiltins() {
	b := vm.Builtins

	reg := func(name string, fn BuiltinFunc) {
		b.SetStr(name, NewBuiltin(name, fn))
	}

	reg("print", builtinPrint)
	reg("len", builtinLen)
	reg("range", builtinRange)
	reg("iter", func(vm *VirtualMachine, args []Value) (Value, error) {
		if len(args) != 1 {
			return None, typeErrorf("iter() takes exactly 1 argument (%d given)", len(args))
		}
		return vm.getIter(args[0])
	})
	reg("next", builtinNext)
	reg("repr", func(vm *VirtualMachine, args []Value) (Value, error) {
		if len(args) != 1 {
			return None, typeErrorf("repr() takes exactly 1 argument (%d given)", len(args))
		}
		return NewStr(Repr(args[0])), nil
	})
	reg("str", builtinStr)
	reg("int", builtinInt)
	reg("float", builtinFloat)
	reg("bool", func(vm *VirtualMachine, args []Value) (Value, error) {
		if len(args) == 0 {
			return False, nil
		}
		return FromBool(Truthy(args[0])), nil
	})
	reg("list", builtinList)
	reg("tuple", builtinTuple)
	reg("dict", func(vm *VirtualMachine, args []Value) (Value, error) {
		if len(args) == 0 {
			return NewDictValue(NewDict()), nil
		}
		if len(args) == 1 && args[0].isKind(KindDict) {
			return NewDictValue(args[0].Object().Dict.Copy()), nil
		}
		return None, typeErrorf("dict() argument must be a dict")
	})
	reg("abs", builtinAbs)
	reg("min", builtinMin)
	reg("max", builtinMax)
	reg("sum", builtinSum)
	reg("isinstance", builtinIsinstance)
	reg("type", builtinType)
	reg("hasattr", func(vm *VirtualMachine, args []Value) (Value, error) {
		if len(args) != 2 || !args[1].IsStr() {
			return None, typeErrorf("hasattr() takes an object and a str")
		}
		_, err := vm.getAttr(args[0], args[1].StrVal())
		return FromBool(err == nil), nil
	})
	reg("getattr", func(vm *VirtualMachine, args []Value) (Value, error) {
		if len(args) < 2 || len(args) > 3 || !args[1].IsStr() {
			return None, typeErrorf("getattr() takes an object, a str, and an optional default")
		}
		v, err := vm.getAttr(args[0], args[1].StrVal())
		if err != nil {
			if len(args) == 3 {
				return args[2], nil
			}
			return None, err
		}
		return v, nil
	})
	reg("setattr", func(vm *VirtualMachine, args []Value) (Value, error) {
		if len(args) != 3 || !args[1].IsStr() {
			return None, typeErrorf("setattr() takes an object, a str, and a value")
		}
		return None, vm.setAttr(args[0], args[1].StrVal(), args[2])
	})
	reg("__build_class__", builtinBuildClass)

	// Exception classes, raisable and catchable by name.
	b.SetStr("BaseException", NewTypeValue(NewBuiltinExceptionType("BaseException")))
	for name := range exceptionParents {
		b.SetStr(name, NewTypeValue(NewBuiltinExceptionType(name)))
	}
}

func builtinPrint(vm *VirtualMachine, args []Value) (Value, error) {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = Str(a)
	}
	fmt.Fprintln(vm.Stdout, strings.Join(parts, " "))
	return None, nil
}

func builtinLen(vm *VirtualMachine, args []Value) (Value, error) {
	if len(args) != 1 {
		return None, typeErrorf("len() takes exactly 1 argument (%d given)", len(args))
	}
	n, err := lengthOf(args[0])
	if err != nil {
		return None, err
	}
	return FromInt(int64(n)), nil
}

func builtinRange(vm *VirtualMachine, args []Value) (Value, error) {
	var start, stop, step int64 = 0, 0, 1
	ints := make([]int64, len(args))
	for i, a := range args {
		n, ok := intVal(a)
		if !ok {
			return None, typeErrorf("'%s' object cannot be interpreted as an integer", TypeName(a))
		}
		ints[i] = n
	}
	switch len(args) {
	case 1:
		stop = ints[0]
	case 2:
		start, stop = ints[0], ints[1]
	case 3:
		start, stop, step = ints[0], ints[1], ints[2]
		if step == 0 {
			return None, valueErrorf("range() arg 3 must not be zero")
		}
	default:
		return None, typeErrorf("range expected 1 to 3 arguments, got %d", len(args))
	}
	var items []Value
	if step > 0 {
		for i := start; i < stop; i += step {
			items = append(items, FromInt(i))
		}
	} else {
		for i := start; i > stop; i += step {
			items = append(items, FromInt(i))
		}
	}
	return NewIteratorValue(NewIterator(items)), nil
}

// builtinNext advances an iterator; the optional second argument is
// returned on exhaustion instead of raising StopIteration.
func builtinNext(vm *VirtualMachine, args []Value) (Value, error) {
	if len(args) < 1 || len(args) > 2 {
		return None, typeErrorf("next expected 1 or 2 arguments, got %d", len(args))
	}
	v, ok, err := vm.iterNext(args[0])
	if err != nil {
		return None, err
	}
	if !ok {
		if len(args) == 2 {
			return args[1], nil
		}
		return None, stopIteration(None)
	}
	return v, nil
}

func builtinStr(vm *VirtualMachine, args []Value) (Value, error) {
	switch len(args) {
	case 0:
		return NewStr(""), nil
	case 1:
		return NewStr(Str(args[0])), nil
	}
	return None, typeErrorf("str() takes at most 1 argument (%d given)", len(args))
}

func builtinInt(vm *VirtualMachine, args []Value) (Value, error) {
	if len(args) == 0 {
		return FromInt(0), nil
	}
	v := args[0]
	switch {
	case v.IsInt():
		return v, nil
	case v.IsBool():
		n, _ := intVal(v)
		return FromInt(n), nil
	case v.IsFloat():
		return makeInt(int64(v.Float64())), nil
	case v.IsStr():
		n, err := strconv.ParseInt(strings.TrimSpace(v.StrVal()), 10, 64)
		if err != nil {
			return None, valueErrorf("invalid literal for int() with base 10: %s", Repr(v))
		}
		return makeInt(n), nil
	}
	return None, typeErrorf("int() argument must be a string or a number, not '%s'", TypeName(v))
}

func builtinFloat(vm *VirtualMachine, args []Value) (Value, error) {
	if len(args) == 0 {
		return FromFloat64(0), nil
	}
	v := args[0]
	switch {
	case v.IsFloat():
		return v, nil
	case v.IsInt(), v.IsBool():
		return FromFloat64(asFloat(v)), nil
	case v.IsStr():
		f, err := strconv.ParseFloat(strings.TrimSpace(v.StrVal()), 64)
		if err != nil {
			return None, valueErrorf("could not convert string to float: %s", Repr(v))
		}
		return FromFloat64(f), nil
	}
	return None, typeErrorf("float() argument must be a string or a number, not '%s'", TypeName(v))
}

func builtinList(vm *VirtualMachine, args []Value) (Value, error) {
	if len(args) == 0 {
		return NewListValue(nil), nil
	}
	if len(args) != 1 {
		return None, typeErrorf("list expected at most 1 argument, got %d", len(args))
	}
	items, err := unpackIterable(args[0])
	if err != nil {
		return None, err
	}
	out := make([]Value, len(items))
	copy(out, items)
	return NewListValue(out), nil
}

func builtinTuple(vm *VirtualMachine, args []Value) (Value, error) {
	if len(args) == 0 {
		return NewTuple(nil), nil
	}
	if len(args) != 1 {
		return None, typeErrorf("tuple expected at most 1 argument, got %d", len(args))
	}
	items, err := unpackIterable(args[0])
	if err != nil {
		return None, err
	}
	return NewTuple(items), nil
}

func builtinAbs(vm *VirtualMachine, args []Value) (Value, error) {
	if len(args) != 1 {
		return None, typeErrorf("abs() takes exactly 1 argument (%d given)", len(args))
	}
	v := args[0]
	if n, ok := intVal(v); ok {
		if n < 0 {
			n = -n
		}
		return makeInt(n), nil
	}
	if v.IsFloat() {
		f := v.Float64()
		if f < 0 {
			f = -f
		}
		return FromFloat64(f), nil
	}
	return None, typeErrorf("bad operand type for abs(): '%s'", TypeName(v))
}

// extremum shares min/max: pick reports whether candidate should replace
// the current best.
func extremum(vm *VirtualMachine, name string, args []Value, pick Opcode) (Value, error) {
	var items []Value
	if len(args) == 1 {
		var err error
		items, err = unpackIterable(args[0])
		if err != nil {
			return None, err
		}
	} else {
		items = args
	}
	if len(items) == 0 {
		return None, valueErrorf("%s() arg is an empty sequence", name)
	}
	best := items[0]
	for _, v := range items[1:] {
		better, err := vm.compareOp(pick, v, best)
		if err != nil {
			return None, err
		}
		if Truthy(better) {
			best = v
		}
	}
	return best, nil
}

func builtinMin(vm *VirtualMachine, args []Value) (Value, error) {
	if len(args) == 0 {
		return None, typeErrorf("min expected at least 1 argument, got 0")
	}
	return extremum(vm, "min", args, OpCompareLt)
}

func builtinMax(vm *VirtualMachine, args []Value) (Value, error) {
	if len(args) == 0 {
		return None, typeErrorf("max expected at least 1 argument, got 0")
	}
	return extremum(vm, "max", args, OpCompareGt)
}

func builtinSum(vm *VirtualMachine, args []Value) (Value, error) {
	if len(args) < 1 || len(args) > 2 {
		return None, typeErrorf("sum() takes 1 or 2 arguments (%d given)", len(args))
	}
	items, err := unpackIterable(args[0])
	if err != nil {
		return None, err
	}
	total := Value(FromInt(0))
	if len(args) == 2 {
		total = args[1]
	}
	for _, v := range items {
		total, err = vm.binaryOp(OpBinaryAdd, total, v)
		if err != nil {
			return None, err
		}
	}
	return total, nil
}

func builtinIsinstance(vm *VirtualMachine, args []Value) (Value, error) {
	if len(args) != 2 {
		return None, typeErrorf("isinstance expected 2 arguments, got %d", len(args))
	}
	ok, err := isInstanceOf(args[0], args[1])
	if err != nil {
		return None, err
	}
	return FromBool(ok), nil
}

// builtinTypePredicates maps the constructor functions usable as
// isinstance classinfo to their membership tests. bools count as ints.
var builtinTypePredicates = map[string]func(Value) bool{
	"int":   func(v Value) bool { return v.IsInt() || v == True || v == False },
	"float": func(v Value) bool { return v.IsFloat() },
	"bool":  func(v Value) bool { return v == True || v == False },
	"str":   func(v Value) bool { return v.IsStr() },
	"list":  func(v Value) bool { return v.isKind(KindList) },
	"tuple": func(v Value) bool { return v.isKind(KindTuple) },
	"dict":  func(v Value) bool { return v.isKind(KindDict) },
}

// isInstanceOf tests v against a class, a builtin constructor standing
// in for its type, or a tuple of either. Anything else as classinfo is
// a TypeError.
func isInstanceOf(v, classVal Value) (bool, error) {
	if classVal.isKind(KindTuple) {
		for _, c := range classVal.Object().Tuple {
			ok, err := isInstanceOf(v, c)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	}
	if classVal.isKind(KindBuiltin) {
		if pred, ok := builtinTypePredicates[classVal.Object().Bltn.Name]; ok {
			return pred(v), nil
		}
	}
	if !classVal.isKind(KindType) {
		return false, typeErrorf("isinstance() arg 2 must be a type or tuple of types")
	}
	t := classVal.Object().Type
	if v.isKind(KindInstance) {
		return v.Object().Inst.Type.IsSubclassOf(t), nil
	}
	if v.isKind(KindException) {
		return v.Object().Exc.MatchesClass(t.Name), nil
	}
	return false, nil
}

func builtinType(vm *VirtualMachine, args []Value) (Value, error) {
	if len(args) != 1 {
		return None, typeErrorf("type() takes 1 argument (%d given)", len(args))
	}
	if args[0].isKind(KindInstance) {
		return NewTypeValue(args[0].Object().Inst.Type), nil
	}
	return NewStr(TypeName(args[0])), nil
}

// builtinBuildClass executes a class body and assembles the type:
// __build_class__(body, name, *bases). The body runs against a fresh
// namespace; names it defines (or redefines) become the class dict.
// Functions defined in the body get their globals repointed back to the
// defining module so methods see later module-level changes.
func builtinBuildClass(vm *VirtualMachine, args []Value) (Value, error) {
	if len(args) < 2 || !args[0].isKind(KindFunction) || !args[1].IsStr() {
		return None, typeErrorf("__build_class__ takes a function and a name")
	}
	body := args[0].Object().Fn
	name := args[1].StrVal()

	bases := make([]*TypeObject, 0, len(args)-2)
	for _, bv := range args[2:] {
		if !bv.isKind(KindType) {
			return None, typeErrorf("bases must be classes")
		}
		bases = append(bases, bv.Object().Type)
	}

	namespace := body.Globals.Copy()
	frame := NewFrame(body.Code, namespace, vm.Builtins, body.Closure)
	if _, err := vm.RunFrame(frame); err != nil {
		return None, err
	}

	classDict := NewDict()
	for _, kv := range namespace.Keys() {
		key := kv.StrVal()
		v, _ := namespace.GetStr(key)
		if prev, existed := body.Globals.GetStr(key); existed && prev == v {
			continue
		}
		classDict.SetStr(key, v)
		if v.isKind(KindFunction) {
			v.Object().Fn.Globals = body.Globals
		}
	}

	return NewTypeValue(NewType(name, bases, classDict)), nil
}
