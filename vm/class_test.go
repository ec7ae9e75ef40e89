package vm

import "testing"

// ---------------------------------------------------------------------------
// Types and MRO
// ---------------------------------------------------------------------------

func TestLinearizeDiamond(t *testing.T) {
	//   A
	//  / \
	// B   C
	//  \ /
	//   D
	a := NewType("A", nil, NewDict())
	b := NewType("B", []*TypeObject{a}, NewDict())
	c := NewType("C", []*TypeObject{a}, NewDict())
	d := NewType("D", []*TypeObject{b, c}, NewDict())

	want := []string{"D", "B", "C", "A"}
	if len(d.MRO) != len(want) {
		t.Fatalf("MRO has %d entries", len(d.MRO))
	}
	for i, name := range want {
		if d.MRO[i].Name != name {
			t.Errorf("MRO[%d] = %s, want %s", i, d.MRO[i].Name, name)
		}
	}
}

func TestLookupMROPrecedence(t *testing.T) {
	baseDict := NewDict()
	baseDict.SetStr("m", NewStr("base"))
	baseDict.SetStr("only", NewStr("inherited"))
	base := NewType("Base", nil, baseDict)

	childDict := NewDict()
	childDict.SetStr("m", NewStr("child"))
	child := NewType("Child", []*TypeObject{base}, childDict)

	if v, ok := child.LookupMRO("m"); !ok || v.StrVal() != "child" {
		t.Errorf("m = %s", Repr(v))
	}
	if v, ok := child.LookupMRO("only"); !ok || v.StrVal() != "inherited" {
		t.Errorf("only = %s", Repr(v))
	}
	if _, ok := child.LookupMRO("absent"); ok {
		t.Error("found absent attribute")
	}
}

func TestIsSubclassOf(t *testing.T) {
	a := NewType("A", nil, NewDict())
	b := NewType("B", []*TypeObject{a}, NewDict())
	other := NewType("Other", nil, NewDict())

	if !b.IsSubclassOf(a) || !b.IsSubclassOf(b) {
		t.Error("B should be a subclass of A and itself")
	}
	if a.IsSubclassOf(b) || b.IsSubclassOf(other) {
		t.Error("unrelated classes reported as subclasses")
	}
}

func TestUserExceptionType(t *testing.T) {
	valErr := NewBuiltinExceptionType("ValueError")
	custom := NewType("CustomError", []*TypeObject{valErr}, NewDict())
	if !custom.IsExceptionType() {
		t.Fatal("subclass of ValueError must be raisable")
	}

	exc := instantiateException(custom, []Value{NewStr("oops")})
	if exc.Type != custom || exc.Message != "oops" {
		t.Errorf("exc = %+v", exc)
	}
	if !exc.MatchesClass("ValueError") || !exc.MatchesClass("CustomError") {
		t.Error("custom exception must match itself and its builtin base")
	}
	if exc.MatchesClass("KeyError") {
		t.Error("matched an unrelated class")
	}
}

// ---------------------------------------------------------------------------
// Instantiation and __init__
// ---------------------------------------------------------------------------

func TestInstantiateWithInit(t *testing.T) {
	// class P: def __init__(self, x): self.x = x
	v := New()

	cb := NewCodeBuilder("__init__")
	bb := NewBytecodeBuilder()
	self := cb.Local("self")
	x := cb.Local("x")
	bb.EmitUint16(OpLoadFast, x)
	bb.EmitUint16(OpLoadFast, self)
	bb.EmitUint16(OpStoreAttr, cb.Name("x"))
	bb.EmitUint16(OpLoadConst, cb.Constant(None))
	bb.Emit(OpReturn)
	initFn := makeFn(v, cb.Args(2).Bytecode(bb.Bytes()).Build())

	classDict := NewDict()
	classDict.SetStr("__init__", NewFunctionValue(initFn))
	cls := NewType("P", nil, classDict)

	inst, err := v.instantiateClass(cls, []Value{FromInt(7)}, nil)
	if err != nil {
		t.Fatal(err)
	}
	got, err := v.getAttr(inst, "x")
	if err != nil || got != FromInt(7) {
		t.Errorf("p.x = %s, %v", Repr(got), err)
	}
}

func TestInstantiateWithoutInitRejectsArgs(t *testing.T) {
	v := New()
	cls := NewType("P", nil, NewDict())

	if _, err := v.instantiateClass(cls, nil, nil); err != nil {
		t.Fatalf("no-arg instantiation: %v", err)
	}
	_, err := v.instantiateClass(cls, []Value{FromInt(1)}, nil)
	wantRaised(t, err, "TypeError", "P() takes no arguments")
}

func TestInheritedMethodBinds(t *testing.T) {
	v := New()

	cb := NewCodeBuilder("name")
	bb := NewBytecodeBuilder()
	cb.Local("self")
	bb.EmitUint16(OpLoadConst, cb.Constant(NewStr("base")))
	bb.Emit(OpReturn)
	m := makeFn(v, cb.Args(1).Bytecode(bb.Bytes()).Build())

	baseDict := NewDict()
	baseDict.SetStr("name", NewFunctionValue(m))
	base := NewType("Base", nil, baseDict)
	child := NewType("Child", []*TypeObject{base}, NewDict())

	inst, err := v.instantiateClass(child, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	bound, err := v.getAttr(inst, "name")
	if err != nil {
		t.Fatal(err)
	}
	got, err := v.callValue(bound, nil, nil)
	if err != nil || got.StrVal() != "base" {
		t.Errorf("inst.name() = %s, %v", Repr(got), err)
	}
}

func TestInstanceDictShadowsClass(t *testing.T) {
	v := New()
	classDict := NewDict()
	classDict.SetStr("color", NewStr("red"))
	cls := NewType("C", nil, classDict)
	inst := NewInstanceValue(NewInstance(cls))

	if got, _ := v.getAttr(inst, "color"); got.StrVal() != "red" {
		t.Errorf("class attr = %s", Repr(got))
	}
	if err := v.setAttr(inst, "color", NewStr("blue")); err != nil {
		t.Fatal(err)
	}
	if got, _ := v.getAttr(inst, "color"); got.StrVal() != "blue" {
		t.Errorf("shadowed attr = %s", Repr(got))
	}
}

// ---------------------------------------------------------------------------
// __build_class__
// ---------------------------------------------------------------------------

func TestBuildClassFromBody(t *testing.T) {
	// class Greeter: greeting = 'hi'; def greet(self): return self.greeting
	v := New()

	mcb := NewCodeBuilder("greet")
	mbb := NewBytecodeBuilder()
	self := mcb.Local("self")
	mbb.EmitUint16(OpLoadFast, self)
	mbb.EmitUint16(OpLoadAttr, mcb.Name("greeting"))
	mbb.Emit(OpReturn)
	methodCode := mcb.Args(1).Bytecode(mbb.Bytes()).Build()

	bodyCb := NewCodeBuilder("Greeter")
	bodyBb := NewBytecodeBuilder()
	bodyBb.EmitUint16(OpLoadConst, bodyCb.Constant(NewStr("hi")))
	bodyBb.EmitUint16(OpStoreGlobal, bodyCb.Name("greeting"))
	bodyBb.EmitUint16(OpLoadConst, bodyCb.Constant(NewCodeValue(methodCode)))
	bodyBb.EmitUint16(OpMakeFunction, 0)
	bodyBb.EmitUint16(OpStoreGlobal, bodyCb.Name("greet"))
	bodyBb.EmitUint16(OpLoadConst, bodyCb.Constant(None))
	bodyBb.Emit(OpReturn)
	body := makeFn(v, bodyCb.Bytecode(bodyBb.Bytes()).Build())

	clsVal, err := builtinBuildClass(v, []Value{NewFunctionValue(body), NewStr("Greeter")})
	if err != nil {
		t.Fatal(err)
	}
	cls := clsVal.Object().Type
	if cls.Name != "Greeter" {
		t.Errorf("name = %s", cls.Name)
	}

	inst, err := v.instantiateClass(cls, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	bound, err := v.getAttr(inst, "greet")
	if err != nil {
		t.Fatal(err)
	}
	got, err := v.callValue(bound, nil, nil)
	if err != nil || got.StrVal() != "hi" {
		t.Errorf("greet() = %s, %v", Repr(got), err)
	}
}

func TestBuildClassRejectsNonClassBase(t *testing.T) {
	v := New()
	body := identityFn(v)
	_, err := builtinBuildClass(v,
		[]Value{NewFunctionValue(body), NewStr("C"), FromInt(3)})
	wantRaised(t, err, "TypeError", "bases must be classes")
}

// ---------------------------------------------------------------------------
// isinstance / type builtins
// ---------------------------------------------------------------------------

func TestIsinstanceBuiltin(t *testing.T) {
	v := New()
	isinst, _ := v.Builtins.GetStr("isinstance")

	base := NewType("Base", nil, NewDict())
	child := NewType("Child", []*TypeObject{base}, NewDict())
	inst, err := v.instantiateClass(child, nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	got, err := v.callValue(isinst, []Value{inst, NewTypeValue(base)}, nil)
	if err != nil || got != True {
		t.Errorf("isinstance(child, Base) = %s, %v", Repr(got), err)
	}
	other := NewType("Other", nil, NewDict())
	got, err = v.callValue(isinst, []Value{inst, NewTypeValue(other)}, nil)
	if err != nil || got != False {
		t.Errorf("isinstance(child, Other) = %s, %v", Repr(got), err)
	}

	// Tuples of classes match any member; exception instances match
	// through the builtin hierarchy.
	lookupErr, _ := v.Builtins.GetStr("LookupError")
	exc := NewExceptionValue(NewException("KeyError", ""))
	got, err = v.callValue(isinst,
		[]Value{exc, NewTuple([]Value{NewTypeValue(other), lookupErr})}, nil)
	if err != nil || got != True {
		t.Errorf("isinstance(KeyError(), (Other, LookupError)) = %s, %v", Repr(got), err)
	}
}

func TestIsinstanceBuiltinConstructors(t *testing.T) {
	// The builtin constructors stand in for their types as classinfo.
	v := New()
	isinst, _ := v.Builtins.GetStr("isinstance")

	tests := []struct {
		val   Value
		class string
		want  Value
	}{
		{FromInt(3), "int", True},
		{True, "int", True},
		{True, "bool", True},
		{FromInt(3), "bool", False},
		{FromFloat64(3.5), "float", True},
		{FromInt(3), "float", False},
		{NewStr("x"), "str", True},
		{FromInt(3), "str", False},
		{NewListValue(nil), "list", True},
		{NewTuple(nil), "tuple", True},
		{NewDictValue(NewDict()), "dict", True},
	}
	for _, tt := range tests {
		cls, _ := v.Builtins.GetStr(tt.class)
		got, err := v.callValue(isinst, []Value{tt.val, cls}, nil)
		if err != nil {
			t.Errorf("isinstance(%s, %s): %v", Repr(tt.val), tt.class, err)
			continue
		}
		if got != tt.want {
			t.Errorf("isinstance(%s, %s) = %s, want %s", Repr(tt.val), tt.class, Repr(got), Repr(tt.want))
		}
	}

	// A tuple may mix constructors and classes.
	strCls, _ := v.Builtins.GetStr("str")
	intCls, _ := v.Builtins.GetStr("int")
	got, err := v.callValue(isinst,
		[]Value{FromInt(7), NewTuple([]Value{strCls, intCls})}, nil)
	if err != nil || got != True {
		t.Errorf("isinstance(7, (str, int)) = %s, %v", Repr(got), err)
	}
}

func TestIsinstanceRejectsNonType(t *testing.T) {
	v := New()
	isinst, _ := v.Builtins.GetStr("isinstance")

	_, err := v.callValue(isinst, []Value{FromInt(3), FromInt(4)}, nil)
	wantRaised(t, err, "TypeError", "isinstance() arg 2 must be a type or tuple of types")

	// A non-type buried in a tuple is just as invalid.
	lenFn, _ := v.Builtins.GetStr("len")
	_, err = v.callValue(isinst,
		[]Value{FromInt(3), NewTuple([]Value{lenFn})}, nil)
	wantRaised(t, err, "TypeError", "a type or tuple of types")
}

func TestTypeBuiltinOnInstance(t *testing.T) {
	v := New()
	cls := NewType("C", nil, NewDict())
	inst, err := v.instantiateClass(cls, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	typeFn, _ := v.Builtins.GetStr("type")
	got, err := v.callValue(typeFn, []Value{inst}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got.Object().Type != cls {
		t.Errorf("type(c) = %s", Repr(got))
	}
}
