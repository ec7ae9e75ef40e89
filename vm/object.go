package vm

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// Heap objects
// ---------------------------------------------------------------------------

// ObjectKind discriminates the heap object variants. The set is closed:
// every kind must be handled by Truthy, Equal, TypeName, Repr, and the
// dispatcher's attribute/arithmetic paths.
type ObjectKind uint8

const (
	KindStr ObjectKind = iota
	KindBytes
	KindList
	KindTuple
	KindSet
	KindDict
	KindFunction
	KindBuiltin
	KindBoundMethod
	KindType
	KindInstance
	KindModule
	KindException
	KindCode
	KindGenerator
	KindCoroutine
	KindIterator
	KindSlice
)

// Object is a heap-allocated value. Exactly one field besides Kind is
// populated, selected by Kind. Containers are shared and mutably aliased:
// every Value holding this object sees mutations through any alias.
type Object struct {
	Kind ObjectKind

	Str    string
	Bytes  []byte
	List   *List
	Tuple  []Value
	Set    *Set
	Dict   *Dict
	Fn     *Function
	Bltn   *Builtin
	Method *BoundMethod
	Type   *TypeObject
	Inst   *Instance
	Module *Module
	Exc    *Exception
	Code   *CodeObject
	Gen    *Generator
	Iter   *Iterator
	Slice  *SliceObject
}

// Constructors. Each returns a registered Value.

func NewStr(s string) Value   { return FromObject(&Object{Kind: KindStr, Str: s}) }
func NewBytes(b []byte) Value { return FromObject(&Object{Kind: KindBytes, Bytes: b}) }
func NewListValue(vs []Value) Value {
	return FromObject(&Object{Kind: KindList, List: &List{items: vs}})
}
func NewTuple(vs []Value) Value  { return FromObject(&Object{Kind: KindTuple, Tuple: vs}) }
func NewSetValue(s *Set) Value   { return FromObject(&Object{Kind: KindSet, Set: s}) }
func NewDictValue(d *Dict) Value { return FromObject(&Object{Kind: KindDict, Dict: d}) }
func NewFunctionValue(f *Function) Value {
	return FromObject(&Object{Kind: KindFunction, Fn: f})
}
func NewBuiltinValue(b *Builtin) Value {
	return FromObject(&Object{Kind: KindBuiltin, Bltn: b})
}
func NewBoundMethodValue(m *BoundMethod) Value {
	return FromObject(&Object{Kind: KindBoundMethod, Method: m})
}
func NewTypeValue(t *TypeObject) Value { return FromObject(&Object{Kind: KindType, Type: t}) }
func NewInstanceValue(i *Instance) Value {
	return FromObject(&Object{Kind: KindInstance, Inst: i})
}
func NewModuleValue(m *Module) Value { return FromObject(&Object{Kind: KindModule, Module: m}) }
func NewExceptionValue(e *Exception) Value {
	return FromObject(&Object{Kind: KindException, Exc: e})
}
func NewCodeValue(c *CodeObject) Value { return FromObject(&Object{Kind: KindCode, Code: c}) }
func NewGeneratorValue(g *Generator) Value {
	return FromObject(&Object{Kind: KindGenerator, Gen: g})
}
func NewCoroutineValue(g *Generator) Value {
	return FromObject(&Object{Kind: KindCoroutine, Gen: g})
}
func NewIteratorValue(it *Iterator) Value {
	return FromObject(&Object{Kind: KindIterator, Iter: it})
}
func NewSliceValue(s *SliceObject) Value {
	return FromObject(&Object{Kind: KindSlice, Slice: s})
}

// isKind reports whether v is a heap object of the given kind.
func (v Value) isKind(k ObjectKind) bool {
	return v.IsObject() && v.Object().Kind == k
}

// IsStr returns true if v is a text object.
func (v Value) IsStr() bool { return v.isKind(KindStr) }

// StrVal returns the string payload. Panics if v is not a str.
func (v Value) StrVal() string {
	if !v.IsStr() {
		panic("Value.StrVal: not a str")
	}
	return v.Object().Str
}

// SliceObject represents a slice with optional bounds.
type SliceObject struct {
	Start, Stop, Step Value // None when absent
}

// ---------------------------------------------------------------------------
// Iterator: a materialized sequence cursor (GetIter over containers)
// ---------------------------------------------------------------------------

// Iterator walks a snapshot of a container's elements. Generators are their
// own iterators and never use this type.
type Iterator struct {
	items []Value
	pos   int
}

// NewIterator creates an iterator over the given elements.
func NewIterator(items []Value) *Iterator {
	return &Iterator{items: items}
}

// Next returns the next element, or false when exhausted.
func (it *Iterator) Next() (Value, bool) {
	if it.pos >= len(it.items) {
		return None, false
	}
	v := it.items[it.pos]
	it.pos++
	return v, true
}

// ---------------------------------------------------------------------------
// Hashable keys for dicts and sets
// ---------------------------------------------------------------------------

type keyKind uint8

const (
	keyNone keyKind = iota
	keyBool
	keyInt
	keyFloat
	keyStr
	keyTuple
)

// Key is the hashable subset of values, usable as a Go map key.
type Key struct {
	kind keyKind
	i    int64
	f    float64
	s    string
}

// KeyFor converts a value to a hashable Key. Unhashable kinds (lists,
// dicts, sets) fail with a TypeError.
func KeyFor(v Value) (Key, error) {
	switch {
	case v == None:
		return Key{kind: keyNone}, nil
	case v == True:
		return Key{kind: keyBool, i: 1}, nil
	case v == False:
		return Key{kind: keyBool, i: 0}, nil
	case v.IsInt():
		return Key{kind: keyInt, i: v.Int()}, nil
	case v.IsFloat():
		return Key{kind: keyFloat, f: v.Float64()}, nil
	case v.IsStr():
		return Key{kind: keyStr, s: v.StrVal()}, nil
	case v.isKind(KindTuple):
		// Tuples hash by the joined representation of element keys.
		var sb strings.Builder
		for _, el := range v.Object().Tuple {
			k, err := KeyFor(el)
			if err != nil {
				return Key{}, err
			}
			fmt.Fprintf(&sb, "%d:%d:%g:%q;", k.kind, k.i, k.f, k.s)
		}
		return Key{kind: keyTuple, s: sb.String()}, nil
	default:
		return Key{}, typeErrorf("unhashable type: '%s'", TypeName(v))
	}
}

// Value converts a key back to a display value (used by dict.popitem and
// keys listings when only the key survives).
func (k Key) Value() Value {
	switch k.kind {
	case keyNone:
		return None
	case keyBool:
		return FromBool(k.i == 1)
	case keyInt:
		return FromInt(k.i)
	case keyFloat:
		return FromFloat64(k.f)
	case keyStr:
		return NewStr(k.s)
	default:
		return NewStr(k.s)
	}
}

// ---------------------------------------------------------------------------
// List
// ---------------------------------------------------------------------------

// List is a mutable ordered sequence.
type List struct {
	items []Value
}

// NewList creates a list from the given elements.
func NewList(items []Value) *List {
	return &List{items: items}
}

func (l *List) Len() int           { return len(l.items) }
func (l *List) Items() []Value     { return l.items }
func (l *List) Get(i int) Value    { return l.items[i] }
func (l *List) Set(i int, v Value) { l.items[i] = v }
func (l *List) Append(v Value)     { l.items = append(l.items, v) }
func (l *List) Extend(vs []Value)  { l.items = append(l.items, vs...) }
func (l *List) Clear()             { l.items = l.items[:0] }
func (l *List) Reverse() {
	for i, j := 0, len(l.items)-1; i < j; i, j = i+1, j-1 {
		l.items[i], l.items[j] = l.items[j], l.items[i]
	}
}

// Insert inserts v before index i, clamping i to the valid range.
func (l *List) Insert(i int64, v Value) {
	n := int64(len(l.items))
	if i < 0 {
		i += n
		if i < 0 {
			i = 0
		}
	}
	if i > n {
		i = n
	}
	l.items = append(l.items, None)
	copy(l.items[i+1:], l.items[i:])
	l.items[i] = v
}

// Remove removes the first element equal to v.
func (l *List) Remove(v Value) error {
	for i, el := range l.items {
		if Equal(el, v) {
			l.items = append(l.items[:i], l.items[i+1:]...)
			return nil
		}
	}
	return valueErrorf("list.remove(x): x not in list")
}

// Pop removes and returns the element at index i (nil index = last).
func (l *List) Pop(i *int64) (Value, error) {
	n := int64(len(l.items))
	if n == 0 {
		return None, indexErrorf("pop from empty list")
	}
	idx := n - 1
	if i != nil {
		idx = *i
		if idx < 0 {
			idx += n
		}
	}
	if idx < 0 || idx >= n {
		return None, indexErrorf("pop index out of range")
	}
	v := l.items[idx]
	l.items = append(l.items[:idx], l.items[idx+1:]...)
	return v, nil
}

// Index returns the position of the first element equal to v.
func (l *List) Index(v Value) (int, error) {
	for i, el := range l.items {
		if Equal(el, v) {
			return i, nil
		}
	}
	return 0, valueErrorf("%s is not in list", Repr(v))
}

// Count returns how many elements equal v.
func (l *List) Count(v Value) int {
	n := 0
	for _, el := range l.items {
		if Equal(el, v) {
			n++
		}
	}
	return n
}

// Copy returns a shallow copy.
func (l *List) Copy() *List {
	items := make([]Value, len(l.items))
	copy(items, l.items)
	return &List{items: items}
}

// Sort orders the elements in place. Mixed int/float sorts numerically;
// homogeneous strings sort lexically; anything else is a TypeError.
func (l *List) Sort() error {
	numeric, textual := true, true
	for _, el := range l.items {
		if !el.IsInt() && !el.IsFloat() {
			numeric = false
		}
		if !el.IsStr() {
			textual = false
		}
	}
	switch {
	case numeric:
		sort.SliceStable(l.items, func(i, j int) bool {
			return asFloat(l.items[i]) < asFloat(l.items[j])
		})
	case textual:
		sort.SliceStable(l.items, func(i, j int) bool {
			return l.items[i].StrVal() < l.items[j].StrVal()
		})
	default:
		return typeErrorf("'<' not supported between mixed element types")
	}
	return nil
}

// ---------------------------------------------------------------------------
// Dict
// ---------------------------------------------------------------------------

type dictEntry struct {
	key   Value
	value Value
}

// Dict is a mutable hash map preserving insertion order.
type Dict struct {
	entries map[Key]dictEntry
	order   []Key
}

// NewDict creates an empty dict.
func NewDict() *Dict {
	return &Dict{entries: make(map[Key]dictEntry)}
}

func (d *Dict) Len() int { return len(d.order) }

// SetItem inserts or replaces the entry for key.
func (d *Dict) SetItem(key Value, value Value) error {
	k, err := KeyFor(key)
	if err != nil {
		return err
	}
	if _, exists := d.entries[k]; !exists {
		d.order = append(d.order, k)
	}
	d.entries[k] = dictEntry{key: key, value: value}
	return nil
}

// SetStr inserts a string-keyed entry (no error path).
func (d *Dict) SetStr(key string, value Value) {
	k := Key{kind: keyStr, s: key}
	if _, exists := d.entries[k]; !exists {
		d.order = append(d.order, k)
	}
	d.entries[k] = dictEntry{key: NewStr(key), value: value}
}

// GetItem returns the value for key, or false if absent.
func (d *Dict) GetItem(key Value) (Value, bool, error) {
	k, err := KeyFor(key)
	if err != nil {
		return None, false, err
	}
	e, ok := d.entries[k]
	if !ok {
		return None, false, nil
	}
	return e.value, true, nil
}

// GetStr returns the value for a string key, or false if absent.
func (d *Dict) GetStr(key string) (Value, bool) {
	e, ok := d.entries[Key{kind: keyStr, s: key}]
	if !ok {
		return None, false
	}
	return e.value, true
}

// Delete removes the entry for key, reporting whether it existed.
func (d *Dict) Delete(key Value) (bool, error) {
	k, err := KeyFor(key)
	if err != nil {
		return false, err
	}
	if _, ok := d.entries[k]; !ok {
		return false, nil
	}
	delete(d.entries, k)
	for i, ord := range d.order {
		if ord == k {
			d.order = append(d.order[:i], d.order[i+1:]...)
			break
		}
	}
	return true, nil
}

// Pop removes and returns the value for key; def (may be nil) is returned
// when absent, otherwise absence is a KeyError.
func (d *Dict) Pop(key Value, def *Value) (Value, error) {
	k, err := KeyFor(key)
	if err != nil {
		return None, err
	}
	e, ok := d.entries[k]
	if !ok {
		if def != nil {
			return *def, nil
		}
		return None, keyErrorf("%s", Repr(key))
	}
	delete(d.entries, k)
	for i, ord := range d.order {
		if ord == k {
			d.order = append(d.order[:i], d.order[i+1:]...)
			break
		}
	}
	return e.value, nil
}

// PopItem removes and returns the most recently inserted pair.
func (d *Dict) PopItem() (Value, Value, error) {
	if len(d.order) == 0 {
		return None, None, keyErrorf("popitem(): dictionary is empty")
	}
	k := d.order[len(d.order)-1]
	e := d.entries[k]
	delete(d.entries, k)
	d.order = d.order[:len(d.order)-1]
	return e.key, e.value, nil
}

// SetDefault returns the value for key, inserting def first if absent.
func (d *Dict) SetDefault(key Value, def Value) (Value, error) {
	k, err := KeyFor(key)
	if err != nil {
		return None, err
	}
	if e, ok := d.entries[k]; ok {
		return e.value, nil
	}
	d.order = append(d.order, k)
	d.entries[k] = dictEntry{key: key, value: def}
	return def, nil
}

// Update copies all entries from other into d.
func (d *Dict) Update(other *Dict) {
	for _, k := range other.order {
		e := other.entries[k]
		if _, exists := d.entries[k]; !exists {
			d.order = append(d.order, k)
		}
		d.entries[k] = e
	}
}

// Clear removes all entries.
func (d *Dict) Clear() {
	d.entries = make(map[Key]dictEntry)
	d.order = nil
}

// Copy returns a shallow copy.
func (d *Dict) Copy() *Dict {
	c := NewDict()
	c.Update(d)
	return c
}

// Keys returns the keys in insertion order.
func (d *Dict) Keys() []Value {
	out := make([]Value, 0, len(d.order))
	for _, k := range d.order {
		out = append(out, d.entries[k].key)
	}
	return out
}

// Values returns the values in insertion order.
func (d *Dict) Values() []Value {
	out := make([]Value, 0, len(d.order))
	for _, k := range d.order {
		out = append(out, d.entries[k].value)
	}
	return out
}

// Items returns (key, value) tuples in insertion order.
func (d *Dict) Items() []Value {
	out := make([]Value, 0, len(d.order))
	for _, k := range d.order {
		e := d.entries[k]
		out = append(out, NewTuple([]Value{e.key, e.value}))
	}
	return out
}

// Contains reports key presence.
func (d *Dict) Contains(key Value) (bool, error) {
	k, err := KeyFor(key)
	if err != nil {
		return false, err
	}
	_, ok := d.entries[k]
	return ok, nil
}

// ---------------------------------------------------------------------------
// Set
// ---------------------------------------------------------------------------

// Set is a mutable hash set preserving insertion order.
type Set struct {
	entries map[Key]Value
	order   []Key
}

// NewSet creates an empty set.
func NewSet() *Set {
	return &Set{entries: make(map[Key]Value)}
}

func (s *Set) Len() int { return len(s.order) }

// Add inserts v into the set.
func (s *Set) Add(v Value) error {
	k, err := KeyFor(v)
	if err != nil {
		return err
	}
	if _, exists := s.entries[k]; !exists {
		s.order = append(s.order, k)
		s.entries[k] = v
	}
	return nil
}

// Contains reports membership.
func (s *Set) Contains(v Value) (bool, error) {
	k, err := KeyFor(v)
	if err != nil {
		return false, err
	}
	_, ok := s.entries[k]
	return ok, nil
}

// Items returns the elements in insertion order.
func (s *Set) Items() []Value {
	out := make([]Value, 0, len(s.order))
	for _, k := range s.order {
		out = append(out, s.entries[k])
	}
	return out
}

// ---------------------------------------------------------------------------
// Module
// ---------------------------------------------------------------------------

// Module is a named attribute namespace. Modules live in the process-wide
// import cache: created on first import, alive for the process lifetime.
type Module struct {
	Name        string
	Dict        *Dict
	Initialized bool
}

// NewModule creates an empty module with the standard dunder attributes.
func NewModule(name string) *Module {
	m := &Module{Name: name, Dict: NewDict()}
	m.Dict.SetStr("__name__", NewStr(name))
	m.Dict.SetStr("__doc__", None)
	m.Dict.SetStr("__package__", NewStr(""))
	m.Dict.SetStr("__loader__", NewStr("<built-in>"))
	m.Dict.SetStr("__spec__", None)
	return m
}

// ---------------------------------------------------------------------------
// Truthiness, equality, type names
// ---------------------------------------------------------------------------

// Truthy reports whether v is considered true in conditionals: False,
// None, numeric zero, and empty text/containers are falsy.
func Truthy(v Value) bool {
	switch {
	case v == False, v == None:
		return false
	case v == True:
		return true
	case v.IsInt():
		return v.Int() != 0
	case v.IsFloat():
		return v.Float64() != 0
	case v.IsObject():
		obj := v.Object()
		switch obj.Kind {
		case KindStr:
			return len(obj.Str) > 0
		case KindBytes:
			return len(obj.Bytes) > 0
		case KindList:
			return obj.List.Len() > 0
		case KindTuple:
			return len(obj.Tuple) > 0
		case KindSet:
			return obj.Set.Len() > 0
		case KindDict:
			return obj.Dict.Len() > 0
		default:
			return true
		}
	default:
		return true
	}
}

// Equal reports value equality: numeric equality across int/float,
// structural equality for containers, identity for everything else.
func Equal(a, b Value) bool {
	if a == b {
		return true
	}
	aNum := a.IsInt() || a.IsFloat() || a.IsBool()
	bNum := b.IsInt() || b.IsFloat() || b.IsBool()
	if aNum && bNum {
		return asFloat(a) == asFloat(b)
	}
	if !a.IsObject() || !b.IsObject() {
		return false
	}
	ao, bo := a.Object(), b.Object()
	if ao.Kind != bo.Kind {
		return false
	}
	switch ao.Kind {
	case KindStr:
		return ao.Str == bo.Str
	case KindBytes:
		return string(ao.Bytes) == string(bo.Bytes)
	case KindTuple:
		return equalSlices(ao.Tuple, bo.Tuple)
	case KindList:
		return equalSlices(ao.List.Items(), bo.List.Items())
	case KindDict:
		if ao.Dict.Len() != bo.Dict.Len() {
			return false
		}
		for _, k := range ao.Dict.order {
			be, ok := bo.Dict.entries[k]
			if !ok || !Equal(ao.Dict.entries[k].value, be.value) {
				return false
			}
		}
		return true
	case KindSet:
		if ao.Set.Len() != bo.Set.Len() {
			return false
		}
		for k := range ao.Set.entries {
			if _, ok := bo.Set.entries[k]; !ok {
				return false
			}
		}
		return true
	default:
		return ao == bo
	}
}

func equalSlices(a, b []Value) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !Equal(a[i], b[i]) {
			return false
		}
	}
	return true
}

// asFloat converts a numeric or boolean value to float64 for mixed-mode
// comparison. Callers must ensure v is numeric.
func asFloat(v Value) float64 {
	switch {
	case v.IsInt():
		return float64(v.Int())
	case v.IsFloat():
		return v.Float64()
	case v == True:
		return 1
	default:
		return 0
	}
}

// TypeName returns the language-level type name of v for error messages.
func TypeName(v Value) string {
	switch {
	case v == None:
		return "NoneType"
	case v.IsBool():
		return "bool"
	case v.IsInt():
		return "int"
	case v.IsFloat():
		return "float"
	case v.IsCell():
		return "cell"
	case v.IsObject():
		obj := v.Object()
		switch obj.Kind {
		case KindStr:
			return "str"
		case KindBytes:
			return "bytes"
		case KindList:
			return "list"
		case KindTuple:
			return "tuple"
		case KindSet:
			return "set"
		case KindDict:
			return "dict"
		case KindFunction:
			return "function"
		case KindBuiltin:
			return "builtin_function_or_method"
		case KindBoundMethod:
			return "method"
		case KindType:
			return "type"
		case KindInstance:
			return obj.Inst.Type.Name
		case KindModule:
			return "module"
		case KindException:
			return obj.Exc.TypeName()
		case KindCode:
			return "code"
		case KindGenerator:
			return "generator"
		case KindCoroutine:
			return "coroutine"
		case KindIterator:
			return "iterator"
		case KindSlice:
			return "slice"
		}
	}
	return "object"
}

// ---------------------------------------------------------------------------
// Display
// ---------------------------------------------------------------------------

// Str renders v the way str() does: text unquoted, everything else as Repr.
func Str(v Value) string {
	if v.IsStr() {
		return v.StrVal()
	}
	return Repr(v)
}

// Repr renders v the way repr() does.
func Repr(v Value) string {
	switch {
	case v == None:
		return "None"
	case v == True:
		return "True"
	case v == False:
		return "False"
	case v.IsInt():
		return strconv.FormatInt(v.Int(), 10)
	case v.IsFloat():
		f := v.Float64()
		s := strconv.FormatFloat(f, 'g', -1, 64)
		// Match the source language: whole floats keep a trailing ".0".
		if !strings.ContainsAny(s, ".eE") && !strings.Contains(s, "inf") && !strings.Contains(s, "NaN") {
			s += ".0"
		}
		return s
	case v.IsObject():
		obj := v.Object()
		switch obj.Kind {
		case KindStr:
			return quoteStr(obj.Str)
		case KindBytes:
			return "b" + quoteStr(string(obj.Bytes))
		case KindList:
			return joinRepr(obj.List.Items(), "[", "]")
		case KindTuple:
			if len(obj.Tuple) == 1 {
				return "(" + Repr(obj.Tuple[0]) + ",)"
			}
			return joinRepr(obj.Tuple, "(", ")")
		case KindSet:
			if obj.Set.Len() == 0 {
				return "set()"
			}
			return joinRepr(obj.Set.Items(), "{", "}")
		case KindDict:
			var sb strings.Builder
			sb.WriteByte('{')
			for i, k := range obj.Dict.order {
				if i > 0 {
					sb.WriteString(", ")
				}
				e := obj.Dict.entries[k]
				sb.WriteString(Repr(e.key))
				sb.WriteString(": ")
				sb.WriteString(Repr(e.value))
			}
			sb.WriteByte('}')
			return sb.String()
		case KindFunction:
			return fmt.Sprintf("<function %s>", obj.Fn.Qualname)
		case KindBuiltin:
			return fmt.Sprintf("<built-in function %s>", obj.Bltn.Name)
		case KindBoundMethod:
			return fmt.Sprintf("<bound method %s>", obj.Method.Name())
		case KindType:
			return fmt.Sprintf("<class '%s'>", obj.Type.Name)
		case KindInstance:
			return fmt.Sprintf("<%s object>", obj.Inst.Type.Name)
		case KindModule:
			return fmt.Sprintf("<module '%s'>", obj.Module.Name)
		case KindException:
			if obj.Exc.Message == "" {
				return obj.Exc.TypeName() + "()"
			}
			return fmt.Sprintf("%s(%s)", obj.Exc.TypeName(), quoteStr(obj.Exc.Message))
		case KindCode:
			return fmt.Sprintf("<code object %s>", obj.Code.Name)
		case KindGenerator:
			return fmt.Sprintf("<generator object %s>", obj.Gen.Qualname)
		case KindCoroutine:
			return fmt.Sprintf("<coroutine object %s>", obj.Gen.Qualname)
		case KindIterator:
			return "<iterator>"
		case KindSlice:
			return fmt.Sprintf("slice(%s, %s, %s)", Repr(obj.Slice.Start), Repr(obj.Slice.Stop), Repr(obj.Slice.Step))
		}
	}
	return "<value>"
}

// quoteStr renders a string the way repr() quotes it: single quotes,
// switching to double quotes when the text contains a single quote but
// no double quote.
func quoteStr(s string) string {
	quote := '\''
	if strings.ContainsRune(s, '\'') && !strings.ContainsRune(s, '"') {
		quote = '"'
	}
	var sb strings.Builder
	sb.WriteRune(quote)
	for _, r := range s {
		switch r {
		case '\\':
			sb.WriteString(`\\`)
		case quote:
			sb.WriteRune('\\')
			sb.WriteRune(r)
		case '\n':
			sb.WriteString(`\n`)
		case '\r':
			sb.WriteString(`\r`)
		case '\t':
			sb.WriteString(`\t`)
		default:
			sb.WriteRune(r)
		}
	}
	sb.WriteRune(quote)
	return sb.String()
}

func joinRepr(items []Value, open, close string) string {
	var sb strings.Builder
	sb.WriteString(open)
	for i, el := range items {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(Repr(el))
	}
	sb.WriteString(close)
	return sb.String()
}
