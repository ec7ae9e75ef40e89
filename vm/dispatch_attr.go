package vm

import "strings"

// ---------------------------------------------------------------------------
// Attribute access, method resolution, and subscription
// ---------------------------------------------------------------------------

// methodMarker is the sentinel pushed by LoadMethod when the resolved
// attribute is already bound (or not a plain function). CallMethod checks
// identity against it to pick the calling convention.
var methodMarker = Value(nanBits | tagSpecial | 3)

// Native method allow-lists. Attribute access on the builtin container
// types resolves only these names.
var strMethods = map[string]bool{
	"upper": true, "lower": true, "strip": true, "lstrip": true, "rstrip": true,
	"split": true, "join": true, "replace": true, "startswith": true,
	"endswith": true, "find": true, "format": true,
}

var listMethods = map[string]bool{
	"append": true, "extend": true, "insert": true, "remove": true, "pop": true,
	"clear": true, "index": true, "count": true, "sort": true, "reverse": true,
	"copy": true,
}

var dictMethods = map[string]bool{
	"keys": true, "values": true, "items": true, "get": true, "pop": true,
	"update": true, "clear": true, "copy": true, "setdefault": true,
	"popitem": true,
}

var generatorMethods = map[string]bool{
	"send": true, "throw": true, "close": true,
}

// getAttr resolves obj.name, binding class functions and native methods
// to their receiver.
func (vm *VirtualMachine) getAttr(obj Value, name string) (Value, error) {
	if !obj.IsObject() {
		return None, attributeErrorf("'%s' object has no attribute '%s'", TypeName(obj), name)
	}
	o := obj.Object()
	switch o.Kind {
	case KindInstance:
		if v, ok := o.Inst.Dict.GetStr(name); ok {
			return v, nil
		}
		if v, ok := o.Inst.Type.LookupMRO(name); ok {
			if v.isKind(KindFunction) {
				return NewBoundMethodValue(&BoundMethod{Receiver: obj, Fn: v.Object().Fn}), nil
			}
			return v, nil
		}
		return None, attributeErrorf("'%s' object has no attribute '%s'", o.Inst.Type.Name, name)

	case KindType:
		switch name {
		case "__name__":
			return NewStr(o.Type.Name), nil
		case "__qualname__":
			return NewStr(o.Type.Qualname), nil
		}
		if v, ok := o.Type.LookupMRO(name); ok {
			return v, nil
		}
		return None, attributeErrorf("type object '%s' has no attribute '%s'", o.Type.Name, name)

	case KindModule:
		if v, ok := o.Module.Dict.GetStr(name); ok {
			return v, nil
		}
		return None, attributeErrorf("module '%s' has no attribute '%s'", o.Module.Name, name)

	case KindException:
		switch name {
		case "args":
			return NewTuple(o.Exc.Args), nil
		case "__cause__":
			if o.Exc.Cause != nil {
				return NewExceptionValue(o.Exc.Cause), nil
			}
			return None, nil
		case "__context__":
			if o.Exc.Context != nil {
				return NewExceptionValue(o.Exc.Context), nil
			}
			return None, nil
		case "__suppress_context__":
			return FromBool(o.Exc.SuppressContext), nil
		}
		return None, attributeErrorf("'%s' object has no attribute '%s'", o.Exc.TypeName(), name)

	case KindStr:
		if strMethods[name] {
			return NewBoundMethodValue(&BoundMethod{Receiver: obj, Native: name}), nil
		}
		return None, attributeErrorf("'str' object has no attribute '%s'", name)

	case KindList:
		if listMethods[name] {
			return NewBoundMethodValue(&BoundMethod{Receiver: obj, Native: name}), nil
		}
		return None, attributeErrorf("'list' object has no attribute '%s'", name)

	case KindDict:
		if dictMethods[name] {
			return NewBoundMethodValue(&BoundMethod{Receiver: obj, Native: name}), nil
		}
		return None, attributeErrorf("'dict' object has no attribute '%s'", name)

	case KindGenerator, KindCoroutine:
		if generatorMethods[name] {
			return NewBoundMethodValue(&BoundMethod{Receiver: obj, Native: name}), nil
		}
		return None, attributeErrorf("'%s' object has no attribute '%s'", TypeName(obj), name)

	case KindFunction:
		switch name {
		case "__name__":
			return NewStr(o.Fn.Name), nil
		case "__qualname__":
			return NewStr(o.Fn.Qualname), nil
		case "__doc__":
			return o.Fn.Doc, nil
		}
	}
	return None, attributeErrorf("'%s' object has no attribute '%s'", TypeName(obj), name)
}

// loadMethodPair resolves obj.name for an immediately following call.
// Plain class functions stay unbound: the pair (function, receiver)
// avoids a bound-method allocation. Everything else returns
// (marker, callable).
func (vm *VirtualMachine) loadMethodPair(obj Value, name string) (Value, Value, error) {
	if obj.IsObject() && obj.Object().Kind == KindInstance {
		inst := obj.Object().Inst
		if _, inDict := inst.Dict.GetStr(name); !inDict {
			if v, ok := inst.Type.LookupMRO(name); ok && v.isKind(KindFunction) {
				return v, obj, nil
			}
		}
	}
	callable, err := vm.getAttr(obj, name)
	if err != nil {
		return None, None, err
	}
	return methodMarker, callable, nil
}

// setAttr assigns obj.name = value.
func (vm *VirtualMachine) setAttr(obj Value, name string, value Value) error {
	if obj.IsObject() {
		switch o := obj.Object(); o.Kind {
		case KindInstance:
			o.Inst.Dict.SetStr(name, value)
			return nil
		case KindType:
			o.Type.Dict.SetStr(name, value)
			return nil
		case KindModule:
			o.Module.Dict.SetStr(name, value)
			return nil
		}
	}
	return attributeErrorf("'%s' object has no settable attributes", TypeName(obj))
}

// delAttr removes obj.name.
func (vm *VirtualMachine) delAttr(obj Value, name string) error {
	if obj.IsObject() {
		switch o := obj.Object(); o.Kind {
		case KindInstance:
			if existed, err := o.Inst.Dict.Delete(NewStr(name)); err != nil {
				return err
			} else if !existed {
				return attributeErrorf("'%s' object has no attribute '%s'", o.Inst.Type.Name, name)
			}
			return nil
		case KindModule:
			if existed, err := o.Module.Dict.Delete(NewStr(name)); err != nil {
				return err
			} else if !existed {
				return attributeErrorf("module '%s' has no attribute '%s'", o.Module.Name, name)
			}
			return nil
		}
	}
	return attributeErrorf("'%s' object has no deletable attributes", TypeName(obj))
}

// ---------------------------------------------------------------------------
// Native methods on builtin containers
// ---------------------------------------------------------------------------

// callNativeMethod dispatches a str/list/dict/generator method by name.
func (vm *VirtualMachine) callNativeMethod(recv Value, name string, args []Value) (Value, error) {
	switch recv.Object().Kind {
	case KindStr:
		return callStrMethod(recv.StrVal(), name, args)
	case KindList:
		return callListMethod(recv.Object().List, name, args)
	case KindDict:
		return callDictMethod(recv.Object().Dict, name, args)
	case KindGenerator, KindCoroutine:
		return callGeneratorMethod(recv.Object().Gen, name, args)
	}
	return None, attributeErrorf("'%s' object has no attribute '%s'", TypeName(recv), name)
}

func callStrMethod(s, name string, args []Value) (Value, error) {
	needStr := func(i int) (string, error) {
		if i >= len(args) || !args[i].IsStr() {
			return "", typeErrorf("%s() argument must be str", name)
		}
		return args[i].StrVal(), nil
	}
	switch name {
	case "upper":
		return NewStr(strings.ToUpper(s)), nil
	case "lower":
		return NewStr(strings.ToLower(s)), nil
	case "strip":
		if len(args) == 1 {
			cut, err := needStr(0)
			if err != nil {
				return None, err
			}
			return NewStr(strings.Trim(s, cut)), nil
		}
		return NewStr(strings.TrimSpace(s)), nil
	case "lstrip":
		if len(args) == 1 {
			cut, err := needStr(0)
			if err != nil {
				return None, err
			}
			return NewStr(strings.TrimLeft(s, cut)), nil
		}
		return NewStr(strings.TrimLeft(s, " \t\n\r")), nil
	case "rstrip":
		if len(args) == 1 {
			cut, err := needStr(0)
			if err != nil {
				return None, err
			}
			return NewStr(strings.TrimRight(s, cut)), nil
		}
		return NewStr(strings.TrimRight(s, " \t\n\r")), nil
	case "split":
		var parts []string
		if len(args) == 0 {
			parts = strings.Fields(s)
		} else {
			sep, err := needStr(0)
			if err != nil {
				return None, err
			}
			if sep == "" {
				return None, valueErrorf("empty separator")
			}
			parts = strings.Split(s, sep)
		}
		items := make([]Value, len(parts))
		for i, p := range parts {
			items[i] = NewStr(p)
		}
		return NewListValue(items), nil
	case "join":
		if len(args) != 1 {
			return None, typeErrorf("join() takes exactly 1 argument (%d given)", len(args))
		}
		items, err := unpackIterable(args[0])
		if err != nil {
			return None, err
		}
		parts := make([]string, len(items))
		for i, v := range items {
			if !v.IsStr() {
				return None, typeErrorf("sequence item %d: expected str instance, %s found", i, TypeName(v))
			}
			parts[i] = v.StrVal()
		}
		return NewStr(strings.Join(parts, s)), nil
	case "replace":
		old, err := needStr(0)
		if err != nil {
			return None, err
		}
		repl, err := needStr(1)
		if err != nil {
			return None, err
		}
		return NewStr(strings.ReplaceAll(s, old, repl)), nil
	case "startswith":
		prefix, err := needStr(0)
		if err != nil {
			return None, err
		}
		return FromBool(strings.HasPrefix(s, prefix)), nil
	case "endswith":
		suffix, err := needStr(0)
		if err != nil {
			return None, err
		}
		return FromBool(strings.HasSuffix(s, suffix)), nil
	case "find":
		sub, err := needStr(0)
		if err != nil {
			return None, err
		}
		return FromInt(int64(strings.Index(s, sub))), nil
	case "format":
		return NewStr(formatStr(s, args)), nil
	}
	return None, attributeErrorf("'str' object has no attribute '%s'", name)
}

// formatStr substitutes {} and {N} placeholders with positional args.
func formatStr(s string, args []Value) string {
	var sb strings.Builder
	auto := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '{' {
			if i+1 < len(s) && s[i+1] == '{' {
				sb.WriteByte('{')
				i++
				continue
			}
			end := strings.IndexByte(s[i:], '}')
			if end < 0 {
				sb.WriteByte(s[i])
				continue
			}
			field := s[i+1 : i+end]
			idx := auto
			if field != "" {
				idx = 0
				for _, c := range field {
					if c < '0' || c > '9' {
						idx = -1
						break
					}
					idx = idx*10 + int(c-'0')
				}
			} else {
				auto++
			}
			if idx >= 0 && idx < len(args) {
				sb.WriteString(Str(args[idx]))
			}
			i += end
			continue
		}
		if s[i] == '}' && i+1 < len(s) && s[i+1] == '}' {
			sb.WriteByte('}')
			i++
			continue
		}
		sb.WriteByte(s[i])
	}
	return sb.String()
}

func callListMethod(l *List, name string, args []Value) (Value, error) {
	switch name {
	case "append":
		if len(args) != 1 {
			return None, typeErrorf("append() takes exactly 1 argument (%d given)", len(args))
		}
		l.Append(args[0])
		return None, nil
	case "extend":
		if len(args) != 1 {
			return None, typeErrorf("extend() takes exactly 1 argument (%d given)", len(args))
		}
		items, err := unpackIterable(args[0])
		if err != nil {
			return None, err
		}
		l.Extend(items)
		return None, nil
	case "insert":
		if len(args) != 2 {
			return None, typeErrorf("insert() takes exactly 2 arguments (%d given)", len(args))
		}
		idx, ok := intVal(args[0])
		if !ok {
			return None, typeErrorf("'%s' object cannot be interpreted as an integer", TypeName(args[0]))
		}
		l.Insert(idx, args[1])
		return None, nil
	case "remove":
		if len(args) != 1 {
			return None, typeErrorf("remove() takes exactly 1 argument (%d given)", len(args))
		}
		return None, l.Remove(args[0])
	case "pop":
		if len(args) > 1 {
			return None, typeErrorf("pop() takes at most 1 argument (%d given)", len(args))
		}
		var idx *int64
		if len(args) == 1 {
			n, ok := intVal(args[0])
			if !ok {
				return None, typeErrorf("'%s' object cannot be interpreted as an integer", TypeName(args[0]))
			}
			idx = &n
		}
		return l.Pop(idx)
	case "clear":
		l.Clear()
		return None, nil
	case "index":
		if len(args) != 1 {
			return None, typeErrorf("index() takes exactly 1 argument (%d given)", len(args))
		}
		i, err := l.Index(args[0])
		if err != nil {
			return None, err
		}
		return FromInt(int64(i)), nil
	case "count":
		if len(args) != 1 {
			return None, typeErrorf("count() takes exactly 1 argument (%d given)", len(args))
		}
		return FromInt(int64(l.Count(args[0]))), nil
	case "sort":
		return None, l.Sort()
	case "reverse":
		l.Reverse()
		return None, nil
	case "copy":
		return FromObject(&Object{Kind: KindList, List: l.Copy()}), nil
	}
	return None, attributeErrorf("'list' object has no attribute '%s'", name)
}

func callDictMethod(d *Dict, name string, args []Value) (Value, error) {
	switch name {
	case "keys":
		return NewListValue(d.Keys()), nil
	case "values":
		return NewListValue(d.Values()), nil
	case "items":
		return NewListValue(d.Items()), nil
	case "get":
		if len(args) < 1 || len(args) > 2 {
			return None, typeErrorf("get() takes 1 or 2 arguments (%d given)", len(args))
		}
		v, ok, err := d.GetItem(args[0])
		if err != nil {
			return None, err
		}
		if !ok {
			if len(args) == 2 {
				return args[1], nil
			}
			return None, nil
		}
		return v, nil
	case "pop":
		if len(args) < 1 || len(args) > 2 {
			return None, typeErrorf("pop() takes 1 or 2 arguments (%d given)", len(args))
		}
		var def *Value
		if len(args) == 2 {
			def = &args[1]
		}
		return d.Pop(args[0], def)
	case "update":
		if len(args) != 1 || !args[0].isKind(KindDict) {
			return None, typeErrorf("update() argument must be a dict")
		}
		d.Update(args[0].Object().Dict)
		return None, nil
	case "clear":
		d.Clear()
		return None, nil
	case "copy":
		return NewDictValue(d.Copy()), nil
	case "setdefault":
		if len(args) < 1 || len(args) > 2 {
			return None, typeErrorf("setdefault() takes 1 or 2 arguments (%d given)", len(args))
		}
		def := None
		if len(args) == 2 {
			def = args[1]
		}
		return d.SetDefault(args[0], def)
	case "popitem":
		k, v, err := d.PopItem()
		if err != nil {
			return None, err
		}
		return NewTuple([]Value{k, v}), nil
	}
	return None, attributeErrorf("'dict' object has no attribute '%s'", name)
}

func callGeneratorMethod(g *Generator, name string, args []Value) (Value, error) {
	switch name {
	case "send":
		if len(args) != 1 {
			return None, typeErrorf("send() takes exactly 1 argument (%d given)", len(args))
		}
		return g.Send(args[0])
	case "throw":
		if len(args) != 1 {
			return None, typeErrorf("throw() takes exactly 1 argument (%d given)", len(args))
		}
		exc, err := toException(args[0])
		if err != nil {
			return None, err
		}
		return g.Throw(exc)
	case "close":
		return None, g.Close()
	}
	return None, attributeErrorf("'generator' object has no attribute '%s'", name)
}

// ---------------------------------------------------------------------------
// Subscription
// ---------------------------------------------------------------------------

// normalizeIndex maps a possibly negative index into [0, n).
func normalizeIndex(idx int64, n int) (int, bool) {
	if idx < 0 {
		idx += int64(n)
	}
	if idx < 0 || idx >= int64(n) {
		return 0, false
	}
	return int(idx), true
}

// sliceBounds resolves a slice against a sequence length.
func sliceBounds(s *SliceObject, n int) (start, stop, step int, err error) {
	step = 1
	if s.Step != None {
		st, ok := intVal(s.Step)
		if !ok {
			return 0, 0, 0, typeErrorf("slice indices must be integers or None")
		}
		if st == 0 {
			return 0, 0, 0, valueErrorf("slice step cannot be zero")
		}
		step = int(st)
	}
	clamp := func(v int64, lo, hi int) int {
		if v < int64(lo) {
			return lo
		}
		if v > int64(hi) {
			return hi
		}
		return int(v)
	}
	if step > 0 {
		start, stop = 0, n
	} else {
		start, stop = n-1, -1
	}
	if s.Start != None {
		v, ok := intVal(s.Start)
		if !ok {
			return 0, 0, 0, typeErrorf("slice indices must be integers or None")
		}
		if v < 0 {
			v += int64(n)
		}
		if step > 0 {
			start = clamp(v, 0, n)
		} else {
			start = clamp(v, -1, n-1)
		}
	}
	if s.Stop != None {
		v, ok := intVal(s.Stop)
		if !ok {
			return 0, 0, 0, typeErrorf("slice indices must be integers or None")
		}
		if v < 0 {
			v += int64(n)
		}
		if step > 0 {
			stop = clamp(v, 0, n)
		} else {
			stop = clamp(v, -1, n-1)
		}
	}
	return start, stop, step, nil
}

func sliceValues(items []Value, s *SliceObject) ([]Value, error) {
	start, stop, step, err := sliceBounds(s, len(items))
	if err != nil {
		return nil, err
	}
	var out []Value
	if step > 0 {
		for i := start; i < stop; i += step {
			out = append(out, items[i])
		}
	} else {
		for i := start; i > stop; i += step {
			out = append(out, items[i])
		}
	}
	return out, nil
}

// loadSubscr implements obj[idx].
func (vm *VirtualMachine) loadSubscr(obj, idx Value) (Value, error) {
	if !obj.IsObject() {
		return None, typeErrorf("'%s' object is not subscriptable", TypeName(obj))
	}
	o := obj.Object()
	switch o.Kind {
	case KindList:
		if idx.isKind(KindSlice) {
			out, err := sliceValues(o.List.Items(), idx.Object().Slice)
			if err != nil {
				return None, err
			}
			return NewListValue(out), nil
		}
		n, ok := intVal(idx)
		if !ok {
			return None, typeErrorf("list indices must be integers or slices, not %s", TypeName(idx))
		}
		i, inRange := normalizeIndex(n, o.List.Len())
		if !inRange {
			return None, indexErrorf("list index out of range")
		}
		return o.List.Get(i), nil

	case KindTuple:
		if idx.isKind(KindSlice) {
			out, err := sliceValues(o.Tuple, idx.Object().Slice)
			if err != nil {
				return None, err
			}
			return NewTuple(out), nil
		}
		n, ok := intVal(idx)
		if !ok {
			return None, typeErrorf("tuple indices must be integers or slices, not %s", TypeName(idx))
		}
		i, inRange := normalizeIndex(n, len(o.Tuple))
		if !inRange {
			return None, indexErrorf("tuple index out of range")
		}
		return o.Tuple[i], nil

	case KindStr:
		runes := []rune(o.Str)
		if idx.isKind(KindSlice) {
			start, stop, step, err := sliceBounds(idx.Object().Slice, len(runes))
			if err != nil {
				return None, err
			}
			var sb strings.Builder
			if step > 0 {
				for i := start; i < stop; i += step {
					sb.WriteRune(runes[i])
				}
			} else {
				for i := start; i > stop; i += step {
					sb.WriteRune(runes[i])
				}
			}
			return NewStr(sb.String()), nil
		}
		n, ok := intVal(idx)
		if !ok {
			return None, typeErrorf("string indices must be integers, not %s", TypeName(idx))
		}
		i, inRange := normalizeIndex(n, len(runes))
		if !inRange {
			return None, indexErrorf("string index out of range")
		}
		return NewStr(string(runes[i])), nil

	case KindBytes:
		n, ok := intVal(idx)
		if !ok {
			return None, typeErrorf("byte indices must be integers, not %s", TypeName(idx))
		}
		i, inRange := normalizeIndex(n, len(o.Bytes))
		if !inRange {
			return None, indexErrorf("index out of range")
		}
		return FromInt(int64(o.Bytes[i])), nil

	case KindDict:
		v, ok, err := o.Dict.GetItem(idx)
		if err != nil {
			return None, err
		}
		if !ok {
			return None, keyErrorf("%s", Repr(idx))
		}
		return v, nil
	}
	return None, typeErrorf("'%s' object is not subscriptable", TypeName(obj))
}

// storeSubscr implements obj[idx] = value.
func (vm *VirtualMachine) storeSubscr(obj, idx, value Value) error {
	if obj.IsObject() {
		switch o := obj.Object(); o.Kind {
		case KindList:
			n, ok := intVal(idx)
			if !ok {
				return typeErrorf("list indices must be integers or slices, not %s", TypeName(idx))
			}
			i, inRange := normalizeIndex(n, o.List.Len())
			if !inRange {
				return indexErrorf("list assignment index out of range")
			}
			o.List.Set(i, value)
			return nil
		case KindDict:
			return o.Dict.SetItem(idx, value)
		}
	}
	return typeErrorf("'%s' object does not support item assignment", TypeName(obj))
}

// delSubscr implements del obj[idx].
func (vm *VirtualMachine) delSubscr(obj, idx Value) error {
	if obj.IsObject() {
		switch o := obj.Object(); o.Kind {
		case KindList:
			n, ok := intVal(idx)
			if !ok {
				return typeErrorf("list indices must be integers or slices, not %s", TypeName(idx))
			}
			i, inRange := normalizeIndex(n, o.List.Len())
			if !inRange {
				return indexErrorf("list assignment index out of range")
			}
			pos := int64(i)
			_, err := o.List.Pop(&pos)
			return err
		case KindDict:
			existed, err := o.Dict.Delete(idx)
			if err != nil {
				return err
			}
			if !existed {
				return keyErrorf("%s", Repr(idx))
			}
			return nil
		}
	}
	return typeErrorf("'%s' object doesn't support item deletion", TypeName(obj))
}
