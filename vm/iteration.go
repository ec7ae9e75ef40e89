package vm

// ---------------------------------------------------------------------------
// Iteration protocol
// ---------------------------------------------------------------------------

// getIter returns an iterator for a value. Containers iterate over a
// snapshot of their current elements; generators are their own iterator.
func (vm *VirtualMachine) getIter(v Value) (Value, error) {
	if v.IsObject() {
		obj := v.Object()
		switch obj.Kind {
		case KindIterator, KindGenerator, KindCoroutine:
			return v, nil
		case KindList:
			items := make([]Value, obj.List.Len())
			copy(items, obj.List.Items())
			return NewIteratorValue(NewIterator(items)), nil
		case KindTuple:
			return NewIteratorValue(NewIterator(obj.Tuple)), nil
		case KindStr:
			runes := []rune(obj.Str)
			items := make([]Value, len(runes))
			for i, r := range runes {
				items[i] = NewStr(string(r))
			}
			return NewIteratorValue(NewIterator(items)), nil
		case KindSet:
			return NewIteratorValue(NewIterator(obj.Set.Items())), nil
		case KindDict:
			return NewIteratorValue(NewIterator(obj.Dict.Keys())), nil
		}
	}
	return None, typeErrorf("'%s' object is not iterable", TypeName(v))
}

// iterNext advances an iterator: ok is false on exhaustion. Generator
// exhaustion swallows StopIteration; other exceptions propagate.
func (vm *VirtualMachine) iterNext(it Value) (Value, bool, error) {
	if it.IsObject() {
		obj := it.Object()
		switch obj.Kind {
		case KindIterator:
			v, ok := obj.Iter.Next()
			return v, ok, nil
		case KindGenerator, KindCoroutine:
			v, err := obj.Gen.Next()
			if err != nil {
				if exc, ok := AsRaised(err); ok && exc.MatchesClass("StopIteration") {
					return None, false, nil
				}
				return None, false, err
			}
			return v, true, nil
		}
	}
	return None, false, typeErrorf("'%s' object is not an iterator", TypeName(it))
}

// iterSend drives a sub-iterator for yield-from delegation: done reports
// completion, with the result being the sub-iterator's return value.
// Plain iterators ignore the sent value.
func (vm *VirtualMachine) iterSend(it Value, send Value) (Value, bool, error) {
	if it.IsObject() && (it.Object().Kind == KindGenerator || it.Object().Kind == KindCoroutine) {
		v, err := it.Object().Gen.Send(send)
		if err != nil {
			if exc, ok := AsRaised(err); ok && exc.MatchesClass("StopIteration") {
				ret := None
				if len(exc.Args) > 0 {
					ret = exc.Args[0]
				}
				return ret, true, nil
			}
			return None, false, err
		}
		return v, false, nil
	}
	v, ok, err := vm.iterNext(it)
	if err != nil {
		return None, false, err
	}
	if !ok {
		return None, true, nil
	}
	return v, false, nil
}

// unpackIterable materializes an iterable into a slice.
func unpackIterable(v Value) ([]Value, error) {
	if v.IsObject() {
		obj := v.Object()
		switch obj.Kind {
		case KindList:
			items := make([]Value, obj.List.Len())
			copy(items, obj.List.Items())
			return items, nil
		case KindTuple:
			return obj.Tuple, nil
		case KindSet:
			return obj.Set.Items(), nil
		case KindDict:
			return obj.Dict.Keys(), nil
		case KindStr:
			runes := []rune(obj.Str)
			items := make([]Value, len(runes))
			for i, r := range runes {
				items[i] = NewStr(string(r))
			}
			return items, nil
		case KindIterator:
			var items []Value
			for {
				el, ok := obj.Iter.Next()
				if !ok {
					return items, nil
				}
				items = append(items, el)
			}
		case KindGenerator:
			var items []Value
			for {
				el, err := obj.Gen.Next()
				if err != nil {
					if exc, ok := AsRaised(err); ok && exc.MatchesClass("StopIteration") {
						return items, nil
					}
					return nil, err
				}
				items = append(items, el)
			}
		}
	}
	return nil, typeErrorf("'%s' object is not iterable", TypeName(v))
}
