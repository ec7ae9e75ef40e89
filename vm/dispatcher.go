package vm

import "fmt"

// Finally markers. A finally handler runs with a marker on top of the
// operand stack telling EndFinally what was in flight when the handler
// was entered:
//
//	None / Int(0)    normal completion, fall through
//	Int(2)           return pending; the return value sits beneath
//	Int(3)           break pending; resumes at the loop block's handler
//	Int(4)           continue pending; the target ip sits beneath
//	exception object re-raise
const (
	markerReturn   = 2
	markerBreak    = 3
	markerContinue = 4
)

// RunFrame executes a frame to completion and returns its result.
// Panics from stack underflow or truncated bytecode surface as fatal
// errors; a yield outside a generator is likewise fatal.
func (vm *VirtualMachine) RunFrame(f *Frame) (result Value, err error) {
	defer func() {
		if p := recover(); p != nil {
			result, err = None, fatalf("%v", p)
		}
	}()
	val, finished, err := vm.execute(f)
	if err != nil {
		return None, err
	}
	if !finished {
		return None, fatalf("yield outside generator")
	}
	return val, nil
}

// resumeFrame re-enters a suspended generator frame. A non-nil throw is
// raised at the resume point before any instruction runs; otherwise the
// sent value becomes the result of the yield that parked the frame.
func (vm *VirtualMachine) resumeFrame(f *Frame, send Value, throw *Exception) (yielded Value, done bool, err error) {
	defer func() {
		if p := recover(); p != nil {
			yielded, done, err = None, false, fatalf("%v", p)
		}
	}()
	if throw != nil {
		r := NewBytecodeReader(f.Code.Bytecode)
		r.Seek(f.ip)
		if !unwindException(f, r, throw) {
			return None, true, Raise(throw)
		}
		f.ip = r.Position()
	} else if f.ip > 0 {
		// The frame is parked immediately after a Yield; the sent value
		// is that expression's result. First entry pushes nothing.
		f.Push(send)
	}
	return vm.execute(f)
}

// unwindException routes an exception to the innermost handler block.
// Loop blocks never catch: they dissolve and the search continues.
// On a hit the operand stack is truncated to the block's recorded
// level, the exception is pushed, and the reader is positioned at the
// handler. Reports false when the frame has no handler.
func unwindException(f *Frame, r *BytecodeReader, exc *Exception) bool {
	for {
		b, ok := f.PopBlock()
		if !ok {
			return false
		}
		if b.Kind != BlockLoop {
			f.TruncateTo(b.Level)
			f.Push(NewExceptionValue(exc))
			r.Seek(b.Handler)
			return true
		}
	}
}

// unwindReturn dissolves blocks on the way out of a returning frame.
// A live finally or with block intercepts: the return value and the
// return marker are pushed and the handler runs first. Reports true
// when the frame may actually complete.
func unwindReturn(f *Frame, r *BytecodeReader, retval Value) bool {
	for {
		b, ok := f.PopBlock()
		if !ok {
			return true
		}
		if b.Kind == BlockFinally || b.Kind == BlockWith {
			f.TruncateTo(b.Level)
			f.Push(retval)
			f.Push(FromInt(markerReturn))
			r.Seek(b.Handler)
			return false
		}
	}
}

// findActiveException scans the operand stack top-down for an exception
// value, the way a bare `raise` locates what to re-raise.
func findActiveException(f *Frame) *Exception {
	for i := 0; i < f.Depth(); i++ {
		v := f.PeekN(i)
		if v.IsObject() && v.Object().Kind == KindException {
			return v.Object().Exc
		}
	}
	return nil
}

// toException converts a raised value to an exception: exception objects
// pass through, exception classes instantiate with no arguments.
func toException(v Value) (*Exception, error) {
	if v.IsObject() {
		obj := v.Object()
		switch obj.Kind {
		case KindException:
			return obj.Exc, nil
		case KindType:
			if obj.Type.IsExceptionType() {
				return instantiateException(obj.Type, nil), nil
			}
		}
	}
	return nil, typeErrorf("exceptions must derive from BaseException")
}

// instantiateException builds an exception from a class and call args.
func instantiateException(t *TypeObject, args []Value) *Exception {
	e := &Exception{Class: t.BuiltinBase, Args: args}
	if t.BuiltinBase != t.Name || t.BuiltinBase == "" {
		e.Type = t
	}
	if e.Class == "" {
		e.Class = "Exception"
	}
	if len(args) > 0 && args[0].IsStr() {
		e.Message = args[0].StrVal()
	}
	return e
}

// execute is the dispatch loop. It returns the frame's result and whether
// the frame finished: a false finished flag means the frame suspended at
// a yield and the returned value is the yielded one.
func (vm *VirtualMachine) execute(f *Frame) (Value, bool, error) {
	code := f.Code
	r := NewBytecodeReader(code.Bytecode)
	r.Seek(f.ip)

	for {
		if !r.HasMore() {
			f.returned = true
			return None, true, nil
		}
		op := r.ReadOpcode()
		var err error

		switch op {

		// --- loads and stores ------------------------------------------

		case OpLoadFast:
			slot := r.ReadUint16()
			v, ok := f.GetLocal(slot)
			if !ok {
				err = Raise(NewException("UnboundLocalError",
					fmt.Sprintf("local variable '%s' referenced before assignment", code.Varnames[slot])))
				break
			}
			f.Push(v)

		case OpStoreFast:
			slot := r.ReadUint16()
			f.SetLocal(slot, f.Pop())

		case OpDeleteFast:
			slot := r.ReadUint16()
			if !f.DeleteLocal(slot) {
				err = Raise(NewException("UnboundLocalError",
					fmt.Sprintf("local variable '%s' referenced before assignment", code.Varnames[slot])))
			}

		case OpLoadConst:
			idx := r.ReadUint16()
			v, ok := code.Constant(idx)
			if !ok {
				return None, false, fatalf("constant index %d out of range", idx)
			}
			f.Push(v)

		case OpLoadGlobal, OpLoadName:
			idx := r.ReadUint16()
			name, ok := code.NameAt(idx)
			if !ok {
				return None, false, fatalf("name index %d out of range", idx)
			}
			if v, found := f.Globals.GetStr(name); found {
				f.Push(v)
			} else if v, found := f.Builtins.GetStr(name); found {
				f.Push(v)
			} else {
				err = nameErrorf("name '%s' is not defined", name)
			}

		case OpStoreGlobal, OpStoreName:
			idx := r.ReadUint16()
			name, _ := code.NameAt(idx)
			f.Globals.SetStr(name, f.Pop())

		case OpDeleteGlobal:
			idx := r.ReadUint16()
			name, _ := code.NameAt(idx)
			existed, derr := f.Globals.Delete(NewStr(name))
			if derr != nil {
				err = derr
			} else if !existed {
				err = nameErrorf("name '%s' is not defined", name)
			}

		case OpLoadDeref:
			slot := r.ReadUint16()
			cell, ok := f.Cell(slot)
			if !ok {
				return None, false, fatalf("deref slot %d out of range", slot)
			}
			f.Push(cell.CellGet())

		case OpStoreDeref:
			slot := r.ReadUint16()
			cell, ok := f.Cell(slot)
			if !ok {
				return None, false, fatalf("deref slot %d out of range", slot)
			}
			cell.CellSet(f.Pop())

		case OpLoadClosure:
			// The cell itself, not its contents: MAKE_CLOSURE collects
			// these into the new function's closure tuple.
			slot := r.ReadUint16()
			cell, ok := f.Cell(slot)
			if !ok {
				return None, false, fatalf("deref slot %d out of range", slot)
			}
			f.Push(cell)

		case OpLoadClassDeref:
			// Class bodies check their namespace before the enclosing cell.
			slot := r.ReadUint16()
			name := ""
			if int(slot) < len(code.Cellvars) {
				name = code.Cellvars[slot]
			} else if i := int(slot) - len(code.Cellvars); i < len(code.Freevars) {
				name = code.Freevars[i]
			}
			if v, found := f.Globals.GetStr(name); found {
				f.Push(v)
				break
			}
			cell, ok := f.Cell(slot)
			if !ok {
				return None, false, fatalf("deref slot %d out of range", slot)
			}
			f.Push(cell.CellGet())

		case OpLoadAttr:
			idx := r.ReadUint16()
			name, _ := code.NameAt(idx)
			obj := f.Pop()
			var v Value
			v, err = vm.getAttr(obj, name)
			if err == nil {
				f.Push(v)
			}

		case OpStoreAttr:
			idx := r.ReadUint16()
			name, _ := code.NameAt(idx)
			obj := f.Pop()
			value := f.Pop()
			err = vm.setAttr(obj, name, value)

		case OpDeleteAttr:
			idx := r.ReadUint16()
			name, _ := code.NameAt(idx)
			err = vm.delAttr(f.Pop(), name)

		case OpLoadSubscr:
			idx := f.Pop()
			obj := f.Pop()
			var v Value
			v, err = vm.loadSubscr(obj, idx)
			if err == nil {
				f.Push(v)
			}

		case OpStoreSubscr:
			idx := f.Pop()
			obj := f.Pop()
			value := f.Pop()
			err = vm.storeSubscr(obj, idx, value)

		case OpDeleteSubscr:
			idx := f.Pop()
			obj := f.Pop()
			err = vm.delSubscr(obj, idx)

		// --- stack shuffles --------------------------------------------

		case OpDupTop:
			f.Push(f.Peek())

		case OpDupTopTwo:
			a := f.PeekN(1)
			b := f.Peek()
			f.Push(a)
			f.Push(b)

		case OpPopTop:
			f.Pop()

		case OpSwap:
			a := f.Pop()
			b := f.Pop()
			f.Push(a)
			f.Push(b)

		case OpRotN:
			n := int(r.ReadByte())
			if n > 1 {
				top := f.Pop()
				rest := f.PopN(n - 1)
				f.Push(top)
				for _, v := range rest {
					f.Push(v)
				}
			}

		case OpCopy:
			n := int(r.ReadByte())
			f.Push(f.PeekN(n - 1))

		// --- operators ---------------------------------------------------

		case OpBinaryAdd, OpBinarySub, OpBinaryMul, OpBinaryDiv, OpBinaryFloorDiv,
			OpBinaryMod, OpBinaryPow, OpBinaryAnd, OpBinaryOr, OpBinaryXor,
			OpBinaryLshift, OpBinaryRshift, OpBinaryMatMul:
			b := f.Pop()
			a := f.Pop()
			var v Value
			v, err = vm.binaryOp(op, a, b)
			if err == nil {
				f.Push(v)
			}

		case OpInplaceAdd, OpInplaceSub, OpInplaceMul, OpInplaceDiv, OpInplaceFloorDiv,
			OpInplaceMod, OpInplacePow, OpInplaceAnd, OpInplaceOr, OpInplaceXor,
			OpInplaceLshift, OpInplaceRshift, OpInplaceMatMul:
			b := f.Pop()
			a := f.Pop()
			var v Value
			v, err = vm.inplaceOp(op, a, b)
			if err == nil {
				f.Push(v)
			}

		case OpUnaryNeg, OpUnaryPos, OpUnaryInvert, OpUnaryNot:
			var v Value
			v, err = vm.unaryOp(op, f.Pop())
			if err == nil {
				f.Push(v)
			}

		case OpBinaryOp:
			sub := Opcode(byte(OpBinaryAdd) + r.ReadByte())
			b := f.Pop()
			a := f.Pop()
			var v Value
			if sub >= OpInplaceAdd {
				v, err = vm.inplaceOp(sub, a, b)
			} else {
				v, err = vm.binaryOp(sub, a, b)
			}
			if err == nil {
				f.Push(v)
			}

		case OpCompareLt, OpCompareLe, OpCompareEq, OpCompareNe, OpCompareGt, OpCompareGe:
			b := f.Pop()
			a := f.Pop()
			var v Value
			v, err = vm.compareOp(op, a, b)
			if err == nil {
				f.Push(v)
			}

		case OpCompareOp:
			sub := Opcode(byte(OpCompareLt) + r.ReadByte())
			b := f.Pop()
			a := f.Pop()
			var v Value
			v, err = vm.compareOp(sub, a, b)
			if err == nil {
				f.Push(v)
			}

		case OpCompareIs:
			b := f.Pop()
			a := f.Pop()
			f.Push(FromBool(a == b))

		case OpCompareIsNot:
			b := f.Pop()
			a := f.Pop()
			f.Push(FromBool(a != b))

		case OpCompareIn, OpCompareNotIn:
			container := f.Pop()
			item := f.Pop()
			var found bool
			found, err = contains(container, item)
			if err == nil {
				f.Push(FromBool(found != (op == OpCompareNotIn)))
			}

		case OpContainsOp:
			invert := r.ReadByte() != 0
			container := f.Pop()
			item := f.Pop()
			var found bool
			found, err = contains(container, item)
			if err == nil {
				f.Push(FromBool(found != invert))
			}

		case OpExceptionMatch:
			classVal := f.Pop()
			excVal := f.Peek()
			var match bool
			match, err = exceptionMatchValue(excVal, classVal)
			if err == nil {
				f.Push(FromBool(match))
			}

		case OpCheckExcMatch:
			r.ReadUint16() // unused
			classVal := f.Pop()
			excVal := f.Peek()
			var match bool
			match, err = exceptionMatchValue(excVal, classVal)
			if err == nil {
				f.Push(FromBool(match))
			}

		// --- control flow ------------------------------------------------

		case OpJump:
			offset := r.ReadInt16()
			r.Seek(r.Position() + int(offset))

		case OpJumpIfTrue, OpJumpIfFalse:
			offset := r.ReadInt16()
			v := f.Pop()
			if Truthy(v) == (op == OpJumpIfTrue) {
				r.Seek(r.Position() + int(offset))
			}

		case OpPopJumpIfTrue, OpPopJumpIfFalse:
			offset := r.ReadInt16()
			v := f.Pop()
			if Truthy(v) == (op == OpPopJumpIfTrue) {
				r.Seek(r.Position() + int(offset))
			}

		case OpPopJumpIfNone, OpPopJumpIfNotNone:
			offset := r.ReadInt16()
			v := f.Pop()
			if (v == None) == (op == OpPopJumpIfNone) {
				r.Seek(r.Position() + int(offset))
			}

		case OpJumpIfTrueOrPop, OpJumpIfFalseOrPop:
			offset := r.ReadInt16()
			if Truthy(f.Peek()) == (op == OpJumpIfTrueOrPop) {
				r.Seek(r.Position() + int(offset))
			} else {
				f.Pop()
			}

		case OpGetIter:
			var it Value
			it, err = vm.getIter(f.Pop())
			if err == nil {
				f.Push(it)
			}

		case OpForIter:
			offset := r.ReadInt16()
			v, ok, nerr := vm.iterNext(f.Peek())
			if nerr != nil {
				err = nerr
				break
			}
			if !ok {
				f.Pop()
				r.Seek(r.Position() + int(offset))
			} else {
				f.Push(v)
			}

		case OpGetLen:
			var n int
			n, err = lengthOf(f.Peek())
			if err == nil {
				f.Push(FromInt(int64(n)))
			}

		case OpReturn:
			retval := f.Pop()
			if unwindReturn(f, r, retval) {
				f.returned = true
				f.returnValue = retval
				return retval, true, nil
			}

		case OpYield:
			v := f.Pop()
			f.ip = r.Position()
			return v, false, nil

		case OpYieldFrom:
			r.ReadUint16() // unused
			send := f.Pop()
			sub := f.Peek()
			y, done, serr := vm.iterSend(sub, send)
			if serr != nil {
				err = serr
				break
			}
			if done {
				f.Pop()
				f.Push(y)
				break
			}
			// Rewind so the resumption re-executes this instruction: the
			// value sent to us is pushed on resume and delegated onward.
			f.ip = r.Position() - OpYieldFrom.Width()
			return y, false, nil

		// --- calls ---------------------------------------------------------

		case OpCall:
			argc := int(r.ReadUint16())
			kwNames := f.kwNames
			f.kwNames = nil
			var v Value
			if len(kwNames) > 0 {
				if len(kwNames) > argc {
					return None, false, fatalf("keyword names exceed argument count")
				}
				all := f.PopN(argc)
				callee := f.Pop()
				pos := all[:argc-len(kwNames)]
				kwargs := NewDict()
				for i, name := range kwNames {
					kwargs.SetStr(name, all[argc-len(kwNames)+i])
				}
				v, err = vm.callValue(callee, pos, kwargs)
			} else {
				args := f.PopN(argc)
				callee := f.Pop()
				v, err = vm.callValue(callee, args, nil)
			}
			if err == nil {
				f.Push(v)
			}

		case OpCallKw:
			argc := int(r.ReadUint16())
			namesVal := f.Pop()
			if !namesVal.isKind(KindTuple) {
				return None, false, fatalf("CALL_KW expects a name tuple")
			}
			names := namesVal.Object().Tuple
			all := f.PopN(argc)
			callee := f.Pop()
			nkw := len(names)
			pos := all[:argc-nkw]
			kwargs := NewDict()
			for i, nv := range names {
				kwargs.SetStr(nv.StrVal(), all[argc-nkw+i])
			}
			var v Value
			v, err = vm.callValue(callee, pos, kwargs)
			if err == nil {
				f.Push(v)
			}

		case OpCallEx:
			flags := r.ReadUint16()
			var kwargs *Dict
			if flags&1 != 0 {
				kv := f.Pop()
				if !kv.isKind(KindDict) {
					err = typeErrorf("argument after ** must be a mapping, not %s", TypeName(kv))
					break
				}
				kwargs = kv.Object().Dict
			}
			argsVal := f.Pop()
			callee := f.Pop()
			var args []Value
			args, err = unpackIterable(argsVal)
			if err != nil {
				break
			}
			var v Value
			v, err = vm.callValue(callee, args, kwargs)
			if err == nil {
				f.Push(v)
			}

		case OpKwNames:
			idx := r.ReadUint16()
			tv, ok := code.Constant(idx)
			if !ok || !tv.isKind(KindTuple) {
				return None, false, fatalf("KW_NAMES expects a tuple constant")
			}
			names := make([]string, 0, len(tv.Object().Tuple))
			for _, nv := range tv.Object().Tuple {
				names = append(names, nv.StrVal())
			}
			f.kwNames = names

		case OpPushNull:
			f.Push(None)

		case OpMakeFunction, OpMakeClosure:
			flags := r.ReadUint16()
			err = vm.makeFunction(f, flags, op == OpMakeClosure)

		case OpLoadMethod:
			idx := r.ReadUint16()
			name, _ := code.NameAt(idx)
			obj := f.Pop()
			var first, second Value
			first, second, err = vm.loadMethodPair(obj, name)
			if err == nil {
				f.Push(first)
				f.Push(second)
			}

		case OpCallMethod:
			argc := int(r.ReadUint16())
			args := f.PopN(argc)
			second := f.Pop()
			first := f.Pop()
			var v Value
			if first == methodMarker {
				v, err = vm.callValue(second, args, nil)
			} else {
				v, err = vm.callValue(first, append([]Value{second}, args...), nil)
			}
			if err == nil {
				f.Push(v)
			}

		// --- containers ------------------------------------------------

		case OpBuildTuple:
			n := int(r.ReadByte())
			f.Push(NewTuple(f.PopN(n)))

		case OpBuildList:
			n := int(r.ReadByte())
			f.Push(NewListValue(f.PopN(n)))

		case OpBuildSet:
			n := int(r.ReadByte())
			items := f.PopN(n)
			s := NewSet()
			for _, v := range items {
				if err = s.Add(v); err != nil {
					break
				}
			}
			if err == nil {
				f.Push(NewSetValue(s))
			}

		case OpBuildDict:
			n := int(r.ReadByte())
			pairs := f.PopN(2 * n)
			d := NewDict()
			for i := 0; i < n; i++ {
				if err = d.SetItem(pairs[2*i], pairs[2*i+1]); err != nil {
					break
				}
			}
			if err == nil {
				f.Push(NewDictValue(d))
			}

		case OpBuildString:
			n := int(r.ReadByte())
			parts := f.PopN(n)
			total := ""
			for _, p := range parts {
				total += Str(p)
			}
			f.Push(NewStr(total))

		case OpBuildSlice:
			n := int(r.ReadByte())
			s := &SliceObject{Start: None, Stop: None, Step: None}
			if n == 3 {
				s.Step = f.Pop()
			}
			s.Stop = f.Pop()
			s.Start = f.Pop()
			f.Push(NewSliceValue(s))

		case OpListAppend:
			depth := int(r.ReadUint16())
			v := f.Pop()
			target := f.PeekN(depth - 1)
			target.Object().List.Append(v)

		case OpSetAdd:
			depth := int(r.ReadUint16())
			v := f.Pop()
			target := f.PeekN(depth - 1)
			err = target.Object().Set.Add(v)

		case OpMapAdd:
			depth := int(r.ReadUint16())
			v := f.Pop()
			k := f.Pop()
			target := f.PeekN(depth - 2)
			err = target.Object().Dict.SetItem(k, v)

		case OpListExtend:
			depth := int(r.ReadUint16())
			src := f.Pop()
			var items []Value
			items, err = unpackIterable(src)
			if err == nil {
				f.PeekN(depth - 1).Object().List.Extend(items)
			}

		case OpSetUpdate:
			depth := int(r.ReadUint16())
			src := f.Pop()
			var items []Value
			items, err = unpackIterable(src)
			if err == nil {
				target := f.PeekN(depth - 1).Object().Set
				for _, v := range items {
					if err = target.Add(v); err != nil {
						break
					}
				}
			}

		case OpDictUpdate:
			depth := int(r.ReadUint16())
			src := f.Pop()
			if !src.isKind(KindDict) {
				err = typeErrorf("'%s' object is not a mapping", TypeName(src))
				break
			}
			f.PeekN(depth - 1).Object().Dict.Update(src.Object().Dict)

		case OpDictMerge:
			depth := int(r.ReadUint16())
			src := f.Pop()
			if !src.isKind(KindDict) {
				err = typeErrorf("argument after ** must be a mapping, not %s", TypeName(src))
				break
			}
			target := f.PeekN(depth - 1).Object().Dict
			for _, k := range src.Object().Dict.Keys() {
				if present, _ := target.Contains(k); present {
					err = typeErrorf("got multiple values for keyword argument '%s'", Str(k))
					break
				}
			}
			if err == nil {
				target.Update(src.Object().Dict)
			}

		case OpUnpackSequence:
			n := int(r.ReadByte())
			var items []Value
			items, err = unpackIterable(f.Pop())
			if err != nil {
				break
			}
			if len(items) < n {
				err = valueErrorf("not enough values to unpack (expected %d, got %d)", n, len(items))
				break
			}
			if len(items) > n {
				err = valueErrorf("too many values to unpack (expected %d)", n)
				break
			}
			for i := n - 1; i >= 0; i-- {
				f.Push(items[i])
			}

		case OpUnpackEx:
			arg := r.ReadByte()
			before := int(arg & 0x0F)
			after := int(arg >> 4)
			var items []Value
			items, err = unpackIterable(f.Pop())
			if err != nil {
				break
			}
			if len(items) < before+after {
				err = valueErrorf("not enough values to unpack (expected at least %d, got %d)",
					before+after, len(items))
				break
			}
			star := items[before : len(items)-after]
			rest := make([]Value, len(star))
			copy(rest, star)
			// Push in reverse target order so assignments pop in order.
			tail := items[len(items)-after:]
			for i := len(tail) - 1; i >= 0; i-- {
				f.Push(tail[i])
			}
			f.Push(NewListValue(rest))
			for i := before - 1; i >= 0; i-- {
				f.Push(items[i])
			}

		case OpFormatValue:
			flags := r.ReadByte()
			spec := ""
			if flags&0x04 != 0 {
				spec = Str(f.Pop())
			}
			v := f.Pop()
			var formatted string
			formatted, err = formatValue(v, flags&0x03, spec)
			if err == nil {
				f.Push(NewStr(formatted))
			}

		// --- exceptions and with -----------------------------------------

		case OpSetupExcept:
			offset := r.ReadInt16()
			f.PushBlock(BlockExcept, r.Position()+int(offset))

		case OpSetupFinally:
			offset := r.ReadInt16()
			f.PushBlock(BlockFinally, r.Position()+int(offset))

		case OpSetupWith, OpSetupAsyncWith:
			offset := r.ReadInt16()
			f.PushBlock(BlockWith, r.Position()+int(offset))

		case OpPopExcept:
			r.ReadUint16() // unused
			if _, ok := f.PopBlock(); !ok {
				return None, false, fatalf("POP_EXCEPT with empty block stack")
			}

		case OpPushExcInfo:
			r.ReadUint16() // unused
			f.Push(f.Peek())

		case OpRaise:
			argc := r.ReadByte()
			switch argc {
			case 0:
				exc := findActiveException(f)
				if exc == nil {
					return None, false, fatalf("no active exception to re-raise")
				}
				err = Raise(exc)
			case 1:
				var exc *Exception
				exc, err = toException(f.Pop())
				if err == nil {
					if active := findActiveException(f); active != nil && active != exc &&
						exc.Context == nil && !exc.SuppressContext {
						exc.Context = active
					}
					err = Raise(exc)
				}
			case 2:
				causeVal := f.Pop()
				var exc *Exception
				exc, err = toException(f.Pop())
				if err == nil {
					if causeVal == None {
						exc.Cause = nil
						exc.SuppressContext = true
					} else {
						var cause *Exception
						cause, err = toException(causeVal)
						if err == nil {
							exc.WithCause(cause)
						}
					}
					if err == nil {
						err = Raise(exc)
					}
				}
			default:
				return None, false, fatalf("RAISE with argc %d", argc)
			}

		case OpReraise:
			exc := findActiveException(f)
			if exc == nil {
				return None, false, fatalf("no active exception to re-raise")
			}
			err = Raise(exc)

		case OpCleanupThrow:
			r.ReadUint16() // unused
			// Generator throw cleanup: drop the sub-iterator beneath the
			// StopIteration value and surface the carried result.
			v := f.Pop()
			f.Pop()
			f.Push(v)

		case OpEndFinally:
			marker := f.Pop()
			switch {
			case marker == None, marker.IsInt() && marker.Int() == 0:
				// normal completion

			case marker.IsInt() && marker.Int() == markerReturn:
				retval := f.Pop()
				if unwindReturn(f, r, retval) {
					f.returned = true
					f.returnValue = retval
					return retval, true, nil
				}

			case marker.IsInt() && marker.Int() == markerBreak:
				if !unwindBreak(f, r) {
					return None, false, fatalf("break outside loop")
				}

			case marker.IsInt() && marker.Int() == markerContinue:
				target := f.Pop()
				if !target.IsInt() {
					return None, false, fatalf("bad continue target")
				}
				if !unwindContinue(f, r, int(target.Int())) {
					return None, false, fatalf("continue outside loop")
				}

			case marker.IsObject() && marker.Object().Kind == KindException:
				err = Raise(marker.Object().Exc)

			default:
				return None, false, fatalf("bad finally marker: %s", Repr(marker))
			}

		case OpBeforeWith, OpBeforeAsyncWith:
			r.ReadUint16() // unused
			mgr := f.Pop()
			var exit, entered Value
			exit, entered, err = vm.enterWith(mgr)
			if err == nil {
				f.Push(exit)
				f.Push(entered)
			}

		case OpWithExceptStart:
			r.ReadUint16() // unused
			top := f.Peek()
			if top.IsObject() && top.Object().Kind == KindException {
				exc := top.Object().Exc
				var res Value
				res, err = vm.callValue(f.PeekN(1), []Value{exc.classValue(), top, None}, nil)
				if err == nil {
					f.Push(FromBool(Truthy(res)))
				}
			} else {
				// Marker entry: return and continue markers carry an
				// extra operand above the retained exit callable.
				pos := 1
				if top.IsInt() && (top.Int() == markerReturn || top.Int() == markerContinue) {
					pos = 2
				}
				_, err = vm.callValue(f.PeekN(pos), []Value{None, None, None}, nil)
				if err == nil {
					f.Push(FromBool(false))
				}
			}

		// --- imports -----------------------------------------------------

		case OpImportName:
			idx := r.ReadUint16()
			name, _ := code.NameAt(idx)
			var m Value
			m, err = vm.ImportModule(name)
			if err == nil {
				f.Push(m)
			}

		case OpImportFrom:
			idx := r.ReadUint16()
			name, _ := code.NameAt(idx)
			var v Value
			v, err = vm.importFrom(f.Peek(), name)
			if err == nil {
				f.Push(v)
			}

		case OpImportStar:
			r.ReadUint16() // unused
			err = vm.importStar(f.Pop(), f.Globals)

		case OpSetupAnnotations:
			r.ReadUint16() // unused
			if _, ok := f.Globals.GetStr("__annotations__"); !ok {
				f.Globals.SetStr("__annotations__", NewDictValue(NewDict()))
			}

		// --- async -------------------------------------------------------

		case OpGetAwaitable:
			r.ReadUint16() // unused
			v := f.Peek()
			if !v.isKind(KindCoroutine) {
				err = typeErrorf("object %s can't be used in 'await' expression", TypeName(v))
			}

		case OpGetAiter:
			r.ReadUint16() // unused
			v := f.Peek()
			if !v.isKind(KindGenerator) && !v.isKind(KindCoroutine) {
				err = typeErrorf("'%s' object is not an async iterable", TypeName(v))
			}

		case OpGetAnext:
			r.ReadUint16() // unused
			v, ok, nerr := vm.iterNext(f.Peek())
			if nerr != nil {
				err = nerr
				break
			}
			if !ok {
				err = Raise(NewException("StopAsyncIteration", ""))
				break
			}
			f.Push(v)

		case OpEndAsyncFor:
			r.ReadUint16() // unused
			excVal := f.Pop()
			if excVal.IsObject() && excVal.Object().Kind == KindException &&
				excVal.Object().Exc.MatchesClass("StopAsyncIteration") {
				f.Pop() // the exhausted async iterator
				break
			}
			if excVal.IsObject() && excVal.Object().Kind == KindException {
				err = Raise(excVal.Object().Exc)
				break
			}
			return None, false, fatalf("END_ASYNC_FOR without exception")

		case OpSend:
			offset := r.ReadInt16()
			send := f.Pop()
			sub := f.Peek()
			y, done, serr := vm.iterSend(sub, send)
			if serr != nil {
				err = serr
				break
			}
			f.Push(y)
			if done {
				r.Seek(r.Position() + int(offset))
			}

		case OpEndSend:
			v := f.Pop()
			f.Pop()
			f.Push(v)

		case OpAsyncGenWrap:
			r.ReadUint16() // unused

		// --- special -------------------------------------------------------

		case OpNop:
		case OpResume, OpCache, OpPrecall:
			r.ReadByte()

		default:
			return None, false, fatalf("unknown opcode 0x%02X at %d", byte(op), r.Position()-1)
		}

		if err != nil {
			exc, isExc := AsRaised(err)
			if !isExc {
				return None, false, err
			}
			if !unwindException(f, r, exc) {
				return None, false, err
			}
		}
	}
}

// unwindBreak dissolves blocks down to the innermost loop and jumps to
// its handler (the loop exit). A live finally on the way intercepts with
// a break marker first.
func unwindBreak(f *Frame, r *BytecodeReader) bool {
	for {
		b, ok := f.PopBlock()
		if !ok {
			return false
		}
		switch b.Kind {
		case BlockLoop:
			f.TruncateTo(b.Level)
			r.Seek(b.Handler)
			return true
		case BlockFinally, BlockWith:
			f.TruncateTo(b.Level)
			f.Push(FromInt(markerBreak))
			r.Seek(b.Handler)
			return true
		}
	}
}

// unwindContinue truncates to the innermost loop's level and jumps to
// target, keeping the loop block alive. A live finally on the way
// intercepts with a continue marker first.
func unwindContinue(f *Frame, r *BytecodeReader, target int) bool {
	for {
		b, ok := f.TopBlock()
		if !ok {
			return false
		}
		switch b.Kind {
		case BlockLoop:
			f.TruncateTo(b.Level)
			r.Seek(target)
			return true
		case BlockFinally, BlockWith:
			f.PopBlock()
			f.TruncateTo(b.Level)
			f.Push(FromInt(int64(target)))
			f.Push(FromInt(markerContinue))
			r.Seek(b.Handler)
			return true
		default:
			f.PopBlock()
		}
	}
}

// exceptionMatchValue tests an exception value against a class or a tuple
// of classes.
func exceptionMatchValue(excVal, classVal Value) (bool, error) {
	if !excVal.IsObject() || excVal.Object().Kind != KindException {
		return false, typeErrorf("catching '%s' is not allowed", TypeName(excVal))
	}
	exc := excVal.Object().Exc
	if classVal.isKind(KindTuple) {
		for _, c := range classVal.Object().Tuple {
			match, err := exceptionMatchValue(excVal, c)
			if err != nil {
				return false, err
			}
			if match {
				return true, nil
			}
		}
		return false, nil
	}
	if !classVal.isKind(KindType) || !classVal.Object().Type.IsExceptionType() {
		return false, typeErrorf("catching classes that do not inherit from BaseException is not allowed")
	}
	t := classVal.Object().Type
	if exc.Type != nil && t.BuiltinBase != t.Name {
		return exc.Type.IsSubclassOf(t), nil
	}
	return exc.MatchesClass(t.Name), nil
}
