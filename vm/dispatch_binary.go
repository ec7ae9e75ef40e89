package vm

import (
	"math"
	"strconv"
	"strings"
	"unicode/utf8"
)

// ---------------------------------------------------------------------------
// Binary, unary, and comparison operators
// ---------------------------------------------------------------------------

// opSymbols maps operators to their surface syntax for error messages.
var opSymbols = map[Opcode]string{
	OpBinaryAdd: "+", OpBinarySub: "-", OpBinaryMul: "*", OpBinaryDiv: "/",
	OpBinaryFloorDiv: "//", OpBinaryMod: "%", OpBinaryPow: "**",
	OpBinaryAnd: "&", OpBinaryOr: "|", OpBinaryXor: "^",
	OpBinaryLshift: "<<", OpBinaryRshift: ">>", OpBinaryMatMul: "@",
	OpCompareLt: "<", OpCompareLe: "<=", OpCompareGt: ">", OpCompareGe: ">=",
}

func unsupportedOperands(op Opcode, a, b Value) error {
	return typeErrorf("unsupported operand type(s) for %s: '%s' and '%s'",
		opSymbols[op], TypeName(a), TypeName(b))
}

// makeInt boxes an int64, falling back to float when it exceeds the
// small-int range (no big integers).
func makeInt(n int64) Value {
	if v, ok := TryFromInt(n); ok {
		return v
	}
	return FromFloat64(float64(n))
}

func isNumeric(v Value) bool {
	return v.IsInt() || v.IsFloat() || v.IsBool()
}

// intVal widens bools to ints for arithmetic.
func intVal(v Value) (int64, bool) {
	switch {
	case v.IsInt():
		return v.Int(), true
	case v == True:
		return 1, true
	case v == False:
		return 0, true
	}
	return 0, false
}

// binaryOp applies a binary operator with int/float promotion: the result
// is an int only when both operands are ints and the operation closes
// over them.
func (vm *VirtualMachine) binaryOp(op Opcode, a, b Value) (Value, error) {
	switch op {
	case OpBinaryAdd:
		if ai, ok := intVal(a); ok {
			if bi, ok := intVal(b); ok {
				return makeInt(ai + bi), nil
			}
		}
		if isNumeric(a) && isNumeric(b) {
			return FromFloat64(asFloat(a) + asFloat(b)), nil
		}
		if a.IsStr() && b.IsStr() {
			return NewStr(a.StrVal() + b.StrVal()), nil
		}
		if a.isKind(KindList) && b.isKind(KindList) {
			merged := append([]Value{}, a.Object().List.Items()...)
			merged = append(merged, b.Object().List.Items()...)
			return NewListValue(merged), nil
		}
		if a.isKind(KindTuple) && b.isKind(KindTuple) {
			merged := append([]Value{}, a.Object().Tuple...)
			merged = append(merged, b.Object().Tuple...)
			return NewTuple(merged), nil
		}

	case OpBinarySub:
		if ai, ok := intVal(a); ok {
			if bi, ok := intVal(b); ok {
				return makeInt(ai - bi), nil
			}
		}
		if isNumeric(a) && isNumeric(b) {
			return FromFloat64(asFloat(a) - asFloat(b)), nil
		}

	case OpBinaryMul:
		if ai, ok := intVal(a); ok {
			if bi, ok := intVal(b); ok {
				return mulInt(ai, bi), nil
			}
		}
		if isNumeric(a) && isNumeric(b) {
			return FromFloat64(asFloat(a) * asFloat(b)), nil
		}
		if a.IsStr() {
			if n, ok := intVal(b); ok {
				return NewStr(repeatStr(a.StrVal(), n)), nil
			}
		}
		if b.IsStr() {
			if n, ok := intVal(a); ok {
				return NewStr(repeatStr(b.StrVal(), n)), nil
			}
		}
		if a.isKind(KindList) {
			if n, ok := intVal(b); ok {
				return NewListValue(repeatSlice(a.Object().List.Items(), n)), nil
			}
		}
		if a.isKind(KindTuple) {
			if n, ok := intVal(b); ok {
				return NewTuple(repeatSlice(a.Object().Tuple, n)), nil
			}
		}

	case OpBinaryDiv:
		if isNumeric(a) && isNumeric(b) {
			if bi, ok := intVal(b); ok && bi == 0 && !b.IsFloat() {
				return None, zeroDivisionError("division by zero")
			}
			// Float division by zero follows IEEE.
			return FromFloat64(asFloat(a) / asFloat(b)), nil
		}

	case OpBinaryFloorDiv:
		if ai, ok := intVal(a); ok {
			if bi, ok := intVal(b); ok {
				if bi == 0 {
					return None, zeroDivisionError("integer division or modulo by zero")
				}
				return makeInt(floorDivInt(ai, bi)), nil
			}
		}
		if isNumeric(a) && isNumeric(b) {
			return FromFloat64(math.Floor(asFloat(a) / asFloat(b))), nil
		}

	case OpBinaryMod:
		if ai, ok := intVal(a); ok {
			if bi, ok := intVal(b); ok {
				if bi == 0 {
					return None, zeroDivisionError("integer division or modulo by zero")
				}
				return makeInt(floorMod(ai, bi)), nil
			}
		}
		if isNumeric(a) && isNumeric(b) {
			// Result takes the divisor's sign.
			af, bf := asFloat(a), asFloat(b)
			m := math.Mod(af, bf)
			if m != 0 && (m < 0) != (bf < 0) {
				m += bf
			}
			return FromFloat64(m), nil
		}

	case OpBinaryPow:
		if ai, ok := intVal(a); ok {
			if bi, ok := intVal(b); ok {
				if bi >= 0 {
					if n, ok := powInt(ai, bi); ok {
						return makeInt(n), nil
					}
				}
				return FromFloat64(math.Pow(float64(ai), float64(bi))), nil
			}
		}
		if isNumeric(a) && isNumeric(b) {
			return FromFloat64(math.Pow(asFloat(a), asFloat(b))), nil
		}

	case OpBinaryAnd, OpBinaryOr, OpBinaryXor, OpBinaryLshift, OpBinaryRshift:
		ai, aok := intVal(a)
		bi, bok := intVal(b)
		if aok && bok {
			switch op {
			case OpBinaryAnd:
				return makeInt(ai & bi), nil
			case OpBinaryOr:
				return makeInt(ai | bi), nil
			case OpBinaryXor:
				return makeInt(ai ^ bi), nil
			case OpBinaryLshift:
				if bi < 0 {
					return None, valueErrorf("negative shift count")
				}
				if ai != 0 && (bi >= 63 || ai > math.MaxInt64>>uint(bi) || ai < math.MinInt64>>uint(bi)) {
					return FromFloat64(float64(ai) * math.Pow(2, float64(bi))), nil
				}
				return makeInt(ai << uint(bi)), nil
			case OpBinaryRshift:
				if bi < 0 {
					return None, valueErrorf("negative shift count")
				}
				return makeInt(ai >> uint(bi)), nil
			}
		}

	case OpBinaryMatMul:
		// No matrix types in the core.
	}
	return None, unsupportedOperands(op, a, b)
}

// inplaceOp applies an augmented assignment: mutable containers mutate in
// place, everything else falls back to the plain binary operator.
func (vm *VirtualMachine) inplaceOp(op Opcode, a, b Value) (Value, error) {
	base := Opcode(byte(op) - byte(OpInplaceAdd) + byte(OpBinaryAdd))
	if a.isKind(KindList) {
		switch base {
		case OpBinaryAdd:
			items, err := unpackIterable(b)
			if err != nil {
				return None, err
			}
			a.Object().List.Extend(items)
			return a, nil
		case OpBinaryMul:
			if n, ok := intVal(b); ok {
				l := a.Object().List
				repeated := repeatSlice(l.Items(), n)
				l.Clear()
				l.Extend(repeated)
				return a, nil
			}
		}
	}
	return vm.binaryOp(base, a, b)
}

// unaryOp applies a prefix operator.
func (vm *VirtualMachine) unaryOp(op Opcode, v Value) (Value, error) {
	switch op {
	case OpUnaryNot:
		return FromBool(!Truthy(v)), nil
	case OpUnaryNeg:
		if n, ok := intVal(v); ok {
			return makeInt(-n), nil
		}
		if v.IsFloat() {
			return FromFloat64(-v.Float64()), nil
		}
	case OpUnaryPos:
		if isNumeric(v) {
			if n, ok := intVal(v); ok {
				return makeInt(n), nil
			}
			return v, nil
		}
	case OpUnaryInvert:
		if n, ok := intVal(v); ok {
			return makeInt(^n), nil
		}
	}
	symbols := map[Opcode]string{OpUnaryNeg: "-", OpUnaryPos: "+", OpUnaryInvert: "~"}
	return None, typeErrorf("bad operand type for unary %s: '%s'", symbols[op], TypeName(v))
}

// compareOp applies an ordering or equality comparison.
func (vm *VirtualMachine) compareOp(op Opcode, a, b Value) (Value, error) {
	switch op {
	case OpCompareEq:
		return FromBool(Equal(a, b)), nil
	case OpCompareNe:
		return FromBool(!Equal(a, b)), nil
	}
	cmp, err := orderValues(op, a, b)
	if err != nil {
		return None, err
	}
	switch op {
	case OpCompareLt:
		return FromBool(cmp < 0), nil
	case OpCompareLe:
		return FromBool(cmp <= 0), nil
	case OpCompareGt:
		return FromBool(cmp > 0), nil
	case OpCompareGe:
		return FromBool(cmp >= 0), nil
	}
	return None, fatalf("bad comparison opcode %s", op)
}

// orderValues returns -1/0/1 for orderable pairs: numbers cross-type,
// strings lexically, lists and tuples elementwise.
func orderValues(op Opcode, a, b Value) (int, error) {
	if isNumeric(a) && isNumeric(b) {
		af, bf := asFloat(a), asFloat(b)
		switch {
		case af < bf:
			return -1, nil
		case af > bf:
			return 1, nil
		default:
			return 0, nil
		}
	}
	if a.IsStr() && b.IsStr() {
		return strings.Compare(a.StrVal(), b.StrVal()), nil
	}
	if a.isKind(KindList) && b.isKind(KindList) {
		return orderSlices(op, a.Object().List.Items(), b.Object().List.Items())
	}
	if a.isKind(KindTuple) && b.isKind(KindTuple) {
		return orderSlices(op, a.Object().Tuple, b.Object().Tuple)
	}
	return 0, typeErrorf("'%s' not supported between instances of '%s' and '%s'",
		opSymbols[op], TypeName(a), TypeName(b))
}

func orderSlices(op Opcode, a, b []Value) (int, error) {
	for i := 0; i < len(a) && i < len(b); i++ {
		if Equal(a[i], b[i]) {
			continue
		}
		return orderValues(op, a[i], b[i])
	}
	switch {
	case len(a) < len(b):
		return -1, nil
	case len(a) > len(b):
		return 1, nil
	default:
		return 0, nil
	}
}

// contains implements the `in` operator, dispatching on the container.
func contains(container, item Value) (bool, error) {
	switch {
	case container.IsStr():
		if !item.IsStr() {
			return false, typeErrorf("'in <string>' requires string as left operand, not %s", TypeName(item))
		}
		return strings.Contains(container.StrVal(), item.StrVal()), nil
	case container.isKind(KindList):
		for _, el := range container.Object().List.Items() {
			if Equal(el, item) {
				return true, nil
			}
		}
		return false, nil
	case container.isKind(KindTuple):
		for _, el := range container.Object().Tuple {
			if Equal(el, item) {
				return true, nil
			}
		}
		return false, nil
	case container.isKind(KindSet):
		return container.Object().Set.Contains(item)
	case container.isKind(KindDict):
		return container.Object().Dict.Contains(item)
	}
	return false, typeErrorf("argument of type '%s' is not iterable", TypeName(container))
}

// lengthOf returns the element count of a sized value.
func lengthOf(v Value) (int, error) {
	if v.IsObject() {
		obj := v.Object()
		switch obj.Kind {
		case KindStr:
			// Character count, matching rune-based indexing.
			return utf8.RuneCountInString(obj.Str), nil
		case KindBytes:
			return len(obj.Bytes), nil
		case KindList:
			return obj.List.Len(), nil
		case KindTuple:
			return len(obj.Tuple), nil
		case KindSet:
			return obj.Set.Len(), nil
		case KindDict:
			return obj.Dict.Len(), nil
		}
	}
	return 0, typeErrorf("object of type '%s' has no len()", TypeName(v))
}

// formatValue implements f-string interpolation: conversion 1 is str(),
// 2 is repr(), applied before the format spec. The spec covers the
// mini-language subset [[fill]align][sign][0][width][,][.precision][type]
// for ints, floats, and strings.
func formatValue(v Value, conversion byte, spec string) (string, error) {
	switch conversion {
	case 1:
		v = NewStr(Str(v))
	case 2:
		v = NewStr(Repr(v))
	}
	if spec == "" {
		return Str(v), nil
	}
	return formatWithSpec(v, spec)
}

// formatSpec is a parsed format mini-language spec.
type formatSpec struct {
	fill      rune
	align     rune // '<', '>', '^', '=', or 0 for the type's default
	sign      rune // '+', '-', ' ', or 0
	zero      bool
	width     int
	thousands bool
	precision int  // -1 when absent
	verb      rune // type character, 0 when absent
}

func parseFormatSpec(spec string) (formatSpec, error) {
	fs := formatSpec{fill: ' ', precision: -1}
	r := []rune(spec)
	isAlign := func(c rune) bool { return c == '<' || c == '>' || c == '^' || c == '=' }

	i := 0
	switch {
	case len(r) >= 2 && isAlign(r[1]):
		fs.fill, fs.align = r[0], r[1]
		i = 2
	case len(r) >= 1 && isAlign(r[0]):
		fs.align = r[0]
		i = 1
	}
	if i < len(r) && (r[i] == '+' || r[i] == '-' || r[i] == ' ') {
		fs.sign = r[i]
		i++
	}
	if i < len(r) && r[i] == '0' {
		fs.zero = true
		i++
	}
	for i < len(r) && r[i] >= '0' && r[i] <= '9' {
		fs.width = fs.width*10 + int(r[i]-'0')
		i++
	}
	if i < len(r) && r[i] == ',' {
		fs.thousands = true
		i++
	}
	if i < len(r) && r[i] == '.' {
		i++
		if i >= len(r) || r[i] < '0' || r[i] > '9' {
			return fs, valueErrorf("Format specifier missing precision")
		}
		fs.precision = 0
		for i < len(r) && r[i] >= '0' && r[i] <= '9' {
			fs.precision = fs.precision*10 + int(r[i]-'0')
			i++
		}
	}
	if i < len(r) {
		fs.verb = r[i]
		i++
	}
	if i != len(r) {
		return fs, valueErrorf("Invalid format specifier '%s'", spec)
	}
	return fs, nil
}

func formatWithSpec(v Value, spec string) (string, error) {
	fs, err := parseFormatSpec(spec)
	if err != nil {
		return "", err
	}
	switch {
	case v.IsInt():
		return fs.formatInt(v.Int())
	case v.IsFloat():
		return fs.formatFloat(v.Float64())
	case v == True, v == False:
		if fs.verb == 0 || fs.verb == 's' {
			return fs.formatStr(Str(v))
		}
		n, _ := intVal(v)
		return fs.formatInt(n)
	case v.IsStr():
		return fs.formatStr(v.StrVal())
	default:
		return fs.formatStr(Str(v))
	}
}

func (fs formatSpec) formatInt(n int64) (string, error) {
	verb := fs.verb
	if verb == 0 {
		verb = 'd'
	}
	neg := n < 0
	abs := n
	if neg {
		abs = -n
	}
	var body string
	switch verb {
	case 'd', 'n':
		body = strconv.FormatInt(abs, 10)
		if fs.thousands {
			body = groupThousands(body)
		}
	case 'b':
		body = strconv.FormatInt(abs, 2)
	case 'o':
		body = strconv.FormatInt(abs, 8)
	case 'x':
		body = strconv.FormatInt(abs, 16)
	case 'X':
		body = strings.ToUpper(strconv.FormatInt(abs, 16))
	case 'e', 'E', 'f', 'F', 'g', 'G', '%':
		return fs.formatFloat(float64(n))
	default:
		return "", valueErrorf("Unknown format code '%c' for object of type 'int'", verb)
	}
	return fs.padNumber(fs.signPrefix(neg), body), nil
}

func (fs formatSpec) formatFloat(f float64) (string, error) {
	verb := fs.verb
	prec := fs.precision
	neg := math.Signbit(f)
	abs := math.Abs(f)

	var body, suffix string
	switch {
	case math.IsNaN(f):
		body, neg = "nan", false
	case math.IsInf(f, 0):
		body = "inf"
	default:
		switch verb {
		case 'f', 'F':
			if prec < 0 {
				prec = 6
			}
			body = strconv.FormatFloat(abs, 'f', prec, 64)
		case 'e':
			if prec < 0 {
				prec = 6
			}
			body = strconv.FormatFloat(abs, 'e', prec, 64)
		case 'E':
			if prec < 0 {
				prec = 6
			}
			body = strconv.FormatFloat(abs, 'E', prec, 64)
		case 'g', 'G', 'n':
			if prec < 0 {
				prec = -1
			}
			body = strconv.FormatFloat(abs, 'g', prec, 64)
			if verb == 'G' {
				body = strings.ToUpper(body)
			}
		case '%':
			if prec < 0 {
				prec = 6
			}
			body = strconv.FormatFloat(abs*100, 'f', prec, 64)
			suffix = "%"
		case 0:
			if prec >= 0 {
				body = strconv.FormatFloat(abs, 'g', prec, 64)
			} else {
				body = Str(FromFloat64(abs))
			}
		default:
			return "", valueErrorf("Unknown format code '%c' for object of type 'float'", verb)
		}
	}
	return fs.padNumber(fs.signPrefix(neg), body+suffix), nil
}

func (fs formatSpec) formatStr(s string) (string, error) {
	if fs.verb != 0 && fs.verb != 's' {
		return "", valueErrorf("Unknown format code '%c' for object of type 'str'", fs.verb)
	}
	if fs.sign != 0 {
		return "", valueErrorf("Sign not allowed in string format specifier")
	}
	if fs.precision >= 0 {
		r := []rune(s)
		if len(r) > fs.precision {
			s = string(r[:fs.precision])
		}
	}
	return fs.pad(s, '<'), nil
}

func (fs formatSpec) signPrefix(neg bool) string {
	switch {
	case neg:
		return "-"
	case fs.sign == '+':
		return "+"
	case fs.sign == ' ':
		return " "
	}
	return ""
}

// pad widens s to the spec's width; defaultAlign applies when the spec
// names none. Width counts characters, not bytes.
func (fs formatSpec) pad(s string, defaultAlign rune) string {
	n := fs.width - utf8.RuneCountInString(s)
	if n <= 0 {
		return s
	}
	align := fs.align
	if align == 0 {
		align = defaultAlign
	}
	fill := string(fs.fill)
	switch align {
	case '<':
		return s + strings.Repeat(fill, n)
	case '^':
		left := n / 2
		return strings.Repeat(fill, left) + s + strings.Repeat(fill, n-left)
	default:
		return strings.Repeat(fill, n) + s
	}
}

// padNumber pads a signed number. Zero padding (and '=' alignment) fill
// between the sign and the digits.
func (fs formatSpec) padNumber(sign, body string) string {
	align := fs.align
	fill := fs.fill
	if fs.zero {
		if align == 0 {
			align = '='
		}
		if fill == ' ' {
			fill = '0'
		}
	}
	if align == '=' {
		if n := fs.width - utf8.RuneCountInString(sign+body); n > 0 {
			return sign + strings.Repeat(string(fill), n) + body
		}
		return sign + body
	}
	fs.fill = fill
	fs.align = align
	return fs.pad(sign+body, '>')
}

// groupThousands inserts comma separators into a run of decimal digits.
func groupThousands(digits string) string {
	if len(digits) <= 3 {
		return digits
	}
	var sb strings.Builder
	lead := len(digits) % 3
	if lead > 0 {
		sb.WriteString(digits[:lead])
	}
	for i := lead; i < len(digits); i += 3 {
		if sb.Len() > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(digits[i : i+3])
	}
	return sb.String()
}

// floorDivInt floors the quotient toward negative infinity.
func floorDivInt(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// floorMod gives the remainder the divisor's sign.
func floorMod(a, b int64) int64 {
	return ((a % b) + b) % b
}

// mulInt multiplies, promoting to float when the product leaves int64.
func mulInt(a, b int64) Value {
	if a == -1 && b == math.MinInt64 || b == -1 && a == math.MinInt64 {
		return FromFloat64(float64(a) * float64(b))
	}
	res := a * b
	if a != 0 && res/a != b {
		return FromFloat64(float64(a) * float64(b))
	}
	return makeInt(res)
}

// powInt raises a to a non-negative integer power by squaring. Reports
// false when an intermediate product leaves int64.
func powInt(a, b int64) (int64, bool) {
	result := int64(1)
	for b > 0 {
		if b&1 == 1 {
			r := result * a
			if a != 0 && result != 0 && r/result != a {
				return 0, false
			}
			result = r
		}
		b >>= 1
		if b > 0 {
			sq := a * a
			if a != 0 && sq/a != a {
				return 0, false
			}
			a = sq
		}
	}
	return result, true
}

func repeatStr(s string, n int64) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat(s, int(n))
}

func repeatSlice(items []Value, n int64) []Value {
	if n <= 0 {
		return nil
	}
	out := make([]Value, 0, int(n)*len(items))
	for i := int64(0); i < n; i++ {
		out = append(out, items...)
	}
	return out
}
