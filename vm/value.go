package vm

import (
	"math"
	"unsafe"
)

// Value represents a Pyrite runtime value using NaN-boxing.
//
// All values are represented as 64-bit IEEE 754 doubles. Non-float values
// are encoded in the NaN (Not-a-Number) space using the quiet NaN prefix
// and tag bits to distinguish types.
//
// Encoding scheme:
//   - Float: Native IEEE 754 double (if not a NaN, it's a float)
//   - SmallInt: Quiet NaN + tagInt + 48-bit signed payload
//   - Object: Quiet NaN + tagObject + 48-bit pointer to a heap Object
//   - Special: Quiet NaN + tagSpecial + special value ID (none/true/false)
//   - Cell: Quiet NaN + tagCell + 48-bit pointer to a mutable Cell
type Value uint64

// NaN-boxing constants
const (
	// Quiet NaN prefix: exponent all 1s, quiet bit set, sign bit 0
	nanBits uint64 = 0x7FF8000000000000

	// Tag mask: 3 bits within the NaN mantissa space
	tagMask uint64 = 0x0007000000000000

	// Payload mask: 48 bits for pointer/int/id
	payloadMask uint64 = 0x0000FFFFFFFFFFFF

	// Tag values (shifted into position)
	tagObject  uint64 = 0x0001000000000000 // Heap object pointer
	tagInt     uint64 = 0x0002000000000000 // 48-bit signed integer
	tagSpecial uint64 = 0x0003000000000000 // none, true, false
	tagCell    uint64 = 0x0004000000000000 // Mutable cell for captured variables

	// Sign bit for 48-bit integer sign extension
	intSignBit uint64 = 0x0000800000000000

	// Mask for sign extension
	intSignExtend uint64 = 0xFFFF000000000000
)

// Special value payloads
const (
	specialNone  uint64 = 0
	specialTrue  uint64 = 1
	specialFalse uint64 = 2
)

// Pre-defined special values
const (
	None  Value = Value(nanBits | tagSpecial | specialNone)
	True  Value = Value(nanBits | tagSpecial | specialTrue)
	False Value = Value(nanBits | tagSpecial | specialFalse)
)

// SmallInt range (48-bit signed)
const (
	MaxSmallInt int64 = (1 << 47) - 1
	MinSmallInt int64 = -(1 << 47)
)

// ---------------------------------------------------------------------------
// Type checking
// ---------------------------------------------------------------------------

// IsFloat returns true if v represents a float64 value.
// A value is a float if it's not one of our tagged NaN values.
// This includes regular numbers, infinities, and "real" NaN values.
func (v Value) IsFloat() bool {
	bits := uint64(v)

	// Exponent not all 1s: a regular float.
	if (bits & 0x7FF0000000000000) != 0x7FF0000000000000 {
		return true
	}

	// Exponent all 1s. Infinity has zero mantissa (ignoring sign).
	mantissa := bits & 0x000FFFFFFFFFFFFF
	if mantissa == 0 {
		return true
	}

	// A NaN. Signaling NaNs and untagged quiet NaNs are genuine floats.
	if (bits & nanBits) != nanBits {
		return true
	}
	if bits&tagMask == 0 {
		return true
	}

	// One of our tagged non-float values.
	return false
}

// IsInt returns true if v represents a small integer.
func (v Value) IsInt() bool {
	return (uint64(v) & (nanBits | tagMask)) == (nanBits | tagInt)
}

// IsObject returns true if v represents a heap object pointer.
func (v Value) IsObject() bool {
	return (uint64(v) & (nanBits | tagMask)) == (nanBits | tagObject)
}

// IsNone returns true if v is the none value.
func (v Value) IsNone() bool {
	return v == None
}

// IsBool returns true if v is true or false.
func (v Value) IsBool() bool {
	return v == True || v == False
}

// IsSpecial returns true if v is none, true, or false.
func (v Value) IsSpecial() bool {
	return (uint64(v) & (nanBits | tagMask)) == (nanBits | tagSpecial)
}

// ---------------------------------------------------------------------------
// Float operations
// ---------------------------------------------------------------------------

// Float64 returns v as a float64.
// Panics if v is not a float.
func (v Value) Float64() float64 {
	if !v.IsFloat() {
		panic("Value.Float64: not a float")
	}
	return math.Float64frombits(uint64(v))
}

// FromFloat64 creates a Value from a float64.
func FromFloat64(f float64) Value {
	return Value(math.Float64bits(f))
}

// ---------------------------------------------------------------------------
// Integer operations
// ---------------------------------------------------------------------------

// Int returns v as an int64.
// Panics if v is not a small integer.
func (v Value) Int() int64 {
	if !v.IsInt() {
		panic("Value.Int: not an integer")
	}
	payload := uint64(v) & payloadMask

	// Sign extend from 48 bits to 64 bits
	if (payload & intSignBit) != 0 {
		payload |= intSignExtend
	}
	return int64(payload)
}

// FromInt creates a Value from an int64.
// Panics if n is outside the SmallInt range.
func FromInt(n int64) Value {
	if n > MaxSmallInt || n < MinSmallInt {
		panic("FromInt: value out of range")
	}
	return Value(nanBits | tagInt | (uint64(n) & payloadMask))
}

// TryFromInt creates a Value from an int64, returning false if out of range.
func TryFromInt(n int64) (Value, bool) {
	if n > MaxSmallInt || n < MinSmallInt {
		return None, false
	}
	return Value(nanBits | tagInt | (uint64(n) & payloadMask)), true
}

// ---------------------------------------------------------------------------
// Object pointer operations
// ---------------------------------------------------------------------------

// objectRegistry keeps heap objects alive to prevent Go's GC from collecting
// them. When an Object pointer is packed into a Value's payload bits, Go can
// no longer track the reference, so this registry maintains a Go-visible one.
var objectRegistry = make(map[*Object]struct{})

// Object returns the heap Object v points to.
// Panics if v is not an object.
func (v Value) Object() *Object {
	if !v.IsObject() {
		panic("Value.Object: not an object")
	}
	ptr := uintptr(uint64(v) & payloadMask)
	return (*Object)(unsafe.Pointer(ptr))
}

// FromObject creates a Value from an Object pointer and registers the
// object so it survives garbage collection. The pointer must fit in 48
// bits (true for all current architectures).
func FromObject(obj *Object) Value {
	objectRegistry[obj] = struct{}{}
	return Value(nanBits | tagObject | (uint64(uintptr(unsafe.Pointer(obj))) & payloadMask))
}

// ---------------------------------------------------------------------------
// Boolean operations
// ---------------------------------------------------------------------------

// Bool returns v as a bool.
// Panics if v is not true or false.
func (v Value) Bool() bool {
	switch v {
	case True:
		return true
	case False:
		return false
	default:
		panic("Value.Bool: not a boolean")
	}
}

// FromBool creates a Value from a bool.
func FromBool(b bool) Value {
	if b {
		return True
	}
	return False
}

// ---------------------------------------------------------------------------
// Cells (mutable boxes for captured variables)
// ---------------------------------------------------------------------------

// Cell is a heap-allocated mutable container for a single Value. A nested
// function's closure references the same cell object as the enclosing
// frame, so mutation through either is visible to both.
type Cell struct {
	Value Value
}

// cellRegistry keeps cells alive, same rationale as objectRegistry.
var cellRegistry = make(map[*Cell]struct{})

// IsCell returns true if v represents a mutable cell.
func (v Value) IsCell() bool {
	return (uint64(v) & (nanBits | tagMask)) == (nanBits | tagCell)
}

// CellPtr returns the Cell pointer from a cell value.
// Panics if v is not a cell.
func (v Value) CellPtr() *Cell {
	if !v.IsCell() {
		panic("Value.CellPtr: not a cell")
	}
	ptr := uint64(v) & payloadMask
	return (*Cell)(unsafe.Pointer(uintptr(ptr)))
}

// NewCell creates a new Cell containing the given value.
func NewCell(v Value) Value {
	cell := &Cell{Value: v}
	cellRegistry[cell] = struct{}{} // Keep alive
	ptr := uint64(uintptr(unsafe.Pointer(cell)))
	return Value(nanBits | tagCell | (ptr & payloadMask))
}

// CellGet returns the value stored in the cell.
func (v Value) CellGet() Value {
	return v.CellPtr().Value
}

// CellSet stores a value in the cell.
func (v Value) CellSet(newValue Value) {
	v.CellPtr().Value = newValue
}
