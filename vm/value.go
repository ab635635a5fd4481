package vm

import (
	"fmt"
	"math"
)

// ValueKind identifies the representation held by a Value.
type ValueKind uint8

const (
	KindNone    ValueKind = iota // the "no value" constant (void results)
	KindInt                      // integer of width 1, 8, 16, 32 or 64
	KindFloat                    // IEEE 754 single
	KindDouble                   // IEEE 754 double
	KindAddress                  // raw native address
	KindHandle                   // managed object plus byte offset
	KindForeign                  // object owned by another language
)

func (k ValueKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindDouble:
		return "double"
	case KindAddress:
		return "address"
	case KindHandle:
		return "handle"
	case KindForeign:
		return "foreign"
	}
	return fmt.Sprintf("ValueKind(%d)", uint8(k))
}

// Value is the interpreter's internal value representation.
//
// Integers are stored truncated to their width and sign-extended on read.
// Floats are stored as their IEEE bit patterns. Handles carry a managed
// object (a *Function for function handles) and a byte offset; addresses
// carry a plain native word.
type Value struct {
	kind  ValueKind
	width uint8
	bits  uint64
	ref   any
}

// NoValue is returned by calls to void functions.
var NoValue = Value{}

// NullPointer is the null native address.
var NullPointer = Value{kind: KindAddress}

// ---------------------------------------------------------------------------
// Constructors
// ---------------------------------------------------------------------------

// FromInt creates an integer value of the given bit width.
// Panics if width is not 1, 8, 16, 32 or 64.
func FromInt(width uint8, n int64) Value {
	switch width {
	case 1, 8, 16, 32, 64:
	default:
		panic(fmt.Sprintf("vm.FromInt: invalid width %d", width))
	}
	return Value{kind: KindInt, width: width, bits: uint64(n) & widthMask(width)}
}

// FromBool creates an i1 value.
func FromBool(b bool) Value {
	if b {
		return FromInt(1, 1)
	}
	return FromInt(1, 0)
}

func FromI8(n int8) Value   { return FromInt(8, int64(n)) }
func FromI16(n int16) Value { return FromInt(16, int64(n)) }
func FromI32(n int32) Value { return FromInt(32, int64(n)) }
func FromI64(n int64) Value { return FromInt(64, n) }

// FromFloat32 creates a float value.
func FromFloat32(f float32) Value {
	return Value{kind: KindFloat, bits: uint64(math.Float32bits(f))}
}

// FromFloat64 creates a double value.
func FromFloat64(f float64) Value {
	return Value{kind: KindDouble, bits: math.Float64bits(f)}
}

// FromAddress creates a raw native address value.
func FromAddress(addr uint64) Value {
	return Value{kind: KindAddress, bits: addr}
}

// FromHandle creates a managed handle to obj at the given byte offset.
func FromHandle(obj any, offset int64) Value {
	return Value{kind: KindHandle, bits: uint64(offset), ref: obj}
}

// FromFunction creates a bound function handle with a zero offset.
func FromFunction(fn *Function) Value {
	return FromHandle(fn, 0)
}

// FromException creates a handle to an in-flight exception record.
func FromException(exc *ExceptionRecord) Value {
	return FromHandle(exc, 0)
}

// FromForeign creates a value wrapping an object of another language.
func FromForeign(obj *ForeignObject) Value {
	return Value{kind: KindForeign, ref: obj}
}

// ---------------------------------------------------------------------------
// Accessors
// ---------------------------------------------------------------------------

// Kind returns the representation kind of v.
func (v Value) Kind() ValueKind { return v.kind }

// Width returns the bit width of an integer value, 0 otherwise.
func (v Value) Width() uint8 { return v.width }

// IsNone reports whether v is the "no value" constant.
func (v Value) IsNone() bool { return v.kind == KindNone }

// Int returns an integer value sign-extended to 64 bits.
func (v Value) Int() int64 {
	if v.kind != KindInt {
		panic("Value.Int: not an integer")
	}
	if v.width == 64 {
		return int64(v.bits)
	}
	shift := 64 - uint(v.width)
	return int64(v.bits<<shift) >> shift
}

// Uint returns an integer value zero-extended to 64 bits.
func (v Value) Uint() uint64 {
	if v.kind != KindInt {
		panic("Value.Uint: not an integer")
	}
	return v.bits
}

// Bool returns the low bit of an integer value.
func (v Value) Bool() bool {
	return v.Uint()&1 != 0
}

// Float32 returns v as a float32.
func (v Value) Float32() float32 {
	if v.kind != KindFloat {
		panic("Value.Float32: not a float")
	}
	return math.Float32frombits(uint32(v.bits))
}

// Float64 returns v as a float64.
func (v Value) Float64() float64 {
	if v.kind != KindDouble {
		panic("Value.Float64: not a double")
	}
	return math.Float64frombits(v.bits)
}

// Address returns the native address held by v.
func (v Value) Address() uint64 {
	if v.kind != KindAddress {
		panic("Value.Address: not an address")
	}
	return v.bits
}

// Handle returns the managed object and byte offset held by v.
func (v Value) Handle() (any, int64) {
	if v.kind != KindHandle {
		panic("Value.Handle: not a handle")
	}
	return v.ref, int64(v.bits)
}

// Function returns the function behind a bound function handle with a
// zero offset.
func (v Value) Function() (*Function, bool) {
	if v.kind != KindHandle || v.bits != 0 {
		return nil, false
	}
	fn, ok := v.ref.(*Function)
	return fn, ok
}

// Exception returns the exception record behind an exception handle.
func (v Value) Exception() (*ExceptionRecord, bool) {
	if v.kind != KindHandle {
		return nil, false
	}
	exc, ok := v.ref.(*ExceptionRecord)
	return exc, ok
}

// Foreign returns the foreign object held by v.
func (v Value) Foreign() *ForeignObject {
	if v.kind != KindForeign {
		panic("Value.Foreign: not a foreign value")
	}
	return v.ref.(*ForeignObject)
}

// IsNull reports whether v is a null pointer: the zero address or a handle
// without an object.
func (v Value) IsNull() bool {
	switch v.kind {
	case KindAddress:
		return v.bits == 0
	case KindHandle:
		return v.ref == nil && v.bits == 0
	case KindForeign:
		fo, _ := v.ref.(*ForeignObject)
		return fo == nil || fo.Value == nil
	}
	return false
}

// Equal reports whether v and other hold the same value. Handles and
// foreign values compare by object identity; floats compare by bits.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind || v.width != other.width || v.bits != other.bits {
		return false
	}
	switch v.kind {
	case KindHandle, KindForeign:
		return sameObject(v.ref, other.ref)
	}
	return true
}

func sameObject(a, b any) bool {
	defer func() { _ = recover() }()
	return a == b
}

func (v Value) String() string {
	switch v.kind {
	case KindNone:
		return "void"
	case KindInt:
		return fmt.Sprintf("i%d %d", v.width, v.Int())
	case KindFloat:
		return fmt.Sprintf("float %g", v.Float32())
	case KindDouble:
		return fmt.Sprintf("double %g", v.Float64())
	case KindAddress:
		return fmt.Sprintf("ptr 0x%x", v.bits)
	case KindHandle:
		switch obj := v.ref.(type) {
		case *Function:
			if v.bits == 0 {
				return "fn @" + obj.Name
			}
			return fmt.Sprintf("fn @%s+%d", obj.Name, int64(v.bits))
		case *ExceptionRecord:
			return "exception " + obj.Error()
		case nil:
			return "handle null"
		default:
			return fmt.Sprintf("handle %T+%d", obj, int64(v.bits))
		}
	case KindForeign:
		fo, _ := v.ref.(*ForeignObject)
		return "foreign " + fo.TypeName()
	}
	return fmt.Sprintf("Value(%d)", uint8(v.kind))
}

func widthMask(width uint8) uint64 {
	if width >= 64 {
		return math.MaxUint64
	}
	return (uint64(1) << width) - 1
}
