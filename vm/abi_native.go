package vm

import (
	"github.com/tetratelabs/wazero/api"
)

// ---------------------------------------------------------------------------
// Native word marshaling
// ---------------------------------------------------------------------------
//
// Native arguments and results travel as uint64 words using the wazero
// encoding: i1, i8, i16 and i32 are i32 words (sign-extended), i64 and
// pointers are i64 words, float and double carry their IEEE bits.
// Structured types have no single-word representation.

// wordEncoder converts one interpreter value to a native word.
type wordEncoder func(v Value) (uint64, error)

// wordDecoder converts one native word back to an interpreter value.
type wordDecoder func(w uint64) Value

// nativeValueType returns the word type a declared IR type travels as.
func nativeValueType(ty *Type) (api.ValueType, error) {
	if ty == nil {
		return 0, typeErrorf(ty, "untyped argument has no native representation")
	}
	switch ty.Kind {
	case TypeI1, TypeI8, TypeI16, TypeI32:
		return api.ValueTypeI32, nil
	case TypeI64, TypePointer:
		return api.ValueTypeI64, nil
	case TypeFloat:
		return api.ValueTypeF32, nil
	case TypeDouble:
		return api.ValueTypeF64, nil
	}
	return 0, typeErrorf(ty, "type has no native word representation")
}

// nativeEncoder selects the encoder for ty once. handles, when non-nil,
// lets managed objects without a native symbol travel as handle
// addresses.
func nativeEncoder(ty *Type, handles *HandleTable) (wordEncoder, error) {
	if _, err := nativeValueType(ty); err != nil {
		return nil, err
	}
	switch ty.Kind {
	case TypeI1, TypeI8, TypeI16, TypeI32:
		width := ty.Bits()
		return func(v Value) (uint64, error) {
			if v.Kind() != KindInt {
				return 0, typeErrorf(ty, "cannot pass %s as an integer", v)
			}
			n := FromInt(width, v.Int()).Int()
			return api.EncodeI32(int32(n)), nil
		}, nil
	case TypeI64:
		return func(v Value) (uint64, error) {
			switch v.Kind() {
			case KindInt:
				return api.EncodeI64(v.Int()), nil
			case KindAddress:
				return v.Address(), nil
			}
			return 0, typeErrorf(ty, "cannot pass %s as an integer", v)
		}, nil
	case TypeFloat:
		return func(v Value) (uint64, error) {
			if v.Kind() != KindFloat {
				return 0, typeErrorf(ty, "cannot pass %s as a float", v)
			}
			return api.EncodeF32(v.Float32()), nil
		}, nil
	case TypeDouble:
		return func(v Value) (uint64, error) {
			if v.Kind() != KindDouble {
				return 0, typeErrorf(ty, "cannot pass %s as a double", v)
			}
			return api.EncodeF64(v.Float64()), nil
		}, nil
	default: // TypePointer
		return func(v Value) (uint64, error) {
			return pointerWord(v, handles)
		}, nil
	}
}

// nativeDecoder selects the decoder for ty once. Void has no decoder.
func nativeDecoder(ty *Type) (wordDecoder, error) {
	if ty == nil || ty.Kind == TypeVoid {
		return nil, nil
	}
	if _, err := nativeValueType(ty); err != nil {
		return nil, err
	}
	switch ty.Kind {
	case TypeI1:
		return func(w uint64) Value { return FromInt(1, int64(api.DecodeU32(w)&1)) }, nil
	case TypeI8, TypeI16, TypeI32:
		width := ty.Bits()
		return func(w uint64) Value { return FromInt(width, int64(api.DecodeI32(w))) }, nil
	case TypeI64:
		return func(w uint64) Value { return FromI64(int64(w)) }, nil
	case TypeFloat:
		return func(w uint64) Value { return FromFloat32(api.DecodeF32(w)) }, nil
	case TypeDouble:
		return func(w uint64) Value { return FromFloat64(api.DecodeF64(w)) }, nil
	default: // TypePointer
		return FromAddress, nil
	}
}

// pointerWord returns the native address a pointer-typed value travels as.
func pointerWord(v Value, handles *HandleTable) (uint64, error) {
	switch v.Kind() {
	case KindAddress:
		return v.Address(), nil
	case KindInt:
		if v.Width() == 64 {
			return v.Uint(), nil
		}
	case KindHandle:
		obj, offset := v.Handle()
		if obj == nil {
			return uint64(offset), nil
		}
		if fn, ok := obj.(*Function); ok && fn.Symbol != 0 {
			return fn.Symbol + uint64(offset), nil
		}
		if handles != nil {
			if addr := handles.Register(obj); addr != 0 {
				return addr + uint64(offset), nil
			}
			return 0, typeErrorf(Ptr, "handle range exhausted")
		}
		return 0, typeErrorf(Ptr, "%s has no native address", v)
	case KindForeign:
		fo := v.Foreign()
		if fo == nil || fo.Value == nil {
			return 0, nil
		}
		if p, ok := fo.Value.(PointerLike); ok {
			if addr, ok := p.AsPointer(); ok {
				return addr, nil
			}
		}
		if handles != nil {
			if addr := handles.Register(fo); addr != 0 {
				return addr, nil
			}
		}
		return 0, typeErrorf(Ptr, "foreign %s has no native address", fo.TypeName())
	}
	return 0, typeErrorf(Ptr, "cannot pass %s as a pointer", v)
}

// ToNative converts v to the native word for ty.
func ToNative(v Value, ty *Type) (uint64, error) {
	enc, err := nativeEncoder(ty, nil)
	if err != nil {
		return 0, err
	}
	return enc(v)
}

// FromNative converts a native word of type ty back to a value. A void
// type yields NoValue.
func FromNative(w uint64, ty *Type) (Value, error) {
	dec, err := nativeDecoder(ty)
	if err != nil {
		return NoValue, err
	}
	if dec == nil {
		return NoValue, nil
	}
	return dec(w), nil
}
