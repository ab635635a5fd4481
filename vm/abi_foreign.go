package vm

import (
	"reflect"
)

// ---------------------------------------------------------------------------
// Foreign value marshaling
// ---------------------------------------------------------------------------

// foreignConverter escapes one argument into the foreign domain.
type foreignConverter func(t *Thread, v Value) (any, error)

// foreignConverterFor selects the escape strategy for a declared parameter
// type once. A nil type selects the generic escape.
func (r *InteropRegistry) foreignConverterFor(ty *Type) (foreignConverter, error) {
	if ty == nil {
		return r.Escape, nil
	}
	if ty.IsStructured() || ty.Kind == TypeVoid {
		return nil, typeErrorf(ty, "type cannot be passed to a foreign callee")
	}
	return func(t *Thread, v Value) (any, error) {
		return r.ToForeign(t, v, ty)
	}, nil
}

// ToForeign converts v to the foreign value for the declared type ty.
// Integers become Go integers of the same width, i1 becomes bool, and
// pointers become NativeAddress, *Callback or the managed object.
func (r *InteropRegistry) ToForeign(t *Thread, v Value, ty *Type) (any, error) {
	if ty == nil {
		return r.Escape(t, v)
	}
	switch ty.Kind {
	case TypeI1, TypeI8, TypeI16, TypeI32, TypeI64:
		if v.Kind() != KindInt {
			return nil, typeErrorf(ty, "cannot pass %s as an integer", v)
		}
		n := FromInt(ty.Bits(), v.Int())
		switch ty.Kind {
		case TypeI1:
			return n.Bool(), nil
		case TypeI8:
			return int8(n.Int()), nil
		case TypeI16:
			return int16(n.Int()), nil
		case TypeI32:
			return int32(n.Int()), nil
		default:
			return n.Int(), nil
		}
	case TypeFloat:
		if v.Kind() != KindFloat {
			return nil, typeErrorf(ty, "cannot pass %s as a float", v)
		}
		return v.Float32(), nil
	case TypeDouble:
		if v.Kind() != KindDouble {
			return nil, typeErrorf(ty, "cannot pass %s as a double", v)
		}
		return v.Float64(), nil
	case TypePointer:
		return r.escapePointer(t, v)
	}
	return nil, typeErrorf(ty, "type has no foreign representation")
}

// Escape converts v to a foreign value without a declared type. It is
// used for untyped and variadic trailing arguments.
func (r *InteropRegistry) Escape(t *Thread, v Value) (any, error) {
	switch v.Kind() {
	case KindNone:
		return nil, nil
	case KindInt:
		switch v.Width() {
		case 1:
			return v.Bool(), nil
		case 8:
			return int8(v.Int()), nil
		case 16:
			return int16(v.Int()), nil
		case 32:
			return int32(v.Int()), nil
		default:
			return v.Int(), nil
		}
	case KindFloat:
		return v.Float32(), nil
	case KindDouble:
		return v.Float64(), nil
	}
	return r.escapePointer(t, v)
}

func (r *InteropRegistry) escapePointer(t *Thread, v Value) (any, error) {
	switch v.Kind() {
	case KindAddress:
		if v.Address() == 0 {
			return nil, nil
		}
		return NativeAddress(v.Address()), nil
	case KindInt:
		if v.Width() == 64 {
			return NativeAddress(v.Uint()), nil
		}
	case KindHandle:
		obj, offset := v.Handle()
		switch o := obj.(type) {
		case nil:
			if offset == 0 {
				return nil, nil
			}
			return NativeAddress(uint64(offset)), nil
		case *Function:
			if offset == 0 {
				if t == nil {
					return nil, typeErrorf(Ptr, "function %s escapes without a thread", o.Name)
				}
				return r.callback(t, o), nil
			}
		case *ExceptionRecord:
			return o, nil
		default:
			if offset == 0 {
				return o, nil
			}
		}
	case KindForeign:
		fo := v.Foreign()
		if fo == nil {
			return nil, nil
		}
		return fo.Value, nil
	}
	return nil, typeErrorf(Ptr, "cannot pass %s as a foreign pointer", v)
}

// FromForeign converts a foreign result to a value of the declared type
// ty. Void yields NoValue without inspecting obj. A nil ty selects the
// generic conversion.
func (r *InteropRegistry) FromForeign(obj any, ty *Type) (Value, error) {
	if ty == nil {
		return r.fromForeignGeneric(obj)
	}
	switch ty.Kind {
	case TypeVoid:
		return NoValue, nil
	case TypeI1, TypeI8, TypeI16, TypeI32, TypeI64:
		if obj == nil {
			return NoValue, typeErrorf(ty, "foreign nil is not an integer")
		}
		rv := reflect.ValueOf(obj)
		switch rv.Kind() {
		case reflect.Bool:
			if rv.Bool() {
				return FromInt(ty.Bits(), 1), nil
			}
			return FromInt(ty.Bits(), 0), nil
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			return FromInt(ty.Bits(), rv.Int()), nil
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
			return FromInt(ty.Bits(), int64(rv.Uint())), nil
		}
		return NoValue, typeErrorf(ty, "foreign %T is not an integer", obj)
	case TypeFloat, TypeDouble:
		if obj == nil {
			return NoValue, typeErrorf(ty, "foreign nil is not a number")
		}
		rv := reflect.ValueOf(obj)
		if rv.Kind() != reflect.Float32 && rv.Kind() != reflect.Float64 {
			return NoValue, typeErrorf(ty, "foreign %T is not a floating point value", obj)
		}
		if ty.Kind == TypeFloat {
			return FromFloat32(float32(rv.Float())), nil
		}
		return FromFloat64(rv.Float()), nil
	case TypePointer:
		// Raw native pointers skip the general wrapping path.
		if addr, ok := obj.(NativeAddress); ok {
			return FromAddress(uint64(addr)), nil
		}
		return r.pointerFromForeign(obj), nil
	}
	return NoValue, typeErrorf(ty, "foreign value cannot be returned as this type")
}

func (r *InteropRegistry) pointerFromForeign(obj any) Value {
	switch o := obj.(type) {
	case nil:
		return NullPointer
	case uintptr:
		return FromAddress(uint64(o))
	case *Callback:
		return FromFunction(o.fn)
	case *Function:
		return FromFunction(o)
	case *ExceptionRecord:
		return FromException(o)
	case *ForeignObject:
		return FromForeign(o)
	}
	return FromForeign(r.Wrap(obj))
}

func (r *InteropRegistry) fromForeignGeneric(obj any) (Value, error) {
	switch o := obj.(type) {
	case nil:
		return NoValue, nil
	case bool:
		return FromBool(o), nil
	case int8:
		return FromI8(o), nil
	case int16:
		return FromI16(o), nil
	case int32:
		return FromI32(o), nil
	case int64:
		return FromI64(o), nil
	case int:
		return FromI64(int64(o)), nil
	case uint8:
		return FromInt(8, int64(o)), nil
	case uint16:
		return FromInt(16, int64(o)), nil
	case uint32:
		return FromInt(32, int64(o)), nil
	case uint64:
		return FromInt(64, int64(o)), nil
	case float32:
		return FromFloat32(o), nil
	case float64:
		return FromFloat64(o), nil
	case NativeAddress:
		return FromAddress(uint64(o)), nil
	}
	return r.pointerFromForeign(obj), nil
}
