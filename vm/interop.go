package vm

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
)

// ---------------------------------------------------------------------------
// ForeignObject: values owned by another embedded language
// ---------------------------------------------------------------------------

// Foreign objects are Go values reached through the interop protocol. A
// foreign object is callable when it implements Executable or holds a Go
// func; it is pointer-like when it implements PointerLike.

// Executable is the foreign call protocol.
type Executable interface {
	Execute(args ...any) (any, error)
}

// PointerLike is implemented by foreign values that stand for a native
// address.
type PointerLike interface {
	AsPointer() (uint64, bool)
}

// NativeAddress is a raw native pointer in the foreign value domain.
type NativeAddress uint64

// AsPointer implements PointerLike.
func (a NativeAddress) AsPointer() (uint64, bool) { return uint64(a), true }

// ForeignSignature is interop metadata declaring how a callable foreign
// type is typed.
type ForeignSignature struct {
	Params   []*Type
	Ret      *Type
	Variadic bool
}

// InteropType describes a registered foreign type.
type InteropType struct {
	ID        uint16
	Name      string
	GoType    reflect.Type
	Signature *ForeignSignature
}

// ForeignObject wraps a foreign value with its interop metadata, if any.
type ForeignObject struct {
	Type  *InteropType
	Value any
}

// TypeName returns the interop name of the object's type.
func (o *ForeignObject) TypeName() string {
	switch {
	case o == nil || o.Value == nil:
		return "nil"
	case o.Type != nil:
		return o.Type.Name
	default:
		return reflect.TypeOf(o.Value).String()
	}
}

func (o *ForeignObject) callable() bool {
	if o == nil || o.Value == nil {
		return false
	}
	if _, ok := o.Value.(Executable); ok {
		return true
	}
	return reflect.TypeOf(o.Value).Kind() == reflect.Func
}

// ---------------------------------------------------------------------------
// InteropRegistry
// ---------------------------------------------------------------------------

// InteropRegistry maps Go types to interop metadata.
// Thread-safe for concurrent registration and lookup.
type InteropRegistry struct {
	mu     sync.RWMutex
	types  map[uint16]*InteropType
	byType map[reflect.Type]uint16
	nextID uint16

	callbacks sync.Map // callbackKey -> *Callback
}

// NewInteropRegistry creates an empty registry.
func NewInteropRegistry() *InteropRegistry {
	return &InteropRegistry{
		types:  make(map[uint16]*InteropType),
		byType: make(map[reflect.Type]uint16),
		nextID: 1, // 0 means unregistered
	}
}

// Register adds a Go type with optional call metadata. If the type is
// already registered, the existing entry is returned.
func (r *InteropRegistry) Register(name string, goType reflect.Type, sig *ForeignSignature) *InteropType {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.byType[goType]; ok {
		return r.types[id]
	}

	info := &InteropType{
		ID:        r.nextID,
		Name:      name,
		GoType:    goType,
		Signature: sig,
	}
	r.nextID++
	r.types[info.ID] = info
	r.byType[goType] = info.ID
	return info
}

// Lookup returns the type info for a given type ID.
func (r *InteropRegistry) Lookup(id uint16) *InteropType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.types[id]
}

// LookupByType returns the type info for a given Go reflect.Type.
func (r *InteropRegistry) LookupByType(goType reflect.Type) *InteropType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byType[goType]
	if !ok {
		return nil
	}
	return r.types[id]
}

// Count returns the number of registered types.
func (r *InteropRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.types)
}

// Wrap creates a foreign object for v, attaching registered metadata.
func (r *InteropRegistry) Wrap(v any) *ForeignObject {
	obj := &ForeignObject{Value: v}
	if v != nil {
		obj.Type = r.LookupByType(reflect.TypeOf(v))
	}
	return obj
}

// metadata returns the interop type of obj, looking it up when the object
// was wrapped before its type was registered.
func (r *InteropRegistry) metadata(obj *ForeignObject) *InteropType {
	if obj.Type != nil || obj.Value == nil {
		return obj.Type
	}
	return r.LookupByType(reflect.TypeOf(obj.Value))
}

// ---------------------------------------------------------------------------
// Callbacks: interpreted functions escaping into the foreign domain
// ---------------------------------------------------------------------------

type callbackKey struct {
	thread *Thread
	fn     *Function
}

// Callback is an interpreted function handed to foreign code. Calling it
// dispatches back through the engine on the thread that created it; it
// must only be called while that thread is blocked in the foreign call.
type Callback struct {
	thread *Thread
	fn     *Function
	site   *CallSite
}

// Function returns the interpreted function behind the callback.
func (cb *Callback) Function() *Function { return cb.fn }

// Call converts args, dispatches the function and converts the result
// back to the foreign domain.
func (cb *Callback) Call(args ...any) (any, error) {
	t := cb.thread
	interop := t.rt.Interop

	vals := make([]Value, 0, len(args)+StackArgumentOffset)
	vals = append(vals, FromAddress(t.Stack.StackPointer()))
	for i, arg := range args {
		v, err := interop.FromForeign(arg, cb.fn.Type.ParamType(i+StackArgumentOffset))
		if err != nil {
			return nil, fmt.Errorf("callback %s: argument %d: %w", cb.fn.Name, i+1, err)
		}
		vals = append(vals, v)
	}

	res, err := t.rt.dispatcher.Dispatch(t, cb.site, InterpretedFunction{Fn: cb.fn}, vals)
	if err != nil {
		return nil, err
	}
	if cb.fn.Type.Ret == nil || cb.fn.Type.Ret.Kind == TypeVoid {
		return nil, nil
	}
	return interop.ToForeign(t, res, cb.fn.Type.Ret)
}

// Execute implements Executable.
func (cb *Callback) Execute(args ...any) (any, error) {
	return cb.Call(args...)
}

func (r *InteropRegistry) callback(t *Thread, fn *Function) *Callback {
	key := callbackKey{thread: t, fn: fn}
	if cb, ok := r.callbacks.Load(key); ok {
		return cb.(*Callback)
	}
	cb := &Callback{
		thread: t,
		fn:     fn,
		site:   t.rt.NewCallSite("callback "+fn.Name, fn.Type),
	}
	actual, _ := r.callbacks.LoadOrStore(key, cb)
	return actual.(*Callback)
}

// forgetThread drops the callbacks created by t.
func (r *InteropRegistry) forgetThread(t *Thread) {
	r.callbacks.Range(func(key, _ any) bool {
		if key.(callbackKey).thread == t {
			r.callbacks.Delete(key)
		}
		return true
	})
}

// ---------------------------------------------------------------------------
// Foreign call protocol
// ---------------------------------------------------------------------------

var (
	contextInterface = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorInterface   = reflect.TypeOf((*error)(nil)).Elem()
)

// callForeign invokes a callable foreign object. A panic in the callee and
// a non-engine error it returns both become foreign exception records.
// Guest exceptions and fatal errors raised by callbacks pass through
// unchanged, whether they were returned or panicked.
func callForeign(t *Thread, obj *ForeignObject, args []any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = foreignPanic(t, obj, r)
		}
	}()

	if exec, ok := obj.Value.(Executable); ok {
		result, err = exec.Execute(args...)
	} else {
		result, err = callReflect(t, obj, reflect.ValueOf(obj.Value), args)
	}
	if err != nil {
		return nil, foreignError(t, err)
	}
	return result, nil
}

// foreignError classifies an error returned by a foreign callee.
func foreignError(t *Thread, err error) error {
	if IsFatal(err) {
		return err
	}
	var exc *ExceptionRecord
	if errors.As(err, &exc) {
		return exc
	}
	var te *TypeError
	if errors.As(err, &te) {
		return err
	}
	return newForeignException(t, err, err)
}

// foreignPanic classifies a value recovered from a foreign callee. Callbacks
// adapted to Go func types without an error result report failures by
// panicking with the error.
func foreignPanic(t *Thread, obj *ForeignObject, r any) error {
	e, ok := r.(error)
	if !ok {
		return newForeignException(t, r, fmt.Errorf("panic in foreign %s: %v", obj.TypeName(), r))
	}
	if IsFatal(e) {
		return e
	}
	var exc *ExceptionRecord
	if errors.As(e, &exc) {
		return exc
	}
	var te *TypeError
	if errors.As(e, &te) {
		return e
	}
	return newForeignException(t, r, fmt.Errorf("panic in foreign %s: %w", obj.TypeName(), e))
}

// callReflect calls a Go func value. A leading context.Context parameter
// receives the thread context; a trailing error result is returned as the
// call error.
func callReflect(t *Thread, obj *ForeignObject, fn reflect.Value, args []any) (any, error) {
	fnType := fn.Type()
	name := obj.TypeName()

	start := 0
	var in []reflect.Value
	if fnType.NumIn() > 0 && fnType.In(0).Implements(contextInterface) {
		in = append(in, reflect.ValueOf(t.Context()))
		start = 1
	}
	numIn := fnType.NumIn() - start

	if fnType.IsVariadic() {
		if len(args) < numIn-1 {
			return nil, typeErrorf(nil, "%s: expected at least %d argument(s), got %d", name, numIn-1, len(args))
		}
	} else if len(args) != numIn {
		return nil, typeErrorf(nil, "%s: expected %d argument(s), got %d", name, numIn, len(args))
	}

	for i, arg := range args {
		var target reflect.Type
		if fnType.IsVariadic() && i >= numIn-1 {
			target = fnType.In(fnType.NumIn() - 1).Elem()
		} else {
			target = fnType.In(start + i)
		}
		rv, err := goArgument(arg, target)
		if err != nil {
			return nil, typeErrorf(nil, "%s: argument %d: %v", name, i+1, err)
		}
		in = append(in, rv)
	}

	out := fn.Call(in)

	if n := len(out); n > 0 && fnType.Out(n-1).Implements(errorInterface) {
		if errVal := out[n-1]; !errVal.IsNil() {
			return nil, errVal.Interface().(error)
		}
		out = out[:n-1]
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out[0].Interface(), nil
}

// goArgument converts an escaped foreign value to the Go type a func
// parameter expects.
func goArgument(arg any, target reflect.Type) (reflect.Value, error) {
	if arg == nil {
		switch target.Kind() {
		case reflect.Ptr, reflect.Interface, reflect.Func, reflect.Map, reflect.Slice, reflect.Chan:
			return reflect.Zero(target), nil
		}
		return reflect.Value{}, fmt.Errorf("nil is not assignable to %s", target)
	}
	rv := reflect.ValueOf(arg)
	if rv.Type().AssignableTo(target) {
		return rv, nil
	}
	if isNumericKind(rv.Kind()) && isNumericKind(target.Kind()) {
		return rv.Convert(target), nil
	}
	if cb, ok := arg.(*Callback); ok && target.Kind() == reflect.Func {
		return callbackFunc(cb, target), nil
	}
	return reflect.Value{}, fmt.Errorf("%s is not assignable to %s", rv.Type(), target)
}

// callbackFunc adapts a callback to a Go func type. A failure, including a
// result that does not convert to the func's result type, is returned
// through a trailing error result or raised as a panic when there is none.
func callbackFunc(cb *Callback, target reflect.Type) reflect.Value {
	return reflect.MakeFunc(target, func(in []reflect.Value) []reflect.Value {
		args := make([]any, len(in))
		for i, v := range in {
			args[i] = v.Interface()
		}
		res, err := cb.Call(args...)

		out := make([]reflect.Value, target.NumOut())
		for i := range out {
			out[i] = reflect.Zero(target.Out(i))
		}
		n := len(out)
		hasErr := n > 0 && target.Out(n-1).Implements(errorInterface)
		if hasErr {
			n--
		}
		if err == nil && n > 0 && res != nil {
			rv, convErr := goArgument(res, target.Out(0))
			if convErr != nil {
				err = typeErrorf(nil, "callback %s: result: %v", cb.fn.Name, convErr)
			} else {
				out[0] = rv
			}
		}
		if err != nil {
			if !hasErr {
				panic(err)
			}
			for i := 0; i < n; i++ {
				out[i] = reflect.Zero(target.Out(i))
			}
			out[len(out)-1] = reflect.ValueOf(&err).Elem()
		}
		return out
	})
}

func isNumericKind(k reflect.Kind) bool {
	switch k {
	case reflect.Bool:
		return false
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}
