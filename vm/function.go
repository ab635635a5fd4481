package vm

import (
	"sync"
)

// FunctionID identifies an IR function within a runtime.
type FunctionID uint32

// Invoker is a resolved callable thunk. args always includes the leading
// stack argument.
type Invoker func(t *Thread, args []Value) (Value, error)

// Body executes an interpreted function's IR body. It is supplied by the
// generic interpreter loop.
type Body interface {
	Execute(t *Thread, args []Value) (Value, error)
}

// BodyFunc adapts a plain function to Body.
type BodyFunc func(t *Thread, args []Value) (Value, error)

func (f BodyFunc) Execute(t *Thread, args []Value) (Value, error) {
	return f(t, args)
}

// BuiltinFunc is a pre-registered implementation that stands in for an IR
// body (intrinsics and runtime library functions).
type BuiltinFunc func(t *Thread, args []Value) (Value, error)

// Function is an interpreted IR function.
type Function struct {
	ID     FunctionID
	Name   string
	Type   *FunctionType
	Symbol uint64 // externally visible native address, 0 if none

	Body    Body
	Builtin BuiltinFunc

	thunkOnce sync.Once
	thunk     Invoker
}

// IsBuiltin reports whether fn is implemented by a registered builtin.
func (fn *Function) IsBuiltin() bool {
	return fn.Builtin != nil
}

// directCall returns the direct-call thunk bound to fn's body, building it
// once. Arguments are passed through unconverted.
func (fn *Function) directCall() Invoker {
	fn.thunkOnce.Do(func() {
		switch {
		case fn.Builtin != nil:
			impl := fn.Builtin
			fn.thunk = func(t *Thread, args []Value) (Value, error) {
				t.rt.profiler.RecordInvocation(fn)
				return impl(t, args)
			}
		case fn.Body != nil:
			body := fn.Body
			fn.thunk = func(t *Thread, args []Value) (Value, error) {
				t.rt.profiler.RecordInvocation(fn)
				return body.Execute(t, args)
			}
		default:
			fn.thunk = func(t *Thread, args []Value) (Value, error) {
				return NoValue, &TargetResolutionError{
					Value:  FromFunction(fn),
					Reason: "function " + fn.Name + " is declared but has no body",
				}
			}
		}
	})
	return fn.thunk
}
