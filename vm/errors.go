package vm

import (
	"errors"
	"fmt"
)

// TargetResolutionError reports a call operand that cannot be turned into
// a callable target.
type TargetResolutionError struct {
	Value  Value
	Reason string
}

func (e *TargetResolutionError) Error() string {
	return fmt.Sprintf("cannot resolve call target %s: %s", e.Value, e.Reason)
}

// InvalidFunctionPointerError reports a call through a null, corrupted or
// unknown native pointer.
type InvalidFunctionPointerError struct {
	Pointer uint64
}

func (e *InvalidFunctionPointerError) Error() string {
	return fmt.Sprintf("invalid function pointer: 0x%x", e.Pointer)
}

// TypeError reports a value or declared type that cannot cross a
// representation boundary.
type TypeError struct {
	Site   string
	Type   *Type
	Reason string
}

func (e *TypeError) Error() string {
	msg := e.Reason
	if e.Type != nil {
		msg = fmt.Sprintf("%s (type %s)", msg, e.Type)
	}
	if e.Site != "" {
		return fmt.Sprintf("type error at %s: %s", e.Site, msg)
	}
	return "type error: " + msg
}

func typeErrorf(ty *Type, format string, args ...any) *TypeError {
	return &TypeError{Type: ty, Reason: fmt.Sprintf(format, args...)}
}

// NativeCallError wraps a failure reported by a native callee.
type NativeCallError struct {
	Symbol string
	Err    error
}

func (e *NativeCallError) Error() string {
	return fmt.Sprintf("native call %s failed: %v", e.Symbol, e.Err)
}

func (e *NativeCallError) Unwrap() error { return e.Err }

// FatalKind classifies non-recoverable failures.
type FatalKind uint8

const (
	// FatalRethrow is a rethrow with no pending exception.
	FatalRethrow FatalKind = iota + 1
	// FatalInternal is an engine invariant violation.
	FatalInternal
)

// FatalError is never routed to an unwind edge or a handler.
type FatalError struct {
	Kind   FatalKind
	Reason string
}

func (e *FatalError) Error() string {
	switch e.Kind {
	case FatalRethrow:
		return "fatal: " + e.Reason
	default:
		return "fatal internal error: " + e.Reason
	}
}

func internalErrorf(format string, args ...any) *FatalError {
	return &FatalError{Kind: FatalInternal, Reason: fmt.Sprintf(format, args...)}
}

// IsFatal reports whether err is, or wraps, a FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}
