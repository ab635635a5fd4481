package vm

import (
	"fmt"
)

// ---------------------------------------------------------------------------
// Frames and expressions
// ---------------------------------------------------------------------------

// Frame holds the SSA slots of an executing function.
type Frame struct {
	Slots []Value
}

// NewFrame creates a frame with n empty slots.
func NewFrame(n int) *Frame {
	return &Frame{Slots: make([]Value, n)}
}

func (f *Frame) load(slot int) (Value, error) {
	if slot < 0 || slot >= len(f.Slots) {
		return NoValue, internalErrorf("frame slot %d out of range (%d slots)", slot, len(f.Slots))
	}
	return f.Slots[slot], nil
}

func (f *Frame) store(slot int, v Value) error {
	if slot < 0 || slot >= len(f.Slots) {
		return internalErrorf("frame slot %d out of range (%d slots)", slot, len(f.Slots))
	}
	f.Slots[slot] = v
	return nil
}

// Expr is an operand evaluated by the generic interpreter loop.
type Expr interface {
	Eval(t *Thread, f *Frame) (Value, error)
}

// Constant is an immediate operand.
type Constant struct {
	V Value
}

func (c Constant) Eval(t *Thread, f *Frame) (Value, error) { return c.V, nil }

// SlotRef reads a frame slot.
type SlotRef int

func (s SlotRef) Eval(t *Thread, f *Frame) (Value, error) { return f.load(int(s)) }

// StackArg evaluates to the thread's current stack pointer. It is the
// conventional first argument of every call.
type StackArg struct{}

func (StackArg) Eval(t *Thread, f *Frame) (Value, error) {
	return FromAddress(t.Stack.StackPointer()), nil
}

// PhiWrite is one SSA join assignment performed on a control edge.
type PhiWrite struct {
	Slot  int
	Value Expr
}

// runPhis evaluates every phi value before writing any of them.
func runPhis(t *Thread, f *Frame, phis []PhiWrite) error {
	if len(phis) == 0 {
		return nil
	}
	vals := make([]Value, len(phis))
	for i, phi := range phis {
		v, err := phi.Value.Eval(t, f)
		if err != nil {
			return err
		}
		vals[i] = v
	}
	for i, phi := range phis {
		if err := f.store(phi.Slot, vals[i]); err != nil {
			return err
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Call
// ---------------------------------------------------------------------------

// CallNode is a plain call. Failures in the callee propagate unchanged.
type CallNode struct {
	Site   *CallSite
	Callee Expr
	Args   []Expr // includes the stack argument
}

// Execute evaluates the callee and arguments left to right, prepares each
// argument for its declared type and dispatches.
func (n *CallNode) Execute(t *Thread, f *Frame) (Value, error) {
	callee, err := n.Callee.Eval(t, f)
	if err != nil {
		return NoValue, err
	}
	args := make([]Value, len(n.Args))
	for i, arg := range n.Args {
		v, err := arg.Eval(t, f)
		if err != nil {
			return NoValue, err
		}
		if args[i], err = prepareArgument(n.Site.Type.ParamType(i), v); err != nil {
			if te, ok := err.(*TypeError); ok {
				te.Site = n.Site.Name
			}
			return NoValue, err
		}
	}
	return t.rt.dispatcher.Call(t, n.Site, callee, args)
}

// prepareArgument coerces v to the declared parameter type. Integers are
// re-widthed, floats widened or narrowed, and 64-bit integers passed as
// pointers become addresses. Untyped trailing arguments pass unchanged.
func prepareArgument(ty *Type, v Value) (Value, error) {
	if ty == nil || v.IsNone() {
		return v, nil
	}
	switch ty.Kind {
	case TypeI1, TypeI8, TypeI16, TypeI32, TypeI64:
		switch v.Kind() {
		case KindInt:
			if v.Width() == ty.Bits() {
				return v, nil
			}
			return FromInt(ty.Bits(), v.Int()), nil
		case KindAddress:
			if ty.Kind == TypeI64 {
				return FromI64(int64(v.Address())), nil
			}
		}
		return NoValue, typeErrorf(ty, "cannot pass %s as an integer", v)
	case TypeFloat:
		switch v.Kind() {
		case KindFloat:
			return v, nil
		case KindDouble:
			return FromFloat32(float32(v.Float64())), nil
		}
		return NoValue, typeErrorf(ty, "cannot pass %s as a float", v)
	case TypeDouble:
		switch v.Kind() {
		case KindDouble:
			return v, nil
		case KindFloat:
			return FromFloat64(float64(v.Float32())), nil
		}
		return NoValue, typeErrorf(ty, "cannot pass %s as a double", v)
	case TypePointer:
		if v.Kind() == KindInt && v.Width() == 64 {
			return FromAddress(v.Uint()), nil
		}
	}
	return v, nil
}

// ---------------------------------------------------------------------------
// Invoke
// ---------------------------------------------------------------------------

// InvokeNode is a call with an explicit exception edge. Execute returns
// the index of the successor to transfer to.
type InvokeNode struct {
	Call *CallNode

	ResultSlot    int // -1 discards the result
	ExceptionSlot int // receives the exception on the unwind edge, -1 none

	Normal     int
	Unwind     int
	NormalPhis []PhiWrite
	UnwindPhis []PhiWrite
}

// Execute performs the call. On return the result slot and the normal
// phis are written and the normal edge is counted. On an exception the
// exception slot and the unwind phis are written. Fatal errors are
// returned without taking either edge.
func (n *InvokeNode) Execute(t *Thread, f *Frame) (int, error) {
	v, err := n.Call.Execute(t, f)
	if err != nil {
		exc, ok := AsException(t, err)
		if !ok {
			return -1, err
		}
		exc.setState(ExceptionPropagating)
		if n.ExceptionSlot >= 0 {
			if err := f.store(n.ExceptionSlot, FromException(exc)); err != nil {
				return -1, err
			}
		}
		if err := runPhis(t, f, n.UnwindPhis); err != nil {
			return -1, err
		}
		return n.Unwind, nil
	}

	n.Call.Site.profile.recordNormal()
	if n.ResultSlot >= 0 {
		if err := f.store(n.ResultSlot, v); err != nil {
			return -1, err
		}
	}
	if err := runPhis(t, f, n.NormalPhis); err != nil {
		return -1, err
	}
	return n.Normal, nil
}

// ---------------------------------------------------------------------------
// Landing pad, catch switch, resume
// ---------------------------------------------------------------------------

// exceptionAt reads the in-flight exception from a frame slot. Anything
// else in the slot is an internal error.
func exceptionAt(f *Frame, slot int) (*ExceptionRecord, error) {
	v, err := f.load(slot)
	if err != nil {
		return nil, err
	}
	exc, ok := v.Exception()
	if !ok {
		return nil, internalErrorf("exception slot %d holds %s", slot, v)
	}
	return exc, nil
}

// LandingPadNode evaluates a landing pad against the exception delivered
// by an invoke's unwind edge.
type LandingPadNode struct {
	Pad           *LandingPad
	ExceptionSlot int
	SelectorSlot  int // -1 discards the selector
}

// Execute returns the landing pad result. When nothing matches and the pad
// has no cleanup the exception is returned as the error.
func (n *LandingPadNode) Execute(t *Thread, f *Frame) (LandingPadResult, error) {
	exc, err := exceptionAt(f, n.ExceptionSlot)
	if err != nil {
		return LandingPadResult{}, err
	}
	res, err := t.rt.evaluator.Evaluate(t, exc, n.Pad)
	if err != nil {
		return LandingPadResult{}, err
	}
	if n.SelectorSlot >= 0 {
		if err := f.store(n.SelectorSlot, FromI32(res.Selector)); err != nil {
			return LandingPadResult{}, err
		}
	}
	return res, nil
}

// CatchSwitchNode evaluates an SEH catch switch.
type CatchSwitchNode struct {
	Switch        *CatchSwitch
	ExceptionSlot int
}

// Execute returns the index of the block to transfer to.
func (n *CatchSwitchNode) Execute(t *Thread, f *Frame) (int, error) {
	exc, err := exceptionAt(f, n.ExceptionSlot)
	if err != nil {
		return -1, err
	}
	return t.rt.evaluator.EvaluateCatchSwitch(t, exc, n.Switch)
}

// ResumeNode re-raises the exception held in a frame slot after a cleanup
// landing pad has run.
type ResumeNode struct {
	ExceptionSlot int
}

func (n *ResumeNode) Execute(t *Thread, f *Frame) error {
	exc, err := exceptionAt(f, n.ExceptionSlot)
	if err != nil {
		return err
	}
	return Resume(LandingPadResult{Header: &exc.Header, Exception: exc})
}

func (n *InvokeNode) String() string {
	return fmt.Sprintf("invoke %s to %d unwind %d", n.Call.Site.Name, n.Normal, n.Unwind)
}
