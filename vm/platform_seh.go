package vm

import (
	"fmt"
)

// SEHOps implements the "catchable-type copy" model: the throw info lists
// every type the object can be caught as, and a catch pad copies the
// object into its handler slot.
type SEHOps struct {
	types *TypeInfoRegistry
}

// NewSEHOps creates the SEH model over types.
func NewSEHOps(types *TypeInfoRegistry) *SEHOps {
	return &SEHOps{types: types}
}

func (o *SEHOps) Model() ExceptionModel { return SEHModel }

// Throw creates an exception for object described by the throw info at
// throwInfoAddr. A pending exception on the thread is unwound first.
func (o *SEHOps) Throw(t *Thread, object Value, throwInfoAddr, imageBase uint64) (*ExceptionRecord, error) {
	if pending, ok := t.PopException(); ok {
		if err := o.Unwind(t, pending); err != nil {
			return nil, fmt.Errorf("unwinding pending exception: %w", err)
		}
	}

	info, ok := o.types.ThrowInfoAt(imageBase, throwInfoAddr)
	if !ok || len(info.CatchableTypes) == 0 {
		return nil, typeErrorf(nil, "no throw info at 0x%x (image base 0x%x)", throwInfoAddr, imageBase)
	}
	thrown := info.CatchableTypes[0].Type

	exc := &ExceptionRecord{
		Header:       UnwindHeader{ExceptionClass: SEHExceptionCode},
		Type:         thrown.Token,
		TypeName:     thrown.Name,
		StackPointer: t.Stack.StackPointer(),
		Platform: &SEHExtras{
			ImageBase:     imageBase,
			ThrowInfoAddr: throwInfoAddr,
			ThrowInfo:     info,
		},
		Object: object,
		state:  ExceptionThrown,
	}
	if info.Destructor != nil {
		destructor := info.Destructor
		exc.Header.Cleanup = func(t *Thread) error {
			_, err := t.rt.invoke(t, destructor, object)
			return err
		}
	}
	return exc, nil
}

// catchable returns the catchable type of exc matching catchType.
func (o *SEHOps) catchable(exc *ExceptionRecord, catchType Value) (*CatchableType, bool) {
	if exc.Platform == nil || exc.Platform.ThrowInfo == nil {
		return nil, false
	}
	token, _ := typeToken(catchType)
	cts := exc.Platform.ThrowInfo.CatchableTypes
	for i := range cts {
		if cts[i].Type.Token == token {
			return &cts[i], true
		}
	}
	return nil, false
}

func (o *SEHOps) CanCatch(t *Thread, exc *ExceptionRecord, catchType Value) (bool, error) {
	if exc.IsForeign() {
		return catchesForeign(o.types, catchType), nil
	}
	if _, null := typeToken(catchType); null {
		return true, nil
	}
	_, ok := o.catchable(exc, catchType)
	return ok, nil
}

// CopyException stores the caught object into the pad's slot: a pointer
// for by-reference catches, the copy constructor when the type has one,
// a bitwise copy otherwise.
func (o *SEHOps) CopyException(t *Thread, exc *ExceptionRecord, pad *CatchPadEntry) error {
	if pad.Slot.IsNone() || pad.Slot.IsNull() {
		return nil
	}
	dst, err := pointerWord(pad.Slot, t.rt.Handles)
	if err != nil {
		return err
	}
	src, err := pointerWord(exc.Object, t.rt.Handles)
	if err != nil {
		return err
	}

	mem := t.rt.Memory
	if pad.Attributes&AttrReference != 0 {
		if mem == nil {
			return internalErrorf("catch by reference without a memory collaborator")
		}
		return mem.StorePointer(dst, src)
	}

	ct, ok := o.catchable(exc, pad.CatchType)
	if !ok {
		// Catch-all with a slot receives the object pointer.
		if mem == nil {
			return internalErrorf("catch-all copy without a memory collaborator")
		}
		return mem.StorePointer(dst, src)
	}
	if ct.CopyFunction != nil {
		_, err := t.rt.invoke(t, ct.CopyFunction, FromAddress(dst), FromAddress(src))
		return err
	}
	if mem == nil {
		return internalErrorf("bitwise catch copy without a memory collaborator")
	}
	return mem.Copy(dst, src, ct.Size, pad.Attributes)
}

func (o *SEHOps) Unwind(t *Thread, exc *ExceptionRecord) error {
	return exc.destroy(t)
}
