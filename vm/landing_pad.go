package vm

// ---------------------------------------------------------------------------
// Handler entries
// ---------------------------------------------------------------------------

// HandlerEntry is one clause of a landing pad or catch switch.
type HandlerEntry interface {
	selector(t *Thread, ev *LandingPadEvaluator, exc *ExceptionRecord) (int32, error)
}

// CatchEntry catches exceptions of CatchType or a type derived from it. A
// null CatchType catches everything.
type CatchEntry struct {
	CatchType Value
}

func (c *CatchEntry) selector(t *Thread, ev *LandingPadEvaluator, exc *ExceptionRecord) (int32, error) {
	return ev.catchSelector(t, exc, c.CatchType)
}

// FilterEntry excludes the listed types. It reports -1 when the thrown
// type is not excluded, 0 when it is. A null type in the list matches
// anything and forces -1.
type FilterEntry struct {
	Types []Value
}

func (f *FilterEntry) selector(t *Thread, ev *LandingPadEvaluator, exc *ExceptionRecord) (int32, error) {
	for _, ty := range f.Types {
		if _, null := typeToken(ty); null {
			return SelectorFilter, nil
		}
	}
	for _, ty := range f.Types {
		ok, err := ev.ops.CanCatch(t, exc, ty)
		if err != nil {
			return 0, err
		}
		if ok {
			return SelectorNoMatch, nil
		}
	}
	return SelectorFilter, nil
}

// CatchPadEntry is a catch clause of an SEH catch switch. On a match the
// caught object is copied into Slot according to Attributes, and control
// goes to Target.
type CatchPadEntry struct {
	CatchType  Value
	Attributes CatchAttributes
	Slot       Value
	Target     int
}

func (p *CatchPadEntry) selector(t *Thread, ev *LandingPadEvaluator, exc *ExceptionRecord) (int32, error) {
	return ev.catchSelector(t, exc, p.CatchType)
}

// ---------------------------------------------------------------------------
// Evaluator
// ---------------------------------------------------------------------------

// LandingPad is the ordered handler list of a frame.
type LandingPad struct {
	Cleanup bool
	Entries []HandlerEntry
}

// LandingPadResult is what a landing pad hands to the handler body. A zero
// Selector means only the cleanup matched and the handler must end with
// Resume.
type LandingPadResult struct {
	Header    *UnwindHeader
	Selector  int32
	Exception *ExceptionRecord
}

// CatchSwitch is the ordered catch pad list of an SEH frame.
// UnwindTarget is -1 when the switch unwinds to the caller.
type CatchSwitch struct {
	Handlers     []*CatchPadEntry
	UnwindTarget int
}

// LandingPadEvaluator selects handlers. The ordering and selector rules
// are shared by both exception models.
type LandingPadEvaluator struct {
	ops   PlatformExceptionOps
	types *TypeInfoRegistry
}

// NewLandingPadEvaluator creates an evaluator for ops.
func NewLandingPadEvaluator(ops PlatformExceptionOps, types *TypeInfoRegistry) *LandingPadEvaluator {
	return &LandingPadEvaluator{ops: ops, types: types}
}

// Ops returns the platform operations.
func (ev *LandingPadEvaluator) Ops() PlatformExceptionOps { return ev.ops }

func (ev *LandingPadEvaluator) catchSelector(t *Thread, exc *ExceptionRecord, catchType Value) (int32, error) {
	token, null := typeToken(catchType)
	if null {
		return SelectorCatchAll, nil
	}
	ok, err := ev.ops.CanCatch(t, exc, catchType)
	if err != nil || !ok {
		return SelectorNoMatch, err
	}
	return ev.types.SelectorFor(token)
}

// Select tests entries in order and returns the index and selector of the
// first nonzero result, or -1 and 0 when nothing matched.
func (ev *LandingPadEvaluator) Select(t *Thread, exc *ExceptionRecord, entries []HandlerEntry) (int, int32, error) {
	for i, e := range entries {
		sel, err := e.selector(t, ev, exc)
		if err != nil {
			return -1, 0, err
		}
		if sel != SelectorNoMatch {
			return i, sel, nil
		}
	}
	return -1, SelectorNoMatch, nil
}

// Evaluate runs pad against exc. With no matching entry and no cleanup the
// exception is returned as the error and keeps propagating. Otherwise the
// result is handed to the handler body; a cleanup-only result must be
// passed to Resume.
func (ev *LandingPadEvaluator) Evaluate(t *Thread, exc *ExceptionRecord, pad *LandingPad) (LandingPadResult, error) {
	_, sel, err := ev.Select(t, exc, pad.Entries)
	if err != nil {
		return LandingPadResult{}, err
	}
	if sel == SelectorNoMatch && !pad.Cleanup {
		exc.setState(ExceptionPropagating)
		return LandingPadResult{}, exc
	}
	return LandingPadResult{Header: &exc.Header, Selector: sel, Exception: exc}, nil
}

// Resume re-raises the exception of a landing pad result once its cleanup
// has run.
func Resume(res LandingPadResult) error {
	if res.Exception == nil {
		return internalErrorf("resume without an exception")
	}
	res.Exception.setState(ExceptionPropagating)
	return res.Exception
}

// EvaluateCatchSwitch selects the catch pad for exc and returns its target.
// The stack pointer is reset to its value at the throw before the caught
// object is copied. Without a match the switch's unwind target is
// returned, or the exception keeps propagating.
func (ev *LandingPadEvaluator) EvaluateCatchSwitch(t *Thread, exc *ExceptionRecord, cs *CatchSwitch) (int, error) {
	entries := make([]HandlerEntry, len(cs.Handlers))
	for i, h := range cs.Handlers {
		entries[i] = h
	}
	idx, _, err := ev.Select(t, exc, entries)
	if err != nil {
		return -1, err
	}
	if idx < 0 {
		exc.setState(ExceptionPropagating)
		if cs.UnwindTarget >= 0 {
			return cs.UnwindTarget, nil
		}
		return -1, exc
	}

	pad := cs.Handlers[idx]
	t.Stack.SetStackPointer(exc.StackPointer)
	if err := ev.ops.CopyException(t, exc, pad); err != nil {
		return -1, err
	}
	if t.rethrown == exc {
		t.rethrown = nil
	}
	t.PushException(exc)
	exc.setState(ExceptionCaught)
	return pad.Target, nil
}

// TypeIDFor returns the selector a matching catch clause for catchType
// produces.
func (ev *LandingPadEvaluator) TypeIDFor(catchType Value) (int32, error) {
	token, null := typeToken(catchType)
	if null {
		return SelectorCatchAll, nil
	}
	return ev.types.SelectorFor(token)
}
