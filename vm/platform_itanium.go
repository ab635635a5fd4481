package vm

// ItaniumOps implements the "type informs catch" model: a handler catches
// an exception when the thrown type derives from the declared catch type.
type ItaniumOps struct {
	types *TypeInfoRegistry
}

// NewItaniumOps creates the Itanium model over types.
func NewItaniumOps(types *TypeInfoRegistry) *ItaniumOps {
	return &ItaniumOps{types: types}
}

func (o *ItaniumOps) Model() ExceptionModel { return ItaniumModel }

// Throw creates an exception for object of the type named by token.
// destructor, when set, is called with the object when the exception is
// destroyed.
func (o *ItaniumOps) Throw(t *Thread, object Value, token TypeIdentity, destructor *Function) *ExceptionRecord {
	exc := &ExceptionRecord{
		Header:       UnwindHeader{ExceptionClass: CxxExceptionClass},
		Type:         token,
		StackPointer: t.Stack.StackPointer(),
		Object:       object,
		state:        ExceptionThrown,
	}
	if ti, ok := o.types.Lookup(token); ok {
		exc.TypeName = ti.Name
	}
	if destructor != nil {
		exc.Header.Cleanup = func(t *Thread) error {
			_, err := t.rt.invoke(t, destructor, object)
			return err
		}
	}
	return exc
}

func (o *ItaniumOps) CanCatch(t *Thread, exc *ExceptionRecord, catchType Value) (bool, error) {
	if exc.IsForeign() {
		return catchesForeign(o.types, catchType), nil
	}
	token, null := typeToken(catchType)
	if null {
		return true, nil
	}
	if token == exc.Type {
		return true, nil
	}
	thrown, ok := o.types.Lookup(exc.Type)
	if !ok {
		return false, nil
	}
	declared, ok := o.types.Lookup(token)
	if !ok {
		return false, nil
	}
	return thrown.derivesFrom(declared), nil
}

// CopyException is a no-op: Itanium handlers reach the object through
// __cxa_begin_catch.
func (o *ItaniumOps) CopyException(t *Thread, exc *ExceptionRecord, pad *CatchPadEntry) error {
	return nil
}

func (o *ItaniumOps) Unwind(t *Thread, exc *ExceptionRecord) error {
	return exc.destroy(t)
}
