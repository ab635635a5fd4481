package vm

import (
	"fmt"
	"sort"
	"sync"
)

// IntrinsicRegistry maps declared function names to builtin
// implementations. A declared function whose name is registered is bound
// to the builtin and dispatched like any interpreted function.
type IntrinsicRegistry struct {
	mu    sync.RWMutex
	impls map[string]BuiltinFunc
}

// NewIntrinsicRegistry creates a registry holding the exception and stack
// intrinsics.
func NewIntrinsicRegistry() *IntrinsicRegistry {
	r := &IntrinsicRegistry{impls: make(map[string]BuiltinFunc)}
	r.Register("__cxa_throw", cxaThrow)
	r.Register("__cxa_rethrow", cxaRethrow)
	r.Register("__cxa_begin_catch", cxaBeginCatch)
	r.Register("__cxa_end_catch", cxaEndCatch)
	r.Register("llvm.eh.typeid.for", ehTypeIDFor)
	r.Register("_CxxThrowException", cxxThrowException)
	r.Register("llvm.stacksave", stackSave)
	r.Register("llvm.stackrestore", stackRestore)
	return r
}

// Register binds name to impl, replacing any previous binding.
func (r *IntrinsicRegistry) Register(name string, impl BuiltinFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.impls[name] = impl
}

// Lookup returns the builtin registered under name.
func (r *IntrinsicRegistry) Lookup(name string) (BuiltinFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	impl, ok := r.impls[name]
	return impl, ok
}

// Names returns the registered names in order.
func (r *IntrinsicRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.impls))
	for name := range r.impls {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func checkArgs(name string, args []Value, n int) error {
	if len(args) != n+StackArgumentOffset {
		return typeErrorf(nil, "%s expects %d arguments, got %d", name, n, len(args)-StackArgumentOffset)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Itanium
// ---------------------------------------------------------------------------

// __cxa_throw(ptr object, ptr typeinfo, ptr destructor)
func cxaThrow(t *Thread, args []Value) (Value, error) {
	if err := checkArgs("__cxa_throw", args, 3); err != nil {
		return NoValue, err
	}
	token, _ := typeToken(args[2])

	var destructor *Function
	if !args[3].IsNull() {
		if fn, ok := t.rt.resolver.Resolve(args[3]).(InterpretedFunction); ok {
			destructor = fn.Fn
		}
	}
	return NoValue, t.rt.itanium.Throw(t, args[1], token, destructor)
}

// __cxa_rethrow()
func cxaRethrow(t *Thread, args []Value) (Value, error) {
	return NoValue, t.Rethrow()
}

// __cxa_begin_catch(ptr exception) -> ptr object
//
// The exception becomes the top of the thread's slot unless it already is.
// A rethrown exception caught again in an outer frame keeps its handler
// count.
func cxaBeginCatch(t *Thread, args []Value) (Value, error) {
	if err := checkArgs("__cxa_begin_catch", args, 1); err != nil {
		return NoValue, err
	}
	exc, ok := args[1].Exception()
	if !ok {
		return NoValue, internalErrorf("__cxa_begin_catch on %s", args[1])
	}
	if exc.handlers < 0 {
		exc.handlers = -exc.handlers + 1
	} else {
		exc.handlers++
	}
	if t.rethrown == exc {
		t.rethrown = nil
	}
	if top, ok := t.PeekException(); !ok || top != exc {
		t.PushException(exc)
	}
	exc.setState(ExceptionCaught)
	return exc.Object, nil
}

// __cxa_end_catch()
func cxaEndCatch(t *Thread, args []Value) (Value, error) {
	if exc := t.rethrown; exc != nil {
		// The handler ended by rethrowing; the exception is in flight again
		// and is destroyed by whichever handler finally consumes it.
		exc.handlers++
		if exc.handlers >= 0 {
			exc.handlers = 0
			t.rethrown = nil
		}
		return NoValue, nil
	}
	exc, ok := t.PeekException()
	if !ok {
		return NoValue, nil
	}
	exc.handlers--
	if exc.handlers > 0 {
		return NoValue, nil
	}
	exc.handlers = 0
	t.PopException()
	return NoValue, exc.destroy(t)
}

// llvm.eh.typeid.for(ptr typeinfo) -> i32
func ehTypeIDFor(t *Thread, args []Value) (Value, error) {
	if err := checkArgs("llvm.eh.typeid.for", args, 1); err != nil {
		return NoValue, err
	}
	sel, err := t.rt.evaluator.TypeIDFor(args[1])
	if err != nil {
		return NoValue, err
	}
	return FromI32(sel), nil
}

// ---------------------------------------------------------------------------
// SEH
// ---------------------------------------------------------------------------

// _CxxThrowException(ptr object, ptr throwinfo). A null throw info
// rethrows the pending exception.
func cxxThrowException(t *Thread, args []Value) (Value, error) {
	if err := checkArgs("_CxxThrowException", args, 2); err != nil {
		return NoValue, err
	}
	if args[2].IsNull() {
		return NoValue, t.Rethrow()
	}
	addr, err := pointerWord(args[2], nil)
	if err != nil {
		return NoValue, fmt.Errorf("_CxxThrowException: %w", err)
	}
	exc, err := t.rt.seh.Throw(t, args[1], addr, t.rt.config.ImageBase)
	if err != nil {
		return NoValue, err
	}
	return NoValue, exc
}

// ---------------------------------------------------------------------------
// Stack
// ---------------------------------------------------------------------------

// llvm.stacksave() -> ptr
func stackSave(t *Thread, args []Value) (Value, error) {
	return FromAddress(t.Stack.StackPointer()), nil
}

// llvm.stackrestore(ptr)
func stackRestore(t *Thread, args []Value) (Value, error) {
	if err := checkArgs("llvm.stackrestore", args, 1); err != nil {
		return NoValue, err
	}
	sp, err := pointerWord(args[1], nil)
	if err != nil {
		return NoValue, err
	}
	t.Stack.SetStackPointer(sp)
	return NoValue, nil
}
