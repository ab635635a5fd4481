package vm

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func newTestRuntime(t *testing.T) (*Runtime, *Thread) {
	t.Helper()
	return newTestRuntimeWith(t, DefaultConfig())
}

func newTestRuntimeWith(t *testing.T, cfg Config) (*Runtime, *Thread) {
	t.Helper()
	rt := NewRuntime(cfg)
	return rt, rt.NewThread(context.Background())
}

// sp is the stack argument every call carries first.
func sp(th *Thread) Value {
	return FromAddress(th.Stack.StackPointer())
}

// instantiateHost builds a host module with wazero and places its exports
// in the runtime's native library at base.
func instantiateHost(t *testing.T, rt *Runtime, name string, base uint64, exports map[string]any) api.Module {
	t.Helper()
	ctx := context.Background()
	r := wazero.NewRuntime(ctx)
	t.Cleanup(func() { r.Close(ctx) })

	b := r.NewHostModuleBuilder(name)
	for export, fn := range exports {
		b = b.NewFunctionBuilder().WithFunc(fn).Export(export)
	}
	mod, err := b.Instantiate(ctx)
	if err != nil {
		t.Fatalf("instantiate %s: %v", name, err)
	}
	if _, err := rt.Natives.Load(mod, base); err != nil {
		t.Fatalf("load %s: %v", name, err)
	}
	return mod
}

func mustAddress(t *testing.T, rt *Runtime, qualified string) uint64 {
	t.Helper()
	addr, ok := rt.Natives.AddressOf(qualified)
	if !ok {
		t.Fatalf("no native symbol %s", qualified)
	}
	return addr
}

// ---------------------------------------------------------------------------
// Interpreted targets
// ---------------------------------------------------------------------------

func TestDispatchInterpretedReusesOneEntry(t *testing.T) {
	rt, th := newTestRuntime(t)
	fn := rt.DefineFunction("inc", Signature(I32, I32), BodyFunc(func(t *Thread, args []Value) (Value, error) {
		return FromI32(int32(args[1].Int() + 1)), nil
	}), 0)
	site := rt.NewCallSite("call inc", fn.Type)

	for i := int32(0); i < 3; i++ {
		got, err := rt.Call(th, site, FromFunction(fn), sp(th), FromI32(i))
		if err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
		want, _ := fn.Body.Execute(th, []Value{sp(th), FromI32(i)})
		if !got.Equal(want) {
			t.Errorf("call %d = %s, want %s", i, got, want)
		}
	}

	ic := site.Cache()
	if ic.Len() != 1 || ic.State() != CacheMonomorphic {
		t.Errorf("cache = %d entries (%s), want 1 monomorphic", ic.Len(), ic.State())
	}
	if site.Specializations() != 1 {
		t.Errorf("Specializations = %d, want 1", site.Specializations())
	}
	if ic.Hits() != 2 {
		t.Errorf("Hits = %d, want 2", ic.Hits())
	}
	if n := rt.Profiler().Invocations(fn); n != 3 {
		t.Errorf("Invocations = %d, want 3", n)
	}
}

func TestDispatchThroughSymbolAddress(t *testing.T) {
	rt, th := newTestRuntime(t)
	fn := rt.DefineFunction("answer", Signature(I64), BodyFunc(func(t *Thread, args []Value) (Value, error) {
		return FromI64(42), nil
	}), 0x5000)
	site := rt.NewCallSite("call answer", fn.Type)

	got, err := rt.Call(th, site, FromAddress(0x5000), sp(th))
	if err != nil {
		t.Fatal(err)
	}
	if got.Int() != 42 {
		t.Errorf("result = %s, want 42", got)
	}
	// The address and the handle name the same cache entry.
	if _, err := rt.Call(th, site, FromFunction(fn), sp(th)); err != nil {
		t.Fatal(err)
	}
	if site.Cache().Len() != 1 {
		t.Errorf("cache Len = %d, want 1", site.Cache().Len())
	}
}

func TestDispatchRemappedAddressInvalidates(t *testing.T) {
	rt, th := newTestRuntime(t)
	ret := func(n int64) Body {
		return BodyFunc(func(t *Thread, args []Value) (Value, error) { return FromI64(n), nil })
	}
	rt.DefineFunction("first", Signature(I64), ret(1), 0x6000)
	second := rt.DefineFunction("second", Signature(I64), ret(2), 0)
	site := rt.NewCallSite("call through pointer", Signature(I64))

	got, err := rt.Call(th, site, FromAddress(0x6000), sp(th))
	if err != nil || got.Int() != 1 {
		t.Fatalf("before remap = %s, %v; want 1", got, err)
	}

	rt.Symbols.Bind(0x6000, second)

	got, err = rt.Call(th, site, FromAddress(0x6000), sp(th))
	if err != nil || got.Int() != 2 {
		t.Fatalf("after remap = %s, %v; want 2", got, err)
	}
	st := site.Stats()
	if !st.Degraded {
		t.Error("remapping should degrade the site to generic dispatch")
	}
	if st.Invalidations != 1 {
		t.Errorf("Invalidations = %d, want 1", st.Invalidations)
	}

	got, err = rt.Call(th, site, FromAddress(0x6000), sp(th))
	if err != nil || got.Int() != 2 {
		t.Fatalf("generic call = %s, %v; want 2", got, err)
	}
}

func TestDispatchDeclaredWithoutBody(t *testing.T) {
	rt, th := newTestRuntime(t)
	fn := rt.DeclareFunction("external", Signature(Void), 0)
	site := rt.NewCallSite("call external", fn.Type)

	_, err := rt.Call(th, site, FromFunction(fn), sp(th))
	var tre *TargetResolutionError
	if !errors.As(err, &tre) {
		t.Fatalf("err = %v, want *TargetResolutionError", err)
	}
}

func TestDispatchStackOverflow(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxCallDepth = 8
	rt, th := newTestRuntimeWith(t, cfg)

	var site *CallSite
	var fn *Function
	fn = rt.DefineFunction("recurse", Signature(Void), BodyFunc(func(t *Thread, args []Value) (Value, error) {
		return t.Runtime().Call(t, site, FromFunction(fn), args[0])
	}), 0)
	site = rt.NewCallSite("call recurse", fn.Type)

	_, err := rt.Call(th, site, FromFunction(fn), sp(th))
	var so *StackOverflowError
	if !errors.As(err, &so) {
		t.Fatalf("err = %v, want *StackOverflowError", err)
	}
	if so.Depth != 8 {
		t.Errorf("overflow depth = %d, want 8", so.Depth)
	}
	if th.Depth() != 0 {
		t.Errorf("Depth after unwinding = %d, want 0", th.Depth())
	}
	if frames := th.Stack.(*LinearStack).Frames(); frames != 0 {
		t.Errorf("Frames after unwinding = %d, want 0", frames)
	}
}

func TestDispatchRestoresStackPointer(t *testing.T) {
	rt, th := newTestRuntime(t)
	stack := th.Stack.(*LinearStack)
	fn := rt.DefineFunction("alloca", Signature(Ptr), BodyFunc(func(t *Thread, args []Value) (Value, error) {
		addr, err := stack.Allocate(64, 16)
		return FromAddress(addr), err
	}), 0)
	site := rt.NewCallSite("call alloca", fn.Type)

	before := stack.StackPointer()
	got, err := rt.Call(th, site, FromFunction(fn), sp(th))
	if err != nil {
		t.Fatal(err)
	}
	if got.Address() >= before {
		t.Errorf("allocation at 0x%x is not below 0x%x", got.Address(), before)
	}
	if stack.StackPointer() != before {
		t.Errorf("stack pointer = 0x%x after the call, want 0x%x", stack.StackPointer(), before)
	}
}

// ---------------------------------------------------------------------------
// Native targets
// ---------------------------------------------------------------------------

func TestDispatchNativeSkipsStackArgument(t *testing.T) {
	rt, th := newTestRuntime(t)
	instantiateHost(t, rt, "math", 0x1000, map[string]any{
		"sub": func(ctx context.Context, a, b int32) int32 { return a - b },
	})
	addr := mustAddress(t, rt, "math.sub")
	site := rt.NewCallSite("call sub", Signature(I32, I32, I32))

	got, err := rt.Call(th, site, FromAddress(addr), sp(th), FromI32(50), FromI32(8))
	if err != nil {
		t.Fatal(err)
	}
	if got.Int() != 42 {
		t.Errorf("sub(50, 8) = %s, want 42", got)
	}
	if site.Bindings() != 1 || rt.Natives.Binds() != 1 {
		t.Errorf("bindings = %d (runtime %d), want 1", site.Bindings(), rt.Natives.Binds())
	}

	// A second call reuses the binding.
	if _, err := rt.Call(th, site, FromAddress(addr), sp(th), FromI32(1), FromI32(1)); err != nil {
		t.Fatal(err)
	}
	if rt.Natives.Binds() != 1 {
		t.Errorf("Binds = %d after a second call, want 1", rt.Natives.Binds())
	}
}

func TestDispatchSixNativeTargets(t *testing.T) {
	rt, th := newTestRuntime(t)
	exports := make(map[string]any)
	for i := 0; i < 6; i++ {
		n := int32(i * 10)
		exports[fmt.Sprintf("f%d", i)] = func(ctx context.Context) int32 { return n }
	}
	instantiateHost(t, rt, "six", 0x2000, exports)
	site := rt.NewCallSite("call f", Signature(I32))

	for i := 0; i < 6; i++ {
		addr := mustAddress(t, rt, fmt.Sprintf("six.f%d", i))
		got, err := rt.Call(th, site, FromAddress(addr), sp(th))
		if err != nil {
			t.Fatalf("call f%d: %v", i, err)
		}
		if got.Int() != int64(i*10) {
			t.Errorf("f%d = %s, want %d", i, got, i*10)
		}
		if i < 5 && site.Cache().Generic() {
			t.Fatalf("cache went generic after %d targets", i+1)
		}
	}
	if !site.Cache().Generic() {
		t.Error("the sixth target should degrade the cache")
	}

	// Generic dispatch keeps returning correct results.
	got, err := rt.Call(th, site, FromAddress(mustAddress(t, rt, "six.f0")), sp(th))
	if err != nil || got.Int() != 0 {
		t.Errorf("generic f0 = %s, %v; want 0", got, err)
	}
	if site.Cache().Degradations() != 1 {
		t.Errorf("Degradations = %d, want 1", site.Cache().Degradations())
	}
}

func TestDispatchNativeSignatureMismatch(t *testing.T) {
	rt, th := newTestRuntime(t)
	instantiateHost(t, rt, "math", 0x1000, map[string]any{
		"sub": func(ctx context.Context, a, b int32) int32 { return a - b },
	})
	site := rt.NewCallSite("call sub as i64", Signature(I64, I32, I32))

	_, err := rt.Call(th, site, FromAddress(mustAddress(t, rt, "math.sub")), sp(th), FromI32(1), FromI32(2))
	var te *TypeError
	if !errors.As(err, &te) {
		t.Fatalf("err = %v, want *TypeError", err)
	}
	if te.Site != "call sub as i64" {
		t.Errorf("TypeError.Site = %q", te.Site)
	}
}

func TestDispatchNativeRejectsVariadic(t *testing.T) {
	rt, th := newTestRuntime(t)
	instantiateHost(t, rt, "math", 0x1000, map[string]any{
		"neg": func(ctx context.Context, a int64) int64 { return -a },
	})
	site := rt.NewCallSite("variadic neg", VariadicSignature(I64, I64))

	_, err := rt.Call(th, site, FromAddress(mustAddress(t, rt, "math.neg")), sp(th), FromI64(1))
	var te *TypeError
	if !errors.As(err, &te) {
		t.Fatalf("err = %v, want *TypeError", err)
	}
}

func TestDispatchNativePointerArgument(t *testing.T) {
	rt, th := newTestRuntime(t)
	var seen uint64
	instantiateHost(t, rt, "ptr", 0x1000, map[string]any{
		"keep": func(ctx context.Context, p uint64) uint64 { seen = p; return p },
	})
	site := rt.NewCallSite("call keep", Signature(Ptr, Ptr))
	cb := rt.DefineFunction("callback", Signature(Void), BodyFunc(func(t *Thread, args []Value) (Value, error) {
		return NoValue, nil
	}), 0)

	got, err := rt.Call(th, site, FromAddress(mustAddress(t, rt, "ptr.keep")), sp(th), FromFunction(cb))
	if err != nil {
		t.Fatal(err)
	}
	if !rt.Handles.InRange(seen) {
		t.Fatalf("function without a symbol passed as 0x%x, want a handle address", seen)
	}
	// The returned address resolves back to the function.
	if target, ok := rt.Resolver().Resolve(got).(InterpretedFunction); !ok || target.Fn != cb {
		t.Errorf("Resolve(0x%x) = %v, want the callback", seen, rt.Resolver().Resolve(got))
	}
}

func TestDispatchInvalidFunctionPointer(t *testing.T) {
	rt, th := newTestRuntime(t)
	site := rt.NewCallSite("call bad", Signature(Void))

	for _, callee := range []Value{FromAddress(0xdead0), NullPointer, FromHandle(nil, 0)} {
		_, err := rt.Call(th, site, callee, sp(th))
		var ife *InvalidFunctionPointerError
		if !errors.As(err, &ife) {
			t.Errorf("call %s: err = %v, want *InvalidFunctionPointerError", callee, err)
		}
	}

	_, err := rt.Call(th, site, FromFloat64(1), sp(th))
	var tre *TargetResolutionError
	if !errors.As(err, &tre) {
		t.Errorf("call double: err = %v, want *TargetResolutionError", err)
	}
	if site.Cache().Len() != 0 {
		t.Errorf("failed resolutions were cached: Len = %d", site.Cache().Len())
	}
}

// ---------------------------------------------------------------------------
// Foreign targets
// ---------------------------------------------------------------------------

func TestDispatchForeignFunc(t *testing.T) {
	rt, th := newTestRuntime(t)
	mul := rt.Interop.Wrap(func(a, b int32) int32 { return a * b })
	site := rt.NewCallSite("call mul", Signature(I32, I32, I32))

	got, err := rt.Call(th, site, FromForeign(mul), sp(th), FromI32(6), FromI32(7))
	if err != nil {
		t.Fatal(err)
	}
	if got.Int() != 42 {
		t.Errorf("mul(6, 7) = %s, want 42", got)
	}
}

func TestDispatchForeignContextAndError(t *testing.T) {
	rt, th := newTestRuntime(t)
	failure := errors.New("negative input")
	sqrt := rt.Interop.Wrap(func(ctx context.Context, n int64) (int64, error) {
		if ctx == nil {
			return 0, errors.New("no context")
		}
		if n < 0 {
			return 0, failure
		}
		r := int64(0)
		for (r+1)*(r+1) <= n {
			r++
		}
		return r, nil
	})
	site := rt.NewCallSite("call isqrt", Signature(I64, I64))

	got, err := rt.Call(th, site, FromForeign(sqrt), sp(th), FromI64(49))
	if err != nil || got.Int() != 7 {
		t.Fatalf("isqrt(49) = %s, %v; want 7", got, err)
	}

	_, err = rt.Call(th, site, FromForeign(sqrt), sp(th), FromI64(-1))
	exc, ok := err.(*ExceptionRecord)
	if !ok {
		t.Fatalf("err = %T %v, want a foreign *ExceptionRecord", err, err)
	}
	if !exc.IsForeign() || !errors.Is(exc, failure) {
		t.Errorf("exception %v does not wrap the foreign error", exc)
	}
}

func TestDispatchForeignPanic(t *testing.T) {
	rt, th := newTestRuntime(t)
	boom := rt.Interop.Wrap(func() int32 { panic("boom") })
	site := rt.NewCallSite("call boom", Signature(I32))

	_, err := rt.Call(th, site, FromForeign(boom), sp(th))
	exc, ok := err.(*ExceptionRecord)
	if !ok || !exc.IsForeign() {
		t.Fatalf("err = %v, want a foreign exception", err)
	}
	if exc.Foreign != "boom" {
		t.Errorf("payload = %v, want boom", exc.Foreign)
	}
}

func TestDispatchForeignStructuredReturn(t *testing.T) {
	rt, th := newTestRuntime(t)
	pair := func(a, b int32) [2]int32 { return [2]int32{a, b} }
	rt.Interop.Register("pair", reflect.TypeOf(pair), &ForeignSignature{
		Params: []*Type{I32, I32},
		Ret:    StructOf(I32, I32),
	})
	obj := rt.Interop.Wrap(pair)
	site := rt.NewCallSite("call pair", Signature(I64, I32, I32))

	_, err := rt.Call(th, site, FromForeign(obj), sp(th), FromI32(1), FromI32(2))
	var te *TypeError
	if !errors.As(err, &te) {
		t.Fatalf("err = %v, want *TypeError", err)
	}
	if te.Site != "call pair" {
		t.Errorf("TypeError.Site = %q, want call pair", te.Site)
	}

	// Without metadata the site's own structured return type is rejected.
	plain := rt.Interop.Wrap(func() int32 { return 0 })
	site = rt.NewCallSite("call struct", Signature(StructOf(I32, I32)))
	if _, err := rt.Call(th, site, FromForeign(plain), sp(th)); !errors.As(err, &te) {
		t.Fatalf("err = %v, want *TypeError", err)
	}
}

func TestDispatchForeignVariadic(t *testing.T) {
	rt, th := newTestRuntime(t)
	sum := rt.Interop.Wrap(func(xs ...int32) int64 {
		var total int64
		for _, x := range xs {
			total += int64(x)
		}
		return total
	})
	site := rt.NewCallSite("call sum", VariadicSignature(I64, I32))

	got, err := rt.Call(th, site, FromForeign(sum), sp(th), FromI32(1), FromI32(2), FromI32(3))
	if err != nil {
		t.Fatal(err)
	}
	if got.Int() != 6 {
		t.Errorf("sum(1, 2, 3) = %s, want 6", got)
	}

	fixed := rt.NewCallSite("call sum fixed", Signature(I64, I32))
	if _, err := rt.Call(th, fixed, FromForeign(sum), sp(th), FromI32(1), FromI32(2)); err == nil {
		t.Error("extra arguments at a non-variadic site should fail")
	}
}

func TestDispatchForeignCallbackReentrant(t *testing.T) {
	rt, th := newTestRuntime(t)
	double := rt.DefineFunction("double", Signature(I32, I32), BodyFunc(func(t *Thread, args []Value) (Value, error) {
		return FromI32(int32(args[1].Int() * 2)), nil
	}), 0)
	apply := rt.Interop.Wrap(func(f func(int32) (int32, error), x int32) (int32, error) {
		return f(x)
	})
	site := rt.NewCallSite("call apply", Signature(I32, Ptr, I32))

	got, err := rt.Call(th, site, FromForeign(apply), sp(th), FromFunction(double), FromI32(21))
	if err != nil {
		t.Fatal(err)
	}
	if got.Int() != 42 {
		t.Errorf("apply(double, 21) = %s, want 42", got)
	}
	if n := rt.Profiler().Invocations(double); n != 1 {
		t.Errorf("double invoked %d times, want 1", n)
	}
	if th.Depth() != 0 {
		t.Errorf("Depth = %d after the call, want 0", th.Depth())
	}
}

func TestDispatchExceptionCrossesForeignFrame(t *testing.T) {
	rt, th := newTestRuntime(t)
	thrower := rt.DefineFunction("thrower", Signature(I32, I32), BodyFunc(func(t *Thread, args []Value) (Value, error) {
		return NoValue, t.Runtime().Itanium().Throw(t, args[1], 0x100, nil)
	}), 0)
	apply := rt.Interop.Wrap(func(f func(int32) (int32, error), x int32) (int32, error) {
		return f(x)
	})
	site := rt.NewCallSite("call apply", Signature(I32, Ptr, I32))

	_, err := rt.Call(th, site, FromForeign(apply), sp(th), FromFunction(thrower), FromI32(5))
	exc, ok := err.(*ExceptionRecord)
	if !ok {
		t.Fatalf("err = %T %v, want *ExceptionRecord", err, err)
	}
	if exc.IsForeign() || exc.Type != 0x100 {
		t.Errorf("exception = %v, want the interpreted throw of 0x100", exc)
	}
}

func TestDispatchExceptionCrossesVoidForeignFrame(t *testing.T) {
	rt, th := newTestRuntime(t)
	e := rt.Types.Define(&TypeInfo{Token: 0x100, Name: "E"})
	thrower := rt.DefineFunction("thrower", Signature(Void), BodyFunc(func(t *Thread, args []Value) (Value, error) {
		return NoValue, t.Runtime().Itanium().Throw(t, NullPointer, 0x100, nil)
	}), 0)
	// Without an error result the callback can only fail by panicking.
	apply := rt.Interop.Wrap(func(f func()) { f() })
	site := rt.NewCallSite("call apply", Signature(Void, Ptr))

	_, err := rt.Call(th, site, FromForeign(apply), sp(th), FromFunction(thrower))
	exc, ok := err.(*ExceptionRecord)
	if !ok {
		t.Fatalf("err = %T %v, want *ExceptionRecord", err, err)
	}
	if exc.IsForeign() || exc.Type != 0x100 {
		t.Fatalf("exception = %v, want the interpreted throw of 0x100", exc)
	}

	res, err := rt.Evaluator().Evaluate(th, exc, &LandingPad{
		Entries: []HandlerEntry{&CatchEntry{CatchType: TypeInfoValue(e)}},
	})
	if err != nil {
		t.Fatal(err)
	}
	want, _ := rt.Types.SelectorFor(e.Token)
	if res.Selector != want || res.Exception != exc {
		t.Errorf("selector = %d, want %d from the typed clause", res.Selector, want)
	}
}

func TestDispatchFatalCrossesVoidForeignFrame(t *testing.T) {
	rt, th := newTestRuntime(t)
	rethrower := rt.DefineFunction("rethrower", Signature(Void), BodyFunc(func(t *Thread, args []Value) (Value, error) {
		return NoValue, t.Rethrow()
	}), 0)
	apply := rt.Interop.Wrap(func(f func()) { f() })
	site := rt.NewCallSite("call apply", Signature(Void, Ptr))

	_, err := rt.Call(th, site, FromForeign(apply), sp(th), FromFunction(rethrower))
	var fe *FatalError
	if !errors.As(err, &fe) || fe.Kind != FatalRethrow {
		t.Fatalf("err = %T %v, want a fatal rethrow", err, err)
	}
	if _, ok := AsException(th, err); ok {
		t.Error("a fatal error escaped a foreign frame as a catchable exception")
	}
}

func TestDispatchCallbackResultConversion(t *testing.T) {
	rt, th := newTestRuntime(t)
	seven := rt.DefineFunction("seven", Signature(I32), BodyFunc(func(t *Thread, args []Value) (Value, error) {
		return FromI32(7), nil
	}), 0)
	site := rt.NewCallSite("call measure", Signature(I32, Ptr))

	withErr := rt.Interop.Wrap(func(f func() (string, error)) (int32, error) {
		s, err := f()
		if err != nil {
			return 0, err
		}
		return int32(len(s)), nil
	})
	_, err := rt.Call(th, site, FromForeign(withErr), sp(th), FromFunction(seven))
	var te *TypeError
	if !errors.As(err, &te) {
		t.Errorf("with an error result: err = %T %v, want *TypeError", err, err)
	}

	noErr := rt.Interop.Wrap(func(f func() string) int32 { return int32(len(f())) })
	_, err = rt.Call(th, site, FromForeign(noErr), sp(th), FromFunction(seven))
	if !errors.As(err, &te) {
		t.Errorf("without an error result: err = %T %v, want *TypeError", err, err)
	}
}

func TestDispatchForeignWrappedErrors(t *testing.T) {
	rt, th := newTestRuntime(t)
	thrower := rt.DefineFunction("thrower", Signature(I32, I32), BodyFunc(func(t *Thread, args []Value) (Value, error) {
		return NoValue, t.Runtime().Itanium().Throw(t, args[1], 0x100, nil)
	}), 0)
	wrap := rt.Interop.Wrap(func(f func(int32) (int32, error), x int32) (int32, error) {
		_, err := f(x)
		return 0, fmt.Errorf("wrapped: %w", err)
	})
	site := rt.NewCallSite("call wrap", Signature(I32, Ptr, I32))

	_, err := rt.Call(th, site, FromForeign(wrap), sp(th), FromFunction(thrower), FromI32(5))
	exc, ok := err.(*ExceptionRecord)
	if !ok {
		t.Fatalf("err = %T %v, want *ExceptionRecord", err, err)
	}
	if exc.IsForeign() || exc.Type != 0x100 {
		t.Errorf("exception = %v, want the interpreted throw of 0x100", exc)
	}

	bad := rt.Interop.Wrap(func() (int32, error) {
		return 0, fmt.Errorf("convert: %w", &TypeError{Reason: "not a number"})
	})
	_, err = rt.Call(th, rt.NewCallSite("call bad", Signature(I32)), FromForeign(bad), sp(th))
	var te *TypeError
	if !errors.As(err, &te) {
		t.Errorf("err = %T %v, want a *TypeError", err, err)
	}
	if _, ok := err.(*ExceptionRecord); ok {
		t.Error("a wrapped type error became a foreign exception")
	}
}

func TestDispatchForeignPointerLike(t *testing.T) {
	rt, th := newTestRuntime(t)
	rt.DefineFunction("seven", Signature(I32), BodyFunc(func(t *Thread, args []Value) (Value, error) {
		return FromI32(7), nil
	}), 0x7000)
	ptr := rt.Interop.Wrap(NativeAddress(0x7000))
	site := rt.NewCallSite("call through foreign pointer", Signature(I32))

	got, err := rt.Call(th, site, FromForeign(ptr), sp(th))
	if err != nil {
		t.Fatal(err)
	}
	if got.Int() != 7 {
		t.Errorf("result = %s, want 7", got)
	}

	opaque := rt.Interop.Wrap(struct{ n int }{3})
	_, err = rt.Call(th, site, FromForeign(opaque), sp(th))
	var tre *TargetResolutionError
	if !errors.As(err, &tre) {
		t.Errorf("err = %v, want *TargetResolutionError", err)
	}
}
