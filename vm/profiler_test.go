package vm

import (
	"sync"
	"testing"
)

func TestProfilerInvocation(t *testing.T) {
	p := NewProfiler()
	p.HotThreshold = 5

	fn := &Function{Name: "test"}

	// First invocation
	if p.RecordInvocation(fn) {
		t.Error("function should not be hot after 1 invocation")
	}
	profile := p.Profile(fn)
	if profile == nil {
		t.Fatal("profile should exist after invocation")
	}
	if profile.InvocationCount != 1 {
		t.Errorf("expected 1 invocation, got %d", profile.InvocationCount)
	}

	// Invoke 4 more times (total 5)
	var becameHot bool
	for i := 0; i < 4; i++ {
		becameHot = p.RecordInvocation(fn)
	}
	if !becameHot {
		t.Error("function should become hot at threshold")
	}
	if !p.Profile(fn).IsHot {
		t.Error("profile should be marked hot")
	}

	// Additional invocations should not re-trigger hot
	if p.RecordInvocation(fn) {
		t.Error("function should not re-trigger hot")
	}
}

func TestProfilerOnHotCallback(t *testing.T) {
	p := NewProfiler()
	p.HotThreshold = 2

	var hot []*Function
	p.OnHot = func(fn *Function, _ *FunctionProfile) {
		hot = append(hot, fn)
	}

	fn := &Function{Name: "hot"}
	for i := 0; i < 5; i++ {
		p.RecordInvocation(fn)
	}
	if len(hot) != 1 || hot[0] != fn {
		t.Errorf("OnHot called with %v, want exactly [hot]", hot)
	}
}

func TestProfilerNilSafe(t *testing.T) {
	var p *Profiler
	if p.RecordInvocation(&Function{}) {
		t.Error("nil profiler should never report hot")
	}
	if NewProfiler().RecordInvocation(nil) {
		t.Error("nil function should never report hot")
	}
}

func TestProfilerStats(t *testing.T) {
	p := NewProfiler()
	p.HotThreshold = 3

	a := &Function{Name: "a"}
	b := &Function{Name: "b"}
	for i := 0; i < 3; i++ {
		p.RecordInvocation(a)
	}
	p.RecordInvocation(b)

	stats := p.Stats()
	if stats.TotalFunctions != 2 {
		t.Errorf("TotalFunctions = %d, want 2", stats.TotalFunctions)
	}
	if stats.HotFunctions != 1 {
		t.Errorf("HotFunctions = %d, want 1", stats.HotFunctions)
	}
	if stats.TotalInvocations != 4 {
		t.Errorf("TotalInvocations = %d, want 4", stats.TotalInvocations)
	}
}

func TestProfilerConcurrentInvocations(t *testing.T) {
	p := NewProfiler()
	p.HotThreshold = 1000

	fn := &Function{Name: "shared"}
	var wg sync.WaitGroup
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				p.RecordInvocation(fn)
			}
		}()
	}
	wg.Wait()

	if got := p.Invocations(fn); got != 1000 {
		t.Errorf("Invocations = %d, want 1000", got)
	}
	if p.Stats().HotFunctions != 1 {
		t.Error("function should be hot after exactly the threshold")
	}
}

func TestDispatchRecordsInvocations(t *testing.T) {
	rt, th := newTestRuntime(t)
	fn := rt.DefineFunction("counted", Signature(Void), BodyFunc(func(t *Thread, args []Value) (Value, error) {
		return NoValue, nil
	}), 0)
	site := rt.NewCallSite("call counted", fn.Type)
	for i := 0; i < 3; i++ {
		if _, err := rt.Call(th, site, FromFunction(fn), sp(th)); err != nil {
			t.Fatal(err)
		}
	}
	if got := rt.Profiler().Invocations(fn); got != 3 {
		t.Errorf("Invocations = %d, want 3", got)
	}
}
