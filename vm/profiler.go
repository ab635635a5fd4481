package vm

import (
	"sync"
	"sync/atomic"
)

// Profiler tracks function invocation counts and invoke-edge counts.
//
// Only the normal successor of an invoke is profiled. The unwind successor
// is reached by exception propagation alone and has no branch probability.

// FunctionProfile holds profiling data for a single function.
type FunctionProfile struct {
	InvocationCount uint64 // Atomic counter for invocations
	IsHot           bool   // True once the hot threshold was crossed
}

// Profiler manages profiling for all functions dispatched by a runtime.
type Profiler struct {
	functionProfiles sync.Map // *Function -> *FunctionProfile

	// HotThreshold is the invocation count at which a function becomes hot.
	HotThreshold uint64

	// OnHot is called once per function when it becomes hot.
	OnHot func(fn *Function, profile *FunctionProfile)

	hotCount uint64
}

// NewProfiler creates a profiler with the default threshold.
func NewProfiler() *Profiler {
	return &Profiler{HotThreshold: 100}
}

// RecordInvocation increments the invocation count for fn.
// Returns true if this invocation made fn hot.
func (p *Profiler) RecordInvocation(fn *Function) bool {
	if p == nil || fn == nil {
		return false
	}

	val, _ := p.functionProfiles.LoadOrStore(fn, &FunctionProfile{})
	profile := val.(*FunctionProfile)

	count := atomic.AddUint64(&profile.InvocationCount, 1)
	if count == p.HotThreshold {
		profile.IsHot = true
		atomic.AddUint64(&p.hotCount, 1)
		if p.OnHot != nil {
			p.OnHot(fn, profile)
		}
		return true
	}
	return false
}

// Profile returns the profile for fn, or nil if it was never dispatched.
func (p *Profiler) Profile(fn *Function) *FunctionProfile {
	if val, ok := p.functionProfiles.Load(fn); ok {
		return val.(*FunctionProfile)
	}
	return nil
}

// Invocations returns how many times fn was entered through dispatch.
func (p *Profiler) Invocations(fn *Function) uint64 {
	if profile := p.Profile(fn); profile != nil {
		return atomic.LoadUint64(&profile.InvocationCount)
	}
	return 0
}

// ProfilerStats holds aggregate profiling statistics.
type ProfilerStats struct {
	TotalFunctions   int    // Number of functions profiled
	HotFunctions     int    // Number of hot functions
	TotalInvocations uint64 // Sum of all invocation counts
}

// Stats returns aggregate profiling statistics.
func (p *Profiler) Stats() ProfilerStats {
	var stats ProfilerStats
	p.functionProfiles.Range(func(_, value any) bool {
		profile := value.(*FunctionProfile)
		stats.TotalFunctions++
		stats.TotalInvocations += atomic.LoadUint64(&profile.InvocationCount)
		if profile.IsHot {
			stats.HotFunctions++
		}
		return true
	})
	return stats
}

// ---------------------------------------------------------------------------
// Invoke edge profile
// ---------------------------------------------------------------------------

// BranchProfile counts how often an invoke took its normal successor.
type BranchProfile struct {
	normal atomic.Uint64
}

func (b *BranchProfile) recordNormal() {
	b.normal.Add(1)
}

// Normal returns the number of normal-edge transfers recorded.
func (b *BranchProfile) Normal() uint64 {
	return b.normal.Load()
}
