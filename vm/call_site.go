package vm

import (
	"sync"
	"sync/atomic"
)

// CallSite is a single call point in the interpreted program. It owns the
// inline cache, the resolver memo and the native bindings for the targets
// observed there.
type CallSite struct {
	Name string
	Type *FunctionType

	cache *InlineCache
	memo  atomic.Pointer[resolveMemo]

	bindMu   sync.Mutex
	bindings sync.Map // uint64 -> *NativeBinding

	profile         BranchProfile
	specializations atomic.Uint64
	invalidations   atomic.Uint64
}

func newCallSite(name string, typ *FunctionType, cacheSize int) *CallSite {
	return &CallSite{Name: name, Type: typ, cache: NewInlineCache(cacheSize)}
}

// Cache returns the site's inline cache.
func (s *CallSite) Cache() *InlineCache { return s.cache }

// Profile returns the invoke-edge profile of the site.
func (s *CallSite) Profile() *BranchProfile { return &s.profile }

// Specializations returns how many invokers were derived for the site.
func (s *CallSite) Specializations() uint64 { return s.specializations.Load() }

// Bindings returns the number of native addresses bound at the site.
func (s *CallSite) Bindings() int {
	n := 0
	s.bindings.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

func (s *CallSite) invalidate() {
	s.invalidations.Add(1)
	s.memo.Store(nil)
	s.cache.Invalidate()
}
