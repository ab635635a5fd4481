package vm

import (
	"sync/atomic"
)

// Inline Caching for Call Dispatch
//
// Each call site owns one cache keyed by exact target identity. Most sites
// see a single target (monomorphic); a few see a handful (polymorphic);
// past the bound the site goes megamorphic and switches permanently to one
// generic entry that resolves and binds fresh on every call.
//
// Cache contents are immutable snapshots. A thread installs the next entry
// or the generic fallback with one compare-and-swap, so a concurrent reader
// never observes a partially updated cache.

// CacheState represents the current state of an inline cache.
type CacheState uint8

const (
	CacheEmpty       CacheState = iota // No cached target yet
	CacheMonomorphic                   // Single target cached
	CachePolymorphic                   // 2..limit targets cached
	CacheMegamorphic                   // Degraded to the generic entry
)

func (s CacheState) String() string {
	switch s {
	case CacheEmpty:
		return "empty"
	case CacheMonomorphic:
		return "monomorphic"
	case CachePolymorphic:
		return "polymorphic"
	case CacheMegamorphic:
		return "megamorphic"
	}
	return "unknown"
}

// DefaultInlineCacheSize is the number of specialized entries a call site
// keeps before degrading.
const DefaultInlineCacheSize = 5

// guardKey identifies a resolved target. Comparison is by identity only.
type guardKey struct {
	kind    TargetKind
	fn      *Function
	addr    uint64
	foreign *ForeignObject
}

// keyFor returns the guard key for target. Unresolved targets are never
// cached.
func keyFor(target CallTarget) (guardKey, bool) {
	switch t := target.(type) {
	case InterpretedFunction:
		return guardKey{kind: TargetInterpreted, fn: t.Fn}, true
	case NativePointer:
		return guardKey{kind: TargetNative, addr: t.Addr}, true
	case ForeignTarget:
		return guardKey{kind: TargetForeign, foreign: t.Object}, true
	}
	return guardKey{}, false
}

// InlineCacheEntry holds a single guard and the invoker it selects.
type InlineCacheEntry struct {
	key     guardKey
	Invoker Invoker
}

type cacheSnapshot struct {
	entries []InlineCacheEntry
	generic bool
}

var (
	emptySnapshot   = &cacheSnapshot{}
	genericSnapshot = &cacheSnapshot{generic: true}
)

// InlineCache is the dispatch cache of a single call site.
type InlineCache struct {
	limit int
	snap  atomic.Pointer[cacheSnapshot]

	// Statistics for profiling
	hits         atomic.Uint64
	misses       atomic.Uint64
	degradations atomic.Uint64
}

// NewInlineCache creates an empty cache holding at most limit entries.
func NewInlineCache(limit int) *InlineCache {
	if limit <= 0 {
		limit = DefaultInlineCacheSize
	}
	ic := &InlineCache{limit: limit}
	ic.snap.Store(emptySnapshot)
	return ic
}

// Lookup returns the invoker cached for target, or nil on a miss.
func (ic *InlineCache) Lookup(target CallTarget) Invoker {
	key, ok := keyFor(target)
	if ok {
		// Linear search through entries (at most limit)
		for _, e := range ic.snap.Load().entries {
			if e.key == key {
				ic.hits.Add(1)
				return e.Invoker
			}
		}
	}
	ic.misses.Add(1)
	return nil
}

// Install records inv for target. It returns the invoker the site should
// use: inv itself, or the entry another thread installed first for the same
// target. It returns false when the cache is generic, including when this
// install is the one that crossed the bound.
func (ic *InlineCache) Install(target CallTarget, inv Invoker) (Invoker, bool) {
	key, ok := keyFor(target)
	if !ok || inv == nil {
		return nil, false
	}
	for {
		cur := ic.snap.Load()
		if cur.generic {
			return nil, false
		}
		for _, e := range cur.entries {
			if e.key == key {
				return e.Invoker, true
			}
		}
		if len(cur.entries) >= ic.limit {
			if ic.snap.CompareAndSwap(cur, genericSnapshot) {
				ic.degradations.Add(1)
			}
			continue
		}
		next := &cacheSnapshot{entries: make([]InlineCacheEntry, len(cur.entries), len(cur.entries)+1)}
		copy(next.entries, cur.entries)
		next.entries = append(next.entries, InlineCacheEntry{key: key, Invoker: inv})
		if ic.snap.CompareAndSwap(cur, next) {
			return inv, true
		}
	}
}

// Invalidate degrades the cache to the generic entry. Degradation is
// permanent.
func (ic *InlineCache) Invalidate() {
	for {
		cur := ic.snap.Load()
		if cur.generic {
			return
		}
		if ic.snap.CompareAndSwap(cur, genericSnapshot) {
			ic.degradations.Add(1)
			return
		}
	}
}

// State returns the current cache state.
func (ic *InlineCache) State() CacheState {
	snap := ic.snap.Load()
	switch {
	case snap.generic:
		return CacheMegamorphic
	case len(snap.entries) == 0:
		return CacheEmpty
	case len(snap.entries) == 1:
		return CacheMonomorphic
	default:
		return CachePolymorphic
	}
}

// Len returns the number of specialized entries.
func (ic *InlineCache) Len() int {
	return len(ic.snap.Load().entries)
}

// Limit returns the entry bound.
func (ic *InlineCache) Limit() int { return ic.limit }

// Generic reports whether the cache has degraded.
func (ic *InlineCache) Generic() bool {
	return ic.snap.Load().generic
}

// Hits returns the number of lookups that found an entry.
func (ic *InlineCache) Hits() uint64 { return ic.hits.Load() }

// Misses returns the number of lookups that found none.
func (ic *InlineCache) Misses() uint64 { return ic.misses.Load() }

// Degradations returns how many times the cache went generic: 0 or 1.
func (ic *InlineCache) Degradations() uint64 { return ic.degradations.Load() }

// HitRate returns the cache hit rate as a percentage (0-100).
func (ic *InlineCache) HitRate() float64 {
	hits, misses := ic.Hits(), ic.Misses()
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) * 100 / float64(total)
}
