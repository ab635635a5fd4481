package vm

// CallSiteStats summarizes one call site.
type CallSiteStats struct {
	Name            string
	State           CacheState
	Entries         int
	Limit           int
	Hits            uint64
	Misses          uint64
	Degraded        bool
	Bindings        int
	Specializations uint64
	Invalidations   uint64
	NormalEdges     uint64
}

// Stats returns the statistics of the site.
func (s *CallSite) Stats() CallSiteStats {
	return CallSiteStats{
		Name:            s.Name,
		State:           s.cache.State(),
		Entries:         s.cache.Len(),
		Limit:           s.cache.Limit(),
		Hits:            s.cache.Hits(),
		Misses:          s.cache.Misses(),
		Degraded:        s.cache.Generic(),
		Bindings:        s.Bindings(),
		Specializations: s.specializations.Load(),
		Invalidations:   s.invalidations.Load(),
		NormalEdges:     s.profile.Normal(),
	}
}

// ICStats aggregates inline cache states across call sites.
type ICStats struct {
	Empty, Monomorphic, Polymorphic, Megamorphic int
	Hits, Misses                                 uint64
}

// HitRate returns the aggregate hit rate as a percentage (0-100).
func (s ICStats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) * 100 / float64(total)
}

// RuntimeStats is a point-in-time view of the runtime.
type RuntimeStats struct {
	Sites       []CallSiteStats
	Caches      ICStats
	Profile     ProfilerStats
	NativeBinds uint64
	Symbols     int
	Handles     int
	Threads     int
}

// Stats collects statistics from every call site.
func (rt *Runtime) Stats() RuntimeStats {
	sites := rt.Sites()
	st := RuntimeStats{
		Sites:       make([]CallSiteStats, 0, len(sites)),
		Profile:     rt.profiler.Stats(),
		NativeBinds: rt.Natives.Binds(),
		Symbols:     rt.Symbols.Count(),
		Handles:     rt.Handles.Count(),
		Threads:     rt.Threads(),
	}
	for _, site := range sites {
		ss := site.Stats()
		st.Sites = append(st.Sites, ss)
		switch ss.State {
		case CacheEmpty:
			st.Caches.Empty++
		case CacheMonomorphic:
			st.Caches.Monomorphic++
		case CachePolymorphic:
			st.Caches.Polymorphic++
		case CacheMegamorphic:
			st.Caches.Megamorphic++
		}
		st.Caches.Hits += ss.Hits
		st.Caches.Misses += ss.Misses
	}
	return st
}
