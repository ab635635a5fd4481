package vm

import (
	"reflect"
	"sync"
	"sync/atomic"
)

// ---------------------------------------------------------------------------
// SymbolTable: native address -> interpreted function
// ---------------------------------------------------------------------------

// SymbolTable is the reverse mapping from externally visible native
// addresses to the interpreted functions they name. It is populated by the
// IR loader and may be rebound while the program runs.
type SymbolTable struct {
	mu     sync.RWMutex
	byAddr map[uint64]*Function
}

// NewSymbolTable creates an empty symbol table.
func NewSymbolTable() *SymbolTable {
	return &SymbolTable{byAddr: make(map[uint64]*Function)}
}

// Define records fn under its own Symbol address. Functions without a
// symbol are ignored.
func (s *SymbolTable) Define(fn *Function) {
	if fn == nil || fn.Symbol == 0 {
		return
	}
	s.Bind(fn.Symbol, fn)
}

// Bind maps addr to fn, replacing any previous mapping. A nil fn removes
// the mapping.
func (s *SymbolTable) Bind(addr uint64, fn *Function) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fn == nil {
		delete(s.byAddr, addr)
		return
	}
	s.byAddr[addr] = fn
}

// FunctionAt returns the interpreted function whose symbol is addr.
func (s *SymbolTable) FunctionAt(addr uint64) (*Function, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn, ok := s.byAddr[addr]
	return fn, ok
}

// Count returns the number of bound addresses.
func (s *SymbolTable) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byAddr)
}

// ---------------------------------------------------------------------------
// HandleTable: auto-dereference handle range
// ---------------------------------------------------------------------------

// HandleTable owns a reserved range of native addresses. An address in the
// range is an indirection to a managed object, so managed functions and
// foreign objects can travel through native code as plain words.
type HandleTable struct {
	base uint64
	size uint64

	next    atomic.Uint64
	mu      sync.RWMutex
	objects map[uint64]any
	byObj   map[any]uint64
}

// DefaultHandleRange is the number of addresses reserved for handles.
const DefaultHandleRange = 1 << 24

// NewHandleTable reserves [base, base+size).
func NewHandleTable(base, size uint64) *HandleTable {
	if size == 0 {
		size = DefaultHandleRange
	}
	return &HandleTable{
		base:    base,
		size:    size,
		objects: make(map[uint64]any),
		byObj:   make(map[any]uint64),
	}
}

// Base returns the first address of the reserved range.
func (h *HandleTable) Base() uint64 { return h.base }

// InRange reports whether addr falls in the reserved handle range.
func (h *HandleTable) InRange(addr uint64) bool {
	return h.base != 0 && addr >= h.base && addr-h.base < h.size
}

// Register stores obj and returns the handle address naming it. Handles
// are 8-byte aligned, and a comparable object registered twice gets the
// same address. Returns 0 when the range is exhausted.
func (h *HandleTable) Register(obj any) uint64 {
	keyed := obj != nil && reflect.TypeOf(obj).Comparable()

	h.mu.Lock()
	defer h.mu.Unlock()
	if keyed {
		if addr, ok := h.byObj[obj]; ok {
			return addr
		}
	}
	offset := h.next.Add(1) * 8
	if offset >= h.size {
		return 0
	}
	addr := h.base + offset
	h.objects[addr] = obj
	if keyed {
		h.byObj[obj] = addr
	}
	return addr
}

// Lookup returns the object behind a handle address.
func (h *HandleTable) Lookup(addr uint64) (any, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	obj, ok := h.objects[addr]
	return obj, ok
}

// Release forgets the object behind addr.
func (h *HandleTable) Release(addr uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if obj, ok := h.objects[addr]; ok {
		if obj != nil && reflect.TypeOf(obj).Comparable() {
			delete(h.byObj, obj)
		}
		delete(h.objects, addr)
	}
}

// Count returns the number of live handles.
func (h *HandleTable) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.objects)
}
