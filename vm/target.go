package vm

import (
	"fmt"
)

// TargetKind identifies the arm of a CallTarget.
type TargetKind uint8

const (
	TargetUnresolved TargetKind = iota
	TargetInterpreted
	TargetNative
	TargetForeign
)

func (k TargetKind) String() string {
	switch k {
	case TargetUnresolved:
		return "unresolved"
	case TargetInterpreted:
		return "interpreted"
	case TargetNative:
		return "native"
	case TargetForeign:
		return "foreign"
	}
	return fmt.Sprintf("TargetKind(%d)", uint8(k))
}

// CallTarget is the classification of a call operand. The set of
// implementations is closed: Unresolved, InterpretedFunction,
// NativePointer and ForeignTarget.
type CallTarget interface {
	Kind() TargetKind
	isCallTarget()
}

// Unresolved is an operand that is not callable as observed.
type Unresolved struct {
	Raw Value
}

// InterpretedFunction is an IR function or a builtin standing in for one.
type InterpretedFunction struct {
	Fn *Function
}

// NativePointer is a native symbol address with no interpreted function
// behind it.
type NativePointer struct {
	Addr uint64
}

// ForeignTarget is an object owned by another language.
type ForeignTarget struct {
	Object *ForeignObject
}

func (Unresolved) Kind() TargetKind          { return TargetUnresolved }
func (InterpretedFunction) Kind() TargetKind { return TargetInterpreted }
func (NativePointer) Kind() TargetKind       { return TargetNative }
func (ForeignTarget) Kind() TargetKind       { return TargetForeign }

func (Unresolved) isCallTarget()          {}
func (InterpretedFunction) isCallTarget() {}
func (NativePointer) isCallTarget()       {}
func (ForeignTarget) isCallTarget()       {}

// ---------------------------------------------------------------------------
// Resolver
// ---------------------------------------------------------------------------

// Resolver classifies call operands. Resolution never fails for an
// unrecognized value; the decision is left to the dispatcher.
type Resolver struct {
	symbols *SymbolTable
	handles *HandleTable
}

// NewResolver creates a resolver over the given tables.
func NewResolver(symbols *SymbolTable, handles *HandleTable) *Resolver {
	return &Resolver{symbols: symbols, handles: handles}
}

// Resolve classifies raw. Priority: bound function handle, foreign object,
// auto-dereference handle address, then native address with a reverse
// lookup into the symbol table.
func (r *Resolver) Resolve(raw Value) CallTarget {
	switch raw.Kind() {
	case KindHandle:
		obj, offset := raw.Handle()
		return classifyManaged(raw, obj, offset)
	case KindForeign:
		if fo := raw.Foreign(); fo != nil {
			return ForeignTarget{Object: fo}
		}
		return Unresolved{Raw: raw}
	case KindAddress:
		return r.resolveAddress(raw, raw.Address())
	case KindInt:
		if raw.Width() == 64 {
			return r.resolveAddress(raw, raw.Uint())
		}
	}
	return Unresolved{Raw: raw}
}

func (r *Resolver) resolveAddress(raw Value, addr uint64) CallTarget {
	if r.handles != nil && r.handles.InRange(addr) {
		obj, ok := r.handles.Lookup(addr)
		if !ok {
			return NativePointer{Addr: addr}
		}
		return classifyManaged(raw, obj, 0)
	}
	if fn, ok := r.symbols.FunctionAt(addr); ok {
		return InterpretedFunction{Fn: fn}
	}
	return NativePointer{Addr: addr}
}

func classifyManaged(raw Value, obj any, offset int64) CallTarget {
	switch o := obj.(type) {
	case *Function:
		if offset == 0 && o != nil {
			return InterpretedFunction{Fn: o}
		}
	case *ForeignObject:
		if o != nil {
			return ForeignTarget{Object: o}
		}
	}
	return Unresolved{Raw: raw}
}

// ---------------------------------------------------------------------------
// Per-site memo
// ---------------------------------------------------------------------------

// resolveMemo remembers the last address resolved at a call site and the
// function the symbol table mapped it to (nil for a native pointer).
type resolveMemo struct {
	addr   uint64
	fn     *Function
	target CallTarget
}

// plainAddress extracts a native address that is subject to the reverse
// lookup, i.e. not a handle-range address.
func (r *Resolver) plainAddress(raw Value) (uint64, bool) {
	var addr uint64
	switch {
	case raw.Kind() == KindAddress:
		addr = raw.Address()
	case raw.Kind() == KindInt && raw.Width() == 64:
		addr = raw.Uint()
	default:
		return 0, false
	}
	if addr == 0 || (r.handles != nil && r.handles.InRange(addr)) {
		return 0, false
	}
	return addr, true
}

// consistent reports whether target still agrees with the symbol table
// for addr.
func (r *Resolver) consistent(addr uint64, target CallTarget) (*Function, bool) {
	current, _ := r.symbols.FunctionAt(addr)
	switch t := target.(type) {
	case InterpretedFunction:
		return t.Fn, current == t.Fn
	case NativePointer:
		return nil, current == nil
	}
	return nil, true
}

// resolveAt resolves raw for site, reusing the site's memo when the same
// address is seen again. A memo whose address now maps to a different
// function invalidates the site's cache and resolution is retried from
// scratch once.
func (r *Resolver) resolveAt(site *CallSite, raw Value) (CallTarget, error) {
	addr, ok := r.plainAddress(raw)
	if !ok {
		return r.Resolve(raw), nil
	}

	if m := site.memo.Load(); m != nil && m.addr == addr {
		current, _ := r.symbols.FunctionAt(addr)
		if current == m.fn {
			return m.target, nil
		}
		log.Warningf("call site %s: address 0x%x was remapped, invalidating", site.Name, addr)
		site.invalidate()
	}

	for attempt := 0; attempt < 2; attempt++ {
		target := r.Resolve(raw)
		if fn, ok := r.consistent(addr, target); ok {
			site.memo.Store(&resolveMemo{addr: addr, fn: fn, target: target})
			return target, nil
		}
		if attempt == 0 {
			log.Warningf("call site %s: inconsistent mapping for 0x%x, retrying", site.Name, addr)
			site.invalidate()
		}
	}
	return nil, &TargetResolutionError{
		Value:  raw,
		Reason: fmt.Sprintf("address 0x%x maps to an inconsistent function", addr),
	}
}
