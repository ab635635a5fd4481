package vm

import (
	"errors"
	"fmt"
	"sync"
)

// ---------------------------------------------------------------------------
// Exception records
// ---------------------------------------------------------------------------

// TypeIdentity is the address-sized token naming a thrown or caught type.
type TypeIdentity uint64

// Exception class tags stored in the unwind header.
const (
	CxxExceptionClass     uint64 = 0x474e5543432b2b00 // "GNUCC++\0"
	SEHExceptionCode      uint64 = 0xe06d7363         // "\xe0msc"
	ForeignExceptionClass uint64 = 0x474f4c414e470000 // "GOLANG\0\0"
)

// ExceptionState tracks an exception through a thread:
// Idle -> Thrown -> {Caught | Propagating -> ... -> Uncaught}.
type ExceptionState uint8

const (
	ExceptionIdle ExceptionState = iota
	ExceptionThrown
	ExceptionCaught
	ExceptionPropagating
	ExceptionUncaught
)

func (s ExceptionState) String() string {
	switch s {
	case ExceptionIdle:
		return "idle"
	case ExceptionThrown:
		return "thrown"
	case ExceptionCaught:
		return "caught"
	case ExceptionPropagating:
		return "propagating"
	case ExceptionUncaught:
		return "uncaught"
	}
	return fmt.Sprintf("ExceptionState(%d)", uint8(s))
}

// UnwindHeader is the native-format part of a thrown exception.
type UnwindHeader struct {
	ExceptionClass uint64
	Address        uint64 // native address of the header, 0 if never escaped

	// Cleanup releases the thrown object. It runs at most once.
	Cleanup func(t *Thread) error
}

// SEHExtras holds what the SEH model needs to re-derive catchable types.
type SEHExtras struct {
	ImageBase     uint64
	ThrowInfoAddr uint64
	ThrowInfo     *ThrowInfo
}

// ExceptionRecord is an exception in flight. It travels through call
// frames as an error value.
type ExceptionRecord struct {
	Header       UnwindHeader
	Type         TypeIdentity
	TypeName     string
	StackPointer uint64     // stack pointer captured at the throw site
	Platform     *SEHExtras // nil for the Itanium model

	Object  Value // the thrown object
	Foreign any   // payload of a cross-language exception
	Cause   error

	state     ExceptionState
	handlers  int
	destroyed sync.Once
}

func (e *ExceptionRecord) Error() string {
	if e.IsForeign() {
		if e.Cause != nil {
			return "foreign exception: " + e.Cause.Error()
		}
		return fmt.Sprintf("foreign exception: %v", e.Foreign)
	}
	if e.TypeName != "" {
		return "exception of type " + e.TypeName
	}
	return fmt.Sprintf("exception of type 0x%x", uint64(e.Type))
}

func (e *ExceptionRecord) Unwrap() error { return e.Cause }

// IsForeign reports whether the exception was raised outside the
// interpreted program's own exception model.
func (e *ExceptionRecord) IsForeign() bool {
	return e.Header.ExceptionClass == ForeignExceptionClass
}

// State returns the exception's position in the per-thread state machine.
func (e *ExceptionRecord) State() ExceptionState { return e.state }

func (e *ExceptionRecord) setState(s ExceptionState) { e.state = s }

// destroy runs the header cleanup once.
func (e *ExceptionRecord) destroy(t *Thread) (err error) {
	e.destroyed.Do(func() {
		if e.Header.Cleanup != nil {
			err = e.Header.Cleanup(t)
		}
	})
	return err
}

// newForeignException wraps a value raised by foreign code.
func newForeignException(t *Thread, payload any, cause error) *ExceptionRecord {
	exc := &ExceptionRecord{
		Header:  UnwindHeader{ExceptionClass: ForeignExceptionClass},
		Object:  NullPointer,
		Foreign: payload,
		Cause:   cause,
		state:   ExceptionThrown,
	}
	if t != nil && t.Stack != nil {
		exc.StackPointer = t.Stack.StackPointer()
	}
	return exc
}

// AsException returns the exception record carried by err. Engine errors
// that are not fatal are wrapped as foreign exceptions so they travel the
// same unwind path as guest exceptions.
func AsException(t *Thread, err error) (*ExceptionRecord, bool) {
	if err == nil || IsFatal(err) {
		return nil, false
	}
	var exc *ExceptionRecord
	if errors.As(err, &exc) {
		return exc, true
	}
	return newForeignException(t, err, err), true
}

// ---------------------------------------------------------------------------
// Type information
// ---------------------------------------------------------------------------

// TypeInfo describes a catchable type.
type TypeInfo struct {
	Token TypeIdentity
	Name  string
	Bases []*TypeInfo

	// Pointer marks the generic pointer catch type, the only type that
	// can catch a foreign exception.
	Pointer bool
}

func (ti *TypeInfo) derivesFrom(base *TypeInfo) bool {
	if ti == base {
		return true
	}
	for _, b := range ti.Bases {
		if b.derivesFrom(base) {
			return true
		}
	}
	return false
}

// CatchableType is one entry of an SEH throw info: a type the thrown
// object can be caught as, with how to copy it.
type CatchableType struct {
	Type         *TypeInfo
	Size         uint64
	CopyFunction *Function // copy constructor, nil for a bitwise copy
}

// ThrowInfo is the SEH description of a thrown type.
type ThrowInfo struct {
	Destructor     *Function
	CatchableTypes []CatchableType
}

// TypeInfoRegistry holds the type information the IR program declares.
type TypeInfoRegistry struct {
	mu        sync.RWMutex
	types     map[TypeIdentity]*TypeInfo
	throwInfo map[uint64]*ThrowInfo // keyed by address relative to image base

	selMu     sync.Mutex
	selectors map[TypeIdentity]int32
	owners    map[int32]TypeIdentity
}

// NewTypeInfoRegistry creates an empty registry.
func NewTypeInfoRegistry() *TypeInfoRegistry {
	return &TypeInfoRegistry{
		types:     make(map[TypeIdentity]*TypeInfo),
		throwInfo: make(map[uint64]*ThrowInfo),
		selectors: make(map[TypeIdentity]int32),
		owners:    make(map[int32]TypeIdentity),
	}
}

// Define registers ti under its token.
func (r *TypeInfoRegistry) Define(ti *TypeInfo) *TypeInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types[ti.Token] = ti
	return ti
}

// Lookup returns the type info for token.
func (r *TypeInfoRegistry) Lookup(token TypeIdentity) (*TypeInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ti, ok := r.types[token]
	return ti, ok
}

// DefineThrowInfo registers info at rva, an address relative to the image
// base.
func (r *TypeInfoRegistry) DefineThrowInfo(rva uint64, info *ThrowInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.throwInfo[rva] = info
}

// ThrowInfoAt returns the throw info at the absolute address addr.
func (r *TypeInfoRegistry) ThrowInfoAt(imageBase, addr uint64) (*ThrowInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.throwInfo[addr-imageBase]
	return info, ok
}

// Selector values reserved by the evaluator.
const (
	SelectorNoMatch  int32 = 0
	SelectorCatchAll int32 = 1
	SelectorFilter   int32 = -1
)

// SelectorFor returns the comparable selector of a catch type token. The
// selector is the low 31 bits of the token. A token whose selector is
// reserved or already taken by a different token is a fatal error.
func (r *TypeInfoRegistry) SelectorFor(token TypeIdentity) (int32, error) {
	r.selMu.Lock()
	defer r.selMu.Unlock()
	if sel, ok := r.selectors[token]; ok {
		return sel, nil
	}
	sel := int32(uint32(token) & 0x7fffffff)
	if sel == SelectorNoMatch || sel == SelectorCatchAll {
		return 0, internalErrorf("type token 0x%x maps to reserved selector %d", uint64(token), sel)
	}
	if other, taken := r.owners[sel]; taken {
		return 0, internalErrorf("type tokens 0x%x and 0x%x share selector %d",
			uint64(other), uint64(token), sel)
	}
	r.selectors[token] = sel
	r.owners[sel] = token
	return sel, nil
}

// typeToken returns the token named by a catch-type operand and whether
// the operand is null.
func typeToken(v Value) (TypeIdentity, bool) {
	switch v.Kind() {
	case KindNone:
		return 0, true
	case KindAddress:
		return TypeIdentity(v.Address()), v.Address() == 0
	case KindInt:
		return TypeIdentity(v.Uint()), v.Uint() == 0
	case KindHandle:
		obj, _ := v.Handle()
		switch o := obj.(type) {
		case nil:
			return 0, true
		case *TypeInfo:
			return o.Token, false
		}
	}
	return 0, false
}

// TypeInfoValue returns the catch-type operand naming ti.
func TypeInfoValue(ti *TypeInfo) Value {
	return FromAddress(uint64(ti.Token))
}
