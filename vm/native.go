package vm

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/tetratelabs/wazero/api"
)

// ---------------------------------------------------------------------------
// Native library: address -> exported function
// ---------------------------------------------------------------------------

// NativeSymbolStride is the address distance between symbols assigned by
// NativeLibrary.Load.
const NativeSymbolStride = 16

// NativeSymbol is a native function reachable at a fixed address.
type NativeSymbol struct {
	Addr   uint64
	Module api.Module
	Name   string
}

func (s *NativeSymbol) String() string {
	return fmt.Sprintf("%s.%s@0x%x", s.Module.Name(), s.Name, s.Addr)
}

// NativeLibrary maps native addresses to functions exported by
// instantiated wazero modules.
type NativeLibrary struct {
	mu      sync.RWMutex
	symbols map[uint64]*NativeSymbol
	byName  map[string]uint64

	binds atomic.Uint64
}

// NewNativeLibrary creates an empty native library.
func NewNativeLibrary() *NativeLibrary {
	return &NativeLibrary{
		symbols: make(map[uint64]*NativeSymbol),
		byName:  make(map[string]uint64),
	}
}

// Define places the export of mod at addr.
func (l *NativeLibrary) Define(addr uint64, mod api.Module, export string) error {
	if addr == 0 {
		return fmt.Errorf("native symbol %s: address 0 is reserved", export)
	}
	if _, ok := mod.ExportedFunctionDefinitions()[export]; !ok {
		return fmt.Errorf("module %s does not export function %q", mod.Name(), export)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.symbols[addr] = &NativeSymbol{Addr: addr, Module: mod, Name: export}
	l.byName[mod.Name()+"."+export] = addr
	return nil
}

// Load defines every function exported by mod, in name order, starting at
// base. It returns the number of symbols defined.
func (l *NativeLibrary) Load(mod api.Module, base uint64) (int, error) {
	defs := mod.ExportedFunctionDefinitions()
	names := make([]string, 0, len(defs))
	for name := range defs {
		names = append(names, name)
	}
	sort.Strings(names)
	for i, name := range names {
		if err := l.Define(base+uint64(i)*NativeSymbolStride, mod, name); err != nil {
			return i, err
		}
	}
	return len(names), nil
}

// Lookup returns the symbol at addr.
func (l *NativeLibrary) Lookup(addr uint64) (*NativeSymbol, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	sym, ok := l.symbols[addr]
	return sym, ok
}

// AddressOf returns the address of "module.export".
func (l *NativeLibrary) AddressOf(qualified string) (uint64, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	addr, ok := l.byName[qualified]
	return addr, ok
}

// Binds returns how many signature handshakes were performed.
func (l *NativeLibrary) Binds() uint64 { return l.binds.Load() }

// ---------------------------------------------------------------------------
// Native binding
// ---------------------------------------------------------------------------

// NativeBinding is a native symbol bound to a call signature. The
// signature handshake and the per-argument converters are derived once;
// invocation only encodes, calls and decodes.
type NativeBinding struct {
	Symbol    *NativeSymbol
	Signature *FunctionType

	encoders []wordEncoder
	decoder  wordDecoder

	// api.Function values are not safe for concurrent or nested calls, so
	// each invocation takes its own.
	fns sync.Pool
}

// bindNative performs the signature handshake between sig and the native
// export behind sym.
func bindNative(sym *NativeSymbol, sig *FunctionType, handles *HandleTable) (*NativeBinding, error) {
	if sig.Variadic {
		return nil, typeErrorf(nil, "variadic call to native %s is not supported", sym)
	}
	def, ok := sym.Module.ExportedFunctionDefinitions()[sym.Name]
	if !ok {
		return nil, &InvalidFunctionPointerError{Pointer: sym.Addr}
	}

	params := sig.UserParams()
	want := make([]api.ValueType, len(params))
	encoders := make([]wordEncoder, len(params))
	for i, p := range params {
		vt, err := nativeValueType(p)
		if err != nil {
			return nil, err
		}
		want[i] = vt
		if encoders[i], err = nativeEncoder(p, handles); err != nil {
			return nil, err
		}
	}

	got := def.ParamTypes()
	if len(got) != len(want) {
		return nil, typeErrorf(nil, "native %s takes %d arguments, signature %s declares %d",
			sym, len(got), sig, len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			return nil, typeErrorf(params[i], "native %s argument %d is %s", sym, i, api.ValueTypeName(got[i]))
		}
	}

	decoder, err := nativeDecoder(sig.Ret)
	if err != nil {
		return nil, err
	}
	results := def.ResultTypes()
	switch {
	case decoder == nil && len(results) != 0:
		return nil, typeErrorf(sig.Ret, "native %s returns a value", sym)
	case decoder != nil && len(results) != 1:
		return nil, typeErrorf(sig.Ret, "native %s returns %d values", sym, len(results))
	case decoder != nil:
		if vt, _ := nativeValueType(sig.Ret); results[0] != vt {
			return nil, typeErrorf(sig.Ret, "native %s returns %s", sym, api.ValueTypeName(results[0]))
		}
	}

	b := &NativeBinding{
		Symbol:    sym,
		Signature: sig,
		encoders:  encoders,
		decoder:   decoder,
	}
	b.fns.New = func() any { return sym.Module.ExportedFunction(sym.Name) }
	return b, nil
}

// Arity returns the number of native arguments, the stack argument
// excluded.
func (b *NativeBinding) Arity() int { return len(b.encoders) }

// Call marshals args, invokes the native function and converts the result.
// The leading stack argument is never passed. The native stack pointer is
// restored when the call returns.
func (b *NativeBinding) Call(t *Thread, args []Value) (Value, error) {
	if len(args) < StackArgumentOffset {
		return NoValue, internalErrorf("native call %s without a stack argument", b.Symbol)
	}
	user := args[StackArgumentOffset:]
	if len(user) != len(b.encoders) {
		return NoValue, typeErrorf(nil, "native %s expects %d arguments, got %d",
			b.Symbol, len(b.encoders), len(user))
	}

	words := make([]uint64, len(user))
	for i, arg := range user {
		w, err := b.encoders[i](arg)
		if err != nil {
			return NoValue, err
		}
		words[i] = w
	}

	sp := t.Stack.StackPointer()
	defer t.Stack.SetStackPointer(sp)

	fn := b.fns.Get().(api.Function)
	defer b.fns.Put(fn)

	results, err := fn.Call(t.Context(), words...)
	if err != nil {
		return NoValue, &NativeCallError{Symbol: b.Symbol.String(), Err: err}
	}
	if b.decoder == nil {
		return NoValue, nil
	}
	if len(results) == 0 {
		return NoValue, internalErrorf("native %s returned no result", b.Symbol)
	}
	return b.decoder(results[0]), nil
}
