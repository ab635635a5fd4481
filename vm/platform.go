package vm

import (
	"fmt"
	"strings"

	"github.com/tetratelabs/wazero/api"
)

// ExceptionModel selects the platform exception encoding.
type ExceptionModel uint8

const (
	ItaniumModel ExceptionModel = iota // type informs catch
	SEHModel                           // catchable-type copy
)

func (m ExceptionModel) String() string {
	switch m {
	case ItaniumModel:
		return "itanium"
	case SEHModel:
		return "seh"
	}
	return fmt.Sprintf("ExceptionModel(%d)", uint8(m))
}

// ParseExceptionModel parses "itanium" or "seh".
func ParseExceptionModel(s string) (ExceptionModel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "itanium":
		return ItaniumModel, nil
	case "seh":
		return SEHModel, nil
	}
	return 0, fmt.Errorf("unknown exception model %q", s)
}

// PlatformExceptionOps is the platform-specific part of handler
// evaluation. The ordering and selector algorithm is shared.
type PlatformExceptionOps interface {
	Model() ExceptionModel

	// CanCatch reports whether a handler declared with catchType catches
	// exc. catchType is never null.
	CanCatch(t *Thread, exc *ExceptionRecord, catchType Value) (bool, error)

	// CopyException copies the caught object into the handler slot of pad.
	CopyException(t *Thread, exc *ExceptionRecord, pad *CatchPadEntry) error

	// Unwind runs the native cleanup of exc.
	Unwind(t *Thread, exc *ExceptionRecord) error
}

// catchesForeign reports whether catchType is the generic pointer type,
// the only type a foreign exception can be caught as.
func catchesForeign(types *TypeInfoRegistry, catchType Value) bool {
	token, _ := typeToken(catchType)
	ti, ok := types.Lookup(token)
	return ok && ti.Pointer
}

// ---------------------------------------------------------------------------
// Catch attributes and memory
// ---------------------------------------------------------------------------

// CatchAttributes are the immutable flags of an SEH catch pad.
type CatchAttributes uint8

const (
	AttrConstant CatchAttributes = 1 << iota
	AttrVolatile
	AttrUnaligned
	AttrReference
)

func (a CatchAttributes) String() string {
	var parts []string
	if a&AttrConstant != 0 {
		parts = append(parts, "const")
	}
	if a&AttrVolatile != 0 {
		parts = append(parts, "volatile")
	}
	if a&AttrUnaligned != 0 {
		parts = append(parts, "unaligned")
	}
	if a&AttrReference != 0 {
		parts = append(parts, "reference")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// Memory is the part of the heap collaborator the SEH copy needs.
type Memory interface {
	Copy(dst, src, size uint64, attrs CatchAttributes) error
	StorePointer(dst, ptr uint64) error
}

// WasmMemory adapts the linear memory of a native module.
type WasmMemory struct {
	Mem api.Memory
}

// Copy copies size bytes from src to dst.
func (m WasmMemory) Copy(dst, src, size uint64, attrs CatchAttributes) error {
	if size > uint64(^uint32(0)) || src > uint64(^uint32(0)) || dst > uint64(^uint32(0)) {
		return fmt.Errorf("copy of %d bytes at 0x%x->0x%x is out of range", size, src, dst)
	}
	buf, ok := m.Mem.Read(uint32(src), uint32(size))
	if !ok {
		return fmt.Errorf("read of %d bytes at 0x%x is out of range", size, src)
	}
	// Read aliases the memory buffer.
	tmp := make([]byte, len(buf))
	copy(tmp, buf)
	if !m.Mem.Write(uint32(dst), tmp) {
		return fmt.Errorf("write of %d bytes at 0x%x is out of range", size, dst)
	}
	return nil
}

// StorePointer writes ptr as a little-endian 64-bit word at dst.
func (m WasmMemory) StorePointer(dst, ptr uint64) error {
	if dst > uint64(^uint32(0)) || !m.Mem.WriteUint64Le(uint32(dst), ptr) {
		return fmt.Errorf("pointer store at 0x%x is out of range", dst)
	}
	return nil
}
