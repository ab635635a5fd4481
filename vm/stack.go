package vm

import (
	"fmt"
)

// StackCoordinator supplies the native-equivalent stack of a thread.
type StackCoordinator interface {
	StackPointer() uint64
	SetStackPointer(sp uint64)

	// AcquireFrame is called around the outermost dispatch of a thread.
	AcquireFrame() (StackFrame, error)
}

// StackFrame is a scoped stack acquisition.
type StackFrame interface {
	Release()
}

// StackOverflowError reports an exhausted stack or call depth.
type StackOverflowError struct {
	Depth     int
	Requested uint64
}

func (e *StackOverflowError) Error() string {
	if e.Requested > 0 {
		return fmt.Sprintf("stack overflow: cannot allocate %d bytes", e.Requested)
	}
	return fmt.Sprintf("stack overflow at call depth %d", e.Depth)
}

// LinearStack is a downward-growing stack over [top-size, top).
type LinearStack struct {
	top    uint64
	bottom uint64
	sp     uint64
	frames int
}

// NewLinearStack creates a stack whose first allocation is below top.
func NewLinearStack(top, size uint64) *LinearStack {
	return &LinearStack{top: top, bottom: top - size, sp: top}
}

func (s *LinearStack) StackPointer() uint64 { return s.sp }

func (s *LinearStack) SetStackPointer(sp uint64) { s.sp = sp }

// Allocate reserves size bytes aligned to align and returns their address.
func (s *LinearStack) Allocate(size, align uint64) (uint64, error) {
	if align == 0 {
		align = 1
	}
	if size > s.sp-s.bottom {
		return 0, &StackOverflowError{Requested: size}
	}
	sp := (s.sp - size) &^ (align - 1)
	if sp < s.bottom {
		return 0, &StackOverflowError{Requested: size}
	}
	s.sp = sp
	return sp, nil
}

// Frames returns the number of frames currently acquired.
func (s *LinearStack) Frames() int { return s.frames }

// AcquireFrame records the stack pointer and restores it on release.
func (s *LinearStack) AcquireFrame() (StackFrame, error) {
	s.frames++
	return &linearFrame{stack: s, saved: s.sp}, nil
}

type linearFrame struct {
	stack    *LinearStack
	saved    uint64
	released bool
}

func (f *linearFrame) Release() {
	if f.released {
		return
	}
	f.released = true
	f.stack.sp = f.saved
	f.stack.frames--
}
