package vm

import (
	"context"

	"github.com/google/uuid"
)

// Thread is the execution context of one interpreter thread. It is passed
// through every call and is not safe for concurrent use.
type Thread struct {
	ID    uuid.UUID
	Stack StackCoordinator

	rt  *Runtime
	ctx context.Context

	exceptions []*ExceptionRecord
	rethrown   *ExceptionRecord

	depth int
	frame StackFrame
}

// Runtime returns the runtime the thread belongs to.
func (t *Thread) Runtime() *Runtime { return t.rt }

// Context returns the thread's context.
func (t *Thread) Context() context.Context { return t.ctx }

// Depth returns the current dispatch depth.
func (t *Thread) Depth() int { return t.depth }

// enter marks the start of a dispatch. The outermost dispatch acquires a
// stack frame. The returned function must be called when it finishes.
func (t *Thread) enter() (func(), error) {
	if limit := t.rt.config.MaxCallDepth; limit > 0 && t.depth >= limit {
		return nil, &StackOverflowError{Depth: t.depth}
	}
	if t.depth == 0 {
		frame, err := t.Stack.AcquireFrame()
		if err != nil {
			return nil, err
		}
		t.frame = frame
	}
	t.depth++
	return t.leave, nil
}

func (t *Thread) leave() {
	t.depth--
	if t.depth == 0 && t.frame != nil {
		t.frame.Release()
		t.frame = nil
	}
}

// drain destroys every exception still pending on the thread.
func (t *Thread) drain() error {
	var firstErr error
	if exc := t.rethrown; exc != nil {
		t.rethrown = nil
		exc.setState(ExceptionUncaught)
		firstErr = exc.destroy(t)
	}
	for {
		exc, ok := t.PopException()
		if !ok {
			return firstErr
		}
		exc.setState(ExceptionUncaught)
		if err := exc.destroy(t); err != nil && firstErr == nil {
			firstErr = err
		}
	}
}
