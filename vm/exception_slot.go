package vm

// Thread-local exception slot. Each thread keeps its pending exceptions in
// LIFO order; handlers push the exception they catch and rethrow pops it.

// PushException makes exc the thread's pending exception.
func (t *Thread) PushException(exc *ExceptionRecord) {
	t.exceptions = append(t.exceptions, exc)
}

// PopException removes and returns the most recently pushed exception.
func (t *Thread) PopException() (*ExceptionRecord, bool) {
	n := len(t.exceptions)
	if n == 0 {
		return nil, false
	}
	exc := t.exceptions[n-1]
	t.exceptions[n-1] = nil
	t.exceptions = t.exceptions[:n-1]
	return exc, true
}

// PeekException returns the pending exception without removing it.
func (t *Thread) PeekException() (*ExceptionRecord, bool) {
	if n := len(t.exceptions); n > 0 {
		return t.exceptions[n-1], true
	}
	return nil, false
}

// PendingExceptions returns the depth of the exception slot.
func (t *Thread) PendingExceptions() int {
	return len(t.exceptions)
}

// Rethrow pops the pending exception and re-raises it unchanged. With no
// pending exception it fails fatally.
func (t *Thread) Rethrow() error {
	exc, ok := t.PopException()
	if !ok {
		return &FatalError{Kind: FatalRethrow, Reason: "rethrow outside of a handler"}
	}
	log.Debugf("thread %s: rethrow %s", t.ID, exc)
	// A negative handler count marks the record as rethrown while the
	// handlers that caught it are still ending.
	if exc.handlers > 0 {
		exc.handlers = -exc.handlers
	}
	t.rethrown = exc
	exc.setState(ExceptionThrown)
	return exc
}
