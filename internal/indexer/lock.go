package indexer

import "sync/atomic"

// indexLock provides non-blocking lock semantics using atomic operations.
// One lock exists per repository, so concurrent Index calls for the same
// repository fail fast instead of queuing.
type indexLock struct {
	state atomic.Int32
}

// tryAcquire attempts to acquire the lock without blocking. Returns true if
// the lock was acquired.
func (l *indexLock) tryAcquire() bool {
	return l.state.CompareAndSwap(0, 1)
}

// release releases the lock. Must only be called by the goroutine that
// acquired it.
func (l *indexLock) release() {
	l.state.Store(0)
}
