package indexer

import "sync/atomic"

// buildLock is a non-blocking mutex: callers that lose the race are turned
// away instead of queued.
type buildLock struct {
	held atomic.Bool
}

// TryAcquire takes the lock if it is free and reports whether it did.
func (l *buildLock) TryAcquire() bool {
	return l.held.CompareAndSwap(false, true)
}

// Release frees the lock. Only the holder may call it.
func (l *buildLock) Release() {
	l.held.Store(false)
}

// Held reports whether a build currently holds the lock.
func (l *buildLock) Held() bool {
	return l.held.Load()
}
