package dispatch

import (
	"sync/atomic"
)

// ScopedLock is a held instance of the loop's process-wide lock. Release it
// with a deferred call so every exit path releases exactly once.
type ScopedLock struct {
	loop     *Loop
	released atomic.Bool
}

// Lock blocks until no change is being dispatched and no other scoped lock is
// held, then returns the held lock.
//
//	lk := loop.Lock()
//	defer lk.Release()
func (l *Loop) Lock() *ScopedLock {
	l.mu.Lock()
	l.acquired.Add(1)
	l.metrics.RecordLockAcquired()
	return &ScopedLock{loop: l}
}

// Release unlocks. Calls after the first are no-ops.
func (s *ScopedLock) Release() {
	if !s.released.CompareAndSwap(false, true) {
		return
	}
	s.loop.released.Add(1)
	s.loop.metrics.RecordLockReleased()
	s.loop.mu.Unlock()
}

// WithLock runs fn holding the scoped lock. The lock is released however fn
// returns, including by panic.
func (l *Loop) WithLock(fn func() error) error {
	lk := l.Lock()
	defer lk.Release()
	return fn()
}

// LockStats counts scoped locks taken through Lock and WithLock. Dispatch of
// feed changes is not counted.
type LockStats struct {
	Acquired int64
	Released int64
}

// LockStats returns the scoped lock counters.
func (l *Loop) LockStats() LockStats {
	return LockStats{
		Acquired: l.acquired.Load(),
		Released: l.released.Load(),
	}
}
