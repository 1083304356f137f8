// Package sync provides synchronization primitives for use in a
// single-core, cooperatively-scheduled kernel. Spinlock is not a
// multi-core primitive. No other kernel package acquires it: the kernel
// object database, the PMM and the TBS arena trees are not guarded by a
// Spinlock.
package sync

import "sync/atomic"

// Spinlock implements a lock where a caller busy-waits until the lock
// becomes available. Re-acquiring a lock already held by the current
// caller deadlocks, same as any other spinlock.
type Spinlock struct {
	state uint32
}

// Acquire blocks until the lock can be acquired.
func (l *Spinlock) Acquire() {
	for !l.TryToAcquire() {
	}
}

// TryToAcquire attempts to acquire the lock without blocking and reports
// whether it succeeded.
func (l *Spinlock) TryToAcquire() bool {
	return atomic.SwapUint32(&l.state, 1) == 0
}

// Release relinquishes a held lock. Calling Release on an already-free
// lock has no effect.
func (l *Spinlock) Release() {
	atomic.StoreUint32(&l.state, 0)
}
