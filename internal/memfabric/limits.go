package memfabric

import (
	"errors"
	"sync/atomic"
)

// ErrResourceLimitExceeded is returned by [Limiter.Acquire] when granting
// the request would push either tracked quantity over its configured
// maximum. No state is mutated when this is returned.
var ErrResourceLimitExceeded = errors.New("memfabric: resource limit exceeded")

// Limiter is the fully atomic, lock-free resource-limit account described
// in the spec's §4.6: it tracks current memory reservation and current
// concurrent request count, both bounded, both updated via compare-exchange
// loops so that acquire/release never blocks.
type Limiter struct {
	maxMemory     int64
	maxConcurrent int64

	currentMemory     atomic.Int64
	currentConcurrent atomic.Int64
}

// NewLimiter creates a [Limiter] bounded at maxMemory bytes and
// maxConcurrent simultaneous guards. A non-positive bound means
// unbounded for that dimension.
func NewLimiter(maxMemory, maxConcurrent int64) *Limiter {
	return &Limiter{maxMemory: maxMemory, maxConcurrent: maxConcurrent}
}

// Guard represents one acquired reservation. Release must be called
// exactly once to return the reservation to the account.
type Guard struct {
	limiter *Limiter
	bytes   int64
}

// Acquire atomically reserves bytes of memory and one concurrency slot. On
// success it returns a [Guard] that must be released via [Guard.Release].
// On failure neither counter is mutated.
func (l *Limiter) Acquire(bytes int64) (*Guard, error) {
	for {
		curMem := l.currentMemory.Load()
		nextMem := curMem + bytes
		if l.maxMemory > 0 && nextMem > l.maxMemory {
			return nil, ErrResourceLimitExceeded
		}

		curConc := l.currentConcurrent.Load()
		nextConc := curConc + 1
		if l.maxConcurrent > 0 && nextConc > l.maxConcurrent {
			return nil, ErrResourceLimitExceeded
		}

		if !l.currentMemory.CompareAndSwap(curMem, nextMem) {
			continue
		}
		if !l.currentConcurrent.CompareAndSwap(curConc, nextConc) {
			// Lost the concurrency race after winning the memory race: undo
			// the memory reservation and retry from scratch.
			l.currentMemory.Add(-bytes)
			continue
		}
		return &Guard{limiter: l, bytes: bytes}, nil
	}
}

// Release returns g's reservation to its limiter. Safe to call once; a
// second call double-releases the account and is the caller's bug, not
// guarded against here (mirroring the spec's "dropping the guard
// decrements" contract with no mention of double-drop protection).
func (g *Guard) Release() {
	g.limiter.currentMemory.Add(-g.bytes)
	g.limiter.currentConcurrent.Add(-1)
}

// CurrentMemory returns the current memory reservation.
func (l *Limiter) CurrentMemory() int64 { return l.currentMemory.Load() }

// CurrentConcurrent returns the current concurrency count.
func (l *Limiter) CurrentConcurrent() int64 { return l.currentConcurrent.Load() }
