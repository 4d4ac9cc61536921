// ============================================================================
// Permit Pool - Per-Handler Counting Semaphore
// ============================================================================
//
// Package: internal/permit
// File: permit.go
// Purpose: Bounds in-flight work per Handler to max-in-progress, tracking
//   permits borrowed by pending poll requests, live executions, and queued
//   submissions.
//
// Ownership Transfer:
//   A permit is modeled as a Token owned by exactly one of: a poll iteration
//   (briefly), a Dispatcher execution, or a Submission Tracker. Ownership
//   moves between these as work flows through the pipeline; it is never
//   held by two owners at once.
//
// Double-Release Safety:
//   Token.Release is idempotent. A double release is a caller bug, but
//   internal races must never corrupt pool state or crash the process, so
//   it is absorbed rather than panicking - Token.AlreadyReleased lets
//   tests and assertions still catch it.
package permit

import (
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Pool is the counting semaphore backing one Handler's concurrency budget.
// Acquire/Release calls are safe for concurrent use.
type Pool struct {
	mu        sync.Mutex
	sem       *semaphore.Weighted
	capacity  int64
	available int64
}

// NewPool creates a Pool with the given capacity (a Handler's
// max-in-progress). capacity must be >= 1; callers validate this at
// registration (handlertable.Register).
func NewPool(capacity int) *Pool {
	return &Pool{
		sem:       semaphore.NewWeighted(int64(capacity)),
		capacity:  int64(capacity),
		available: int64(capacity),
	}
}

// Capacity returns the pool's fixed size (max-in-progress).
func (p *Pool) Capacity() int {
	return int(p.capacity)
}

// Available returns the number of permits currently free to acquire. This is
// the "available" read in §4.1 step 1.
func (p *Pool) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return int(p.available)
}

// InUse returns the number of permits currently borrowed.
func (p *Pool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return int(p.capacity - p.available)
}

// TryAcquireUpTo non-blockingly acquires min(n, available) permits and
// returns one Token per acquired permit. It never blocks and never acquires
// more than requested (§4.1 step 1: "non-blockingly acquire up to size
// permits").
func (p *Pool) TryAcquireUpTo(n int) []*Token {
	if n <= 0 {
		return nil
	}
	p.mu.Lock()
	want := int64(n)
	if want > p.available {
		want = p.available
	}
	if want <= 0 {
		p.mu.Unlock()
		return nil
	}
	if !p.sem.TryAcquire(want) {
		// available and the semaphore's internal count are only ever
		// mutated together under p.mu, so this should not happen; treat
		// it as zero acquired rather than panicking.
		p.mu.Unlock()
		return nil
	}
	p.available -= want
	p.mu.Unlock()

	tokens := make([]*Token, want)
	for i := range tokens {
		tokens[i] = &Token{pool: p}
	}
	return tokens
}

// release returns one permit's weight to the pool. Called at most once per
// Token, enforced by Token.Release's idempotency.
func (p *Pool) release() {
	p.mu.Lock()
	p.sem.Release(1)
	p.available++
	p.mu.Unlock()
}

// Token is a single borrowed permit. It is owned by exactly one of: a poll
// iteration, a Dispatcher execution, or a Submission Tracker at any given
// time (§9); ownership transfers by handing the Token along, never by
// copying it.
type Token struct {
	pool     *Pool
	released atomic.Bool
}

// Release returns the permit to its pool. Safe to call more than once: only
// the first call has effect. Returns true if this call actually released
// the permit, false if it was already released (a caller bug — check
// AlreadyReleased in tests that want to assert single-release discipline).
func (t *Token) Release() bool {
	if !t.released.CompareAndSwap(false, true) {
		return false
	}
	t.pool.release()
	return true
}

// AlreadyReleased reports whether Release has already run for this Token.
func (t *Token) AlreadyReleased() bool {
	return t.released.Load()
}
