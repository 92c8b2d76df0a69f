package embedder

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Limiter is the process-wide ceiling on in-flight embedding calls. The
// provider rate limit is global, so the limit is shared across every task
// in the process, not held per task.
//
// The underlying semaphore is built lazily on first Acquire, inside the
// goroutine that actually issues calls. Building it at package init would
// bind it to whatever execution context existed at import time, which goes
// wrong when the hosting runtime forks workers after startup.
type Limiter struct {
	size int64

	once sync.Once
	sem  *semaphore.Weighted
}

// NewLimiter creates a limiter with the given ceiling. The semaphore itself
// is not constructed until first use.
func NewLimiter(size int) *Limiter {
	if size <= 0 {
		size = 4
	}
	return &Limiter{size: int64(size)}
}

func (l *Limiter) init() {
	l.once.Do(func() {
		l.sem = semaphore.NewWeighted(l.size)
	})
}

// Acquire blocks until a slot is free or the context is done.
func (l *Limiter) Acquire(ctx context.Context) error {
	l.init()
	return l.sem.Acquire(ctx, 1)
}

// Release returns a slot. Must follow a successful Acquire.
func (l *Limiter) Release() {
	l.sem.Release(1)
}
