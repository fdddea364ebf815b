package sched

import "context"

// DefaultMaxConcurrency bounds in-flight probes well under a typical
// per-process socket ceiling.
const DefaultMaxConcurrency = 32

// Limiter is a semaphore bounding the number of concurrently executing
// probes across all nodes.
type Limiter struct {
	slots chan struct{}
}

func NewLimiter(maxConcurrency int) *Limiter {
	if maxConcurrency <= 0 {
		maxConcurrency = DefaultMaxConcurrency
	}
	return &Limiter{slots: make(chan struct{}, maxConcurrency)}
}

// Acquire blocks until a slot is free or the context is done.
func (l *Limiter) Acquire(ctx context.Context) error {
	select {
	case l.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees a slot acquired with Acquire.
func (l *Limiter) Release() {
	<-l.slots
}

// Cap returns the configured slot count.
func (l *Limiter) Cap() int {
	return cap(l.slots)
}
