package importer

// limiter.go bounds how many import runs execute at once.
//
// A semaphore restricts parallel runs to a configurable maximum. When all
// slots are occupied, new runs wait up to maxWait before failing with
// ErrTooManyRuns. Each import name may hold at most one slot, so the
// scheduler and a manual trigger never process the same incoming
// directory twice; the second caller gets ErrJobBusy immediately.

import (
	"context"
	"sync"
	"time"
)

// DefaultMaxConcurrentRuns is the default limit for parallel runs.
const DefaultMaxConcurrentRuns = 2

// DefaultMaxWaitTime is how long to wait for a slot before rejecting.
const DefaultMaxWaitTime = 30 * time.Second

// RunLimiter controls concurrent import runs using a semaphore.
type RunLimiter struct {
	semaphore chan struct{}
	maxWait   time.Duration

	mu     sync.Mutex
	active int
	busy   map[string]bool
}

// NewRunLimiter creates a limiter that allows at most maxConcurrent simultaneous runs.
func NewRunLimiter(maxConcurrent int, maxWait time.Duration) *RunLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentRuns
	}
	if maxWait <= 0 {
		maxWait = DefaultMaxWaitTime
	}

	return &RunLimiter{
		semaphore: make(chan struct{}, maxConcurrent),
		maxWait:   maxWait,
		busy:      make(map[string]bool),
	}
}

// Acquire reserves a run slot for the named import.
// Returns ErrJobBusy if the import is already running, ErrTooManyRuns if
// no slot frees up within the wait time.
// The caller MUST call Release(name) when the run completes.
func (l *RunLimiter) Acquire(ctx context.Context, name string) error {
	l.mu.Lock()
	if l.busy[name] {
		l.mu.Unlock()
		return ErrJobBusy
	}
	l.busy[name] = true
	l.mu.Unlock()

	waitCtx, cancel := context.WithTimeout(ctx, l.maxWait)
	defer cancel()

	select {
	case l.semaphore <- struct{}{}:
		l.mu.Lock()
		l.active++
		l.mu.Unlock()
		return nil

	case <-waitCtx.Done():
		l.unmark(name)
		// Check if original context was cancelled vs timeout
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrTooManyRuns
	}
}

// TryAcquire reserves a slot without blocking.
func (l *RunLimiter) TryAcquire(name string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.busy[name] {
		return false
	}

	select {
	case l.semaphore <- struct{}{}:
		l.busy[name] = true
		l.active++
		return true
	default:
		return false
	}
}

// Release frees the slot held by name.
// Must be called exactly once for each successful Acquire/TryAcquire.
func (l *RunLimiter) Release(name string) {
	l.mu.Lock()
	l.active--
	delete(l.busy, name)
	l.mu.Unlock()

	<-l.semaphore
}

func (l *RunLimiter) unmark(name string) {
	l.mu.Lock()
	delete(l.busy, name)
	l.mu.Unlock()
}

// Busy reports whether the named import currently holds a slot.
func (l *RunLimiter) Busy(name string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.busy[name]
}

// ActiveCount returns the number of currently active runs.
func (l *RunLimiter) ActiveCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active
}

// Available returns the number of free slots.
func (l *RunLimiter) Available() int {
	return cap(l.semaphore) - len(l.semaphore)
}

// WaitForDrain blocks until all active runs complete or ctx is done.
// Used during shutdown so archives are not left half-written.
func (l *RunLimiter) WaitForDrain(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		if l.ActiveCount() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// LimiterStatus is a snapshot of the limiter's state.
type LimiterStatus struct {
	Active        int `json:"active"`
	Available     int `json:"available"`
	MaxConcurrent int `json:"maxConcurrent"`
}

// Status returns the current limiter state for monitoring.
func (l *RunLimiter) Status() LimiterStatus {
	return LimiterStatus{
		Active:        l.ActiveCount(),
		Available:     l.Available(),
		MaxConcurrent: cap(l.semaphore),
	}
}
