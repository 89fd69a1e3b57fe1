// Package latch provides a set-once completion signal that a single waiter
// can block on with a timeout.
package latch

import (
	"context"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/Snehask3825/kortex/pkg/completion"
)

// Latch is set at most once. Set may be called from any goroutine, any
// number of times; only the first call has an effect. A Latch is never
// reset: create one per watched operation.
type Latch struct {
	clock clock.Clock

	mu      sync.Mutex
	set     bool
	outcome completion.Outcome
	done    chan struct{}
}

// New creates an unset latch. A nil clock selects the real clock.
func New(clk clock.Clock) *Latch {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Latch{
		clock: clk,
		done:  make(chan struct{}),
	}
}

// Set stores outcome and wakes the waiter. It reports whether this call
// set the latch; later calls are no-ops and return false.
func (l *Latch) Set(outcome completion.Outcome) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.set {
		return false
	}
	l.set = true
	l.outcome = outcome
	close(l.done)
	return true
}

// Done returns a channel closed when the latch is set.
func (l *Latch) Done() <-chan struct{} {
	return l.done
}

// IsSet reports whether the latch has been set.
func (l *Latch) IsSet() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.set
}

// Outcome returns the stored outcome and whether the latch is set.
func (l *Latch) Outcome() (completion.Outcome, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.outcome, l.set
}

// Wait blocks until the latch is set or timeout elapses, and reports
// whether it was set in time.
func (l *Latch) Wait(timeout time.Duration) bool {
	set, _ := l.WaitContext(context.Background(), timeout)
	return set
}

// WaitContext is Wait that also returns early with ctx.Err() when ctx is
// done. A timeout is not an error: it returns (false, nil).
func (l *Latch) WaitContext(ctx context.Context, timeout time.Duration) (bool, error) {
	select {
	case <-l.done:
		return true, nil
	default:
	}

	if timeout <= 0 {
		return false, nil
	}

	timer := l.clock.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-l.done:
		return true, nil
	case <-timer.C():
		// A Set that raced the timer still wins.
		return l.IsSet(), nil
	case <-ctx.Done():
		// So does one that raced cancellation.
		if l.IsSet() {
			return true, nil
		}
		return false, ctx.Err()
	}
}
