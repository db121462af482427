package reconcile

import "time"

// DefaultRetryDelay is the fixed delay before a rejected connect is retried.
const DefaultRetryDelay = 100 * time.Millisecond

// Timer is a pending scheduled call.
type Timer interface {
	// Stop cancels the call, reporting whether it was still pending.
	Stop() bool
}

// Scheduler runs the reconciler's delayed calls.
// This allows injecting a deterministic scheduler in tests.
type Scheduler interface {
	// AfterFunc calls f in its own goroutine after d.
	AfterFunc(d time.Duration, f func()) Timer
}

// RealScheduler implements Scheduler with the system clock.
type RealScheduler struct{}

// AfterFunc wraps time.AfterFunc.
func (RealScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// getScheduler returns s if non-nil, otherwise the real scheduler.
func getScheduler(s Scheduler) Scheduler {
	if s != nil {
		return s
	}
	return RealScheduler{}
}
