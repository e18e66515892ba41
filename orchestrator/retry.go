package orchestrator

import (
	"context"
	"time"
)

// Clock abstracts time so publish pacing and backoff are deterministic in
// tests.
type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until the context is canceled, whichever comes
	// first.
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func NewRealClock() Clock {
	return realClock{}
}

func (realClock) Now() time.Time {
	return time.Now()
}

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// attemptState tracks one in-flight publish attempt sequence: how many
// calls were made, the next exponential backoff, and the last classified
// failure. Explicit state instead of loop variables so retry behavior is
// directly testable.
type attemptState struct {
	attempts    int
	maxAttempts int
	nextBackoff time.Duration
	lastErr     error
}

func newAttemptState(maxAttempts int) *attemptState {
	return &attemptState{
		maxAttempts: maxAttempts,
		nextBackoff: time.Second,
	}
}

func (a *attemptState) recordFailure(err error) {
	a.attempts++
	a.lastErr = err
}

func (a *attemptState) exhausted() bool {
	return a.attempts >= a.maxAttempts
}

// backoffDelay returns how long to wait before the next attempt. A
// retry-after signal from the platform wins over exponential backoff.
func (a *attemptState) backoffDelay(retryAfter time.Duration) time.Duration {
	if retryAfter > 0 {
		return retryAfter
	}
	d := a.nextBackoff
	a.nextBackoff *= 2
	return d
}
