package poller

import (
	"context"
	"time"
)

// Backoff computes the progressive delay between status checks:
// Base + Step*attempt, capped at Max.
type Backoff struct {
	Base time.Duration
	Step time.Duration
	Max  time.Duration
}

// DefaultBackoff yields 3s, 4s, 5s ... up to 8s.
func DefaultBackoff() Backoff {
	return Backoff{Base: 3 * time.Second, Step: time.Second, Max: 8 * time.Second}
}

// Delay returns the wait that follows the given zero-based attempt.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := b.Base + time.Duration(attempt)*b.Step
	if b.Max > 0 && d > b.Max {
		return b.Max
	}
	return d
}

// WaitFunc blocks for d or until ctx is done, whichever comes first.
type WaitFunc func(ctx context.Context, d time.Duration) error

// Sleep is the real-time WaitFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
