// Package ratelimit implements fixed-window request counting keyed by an
// arbitrary string, usually "<policy>:<client ip>".
package ratelimit

import (
	"context"
	"time"
)

// Decision is the outcome of a single counted hit.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfter is the time until the window resets, rounded up to a whole second.
func (d Decision) RetryAfter(now time.Time) time.Duration {
	wait := d.ResetAt.Sub(now)
	if wait <= 0 {
		return time.Second
	}
	if rem := wait % time.Second; rem != 0 {
		wait += time.Second - rem
	}
	return wait
}

type Limiter interface {
	// Hit counts one request against key and reports whether it is within max
	// for the current window.
	Hit(ctx context.Context, key string, max int, window time.Duration) (Decision, error)
	// Undo gives back one previously counted hit.
	Undo(ctx context.Context, key string) error
}

func decide(count, max int, resetAt time.Time) Decision {
	remaining := max - count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   count <= max,
		Limit:     max,
		Remaining: remaining,
		ResetAt:   resetAt,
	}
}
