package notify

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// Throttled paces outbound sends so a burst of logins cannot exceed the
// provider's sending quota.
type Throttled struct {
	next    Notifier
	limiter *rate.Limiter
}

func NewThrottled(next Notifier, perSecond float64, burst int) *Throttled {
	if burst < 1 {
		burst = 1
	}
	return &Throttled{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

func (t *Throttled) Send(ctx context.Context, msg Message) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("notification throttled: %w", err)
	}
	return t.next.Send(ctx, msg)
}
