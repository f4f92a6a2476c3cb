package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/tallypay/authcore/internal/audit"
	apperrors "github.com/tallypay/authcore/internal/errors"
	"github.com/tallypay/authcore/internal/ratelimit"
)

// KeyFunc picks the subject a request is counted against.
type KeyFunc func(r *http.Request) string

// RateLimitMiddleware applies one policy. Requests are keyed by client IP
// unless another KeyFunc is set.
type RateLimitMiddleware struct {
	limiter ratelimit.Limiter
	policy  ratelimit.Policy
	keyFunc KeyFunc
	now     func() time.Time
}

func NewRateLimitMiddleware(limiter ratelimit.Limiter, policy ratelimit.Policy) *RateLimitMiddleware {
	return &RateLimitMiddleware{
		limiter: limiter,
		policy:  policy,
		keyFunc: audit.ClientIP,
		now:     time.Now,
	}
}

func (m *RateLimitMiddleware) WithKeyFunc(fn KeyFunc) *RateLimitMiddleware {
	m.keyFunc = fn
	return m
}

func (m *RateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := m.policy.Key(m.keyFunc(r))

		decision, err := m.limiter.Hit(r.Context(), key, m.policy.Max, m.policy.Window)
		if err != nil {
			log.Warn().Err(err).Str("policy", m.policy.Name).Msg("rate limiter unavailable, allowing request")
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))

		if !decision.Allowed {
			retryAfter := decision.RetryAfter(m.now())
			w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter/time.Second)))
			audit.LogFromRequest(r, audit.Event{
				Type:    audit.EventRateLimitExceed,
				Details: map[string]interface{}{"policy": m.policy.Name, "path": r.URL.Path},
			})
			writeError(w, apperrors.RateLimitExceeded().WithDetails(map[string]int{
				"retryAfterSeconds": int(retryAfter / time.Second),
			}))
			return
		}

		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		if !m.policy.Counts(status) {
			if err := m.limiter.Undo(context.WithoutCancel(r.Context()), key); err != nil {
				log.Warn().Err(err).Str("policy", m.policy.Name).Msg("failed to undo rate limit hit")
			}
		}
	})
}
