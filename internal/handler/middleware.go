package handler

import "net/http"

// Middleware wraps a handler, typically with a rate-limit policy.
type Middleware func(http.Handler) http.Handler

func passThrough(mw Middleware) Middleware {
	if mw == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return mw
}
