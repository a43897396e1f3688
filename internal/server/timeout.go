package server

import (
	"context"
	"net/http"
	"time"
)

// TimeoutMiddleware bounds each request. The handler's context is cancelled
// when the timeout expires; handlers must watch ctx.Done() to stop work. A
// non-positive timeout disables the bound.
func TimeoutMiddleware(timeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if timeout <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
