package http

import (
	"context"
	"net/http"

	"ev-telemetry/processing/internal/limits"
)

type contextKey string

const limitKey contextKey = "history-limit"

// LimitMiddleware resolves the caller's historical-record access limit
// from the X-API-Key header and stashes it in the request context. The
// handlers treat the limit as an input; no role logic lives here.
type LimitMiddleware struct {
	resolver *limits.Resolver
}

func NewLimitMiddleware(r *limits.Resolver) *LimitMiddleware {
	return &LimitMiddleware{resolver: r}
}

func (m *LimitMiddleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limit := m.resolver.Resolve(r.Context(), r.Header.Get("X-API-Key"))
		ctx := context.WithValue(r.Context(), limitKey, limit)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// HistoryLimit extracts the resolved limit, defaulting to zero
// (meaning: caller should apply its own fallback) when the middleware
// did not run.
func HistoryLimit(ctx context.Context) int {
	if v, ok := ctx.Value(limitKey).(int); ok {
		return v
	}
	return 0
}
