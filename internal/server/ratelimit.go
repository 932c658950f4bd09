package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/rdeshpande/chat-gateway/internal/domain"
	"github.com/rdeshpande/chat-gateway/internal/limiter"
)

// TurnLimitMiddleware bounds chat turns per tenant. A nil limiter disables
// the check.
func TurnLimitMiddleware(l *limiter.TurnLimiter, limit int) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if l == nil || limit <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tenant := chi.URLParam(r, "tenant")

			allowed, used, resetAt, err := l.Allow(r.Context(), tenant, time.Now())
			if err != nil {
				// Redis being down should not take chat down with it.
				AddError(r.Context(), err)
				next.ServeHTTP(w, r)
				return
			}

			remaining := int64(limit) - used
			if remaining < 0 {
				remaining = 0
			}
			h := w.Header()
			h.Set("x-ratelimit-limit-requests", strconv.Itoa(limit))
			h.Set("x-ratelimit-remaining-requests", strconv.FormatInt(remaining, 10))
			h.Set("x-ratelimit-reset-requests", resetAt.UTC().Format(time.RFC3339))

			if !allowed {
				writeError(w, domain.ErrRateLimited("Chat turn limit reached. Try again later."))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
