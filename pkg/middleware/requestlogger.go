package middleware

import (
	"log/slog"
	"net/http"

	"github.com/utafrali/storefront/pkg/logger"
)

// Identity headers set by the gateway in front of the service.
const (
	UserIDHeader  = "X-User-ID"
	GuestIDHeader = "X-Guest-ID"
)

// RequestLogger stores a request-scoped logger in the context carrying the
// correlation ID, caller identity and trace IDs. Mount it after
// RequestLogging and Tracing.
func RequestLogger(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if id := r.Header.Get(UserIDHeader); id != "" {
				ctx = logger.WithUserID(ctx, id)
			} else if id := r.Header.Get(GuestIDHeader); id != "" {
				ctx = logger.WithGuestID(ctx, id)
			}

			ctx = logger.NewContext(ctx, logger.WithContext(ctx, base))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
