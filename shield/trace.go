package shield

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hazyhaar/webcleaner/idgen"
	"github.com/hazyhaar/webcleaner/kit"
)

// RequestHeader carries the request ID in both directions.
const RequestHeader = "X-Request-ID"

// RequestID tags each request with an ID (the caller's X-Request-ID when
// it parses, a fresh req_ UUIDv7 otherwise), echoes it in the response and
// stores it with a per-request logger in the context.
func RequestID(logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	newID := idgen.Prefixed("req_", idgen.Default)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(RequestHeader)
			if _, err := idgen.Parse(id); err != nil {
				id = newID()
			}
			w.Header().Set(RequestHeader, id)

			ctx := kit.WithRequestID(r.Context(), id)
			reqLogger := logger.With(
				"request_id", id,
				"method", r.Method,
				"path", r.URL.Path,
			)
			ctx = context.WithValue(ctx, LoggerKey, reqLogger)
			reqLogger.Debug("shield: request", "remote_addr", r.RemoteAddr)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
