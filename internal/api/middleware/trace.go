package middleware

import (
	"log/slog"
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/phrazzld/research-digest/internal/api/shared"
	"github.com/phrazzld/research-digest/internal/platform/logger"
)

// NewTraceMiddleware adds a trace ID to the request context and installs a
// request logger carrying it, so handlers and services log with the trace
// ID returned in error responses. It should run early in the chain.
func NewTraceMiddleware(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := shared.SetTraceID(r.Context())
			if id := chimw.GetReqID(ctx); id != "" {
				ctx = logger.WithRequestID(ctx, id)
			}

			reqLog := log.With(slog.String("trace_id", shared.GetTraceID(ctx)))
			ctx = logger.WithLogger(ctx, reqLog)

			reqLog.Debug("request started",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("remote_addr", r.RemoteAddr))

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
