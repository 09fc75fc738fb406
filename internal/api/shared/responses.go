package shared

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/phrazzld/research-digest/internal/domain"
	"github.com/phrazzld/research-digest/internal/platform/logger"
	"github.com/phrazzld/research-digest/internal/redact"
	"github.com/phrazzld/research-digest/internal/service"
	"github.com/phrazzld/research-digest/internal/store"
)

// ErrorResponse is the body of every error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	TraceID string `json:"trace_id,omitempty"`
}

// ResponseOption customizes how an error response is logged.
type ResponseOption func(*responseOptions)

type responseOptions struct {
	elevateLogLevel bool
}

// WithElevatedLogLevel logs a 4xx response at WARN instead of DEBUG. The auth
// middleware uses it for rejected operator credentials.
func WithElevatedLogLevel() ResponseOption {
	return func(opts *responseOptions) {
		opts.elevateLogLevel = true
	}
}

// RespondWithJSON writes a JSON response with the given status code and data.
func RespondWithJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.FromContext(r.Context()).Error("failed to encode JSON response", "error", err)
	}
}

// RespondWithError writes a JSON error response carrying the request's trace
// ID.
func RespondWithError(w http.ResponseWriter, r *http.Request, status int, message string) {
	traceID := GetTraceID(r.Context())

	logger.FromContext(r.Context()).Debug("sending error response",
		"status_code", status,
		"message", message,
		"trace_id", traceID,
		"path", r.URL.Path,
		"method", r.Method)

	RespondWithJSON(w, r, status, ErrorResponse{Error: message, TraceID: traceID})
}

// RespondWithErrorAndLog writes userMessage to the client and logs err with
// the context needed to follow it up: its error class, the store or service
// operation that failed and the recipient the request acted for. Only the
// redacted error text reaches the log.
//
// 5xx responses log at ERROR. 503 (the task queue cannot take more work) logs
// at WARN, as do 4xx responses sent WithElevatedLogLevel. Anything else logs
// at DEBUG.
func RespondWithErrorAndLog(
	w http.ResponseWriter,
	r *http.Request,
	status int,
	userMessage string,
	err error,
	opts ...ResponseOption,
) {
	var options responseOptions
	for _, opt := range opts {
		opt(&options)
	}

	ctx := r.Context()
	traceID := GetTraceID(ctx)
	attrs := []slog.Attr{
		slog.String("trace_id", traceID),
		slog.String("path", r.URL.Path),
		slog.String("method", r.Method),
		slog.Int("status_code", status),
		slog.String("user_message", userMessage),
	}
	attrs = append(attrs, errorAttrs(ctx, err)...)

	logger.FromContext(ctx).LogAttrs(ctx, logLevel(status, options), "API error response", attrs...)

	RespondWithJSON(w, r, status, ErrorResponse{Error: userMessage, TraceID: traceID})
}

func logLevel(status int, options responseOptions) slog.Level {
	switch {
	case status == http.StatusServiceUnavailable:
		return slog.LevelWarn
	case status >= http.StatusInternalServerError:
		return slog.LevelError
	case options.elevateLogLevel && status >= http.StatusBadRequest:
		return slog.LevelWarn
	default:
		return slog.LevelDebug
	}
}

// errorAttrs describes err for the logs.
func errorAttrs(ctx context.Context, err error) []slog.Attr {
	var attrs []slog.Attr
	if id, ok := GetRecipientID(ctx); ok {
		attrs = append(attrs, slog.String("recipient_id", id.String()))
	}
	if err == nil {
		return attrs
	}

	attrs = append(attrs, slog.String("error", redact.Error(err)))
	if class := ErrorClass(err); class != "" {
		attrs = append(attrs, slog.String("error_class", class))
	}

	var svcErr *service.RecipientServiceError
	if errors.As(err, &svcErr) {
		attrs = append(attrs, slog.String("service_operation", svcErr.Operation))
	}
	var storeErr *store.StoreError
	if errors.As(err, &storeErr) {
		attrs = append(attrs,
			slog.String("store_entity", storeErr.Entity),
			slog.String("store_operation", storeErr.Operation))
	}
	return attrs
}

// ErrorClass names the domain error class err belongs to, or "" when it
// belongs to none.
func ErrorClass(err error) string {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return "validation"
	case errors.Is(err, domain.ErrPermanentProvider):
		return "permanent_provider"
	case errors.Is(err, domain.ErrPersistenceConflict):
		return "persistence_conflict"
	case errors.Is(err, domain.ErrTransientExternal):
		return "transient_external"
	case errors.Is(err, store.ErrNotFound):
		return "not_found"
	case errors.Is(err, store.ErrDuplicate):
		return "duplicate"
	default:
		return ""
	}
}
