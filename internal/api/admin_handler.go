package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/phrazzld/research-digest/internal/api/shared"
	"github.com/phrazzld/research-digest/internal/catalog"
	"github.com/phrazzld/research-digest/internal/domain"
	"github.com/phrazzld/research-digest/internal/events"
	"github.com/phrazzld/research-digest/internal/platform/logger"
	"github.com/phrazzld/research-digest/internal/service"
	"github.com/phrazzld/research-digest/internal/task"
)

// MaxSummarizeLimit caps the limit of a summarize trigger.
const MaxSummarizeLimit = 1000

// StatsProvider returns the operator overview.
type StatsProvider interface {
	Stats(ctx context.Context) (*service.Stats, error)
}

// AdminHandler serves the operator endpoints. Triggers only enqueue work;
// the task runner performs it.
type AdminHandler struct {
	emitter events.EventEmitter
	stats   StatsProvider
	catalog *catalog.Catalog
	logger  *slog.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(
	emitter events.EventEmitter,
	stats StatsProvider,
	cat *catalog.Catalog,
	log *slog.Logger,
) *AdminHandler {
	return &AdminHandler{
		emitter: emitter,
		stats:   stats,
		catalog: cat,
		logger:  log.With("component", "admin_handler"),
	}
}

// TriggerFetch handles POST /api/admin/trigger/fetch. The optional
// "categories" query parameter is a comma-separated list overriding the
// configured categories.
func (h *AdminHandler) TriggerFetch(w http.ResponseWriter, r *http.Request) {
	var categories []string
	if raw := r.URL.Query().Get("categories"); raw != "" {
		categories = domain.NormalizeCategories(strings.Split(raw, ","))
		if err := h.catalog.Validate(categories); err != nil {
			HandleAPIError(w, r, err, "")
			return
		}
	}
	h.emit(w, r, task.TaskTypeContentFetch, events.FetchRequest{Categories: categories})
}

// TriggerSummarize handles POST /api/admin/trigger/summarize?limit=.
func (h *AdminHandler) TriggerSummarize(w http.ResponseWriter, r *http.Request) {
	var limit int
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > MaxSummarizeLimit {
			shared.RespondWithError(w, r, http.StatusBadRequest,
				"Invalid limit: must be between 1 and "+strconv.Itoa(MaxSummarizeLimit))
			return
		}
		limit = n
	}
	h.emit(w, r, task.TaskTypeSummaryBackfill, events.SummarizeRequest{Limit: limit})
}

// TriggerDispatch handles POST /api/admin/trigger/dispatch.
func (h *AdminHandler) TriggerDispatch(w http.ResponseWriter, r *http.Request) {
	h.emit(w, r, task.TaskTypeDispatchPoll, events.DispatchRequest{})
}

// Stats handles GET /api/admin/stats.
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.stats.Stats(r.Context())
	if err != nil {
		HandleAPIError(w, r, err, "Failed to compute stats")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, stats)
}

func (h *AdminHandler) emit(w http.ResponseWriter, r *http.Request, eventType string, payload any) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	event, err := events.NewTaskRequestEvent(eventType, "admin_api", payload)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to create job")
		return
	}
	if err := h.emitter.EmitEvent(r.Context(), event); err != nil {
		HandleAPIError(w, r, err, "Failed to enqueue job")
		return
	}

	log.Info("operator triggered job",
		slog.String("event_id", event.ID.String()),
		slog.String("event_type", eventType))
	shared.RespondWithJSON(w, r, http.StatusAccepted, TriggerResponse{EventID: event.ID, Type: eventType})
}
