package api

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/research-digest/internal/api/middleware"
	"github.com/phrazzld/research-digest/internal/catalog"
	"github.com/phrazzld/research-digest/internal/domain"
	"github.com/phrazzld/research-digest/internal/events"
	"github.com/phrazzld/research-digest/internal/platform/logger"
	"github.com/phrazzld/research-digest/internal/service"
	"github.com/phrazzld/research-digest/internal/store"
	"github.com/phrazzld/research-digest/internal/task"
)

func newAdminRouter(t *testing.T, emitter events.EventEmitter, stats StatsProvider) http.Handler {
	t.Helper()
	log, _ := logger.GetTestLogger(t)

	h := NewAdminHandler(emitter, stats, catalog.Default(), log)
	r := chi.NewRouter()
	r.Use(middleware.NewTraceMiddleware(log))
	r.Route("/api/admin", func(r chi.Router) {
		r.Post("/trigger/fetch", h.TriggerFetch)
		r.Post("/trigger/summarize", h.TriggerSummarize)
		r.Post("/trigger/dispatch", h.TriggerDispatch)
		r.Get("/stats", h.Stats)
	})
	return r
}

func TestTriggers(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		target    string
		eventType string
		check     func(t *testing.T, e *events.TaskRequestEvent)
	}{
		{
			name:      "fetch with configured categories",
			target:    "/api/admin/trigger/fetch",
			eventType: task.TaskTypeContentFetch,
			check: func(t *testing.T, e *events.TaskRequestEvent) {
				var p events.FetchRequest
				require.NoError(t, e.UnmarshalPayload(&p))
				assert.Empty(t, p.Categories)
			},
		},
		{
			name:      "fetch with categories",
			target:    "/api/admin/trigger/fetch?categories=cs.AI,%20cs.LG,cs.AI",
			eventType: task.TaskTypeContentFetch,
			check: func(t *testing.T, e *events.TaskRequestEvent) {
				var p events.FetchRequest
				require.NoError(t, e.UnmarshalPayload(&p))
				assert.ElementsMatch(t, []string{"cs.AI", "cs.LG"}, p.Categories)
			},
		},
		{
			name:      "summarize with limit",
			target:    "/api/admin/trigger/summarize?limit=25",
			eventType: task.TaskTypeSummaryBackfill,
			check: func(t *testing.T, e *events.TaskRequestEvent) {
				var p events.SummarizeRequest
				require.NoError(t, e.UnmarshalPayload(&p))
				assert.Equal(t, 25, p.Limit)
			},
		},
		{
			name:      "summarize default limit",
			target:    "/api/admin/trigger/summarize",
			eventType: task.TaskTypeSummaryBackfill,
			check: func(t *testing.T, e *events.TaskRequestEvent) {
				var p events.SummarizeRequest
				require.NoError(t, e.UnmarshalPayload(&p))
				assert.Zero(t, p.Limit)
			},
		},
		{
			name:      "dispatch",
			target:    "/api/admin/trigger/dispatch",
			eventType: task.TaskTypeDispatchPoll,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			emitter := &recordingEmitter{}
			router := newAdminRouter(t, emitter, &mockStats{})

			rec := doRequest(t, router, http.MethodPost, tc.target, "")
			require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

			resp := decodeBody[TriggerResponse](t, rec)
			assert.Equal(t, tc.eventType, resp.Type)

			require.Len(t, emitter.events, 1)
			event := emitter.events[0]
			assert.Equal(t, resp.EventID, event.ID)
			assert.Equal(t, tc.eventType, event.Type)
			assert.Equal(t, "admin_api", event.Source)
			if tc.check != nil {
				tc.check(t, event)
			}
		})
	}
}

func TestTriggers_Rejected(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		target string
		err    error
		status int
		msg    string
	}{
		{"unknown category", "/api/admin/trigger/fetch?categories=cs.AI,zz.NOPE", nil,
			http.StatusBadRequest, "Unknown category"},
		{"limit not a number", "/api/admin/trigger/summarize?limit=ten", nil,
			http.StatusBadRequest, "Invalid limit: must be between 1 and 1000"},
		{"limit zero", "/api/admin/trigger/summarize?limit=0", nil,
			http.StatusBadRequest, "Invalid limit: must be between 1 and 1000"},
		{"limit too large", "/api/admin/trigger/summarize?limit=1001", nil,
			http.StatusBadRequest, "Invalid limit: must be between 1 and 1000"},
		{"queue full", "/api/admin/trigger/dispatch", fmt.Errorf("failed to submit: %w", task.ErrQueueFull),
			http.StatusServiceUnavailable, "Too much work queued, try again later"},
		{"handler failure", "/api/admin/trigger/dispatch", errors.New("boom"),
			http.StatusInternalServerError, "Failed to enqueue job"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			emitter := &recordingEmitter{err: tc.err}
			router := newAdminRouter(t, emitter, &mockStats{})

			rec := doRequest(t, router, http.MethodPost, tc.target, "")
			assert.Equal(t, tc.status, rec.Code)
			assert.Equal(t, tc.msg, decodeBody[map[string]string](t, rec)["error"])
			if tc.err == nil {
				assert.Empty(t, emitter.events)
			}
		})
	}
}

func TestStats(t *testing.T) {
	t.Parallel()

	stats := &service.Stats{
		Recipients: &store.RecipientStats{
			Total:     3,
			Active:    2,
			ByCadence: map[domain.Cadence]int{domain.CadenceDaily: 2, domain.CadenceWeekly: 1},
		},
		Content: &store.ContentStats{
			Total:         10,
			Summarized:    4,
			TopCategories: []store.CategoryCount{{Category: "cs.AI", Count: 7}},
		},
		Deliveries: map[domain.DeliveryStatus]int{domain.DeliverySent: 5},
	}
	router := newAdminRouter(t, &recordingEmitter{}, &mockStats{stats: stats})

	rec := doRequest(t, router, http.MethodGet, "/api/admin/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)

	got := decodeBody[service.Stats](t, rec)
	assert.Equal(t, stats.Recipients, got.Recipients)
	assert.Equal(t, 4, got.Content.Summarized)
	assert.Equal(t, stats.Content.TopCategories, got.Content.TopCategories)
	assert.Equal(t, 5, got.Deliveries[domain.DeliverySent])

	failing := newAdminRouter(t, &recordingEmitter{}, &mockStats{err: errors.New("db down")})
	rec = doRequest(t, failing, http.MethodGet, "/api/admin/stats", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Failed to compute stats", decodeBody[map[string]string](t, rec)["error"])
}
