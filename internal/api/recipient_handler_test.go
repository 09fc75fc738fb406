package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/research-digest/internal/api/middleware"
	"github.com/phrazzld/research-digest/internal/catalog"
	"github.com/phrazzld/research-digest/internal/domain"
	"github.com/phrazzld/research-digest/internal/platform/logger"
	"github.com/phrazzld/research-digest/internal/service"
	"github.com/phrazzld/research-digest/internal/service/auth"
	"github.com/phrazzld/research-digest/internal/store"
)

func newRecipientRouter(t *testing.T, svc service.RecipientService, tokens *auth.MockTokenService) http.Handler {
	t.Helper()
	log, _ := logger.GetTestLogger(t)

	h := NewRecipientHandler(svc, tokens, catalog.Default(), log)
	r := chi.NewRouter()
	r.Use(middleware.NewTraceMiddleware(log))
	r.Get("/api/categories", h.Categories)
	r.Post("/api/recipients", h.Register)
	r.With(middleware.NewRecipientAuth(tokens).Authenticate).Put("/api/recipients/{id}", h.UpdatePreferences)
	r.Get("/unsubscribe", h.Unsubscribe)
	return r
}

func doRequest(t *testing.T, h http.Handler, method, target, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v), rec.Body.String())
	return v
}

func sampleRecipient() *domain.Recipient {
	next := time.Date(2024, 3, 11, 9, 0, 0, 0, time.UTC)
	return &domain.Recipient{
		ID:             uuid.New(),
		ContactAddress: "ada@example.org",
		DisplayName:    "Ada",
		Categories:     []string{"cs.AI"},
		Cadence:        domain.CadenceDaily,
		NextDeliveryAt: &next,
		Active:         true,
	}
}

func TestCategories(t *testing.T) {
	t.Parallel()
	router := newRecipientRouter(t, &mockRecipientService{}, &auth.MockTokenService{})

	rec := doRequest(t, router, http.MethodGet, "/api/categories", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[struct {
		Groups []catalog.Group `json:"groups"`
	}](t, rec)
	assert.NotEmpty(t, body.Groups)
}

func TestRegister(t *testing.T) {
	t.Parallel()

	t.Run("created", func(t *testing.T) {
		t.Parallel()
		r := sampleRecipient()
		var got service.Registration
		svc := &mockRecipientService{
			RegisterFn: func(_ context.Context, reg service.Registration) (*domain.Recipient, bool, error) {
				got = reg
				return r, true, nil
			},
		}
		router := newRecipientRouter(t, svc, &auth.MockTokenService{})

		rec := doRequest(t, router, http.MethodPost, "/api/recipients",
			`{"email":"ada@example.org","name":"Ada","categories":["cs.AI"],"frequency":"daily"}`)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		assert.Equal(t, service.Registration{
			ContactAddress: "ada@example.org",
			DisplayName:    "Ada",
			Categories:     []string{"cs.AI"},
			Cadence:        "daily",
		}, got)

		resp := decodeBody[RegisterResponse](t, rec)
		assert.True(t, resp.Created)
		assert.Equal(t, r.ID, resp.ID)
		assert.Equal(t, "DAILY", resp.Frequency)
		assert.Equal(t, "manage-"+r.ID.String(), resp.ManageToken)
	})

	t.Run("existing address", func(t *testing.T) {
		t.Parallel()
		svc := &mockRecipientService{
			RegisterFn: func(context.Context, service.Registration) (*domain.Recipient, bool, error) {
				return sampleRecipient(), false, nil
			},
		}
		router := newRecipientRouter(t, svc, &auth.MockTokenService{})

		rec := doRequest(t, router, http.MethodPost, "/api/recipients",
			`{"email":"ada@example.org","categories":["cs.AI"]}`)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.False(t, decodeBody[RegisterResponse](t, rec).Created)
	})

	invalid := []struct {
		name    string
		body    string
		message string
	}{
		{"malformed json", `{"email":`, "Invalid request format"},
		{"unknown field", `{"email":"ada@example.org","categories":["cs.AI"],"admin":true}`, "Invalid request format"},
		{"missing email", `{"categories":["cs.AI"]}`, "Invalid email: required field"},
		{"bad email", `{"email":"nope","categories":["cs.AI"]}`, "Invalid email: invalid email format"},
		{"no categories", `{"email":"ada@example.org","categories":[]}`, "Invalid categories: too short"},
	}
	for _, tc := range invalid {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			svc := &mockRecipientService{
				RegisterFn: func(context.Context, service.Registration) (*domain.Recipient, bool, error) {
					t.Fatal("service must not be called")
					return nil, false, nil
				},
			}
			router := newRecipientRouter(t, svc, &auth.MockTokenService{})

			rec := doRequest(t, router, http.MethodPost, "/api/recipients", tc.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			resp := decodeBody[map[string]string](t, rec)
			assert.Equal(t, tc.message, resp["error"])
			assert.NotEmpty(t, resp["trace_id"])
		})
	}

	t.Run("service validation error", func(t *testing.T) {
		t.Parallel()
		svc := &mockRecipientService{
			RegisterFn: func(context.Context, service.Registration) (*domain.Recipient, bool, error) {
				return nil, false, service.NewRecipientServiceError("register", "invalid categories",
					fmt.Errorf("%w: %w", domain.ErrValidation, catalog.ErrUnknownCategory))
			},
		}
		router := newRecipientRouter(t, svc, &auth.MockTokenService{})

		rec := doRequest(t, router, http.MethodPost, "/api/recipients",
			`{"email":"ada@example.org","categories":["cs.NOPE"]}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "Unknown category", decodeBody[map[string]string](t, rec)["error"])
	})

	t.Run("internal error is not leaked", func(t *testing.T) {
		t.Parallel()
		svc := &mockRecipientService{
			RegisterFn: func(context.Context, service.Registration) (*domain.Recipient, bool, error) {
				return nil, false, fmt.Errorf("dial tcp postgres://digest:hunter2@db:5432: refused")
			},
		}
		router := newRecipientRouter(t, svc, &auth.MockTokenService{})

		rec := doRequest(t, router, http.MethodPost, "/api/recipients",
			`{"email":"ada@example.org","categories":["cs.AI"]}`)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.NotContains(t, rec.Body.String(), "hunter2")
		assert.Equal(t, "Failed to register", decodeBody[map[string]string](t, rec)["error"])
	})
}

func TestUpdatePreferences(t *testing.T) {
	t.Parallel()

	r := sampleRecipient()
	tokens := &auth.MockTokenService{
		ValidateManageFn: func(_ context.Context, token string) (uuid.UUID, error) {
			switch token {
			case "good":
				return r.ID, nil
			case "other":
				return uuid.New(), nil
			case "old":
				return uuid.Nil, auth.ErrExpiredToken
			}
			return uuid.Nil, auth.ErrInvalidToken
		},
	}
	var got service.PreferencesUpdate
	svc := &mockRecipientService{
		UpdatePreferencesFn: func(_ context.Context, id uuid.UUID, upd service.PreferencesUpdate) (*domain.Recipient, error) {
			if id != r.ID {
				return nil, store.ErrRecipientNotFound
			}
			got = upd
			updated := *r
			updated.Cadence = domain.CadenceWeekly
			return &updated, nil
		},
	}
	router := newRecipientRouter(t, svc, tokens)
	path := "/api/recipients/" + r.ID.String()

	rec := doRequest(t, router, http.MethodPut, path, `{"frequency":"WEEKLY"}`, "Authorization", "Bearer good")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "WEEKLY", decodeBody[RecipientResponse](t, rec).Frequency)
	require.NotNil(t, got.Cadence)
	assert.Equal(t, "WEEKLY", *got.Cadence)
	assert.Nil(t, got.DisplayName)
	assert.Nil(t, got.Categories)

	tests := []struct {
		name   string
		path   string
		header []string
		status int
	}{
		{"no token", path, nil, http.StatusUnauthorized},
		{"not bearer", path, []string{"Authorization", "Basic abc"}, http.StatusUnauthorized},
		{"invalid token", path, []string{"Authorization", "Bearer forged"}, http.StatusUnauthorized},
		{"expired token", path, []string{"Authorization", "Bearer old"}, http.StatusUnauthorized},
		{"token for another recipient", path, []string{"Authorization", "Bearer other"}, http.StatusForbidden},
		{"bad id", "/api/recipients/not-a-uuid", []string{"Authorization", "Bearer good"}, http.StatusBadRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			rec := doRequest(t, router, http.MethodPut, tc.path, `{"name":"x"}`, tc.header...)
			assert.Equal(t, tc.status, rec.Code, rec.Body.String())
		})
	}
}

func TestUpdatePreferences_Inactive(t *testing.T) {
	t.Parallel()

	id := uuid.New()
	tokens := &auth.MockTokenService{
		ValidateManageFn: func(context.Context, string) (uuid.UUID, error) { return id, nil },
	}
	svc := &mockRecipientService{
		UpdatePreferencesFn: func(context.Context, uuid.UUID, service.PreferencesUpdate) (*domain.Recipient, error) {
			return nil, service.NewRecipientServiceError("update_preferences", "failed", service.ErrRecipientInactive)
		},
	}
	router := newRecipientRouter(t, svc, tokens)

	rec := doRequest(t, router, http.MethodPut, "/api/recipients/"+id.String(), `{"name":"x"}`,
		"Authorization", "Bearer t")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestUnsubscribe(t *testing.T) {
	t.Parallel()

	svc := &mockRecipientService{
		UnsubscribeFn: func(_ context.Context, token string) (*domain.Recipient, error) {
			switch token {
			case "good":
				r := sampleRecipient()
				r.Active = false
				return r, nil
			case "expired":
				return nil, service.NewRecipientServiceError("unsubscribe", "invalid", auth.ErrExpiredToken)
			}
			return nil, service.NewRecipientServiceError("unsubscribe", "invalid", auth.ErrInvalidToken)
		},
	}
	router := newRecipientRouter(t, svc, &auth.MockTokenService{})

	rec := doRequest(t, router, http.MethodGet, "/unsubscribe?token=good", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Successfully unsubscribed", decodeBody[MessageResponse](t, rec).Message)

	rec = doRequest(t, router, http.MethodGet, "/unsubscribe", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, router, http.MethodGet, "/unsubscribe?token=forged", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doRequest(t, router, http.MethodGet, "/unsubscribe?token=expired", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "This link has expired", decodeBody[map[string]string](t, rec)["error"])
}
