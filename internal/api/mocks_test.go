package api

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/phrazzld/research-digest/internal/domain"
	"github.com/phrazzld/research-digest/internal/events"
	"github.com/phrazzld/research-digest/internal/service"
)

type mockRecipientService struct {
	RegisterFn          func(ctx context.Context, reg service.Registration) (*domain.Recipient, bool, error)
	GetFn               func(ctx context.Context, id uuid.UUID) (*domain.Recipient, error)
	UpdatePreferencesFn func(ctx context.Context, id uuid.UUID, upd service.PreferencesUpdate) (*domain.Recipient, error)
	UnsubscribeFn       func(ctx context.Context, token string) (*domain.Recipient, error)
}

func (m *mockRecipientService) Register(ctx context.Context, reg service.Registration) (*domain.Recipient, bool, error) {
	return m.RegisterFn(ctx, reg)
}

func (m *mockRecipientService) Get(ctx context.Context, id uuid.UUID) (*domain.Recipient, error) {
	return m.GetFn(ctx, id)
}

func (m *mockRecipientService) UpdatePreferences(ctx context.Context, id uuid.UUID, upd service.PreferencesUpdate) (*domain.Recipient, error) {
	return m.UpdatePreferencesFn(ctx, id, upd)
}

func (m *mockRecipientService) Unsubscribe(ctx context.Context, token string) (*domain.Recipient, error) {
	return m.UnsubscribeFn(ctx, token)
}

var _ service.RecipientService = (*mockRecipientService)(nil)

type mockStats struct {
	stats *service.Stats
	err   error
}

func (m *mockStats) Stats(context.Context) (*service.Stats, error) {
	return m.stats, m.err
}

// recordingEmitter records emitted events and returns err.
type recordingEmitter struct {
	mu     sync.Mutex
	events []*events.TaskRequestEvent
	err    error
}

func (e *recordingEmitter) EmitEvent(_ context.Context, event *events.TaskRequestEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, event)
	return e.err
}

func (e *recordingEmitter) Events() []*events.TaskRequestEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*events.TaskRequestEvent(nil), e.events...)
}
