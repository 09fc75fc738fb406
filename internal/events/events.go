package events

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrEmptyEventType is returned when an event is created without a type.
var ErrEmptyEventType = errors.New("event type cannot be empty")

// TaskRequestEvent asks for a background job to be run. Type names the job
// (it matches a task type) and Payload carries its JSON-encoded parameters,
// so emitters never depend on the task package.
type TaskRequestEvent struct {
	ID uuid.UUID `json:"id"`

	Type string `json:"type"`

	Payload json.RawMessage `json:"payload,omitempty"`

	// Source identifies what raised the event, e.g. "cron" or "admin_api".
	Source string `json:"source,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// FetchRequest is the payload of a content fetch request. An empty category
// list means the configured default categories.
type FetchRequest struct {
	Categories []string `json:"categories,omitempty"`
}

// SummarizeRequest is the payload of a summary backfill request. A zero
// limit means the configured batch size.
type SummarizeRequest struct {
	Limit int `json:"limit,omitempty"`
}

// DispatchRequest is the payload of a digest dispatch request.
type DispatchRequest struct{}

// UnmarshalPayload decodes the event payload into v. An empty payload leaves
// v untouched.
func (e *TaskRequestEvent) UnmarshalPayload(v any) error {
	if len(e.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(e.Payload, v)
}

// NewTaskRequestEvent creates an event of the given type with payload
// serialized to JSON.
func NewTaskRequestEvent(eventType, source string, payload any) (*TaskRequestEvent, error) {
	eventType = strings.TrimSpace(eventType)
	if eventType == "" {
		return nil, ErrEmptyEventType
	}

	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		raw = data
	}

	return &TaskRequestEvent{
		ID:        uuid.New(),
		Type:      eventType,
		Payload:   raw,
		Source:    source,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// EventHandler processes events.
type EventHandler interface {
	// HandleEvent processes the given event. Handlers ignore event types they
	// do not recognise and return nil for them.
	HandleEvent(ctx context.Context, event *TaskRequestEvent) error
}

// EventEmitter publishes events without knowledge of their handlers.
type EventEmitter interface {
	EmitEvent(ctx context.Context, event *TaskRequestEvent) error
}
