package task

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/phrazzld/research-digest/internal/events"
	"github.com/phrazzld/research-digest/internal/platform/logger"
)

// TaskFactory builds a task from a request event.
type TaskFactory func(event *events.TaskRequestEvent) (Task, error)

// Submitter accepts tasks for execution. *TaskRunner implements it.
type Submitter interface {
	Submit(ctx context.Context, task Task) error
}

// TaskFactoryEventHandler implements events.EventHandler by building a task
// with the factory registered for the event type and submitting it.
type TaskFactoryEventHandler struct {
	mu        sync.RWMutex
	factories map[string]TaskFactory
	runner    Submitter
	logger    *slog.Logger
}

// NewTaskFactoryEventHandler creates a handler with no factories.
func NewTaskFactoryEventHandler(runner Submitter, log *slog.Logger) *TaskFactoryEventHandler {
	return &TaskFactoryEventHandler{
		factories: make(map[string]TaskFactory),
		runner:    runner,
		logger:    log.With(slog.String("component", "task_factory_event_handler")),
	}
}

// Register maps an event type to a factory, replacing any previous one.
func (h *TaskFactoryEventHandler) Register(eventType string, factory TaskFactory) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.factories[eventType] = factory
}

// HandleEvent creates and submits the task for event. Events without a
// registered factory are ignored.
func (h *TaskFactoryEventHandler) HandleEvent(ctx context.Context, event *events.TaskRequestEvent) error {
	log := logger.FromContextOrDefault(ctx, h.logger).With(
		slog.String("event_id", event.ID.String()),
		slog.String("event_type", event.Type),
	)

	h.mu.RLock()
	factory, ok := h.factories[event.Type]
	h.mu.RUnlock()
	if !ok {
		log.Debug("ignoring event with unsupported type")
		return nil
	}

	task, err := factory(event)
	if err != nil {
		log.Error("failed to create task", slog.String("error", err.Error()))
		return fmt.Errorf("failed to create %s task: %w", event.Type, err)
	}

	if err := h.runner.Submit(ctx, task); err != nil {
		log.Error("failed to submit task",
			slog.String("task_id", task.ID().String()),
			slog.String("error", err.Error()))
		return err
	}

	log.Info("task created and submitted",
		slog.String("task_id", task.ID().String()),
		slog.String("source", event.Source))
	return nil
}

var _ events.EventHandler = (*TaskFactoryEventHandler)(nil)
