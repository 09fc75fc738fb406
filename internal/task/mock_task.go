package task

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MockTask is a Task for tests. Execute delegates to ExecuteFn and
// OnFailure records the final error.
type MockTask struct {
	TaskID      uuid.UUID
	TaskType    string
	TaskPayload []byte
	ExecuteFn   func(ctx context.Context) error

	mu         sync.Mutex
	executions int
	failures   []error
}

// NewMockTask creates a MockTask whose Execute succeeds.
func NewMockTask(taskType string) *MockTask {
	return &MockTask{
		TaskID:    uuid.New(),
		TaskType:  taskType,
		ExecuteFn: func(ctx context.Context) error { return nil },
	}
}

func (t *MockTask) ID() uuid.UUID   { return t.TaskID }
func (t *MockTask) Type() string    { return t.TaskType }
func (t *MockTask) Payload() []byte { return t.TaskPayload }

// Execute runs ExecuteFn and counts the call.
func (t *MockTask) Execute(ctx context.Context) error {
	t.mu.Lock()
	t.executions++
	t.mu.Unlock()
	return t.ExecuteFn(ctx)
}

// OnFailure records err.
func (t *MockTask) OnFailure(_ context.Context, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failures = append(t.failures, err)
}

// Executions returns how many times Execute ran.
func (t *MockTask) Executions() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.executions
}

// Failures returns the errors passed to OnFailure.
func (t *MockTask) Failures() []error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]error(nil), t.failures...)
}
