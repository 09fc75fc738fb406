package task

import (
	"context"

	"github.com/google/uuid"
)

// Task type constants. Event types requesting a task use the same names.
const (
	// TaskTypeDigestDelivery renders and sends one claimed digest.
	TaskTypeDigestDelivery = "digest_delivery"

	// TaskTypeContentFetch pulls new papers for a set of categories.
	TaskTypeContentFetch = "content_fetch"

	// TaskTypeSummaryBackfill fills in missing synopses and embeddings.
	TaskTypeSummaryBackfill = "summary_backfill"

	// TaskTypeDispatchPoll runs one dispatcher poll cycle.
	TaskTypeDispatchPoll = "dispatch_poll"
)

// Task represents a unit of background work to be processed
type Task interface {
	// ID returns the task's unique identifier
	ID() uuid.UUID

	// Type returns the task type identifier
	Type() string

	// Payload returns the task data as a byte slice
	Payload() []byte

	// Execute runs the task logic. Errors classified as retryable by
	// domain.IsRetryable cause the runner to schedule another attempt.
	Execute(ctx context.Context) error
}

// FailureHandler is implemented by tasks that need to clean up once the
// runner has given up on them, either because the error was not retryable
// or because the attempt budget is spent.
type FailureHandler interface {
	OnFailure(ctx context.Context, err error)
}

// TaskQueueReader provides read-only access to the task channel
// allowing workers to consume tasks without the ability to enqueue
type TaskQueueReader interface {
	// GetChannel returns a read-only channel for consuming tasks
	GetChannel() <-chan Task
}

// TaskQueueWriter provides write access to the task queue
// allowing services to enqueue tasks for processing
type TaskQueueWriter interface {
	// Enqueue adds a task to the queue for processing
	// Returns an error if the queue is full or closed
	Enqueue(task Task) error

	// Close closes the task queue, preventing further task submission
	Close()
}

// FuncTask adapts a function to the Task interface. It is used for the
// periodic jobs whose parameters are fixed when the task is created.
type FuncTask struct {
	id       uuid.UUID
	taskType string
	payload  []byte
	fn       func(ctx context.Context) error
}

// NewFuncTask creates a task of the given type that runs fn.
func NewFuncTask(taskType string, payload []byte, fn func(ctx context.Context) error) *FuncTask {
	return &FuncTask{
		id:       uuid.New(),
		taskType: taskType,
		payload:  payload,
		fn:       fn,
	}
}

func (t *FuncTask) ID() uuid.UUID   { return t.id }
func (t *FuncTask) Type() string    { return t.taskType }
func (t *FuncTask) Payload() []byte { return t.payload }

func (t *FuncTask) Execute(ctx context.Context) error {
	return t.fn(ctx)
}
