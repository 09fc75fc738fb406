package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/phrazzld/research-digest/internal/domain"
	"github.com/phrazzld/research-digest/internal/platform/logger"
)

var (
	// ErrRunnerStarted is returned by Start on a runner that is already running.
	ErrRunnerStarted = errors.New("task runner already started")

	// ErrTaskPanicked wraps a panic raised by a task's Execute.
	ErrTaskPanicked = errors.New("task panicked")
)

// TaskRunnerConfig holds configuration for the task runner
type TaskRunnerConfig struct {
	// WorkerCount determines how many concurrent workers process tasks
	WorkerCount int

	// QueueSize determines the buffer size for the in-memory task queue
	QueueSize int

	// MaxAttempts is the total number of executions a task gets when it
	// keeps failing with retryable errors. Values below 1 mean 1.
	MaxAttempts int

	// RetryBaseDelay is the delay before the second attempt; each further
	// attempt doubles it.
	RetryBaseDelay time.Duration

	// TaskTimeout bounds a single execution. Zero means no timeout.
	TaskTimeout time.Duration
}

// DefaultTaskRunnerConfig returns a TaskRunnerConfig with reasonable defaults
func DefaultTaskRunnerConfig() TaskRunnerConfig {
	return TaskRunnerConfig{
		WorkerCount:    2,
		QueueSize:      100,
		MaxAttempts:    3,
		RetryBaseDelay: 30 * time.Second,
		TaskTimeout:    2 * time.Minute,
	}
}

// attemptTask carries the attempt number of a task through the queue.
type attemptTask struct {
	Task
	attempt int
}

// TaskRunner executes tasks from a bounded in-memory queue on a fixed pool
// of workers. Tasks failing with a retryable error are re-enqueued after an
// exponential delay until MaxAttempts is reached.
type TaskRunner struct {
	queue      *TaskQueue
	config     TaskRunnerConfig
	logger     *slog.Logger
	errHandler func(task Task, err error)

	ctx        context.Context
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup

	mu       sync.Mutex
	started  bool
	stopping bool
	timers   map[*time.Timer]struct{}
}

// NewTaskRunner creates a new TaskRunner
func NewTaskRunner(config TaskRunnerConfig, log *slog.Logger) *TaskRunner {
	if config.WorkerCount < 1 {
		config.WorkerCount = 1
	}
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}

	log = log.With(slog.String("component", "task_runner"))
	ctx, cancel := context.WithCancel(context.Background())

	return &TaskRunner{
		queue:      NewTaskQueue(config.QueueSize, log),
		config:     config,
		logger:     log,
		ctx:        ctx,
		cancelFunc: cancel,
		timers:     make(map[*time.Timer]struct{}),
		errHandler: func(task Task, err error) {
			log.Error("task failed permanently",
				slog.String("task_id", task.ID().String()),
				slog.String("task_type", task.Type()),
				slog.String("error", err.Error()))
		},
	}
}

// SetErrorHandler sets the function called once per task the runner gives
// up on. It must be called before Start.
func (r *TaskRunner) SetErrorHandler(handler func(task Task, err error)) {
	r.errHandler = handler
}

// Submit adds a task to the queue without blocking.
// Returns ErrQueueFull or ErrQueueClosed when the task cannot be accepted.
func (r *TaskRunner) Submit(ctx context.Context, task Task) error {
	if err := r.queue.Enqueue(&attemptTask{Task: task, attempt: 1}); err != nil {
		logger.FromContextOrDefault(ctx, r.logger).Warn("task rejected",
			slog.String("task_id", task.ID().String()),
			slog.String("task_type", task.Type()),
			slog.String("error", err.Error()))
		return fmt.Errorf("failed to submit %s task: %w", task.Type(), err)
	}
	return nil
}

// Start launches the worker goroutines.
func (r *TaskRunner) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return ErrRunnerStarted
	}
	r.started = true

	for i := 0; i < r.config.WorkerCount; i++ {
		r.wg.Add(1)
		go r.worker(i)
	}
	r.logger.Info("task runner started",
		slog.Int("workers", r.config.WorkerCount),
		slog.Int("queue_size", cap(r.queue.GetChannel())))
	return nil
}

// Stop stops accepting tasks, drops pending retries and waits for the
// workers to drain the tasks already queued. Dropped retries are left to
// the owner's recovery sweep.
func (r *TaskRunner) Stop() {
	r.mu.Lock()
	if r.stopping {
		r.mu.Unlock()
		return
	}
	r.stopping = true
	dropped := len(r.timers)
	for t := range r.timers {
		t.Stop()
	}
	clear(r.timers)
	r.mu.Unlock()

	r.queue.Close()
	r.wg.Wait()
	r.cancelFunc()

	r.logger.Info("task runner stopped", slog.Int("dropped_retries", dropped))
}

// QueueLen returns the number of tasks waiting for a worker.
func (r *TaskRunner) QueueLen() int {
	return r.queue.Len()
}

func (r *TaskRunner) worker(id int) {
	defer r.wg.Done()

	r.logger.Debug("starting worker", slog.Int("worker_id", id))
	for task := range r.queue.GetChannel() {
		r.processTask(task.(*attemptTask), id)
	}
	r.logger.Debug("task channel closed, stopping worker", slog.Int("worker_id", id))
}

func (r *TaskRunner) processTask(task *attemptTask, workerID int) {
	log := r.logger.With(
		slog.String("task_id", task.ID().String()),
		slog.String("task_type", task.Type()),
		slog.Int("attempt", task.attempt),
		slog.Int("worker_id", workerID),
	)

	log.Debug("processing task")
	start := time.Now()
	err := r.execute(logger.WithLogger(r.ctx, log), task.Task)
	if err == nil {
		log.Info("task completed", slog.Duration("duration", time.Since(start)))
		return
	}

	if domain.IsRetryable(err) && task.attempt < r.config.MaxAttempts {
		delay := r.config.RetryBaseDelay << (task.attempt - 1)
		log.Warn("task failed, retry scheduled",
			slog.String("error", err.Error()),
			slog.Duration("delay", delay))
		r.scheduleRetry(&attemptTask{Task: task.Task, attempt: task.attempt + 1}, delay, log)
		return
	}

	log.Error("task failed", slog.String("error", err.Error()))
	if fh, ok := task.Task.(FailureHandler); ok {
		fh.OnFailure(logger.WithLogger(context.WithoutCancel(r.ctx), log), err)
	}
	r.errHandler(task.Task, err)
}

// execute runs one attempt with the configured timeout and turns a panic
// into an error.
func (r *TaskRunner) execute(ctx context.Context, task Task) (err error) {
	if r.config.TaskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.config.TaskTimeout)
		defer cancel()
	}

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %v", ErrTaskPanicked, p)
		}
	}()
	return task.Execute(ctx)
}

// scheduleRetry re-enqueues task after delay from a timer goroutine so the
// worker is free in the meantime.
func (r *TaskRunner) scheduleRetry(task *attemptTask, delay time.Duration, log *slog.Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopping {
		log.Warn("runner stopping, retry dropped")
		return
	}

	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		r.mu.Lock()
		delete(r.timers, timer)
		r.mu.Unlock()

		if err := r.queue.Enqueue(task); err != nil {
			log.Error("failed to re-enqueue task for retry", slog.String("error", err.Error()))
		}
	})
	r.timers[timer] = struct{}{}
}
