package main

import (
	"context"
	"errors"

	"github.com/phrazzld/research-digest/internal/digest"
	"github.com/phrazzld/research-digest/internal/events"
	"github.com/phrazzld/research-digest/internal/ingest"
	"github.com/phrazzld/research-digest/internal/platform/logger"
	"github.com/phrazzld/research-digest/internal/summarize"
	"github.com/phrazzld/research-digest/internal/task"
)

// runFetch runs one fetch pass. Empty categories mean the configured ones.
func (app *application) runFetch(ctx context.Context, categories []string) (*ingest.Report, error) {
	if len(categories) == 0 {
		categories = app.config.Arxiv.Categories
	}
	return app.ingestService.Run(ctx, categories)
}

// runBackfill summarizes up to limit records. A limit below 1 means the
// configured batch size.
func (app *application) runBackfill(ctx context.Context, limit int) (summarize.BackfillResult, error) {
	if limit < 1 {
		limit = app.config.Schedule.BackfillBatchSize
	}
	return app.backfiller.Run(ctx, limit)
}

// runDispatch runs one dispatcher poll. A poll already in progress is not an
// error; the running cycle picks up every due recipient.
func (app *application) runDispatch(ctx context.Context) (digest.PollResult, error) {
	result, err := app.dispatcher.Poll(ctx)
	if errors.Is(err, digest.ErrPollInProgress) {
		logger.FromContextOrDefault(ctx, app.logger).Debug("dispatch poll skipped, another poll is running")
		return result, nil
	}
	return result, err
}

// runRecovery resubmits stale deliveries.
func (app *application) runRecovery(ctx context.Context) (digest.RecoverResult, error) {
	result, err := app.dispatcher.Recover(ctx, 0)
	if errors.Is(err, digest.ErrPollInProgress) {
		return result, nil
	}
	return result, err
}

// registerTaskFactories maps request events to tasks running the same entry
// points as the CLI and the scheduler.
func (app *application) registerTaskFactories(h *task.TaskFactoryEventHandler) {
	h.Register(task.TaskTypeContentFetch, func(event *events.TaskRequestEvent) (task.Task, error) {
		var req events.FetchRequest
		if err := event.UnmarshalPayload(&req); err != nil {
			return nil, err
		}
		return task.NewFuncTask(task.TaskTypeContentFetch, event.Payload, func(ctx context.Context) error {
			_, err := app.runFetch(ctx, req.Categories)
			return err
		}), nil
	})

	h.Register(task.TaskTypeSummaryBackfill, func(event *events.TaskRequestEvent) (task.Task, error) {
		var req events.SummarizeRequest
		if err := event.UnmarshalPayload(&req); err != nil {
			return nil, err
		}
		return task.NewFuncTask(task.TaskTypeSummaryBackfill, event.Payload, func(ctx context.Context) error {
			_, err := app.runBackfill(ctx, req.Limit)
			return err
		}), nil
	})

	h.Register(task.TaskTypeDispatchPoll, func(event *events.TaskRequestEvent) (task.Task, error) {
		return task.NewFuncTask(task.TaskTypeDispatchPoll, event.Payload, func(ctx context.Context) error {
			_, err := app.runDispatch(ctx)
			return err
		}), nil
	})
}
