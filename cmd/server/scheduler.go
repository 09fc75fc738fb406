package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/phrazzld/research-digest/internal/platform/logger"
)

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

// Info logs cron's scheduling chatter at debug level.
func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}

// scheduledJob is one periodic pass.
type scheduledJob struct {
	name string
	spec string
	run  func(ctx context.Context) error
}

func (app *application) scheduledJobs() []scheduledJob {
	cfg := app.config
	return []scheduledJob{
		{
			name: "content_fetch",
			spec: cfg.Schedule.FetchCron,
			run: func(ctx context.Context) error {
				_, err := app.runFetch(ctx, nil)
				return err
			},
		},
		{
			name: "summary_backfill",
			spec: cfg.Schedule.BackfillCron,
			run: func(ctx context.Context) error {
				_, err := app.runBackfill(ctx, 0)
				return err
			},
		},
		{
			name: "dispatch_poll",
			spec: "@every " + cfg.Digest.PollInterval.String(),
			run: func(ctx context.Context) error {
				_, err := app.runDispatch(ctx)
				return err
			},
		},
		{
			name: "delivery_recovery",
			spec: "@every " + cfg.Digest.RecoveryInterval.String(),
			run: func(ctx context.Context) error {
				_, err := app.runRecovery(ctx)
				return err
			},
		},
	}
}

// newScheduler registers the periodic passes. Jobs run in the scheduler's
// goroutines, and a pass still running when its next slot arrives causes that
// slot to be skipped. ctx is handed to every run; cancelling it interrupts
// running passes.
func (app *application) newScheduler(ctx context.Context) (*cron.Cron, error) {
	log := app.logger.With("component", "scheduler")
	cl := cronLogger{logger: log}

	c := cron.New(
		cron.WithParser(cron.NewParser(cron.Minute|cron.Hour|cron.Dom|cron.Month|cron.Dow|cron.Descriptor)),
		cron.WithLocation(time.UTC),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	for _, job := range app.scheduledJobs() {
		jobLog := log.With("job", job.name)
		_, err := c.AddFunc(job.spec, func() {
			started := time.Now()
			if err := job.run(logger.WithLogger(ctx, jobLog)); err != nil {
				jobLog.Error("scheduled job failed", "error", err, "duration", time.Since(started))
				return
			}
			jobLog.Debug("scheduled job finished", "duration", time.Since(started))
		})
		if err != nil {
			return nil, fmt.Errorf("invalid schedule %q for %s: %w", job.spec, job.name, err)
		}
		jobLog.Info("job scheduled", "spec", job.spec)
	}
	return c, nil
}
