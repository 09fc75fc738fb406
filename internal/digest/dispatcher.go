package digest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/phrazzld/research-digest/internal/domain"
	"github.com/phrazzld/research-digest/internal/domain/schedule"
	"github.com/phrazzld/research-digest/internal/platform/logger"
	"github.com/phrazzld/research-digest/internal/store"
	"github.com/phrazzld/research-digest/internal/task"
)

// ErrPollInProgress is returned by Poll and Recover while another cycle of
// the same dispatcher is running.
var ErrPollInProgress = errors.New("dispatch poll already in progress")

// DefaultClaimBatchSize bounds the recipients claimed per transaction.
const DefaultClaimBatchSize = 100

// TaskBuilder turns a claimed delivery into a runnable task.
type TaskBuilder interface {
	Task(d *domain.Delivery) *DeliveryTask
}

// DispatcherConfig tunes the dispatcher.
type DispatcherConfig struct {
	// ClaimBatchSize is the number of recipients claimed per transaction.
	// A poll keeps claiming batches until no due recipient is left.
	ClaimBatchSize int

	// StaleDeliveryAge is how long an unfinished delivery may go without
	// progress before Recover resubmits it.
	StaleDeliveryAge time.Duration
}

// PollResult summarises one poll cycle.
type PollResult struct {
	// Claimed is the number of recipients whose schedule was advanced.
	Claimed int `json:"claimed"`
	// Submitted is the number of delivery tasks accepted by the runner.
	Submitted int `json:"submitted"`
	// Deferred is the number of claimed deliveries the runner could not
	// accept. They stay pending and are picked up by Recover.
	Deferred int `json:"deferred"`
}

// RecoverResult summarises one recovery sweep.
type RecoverResult struct {
	Requeued  int `json:"requeued"`
	Submitted int `json:"submitted"`
}

// Dispatcher finds due recipients, advances their schedule and queues one
// delivery per recipient.
//
// Claiming and advancing happen in one transaction that also writes a
// pending delivery row per recipient, so a crash after commit loses no
// recipient: Recover finds the rows and resubmits them. The only window for
// a duplicate send is a crash between a successful send and recording it.
type Dispatcher struct {
	db         *sql.DB
	recipients store.RecipientStore
	deliveries store.DeliveryStore
	calendar   schedule.Calculator
	tasks      TaskBuilder
	runner     task.Submitter
	cfg        DispatcherConfig
	now        func() time.Time
	logger     *slog.Logger

	inProgress atomic.Bool
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(
	db *sql.DB,
	recipients store.RecipientStore,
	deliveries store.DeliveryStore,
	calendar schedule.Calculator,
	tasks TaskBuilder,
	runner task.Submitter,
	cfg DispatcherConfig,
	log *slog.Logger,
) *Dispatcher {
	if cfg.ClaimBatchSize < 1 {
		cfg.ClaimBatchSize = DefaultClaimBatchSize
	}
	return &Dispatcher{
		db:         db,
		recipients: recipients,
		deliveries: deliveries,
		calendar:   calendar,
		tasks:      tasks,
		runner:     runner,
		cfg:        cfg,
		now:        time.Now,
		logger:     log.With(slog.String("component", "dispatcher")),
	}
}

// Poll runs one dispatch cycle. It returns ErrPollInProgress without doing
// anything if a cycle is already running. A failed claim transaction leaves
// its recipients due for the next cycle.
func (d *Dispatcher) Poll(ctx context.Context) (PollResult, error) {
	if !d.inProgress.CompareAndSwap(false, true) {
		return PollResult{}, ErrPollInProgress
	}
	defer d.inProgress.Store(false)

	log := logger.FromContextOrDefault(ctx, d.logger)
	ctx = logger.WithLogger(ctx, log)

	// Stores keep microsecond precision; the observed next_delivery_at must
	// compare equal after a round trip.
	now := d.now().UTC().Truncate(time.Microsecond)

	var result PollResult
	for {
		claimed, err := d.claimBatch(ctx, now)
		if err != nil {
			log.Error("claim transaction failed, recipients remain due",
				slog.Int("claimed_before_failure", result.Claimed),
				slog.String("error", err.Error()))
			return result, err
		}

		result.Claimed += len(claimed)
		for _, delivery := range claimed {
			if d.submit(ctx, log, delivery) {
				result.Submitted++
			} else {
				result.Deferred++
			}
		}

		if len(claimed) < d.cfg.ClaimBatchSize || ctx.Err() != nil {
			break
		}
	}

	log.Info("dispatch poll finished",
		slog.Int("claimed", result.Claimed),
		slog.Int("submitted", result.Submitted),
		slog.Int("deferred", result.Deferred))
	return result, nil
}

// claimBatch claims up to ClaimBatchSize due recipients in one transaction
// and returns the pending deliveries it wrote.
func (d *Dispatcher) claimBatch(ctx context.Context, now time.Time) ([]*domain.Delivery, error) {
	var claimed []*domain.Delivery

	err := store.RunInTransaction(ctx, d.db, func(ctx context.Context, tx *sql.Tx) error {
		claimed = claimed[:0]
		recipients := d.recipients.WithTx(tx)
		deliveries := d.deliveries.WithTx(tx)

		due, err := recipients.ListDue(ctx, now, d.cfg.ClaimBatchSize)
		if err != nil {
			return fmt.Errorf("failed to list due recipients: %w", err)
		}

		for _, r := range due {
			observed := *r.NextDeliveryAt
			next := d.calendar.NextDelivery(r.Cadence, now)

			advanced, err := recipients.AdvanceSchedule(ctx, r.ID, observed, next)
			if err != nil {
				return fmt.Errorf("failed to advance schedule: %w", err)
			}
			if !advanced {
				// Claimed by a concurrent poller or deactivated meanwhile.
				continue
			}

			delivery, err := domain.NewDelivery(r.ID, observed, next)
			if err != nil {
				return err
			}
			if err := deliveries.Create(ctx, delivery); err != nil {
				return fmt.Errorf("failed to record delivery: %w", err)
			}
			claimed = append(claimed, delivery)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (d *Dispatcher) submit(ctx context.Context, log *slog.Logger, delivery *domain.Delivery) bool {
	if err := d.runner.Submit(ctx, d.tasks.Task(delivery)); err != nil {
		log.Warn("delivery left pending for recovery",
			slog.String("delivery_id", delivery.ID.String()),
			slog.String("error", err.Error()))
		return false
	}
	return true
}

// Recover resubmits deliveries that made no progress for StaleDeliveryAge:
// pending rows whose task was never accepted or was lost in a restart, and
// processing or retrying rows whose worker died. Each row is requeued with a
// conditional update so concurrent sweeps do not both resubmit it.
func (d *Dispatcher) Recover(ctx context.Context, limit int) (RecoverResult, error) {
	if !d.inProgress.CompareAndSwap(false, true) {
		return RecoverResult{}, ErrPollInProgress
	}
	defer d.inProgress.Store(false)

	log := logger.FromContextOrDefault(ctx, d.logger)
	if limit < 1 {
		limit = d.cfg.ClaimBatchSize
	}

	cutoff := d.now().UTC().Add(-d.cfg.StaleDeliveryAge)
	stale, err := d.deliveries.ListStale(ctx, cutoff, limit)
	if err != nil {
		return RecoverResult{}, fmt.Errorf("failed to list stale deliveries: %w", err)
	}

	var result RecoverResult
	for _, delivery := range stale {
		requeued, err := d.deliveries.Requeue(ctx, delivery.ID, cutoff)
		if err != nil {
			log.Error("failed to requeue delivery",
				slog.String("delivery_id", delivery.ID.String()),
				slog.String("error", err.Error()))
			continue
		}
		if !requeued {
			continue
		}
		result.Requeued++
		if d.submit(ctx, log, delivery) {
			result.Submitted++
		}
	}

	if result.Requeued > 0 {
		log.Info("recovered stale deliveries",
			slog.Int("requeued", result.Requeued),
			slog.Int("submitted", result.Submitted))
	}
	return result, nil
}
