package summarize

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/phrazzld/research-digest/internal/domain"
	"github.com/phrazzld/research-digest/internal/platform/logger"
	"github.com/phrazzld/research-digest/internal/store"
)

// BackfillConfig bounds one backfill pass.
type BackfillConfig struct {
	// MaxAttempts excludes records that already failed this many times.
	MaxAttempts int
	// Concurrency bounds parallel summarizer calls.
	Concurrency int
	// Timeout bounds each summarizer call.
	Timeout time.Duration
}

// BackfillResult counts the outcomes of one pass.
type BackfillResult struct {
	Processed  int `json:"processed"`
	Summarized int `json:"summarized"`
	Failed     int `json:"failed"`
}

// Backfiller fills in synopses and embeddings for unsummarized content.
type Backfiller struct {
	content    store.ContentStore
	summarizer Summarizer
	cfg        BackfillConfig
	logger     *slog.Logger
}

// NewBackfiller creates a Backfiller.
func NewBackfiller(content store.ContentStore, summarizer Summarizer, cfg BackfillConfig, log *slog.Logger) (*Backfiller, error) {
	if content == nil {
		return nil, errors.New("content store cannot be nil")
	}
	if summarizer == nil {
		return nil, errors.New("summarizer cannot be nil")
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if log == nil {
		log = slog.Default()
	}
	return &Backfiller{
		content:    content,
		summarizer: summarizer,
		cfg:        cfg,
		logger:     log.With(slog.String("component", "summary_backfill")),
	}, nil
}

// Run summarizes at most limit records. A failed record keeps its null
// synopsis and has its attempt counter bumped so a later pass can retry it;
// only store failures when listing and cancellation are returned as errors.
func (b *Backfiller) Run(ctx context.Context, limit int) (BackfillResult, error) {
	log := logger.FromContextOrDefault(ctx, b.logger)

	records, err := b.content.ListUnsummarized(ctx, limit, b.cfg.MaxAttempts)
	if err != nil {
		return BackfillResult{}, err
	}
	if len(records) == 0 {
		log.Debug("no content awaiting summaries")
		return BackfillResult{}, nil
	}

	log.Info("starting summary backfill", slog.Int("records", len(records)))

	var summarized, failed atomic.Int64
	var g errgroup.Group
	g.SetLimit(b.cfg.Concurrency)
	for _, rec := range records {
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			if b.summarizeOne(ctx, log, rec) {
				summarized.Add(1)
			} else {
				failed.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	result := BackfillResult{
		Processed:  int(summarized.Load() + failed.Load()),
		Summarized: int(summarized.Load()),
		Failed:     int(failed.Load()),
	}
	log.Info("summary backfill complete",
		slog.Int("summarized", result.Summarized),
		slog.Int("failed", result.Failed))
	return result, ctx.Err()
}

func (b *Backfiller) summarizeOne(ctx context.Context, log *slog.Logger, rec *domain.ContentRecord) bool {
	log = log.With(slog.String("external_id", rec.ExternalID))

	callCtx := ctx
	if b.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, b.cfg.Timeout)
		defer cancel()
	}

	summary, err := b.summarizer.Summarize(callCtx, rec.FullText)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		level := slog.LevelWarn
		if errors.Is(err, domain.ErrPermanentProvider) {
			level = slog.LevelError
		}
		log.Log(ctx, level, "failed to summarize content",
			slog.Int("previous_attempts", rec.SummaryAttempts),
			slog.Bool("retryable", domain.IsRetryable(err)),
			slog.String("error", err.Error()))
		if recErr := b.content.RecordSummaryFailure(ctx, rec.ExternalID); recErr != nil {
			log.Error("failed to record summary failure", slog.String("error", recErr.Error()))
		}
		return false
	}

	saved, err := b.content.SaveSummary(ctx, rec.ExternalID, summary.Synopsis, summary.Embedding)
	if err != nil {
		log.Error("failed to save summary", slog.String("error", err.Error()))
		return false
	}
	if !saved {
		log.Debug("summary already present, keeping existing")
	}
	return true
}
