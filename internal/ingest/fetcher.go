package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/phrazzld/research-digest/internal/domain"
	"github.com/phrazzld/research-digest/internal/platform/arxiv"
	"github.com/phrazzld/research-digest/internal/platform/logger"
)

// Querier issues a single upstream query.
type Querier interface {
	Query(ctx context.Context, q arxiv.Query) ([]domain.ContentCandidate, error)
}

// Limiter paces upstream calls. *rate.Limiter satisfies it.
type Limiter interface {
	Wait(ctx context.Context) error
}

// NewLimiter returns a limiter that admits one call per interval. A zero
// interval disables pacing.
func NewLimiter(interval time.Duration) *rate.Limiter {
	if interval <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(interval), 1)
}

// errExhausted reports that every attempt for a page failed.
var errExhausted = errors.New("fetch attempts exhausted")

// FetcherConfig controls paging and retries.
type FetcherConfig struct {
	PageSize int
	MaxPages int
	// MaxRetries is the total number of attempts per page.
	MaxRetries int
	// BackoffBase is the wait after the first failed attempt; each further
	// wait doubles it.
	BackoffBase time.Duration
	// RequestTimeout bounds each upstream call. Zero means no extra bound.
	RequestTimeout time.Duration
}

// Fetcher retrieves all recent candidates for a category.
type Fetcher struct {
	client  Querier
	limiter Limiter
	cfg     FetcherConfig
	sleep   func(ctx context.Context, d time.Duration) error
	logger  *slog.Logger
}

// NewFetcher creates a Fetcher. The limiter should be shared by every
// Fetcher talking to the same upstream.
func NewFetcher(client Querier, limiter Limiter, cfg FetcherConfig, log *slog.Logger) (*Fetcher, error) {
	if client == nil {
		return nil, errors.New("querier cannot be nil")
	}
	if limiter == nil {
		return nil, errors.New("limiter cannot be nil")
	}
	if cfg.PageSize <= 0 || cfg.MaxPages <= 0 || cfg.MaxRetries <= 0 {
		return nil, fmt.Errorf("invalid fetcher config: page_size=%d max_pages=%d max_retries=%d",
			cfg.PageSize, cfg.MaxPages, cfg.MaxRetries)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Fetcher{
		client:  client,
		limiter: limiter,
		cfg:     cfg,
		sleep:   sleepContext,
		logger:  log.With(slog.String("component", "content_fetcher")),
	}, nil
}

// FetchCategory returns up to MaxPages pages of candidates for category,
// newest first. Upstream failures are absorbed: when a page exhausts its
// attempts the pages already fetched are returned, possibly none. The only
// error returned is the cancellation of ctx.
func (f *Fetcher) FetchCategory(ctx context.Context, category string) ([]domain.ContentCandidate, error) {
	log := logger.FromContextOrDefault(ctx, f.logger).With(slog.String("category", category))

	var all []domain.ContentCandidate
	for page := range f.cfg.MaxPages {
		q := arxiv.Query{Category: category, Start: page * f.cfg.PageSize, MaxResults: f.cfg.PageSize}

		batch, err := f.fetchPage(ctx, log, q)
		if errors.Is(err, errExhausted) {
			log.Error("giving up on category",
				slog.Int("page", page),
				slog.Int("kept", len(all)),
				slog.String("error", err.Error()))
			return all, nil
		}
		if err != nil {
			return all, err
		}

		all = append(all, batch...)
		if len(batch) < f.cfg.PageSize {
			break
		}
	}

	log.Info("fetched category", slog.Int("candidates", len(all)))
	return all, nil
}

// fetchPage runs the Requesting -> Success | Retrying -> Exhausted machine
// for one page.
func (f *Fetcher) fetchPage(ctx context.Context, log *slog.Logger, q arxiv.Query) ([]domain.ContentCandidate, error) {
	var lastErr error
	for attempt := 1; attempt <= f.cfg.MaxRetries; attempt++ {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		batch, err := f.query(ctx, q)
		if err == nil {
			log.Debug("upstream call succeeded",
				slog.Int("attempt", attempt),
				slog.Int("start", q.Start),
				slog.Int("entries", len(batch)))
			return batch, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err

		if !domain.IsRetryable(err) {
			log.Error("upstream call failed permanently",
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()))
			break
		}
		if attempt == f.cfg.MaxRetries {
			break
		}

		delay := f.backoff(attempt)
		log.Warn("upstream call failed, retrying",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", f.cfg.MaxRetries),
			slog.Duration("backoff", delay),
			slog.String("error", err.Error()))
		if err := f.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: %w", errExhausted, lastErr)
}

func (f *Fetcher) query(ctx context.Context, q arxiv.Query) ([]domain.ContentCandidate, error) {
	if f.cfg.RequestTimeout <= 0 {
		return f.client.Query(ctx, q)
	}
	callCtx, cancel := context.WithTimeout(ctx, f.cfg.RequestTimeout)
	defer cancel()
	return f.client.Query(callCtx, q)
}

// backoff returns BackoffBase * 2^(attempt-1).
func (f *Fetcher) backoff(attempt int) time.Duration {
	return f.cfg.BackoffBase << (attempt - 1)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// QuerierFunc adapts a function to the Querier interface.
type QuerierFunc func(ctx context.Context, q arxiv.Query) ([]domain.ContentCandidate, error)

// Query calls f.
func (f QuerierFunc) Query(ctx context.Context, q arxiv.Query) ([]domain.ContentCandidate, error) {
	return f(ctx, q)
}
