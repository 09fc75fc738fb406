package ingest

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/phrazzld/research-digest/internal/domain"
	"github.com/phrazzld/research-digest/internal/platform/logger"
	"github.com/phrazzld/research-digest/internal/store"
)

// CategoryFetcher fetches the candidates of one category.
type CategoryFetcher interface {
	FetchCategory(ctx context.Context, category string) ([]domain.ContentCandidate, error)
}

// CategoryReport is the outcome for one category of a fetch pass.
type CategoryReport struct {
	Category string            `json:"category"`
	Fetched  int               `json:"fetched"`
	Stored   store.StoreResult `json:"stored"`
	Error    string            `json:"error,omitempty"`
}

// Report summarises a fetch pass.
type Report struct {
	Categories []CategoryReport  `json:"categories"`
	Totals     store.StoreResult `json:"totals"`
	Duration   time.Duration     `json:"duration"`
}

// Service runs fetch passes over a set of categories.
type Service struct {
	fetcher     CategoryFetcher
	content     store.ContentStore
	concurrency int
	logger      *slog.Logger
}

// NewService creates a Service fetching at most concurrency categories at a
// time. Upstream pacing is enforced by the fetcher's limiter regardless.
func NewService(fetcher CategoryFetcher, content store.ContentStore, concurrency int, log *slog.Logger) (*Service, error) {
	if fetcher == nil {
		return nil, errors.New("fetcher cannot be nil")
	}
	if content == nil {
		return nil, errors.New("content store cannot be nil")
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		fetcher:     fetcher,
		content:     content,
		concurrency: concurrency,
		logger:      log.With(slog.String("component", "ingest_service")),
	}, nil
}

// Run fetches and stores every category. Per-category failures are recorded
// in the report; only cancellation of ctx is returned as an error.
func (s *Service) Run(ctx context.Context, categories []string) (*Report, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)
	started := time.Now()
	log.Info("starting fetch pass", slog.Int("categories", len(categories)))

	reports := make([]CategoryReport, len(categories))
	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i, category := range categories {
		g.Go(func() error {
			reports[i] = s.runCategory(ctx, log, category)
			return nil
		})
	}
	_ = g.Wait()

	report := &Report{Categories: reports, Duration: time.Since(started)}
	for _, r := range reports {
		report.Totals.Add(r.Stored)
	}

	if err := ctx.Err(); err != nil {
		log.Warn("fetch pass interrupted", slog.String("error", err.Error()))
		return report, err
	}

	log.Info("fetch pass complete",
		slog.Int("inserted", report.Totals.Inserted),
		slog.Int("skipped", report.Totals.Skipped),
		slog.Int("failed", report.Totals.Failed),
		slog.Duration("duration", report.Duration))
	return report, nil
}

func (s *Service) runCategory(ctx context.Context, log *slog.Logger, category string) CategoryReport {
	report := CategoryReport{Category: category}

	candidates, err := s.fetcher.FetchCategory(ctx, category)
	report.Fetched = len(candidates)
	if err != nil {
		report.Error = err.Error()
	}
	if len(candidates) == 0 {
		return report
	}

	result, err := s.content.Store(ctx, candidates)
	report.Stored = result
	if err != nil {
		log.Error("failed to store category batch",
			slog.String("category", category),
			slog.Int("candidates", len(candidates)),
			slog.String("error", err.Error()))
		report.Error = err.Error()
	}
	return report
}
