package service

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/phrazzld/research-digest/internal/domain"
	"github.com/phrazzld/research-digest/internal/store"
)

// TopCategoryCount is the number of categories listed in Stats.
const TopCategoryCount = 10

// Stats is the operator overview.
type Stats struct {
	Recipients *store.RecipientStats         `json:"recipients"`
	Content    *store.ContentStats           `json:"content"`
	Deliveries map[domain.DeliveryStatus]int `json:"deliveries"`
}

// StatsService aggregates counts across the stores. Every figure is computed
// by the database.
type StatsService struct {
	recipients store.RecipientStore
	content    store.ContentStore
	deliveries store.DeliveryStore
	logger     *slog.Logger
}

// NewStatsService creates a StatsService.
func NewStatsService(
	recipients store.RecipientStore,
	content store.ContentStore,
	deliveries store.DeliveryStore,
	logger *slog.Logger,
) *StatsService {
	return &StatsService{
		recipients: recipients,
		content:    content,
		deliveries: deliveries,
		logger:     logger.With("component", "stats_service"),
	}
}

// Stats returns the current counts.
func (s *StatsService) Stats(ctx context.Context) (*Stats, error) {
	var out Stats
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		r, err := s.recipients.Stats(ctx)
		if err != nil {
			return fmt.Errorf("failed to count recipients: %w", err)
		}
		out.Recipients = r
		return nil
	})
	g.Go(func() error {
		c, err := s.content.Stats(ctx, TopCategoryCount)
		if err != nil {
			return fmt.Errorf("failed to count content: %w", err)
		}
		out.Content = c
		return nil
	})
	g.Go(func() error {
		d, err := s.deliveries.CountByStatus(ctx)
		if err != nil {
			return fmt.Errorf("failed to count deliveries: %w", err)
		}
		out.Deliveries = d
		return nil
	})

	if err := g.Wait(); err != nil {
		s.logger.Error("failed to compute stats", "error", err.Error())
		return nil, err
	}
	return &out, nil
}
