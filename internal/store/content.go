package store

import (
	"context"
	"time"

	"github.com/phrazzld/research-digest/internal/domain"
)

// StoreResult reports the outcome of a batch store.
type StoreResult struct {
	// Inserted counts candidates that created a new record.
	Inserted int `json:"inserted"`
	// Skipped counts candidates whose external ID was already stored.
	Skipped int `json:"skipped"`
	// Failed counts candidates rejected individually, including those
	// failing validation.
	Failed int `json:"failed"`
}

// Add accumulates other into r.
func (r *StoreResult) Add(other StoreResult) {
	r.Inserted += other.Inserted
	r.Skipped += other.Skipped
	r.Failed += other.Failed
}

// CategoryCount is the number of records in one category.
type CategoryCount struct {
	Category string `json:"category"`
	Count    int    `json:"count"`
}

// ContentStats are aggregate content counts computed by the database.
type ContentStats struct {
	Total         int             `json:"total"`
	Summarized    int             `json:"summarized"`
	TopCategories []CategoryCount `json:"top_categories"`
	LastFetchedAt *time.Time      `json:"last_fetched_at,omitempty"`
}

// ContentStore defines the interface for content record persistence.
type ContentStore interface {
	// Store inserts candidates whose external ID is not yet stored and skips
	// the rest. The batch is written in one transaction; if that fails it is
	// retried record by record so one bad record cannot discard the others.
	Store(ctx context.Context, candidates []domain.ContentCandidate) (StoreResult, error)

	// GetByExternalID retrieves one record.
	// Returns ErrContentNotFound if it does not exist.
	GetByExternalID(ctx context.Context, externalID string) (*domain.ContentRecord, error)

	// ListRecentByCategories returns at most limit records whose category is
	// in categories, newest published first. Records without a publication
	// date sort last.
	ListRecentByCategories(ctx context.Context, categories []string, limit int) ([]*domain.ContentRecord, error)

	// ListUnsummarized returns at most limit records without a synopsis whose
	// failed summary attempts are below maxAttempts. Records with fewer
	// failures come first, then newest published.
	ListUnsummarized(ctx context.Context, limit, maxAttempts int) ([]*domain.ContentRecord, error)

	// SaveSummary stores the synopsis and embedding if the record has none
	// yet. It reports whether the record was updated.
	SaveSummary(ctx context.Context, externalID, synopsis string, embedding []float32) (bool, error)

	// RecordSummaryFailure increments the failed summary attempt counter.
	RecordSummaryFailure(ctx context.Context, externalID string) error

	// Stats returns aggregate counts.
	Stats(ctx context.Context, topN int) (*ContentStats, error)
}
