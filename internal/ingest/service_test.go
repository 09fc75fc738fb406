package ingest_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/research-digest/internal/domain"
	"github.com/phrazzld/research-digest/internal/ingest"
	"github.com/phrazzld/research-digest/internal/platform/sqlite"
	"github.com/phrazzld/research-digest/internal/store"
)

type fetcherFunc func(ctx context.Context, category string) ([]domain.ContentCandidate, error)

func (f fetcherFunc) FetchCategory(ctx context.Context, category string) ([]domain.ContentCandidate, error) {
	return f(ctx, category)
}

func newContentStore(t *testing.T) store.ContentStore {
	t.Helper()
	db, err := sqlite.Open(context.Background(), ":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return sqlite.NewContentStore(db, nil)
}

func TestServiceRunIsolatesCategories(t *testing.T) {
	content := newContentStore(t)
	fetcher := fetcherFunc(func(_ context.Context, category string) ([]domain.ContentCandidate, error) {
		if category == "math.ST" {
			return nil, nil
		}
		return []domain.ContentCandidate{
			{ExternalID: category + "-1", Category: category},
			{ExternalID: category + "-2", Category: category},
		}, nil
	})
	svc, err := ingest.NewService(fetcher, content, 2, nil)
	require.NoError(t, err)

	report, err := svc.Run(context.Background(), []string{"cs.AI", "math.ST", "cs.LG"})
	require.NoError(t, err)

	require.Len(t, report.Categories, 3)
	assert.Equal(t, "cs.AI", report.Categories[0].Category)
	assert.Equal(t, 2, report.Categories[0].Stored.Inserted)
	assert.Equal(t, 0, report.Categories[1].Fetched)
	assert.Equal(t, 2, report.Categories[2].Stored.Inserted)
	assert.Equal(t, store.StoreResult{Inserted: 4}, report.Totals)

	report, err = svc.Run(context.Background(), []string{"cs.AI"})
	require.NoError(t, err)
	assert.Equal(t, store.StoreResult{Skipped: 2}, report.Totals, "a second pass is idempotent")
}

func TestServiceRunCanceled(t *testing.T) {
	content := newContentStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	fetcher := fetcherFunc(func(ctx context.Context, category string) ([]domain.ContentCandidate, error) {
		cancel()
		return nil, ctx.Err()
	})
	svc, err := ingest.NewService(fetcher, content, 1, nil)
	require.NoError(t, err)

	report, err := svc.Run(ctx, []string{"cs.AI"})
	assert.True(t, errors.Is(err, context.Canceled))
	require.NotNil(t, report)
	assert.Equal(t, context.Canceled.Error(), report.Categories[0].Error)
}

func TestServiceRunRecordsStoreFailure(t *testing.T) {
	fetcher := fetcherFunc(func(context.Context, string) ([]domain.ContentCandidate, error) {
		return []domain.ContentCandidate{{ExternalID: "x"}}, nil
	})
	svc, err := ingest.NewService(fetcher, failingStore{}, 1, nil)
	require.NoError(t, err)

	report, err := svc.Run(context.Background(), []string{"cs.AI", "cs.CL"})
	require.NoError(t, err)
	for _, r := range report.Categories {
		assert.Contains(t, r.Error, "disk full")
	}
}

type failingStore struct{ store.ContentStore }

func (failingStore) Store(context.Context, []domain.ContentCandidate) (store.StoreResult, error) {
	return store.StoreResult{}, fmt.Errorf("disk full")
}
