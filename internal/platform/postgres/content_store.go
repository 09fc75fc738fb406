package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/phrazzld/research-digest/internal/domain"
	"github.com/phrazzld/research-digest/internal/platform/logger"
	"github.com/phrazzld/research-digest/internal/store"
)

// insertChunkSize bounds rows per INSERT to stay well below the protocol's
// bind parameter limit.
const insertChunkSize = 500

var contentColumns = []string{
	"external_id", "title", "authors", "full_text", "synopsis", "embedding",
	"category", "published_at", "fetched_at", "summary_attempts",
}

// PostgresContentStore implements store.ContentStore.
type PostgresContentStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresContentStore creates a content store. It needs a *sql.DB rather
// than a DBTX because Store manages its own transaction.
func NewPostgresContentStore(db *sql.DB, logger *slog.Logger) *PostgresContentStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresContentStore{
		db:     db,
		logger: logger.With(slog.String("component", "content_store")),
	}
}

var _ store.ContentStore = (*PostgresContentStore)(nil)

// Store implements store.ContentStore.Store.
func (s *PostgresContentStore) Store(ctx context.Context, candidates []domain.ContentCandidate) (store.StoreResult, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	valid, result := filterCandidates(log, candidates)
	if len(valid) == 0 {
		return result, nil
	}

	fetchedAt := time.Now().UTC()
	var inserted int
	err := store.RunInTransaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		inserted = 0
		for start := 0; start < len(valid); start += insertChunkSize {
			end := min(start+insertChunkSize, len(valid))
			n, err := insertCandidates(ctx, tx, valid[start:end], fetchedAt)
			if err != nil {
				return err
			}
			inserted += n
		}
		return nil
	})
	if err == nil {
		result.Inserted += inserted
		result.Skipped += len(valid) - inserted
		log.Info("stored content batch",
			slog.Int("inserted", result.Inserted),
			slog.Int("skipped", result.Skipped),
			slog.Int("failed", result.Failed))
		return result, nil
	}
	if ctx.Err() != nil {
		return result, ctx.Err()
	}

	log.Warn("bulk content insert failed, falling back to per-record inserts",
		slog.Int("batch_size", len(valid)),
		slog.String("error", err.Error()))

	for _, c := range valid {
		n, err := insertCandidates(ctx, s.db, []domain.ContentCandidate{c}, fetchedAt)
		switch {
		case err != nil:
			result.Failed++
			log.Error("failed to store content record",
				slog.String("external_id", c.ExternalID),
				slog.String("error", err.Error()))
		case n == 0:
			result.Skipped++
		default:
			result.Inserted++
		}
	}

	log.Info("stored content records individually",
		slog.Int("inserted", result.Inserted),
		slog.Int("skipped", result.Skipped),
		slog.Int("failed", result.Failed))
	return result, nil
}

// filterCandidates drops candidates without a natural key and duplicates
// within the batch. Invalid candidates are counted as failed.
func filterCandidates(log *slog.Logger, candidates []domain.ContentCandidate) ([]domain.ContentCandidate, store.StoreResult) {
	var result store.StoreResult
	seen := make(map[string]struct{}, len(candidates))
	valid := make([]domain.ContentCandidate, 0, len(candidates))

	for _, c := range candidates {
		if err := c.Validate(); err != nil {
			result.Failed++
			log.Warn("dropping invalid content candidate",
				slog.String("title", c.Title),
				slog.String("error", err.Error()))
			continue
		}
		if _, dup := seen[c.ExternalID]; dup {
			result.Skipped++
			continue
		}
		seen[c.ExternalID] = struct{}{}
		valid = append(valid, c)
	}
	return valid, result
}

// insertCandidates inserts the batch, ignoring rows whose external ID exists,
// and returns how many rows were created.
func insertCandidates(ctx context.Context, db store.DBTX, batch []domain.ContentCandidate, fetchedAt time.Time) (int, error) {
	b := psql.Insert("content_records").
		Columns("external_id", "title", "authors", "full_text", "category", "published_at", "fetched_at")
	for _, c := range batch {
		var published *time.Time
		if c.PublishedAt != nil {
			t := c.PublishedAt.UTC()
			published = &t
		}
		b = b.Values(c.ExternalID, c.Title, c.Authors, c.FullText, c.Category, published, fetchedAt)
	}
	query, args, err := b.Suffix("ON CONFLICT (external_id) DO NOTHING RETURNING external_id").ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build insert: %w", err)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return 0, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	n := 0
	for rows.Next() {
		n++
	}
	if err := rows.Err(); err != nil {
		return 0, MapError(err)
	}
	return n, nil
}

// GetByExternalID implements store.ContentStore.GetByExternalID.
func (s *PostgresContentStore) GetByExternalID(ctx context.Context, externalID string) (*domain.ContentRecord, error) {
	query, args, err := psql.Select(contentColumns...).
		From("content_records").
		Where(sq.Eq{"external_id": externalID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build select: %w", err)
	}

	rec, err := scanContent(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrContentNotFound
	}
	if err != nil {
		return nil, store.NewStoreError("content", "get", "query failed", MapError(err))
	}
	return rec, nil
}

// ListRecentByCategories implements store.ContentStore.ListRecentByCategories.
func (s *PostgresContentStore) ListRecentByCategories(ctx context.Context, categories []string, limit int) ([]*domain.ContentRecord, error) {
	if len(categories) == 0 || limit <= 0 {
		return nil, nil
	}

	query, args, err := psql.Select(contentColumns...).
		From("content_records").
		Where(sq.Eq{"category": categories}).
		OrderBy("published_at DESC NULLS LAST", "external_id DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build recent query: %w", err)
	}
	return s.list(ctx, "list_recent", query, args)
}

// ListUnsummarized implements store.ContentStore.ListUnsummarized.
func (s *PostgresContentStore) ListUnsummarized(ctx context.Context, limit, maxAttempts int) ([]*domain.ContentRecord, error) {
	if limit <= 0 {
		return nil, nil
	}

	query, args, err := psql.Select(contentColumns...).
		From("content_records").
		Where(sq.Eq{"synopsis": nil}).
		Where(sq.Lt{"summary_attempts": maxAttempts}).
		OrderBy("summary_attempts ASC", "published_at DESC NULLS LAST", "external_id DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build unsummarized query: %w", err)
	}
	return s.list(ctx, "list_unsummarized", query, args)
}

func (s *PostgresContentStore) list(ctx context.Context, op, query string, args []any) ([]*domain.ContentRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, store.NewStoreError("content", op, "query failed", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	var out []*domain.ContentRecord
	for rows.Next() {
		rec, err := scanContent(rows)
		if err != nil {
			return nil, store.NewStoreError("content", op, "scan failed", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, store.NewStoreError("content", op, "iteration failed", MapError(err))
	}
	return out, nil
}

// SaveSummary implements store.ContentStore.SaveSummary.
func (s *PostgresContentStore) SaveSummary(ctx context.Context, externalID, synopsis string, embedding []float32) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE content_records
		SET synopsis = $1, embedding = $2
		WHERE external_id = $3 AND synopsis IS NULL`,
		synopsis, embedding, externalID)
	if err != nil {
		return false, store.NewStoreError("content", "save_summary", "update failed", MapError(err))
	}
	return changed(result)
}

// RecordSummaryFailure implements store.ContentStore.RecordSummaryFailure.
func (s *PostgresContentStore) RecordSummaryFailure(ctx context.Context, externalID string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE content_records SET summary_attempts = summary_attempts + 1 WHERE external_id = $1`,
		externalID)
	if err != nil {
		return store.NewStoreError("content", "record_failure", "update failed", MapError(err))
	}
	return CheckRowsAffected(result, store.ErrContentNotFound)
}

// Stats implements store.ContentStore.Stats with aggregate queries.
func (s *PostgresContentStore) Stats(ctx context.Context, topN int) (*store.ContentStats, error) {
	stats := &store.ContentStats{}
	var lastFetched sql.NullTime

	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COUNT(synopsis), MAX(fetched_at) FROM content_records`,
	).Scan(&stats.Total, &stats.Summarized, &lastFetched)
	if err != nil {
		return nil, store.NewStoreError("content", "stats", "count failed", MapError(err))
	}
	stats.LastFetchedAt = timePtr(lastFetched)

	query, args, err := psql.Select("category", "COUNT(*) AS n").
		From("content_records").
		GroupBy("category").
		OrderBy("n DESC", "category ASC").
		Limit(uint64(topN)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build category query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, store.NewStoreError("content", "stats", "category query failed", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var cc store.CategoryCount
		if err := rows.Scan(&cc.Category, &cc.Count); err != nil {
			return nil, store.NewStoreError("content", "stats", "scan failed", err)
		}
		stats.TopCategories = append(stats.TopCategories, cc)
	}
	if err := rows.Err(); err != nil {
		return nil, store.NewStoreError("content", "stats", "iteration failed", MapError(err))
	}
	return stats, nil
}

func scanContent(row rowScanner) (*domain.ContentRecord, error) {
	var (
		rec       domain.ContentRecord
		synopsis  sql.NullString
		published sql.NullTime
	)
	err := row.Scan(
		&rec.ExternalID,
		&rec.Title,
		&rec.Authors,
		&rec.FullText,
		&synopsis,
		arrayScanner(&rec.Embedding),
		&rec.Category,
		&published,
		&rec.FetchedAt,
		&rec.SummaryAttempts,
	)
	if err != nil {
		return nil, err
	}
	if synopsis.Valid {
		rec.Synopsis = &synopsis.String
	}
	rec.PublishedAt = timePtr(published)
	rec.FetchedAt = rec.FetchedAt.UTC()
	return &rec, nil
}
