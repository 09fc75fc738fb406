package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/phrazzld/research-digest/internal/domain"
	"github.com/phrazzld/research-digest/internal/platform/logger"
	"github.com/phrazzld/research-digest/internal/store"
)

var deliveryColumns = []string{
	"id", "recipient_id", "status", "scheduled_for", "advanced_to", "attempts",
	"item_count", "last_error", "created_at", "updated_at", "completed_at",
}

var openStatuses = []string{
	string(domain.DeliveryPending),
	string(domain.DeliveryProcessing),
	string(domain.DeliveryRetrying),
}

// PostgresDeliveryStore implements store.DeliveryStore.
type PostgresDeliveryStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresDeliveryStore creates a delivery store on db, which may be a
// *sql.DB or a *sql.Tx. If logger is nil, the default logger is used.
func NewPostgresDeliveryStore(db store.DBTX, logger *slog.Logger) *PostgresDeliveryStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresDeliveryStore{
		db:     db,
		logger: logger.With(slog.String("component", "delivery_store")),
	}
}

var _ store.DeliveryStore = (*PostgresDeliveryStore)(nil)

// WithTx implements store.DeliveryStore.WithTx.
func (s *PostgresDeliveryStore) WithTx(tx *sql.Tx) store.DeliveryStore {
	return &PostgresDeliveryStore{db: tx, logger: s.logger}
}

// Create implements store.DeliveryStore.Create.
func (s *PostgresDeliveryStore) Create(ctx context.Context, d *domain.Delivery) error {
	if !d.Status.IsValid() {
		return fmt.Errorf("%w: %w", store.ErrInvalidEntity, domain.ErrInvalidDeliveryStatus)
	}

	query, args, err := psql.Insert("deliveries").
		Columns(deliveryColumns...).
		Values(d.ID, d.RecipientID, string(d.Status), d.ScheduledFor.UTC(), d.AdvancedTo.UTC(), d.Attempts,
			d.ItemCount, nullString(d.LastError), d.CreatedAt, d.UpdatedAt, d.CompletedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build insert: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		logger.FromContextOrDefault(ctx, s.logger).Error("failed to create delivery",
			slog.String("delivery_id", d.ID.String()),
			slog.String("recipient_id", d.RecipientID.String()),
			slog.String("error", err.Error()))
		return store.NewStoreError("delivery", "create", "insert failed", MapError(err))
	}
	return nil
}

// Get implements store.DeliveryStore.Get.
func (s *PostgresDeliveryStore) Get(ctx context.Context, id uuid.UUID) (*domain.Delivery, error) {
	query, args, err := psql.Select(deliveryColumns...).From("deliveries").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build select: %w", err)
	}

	d, err := scanDelivery(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrDeliveryNotFound
	}
	if err != nil {
		return nil, store.NewStoreError("delivery", "get", "query failed", MapError(err))
	}
	return d, nil
}

// MarkProcessing implements store.DeliveryStore.MarkProcessing.
func (s *PostgresDeliveryStore) MarkProcessing(ctx context.Context, id uuid.UUID) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE deliveries
		SET status = $1, attempts = attempts + 1, updated_at = $2
		WHERE id = $3 AND status IN ($4, $5)`,
		domain.DeliveryProcessing, time.Now().UTC(), id, domain.DeliveryPending, domain.DeliveryRetrying)
	if err != nil {
		return false, store.NewStoreError("delivery", "mark_processing", "update failed", MapError(err))
	}
	return changed(result)
}

// MarkRetrying implements store.DeliveryStore.MarkRetrying.
func (s *PostgresDeliveryStore) MarkRetrying(ctx context.Context, id uuid.UUID, errMsg string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE deliveries
		SET status = $1, last_error = $2, updated_at = $3
		WHERE id = $4 AND status = $5`,
		domain.DeliveryRetrying, errMsg, time.Now().UTC(), id, domain.DeliveryProcessing)
	if err != nil {
		return store.NewStoreError("delivery", "mark_retrying", "update failed", MapError(err))
	}
	return CheckRowsAffected(result, store.ErrDeliveryNotFound)
}

// Complete implements store.DeliveryStore.Complete.
func (s *PostgresDeliveryStore) Complete(ctx context.Context, id uuid.UUID, status domain.DeliveryStatus, itemCount int, errMsg string) error {
	if !status.IsFinal() {
		return fmt.Errorf("%w: %q is not a final status", domain.ErrInvalidDeliveryStatus, status)
	}

	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx, `
		UPDATE deliveries
		SET status = $1, item_count = $2, last_error = $3, updated_at = $4, completed_at = $4
		WHERE id = $5`,
		status, itemCount, nullString(errMsg), now, id)
	if err != nil {
		return store.NewStoreError("delivery", "complete", "update failed", MapError(err))
	}
	return CheckRowsAffected(result, store.ErrDeliveryNotFound)
}

// ListStale implements store.DeliveryStore.ListStale.
func (s *PostgresDeliveryStore) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Delivery, error) {
	query, args, err := psql.Select(deliveryColumns...).
		From("deliveries").
		Where(sq.Eq{"status": openStatuses}).
		Where(sq.Lt{"updated_at": cutoff.UTC()}).
		OrderBy("updated_at ASC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build stale query: %w", err)
	}
	return s.list(ctx, "list_stale", query, args)
}

// Requeue implements store.DeliveryStore.Requeue.
func (s *PostgresDeliveryStore) Requeue(ctx context.Context, id uuid.UUID, cutoff time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE deliveries
		SET status = $1, updated_at = $2
		WHERE id = $3 AND status IN ($4, $5, $6) AND updated_at < $7`,
		domain.DeliveryPending, time.Now().UTC(), id,
		domain.DeliveryPending, domain.DeliveryProcessing, domain.DeliveryRetrying, cutoff.UTC())
	if err != nil {
		return false, store.NewStoreError("delivery", "requeue", "update failed", MapError(err))
	}
	return changed(result)
}

// ListByRecipient implements store.DeliveryStore.ListByRecipient.
func (s *PostgresDeliveryStore) ListByRecipient(ctx context.Context, recipientID uuid.UUID, limit int) ([]*domain.Delivery, error) {
	query, args, err := psql.Select(deliveryColumns...).
		From("deliveries").
		Where(sq.Eq{"recipient_id": recipientID}).
		OrderBy("created_at DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build history query: %w", err)
	}
	return s.list(ctx, "list_by_recipient", query, args)
}

// CountByStatus implements store.DeliveryStore.CountByStatus.
func (s *PostgresDeliveryStore) CountByStatus(ctx context.Context) (map[domain.DeliveryStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM deliveries GROUP BY status`)
	if err != nil {
		return nil, store.NewStoreError("delivery", "count", "query failed", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[domain.DeliveryStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, store.NewStoreError("delivery", "count", "scan failed", err)
		}
		counts[domain.DeliveryStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, store.NewStoreError("delivery", "count", "iteration failed", MapError(err))
	}
	return counts, nil
}

func (s *PostgresDeliveryStore) list(ctx context.Context, op, query string, args []any) ([]*domain.Delivery, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, store.NewStoreError("delivery", op, "query failed", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	var out []*domain.Delivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, store.NewStoreError("delivery", op, "scan failed", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, store.NewStoreError("delivery", op, "iteration failed", MapError(err))
	}
	return out, nil
}

func scanDelivery(row rowScanner) (*domain.Delivery, error) {
	var (
		d         domain.Delivery
		status    string
		lastError sql.NullString
		completed sql.NullTime
	)
	err := row.Scan(
		&d.ID,
		&d.RecipientID,
		&status,
		&d.ScheduledFor,
		&d.AdvancedTo,
		&d.Attempts,
		&d.ItemCount,
		&lastError,
		&d.CreatedAt,
		&d.UpdatedAt,
		&completed,
	)
	if err != nil {
		return nil, err
	}
	d.Status = domain.DeliveryStatus(status)
	d.LastError = lastError.String
	d.ScheduledFor = d.ScheduledFor.UTC()
	d.AdvancedTo = d.AdvancedTo.UTC()
	d.CreatedAt = d.CreatedAt.UTC()
	d.UpdatedAt = d.UpdatedAt.UTC()
	d.CompletedAt = timePtr(completed)
	return &d, nil
}
