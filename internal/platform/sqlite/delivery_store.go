package sqlite

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

// DeliveryStore implements store.DeliveryStore on SQLite.
type DeliveryStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewDeliveryStore creates a delivery store on db.
func NewDeliveryStore(db store.DBTX, logger *slog.Logger) *DeliveryStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DeliveryStore{db: db, logger: logger.With(slog.String("component", "delivery_store"))}
}

var _ store.DeliveryStore = (*DeliveryStore)(nil)

// WithTx implements store.DeliveryStore.WithTx.
func (s *DeliveryStore) WithTx(tx *sql.Tx) store.DeliveryStore {
	return &DeliveryStore{db: tx, logger: s.logger}
}

// Create implements store.DeliveryStore.Create.
func (s *DeliveryStore) Create(ctx context.Context, d *domain.Delivery) error {
	if !d.Status.IsValid() {
		return fmt.Errorf("%w: %w", store.ErrInvalidEntity, domain.ErrInvalidDeliveryStatus)
	}
	query, args, err := builder.Insert("deliveries").
		Columns(deliveryColumns...).
		Values(d.ID.String(), d.RecipientID.String(), string(d.Status), toMicros(d.ScheduledFor),
			toMicros(d.AdvancedTo), d.Attempts, d.ItemCount, nullString(d.LastError),
			toMicros(d.CreatedAt), toMicros(d.UpdatedAt), nullMicros(d.CompletedAt)).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build insert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return store.NewStoreError("delivery", "create", "insert failed", MapError(err))
	}
	return nil
}

// Get implements store.DeliveryStore.Get.
func (s *DeliveryStore) Get(ctx context.Context, id uuid.UUID) (*domain.Delivery, error) {
	query, args, err := builder.Select(deliveryColumns...).From("deliveries").Where(sq.Eq{"id": id.String()}).ToSql()
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
func (s *DeliveryStore) MarkProcessing(ctx context.Context, id uuid.UUID) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE deliveries
		SET status = ?, attempts = attempts + 1, updated_at = ?
		WHERE id = ? AND status IN (?, ?)`,
		string(domain.DeliveryProcessing), toMicros(time.Now()), id.String(),
		string(domain.DeliveryPending), string(domain.DeliveryRetrying))
	if err != nil {
		return false, store.NewStoreError("delivery", "mark_processing", "update failed", MapError(err))
	}
	return changed(result)
}

// MarkRetrying implements store.DeliveryStore.MarkRetrying.
func (s *DeliveryStore) MarkRetrying(ctx context.Context, id uuid.UUID, errMsg string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE deliveries
		SET status = ?, last_error = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(domain.DeliveryRetrying), errMsg, toMicros(time.Now()), id.String(), string(domain.DeliveryProcessing))
	if err != nil {
		return store.NewStoreError("delivery", "mark_retrying", "update failed", MapError(err))
	}
	return checkRowsAffected(result, store.ErrDeliveryNotFound)
}

// Complete implements store.DeliveryStore.Complete.
func (s *DeliveryStore) Complete(ctx context.Context, id uuid.UUID, status domain.DeliveryStatus, itemCount int, errMsg string) error {
	if !status.IsFinal() {
		return fmt.Errorf("%w: %q is not a final status", domain.ErrInvalidDeliveryStatus, status)
	}
	now := toMicros(time.Now())
	result, err := s.db.ExecContext(ctx, `
		UPDATE deliveries
		SET status = ?, item_count = ?, last_error = ?, updated_at = ?, completed_at = ?
		WHERE id = ?`,
		string(status), itemCount, nullString(errMsg), now, now, id.String())
	if err != nil {
		return store.NewStoreError("delivery", "complete", "update failed", MapError(err))
	}
	return checkRowsAffected(result, store.ErrDeliveryNotFound)
}

// ListStale implements store.DeliveryStore.ListStale.
func (s *DeliveryStore) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Delivery, error) {
	query, args, err := builder.Select(deliveryColumns...).
		From("deliveries").
		Where(sq.Eq{"status": openStatuses}).
		Where(sq.Lt{"updated_at": toMicros(cutoff)}).
		OrderBy("updated_at ASC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build stale query: %w", err)
	}
	return s.list(ctx, "list_stale", query, args)
}

// Requeue implements store.DeliveryStore.Requeue.
func (s *DeliveryStore) Requeue(ctx context.Context, id uuid.UUID, cutoff time.Time) (bool, error) {
	query, args, err := builder.Update("deliveries").
		Set("status", string(domain.DeliveryPending)).
		Set("updated_at", toMicros(time.Now())).
		Where(sq.Eq{"id": id.String(), "status": openStatuses}).
		Where(sq.Lt{"updated_at": toMicros(cutoff)}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("failed to build requeue: %w", err)
	}
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, store.NewStoreError("delivery", "requeue", "update failed", MapError(err))
	}
	return changed(result)
}

// ListByRecipient implements store.DeliveryStore.ListByRecipient.
func (s *DeliveryStore) ListByRecipient(ctx context.Context, recipientID uuid.UUID, limit int) ([]*domain.Delivery, error) {
	query, args, err := builder.Select(deliveryColumns...).
		From("deliveries").
		Where(sq.Eq{"recipient_id": recipientID.String()}).
		OrderBy("created_at DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build history query: %w", err)
	}
	return s.list(ctx, "list_by_recipient", query, args)
}

// CountByStatus implements store.DeliveryStore.CountByStatus.
func (s *DeliveryStore) CountByStatus(ctx context.Context) (map[domain.DeliveryStatus]int, error) {
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

func (s *DeliveryStore) list(ctx context.Context, op, query string, args []any) ([]*domain.Delivery, error) {
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
		d                        domain.Delivery
		id, recipientID, status  string
		scheduledFor, advancedTo int64
		createdAt, updatedAt     int64
		lastError                sql.NullString
		completed                sql.NullInt64
	)
	err := row.Scan(&id, &recipientID, &status, &scheduledFor, &advancedTo, &d.Attempts,
		&d.ItemCount, &lastError, &createdAt, &updatedAt, &completed)
	if err != nil {
		return nil, err
	}
	if d.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("invalid delivery id %q: %w", id, err)
	}
	if d.RecipientID, err = uuid.Parse(recipientID); err != nil {
		return nil, fmt.Errorf("invalid recipient id %q: %w", recipientID, err)
	}
	d.Status = domain.DeliveryStatus(status)
	d.ScheduledFor = fromMicros(scheduledFor)
	d.AdvancedTo = fromMicros(advancedTo)
	d.CreatedAt = fromMicros(createdAt)
	d.UpdatedAt = fromMicros(updatedAt)
	d.LastError = lastError.String
	d.CompletedAt = timePtr(completed)
	return &d, nil
}
