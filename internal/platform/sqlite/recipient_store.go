package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
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

var recipientColumns = []string{
	"id", "contact_address", "display_name", "categories", "cadence",
	"next_delivery_at", "last_delivered_at", "active", "created_at", "updated_at",
}

// RecipientStore implements store.RecipientStore on SQLite.
type RecipientStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewRecipientStore creates a recipient store on db.
func NewRecipientStore(db store.DBTX, logger *slog.Logger) *RecipientStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RecipientStore{db: db, logger: logger.With(slog.String("component", "recipient_store"))}
}

var _ store.RecipientStore = (*RecipientStore)(nil)

// WithTx implements store.RecipientStore.WithTx.
func (s *RecipientStore) WithTx(tx *sql.Tx) store.RecipientStore {
	return &RecipientStore{db: tx, logger: s.logger}
}

// Create implements store.RecipientStore.Create.
func (s *RecipientStore) Create(ctx context.Context, r *domain.Recipient) error {
	if err := r.Validate(); err != nil {
		return fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
	}
	categories, err := json.Marshal(r.Categories)
	if err != nil {
		return fmt.Errorf("failed to encode categories: %w", err)
	}

	query, args, err := builder.Insert("recipients").
		Columns(recipientColumns...).
		Values(r.ID.String(), r.ContactAddress, nullString(r.DisplayName), string(categories), string(r.Cadence),
			nullMicros(r.NextDeliveryAt), nullMicros(r.LastDeliveredAt), r.Active,
			toMicros(r.CreatedAt), toMicros(r.UpdatedAt)).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build insert: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		if IsUniqueViolation(err) {
			return fmt.Errorf("%w: %w", store.ErrContactExists, err)
		}
		logger.FromContextOrDefault(ctx, s.logger).Error("failed to create recipient",
			slog.String("recipient_id", r.ID.String()),
			slog.String("error", err.Error()))
		return store.NewStoreError("recipient", "create", "insert failed", MapError(err))
	}
	return nil
}

// GetByID implements store.RecipientStore.GetByID.
func (s *RecipientStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Recipient, error) {
	return s.getOne(ctx, sq.Eq{"id": id.String()})
}

// GetByContact implements store.RecipientStore.GetByContact. The column is
// declared NOCASE, so the comparison ignores ASCII case.
func (s *RecipientStore) GetByContact(ctx context.Context, contact string) (*domain.Recipient, error) {
	return s.getOne(ctx, sq.Eq{"contact_address": contact})
}

func (s *RecipientStore) getOne(ctx context.Context, pred sq.Sqlizer) (*domain.Recipient, error) {
	query, args, err := builder.Select(recipientColumns...).From("recipients").Where(pred).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build select: %w", err)
	}
	r, err := scanRecipient(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrRecipientNotFound
	}
	if err != nil {
		return nil, store.NewStoreError("recipient", "get", "query failed", MapError(err))
	}
	return r, nil
}

// Update implements store.RecipientStore.Update.
func (s *RecipientStore) Update(ctx context.Context, r *domain.Recipient) error {
	if err := r.Validate(); err != nil {
		return fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
	}
	categories, err := json.Marshal(r.Categories)
	if err != nil {
		return fmt.Errorf("failed to encode categories: %w", err)
	}

	r.UpdatedAt = time.Now().UTC()
	query, args, err := builder.Update("recipients").
		Set("contact_address", r.ContactAddress).
		Set("display_name", nullString(r.DisplayName)).
		Set("categories", string(categories)).
		Set("cadence", string(r.Cadence)).
		Set("next_delivery_at", nullMicros(r.NextDeliveryAt)).
		Set("active", r.Active).
		Set("updated_at", toMicros(r.UpdatedAt)).
		Where(sq.Eq{"id": r.ID.String()}).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build update: %w", err)
	}

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		if IsUniqueViolation(err) {
			return fmt.Errorf("%w: %w", store.ErrContactExists, err)
		}
		return store.NewStoreError("recipient", "update", "update failed", MapError(err))
	}
	return checkRowsAffected(result, store.ErrRecipientNotFound)
}

// SetActive implements store.RecipientStore.SetActive.
func (s *RecipientStore) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE recipients SET active = ?, updated_at = ? WHERE id = ?`,
		active, toMicros(time.Now()), id.String())
	if err != nil {
		return store.NewStoreError("recipient", "set_active", "update failed", MapError(err))
	}
	return checkRowsAffected(result, store.ErrRecipientNotFound)
}

// ListDue implements store.RecipientStore.ListDue. SQLite has no row locks;
// writers are serialised by the database and AdvanceSchedule's conditional
// update decides which poller wins a recipient.
func (s *RecipientStore) ListDue(ctx context.Context, now time.Time, limit int) ([]*domain.Recipient, error) {
	query, args, err := builder.Select(recipientColumns...).
		From("recipients").
		Where(sq.Eq{"active": true}).
		Where(sq.NotEq{"next_delivery_at": nil}).
		Where(sq.LtOrEq{"next_delivery_at": toMicros(now)}).
		OrderBy("next_delivery_at ASC", "id ASC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build due query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, store.NewStoreError("recipient", "list_due", "query failed", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	var due []*domain.Recipient
	for rows.Next() {
		r, err := scanRecipient(rows)
		if err != nil {
			return nil, store.NewStoreError("recipient", "list_due", "scan failed", err)
		}
		due = append(due, r)
	}
	if err := rows.Err(); err != nil {
		return nil, store.NewStoreError("recipient", "list_due", "iteration failed", MapError(err))
	}
	return due, nil
}

// AdvanceSchedule implements store.RecipientStore.AdvanceSchedule.
func (s *RecipientStore) AdvanceSchedule(ctx context.Context, id uuid.UUID, observed, next time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE recipients
		SET next_delivery_at = ?, updated_at = ?
		WHERE id = ? AND active = 1 AND next_delivery_at = ?`,
		toMicros(next), toMicros(time.Now()), id.String(), toMicros(observed))
	if err != nil {
		return false, store.NewStoreError("recipient", "advance", "update failed", MapError(err))
	}
	return changed(result)
}

// RestoreSchedule implements store.RecipientStore.RestoreSchedule.
func (s *RecipientStore) RestoreSchedule(ctx context.Context, id uuid.UUID, advancedTo, restoreTo time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE recipients
		SET next_delivery_at = ?, updated_at = ?
		WHERE id = ? AND next_delivery_at = ?`,
		toMicros(restoreTo), toMicros(time.Now()), id.String(), toMicros(advancedTo))
	if err != nil {
		return false, store.NewStoreError("recipient", "restore", "update failed", MapError(err))
	}
	return changed(result)
}

// MarkDelivered implements store.RecipientStore.MarkDelivered.
func (s *RecipientStore) MarkDelivered(ctx context.Context, id uuid.UUID, at time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE recipients SET last_delivered_at = ? WHERE id = ?`, toMicros(at), id.String())
	if err != nil {
		return store.NewStoreError("recipient", "mark_delivered", "update failed", MapError(err))
	}
	return checkRowsAffected(result, store.ErrRecipientNotFound)
}

// Stats implements store.RecipientStore.Stats.
func (s *RecipientStore) Stats(ctx context.Context) (*store.RecipientStats, error) {
	stats := &store.RecipientStats{ByCadence: make(map[domain.Cadence]int)}

	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(active), 0) FROM recipients`,
	).Scan(&stats.Total, &stats.Active)
	if err != nil {
		return nil, store.NewStoreError("recipient", "stats", "count failed", MapError(err))
	}

	query, args, err := builder.Select("cadence", "COUNT(*)").From("recipients").GroupBy("cadence").ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build cadence query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, store.NewStoreError("recipient", "stats", "cadence query failed", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var cadence string
		var n int
		if err := rows.Scan(&cadence, &n); err != nil {
			return nil, store.NewStoreError("recipient", "stats", "scan failed", err)
		}
		stats.ByCadence[domain.Cadence(cadence)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, store.NewStoreError("recipient", "stats", "iteration failed", MapError(err))
	}
	return stats, nil
}

func scanRecipient(row rowScanner) (*domain.Recipient, error) {
	var (
		r             domain.Recipient
		id            string
		displayName   sql.NullString
		categories    string
		cadence       string
		nextDelivery  sql.NullInt64
		lastDelivered sql.NullInt64
		createdAt     int64
		updatedAt     int64
	)
	err := row.Scan(&id, &r.ContactAddress, &displayName, &categories, &cadence,
		&nextDelivery, &lastDelivered, &r.Active, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	if r.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("invalid recipient id %q: %w", id, err)
	}
	if err := json.Unmarshal([]byte(categories), &r.Categories); err != nil {
		return nil, fmt.Errorf("invalid categories for recipient %s: %w", id, err)
	}
	r.DisplayName = displayName.String
	r.Cadence = domain.Cadence(cadence)
	r.NextDeliveryAt = timePtr(nextDelivery)
	r.LastDeliveredAt = timePtr(lastDelivered)
	r.CreatedAt = fromMicros(createdAt)
	r.UpdatedAt = fromMicros(updatedAt)
	return &r, nil
}
