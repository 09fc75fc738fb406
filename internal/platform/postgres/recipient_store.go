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
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/phrazzld/research-digest/internal/domain"
	"github.com/phrazzld/research-digest/internal/platform/logger"
	"github.com/phrazzld/research-digest/internal/store"
)

// psql builds statements with PostgreSQL $n placeholders.
var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var recipientColumns = []string{
	"id", "contact_address", "display_name", "categories", "cadence",
	"next_delivery_at", "last_delivered_at", "active", "created_at", "updated_at",
}

// PostgresRecipientStore implements store.RecipientStore.
type PostgresRecipientStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresRecipientStore creates a recipient store on db, which may be a
// *sql.DB or a *sql.Tx. If logger is nil, the default logger is used.
func NewPostgresRecipientStore(db store.DBTX, logger *slog.Logger) *PostgresRecipientStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresRecipientStore{
		db:     db,
		logger: logger.With(slog.String("component", "recipient_store")),
	}
}

var _ store.RecipientStore = (*PostgresRecipientStore)(nil)

// WithTx implements store.RecipientStore.WithTx.
func (s *PostgresRecipientStore) WithTx(tx *sql.Tx) store.RecipientStore {
	return &PostgresRecipientStore{db: tx, logger: s.logger}
}

// Create implements store.RecipientStore.Create.
func (s *PostgresRecipientStore) Create(ctx context.Context, r *domain.Recipient) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := r.Validate(); err != nil {
		return fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
	}

	query, args, err := psql.Insert("recipients").
		Columns(recipientColumns...).
		Values(r.ID, r.ContactAddress, nullString(r.DisplayName), r.Categories, string(r.Cadence),
			r.NextDeliveryAt, r.LastDeliveredAt, r.Active, r.CreatedAt, r.UpdatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build insert: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		if IsUniqueViolation(err) {
			return fmt.Errorf("%w: %w", store.ErrContactExists, err)
		}
		log.Error("failed to create recipient",
			slog.String("recipient_id", r.ID.String()),
			slog.String("error", err.Error()))
		return store.NewStoreError("recipient", "create", "insert failed", MapError(err))
	}

	log.Debug("recipient created", slog.String("recipient_id", r.ID.String()))
	return nil
}

// GetByID implements store.RecipientStore.GetByID.
func (s *PostgresRecipientStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Recipient, error) {
	return s.getOne(ctx, sq.Eq{"id": id})
}

// GetByContact implements store.RecipientStore.GetByContact.
func (s *PostgresRecipientStore) GetByContact(ctx context.Context, contact string) (*domain.Recipient, error) {
	return s.getOne(ctx, sq.Expr("lower(contact_address) = lower(?)", contact))
}

func (s *PostgresRecipientStore) getOne(ctx context.Context, pred sq.Sqlizer) (*domain.Recipient, error) {
	query, args, err := psql.Select(recipientColumns...).From("recipients").Where(pred).ToSql()
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
func (s *PostgresRecipientStore) Update(ctx context.Context, r *domain.Recipient) error {
	if err := r.Validate(); err != nil {
		return fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
	}

	r.UpdatedAt = time.Now().UTC()
	query, args, err := psql.Update("recipients").
		Set("contact_address", r.ContactAddress).
		Set("display_name", nullString(r.DisplayName)).
		Set("categories", r.Categories).
		Set("cadence", string(r.Cadence)).
		Set("next_delivery_at", r.NextDeliveryAt).
		Set("active", r.Active).
		Set("updated_at", r.UpdatedAt).
		Where(sq.Eq{"id": r.ID}).
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
	return CheckRowsAffected(result, store.ErrRecipientNotFound)
}

// SetActive implements store.RecipientStore.SetActive.
func (s *PostgresRecipientStore) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE recipients SET active = $1, updated_at = $2 WHERE id = $3`,
		active, time.Now().UTC(), id)
	if err != nil {
		return store.NewStoreError("recipient", "set_active", "update failed", MapError(err))
	}
	return CheckRowsAffected(result, store.ErrRecipientNotFound)
}

// ListDue implements store.RecipientStore.ListDue. Rows are locked with
// SKIP LOCKED, so a second poller running concurrently sees only recipients
// the first one did not claim.
func (s *PostgresRecipientStore) ListDue(ctx context.Context, now time.Time, limit int) ([]*domain.Recipient, error) {
	query, args, err := psql.Select(recipientColumns...).
		From("recipients").
		Where(sq.Eq{"active": true}).
		Where(sq.NotEq{"next_delivery_at": nil}).
		Where(sq.LtOrEq{"next_delivery_at": now.UTC()}).
		OrderBy("next_delivery_at ASC", "id ASC").
		Limit(uint64(limit)).
		Suffix("FOR UPDATE SKIP LOCKED").
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
func (s *PostgresRecipientStore) AdvanceSchedule(ctx context.Context, id uuid.UUID, observed, next time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE recipients
		SET next_delivery_at = $1, updated_at = $2
		WHERE id = $3 AND active AND next_delivery_at = $4`,
		next.UTC(), time.Now().UTC(), id, observed.UTC())
	if err != nil {
		return false, store.NewStoreError("recipient", "advance", "update failed", MapError(err))
	}
	return changed(result)
}

// RestoreSchedule implements store.RecipientStore.RestoreSchedule.
func (s *PostgresRecipientStore) RestoreSchedule(ctx context.Context, id uuid.UUID, advancedTo, restoreTo time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE recipients
		SET next_delivery_at = $1, updated_at = $2
		WHERE id = $3 AND next_delivery_at = $4`,
		restoreTo.UTC(), time.Now().UTC(), id, advancedTo.UTC())
	if err != nil {
		return false, store.NewStoreError("recipient", "restore", "update failed", MapError(err))
	}
	return changed(result)
}

// MarkDelivered implements store.RecipientStore.MarkDelivered.
func (s *PostgresRecipientStore) MarkDelivered(ctx context.Context, id uuid.UUID, at time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE recipients SET last_delivered_at = $1 WHERE id = $2`, at.UTC(), id)
	if err != nil {
		return store.NewStoreError("recipient", "mark_delivered", "update failed", MapError(err))
	}
	return CheckRowsAffected(result, store.ErrRecipientNotFound)
}

// Stats implements store.RecipientStore.Stats with aggregate queries.
func (s *PostgresRecipientStore) Stats(ctx context.Context) (*store.RecipientStats, error) {
	stats := &store.RecipientStats{ByCadence: make(map[domain.Cadence]int)}

	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COUNT(*) FILTER (WHERE active) FROM recipients`,
	).Scan(&stats.Total, &stats.Active)
	if err != nil {
		return nil, store.NewStoreError("recipient", "stats", "count failed", MapError(err))
	}

	query, args, err := psql.Select("cadence", "COUNT(*)").From("recipients").GroupBy("cadence").ToSql()
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

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecipient(row rowScanner) (*domain.Recipient, error) {
	var (
		r             domain.Recipient
		displayName   sql.NullString
		cadence       string
		nextDelivery  sql.NullTime
		lastDelivered sql.NullTime
	)
	err := row.Scan(
		&r.ID,
		&r.ContactAddress,
		&displayName,
		arrayScanner(&r.Categories),
		&cadence,
		&nextDelivery,
		&lastDelivered,
		&r.Active,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	r.DisplayName = displayName.String
	r.Cadence = domain.Cadence(cadence)
	r.NextDeliveryAt = timePtr(nextDelivery)
	r.LastDeliveredAt = timePtr(lastDelivered)
	r.CreatedAt = r.CreatedAt.UTC()
	r.UpdatedAt = r.UpdatedAt.UTC()
	return &r, nil
}

// arrayScanner decodes a PostgreSQL array column into dst. pgtype.Map keeps
// unsynchronised plan caches, so each scan gets its own map.
func arrayScanner(dst any) sql.Scanner {
	return pgtype.NewMap().SQLScanner(dst)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}
