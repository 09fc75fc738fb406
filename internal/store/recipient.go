package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/phrazzld/research-digest/internal/domain"
)

// RecipientStats are aggregate subscription counts computed by the database.
type RecipientStats struct {
	Total     int                    `json:"total"`
	Active    int                    `json:"active"`
	ByCadence map[domain.Cadence]int `json:"by_cadence"`
}

// RecipientStore defines the interface for recipient persistence.
type RecipientStore interface {
	// Create saves a new recipient.
	// Returns ErrContactExists if the contact address is taken.
	Create(ctx context.Context, r *domain.Recipient) error

	// GetByID retrieves a recipient by ID.
	// Returns ErrRecipientNotFound if the recipient does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Recipient, error)

	// GetByContact retrieves a recipient by contact address.
	// Returns ErrRecipientNotFound if the recipient does not exist.
	GetByContact(ctx context.Context, contact string) (*domain.Recipient, error)

	// Update overwrites the mutable subscription fields of r.
	// Returns ErrRecipientNotFound if the recipient does not exist.
	Update(ctx context.Context, r *domain.Recipient) error

	// SetActive flips the active flag.
	// Returns ErrRecipientNotFound if the recipient does not exist.
	SetActive(ctx context.Context, id uuid.UUID, active bool) error

	// ListDue returns at most limit active recipients whose next delivery is
	// at or before now, oldest first. Inside a transaction implementations
	// lock the returned rows so concurrent pollers claim disjoint sets.
	ListDue(ctx context.Context, now time.Time, limit int) ([]*domain.Recipient, error)

	// AdvanceSchedule sets next_delivery_at to next only if it still equals
	// observed and the recipient is active. It reports whether a row changed.
	AdvanceSchedule(ctx context.Context, id uuid.UUID, observed, next time.Time) (bool, error)

	// RestoreSchedule sets next_delivery_at back to restoreTo only if it still
	// equals advancedTo. It reports whether a row changed.
	RestoreSchedule(ctx context.Context, id uuid.UUID, advancedTo, restoreTo time.Time) (bool, error)

	// MarkDelivered records the time of the last successful send.
	MarkDelivered(ctx context.Context, id uuid.UUID, at time.Time) error

	// Stats returns aggregate counts.
	Stats(ctx context.Context) (*RecipientStats, error)

	// WithTx returns a RecipientStore that runs its queries on tx.
	WithTx(tx *sql.Tx) RecipientStore
}
