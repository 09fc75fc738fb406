package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/phrazzld/research-digest/internal/domain"
)

// DeliveryStore persists the delivery log. A pending row is written in the
// same transaction that advances a recipient's schedule, so a claimed
// recipient can always be found again after a crash.
type DeliveryStore interface {
	// Create inserts a new delivery.
	Create(ctx context.Context, d *domain.Delivery) error

	// Get retrieves a delivery by ID.
	// Returns ErrDeliveryNotFound if it does not exist.
	Get(ctx context.Context, id uuid.UUID) (*domain.Delivery, error)

	// MarkProcessing moves a pending or retrying delivery to processing and
	// increments its attempt counter. It reports false when the delivery is
	// owned by another worker or already final.
	MarkProcessing(ctx context.Context, id uuid.UUID) (bool, error)

	// MarkRetrying records a transient failure on a processing delivery.
	MarkRetrying(ctx context.Context, id uuid.UUID, errMsg string) error

	// Complete moves a delivery to a final status.
	Complete(ctx context.Context, id uuid.UUID, status domain.DeliveryStatus, itemCount int, errMsg string) error

	// ListStale returns non-final deliveries not updated since before cutoff.
	ListStale(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Delivery, error)

	// Requeue resets a stale non-final delivery to pending and touches it so
	// concurrent sweeps do not pick it up twice. It reports whether a row
	// changed.
	Requeue(ctx context.Context, id uuid.UUID, cutoff time.Time) (bool, error)

	// ListByRecipient returns the most recent deliveries for a recipient.
	ListByRecipient(ctx context.Context, recipientID uuid.UUID, limit int) ([]*domain.Delivery, error)

	// CountByStatus returns the number of deliveries per status.
	CountByStatus(ctx context.Context) (map[domain.DeliveryStatus]int, error)

	// WithTx returns a DeliveryStore that runs its queries on tx.
	WithTx(tx *sql.Tx) DeliveryStore
}
