package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DeliveryStatus is the outcome state of one digest delivery.
type DeliveryStatus string

const (
	// DeliveryPending is written in the same transaction that claims the
	// recipient and advances its schedule.
	DeliveryPending DeliveryStatus = "pending"
	// DeliveryProcessing is held by exactly one worker at a time.
	DeliveryProcessing DeliveryStatus = "processing"
	// DeliveryRetrying marks a transient failure awaiting another attempt.
	DeliveryRetrying DeliveryStatus = "retrying"
	DeliverySent     DeliveryStatus = "sent"
	// DeliveryEmpty means no content matched; nothing was sent.
	DeliveryEmpty DeliveryStatus = "empty"
	// DeliverySkipped means the recipient was inactive when the job ran.
	DeliverySkipped DeliveryStatus = "skipped"
	DeliveryFailed  DeliveryStatus = "failed"
)

// IsFinal reports whether no further processing will happen for the status.
func (s DeliveryStatus) IsFinal() bool {
	switch s {
	case DeliverySent, DeliveryEmpty, DeliverySkipped, DeliveryFailed:
		return true
	}
	return false
}

// IsValid reports whether s is a known status.
func (s DeliveryStatus) IsValid() bool {
	switch s {
	case DeliveryPending, DeliveryProcessing, DeliveryRetrying,
		DeliverySent, DeliveryEmpty, DeliverySkipped, DeliveryFailed:
		return true
	}
	return false
}

// Delivery is one claimed digest for one recipient. ScheduledFor is the
// next_delivery_at value observed at claim time and AdvancedTo the value the
// claim wrote, which lets a failed delivery unroll the schedule.
type Delivery struct {
	ID           uuid.UUID      `json:"id"`
	RecipientID  uuid.UUID      `json:"recipient_id"`
	Status       DeliveryStatus `json:"status"`
	ScheduledFor time.Time      `json:"scheduled_for"`
	AdvancedTo   time.Time      `json:"advanced_to"`
	Attempts     int            `json:"attempts"`
	ItemCount    int            `json:"item_count"`
	LastError    string         `json:"last_error,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
}

// NewDelivery creates a pending delivery for a freshly claimed recipient.
func NewDelivery(recipientID uuid.UUID, scheduledFor, advancedTo time.Time) (*Delivery, error) {
	if recipientID == uuid.Nil {
		return nil, ErrEmptyRecipientID
	}
	if !advancedTo.After(scheduledFor) {
		return nil, fmt.Errorf("%w: advanced_to must be after scheduled_for", ErrValidation)
	}
	now := time.Now().UTC()
	return &Delivery{
		ID:           uuid.New(),
		RecipientID:  recipientID,
		Status:       DeliveryPending,
		ScheduledFor: scheduledFor.UTC(),
		AdvancedTo:   advancedTo.UTC(),
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}
