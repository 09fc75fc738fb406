package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/phrazzld/research-digest/internal/domain"
)

// RegisterRequest is the payload of POST /api/recipients.
type RegisterRequest struct {
	Email      string   `json:"email"      validate:"required,email,max=254"`
	Name       string   `json:"name"       validate:"max=100"`
	Categories []string `json:"categories" validate:"required,min=1,max=50,dive,required,max=32"`
	// Frequency is DAILY, WEEKLY or MONTHLY in any case; empty means DAILY.
	Frequency string `json:"frequency" validate:"omitempty,max=16"`
}

// UpdatePreferencesRequest is the payload of PUT /api/recipients/{id}.
// Omitted fields are left unchanged.
type UpdatePreferencesRequest struct {
	Name       *string  `json:"name"       validate:"omitempty,max=100"`
	Categories []string `json:"categories" validate:"omitempty,min=1,max=50,dive,required,max=32"`
	Frequency  *string  `json:"frequency"  validate:"omitempty,max=16"`
}

// RecipientResponse is the public view of a recipient.
type RecipientResponse struct {
	ID              uuid.UUID  `json:"id"`
	Email           string     `json:"email"`
	Name            string     `json:"name,omitempty"`
	Categories      []string   `json:"categories"`
	Frequency       string     `json:"frequency"`
	NextDeliveryAt  *time.Time `json:"next_delivery_at,omitempty"`
	LastDeliveredAt *time.Time `json:"last_delivered_at,omitempty"`
	Active          bool       `json:"active"`
}

// RegisterResponse is returned by registration. ManageToken authorises
// later preference updates.
type RegisterResponse struct {
	RecipientResponse
	Created     bool   `json:"created"`
	ManageToken string `json:"manage_token"`
}

// MessageResponse carries a human-readable confirmation.
type MessageResponse struct {
	Message string `json:"message"`
}

// TriggerResponse acknowledges an accepted background job.
type TriggerResponse struct {
	EventID uuid.UUID `json:"event_id"`
	Type    string    `json:"type"`
}

func recipientToResponse(r *domain.Recipient) RecipientResponse {
	return RecipientResponse{
		ID:              r.ID,
		Email:           r.ContactAddress,
		Name:            r.DisplayName,
		Categories:      r.Categories,
		Frequency:       string(r.Cadence),
		NextDeliveryAt:  r.NextDeliveryAt,
		LastDeliveredAt: r.LastDeliveredAt,
		Active:          r.Active,
	}
}
