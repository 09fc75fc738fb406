package domain

import (
	"fmt"
	"net/mail"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Recipient is a subscriber to periodic digests.
//
// NextDeliveryAt is nil only for recipients that have never been scheduled;
// such recipients are never due. Inactive recipients are excluded from
// dispatch regardless of NextDeliveryAt.
type Recipient struct {
	ID              uuid.UUID  `json:"id"`
	ContactAddress  string     `json:"contact_address"`
	DisplayName     string     `json:"display_name,omitempty"`
	Categories      []string   `json:"categories"`
	Cadence         Cadence    `json:"cadence"`
	NextDeliveryAt  *time.Time `json:"next_delivery_at,omitempty"`
	LastDeliveredAt *time.Time `json:"last_delivered_at,omitempty"`
	Active          bool       `json:"active"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// NewRecipient creates an active recipient with a fresh ID. Categories are
// normalised (trimmed, deduplicated, sorted) since their order is irrelevant.
func NewRecipient(contact, displayName string, categories []string, cadence Cadence) (*Recipient, error) {
	now := time.Now().UTC()
	r := &Recipient{
		ID:             uuid.New(),
		ContactAddress: strings.TrimSpace(contact),
		DisplayName:    strings.TrimSpace(displayName),
		Categories:     NormalizeCategories(categories),
		Cadence:        cadence,
		Active:         true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// Validate checks the recipient's invariants.
func (r *Recipient) Validate() error {
	if r.ID == uuid.Nil {
		return ErrEmptyRecipientID
	}
	if r.ContactAddress == "" {
		return ErrEmptyContactAddress
	}
	if addr, err := mail.ParseAddress(r.ContactAddress); err != nil || addr.Address != r.ContactAddress {
		return ErrInvalidContactAddress
	}
	if len(r.Categories) == 0 {
		return ErrNoCategories
	}
	for _, c := range r.Categories {
		if strings.TrimSpace(c) == "" {
			return ErrEmptyCategory
		}
	}
	if !r.Cadence.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidCadence, r.Cadence)
	}
	return nil
}

// GreetingName returns the display name, or the local part of the contact
// address when no display name is set.
func (r *Recipient) GreetingName() string {
	if r.DisplayName != "" {
		return r.DisplayName
	}
	local, _, _ := strings.Cut(r.ContactAddress, "@")
	return local
}

// IsDue reports whether the recipient should receive a digest at now.
func (r *Recipient) IsDue(now time.Time) bool {
	return r.Active && r.NextDeliveryAt != nil && !r.NextDeliveryAt.After(now)
}

// NormalizeCategories trims, deduplicates and sorts a category set.
func NormalizeCategories(categories []string) []string {
	out := make([]string, 0, len(categories))
	for _, c := range categories {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		out = append(out, c)
	}
	slices.Sort(out)
	return slices.Compact(out)
}
