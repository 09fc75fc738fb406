package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/phrazzld/research-digest/internal/catalog"
	"github.com/phrazzld/research-digest/internal/domain"
	"github.com/phrazzld/research-digest/internal/domain/schedule"
	"github.com/phrazzld/research-digest/internal/platform/logger"
	"github.com/phrazzld/research-digest/internal/redact"
	"github.com/phrazzld/research-digest/internal/store"
)

// Registration is the input of RecipientService.Register.
type Registration struct {
	ContactAddress string
	DisplayName    string
	Categories     []string
	// Cadence is parsed case-insensitively; empty means DAILY.
	Cadence string
}

// PreferencesUpdate changes a recipient's subscription. Nil fields are left
// unchanged.
type PreferencesUpdate struct {
	DisplayName *string
	Categories  []string
	Cadence     *string
}

// RecipientService manages subscriptions.
type RecipientService interface {
	// Register creates a recipient, or updates and reactivates the existing
	// recipient with the same contact address. The schedule restarts from
	// now. created reports whether a new recipient was stored.
	Register(ctx context.Context, reg Registration) (r *domain.Recipient, created bool, err error)

	// Get returns a recipient by ID.
	Get(ctx context.Context, id uuid.UUID) (*domain.Recipient, error)

	// UpdatePreferences applies upd to an active recipient. The schedule is
	// recomputed from now only when the cadence changes.
	UpdatePreferences(ctx context.Context, id uuid.UUID, upd PreferencesUpdate) (*domain.Recipient, error)

	// Unsubscribe deactivates the recipient named by a signed unsubscribe
	// token. Unsubscribing twice is not an error.
	Unsubscribe(ctx context.Context, token string) (*domain.Recipient, error)
}

// UnsubscribeTokenValidator resolves unsubscribe tokens to recipients.
type UnsubscribeTokenValidator interface {
	ValidateUnsubscribeToken(ctx context.Context, token string) (uuid.UUID, error)
}

// RecipientServiceImpl implements RecipientService.
type RecipientServiceImpl struct {
	recipients store.RecipientStore
	db         *sql.DB
	catalog    *catalog.Catalog
	calendar   schedule.Calculator
	tokens     UnsubscribeTokenValidator
	now        func() time.Time
	logger     *slog.Logger
}

// NewRecipientService creates a RecipientService.
func NewRecipientService(
	recipients store.RecipientStore,
	db *sql.DB,
	cat *catalog.Catalog,
	calendar schedule.Calculator,
	tokens UnsubscribeTokenValidator,
	logger *slog.Logger,
) *RecipientServiceImpl {
	return &RecipientServiceImpl{
		recipients: recipients,
		db:         db,
		catalog:    cat,
		calendar:   calendar,
		tokens:     tokens,
		now:        time.Now,
		logger:     logger.With("component", "recipient_service"),
	}
}

var _ RecipientService = (*RecipientServiceImpl)(nil)

// Register implements RecipientService.
func (s *RecipientServiceImpl) Register(ctx context.Context, reg Registration) (*domain.Recipient, bool, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	cadence, err := domain.ParseCadence(reg.Cadence)
	if err != nil {
		return nil, false, NewRecipientServiceError("register", "invalid cadence", validation(err))
	}
	categories := domain.NormalizeCategories(reg.Categories)
	if err := s.catalog.Validate(categories); err != nil {
		return nil, false, NewRecipientServiceError("register", "invalid categories", validation(err))
	}

	candidate, err := domain.NewRecipient(reg.ContactAddress, reg.DisplayName, categories, cadence)
	if err != nil {
		return nil, false, NewRecipientServiceError("register", "invalid recipient", validation(err))
	}
	next := s.calendar.NextDelivery(cadence, s.now())
	candidate.NextDeliveryAt = &next

	var (
		result  *domain.Recipient
		created bool
	)
	err = store.RunInTransaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		txStore := s.recipients.WithTx(tx)

		existing, err := txStore.GetByContact(ctx, candidate.ContactAddress)
		if errors.Is(err, store.ErrRecipientNotFound) {
			if err := txStore.Create(ctx, candidate); err != nil {
				return err
			}
			result, created = candidate, true
			return nil
		}
		if err != nil {
			return err
		}

		if candidate.DisplayName != "" {
			existing.DisplayName = candidate.DisplayName
		}
		existing.Categories = candidate.Categories
		existing.Cadence = candidate.Cadence
		existing.NextDeliveryAt = candidate.NextDeliveryAt
		existing.Active = true
		if err := txStore.Update(ctx, existing); err != nil {
			return err
		}
		result = existing
		return nil
	})
	if err != nil {
		log.Error("failed to register recipient",
			"error", redact.Error(err),
			"contact", redact.Email(candidate.ContactAddress))
		return nil, false, NewRecipientServiceError("register", "failed to save recipient", err)
	}

	log.Info("recipient registered",
		"recipient_id", result.ID,
		"created", created,
		"cadence", result.Cadence,
		"next_delivery_at", next)
	return result, created, nil
}

// Get implements RecipientService.
func (s *RecipientServiceImpl) Get(ctx context.Context, id uuid.UUID) (*domain.Recipient, error) {
	r, err := s.recipients.GetByID(ctx, id)
	if err != nil {
		return nil, NewRecipientServiceError("get", "failed to retrieve recipient", err)
	}
	return r, nil
}

// UpdatePreferences implements RecipientService.
func (s *RecipientServiceImpl) UpdatePreferences(
	ctx context.Context,
	id uuid.UUID,
	upd PreferencesUpdate,
) (*domain.Recipient, error) {
	log := logger.FromContextOrDefault(ctx, s.logger).With("recipient_id", id)

	var cadence domain.Cadence
	if upd.Cadence != nil {
		c, err := domain.ParseCadence(*upd.Cadence)
		if err != nil {
			return nil, NewRecipientServiceError("update_preferences", "invalid cadence", validation(err))
		}
		cadence = c
	}
	var categories []string
	if upd.Categories != nil {
		categories = domain.NormalizeCategories(upd.Categories)
		if len(categories) == 0 {
			return nil, NewRecipientServiceError("update_preferences", "invalid categories", validation(domain.ErrNoCategories))
		}
		if err := s.catalog.Validate(categories); err != nil {
			return nil, NewRecipientServiceError("update_preferences", "invalid categories", validation(err))
		}
	}

	var (
		result          *domain.Recipient
		scheduleChanged bool
	)
	err := store.RunInTransaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		txStore := s.recipients.WithTx(tx)

		r, err := txStore.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if !r.Active {
			return ErrRecipientInactive
		}

		if upd.DisplayName != nil {
			r.DisplayName = *upd.DisplayName
		}
		if categories != nil {
			r.Categories = categories
		}
		if cadence != "" && cadence != r.Cadence {
			r.Cadence = cadence
			next := s.calendar.NextDelivery(cadence, s.now())
			r.NextDeliveryAt = &next
			scheduleChanged = true
		}
		if err := r.Validate(); err != nil {
			return validation(err)
		}
		if err := txStore.Update(ctx, r); err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrRecipientNotFound) || errors.Is(err, ErrRecipientInactive) ||
			errors.Is(err, domain.ErrValidation) {
			log.Debug("preferences not updated", "error", err.Error())
		} else {
			log.Error("failed to update preferences", "error", redact.Error(err))
		}
		return nil, NewRecipientServiceError("update_preferences", "failed to update recipient", err)
	}

	log.Info("preferences updated", "schedule_changed", scheduleChanged)
	return result, nil
}

// Unsubscribe implements RecipientService.
func (s *RecipientServiceImpl) Unsubscribe(ctx context.Context, token string) (*domain.Recipient, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	id, err := s.tokens.ValidateUnsubscribeToken(ctx, token)
	if err != nil {
		log.Debug("unsubscribe token rejected", "error", err.Error())
		return nil, NewRecipientServiceError("unsubscribe", "invalid unsubscribe token", err)
	}

	if err := s.recipients.SetActive(ctx, id, false); err != nil {
		return nil, NewRecipientServiceError("unsubscribe", "failed to deactivate recipient", err)
	}
	r, err := s.recipients.GetByID(ctx, id)
	if err != nil {
		return nil, NewRecipientServiceError("unsubscribe", "failed to retrieve recipient", err)
	}

	log.Info("recipient unsubscribed", "recipient_id", id)
	return r, nil
}

// validation marks err as a validation failure for the API layer.
func validation(err error) error {
	if errors.Is(err, domain.ErrValidation) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrValidation, err)
}
