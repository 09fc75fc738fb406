package digest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/phrazzld/research-digest/internal/domain"
	"github.com/phrazzld/research-digest/internal/platform/logger"
	"github.com/phrazzld/research-digest/internal/platform/mail"
	"github.com/phrazzld/research-digest/internal/redact"
	"github.com/phrazzld/research-digest/internal/store"
	"github.com/phrazzld/research-digest/internal/task"
)

// DefaultItemsPerDigest is the number of papers in one digest.
const DefaultItemsPerDigest = 5

// MessageRenderer builds the email for one recipient.
type MessageRenderer interface {
	Render(r *domain.Recipient, items []*domain.ContentRecord, day time.Time) (mail.Message, error)
}

// DelivererConfig tunes delivery tasks.
type DelivererConfig struct {
	ItemsPerDigest int
	SendTimeout    time.Duration
}

// Deliverer builds DeliveryTasks sharing one set of collaborators.
type Deliverer struct {
	recipients store.RecipientStore
	deliveries store.DeliveryStore
	content    store.ContentStore
	renderer   MessageRenderer
	mailer     mail.Mailer
	cfg        DelivererConfig
	now        func() time.Time
	logger     *slog.Logger
}

// NewDeliverer creates a Deliverer.
func NewDeliverer(
	recipients store.RecipientStore,
	deliveries store.DeliveryStore,
	content store.ContentStore,
	renderer MessageRenderer,
	mailer mail.Mailer,
	cfg DelivererConfig,
	log *slog.Logger,
) *Deliverer {
	if cfg.ItemsPerDigest < 1 {
		cfg.ItemsPerDigest = DefaultItemsPerDigest
	}
	return &Deliverer{
		recipients: recipients,
		deliveries: deliveries,
		content:    content,
		renderer:   renderer,
		mailer:     mailer,
		cfg:        cfg,
		now:        time.Now,
		logger:     log.With(slog.String("component", "deliverer")),
	}
}

// Task returns the task that delivers d.
func (dl *Deliverer) Task(d *domain.Delivery) *DeliveryTask {
	return &DeliveryTask{delivery: d, dl: dl}
}

// deliveryPayload is the JSON form of a delivery task.
type deliveryPayload struct {
	DeliveryID   uuid.UUID `json:"delivery_id"`
	RecipientID  uuid.UUID `json:"recipient_id"`
	ScheduledFor time.Time `json:"scheduled_for"`
	AdvancedTo   time.Time `json:"advanced_to"`
}

// DeliveryTask sends the digest for one claimed delivery. It is safe to run
// more than once for the same delivery: only the execution that moves the
// row to processing does any work.
type DeliveryTask struct {
	delivery *domain.Delivery
	dl       *Deliverer
}

func (t *DeliveryTask) ID() uuid.UUID { return t.delivery.ID }

func (t *DeliveryTask) Type() string { return task.TaskTypeDigestDelivery }

func (t *DeliveryTask) Payload() []byte {
	data, _ := json.Marshal(deliveryPayload{
		DeliveryID:   t.delivery.ID,
		RecipientID:  t.delivery.RecipientID,
		ScheduledFor: t.delivery.ScheduledFor,
		AdvancedTo:   t.delivery.AdvancedTo,
	})
	return data
}

// Execute runs one delivery attempt. A retryable error leaves the delivery
// in the retrying state for the runner's next attempt; a nil return means
// the delivery reached a final state or is owned by someone else.
func (t *DeliveryTask) Execute(ctx context.Context) error {
	dl := t.dl
	log := logger.FromContextOrDefault(ctx, dl.logger).With(
		slog.String("delivery_id", t.delivery.ID.String()),
		slog.String("recipient_id", t.delivery.RecipientID.String()),
	)

	owned, err := dl.deliveries.MarkProcessing(ctx, t.delivery.ID)
	if err != nil {
		return asTransient(fmt.Errorf("failed to mark delivery processing: %w", err))
	}
	if !owned {
		log.Debug("delivery already owned or finished, skipping")
		return nil
	}

	r, err := dl.recipients.GetByID(ctx, t.delivery.RecipientID)
	if errors.Is(err, store.ErrRecipientNotFound) {
		return t.complete(ctx, log, domain.DeliverySkipped, 0, "recipient not found")
	}
	if err != nil {
		return t.retrying(ctx, log, fmt.Errorf("failed to load recipient: %w", err))
	}
	if !r.Active {
		return t.complete(ctx, log, domain.DeliverySkipped, 0, "recipient inactive")
	}

	items, err := dl.content.ListRecentByCategories(ctx, r.Categories, dl.cfg.ItemsPerDigest)
	if err != nil {
		return t.retrying(ctx, log, fmt.Errorf("failed to select content: %w", err))
	}
	if len(items) == 0 {
		log.Info("no content for recipient categories, nothing sent")
		return t.complete(ctx, log, domain.DeliveryEmpty, 0, "")
	}

	now := dl.now().UTC()
	msg, err := dl.renderer.Render(r, items, now)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrPermanentProvider, err)
	}

	sendCtx := ctx
	if dl.cfg.SendTimeout > 0 {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(ctx, dl.cfg.SendTimeout)
		defer cancel()
	}
	if err := dl.mailer.Send(sendCtx, msg); err != nil {
		return t.retrying(ctx, log, fmt.Errorf("failed to send digest: %w", err))
	}

	if err := t.complete(ctx, log, domain.DeliverySent, len(items), ""); err != nil {
		// The mail went out; retrying would only send it again.
		log.Error("digest sent but outcome not recorded", slog.String("error", err.Error()))
		return nil
	}
	if err := dl.recipients.MarkDelivered(ctx, r.ID, now); err != nil {
		log.Error("failed to record last delivery time", slog.String("error", err.Error()))
	}
	log.Info("digest sent", slog.Int("items", len(items)))
	return nil
}

// OnFailure records the final failure. A delivery that ran out of attempts
// on transient errors has its schedule unrolled so the next poll claims the
// recipient again; a permanent failure leaves the schedule advanced.
func (t *DeliveryTask) OnFailure(ctx context.Context, err error) {
	dl := t.dl
	log := logger.FromContextOrDefault(ctx, dl.logger).With(
		slog.String("delivery_id", t.delivery.ID.String()),
		slog.String("recipient_id", t.delivery.RecipientID.String()),
	)

	if cerr := dl.deliveries.Complete(ctx, t.delivery.ID, domain.DeliveryFailed, 0, redact.Error(err)); cerr != nil {
		log.Error("failed to record delivery failure", slog.String("error", cerr.Error()))
	}

	if !domain.IsRetryable(err) {
		log.Error("digest delivery failed permanently, operator action required",
			slog.String("error", redact.Error(err)))
		return
	}

	restored, rerr := dl.recipients.RestoreSchedule(ctx, t.delivery.RecipientID, t.delivery.AdvancedTo, t.delivery.ScheduledFor)
	switch {
	case rerr != nil:
		log.Error("failed to unroll schedule", slog.String("error", rerr.Error()))
	case restored:
		log.Warn("digest delivery exhausted retries, schedule unrolled",
			slog.Time("next_delivery_at", t.delivery.ScheduledFor),
			slog.String("error", redact.Error(err)))
	default:
		log.Warn("digest delivery exhausted retries, schedule changed since claim and was kept",
			slog.String("error", redact.Error(err)))
	}
}

func (t *DeliveryTask) complete(ctx context.Context, log *slog.Logger, status domain.DeliveryStatus, items int, note string) error {
	if err := t.dl.deliveries.Complete(ctx, t.delivery.ID, status, items, note); err != nil {
		log.Error("failed to complete delivery",
			slog.String("status", string(status)),
			slog.String("error", err.Error()))
		return fmt.Errorf("failed to complete delivery: %w", err)
	}
	log.Debug("delivery completed", slog.String("status", string(status)))
	return nil
}

// retrying records a failure so that the next attempt can claim the
// delivery again. Permanent and validation errors are returned unchanged;
// anything else is returned as retryable.
func (t *DeliveryTask) retrying(ctx context.Context, log *slog.Logger, cause error) error {
	if isPermanent(cause) {
		return cause
	}
	cause = asTransient(cause)
	if err := t.dl.deliveries.MarkRetrying(ctx, t.delivery.ID, redact.Error(cause)); err != nil {
		log.Error("failed to mark delivery retrying", slog.String("error", err.Error()))
	}
	return cause
}

func isPermanent(err error) bool {
	return errors.Is(err, domain.ErrPermanentProvider) || errors.Is(err, domain.ErrValidation)
}

// asTransient marks unclassified errors, such as a dropped database
// connection, as transient.
func asTransient(err error) error {
	if isPermanent(err) || domain.IsRetryable(err) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrTransientExternal, err)
}

var (
	_ task.Task           = (*DeliveryTask)(nil)
	_ task.FailureHandler = (*DeliveryTask)(nil)
)
