package mail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/textproto"
	"time"

	gomail "github.com/wneessen/go-mail"

	"github.com/phrazzld/research-digest/internal/config"
	"github.com/phrazzld/research-digest/internal/domain"
	"github.com/phrazzld/research-digest/internal/platform/logger"
	"github.com/phrazzld/research-digest/internal/redact"
)

// SMTPMailer sends messages through an SMTP relay. A connection is opened
// per message, so one mailer can be shared by all delivery workers.
type SMTPMailer struct {
	host     string
	options  []gomail.Option
	fromName string
	fromAddr string
	timeout  time.Duration
	logger   *slog.Logger
}

// NewSMTPMailer creates a mailer for the relay described by cfg. STARTTLS
// is used when the relay offers it, and PLAIN auth when a username is set.
func NewSMTPMailer(cfg config.MailConfig, log *slog.Logger) (*SMTPMailer, error) {
	if cfg.SMTPHost == "" {
		return nil, fmt.Errorf("%w: smtp host is required", domain.ErrValidation)
	}
	if cfg.FromAddress == "" {
		return nil, fmt.Errorf("%w: from address is required", domain.ErrValidation)
	}

	options := []gomail.Option{
		gomail.WithTLSPortPolicy(gomail.TLSOpportunistic),
		// after the TLS policy, which would otherwise pick its own port
		gomail.WithPort(cfg.SMTPPort),
	}
	if cfg.SendTimeout > 0 {
		options = append(options, gomail.WithTimeout(cfg.SendTimeout))
	}
	if cfg.Username != "" {
		options = append(options,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(cfg.Username),
			gomail.WithPassword(cfg.Password),
		)
	}

	// Fail at startup, not on the first digest, if the options are invalid.
	if _, err := gomail.NewClient(cfg.SMTPHost, options...); err != nil {
		return nil, fmt.Errorf("%w: invalid smtp settings: %w", domain.ErrValidation, err)
	}

	return &SMTPMailer{
		host:     cfg.SMTPHost,
		options:  options,
		fromName: cfg.FromName,
		fromAddr: cfg.FromAddress,
		timeout:  cfg.SendTimeout,
		logger:   log.With(slog.String("component", "smtp_mailer")),
	}, nil
}

// Send delivers msg, bounded by the configured send timeout.
func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	log := logger.FromContextOrDefault(ctx, m.logger).With(slog.String("to", redact.Email(msg.To)))

	if err := msg.Validate(); err != nil {
		return err
	}

	envelope := gomail.NewMsg()
	if err := envelope.FromFormat(m.fromName, m.fromAddr); err != nil {
		return fmt.Errorf("%w: invalid from address: %w", domain.ErrPermanentProvider, err)
	}
	if err := envelope.To(msg.To); err != nil {
		return fmt.Errorf("%w: invalid recipient address: %w", ErrInvalidMessage, err)
	}
	envelope.Subject(msg.Subject)
	envelope.SetBodyString(gomail.TypeTextHTML, msg.HTML)

	client, err := gomail.NewClient(m.host, m.options...)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrPermanentProvider, err)
	}

	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	start := time.Now()
	if err := client.DialAndSendWithContext(ctx, envelope); err != nil {
		classified := classifySendError(ctx, err)
		log.Warn("smtp send failed",
			slog.String("error", redact.Error(err)),
			slog.Bool("retryable", domain.IsRetryable(classified)))
		return classified
	}

	log.Debug("smtp send succeeded", slog.Duration("duration", time.Since(start)))
	return nil
}

// classifySendError maps relay failures onto the domain error classes: 4xx
// replies, timeouts and network errors are transient; 5xx replies (bad
// credentials, rejected address) are permanent.
func classifySendError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %w: %w", domain.ErrTransientExternal, ctxErr, err)
	}

	var sendErr *gomail.SendError
	if errors.As(err, &sendErr) {
		if sendErr.IsTemp() {
			return fmt.Errorf("%w: %w", domain.ErrTransientExternal, err)
		}
		return fmt.Errorf("%w: %w", domain.ErrPermanentProvider, err)
	}

	var protoErr *textproto.Error
	if errors.As(err, &protoErr) {
		if protoErr.Code >= 500 {
			return fmt.Errorf("%w: %w", domain.ErrPermanentProvider, err)
		}
		return fmt.Errorf("%w: %w", domain.ErrTransientExternal, err)
	}

	// dial failures and dropped connections
	return fmt.Errorf("%w: %w", domain.ErrTransientExternal, err)
}
