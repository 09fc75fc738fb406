package mail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/phrazzld/research-digest/internal/domain"
	"github.com/phrazzld/research-digest/internal/platform/logger"
	"github.com/phrazzld/research-digest/internal/redact"
)

// ErrInvalidMessage is returned for messages that cannot be sent as built.
var ErrInvalidMessage = fmt.Errorf("%w: invalid mail message", domain.ErrValidation)

// Message is one HTML email.
type Message struct {
	To      string
	Subject string
	HTML    string
}

// Validate checks that the message has a recipient and a body.
func (m Message) Validate() error {
	switch {
	case strings.TrimSpace(m.To) == "":
		return fmt.Errorf("%w: missing recipient", ErrInvalidMessage)
	case strings.TrimSpace(m.Subject) == "":
		return fmt.Errorf("%w: missing subject", ErrInvalidMessage)
	case strings.TrimSpace(m.HTML) == "":
		return fmt.Errorf("%w: empty body", ErrInvalidMessage)
	}
	return nil
}

// Mailer sends messages. Errors wrap domain.ErrTransientExternal when a
// later attempt may succeed and domain.ErrPermanentProvider otherwise.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// LogMailer logs messages instead of sending them and keeps the most recent
// ones in memory.
type LogMailer struct {
	logger *slog.Logger

	mu   sync.Mutex
	sent []Message
	keep int
}

// NewLogMailer creates a LogMailer retaining up to keep messages.
func NewLogMailer(log *slog.Logger, keep int) *LogMailer {
	return &LogMailer{
		logger: log.With(slog.String("component", "log_mailer")),
		keep:   keep,
	}
}

// Send logs msg.
func (m *LogMailer) Send(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return errors.Join(domain.ErrTransientExternal, err)
	}

	logger.FromContextOrDefault(ctx, m.logger).Info("digest email (not sent)",
		slog.String("to", redact.Email(msg.To)),
		slog.String("subject", msg.Subject),
		slog.Int("html_bytes", len(msg.HTML)))

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.keep > 0 {
		m.sent = append(m.sent, msg)
		if len(m.sent) > m.keep {
			m.sent = m.sent[len(m.sent)-m.keep:]
		}
	}
	return nil
}

// Sent returns the retained messages, oldest first.
func (m *LogMailer) Sent() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.sent...)
}
