package digest

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/research-digest/internal/domain"
	"github.com/phrazzld/research-digest/internal/domain/schedule"
	"github.com/phrazzld/research-digest/internal/platform/logger"
	"github.com/phrazzld/research-digest/internal/platform/mail"
	"github.com/phrazzld/research-digest/internal/platform/sqlite"
	"github.com/phrazzld/research-digest/internal/task"
)

// fixture wires the dispatcher and deliverer to an in-memory database.
type fixture struct {
	db         *sql.DB
	recipients *sqlite.RecipientStore
	deliveries *sqlite.DeliveryStore
	content    *sqlite.ContentStore
	mailer     *mockMailer
	runner     *recordingSubmitter
	deliverer  *Deliverer
	dispatcher *Dispatcher
	now        time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log, _ := logger.GetTestLogger(t)

	db, err := sqlite.Open(context.Background(), ":memory:", log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	f := &fixture{
		db:         db,
		recipients: sqlite.NewRecipientStore(db, log),
		deliveries: sqlite.NewDeliveryStore(db, log),
		content:    sqlite.NewContentStore(db, log),
		mailer:     &mockMailer{},
		runner:     &recordingSubmitter{},
		now:        time.Date(2024, 3, 10, 9, 15, 0, 0, time.UTC),
	}

	renderer, err := NewRenderer(staticTokens{}, "https://digest.example.org")
	require.NoError(t, err)

	f.deliverer = NewDeliverer(f.recipients, f.deliveries, f.content, renderer, f.mailer,
		DelivererConfig{ItemsPerDigest: DefaultItemsPerDigest, SendTimeout: time.Second}, log)
	f.deliverer.now = func() time.Time { return f.now }

	f.dispatcher = NewDispatcher(db, f.recipients, f.deliveries, schedule.NewCalculator(), f.deliverer, f.runner,
		DispatcherConfig{ClaimBatchSize: 10, StaleDeliveryAge: 10 * time.Minute}, log)
	f.dispatcher.now = func() time.Time { return f.now }
	return f
}

// addRecipient stores an active daily recipient due at next.
func (f *fixture) addRecipient(t *testing.T, contact string, next time.Time, categories ...string) *domain.Recipient {
	t.Helper()
	if len(categories) == 0 {
		categories = []string{"cs.AI"}
	}
	r, err := domain.NewRecipient(contact, "", categories, domain.CadenceDaily)
	require.NoError(t, err)
	r.NextDeliveryAt = &next
	require.NoError(t, f.recipients.Create(context.Background(), r))
	return r
}

func (f *fixture) addContent(t *testing.T, id, category string, published time.Time) {
	t.Helper()
	_, err := f.content.Store(context.Background(), []domain.ContentCandidate{{
		ExternalID:  id,
		Title:       "Paper " + id,
		Authors:     "A. Author, B. Author",
		FullText:    "Abstract of " + id,
		Category:    category,
		PublishedAt: &published,
	}})
	require.NoError(t, err)
}

func (f *fixture) recipient(t *testing.T, id uuid.UUID) *domain.Recipient {
	t.Helper()
	r, err := f.recipients.GetByID(context.Background(), id)
	require.NoError(t, err)
	return r
}

func (f *fixture) delivery(t *testing.T, id uuid.UUID) *domain.Delivery {
	t.Helper()
	d, err := f.deliveries.Get(context.Background(), id)
	require.NoError(t, err)
	return d
}

type staticTokens struct{}

func (staticTokens) IssueUnsubscribeToken(id uuid.UUID) (string, error) {
	return "tok-" + id.String(), nil
}

// mockMailer records messages; SendFn overrides the outcome.
type mockMailer struct {
	mu     sync.Mutex
	SendFn func(ctx context.Context, msg mail.Message) error
	sent   []mail.Message
	calls  int
}

func (m *mockMailer) Send(ctx context.Context, msg mail.Message) error {
	m.mu.Lock()
	m.calls++
	fn := m.SendFn
	m.mu.Unlock()

	if fn != nil {
		if err := fn(ctx, msg); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return nil
}

func (m *mockMailer) Sent() []mail.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mail.Message(nil), m.sent...)
}

func (m *mockMailer) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// recordingSubmitter collects tasks instead of running them.
type recordingSubmitter struct {
	mu    sync.Mutex
	err   error
	tasks []task.Task
}

func (s *recordingSubmitter) Submit(_ context.Context, t task.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.tasks = append(s.tasks, t)
	return nil
}

func (s *recordingSubmitter) Tasks() []task.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]task.Task(nil), s.tasks...)
}

func (s *recordingSubmitter) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}
