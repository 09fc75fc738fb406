package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/research-digest/internal/config"
	"github.com/phrazzld/research-digest/internal/domain"
	"github.com/phrazzld/research-digest/internal/platform/logger"
	"github.com/phrazzld/research-digest/internal/platform/mail"
	"github.com/phrazzld/research-digest/internal/service"
	"github.com/phrazzld/research-digest/internal/service/auth"
)

const testFeed = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom" xmlns:arxiv="http://arxiv.org/schemas/atom">
  <title>ArXiv Query</title>
  <entry>
    <id>http://arxiv.org/abs/2403.01234v2</id>
    <published>2024-03-09T17:59:59Z</published>
    <title>Scaling Laws for Sparse Retrieval</title>
    <summary>We study how retrieval quality scales with index size.

Further results follow.</summary>
    <author><name>Ada Lovelace</name></author>
    <arxiv:primary_category term="cs.IR" scheme="http://arxiv.org/schemas/atom"/>
    <category term="cs.IR" scheme="http://arxiv.org/schemas/atom"/>
  </entry>
  <entry>
    <id>http://arxiv.org/abs/2403.05678v1</id>
    <published>2024-03-08T08:30:00Z</published>
    <title>Dense Passage Ranking Revisited</title>
    <summary>Ranking dense passages again.</summary>
    <author><name>Alan Turing</name></author>
    <arxiv:primary_category term="cs.IR" scheme="http://arxiv.org/schemas/atom"/>
  </entry>
</feed>`

const testOperatorToken = "operator-token-for-tests"

// newFeedServer serves testFeed for every query.
func newFeedServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "research-digest-test", r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "application/atom+xml")
		_, _ = w.Write([]byte(testFeed))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(apiURL string) *config.Config {
	return &config.Config{
		Server:   config.ServerConfig{Port: 8080, LogLevel: "debug"},
		Database: config.DatabaseConfig{Driver: driverSQLite, URL: ":memory:", MaxOpenConns: 1},
		Auth: config.AuthConfig{
			UnsubscribeSecret:   strings.Repeat("k", 32),
			UnsubscribeTokenTTL: time.Hour,
		},
		LLM: config.LLMConfig{
			Provider:            "extractive",
			ModelName:           "unused",
			EmbeddingModel:      "unused",
			EmbeddingDimensions: 16,
			MaxSynopsisWords:    12,
			Timeout:             5 * time.Second,
		},
		Arxiv: config.ArxivConfig{
			APIURL:         apiURL,
			UserAgent:      "research-digest-test",
			Categories:     []string{"cs.IR"},
			PageSize:       10,
			MaxPages:       1,
			MaxRetries:     1,
			RequestTimeout: 5 * time.Second,
			Concurrency:    1,
		},
		Mail: config.MailConfig{
			Transport:   "log",
			SMTPPort:    587,
			FromAddress: "digest@example.org",
			BaseURL:     "https://digest.example.org",
			SendTimeout: 5 * time.Second,
		},
		Digest: config.DigestConfig{
			PollInterval:     time.Minute,
			ClaimBatchSize:   10,
			ItemsPerDigest:   5,
			WorkerCount:      1,
			QueueSize:        10,
			MaxAttempts:      1,
			StaleDeliveryAge: 30 * time.Minute,
			RecoveryInterval: 5 * time.Minute,
		},
		Schedule: config.ScheduleConfig{
			FetchCron:           "0 */3 * * *",
			BackfillCron:        "30 * * * *",
			BackfillBatchSize:   10,
			BackfillMaxTries:    3,
			BackfillConcurrency: 1,
		},
	}
}

func newTestApp(t *testing.T, cfg *config.Config) *application {
	t.Helper()
	log, _ := logger.GetTestLogger(t)
	ctx := context.Background()

	db, err := setupAppDatabase(ctx, cfg.Database, log)
	require.NoError(t, err)

	app, err := newApplication(ctx, cfg, log, db)
	if err != nil {
		_ = db.Close()
		require.NoError(t, err)
	}
	t.Cleanup(app.cleanup)
	return app
}

func withOperator(t *testing.T, cfg *config.Config) *config.Config {
	t.Helper()
	hash, err := auth.HashOperatorToken(testOperatorToken)
	require.NoError(t, err)
	cfg.Auth.OperatorTokenHash = hash
	return cfg
}

func request(t *testing.T, h http.Handler, method, target, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestTestConfigIsValid(t *testing.T) {
	t.Parallel()
	require.NoError(t, config.Validate(testConfig("http://127.0.0.1:1/api/query")))
}

func TestHealth(t *testing.T) {
	t.Parallel()
	app := newTestApp(t, testConfig("http://127.0.0.1:1/api/query"))

	rec := request(t, app.setupRouter(), http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestRecipientRoutes(t *testing.T) {
	t.Parallel()
	app := newTestApp(t, testConfig("http://127.0.0.1:1/api/query"))
	router := app.setupRouter()

	rec := request(t, router, http.MethodGet, "/api/categories", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = request(t, router, http.MethodPost, "/api/recipients",
		`{"email":"ada@example.org","name":"Ada","categories":["cs.IR","cs.AI"]}`, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var registered struct {
		ID          string `json:"id"`
		Frequency   string `json:"frequency"`
		ManageToken string `json:"manage_token"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&registered))
	assert.Equal(t, "DAILY", registered.Frequency)
	require.NotEmpty(t, registered.ManageToken)

	rec = request(t, router, http.MethodPut, "/api/recipients/"+registered.ID,
		`{"frequency":"weekly"}`, registered.ManageToken)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"frequency":"WEEKLY"`)

	rec = request(t, router, http.MethodPut, "/api/recipients/"+registered.ID, `{"frequency":"weekly"}`, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Registering the same address again updates it.
	rec = request(t, router, http.MethodPost, "/api/recipients",
		`{"email":"ada@example.org","categories":["cs.LG"]}`, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"created":false`)
	assert.Contains(t, rec.Body.String(), `"name":"Ada"`)

	rec = request(t, router, http.MethodPost, "/api/recipients",
		`{"email":"grace@example.org","categories":["nope.XX"]}`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminRoutesDisabledWithoutHash(t *testing.T) {
	t.Parallel()
	app := newTestApp(t, testConfig("http://127.0.0.1:1/api/query"))

	rec := request(t, app.setupRouter(), http.MethodPost, "/api/admin/trigger/dispatch", "", testOperatorToken)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAdminTriggerFetchRunsOnRunner(t *testing.T) {
	t.Parallel()
	feed := newFeedServer(t)
	app := newTestApp(t, withOperator(t, testConfig(feed.URL)))
	router := app.setupRouter()

	rec := request(t, router, http.MethodPost, "/api/admin/trigger/fetch", "", "wrong-token-value")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	require.NoError(t, app.startTaskRunner())
	rec = request(t, router, http.MethodPost, "/api/admin/trigger/fetch", "", testOperatorToken)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	// Stop drains the queued fetch.
	app.taskRunner.Stop()

	rec = request(t, router, http.MethodGet, "/api/admin/stats", "", testOperatorToken)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats service.Stats
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&stats))
	assert.Equal(t, 2, stats.Content.Total)
	assert.Zero(t, stats.Content.Summarized)
}

func TestDigestEndToEnd(t *testing.T) {
	t.Parallel()
	feed := newFeedServer(t)
	app := newTestApp(t, testConfig(feed.URL))
	ctx := context.Background()

	report, err := app.runFetch(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Totals.Inserted)

	// Storing the same feed again is a no-op.
	report, err = app.runFetch(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Totals.Inserted)
	assert.Equal(t, 2, report.Totals.Skipped)

	backfill, err := app.runBackfill(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, backfill.Summarized)

	r, created, err := app.recipientService.Register(ctx, service.Registration{
		ContactAddress: "ada@example.org",
		Categories:     []string{"cs.IR"},
	})
	require.NoError(t, err)
	require.True(t, created)

	// Make the recipient due.
	past := time.Now().Add(-time.Hour).UTC()
	r.NextDeliveryAt = &past
	require.NoError(t, app.recipientStore.Update(ctx, r))

	require.NoError(t, app.startTaskRunner())
	poll, err := app.runDispatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, poll.Claimed)
	assert.Equal(t, 1, poll.Submitted)

	// A second poll finds nothing due.
	poll, err = app.runDispatch(ctx)
	require.NoError(t, err)
	assert.Zero(t, poll.Claimed)

	app.taskRunner.Stop()

	sent := app.mailer.(*mail.LogMailer).Sent()
	require.Len(t, sent, 1)
	msg := sent[0]
	assert.Equal(t, "ada@example.org", msg.To)
	assert.True(t, strings.HasPrefix(msg.Subject, "Your Research Digest - "))
	assert.Contains(t, msg.HTML, "Scaling Laws for Sparse Retrieval")
	assert.Contains(t, msg.HTML, "Dense Passage Ranking Revisited")

	counts, err := app.deliveryStore.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[domain.DeliverySent])

	stored, err := app.recipientStore.GetByID(ctx, r.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.LastDeliveredAt)
	require.NotNil(t, stored.NextDeliveryAt)
	assert.True(t, stored.NextDeliveryAt.After(time.Now()))

	// Follow the unsubscribe link from the email.
	m := regexp.MustCompile(`https://digest\.example\.org(/unsubscribe\?token=[A-Za-z0-9_.\-]+)`).FindStringSubmatch(msg.HTML)
	require.Len(t, m, 2, "unsubscribe link in digest")
	rec := request(t, app.setupRouter(), http.MethodGet, m[1], "", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	stored, err = app.recipientStore.GetByID(ctx, r.ID)
	require.NoError(t, err)
	assert.False(t, stored.Active)
}
