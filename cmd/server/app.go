package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/phrazzld/research-digest/internal/catalog"
	"github.com/phrazzld/research-digest/internal/config"
	"github.com/phrazzld/research-digest/internal/digest"
	"github.com/phrazzld/research-digest/internal/domain/schedule"
	"github.com/phrazzld/research-digest/internal/events"
	"github.com/phrazzld/research-digest/internal/ingest"
	"github.com/phrazzld/research-digest/internal/platform/arxiv"
	"github.com/phrazzld/research-digest/internal/platform/gemini"
	"github.com/phrazzld/research-digest/internal/platform/mail"
	"github.com/phrazzld/research-digest/internal/service"
	"github.com/phrazzld/research-digest/internal/service/auth"
	"github.com/phrazzld/research-digest/internal/store"
	"github.com/phrazzld/research-digest/internal/summarize"
	"github.com/phrazzld/research-digest/internal/task"
)

// logMailerRetention is how many messages the log transport keeps in memory.
const logMailerRetention = 100

// application holds all the shared application dependencies to simplify management
// and ensure proper cleanup on shutdown.
type application struct {
	// Configuration
	config *config.Config

	// Core services
	logger *slog.Logger
	db     *sql.DB

	// Stores
	recipientStore store.RecipientStore
	contentStore   store.ContentStore
	deliveryStore  store.DeliveryStore

	// Domain services
	catalog          *catalog.Catalog
	calendar         schedule.Calculator
	tokenService     auth.TokenService
	operatorVerifier auth.OperatorVerifier
	summarizer       summarize.Summarizer
	mailer           mail.Mailer
	recipientService service.RecipientService
	statsService     *service.StatsService

	// Background work
	ingestService *ingest.Service
	backfiller    *summarize.Backfiller
	dispatcher    *digest.Dispatcher
	eventEmitter  events.EventEmitter
	taskRunner    *task.TaskRunner
}

// newApplication creates a new application instance with all dependencies initialized.
// It accepts core dependencies like configuration, logger, and database connection that
// must be established before application initialization. The task runner is
// created but not started.
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *sql.DB) (*application, error) {
	app := &application{
		config:   cfg,
		logger:   logger,
		db:       db,
		catalog:  catalog.Default(),
		calendar: schedule.NewCalculator(),
	}

	// Initialize stores
	s := newStores(cfg.Database.Driver, db, logger)
	app.recipientStore = s.recipients
	app.contentStore = s.content
	app.deliveryStore = s.deliveries

	// Initialize auth
	var err error
	app.tokenService, err = auth.NewTokenService(cfg.Auth)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize token service: %w", err)
	}
	verifier, err := auth.NewBcryptOperatorVerifier(cfg.Auth.OperatorTokenHash)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize operator verifier: %w", err)
	}
	app.operatorVerifier = verifier
	if !verifier.Enabled() {
		logger.Warn("operator token hash not configured, admin routes are disabled")
	}

	// Initialize providers
	app.summarizer, err = newSummarizer(ctx, cfg.LLM, logger)
	if err != nil {
		return nil, err
	}
	app.mailer, err = newMailer(cfg.Mail, logger)
	if err != nil {
		return nil, err
	}

	// Initialize content pipeline
	client, err := arxiv.NewClient(arxiv.Config{
		APIURL:    cfg.Arxiv.APIURL,
		UserAgent: cfg.Arxiv.UserAgent,
		Timeout:   cfg.Arxiv.RequestTimeout,
	}, nil, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create arxiv client: %w", err)
	}
	fetcher, err := ingest.NewFetcher(client, ingest.NewLimiter(cfg.Arxiv.MinInterval), ingest.FetcherConfig{
		PageSize:       cfg.Arxiv.PageSize,
		MaxPages:       cfg.Arxiv.MaxPages,
		MaxRetries:     cfg.Arxiv.MaxRetries,
		BackoffBase:    cfg.Arxiv.BackoffBase,
		RequestTimeout: cfg.Arxiv.RequestTimeout,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create fetcher: %w", err)
	}
	app.ingestService, err = ingest.NewService(fetcher, app.contentStore, cfg.Arxiv.Concurrency, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create ingest service: %w", err)
	}
	app.backfiller, err = summarize.NewBackfiller(app.contentStore, app.summarizer, summarize.BackfillConfig{
		MaxAttempts: cfg.Schedule.BackfillMaxTries,
		Concurrency: cfg.Schedule.BackfillConcurrency,
		Timeout:     cfg.LLM.Timeout,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create summary backfiller: %w", err)
	}

	// Initialize task runner. Deliveries are bounded by mail.send_timeout and
	// summaries by llm.timeout; a triggered fetch pass pages through
	// rate-limited categories and has no fixed bound, so TaskTimeout is zero.
	app.taskRunner = task.NewTaskRunner(task.TaskRunnerConfig{
		WorkerCount:    cfg.Digest.WorkerCount,
		QueueSize:      cfg.Digest.QueueSize,
		MaxAttempts:    cfg.Digest.MaxAttempts,
		RetryBaseDelay: cfg.Digest.RetryBaseDelay,
		TaskTimeout:    0,
	}, logger)

	// Initialize digest delivery
	renderer, err := digest.NewRenderer(app.tokenService, cfg.Mail.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create digest renderer: %w", err)
	}
	deliverer := digest.NewDeliverer(
		app.recipientStore,
		app.deliveryStore,
		app.contentStore,
		renderer,
		app.mailer,
		digest.DelivererConfig{
			ItemsPerDigest: cfg.Digest.ItemsPerDigest,
			SendTimeout:    cfg.Mail.SendTimeout,
		},
		logger,
	)
	app.dispatcher = digest.NewDispatcher(
		db,
		app.recipientStore,
		app.deliveryStore,
		app.calendar,
		deliverer,
		app.taskRunner,
		digest.DispatcherConfig{
			ClaimBatchSize:   cfg.Digest.ClaimBatchSize,
			StaleDeliveryAge: cfg.Digest.StaleDeliveryAge,
		},
		logger,
	)

	// Initialize API services
	app.recipientService = service.NewRecipientService(
		app.recipientStore,
		db,
		app.catalog,
		app.calendar,
		app.tokenService,
		logger,
	)
	app.statsService = service.NewStatsService(app.recipientStore, app.contentStore, app.deliveryStore, logger)

	// Wire operator triggers to the task runner
	emitter := events.NewInMemoryEventEmitter(logger)
	handler := task.NewTaskFactoryEventHandler(app.taskRunner, logger)
	app.registerTaskFactories(handler)
	emitter.RegisterHandler(handler)
	app.eventEmitter = emitter

	logger.Info("Application initialized successfully",
		"driver", cfg.Database.Driver,
		"llm_provider", cfg.LLM.Provider,
		"mail_transport", cfg.Mail.Transport)
	return app, nil
}

func newSummarizer(ctx context.Context, cfg config.LLMConfig, logger *slog.Logger) (summarize.Summarizer, error) {
	if cfg.Provider == "extractive" {
		logger.Info("using extractive summarizer")
		return summarize.NewExtractive(cfg.MaxSynopsisWords, cfg.EmbeddingDimensions), nil
	}
	s, err := gemini.NewSummarizer(ctx, logger, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LLM summarizer: %w", err)
	}
	logger.Info("LLM summarizer initialized successfully", "model", cfg.ModelName)
	return s, nil
}

func newMailer(cfg config.MailConfig, logger *slog.Logger) (mail.Mailer, error) {
	if cfg.Transport == "log" {
		logger.Warn("mail transport is log, digests will not be sent")
		return mail.NewLogMailer(logger, logMailerRetention), nil
	}
	m, err := mail.NewSMTPMailer(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize SMTP mailer: %w", err)
	}
	return m, nil
}

// startTaskRunner starts the background workers.
func (app *application) startTaskRunner() error {
	if err := app.taskRunner.Start(); err != nil {
		return fmt.Errorf("failed to start task runner: %w", err)
	}
	return nil
}

// cleanup handles graceful shutdown of application resources. Queued tasks
// are drained before the database is closed.
func (app *application) cleanup() {
	// Stop task runner
	if app.taskRunner != nil {
		app.taskRunner.Stop()
	}

	// Close database connection
	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error("Error closing database connection", "error", err)
		}
	}

	app.logger.Info("Application shutdown completed")
}
