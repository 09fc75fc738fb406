// Package main implements the research digest command: the server that
// fetches papers, summarizes them and mails scheduled digests, plus operator
// commands running single passes.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/phrazzld/research-digest/internal/config"
	"github.com/phrazzld/research-digest/internal/domain"
	"github.com/phrazzld/research-digest/internal/platform/dbmigrate"
	"github.com/phrazzld/research-digest/internal/platform/logger"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// rootOptions holds the flags shared by every command.
type rootOptions struct {
	configFile string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "research-digest",
		Short:         "Fetch, summarize and mail research paper digests",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.configFile, "config", "",
		"path to config file (default ./config.yaml, or $"+config.EnvPrefix+"_CONFIG_FILE)")

	root.AddCommand(
		newServeCmd(opts),
		newFetchCmd(opts),
		newSummarizeCmd(opts),
		newDispatchCmd(opts),
		newMigrateCmd(opts),
	)
	return root
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the scheduler and the delivery workers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := initializeApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			return app.Run(cmd.Context())
		},
	}
}

func newFetchCmd(opts *rootOptions) *cobra.Command {
	var categories []string
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch new papers once and store them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			app, err := initializeApp(ctx, opts)
			if err != nil {
				return err
			}
			defer app.cleanup()

			categories = domain.NormalizeCategories(categories)
			if err := app.catalog.Validate(categories); err != nil {
				return err
			}
			report, err := app.runFetch(ctx, categories)
			if report != nil {
				printJSON(cmd.OutOrStdout(), report)
			}
			return err
		},
	}
	cmd.Flags().StringSliceVar(&categories, "category", nil,
		"category to fetch, repeatable (default: configured categories)")
	return cmd
}

func newSummarizeCmd(opts *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "summarize",
		Short: "Summarize stored papers that have no synopsis yet",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if limit < 0 {
				return fmt.Errorf("--limit must not be negative")
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			app, err := initializeApp(ctx, opts)
			if err != nil {
				return err
			}
			defer app.cleanup()

			result, err := app.runBackfill(ctx, limit)
			if err != nil {
				return err
			}
			printJSON(cmd.OutOrStdout(), result)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum papers to summarize (default: configured batch size)")
	return cmd
}

func newDispatchCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "dispatch",
		Short: "Run one dispatch cycle and wait for its deliveries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			app, err := initializeApp(ctx, opts)
			if err != nil {
				return err
			}
			// cleanup drains the queued deliveries before closing the database.
			defer app.cleanup()

			if err := app.startTaskRunner(); err != nil {
				return err
			}
			result, err := app.runDispatch(ctx)
			if err != nil {
				return err
			}
			printJSON(cmd.OutOrStdout(), result)
			return nil
		},
	}
}

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:       "migrate [up|down|status|version]",
		Short:     "Manage the database schema",
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{string(dbmigrate.Up), string(dbmigrate.Down), string(dbmigrate.Status), string(dbmigrate.Version)},
		RunE: func(cmd *cobra.Command, args []string) error {
			command := dbmigrate.Up
			if len(args) == 1 {
				c, err := dbmigrate.ParseCommand(args[0])
				if err != nil {
					return err
				}
				command = c
			}

			cfg, log, err := loadConfigAndLogger(opts)
			if err != nil {
				return err
			}
			db, err := setupAppDatabase(cmd.Context(), cfg.Database, log)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			return runMigrations(cmd.Context(), cfg.Database.Driver, db, command, log)
		},
	}
}

// loadConfigAndLogger loads configuration and sets up structured logging.
func loadConfigAndLogger(opts *rootOptions) (*config.Config, *slog.Logger, error) {
	cfg, err := config.LoadFile(configPath(opts))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := logger.Setup(cfg.Server)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to set up logger: %w", err)
	}

	log.Info("Configuration loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Server.LogLevel,
		"driver", cfg.Database.Driver)
	if cfg.LLM.GeminiAPIKey != "" {
		log.Debug("LLM configuration", "gemini_api_key_present", true)
	}
	return cfg, log, nil
}

// initializeApp loads configuration, connects to the database and builds the
// application.
func initializeApp(ctx context.Context, opts *rootOptions) (*application, error) {
	cfg, log, err := loadConfigAndLogger(opts)
	if err != nil {
		return nil, err
	}

	db, err := setupAppDatabase(ctx, cfg.Database, log)
	if err != nil {
		return nil, fmt.Errorf("failed to set up database: %w", err)
	}

	app, err := newApplication(ctx, cfg, log, db)
	if err != nil {
		closeQuietly(db)
		return nil, fmt.Errorf("failed to initialize application: %w", err)
	}
	return app, nil
}

func configPath(opts *rootOptions) string {
	if opts.configFile != "" {
		return opts.configFile
	}
	return os.Getenv(config.EnvPrefix + "_CONFIG_FILE")
}

// signalContext cancels on SIGINT or SIGTERM, interrupting one-shot passes.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

func printJSON(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func closeQuietly(db *sql.DB) {
	if db != nil {
		_ = db.Close()
	}
}
