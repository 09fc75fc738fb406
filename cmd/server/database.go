package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/phrazzld/research-digest/internal/config"
	"github.com/phrazzld/research-digest/internal/platform/dbmigrate"
	"github.com/phrazzld/research-digest/internal/platform/postgres"
	"github.com/phrazzld/research-digest/internal/platform/sqlite"
	"github.com/phrazzld/research-digest/internal/store"
)

const (
	driverPostgres = "postgres"
	driverSQLite   = "sqlite"
)

// setupAppDatabase establishes a connection to the configured database and
// configures the connection pool. SQLite databases are migrated on open;
// PostgreSQL schemas are managed with the migrate command.
func setupAppDatabase(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (*sql.DB, error) {
	if cfg.Driver == driverSQLite {
		db, err := sqlite.Open(ctx, cfg.URL, logger)
		if err != nil {
			return nil, err
		}
		logger.Info("Database connection established", "driver", cfg.Driver)
		return db, nil
	}

	db, err := sql.Open("pgx", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(max(cfg.MaxOpenConns/2, 1))
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("Database connection established", "driver", cfg.Driver)
	return db, nil
}

// stores holds the store implementations of one backend.
type stores struct {
	recipients store.RecipientStore
	content    store.ContentStore
	deliveries store.DeliveryStore
}

func newStores(driver string, db *sql.DB, logger *slog.Logger) stores {
	if driver == driverSQLite {
		return stores{
			recipients: sqlite.NewRecipientStore(db, logger),
			content:    sqlite.NewContentStore(db, logger),
			deliveries: sqlite.NewDeliveryStore(db, logger),
		}
	}
	return stores{
		recipients: postgres.NewPostgresRecipientStore(db, logger),
		content:    postgres.NewPostgresContentStore(db, logger),
		deliveries: postgres.NewPostgresDeliveryStore(db, logger),
	}
}

// runMigrations executes a goose command with the backend's embedded
// migrations.
func runMigrations(ctx context.Context, driver string, db *sql.DB, cmd dbmigrate.Command, logger *slog.Logger) error {
	if driver == driverSQLite {
		return sqlite.Migrate(ctx, db, cmd, logger)
	}
	return dbmigrate.Run(ctx, db, goose.DialectPostgres, postgres.Migrations, postgres.MigrationsDir, cmd, logger)
}
