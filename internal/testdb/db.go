//go:build integration

package testdb

import (
	"context"
	"database/sql"
	"net/url"
	"os"
	"sync"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/research-digest/internal/platform/dbmigrate"
	"github.com/phrazzld/research-digest/internal/platform/postgres"
)

// TestTimeout bounds connection setup and migrations.
const TestTimeout = 30 * time.Second

var migrateOnce sync.Once

// GetTestDatabaseURL returns the first non-empty of DIGEST_TEST_DATABASE_URL
// and DATABASE_URL.
func GetTestDatabaseURL() string {
	for _, key := range []string{"DIGEST_TEST_DATABASE_URL", "DATABASE_URL"} {
		if v := os.Getenv(key); v != "" {
			return v
		}
	}
	return ""
}

// GetTestDBWithT returns a migrated, empty database. The test is skipped when
// no database URL is configured.
func GetTestDBWithT(t *testing.T) *sql.DB {
	t.Helper()

	dbURL := GetTestDatabaseURL()
	if dbURL == "" {
		t.Skip("DIGEST_TEST_DATABASE_URL or DATABASE_URL not set - skipping integration test")
	}

	db, err := sql.Open("pgx", dbURL)
	require.NoError(t, err, "failed to open database connection to %s", maskDatabaseURL(dbURL))
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Logf("Warning: failed to close database connection: %v", err)
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), TestTimeout)
	defer cancel()
	require.NoError(t, db.PingContext(ctx), "database ping failed for %s", maskDatabaseURL(dbURL))

	var migrateErr error
	migrateOnce.Do(func() {
		migrateErr = dbmigrate.Run(ctx, db, goose.DialectPostgres,
			postgres.Migrations, postgres.MigrationsDir, dbmigrate.Up, nil)
	})
	require.NoError(t, migrateErr, "failed to apply migrations")

	ResetTables(t, db)
	return db
}

// ResetTables removes all rows from the application tables.
func ResetTables(t *testing.T, db *sql.DB) {
	t.Helper()
	_, err := db.Exec(`TRUNCATE deliveries, content_records, recipients RESTART IDENTITY CASCADE`)
	require.NoError(t, err, "failed to truncate tables")
}

// WithTx runs fn inside a transaction that is always rolled back.
func WithTx(t *testing.T, db *sql.DB, fn func(t *testing.T, tx *sql.Tx)) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), TestTimeout)
	defer cancel()

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err, "failed to begin transaction")
	defer func() {
		if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
			t.Logf("Warning: failed to roll back transaction: %v", err)
		}
	}()

	fn(t, tx)
}

// maskDatabaseURL hides the password of a connection URL for logging.
func maskDatabaseURL(dbURL string) string {
	u, err := url.Parse(dbURL)
	if err != nil || u.User == nil {
		return dbURL
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
	}
	return u.String()
}
