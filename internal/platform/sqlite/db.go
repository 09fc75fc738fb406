// Package sqlite implements the store interfaces on an embedded SQLite
// database (modernc.org/sqlite, no cgo). It backs single-node deployments and
// the store tests.
//
// Timestamps are stored as INTEGER microseconds since the Unix epoch in UTC,
// which keeps equality and range comparisons exact. Category sets are JSON
// arrays and embeddings little-endian float32 blobs.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/phrazzld/research-digest/internal/platform/dbmigrate"
)

//go:embed migrations/*.sql
var migrations embed.FS

// builder emits ? placeholders.
var builder = sq.StatementBuilder.PlaceholderFormat(sq.Question)

// Open opens the database at dsn (a file path or ":memory:"), enables foreign
// keys and a busy timeout, and applies all migrations.
//
// SQLite allows one writer at a time, so the pool is limited to a single
// connection. That also keeps ":memory:" databases alive for the pool's
// lifetime.
func Open(ctx context.Context, dsn string, logger *slog.Logger) (*sql.DB, error) {
	db, err := sql.Open("sqlite", withPragmas(dsn))
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	if err := dbmigrate.Run(ctx, db, goose.DialectSQLite3, migrations, "migrations", dbmigrate.Up, logger); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Migrate runs a migration command against an open database.
func Migrate(ctx context.Context, db *sql.DB, cmd dbmigrate.Command, logger *slog.Logger) error {
	return dbmigrate.Run(ctx, db, goose.DialectSQLite3, migrations, "migrations", cmd, logger)
}

func withPragmas(dsn string) string {
	if dsn == ":memory:" {
		dsn = "file::memory:"
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
}

func toMicros(t time.Time) int64 {
	return t.UTC().UnixMicro()
}

func fromMicros(v int64) time.Time {
	return time.UnixMicro(v).UTC()
}

func nullMicros(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMicros(*t), Valid: true}
}

func timePtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMicros(v.Int64)
	return &t
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func encodeEmbedding(v []float32) []byte {
	if v == nil {
		return nil
	}
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeEmbedding(b []byte) []float32 {
	if len(b) == 0 {
		return nil
	}
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}

func changed(result sql.Result) (bool, error) {
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

func checkRowsAffected(result sql.Result, notFound error) error {
	ok, err := changed(result)
	if err != nil {
		return err
	}
	if !ok {
		return notFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}
