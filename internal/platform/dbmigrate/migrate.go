// Package dbmigrate applies the embedded goose migrations of a storage
// backend.
package dbmigrate

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"

	"github.com/pressly/goose/v3"
)

// Command is a supported migration operation.
type Command string

const (
	Up      Command = "up"
	Down    Command = "down"
	Status  Command = "status"
	Version Command = "version"
)

// ParseCommand validates a command name.
func ParseCommand(s string) (Command, error) {
	switch c := Command(strings.ToLower(strings.TrimSpace(s))); c {
	case Up, Down, Status, Version:
		return c, nil
	default:
		return "", fmt.Errorf("unknown migration command %q", s)
	}
}

// slogGooseLogger adapts the goose logger interface to slog.
type slogGooseLogger struct {
	logger *slog.Logger
}

// Printf forwards goose progress messages at info level.
func (l *slogGooseLogger) Printf(format string, v ...any) {
	l.logger.Info(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

// Fatalf logs at error level. It does not exit; the error is returned to the
// caller instead.
func (l *slogGooseLogger) Fatalf(format string, v ...any) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

// Run executes cmd against db using the migrations found in dir of fsys.
func Run(
	ctx context.Context,
	db *sql.DB,
	dialect goose.Dialect,
	fsys fs.FS,
	dir string,
	cmd Command,
	logger *slog.Logger,
) error {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "migrations"), slog.String("dialect", string(dialect)))

	sub, err := fs.Sub(fsys, dir)
	if err != nil {
		return fmt.Errorf("failed to open migrations directory %s: %w", dir, err)
	}

	provider, err := goose.NewProvider(dialect, db, sub, goose.WithLogger(&slogGooseLogger{logger: logger}))
	if err != nil {
		return fmt.Errorf("failed to create migration provider: %w", err)
	}

	switch cmd {
	case Up:
		results, err := provider.Up(ctx)
		if err != nil {
			return fmt.Errorf("migration up failed: %w", err)
		}
		logger.Info("migrations applied", slog.Int("count", len(results)))
	case Down:
		result, err := provider.Down(ctx)
		if err != nil {
			return fmt.Errorf("migration down failed: %w", err)
		}
		if result != nil && result.Source != nil {
			logger.Info("migration rolled back", slog.Int64("version", result.Source.Version))
		}
	case Status:
		statuses, err := provider.Status(ctx)
		if err != nil {
			return fmt.Errorf("migration status failed: %w", err)
		}
		for _, st := range statuses {
			logger.Info("migration status",
				slog.Int64("version", st.Source.Version),
				slog.String("path", st.Source.Path),
				slog.String("state", string(st.State)))
		}
	case Version:
		v, err := provider.GetDBVersion(ctx)
		if err != nil {
			return fmt.Errorf("failed to read schema version: %w", err)
		}
		logger.Info("schema version", slog.Int64("version", v))
	default:
		return fmt.Errorf("unknown migration command %q", cmd)
	}
	return nil
}
