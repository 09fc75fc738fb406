package logger_test

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/research-digest/internal/config"
	"github.com/phrazzld/research-digest/internal/platform/logger"
)

func TestSetupWithWriterLevels(t *testing.T) {
	original := slog.Default()
	t.Cleanup(func() { slog.SetDefault(original) })

	tests := []struct {
		level      string
		debugShown bool
		infoShown  bool
	}{
		{"debug", true, true},
		{"INFO", false, true},
		{"warn", false, false},
		{"error", false, false},
		{"nonsense", false, true},
	}

	for _, tc := range tests {
		t.Run(tc.level, func(t *testing.T) {
			buf := &logger.TestLogBuffer{}
			l := logger.SetupWithWriter(config.ServerConfig{LogLevel: tc.level}, buf)

			l.Debug("debug message")
			l.Info("info message")

			assert.Equal(t, tc.debugShown, contains(buf, "debug message"))
			assert.Equal(t, tc.infoShown, contains(buf, "info message"))
			assert.Same(t, l, slog.Default())
		})
	}
}

func TestSetupEmitsJSON(t *testing.T) {
	original := slog.Default()
	t.Cleanup(func() { slog.SetDefault(original) })

	buf := &logger.TestLogBuffer{}
	l := logger.SetupWithWriter(config.ServerConfig{LogLevel: "info"}, buf)
	l.Info("digest sent", "recipient_id", "abc")

	entries, err := buf.GetLogEntries()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "digest sent", entries[0]["msg"])
	assert.Equal(t, "abc", entries[0]["recipient_id"])
	assert.Equal(t, "INFO", entries[0]["level"])
}

func TestFromContext(t *testing.T) {
	t.Parallel()

	l, buf := logger.GetTestLogger(t)
	ctx := logger.WithRequestID(logger.WithLogger(context.Background(), l), "req-42")

	logger.FromContext(ctx).Info("hello")

	logger.AssertLogField(t, buf, "request_id", "req-42")
	logger.AssertLogContains(t, buf, "hello")
}

func TestFromContextOrDefaultFallback(t *testing.T) {
	t.Parallel()

	fallback, buf := logger.GetTestLogger(t)

	logger.FromContextOrDefault(context.Background(), fallback).Warn("fallback used")

	logger.AssertLogContains(t, buf, "fallback used")
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	level, ok := logger.ParseLevel(" Warn ")
	assert.True(t, ok)
	assert.Equal(t, slog.LevelWarn, level)

	level, ok = logger.ParseLevel("trace")
	assert.False(t, ok)
	assert.Equal(t, slog.LevelInfo, level)
}

func contains(buf *logger.TestLogBuffer, s string) bool {
	entries, err := buf.GetLogEntries()
	if err != nil {
		return false
	}
	for _, e := range entries {
		if e["msg"] == s {
			return true
		}
	}
	return false
}
