package logging

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZapAdapter(t *testing.T) {
	t.Run("levels", func(t *testing.T) {
		var buf bytes.Buffer
		logger, err := NewZapLogger(LogConfig{Level: DebugLevel, Output: &buf})
		require.NoError(t, err)

		logger.Debug("debug message", Field{"key", "value"})
		logger.Info("info message", Field{"count", 42})
		logger.Warn("warn message", Field{"enabled", true})
		logger.Error("error message", errors.New("boom"), Field{"code", "E1"})

		out := buf.String()
		for _, want := range []string{"DEBUG", "debug message", "INFO", "info message", "WARN", "warn message", "ERROR", "error message", "boom"} {
			assert.Contains(t, out, want)
		}
	})

	t.Run("level filter", func(t *testing.T) {
		var buf bytes.Buffer
		logger, err := NewZapLogger(LogConfig{Level: WarnLevel, Output: &buf})
		require.NoError(t, err)

		logger.Info("hidden")
		logger.Warn("shown")

		assert.NotContains(t, buf.String(), "hidden")
		assert.Contains(t, buf.String(), "shown")
	})

	t.Run("with fields", func(t *testing.T) {
		var buf bytes.Buffer
		logger, err := NewZapLogger(LogConfig{Level: InfoLevel, Output: &buf})
		require.NoError(t, err)

		logger.WithFields(Field{"component", "poller"}).Info("tick", Int("users", 3))

		assert.Contains(t, buf.String(), "poller")
		assert.Contains(t, buf.String(), "users")
	})

	t.Run("with context", func(t *testing.T) {
		var buf bytes.Buffer
		logger, err := NewZapLogger(LogConfig{Level: InfoLevel, Output: &buf})
		require.NoError(t, err)

		ctx := context.WithValue(context.Background(), UserIDKey, "user-42")
		ctx = context.WithValue(ctx, EventIDKey, "evt-1")
		logger.WithContext(ctx).Info("dispatching")

		assert.Contains(t, buf.String(), "user-42")
		assert.Contains(t, buf.String(), "evt-1")
	})
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
	}{
		{"debug", DebugLevel},
		{"INFO", InfoLevel},
		{"warning", WarnLevel},
		{"error", ErrorLevel},
		{"", InfoLevel},
		{"verbose", InfoLevel},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLevel(tt.in), tt.in)
	}
}

func TestGlobalLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewZapLogger(LogConfig{Level: InfoLevel, Output: &buf})
	require.NoError(t, err)

	previous := GetGlobalLogger()
	SetGlobalLogger(logger)
	defer SetGlobalLogger(previous)

	Info("global entry", String("provider", "reddit"))
	assert.Contains(t, buf.String(), "global entry")
	assert.Contains(t, buf.String(), "reddit")
}
