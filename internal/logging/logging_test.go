package logging

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"dev", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{" warn ", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"production", slog.LevelError},
		{"nonsense", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, ParseLevel(tt.in, slog.LevelInfo), "input %q", tt.in)
	}
}

func TestNewHonorsEnv(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")

	var buf bytes.Buffer
	logger := New(&buf, slog.LevelError)
	require.True(t, logger.Enabled(context.Background(), slog.LevelDebug))

	logger.Debug("room created", "room", "ABC123")
	require.Contains(t, buf.String(), "room=ABC123")
}

func TestNewDefaultLevel(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")

	logger := New(&bytes.Buffer{}, slog.LevelError)
	require.False(t, logger.Enabled(context.Background(), slog.LevelWarn))
	require.True(t, logger.Enabled(context.Background(), slog.LevelError))
}
