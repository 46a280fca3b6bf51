package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// ParseLevel maps a LOG_LEVEL value to a slog level. Unknown values fall
// back to def.
func ParseLevel(value string, def slog.Level) slog.Level {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "dev", "development", "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error", "production", "prod":
		return slog.LevelError
	default:
		return def
	}
}

// New builds a text logger on w at the level named by LOG_LEVEL.
func New(w io.Writer, def slog.Level) *slog.Logger {
	level := def
	if l, ok := os.LookupEnv("LOG_LEVEL"); ok {
		level = ParseLevel(l, def)
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// Init installs the default logger on stderr. The CLI passes LevelError so
// logs stay out of the progress view; the relay passes LevelInfo.
func Init(def slog.Level) *slog.Logger {
	logger := New(os.Stderr, def)
	slog.SetDefault(logger)
	return logger
}
