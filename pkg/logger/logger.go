// Package logger configures slog output for the pattern detector. All
// diagnostics go to stderr so stdout stays reserved for the JSON result
// contract.
package logger

import (
	"io"
	"log/slog"
	"os"
)

// New creates a colored logger writing to w.
func New(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(NewColorHandler(w, &slog.HandlerOptions{Level: level}))
}

// NewDefault creates a colored logger on stderr.
func NewDefault(level slog.Level) *slog.Logger {
	return New(os.Stderr, level)
}

// ParseLevel maps a config string to a slog level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
