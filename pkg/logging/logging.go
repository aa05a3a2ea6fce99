package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

const (
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
)

// New returns a text logger writing to stderr at the given level.
func New(level slog.Level) *slog.Logger {
	return NewWithWriter(os.Stderr, level)
}

func NewWithWriter(w io.Writer, level slog.Level) *slog.Logger {
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	return slog.New(handler)
}

// Discard drops every record. Used by tests.
func Discard() *slog.Logger {
	return NewWithWriter(io.Discard, LevelError+1)
}

// ParseLevel maps "debug", "info", "warn" and "error" to a slog level.
// Unknown values fall back to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}
