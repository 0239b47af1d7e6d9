// Package logging builds the JSON slog logger both services log through.
package logging

import (
	"io"
	"log/slog"
	"os"
)

// New returns a JSON logger writing to stdout at level and installs it as the
// slog default.
func New(level slog.Level, service string) *slog.Logger {
	logger := NewWithWriter(os.Stdout, level).With("service", service)
	slog.SetDefault(logger)
	return logger
}

// NewWithWriter returns a JSON logger writing to w.
func NewWithWriter(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// Discard returns a logger that drops everything, for tests.
func Discard() *slog.Logger {
	return NewWithWriter(io.Discard, slog.LevelError+1)
}
