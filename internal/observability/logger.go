package observability

import (
	"io"
	"log/slog"
	"os"
)

// NewLogger creates a logger based on environment, writing to stdout.
func NewLogger(environment string) *slog.Logger {
	return NewLoggerTo(os.Stdout, environment)
}

// NewLoggerTo creates a logger for the given environment writing to w.
// Production gets JSON with source locations at INFO; everything else gets
// human-readable text at DEBUG.
func NewLoggerTo(w io.Writer, environment string) *slog.Logger {
	var handler slog.Handler

	if environment == "production" {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level:     slog.LevelInfo,
			AddSource: true,
		})
	} else {
		handler = slog.NewTextHandler(w, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})
	}

	return slog.New(handler)
}

// Discard returns a logger that drops everything. Used by tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
