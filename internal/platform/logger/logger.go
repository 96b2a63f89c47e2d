package logger

import (
	"log/slog"
	"os"
)

// New returns the root structured logger. Services receive it via
// constructor options and annotate entries with request-scoped attributes.
func New() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}
