package config

import (
	"io"
	"log/slog"
	"os"
)

func NewLogger(env string) *slog.Logger {
	return NewLoggerTo(os.Stdout, env, false)
}

// NewLoggerTo builds the environment logger on w. quiet raises the level to
// Warn, which the CLI uses so log lines do not fight the progress bar.
func NewLoggerTo(w io.Writer, env string, quiet bool) *slog.Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		AddSource: env == "development",
	}

	if env == "production" {
		opts.Level = slog.LevelInfo
	} else {
		opts.Level = slog.LevelDebug
	}
	if quiet {
		opts.Level = slog.LevelWarn
	}

	if env == "production" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}
