package main

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/tembridge/tembridge-go/pkg/config"
)

// newLogger builds an operational logger from the logging settings with a
// minimum level.
func newLogger(cfg config.LoggingConfig, level slog.Level) *slog.Logger {
	var output io.Writer
	switch strings.ToLower(cfg.Output) {
	case "stdout":
		output = os.Stdout
	default:
		output = os.Stderr
	}
	return slog.New(newHandler(output, cfg.Format, level))
}

func newHandler(w io.Writer, format string, level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}
	return handler.WithAttrs([]slog.Attr{slog.String("service", "tem-server")})
}

// parseLevel converts a level name to slog.Level. Unknown names mean info.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
