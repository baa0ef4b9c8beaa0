// Package logging builds the structured slog logger shared by the relay and recorder binaries.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/skypro1111/nextgen-voice/internal/config"
)

// New creates and configures the structured logger based on configuration
func New(cfg config.LoggingConfig) *slog.Logger {
	return slog.New(NewHandler(cfg, resolveOutput(cfg.Output)))
}

// NewHandler builds the slog handler for the given configuration and destination
func NewHandler(cfg config.LoggingConfig, output io.Writer) slog.Handler {
	level := ParseLevel(cfg.Level)

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug, // Add source info for debug level
	}

	switch cfg.Format {
	case "json":
		return slog.NewJSONHandler(output, opts)
	default:
		return slog.NewTextHandler(output, opts)
	}
}

// ParseLevel maps a configured level name to a slog level, defaulting to info
func ParseLevel(name string) slog.Level {
	switch name {
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

// Discard returns a logger that drops everything, for tests and optional wiring
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

func resolveOutput(output string) io.Writer {
	switch output {
	case "stderr":
		return os.Stderr
	case "stdout", "":
		return os.Stdout
	default:
		// Assume it's a file path
		file, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", output, err)
			return os.Stdout
		}
		return file
	}
}
