// Package logger provides structured logging for relaybot.
// It uses Go's slog package with configurable levels and formats, and
// adapts it to the HTTP server and the gocron scheduler.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// NewLogger creates a slog Logger writing to stdout with the specified level
// and format, and installs it as the default logger.
// If jsonOutput is true, logs will be formatted as JSON, otherwise as text.
func NewLogger(levelStr string, jsonOutput bool) *slog.Logger {
	logger := New(os.Stdout, levelStr, jsonOutput)
	slog.SetDefault(logger)
	return logger
}

// New creates a slog Logger writing to w without touching the default logger.
func New(w io.Writer, levelStr string, jsonOutput bool) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: ParseLevel(levelStr),
	}

	var handler slog.Handler
	if jsonOutput {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

// ParseLevel maps a config level name to a slog.Level, defaulting to info.
func ParseLevel(levelStr string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(levelStr)) {
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

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// OrDefault returns log, or slog.Default() when log is nil.
func OrDefault(log *slog.Logger) *slog.Logger {
	if log == nil {
		return slog.Default()
	}
	return log
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return "..."
	}
	return s[:maxLen-3] + "..."
}
