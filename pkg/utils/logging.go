package utils

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// ParseLevel maps a configuration log-level string onto a slog.Level.
// The empty string means info.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level: %s", level)
	}
}

// NewLogger builds a JSON logger writing to w at the given level. An
// unrecognized level falls back to info rather than failing; validation
// catches bad levels before they get here.
func NewLogger(level string, w io.Writer) *slog.Logger {
	lvl, err := ParseLevel(level)
	if err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
}
