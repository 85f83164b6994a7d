// Package log configures the process-wide slog default. Components never
// log through the default directly; they receive a module-scoped logger.
package log

import (
	"log/slog"
	"os"
	"strings"
)

// Setup installs a stderr text handler at the given level as the slog
// default. The level is matched case-insensitively because it usually
// arrives from an environment variable; unknown values fall back to info.
func Setup(logLevel string) {
	var level slog.Level

	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})))
}

// WithModule returns a logger carrying the module attribute, the tag every
// log line in this codebase is grouped by.
func WithModule(module string) *slog.Logger {
	return slog.With("module", module)
}
