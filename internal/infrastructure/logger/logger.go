package logger

import (
	"log/slog"
	"os"
)

// NewLogger builds the root structured logger. Output is JSON on stdout so
// container log collectors can pick it up directly.
func NewLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	log := slog.New(handler).With(slog.String("service", "cliniccore"))
	slog.SetDefault(log)
	return log
}
