package ctxn

import (
	"log/slog"
	"os"
)

var logLevel = new(slog.LevelVar)

// ConfigureLogging installs a process-wide slog.TextHandler and sets its
// level from CTXN_LOG_LEVEL (DEBUG, INFO, WARN, ERROR; defaults to INFO).
// Mirrors sop.ConfigureLogging's env-driven LevelVar idiom. The host
// application calls this once at startup if it wants this module's default
// logging configuration rather than supplying its own slog.Logger.
func ConfigureLogging() {
	logLevel.Set(slog.LevelInfo)
	switch os.Getenv("CTXN_LOG_LEVEL") {
	case "DEBUG":
		logLevel.Set(slog.LevelDebug)
	case "WARN":
		logLevel.Set(slog.LevelWarn)
	case "ERROR":
		logLevel.Set(slog.LevelError)
	}
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	slog.SetDefault(slog.New(handler))
}

// SetLogLevel overrides the level configured by ConfigureLogging.
func SetLogLevel(level slog.Level) {
	logLevel.Set(level)
}
