// Package logging builds the slog loggers used by both binaries.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

const (
	EnvLocal = "local"
	EnvDev   = "dev"
	EnvProd  = "prod"
)

// Setup returns a logger for env writing to w. local logs text at debug
// level, dev logs JSON at debug level, prod logs JSON at info level.
// LOG_LEVEL overrides the level in every environment.
func Setup(env string, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}

	var (
		level = slog.LevelDebug
		json  = false
	)
	switch env {
	case EnvDev:
		json = true
	case EnvProd:
		json = true
		level = slog.LevelInfo
	}

	if l, ok := ParseLevel(os.Getenv("LOG_LEVEL")); ok {
		level = l
	}

	opts := &slog.HandlerOptions{Level: level}
	if json {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Init installs a text logger on stderr as the process default. The level
// defaults to error so interactive commands stay quiet.
func Init() *slog.Logger {
	level := slog.LevelError
	if l, ok := ParseLevel(os.Getenv("LOG_LEVEL")); ok {
		level = l
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}

// ParseLevel maps a LOG_LEVEL value to a slog level.
func ParseLevel(s string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "dev", "development", "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error", "production", "prod":
		return slog.LevelError, true
	}
	return 0, false
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
