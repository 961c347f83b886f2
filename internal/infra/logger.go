package infra

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// NewLogger creates a JSON slog.Logger writing to a rotated file and,
// optionally, stdout.
func NewLogger(cfg *Config) *slog.Logger {
	lc := cfg.Logging
	if err := os.MkdirAll(lc.Dir, 0755); err != nil {
		// Fallback to stderr if directory creation fails
		return slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}

	fileLogger := &lumberjack.Logger{
		Filename:   filepath.Join(lc.Dir, lc.File),
		MaxSize:    lc.MaxSizeMB, // Megabytes
		MaxBackups: lc.MaxBackups,
		MaxAge:     lc.MaxAgeDays, // Days
		Compress:   lc.Compress,
	}

	var writer io.Writer = fileLogger
	if lc.Stdout {
		writer = io.MultiWriter(os.Stdout, fileLogger)
	}

	opts := &slog.HandlerOptions{
		Level: ParseLevel(lc.Level),
	}
	return slog.New(slog.NewJSONHandler(writer, opts)).With(slog.String("app", cfg.App.Name))
}

// ParseLevel maps a config level name to a slog level. Unknown names are info.
func ParseLevel(s string) slog.Level {
	switch s {
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
