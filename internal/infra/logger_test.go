package infra

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewLogger_WritesJSONFile(t *testing.T) {
	cfg := &Config{}
	cfg.App.Name = "hft_test"
	cfg.Logging.Dir = t.TempDir()
	cfg.Logging.File = "test.log"
	cfg.Logging.Level = "warn"
	cfg.Logging.MaxSizeMB = 1

	logger := NewLogger(cfg)
	logger.Info("dropped by level")
	logger.Warn("SESSION_STATE", slog.String("to", "ACTIVE"))

	data, err := os.ReadFile(filepath.Join(cfg.Logging.Dir, "test.log"))
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 1 {
		t.Fatalf("Expected 1 line, got %d: %q", len(lines), data)
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatal(err)
	}
	if rec["msg"] != "SESSION_STATE" || rec["app"] != "hft_test" || rec["to"] != "ACTIVE" {
		t.Errorf("Unexpected record: %v", rec)
	}
}
