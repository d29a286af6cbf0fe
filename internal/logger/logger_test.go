package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"yomu/internal/config"
)

func TestNewLevels(t *testing.T) {
	for _, level := range []string{"debug", "info", "WARN", "error"} {
		if _, err := New(config.LogConfig{Level: level}); err != nil {
			t.Errorf("level %q: %v", level, err)
		}
	}
	if _, err := New(config.LogConfig{Level: "chatty"}); err == nil {
		t.Error("expected error for unknown level")
	}
	if _, err := New(config.LogConfig{Level: "info", Encoding: "xml"}); err == nil {
		t.Error("expected error for unknown encoding")
	}
}

func TestNewWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "yomu.log")

	log, err := New(config.LogConfig{Level: "info", Encoding: "json", File: path})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	log.Info("pipeline finished")
	_ = log.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "pipeline finished") {
		t.Errorf("log file missing entry: %s", data)
	}
}
