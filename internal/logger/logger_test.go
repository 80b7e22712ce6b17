package logger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func TestBuildJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.json")

	log, err := build(true, false, path)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	log.Debug("hidden")
	log.Info("interview started", zap.String(FieldComponent, "chat"))
	_ = log.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 entry at info level, got %d: %s", len(lines), data)
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("decode entry: %v", err)
	}
	if entry["step"] != "interview started" || entry["level"] != "info" || entry[FieldComponent] != "chat" {
		t.Fatalf("unexpected entry: %v", entry)
	}
	if _, ok := entry["caller"]; ok {
		t.Fatalf("caller must only be logged in debug mode: %v", entry)
	}
}

func TestBuildDebug(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.json")

	log, err := build(true, true, path)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	log.Debug("visible")
	_ = log.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), `"step":"visible"`) || !strings.Contains(string(data), `"caller"`) {
		t.Fatalf("debug entry missing: %s", data)
	}
}
