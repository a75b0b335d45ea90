package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func reset() {
	logger = nil
	once = sync.Once{}
}

func TestSetupWriter(t *testing.T) {
	reset()
	var buf bytes.Buffer
	SetupWriter(&buf, "DEBUG", "text")
	if logger == nil {
		t.Fatal("logger should not be nil")
	}

	WithComponent("cache").Debug("visible", "k", "v")
	if !strings.Contains(buf.String(), "msg=visible") || !strings.Contains(buf.String(), "component=cache") {
		t.Errorf("expected text output at debug level, got %q", buf.String())
	}

	// Later calls are ignored.
	var other bytes.Buffer
	SetupWriter(&other, "error", "json")
	Get().Info("still text")
	if other.Len() != 0 {
		t.Errorf("second SetupWriter took effect: %q", other.String())
	}
}

func TestSetupFile(t *testing.T) {
	reset()
	path := filepath.Join(t.TempDir(), "logs", "pipewatch.log")
	closeFn, err := SetupFile(path, "info", "json")
	if err != nil {
		t.Fatalf("SetupFile() error = %v", err)
	}
	WithComponent("watch").Info("hello")
	closeFn()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var out map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(data), &out); err != nil {
		t.Fatalf("decode %q: %v", data, err)
	}
	if out["component"] != "watch" || out["msg"] != "hello" {
		t.Errorf("unexpected record %v", out)
	}
	reset()
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		" error ": slog.LevelError,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
