package telemetry

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestSetupLoggingJSONDebug(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "json")

	var buf bytes.Buffer
	logger := SetupLogging(&buf)
	logger.Debug("probe", slog.String("component", "test"))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	var last map[string]any
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &last); err != nil {
		t.Fatalf("expected json log line, got %q: %v", lines[len(lines)-1], err)
	}
	if last["msg"] != "probe" || last["component"] != "test" {
		t.Errorf("unexpected record %v", last)
	}
}

func TestSetupLoggingUnknownLevel(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })
	t.Setenv("LOG_LEVEL", "verbose")
	t.Setenv("LOG_FORMAT", "")

	var buf bytes.Buffer
	logger := SetupLogging(&buf)
	if !strings.Contains(buf.String(), "unknown LOG_LEVEL") {
		t.Errorf("expected a warning about the level, got %q", buf.String())
	}
	buf.Reset()
	logger.Debug("hidden")
	if buf.Len() != 0 {
		t.Errorf("debug should be filtered at info level, got %q", buf.String())
	}
}
