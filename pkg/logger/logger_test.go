package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/wonny/metricengine/pkg/config"
)

func decode(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Failed to parse log output: %v (%q)", err, buf.String())
	}
	return entry
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"DEBUG", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"invalid", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := parseLogLevel(tt.input); got != tt.want {
				t.Errorf("parseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestNewWithWriter_RespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&config.Config{Env: "development", LogLevel: "warn"}, &buf)

	log.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("Expected info to be filtered at warn level, got %q", buf.String())
	}

	log.Warn("kept")
	entry := decode(t, &buf)
	if entry["message"] != "kept" {
		t.Errorf("Expected message 'kept', got %v", entry["message"])
	}
	if entry["env"] != "development" {
		t.Errorf("Expected env=development, got %v", entry["env"])
	}
}

func TestWithFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&config.Config{Env: "test", LogLevel: "debug"}, &buf)

	log.WithTicker("AAPL").WithFields(map[string]interface{}{
		"endpoint": "income_statement",
		"count":    4,
	}).Debug("fetched")

	entry := decode(t, &buf)
	if entry["ticker"] != "AAPL" {
		t.Errorf("Expected ticker AAPL, got %v", entry["ticker"])
	}
	if entry["endpoint"] != "income_statement" {
		t.Errorf("Expected endpoint income_statement, got %v", entry["endpoint"])
	}
	if entry["count"] != float64(4) {
		t.Errorf("Expected count 4, got %v", entry["count"])
	}
}

func TestWithError(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&config.Config{Env: "test", LogLevel: "info"}, &buf)

	log.WithError(errors.New("upstream timeout")).WithField("module", "batch").Error("ticker failed")

	entry := decode(t, &buf)
	if entry["error"] != "upstream timeout" {
		t.Errorf("Expected error field, got %v", entry["error"])
	}
	if entry["module"] != "batch" {
		t.Errorf("Expected module=batch, got %v", entry["module"])
	}
}

func TestNewNop(t *testing.T) {
	log := NewNop()
	// must not panic
	log.WithField("k", "v").Error("ignored")
	log.Infof("count: %d", 1)
}

func TestConsoleWriterSelected(t *testing.T) {
	if _, ok := outputFor("console").(zerolog.ConsoleWriter); !ok {
		t.Error("Expected ConsoleWriter for console format")
	}
	if _, ok := outputFor("json").(zerolog.ConsoleWriter); ok {
		t.Error("Expected raw stdout for json format")
	}
	if _, ok := outputFor("pretty").(zerolog.ConsoleWriter); !ok {
		t.Error("Expected ConsoleWriter for pretty format")
	}
}
