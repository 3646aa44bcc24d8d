package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"dsfetch/pkg/config"

	"github.com/rs/zerolog"
)

func TestNew(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		cfg     *config.LoggingConfig
		wantErr bool
	}{
		{
			name:    "console only",
			cfg:     &config.LoggingConfig{Level: "info"},
			wantErr: false,
		},
		{
			name:    "debug without color",
			cfg:     &config.LoggingConfig{Level: "debug", NoColor: true},
			wantErr: false,
		},
		{
			name:    "invalid log level",
			cfg:     &config.LoggingConfig{Level: "invalid"},
			wantErr: true,
		},
		{
			name:    "with file output in a new directory",
			cfg:     &config.LoggingConfig{Level: "info", File: filepath.Join(dir, "nested", "data.log")},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, closer, err := New(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if logger == nil || closer == nil {
				t.Fatal("New() returned nil logger or closer")
			}
			if err := closer.Close(); err != nil {
				t.Errorf("Close() error = %v", err)
			}
		})
	}
}

func TestFileOutputAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.log")
	cfg := &config.LoggingConfig{Level: "info", File: path, NoColor: true}

	for i := 0; i < 2; i++ {
		logger, closer, err := New(cfg)
		if err != nil {
			t.Fatalf("New() error = %v", err)
		}
		logger.WithField("run", i).Info("Batch written")
		closer.Close()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 log lines, got %d", len(lines))
	}

	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(lines[1]), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if entry["message"] != "Batch written" || entry["app"] != "dsfetch" || entry["run"] != float64(1) {
		t.Errorf("unexpected entry %v", entry)
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		level    string
		expected zerolog.Level
		wantErr  bool
	}{
		{"debug", zerolog.DebugLevel, false},
		{"DEBUG", zerolog.DebugLevel, false},
		{"info", zerolog.InfoLevel, false},
		{"warn", zerolog.WarnLevel, false},
		{"warning", zerolog.WarnLevel, false},
		{"error", zerolog.ErrorLevel, false},
		{"fatal", zerolog.FatalLevel, false},
		{"disabled", zerolog.Disabled, false},
		{"invalid", zerolog.InfoLevel, true},
		{"", zerolog.InfoLevel, true},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			level, err := parseLogLevel(tt.level)
			if (err != nil) != tt.wantErr {
				t.Errorf("parseLogLevel() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if level != tt.expected {
				t.Errorf("parseLogLevel() = %v, want %v", level, tt.expected)
			}
		})
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, zerolog.WarnLevel)

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message")
	logger.Error("error message")

	output := buf.String()
	if strings.Contains(output, "debug message") || strings.Contains(output, "info message") {
		t.Error("messages below the configured level were written")
	}
	if !strings.Contains(output, "warn message") || !strings.Contains(output, "error message") {
		t.Error("messages at or above the configured level are missing")
	}
}

func TestFieldChaining(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, zerolog.DebugLevel)

	base := logger.WithField("component", "pipeline")
	base.
		WithField("batch", 3).
		WithFields(map[string]interface{}{
			"artifact": "FW_batch_000003.json",
			"elapsed":  2 * time.Second,
		}).
		Info("chained fields")

	output := buf.String()
	for _, want := range []string{
		`"component":"pipeline"`,
		`"batch":3`,
		`"artifact":"FW_batch_000003.json"`,
		"chained fields",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("output missing %s: %s", want, output)
		}
	}

	// The parent logger must not see fields added to children
	buf.Reset()
	base.Info("parent")
	if strings.Contains(buf.String(), `"batch"`) {
		t.Error("child fields leaked into parent logger")
	}
}

func TestWithError(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, zerolog.InfoLevel)

	if logger.WithError(nil) != logger {
		t.Error("WithError(nil) should return the same logger")
	}

	logger.WithError(errors.New("disk full")).Error("Write failed")
	output := buf.String()
	if !strings.Contains(output, "Write failed") || !strings.Contains(output, "disk full") {
		t.Errorf("unexpected output %s", output)
	}
}

func TestStructuredLogging(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, zerolog.InfoLevel)

	logger.InfoWithFields("operation completed", map[string]interface{}{
		"dataset": "HuggingFaceFW/fineweb-edu",
		"count":   10,
		"resumed": true,
	})

	output := buf.String()
	for _, want := range []string{`"dataset":"HuggingFaceFW/fineweb-edu"`, `"count":10`, `"resumed":true`} {
		if !strings.Contains(output, want) {
			t.Errorf("output missing %s", want)
		}
	}
}

func TestGlobalLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "global.log")
	if err := Initialize(&config.LoggingConfig{Level: "debug", File: path, NoColor: true}); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	defer Close()

	Info("global info")
	WithField("key", "value").Warn("with field")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !strings.Contains(string(data), "global info") || !strings.Contains(string(data), `"key":"value"`) {
		t.Errorf("global log file missing entries: %s", data)
	}
}

func TestHelpers(t *testing.T) {
	tl := NewTestLogger()

	LogBatchWritten(tl, 2, 1000, "FW_batch_000002.json", time.Second)
	LogRetry(tl, "open source", 1, 20, 4*time.Second, errors.New("503"))

	infos := tl.GetMessagesByLevel("INFO")
	if len(infos) != 1 || infos[0].Fields["batch"] != 2 {
		t.Fatalf("unexpected info messages %v", infos)
	}
	warns := tl.GetMessagesByLevel("WARN")
	if len(warns) != 1 || warns[0].Error == nil || warns[0].Fields["attempt"] != 1 {
		t.Fatalf("unexpected warn messages %v", warns)
	}
}

func TestTestLoggerSharesSink(t *testing.T) {
	tl := NewTestLogger()
	child := tl.WithField("component", "supervisor").WithError(errors.New("boom"))

	child.Error("Unexpected error")
	tl.Info("top level")

	if !tl.HasMessage("Unexpected error") || !tl.HasError() {
		t.Fatal("derived logger did not record into the shared sink")
	}
	msgs := tl.GetMessages()
	if msgs[0].Fields["component"] != "supervisor" || msgs[0].Error == nil {
		t.Errorf("derived fields lost: %+v", msgs[0])
	}
	if msgs[1].Fields != nil || msgs[1].Error != nil {
		t.Errorf("root logger picked up derived state: %+v", msgs[1])
	}

	tl.Clear()
	if len(tl.GetMessages()) != 0 {
		t.Error("Clear() left messages behind")
	}
}
