package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLogger_Log(t *testing.T) {
	var buf bytes.Buffer
	logger := New(LevelInfo, &buf)

	tests := []struct {
		name    string
		level   Level
		message string
		fields  Fields
		err     error
		want    bool // should log
	}{
		{
			name:    "info message",
			level:   LevelInfo,
			message: "test message",
			fields:  Fields{"key": "value"},
			want:    true,
		},
		{
			name:    "debug below threshold",
			level:   LevelDebug,
			message: "debug message",
			want:    false, // won't log (below INFO)
		},
		{
			name:    "error with err",
			level:   LevelError,
			message: "error occurred",
			err:     errors.New("test error"),
			want:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := buf.Len()

			logger.log(tt.level, tt.message, tt.fields, tt.err)

			logged := buf.Len() > before
			if logged != tt.want {
				t.Errorf("log() logged = %v, want %v", logged, tt.want)
			}
		})
	}
}

func TestLogger_JSONEntry(t *testing.T) {
	var buf bytes.Buffer
	New(LevelDebug, &buf).Error("fetch failed", Fields{"region": "Region I", "status": 503}, errors.New("boom"))

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Unmarshal() error = %v (%s)", err, buf.String())
	}

	if entry["message"] != "fetch failed" {
		t.Errorf("message = %v, want fetch failed", entry["message"])
	}
	if entry["level"] != "error" {
		t.Errorf("level = %v, want error", entry["level"])
	}
	if entry["region"] != "Region I" {
		t.Errorf("region = %v, want Region I", entry["region"])
	}
	if entry["error"] != "boom" {
		t.Errorf("error = %v, want boom", entry["error"])
	}
	if _, ok := entry["time"]; !ok {
		t.Error("entry should carry a timestamp")
	}
}

func TestPackageLevelFunctions(t *testing.T) {
	var buf bytes.Buffer
	prev := Default()
	SetDefault(New(LevelDebug, &buf))
	defer SetDefault(prev)

	Debug("test debug", nil)
	Info("test info", Fields{"key": "value"})
	Warn("test warning", nil)
	Error("test error", Fields{"component": "test"}, errors.New("test"))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 4 {
		t.Errorf("expected 4 lines, got %d", len(lines))
	}
}

func TestLogger_Levels(t *testing.T) {
	tests := []struct {
		name      string
		minLevel  Level
		logLevel  Level
		shouldLog bool
	}{
		{"debug logs at debug", LevelDebug, LevelDebug, true},
		{"info logs at debug", LevelDebug, LevelInfo, true},
		{"debug doesn't log at info", LevelInfo, LevelDebug, false},
		{"warn doesn't log at error", LevelError, LevelWarn, false},
		{"error always logs", LevelDebug, LevelError, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			New(tt.minLevel, &buf).log(tt.logLevel, "test", nil, nil)

			logged := buf.Len() > 0
			if logged != tt.shouldLog {
				t.Errorf("shouldLog = %v, want %v", logged, tt.shouldLog)
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]Level{
		"debug":   LevelDebug,
		"INFO":    LevelInfo,
		"warning": LevelWarn,
		"Error":   LevelError,
		"verbose": LevelInfo,
		"":        LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestNewFromConfig_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "dpwh.log")
	cfg := DefaultConfig()
	cfg.Format = "json"
	cfg.File = path

	logger, err := NewFromConfig(cfg)
	if err != nil {
		t.Fatalf("NewFromConfig() error = %v", err)
	}
	logger.Info("written to file", Fields{"k": 1})

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if !strings.Contains(string(data), "written to file") {
		t.Errorf("log file missing entry: %s", data)
	}
}
