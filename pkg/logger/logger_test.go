package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func newCaptureLogger(t *testing.T, level Level) (Logger, *bytes.Buffer) {
	t.Helper()
	buf := &bytes.Buffer{}
	log, err := NewLogger(&Config{
		Level:            level,
		Format:           JSONFormat,
		Output:           StderrOutput,
		DisableTimestamp: true,
		Writer:           buf,
	})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	return log, buf
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{"default", *DefaultConfig(), false},
		{"bad level", Config{Level: "loud", Format: TextFormat, Output: StderrOutput}, true},
		{"bad format", Config{Level: InfoLevel, Format: "xml", Output: StderrOutput}, true},
		{"file without path", Config{Level: InfoLevel, Format: TextFormat, Output: FileOutput}, true},
		{"bad output", Config{Level: InfoLevel, Format: TextFormat, Output: "socket"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestWithFieldsAreKept(t *testing.T) {
	log, buf := newCaptureLogger(t, InfoLevel)

	log.WithComponent("matcher").WithFields(Fields{"batch_id": "b1"}).Info("Built candidates")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected a JSON log line, got %q: %v", buf.String(), err)
	}
	if entry["component"] != "matcher" {
		t.Errorf("expected component field, got %v", entry["component"])
	}
	if entry["batch_id"] != "b1" {
		t.Errorf("expected batch_id field, got %v", entry["batch_id"])
	}
	if entry["msg"] != "Built candidates" {
		t.Errorf("unexpected msg %v", entry["msg"])
	}
}

func TestLevelFiltering(t *testing.T) {
	log, buf := newCaptureLogger(t, WarnLevel)

	log.Info("hidden")
	if buf.Len() != 0 {
		t.Errorf("expected info to be filtered, got %q", buf.String())
	}
	log.Warn("shown")
	if !strings.Contains(buf.String(), "shown") {
		t.Errorf("expected warn line, got %q", buf.String())
	}
}

func TestTimedStage(t *testing.T) {
	log, buf := newCaptureLogger(t, InfoLevel)

	err := TimedStage("match", log, func(sl *StageLogger) error {
		sl.WithField("matches", 3)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(buf.String(), `"matches":3`) || !strings.Contains(buf.String(), `"status":"success"`) {
		t.Errorf("expected stage fields in %q", buf.String())
	}

	buf.Reset()
	want := errors.New("boom")
	if got := TimedStage("qa", log, func(*StageLogger) error { return want }); got != want {
		t.Errorf("expected stage error to propagate, got %v", got)
	}
	if !strings.Contains(buf.String(), `"status":"error"`) {
		t.Errorf("expected error status in %q", buf.String())
	}
}
