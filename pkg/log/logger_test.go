package log_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/htheomoller/calmer-sub000/pkg/log"
)

// captureTransporter records entries in memory for assertions.
type captureTransporter struct {
	entries []log.Entry
}

func (c *captureTransporter) Name() string { return "capture" }
func (c *captureTransporter) Write(e log.Entry) error {
	c.entries = append(c.entries, e)
	return nil
}
func (c *captureTransporter) Close() error { return nil }

func TestLogger_LevelFiltering(t *testing.T) {
	capture := &captureTransporter{}
	logger := log.New(log.Warn, capture)

	logger.Debug("debug msg")
	logger.Info("info msg")
	logger.Warn("warn msg")
	logger.Error("error msg")

	if len(capture.entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(capture.entries))
	}
	if capture.entries[0].Level != log.Warn || capture.entries[1].Level != log.Error {
		t.Errorf("unexpected levels: %v, %v", capture.entries[0].Level, capture.entries[1].Level)
	}
}

func TestLogger_SetLevel(t *testing.T) {
	capture := &captureTransporter{}
	logger := log.New(log.Error, capture)

	logger.Info("dropped")
	logger.SetLevel(log.Debug)
	logger.Info("kept")

	if len(capture.entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(capture.entries))
	}
	if capture.entries[0].Message != "kept" {
		t.Errorf("message = %q, want %q", capture.entries[0].Message, "kept")
	}
}

func TestLogger_With(t *testing.T) {
	capture := &captureTransporter{}
	logger := log.New(log.Info, capture).With("component", "webhook")

	logger.Info("hello", "extra", 1)

	if len(capture.entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(capture.entries))
	}
	fields := capture.entries[0].Fields
	if fields["component"] != "webhook" {
		t.Errorf("component = %v, want webhook", fields["component"])
	}
	if fields["extra"] != 1 {
		t.Errorf("extra = %v, want 1", fields["extra"])
	}
}

func TestLogger_RequestIDFromContext(t *testing.T) {
	capture := &captureTransporter{}
	logger := log.New(log.Info, capture)

	ctx := log.WithRequestID(context.Background(), "req-42")
	logger.InfoCtx(ctx, "handled")

	if capture.entries[0].RequestID != "req-42" {
		t.Errorf("request id = %q, want req-42", capture.entries[0].RequestID)
	}
}

func TestEntry_MarshalJSON(t *testing.T) {
	entry := log.NewEntry(log.Info, "hello")
	entry.RequestID = "rid"
	entry.Fields["code"] = "NO_MATCH"

	data, err := json.Marshal(entry)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m["level"] != "INFO" || m["msg"] != "hello" || m["request_id"] != "rid" || m["code"] != "NO_MATCH" {
		t.Errorf("unexpected JSON shape: %v", m)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    log.Level
		wantErr bool
	}{
		{"debug", log.Debug, false},
		{"INFO", log.Info, false},
		{"warning", log.Warn, false},
		{"error", log.Error, false},
		{"nope", log.Info, true},
	}

	for _, tt := range tests {
		got, err := log.ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
