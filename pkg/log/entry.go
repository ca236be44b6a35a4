package log

import (
	"encoding/json"
	"time"
)

// Entry represents a single structured log entry.
type Entry struct {
	Timestamp time.Time
	Level     Level
	RequestID string
	Message   string
	Fields    map[string]any
}

// NewEntry creates a new log entry with the current timestamp.
func NewEntry(level Level, msg string) *Entry {
	return &Entry{
		Timestamp: time.Now(),
		Level:     level,
		Message:   msg,
		Fields:    make(map[string]any),
	}
}

// MarshalJSON implements json.Marshaler for structured JSON output.
// Fields are flattened into the root object; an empty request_id is
// omitted.
func (e Entry) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(e.Fields)+4)

	m["timestamp"] = e.Timestamp.UTC().Format(time.RFC3339)
	m["level"] = e.Level.String()
	m["msg"] = e.Message

	if e.RequestID != "" {
		m["request_id"] = e.RequestID
	}

	for k, v := range e.Fields {
		m[k] = v
	}

	return json.Marshal(m)
}
