package record

import (
	"fmt"
	"time"

	"github.com/zerofinancial/relay/pkg/id"
)

// Payload is the structured log content shipped to the endpoint. It is
// never mutated once a record is created.
type Payload struct {
	Message   string         `json:"message"`
	Level     string         `json:"level"`
	Logger    string         `json:"logger,omitempty"`
	File      string         `json:"file,omitempty"`
	Function  string         `json:"function,omitempty"`
	Line      int            `json:"line,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Context   map[string]any `json:"context,omitempty"`
}

// String renders the payload for observers and CLI output.
func (p Payload) String() string {
	if p.Logger == "" {
		return fmt.Sprintf("[%s] %s", p.Level, p.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", p.Level, p.Logger, p.Message)
}

// LogRecord is one pending or in-flight log entry.
type LogRecord struct {
	ID      id.ID
	Payload Payload
	// TaskID correlates the record with a live transfer task. Empty means
	// the record is pending.
	TaskID     string
	RetryCount int
	CreatedAt  time.Time
}

// New builds a pending record.
func New(recID id.ID, p Payload, createdAt time.Time) LogRecord {
	return LogRecord{ID: recID, Payload: p, CreatedAt: createdAt.UTC().Truncate(time.Millisecond)}
}

// Pending reports whether the record has no transfer task.
func (r LogRecord) Pending() bool { return r.TaskID == "" }

// Before orders records oldest first with the id as tie-break.
func (r LogRecord) Before(o LogRecord) bool {
	if !r.CreatedAt.Equal(o.CreatedAt) {
		return r.CreatedAt.Before(o.CreatedAt)
	}
	return r.ID.Compare(o.ID) < 0
}
