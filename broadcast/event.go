package broadcast

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Severity is the admin-facing event type.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// ClockLayout is the wall-clock format of LogEvent timestamps on the wire.
const ClockLayout = "15:04:05"

// LogEvent is one notification pushed to admin dashboards. It encodes as
// {"id", "timestamp", "type", "message"} with timestamp rendered as HH:MM:SS.
type LogEvent struct {
	ID        string
	Timestamp time.Time
	Severity  Severity
	Message   string
}

// NewLogEvent creates an event with a fresh UUIDv7 id.
func NewLogEvent(severity Severity, message string, at time.Time) LogEvent {
	return LogEvent{
		ID:        uuid.Must(uuid.NewV7()).String(),
		Timestamp: at,
		Severity:  severity,
		Message:   message,
	}
}

// Recognized is the info event for a transcription result.
func Recognized(text string, at time.Time) LogEvent {
	return NewLogEvent(SeverityInfo, "识别: "+text, at)
}

type wireEvent struct {
	ID        string   `json:"id"`
	Timestamp string   `json:"timestamp"`
	Type      Severity `json:"type"`
	Message   string   `json:"message"`
}

func (e LogEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireEvent{
		ID:        e.ID,
		Timestamp: e.Timestamp.Format(ClockLayout),
		Type:      e.Severity,
		Message:   e.Message,
	})
}
