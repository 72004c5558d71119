package observability

import (
	"encoding/json"
	"io"
	"sync"
	"time"
)

// AuditEventType represents types of audit events.
type AuditEventType string

const (
	// InputRejected is recorded when the security gate refuses a turn.
	InputRejected AuditEventType = "input_rejected"
	// TurnCompleted is recorded when a turn finishes successfully.
	TurnCompleted AuditEventType = "turn_completed"
	// TurnFailed is recorded when a turn fails after admission.
	TurnFailed AuditEventType = "turn_failed"
)

// AuditEvent is one structured record in the audit trail.
type AuditEvent struct {
	EventType AuditEventType         `json:"event_type"`
	Timestamp string                 `json:"timestamp"`
	SessionID string                 `json:"session_id,omitempty"`
	Message   string                 `json:"message,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// NewAuditEvent creates a new audit event stamped with the current time.
func NewAuditEvent(eventType AuditEventType, sessionID string) *AuditEvent {
	return &AuditEvent{
		EventType: eventType,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		SessionID: sessionID,
		Details:   make(map[string]interface{}),
	}
}

// AuditLog writes audit events as JSON lines. Safe for concurrent use.
type AuditLog struct {
	mu sync.Mutex
	w  io.Writer

	// count tracks total recorded events; exposed for tests and health
	// reporting.
	count int64
}

// NewAuditLog creates an audit log writing to w.
func NewAuditLog(w io.Writer) *AuditLog {
	return &AuditLog{w: w}
}

// Record appends one event to the trail.
func (l *AuditLog) Record(event *AuditEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.count++
	if _, err := l.w.Write(append(data, '\n')); err != nil {
		return err
	}
	return nil
}

// Count returns the number of recorded events.
func (l *AuditLog) Count() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}
