package observability

import (
	"bufio"
	"bytes"
	"encoding/json"
	"testing"
)

func TestAuditLogRecord(t *testing.T) {
	var buf bytes.Buffer
	log := NewAuditLog(&buf)

	event := NewAuditEvent(InputRejected, "session-1")
	event.Message = "injection_detected"
	event.Details["matched_patterns"] = 2
	if err := log.Record(event); err != nil {
		t.Fatalf("Record() error: %v", err)
	}
	if err := log.Record(NewAuditEvent(TurnCompleted, "session-1")); err != nil {
		t.Fatalf("Record() error: %v", err)
	}

	if log.Count() != 2 {
		t.Errorf("Count() = %d, want 2", log.Count())
	}

	scanner := bufio.NewScanner(&buf)
	var lines []AuditEvent
	for scanner.Scan() {
		var decoded AuditEvent
		if err := json.Unmarshal(scanner.Bytes(), &decoded); err != nil {
			t.Fatalf("line is not valid JSON: %v", err)
		}
		lines = append(lines, decoded)
	}
	if len(lines) != 2 {
		t.Fatalf("wrote %d lines, want 2", len(lines))
	}
	if lines[0].EventType != InputRejected || lines[0].SessionID != "session-1" {
		t.Errorf("first event = %+v", lines[0])
	}
	if lines[0].Timestamp == "" {
		t.Error("event timestamp missing")
	}
	if lines[1].EventType != TurnCompleted {
		t.Errorf("second event = %+v", lines[1])
	}
}
