package audit_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/makr-code/VCC-UDS3-sub004/pkg/uds3/audit"
)

func TestRecord_Identity(t *testing.T) {
	evt := audit.New("governance.denied", "governance", "tenant-1", map[string]any{
		"kind": "vector", "operation": "add_documents",
	})

	if evt.ID() == "" {
		t.Error("expected non-empty ID")
	}
	if evt.Type() != "governance.denied" {
		t.Errorf("expected type governance.denied, got %s", evt.Type())
	}
	if evt.Source() != "governance" {
		t.Errorf("expected source governance, got %s", evt.Source())
	}
	if evt.CorrelationID() != evt.ID() {
		t.Error("expected correlation ID to equal event ID for a root event")
	}
	if evt.CausationID() != "" {
		t.Errorf("expected empty causation ID, got %s", evt.CausationID())
	}
	if evt.TenantID() != "tenant-1" {
		t.Errorf("expected tenant-1, got %s", evt.TenantID())
	}
	if evt.Timestamp().IsZero() {
		t.Error("expected non-zero timestamp")
	}

	data, ok := evt.Data().(map[string]any)
	if !ok {
		t.Fatalf("expected map[string]any payload, got %T", evt.Data())
	}
	if data["kind"] != "vector" {
		t.Errorf("expected kind vector, got %v", data["kind"])
	}

	bytes := evt.DataBytes()
	if len(bytes) == 0 {
		t.Fatal("expected non-empty bytes")
	}
	var decoded map[string]any
	if err := json.Unmarshal(bytes, &decoded); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	if decoded["operation"] != "add_documents" {
		t.Errorf("expected operation add_documents, got %v", decoded["operation"])
	}
}

func TestRecord_Options(t *testing.T) {
	customTime := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	evt := audit.New(
		"saga.compensation_failed",
		"saga",
		"tenant-1",
		map[string]any{"saga_id": "s1"},
		audit.WithEventID("custom-id"),
		audit.WithCorrelationID("s1"),
		audit.WithCausationID("event-7"),
		audit.WithTimestamp(customTime),
	)

	if evt.ID() != "custom-id" {
		t.Errorf("expected custom-id, got %s", evt.ID())
	}
	if evt.CorrelationID() != "s1" {
		t.Errorf("expected s1, got %s", evt.CorrelationID())
	}
	if evt.CausationID() != "event-7" {
		t.Errorf("expected event-7, got %s", evt.CausationID())
	}
	if !evt.Timestamp().Equal(customTime) {
		t.Errorf("expected %v, got %v", customTime, evt.Timestamp())
	}
}

func TestRecord_JSONRoundTrip(t *testing.T) {
	evt := audit.New("governance.denied", "governance", "tenant-1", map[string]any{"kind": "vector"})

	data, err := json.Marshal(evt)
	if err != nil {
		t.Fatalf("failed to marshal: %v", err)
	}

	var decoded audit.Record
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}

	if decoded.ID() != evt.ID() {
		t.Errorf("expected ID %s, got %s", evt.ID(), decoded.ID())
	}
	if decoded.Type() != evt.Type() {
		t.Errorf("expected type %s, got %s", evt.Type(), decoded.Type())
	}
	payload, ok := decoded.Data().(map[string]any)
	if !ok {
		t.Fatalf("expected map[string]any payload, got %T", decoded.Data())
	}
	if payload["kind"] != "vector" {
		t.Errorf("expected kind=vector, got %v", payload["kind"])
	}
}
