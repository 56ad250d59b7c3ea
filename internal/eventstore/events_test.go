package eventstore

import (
	"encoding/json"
	"testing"
	"time"
)

const testJobID = "job-123"

func TestEventSerialization(t *testing.T) {
	jobID := testJobID

	tests := []struct {
		name      string
		createFn  func() (Event, error)
		eventType string
	}{
		{
			name: "JobSubmitted",
			createFn: func() (Event, error) {
				return NewJobSubmitted(jobID, "book-1", "cust-1", "2024Q3", "ds-ref")
			},
			eventType: "JobSubmitted",
		},
		{
			name: "JobClaimed",
			createFn: func() (Event, error) {
				return NewJobClaimed(jobID, "worker-0")
			},
			eventType: "JobClaimed",
		},
		{
			name: "JobDone",
			createFn: func() (Event, error) {
				return NewJobDone(jobID, "output-ref", 2*time.Second)
			},
			eventType: "JobDone",
		},
		{
			name: "JobFailed",
			createFn: func() (Event, error) {
				return NewJobFailed(jobID, "missing_tab", `tab "DBL PROPOSAL" not found`, time.Second)
			},
			eventType: "JobFailed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event, err := tt.createFn()
			if err != nil {
				t.Fatalf("failed to create event: %v", err)
			}

			if event.JobID() != jobID {
				t.Errorf("expected job_id %s, got %s", jobID, event.JobID())
			}
			if event.Type() != tt.eventType {
				t.Errorf("expected type %s, got %s", tt.eventType, event.Type())
			}
			if event.Timestamp().IsZero() {
				t.Error("expected non-zero timestamp")
			}

			// Payload must be valid JSON.
			var decoded map[string]any
			if err := json.Unmarshal(event.Payload(), &decoded); err != nil {
				t.Errorf("payload is not valid JSON: %v", err)
			}
		})
	}
}

func TestJobSubmittedPayloadFields(t *testing.T) {
	event, err := NewJobSubmitted(testJobID, "book-1", "cust-1", "2024Q3", "ds-ref")
	if err != nil {
		t.Fatalf("failed to create event: %v", err)
	}

	var payload map[string]any
	if err := json.Unmarshal(event.Payload(), &payload); err != nil {
		t.Fatalf("failed to decode payload: %v", err)
	}
	if payload["book_id"] != "book-1" {
		t.Errorf("expected book_id book-1, got %v", payload["book_id"])
	}
	if payload["customer_id"] != "cust-1" {
		t.Errorf("expected customer_id cust-1, got %v", payload["customer_id"])
	}
	if payload["period"] != "2024Q3" {
		t.Errorf("expected period 2024Q3, got %v", payload["period"])
	}
	if payload["dataset_ref"] != "ds-ref" {
		t.Errorf("expected dataset_ref ds-ref, got %v", payload["dataset_ref"])
	}
}

func TestJobFailedPayloadFields(t *testing.T) {
	event, err := NewJobFailed(testJobID, "transient_storage", "blip", 1500*time.Millisecond)
	if err != nil {
		t.Fatalf("failed to create event: %v", err)
	}

	var payload map[string]any
	if err := json.Unmarshal(event.Payload(), &payload); err != nil {
		t.Fatalf("failed to decode payload: %v", err)
	}
	if payload["kind"] != "transient_storage" {
		t.Errorf("expected kind transient_storage, got %v", payload["kind"])
	}
	if payload["error"] != "blip" {
		t.Errorf("expected error blip, got %v", payload["error"])
	}
	if payload["duration_ms"] != float64(1500) {
		t.Errorf("expected duration_ms 1500, got %v", payload["duration_ms"])
	}
}
