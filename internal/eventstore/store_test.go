package eventstore

import (
	"bytes"
	"testing"
	"time"
)

func TestEventStoreAppendAndRetrieve(t *testing.T) {
	store, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer func() { _ = store.Close() }()

	ctx := t.Context()
	jobID := testJobID
	eventType := "TestEvent"
	payload := []byte(`{"test": "data"}`)
	metadata := map[string]string{"key": "value"}

	err = store.Append(ctx, jobID, eventType, payload, metadata)
	if err != nil {
		t.Fatalf("failed to append event: %v", err)
	}

	events, err := store.GetByJobID(ctx, jobID)
	if err != nil {
		t.Fatalf("failed to get events: %v", err)
	}

	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}

	event := events[0]
	if event.JobID() != jobID {
		t.Errorf("expected job_id %s, got %s", jobID, event.JobID())
	}
	if event.Type() != eventType {
		t.Errorf("expected event_type %s, got %s", eventType, event.Type())
	}
	if !bytes.Equal(event.Payload(), payload) {
		t.Errorf("expected payload %s, got %s", payload, event.Payload())
	}
	if event.Metadata()["key"] != "value" {
		t.Errorf("expected metadata key=value, got %v", event.Metadata())
	}
}

func TestEventStoreGetRange(t *testing.T) {
	store, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer func() { _ = store.Close() }()

	ctx := t.Context()
	now := time.Now()

	for range 3 {
		eventErr := store.Append(ctx, "job-1", "Event", []byte("data"), nil)
		if eventErr != nil {
			t.Fatalf("failed to append event: %v", eventErr)
		}
	}

	start := now.Add(-1 * time.Hour)
	end := now.Add(1 * time.Hour)
	events, err := store.GetRange(ctx, start, end)
	if err != nil {
		t.Fatalf("failed to get range: %v", err)
	}

	if len(events) != 3 {
		t.Errorf("expected 3 events, got %d", len(events))
	}
}

func TestEventStoreMultipleJobs(t *testing.T) {
	store, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer func() { _ = store.Close() }()

	ctx := t.Context()

	_ = store.Append(ctx, "job-1", "Event1", []byte("data1"), nil)
	_ = store.Append(ctx, "job-2", "Event2", []byte("data2"), nil)
	_ = store.Append(ctx, "job-1", "Event3", []byte("data3"), nil)

	events, err := store.GetByJobID(ctx, "job-1")
	if err != nil {
		t.Fatalf("failed to get events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events for job-1, got %d", len(events))
	}
	// Append order preserved.
	if events[0].Type() != "Event1" || events[1].Type() != "Event3" {
		t.Errorf("unexpected event order: %s, %s", events[0].Type(), events[1].Type())
	}

	events, err = store.GetByJobID(ctx, "job-3")
	if err != nil {
		t.Fatalf("failed to get events: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("expected no events for unknown job, got %d", len(events))
	}
}
