package eventstore

import (
	"encoding/json"
	"fmt"
	"time"
)

// Lifecycle event type names as stored in the log.
const (
	TypeJobSubmitted = "JobSubmitted"
	TypeJobClaimed   = "JobClaimed"
	TypeJobDone      = "JobDone"
	TypeJobFailed    = "JobFailed"
)

// JobSubmitted is appended when a job is created and queued.
type JobSubmitted struct {
	BaseEvent
	BookID     string `json:"book_id"`
	CustomerID string `json:"customer_id"`
	Period     string `json:"period"`
	DatasetRef string `json:"dataset_ref,omitempty"`
}

// NewJobSubmitted creates a JobSubmitted event.
func NewJobSubmitted(jobID, bookID, customerID, period, datasetRef string) (*JobSubmitted, error) {
	payload, err := json.Marshal(map[string]any{
		"book_id":     bookID,
		"customer_id": customerID,
		"period":      period,
		"dataset_ref": datasetRef,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal JobSubmitted payload for %s: %w", jobID, err)
	}
	return &JobSubmitted{
		BaseEvent: BaseEvent{
			EventJobID:     jobID,
			EventType:      TypeJobSubmitted,
			EventTimestamp: time.Now(),
			EventPayload:   payload,
		},
		BookID:     bookID,
		CustomerID: customerID,
		Period:     period,
		DatasetRef: datasetRef,
	}, nil
}

// JobClaimed is appended when a worker wins the claim on a queued job.
type JobClaimed struct {
	BaseEvent
	WorkerID string `json:"worker_id"`
}

// NewJobClaimed creates a JobClaimed event.
func NewJobClaimed(jobID, workerID string) (*JobClaimed, error) {
	payload, err := json.Marshal(map[string]any{"worker_id": workerID})
	if err != nil {
		return nil, fmt.Errorf("marshal JobClaimed payload for %s: %w", jobID, err)
	}
	return &JobClaimed{
		BaseEvent: BaseEvent{
			EventJobID:     jobID,
			EventType:      TypeJobClaimed,
			EventTimestamp: time.Now(),
			EventPayload:   payload,
		},
		WorkerID: workerID,
	}, nil
}

// JobDone is appended when a job reaches done with a persisted artifact.
type JobDone struct {
	BaseEvent
	OutputRef string        `json:"output_ref"`
	Duration  time.Duration `json:"duration_ms"`
}

// NewJobDone creates a JobDone event.
func NewJobDone(jobID, outputRef string, duration time.Duration) (*JobDone, error) {
	payload, err := json.Marshal(map[string]any{
		"output_ref":  outputRef,
		"duration_ms": duration.Milliseconds(),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal JobDone payload for %s: %w", jobID, err)
	}
	return &JobDone{
		BaseEvent: BaseEvent{
			EventJobID:     jobID,
			EventType:      TypeJobDone,
			EventTimestamp: time.Now(),
			EventPayload:   payload,
		},
		OutputRef: outputRef,
		Duration:  duration,
	}, nil
}

// JobFailed is appended when a job reaches the error state.
type JobFailed struct {
	BaseEvent
	Kind     string        `json:"kind"`
	Error    string        `json:"error"`
	Duration time.Duration `json:"duration_ms"`
}

// NewJobFailed creates a JobFailed event.
func NewJobFailed(jobID, kind, errorMsg string, duration time.Duration) (*JobFailed, error) {
	payload, err := json.Marshal(map[string]any{
		"kind":        kind,
		"error":       errorMsg,
		"duration_ms": duration.Milliseconds(),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal JobFailed payload for %s: %w", jobID, err)
	}
	return &JobFailed{
		BaseEvent: BaseEvent{
			EventJobID:     jobID,
			EventType:      TypeJobFailed,
			EventTimestamp: time.Now(),
			EventPayload:   payload,
		},
		Kind:     kind,
		Error:    errorMsg,
		Duration: duration,
	}, nil
}
