// Package job implements the generation job state machine, its persistence,
// and the worker queue that drives jobs to a terminal state.
package job

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"

	berrors "git.home.luguber.info/inful/bookbinder/internal/errors"
	"git.home.luguber.info/inful/bookbinder/internal/model"
)

// State is the enumerated job state. Transitions are guarded: queued→running
// and running→done|error are the only legal moves, and done/error are
// terminal.
type State string

const (
	StateQueued  State = "queued"
	StateRunning State = "running"
	StateDone    State = "done"
	StateError   State = "error"
)

// Terminal reports whether no further transitions are allowed from s.
func (s State) Terminal() bool {
	return s == StateDone || s == StateError
}

// CanTransition reports whether moving from s to next is legal.
func (s State) CanTransition(next State) bool {
	switch s {
	case StateQueued:
		return next == StateRunning
	case StateRunning:
		return next == StateDone || next == StateError
	default:
		return false
	}
}

// ErrorDetail is the persisted failure record of an errored job.
type ErrorDetail struct {
	Kind    berrors.Kind `json:"kind"`
	Message string       `json:"message"`
}

// Job is one tracked execution of the generation pipeline for a specific
// (book, customer, period, dataset) combination. Only the orchestrator
// mutates a Job, and only through the store's guarded transitions.
type Job struct {
	ID         string       `json:"id"`
	BookID     string       `json:"book_id"`
	CustomerID string       `json:"customer_id"`
	Period     model.Period `json:"period"`
	// DatasetRef is the checksum reference of the uploaded dataset, or empty.
	DatasetRef string `json:"dataset_ref,omitempty"`
	// Fingerprint identifies the input combination for idempotent resubmission.
	Fingerprint string       `json:"fingerprint"`
	State       State        `json:"state"`
	Error       *ErrorDetail `json:"error,omitempty"`
	// OutputRef is set if and only if the job reached done.
	OutputRef string    `json:"output_ref,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New creates a queued job for the given inputs.
func New(bookID, customerID string, period model.Period, datasetRef string) *Job {
	now := time.Now().UTC()
	return &Job{
		ID:          uuid.NewString(),
		BookID:      bookID,
		CustomerID:  customerID,
		Period:      period,
		DatasetRef:  datasetRef,
		Fingerprint: Fingerprint(bookID, customerID, period, datasetRef),
		State:       StateQueued,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Fingerprint derives the idempotency key of an input combination. Any
// change to book, customer, period, or dataset checksum yields a different
// fingerprint, so cached output can never be served for different inputs.
func Fingerprint(bookID, customerID string, period model.Period, datasetRef string) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s\x00%s\x00%d\x00%d\x00%s",
		bookID, customerID, period.Year, period.Quarter, datasetRef)))
	return hex.EncodeToString(h[:])
}
