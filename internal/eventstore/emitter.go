package eventstore

import (
	"context"
	"log/slog"
	"time"

	"git.home.luguber.info/inful/bookbinder/internal/job"
)

// Emitter records job lifecycle events into the audit log. It implements the
// queue's EventEmitter; append failures are logged and swallowed so the audit
// trail never changes a job outcome.
type Emitter struct {
	store Store
}

// NewEmitter wraps a store as a lifecycle emitter.
func NewEmitter(store Store) *Emitter {
	return &Emitter{store: store}
}

// RecordSubmitted appends a JobSubmitted event. Unlike the claim/done/failed
// hooks this is called by the service at submission time.
func (e *Emitter) RecordSubmitted(ctx context.Context, j *job.Job) {
	ev, err := NewJobSubmitted(j.ID, j.BookID, j.CustomerID, j.Period.String(), j.DatasetRef)
	if err != nil {
		slog.Error("Building JobSubmitted event failed", "job_id", j.ID, "err", err)
		return
	}
	e.append(ctx, ev)
}

func (e *Emitter) EmitClaimed(ctx context.Context, j *job.Job, workerID string) {
	ev, err := NewJobClaimed(j.ID, workerID)
	if err != nil {
		slog.Error("Building JobClaimed event failed", "job_id", j.ID, "err", err)
		return
	}
	e.append(ctx, ev)
}

func (e *Emitter) EmitDone(ctx context.Context, j *job.Job, outputRef string, duration time.Duration) {
	ev, err := NewJobDone(j.ID, outputRef, duration)
	if err != nil {
		slog.Error("Building JobDone event failed", "job_id", j.ID, "err", err)
		return
	}
	e.append(ctx, ev)
}

func (e *Emitter) EmitFailed(ctx context.Context, j *job.Job, detail job.ErrorDetail, duration time.Duration) {
	ev, err := NewJobFailed(j.ID, string(detail.Kind), detail.Message, duration)
	if err != nil {
		slog.Error("Building JobFailed event failed", "job_id", j.ID, "err", err)
		return
	}
	e.append(ctx, ev)
}

func (e *Emitter) append(ctx context.Context, ev Event) {
	if err := e.store.Append(ctx, ev.JobID(), ev.Type(), ev.Payload(), ev.Metadata()); err != nil {
		slog.Error("Appending lifecycle event failed",
			"job_id", ev.JobID(), "type", ev.Type(), "err", err)
	}
}
