package job

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	berrors "git.home.luguber.info/inful/bookbinder/internal/errors"
	"git.home.luguber.info/inful/bookbinder/internal/metrics"
	"git.home.luguber.info/inful/bookbinder/internal/retry"
)

// Runner executes the generation pipeline for one claimed job and returns
// the durable output reference.
type Runner interface {
	Run(ctx context.Context, j *Job) (outputRef string, err error)
}

// EventEmitter receives job lifecycle notifications. Emission failures are
// logged, never propagated; the audit trail is best effort relative to the
// job outcome itself.
type EventEmitter interface {
	EmitClaimed(ctx context.Context, j *Job, workerID string)
	EmitDone(ctx context.Context, j *Job, outputRef string, duration time.Duration)
	EmitFailed(ctx context.Context, j *Job, detail ErrorDetail, duration time.Duration)
}

// MultiEmitter fans each event out to several emitters in order.
type MultiEmitter []EventEmitter

func (m MultiEmitter) EmitClaimed(ctx context.Context, j *Job, workerID string) {
	for _, e := range m {
		e.EmitClaimed(ctx, j, workerID)
	}
}

func (m MultiEmitter) EmitDone(ctx context.Context, j *Job, outputRef string, duration time.Duration) {
	for _, e := range m {
		e.EmitDone(ctx, j, outputRef, duration)
	}
}

func (m MultiEmitter) EmitFailed(ctx context.Context, j *Job, detail ErrorDetail, duration time.Duration) {
	for _, e := range m {
		e.EmitFailed(ctx, j, detail, duration)
	}
}

// NoopEmitter discards all events.
type NoopEmitter struct{}

func (NoopEmitter) EmitClaimed(context.Context, *Job, string)                  {}
func (NoopEmitter) EmitDone(context.Context, *Job, string, time.Duration)      {}
func (NoopEmitter) EmitFailed(context.Context, *Job, ErrorDetail, time.Duration) {}

// Queue drives queued jobs to a terminal state with a fixed worker pool.
// Each job is claimed exactly once, executed under a timeout, retried on
// transient failures per the policy, and its outcome persisted before the
// worker moves on.
type Queue struct {
	jobs     chan *Job
	workers  int
	maxSize  int
	store    Store
	runner   Runner
	timeout  time.Duration
	policy   retry.Policy
	recorder metrics.Recorder
	emitter  EventEmitter

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewQueue creates a queue. The runner and store are required.
func NewQueue(maxSize, workers int, store Store, runner Runner) *Queue {
	if maxSize <= 0 {
		maxSize = 100
	}
	if workers <= 0 {
		workers = 2
	}
	if store == nil {
		panic("job.NewQueue: store is required")
	}
	if runner == nil {
		panic("job.NewQueue: runner is required")
	}
	return &Queue{
		jobs:     make(chan *Job, maxSize),
		workers:  workers,
		maxSize:  maxSize,
		store:    store,
		runner:   runner,
		timeout:  5 * time.Minute,
		policy:   retry.DefaultPolicy(),
		recorder: metrics.NoopRecorder{},
		emitter:  NoopEmitter{},
		stopChan: make(chan struct{}),
	}
}

// SetRetryPolicy replaces the transient retry policy (call before Start).
func (q *Queue) SetRetryPolicy(p retry.Policy) { q.policy = p }

// SetTimeout bounds each job execution (call before Start).
func (q *Queue) SetTimeout(d time.Duration) {
	if d > 0 {
		q.timeout = d
	}
}

// SetRecorder injects a metrics recorder.
func (q *Queue) SetRecorder(r metrics.Recorder) {
	if r == nil {
		r = metrics.NoopRecorder{}
	}
	q.recorder = r
}

// SetEmitter injects a lifecycle event emitter.
func (q *Queue) SetEmitter(e EventEmitter) {
	if e == nil {
		e = NoopEmitter{}
	}
	q.emitter = e
}

// Start launches the worker pool.
func (q *Queue) Start(ctx context.Context) {
	slog.Info("Starting generation queue", "workers", q.workers, "max_size", q.maxSize)
	for i := range q.workers {
		q.wg.Add(1)
		go q.worker(ctx, fmt.Sprintf("worker-%d", i))
	}
}

// Stop shuts the queue down and waits for in-flight jobs.
func (q *Queue) Stop(_ context.Context) {
	q.stopOnce.Do(func() { close(q.stopChan) })
	q.wg.Wait()
}

// Length returns the current queue depth.
func (q *Queue) Length() int { return len(q.jobs) }

// Enqueue hands a persisted queued job to the worker pool. The job row must
// already exist; Enqueue never creates state. Workers receive a private copy:
// they mutate job state as execution progresses, and the caller may still be
// reading the struct it submitted.
func (q *Queue) Enqueue(j *Job) error {
	if j == nil {
		return stderrors.New("job cannot be nil")
	}
	if j.ID == "" {
		return stderrors.New("job ID is required")
	}
	cp := *j
	select {
	case q.jobs <- &cp:
		q.recorder.SetQueueDepth(len(q.jobs))
		return nil
	default:
		return stderrors.New("generation queue is full")
	}
}

func (q *Queue) worker(ctx context.Context, workerID string) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.stopChan:
			return
		case j := <-q.jobs:
			if j != nil {
				q.recorder.SetQueueDepth(len(q.jobs))
				q.process(ctx, j, workerID)
			}
		}
	}
}

func (q *Queue) process(ctx context.Context, j *Job, workerID string) {
	claimed, err := q.store.Claim(ctx, j.ID)
	if err != nil {
		slog.Error("Job claim failed", "job_id", j.ID, "err", err)
		return
	}
	if !claimed {
		// Another worker won the claim; nothing to do here.
		slog.Debug("Job already claimed", "job_id", j.ID, "worker", workerID)
		return
	}
	j.State = StateRunning
	q.emitter.EmitClaimed(ctx, j, workerID)

	start := time.Now()
	outputRef, runErr := q.execute(ctx, j)
	duration := time.Since(start)
	q.recorder.ObserveJobDuration(duration)

	if runErr == nil {
		if err := q.store.MarkDone(ctx, j.ID, outputRef); err != nil {
			// Persistence of the terminal state failed: the artifact exists
			// but done must never be claimed without a recorded reference.
			detail := ErrorDetail{Kind: berrors.KindInternal, Message: fmt.Sprintf("record output: %v", err)}
			q.failJob(ctx, j, detail, duration)
			return
		}
		j.State = StateDone
		j.OutputRef = outputRef
		q.recorder.IncJobOutcome(string(StateDone))
		q.emitter.EmitDone(ctx, j, outputRef, duration)
		slog.Info("Job done", "job_id", j.ID, "output_ref", outputRef, "duration", duration)
		return
	}

	detail := ErrorDetail{Kind: berrors.KindOf(runErr), Message: runErr.Error()}
	q.failJob(ctx, j, detail, duration)
}

func (q *Queue) failJob(ctx context.Context, j *Job, detail ErrorDetail, duration time.Duration) {
	if err := q.store.MarkError(ctx, j.ID, detail); err != nil {
		slog.Error("Recording job failure failed", "job_id", j.ID, "err", err)
	}
	j.State = StateError
	j.Error = &detail
	q.recorder.IncJobOutcome(string(StateError))
	q.recorder.IncErrorKind(string(detail.Kind))
	q.emitter.EmitFailed(ctx, j, detail, duration)
	slog.Warn("Job failed", "job_id", j.ID, "kind", detail.Kind, "err", detail.Message)
}

// execute runs the pipeline under the job timeout, retrying transient
// failures per the policy. Deterministic resolution errors are never
// retried.
func (q *Queue) execute(ctx context.Context, j *Job) (string, error) {
	jobCtx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()

	retries := 0
	for {
		outputRef, err := q.runner.Run(jobCtx, j)
		if err == nil {
			return outputRef, nil
		}
		if timeoutErr := classifyTimeout(jobCtx, err); timeoutErr != nil {
			return "", timeoutErr
		}
		if !berrors.Retryable(err) || retries >= q.policy.MaxRetries {
			return "", err
		}
		retries++
		q.recorder.IncJobRetry()
		delay := q.policy.Delay(retries)
		slog.Warn("Transient job error, retrying",
			"job_id", j.ID,
			"retry", retries,
			"max_retries", q.policy.MaxRetries,
			"delay", delay,
			"err", err,
		)
		select {
		case <-time.After(delay):
		case <-jobCtx.Done():
			return "", berrors.Wrap(berrors.KindTimeout, jobCtx.Err(), "job timed out during retry backoff")
		}
	}
}

// classifyTimeout maps a context-deadline failure to the timeout kind; other
// errors pass through as nil so normal classification applies.
func classifyTimeout(ctx context.Context, err error) error {
	if ctx.Err() == nil {
		return nil
	}
	if stderrors.Is(ctx.Err(), context.DeadlineExceeded) {
		return berrors.Wrap(berrors.KindTimeout, err, "job execution exceeded its time bound")
	}
	return berrors.Wrap(berrors.KindTimeout, err, "job execution canceled")
}
