package generate

import (
	"context"
	stderrors "errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"git.home.luguber.info/inful/bookbinder/internal/catalog"
	berrors "git.home.luguber.info/inful/bookbinder/internal/errors"
	"git.home.luguber.info/inful/bookbinder/internal/job"
	"git.home.luguber.info/inful/bookbinder/internal/metrics"
	"git.home.luguber.info/inful/bookbinder/internal/model"
	"git.home.luguber.info/inful/bookbinder/internal/snapshot"
	"git.home.luguber.info/inful/bookbinder/internal/storage"
)

// Enqueuer is the slice of the job queue the service needs.
type Enqueuer interface {
	Enqueue(j *job.Job) error
}

// Auditor records job submissions into the audit log.
type Auditor interface {
	RecordSubmitted(ctx context.Context, j *job.Job)
}

// SubmitRequest describes one generation request.
type SubmitRequest struct {
	BookID     string       `json:"book_id"`
	CustomerID string       `json:"customer_id"`
	Period     model.Period `json:"period"`
	// DatasetChecksum references a previously uploaded dataset; empty when
	// the book needs none.
	DatasetChecksum string `json:"dataset_checksum,omitempty"`
}

// Status is the job view returned to the API layer.
type Status struct {
	JobID     string           `json:"job_id"`
	State     job.State        `json:"state"`
	Error     *job.ErrorDetail `json:"error,omitempty"`
	OutputRef string           `json:"output_ref,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// Service is the generation boundary consumed by the API layer and the CLI:
// Submit validates and enqueues, GetStatus reports, and Run (the queue's
// Runner) executes the pipeline for claimed jobs.
type Service struct {
	catalog   catalog.Reader
	store     storage.ObjectStore
	jobs      job.Store
	queue     Enqueuer
	snapshots *snapshot.Resolver
	assembler *Assembler
	recorder  metrics.Recorder
	auditor   Auditor

	// resolveParallelism caps concurrent page resolution within one job.
	resolveParallelism int
}

// NewService wires the pipeline. The queue is injected afterwards via
// SetQueue, once the worker pool exists; Submit fails until one is set.
func NewService(cat catalog.Reader, store storage.ObjectStore, jobs job.Store, engine PDFEngine) *Service {
	return &Service{
		catalog:            cat,
		store:              store,
		jobs:               jobs,
		snapshots:          snapshot.NewResolver(cat),
		assembler:          NewAssembler(engine),
		recorder:           metrics.NoopRecorder{},
		resolveParallelism: 4,
	}
}

// SetQueue injects the async queue used by Submit.
func (s *Service) SetQueue(q Enqueuer) { s.queue = q }

// SetAuditor injects the submission audit hook.
func (s *Service) SetAuditor(a Auditor) { s.auditor = a }

// SetRecorder injects a metrics recorder.
func (s *Service) SetRecorder(r metrics.Recorder) {
	if r == nil {
		r = metrics.NoopRecorder{}
	}
	s.recorder = r
}

// Submit validates the request, applies the idempotency cache, and creates
// and enqueues a job. Validation failures are returned synchronously and
// never produce a job row. The returned job may be an existing done job
// when an identical input combination already completed with a retrievable
// artifact.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*job.Job, error) {
	book, err := s.validate(ctx, req)
	if err != nil {
		return nil, err
	}

	// Idempotent resubmission: identical inputs with a done job and a still
	// retrievable artifact are served the existing output. The fingerprint
	// covers every input, so different inputs can never hit this cache.
	fp := job.Fingerprint(req.BookID, req.CustomerID, req.Period, req.DatasetChecksum)
	if existing, err := s.jobs.FindDoneByFingerprint(ctx, fp); err == nil {
		ok, exErr := s.store.Exists(ctx, existing.OutputRef)
		if exErr == nil && ok {
			slog.Debug("Serving existing output for identical submission",
				"job_id", existing.ID, "fingerprint", fp)
			return existing, nil
		}
	} else if !stderrors.Is(err, job.ErrNotFound) {
		return nil, berrors.Wrap(berrors.KindTransientStorage, err, "idempotency lookup")
	}

	if req.DatasetChecksum != "" && !book.RequiresDataset() {
		// Harmless: the dataset is simply unused by this book.
		slog.Debug("Dataset supplied but no page requires one",
			"book_id", book.ID, "dataset", req.DatasetChecksum)
	}

	j := job.New(req.BookID, req.CustomerID, req.Period, req.DatasetChecksum)
	if err := s.jobs.Create(ctx, j); err != nil {
		return nil, berrors.Wrap(berrors.KindTransientStorage, err, "persist job")
	}
	if s.queue == nil {
		return nil, berrors.New(berrors.KindInternal, "no queue configured")
	}
	if err := s.queue.Enqueue(j); err != nil {
		// The row stays queued; a later requeue pass will pick it up.
		return nil, berrors.Wrap(berrors.KindTransientStorage, err, "enqueue job")
	}
	if s.auditor != nil {
		s.auditor.RecordSubmitted(ctx, j)
	}
	slog.Info("Job submitted", "job_id", j.ID, "book_id", req.BookID,
		"customer_id", req.CustomerID, "period", req.Period.String())
	return j, nil
}

// validate checks every precondition that must hold before a job exists.
func (s *Service) validate(ctx context.Context, req SubmitRequest) (*model.Book, error) {
	if req.BookID == "" || req.CustomerID == "" {
		return nil, berrors.New(berrors.KindValidation, "book_id and customer_id are required")
	}
	if !req.Period.Valid() {
		return nil, berrors.New(berrors.KindValidation, "quarter must be between 1 and 4")
	}

	if _, err := s.catalog.GetCustomer(ctx, req.CustomerID); err != nil {
		if stderrors.Is(err, catalog.ErrNotFound) {
			return nil, berrors.New(berrors.KindValidation, "customer %s does not exist", req.CustomerID)
		}
		return nil, berrors.Wrap(berrors.KindTransientStorage, err, "look up customer")
	}

	book, err := s.catalog.GetBook(ctx, req.BookID)
	if err != nil {
		if stderrors.Is(err, catalog.ErrNotFound) {
			return nil, berrors.New(berrors.KindValidation, "book %s does not exist", req.BookID)
		}
		return nil, berrors.Wrap(berrors.KindTransientStorage, err, "look up book")
	}

	if book.RequiresDataset() && req.DatasetChecksum == "" {
		return nil, berrors.New(berrors.KindValidation,
			"book %s contains tabular pages; an uploaded dataset is required", req.BookID)
	}
	if req.DatasetChecksum != "" {
		ok, err := s.store.Exists(ctx, req.DatasetChecksum)
		if err != nil {
			return nil, berrors.Wrap(berrors.KindTransientStorage, err, "check dataset")
		}
		if !ok {
			return nil, berrors.New(berrors.KindValidation,
				"dataset %s has not been uploaded", req.DatasetChecksum)
		}
	}
	return book, nil
}

// GetStatus reports a job's state, error detail, and output reference.
func (s *Service) GetStatus(ctx context.Context, jobID string) (*Status, error) {
	j, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return &Status{
		JobID:     j.ID,
		State:     j.State,
		Error:     j.Error,
		OutputRef: j.OutputRef,
		CreatedAt: j.CreatedAt,
		UpdatedAt: j.UpdatedAt,
	}, nil
}

// GetOutput fetches the assembled document bytes of a done job.
func (s *Service) GetOutput(ctx context.Context, jobID string) ([]byte, error) {
	j, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if j.State != job.StateDone {
		return nil, berrors.New(berrors.KindValidation, "job %s is %s, not done", jobID, j.State)
	}
	obj, err := s.store.Get(ctx, j.OutputRef)
	if err != nil {
		return nil, berrors.Wrap(berrors.KindTransientStorage, err, "read output %s", j.OutputRef)
	}
	return obj.Data, nil
}

// Run executes the pipeline for one claimed job: snapshot once, resolve all
// pages (concurrently, into index-ordered slots), assemble strictly in book
// order, persist the artifact. It is the job queue's Runner.
func (s *Service) Run(ctx context.Context, j *job.Job) (string, error) {
	stageStart := time.Now()
	snap, err := s.snapshots.Resolve(ctx, j.CustomerID, j.Period)
	if err != nil {
		return "", berrors.Wrap(berrors.KindTransientStorage, err, "resolve attribute snapshot")
	}
	s.recorder.ObserveStageDuration("snapshot", time.Since(stageStart))

	book, err := s.catalog.GetBook(ctx, j.BookID)
	if err != nil {
		return "", berrors.Wrap(berrors.KindTransientStorage, err, "load book")
	}

	stageStart = time.Now()
	resolved, err := s.resolveAll(ctx, book, snap, j.DatasetRef)
	if err != nil {
		return "", err
	}
	s.recorder.ObserveStageDuration("resolve", time.Since(stageStart))

	stageStart = time.Now()
	output, err := s.assembler.Assemble(ctx, resolved, DocumentMeta{
		CustomerID:  j.CustomerID,
		BookID:      j.BookID,
		GeneratedAt: time.Now(),
	})
	if err != nil {
		return "", err
	}
	s.recorder.ObserveStageDuration("assemble", time.Since(stageStart))

	ref, err := s.store.Put(ctx, &storage.Object{
		Type: storage.ObjectTypeOutput,
		Data: output,
		Metadata: storage.Metadata{Custom: map[string]string{
			"job_id":      j.ID,
			"book_id":     j.BookID,
			"customer_id": j.CustomerID,
		}},
	})
	if err != nil {
		return "", berrors.Wrap(berrors.KindTransientStorage, err, "persist output document")
	}
	return ref, nil
}

// resolveAll fans page resolution out across the book and collects results
// into slots indexed by page position, so assembly order never depends on
// completion order.
func (s *Service) resolveAll(ctx context.Context, book *model.Book, snap *snapshot.Snapshot, datasetRef string) ([]ResolvedPage, error) {
	resolver := NewResolver(s.store, snap, datasetRef)
	slots := make([]ResolvedPage, len(book.Pages))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.resolveParallelism)
	for i, page := range book.Pages {
		g.Go(func() error {
			rp, err := resolver.ResolvePage(gctx, page)
			if err != nil {
				return err
			}
			slots[i] = rp
			s.recorder.IncPageResolved(string(page.Type))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return slots, nil
}
