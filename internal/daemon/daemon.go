// Package daemon wires the stores, queue, watchers, and HTTP API into one
// long-running service process.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"

	"git.home.luguber.info/inful/bookbinder/internal/catalog"
	"git.home.luguber.info/inful/bookbinder/internal/config"
	berrors "git.home.luguber.info/inful/bookbinder/internal/errors"
	"git.home.luguber.info/inful/bookbinder/internal/events"
	"git.home.luguber.info/inful/bookbinder/internal/eventstore"
	"git.home.luguber.info/inful/bookbinder/internal/generate"
	"git.home.luguber.info/inful/bookbinder/internal/generate/pdf"
	"git.home.luguber.info/inful/bookbinder/internal/job"
	"git.home.luguber.info/inful/bookbinder/internal/metrics"
	"git.home.luguber.info/inful/bookbinder/internal/retry"
	"git.home.luguber.info/inful/bookbinder/internal/server"
	"git.home.luguber.info/inful/bookbinder/internal/storage"
)

// Daemon owns the lifecycle of every service component.
type Daemon struct {
	cfg *config.Config

	catalog   *catalog.SQLiteStore
	store     *storage.FSStore
	jobs      *job.SQLiteStore
	eventLog  *eventstore.SQLiteStore
	queue     *job.Queue
	service   *generate.Service
	httpSrv   *server.Server
	publisher *events.Publisher
	sweeper   *Sweeper
	spool     *SpoolWatcher
}

// New opens the persistent stores and wires the pipeline. Nothing is running
// yet; call Start.
func New(cfg *config.Config) (*Daemon, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	cat, err := catalog.NewSQLiteStore(cfg.Catalog.Path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	store, err := storage.NewFSStore(cfg.Storage.Path)
	if err != nil {
		_ = cat.Close()
		return nil, fmt.Errorf("open object store: %w", err)
	}
	jobs, err := job.NewSQLiteStore(filepath.Join(cfg.DataDir, "jobs.db"))
	if err != nil {
		_ = store.Close()
		_ = cat.Close()
		return nil, fmt.Errorf("open job store: %w", err)
	}
	eventLog, err := eventstore.NewSQLiteStore(filepath.Join(cfg.DataDir, "events.db"))
	if err != nil {
		_ = jobs.Close()
		_ = store.Close()
		_ = cat.Close()
		return nil, fmt.Errorf("open event store: %w", err)
	}

	registry := prometheus.NewRegistry()
	recorder := metrics.NewPrometheusRecorder(registry)

	svc := generate.NewService(cat, store, jobs, pdf.NewEngine())
	svc.SetRecorder(recorder)

	auditEmitter := eventstore.NewEmitter(eventLog)
	svc.SetAuditor(auditEmitter)

	queue := job.NewQueue(cfg.Queue.MaxSize, cfg.Queue.Workers, jobs, svc)
	queue.SetRetryPolicy(retry.FromConfig(cfg.Queue))
	queue.SetTimeout(cfg.Queue.JobTimeoutDuration())
	queue.SetRecorder(recorder)
	svc.SetQueue(queue)

	d := &Daemon{
		cfg:      cfg,
		catalog:  cat,
		store:    store,
		jobs:     jobs,
		eventLog: eventLog,
		queue:    queue,
		service:  svc,
	}

	emitters := job.MultiEmitter{auditEmitter}
	if cfg.Events.Enabled {
		pub, err := events.NewPublisher(cfg.Events)
		if err != nil {
			// Event publishing is best effort; the daemon runs without it.
			slog.Warn("NATS publisher unavailable, lifecycle events disabled", "err", err)
		} else {
			d.publisher = pub
			emitters = append(emitters, pub)
		}
	}
	queue.SetEmitter(emitters)

	if cfg.Server.Enabled {
		d.httpSrv = server.New(cfg.Server.Addr, svc, eventLog, store, cat, registry)
	}
	if cfg.Sweep.Enabled {
		sweeper, err := NewSweeper(store, cfg.Sweep)
		if err != nil {
			d.closeStores()
			return nil, fmt.Errorf("create retention sweeper: %w", err)
		}
		d.sweeper = sweeper
	}
	if cfg.Spool.Enabled {
		spool, err := NewSpoolWatcher(cfg.Spool.Dir, store, cat)
		if err != nil {
			d.closeStores()
			return nil, fmt.Errorf("create spool watcher: %w", err)
		}
		d.spool = spool
	}

	return d, nil
}

// Service exposes the generation boundary (used by the one-shot CLI path).
func (d *Daemon) Service() *generate.Service { return d.service }

// Start launches the queue, watchers, and HTTP API, and requeues jobs left
// queued by a previous process.
func (d *Daemon) Start(ctx context.Context) error {
	d.queue.Start(ctx)

	if err := d.requeuePending(ctx); err != nil {
		return err
	}
	if d.sweeper != nil {
		d.sweeper.Start(ctx)
	}
	if d.spool != nil {
		if err := d.spool.Start(ctx); err != nil {
			return fmt.Errorf("start spool watcher: %w", err)
		}
	}
	if d.httpSrv != nil {
		if err := d.httpSrv.Start(ctx); err != nil {
			return fmt.Errorf("start http server: %w", err)
		}
	}
	slog.Info("Daemon started", "data_dir", d.cfg.DataDir)
	return nil
}

// requeuePending hands jobs that were queued at the last shutdown back to the
// worker pool. Jobs stuck in running are marked failed; their execution state
// died with the previous process.
func (d *Daemon) requeuePending(ctx context.Context) error {
	pending, err := d.jobs.ListByState(ctx, job.StateQueued)
	if err != nil {
		return fmt.Errorf("list queued jobs: %w", err)
	}
	for _, j := range pending {
		if err := d.queue.Enqueue(j); err != nil {
			slog.Warn("Requeue failed, job stays queued", "job_id", j.ID, "err", err)
		}
	}
	if len(pending) > 0 {
		slog.Info("Requeued pending jobs", "count", len(pending))
	}

	orphaned, err := d.jobs.ListByState(ctx, job.StateRunning)
	if err != nil {
		return fmt.Errorf("list running jobs: %w", err)
	}
	for _, j := range orphaned {
		detail := job.ErrorDetail{Kind: berrors.KindInternal, Message: "worker lost before completion"}
		if err := d.jobs.MarkError(ctx, j.ID, detail); err != nil {
			slog.Error("Marking orphaned job failed", "job_id", j.ID, "err", err)
		}
	}
	if len(orphaned) > 0 {
		slog.Warn("Failed orphaned running jobs from previous process", "count", len(orphaned))
	}
	return nil
}

// Stop shuts everything down in reverse start order and closes the stores.
func (d *Daemon) Stop(ctx context.Context) error {
	if d.httpSrv != nil {
		if err := d.httpSrv.Stop(ctx); err != nil {
			slog.Error("HTTP server shutdown failed", "err", err)
		}
	}
	if d.spool != nil {
		d.spool.Stop()
	}
	if d.sweeper != nil {
		if err := d.sweeper.Stop(); err != nil {
			slog.Error("Sweeper shutdown failed", "err", err)
		}
	}
	d.queue.Stop(ctx)
	if d.publisher != nil {
		_ = d.publisher.Close()
	}
	d.closeStores()
	slog.Info("Daemon stopped")
	return nil
}

func (d *Daemon) closeStores() {
	if err := d.eventLog.Close(); err != nil {
		slog.Error("Closing event store failed", "err", err)
	}
	if err := d.jobs.Close(); err != nil {
		slog.Error("Closing job store failed", "err", err)
	}
	if err := d.store.Close(); err != nil {
		slog.Error("Closing object store failed", "err", err)
	}
	if err := d.catalog.Close(); err != nil {
		slog.Error("Closing catalog failed", "err", err)
	}
}
