package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"

	"git.home.luguber.info/inful/bookbinder/internal/config"
	"git.home.luguber.info/inful/bookbinder/internal/storage"
)

// Sweeper periodically deletes generated outputs older than the retention
// window. Source documents and datasets are never swept; they are catalog
// assets, not derived artifacts.
type Sweeper struct {
	scheduler gocron.Scheduler
	store     storage.ObjectStore
	interval  time.Duration
	retention time.Duration
}

// NewSweeper creates the retention sweeper.
func NewSweeper(store storage.ObjectStore, cfg config.SweepConfig) (*Sweeper, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create gocron scheduler: %w", err)
	}
	return &Sweeper{
		scheduler: s,
		store:     store,
		interval:  cfg.IntervalDuration(),
		retention: cfg.RetentionDuration(),
	}, nil
}

// Start schedules the periodic sweep and begins the scheduler.
func (s *Sweeper) Start(ctx context.Context) {
	_, err := s.scheduler.NewJob(
		gocron.DurationJob(s.interval),
		gocron.NewTask(func() { s.sweep(ctx) }),
		gocron.WithName("output-retention-sweep"),
	)
	if err != nil {
		slog.Error("Scheduling retention sweep failed", "err", err)
		return
	}
	s.scheduler.Start()
	slog.Info("Retention sweep scheduled", "interval", s.interval, "retention", s.retention)
}

// Stop shuts the scheduler down.
func (s *Sweeper) Stop() error {
	return s.scheduler.Shutdown()
}

func (s *Sweeper) sweep(ctx context.Context) {
	cutoff := time.Now().Add(-s.retention)
	refs, err := s.store.List(ctx, storage.ObjectTypeOutput)
	if err != nil {
		slog.Error("Retention sweep listing failed", "err", err)
		return
	}

	removed := 0
	for _, ref := range refs {
		meta, err := s.store.Info(ctx, ref)
		if err != nil {
			slog.Warn("Retention sweep metadata read failed", "ref", ref, "err", err)
			continue
		}
		if meta.CreatedAt.After(cutoff) {
			continue
		}
		if err := s.store.Delete(ctx, ref); err != nil {
			slog.Warn("Retention sweep delete failed", "ref", ref, "err", err)
			continue
		}
		removed++
	}
	if removed > 0 {
		slog.Info("Retention sweep removed expired outputs", "count", removed, "cutoff", cutoff)
	}
}
