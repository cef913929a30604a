package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/pricedock/pricedock/internal/filestore"
	"github.com/pricedock/pricedock/internal/metrics"
	"github.com/pricedock/pricedock/internal/models"
	"github.com/pricedock/pricedock/internal/store"
)

// WatchdogStore is the persistence surface the watchdog uses.
type WatchdogStore interface {
	StaleJobs(ctx context.Context, cutoff time.Time) ([]models.JobRecord, error)
	TransitionPhase(ctx context.Context, jobID string, from, to models.Phase, extra map[string]any) (*models.JobRecord, error)
	SweepExpiredJobs(ctx context.Context) (int, error)
}

// Watchdog fails jobs whose progress heartbeat went silent and sweeps expired
// job records and aged stored files on a schedule.
type Watchdog struct {
	store         WatchdogStore
	files         *filestore.Store
	staleTimeout  time.Duration
	sidecarMaxAge time.Duration
	cron          *cron.Cron
	logger        *slog.Logger
}

// NewWatchdog creates a watchdog; Start arms its schedule.
func NewWatchdog(st WatchdogStore, files *filestore.Store, staleTimeout, sidecarMaxAge time.Duration, logger *slog.Logger) *Watchdog {
	return &Watchdog{
		store:         st,
		files:         files,
		staleTimeout:  staleTimeout,
		sidecarMaxAge: sidecarMaxAge,
		cron:          cron.New(),
		logger:        logger,
	}
}

// Start registers the stale check and the sweeps and starts the scheduler.
func (w *Watchdog) Start() error {
	if _, err := w.cron.AddFunc("@every 5m", func() {
		if err := w.CheckStale(context.Background()); err != nil {
			w.logger.Error("stale job check failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("schedule stale check: %w", err)
	}

	if _, err := w.cron.AddFunc("@every 1h", func() {
		if err := w.SweepJobs(context.Background()); err != nil {
			w.logger.Error("job sweep failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("schedule job sweep: %w", err)
	}

	if _, err := w.cron.AddFunc("@daily", func() {
		if err := w.SweepFiles(); err != nil {
			w.logger.Error("file sweep failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("schedule file sweep: %w", err)
	}

	w.cron.Start()
	w.logger.Info("watchdog started",
		"stale_timeout", w.staleTimeout,
		"sidecar_max_age", w.sidecarMaxAge)
	return nil
}

// Stop halts the scheduler, waiting for in-flight runs.
func (w *Watchdog) Stop() {
	ctx := w.cron.Stop()
	<-ctx.Done()
}

// CheckStale fails active jobs whose last update is older than the stale
// timeout. The compare-and-swap transition ensures a job that moved on in the
// meantime is left alone.
func (w *Watchdog) CheckStale(ctx context.Context) error {
	cutoff := time.Now().Add(-w.staleTimeout)
	stale, err := w.store.StaleJobs(ctx, cutoff)
	if err != nil {
		return err
	}

	for _, job := range stale {
		cause := fmt.Sprintf("no progress for %s in phase %s", w.staleTimeout, job.Phase)
		detail := append(job.ErrorDetail, fmt.Sprintf("%s: watchdog: %s", time.Now().UTC().Format(time.RFC3339), cause))
		if _, err := w.store.TransitionPhase(ctx, job.JobID, job.Phase, models.PhaseFailed, map[string]any{
			"error":        cause,
			"error_detail": detail,
		}); err != nil {
			if errors.Is(err, store.ErrPhaseConflict) {
				continue
			}
			w.logger.Error("failed to fail stale job", "job_id", job.JobID, "error", err)
			continue
		}
		metrics.PhaseTransitionsTotal.WithLabelValues(string(job.Phase), string(models.PhaseFailed)).Inc()
		metrics.JobsTotal.WithLabelValues(job.SupplierID, "failed").Inc()
		w.logger.Warn("stale job failed by watchdog", "job_id", job.JobID, "phase", job.Phase)
	}
	return nil
}

// SweepJobs deletes terminal job records past their retention window.
func (w *Watchdog) SweepJobs(ctx context.Context) error {
	n, err := w.store.SweepExpiredJobs(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		w.logger.Info("expired job records removed", "count", n)
	}
	return nil
}

// SweepFiles removes stored files whose provenance is older than the
// retention window.
func (w *Watchdog) SweepFiles() error {
	n, err := w.files.Sweep(w.sidecarMaxAge, w.logger)
	if err != nil {
		return err
	}
	if n > 0 {
		w.logger.Info("expired stored files removed", "count", n)
	}
	return nil
}
