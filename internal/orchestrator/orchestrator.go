// Package orchestrator owns job intake and the early job phases: it creates
// job records, lands source files, and hands analysis off to the worker. The
// analyzing and matching phases advance on the worker side; both sides go
// through the same compare-and-swap phase transitions.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/pricedock/pricedock/internal/analyzer"
	"github.com/pricedock/pricedock/internal/fetch"
	"github.com/pricedock/pricedock/internal/filestore"
	"github.com/pricedock/pricedock/internal/metrics"
	"github.com/pricedock/pricedock/internal/models"
	"github.com/pricedock/pricedock/internal/store"
)

// JobStore is the persistence surface the orchestrator uses.
type JobStore interface {
	CreateJob(ctx context.Context, job *models.JobRecord) error
	GetJob(ctx context.Context, jobID string) (*models.JobRecord, error)
	ListJobs(ctx context.Context, limit int) ([]models.JobRecord, error)
	ListUnfinishedJobs(ctx context.Context) ([]models.JobRecord, error)
	TransitionPhase(ctx context.Context, jobID string, from, to models.Phase, extra map[string]any) (*models.JobRecord, error)
	UpdateJobFields(ctx context.Context, jobID string, fields map[string]any) error
	UpdateDownloadProgress(ctx context.Context, jobID string, p models.DownloadProgress) error
}

// Analyzer is the trigger and status surface of the analysis worker.
type Analyzer interface {
	Healthy(ctx context.Context) error
	Trigger(ctx context.Context, job *models.JobRecord) (string, error)
	Status(ctx context.Context, remoteID string) (*analyzer.StatusResponse, error)
}

// Config holds the orchestrator's tunables.
type Config struct {
	WorkerSlots    int64
	MaxRetries     int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	JobTTL         time.Duration
}

// CreateJobRequest is the intake shape for a new ingestion job.
type CreateJobRequest struct {
	SupplierID    string            `json:"supplier_id" binding:"required"`
	SupplierName  string            `json:"supplier_name"`
	SourceKind    models.SourceKind `json:"source_kind" binding:"required"`
	SourceLocator string            `json:"source_locator" binding:"required"`
	Options       models.JobOptions `json:"options"`
}

// Orchestrator drives jobs from creation through the download phase and
// triggers the analysis worker.
type Orchestrator struct {
	store     JobStore
	files     *filestore.Store
	fetcher   *fetch.Fetcher
	analyzer  Analyzer
	cfg       Config
	sem       *semaphore.Weighted
	collector *metrics.Collector
	logger    *slog.Logger
}

// New creates an orchestrator.
func New(st JobStore, files *filestore.Store, fetcher *fetch.Fetcher, analyzer Analyzer, cfg Config, collector *metrics.Collector, logger *slog.Logger) *Orchestrator {
	if cfg.WorkerSlots <= 0 {
		cfg.WorkerSlots = 4
	}
	return &Orchestrator{
		store:     st,
		files:     files,
		fetcher:   fetcher,
		analyzer:  analyzer,
		cfg:       cfg,
		sem:       semaphore.NewWeighted(cfg.WorkerSlots),
		collector: collector,
		logger:    logger,
	}
}

// CreateJob persists a new job in the pending phase and dispatches it.
func (o *Orchestrator) CreateJob(ctx context.Context, req CreateJobRequest) (*models.JobRecord, error) {
	switch req.SourceKind {
	case models.SourceHostedSheet, models.SourceDirectURL, models.SourceLocalCopy:
	default:
		return nil, fmt.Errorf("unknown source kind %q", req.SourceKind)
	}

	now := time.Now().UTC()
	expires := now.Add(o.cfg.JobTTL)
	job := &models.JobRecord{
		JobID:         uuid.NewString(),
		SupplierID:    req.SupplierID,
		SupplierName:  req.SupplierName,
		Phase:         models.PhasePending,
		Status:        models.StatusPending,
		SourceKind:    req.SourceKind,
		SourceLocator: req.SourceLocator,
		MaxRetries:    o.cfg.MaxRetries,
		Options:       req.Options,
		CreatedAt:     now,
		UpdatedAt:     now,
		ExpiresAt:     &expires,
	}
	if err := o.store.CreateJob(ctx, job); err != nil {
		return nil, err
	}

	o.logger.Info("job created",
		"job_id", job.JobID,
		"supplier_id", job.SupplierID,
		"source_kind", job.SourceKind)

	go o.dispatch(job.JobID)
	return job, nil
}

// GetJob returns one job record.
func (o *Orchestrator) GetJob(ctx context.Context, jobID string) (*models.JobRecord, error) {
	return o.store.GetJob(ctx, jobID)
}

// ListJobs returns recent job records.
func (o *Orchestrator) ListJobs(ctx context.Context, limit int) ([]models.JobRecord, error) {
	return o.store.ListJobs(ctx, limit)
}

// Retry re-enters the downloading phase for a failed job. The stored file is
// reused when its checksum still verifies; otherwise the fetch runs again.
func (o *Orchestrator) Retry(ctx context.Context, jobID string) (*models.JobRecord, error) {
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Phase != models.PhaseFailed {
		return nil, fmt.Errorf("job %s is %s; only failed jobs can be retried", jobID, job.Phase)
	}

	updated, err := o.store.TransitionPhase(ctx, jobID, models.PhaseFailed, models.PhaseDownloading, map[string]any{
		"error": "",
	})
	if err != nil {
		return nil, err
	}
	metrics.PhaseTransitionsTotal.WithLabelValues(string(models.PhaseFailed), string(models.PhaseDownloading)).Inc()
	metrics.JobRetriesTotal.WithLabelValues(job.SupplierID).Inc()

	go o.dispatch(jobID)
	return updated, nil
}

// Resume re-dispatches unfinished jobs after a daemon restart. Jobs already
// handed to the worker are left alone; the watchdog reclaims them if the
// worker never finishes.
func (o *Orchestrator) Resume(ctx context.Context) error {
	jobs, err := o.store.ListUnfinishedJobs(ctx)
	if err != nil {
		return err
	}
	for _, job := range jobs {
		switch job.Phase {
		case models.PhasePending, models.PhaseDownloading:
			o.logger.Info("resuming job", "job_id", job.JobID, "phase", job.Phase)
			go o.dispatch(job.JobID)
		case models.PhaseAnalyzing:
			if job.RemoteJobID == "" {
				o.logger.Info("re-triggering analysis", "job_id", job.JobID)
				go o.dispatch(job.JobID)
				continue
			}
			status, err := o.analyzer.Status(ctx, job.RemoteJobID)
			if err != nil {
				// The watchdog settles runs the worker lost track of.
				o.logger.Warn("cannot probe in-flight analysis",
					"job_id", job.JobID, "remote_job_id", job.RemoteJobID, "error", err)
				continue
			}
			o.logger.Info("analysis still in flight",
				"job_id", job.JobID, "remote_job_id", job.RemoteJobID, "phase", status.Phase)
		}
	}
	return nil
}

// dispatch runs one job through the phases the orchestrator owns, bounded by
// the worker slot semaphore.
func (o *Orchestrator) dispatch(jobID string) {
	ctx := context.Background()
	if err := o.sem.Acquire(ctx, 1); err != nil {
		return
	}
	defer o.sem.Release(1)

	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		o.logger.Error("cannot load job for dispatch", "job_id", jobID, "error", err)
		return
	}

	if job.Phase == models.PhasePending {
		now := time.Now().UTC()
		job, err = o.store.TransitionPhase(ctx, jobID, models.PhasePending, models.PhaseDownloading, map[string]any{
			"started_at": now,
		})
		if err != nil {
			o.logger.Error("cannot start job", "job_id", jobID, "error", err)
			return
		}
		metrics.PhaseTransitionsTotal.WithLabelValues(string(models.PhasePending), string(models.PhaseDownloading)).Inc()
	}

	if job.Phase == models.PhaseDownloading {
		job, err = o.download(ctx, job)
		if err != nil {
			o.fail(ctx, job, err)
			return
		}
	}

	if job.Phase == models.PhaseAnalyzing {
		if err := o.trigger(ctx, job); err != nil {
			o.fail(ctx, job, err)
		}
	}
}

// download lands the source file, with backoff on transient failures, and
// advances the job to analyzing. A verified previous download is reused.
func (o *Orchestrator) download(ctx context.Context, job *models.JobRecord) (*models.JobRecord, error) {
	var result *fetch.Result

	if job.FileReference != "" && job.Checksum != "" {
		if ok, err := fetch.VerifyChecksum(o.files, job.FileReference, job.Checksum); err == nil && ok {
			o.logger.Info("reusing verified download", "job_id", job.JobID, "file_reference", job.FileReference)
			result = &fetch.Result{
				FileReference: job.FileReference,
				FileType:      job.FileType,
				Size:          job.FileSize,
				Checksum:      job.Checksum,
			}
		}
	}

	if result == nil {
		start := time.Now()
		policy := DefaultPolicy(o.cfg.MaxRetries, o.cfg.RetryBaseDelay, o.cfg.RetryMaxDelay)
		err := policy.Do(ctx, o.logger, "fetch", func() error {
			res, err := o.fetcher.Fetch(ctx, job.SourceKind, job.SourceLocator, job.SupplierID, job.JobID, o.progressFunc(ctx, job.JobID))
			if err != nil {
				return err
			}
			result = res
			return nil
		}, fetch.IsTransient, func(failures int) {
			metrics.JobRetriesTotal.WithLabelValues(job.SupplierID).Inc()
			if err := o.store.UpdateJobFields(ctx, job.JobID, map[string]any{"retry_count": failures}); err != nil {
				o.logger.Warn("failed to persist retry count", "job_id", job.JobID, "error", err)
			}
		})
		if err != nil {
			return job, fmt.Errorf("download source: %w", err)
		}
		o.collector.RecordTiming(metrics.OpFetch, time.Since(start))
		metrics.ObserveStage("fetch", time.Since(start))
		metrics.FetchBytesTotal.WithLabelValues(string(job.SourceKind)).Add(float64(result.Size))
	}

	// The record enters analyzing before the trigger fires: the worker only
	// accepts jobs already in that phase, and a trigger that never lands
	// settles the job as failed.
	updated, err := o.store.TransitionPhase(ctx, job.JobID, models.PhaseDownloading, models.PhaseAnalyzing, map[string]any{
		"file_reference": result.FileReference,
		"file_type":      result.FileType,
		"file_size":      result.Size,
		"checksum":       result.Checksum,
	})
	if err != nil {
		return job, err
	}
	metrics.PhaseTransitionsTotal.WithLabelValues(string(models.PhaseDownloading), string(models.PhaseAnalyzing)).Inc()
	return updated, nil
}

// trigger probes the worker and starts the analysis. An unhealthy worker
// fails the job immediately; the retry budget is reserved for transient
// trigger errors against a live worker.
func (o *Orchestrator) trigger(ctx context.Context, job *models.JobRecord) error {
	if err := o.analyzer.Healthy(ctx); err != nil {
		return fmt.Errorf("analysis worker health: %w", err)
	}

	var remoteID string
	policy := DefaultPolicy(o.cfg.MaxRetries, o.cfg.RetryBaseDelay, o.cfg.RetryMaxDelay)
	err := policy.Do(ctx, o.logger, "trigger analysis", func() error {
		id, err := o.analyzer.Trigger(ctx, job)
		if err != nil {
			return err
		}
		remoteID = id
		return nil
	}, nil, func(failures int) {
		metrics.JobRetriesTotal.WithLabelValues(job.SupplierID).Inc()
	})
	if err != nil {
		return err
	}

	if err := o.store.UpdateJobFields(ctx, job.JobID, map[string]any{"remote_job_id": remoteID}); err != nil {
		o.logger.Warn("failed to persist remote job id", "job_id", job.JobID, "error", err)
	}
	o.logger.Info("analysis triggered", "job_id", job.JobID, "remote_job_id", remoteID)
	return nil
}

// progressFunc returns a throttled download progress reporter.
func (o *Orchestrator) progressFunc(ctx context.Context, jobID string) fetch.ProgressFunc {
	var lastReport time.Time
	return func(transferred, total int64) {
		if time.Since(lastReport) < time.Second {
			return
		}
		lastReport = time.Now()
		if err := o.store.UpdateDownloadProgress(ctx, jobID, models.DownloadProgress{
			BytesTransferred: transferred,
			BytesTotal:       total,
		}); err != nil {
			o.logger.Warn("failed to report download progress", "job_id", jobID, "error", err)
		}
	}
}

// fail settles a job in the failed phase with its cause recorded.
func (o *Orchestrator) fail(ctx context.Context, job *models.JobRecord, cause error) {
	o.logger.Error("job failed", "job_id", job.JobID, "phase", job.Phase, "error", cause)

	current, err := o.store.GetJob(ctx, job.JobID)
	if err != nil {
		o.logger.Error("cannot load job to fail it", "job_id", job.JobID, "error", err)
		return
	}
	if current.Phase.Terminal() {
		return
	}

	detail := append(current.ErrorDetail, fmt.Sprintf("%s: %v", time.Now().UTC().Format(time.RFC3339), cause))
	if _, err := o.store.TransitionPhase(ctx, job.JobID, current.Phase, models.PhaseFailed, map[string]any{
		"error":        cause.Error(),
		"error_detail": detail,
	}); err != nil && !errors.Is(err, store.ErrPhaseConflict) {
		o.logger.Error("failed to mark job failed", "job_id", job.JobID, "error", err)
		return
	}
	metrics.PhaseTransitionsTotal.WithLabelValues(string(current.Phase), string(models.PhaseFailed)).Inc()
	metrics.JobsTotal.WithLabelValues(job.SupplierID, "failed").Inc()
}
