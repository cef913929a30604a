// Package analyzer is the inference-side worker: it parses stored price
// lists, reconciles the results against the catalog, and advances job records
// through the analyzing and matching phases.
package analyzer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pricedock/pricedock/internal/filestore"
	"github.com/pricedock/pricedock/internal/llm"
	"github.com/pricedock/pricedock/internal/match"
	"github.com/pricedock/pricedock/internal/metrics"
	"github.com/pricedock/pricedock/internal/models"
	"github.com/pricedock/pricedock/internal/parse"
	"github.com/pricedock/pricedock/internal/store"
	"github.com/pricedock/pricedock/internal/tabular"
)

// Store is the subset of job and catalog persistence the service uses.
type Store interface {
	GetJob(ctx context.Context, jobID string) (*models.JobRecord, error)
	TransitionPhase(ctx context.Context, jobID string, from, to models.Phase, extra map[string]any) (*models.JobRecord, error)
	UpdateAnalysisProgress(ctx context.Context, jobID string, p models.AnalysisProgress) error
	UpsertCatalogItem(ctx context.Context, item models.CatalogItem) error
	QueueForReview(ctx context.Context, item models.CatalogItem) error
	CatalogItemsBySupplier(ctx context.Context, supplierID string) ([]models.CatalogItem, error)
}

// Service runs one analysis per accepted job. It owns the analyzing and
// matching phases of the job record; the orchestrator owns everything before.
type Service struct {
	store     Store
	files     *filestore.Store
	engine    *parse.Engine
	matcher   *match.Matcher
	backend   llm.Backend
	collector *metrics.Collector
	logger    *slog.Logger

	mu     sync.Mutex
	active map[string]string // remote job id -> job id
}

// New creates the analysis service.
func New(st Store, files *filestore.Store, engine *parse.Engine, matcher *match.Matcher, backend llm.Backend, collector *metrics.Collector, logger *slog.Logger) *Service {
	return &Service{
		store:     st,
		files:     files,
		engine:    engine,
		matcher:   matcher,
		backend:   backend,
		collector: collector,
		logger:    logger,
		active:    make(map[string]string),
	}
}

// Healthy reports whether the inference backend is reachable.
func (s *Service) Healthy(ctx context.Context) error {
	return s.backend.Healthy(ctx)
}

// Accept registers a job for analysis under remoteID and runs it in the
// background. The job must already sit in the analyzing phase.
func (s *Service) Accept(jobID, remoteID string) {
	s.mu.Lock()
	s.active[remoteID] = jobID
	s.mu.Unlock()

	go func() {
		ctx := context.Background()
		if err := s.Run(ctx, jobID); err != nil {
			s.logger.Error("analysis run failed", "job_id", jobID, "error", err)
		}
		s.mu.Lock()
		delete(s.active, remoteID)
		s.mu.Unlock()
	}()
}

// Lookup resolves a remote job id to the underlying job id.
func (s *Service) Lookup(remoteID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	jobID, ok := s.active[remoteID]
	return jobID, ok
}

// Run executes the analyzing and matching phases for one job and drives its
// record to complete, or to failed with the cause attached.
func (s *Service) Run(ctx context.Context, jobID string) error {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Phase != models.PhaseAnalyzing {
		return fmt.Errorf("job %s is %s, expected %s", jobID, job.Phase, models.PhaseAnalyzing)
	}

	result, err := s.analyze(ctx, job)
	if err != nil {
		s.fail(ctx, job, err)
		return err
	}

	extra := map[string]any{
		"metrics": result.Metrics,
	}
	if len(result.RowErrors) > 0 {
		// Failed rows stay inspectable on the record, index and raw
		// content included, after the job settles.
		extra["row_errors"] = result.RowErrors
	}
	job, err = s.store.TransitionPhase(ctx, jobID, models.PhaseAnalyzing, models.PhaseMatching, extra)
	if err != nil {
		if errors.Is(err, store.ErrPhaseConflict) {
			// The watchdog or a retry got here first; this run's results
			// are stale and must not advance the record.
			s.logger.Warn("lost analyzing phase, abandoning run", "job_id", jobID)
			return nil
		}
		return err
	}
	metrics.PhaseTransitionsTotal.WithLabelValues(string(models.PhaseAnalyzing), string(models.PhaseMatching)).Inc()

	progress, err := s.reconcile(ctx, job, result)
	if err != nil {
		s.fail(ctx, job, err)
		return err
	}

	now := time.Now().UTC()
	if _, err := s.store.TransitionPhase(ctx, jobID, models.PhaseMatching, models.PhaseComplete, map[string]any{
		"analysis_progress": progress,
		"completed_at":      now,
	}); err != nil {
		if errors.Is(err, store.ErrPhaseConflict) {
			s.logger.Warn("lost matching phase, abandoning run", "job_id", jobID)
			return nil
		}
		return err
	}
	metrics.PhaseTransitionsTotal.WithLabelValues(string(models.PhaseMatching), string(models.PhaseComplete)).Inc()
	metrics.JobsTotal.WithLabelValues(job.SupplierID, "complete").Inc()

	s.logger.Info("job complete",
		"job_id", jobID,
		"supplier_id", job.SupplierID,
		"parsed_rows", result.Metrics.ParsedRows,
		"error_rows", result.Metrics.ErrorRows,
		"fallback", result.Fallback)
	return nil
}

// analyze reads the stored file and runs the two-stage parsing engine.
func (s *Service) analyze(ctx context.Context, job *models.JobRecord) (*parse.Result, error) {
	path, err := s.files.Resolve(job.FileReference)
	if err != nil {
		if errors.Is(err, filestore.ErrOutsideAllowedRoot) {
			metrics.SecurityEventsTotal.Inc()
			s.logger.Error("rejected file reference", "job_id", job.JobID, "reference", job.FileReference)
		}
		return nil, fmt.Errorf("resolve stored file: %w", err)
	}

	doc, err := tabular.Read(path, job.FileType)
	if err != nil {
		return nil, err
	}

	if err := s.store.UpdateAnalysisProgress(ctx, job.JobID, models.AnalysisProgress{
		ItemsTotal: len(doc.Rows),
	}); err != nil {
		s.logger.Warn("failed to report initial progress", "job_id", job.JobID, "error", err)
	}

	result, err := s.engine.Parse(ctx, doc, parse.Options{
		DefaultCurrency:    job.Options.DefaultCurrency,
		CompositeDelimiter: job.Options.CompositeDelimiter,
	})
	if err != nil {
		return nil, err
	}

	s.recordParseMetrics(job, result)
	return result, nil
}

func (s *Service) recordParseMetrics(job *models.JobRecord, result *parse.Result) {
	if ms, ok := result.Metrics.StageMs["structure_analysis"]; ok {
		d := time.Duration(ms) * time.Millisecond
		s.collector.RecordInference(metrics.OpStructureAnalysis, d, int64(result.Metrics.StageATokens), 0)
		metrics.ObserveStage("structure_analysis", d)
	}
	if result.Fallback {
		d := time.Duration(result.Metrics.StageMs["fallback_extraction"]) * time.Millisecond
		s.collector.RecordInference(metrics.OpFallbackParse, d, int64(result.Metrics.StageBTokens), 0)
		metrics.ObserveStage("fallback_extraction", d)
		metrics.FallbackParsesTotal.Inc()
	} else {
		d := time.Duration(result.Metrics.StageMs["targeted_extraction"]) * time.Millisecond
		s.collector.RecordInference(metrics.OpTargetedExtraction, d, int64(result.Metrics.StageBTokens), 0)
		metrics.ObserveStage("targeted_extraction", d)
	}

	metrics.RowsTotal.WithLabelValues(job.SupplierID, "parsed").Add(float64(result.Metrics.ParsedRows))
	metrics.RowsTotal.WithLabelValues(job.SupplierID, "skipped").Add(float64(result.Metrics.SkippedRows))
	metrics.RowsTotal.WithLabelValues(job.SupplierID, "error").Add(float64(result.Metrics.ErrorRows))

	stage := "targeted"
	if result.Fallback {
		stage = "fallback"
	}
	metrics.InferenceTokensTotal.WithLabelValues("structure_analysis").Add(float64(result.Metrics.StageATokens))
	metrics.InferenceTokensTotal.WithLabelValues(stage).Add(float64(result.Metrics.StageBTokens))
}

// reconcile runs the matching phase: existing catalog lookup, match decisions,
// and catalog writes, reporting progress as it goes.
func (s *Service) reconcile(ctx context.Context, job *models.JobRecord, result *parse.Result) (models.AnalysisProgress, error) {
	progress := models.AnalysisProgress{
		ItemsTotal: len(result.Records),
		ErrorCount: len(result.RowErrors),
	}

	existing, err := s.store.CatalogItemsBySupplier(ctx, job.SupplierID)
	if err != nil {
		return progress, err
	}

	matchStart := time.Now()
	outcomes, err := s.matcher.Match(ctx, job.SupplierID, job.JobID, result.Records, existing, job.Options.UseMLProcessing)
	if err != nil {
		return progress, fmt.Errorf("match records: %w", err)
	}
	s.collector.RecordTiming(metrics.OpMatching, time.Since(matchStart))
	metrics.ObserveStage("matching", time.Since(matchStart))

	for i, outcome := range outcomes {
		switch outcome.Item.Outcome {
		case models.MatchOutcomeReview:
			if err := s.store.QueueForReview(ctx, outcome.Item); err != nil {
				return progress, err
			}
			progress.ReviewQueued++
		default:
			if err := s.store.UpsertCatalogItem(ctx, outcome.Item); err != nil {
				return progress, err
			}
			if outcome.Item.Outcome == models.MatchOutcomeMatched {
				progress.MatchesFound++
			}
		}
		metrics.MatchOutcomesTotal.WithLabelValues(job.SupplierID, string(outcome.Item.Outcome)).Inc()
		progress.ItemsProcessed = i + 1

		if progress.ItemsProcessed%50 == 0 {
			if err := s.store.UpdateAnalysisProgress(ctx, job.JobID, progress); err != nil {
				s.logger.Warn("failed to report matching progress", "job_id", job.JobID, "error", err)
			}
		}
	}

	return progress, nil
}

// fail moves the job to failed from whatever active phase it is in, recording
// the cause. A CAS conflict here means someone else already settled the job.
func (s *Service) fail(ctx context.Context, job *models.JobRecord, cause error) {
	current, err := s.store.GetJob(ctx, job.JobID)
	if err != nil {
		s.logger.Error("cannot load job to fail it", "job_id", job.JobID, "error", err)
		return
	}
	if current.Phase.Terminal() {
		return
	}

	detail := append(current.ErrorDetail, fmt.Sprintf("%s: %v", time.Now().UTC().Format(time.RFC3339), cause))
	if _, err := s.store.TransitionPhase(ctx, job.JobID, current.Phase, models.PhaseFailed, map[string]any{
		"error":        cause.Error(),
		"error_detail": detail,
	}); err != nil && !errors.Is(err, store.ErrPhaseConflict) {
		s.logger.Error("failed to mark job failed", "job_id", job.JobID, "error", err)
		return
	}
	metrics.PhaseTransitionsTotal.WithLabelValues(string(current.Phase), string(models.PhaseFailed)).Inc()
	metrics.JobsTotal.WithLabelValues(job.SupplierID, "failed").Inc()
}
