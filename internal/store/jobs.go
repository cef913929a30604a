package store

import (
	"context"
	"fmt"
	"time"

	"github.com/surrealdb/surrealdb.go"

	"github.com/pricedock/pricedock/internal/models"
)

// CreateJob persists a freshly created job record.
func (c *Client) CreateJob(ctx context.Context, job *models.JobRecord) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		CREATE type::record("job", $id) CONTENT $job
	`, map[string]any{"id": job.JobID, "job": job})
	if err != nil {
		return fmt.Errorf("create job: %w", wrapQueryError(err))
	}
	return nil
}

// GetJob retrieves a job record by id.
func (c *Client) GetJob(ctx context.Context, jobID string) (*models.JobRecord, error) {
	results, err := surrealdb.Query[[]models.JobRecord](ctx, c.db, `
		SELECT * FROM type::record("job", $id)
	`, map[string]any{"id": jobID})
	if err != nil {
		return nil, fmt.Errorf("get job: %w", wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	return &(*results)[0].Result[0], nil
}

// ListJobs returns the most recent job records, newest first.
func (c *Client) ListJobs(ctx context.Context, limit int) ([]models.JobRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	results, err := surrealdb.Query[[]models.JobRecord](ctx, c.db, `
		SELECT * FROM job ORDER BY created_at DESC LIMIT $limit
	`, map[string]any{"limit": limit})
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 {
		return []models.JobRecord{}, nil
	}
	return (*results)[0].Result, nil
}

// ListUnfinishedJobs returns jobs in a non-terminal phase, oldest first, for
// resume on daemon start.
func (c *Client) ListUnfinishedJobs(ctx context.Context) ([]models.JobRecord, error) {
	results, err := surrealdb.Query[[]models.JobRecord](ctx, c.db, `
		SELECT * FROM job
		WHERE phase NOT IN ["complete", "failed"]
		ORDER BY created_at ASC
	`, nil)
	if err != nil {
		return nil, fmt.Errorf("list unfinished jobs: %w", wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 {
		return []models.JobRecord{}, nil
	}
	return (*results)[0].Result, nil
}

// TransitionPhase performs a compare-and-swap phase change: the update only
// applies while the record still sits in the expected phase, which keeps two
// logical writers (orchestrator and analysis worker) from losing updates.
// extra fields are set alongside the phase. Returns the updated record, or
// ErrPhaseConflict when the CAS lost.
func (c *Client) TransitionPhase(ctx context.Context, jobID string, from, to models.Phase, extra map[string]any) (*models.JobRecord, error) {
	if !models.ValidTransition(from, to) {
		return nil, fmt.Errorf("illegal phase transition %s -> %s", from, to)
	}

	vars := map[string]any{
		"id":     jobID,
		"from":   string(from),
		"to":     string(to),
		"status": string(models.StatusForPhase(to)),
	}
	setClause := "phase = $to, status = $status, updated_at = time::now()"
	i := 0
	for field, value := range extra {
		key := fmt.Sprintf("extra%d", i)
		setClause += fmt.Sprintf(", %s = $%s", field, key)
		vars[key] = value
		i++
	}

	results, err := surrealdb.Query[[]models.JobRecord](ctx, c.db, fmt.Sprintf(`
		UPDATE type::record("job", $id) SET %s WHERE phase = $from RETURN AFTER
	`, setClause), vars)
	if err != nil {
		return nil, fmt.Errorf("transition phase: %w", wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		current, getErr := c.GetJob(ctx, jobID)
		if getErr != nil {
			return nil, getErr
		}
		return nil, fmt.Errorf("%w: job %s is %s, expected %s", ErrPhaseConflict, jobID, current.Phase, from)
	}
	return &(*results)[0].Result[0], nil
}

// UpdateJobFields sets non-phase fields on an active job record. Completed
// records are immutable apart from TTL expiry.
func (c *Client) UpdateJobFields(ctx context.Context, jobID string, fields map[string]any) error {
	vars := map[string]any{"id": jobID}
	setClause := "updated_at = time::now()"
	i := 0
	for field, value := range fields {
		key := fmt.Sprintf("f%d", i)
		setClause += fmt.Sprintf(", %s = $%s", field, key)
		vars[key] = value
		i++
	}

	_, err := surrealdb.Query[any](ctx, c.db, fmt.Sprintf(`
		UPDATE type::record("job", $id) SET %s WHERE phase != "complete"
	`, setClause), vars)
	if err != nil {
		return fmt.Errorf("update job fields: %w", wrapQueryError(err))
	}
	return nil
}

// UpdateDownloadProgress records bytes transferred during downloading.
func (c *Client) UpdateDownloadProgress(ctx context.Context, jobID string, p models.DownloadProgress) error {
	return c.UpdateJobFields(ctx, jobID, map[string]any{"download_progress": p})
}

// UpdateAnalysisProgress records row-level progress reported by the analysis
// worker.
func (c *Client) UpdateAnalysisProgress(ctx context.Context, jobID string, p models.AnalysisProgress) error {
	return c.UpdateJobFields(ctx, jobID, map[string]any{"analysis_progress": p})
}

// StaleJobs returns active jobs whose updated_at is older than cutoff; the
// watchdog fails them instead of killing anything mid-flight.
func (c *Client) StaleJobs(ctx context.Context, cutoff time.Time) ([]models.JobRecord, error) {
	results, err := surrealdb.Query[[]models.JobRecord](ctx, c.db, `
		SELECT * FROM job
		WHERE phase IN ["downloading", "analyzing", "matching"]
		  AND updated_at < $cutoff
	`, map[string]any{"cutoff": cutoff.UTC()})
	if err != nil {
		return nil, fmt.Errorf("stale jobs: %w", wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 {
		return []models.JobRecord{}, nil
	}
	return (*results)[0].Result, nil
}

// SweepExpiredJobs deletes terminal job records past their retention window.
func (c *Client) SweepExpiredJobs(ctx context.Context) (int, error) {
	results, err := surrealdb.Query[[]models.JobRecord](ctx, c.db, `
		DELETE job
		WHERE expires_at != NONE AND expires_at < time::now()
		RETURN BEFORE
	`, nil)
	if err != nil {
		return 0, fmt.Errorf("sweep expired jobs: %w", wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 {
		return 0, nil
	}
	return len((*results)[0].Result), nil
}
