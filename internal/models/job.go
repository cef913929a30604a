// Package models defines data structures shared across the ingestion pipeline.
package models

import (
	"fmt"
	"time"
)

// Phase is a named stage in an ingestion job's lifecycle.
type Phase string

const (
	PhasePending     Phase = "pending"
	PhaseDownloading Phase = "downloading"
	PhaseAnalyzing   Phase = "analyzing"
	PhaseMatching    Phase = "matching"
	PhaseComplete    Phase = "complete"
	PhaseFailed      Phase = "failed"
)

// Status is the coarse job state exposed to pollers.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// phaseEdges enumerates every legal phase transition. Retrying a failed job
// re-enters downloading; everything else moves strictly forward.
var phaseEdges = map[Phase][]Phase{
	PhasePending:     {PhaseDownloading, PhaseFailed},
	PhaseDownloading: {PhaseAnalyzing, PhaseFailed},
	PhaseAnalyzing:   {PhaseMatching, PhaseFailed},
	PhaseMatching:    {PhaseComplete, PhaseFailed},
	PhaseFailed:      {PhaseDownloading},
	PhaseComplete:    {},
}

// ValidTransition reports whether from -> to is a legal phase edge.
func ValidTransition(from, to Phase) bool {
	for _, next := range phaseEdges[from] {
		if next == to {
			return true
		}
	}
	return false
}

// StatusForPhase derives the coarse status from a phase.
func StatusForPhase(p Phase) Status {
	switch p {
	case PhasePending:
		return StatusPending
	case PhaseComplete:
		return StatusCompleted
	case PhaseFailed:
		return StatusFailed
	default:
		return StatusProcessing
	}
}

// Terminal reports whether a phase admits no automatic transition.
func (p Phase) Terminal() bool {
	return p == PhaseComplete || p == PhaseFailed
}

// FileType is the closed set of input shapes the pipeline understands.
type FileType string

const (
	FileTypeSpreadsheet FileType = "structured-spreadsheet"
	FileTypeDelimited   FileType = "delimited-text"
	FileTypeDocument    FileType = "document"
)

// SourceKind identifies where raw bytes come from.
type SourceKind string

const (
	SourceHostedSheet SourceKind = "hosted-spreadsheet"
	SourceDirectURL   SourceKind = "direct-url"
	SourceLocalCopy   SourceKind = "local-copy"
)

// DownloadProgress tracks bytes transferred during the downloading phase.
type DownloadProgress struct {
	BytesTransferred int64 `json:"bytes_transferred"`
	BytesTotal       int64 `json:"bytes_total,omitempty"` // 0 when unknown
}

// AnalysisProgress tracks row-level work reported by the analysis worker.
type AnalysisProgress struct {
	ItemsProcessed int `json:"items_processed"`
	ItemsTotal     int `json:"items_total"`
	MatchesFound   int `json:"matches_found"`
	ReviewQueued   int `json:"review_queued"`
	ErrorCount     int `json:"error_count"`
}

// JobOptions carries per-job knobs supplied by the caller at creation time.
type JobOptions struct {
	DefaultCurrency    string `json:"default_currency,omitempty"`
	CompositeDelimiter string `json:"composite_delimiter,omitempty"`
	UseMLProcessing    bool   `json:"use_ml_processing,omitempty"`
}

// JobRecord is the single source of truth for one ingestion attempt. It lives
// in the shared state store and is polled by external consumers; the
// orchestrator owns phase/download fields, the analysis worker owns
// analysis/matching progress.
type JobRecord struct {
	JobID        string `json:"job_id"`
	SupplierID   string `json:"supplier_id"`
	SupplierName string `json:"supplier_name,omitempty"`

	Phase  Phase  `json:"phase"`
	Status Status `json:"status"`

	SourceKind    SourceKind `json:"source_kind"`
	SourceLocator string     `json:"source_locator"`

	Download DownloadProgress `json:"download_progress"`
	Analysis AnalysisProgress `json:"analysis_progress"`

	FileReference string   `json:"file_reference,omitempty"`
	FileType      FileType `json:"file_type,omitempty"`
	FileSize      int64    `json:"file_size,omitempty"`
	Checksum      string   `json:"checksum,omitempty"`

	RemoteJobID string `json:"remote_job_id,omitempty"`

	Error       string   `json:"error,omitempty"`
	ErrorDetail []string `json:"error_detail,omitempty"`
	RetryCount  int      `json:"retry_count"`
	MaxRetries  int      `json:"max_retries"`

	// RowErrors keeps the individual data rows that failed extraction, with
	// their index and raw content, for inspection after the job completes.
	RowErrors []RowError `json:"row_errors,omitempty"`

	Options JobOptions `json:"options"`

	Metrics *ParsingMetrics `json:"metrics,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// Transition validates and applies a phase change in place, keeping the
// derived status in sync. It does not touch persistence; the store layer
// performs the equivalent check atomically.
func (j *JobRecord) Transition(to Phase) error {
	if !ValidTransition(j.Phase, to) {
		return fmt.Errorf("illegal phase transition %s -> %s for job %s", j.Phase, to, j.JobID)
	}
	j.Phase = to
	j.Status = StatusForPhase(to)
	j.UpdatedAt = time.Now().UTC()
	return nil
}

// ParsingMetrics summarizes a completed parsing run.
type ParsingMetrics struct {
	TotalRows   int `json:"total_rows"`
	ParsedRows  int `json:"parsed_rows"`
	SkippedRows int `json:"skipped_rows"`
	ErrorRows   int `json:"error_rows"`

	StageATokens int `json:"stage_a_tokens"`
	StageBTokens int `json:"stage_b_tokens"`

	DurationMs int64            `json:"duration_ms"`
	StageMs    map[string]int64 `json:"stage_ms,omitempty"`

	// FieldExtractionRate maps a field name to the fraction of parsed rows
	// that produced a value for it.
	FieldExtractionRate map[string]float64 `json:"field_extraction_rate,omitempty"`
}

// RowError records one data row that failed extraction. Row errors never
// abort a batch; they are kept for later inspection.
type RowError struct {
	RowIndex int    `json:"row_index"`
	Raw      string `json:"raw"`
	Reason   string `json:"reason"`
}
