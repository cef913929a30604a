package analyzer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pricedock/pricedock/internal/filestore"
	"github.com/pricedock/pricedock/internal/llm"
	"github.com/pricedock/pricedock/internal/match"
	"github.com/pricedock/pricedock/internal/metrics"
	"github.com/pricedock/pricedock/internal/models"
	"github.com/pricedock/pricedock/internal/parse"
	"github.com/pricedock/pricedock/internal/store"
)

type fakeStore struct {
	mu       sync.Mutex
	jobs     map[string]*models.JobRecord
	catalog  []models.CatalogItem
	review   []models.CatalogItem
	existing []models.CatalogItem
}

func newFakeStore(job *models.JobRecord) *fakeStore {
	clone := *job
	return &fakeStore{jobs: map[string]*models.JobRecord{job.JobID: &clone}}
}

func (s *fakeStore) GetJob(ctx context.Context, jobID string) (*models.JobRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrJobNotFound, jobID)
	}
	clone := *job
	return &clone, nil
}

func (s *fakeStore) TransitionPhase(ctx context.Context, jobID string, from, to models.Phase, extra map[string]any) (*models.JobRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job := s.jobs[jobID]
	if job.Phase != from {
		return nil, fmt.Errorf("%w: job %s is %s, expected %s", store.ErrPhaseConflict, jobID, job.Phase, from)
	}
	job.Phase = to
	job.Status = models.StatusForPhase(to)
	job.UpdatedAt = time.Now().UTC()
	for key, value := range extra {
		switch key {
		case "metrics":
			m := value.(models.ParsingMetrics)
			job.Metrics = &m
		case "row_errors":
			job.RowErrors = value.([]models.RowError)
		case "analysis_progress":
			job.Analysis = value.(models.AnalysisProgress)
		case "completed_at":
			t := value.(time.Time)
			job.CompletedAt = &t
		case "error":
			job.Error = value.(string)
		case "error_detail":
			job.ErrorDetail = value.([]string)
		}
	}
	clone := *job
	return &clone, nil
}

func (s *fakeStore) UpdateAnalysisProgress(ctx context.Context, jobID string, p models.AnalysisProgress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[jobID].Analysis = p
	return nil
}

func (s *fakeStore) UpsertCatalogItem(ctx context.Context, item models.CatalogItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.catalog = append(s.catalog, item)
	return nil
}

func (s *fakeStore) QueueForReview(ctx context.Context, item models.CatalogItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.review = append(s.review, item)
	return nil
}

func (s *fakeStore) CatalogItemsBySupplier(ctx context.Context, supplierID string) ([]models.CatalogItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.existing, nil
}

// scriptedBackend replays canned inference responses.
type scriptedBackend struct {
	responses []string
	calls     int
}

func (b *scriptedBackend) Generate(ctx context.Context, system, user string) (string, llm.Usage, error) {
	b.calls++
	if len(b.responses) == 0 {
		return "", llm.Usage{}, fmt.Errorf("no scripted response for call %d", b.calls)
	}
	resp := b.responses[0]
	b.responses = b.responses[1:]
	return resp, llm.Usage{InputTokens: 10, OutputTokens: 5}, nil
}

func (b *scriptedBackend) Healthy(ctx context.Context) error { return nil }

func newTestService(t *testing.T, st Store, backend llm.Backend, files *filestore.Store) *Service {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	engine := parse.NewEngine(backend, parse.Config{SampleRows: 20, ConfidenceThreshold: 0.7, StageARetries: 1}, logger)
	matcher := match.New(nil, match.Config{MatchThreshold: 0.85, ReviewThreshold: 0.65}, logger)
	return New(st, files, engine, matcher, backend, metrics.NewCollector(), logger)
}

func analyzingJob(fileRef string) *models.JobRecord {
	return &models.JobRecord{
		JobID:         "job-1",
		SupplierID:    "acme",
		Phase:         models.PhaseAnalyzing,
		Status:        models.StatusProcessing,
		SourceKind:    models.SourceDirectURL,
		FileReference: fileRef,
		FileType:      models.FileTypeDelimited,
	}
}

func TestRun_CompletesJob(t *testing.T) {
	files, err := filestore.New(t.TempDir(), 0)
	if err != nil {
		t.Fatal(err)
	}
	ref := "acme_20260314T000000_list.csv"
	content := "Name,SKU,Price\nDrill X200,D-1,1500\nHose 25m,H-2,200\n"
	if err := os.WriteFile(filepath.Join(files.Root(), ref), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	backend := &scriptedBackend{responses: []string{
		`{"header_rows": [0], "data_start_row": 1, "data_end_row": -1,
		  "column_mapping": {"name": 0, "sku": 1, "retail_price": 2},
		  "confidence": 0.9, "detected_currency": "RUB"}`,
		`[{"row_index": 1, "name": "Drill X200", "sku": "D-1", "retail_price_raw": "1500"},
		  {"row_index": 2, "name": "Hose 25m", "sku": "H-2", "retail_price_raw": "200"}]`,
	}}

	st := newFakeStore(analyzingJob(ref))
	// One row already exists under the same sku: it updates in place.
	st.existing = []models.CatalogItem{{SupplierID: "acme", SKU: "D-1", Record: models.NormalizedRecord{Name: "Drill X200"}}}

	svc := newTestService(t, st, backend, files)
	if err := svc.Run(context.Background(), "job-1"); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	job, _ := st.GetJob(context.Background(), "job-1")
	if job.Phase != models.PhaseComplete {
		t.Fatalf("Phase = %s, want complete (error: %s)", job.Phase, job.Error)
	}
	if job.CompletedAt == nil {
		t.Error("CompletedAt not set")
	}
	if job.Metrics == nil || job.Metrics.ParsedRows != 2 {
		t.Errorf("Metrics = %+v, want 2 parsed rows", job.Metrics)
	}
	if job.Analysis.ItemsProcessed != 2 || job.Analysis.MatchesFound != 1 {
		t.Errorf("Analysis = %+v, want 2 processed with 1 match", job.Analysis)
	}

	if len(st.catalog) != 2 {
		t.Fatalf("got %d catalog writes, want 2", len(st.catalog))
	}
	outcomes := map[models.MatchOutcome]int{}
	for _, item := range st.catalog {
		outcomes[item.Outcome]++
		if item.JobID != "job-1" || item.SupplierID != "acme" {
			t.Errorf("catalog item = %+v", item)
		}
	}
	if outcomes[models.MatchOutcomeMatched] != 1 || outcomes[models.MatchOutcomeNew] != 1 {
		t.Errorf("outcomes = %v, want one matched and one new", outcomes)
	}
	if len(st.review) != 0 {
		t.Errorf("review queue = %d items, want 0", len(st.review))
	}
}

func TestRun_PersistsRowErrors(t *testing.T) {
	files, err := filestore.New(t.TempDir(), 0)
	if err != nil {
		t.Fatal(err)
	}
	ref := "acme_20260314T000000_list.csv"
	content := "Name,SKU,Price\nDrill X200,D-1,1500\n,X-9,100\n"
	if err := os.WriteFile(filepath.Join(files.Root(), ref), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	backend := &scriptedBackend{responses: []string{
		`{"header_rows": [0], "data_start_row": 1, "data_end_row": -1,
		  "column_mapping": {"name": 0, "sku": 1, "retail_price": 2},
		  "confidence": 0.9}`,
		`[{"row_index": 1, "name": "Drill X200", "sku": "D-1", "retail_price_raw": "1500"},
		  {"row_index": 2, "name": "", "sku": "X-9", "retail_price_raw": "100"}]`,
	}}

	st := newFakeStore(analyzingJob(ref))
	svc := newTestService(t, st, backend, files)
	if err := svc.Run(context.Background(), "job-1"); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	job, _ := st.GetJob(context.Background(), "job-1")
	if job.Phase != models.PhaseComplete {
		t.Fatalf("Phase = %s, want complete (error: %s)", job.Phase, job.Error)
	}
	if job.Analysis.ErrorCount != 1 || job.Metrics.ErrorRows != 1 {
		t.Errorf("error counts = %d / %d, want 1 / 1", job.Analysis.ErrorCount, job.Metrics.ErrorRows)
	}

	// The failed row itself must survive on the record, not just its count.
	if len(job.RowErrors) != 1 {
		t.Fatalf("got %d row errors on the record, want 1", len(job.RowErrors))
	}
	re := job.RowErrors[0]
	if re.RowIndex != 2 {
		t.Errorf("RowIndex = %d, want 2", re.RowIndex)
	}
	if !strings.Contains(re.Raw, "X-9") {
		t.Errorf("Raw = %q, want the source row content", re.Raw)
	}
	if re.Reason == "" {
		t.Error("Reason not recorded")
	}
}

func TestRun_MissingFileFailsJob(t *testing.T) {
	files, err := filestore.New(t.TempDir(), 0)
	if err != nil {
		t.Fatal(err)
	}

	st := newFakeStore(analyzingJob("acme_nope.csv"))
	svc := newTestService(t, st, &scriptedBackend{}, files)

	if err := svc.Run(context.Background(), "job-1"); err == nil {
		t.Fatal("Run() succeeded with a missing file")
	}

	job, _ := st.GetJob(context.Background(), "job-1")
	if job.Phase != models.PhaseFailed {
		t.Errorf("Phase = %s, want failed", job.Phase)
	}
	if job.Error == "" {
		t.Error("failure cause not recorded")
	}
}

func TestRun_WrongPhaseRefused(t *testing.T) {
	files, err := filestore.New(t.TempDir(), 0)
	if err != nil {
		t.Fatal(err)
	}
	job := analyzingJob("ref.csv")
	job.Phase = models.PhaseDownloading
	st := newFakeStore(job)

	svc := newTestService(t, st, &scriptedBackend{}, files)
	if err := svc.Run(context.Background(), "job-1"); err == nil {
		t.Error("Run() accepted a job outside the analyzing phase")
	}
}
