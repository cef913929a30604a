package analyzer

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pricedock/pricedock/internal/filestore"
	"github.com/pricedock/pricedock/internal/metrics"
	"github.com/pricedock/pricedock/internal/models"
)

func newTestRouter(t *testing.T, st Store) http.Handler {
	t.Helper()
	files, err := filestore.New(t.TempDir(), 0)
	if err != nil {
		t.Fatal(err)
	}
	svc := newTestService(t, st, &scriptedBackend{}, files)
	return NewRouter(svc, metrics.NewCollector(), svc.logger)
}

func TestRouter_MetricsExposed(t *testing.T) {
	router := newTestRouter(t, newFakeStore(analyzingJob("ref.csv")))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("GET /metrics = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "pricedock_") {
		t.Error("metrics output missing pipeline counters")
	}
}

func TestRouter_AnalyzeRejectsMismatchedFileReference(t *testing.T) {
	router := newTestRouter(t, newFakeStore(analyzingJob("acme_real.csv")))

	body := strings.NewReader(`{"job_id": "job-1", "file_reference": "acme_other.csv"}`)
	req := httptest.NewRequest(http.MethodPost, "/analyze", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("POST /analyze = %d, want 409 on mismatched file reference", rec.Code)
	}
}

func TestRouter_AnalyzeRejectsWrongPhase(t *testing.T) {
	job := analyzingJob("ref.csv")
	job.Phase = models.PhaseDownloading
	router := newTestRouter(t, newFakeStore(job))

	body := strings.NewReader(`{"job_id": "job-1"}`)
	req := httptest.NewRequest(http.MethodPost, "/analyze", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("POST /analyze = %d, want 409 outside the analyzing phase", rec.Code)
	}
}
