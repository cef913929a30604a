package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pricedock/pricedock/internal/models"
	"github.com/pricedock/pricedock/internal/orchestrator"
)

func TestCreateJob(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/jobs", r.URL.Path)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req orchestrator.CreateJobRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "acme", req.SupplierID)

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(models.JobRecord{
			JobID:      "job-1",
			SupplierID: req.SupplierID,
			Phase:      models.PhasePending,
		})
	}))
	defer srv.Close()

	c := New(srv.URL)
	job, err := c.CreateJob(context.Background(), orchestrator.CreateJobRequest{
		SupplierID:    "acme",
		SourceKind:    models.SourceDirectURL,
		SourceLocator: "https://acme.example/price.csv",
	})
	require.NoError(t, err)
	assert.Equal(t, "job-1", job.JobID)
	assert.Equal(t, models.PhasePending, job.Phase)
}

func TestGetJob_ErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": "job not found: nope"})
	}))
	defer srv.Close()

	_, err := New(srv.URL).GetJob(context.Background(), "nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "job not found: nope")
	assert.Contains(t, err.Error(), "404")
}

func TestListJobs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "7", r.URL.Query().Get("limit"))
		json.NewEncoder(w).Encode(map[string]any{
			"jobs": []models.JobRecord{
				{JobID: "a", Phase: models.PhaseComplete},
				{JobID: "b", Phase: models.PhaseFailed},
			},
		})
	}))
	defer srv.Close()

	jobs, err := New(srv.URL).ListJobs(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, models.PhaseFailed, jobs[1].Phase)
}

func TestRetry_Conflict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/jobs/job-1/retry", r.URL.Path)
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]string{"error": "only failed jobs can be retried"})
	}))
	defer srv.Close()

	_, err := New(srv.URL).Retry(context.Background(), "job-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "only failed jobs can be retried")
}

func TestHealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/healthz", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	require.NoError(t, New(srv.URL).Healthy(context.Background()))
}
