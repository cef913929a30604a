package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pricedock/pricedock/internal/analyzer"
	"github.com/pricedock/pricedock/internal/models"
)

// AnalyzerClient talks to the analysis worker over HTTP. The worker shares
// the file store and the job state store, so only the trigger and liveness
// surface crosses the wire.
type AnalyzerClient struct {
	baseURL string
	http    *http.Client
}

// NewAnalyzerClient creates a client for the worker at baseURL.
func NewAnalyzerClient(baseURL string) *AnalyzerClient {
	return &AnalyzerClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// Healthy probes the worker's health endpoint, which in turn probes the
// inference backend.
func (c *AnalyzerClient) Healthy(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return fmt.Errorf("build health request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("analysis worker unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("analysis worker unhealthy: %d: %s", resp.StatusCode, body)
	}
	return nil
}

// Trigger asks the worker to analyze job and returns the remote job id it
// assigned to the run. The request restates the job's file descriptor so the
// worker can reject a trigger that disagrees with the stored record.
func (c *AnalyzerClient) Trigger(ctx context.Context, job *models.JobRecord) (string, error) {
	payload, err := json.Marshal(analyzer.AnalyzeRequest{
		JobID:              job.JobID,
		FileReference:      job.FileReference,
		SupplierID:         job.SupplierID,
		FileType:           job.FileType,
		DefaultCurrency:    job.Options.DefaultCurrency,
		CompositeDelimiter: job.Options.CompositeDelimiter,
	})
	if err != nil {
		return "", fmt.Errorf("marshal analyze request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/analyze", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build analyze request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("trigger analysis: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("trigger analysis: %d: %s", resp.StatusCode, body)
	}

	var ack analyzer.AnalyzeResponse
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		return "", fmt.Errorf("decode analyze response: %w", err)
	}
	return ack.RemoteJobID, nil
}

// Status polls one analysis run by remote job id.
func (c *AnalyzerClient) Status(ctx context.Context, remoteID string) (*analyzer.StatusResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/jobs/"+remoteID, nil)
	if err != nil {
		return nil, fmt.Errorf("build status request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("poll analysis: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("poll analysis: %d: %s", resp.StatusCode, body)
	}

	var status analyzer.StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("decode status response: %w", err)
	}
	return &status, nil
}
