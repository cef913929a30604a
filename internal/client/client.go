// Package client is the REST client for the orchestrator daemon, used by the
// command-line tool.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pricedock/pricedock/internal/models"
	"github.com/pricedock/pricedock/internal/orchestrator"
)

// Client talks to a running orchestrator daemon.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a client for the daemon at baseURL.
func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// CreateJob submits a new ingestion job.
func (c *Client) CreateJob(ctx context.Context, req orchestrator.CreateJobRequest) (*models.JobRecord, error) {
	var job models.JobRecord
	if err := c.do(ctx, http.MethodPost, "/jobs", req, &job, http.StatusCreated); err != nil {
		return nil, err
	}
	return &job, nil
}

// GetJob fetches one job record.
func (c *Client) GetJob(ctx context.Context, jobID string) (*models.JobRecord, error) {
	var job models.JobRecord
	if err := c.do(ctx, http.MethodGet, "/jobs/"+jobID, nil, &job, http.StatusOK); err != nil {
		return nil, err
	}
	return &job, nil
}

// ListJobs fetches recent job records.
func (c *Client) ListJobs(ctx context.Context, limit int) ([]models.JobRecord, error) {
	var resp struct {
		Jobs []models.JobRecord `json:"jobs"`
	}
	path := fmt.Sprintf("/jobs?limit=%d", limit)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp, http.StatusOK); err != nil {
		return nil, err
	}
	return resp.Jobs, nil
}

// Retry asks the daemon to retry a failed job.
func (c *Client) Retry(ctx context.Context, jobID string) (*models.JobRecord, error) {
	var job models.JobRecord
	if err := c.do(ctx, http.MethodPost, "/jobs/"+jobID+"/retry", nil, &job, http.StatusOK); err != nil {
		return nil, err
	}
	return &job, nil
}

// Healthy probes the daemon.
func (c *Client) Healthy(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil, http.StatusOK)
}

func (c *Client) do(ctx context.Context, method, path string, payload, out any, wantStatus int) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		var apiErr struct {
			Error string `json:"error"`
		}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s %s: %d: %s", method, path, resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("%s %s: unexpected status %d", method, path, resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
