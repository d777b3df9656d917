package summarizer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"spaces-summarizer/internal/models"
)

// Client talks to the external summarization job service. The service is
// untrusted for timing but trusted for the correctness of final content.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type submitRequest struct {
	ResourceURL string `json:"resource_url"`
	Tier        string `json:"tier"`
}

type submitResponse struct {
	JobID string `json:"job_id"`
}

type statusResponse struct {
	Status  string `json:"status"`
	Summary string `json:"summary,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Submit hands the resource to the job service. Any failure here is
// terminal for the pipeline: the proof is already consumed, and the
// submission is never retried to avoid charging twice for one attempt.
func (c *Client) Submit(ctx context.Context, resourceURL string, tier models.Tier) (string, error) {
	body, err := json.Marshal(submitRequest{ResourceURL: resourceURL, Tier: string(tier)})
	if err != nil {
		return "", fmt.Errorf("%w: marshal request: %v", models.ErrSubmissionFailed, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/jobs", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrSubmissionFailed, err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrSubmissionFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return "", fmt.Errorf("%w: service returned %s", models.ErrSubmissionFailed, resp.Status)
	}

	var out submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", models.ErrSubmissionFailed, err)
	}
	if out.JobID == "" {
		return "", fmt.Errorf("%w: service returned no job id", models.ErrSubmissionFailed)
	}
	return out.JobID, nil
}

// Status reads the job state. Safe to call repeatedly. Network failures
// and server errors are transient; the poller retries them.
func (c *Client) Status(ctx context.Context, jobID string) (models.Job, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/jobs/"+jobID, nil)
	if err != nil {
		return models.Job{}, fmt.Errorf("status request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return models.Job{}, &models.TransientError{Err: fmt.Errorf("poll job %s: %w", jobID, err)}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return models.Job{}, &models.TransientError{Err: fmt.Errorf("poll job %s: %s", jobID, resp.Status)}
	}
	if resp.StatusCode != http.StatusOK {
		return models.Job{}, fmt.Errorf("poll job %s: unexpected status %s", jobID, resp.Status)
	}

	var out statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return models.Job{}, &models.TransientError{Err: fmt.Errorf("poll job %s: decode: %w", jobID, err)}
	}

	job := models.Job{ID: jobID}
	switch out.Status {
	case "completed":
		job.State = models.JobStateSucceeded
		job.Result = out.Summary
	case "failed":
		job.State = models.JobStateFailed
		job.FailReason = out.Error
	default:
		job.State = models.JobStateRunning
	}
	return job, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}
