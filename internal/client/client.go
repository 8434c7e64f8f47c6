package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"personalization-service/internal/models"
	"personalization-service/internal/service"

	"go.uber.org/zap"
)

// ErrJobNotFound is returned when the server does not know the job
var ErrJobNotFound = errors.New("job not found")

// APIError is a non-2xx response from the personalization service
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("personalization service returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("personalization service returned status %d: %s", e.StatusCode, e.Message)
}

// Client talks to a running personalization service
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a new personalization service client. token may be empty when auth is off.
func NewClient(baseURL, token string, logger *zap.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 2 * time.Minute, // model-backed runs are slow
		},
		logger: logger,
	}
}

// Run runs the full pipeline for one customer on the server
func (c *Client) Run(ctx context.Context, req service.Request) (*service.Result, error) {
	var res service.Result
	if err := c.do(ctx, http.MethodPost, "/api/v1/run", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// SubmitBatch starts an async batch job and returns its ID
func (c *Client) SubmitBatch(ctx context.Context, reqs []service.Request) (string, error) {
	var resp struct {
		JobID string `json:"job_id"`
	}
	body := map[string]interface{}{"requests": reqs}
	if err := c.do(ctx, http.MethodPost, "/api/v1/batch", body, &resp); err != nil {
		return "", err
	}
	if resp.JobID == "" {
		return "", errors.New("server did not return a job id")
	}
	return resp.JobID, nil
}

// GetJob returns the current state of a batch job
func (c *Client) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	var job models.Job
	err := c.do(ctx, http.MethodGet, "/api/v1/jobs/"+jobID, nil, &job)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// Decisions returns the stored decisions of a batch job
func (c *Client) Decisions(ctx context.Context, jobID string) ([]*models.Decision, error) {
	var resp struct {
		Decisions []*models.Decision `json:"decisions"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/jobs/"+jobID+"/decisions", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Decisions, nil
}

// WaitJob polls a job until it completes or fails
func (c *Client) WaitJob(ctx context.Context, jobID string, interval time.Duration) (*models.Job, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		job, err := c.GetJob(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if job.Status == models.JobCompleted || job.Status == models.JobFailed {
			return job, nil
		}

		c.logger.Debug("Waiting for job",
			zap.String("job_id", jobID),
			zap.String("status", job.Status),
			zap.Int("processed", job.ProcessedCount),
			zap.Int("total", job.TotalCount))

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Ping checks if the service is available
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send health check request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &APIError{StatusCode: resp.StatusCode}
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return &APIError{StatusCode: resp.StatusCode, Message: e.Error}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
