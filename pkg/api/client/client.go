package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client provides typed access to the deployment API for interactive tools.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option customises client instantiation.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// New constructs a Client pointing at the provided API base URL.
func New(base string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(base)
	if trimmed == "" {
		trimmed = "http://localhost:4000"
	}
	if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		trimmed = "http://" + trimmed
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, fmt.Errorf("invalid api base url: %w", err)
	}
	cli := &Client{
		baseURL:    strings.TrimRight(trimmed, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(cli)
	}
	return cli, nil
}

// APIError represents an error response from the API.
type APIError struct {
	Status  int
	Message string
	Fields  []FieldError
}

// FieldError names one rejected submission field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api request failed with status %d", e.Status)
	}
	return fmt.Sprintf("api request failed (%d): %s", e.Status, e.Message)
}

// IsConflict reports a request rejected because the job already finished.
func (e APIError) IsConflict() bool {
	return e.Status == http.StatusConflict
}

func (c *Client) do(ctx context.Context, method, path string, body any, v any) error {
	if c == nil {
		return fmt.Errorf("client is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	endpoint := c.baseURL + path
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp)
	}

	if v == nil {
		return nil
	}
	decoder := json.NewDecoder(resp.Body)
	if err := decoder.Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	apiErr := APIError{Status: resp.StatusCode}
	data, err := io.ReadAll(resp.Body)
	if err != nil || len(data) == 0 {
		return apiErr
	}
	var payload struct {
		Error  string       `json:"error"`
		Fields []FieldError `json:"fields"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		apiErr.Message = strings.TrimSpace(string(data))
		return apiErr
	}
	apiErr.Message = strings.TrimSpace(payload.Error)
	apiErr.Fields = payload.Fields
	return apiErr
}

// Artifact references a staged build output.
type Artifact struct {
	Path     string `json:"path"`
	Filename string `json:"filename,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// Job mirrors the API deployment job payload.
type Job struct {
	ID            string            `json:"id"`
	Platform      string            `json:"platform"`
	Channel       string            `json:"channel"`
	Status        string            `json:"status"`
	Artifact      Artifact          `json:"artifact"`
	Parameters    map[string]string `json:"parameters"`
	Progress      int               `json:"progress"`
	Logs          []string          `json:"logs"`
	ResultLocator string            `json:"resultLocator,omitempty"`
	CreatedAt     time.Time         `json:"createdAt"`
	UpdatedAt     time.Time         `json:"updatedAt"`
	CompletedAt   *time.Time        `json:"completedAt,omitempty"`
}

// Terminal reports whether the job can no longer change.
func (j Job) Terminal() bool {
	switch j.Status {
	case "completed", "failed", "cancelled":
		return true
	}
	return false
}

// SubmitInput captures the payload for a deployment submission.
type SubmitInput struct {
	Channel    string            `json:"channel"`
	Platform   string            `json:"platform,omitempty"`
	Artifact   Artifact          `json:"artifact"`
	Parameters map[string]string `json:"parameters,omitempty"`
}

// Submit queues a deployment and returns the pending job.
func (c *Client) Submit(ctx context.Context, input SubmitInput) (Job, error) {
	var job Job
	if err := c.do(ctx, http.MethodPost, "/jobs", input, &job); err != nil {
		return Job{}, err
	}
	return job, nil
}

// GetJob fetches the current snapshot of a job.
func (c *Client) GetJob(ctx context.Context, id string) (Job, error) {
	path := fmt.Sprintf("/jobs/%s", url.PathEscape(id))
	var job Job
	if err := c.do(ctx, http.MethodGet, path, nil, &job); err != nil {
		return Job{}, err
	}
	return job, nil
}

// ListFilter narrows ListJobs.
type ListFilter struct {
	Channel string
	Status  string
	Limit   int
}

// ListJobs returns jobs newest first.
func (c *Client) ListJobs(ctx context.Context, filter ListFilter) ([]Job, error) {
	query := url.Values{}
	if filter.Channel != "" {
		query.Set("channel", filter.Channel)
	}
	if filter.Status != "" {
		query.Set("status", filter.Status)
	}
	if filter.Limit > 0 {
		query.Set("limit", strconv.Itoa(filter.Limit))
	}
	path := "/jobs"
	if len(query) > 0 {
		path += "?" + query.Encode()
	}
	var jobs []Job
	if err := c.do(ctx, http.MethodGet, path, nil, &jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

// CancelJob requests cancellation. A job that already finished yields an
// APIError with status 409.
func (c *Client) CancelJob(ctx context.Context, id string) (Job, error) {
	path := fmt.Sprintf("/jobs/%s/cancel", url.PathEscape(id))
	var job Job
	if err := c.do(ctx, http.MethodPost, path, nil, &job); err != nil {
		return Job{}, err
	}
	return job, nil
}

// WatchJob polls a job until it is terminal, calling fn on every change.
func (c *Client) WatchJob(ctx context.Context, id string, interval time.Duration, fn func(Job)) (Job, error) {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	var last Job
	for {
		job, err := c.GetJob(ctx, id)
		if err != nil {
			return last, err
		}
		if job.UpdatedAt != last.UpdatedAt || job.Status != last.Status || job.Progress != last.Progress || len(job.Logs) != len(last.Logs) {
			fn(job)
		}
		last = job
		if job.Terminal() {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-ticker.C:
		}
	}
}
