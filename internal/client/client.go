// Package client provides an HTTP client for the remote scrape job API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/raphaelgruber/onboard-go/internal/metrics"
)

// API paths.
const (
	pathHealth      = "/health"
	pathScrapeAsync = "/scrape/async"
)

func jobStatusPath(id string) string { return "/jobs/" + url.PathEscape(id) + "/status" }
func jobResultPath(id string) string { return "/jobs/" + url.PathEscape(id) + "/result" }
func jobStreamPath(id string) string { return "/jobs/" + url.PathEscape(id) + "/stream" }

// Defaults for request operations.
const (
	DefaultBaseURL     = "http://localhost:8000"
	DefaultTimeout     = 30 * time.Second
	DefaultMaxAttempts = 3
	DefaultRetryDelay  = time.Second
)

// Job statuses reported by the status endpoint.
const (
	StatusPending  = "pending"
	StatusFinished = "finished"
	StatusFailed   = "failed"
)

// Options configures a Client. Zero values fall back to the defaults.
type Options struct {
	BaseURL string
	// Timeout bounds each request attempt; exceeding it is a retryable network failure.
	Timeout time.Duration
	// MaxAttempts is the total number of attempts, first one included.
	MaxAttempts int
	// RetryDelay is the linear backoff unit: attempt N waits N*RetryDelay before retrying.
	// A negative value disables the wait.
	RetryDelay time.Duration
	// HTTPClient overrides the transport. Its Timeout is ignored in favour of Timeout.
	HTTPClient *http.Client
	Metrics    *metrics.Collector
	Logger     *slog.Logger
}

// Client talks to the scrape job API.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	streamClient *http.Client
	maxAttempts  int
	retryDelay   time.Duration
	metrics      *metrics.Collector
	logger       *slog.Logger
	sleep        func(ctx context.Context, d time.Duration) error
}

// New creates a new API client.
func New(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.RetryDelay < 0 {
		opts.RetryDelay = 0
	} else if opts.RetryDelay == 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	var transport http.RoundTripper
	if opts.HTTPClient != nil {
		transport = opts.HTTPClient.Transport
	}

	return &Client{
		baseURL: strings.TrimSuffix(opts.BaseURL, "/"),
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   opts.Timeout,
		},
		// Streams stay open for the lifetime of a job, so only ctx bounds them.
		streamClient: &http.Client{Transport: transport},
		maxAttempts:  opts.MaxAttempts,
		retryDelay:   opts.RetryDelay,
		metrics:      opts.Metrics,
		logger:       opts.Logger,
		sleep:        sleepContext,
	}
}

// BaseURL returns the API root this client targets.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// SubmitRequest is the body of a job submission.
type SubmitRequest struct {
	SourceURL string `json:"source_url"`
}

// SubmitResponse is returned after a job was accepted.
type SubmitResponse struct {
	JobID string `json:"job_id"`
}

// JobStatus is the remote view of a job.
type JobStatus struct {
	Status string `json:"status"` // pending | finished | failed
	Error  string `json:"error,omitempty"`
}

// JobResult carries the finished profile document.
type JobResult struct {
	Result ProfileDocument `json:"result"`
}

// SubmitJob starts a scrape job for sourceURL.
func (c *Client) SubmitJob(ctx context.Context, sourceURL string) (*SubmitResponse, error) {
	var resp SubmitResponse
	if err := c.do(ctx, metrics.OpSubmit, http.MethodPost, pathScrapeAsync, SubmitRequest{SourceURL: sourceURL}, &resp); err != nil {
		return nil, err
	}
	if resp.JobID == "" {
		return nil, fmt.Errorf("submit job: response missing job_id")
	}
	return &resp, nil
}

// GetJobStatus polls the status of a job.
func (c *Client) GetJobStatus(ctx context.Context, jobID string) (*JobStatus, error) {
	var resp JobStatus
	if err := c.do(ctx, metrics.OpStatus, http.MethodGet, jobStatusPath(jobID), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetJobResult fetches the profile document of a finished job.
func (c *Client) GetJobResult(ctx context.Context, jobID string) (*JobResult, error) {
	var resp JobResult
	if err := c.do(ctx, metrics.OpResult, http.MethodGet, jobResultPath(jobID), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Health checks that the API is reachable.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, metrics.OpHealth, http.MethodGet, pathHealth, nil, nil)
}

// OpenStream connects to the server-sent event stream of a job.
// The stream is not retried here; reconnect policy belongs to the caller.
func (c *Client) OpenStream(ctx context.Context, jobID string) (*Stream, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+jobStreamPath(jobID), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("X-Request-ID", uuid.New().String())

	start := time.Now()
	resp, err := c.streamClient.Do(req)
	if err != nil {
		c.metrics.RecordTiming(metrics.OpStreamOpen, time.Since(start), true)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, newNetworkError(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		resp.Body.Close()
		c.metrics.RecordTiming(metrics.OpStreamOpen, time.Since(start), true)
		return nil, newHTTPError(resp.StatusCode, body)
	}

	c.metrics.RecordTiming(metrics.OpStreamOpen, time.Since(start), false)
	c.logger.Debug("job stream opened", "job_id", jobID)
	return NewStream(resp.Body), nil
}

// do runs one logical request with linear-backoff retries on retryable failures.
func (c *Client) do(ctx context.Context, op, method, path string, body, result any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}

	requestID := uuid.New().String()

	var err error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		start := time.Now()
		err = c.attempt(ctx, method, path, requestID, payload, result)
		c.metrics.RecordTiming(op, time.Since(start), err != nil)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || !IsRetryable(err) {
			return err
		}

		c.logger.Warn("request failed",
			"op", op,
			"request_id", requestID,
			"attempt", fmt.Sprintf("%d/%d", attempt, c.maxAttempts),
			"status", StatusCode(err),
			"error", err)

		// Don't wait after the final attempt
		if attempt < c.maxAttempts {
			c.metrics.RecordRetry(op)
			if err := c.sleep(ctx, time.Duration(attempt)*c.retryDelay); err != nil {
				return err
			}
		}
	}

	return err
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// attempt performs a single HTTP round trip.
func (c *Client) attempt(ctx context.Context, method, path, requestID string, payload []byte, result any) error {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Caller cancellation is not a connectivity problem.
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return newNetworkError(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return newNetworkError(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newHTTPError(resp.StatusCode, respBody)
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}

	return nil
}
