// Package gamesim is a client for the Unity Game Simulation service: build
// uploads, grid search job creation and job status.
//
// All calls are scoped to a project and authenticated with a bearer access
// token, which can be swapped at runtime when the user signs in again.
//
//	client := gamesim.NewClient(gamesim.Config{
//	    ProjectID:   "my-project",
//	    AccessToken: token,
//	})
//
//	jobs, err := client.ListJobs(ctx)
package gamesim

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// Version is reported in the User-Agent header.
const Version = "0.4.7"

// DefaultBaseURL is the production API.
const DefaultBaseURL = "https://api.prd.gamesimulation.unity3d.com"

// Config holds configuration for the API client.
type Config struct {
	// BaseURL defaults to DefaultBaseURL.
	BaseURL string

	ProjectID   string
	AccessToken string

	// MaxRetries is the maximum number of retry attempts for retryable errors.
	// Defaults to 3 if zero.
	MaxRetries int

	// BaseRetryDelay is the initial delay before the first retry.
	// Defaults to 1 second if zero.
	BaseRetryDelay time.Duration

	// MaxRetryDelay caps the exponential backoff delay.
	// Defaults to 10 seconds if zero.
	MaxRetryDelay time.Duration

	// HTTPClient allows injecting a custom HTTP client.
	// Defaults to a client with a 30s timeout.
	HTTPClient *http.Client
}

// Client is a Game Simulation API client.
type Client struct {
	config Config
	http   *http.Client
	mu     sync.RWMutex
}

func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BaseRetryDelay == 0 {
		cfg.BaseRetryDelay = time.Second
	}
	if cfg.MaxRetryDelay == 0 {
		cfg.MaxRetryDelay = 10 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{config: cfg, http: httpClient}
}

// SetAccessToken updates the bearer token (thread-safe).
func (c *Client) SetAccessToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.config.AccessToken = token
}

func (c *Client) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.config.AccessToken
}

func (c *Client) SetProjectID(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.config.ProjectID = id
}

func (c *Client) ProjectID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.config.ProjectID
}

func (c *Client) BaseURL() string {
	return c.config.BaseURL
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("User-Agent", "gamesim/"+Version)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.AccessToken())
}

func (c *Client) endpoint(path string) (string, error) {
	projectID := c.ProjectID()
	if strings.TrimSpace(projectID) == "" {
		return "", errors.New("gamesim: project id is required")
	}
	q := url.Values{"projectId": {projectID}}
	return fmt.Sprintf("%s/%s?%s", strings.TrimRight(c.config.BaseURL, "/"), strings.TrimPrefix(path, "/"), q.Encode()), nil
}

// doRequest sends one request and returns the body of a 2xx response.
func (c *Client) doRequest(ctx context.Context, method, path string, body any) ([]byte, error) {
	u, err := c.endpoint(path)
	if err != nil {
		return nil, err
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("gamesim: marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, fmt.Errorf("gamesim: create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gamesim: http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("gamesim: read response: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, &AuthError{StatusCode: resp.StatusCode, Message: "access token expired or invalid"}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}
	return respBody, nil
}

// doRequestWithRetry retries rate limits and server errors with exponential
// backoff.
func (c *Client) doRequestWithRetry(ctx context.Context, method, path string, body any) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(c.retryDelay(attempt)):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		resp, err := c.doRequest(ctx, method, path, body)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		var httpErr *HTTPError
		if errors.As(err, &httpErr) && httpErr.IsRetryable() {
			continue
		}
		return nil, err
	}
	return nil, fmt.Errorf("gamesim: max retries exceeded: %w", lastErr)
}

func (c *Client) retryDelay(attempt int) time.Duration {
	delay := c.config.BaseRetryDelay * time.Duration(math.Pow(2, float64(attempt-1)))
	if delay > c.config.MaxRetryDelay {
		delay = c.config.MaxRetryDelay
	}
	return delay
}

func (c *Client) getJSON(ctx context.Context, path string, out any) ([]byte, error) {
	raw, err := c.doRequestWithRetry(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return nil, fmt.Errorf("gamesim: decode %s: %w", path, err)
	}
	return raw, nil
}

// ListBuilds returns the builds uploaded to the project.
func (c *Client) ListBuilds(ctx context.Context) ([]Build, error) {
	var out BuildsList
	if _, err := c.getJSON(ctx, "v1/builds/list", &out); err != nil {
		return nil, err
	}
	return out.Builds, nil
}

// ListJobs returns the project's simulation jobs.
func (c *Client) ListJobs(ctx context.Context) ([]Job, error) {
	var out JobsList
	if _, err := c.getJSON(ctx, "v1/jobs/list", &out); err != nil {
		return nil, err
	}
	return out.Jobs, nil
}

// DescribeJob returns the details of one job.
func (c *Client) DescribeJob(ctx context.Context, jobID string) (*JobDescription, error) {
	if strings.TrimSpace(jobID) == "" {
		return nil, errors.New("gamesim: job id is required")
	}
	var out JobDescription
	raw, err := c.getJSON(ctx, fmt.Sprintf("v1/jobs/%s/describe", url.PathEscape(jobID)), &out)
	if err != nil {
		return nil, err
	}
	out.Raw = raw
	return &out, nil
}
