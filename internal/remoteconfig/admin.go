package remoteconfig

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"
)

// Environment is a Remote Config environment of a project.
type Environment struct {
	ID   string
	Name string
}

// Setting is one key of a settings config as the admin API reports it.
type Setting struct {
	Key   string
	Type  string
	Value string
}

// AdminConfig configures an AdminClient.
type AdminConfig struct {
	// BaseURL defaults to https://remote-config-api.unity3d.com/api/v1.
	BaseURL     string
	AccessToken string

	MaxRetries     int
	BaseRetryDelay time.Duration
	MaxRetryDelay  time.Duration
	HTTPClient     *http.Client
}

// AdminClient reads project configuration from the Remote Config admin API.
type AdminClient struct {
	config AdminConfig
	http   *http.Client
	mu     sync.RWMutex
}

func NewAdminClient(cfg AdminConfig) *AdminClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://remote-config-api.unity3d.com/api/v1"
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BaseRetryDelay == 0 {
		cfg.BaseRetryDelay = time.Second
	}
	if cfg.MaxRetryDelay == 0 {
		cfg.MaxRetryDelay = 8 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &AdminClient{config: cfg, http: httpClient}
}

func (c *AdminClient) SetAccessToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.config.AccessToken = token
}

func (c *AdminClient) accessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.config.AccessToken
}

// FetchEnvironments lists the environments of a project.
func (c *AdminClient) FetchEnvironments(ctx context.Context, projectID string) ([]Environment, error) {
	if strings.TrimSpace(projectID) == "" {
		return nil, errors.New("remoteconfig: project id is required")
	}
	body, err := c.getWithRetry(ctx, fmt.Sprintf("projects/%s/environments", url.PathEscape(projectID)), nil)
	if err != nil {
		return nil, err
	}

	var envs []Environment
	gjson.GetBytes(body, "environments").ForEach(func(_, env gjson.Result) bool {
		envs = append(envs, Environment{
			ID:   env.Get("id").String(),
			Name: env.Get("name").String(),
		})
		return true
	})
	return envs, nil
}

// FetchConfigs returns the settings of the environment's settings config.
func (c *AdminClient) FetchConfigs(ctx context.Context, projectID, environmentID string) ([]Setting, error) {
	if strings.TrimSpace(projectID) == "" || strings.TrimSpace(environmentID) == "" {
		return nil, errors.New("remoteconfig: project and environment ids are required")
	}
	query := url.Values{"environmentId": {environmentID}}
	body, err := c.getWithRetry(ctx, fmt.Sprintf("projects/%s/configs", url.PathEscape(projectID)), query)
	if err != nil {
		return nil, err
	}

	var settings []Setting
	gjson.GetBytes(body, "configs").ForEach(func(_, cfg gjson.Result) bool {
		if t := cfg.Get("type").String(); t != "" && t != "settings" {
			return true
		}
		cfg.Get("value").ForEach(func(_, s gjson.Result) bool {
			value := s.Get("value")
			text := value.Raw
			if value.Type == gjson.String {
				text = value.Str
			}
			settings = append(settings, Setting{
				Key:   s.Get("key").String(),
				Type:  s.Get("type").String(),
				Value: text,
			})
			return true
		})
		return false
	})
	return settings, nil
}

func (c *AdminClient) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	u := strings.TrimRight(c.config.BaseURL, "/") + "/" + strings.TrimPrefix(path, "/")
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("remoteconfig: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token := c.accessToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("remoteconfig: http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("remoteconfig: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	if !gjson.ValidBytes(body) {
		return nil, errors.New("remoteconfig: invalid response JSON")
	}
	return body, nil
}

func (c *AdminClient) getWithRetry(ctx context.Context, path string, query url.Values) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(c.retryDelay(attempt)):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		body, err := c.get(ctx, path, query)
		if err == nil {
			return body, nil
		}
		lastErr = err

		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.IsRetryable() {
			continue
		}
		return nil, err
	}
	return nil, fmt.Errorf("remoteconfig: max retries exceeded: %w", lastErr)
}

func (c *AdminClient) retryDelay(attempt int) time.Duration {
	delay := c.config.BaseRetryDelay * time.Duration(math.Pow(2, float64(attempt-1)))
	if delay > c.config.MaxRetryDelay {
		delay = c.config.MaxRetryDelay
	}
	return delay
}
