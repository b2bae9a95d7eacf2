// Package remoteconfig fetches the per-run game settings a simulation is
// parameterized with and exposes typed lookups over them.
package remoteconfig

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/MJE43/game-simulation-go/internal/logging"
	"github.com/MJE43/game-simulation-go/internal/simulation"
)

// Origin records where the active settings came from.
type Origin string

const (
	OriginDefault Origin = "default"
	OriginCached  Origin = "cached"
	OriginRemote  Origin = "remote"
)

// UserAttributes are sent with every fetch so settings can be targeted at a
// particular run of a grid search.
type UserAttributes struct {
	InstanceID         int64  `json:"gameSimInstanceId"`
	DefinitionID       string `json:"gameSimDefinitionId"`
	ExecutionID        string `json:"gameSimExecutionId"`
	DecisionEngineID   string `json:"gameSimDecisionEngineId"`
	DecisionEngineType string `json:"gameSimDecisionEngineType"`
}

// MetadataSink receives the settings snapshot after a remote fetch.
type MetadataSink interface {
	SetMetadataSupplier(fn func() string)
}

// Options configures a Provider.
type Options struct {
	// URL is the Remote Config service root, e.g. https://config.unity3d.com.
	URL       string
	ProjectID string

	// CachePath is where the last remote payload is kept. Empty disables the
	// cache.
	CachePath string

	HTTPClient *http.Client
	Metadata   MetadataSink
	Logger     *zerolog.Logger
}

// Provider holds the active settings.
type Provider struct {
	opts Options
	http *http.Client
	log  zerolog.Logger

	mu       sync.RWMutex
	settings map[string]gjson.Result
	raw      string
	origin   Origin
}

func NewProvider(opts Options) *Provider {
	if opts.URL == "" {
		opts.URL = "https://config.unity3d.com"
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	log := logging.WithComponent("remoteconfig")
	if opts.Logger != nil {
		log = *opts.Logger
	}
	return &Provider{
		opts:     opts,
		http:     httpClient,
		log:      log,
		settings: map[string]gjson.Result{},
		raw:      "{}",
		origin:   OriginDefault,
	}
}

// Attributes derives the fetch attributes and environment id for a run.
// Local runs send zero attributes and the configured environment.
func Attributes(cfg simulation.Config) (UserAttributes, string, error) {
	params, err := cfg.AppParams()
	if err != nil {
		return UserAttributes{}, "", err
	}
	if !cfg.RunningInCloud() {
		return UserAttributes{}, params.EnvironmentID, nil
	}

	execID, err := cfg.ExecutionID()
	if err != nil {
		return UserAttributes{}, "", err
	}
	defID, err := cfg.DefinitionID()
	if err != nil {
		return UserAttributes{}, "", err
	}

	attrs := UserAttributes{}
	if n, err := strconv.ParseInt(cfg.InstanceID(), 10, 64); err == nil {
		attrs = UserAttributes{
			InstanceID:         n,
			ExecutionID:        execID,
			DefinitionID:       defID,
			DecisionEngineID:   params.DecisionEngineID,
			DecisionEngineType: params.DecisionEngineType,
		}
	}
	return attrs, params.EnvironmentID, nil
}

type fetchRequest struct {
	ProjectID     string         `json:"projectId,omitempty"`
	EnvironmentID string         `json:"environmentId,omitempty"`
	Key           string         `json:"key"`
	Attributes    UserAttributes `json:"attributes"`
}

// Fetch requests settings for attrs. On failure the cached payload is used,
// and without a cache the defaults stay in place; the returned error then
// explains why the remote fetch did not apply. onRemote runs only when the
// settings came from the service.
func (p *Provider) Fetch(ctx context.Context, attrs UserAttributes, environmentID string, onRemote func()) (Origin, error) {
	p.log.Info().Str("environment", environmentID).Msg("fetching app config from remote config")

	settings, err := p.fetchRemote(ctx, attrs, environmentID)
	if err == nil {
		p.apply(settings, OriginRemote)
		if cerr := p.writeCache(settings); cerr != nil {
			p.log.Warn().Err(cerr).Msg("failed to cache remote config")
		}
		p.log.Info().Str("config", settings).Msg("remote config fetch completed")
		if p.opts.Metadata != nil {
			p.opts.Metadata.SetMetadataSupplier(p.SettingsJSON)
		}
		if onRemote != nil {
			onRemote()
		}
		return OriginRemote, nil
	}

	p.log.Warn().Err(err).Msg("remote config fetch failed")
	if cached, cerr := p.readCache(); cerr == nil {
		p.apply(cached, OriginCached)
		p.log.Info().Msg("no settings loaded this session; using cached values from a previous session")
		return OriginCached, err
	}
	p.log.Info().Msg("no settings loaded this session; using default values")
	return OriginDefault, err
}

func (p *Provider) fetchRemote(ctx context.Context, attrs UserAttributes, environmentID string) (string, error) {
	body, err := json.Marshal(fetchRequest{
		ProjectID:     p.opts.ProjectID,
		EnvironmentID: environmentID,
		Key:           "gamesim",
		Attributes:    attrs,
	})
	if err != nil {
		return "", fmt.Errorf("remoteconfig: marshal request: %w", err)
	}

	url := strings.TrimRight(p.opts.URL, "/") + "/settings"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("remoteconfig: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("remoteconfig: http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("remoteconfig: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}
	return extractSettings(respBody)
}

// extractSettings accepts both {"configs":{"settings":{...}}} and the flat
// {"settings":{...}} response shapes.
func extractSettings(body []byte) (string, error) {
	if !gjson.ValidBytes(body) {
		return "", errors.New("remoteconfig: invalid response JSON")
	}
	for _, path := range []string{"configs.settings", "settings"} {
		if r := gjson.GetBytes(body, path); r.IsObject() {
			return compact(r.Raw), nil
		}
	}
	return "", errors.New("remoteconfig: response has no settings object")
}

func compact(raw string) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(raw)); err != nil {
		return raw
	}
	return buf.String()
}

func (p *Provider) apply(raw string, origin Origin) {
	settings := map[string]gjson.Result{}
	gjson.Parse(raw).ForEach(func(key, value gjson.Result) bool {
		settings[key.String()] = value
		return true
	})

	p.mu.Lock()
	p.settings = settings
	p.raw = raw
	p.origin = origin
	p.mu.Unlock()
}

func (p *Provider) writeCache(raw string) error {
	if p.opts.CachePath == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(p.opts.CachePath), 0o755); err != nil {
		return err
	}
	return os.WriteFile(p.opts.CachePath, []byte(raw), 0o644)
}

func (p *Provider) readCache() (string, error) {
	if p.opts.CachePath == "" {
		return "", os.ErrNotExist
	}
	raw, err := os.ReadFile(p.opts.CachePath)
	if err != nil {
		return "", err
	}
	if !gjson.ValidBytes(raw) || !gjson.ParseBytes(raw).IsObject() {
		return "", fmt.Errorf("remoteconfig: corrupt cache at %s", p.opts.CachePath)
	}
	return string(raw), nil
}

// Origin reports where the active settings came from.
func (p *Provider) Origin() Origin {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.origin
}

// SettingsJSON returns the active settings as compact JSON.
func (p *Provider) SettingsJSON() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.raw
}

func (p *Provider) lookup(key string) (gjson.Result, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	r, ok := p.settings[key]
	return r, ok
}

func (p *Provider) HasKey(key string) bool {
	_, ok := p.lookup(key)
	return ok
}

// Keys returns the setting keys in sorted order.
func (p *Provider) Keys() []string {
	p.mu.RLock()
	keys := make([]string, 0, len(p.settings))
	for k := range p.settings {
		keys = append(keys, k)
	}
	p.mu.RUnlock()
	sort.Strings(keys)
	return keys
}

// Raw returns the JSON text of a setting, or "" when absent.
func (p *Provider) Raw(key string) string {
	r, _ := p.lookup(key)
	return r.Raw
}

func (p *Provider) GetInt(key string, def int) int {
	r, ok := p.lookup(key)
	if !ok || r.Type != gjson.Number {
		return def
	}
	return int(r.Int())
}

func (p *Provider) GetLong(key string, def int64) int64 {
	r, ok := p.lookup(key)
	if !ok || r.Type != gjson.Number {
		return def
	}
	return r.Int()
}

func (p *Provider) GetFloat(key string, def float64) float64 {
	r, ok := p.lookup(key)
	if !ok || r.Type != gjson.Number {
		return def
	}
	return r.Float()
}

func (p *Provider) GetBool(key string, def bool) bool {
	r, ok := p.lookup(key)
	if !ok || (r.Type != gjson.True && r.Type != gjson.False) {
		return def
	}
	return r.Bool()
}

// GetString returns string settings as-is and other kinds as their JSON text.
func (p *Provider) GetString(key string, def string) string {
	r, ok := p.lookup(key)
	if !ok {
		return def
	}
	if r.Type == gjson.String {
		return r.Str
	}
	return r.Raw
}

// Get decodes a setting into T, returning def when the key is absent or does
// not decode.
func Get[T any](p *Provider, key string, def T) T {
	r, ok := p.lookup(key)
	if !ok {
		return def
	}
	var out T
	if err := json.Unmarshal([]byte(r.Raw), &out); err != nil {
		return def
	}
	return out
}
