// Package simulation describes the run a game build executes in: identifiers
// handed over by the simulation service, app parameters, where output goes
// and when the process is shutting down.
package simulation

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/google/uuid"
)

// Config holds the run configuration read from the environment.
type Config struct {
	InstanceIDRaw   string `env:"GAMESIM_INSTANCE_ID"`
	AttemptIDRaw    string `env:"GAMESIM_ATTEMPT_ID" envDefault:"0"`
	ExecutionURN    string `env:"GAMESIM_EXECUTION_ID"`
	DefinitionURN   string `env:"GAMESIM_DEFINITION_ID"`
	AppParamURI     string `env:"GAMESIM_APP_PARAM_URI"`
	StoragePath     string `env:"GAMESIM_STORAGE_PATH" envDefault:"./gamesim-output"`
	EnvironmentID   string `env:"GAMESIM_ENVIRONMENT_ID"`
	RemoteConfigURL string `env:"GAMESIM_REMOTE_CONFIG_URL" envDefault:"https://config.unity3d.com"`
}

// AppParams are the decision engine parameters attached to a cloud run.
type AppParams struct {
	DecisionEngineID   string `json:"gameSimDecisionEngineId"`
	DecisionEngineType string `json:"gameSimDecisionEngineType"`
	EnvironmentID      string `json:"environmentId"`
}

var ErrMalformedURN = errors.New("simulation: malformed id")

// LoadConfig parses the environment. A local run without an instance id gets
// a generated one.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("simulation: parse environment: %w", err)
	}
	if strings.TrimSpace(cfg.InstanceIDRaw) == "" {
		cfg.InstanceIDRaw = uuid.NewString()
	}
	if strings.TrimSpace(cfg.StoragePath) == "" {
		return Config{}, fmt.Errorf("simulation: GAMESIM_STORAGE_PATH must not be empty")
	}
	return cfg, nil
}

func (c Config) InstanceID() string { return c.InstanceIDRaw }

func (c Config) AttemptID() string { return c.AttemptIDRaw }

// RunningInCloud reports whether the simulation service launched this run.
func (c Config) RunningInCloud() bool {
	return strings.TrimSpace(c.ExecutionURN) != ""
}

// ExecutionID returns the id segment of the execution URN.
func (c Config) ExecutionID() (string, error) {
	return urnID(c.ExecutionURN)
}

// DefinitionID returns the id segment of the definition URN.
func (c Config) DefinitionID() (string, error) {
	return urnID(c.DefinitionURN)
}

// urnID returns the third ':'-separated segment of a service URN.
func urnID(urn string) (string, error) {
	parts := strings.Split(urn, ":")
	if len(parts) < 3 || parts[2] == "" {
		return "", fmt.Errorf("%w: %q", ErrMalformedURN, urn)
	}
	return parts[2], nil
}

// AppParams reads the app parameter file. A missing URI or file yields zero
// params; the environment id from the environment fills a missing one.
func (c Config) AppParams() (AppParams, error) {
	params := AppParams{}
	if c.AppParamURI != "" {
		u, err := url.Parse(c.AppParamURI)
		if err != nil {
			return AppParams{}, fmt.Errorf("simulation: parse app param uri: %w", err)
		}
		path := u.Path
		if u.Scheme == "" {
			path = c.AppParamURI
		}

		raw, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := json.Unmarshal(raw, &params); err != nil {
				return AppParams{}, fmt.Errorf("simulation: decode app params: %w", err)
			}
		case !os.IsNotExist(err):
			return AppParams{}, fmt.Errorf("simulation: read app params: %w", err)
		}
	}
	if params.EnvironmentID == "" {
		params.EnvironmentID = c.EnvironmentID
	}
	return params, nil
}
