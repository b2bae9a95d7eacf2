package gamesim

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/MJE43/game-simulation-go/internal/paramtypes"
)

const (
	engineGridSearch   = "gridsearch"
	defaultParallelism = 10
)

// Parameter is a grid search dimension as entered by the user: Values is a
// comma-separated list.
type Parameter struct {
	Key    string `json:"key"`
	Type   string `json:"type"`
	Values string `json:"values"`
}

// JobRequest describes a grid search job.
type JobRequest struct {
	Name              string
	BuildID           string
	Parameters        []Parameter
	RunsPerParamCombo int
	MaxRuntimeMinutes int
}

// Settings splits and validates every parameter. Float values are written in
// their shortest decimal form so equal values compare equal service-side.
func (r JobRequest) Settings() ([]Setting, error) {
	settings := make([]Setting, 0, len(r.Parameters))
	for _, p := range r.Parameters {
		key := strings.TrimSpace(p.Key)
		if key == "" {
			return nil, errors.New("gamesim: parameter key is required")
		}
		typ := paramtypes.Parse(strings.TrimSpace(p.Type))
		if typ == paramtypes.TypeUnknown {
			return nil, fmt.Errorf("gamesim: parameter %q: unsupported type %q", key, p.Type)
		}

		var values []string
		for _, v := range strings.Split(p.Values, ",") {
			v = strings.TrimSpace(v)
			norm, err := normalizeValue(typ, v)
			if err != nil {
				return nil, &ValidationError{Key: key, Type: string(typ), Value: v}
			}
			values = append(values, norm)
		}
		settings = append(settings, Setting{Key: key, Type: string(typ), Values: values})
	}
	return settings, nil
}

func normalizeValue(typ paramtypes.Type, v string) (string, error) {
	switch typ {
	case paramtypes.TypeInt:
		n, err := strconv.ParseInt(v, 10, 32)
		if err != nil {
			return "", err
		}
		return strconv.FormatInt(n, 10), nil
	case paramtypes.TypeLong:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return "", err
		}
		return strconv.FormatInt(n, 10), nil
	case paramtypes.TypeFloat:
		d, err := decimal.NewFromString(v)
		if err != nil {
			return "", err
		}
		return d.String(), nil
	case paramtypes.TypeBool:
		b, err := strconv.ParseBool(v)
		if err != nil {
			return "", err
		}
		return strconv.FormatBool(b), nil
	default:
		return v, nil
	}
}

func (r JobRequest) payload() (createJobPayload, error) {
	if strings.TrimSpace(r.Name) == "" {
		return createJobPayload{}, errors.New("gamesim: job name is required")
	}
	if strings.TrimSpace(r.BuildID) == "" {
		return createJobPayload{}, errors.New("gamesim: build id is required")
	}
	if r.RunsPerParamCombo <= 0 {
		return createJobPayload{}, errors.New("gamesim: runs per parameter combination must be positive")
	}
	if r.MaxRuntimeMinutes <= 0 {
		return createJobPayload{}, errors.New("gamesim: max runtime must be positive")
	}
	settings, err := r.Settings()
	if err != nil {
		return createJobPayload{}, err
	}
	return createJobPayload{
		JobName:           r.Name,
		BuildID:           r.BuildID,
		MaxRuntimeSeconds: strconv.Itoa(r.MaxRuntimeMinutes * 60),
		TestInfo:          []string{},
		DecisionEngineMetadata: DecisionEngineMetadata{
			EngineType:        engineGridSearch,
			RunsPerParamCombo: r.RunsPerParamCombo,
			Parallelism:       defaultParallelism,
			Settings:          settings,
		},
	}, nil
}

// CreateJob starts a grid search job and returns its id.
func (c *Client) CreateJob(ctx context.Context, req JobRequest) (string, error) {
	payload, err := req.payload()
	if err != nil {
		return "", err
	}

	raw, err := c.doRequestWithRetry(ctx, http.MethodPost, "v1/jobs", payload)
	if err != nil {
		return "", err
	}
	var out createJobResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("gamesim: decode create job response: %w", err)
	}
	if out.ID == "" {
		return "", errors.New("gamesim: create job response has no id")
	}
	return out.ID, nil
}
