package bindings

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MJE43/game-simulation-go/internal/gamesim"
	"github.com/MJE43/game-simulation-go/internal/paramtypes"
	"github.com/MJE43/game-simulation-go/internal/store"
)

// MetricNames returns the counter names attached to uploaded builds.
func (a *App) MetricNames() ([]string, error) {
	db, _, err := a.state()
	if err != nil {
		return nil, err
	}
	return db.MetricNames()
}

func (a *App) SetMetricNames(names []string) error {
	db, _, err := a.state()
	if err != nil {
		return err
	}
	return db.SetMetricNames(names)
}

// SaveParameters stores a named parameter set.
func (a *App) SaveParameters(set store.ParameterSet) (store.ParameterSet, error) {
	db, _, err := a.state()
	if err != nil {
		return store.ParameterSet{}, err
	}
	return db.SaveParameterSet(set)
}

func (a *App) Parameters(name string) (*store.ParameterSet, error) {
	db, _, err := a.state()
	if err != nil {
		return nil, err
	}
	return db.ParameterSet(name)
}

func (a *App) ListParameterSets() ([]store.ParameterSet, error) {
	db, _, err := a.state()
	if err != nil {
		return nil, err
	}
	return db.ListParameterSets()
}

// UploadBuild uploads a Linux player build. path may be a build directory,
// which is zipped first, or an existing zip archive. The project's metric
// names are attached to the build.
func (a *App) UploadBuild(ctx context.Context, name, path string) (string, error) {
	db, client, err := a.state()
	if err != nil {
		return "", err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("bindings: build name is required")
	}

	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("bindings: build path: %w", err)
	}
	zipPath := path
	if info.IsDir() {
		if !gamesim.HasLinuxPlayer(path) {
			a.log.Warn().Str("dir", path).Msg("directory does not look like a Linux player build")
		}
		tmp, err := os.MkdirTemp("", "gamesim-build-")
		if err != nil {
			return "", err
		}
		defer os.RemoveAll(tmp)
		zipPath = filepath.Join(tmp, name+".zip")
		if err := gamesim.ZipBuild(path, zipPath); err != nil {
			return "", err
		}
	}

	metrics, err := db.MetricNames()
	if err != nil {
		return "", err
	}

	start := time.Now()
	id, err := client.UploadBuild(ctx, name, zipPath, metrics)
	if err != nil {
		return "", err
	}
	a.log.Info().Str("build_id", id).Dur("took", time.Since(start)).Msg("build uploaded")

	rec := store.BuildRecord{ID: id, Name: name, Metrics: metrics}
	if !info.IsDir() {
		rec.ZipPath = path
	}
	if err := db.RecordBuild(rec); err != nil {
		a.log.Warn().Err(err).Msg("record uploaded build")
	}
	return id, nil
}

// SimulationRequest names a build and a saved parameter set to run.
type SimulationRequest struct {
	Name         string `json:"name"`
	BuildID      string `json:"buildId"`
	ParameterSet string `json:"parameterSet"`
	// Overrides of the set's run settings; zero keeps the saved value.
	RunsPerParamCombo int `json:"runsPerParamCombo,omitempty"`
	MaxRuntimeMinutes int `json:"maxRuntimeMinutes,omitempty"`
}

// CreateSimulation starts a grid search over a saved parameter set. Parameters
// saved without a type get it from Remote Config.
func (a *App) CreateSimulation(ctx context.Context, req SimulationRequest) (string, error) {
	db, client, err := a.state()
	if err != nil {
		return "", err
	}
	set, err := db.ParameterSet(req.ParameterSet)
	if err != nil {
		return "", err
	}

	params := make([]gamesim.Parameter, len(set.Parameters))
	copy(params, set.Parameters)
	for i, p := range params {
		if strings.TrimSpace(p.Type) != "" {
			continue
		}
		typ, err := a.TypeFor(ctx, p.Key)
		if err != nil {
			return "", fmt.Errorf("bindings: resolve type of %q: %w", p.Key, err)
		}
		if typ == paramtypes.TypeUnknown {
			return "", fmt.Errorf("bindings: parameter %q has an unsupported type", p.Key)
		}
		params[i].Type = string(typ)
	}

	runs := set.RunsPerParamCombo
	if req.RunsPerParamCombo > 0 {
		runs = req.RunsPerParamCombo
	}
	minutes := set.MaxRuntimeMinutes
	if req.MaxRuntimeMinutes > 0 {
		minutes = req.MaxRuntimeMinutes
	}

	id, err := client.CreateJob(ctx, gamesim.JobRequest{
		Name:              req.Name,
		BuildID:           req.BuildID,
		Parameters:        params,
		RunsPerParamCombo: runs,
		MaxRuntimeMinutes: minutes,
	})
	if err != nil {
		return "", err
	}
	if err := db.RecordJob(store.JobRecord{
		ID:                id,
		Name:              req.Name,
		BuildID:           req.BuildID,
		ParameterSet:      set.Name,
		RunsPerParamCombo: runs,
		MaxRuntimeMinutes: minutes,
	}); err != nil {
		a.log.Warn().Err(err).Msg("record created job")
	}
	a.log.Info().Str("job_id", id).Str("build_id", req.BuildID).Msg("simulation created")
	return id, nil
}

func (a *App) ListJobs(ctx context.Context) ([]gamesim.Job, error) {
	_, client, err := a.state()
	if err != nil {
		return nil, err
	}
	return client.ListJobs(ctx)
}

func (a *App) DescribeJob(ctx context.Context, jobID string) (*gamesim.JobDescription, error) {
	_, client, err := a.state()
	if err != nil {
		return nil, err
	}
	return client.DescribeJob(ctx, jobID)
}

func (a *App) ListBuilds(ctx context.Context) ([]gamesim.Build, error) {
	_, client, err := a.state()
	if err != nil {
		return nil, err
	}
	return client.ListBuilds(ctx)
}

// History returns the builds and jobs created from this workstation.
func (a *App) History(limit int) ([]store.BuildRecord, []store.JobRecord, error) {
	db, _, err := a.state()
	if err != nil {
		return nil, nil, err
	}
	builds, err := db.ListBuilds(limit)
	if err != nil {
		return nil, nil, err
	}
	jobs, err := db.ListJobs(limit)
	if err != nil {
		return nil, nil, err
	}
	return builds, jobs, nil
}

// TypeFor returns the Remote Config type of a parameter key.
func (a *App) TypeFor(ctx context.Context, key string) (paramtypes.Type, error) {
	a.mu.RLock()
	resolver := a.resolver
	a.mu.RUnlock()
	if resolver == nil {
		return paramtypes.TypeUnknown, errNotStarted
	}
	return resolver.TypeFor(ctx, key)
}
