// Package store persists the workbench state of the CLI and local server:
// settings, the project's metric names, saved parameter sets and the history
// of uploaded builds and created jobs.
package store

import (
	"time"

	"github.com/MJE43/game-simulation-go/internal/gamesim"
)

// DB is the persistence interface the application layer depends on.
type DB interface {
	Close() error
	Migrate() error

	Setting(key string) (string, bool, error)
	SetSetting(key, value string) error

	MetricNames() ([]string, error)
	SetMetricNames(names []string) error

	SaveParameterSet(set ParameterSet) (ParameterSet, error)
	ParameterSet(name string) (*ParameterSet, error)
	ListParameterSets() ([]ParameterSet, error)
	DeleteParameterSet(name string) error

	RecordBuild(b BuildRecord) error
	ListBuilds(limit int) ([]BuildRecord, error)
	RecordJob(j JobRecord) error
	ListJobs(limit int) ([]JobRecord, error)
}

// Known setting keys.
const (
	SettingAPIURL      = "apiUrl"
	SettingProjectID   = "projectId"
	SettingMetricNames = "metricNames"
)

// ParameterSet is a named grid search configuration kept between sessions.
type ParameterSet struct {
	ID                string              `json:"id"`
	Name              string              `json:"name"`
	Parameters        []gamesim.Parameter `json:"parameters"`
	RunsPerParamCombo int                 `json:"runsPerParamCombo"`
	MaxRuntimeMinutes int                 `json:"maxRuntimeMinutes"`
	CreatedAt         time.Time           `json:"createdAt"`
	UpdatedAt         time.Time           `json:"updatedAt"`
}

// BuildRecord is a build this workstation uploaded.
type BuildRecord struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	ZipPath    string    `json:"zipPath"`
	Metrics    []string  `json:"metrics"`
	UploadedAt time.Time `json:"uploadedAt"`
}

// JobRecord is a job this workstation created.
type JobRecord struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	BuildID           string    `json:"buildId"`
	ParameterSet      string    `json:"parameterSet,omitempty"`
	RunsPerParamCombo int       `json:"runsPerParamCombo"`
	MaxRuntimeMinutes int       `json:"maxRuntimeMinutes"`
	CreatedAt         time.Time `json:"createdAt"`
}
