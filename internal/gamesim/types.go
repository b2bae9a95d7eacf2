package gamesim

import (
	"encoding/json"
	"time"
)

// Build is an uploaded player build.
type Build struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	Description       string    `json:"description,omitempty"`
	SimulationMetrics []string  `json:"simulationMetrics,omitempty"`
	CreatedAt         time.Time `json:"createdAt"`
}

// BuildsList is the response of /v1/builds/list.
type BuildsList struct {
	ProjectID string  `json:"projectId"`
	Builds    []Build `json:"builds"`
}

// Job is a simulation job as listed by the service.
type Job struct {
	ID                   string    `json:"id"`
	Name                 string    `json:"name"`
	BuildID              string    `json:"buildId"`
	Stage                string    `json:"stage"`
	Status               string    `json:"status"`
	ExecutionTimeSeconds int64     `json:"executionTimeSeconds"`
	HasStepData          bool      `json:"hasStepData"`
	CreatedAt            time.Time `json:"createdAt"`
	UpdatedAt            time.Time `json:"updatedAt"`
}

// JobsList is the response of /v1/jobs/list.
type JobsList struct {
	ProjectID string `json:"projectId"`
	Jobs      []Job  `json:"jobs"`
}

// JobDescription is the response of /v1/jobs/{id}/describe. Raw keeps the
// full payload for fields this package does not model.
type JobDescription struct {
	Job
	DecisionEngineMetadata *DecisionEngineMetadata `json:"decisionEngineMetadata,omitempty"`
	Raw                    json.RawMessage         `json:"-"`
}

// Setting is one grid search dimension.
type Setting struct {
	Key    string   `json:"key"`
	Type   string   `json:"type"`
	Values []string `json:"values"`
}

type DecisionEngineMetadata struct {
	EngineType        string    `json:"engineType"`
	RunsPerParamCombo int       `json:"runsPerParamCombo"`
	Parallelism       int       `json:"parallelism"`
	Settings          []Setting `json:"settings"`
}

type createJobPayload struct {
	JobName                string                 `json:"jobName"`
	BuildID                string                 `json:"buildId"`
	MaxRuntimeSeconds      string                 `json:"maxRuntimeSeconds"`
	TestInfo               []string               `json:"testInfo"`
	DecisionEngineMetadata DecisionEngineMetadata `json:"decisionEngineMetadata"`
}

type createJobResponse struct {
	ID string `json:"id"`
}

type uploadInfo struct {
	Name              string   `json:"name"`
	Description       string   `json:"description"`
	SimulationMetrics []string `json:"simulationMetrics"`
}

type uploadURLResponse struct {
	ID        string `json:"id"`
	UploadURI string `json:"upload_uri"`
}
