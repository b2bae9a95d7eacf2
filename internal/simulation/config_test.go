package simulation

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("GAMESIM_INSTANCE_ID", "")
	t.Setenv("GAMESIM_EXECUTION_ID", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.InstanceID() == "" {
		t.Fatal("expected generated instance id")
	}
	if cfg.AttemptID() != "0" {
		t.Fatalf("expected default attempt 0, got %q", cfg.AttemptID())
	}
	if cfg.StoragePath != "./gamesim-output" {
		t.Fatalf("unexpected storage default %q", cfg.StoragePath)
	}
	if cfg.RunningInCloud() {
		t.Fatal("expected local run without execution id")
	}
}

func TestLoadConfigCloudIDs(t *testing.T) {
	t.Setenv("GAMESIM_INSTANCE_ID", "42")
	t.Setenv("GAMESIM_ATTEMPT_ID", "3")
	t.Setenv("GAMESIM_EXECUTION_ID", "urn:execution:abc123")
	t.Setenv("GAMESIM_DEFINITION_ID", "urn:definition:def456")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.InstanceID() != "42" || cfg.AttemptID() != "3" {
		t.Fatalf("unexpected ids: %+v", cfg)
	}
	if !cfg.RunningInCloud() {
		t.Fatal("expected cloud run")
	}
	exec, err := cfg.ExecutionID()
	if err != nil || exec != "abc123" {
		t.Fatalf("execution id: %q, %v", exec, err)
	}
	def, err := cfg.DefinitionID()
	if err != nil || def != "def456" {
		t.Fatalf("definition id: %q, %v", def, err)
	}
}

func TestURNIDMalformed(t *testing.T) {
	for _, urn := range []string{"", "abc", "a:b", "a:b:"} {
		if _, err := urnID(urn); !errors.Is(err, ErrMalformedURN) {
			t.Errorf("urn %q: expected ErrMalformedURN, got %v", urn, err)
		}
	}
}

func TestAppParamsFromFileURI(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app_params.json")
	body := `{"gameSimDecisionEngineId":"de-1","gameSimDecisionEngineType":"gridsearch","environmentId":"env-9"}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := Config{AppParamURI: "file://" + filepath.ToSlash(path)}
	params, err := cfg.AppParams()
	if err != nil {
		t.Fatalf("app params: %v", err)
	}
	if params.DecisionEngineID != "de-1" || params.DecisionEngineType != "gridsearch" || params.EnvironmentID != "env-9" {
		t.Fatalf("unexpected params: %+v", params)
	}
}

func TestAppParamsMissingFileFallsBack(t *testing.T) {
	cfg := Config{
		AppParamURI:   filepath.Join(t.TempDir(), "missing.json"),
		EnvironmentID: "env-local",
	}
	params, err := cfg.AppParams()
	if err != nil {
		t.Fatalf("app params: %v", err)
	}
	if params.EnvironmentID != "env-local" {
		t.Fatalf("expected environment fallback, got %+v", params)
	}
}
