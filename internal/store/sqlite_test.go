package store

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/MJE43/game-simulation-go/internal/gamesim"
)

func testDB(t *testing.T) *SQLiteDB {
	t.Helper()
	db, err := NewSQLiteDB(filepath.Join(t.TempDir(), "gamesim.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := testDB(t)
	if err := db.Migrate(); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestSettings(t *testing.T) {
	db := testDB(t)

	if _, ok, err := db.Setting(SettingProjectID); err != nil || ok {
		t.Fatalf("expected missing setting, got ok=%v err=%v", ok, err)
	}
	if err := db.SetSetting(SettingProjectID, "p1"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := db.SetSetting(SettingProjectID, "p2"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	v, ok, err := db.Setting(SettingProjectID)
	if err != nil || !ok || v != "p2" {
		t.Fatalf("unexpected setting %q ok=%v err=%v", v, ok, err)
	}
	if err := db.SetSetting(" ", "x"); err == nil {
		t.Fatal("expected error for empty key")
	}
}

func TestMetricNames(t *testing.T) {
	db := testDB(t)

	names, err := db.MetricNames()
	if err != nil || len(names) != 0 {
		t.Fatalf("expected empty list, got %v, %v", names, err)
	}

	if err := db.SetMetricNames([]string{" score ", "deaths", "", "score"}); err != nil {
		t.Fatalf("set: %v", err)
	}
	names, err = db.MetricNames()
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(names) != 2 || names[0] != "score" || names[1] != "deaths" {
		t.Fatalf("unexpected names %v", names)
	}
}

func TestParameterSets(t *testing.T) {
	db := testDB(t)

	saved, err := db.SaveParameterSet(ParameterSet{
		Name:       "balance",
		Parameters: []gamesim.Parameter{{Key: "lives", Type: "int", Values: "1,2,3"}},
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if saved.ID == "" {
		t.Fatal("expected generated id")
	}
	if saved.RunsPerParamCombo != 1 || saved.MaxRuntimeMinutes != 10 {
		t.Fatalf("expected defaults, got %+v", saved)
	}

	updated, err := db.SaveParameterSet(ParameterSet{
		Name:              "balance",
		Parameters:        []gamesim.Parameter{{Key: "speed", Type: "float", Values: "1.5"}},
		RunsPerParamCombo: 4,
		MaxRuntimeMinutes: 30,
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.ID != saved.ID {
		t.Fatalf("upsert by name must keep the id: %s vs %s", updated.ID, saved.ID)
	}
	if len(updated.Parameters) != 1 || updated.Parameters[0].Key != "speed" || updated.RunsPerParamCombo != 4 {
		t.Fatalf("unexpected updated set %+v", updated)
	}

	list, err := db.ListParameterSets()
	if err != nil || len(list) != 1 {
		t.Fatalf("list: %v, %v", list, err)
	}

	if err := db.DeleteParameterSet("balance"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := db.ParameterSet("balance"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := db.DeleteParameterSet("balance"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestBuildAndJobHistory(t *testing.T) {
	db := testDB(t)
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"b1", "b2", "b3"} {
		if err := db.RecordBuild(BuildRecord{
			ID:         id,
			Name:       "build " + id,
			Metrics:    []string{"score"},
			UploadedAt: base.Add(time.Duration(i) * time.Hour),
		}); err != nil {
			t.Fatalf("record build %s: %v", id, err)
		}
	}
	builds, err := db.ListBuilds(2)
	if err != nil {
		t.Fatalf("list builds: %v", err)
	}
	if len(builds) != 2 || builds[0].ID != "b3" || builds[1].ID != "b2" {
		t.Fatalf("unexpected builds %+v", builds)
	}
	if len(builds[0].Metrics) != 1 || builds[0].Metrics[0] != "score" {
		t.Fatalf("unexpected metrics %v", builds[0].Metrics)
	}

	if err := db.RecordJob(JobRecord{ID: "j1", Name: "first", BuildID: "b1", RunsPerParamCombo: 2, MaxRuntimeMinutes: 5, CreatedAt: base}); err != nil {
		t.Fatalf("record job: %v", err)
	}
	if err := db.RecordJob(JobRecord{ID: "j2", Name: "second", BuildID: "b1", ParameterSet: "balance", CreatedAt: base.Add(time.Minute)}); err != nil {
		t.Fatalf("record job: %v", err)
	}
	jobs, err := db.ListJobs(0)
	if err != nil {
		t.Fatalf("list jobs: %v", err)
	}
	if len(jobs) != 2 || jobs[0].ID != "j2" || jobs[1].RunsPerParamCombo != 2 {
		t.Fatalf("unexpected jobs %+v", jobs)
	}
	if !jobs[1].CreatedAt.Equal(base) {
		t.Fatalf("created_at round trip: got %v", jobs[1].CreatedAt)
	}

	if err := db.RecordJob(JobRecord{}); err == nil {
		t.Fatal("expected error for missing job id")
	}
}
