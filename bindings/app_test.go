package bindings

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/zalando/go-keyring"

	"github.com/MJE43/game-simulation-go/internal/gamesim"
	"github.com/MJE43/game-simulation-go/internal/paramtypes"
	"github.com/MJE43/game-simulation-go/internal/store"
)

type fakeService struct {
	mu       sync.Mutex
	jobBody  map[string]any
	uploaded []byte
	metrics  []string
	authSeen []string
}

func (f *fakeService) handler(t *testing.T, baseURL func() string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/rc/projects/proj-1/environments", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"environments":[{"id":"env-prod","name":"production"},{"id":"env-gs","name":"GameSim"}]}`))
	})
	mux.HandleFunc("/rc/projects/proj-1/configs", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("environmentId") != "env-gs" {
			t.Errorf("unexpected environment %q", r.URL.Query().Get("environmentId"))
		}
		w.Write([]byte(`{"configs":[{"type":"settings","value":[
			{"key":"difficulty","type":"int","value":3},
			{"key":"speed","type":"float","value":1.5}]}]}`))
	})
	mux.HandleFunc("/v1/jobs", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.jobBody = body
		f.authSeen = append(f.authSeen, r.Header.Get("Authorization"))
		f.mu.Unlock()
		w.Write([]byte(`{"id":"job-9"}`))
	})
	mux.HandleFunc("/v1/jobs/list", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"projectId":"proj-1","jobs":[{"id":"job-9","name":"sweep","buildId":"b-1","status":"running"}]}`))
	})
	mux.HandleFunc("/v1/builds", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			SimulationMetrics []string `json:"simulationMetrics"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.metrics = body.SimulationMetrics
		f.mu.Unlock()
		w.Write([]byte(`{"id":"b-1","upload_uri":"` + baseURL() + `/upload/b-1"}`))
	})
	mux.HandleFunc("/upload/b-1", func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.uploaded = data
		f.mu.Unlock()
	})
	return mux
}

func startApp(t *testing.T) (*App, *fakeService) {
	t.Helper()
	keyring.MockInit()

	svc := &fakeService{}
	var server *httptest.Server
	server = httptest.NewServer(svc.handler(t, func() string { return server.URL }))
	t.Cleanup(server.Close)

	app := New(Config{
		DataDir:        t.TempDir(),
		APIURL:         server.URL,
		RemoteAdminURL: server.URL + "/rc",
		KeyringService: "gamesim-test",
		HTTPClient:     server.Client(),
	})
	if err := app.Startup(context.Background()); err != nil {
		t.Fatalf("Startup: %v", err)
	}
	t.Cleanup(app.Shutdown)
	if err := app.SetProject("proj-1"); err != nil {
		t.Fatalf("SetProject: %v", err)
	}
	if err := app.SetToken("tok-1"); err != nil {
		t.Fatalf("SetToken: %v", err)
	}
	return app, svc
}

func TestAppNotStarted(t *testing.T) {
	app := New(Config{})
	if _, err := app.MetricNames(); !errors.Is(err, errNotStarted) {
		t.Fatalf("expected errNotStarted, got %v", err)
	}
	if _, err := app.TypeFor(context.Background(), "x"); !errors.Is(err, errNotStarted) {
		t.Fatalf("expected errNotStarted, got %v", err)
	}
}

func TestAppRestoresProjectAndToken(t *testing.T) {
	keyring.MockInit()
	dir := t.TempDir()
	cfg := Config{DataDir: dir, KeyringService: "gamesim-restore"}

	first := New(cfg)
	if err := first.Startup(context.Background()); err != nil {
		t.Fatalf("Startup: %v", err)
	}
	if err := first.SetToken("early"); err == nil {
		t.Fatal("expected SetToken without a project to fail")
	}
	if err := first.SetProject("proj-2"); err != nil {
		t.Fatalf("SetProject: %v", err)
	}
	if err := first.SetToken("secret"); err != nil {
		t.Fatalf("SetToken: %v", err)
	}
	first.Shutdown()

	second := New(cfg)
	if err := second.Startup(context.Background()); err != nil {
		t.Fatalf("Startup: %v", err)
	}
	defer second.Shutdown()
	if second.ProjectID() != "proj-2" {
		t.Fatalf("expected restored project, got %q", second.ProjectID())
	}
	if !second.HasToken() {
		t.Fatal("expected restored token")
	}

	if err := second.ClearToken(); err != nil {
		t.Fatalf("ClearToken: %v", err)
	}
	if second.HasToken() {
		t.Fatal("expected token to be cleared")
	}
}

func TestAppTypeFor(t *testing.T) {
	app, _ := startApp(t)

	typ, err := app.TypeFor(context.Background(), "speed")
	if err != nil {
		t.Fatalf("TypeFor: %v", err)
	}
	if typ != paramtypes.TypeFloat {
		t.Fatalf("expected float, got %q", typ)
	}
	if _, err := app.TypeFor(context.Background(), "missing"); !errors.Is(err, paramtypes.ErrUnknownKey) {
		t.Fatalf("expected ErrUnknownKey, got %v", err)
	}
}

func TestAppCreateSimulationResolvesTypes(t *testing.T) {
	app, svc := startApp(t)

	_, err := app.SaveParameters(store.ParameterSet{
		Name: "sweep",
		Parameters: []gamesim.Parameter{
			{Key: "difficulty", Values: "1,2,3"},
			{Key: "mode", Type: "string", Values: "easy"},
		},
		RunsPerParamCombo: 2,
		MaxRuntimeMinutes: 5,
	})
	if err != nil {
		t.Fatalf("SaveParameters: %v", err)
	}

	id, err := app.CreateSimulation(context.Background(), SimulationRequest{
		Name:              "sweep run",
		BuildID:           "b-1",
		ParameterSet:      "sweep",
		MaxRuntimeMinutes: 20,
	})
	if err != nil {
		t.Fatalf("CreateSimulation: %v", err)
	}
	if id != "job-9" {
		t.Fatalf("unexpected job id %q", id)
	}

	svc.mu.Lock()
	body := svc.jobBody
	auth := svc.authSeen
	svc.mu.Unlock()
	if body["maxRuntimeSeconds"] != "1200" {
		t.Fatalf("expected overridden runtime, got %v", body["maxRuntimeSeconds"])
	}
	meta := body["decisionEngineMetadata"].(map[string]any)
	if meta["runsPerParamCombo"].(float64) != 2 {
		t.Fatalf("expected saved runs per combo, got %v", meta["runsPerParamCombo"])
	}
	settings := meta["settings"].([]any)
	if got := settings[0].(map[string]any)["type"]; got != "int" {
		t.Fatalf("expected resolved int type, got %v", got)
	}
	if len(auth) != 1 || auth[0] != "Bearer tok-1" {
		t.Fatalf("unexpected authorization headers %v", auth)
	}

	_, jobs, err := app.History(10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(jobs) != 1 || jobs[0].ID != "job-9" || jobs[0].ParameterSet != "sweep" {
		t.Fatalf("unexpected job history %+v", jobs)
	}

	listed, err := app.ListJobs(context.Background())
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(listed) != 1 || listed[0].Status != "running" {
		t.Fatalf("unexpected jobs %+v", listed)
	}
}

func TestAppCreateSimulationUnknownSet(t *testing.T) {
	app, _ := startApp(t)
	_, err := app.CreateSimulation(context.Background(), SimulationRequest{
		Name: "x", BuildID: "b", ParameterSet: "nope",
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected store.ErrNotFound, got %v", err)
	}
}

func TestAppUploadBuildDirectory(t *testing.T) {
	app, svc := startApp(t)
	if err := app.SetMetricNames([]string{"score", "deaths"}); err != nil {
		t.Fatalf("SetMetricNames: %v", err)
	}

	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, "Game_Data"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "Game.x86_64"), []byte("elf"), 0o755); err != nil {
		t.Fatal(err)
	}

	id, err := app.UploadBuild(context.Background(), "nightly", dir)
	if err != nil {
		t.Fatalf("UploadBuild: %v", err)
	}
	if id != "b-1" {
		t.Fatalf("unexpected build id %q", id)
	}

	svc.mu.Lock()
	defer svc.mu.Unlock()
	if len(svc.uploaded) == 0 {
		t.Fatal("expected the archive to be uploaded")
	}
	if len(svc.metrics) != 2 {
		t.Fatalf("expected metric names on the build, got %v", svc.metrics)
	}

	builds, _, err := app.History(10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(builds) != 1 || builds[0].Name != "nightly" {
		t.Fatalf("unexpected build history %+v", builds)
	}
}
