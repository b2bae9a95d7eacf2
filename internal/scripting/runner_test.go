package scripting

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/MJE43/game-simulation-go/internal/counters"
)

type memWriter struct {
	mu    sync.Mutex
	files map[string][]byte
}

func (w *memWriter) Write(path string, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.files[path] = append([]byte(nil), data...)
	return nil
}

type dirs string

func (d dirs) DirFor(category string) (string, error) {
	return filepath.Join(string(d), category), nil
}

type run struct{}

func (run) InstanceID() string { return "1" }
func (run) AttemptID() string  { return "0" }

type staticSettings map[string]string

func (s staticSettings) Raw(key string) string { return s[key] }

func newManager(t *testing.T) (*counters.Manager, *memWriter) {
	t.Helper()
	w := &memWriter{files: map[string][]byte{}}
	nop := zerolog.Nop()
	m := counters.NewManager(counters.Options{Writer: w, Dirs: dirs("/out"), Run: run{}, Logger: &nop})
	t.Cleanup(m.Close)
	return m, w
}

func TestRunnerDrivesCounters(t *testing.T) {
	m, w := newManager(t)
	script := `
		var lives = getConfig("lives", 1);
		captureStepSeries(15, "frames");
		update = function(dt) {
			incrementCounter("frames");
			incrementCounter("lives", lives);
		};
	`
	r := NewRunner(m, staticSettings{"lives": "3"}, RunnerConfig{Frames: 60, FrameDelta: 500 * time.Millisecond})
	res, err := r.Run(context.Background(), script)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Frames != 60 || res.Simulated != 30*time.Second || res.Stopped {
		t.Fatalf("unexpected result %+v", res)
	}
	if got := m.Counter("frames").Value(); got != 60 {
		t.Fatalf("frames: expected 60, got %d", got)
	}
	if got := m.Counter("lives").Value(); got != 180 {
		t.Fatalf("lives: expected 180, got %d", got)
	}
	if !m.ShuttingDown() {
		t.Fatal("expected the manager to be shut down after the run")
	}

	raw, ok := w.files[filepath.Join("/out", counters.Category, "counters_0.json")]
	if !ok {
		t.Fatal("expected flushed counters file")
	}
	var doc struct {
		Items []struct {
			Name       string `json:"name"`
			StepSeries struct {
				Values []int64 `json:"values"`
			} `json:"stepSeries"`
		} `json:"items"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(doc.Items) != 2 || doc.Items[0].Name != "frames" {
		t.Fatalf("unexpected items %+v", doc.Items)
	}
	if len(doc.Items[0].StepSeries.Values) < 2 {
		t.Fatalf("expected step series samples over 30 simulated seconds, got %v", doc.Items[0].StepSeries.Values)
	}
}

func TestRunnerStopAndLogs(t *testing.T) {
	m, _ := newManager(t)
	script := `
		var n = 0;
		update = function(dt) {
			n++;
			setCounter("n", n);
			if (n === 3) {
				log("done at", n, snapshotCounters("end"));
				stop();
			}
		};
	`
	res, err := NewRunner(m, nil, RunnerConfig{Frames: 100}).Run(context.Background(), script)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !res.Stopped || res.Frames != 3 {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(res.Logs) != 1 || res.Logs[0].Message != "done at 3 end" {
		t.Fatalf("unexpected logs %+v", res.Logs)
	}
	if snaps := m.Counter("n").Snapshots(); len(snaps) != 1 || snaps[0].Value != 3 {
		t.Fatalf("unexpected snapshots %+v", snaps)
	}
}

func TestRunnerResetAndDefaults(t *testing.T) {
	m, _ := newManager(t)
	script := `
		update = function(dt) {
			incrementCounter("x", 5);
			resetCounter("x");
			incrementCounter("x", getConfig("missing", 2));
		};
	`
	if _, err := NewRunner(m, staticSettings{}, RunnerConfig{Frames: 1}).Run(context.Background(), script); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := m.Counter("x").Value(); got != 2 {
		t.Fatalf("expected 2, got %d", got)
	}
}

func TestRunnerErrors(t *testing.T) {
	m, _ := newManager(t)
	if _, err := NewRunner(m, nil, RunnerConfig{}).Run(context.Background(), `var x = 1;`); err == nil || !strings.Contains(err.Error(), "update") {
		t.Fatalf("expected missing update error, got %v", err)
	}

	m2, _ := newManager(t)
	_, err := NewRunner(m2, nil, RunnerConfig{Frames: 5}).Run(context.Background(), `update = function() { throw new Error("boom"); };`)
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("expected script error, got %v", err)
	}
	if !m2.ShuttingDown() {
		t.Fatal("expected shutdown after a failed run")
	}
}

func TestRunnerSandbox(t *testing.T) {
	m, _ := newManager(t)
	_, err := NewRunner(m, nil, RunnerConfig{Frames: 1}).Run(context.Background(), `require("fs"); update = function() {};`)
	if err == nil {
		t.Fatal("expected require to be unavailable")
	}
}

func TestRunnerCancelled(t *testing.T) {
	m, _ := newManager(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := NewRunner(m, nil, RunnerConfig{Frames: 10}).Run(ctx, `update = function() { incrementCounter("x"); };`)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Frames != 0 {
		t.Fatalf("expected no frames after cancellation, got %d", res.Frames)
	}
}
