package scripting

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/MJE43/game-simulation-go/internal/counters"
	"github.com/MJE43/game-simulation-go/internal/logging"
)

// RunnerConfig bounds a scripted run.
type RunnerConfig struct {
	// Frames is the number of update calls. Defaults to 3600.
	Frames int
	// FrameDelta is the simulated time per frame. Defaults to 1/60s.
	FrameDelta time.Duration
	// RealTime paces frames on the wall clock instead of running flat out.
	RealTime bool
}

// Result summarizes a finished run.
type Result struct {
	Frames    int           `json:"frames"`
	Simulated time.Duration `json:"simulated"`
	Stopped   bool          `json:"stopped"`
	Logs      []LogEntry    `json:"logs"`
}

// Runner drives a script's update loop against a counters Manager and shuts
// the manager down, flushing the counters, when the loop ends.
type Runner struct {
	manager  *counters.Manager
	settings Settings
	cfg      RunnerConfig
	log      zerolog.Logger
}

func NewRunner(manager *counters.Manager, settings Settings, cfg RunnerConfig) *Runner {
	if cfg.Frames <= 0 {
		cfg.Frames = 3600
	}
	if cfg.FrameDelta <= 0 {
		cfg.FrameDelta = time.Second / 60
	}
	return &Runner{
		manager:  manager,
		settings: settings,
		cfg:      cfg,
		log:      logging.WithComponent("scripting"),
	}
}

// Run executes source and calls update(dt) once per frame until the frame
// budget is spent, the script calls stop() or ctx is cancelled. The ticker is
// advanced by the frame delta after each update so step series sample on
// simulated time. Shutdown runs on every exit path.
func (r *Runner) Run(ctx context.Context, source string) (Result, error) {
	defer r.manager.Shutdown()

	vm := NewVM(r.manager, r.settings, r.log)
	if err := vm.Execute(source); err != nil {
		return Result{Logs: vm.Logs()}, err
	}
	if !vm.HasUpdate() {
		return Result{Logs: vm.Logs()}, errors.New("scripting: script does not define update(dt)")
	}

	var pace *time.Ticker
	if r.cfg.RealTime {
		pace = time.NewTicker(r.cfg.FrameDelta)
		defer pace.Stop()
	}

	ticker := r.manager.Ticker()
	dt := r.cfg.FrameDelta.Seconds()
	res := Result{}

	for res.Frames < r.cfg.Frames {
		if err := ctx.Err(); err != nil {
			r.log.Info().Int("frames", res.Frames).Msg("run cancelled")
			break
		}
		if pace != nil {
			select {
			case <-pace.C:
			case <-ctx.Done():
				continue
			}
		}

		if err := vm.CallUpdate(dt); err != nil {
			res.Logs = vm.Logs()
			return res, err
		}
		ticker.Advance(r.cfg.FrameDelta)
		res.Frames++
		res.Simulated += r.cfg.FrameDelta

		if vm.IsStopRequested() {
			res.Stopped = true
			break
		}
	}

	r.log.Info().
		Int("frames", res.Frames).
		Dur("simulated", res.Simulated).
		Bool("stopped", res.Stopped).
		Msg("script run finished")
	res.Logs = vm.Logs()
	return res, nil
}
