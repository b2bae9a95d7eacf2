package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog"

	"github.com/MJE43/game-simulation-go/internal/api"
	"github.com/MJE43/game-simulation-go/internal/counters"
	"github.com/MJE43/game-simulation-go/internal/logging"
	"github.com/MJE43/game-simulation-go/internal/remoteconfig"
	"github.com/MJE43/game-simulation-go/internal/scripting"
	"github.com/MJE43/game-simulation-go/internal/simulation"
)

const remoteConfigCacheFile = "remote-config-cache.json"

type runtimeConfig struct {
	ProjectID    string        `env:"GAMESIM_PROJECT_ID"`
	FetchTimeout time.Duration `env:"GAMESIM_REMOTE_CONFIG_TIMEOUT" envDefault:"10s"`
	Addr         string        `env:"GAMESIM_LISTEN_ADDR" envDefault:"127.0.0.1:17890"`
}

// simRuntime is the wiring every simulation process shares: run identity,
// the counters registry and the remote settings.
type simRuntime struct {
	cfg      simulation.Config
	manager  *counters.Manager
	settings *remoteconfig.Provider
	shutdown *simulation.ShutdownNotifier
	log      zerolog.Logger
}

func newSimRuntime(ctx context.Context, rc runtimeConfig, offline bool) (*simRuntime, error) {
	log := logging.WithComponent("gamesim")

	cfg, err := simulation.LoadConfig()
	if err != nil {
		return nil, err
	}
	storage := simulation.Storage{Root: cfg.StoragePath}

	manager := counters.NewManager(counters.Options{
		Writer: simulation.FileProducer{},
		Dirs:   storage,
		Run:    cfg,
	})
	provider := remoteconfig.NewProvider(remoteconfig.Options{
		URL:       cfg.RemoteConfigURL,
		ProjectID: rc.ProjectID,
		CachePath: filepath.Join(cfg.StoragePath, remoteConfigCacheFile),
		Metadata:  manager,
	})

	notifier := simulation.NewShutdownNotifier(log)
	notifier.OnShutdown(manager.Shutdown)

	log.Info().
		Str("instance", cfg.InstanceID()).
		Str("attempt", cfg.AttemptID()).
		Bool("cloud", cfg.RunningInCloud()).
		Str("storage", cfg.StoragePath).
		Msg("simulation runtime ready")

	rt := &simRuntime{cfg: cfg, manager: manager, settings: provider, shutdown: notifier, log: log}
	if !offline {
		rt.fetchSettings(ctx, rc.FetchTimeout)
	}
	return rt, nil
}

func (rt *simRuntime) fetchSettings(ctx context.Context, timeout time.Duration) {
	attrs, envID, err := remoteconfig.Attributes(rt.cfg)
	if err != nil {
		rt.log.Warn().Err(err).Msg("could not derive remote config attributes")
		return
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	origin, err := rt.settings.Fetch(ctx, attrs, envID, func() {
		rt.log.Info().Strs("keys", rt.settings.Keys()).Msg("remote settings applied")
	})
	if err != nil {
		rt.log.Warn().Err(err).Str("origin", string(origin)).Msg("running without fresh remote settings")
	}
}

func runScript(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	frames := fs.Int("frames", 3600, "number of update(dt) calls")
	delta := fs.Duration("dt", time.Second/60, "simulated time per frame")
	realTime := fs.Bool("realtime", false, "pace frames on the wall clock")
	offline := fs.Bool("offline", false, "skip the remote config fetch")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if fs.NArg() != 1 {
		return errUsage
	}

	var rc runtimeConfig
	if err := env.Parse(&rc); err != nil {
		return fmt.Errorf("parse environment: %w", err)
	}
	source, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		return fmt.Errorf("read script: %w", err)
	}

	rt, err := newSimRuntime(ctx, rc, *offline)
	if err != nil {
		return err
	}
	defer rt.manager.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go rt.shutdown.Listen(ctx)

	runner := scripting.NewRunner(rt.manager, rt.settings, scripting.RunnerConfig{
		Frames:     *frames,
		FrameDelta: *delta,
		RealTime:   *realTime,
	})
	res, err := runner.Run(ctx, string(source))
	rt.shutdown.Trigger()

	if err != nil {
		return err
	}
	return printJSON(res)
}

func serve(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	frame := fs.Duration("frame", time.Second/30, "ticker frame interval")
	offline := fs.Bool("offline", false, "skip the remote config fetch")
	var rc runtimeConfig
	if err := env.Parse(&rc); err != nil {
		return fmt.Errorf("parse environment: %w", err)
	}
	fs.StringVar(&rc.Addr, "addr", rc.Addr, "listen address")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	rt, err := newSimRuntime(ctx, rc, *offline)
	if err != nil {
		return err
	}
	defer rt.manager.Close()

	srv := &http.Server{
		Addr:              rc.Addr,
		Handler:           api.NewServer(rt.manager).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	tickCtx, stopTicker := context.WithCancel(context.Background())
	go rt.manager.Ticker().Run(tickCtx, *frame, nil)

	// HTTP stops first, then the ticker, then the counters flush.
	shutdown := simulation.NewShutdownNotifier(rt.log)
	shutdown.OnShutdown(func() {
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			rt.log.Warn().Err(err).Msg("http server shutdown")
		}
	})
	shutdown.OnShutdown(stopTicker)
	shutdown.OnShutdown(rt.shutdown.Trigger)

	errCh := make(chan error, 1)
	go func() {
		rt.log.Info().Str("addr", rc.Addr).Msg("counters server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	go shutdown.Listen(ctx)
	select {
	case err := <-errCh:
		shutdown.Trigger()
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	case <-shutdown.Done():
	}
	<-shutdown.Done()
	return nil
}
