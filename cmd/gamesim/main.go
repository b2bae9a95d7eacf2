// Command gamesim runs counter-instrumented simulations locally and manages
// builds and jobs on the Game Simulation service.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"

	"github.com/MJE43/game-simulation-go/internal/api"
	"github.com/MJE43/game-simulation-go/internal/gamesim"
	"github.com/MJE43/game-simulation-go/internal/logging"
	"github.com/MJE43/game-simulation-go/internal/sentryx"
)

type command struct {
	name  string
	usage string
	run   func(ctx context.Context, args []string) error
}

var commands = []command{
	{"run", "run [flags] <script.js>    run a scripted simulation and flush its counters", runScript},
	{"serve", "serve [flags]              expose a live counters registry over HTTP", serve},
	{"project", "project [id]               show or switch the active project", project},
	{"token", "token set <token>|clear|status", token},
	{"metrics", "metrics [name...]          show or replace the build metric names", metrics},
	{"params", "params list|show <name>|save <file.json>", params},
	{"upload", "upload -name <name> <dir|zip>", upload},
	{"builds", "builds [-local]             list uploaded builds", builds},
	{"jobs", "jobs [-local]               list simulation jobs", jobs},
	{"describe", "describe <job-id>", describe},
	{"create", "create -name <name> -build <id> -params <set>", create},
	{"typefor", "typefor <key>              look up a parameter type in Remote Config", typeFor},
}

var errUsage = errors.New("usage")

func main() {
	var logCfg logging.Config
	if err := env.Parse(&logCfg); err != nil {
		fmt.Fprintf(os.Stderr, "gamesim: %v\n", err)
		os.Exit(2)
	}
	logging.Init(logCfg)
	sentryx.Init("gamesim", gamesim.Version)
	if sentryx.Enabled() {
		log.Debug().Msg("sentry error reporting enabled")
	}
	api.Version = gamesim.Version

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(2)
	}

	name, args := os.Args[1], os.Args[2:]
	if name == "-h" || name == "--help" || name == "help" {
		printUsage()
		return
	}
	if name == "version" {
		fmt.Println(gamesim.Version)
		return
	}

	var cmd *command
	for i := range commands {
		if commands[i].name == name {
			cmd = &commands[i]
			break
		}
	}
	if cmd == nil {
		fmt.Fprintf(os.Stderr, "gamesim: unknown command %q\n\n", name)
		printUsage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := cmd.run(ctx, args)
	stop()

	if err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprintf(os.Stderr, "usage: gamesim %s\n", cmd.usage)
			os.Exit(2)
		}
		sentryx.CaptureError(err, "gamesim %s failed", name)
		sentryx.Flush(2 * time.Second)
		log.Error().Err(err).Str("command", name).Msg("command failed")
		os.Exit(1)
	}
	sentryx.Flush(2 * time.Second)
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: gamesim <command> [arguments]")
	fmt.Fprintln(os.Stderr)
	for _, c := range commands {
		fmt.Fprintf(os.Stderr, "  %s\n", c.usage)
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
