package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/MJE43/game-simulation-go/bindings"
	"github.com/MJE43/game-simulation-go/internal/store"
)

// withApp starts the workbench for one command and shuts it down afterwards.
func withApp(ctx context.Context, fn func(app *bindings.App) error) error {
	cfg, err := bindings.LoadConfig()
	if err != nil {
		return err
	}
	app := bindings.New(cfg)
	if err := app.Startup(ctx); err != nil {
		return err
	}
	defer app.Shutdown()
	return fn(app)
}

func project(ctx context.Context, args []string) error {
	if len(args) > 1 {
		return errUsage
	}
	return withApp(ctx, func(app *bindings.App) error {
		if len(args) == 1 {
			if err := app.SetProject(args[0]); err != nil {
				return err
			}
		}
		fmt.Println(app.ProjectID())
		return nil
	})
}

func token(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errUsage
	}
	return withApp(ctx, func(app *bindings.App) error {
		switch args[0] {
		case "set":
			if len(args) != 2 {
				return errUsage
			}
			return app.SetToken(args[1])
		case "clear":
			return app.ClearToken()
		case "status":
			fmt.Printf("project=%s token=%t\n", app.ProjectID(), app.HasToken())
			return nil
		default:
			return errUsage
		}
	})
}

func metrics(ctx context.Context, args []string) error {
	return withApp(ctx, func(app *bindings.App) error {
		if len(args) > 0 {
			if err := app.SetMetricNames(args); err != nil {
				return err
			}
		}
		names, err := app.MetricNames()
		if err != nil {
			return err
		}
		return printJSON(names)
	})
}

func params(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errUsage
	}
	return withApp(ctx, func(app *bindings.App) error {
		switch args[0] {
		case "list":
			sets, err := app.ListParameterSets()
			if err != nil {
				return err
			}
			return printJSON(sets)
		case "show":
			if len(args) != 2 {
				return errUsage
			}
			set, err := app.Parameters(args[1])
			if err != nil {
				return err
			}
			return printJSON(set)
		case "save":
			if len(args) != 2 {
				return errUsage
			}
			raw, err := os.ReadFile(args[1])
			if err != nil {
				return fmt.Errorf("read parameter set: %w", err)
			}
			var set store.ParameterSet
			if err := json.Unmarshal(raw, &set); err != nil {
				return fmt.Errorf("decode parameter set: %w", err)
			}
			saved, err := app.SaveParameters(set)
			if err != nil {
				return err
			}
			return printJSON(saved)
		default:
			return errUsage
		}
	})
}

func upload(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("upload", flag.ContinueOnError)
	name := fs.String("name", "", "build name")
	if err := fs.Parse(args); err != nil || fs.NArg() != 1 || *name == "" {
		return errUsage
	}
	return withApp(ctx, func(app *bindings.App) error {
		id, err := app.UploadBuild(ctx, *name, fs.Arg(0))
		if err != nil {
			return err
		}
		fmt.Println(id)
		return nil
	})
}

func builds(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("builds", flag.ContinueOnError)
	local := fs.Bool("local", false, "list builds uploaded from this machine")
	limit := fs.Int("limit", 50, "history size with -local")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	return withApp(ctx, func(app *bindings.App) error {
		if *local {
			history, _, err := app.History(*limit)
			if err != nil {
				return err
			}
			return printJSON(history)
		}
		list, err := app.ListBuilds(ctx)
		if err != nil {
			return err
		}
		return printJSON(list)
	})
}

func jobs(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("jobs", flag.ContinueOnError)
	local := fs.Bool("local", false, "list jobs created from this machine")
	limit := fs.Int("limit", 50, "history size with -local")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	return withApp(ctx, func(app *bindings.App) error {
		if *local {
			_, history, err := app.History(*limit)
			if err != nil {
				return err
			}
			return printJSON(history)
		}
		list, err := app.ListJobs(ctx)
		if err != nil {
			return err
		}
		return printJSON(list)
	})
}

func describe(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	return withApp(ctx, func(app *bindings.App) error {
		desc, err := app.DescribeJob(ctx, args[0])
		if err != nil {
			return err
		}
		if len(desc.Raw) > 0 {
			var pretty any
			if json.Unmarshal(desc.Raw, &pretty) == nil {
				return printJSON(pretty)
			}
		}
		return printJSON(desc)
	})
}

func create(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("create", flag.ContinueOnError)
	var req bindings.SimulationRequest
	fs.StringVar(&req.Name, "name", "", "job name")
	fs.StringVar(&req.BuildID, "build", "", "build id")
	fs.StringVar(&req.ParameterSet, "params", "", "saved parameter set")
	fs.IntVar(&req.RunsPerParamCombo, "runs", 0, "runs per parameter combination (default: the set's)")
	fs.IntVar(&req.MaxRuntimeMinutes, "minutes", 0, "max runtime in minutes (default: the set's)")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if req.Name == "" || req.BuildID == "" || req.ParameterSet == "" {
		return errUsage
	}
	return withApp(ctx, func(app *bindings.App) error {
		id, err := app.CreateSimulation(ctx, req)
		if err != nil {
			return err
		}
		fmt.Println(id)
		return nil
	})
}

func typeFor(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	return withApp(ctx, func(app *bindings.App) error {
		typ, err := app.TypeFor(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Println(typ)
		return nil
	})
}
