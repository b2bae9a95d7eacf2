package main

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/zalando/go-keyring"

	"github.com/MJE43/game-simulation-go/bindings"
)

func TestCommandUsageNamesCommand(t *testing.T) {
	seen := map[string]bool{}
	for _, c := range commands {
		if seen[c.name] {
			t.Fatalf("duplicate command %q", c.name)
		}
		seen[c.name] = true
		if !strings.HasPrefix(c.usage, c.name) {
			t.Errorf("usage of %q does not start with its name: %q", c.name, c.usage)
		}
	}
}

func TestWorkbenchCommandsRejectBadArguments(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name string
		fn   func(context.Context, []string) error
		args []string
	}{
		{"token without action", token, nil},
		{"describe without id", describe, nil},
		{"typefor with two keys", typeFor, []string{"a", "b"}},
		{"upload without name", upload, []string{"./build"}},
		{"create without build", create, []string{"-name", "x", "-params", "p"}},
		{"run without script", runScript, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.fn(ctx, tc.args); !errors.Is(err, errUsage) {
				t.Fatalf("expected errUsage, got %v", err)
			}
		})
	}
}

func TestMetricsCommandPersists(t *testing.T) {
	keyring.MockInit()
	t.Setenv("GAMESIM_DATA_DIR", t.TempDir())
	t.Setenv("GAMESIM_KEYRING_SERVICE", "gamesim-cli-test")

	ctx := context.Background()
	if err := metrics(ctx, []string{"score", "deaths"}); err != nil {
		t.Fatalf("metrics set: %v", err)
	}

	err := withApp(ctx, func(app *bindings.App) error {
		names, err := app.MetricNames()
		if err != nil {
			return err
		}
		if len(names) != 2 || names[0] != "score" || names[1] != "deaths" {
			t.Errorf("unexpected metric names %v", names)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("withApp: %v", err)
	}
}
