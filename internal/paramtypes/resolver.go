// Package paramtypes resolves the declared type of a simulation parameter from
// the project's GameSim Remote Config environment.
package paramtypes

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/MJE43/game-simulation-go/internal/logging"
	"github.com/MJE43/game-simulation-go/internal/remoteconfig"
)

// Type is a parameter type accepted by grid search jobs.
type Type string

const (
	TypeString  Type = "string"
	TypeBool    Type = "bool"
	TypeFloat   Type = "float"
	TypeInt     Type = "int"
	TypeLong    Type = "long"
	TypeUnknown Type = ""
)

// EnvironmentName is the Remote Config environment parameters live in.
const EnvironmentName = "GameSim"

var (
	ErrNoEnvironment = errors.New("paramtypes: project has no GameSim environment")
	ErrUnknownKey    = errors.New("paramtypes: unknown parameter key")
	ErrClosed        = errors.New("paramtypes: resolver closed")
)

// Parse maps a Remote Config type name to a Type. json settings are passed
// to the game as strings.
func Parse(name string) Type {
	switch name {
	case "string", "json":
		return TypeString
	case "bool":
		return TypeBool
	case "float":
		return TypeFloat
	case "int":
		return TypeInt
	case "long":
		return TypeLong
	default:
		return TypeUnknown
	}
}

// ConfigSource is the subset of the Remote Config admin API the resolver
// needs.
type ConfigSource interface {
	FetchEnvironments(ctx context.Context, projectID string) ([]remoteconfig.Environment, error)
	FetchConfigs(ctx context.Context, projectID, environmentID string) ([]remoteconfig.Setting, error)
}

type result struct {
	typ Type
	err error
}

type job struct {
	ctx   context.Context
	key   string
	reply chan result
}

// Resolver answers TypeFor lookups one at a time on a single worker.
type Resolver struct {
	src       ConfigSource
	projectID string
	log       zerolog.Logger

	group singleflight.Group
	jobs  chan job

	closeOnce sync.Once
	done      chan struct{}
	stopped   chan struct{}
}

func NewResolver(src ConfigSource, projectID string) *Resolver {
	r := &Resolver{
		src:       src,
		projectID: projectID,
		log:       logging.WithComponent("paramtypes"),
		jobs:      make(chan job),
		done:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
	go r.worker()
	return r
}

// TypeFor returns the declared type of key. Concurrent lookups of the same key
// share one fetch. The shared fetch does not inherit any caller's
// cancellation; each caller stops waiting when its own ctx is done.
func (r *Resolver) TypeFor(ctx context.Context, key string) (Type, error) {
	shared := context.WithoutCancel(ctx)
	ch := r.group.DoChan(key, func() (any, error) {
		return r.submit(shared, key)
	})
	select {
	case res := <-ch:
		if res.Shared {
			r.log.Debug().Str("key", key).Msg("shared type lookup")
		}
		if res.Err != nil {
			return TypeUnknown, res.Err
		}
		return res.Val.(Type), nil
	case <-ctx.Done():
		return TypeUnknown, ctx.Err()
	}
}

func (r *Resolver) submit(ctx context.Context, key string) (Type, error) {
	j := job{ctx: ctx, key: key, reply: make(chan result, 1)}
	select {
	case r.jobs <- j:
	case <-ctx.Done():
		return TypeUnknown, ctx.Err()
	case <-r.done:
		return TypeUnknown, ErrClosed
	}
	select {
	case res := <-j.reply:
		return res.typ, res.err
	case <-ctx.Done():
		return TypeUnknown, ctx.Err()
	}
}

func (r *Resolver) worker() {
	defer close(r.stopped)
	for {
		select {
		case j := <-r.jobs:
			typ, err := r.resolve(j.ctx, j.key)
			j.reply <- result{typ: typ, err: err}
		case <-r.done:
			return
		}
	}
}

func (r *Resolver) resolve(ctx context.Context, key string) (Type, error) {
	envs, err := r.src.FetchEnvironments(ctx, r.projectID)
	if err != nil {
		return TypeUnknown, fmt.Errorf("paramtypes: fetch environments: %w", err)
	}

	envID := ""
	for _, env := range envs {
		if env.Name == EnvironmentName {
			envID = env.ID
			break
		}
	}
	if envID == "" {
		return TypeUnknown, ErrNoEnvironment
	}

	settings, err := r.src.FetchConfigs(ctx, r.projectID, envID)
	if err != nil {
		return TypeUnknown, fmt.Errorf("paramtypes: fetch configs: %w", err)
	}
	for _, s := range settings {
		if s.Key == key {
			typ := Parse(s.Type)
			if typ == TypeUnknown {
				r.log.Warn().Str("key", key).Str("type", s.Type).Msg("unrecognized parameter type")
			}
			return typ, nil
		}
	}
	return TypeUnknown, fmt.Errorf("%w: %q", ErrUnknownKey, key)
}

// Close stops the worker. Pending and later lookups fail with ErrClosed.
func (r *Resolver) Close() {
	r.closeOnce.Do(func() {
		close(r.done)
		<-r.stopped
	})
}
