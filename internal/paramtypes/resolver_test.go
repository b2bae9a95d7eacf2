package paramtypes

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MJE43/game-simulation-go/internal/remoteconfig"
)

type fakeSource struct {
	envs     []remoteconfig.Environment
	settings []remoteconfig.Setting
	delay    time.Duration
	// gate, when set, holds FetchEnvironments until it is closed.
	gate chan struct{}

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	envCalls    atomic.Int32
}

func (f *fakeSource) FetchEnvironments(ctx context.Context, projectID string) ([]remoteconfig.Environment, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		cur := f.maxInFlight.Load()
		if n <= cur || f.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}
	f.envCalls.Add(1)
	if f.gate != nil {
		<-f.gate
	}
	time.Sleep(f.delay)
	return f.envs, nil
}

func (f *fakeSource) FetchConfigs(ctx context.Context, projectID, environmentID string) ([]remoteconfig.Setting, error) {
	if environmentID != "gs" {
		return nil, errors.New("wrong environment")
	}
	return f.settings, nil
}

func newSource() *fakeSource {
	return &fakeSource{
		envs: []remoteconfig.Environment{{ID: "prod", Name: "production"}, {ID: "gs", Name: "GameSim"}},
		settings: []remoteconfig.Setting{
			{Key: "lives", Type: "int"},
			{Key: "seed", Type: "long"},
			{Key: "speed", Type: "float"},
			{Key: "hard", Type: "bool"},
			{Key: "name", Type: "string"},
			{Key: "layout", Type: "json"},
			{Key: "weird", Type: "vector"},
		},
	}
}

func TestTypeFor(t *testing.T) {
	r := NewResolver(newSource(), "p1")
	defer r.Close()

	cases := map[string]Type{
		"lives":  TypeInt,
		"seed":   TypeLong,
		"speed":  TypeFloat,
		"hard":   TypeBool,
		"name":   TypeString,
		"layout": TypeString,
		"weird":  TypeUnknown,
	}
	for key, want := range cases {
		got, err := r.TypeFor(context.Background(), key)
		if err != nil {
			t.Fatalf("%s: %v", key, err)
		}
		if got != want {
			t.Errorf("%s: expected %q, got %q", key, want, got)
		}
	}
}

func TestTypeForErrors(t *testing.T) {
	src := newSource()
	r := NewResolver(src, "p1")
	defer r.Close()

	if _, err := r.TypeFor(context.Background(), "nope"); !errors.Is(err, ErrUnknownKey) {
		t.Fatalf("expected ErrUnknownKey, got %v", err)
	}

	src.envs = []remoteconfig.Environment{{ID: "prod", Name: "production"}}
	if _, err := r.TypeFor(context.Background(), "lives"); !errors.Is(err, ErrNoEnvironment) {
		t.Fatalf("expected ErrNoEnvironment, got %v", err)
	}
}

func TestTypeForSerializesFetches(t *testing.T) {
	src := newSource()
	src.delay = 5 * time.Millisecond
	r := NewResolver(src, "p1")
	defer r.Close()

	keys := []string{"lives", "seed", "speed", "hard", "name"}
	var wg sync.WaitGroup
	for _, k := range keys {
		wg.Add(1)
		go func(k string) {
			defer wg.Done()
			if _, err := r.TypeFor(context.Background(), k); err != nil {
				t.Errorf("%s: %v", k, err)
			}
		}(k)
	}
	wg.Wait()

	if src.maxInFlight.Load() != 1 {
		t.Fatalf("expected one fetch at a time, saw %d", src.maxInFlight.Load())
	}
}

func TestTypeForAfterClose(t *testing.T) {
	r := NewResolver(newSource(), "p1")
	r.Close()
	r.Close()

	if _, err := r.TypeFor(context.Background(), "lives"); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestTypeForCancelledCallerDoesNotFailOthers(t *testing.T) {
	src := newSource()
	src.gate = make(chan struct{})
	r := NewResolver(src, "p1")
	defer r.Close()

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := r.TypeFor(ctxA, "lives")
		errA <- err
	}()

	deadline := time.Now().Add(time.Second)
	for src.envCalls.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("fetch never started")
		}
		time.Sleep(time.Millisecond)
	}

	type outcome struct {
		typ Type
		err error
	}
	resB := make(chan outcome, 1)
	go func() {
		typ, err := r.TypeFor(context.Background(), "lives")
		resB <- outcome{typ, err}
	}()
	time.Sleep(40 * time.Millisecond)

	cancelA()
	if err := <-errA; !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled caller: expected context.Canceled, got %v", err)
	}

	close(src.gate)
	select {
	case got := <-resB:
		if got.err != nil || got.typ != TypeInt {
			t.Fatalf("live caller: expected %q, got %q (%v)", TypeInt, got.typ, got.err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("live caller never returned")
	}
	if n := src.envCalls.Load(); n != 1 {
		t.Fatalf("expected the callers to share one fetch, saw %d", n)
	}
}
