// Package scripting runs a JavaScript game loop against the counters
// subsystem so instrumentation can be exercised without a game engine.
package scripting

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"
	"github.com/rs/zerolog"
)

// Counters is the part of the counters Manager exposed to scripts.
type Counters interface {
	IncrementCounter(name string, amount int64)
	SetCounter(name string, value int64)
	ResetCounter(name string)
	SnapshotCounters(label string) string
	CaptureStepSeries(intervalSeconds int, counterName string)
}

// Settings supplies getConfig lookups as raw JSON values.
type Settings interface {
	Raw(key string) string
}

// LogEntry is a message a script passed to log().
type LogEntry struct {
	Time    time.Time `json:"time"`
	Message string    `json:"message"`
}

// VM wraps a goja runtime with the game simulation globals installed.
type VM struct {
	runtime *goja.Runtime
	mu      sync.Mutex
	log     zerolog.Logger

	logs    []LogEntry
	logsMu  sync.Mutex
	maxLogs int

	stopRequested bool
}

const (
	scriptInitTimeout = 2 * time.Second
	scriptCallTimeout = time.Second
)

// NewVM creates a sandboxed runtime bound to counters and settings. settings
// may be nil, in which case getConfig always returns its default.
func NewVM(counters Counters, settings Settings, log zerolog.Logger) *VM {
	vm := &VM{
		runtime: goja.New(),
		log:     log,
		maxLogs: 500,
	}
	vm.injectGlobals(counters, settings)
	return vm
}

func (vm *VM) injectGlobals(counters Counters, settings Settings) {
	rt := vm.runtime

	rt.Set("incrementCounter", func(call goja.FunctionCall) goja.Value {
		amount := int64(1)
		if len(call.Arguments) > 1 {
			amount = call.Argument(1).ToInteger()
		}
		counters.IncrementCounter(call.Argument(0).String(), amount)
		return goja.Undefined()
	})
	rt.Set("setCounter", func(name string, value int64) {
		counters.SetCounter(name, value)
	})
	rt.Set("resetCounter", func(name string) {
		counters.ResetCounter(name)
	})
	rt.Set("snapshotCounters", func(label string) string {
		return counters.SnapshotCounters(label)
	})
	rt.Set("captureStepSeries", func(intervalSeconds int, name string) {
		counters.CaptureStepSeries(intervalSeconds, name)
	})

	// getConfig(key, fallback) returns the decoded setting or fallback.
	rt.Set("getConfig", func(call goja.FunctionCall) goja.Value {
		fallback := call.Argument(1)
		if settings == nil {
			return fallback
		}
		raw := settings.Raw(call.Argument(0).String())
		if raw == "" {
			return fallback
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return fallback
		}
		return rt.ToValue(v)
	})

	rt.Set("log", func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = arg.String()
		}
		vm.appendLog(strings.Join(parts, " "))
		return goja.Undefined()
	})
	console := rt.NewObject()
	console.Set("log", rt.Get("log"))
	rt.Set("console", console)

	rt.Set("stop", func(call goja.FunctionCall) goja.Value {
		vm.stopRequested = true
		return goja.Undefined()
	})

	rt.Set("require", goja.Undefined())
	rt.Set("fetch", goja.Undefined())
	rt.Set("XMLHttpRequest", goja.Undefined())
	rt.Set("eval", goja.Undefined())
	rt.Set("Function", goja.Undefined())
}

func (vm *VM) appendLog(msg string) {
	vm.log.Info().Str("source", "script").Msg(msg)

	vm.logsMu.Lock()
	defer vm.logsMu.Unlock()
	if len(vm.logs) >= vm.maxLogs {
		vm.logs = vm.logs[1:]
	}
	vm.logs = append(vm.logs, LogEntry{Time: time.Now(), Message: msg})
}

// Execute runs the script body once, which defines update(dt).
func (vm *VM) Execute(source string) error {
	return vm.runWithTimeout(scriptInitTimeout, func() error {
		vm.mu.Lock()
		defer vm.mu.Unlock()
		if _, err := vm.runtime.RunString(source); err != nil {
			return fmt.Errorf("script execution error: %w", err)
		}
		return nil
	})
}

// HasUpdate reports whether the script defined update().
func (vm *VM) HasUpdate() bool {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	_, ok := goja.AssertFunction(vm.runtime.Get("update"))
	return ok
}

// CallUpdate calls update(dt) with dt in seconds.
func (vm *VM) CallUpdate(dt float64) error {
	return vm.runWithTimeout(scriptCallTimeout, func() error {
		vm.mu.Lock()
		defer vm.mu.Unlock()

		fn, ok := goja.AssertFunction(vm.runtime.Get("update"))
		if !ok {
			return fmt.Errorf("update() function is not defined")
		}
		if _, err := fn(goja.Undefined(), vm.runtime.ToValue(dt)); err != nil {
			return fmt.Errorf("update() error: %w", err)
		}
		return nil
	})
}

// IsStopRequested returns true if stop() was called from the script.
func (vm *VM) IsStopRequested() bool {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.stopRequested
}

// Logs returns a copy of the log buffer.
func (vm *VM) Logs() []LogEntry {
	vm.logsMu.Lock()
	defer vm.logsMu.Unlock()
	out := make([]LogEntry, len(vm.logs))
	copy(out, vm.logs)
	return out
}

func (vm *VM) runWithTimeout(timeout time.Duration, fn func() error) error {
	done := make(chan error, 1)
	go func() {
		done <- fn()
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		vm.runtime.Interrupt("script execution timeout")
		select {
		case err := <-done:
			vm.runtime.ClearInterrupt()
			if err != nil {
				return fmt.Errorf("script timed out: %w", err)
			}
			return fmt.Errorf("script timed out")
		case <-time.After(200 * time.Millisecond):
			return fmt.Errorf("script timed out")
		}
	}
}
