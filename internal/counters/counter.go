// Package counters is the in-process instrumentation facility linked into
// simulated game builds: named atomic counters, labeled snapshots, fixed
// cadence step series and the flush of all of them to JSON on shutdown.
package counters

import (
	"bytes"
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog"

	"github.com/MJE43/game-simulation-go/internal/sentryx"
)

// Snapshot is a labeled copy of a counter value.
type Snapshot struct {
	Label string `json:"label"`
	Value int64  `json:"value"`
}

// Counter is a named accumulating integer. Increment and Reset are safe for
// concurrent use.
type Counter struct {
	name  string
	seq   uint64
	value atomic.Int64
	log   zerolog.Logger

	mu         sync.Mutex
	snapshots  []Snapshot
	series     *StepSeries
	flushCount int64
}

// NewCounter creates a counter at zero.
func NewCounter(name string) *Counter {
	return newCounter(name, 0, zerolog.Nop())
}

func newCounter(name string, seq uint64, log zerolog.Logger) *Counter {
	return &Counter{
		name: name,
		seq:  seq,
		log:  log.With().Str("counter", name).Logger(),
	}
}

func (c *Counter) Name() string { return c.name }

func (c *Counter) Value() int64 { return c.value.Load() }

// Increment adds amount and returns the new value.
func (c *Counter) Increment(amount int64) int64 {
	return c.value.Add(amount)
}

// Reset replaces the value.
func (c *Counter) Reset(value int64) {
	c.value.Store(value)
}

// Snapshot appends the current value under label. The value is unchanged.
func (c *Counter) Snapshot(label string) {
	v := c.value.Load()
	c.mu.Lock()
	c.snapshots = append(c.snapshots, Snapshot{Label: label, Value: v})
	c.mu.Unlock()
}

// Snapshots returns the snapshot log in insertion order.
func (c *Counter) Snapshots() []Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Snapshot, len(c.snapshots))
	copy(out, c.snapshots)
	return out
}

// EnableStepSeries attaches a series sampling every intervalSeconds ticks of
// src. It reports false, after logging, when the interval is not positive or
// a series is already attached; the existing series keeps running.
func (c *Counter) EnableStepSeries(intervalSeconds int, src TickSource) bool {
	if intervalSeconds <= 0 {
		c.log.Error().Int("interval", intervalSeconds).Msg("step series interval must be greater than 0")
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.series != nil {
		c.log.Warn().Msg("step series already enabled")
		sentryx.CaptureMessage(sentry.LevelWarning, "step series already enabled for counter %s", c.Name())
		return false
	}
	c.series = NewStepSeries(IntervalSeconds, intervalSeconds, c, src)
	return true
}

// Series returns the attached step series, or nil.
func (c *Counter) Series() *StepSeries {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.series
}

// StopSeries unsubscribes the attached series, if any.
func (c *Counter) StopSeries() {
	if s := c.Series(); s != nil {
		s.Stop()
	}
}

// nextFlushCount returns the per-counter flush index and advances it.
func (c *Counter) nextFlushCount() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.flushCount
	c.flushCount++
	return n
}

// MarshalJSON writes the counter with its snapshot log as a JSON object whose
// keys keep insertion order. Empty snapshot logs and absent series are
// omitted.
func (c *Counter) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"name":`)
	if err := writeJSON(&buf, c.name); err != nil {
		return nil, err
	}
	buf.WriteString(`,"value":`)
	if err := writeJSON(&buf, c.Value()); err != nil {
		return nil, err
	}

	if snaps := c.Snapshots(); len(snaps) > 0 {
		buf.WriteString(`,"snapshots":{`)
		for i, s := range snaps {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeJSON(&buf, s.Label); err != nil {
				return nil, err
			}
			buf.WriteByte(':')
			if err := writeJSON(&buf, s.Value); err != nil {
				return nil, err
			}
		}
		buf.WriteByte('}')
	}

	if series := c.Series(); series != nil {
		buf.WriteString(`,"stepSeries":`)
		if err := writeJSON(&buf, series); err != nil {
			return nil, err
		}
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func writeJSON(buf *bytes.Buffer, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	buf.Write(b)
	return nil
}
