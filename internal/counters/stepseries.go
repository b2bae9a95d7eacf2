package counters

import (
	"encoding/json"
	"sync"
)

// IntervalUnit is the unit of a step series cadence.
type IntervalUnit string

const IntervalSeconds IntervalUnit = "seconds"

// MinStepSeriesInterval is the smallest cadence the Manager accepts.
const MinStepSeriesInterval = 15

// StepSeries samples a counter's value at a fixed cadence of ticks.
type StepSeries struct {
	unit     IntervalUnit
	interval int
	counter  *Counter

	mu        sync.Mutex
	remaining int
	values    []int64

	unsubscribe func()
}

// NewStepSeries records the counter's current value and subscribes to src.
// The countdown starts at zero, so the first tick also records a value; after
// that one value is recorded every interval ticks. Call Stop to unsubscribe.
func NewStepSeries(unit IntervalUnit, interval int, counter *Counter, src TickSource) *StepSeries {
	s := &StepSeries{
		unit:     unit,
		interval: interval,
		counter:  counter,
	}
	s.capture()
	if src != nil {
		s.unsubscribe = src.Subscribe(s.tick)
	}
	return s
}

func (s *StepSeries) tick() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.remaining--
	if s.remaining > 0 {
		return
	}
	s.remaining = s.interval
	s.captureLocked()
}

func (s *StepSeries) capture() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.captureLocked()
}

func (s *StepSeries) captureLocked() {
	if s.counter != nil {
		s.values = append(s.values, s.counter.Value())
	}
}

// Stop detaches the series from its tick source. Recorded values are kept.
func (s *StepSeries) Stop() {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
}

func (s *StepSeries) Unit() IntervalUnit { return s.unit }

func (s *StepSeries) Interval() int { return s.interval }

// Values returns a copy of the recorded samples, oldest first.
func (s *StepSeries) Values() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int64, len(s.values))
	copy(out, s.values)
	return out
}

type stepSeriesJSON struct {
	Values   []int64      `json:"values"`
	Interval int          `json:"interval"`
	Unit     IntervalUnit `json:"unit"`
}

func (s *StepSeries) MarshalJSON() ([]byte, error) {
	return json.Marshal(stepSeriesJSON{
		Values:   s.Values(),
		Interval: s.interval,
		Unit:     s.unit,
	})
}
