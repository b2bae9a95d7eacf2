package counters

import (
	"context"
	"sync"
	"time"
)

// Clock allows for deterministic testing of the frame loop.
type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// TickSource delivers one notification per elapsed whole second.
type TickSource interface {
	Subscribe(fn func()) (unsubscribe func())
}

type subscriber struct {
	id uint64
	fn func()
}

// Ticker converts per-frame time deltas into whole-second ticks.
//
// Advance must only be called from the frame loop; subscribers are invoked on
// that goroutine. Subscribe and unsubscribe are safe from any goroutine.
type Ticker struct {
	mu      sync.Mutex
	enabled bool
	pending time.Duration
	subs    []subscriber
	nextID  uint64
}

// NewTicker returns a disabled ticker with no subscribers.
func NewTicker() *Ticker {
	return &Ticker{}
}

// Enable starts delivering ticks on Advance.
func (t *Ticker) Enable() {
	t.mu.Lock()
	t.enabled = true
	t.mu.Unlock()
}

// Disable stops delivering ticks. Subscriptions and the partial second
// accumulated so far are kept.
func (t *Ticker) Disable() {
	t.mu.Lock()
	t.enabled = false
	t.mu.Unlock()
}

func (t *Ticker) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

// Subscribe registers fn for every tick. The returned func removes it and is
// safe to call more than once.
func (t *Ticker) Subscribe(fn func()) func() {
	t.mu.Lock()
	t.nextID++
	id := t.nextID
	t.subs = append(t.subs, subscriber{id: id, fn: fn})
	t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { t.unsubscribe(id) })
	}
}

func (t *Ticker) unsubscribe(id uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, s := range t.subs {
		if s.id == id {
			t.subs = append(t.subs[:i:i], t.subs[i+1:]...)
			return
		}
	}
}

// Subscribers returns the number of live subscriptions.
func (t *Ticker) Subscribers() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}

// Advance adds delta to the accumulator and fires one tick per whole second
// crossed. A delta spanning several seconds fires several ticks. While
// disabled nothing accumulates. Returns the number of ticks fired.
func (t *Ticker) Advance(delta time.Duration) int {
	t.mu.Lock()
	if !t.enabled || delta <= 0 {
		t.mu.Unlock()
		return 0
	}
	t.pending += delta
	n := int(t.pending / time.Second)
	t.pending -= time.Duration(n) * time.Second
	subs := make([]subscriber, len(t.subs))
	copy(subs, t.subs)
	t.mu.Unlock()

	for i := 0; i < n; i++ {
		for _, s := range subs {
			s.fn()
		}
	}
	return n
}

// Run advances the ticker by the measured time between frames until ctx is
// done. It stands in for an engine update loop in headless builds.
func (t *Ticker) Run(ctx context.Context, frame time.Duration, clock Clock) {
	if clock == nil {
		clock = RealClock{}
	}
	if frame <= 0 {
		frame = time.Second / 30
	}

	tk := time.NewTicker(frame)
	defer tk.Stop()

	last := clock.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tk.C:
			now := clock.Now()
			t.Advance(now.Sub(last))
			last = now
		}
	}
}
