package counters

import (
	"sort"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog"

	"github.com/MJE43/game-simulation-go/internal/logging"
)

// FileWriter persists raw bytes at path.
type FileWriter interface {
	Write(path string, data []byte) error
}

// DirResolver returns a writable directory for a named category.
type DirResolver interface {
	DirFor(category string) (string, error)
}

// RunInfo identifies the simulation instance a flush belongs to.
type RunInfo interface {
	InstanceID() string
	AttemptID() string
}

// Category is the storage category counter files are written under.
const Category = "GameSim"

// Options configures a Manager. Writer and Dirs are required for flushing;
// without them flushes are logged and skipped.
type Options struct {
	Writer FileWriter
	Dirs   DirResolver
	Run    RunInfo
	Ticker *Ticker
	Logger *zerolog.Logger
}

// Manager is the registry of named counters for one simulation process.
type Manager struct {
	writer FileWriter
	dirs   DirResolver
	run    RunInfo
	ticker *Ticker
	log    zerolog.Logger

	counters *xsync.MapOf[string, *Counter]
	created  atomic.Uint64

	// mu guards snapshot sweeps, the used label set and flush sequencing.
	mu       sync.Mutex
	labels   map[string]struct{}
	flushSeq int

	shuttingDown atomic.Bool
	metadata     atomic.Pointer[func() string]

	pending sync.WaitGroup
}

// NewManager builds an empty registry. A Ticker is created when none is given.
func NewManager(opts Options) *Manager {
	log := logging.WithComponent("counters")
	if opts.Logger != nil {
		log = *opts.Logger
	}
	ticker := opts.Ticker
	if ticker == nil {
		ticker = NewTicker()
	}

	log.Info().Msg("initializing game simulation counters")
	return &Manager{
		writer:   opts.Writer,
		dirs:     opts.Dirs,
		run:      opts.Run,
		ticker:   ticker,
		log:      log,
		counters: xsync.NewMapOf[string, *Counter](),
		labels:   make(map[string]struct{}),
	}
}

// Ticker returns the tick source driving step series.
func (m *Manager) Ticker() *Ticker { return m.ticker }

// Counter returns the named counter, creating it on first use.
func (m *Manager) Counter(name string) *Counter {
	c, _ := m.counters.LoadOrCompute(name, func() *Counter {
		return newCounter(name, m.created.Add(1), m.log)
	})
	return c
}

// Lookup returns the named counter without creating it.
func (m *Manager) Lookup(name string) (*Counter, bool) {
	return m.counters.Load(name)
}

// IncrementCounter adds amount to the named counter.
func (m *Manager) IncrementCounter(name string, amount int64) {
	if m.shuttingDown.Load() {
		return
	}
	m.Counter(name).Increment(amount)
}

// SetCounter replaces the named counter's value.
func (m *Manager) SetCounter(name string, value int64) {
	if m.shuttingDown.Load() {
		return
	}
	m.Counter(name).Reset(value)
}

// ResetCounter sets the named counter back to 0.
func (m *Manager) ResetCounter(name string) {
	m.SetCounter(name, 0)
}

// SnapshotCounters records the current value of every counter under a label
// unique to this manager. When label was used before, "-0", "-1", ... is
// appended until an unused label is found. The label used is returned.
func (m *Manager) SnapshotCounters(label string) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	unique := label
	for i := 0; ; i++ {
		if _, used := m.labels[unique]; !used {
			break
		}
		unique = label + "-" + strconv.Itoa(i)
	}
	m.labels[unique] = struct{}{}

	m.counters.Range(func(_ string, c *Counter) bool {
		c.Snapshot(unique)
		return true
	})
	return unique
}

// CaptureStepSeries samples counterName every intervalSeconds, raised to the
// 15 second minimum, and enables the ticker.
func (m *Manager) CaptureStepSeries(intervalSeconds int, counterName string) {
	if intervalSeconds < MinStepSeriesInterval {
		m.log.Warn().
			Int("requested", intervalSeconds).
			Int("minimum", MinStepSeriesInterval).
			Msg("step series interval below minimum, using the minimum instead")
		intervalSeconds = MinStepSeriesInterval
	}

	m.Counter(counterName).EnableStepSeries(intervalSeconds, m.ticker)
	m.ticker.Enable()
}

// SetMetadataSupplier installs the source of the gameSimSettings metadata
// written with every flush. A nil fn clears it.
func (m *Manager) SetMetadataSupplier(fn func() string) {
	if fn == nil {
		m.metadata.Store(nil)
		return
	}
	m.metadata.Store(&fn)
}

// ShuttingDown reports whether Shutdown has been called.
func (m *Manager) ShuttingDown() bool { return m.shuttingDown.Load() }

// Shutdown blocks further counter mutation and flushes every counter once.
// Later calls do nothing.
func (m *Manager) Shutdown() {
	if !m.shuttingDown.CompareAndSwap(false, true) {
		return
	}
	m.FlushCounters()
}

// Close stops every step series and waits for pending single-counter flushes.
func (m *Manager) Close() {
	m.counters.Range(func(_ string, c *Counter) bool {
		c.StopSeries()
		return true
	})
	m.pending.Wait()
}

// sorted returns the counters in creation order.
func (m *Manager) sorted() []*Counter {
	out := make([]*Counter, 0, m.counters.Size())
	m.counters.Range(func(_ string, c *Counter) bool {
		out = append(out, c)
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}
