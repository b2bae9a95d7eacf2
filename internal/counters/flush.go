package counters

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/MJE43/game-simulation-go/internal/sentryx"
)

// Metadata describes the run a counters file was produced by.
type Metadata struct {
	InstanceID      string `json:"instanceId"`
	AttemptID       string `json:"attemptId"`
	GameSimSettings string `json:"gameSimSettings,omitempty"`
}

// Document is the persisted form of the whole registry.
type Document struct {
	Metadata Metadata   `json:"metadata"`
	Items    []*Counter `json:"items"`
}

var errNoStorage = errors.New("counters: no file writer or directory resolver configured")

// Document captures the registry as a flush would write it.
func (m *Manager) Document() Document {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.documentLocked()
}

func (m *Manager) documentLocked() Document {
	var meta Metadata
	if m.run != nil {
		meta.InstanceID = m.run.InstanceID()
		meta.AttemptID = m.run.AttemptID()
	}
	if fn := m.metadata.Load(); fn != nil {
		meta.GameSimSettings = (*fn)()
	}
	return Document{Metadata: meta, Items: m.sorted()}
}

// FlushCounters writes every counter to counters_{seq}.json. The sequence
// advances on every call so earlier files are never overwritten. Failures
// are logged and reported, not returned.
func (m *Manager) FlushCounters() {
	m.log.Info().Msg("flushing counters to disk")

	m.mu.Lock()
	doc := m.documentLocked()
	seq := m.flushSeq
	m.flushSeq++
	m.mu.Unlock()

	data, err := json.Marshal(doc)
	if err != nil {
		m.reportFlushError(err, "encode counters")
		return
	}

	name := fmt.Sprintf("counters_%d.json", seq)
	path, err := m.write(name, data)
	if err != nil {
		m.reportFlushError(err, "write "+name)
		return
	}
	m.log.Info().Str("path", path).Int("counters", len(doc.Items)).Msg("wrote counters file")
}

// FlushAllCountersAndReset flushes and then, when reset is true, zeroes every
// counter.
func (m *Manager) FlushAllCountersAndReset(reset bool) {
	m.FlushCounters()
	if !reset {
		return
	}
	m.counters.Range(func(_ string, c *Counter) bool {
		c.Reset(0)
		return true
	})
}

// ResetAndFlushCounter writes one counter to {name}_{n}.json in the
// background, where n counts that counter's flushes. consumer, when set,
// receives the written path. Unknown counters and names that would escape
// the output directory are ignored.
func (m *Manager) ResetAndFlushCounter(name string, consumer func(path string), reset bool) {
	if !FileSafeName(name) {
		m.log.Error().Str("counter", name).Msg("counter name cannot be used as a file name")
		return
	}

	m.mu.Lock()
	c, ok := m.counters.Load(name)
	if !ok {
		m.mu.Unlock()
		return
	}
	data, err := json.Marshal(c)
	n := c.nextFlushCount()
	if reset {
		c.Reset(0)
	}
	m.mu.Unlock()

	if err != nil {
		m.reportFlushError(err, "encode counter "+name)
		return
	}

	m.pending.Add(1)
	go func() {
		defer m.pending.Done()
		path, err := m.write(fmt.Sprintf("%s_%d.json", name, n), data)
		if err != nil {
			m.reportFlushError(err, "write counter "+name)
			return
		}
		if consumer != nil {
			consumer(path)
		}
	}()
}

// FileSafeName reports whether name stays inside the output directory when
// used as a file name prefix.
func FileSafeName(name string) bool {
	return strings.TrimSpace(name) != "" &&
		!strings.ContainsAny(name, `/\`) &&
		!strings.Contains(name, "..")
}

func (m *Manager) write(filename string, data []byte) (string, error) {
	if m.writer == nil || m.dirs == nil {
		return "", errNoStorage
	}
	dir, err := m.dirs.DirFor(Category)
	if err != nil {
		return "", fmt.Errorf("counters: resolve directory: %w", err)
	}
	path := filepath.Join(dir, filename)
	if err := m.writer.Write(path, data); err != nil {
		return "", err
	}
	return path, nil
}

func (m *Manager) reportFlushError(err error, op string) {
	m.log.Error().Err(err).Str("op", op).Msg("counters flush failed")
	sentryx.CaptureError(err, "counters flush: %s", op)
}
