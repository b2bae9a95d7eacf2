package api

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/MJE43/game-simulation-go/internal/counters"
)

type incrementRequest struct {
	Amount *int64 `json:"amount"`
}

type setRequest struct {
	Value int64 `json:"value"`
}

type snapshotRequest struct {
	Label string `json:"label"`
}

type seriesRequest struct {
	IntervalSeconds int `json:"intervalSeconds"`
}

type flushRequest struct {
	Reset bool `json:"reset"`
}

type counterResponse struct {
	Name  string `json:"name"`
	Value int64  `json:"value"`
}

type snapshotResponse struct {
	Label string `json:"label"`
}

type flushCounterResponse struct {
	Path string `json:"path,omitempty"`
}

// counterName reads the {name} parameter. chi matches on the escaped path
// when the request has one, so the parameter is unescaped here. A blank name
// is answered with a validation error.
func (s *Server) counterName(w http.ResponseWriter, r *http.Request) (string, bool) {
	name := chi.URLParam(r, "name")
	if r.URL.RawPath != "" {
		unescaped, err := url.PathUnescape(name)
		if err != nil {
			s.errorHandler.Validation(w, r, "name", "counter name is not a valid path segment")
			return "", false
		}
		name = unescaped
	}
	name = strings.TrimSpace(name)
	if name == "" {
		s.errorHandler.Validation(w, r, "name", "counter name is required")
		return "", false
	}
	return name, true
}

func (s *Server) handleDocument(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.manager.Document())
}

func (s *Server) handleGetCounter(w http.ResponseWriter, r *http.Request) {
	name, ok := s.counterName(w, r)
	if !ok {
		return
	}
	c, ok := s.manager.Lookup(name)
	if !ok {
		s.errorHandler.Write(w, r, http.StatusNotFound,
			NewError(ErrTypeNotFound, "counter not found").WithRequest(r).WithContext("name", name).Build())
		return
	}
	s.writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleIncrement(w http.ResponseWriter, r *http.Request) {
	name, ok := s.counterName(w, r)
	if !ok {
		return
	}
	req := incrementRequest{}
	if r.ContentLength != 0 && !s.decode(w, r, &req) {
		return
	}
	if !s.guardShutdown(w, r) {
		return
	}
	amount := int64(1)
	if req.Amount != nil {
		amount = *req.Amount
	}
	s.manager.IncrementCounter(name, amount)
	s.writeJSON(w, http.StatusOK, counterResponse{Name: name, Value: s.manager.Counter(name).Value()})
}

func (s *Server) handleSetCounter(w http.ResponseWriter, r *http.Request) {
	name, ok := s.counterName(w, r)
	if !ok {
		return
	}
	var req setRequest
	if !s.decode(w, r, &req) || !s.guardShutdown(w, r) {
		return
	}
	s.manager.SetCounter(name, req.Value)
	s.writeJSON(w, http.StatusOK, counterResponse{Name: name, Value: s.manager.Counter(name).Value()})
}

func (s *Server) handleResetCounter(w http.ResponseWriter, r *http.Request) {
	name, ok := s.counterName(w, r)
	if !ok {
		return
	}
	if !s.guardShutdown(w, r) {
		return
	}
	s.manager.ResetCounter(name)
	s.writeJSON(w, http.StatusOK, counterResponse{Name: name, Value: s.manager.Counter(name).Value()})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	var req snapshotRequest
	if !s.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Label) == "" {
		s.errorHandler.Validation(w, r, "label", "label is required")
		return
	}
	s.writeJSON(w, http.StatusOK, snapshotResponse{Label: s.manager.SnapshotCounters(req.Label)})
}

// handleCaptureSeries attaches a step series. Intervals below the minimum,
// zero and negative included, are raised by the manager.
func (s *Server) handleCaptureSeries(w http.ResponseWriter, r *http.Request) {
	name, ok := s.counterName(w, r)
	if !ok {
		return
	}
	var req seriesRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.manager.CaptureStepSeries(req.IntervalSeconds, name)
	s.writeJSON(w, http.StatusOK, s.manager.Counter(name))
}

func (s *Server) handleFlush(w http.ResponseWriter, r *http.Request) {
	req := flushRequest{}
	if r.ContentLength != 0 && !s.decode(w, r, &req) {
		return
	}
	s.manager.FlushAllCountersAndReset(req.Reset)
	w.WriteHeader(http.StatusNoContent)
}

// flushWait bounds how long handleFlushCounter waits for the background write.
// A failed write never reports a path, so the wait is what surfaces it.
const flushWait = 5 * time.Second

// handleFlushCounter waits for the single-counter write so the response can
// carry the file path.
func (s *Server) handleFlushCounter(w http.ResponseWriter, r *http.Request) {
	name, ok := s.counterName(w, r)
	if !ok {
		return
	}
	if _, ok := s.manager.Lookup(name); !ok {
		s.errorHandler.Write(w, r, http.StatusNotFound,
			NewError(ErrTypeNotFound, "counter not found").WithRequest(r).WithContext("name", name).Build())
		return
	}
	if !counters.FileSafeName(name) {
		s.errorHandler.Validation(w, r, "name", "counter name cannot be used as a file name")
		return
	}
	req := flushRequest{}
	if r.ContentLength != 0 && !s.decode(w, r, &req) {
		return
	}

	done := make(chan string, 1)
	s.manager.ResetAndFlushCounter(name, func(path string) { done <- path }, req.Reset)
	select {
	case path := <-done:
		s.writeJSON(w, http.StatusOK, flushCounterResponse{Path: path})
	case <-time.After(flushWait):
		s.errorHandler.Write(w, r, http.StatusInternalServerError,
			NewError(ErrTypeInternal, "flush did not complete").WithRequest(r).WithContext("name", name).Build())
	case <-r.Context().Done():
		s.errorHandler.Write(w, r, http.StatusInternalServerError,
			NewError(ErrTypeInternal, "flush did not complete").WithRequest(r).Build())
	}
}
