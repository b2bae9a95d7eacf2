// Package api serves the counters of a running simulation over HTTP so a
// local harness or dashboard can drive and inspect them.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/MJE43/game-simulation-go/internal/counters"
	"github.com/MJE43/game-simulation-go/internal/logging"
)

// Version is reported by /health and the X-Gamesim-Version header.
var Version = "dev"

// Server exposes a counters Manager.
type Server struct {
	manager      *counters.Manager
	errorHandler *ErrorHandler
	log          zerolog.Logger
	startTime    time.Time
}

func NewServer(manager *counters.Manager) *Server {
	log := logging.WithComponent("api")
	return &Server{
		manager:      manager,
		errorHandler: NewErrorHandler(log),
		log:          log,
		startTime:    time.Now(),
	}
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(s.errorHandler.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/counters", s.handleDocument)
		r.Get("/counters/{name}", s.handleGetCounter)
		r.Put("/counters/{name}", s.handleSetCounter)
		r.Delete("/counters/{name}", s.handleResetCounter)
		r.Post("/counters/{name}/increment", s.handleIncrement)
		r.Post("/counters/{name}/series", s.handleCaptureSeries)
		r.Post("/counters/{name}/flush", s.handleFlushCounter)
		r.Post("/snapshots", s.handleSnapshot)
		r.Post("/flush", s.handleFlush)
	})
	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Gamesim-Version", Version)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("encode response")
	}
}

// decode reads a JSON body into v, reporting a validation error on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		s.errorHandler.Validation(w, r, "body", "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

// guardShutdown rejects mutations once the manager is shutting down.
func (s *Server) guardShutdown(w http.ResponseWriter, r *http.Request) bool {
	if s.manager.ShuttingDown() {
		s.errorHandler.Write(w, r, http.StatusConflict,
			NewError(ErrTypeConflict, "simulation is shutting down").WithRequest(r).Build())
		return false
	}
	return true
}
