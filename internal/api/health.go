package api

import (
	"net/http"
	"runtime"
	"time"
)

type HealthResponse struct {
	Status       string `json:"status"`
	Version      string `json:"version"`
	Uptime       string `json:"uptime"`
	Counters     int    `json:"counters"`
	ShuttingDown bool   `json:"shuttingDown"`
	TickerActive bool   `json:"tickerActive"`
	GoVersion    string `json:"goVersion"`
	Goroutines   int    `json:"goroutines"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	if s.manager.ShuttingDown() {
		status = "shutting_down"
	}
	s.writeJSON(w, http.StatusOK, HealthResponse{
		Status:       status,
		Version:      Version,
		Uptime:       time.Since(s.startTime).Round(time.Second).String(),
		Counters:     len(s.manager.Document().Items),
		ShuttingDown: s.manager.ShuttingDown(),
		TickerActive: s.manager.Ticker().Enabled(),
		GoVersion:    runtime.Version(),
		Goroutines:   runtime.NumGoroutine(),
	})
}
