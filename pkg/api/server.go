// Package api exposes the backtest engine over HTTP.
//
// Endpoints:
//
//	GET  /api/v1/status    - service health check
//	GET  /api/v1/datasets  - available symbol/interval series
//	GET  /api/v1/bars      - raw OHLCV series for one symbol/interval
//	POST /api/v1/signals   - indicator + entry/exit flag preview, no simulation
//	POST /api/v1/backtest  - full pipeline: trades and metrics per symbol
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/algomatic/backtest-service/pkg/backtest"
	"github.com/algomatic/backtest-service/pkg/history"
)

// Server holds dependencies for the API handlers.
type Server struct {
	Runner   *backtest.Runner
	Provider history.Provider
	Logger   *slog.Logger

	version string
	started time.Time
}

// NewServer creates a new API server.
func NewServer(runner *backtest.Runner, provider history.Provider, version string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		Runner:   runner,
		Provider: provider,
		Logger:   logger,
		version:  version,
		started:  time.Now(),
	}
}

// RegisterRoutes registers all API routes on the provided mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/status", s.HandleStatus)
	mux.HandleFunc("GET /api/v1/datasets", s.HandleDatasets)
	mux.HandleFunc("GET /api/v1/bars", s.HandleBars)
	mux.HandleFunc("POST /api/v1/signals", s.HandleSignals)
	mux.HandleFunc("POST /api/v1/backtest", s.HandleBacktest)
}

type errorResponse struct {
	Error  string `json:"error"`
	Fields any    `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Failed to encode JSON response", "error", err)
	}
}
