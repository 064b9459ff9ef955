package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/algomatic/backtest-service/pkg/backtest"
	"github.com/algomatic/backtest-service/pkg/history"
	"github.com/algomatic/backtest-service/pkg/rules"
	"github.com/algomatic/backtest-service/pkg/types"
)

type statusResponse struct {
	Status        string  `json:"status"`
	UptimeSeconds float64 `json:"uptime_seconds"`
	Version       string  `json:"version"`
}

// HandleStatus returns service health and uptime.
func (s *Server) HandleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		Status:        "healthy",
		UptimeSeconds: time.Since(s.started).Seconds(),
		Version:       s.version,
	})
}

type datasetsResponse struct {
	Datasets []history.Dataset `json:"datasets"`
}

// HandleDatasets lists every symbol/interval series the provider can serve.
func (s *Server) HandleDatasets(w http.ResponseWriter, r *http.Request) {
	datasets, err := s.Provider.Datasets(r.Context())
	if err != nil {
		s.Logger.Error("Listing datasets failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "listing datasets failed"})
		return
	}
	if datasets == nil {
		datasets = []history.Dataset{}
	}
	writeJSON(w, http.StatusOK, datasetsResponse{Datasets: datasets})
}

type barsResponse struct {
	Symbol   string      `json:"symbol"`
	Interval string      `json:"interval"`
	Bars     []types.Bar `json:"bars"`
}

// HandleBars returns the raw OHLCV series for one symbol and interval,
// for previewing input data before a strategy is applied.
func (s *Server) HandleBars(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	interval := r.URL.Query().Get("interval")
	if symbol == "" || interval == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "symbol and interval are required"})
		return
	}

	bars, err := s.Provider.Bars(r.Context(), symbol, interval)
	if err != nil {
		if errors.Is(err, history.ErrNoData) {
			writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
			return
		}
		s.Logger.Error("Loading bars failed", "symbol", symbol, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "loading bars failed"})
		return
	}

	writeJSON(w, http.StatusOK, barsResponse{Symbol: symbol, Interval: interval, Bars: bars})
}

type signalRow struct {
	Timestamp time.Time `json:"timestamp"`
	Entry     bool      `json:"entry"`
	Exit      bool      `json:"exit"`
}

type symbolSignals struct {
	Signals []signalRow `json:"signals,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// HandleSignals runs indicator computation and rule evaluation without any
// trade simulation, returning the per-bar entry/exit flags per symbol.
// Useful for debugging a strategy before a full backtest.
func (s *Server) HandleSignals(w http.ResponseWriter, r *http.Request) {
	var req backtest.Request
	if err := decodeJSON(w, r, &req); err != nil {
		return
	}

	var errs []rules.FieldError
	if len(req.Symbols) == 0 {
		errs = append(errs, rules.FieldError{Field: "symbols", Message: "at least one symbol is required"})
	}
	if !types.ValidInterval(req.Interval) {
		errs = append(errs, rules.FieldError{Field: "interval", Message: "unknown interval"})
	}
	errs = append(errs, rules.Validate(req.Strategy)...)
	if len(errs) > 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request", Fields: errs})
		return
	}

	result := make(map[string]*symbolSignals, len(req.Symbols))
	for _, symbol := range req.Symbols {
		bars, err := s.Provider.Bars(r.Context(), symbol, req.Interval)
		if err != nil {
			result[symbol] = &symbolSignals{Error: err.Error()}
			continue
		}
		data, sig, err := backtest.Signals(bars, req.Strategy)
		if err != nil {
			result[symbol] = &symbolSignals{Error: err.Error()}
			continue
		}
		rows := make([]signalRow, len(data))
		for i, bd := range data {
			rows[i] = signalRow{
				Timestamp: bd.Bar.Timestamp,
				Entry:     sig.Entry[i],
				Exit:      sig.Exit[i],
			}
		}
		result[symbol] = &symbolSignals{Signals: rows}
	}

	writeJSON(w, http.StatusOK, result)
}

// HandleBacktest runs the full pipeline for every requested symbol and
// returns the symbol-keyed trades and metrics map. Validation problems are
// reported as structured field errors before anything is simulated.
func (s *Server) HandleBacktest(w http.ResponseWriter, r *http.Request) {
	var req backtest.Request
	if err := decodeJSON(w, r, &req); err != nil {
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	resp, err := s.Runner.Run(r.Context(), req)
	if err != nil {
		var verr *backtest.ValidationError
		if errors.As(err, &verr) {
			writeJSON(w, http.StatusBadRequest, errorResponse{
				Error:  "invalid request",
				Fields: verr.Fields,
			})
			return
		}
		s.Logger.Error("Backtest failed", "request_id", req.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "backtest failed"})
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed request body: " + err.Error()})
		return err
	}
	return nil
}
