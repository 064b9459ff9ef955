// Package backtest orchestrates the full pipeline for a backtest request:
// indicator computation, rule evaluation, fill simulation, and metric
// aggregation, fanned out across symbols.
//
// Each symbol is a pure, independent computation over its own series, so
// symbols run concurrently on a worker pool with a fan-in collect step.
// There is no shared mutable state between symbols and no ordering
// requirement across them; trades within one symbol stay chronological.
package backtest

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"sync"

	"github.com/algomatic/backtest-service/pkg/execution"
	"github.com/algomatic/backtest-service/pkg/history"
	"github.com/algomatic/backtest-service/pkg/indicators"
	"github.com/algomatic/backtest-service/pkg/performance"
	"github.com/algomatic/backtest-service/pkg/rules"
	"github.com/algomatic/backtest-service/pkg/types"
)

// Request is a backtest invocation: which symbols, at which interval, with
// which strategy and execution settings. A nil Execution uses the defaults.
type Request struct {
	ID        string                 `json:"id,omitempty"`
	Symbols   []string               `json:"symbols"`
	Interval  string                 `json:"interval"`
	Strategy  rules.StrategySpec     `json:"strategy"`
	Execution *types.ExecutionConfig `json:"execution"`
}

// SymbolResult is the outcome for one symbol: either trades plus metrics,
// or an error that affected only this symbol.
type SymbolResult struct {
	Trades  []types.Trade      `json:"trades,omitempty"`
	Metrics map[string]float64 `json:"metrics,omitempty"`
	Error   string             `json:"error,omitempty"`
}

// Response maps each requested symbol to its result.
type Response map[string]*SymbolResult

// ValidationError carries the structured field errors found in a request.
// Nothing is simulated when validation fails.
type ValidationError struct {
	Fields []rules.FieldError
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		msgs[i] = f.Error()
	}
	return "invalid request: " + strings.Join(msgs, "; ")
}

// Runner executes backtest requests against a history provider.
type Runner struct {
	provider history.Provider
	logger   *slog.Logger
	workers  int
}

// NewRunner creates a Runner with a worker pool sized to available cores.
func NewRunner(provider history.Provider, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		provider: provider,
		logger:   logger,
		workers:  runtime.NumCPU(),
	}
}

// validate checks the request envelope and the strategy definition, and
// normalizes the execution config.
func validate(req *Request) []rules.FieldError {
	var errs []rules.FieldError

	if len(req.Symbols) == 0 {
		errs = append(errs, rules.FieldError{Field: "symbols", Message: "at least one symbol is required"})
	}
	if !types.ValidInterval(req.Interval) {
		errs = append(errs, rules.FieldError{
			Field:   "interval",
			Message: fmt.Sprintf("unknown interval %q", req.Interval),
		})
	}

	errs = append(errs, rules.Validate(req.Strategy)...)

	if req.Execution == nil {
		cfg := types.DefaultExecutionConfig()
		req.Execution = &cfg
	}
	errs = append(errs, validateExecution(*req.Execution)...)
	return errs
}

func validateExecution(cfg types.ExecutionConfig) []rules.FieldError {
	var errs []rules.FieldError
	if cfg.OrderType != types.OrderMarket && cfg.OrderType != types.OrderLimit {
		errs = append(errs, rules.FieldError{
			Field:   "execution.order_type",
			Message: fmt.Sprintf("must be %q or %q", types.OrderMarket, types.OrderLimit),
		})
	}
	if cfg.QuantityPct <= 0 || cfg.QuantityPct > 100 {
		errs = append(errs, rules.FieldError{Field: "execution.quantity_pct", Message: "must be in (0, 100]"})
	}
	if cfg.FeeBps < 0 {
		errs = append(errs, rules.FieldError{Field: "execution.fee_bps", Message: "must be non-negative"})
	}
	if cfg.SlippageBps < 0 {
		errs = append(errs, rules.FieldError{Field: "execution.slippage_bps", Message: "must be non-negative"})
	}
	if cfg.StopLossPct < 0 {
		errs = append(errs, rules.FieldError{Field: "execution.stop_loss_pct", Message: "must be non-negative"})
	}
	if cfg.TakeProfitPct < 0 {
		errs = append(errs, rules.FieldError{Field: "execution.take_profit_pct", Message: "must be non-negative"})
	}
	if cfg.StartingCapital <= 0 {
		errs = append(errs, rules.FieldError{Field: "execution.starting_capital", Message: "must be positive"})
	}
	return errs
}

// Run validates the request and backtests every symbol, fanning the work
// out across the pool and collecting a symbol-keyed response. Per-symbol
// failures (no data, internal errors) land in that symbol's result; only a
// validation failure aborts the whole request.
func (r *Runner) Run(ctx context.Context, req Request) (Response, error) {
	if errs := validate(&req); len(errs) > 0 {
		return nil, &ValidationError{Fields: errs}
	}

	r.logger.Info("Backtest started",
		"request_id", req.ID,
		"symbols", len(req.Symbols),
		"interval", req.Interval,
	)

	type keyed struct {
		symbol string
		result *SymbolResult
	}

	jobs := make(chan string)
	results := make(chan keyed, len(req.Symbols))

	workers := r.workers
	if workers > len(req.Symbols) {
		workers = len(req.Symbols)
	}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for symbol := range jobs {
				results <- keyed{symbol, r.runSymbol(ctx, symbol, req)}
			}
		}()
	}

	for _, symbol := range req.Symbols {
		jobs <- symbol
	}
	close(jobs)
	wg.Wait()
	close(results)

	resp := make(Response, len(req.Symbols))
	for kr := range results {
		resp[kr.symbol] = kr.result
	}

	r.logger.Info("Backtest finished", "request_id", req.ID, "symbols", len(resp))
	return resp, nil
}

// runSymbol executes the full pipeline for one symbol. A panic anywhere in
// the pipeline aborts only this symbol and surfaces as its error entry.
func (r *Runner) runSymbol(ctx context.Context, symbol string, req Request) (result *SymbolResult) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("Backtest worker panicked", "symbol", symbol, "error", rec)
			result = &SymbolResult{Error: fmt.Sprintf("internal error: %v", rec)}
		}
	}()

	bars, err := r.provider.Bars(ctx, symbol, req.Interval)
	if err != nil {
		r.logger.Warn("No bars for symbol", "symbol", symbol, "error", err)
		return &SymbolResult{Error: err.Error()}
	}

	data, sig, err := Signals(bars, req.Strategy)
	if err != nil {
		return &SymbolResult{Error: err.Error()}
	}

	sim := execution.NewSimulator(*req.Execution, r.logger)
	trades := sim.Run(data, sig)

	return &SymbolResult{
		Trades:  trades,
		Metrics: performance.Metrics(trades, req.Interval),
	}
}

// Signals computes the indicator columns a strategy needs and evaluates its
// entry/exit flags over the series. Shared by the runner and the signal
// preview endpoint.
func Signals(bars []types.Bar, spec rules.StrategySpec) ([]types.BarData, rules.Signals, error) {
	data, err := indicatorsFor(bars, spec)
	if err != nil {
		return nil, rules.Signals{}, err
	}
	sig, err := rules.Evaluate(spec, data)
	if err != nil {
		return nil, rules.Signals{}, err
	}
	return data, sig, nil
}

func indicatorsFor(bars []types.Bar, spec rules.StrategySpec) ([]types.BarData, error) {
	return indicators.Compute(bars, rules.RequiredColumns(spec))
}
