package backtest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/algomatic/backtest-service/pkg/history"
	"github.com/algomatic/backtest-service/pkg/rules"
	"github.com/algomatic/backtest-service/pkg/types"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// mapProvider serves bar series from an in-memory map keyed by symbol.
type mapProvider struct {
	series map[string][]types.Bar
}

func (p *mapProvider) Bars(_ context.Context, symbol, interval string) ([]types.Bar, error) {
	bars, ok := p.series[symbol]
	if !ok {
		return nil, fmt.Errorf("%w for %s %s", history.ErrNoData, symbol, interval)
	}
	return bars, nil
}

func (p *mapProvider) Datasets(_ context.Context) ([]history.Dataset, error) {
	var out []history.Dataset
	for symbol := range p.series {
		out = append(out, history.Dataset{Symbol: symbol, Interval: "1Hour"})
	}
	return out, nil
}

func makeBars(closes []float64) []types.Bar {
	bars := make([]types.Bar, len(closes))
	for i, c := range closes {
		bars[i] = types.Bar{
			Timestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(i) * time.Hour),
			Open:      c,
			High:      c + 1.0,
			Low:       c - 1.0,
			Close:     c,
			Volume:    1000,
		}
	}
	return bars
}

// breakoutSpec enters above 10 and exits below 10.
func breakoutSpec() rules.StrategySpec {
	return rules.StrategySpec{
		Entry: []rules.Condition{{Left: rules.ColOperand("close"), Op: rules.OpGT, Right: rules.NumOperand(10)}},
		Exit:  []rules.Condition{{Left: rules.ColOperand("close"), Op: rules.OpLT, Right: rules.NumOperand(10)}},
	}
}

func TestRunValidation(t *testing.T) {
	runner := NewRunner(&mapProvider{}, newTestLogger())

	tests := []struct {
		name string
		req  Request
	}{
		{"no symbols", Request{Interval: "1Hour", Strategy: breakoutSpec()}},
		{"bad interval", Request{Symbols: []string{"AAPL"}, Interval: "2Week", Strategy: breakoutSpec()}},
		{"bad strategy", Request{
			Symbols:  []string{"AAPL"},
			Interval: "1Hour",
			Strategy: rules.StrategySpec{
				Entry: []rules.Condition{{Left: rules.ColOperand("wavetrend_9"), Op: ">", Right: rules.NumOperand(5)}},
			},
		}},
		{"bad execution", Request{
			Symbols:   []string{"AAPL"},
			Interval:  "1Hour",
			Strategy:  breakoutSpec(),
			Execution: &types.ExecutionConfig{OrderType: "iceberg", QuantityPct: 100, StartingCapital: 10000},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runner.Run(context.Background(), tt.req)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("got %v, want *ValidationError", err)
			}
			if len(verr.Fields) == 0 {
				t.Error("validation error carries no field details")
			}
		})
	}
}

func TestRunMultiSymbolFanIn(t *testing.T) {
	provider := &mapProvider{series: map[string][]types.Bar{
		"AAPL": makeBars([]float64{10, 11, 9, 12, 8}),
		"MSFT": makeBars([]float64{10, 12, 8, 10, 10}),
	}}
	runner := NewRunner(provider, newTestLogger())

	resp, err := runner.Run(context.Background(), Request{
		ID:       "req-1",
		Symbols:  []string{"AAPL", "MSFT", "MISSING"},
		Interval: "1Hour",
		Strategy: breakoutSpec(),
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(resp) != 3 {
		t.Fatalf("got %d results, want one per requested symbol", len(resp))
	}

	for _, symbol := range []string{"AAPL", "MSFT"} {
		res := resp[symbol]
		if res == nil {
			t.Fatalf("no result for %s", symbol)
		}
		if res.Error != "" {
			t.Fatalf("%s failed: %s", symbol, res.Error)
		}
		if len(res.Trades) == 0 {
			t.Errorf("%s: expected trades", symbol)
		}
		if res.Metrics["total_trades"] != float64(len(res.Trades)) {
			t.Errorf("%s: total_trades = %f, want %d",
				symbol, res.Metrics["total_trades"], len(res.Trades))
		}
	}

	missing := resp["MISSING"]
	if missing == nil || missing.Error == "" {
		t.Fatal("expected a per-symbol error for the missing series")
	}
	if len(missing.Trades) != 0 {
		t.Error("missing symbol should carry no trades")
	}
}

func TestRunDefaultsExecution(t *testing.T) {
	provider := &mapProvider{series: map[string][]types.Bar{
		"AAPL": makeBars([]float64{10, 11, 9}),
	}}
	runner := NewRunner(provider, newTestLogger())

	resp, err := runner.Run(context.Background(), Request{
		Symbols:  []string{"AAPL"},
		Interval: "1Hour",
		Strategy: breakoutSpec(),
	})
	if err != nil {
		t.Fatalf("Run with nil execution config: %v", err)
	}
	if resp["AAPL"] == nil || resp["AAPL"].Error != "" {
		t.Fatalf("unexpected result: %+v", resp["AAPL"])
	}
}

func TestSignalsHelper(t *testing.T) {
	bars := makeBars([]float64{10, 11, 9, 12})
	data, sig, err := Signals(bars, breakoutSpec())
	if err != nil {
		t.Fatalf("Signals: %v", err)
	}
	if len(data) != len(bars) || len(sig.Entry) != len(bars) || len(sig.Exit) != len(bars) {
		t.Fatal("signals not aligned 1:1 with bars")
	}

	wantEntry := []bool{false, true, false, true}
	wantExit := []bool{false, false, true, false}
	for i := range bars {
		if sig.Entry[i] != wantEntry[i] || sig.Exit[i] != wantExit[i] {
			t.Errorf("signals at idx %d = (%v, %v), want (%v, %v)",
				i, sig.Entry[i], sig.Exit[i], wantEntry[i], wantExit[i])
		}
	}
}

func TestSignalsComputesIndicators(t *testing.T) {
	closes := make([]float64, 10)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	spec := rules.StrategySpec{
		Entry: []rules.Condition{{Left: rules.ColOperand("close"), Op: rules.OpCrossAbove, Right: rules.ColOperand("sma_3")}},
		Exit:  []rules.Condition{{Left: rules.ColOperand("close"), Op: rules.OpCrossBelow, Right: rules.ColOperand("sma_3")}},
	}

	data, _, err := Signals(makeBars(closes), spec)
	if err != nil {
		t.Fatalf("Signals: %v", err)
	}
	if _, ok := data[5].Indicators.Get("sma_3"); !ok {
		t.Error("sma_3 not computed for the strategy's referenced column")
	}
}
