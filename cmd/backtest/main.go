// Command backtest runs a strategy file against local CSV data from the
// command line.
//
// Usage:
//
//	go run ./cmd/backtest --csv-dir data --strategy strategy.yaml \
//	    --symbols AAPL,MSFT --interval 1Day
//
// Trades are written as CSV (stdout by default) and metrics are printed
// per symbol to stderr.
package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/algomatic/backtest-service/pkg/backtest"
	"github.com/algomatic/backtest-service/pkg/history"
	"github.com/algomatic/backtest-service/pkg/rules"
)

func main() {
	csvDir := flag.String("csv-dir", "data", "Directory with {symbol}_{interval}.csv files")
	strategyFile := flag.String("strategy", "", "Path to the YAML strategy file")
	symbols := flag.String("symbols", "", "Comma-separated symbols to backtest")
	interval := flag.String("interval", "1Day", "Bar interval (e.g. 1Min, 1Hour, 1Day)")
	outputFile := flag.String("output", "", "Path for the trades CSV (default: stdout)")
	logLevel := flag.String("log-level", "warn", "Log level: debug, info, warn, error")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLevel(*logLevel),
	}))

	if *strategyFile == "" {
		fmt.Fprintln(os.Stderr, "Error: --strategy is required")
		flag.Usage()
		os.Exit(1)
	}
	if *symbols == "" {
		fmt.Fprintln(os.Stderr, "Error: --symbols is required")
		flag.Usage()
		os.Exit(1)
	}

	strat, err := rules.LoadFile(*strategyFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading strategy: %v\n", err)
		os.Exit(1)
	}

	provider := history.NewCSVProvider(*csvDir, logger)
	runner := backtest.NewRunner(provider, logger)

	req := backtest.Request{
		Symbols:   splitSymbols(*symbols),
		Interval:  *interval,
		Strategy:  strat.Strategy,
		Execution: strat.Execution,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	start := time.Now()
	resp, err := runner.Run(ctx, req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	elapsed := time.Since(start)

	orderedSymbols := make([]string, 0, len(resp))
	for symbol := range resp {
		orderedSymbols = append(orderedSymbols, symbol)
	}
	sort.Strings(orderedSymbols)

	w, closeOutput, err := openOutput(*outputFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating output file: %v\n", err)
		os.Exit(1)
	}
	defer closeOutput()
	defer w.Flush()

	w.Write([]string{
		"symbol", "direction", "entry_time", "exit_time",
		"entry_price", "exit_price", "quantity", "fee_paid", "pnl_pct", "exit_reason",
	})

	totalTrades := 0
	for _, symbol := range orderedSymbols {
		res := resp[symbol]
		if res.Error != "" {
			fmt.Fprintf(os.Stderr, "%s: %s\n", symbol, res.Error)
			continue
		}
		for _, t := range res.Trades {
			w.Write([]string{
				symbol,
				string(t.Direction),
				t.EntryTime.Format(time.RFC3339),
				t.ExitTime.Format(time.RFC3339),
				fmt.Sprintf("%.6f", t.EntryPrice),
				fmt.Sprintf("%.6f", t.ExitPrice),
				fmt.Sprintf("%.6f", t.Quantity),
				fmt.Sprintf("%.6f", t.FeePaid),
				fmt.Sprintf("%.6f", t.PnLPct),
				t.ExitReason,
			})
		}
		totalTrades += len(res.Trades)
		printMetrics(symbol, res.Metrics)
	}

	fmt.Fprintf(os.Stderr, "\n%d symbols, %d trades, %s\n", len(orderedSymbols), totalTrades, elapsed.Round(time.Millisecond))
}

func printMetrics(symbol string, metrics map[string]float64) {
	names := make([]string, 0, len(metrics))
	for name := range metrics {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Fprintf(os.Stderr, "\n%s\n%s\n", symbol, strings.Repeat("-", len(symbol)))
	for _, name := range names {
		fmt.Fprintf(os.Stderr, "  %-28s %12.4f\n", name, metrics[name])
	}
}

func openOutput(path string) (*csv.Writer, func(), error) {
	if path == "" {
		return csv.NewWriter(os.Stdout), func() {}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	return csv.NewWriter(f), func() { f.Close() }, nil
}

func splitSymbols(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "error":
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}
