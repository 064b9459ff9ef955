// Package types defines the core data structures shared by the backtest
// pipeline: OHLCV bars, per-bar indicator rows, execution configuration,
// and completed trades.
package types

import (
	"fmt"
	"math"
	"time"
)

// Bar represents a single OHLCV bar. Bars are immutable once loaded and
// ordered by strictly increasing timestamps.
type Bar struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// IndicatorRow holds computed indicator values for one bar, keyed by column
// name. Values inside an indicator's warm-up window are NaN, which Get
// reports as missing.
type IndicatorRow map[string]float64

// Get returns the value for a column. The second return value is false when
// the column is absent, NaN, or infinite.
func (r IndicatorRow) Get(key string) (float64, bool) {
	v, ok := r[key]
	if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
		return math.NaN(), false
	}
	return v, true
}

// BarData combines a Bar with its indicator row. This is the unit the rule
// and execution engines operate on.
type BarData struct {
	Bar        Bar
	Indicators IndicatorRow
}

// Direction represents trade direction. The execution engine currently opens
// long positions only.
type Direction string

const (
	Long  Direction = "long"
	Short Direction = "short"
)

// Exit reasons recorded on completed trades.
const (
	ExitStopLoss   = "stop_loss"
	ExitTakeProfit = "take_profit"
	ExitSignal     = "signal_exit"
	ExitEndOfData  = "end_of_data"
)

// Trade represents one completed entry/exit cycle. Trades are append-only:
// the execution engine emits them in chronological order and nothing
// mutates them afterwards.
type Trade struct {
	EntryTime  time.Time `json:"entry_time"`
	ExitTime   time.Time `json:"exit_time"`
	EntryPrice float64   `json:"entry_price"`
	ExitPrice  float64   `json:"exit_price"`
	Quantity   float64   `json:"quantity"`
	Direction  Direction `json:"direction"`
	FeePaid    float64   `json:"fee_paid"`
	PnLPct     float64   `json:"pnl_pct"`
	ExitReason string    `json:"exit_reason"`
}

// String returns a compact human-readable representation of the trade.
func (t Trade) String() string {
	return fmt.Sprintf(
		"%s %s entry=%.4f exit=%.4f qty=%.4f pnl=%+.2f%% reason=%s",
		t.Direction, t.EntryTime.Format("2006-01-02 15:04"),
		t.EntryPrice, t.ExitPrice, t.Quantity, t.PnLPct, t.ExitReason,
	)
}

// Order types accepted by ExecutionConfig. Limit orders are validated but
// fill with market semantics; the engine has no resting order book.
const (
	OrderMarket = "market"
	OrderLimit  = "limit"
)

// ExecutionConfig controls order-fill simulation. StopLossPct and
// TakeProfitPct of zero mean the protective order is disabled.
type ExecutionConfig struct {
	OrderType       string  `json:"order_type" yaml:"order_type"`
	QuantityPct     float64 `json:"quantity_pct" yaml:"quantity_pct"`
	FeeBps          float64 `json:"fee_bps" yaml:"fee_bps"`
	SlippageBps     float64 `json:"slippage_bps" yaml:"slippage_bps"`
	StopLossPct     float64 `json:"stop_loss_pct" yaml:"stop_loss_pct"`
	TakeProfitPct   float64 `json:"take_profit_pct" yaml:"take_profit_pct"`
	StartingCapital float64 `json:"starting_capital" yaml:"starting_capital"`
}

// DefaultExecutionConfig returns the configuration used when a request omits
// the execution block.
func DefaultExecutionConfig() ExecutionConfig {
	return ExecutionConfig{
		OrderType:       OrderMarket,
		QuantityPct:     100,
		FeeBps:          10,
		SlippageBps:     5,
		StartingCapital: 10000,
	}
}

// intervalInfo describes one supported bar interval.
type intervalInfo struct {
	duration       time.Duration
	periodsPerYear float64
}

// intervals is the set of supported bar intervals. Periods per year assume a
// continuously traded market (365-day year), matching the reference data.
var intervals = map[string]intervalInfo{
	"1Min":  {time.Minute, 365 * 24 * 60},
	"5Min":  {5 * time.Minute, 365 * 24 * 12},
	"15Min": {15 * time.Minute, 365 * 24 * 4},
	"1Hour": {time.Hour, 365 * 24},
	"4Hour": {4 * time.Hour, 365 * 6},
	"1Day":  {24 * time.Hour, 365},
}

// ValidInterval reports whether the interval identifier is supported.
func ValidInterval(interval string) bool {
	_, ok := intervals[interval]
	return ok
}

// IntervalDuration returns the bar duration for an interval identifier.
func IntervalDuration(interval string) (time.Duration, error) {
	info, ok := intervals[interval]
	if !ok {
		return 0, fmt.Errorf("unknown interval %q", interval)
	}
	return info.duration, nil
}

// PeriodsPerYear returns the annualization factor for an interval identifier.
func PeriodsPerYear(interval string) (float64, error) {
	info, ok := intervals[interval]
	if !ok {
		return 0, fmt.Errorf("unknown interval %q", interval)
	}
	return info.periodsPerYear, nil
}

// Intervals returns the supported interval identifiers in no particular order.
func Intervals() []string {
	names := make([]string, 0, len(intervals))
	for name := range intervals {
		names = append(names, name)
	}
	return names
}
