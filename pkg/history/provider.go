// Package history supplies read-only OHLCV series to the backtest engine.
//
// The engine itself never performs I/O; a Provider is consulted before the
// simulation starts and its output is treated as immutable. A missing
// series is a per-symbol condition (ErrNoData), never fatal to sibling
// symbols in the same request.
package history

import (
	"context"
	"errors"

	"github.com/algomatic/backtest-service/pkg/types"
)

// ErrNoData indicates that the provider has no series for the requested
// symbol and interval.
var ErrNoData = errors.New("no historical data")

// Dataset identifies one available symbol/interval series.
type Dataset struct {
	Symbol   string `json:"symbol"`
	Interval string `json:"interval"`
}

// Provider supplies historical bar series keyed by symbol and interval.
// Bars must be ordered by strictly increasing timestamp.
type Provider interface {
	// Bars returns the full series for a symbol at an interval, or an
	// error wrapping ErrNoData when the series does not exist.
	Bars(ctx context.Context, symbol, interval string) ([]types.Bar, error)

	// Datasets lists every symbol/interval series the provider can serve.
	Datasets(ctx context.Context) ([]Dataset, error)
}
