// Package execution simulates order fills from per-bar signal flags.
//
// The simulator is a two-state machine (FLAT / OPEN) that walks the bar
// series once, applying slippage, fees, position sizing, and protective
// stop-loss / take-profit orders, and emits completed trades in
// chronological order. At most one position is open at a time; entry
// signals while a position is open are ignored.
package execution

import (
	"log/slog"

	"github.com/algomatic/backtest-service/pkg/rules"
	"github.com/algomatic/backtest-service/pkg/types"
)

// Simulator runs the fill simulation for a single symbol.
type Simulator struct {
	cfg    types.ExecutionConfig
	logger *slog.Logger
}

// NewSimulator creates a Simulator with the given execution configuration.
func NewSimulator(cfg types.ExecutionConfig, logger *slog.Logger) *Simulator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Simulator{cfg: cfg, logger: logger}
}

// position is the transient state carried while a trade is open. It is
// owned exclusively by Run and never escapes it.
type position struct {
	entryIdx    int
	entryPrice  float64
	quantity    float64
	entryFee    float64
	stopPrice   float64 // 0 = disabled
	targetPrice float64 // 0 = disabled
}

// Run walks the bar series against the signal flags and returns the
// completed trades.
//
// Entries fill at the bar close worsened by slippage; the entry fee is
// deducted from capital immediately. From the next bar on, exits are
// checked in priority order: stop-loss against the bar low (fill at the
// stop price), take-profit against the bar high (fill at the target), then
// the rule-based exit flag at the close worsened by slippage. Protective
// orders use intrabar extremes because they would fill intrabar, while
// signals are only known at the close.
//
// A position still open after the last bar is force-closed at the final
// close with no slippage and flagged with reason end_of_data. Entries never
// open on the final bar: a same-bar round trip would collapse entry and
// exit timestamps.
func (s *Simulator) Run(bars []types.BarData, sig rules.Signals) []types.Trade {
	if len(bars) == 0 {
		return nil
	}

	trades := make([]types.Trade, 0, 16)
	capital := s.cfg.StartingCapital
	var pos *position

	slip := s.cfg.SlippageBps / 10000
	fee := s.cfg.FeeBps / 10000

	for i := range bars {
		bar := bars[i].Bar

		// Entry. Checked first so a fresh exit on this bar cannot chain
		// straight into a new position at the same close.
		if pos == nil {
			if sig.Entry[i] && i < len(bars)-1 && capital > 0 {
				entryPrice := bar.Close * (1 + slip)
				quantity := (capital * s.cfg.QuantityPct / 100) / entryPrice
				if quantity <= 0 {
					continue
				}
				entryFee := entryPrice * quantity * fee
				capital -= entryFee

				pos = &position{
					entryIdx:   i,
					entryPrice: entryPrice,
					quantity:   quantity,
					entryFee:   entryFee,
				}
				if s.cfg.StopLossPct > 0 {
					pos.stopPrice = entryPrice * (1 - s.cfg.StopLossPct/100)
				}
				if s.cfg.TakeProfitPct > 0 {
					pos.targetPrice = entryPrice * (1 + s.cfg.TakeProfitPct/100)
				}
				s.logger.Debug("Entered position",
					"bar", i,
					"price", entryPrice,
					"quantity", quantity,
				)
			}
			continue
		}

		// Exit checks, starting the bar after entry. Stop-loss wins over
		// take-profit when both would trigger on the same bar.
		var exitPrice float64
		var reason string
		switch {
		case pos.stopPrice > 0 && bar.Low <= pos.stopPrice:
			exitPrice = pos.stopPrice
			reason = types.ExitStopLoss
		case pos.targetPrice > 0 && bar.High >= pos.targetPrice:
			exitPrice = pos.targetPrice
			reason = types.ExitTakeProfit
		case sig.Exit[i]:
			exitPrice = bar.Close * (1 - slip)
			reason = types.ExitSignal
		default:
			continue
		}

		trade, pnl := s.closeTrade(bars, pos, i, exitPrice, reason)
		capital += pnl
		trades = append(trades, trade)
		pos = nil
	}

	// Force-close a position still open at the end of the series.
	if pos != nil {
		last := len(bars) - 1
		trade, pnl := s.closeTrade(bars, pos, last, bars[last].Bar.Close, types.ExitEndOfData)
		capital += pnl
		trades = append(trades, trade)
		s.logger.Debug("Force-closed open position at end of series",
			"exit_price", trade.ExitPrice,
		)
	}

	return trades
}

// closeTrade builds the trade record for an exit and returns it together
// with the net capital change (price move on the position minus the exit
// fee; the entry fee was deducted at entry).
//
// pnl_pct is the gross percentage move minus the round-trip fee drag
// relative to the entry notional, so fees reduce the realized return rather
// than being tracked off to the side.
func (s *Simulator) closeTrade(
	bars []types.BarData,
	pos *position,
	exitIdx int,
	exitPrice float64,
	reason string,
) (types.Trade, float64) {
	exitFee := exitPrice * pos.quantity * s.cfg.FeeBps / 10000

	grossPct := (exitPrice - pos.entryPrice) / pos.entryPrice * 100
	feePct := (pos.entryFee + exitFee) / (pos.entryPrice * pos.quantity) * 100
	pnlPct := grossPct - feePct

	trade := types.Trade{
		EntryTime:  bars[pos.entryIdx].Bar.Timestamp,
		ExitTime:   bars[exitIdx].Bar.Timestamp,
		EntryPrice: pos.entryPrice,
		ExitPrice:  exitPrice,
		Quantity:   pos.quantity,
		Direction:  types.Long,
		FeePaid:    pos.entryFee + exitFee,
		PnLPct:     pnlPct,
		ExitReason: reason,
	}

	s.logger.Debug("Exited position",
		"bar", exitIdx,
		"price", exitPrice,
		"pnl_pct", pnlPct,
		"reason", reason,
	)

	capitalDelta := pos.quantity*(exitPrice-pos.entryPrice) - exitFee
	return trade, capitalDelta
}
