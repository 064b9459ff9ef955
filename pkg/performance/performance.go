// Package performance aggregates a trade list into a named set of
// performance and risk metrics.
//
// Every metric is finite: each formula with a degenerate denominator (zero
// trades, zero variance, zero losses) resolves to a documented fallback
// value instead of letting NaN or Inf reach the caller.
package performance

import (
	"math"
	"time"

	"github.com/algomatic/backtest-service/pkg/types"
)

// ProfitFactorCap is the sentinel returned for the profit factor when there
// are winning trades and no losing trades. Large and finite on purpose.
const ProfitFactorCap = 9999.0

// metricNames is the full set of keys present in every metrics map,
// including the all-zero map for an empty trade list.
var metricNames = []string{
	"total_return_pct",
	"cagr_pct",
	"volatility_pct",
	"sharpe_ratio",
	"sortino_ratio",
	"calmar_ratio",
	"max_drawdown_pct",
	"win_rate_pct",
	"profit_factor",
	"skewness",
	"kurtosis",
	"total_trades",
	"largest_win_pct",
	"largest_loss_pct",
	"avg_trade_duration_hours",
}

// Metrics computes the metrics map for a chronologically ordered trade
// list. The interval identifies the bar duration for annualization and for
// the minimum CAGR horizon. With no trades, every metric is 0.
func Metrics(trades []types.Trade, interval string) map[string]float64 {
	m := make(map[string]float64, len(metricNames))
	for _, name := range metricNames {
		m[name] = 0
	}
	if len(trades) == 0 {
		return m
	}

	returns := make([]float64, len(trades))
	for i, t := range trades {
		returns[i] = t.PnLPct
	}

	m["total_trades"] = float64(len(trades))
	m["total_return_pct"] = compoundedReturn(returns)
	m["max_drawdown_pct"] = maxDrawdown(returns)
	m["cagr_pct"] = cagr(trades, interval)

	periodsPerYear, err := types.PeriodsPerYear(interval)
	if err != nil {
		periodsPerYear = 0
	}
	mean, std := meanStd(returns)
	m["volatility_pct"] = std * math.Sqrt(periodsPerYear)
	if std > 0 {
		m["sharpe_ratio"] = mean / std * math.Sqrt(periodsPerYear)
	}
	if down := downsideDeviation(returns); down > 0 {
		m["sortino_ratio"] = mean / down * math.Sqrt(periodsPerYear)
	}
	if m["max_drawdown_pct"] > 0 {
		m["calmar_ratio"] = m["total_return_pct"] / m["max_drawdown_pct"]
	}

	m["win_rate_pct"] = winRate(returns)
	m["profit_factor"] = profitFactor(returns)
	m["skewness"], m["kurtosis"] = skewKurtosis(returns)

	largestWin, largestLoss := extremes(returns)
	m["largest_win_pct"] = largestWin
	m["largest_loss_pct"] = largestLoss
	m["avg_trade_duration_hours"] = avgDurationHours(trades)

	return m
}

// compoundedReturn is the canonical total return: per-trade returns
// compounded in order, (Π(1+r/100) - 1) * 100.
func compoundedReturn(returns []float64) float64 {
	growth := 1.0
	for _, r := range returns {
		growth *= 1 + r/100
	}
	return (growth - 1) * 100
}

// maxDrawdown is the maximum peak-to-trough decline, as a positive percent,
// of the equity curve built by compounding trade returns in order.
func maxDrawdown(returns []float64) float64 {
	equity := 1.0
	peak := 1.0
	maxDD := 0.0
	for _, r := range returns {
		equity *= 1 + r/100
		if equity > peak {
			peak = equity
		}
		if peak > 0 {
			dd := (peak - equity) / peak * 100
			if dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}

// cagr computes the compound annual growth rate as a percent, over the span
// from first entry to last exit. The span is floored at one bar duration so
// a single fast trade cannot divide by zero, and a wiped-out account (final
// equity <= 0) reports 0 rather than a complex power.
func cagr(trades []types.Trade, interval string) float64 {
	growth := 1.0
	for _, t := range trades {
		growth *= 1 + t.PnLPct/100
	}
	if growth <= 0 {
		return 0
	}

	span := trades[len(trades)-1].ExitTime.Sub(trades[0].EntryTime)
	if barDur, err := types.IntervalDuration(interval); err == nil && span < barDur {
		span = barDur
	}
	if span <= 0 {
		return 0
	}
	years := span.Hours() / (24 * 365)
	return (math.Pow(growth, 1/years) - 1) * 100
}

// meanStd returns the mean and population standard deviation.
func meanStd(values []float64) (mean, std float64) {
	if len(values) == 0 {
		return 0, 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	mean = sum / float64(len(values))

	varSum := 0.0
	for _, v := range values {
		diff := v - mean
		varSum += diff * diff
	}
	return mean, math.Sqrt(varSum / float64(len(values)))
}

// downsideDeviation is the population standard deviation of the negative
// returns only. Zero when there are no negative returns.
func downsideDeviation(returns []float64) float64 {
	var negatives []float64
	for _, r := range returns {
		if r < 0 {
			negatives = append(negatives, r)
		}
	}
	if len(negatives) == 0 {
		return 0
	}
	_, std := meanStd(negatives)
	return std
}

func winRate(returns []float64) float64 {
	wins := 0
	for _, r := range returns {
		if r > 0 {
			wins++
		}
	}
	return float64(wins) / float64(len(returns)) * 100
}

// profitFactor is gross wins over absolute gross losses. No winners yields
// 0; winners with no losers yields the ProfitFactorCap sentinel.
func profitFactor(returns []float64) float64 {
	var winSum, lossSum float64
	for _, r := range returns {
		if r > 0 {
			winSum += r
		} else if r < 0 {
			lossSum += -r
		}
	}
	if winSum == 0 {
		return 0
	}
	if lossSum == 0 {
		return ProfitFactorCap
	}
	return winSum / lossSum
}

// skewKurtosis returns the population skewness and excess kurtosis of the
// return distribution. Both are 0 for fewer than 3 samples or zero variance.
func skewKurtosis(returns []float64) (skew, kurt float64) {
	if len(returns) < 3 {
		return 0, 0
	}
	mean, std := meanStd(returns)
	if std == 0 {
		return 0, 0
	}
	n := float64(len(returns))
	var m3, m4 float64
	for _, r := range returns {
		d := r - mean
		m3 += d * d * d
		m4 += d * d * d * d
	}
	m3 /= n
	m4 /= n
	skew = m3 / math.Pow(std, 3)
	kurt = m4/math.Pow(std, 4) - 3
	return skew, kurt
}

func extremes(returns []float64) (largestWin, largestLoss float64) {
	for _, r := range returns {
		if r > largestWin {
			largestWin = r
		}
		if r < largestLoss {
			largestLoss = r
		}
	}
	return largestWin, largestLoss
}

func avgDurationHours(trades []types.Trade) float64 {
	var total time.Duration
	for _, t := range trades {
		total += t.ExitTime.Sub(t.EntryTime)
	}
	return total.Hours() / float64(len(trades))
}
