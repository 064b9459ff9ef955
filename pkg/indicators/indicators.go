// Package indicators computes technical indicator series from OHLCV bars.
//
// Every function is a pure function of the bar slice: it returns a new
// series aligned 1:1 with the input, with NaN in the positions before the
// indicator's lookback window is filled. Two calls with identical input
// produce identical output.
package indicators

import (
	"math"

	"github.com/algomatic/backtest-service/pkg/types"
)

// nanSeries returns a slice of n NaN values.
func nanSeries(n int) []float64 {
	s := make([]float64, n)
	for i := range s {
		s[i] = math.NaN()
	}
	return s
}

func closes(bars []types.Bar) []float64 {
	c := make([]float64, len(bars))
	for i, b := range bars {
		c[i] = b.Close
	}
	return c
}

// SMA returns the simple moving average of closes over period bars.
func SMA(bars []types.Bar, period int) []float64 {
	return smaOf(closes(bars), period)
}

// smaOf computes an SMA over an arbitrary value series. NaN values in the
// window propagate to the output.
func smaOf(values []float64, period int) []float64 {
	out := nanSeries(len(values))
	if period <= 0 || len(values) < period {
		return out
	}
	for i := period - 1; i < len(values); i++ {
		sum := 0.0
		for j := i - period + 1; j <= i; j++ {
			sum += values[j]
		}
		out[i] = sum / float64(period)
	}
	return out
}

// EMA returns the exponential moving average of closes. The series is seeded
// with the first SMA(period), then EMA[t] = close[t]*k + EMA[t-1]*(1-k)
// with k = 2/(period+1).
func EMA(bars []types.Bar, period int) []float64 {
	return emaOf(closes(bars), period)
}

// emaOf computes an EMA over an arbitrary series that may carry a NaN
// warm-up prefix (e.g. the MACD line). Seeding starts at the first run of
// period finite values.
func emaOf(values []float64, period int) []float64 {
	out := nanSeries(len(values))
	if period <= 0 || len(values) < period {
		return out
	}

	start := 0
	for start < len(values) && math.IsNaN(values[start]) {
		start++
	}
	if len(values)-start < period {
		return out
	}

	seedIdx := start + period - 1
	sum := 0.0
	for i := start; i <= seedIdx; i++ {
		sum += values[i]
	}
	out[seedIdx] = sum / float64(period)

	k := 2.0 / float64(period+1)
	for i := seedIdx + 1; i < len(values); i++ {
		out[i] = values[i]*k + out[i-1]*(1-k)
	}
	return out
}

// RSI returns the Relative Strength Index using Wilder's smoothing of
// average gains and losses. When the average loss is zero the RSI is 100.
func RSI(bars []types.Bar, period int) []float64 {
	out := nanSeries(len(bars))
	if period <= 0 || len(bars) < period+1 {
		return out
	}

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		change := bars[i].Close - bars[i-1].Close
		if change > 0 {
			avgGain += change
		} else {
			avgLoss -= change
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)
	out[period] = rsiValue(avgGain, avgLoss)

	for i := period + 1; i < len(bars); i++ {
		change := bars[i].Close - bars[i-1].Close
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
		out[i] = rsiValue(avgGain, avgLoss)
	}
	return out
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// MACD returns the MACD line (EMA12 - EMA26), the signal line (EMA9 of the
// MACD line), and the histogram (line - signal).
func MACD(bars []types.Bar) (line, signal, hist []float64) {
	fast := EMA(bars, 12)
	slow := EMA(bars, 26)

	line = nanSeries(len(bars))
	for i := range line {
		if !math.IsNaN(fast[i]) && !math.IsNaN(slow[i]) {
			line[i] = fast[i] - slow[i]
		}
	}

	signal = emaOf(line, 9)

	hist = nanSeries(len(bars))
	for i := range hist {
		if !math.IsNaN(line[i]) && !math.IsNaN(signal[i]) {
			hist[i] = line[i] - signal[i]
		}
	}
	return line, signal, hist
}

// Bollinger returns the middle (SMA), upper, and lower Bollinger Bands over
// period bars with width mult standard deviations. The standard deviation is
// the population stddev over the same window as the SMA.
func Bollinger(bars []types.Bar, period int, mult float64) (middle, upper, lower []float64) {
	n := len(bars)
	middle = SMA(bars, period)
	upper = nanSeries(n)
	lower = nanSeries(n)
	if period <= 0 || n < period {
		return middle, upper, lower
	}

	for i := period - 1; i < n; i++ {
		mean := middle[i]
		varSum := 0.0
		for j := i - period + 1; j <= i; j++ {
			diff := bars[j].Close - mean
			varSum += diff * diff
		}
		std := math.Sqrt(varSum / float64(period))
		upper[i] = mean + mult*std
		lower[i] = mean - mult*std
	}
	return middle, upper, lower
}

// trueRange returns the True Range series. The first bar has no prior close,
// so its TR is simply high-low.
func trueRange(bars []types.Bar) []float64 {
	tr := make([]float64, len(bars))
	for i, b := range bars {
		if i == 0 {
			tr[i] = b.High - b.Low
			continue
		}
		prevClose := bars[i-1].Close
		tr[i] = math.Max(b.High-b.Low,
			math.Max(math.Abs(b.High-prevClose), math.Abs(b.Low-prevClose)))
	}
	return tr
}

// ATR returns the Wilder-smoothed Average True Range. The first value is the
// arithmetic mean of the first period true ranges.
func ATR(bars []types.Bar, period int) []float64 {
	out := nanSeries(len(bars))
	if period <= 0 || len(bars) < period {
		return out
	}

	tr := trueRange(bars)
	sum := 0.0
	for i := 0; i < period; i++ {
		sum += tr[i]
	}
	out[period-1] = sum / float64(period)

	for i := period; i < len(bars); i++ {
		out[i] = (out[i-1]*float64(period-1) + tr[i]) / float64(period)
	}
	return out
}

// Stochastic returns the %K and %D stochastic oscillator series. %K is the
// position of the close within the highest-high/lowest-low range of the last
// period bars; %D is the 3-bar SMA of %K. A flat window (high == low) yields
// a neutral 50.
func Stochastic(bars []types.Bar, period int) (k, d []float64) {
	n := len(bars)
	k = nanSeries(n)
	if period <= 0 || n < period {
		return k, nanSeries(n)
	}

	for i := period - 1; i < n; i++ {
		hh := bars[i-period+1].High
		ll := bars[i-period+1].Low
		for j := i - period + 2; j <= i; j++ {
			hh = math.Max(hh, bars[j].High)
			ll = math.Min(ll, bars[j].Low)
		}
		if hh == ll {
			k[i] = 50
			continue
		}
		k[i] = 100 * (bars[i].Close - ll) / (hh - ll)
	}

	d = smaOfSkippingNaN(k, 3)
	return k, d
}

// smaOfSkippingNaN computes an SMA over a series with a NaN warm-up prefix,
// producing values only where the full window is finite.
func smaOfSkippingNaN(values []float64, period int) []float64 {
	out := nanSeries(len(values))
	for i := period - 1; i < len(values); i++ {
		sum := 0.0
		valid := true
		for j := i - period + 1; j <= i; j++ {
			if math.IsNaN(values[j]) {
				valid = false
				break
			}
			sum += values[j]
		}
		if valid {
			out[i] = sum / float64(period)
		}
	}
	return out
}

// ADX returns the Average Directional Index using the standard
// directional-movement formula with Wilder smoothing. Values appear after
// 2*period-1 bars.
func ADX(bars []types.Bar, period int) []float64 {
	n := len(bars)
	out := nanSeries(n)
	if period <= 0 || n < 2*period {
		return out
	}

	tr := trueRange(bars)
	plusDM := make([]float64, n)
	minusDM := make([]float64, n)
	for i := 1; i < n; i++ {
		up := bars[i].High - bars[i-1].High
		down := bars[i-1].Low - bars[i].Low
		if up > down && up > 0 {
			plusDM[i] = up
		}
		if down > up && down > 0 {
			minusDM[i] = down
		}
	}

	// Wilder running sums, seeded over bars 1..period.
	var smTR, smPlus, smMinus float64
	for i := 1; i <= period; i++ {
		smTR += tr[i]
		smPlus += plusDM[i]
		smMinus += minusDM[i]
	}

	dx := nanSeries(n)
	dx[period] = dxValue(smPlus, smMinus, smTR)
	for i := period + 1; i < n; i++ {
		smTR = smTR - smTR/float64(period) + tr[i]
		smPlus = smPlus - smPlus/float64(period) + plusDM[i]
		smMinus = smMinus - smMinus/float64(period) + minusDM[i]
		dx[i] = dxValue(smPlus, smMinus, smTR)
	}

	// ADX seeds with the mean of the first period DX values, then smooths.
	sum := 0.0
	for i := period; i < 2*period; i++ {
		sum += dx[i]
	}
	out[2*period-1] = sum / float64(period)
	for i := 2 * period; i < n; i++ {
		out[i] = (out[i-1]*float64(period-1) + dx[i]) / float64(period)
	}
	return out
}

func dxValue(smPlus, smMinus, smTR float64) float64 {
	if smTR == 0 {
		return 0
	}
	diPlus := 100 * smPlus / smTR
	diMinus := 100 * smMinus / smTR
	if diPlus+diMinus == 0 {
		return 0
	}
	return 100 * math.Abs(diPlus-diMinus) / (diPlus + diMinus)
}

// OBV returns On-Balance Volume: a cumulative sum of volume signed by the
// close-to-close direction. The first bar and flat bars contribute zero.
func OBV(bars []types.Bar) []float64 {
	out := make([]float64, len(bars))
	for i := 1; i < len(bars); i++ {
		switch {
		case bars[i].Close > bars[i-1].Close:
			out[i] = out[i-1] + bars[i].Volume
		case bars[i].Close < bars[i-1].Close:
			out[i] = out[i-1] - bars[i].Volume
		default:
			out[i] = out[i-1]
		}
	}
	return out
}
