package indicators

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/algomatic/backtest-service/pkg/types"
)

// Column names follow the lowercase family_period convention used across
// the platform: sma_50, ema_20, rsi_14, atr_14, adx_14, stoch_k_14,
// stoch_d_14. MACD, Bollinger, and OBV columns are fixed names.

// priceFields are the raw bar fields that conditions may reference without
// any indicator computation.
var priceFields = map[string]bool{
	"open": true, "high": true, "low": true, "close": true, "volume": true,
}

// IsPriceField reports whether name refers to a raw OHLCV field.
func IsPriceField(name string) bool {
	return priceFields[name]
}

// fixedColumns are indicator columns with no period parameter. The value is
// the group of columns computed together.
var fixedColumns = map[string]string{
	"macd":        "macd",
	"macd_signal": "macd",
	"macd_hist":   "macd",
	"bb_upper":    "bollinger",
	"bb_middle":   "bollinger",
	"bb_lower":    "bollinger",
	"obv":         "obv",
}

const (
	bollingerPeriod = 20
	bollingerWidth  = 2.0
)

// Parse validates an indicator column name. It returns an error for names
// that are neither price fields, fixed columns, nor family_period columns
// with a positive integer period.
func Parse(name string) error {
	if IsPriceField(name) {
		return nil
	}
	if _, ok := fixedColumns[name]; ok {
		return nil
	}
	family, period, ok := splitPeriod(name)
	if !ok {
		return fmt.Errorf("unknown indicator %q", name)
	}
	switch family {
	case "sma", "ema", "rsi", "atr", "adx", "stoch_k", "stoch_d":
		if period <= 0 {
			return fmt.Errorf("indicator %q: period must be positive", name)
		}
		return nil
	}
	return fmt.Errorf("unknown indicator %q", name)
}

// splitPeriod splits a column name at its final underscore into a family and
// an integer period.
func splitPeriod(name string) (family string, period int, ok bool) {
	idx := strings.LastIndex(name, "_")
	if idx <= 0 || idx == len(name)-1 {
		return "", 0, false
	}
	period, err := strconv.Atoi(name[idx+1:])
	if err != nil {
		return "", 0, false
	}
	return name[:idx], period, true
}

// Compute calculates the requested indicator columns over the bar series and
// returns BarData rows aligned 1:1 with the input. Price-field names are
// skipped (conditions read them straight off the bar). Column computation is
// deterministic: identical bars and columns yield identical rows.
func Compute(bars []types.Bar, columns []string) ([]types.BarData, error) {
	series := make(map[string][]float64)

	// Deduplicate and order for a stable computation sequence.
	unique := make([]string, 0, len(columns))
	seen := make(map[string]bool)
	for _, col := range columns {
		if seen[col] || IsPriceField(col) {
			continue
		}
		seen[col] = true
		unique = append(unique, col)
	}
	sort.Strings(unique)

	for _, col := range unique {
		if err := computeColumn(bars, col, series); err != nil {
			return nil, err
		}
	}

	rows := make([]types.BarData, len(bars))
	for i, bar := range bars {
		row := make(types.IndicatorRow, len(series))
		for name, values := range series {
			row[name] = values[i]
		}
		rows[i] = types.BarData{Bar: bar, Indicators: row}
	}
	return rows, nil
}

// computeColumn fills series with the named column, plus any siblings that
// fall out of the same computation (MACD and Bollinger produce three each).
func computeColumn(bars []types.Bar, col string, series map[string][]float64) error {
	if _, done := series[col]; done {
		return nil
	}

	if group, ok := fixedColumns[col]; ok {
		switch group {
		case "macd":
			line, signal, hist := MACD(bars)
			series["macd"] = line
			series["macd_signal"] = signal
			series["macd_hist"] = hist
		case "bollinger":
			middle, upper, lower := Bollinger(bars, bollingerPeriod, bollingerWidth)
			series["bb_middle"] = middle
			series["bb_upper"] = upper
			series["bb_lower"] = lower
		case "obv":
			series["obv"] = OBV(bars)
		}
		return nil
	}

	family, period, ok := splitPeriod(col)
	if !ok {
		return fmt.Errorf("unknown indicator %q", col)
	}
	switch family {
	case "sma":
		series[col] = SMA(bars, period)
	case "ema":
		series[col] = EMA(bars, period)
	case "rsi":
		series[col] = RSI(bars, period)
	case "atr":
		series[col] = ATR(bars, period)
	case "adx":
		series[col] = ADX(bars, period)
	case "stoch_k":
		k, _ := Stochastic(bars, period)
		series[col] = k
	case "stoch_d":
		_, d := Stochastic(bars, period)
		series[col] = d
	default:
		return fmt.Errorf("unknown indicator %q", col)
	}
	return nil
}
