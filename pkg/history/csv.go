package history

import (
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/algomatic/backtest-service/pkg/types"
)

// CSVProvider serves bar series from a directory of CSV files named
// {symbol}_{interval}.csv with a timestamp,open,high,low,close,volume
// header. Parsed series are cached in memory, so repeated requests for the
// same dataset do not re-read the file.
type CSVProvider struct {
	dir    string
	logger *slog.Logger

	mu    sync.Mutex
	cache map[string][]types.Bar
}

// NewCSVProvider creates a provider over the given data directory.
func NewCSVProvider(dir string, logger *slog.Logger) *CSVProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &CSVProvider{
		dir:    dir,
		logger: logger,
		cache:  make(map[string][]types.Bar),
	}
}

// timestampLayouts are the accepted timestamp formats, tried in order.
var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Bars loads the series for symbol/interval, reading and caching the CSV
// file on first use.
func (p *CSVProvider) Bars(_ context.Context, symbol, interval string) ([]types.Bar, error) {
	key := symbol + "_" + interval

	p.mu.Lock()
	cached, ok := p.cache[key]
	p.mu.Unlock()
	if ok {
		return cached, nil
	}

	path := filepath.Join(p.dir, key+".csv")
	bars, err := readCSV(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w for %s %s", ErrNoData, symbol, interval)
		}
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}

	sort.Slice(bars, func(i, j int) bool {
		return bars[i].Timestamp.Before(bars[j].Timestamp)
	})

	p.mu.Lock()
	p.cache[key] = bars
	p.mu.Unlock()

	p.logger.Debug("Loaded bar series from CSV",
		"symbol", symbol, "interval", interval, "bars", len(bars))
	return bars, nil
}

// Datasets lists the series available in the data directory, parsed from
// filenames of the form {symbol}_{interval}.csv.
func (p *CSVProvider) Datasets(_ context.Context) ([]Dataset, error) {
	entries, err := os.ReadDir(p.dir)
	if err != nil {
		return nil, fmt.Errorf("listing data dir: %w", err)
	}

	var datasets []Dataset
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".csv") {
			continue
		}
		base := strings.TrimSuffix(name, ".csv")
		idx := strings.LastIndex(base, "_")
		if idx <= 0 || idx == len(base)-1 {
			continue
		}
		datasets = append(datasets, Dataset{
			Symbol:   base[:idx],
			Interval: base[idx+1:],
		})
	}
	return datasets, nil
}

func readCSV(path string) ([]types.Bar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parsing CSV: %w", err)
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("%w: file has no data rows", ErrNoData)
	}

	cols, err := headerIndex(records[0])
	if err != nil {
		return nil, err
	}

	bars := make([]types.Bar, 0, len(records)-1)
	for i, rec := range records[1:] {
		bar, err := parseRow(rec, cols)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+2, err)
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

func headerIndex(header []string) (map[string]int, error) {
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range []string{"timestamp", "open", "high", "low", "close", "volume"} {
		if _, ok := cols[required]; !ok {
			return nil, fmt.Errorf("missing column %q", required)
		}
	}
	return cols, nil
}

func parseRow(rec []string, cols map[string]int) (types.Bar, error) {
	ts, err := parseTimestamp(rec[cols["timestamp"]])
	if err != nil {
		return types.Bar{}, err
	}

	fields := make(map[string]float64, 5)
	for _, name := range []string{"open", "high", "low", "close", "volume"} {
		v, err := strconv.ParseFloat(strings.TrimSpace(rec[cols[name]]), 64)
		if err != nil {
			return types.Bar{}, fmt.Errorf("parsing %s: %w", name, err)
		}
		fields[name] = v
	}

	return types.Bar{
		Timestamp: ts,
		Open:      fields["open"],
		High:      fields["high"],
		Low:       fields["low"],
		Close:     fields["close"],
		Volume:    fields["volume"],
	}, nil
}

func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, nil
		}
	}
	// Unix seconds or milliseconds as a last resort.
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n > 1e12 {
			return time.UnixMilli(n).UTC(), nil
		}
		return time.Unix(n, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}
