package history

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/algomatic/backtest-service/pkg/types"
)

// PostgresProvider reads bar series from the ohlcv_bars table.
type PostgresProvider struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgresProvider creates a provider over an established pool.
func NewPostgresProvider(pool *pgxpool.Pool, logger *slog.Logger) *PostgresProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresProvider{pool: pool, logger: logger}
}

// Bars returns the full series for a symbol/interval ordered by timestamp.
func (p *PostgresProvider) Bars(ctx context.Context, symbol, interval string) ([]types.Bar, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT timestamp, open, high, low, close, volume
		FROM ohlcv_bars
		WHERE symbol = $1 AND interval = $2
		ORDER BY timestamp ASC`,
		symbol, interval)
	if err != nil {
		return nil, fmt.Errorf("querying bars: %w", err)
	}
	defer rows.Close()

	var bars []types.Bar
	for rows.Next() {
		var b types.Bar
		if err := rows.Scan(&b.Timestamp, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, fmt.Errorf("scanning bar row: %w", err)
		}
		bars = append(bars, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading bar rows: %w", err)
	}

	if len(bars) == 0 {
		return nil, fmt.Errorf("%w for %s %s", ErrNoData, symbol, interval)
	}
	return bars, nil
}

// Datasets lists the distinct symbol/interval series present in the table.
func (p *PostgresProvider) Datasets(ctx context.Context) ([]Dataset, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT DISTINCT symbol, interval
		FROM ohlcv_bars
		ORDER BY symbol, interval`)
	if err != nil {
		return nil, fmt.Errorf("querying datasets: %w", err)
	}
	defer rows.Close()

	var datasets []Dataset
	for rows.Next() {
		var d Dataset
		if err := rows.Scan(&d.Symbol, &d.Interval); err != nil {
			return nil, fmt.Errorf("scanning dataset row: %w", err)
		}
		datasets = append(datasets, d)
	}
	return datasets, rows.Err()
}
