package history

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/algomatic/backtest-service/pkg/types"
)

// Cache is a read-through Redis cache in front of another Provider. Series
// are stored as JSON under bars:{symbol}:{interval} with a TTL. Redis
// failures degrade to the inner provider with a warning, never to a request
// failure.
type Cache struct {
	inner  Provider
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewCache creates a caching provider connected to the given Redis address.
func NewCache(inner Provider, addr, password string, db int, ttl time.Duration, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &Cache{
		inner:  inner,
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

// HealthCheck verifies Redis connectivity.
func (c *Cache) HealthCheck(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close shuts down the Redis client.
func (c *Cache) Close() error {
	return c.client.Close()
}

func cacheKey(symbol, interval string) string {
	return fmt.Sprintf("bars:%s:%s", symbol, interval)
}

// Bars returns the cached series when present, otherwise falls through to
// the inner provider and populates the cache. ErrNoData is never cached so
// a freshly loaded dataset becomes visible immediately.
func (c *Cache) Bars(ctx context.Context, symbol, interval string) ([]types.Bar, error) {
	key := cacheKey(symbol, interval)

	data, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var bars []types.Bar
		if err := json.Unmarshal(data, &bars); err == nil {
			return bars, nil
		}
		c.logger.Warn("Discarding undecodable cache entry", "key", key)
	} else if err != redis.Nil {
		c.logger.Warn("Redis read failed, falling through", "key", key, "error", err)
	}

	bars, err := c.inner.Bars(ctx, symbol, interval)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(bars); err == nil {
		if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
			c.logger.Warn("Redis write failed", "key", key, "error", err)
		}
	}
	return bars, nil
}

// Datasets delegates to the inner provider; the listing is cheap and
// changes when datasets are loaded, so it is not cached.
func (c *Cache) Datasets(ctx context.Context) ([]Dataset, error) {
	return c.inner.Datasets(ctx)
}
