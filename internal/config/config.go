// Package config loads service configuration from environment variables
// with the BT_ prefix: defaults first, then env overrides, then validation.
package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds all configuration for the backtest service.
type Config struct {
	Server   ServerConfig
	Data     DataConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Log      LogConfig
}

// ServerConfig holds the HTTP listener parameters.
type ServerConfig struct {
	Host string
	Port int
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DataConfig selects the historical data source.
type DataConfig struct {
	Source string // "csv" or "postgres"
	CSVDir string
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	MaxConns int32
	MinConns int32
}

// ConnString builds a PostgreSQL connection string.
func (d DatabaseConfig) ConnString() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name,
	)
}

// RedisConfig holds the optional bar-series cache parameters. An empty Addr
// disables the cache.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTLSec   int
}

// LogConfig holds logging parameters.
type LogConfig struct {
	Level string
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	cfg := defaults()
	overrideFromEnv(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8740,
		},
		Data: DataConfig{
			Source: "csv",
			CSVDir: "data",
		},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			Name:     "algomatic",
			User:     "algomatic",
			MaxConns: 10,
			MinConns: 2,
		},
		Redis: RedisConfig{
			TTLSec: 300,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func overrideFromEnv(cfg *Config) {
	setString(&cfg.Server.Host, "BT_SERVER_HOST")
	setInt(&cfg.Server.Port, "BT_SERVER_PORT")

	setString(&cfg.Data.Source, "BT_DATA_SOURCE")
	setString(&cfg.Data.CSVDir, "BT_DATA_CSV_DIR")

	setString(&cfg.Database.Host, "BT_DB_HOST")
	setInt(&cfg.Database.Port, "BT_DB_PORT")
	setString(&cfg.Database.Name, "BT_DB_NAME")
	setString(&cfg.Database.User, "BT_DB_USER")
	setString(&cfg.Database.Password, "BT_DB_PASSWORD")
	setInt32(&cfg.Database.MaxConns, "BT_DB_MAX_CONNS")
	setInt32(&cfg.Database.MinConns, "BT_DB_MIN_CONNS")

	setString(&cfg.Redis.Addr, "BT_REDIS_ADDR")
	setString(&cfg.Redis.Password, "BT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "BT_REDIS_DB")
	setInt(&cfg.Redis.TTLSec, "BT_REDIS_TTL_SEC")

	setString(&cfg.Log.Level, "BT_LOG_LEVEL")
}

func validate(cfg *Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", cfg.Server.Port)
	}
	switch cfg.Data.Source {
	case "csv":
		if cfg.Data.CSVDir == "" {
			return fmt.Errorf("BT_DATA_CSV_DIR is required for the csv source")
		}
	case "postgres":
		if cfg.Database.Name == "" || cfg.Database.User == "" {
			return fmt.Errorf("database name and user are required for the postgres source")
		}
	default:
		return fmt.Errorf("unknown data source %q", cfg.Data.Source)
	}
	if cfg.Redis.TTLSec <= 0 {
		return fmt.Errorf("redis TTL must be positive")
	}
	return nil
}

func setString(target *string, key string) {
	if v := os.Getenv(key); v != "" {
		*target = v
	}
}

func setInt(target *int, key string) {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			*target = parsed
		}
	}
}

func setInt32(target *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 32); err == nil {
			*target = int32(parsed)
		}
	}
}
