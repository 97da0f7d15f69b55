// Package db provides PostgreSQL connection, migration and pool metrics
// utilities for the meetmem Postgres memory store.
package db

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Config holds PostgreSQL connection configuration.
type Config struct {
	// URL, when set, is used verbatim instead of the individual fields.
	URL             string        `yaml:"url,omitempty"`
	Host            string        `yaml:"host,omitempty"`
	Port            int           `yaml:"port,omitempty"`
	Database        string        `yaml:"database,omitempty"`
	User            string        `yaml:"user,omitempty"`
	Password        string        `yaml:"-"`
	SSLMode         string        `yaml:"sslmode,omitempty"`
	MaxConns        int32         `yaml:"max_conns,omitempty"`
	MinConns        int32         `yaml:"min_conns,omitempty"`
	MaxConnLifetime time.Duration `yaml:"-"`
	MaxConnIdleTime time.Duration `yaml:"-"`
	ConnectTimeout  time.Duration `yaml:"-"`
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() *Config {
	return &Config{
		Host:            "localhost",
		Port:            5432,
		Database:        "meetmem",
		User:            "meetmem",
		SSLMode:         "disable",
		MaxConns:        10,
		MinConns:        1,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
		ConnectTimeout:  10 * time.Second,
	}
}

// ConfigFromEnv overlays environment variables on DefaultConfig.
// Environment variables:
//   - MEETMEM_DATABASE_URL: full connection URL, overrides the fields below
//   - MEETMEM_DB_HOST: Database host (default: localhost)
//   - MEETMEM_DB_PORT: Database port (default: 5432)
//   - MEETMEM_DB_NAME: Database name (default: meetmem)
//   - MEETMEM_DB_USER: Database user (default: meetmem)
//   - MEETMEM_DB_PASSWORD: Database password
//   - MEETMEM_DB_SSLMODE: SSL mode (default: disable)
//   - MEETMEM_DB_MAX_CONNS: Maximum connections (default: 10)
func ConfigFromEnv() *Config {
	cfg := DefaultConfig()
	cfg.ApplyEnv()
	return cfg
}

// ApplyEnv overlays the MEETMEM_DB_* environment variables on c.
func (c *Config) ApplyEnv() {
	if u := os.Getenv("MEETMEM_DATABASE_URL"); u != "" {
		c.URL = u
	}
	if host := os.Getenv("MEETMEM_DB_HOST"); host != "" {
		c.Host = host
	}
	if port := os.Getenv("MEETMEM_DB_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Port = p
		}
	}
	if database := os.Getenv("MEETMEM_DB_NAME"); database != "" {
		c.Database = database
	}
	if user := os.Getenv("MEETMEM_DB_USER"); user != "" {
		c.User = user
	}
	if password := os.Getenv("MEETMEM_DB_PASSWORD"); password != "" {
		c.Password = password
	}
	if sslmode := os.Getenv("MEETMEM_DB_SSLMODE"); sslmode != "" {
		c.SSLMode = sslmode
	}
	if maxConns := os.Getenv("MEETMEM_DB_MAX_CONNS"); maxConns != "" {
		if mc, err := strconv.ParseInt(maxConns, 10, 32); err == nil {
			c.MaxConns = int32(mc)
		}
	}
}

// ConnectionString builds a PostgreSQL connection string from the config.
func (c *Config) ConnectionString() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s&connect_timeout=%d",
		url.QueryEscape(c.User),
		url.QueryEscape(c.Password),
		c.Host,
		c.Port,
		c.Database,
		c.SSLMode,
		int(c.ConnectTimeout.Seconds()),
	)
}

// Validate checks if the config has required fields set.
func (c *Config) Validate() error {
	if c.MaxConns < c.MinConns {
		return fmt.Errorf("max connections (%d) must be >= min connections (%d)", c.MaxConns, c.MinConns)
	}
	if c.URL != "" {
		return nil
	}
	if c.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid database port: %d", c.Port)
	}
	if c.Database == "" {
		return fmt.Errorf("database name is required")
	}
	if c.User == "" {
		return fmt.Errorf("database user is required")
	}
	return nil
}

// Connect creates a new connection pool with the given configuration.
// The caller is responsible for calling pool.Close() when done.
func Connect(ctx context.Context, cfg *Config) (*pgxpool.Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	poolConfig.MinConns = cfg.MinConns
	if cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}

// ConnectWithRetry creates a connection pool with retry logic.
func ConnectWithRetry(ctx context.Context, cfg *Config, maxAttempts int, retryDelay time.Duration) (*pgxpool.Pool, error) {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		pool, err := Connect(ctx, cfg)
		if err == nil {
			return pool, nil
		}
		lastErr = err

		if attempt < maxAttempts {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(retryDelay):
			}
		}
	}

	return nil, fmt.Errorf("failed to connect after %d attempts: %w", maxAttempts, lastErr)
}
