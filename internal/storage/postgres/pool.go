// Package postgres is the pgx-backed ports.ApiKeyRepository, plus a
// UserRepository consumed by the admin API client's local user cache.
// The pool is built from a DSN with profile-based sizing, per-field
// env overrides, and a ping-on-construct health check.
package postgres

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Config configures the connection pool.
type Config struct {
	DatabaseURL string
	PoolProfile string // "small" (default) | "medium" | "large"
}

// New parses Config.DatabaseURL, applies pool-profile defaults
// overridable per-field by DB_MAX_CONNS/DB_MIN_CONNS/etc., and returns
// a pool after a successful ping.
func New(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("postgres: DatabaseURL not configured")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse database URL: %w", err)
	}

	profMax, profMin := poolProfileDefaults(cfg.PoolProfile)
	poolCfg.MaxConns = int32(envInt("DB_MAX_CONNS", profMax))
	poolCfg.MinConns = int32(envInt("DB_MIN_CONNS", profMin))
	poolCfg.MaxConnLifetime = time.Duration(envInt("DB_MAX_CONN_LIFETIME_MINUTES", 60)) * time.Minute
	poolCfg.MaxConnIdleTime = time.Duration(envInt("DB_MAX_CONN_IDLE_MINUTES", 30)) * time.Minute
	poolCfg.HealthCheckPeriod = time.Duration(envInt("DB_HEALTH_CHECK_SECONDS", 60)) * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return pool, nil
}

// poolProfileDefaults returns (maxConns, minConns) for the named
// profile: small (default, standalone/dev), medium (production
// standalone), large (multi-tenant).
func poolProfileDefaults(profile string) (maxConns, minConns int) {
	switch strings.ToLower(strings.TrimSpace(profile)) {
	case "medium":
		return 15, 3
	case "large":
		return 30, 5
	default:
		return 5, 1
	}
}

func envInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return defaultVal
}
