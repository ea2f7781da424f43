package utils

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig controls redis client behavior.
// Keep it config-driven; defaults should be safe and conservative.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	// Basic timeouts
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Pool tuning
	PoolSize        int
	MinIdleConns    int
	PoolTimeout     time.Duration
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration

	PingTimeout time.Duration
}

func (c RedisConfig) withDefaults() RedisConfig {
	out := c
	if out.DialTimeout <= 0 {
		out.DialTimeout = 3 * time.Second
	}
	if out.ReadTimeout <= 0 {
		out.ReadTimeout = 2 * time.Second
	}
	if out.WriteTimeout <= 0 {
		out.WriteTimeout = 2 * time.Second
	}
	if out.PoolSize <= 0 {
		out.PoolSize = 20
	}
	if out.MinIdleConns < 0 {
		out.MinIdleConns = 0
	}
	if out.PoolTimeout <= 0 {
		out.PoolTimeout = 4 * time.Second
	}
	if out.ConnMaxIdleTime <= 0 {
		out.ConnMaxIdleTime = 5 * time.Minute
	}
	if out.ConnMaxLifetime <= 0 {
		out.ConnMaxLifetime = 30 * time.Minute
	}
	if out.PingTimeout <= 0 {
		out.PingTimeout = 2 * time.Second
	}
	return out
}

// Options converts the config into go-redis options with defaults applied.
func (c RedisConfig) Options() *redis.Options {
	cfg := c.withDefaults()
	return &redis.Options{
		Addr:            cfg.Addr,
		Password:        cfg.Password,
		DB:              cfg.DB,
		DialTimeout:     cfg.DialTimeout,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		PoolSize:        cfg.PoolSize,
		MinIdleConns:    cfg.MinIdleConns,
		PoolTimeout:     cfg.PoolTimeout,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	}
}

// OpenRedis initializes a Redis client and validates connectivity via PING.
func OpenRedis(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	cfg = cfg.withDefaults()
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}

	rdb := redis.NewClient(cfg.Options())

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return rdb, nil
}
