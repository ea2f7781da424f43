package utils

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresPoolConfig controls pgxpool behavior.
// Keep it config-driven; defaults should be safe and conservative.
type PostgresPoolConfig struct {
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
	PingTimeout       time.Duration
}

func (c PostgresPoolConfig) withDefaults() PostgresPoolConfig {
	out := c
	if out.MaxConns <= 0 {
		out.MaxConns = 25
	}
	if out.MinConns < 0 {
		out.MinConns = 0
	}
	if out.MaxConnLifetime <= 0 {
		out.MaxConnLifetime = 30 * time.Minute
	}
	if out.MaxConnIdleTime <= 0 {
		out.MaxConnIdleTime = 5 * time.Minute
	}
	if out.HealthCheckPeriod <= 0 {
		out.HealthCheckPeriod = time.Minute
	}
	if out.PingTimeout <= 0 {
		out.PingTimeout = 5 * time.Second
	}
	return out
}

// OpenPostgres opens a pgx connection pool and validates connectivity.
// dsn must not be logged; it contains secrets.
func OpenPostgres(ctx context.Context, dsn string, pool PostgresPoolConfig) (*pgxpool.Pool, error) {
	pool = pool.withDefaults()

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	cfg.MaxConns = pool.MaxConns
	cfg.MinConns = pool.MinConns
	cfg.MaxConnLifetime = pool.MaxConnLifetime
	cfg.MaxConnIdleTime = pool.MaxConnIdleTime
	cfg.HealthCheckPeriod = pool.HealthCheckPeriod

	p, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if err := HealthCheck(ctx, p, pool.PingTimeout); err != nil {
		p.Close()
		return nil, err
	}
	return p, nil
}

// Pinger is satisfied by *pgxpool.Pool and pgxmock pools.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthCheck pings the DB with a timeout.
func HealthCheck(ctx context.Context, db Pinger, timeout time.Duration) error {
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.Ping(pingCtx); err != nil {
		return fmt.Errorf("db ping failed: %w", err)
	}
	return nil
}

// TxBeginner is the minimal pool surface needed by WithTx.
type TxBeginner interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

// TxFunc is the unit of work executed inside a transaction.
type TxFunc func(ctx context.Context, tx pgx.Tx) error

// WithTx runs fn inside a transaction.
// - If fn returns error: tx is rolled back and the error is returned.
// - If fn panics: tx is rolled back and the panic is re-thrown.
// - If commit fails: commit error is returned.
func WithTx(ctx context.Context, db TxBeginner, opts pgx.TxOptions, fn TxFunc) (err error) {
	tx, err := db.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				err = errors.Join(err, fmt.Errorf("rollback tx: %w", rbErr))
			}
			return
		}
		if commitErr := tx.Commit(ctx); commitErr != nil {
			err = fmt.Errorf("commit tx: %w", commitErr)
		}
	}()

	err = fn(ctx, tx)
	return err
}
