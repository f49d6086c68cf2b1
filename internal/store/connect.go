// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sokoni Contributors

package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// ConnectOptions tunes Connect.
type ConnectOptions struct {
	// MaxConns caps the pool size; zero keeps the pgxpool default.
	MaxConns int32
	// Attempts is how many times the initial ping is retried.
	Attempts uint64
	// BaseDelay seeds the fibonacci backoff between pings.
	BaseDelay time.Duration
	// MaxDelay caps a single backoff step.
	MaxDelay time.Duration
	Logger   *slog.Logger
}

// DefaultConnectOptions retries for roughly half a minute.
func DefaultConnectOptions() ConnectOptions {
	return ConnectOptions{
		Attempts:  8,
		BaseDelay: 250 * time.Millisecond,
		MaxDelay:  5 * time.Second,
	}
}

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Connect opens a pool on databaseURL and waits until the server answers.
// This startup ping is the only retried operation; queries made through the
// pool are never retried.
func Connect(ctx context.Context, databaseURL string, opts ConnectOptions) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, oops.Code("STORE_CONFIG_INVALID").Wrap(err)
	}
	if opts.MaxConns > 0 {
		cfg.MaxConns = opts.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, oops.Code("STORE_CONNECT_FAILED").
			With("host", cfg.ConnConfig.Host).
			Wrap(err)
	}
	if err := WaitReady(ctx, pool, opts); err != nil {
		pool.Close()
		return nil, oops.With("host", cfg.ConnConfig.Host).Wrap(err)
	}
	return pool, nil
}

// WaitReady pings p with a capped fibonacci backoff until it succeeds, the
// attempts run out or ctx ends.
func WaitReady(ctx context.Context, p Pinger, opts ConnectOptions) error {
	def := DefaultConnectOptions()
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = def.BaseDelay
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = def.MaxDelay
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	backoff := retry.WithMaxRetries(opts.Attempts,
		retry.WithCappedDuration(opts.MaxDelay, retry.NewFibonacci(opts.BaseDelay)))

	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if err := p.Ping(ctx); err != nil {
			logger.WarnContext(ctx, "database not ready",
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return oops.Code("STORE_UNAVAILABLE").With("attempts", attempt).Wrap(err)
	}
	if attempt > 1 {
		logger.InfoContext(ctx, "database ready", slog.Int("attempts", attempt))
	}
	return nil
}
