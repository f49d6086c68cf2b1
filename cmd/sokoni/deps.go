// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sokoni Contributors

package main

import (
	"context"
	"io"
	"log/slog"
	"net"
	"os"

	"github.com/sokoni/sokoni/internal/docstore"
	"github.com/sokoni/sokoni/internal/observability"
	"github.com/sokoni/sokoni/internal/store"
)

// Database is the subset of *pgxpool.Pool the commands use.
type Database interface {
	docstore.Pool
	Ping(ctx context.Context) error
	Close()
}

// AutoMigrator applies pending migrations at startup.
type AutoMigrator interface {
	Up() error
	Close() error
}

// SchemaMigrator backs the migrate subcommands.
type SchemaMigrator interface {
	Up() error
	Down() error
	Force(version int) error
	Status() (*store.Status, error)
	Close() error
}

// ObservabilityServer wraps the methods used from observability.Server.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
	Metrics() *observability.Metrics
}

// ServeDeps contains injectable dependencies for the serve command.
// All fields with nil values will use their default implementations.
type ServeDeps struct {
	// DatabaseFactory opens the connection pool.
	// Default: store.Connect
	DatabaseFactory func(ctx context.Context, url string, opts store.ConnectOptions) (Database, error)

	// MigratorFactory creates the startup migrator.
	// Default: store.NewMigrator
	MigratorFactory func(url string) (AutoMigrator, error)

	// ObservabilityServerFactory creates the metrics and health server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, ready observability.ReadinessCheck, logger *slog.Logger) ObservabilityServer

	// ListenerFactory creates the HTTP listener.
	// Default: net.Listen
	ListenerFactory func(network, address string) (net.Listener, error)

	// LogWriter receives process logs.
	// Default: os.Stderr
	LogWriter io.Writer
}

func (d *ServeDeps) withDefaults() *ServeDeps {
	out := ServeDeps{}
	if d != nil {
		out = *d
	}
	if out.DatabaseFactory == nil {
		out.DatabaseFactory = connectDatabase
	}
	if out.MigratorFactory == nil {
		out.MigratorFactory = func(url string) (AutoMigrator, error) {
			m, err := store.NewMigrator(url)
			if err != nil {
				return nil, err
			}
			return m, nil
		}
	}
	if out.ObservabilityServerFactory == nil {
		out.ObservabilityServerFactory = func(addr string, ready observability.ReadinessCheck, logger *slog.Logger) ObservabilityServer {
			return observability.NewServer(addr, ready, logger)
		}
	}
	if out.ListenerFactory == nil {
		out.ListenerFactory = net.Listen
	}
	if out.LogWriter == nil {
		out.LogWriter = os.Stderr
	}
	return &out
}

// DatabaseDeps contains injectable dependencies for commands that only
// need the database.
type DatabaseDeps struct {
	// DatabaseFactory opens the connection pool.
	// Default: store.Connect
	DatabaseFactory func(ctx context.Context, url string, opts store.ConnectOptions) (Database, error)

	// MigratorFactory creates the schema migrator.
	// Default: store.NewMigrator
	MigratorFactory func(url string) (SchemaMigrator, error)
}

func (d *DatabaseDeps) withDefaults() *DatabaseDeps {
	out := DatabaseDeps{}
	if d != nil {
		out = *d
	}
	if out.DatabaseFactory == nil {
		out.DatabaseFactory = connectDatabase
	}
	if out.MigratorFactory == nil {
		out.MigratorFactory = func(url string) (SchemaMigrator, error) {
			m, err := store.NewMigrator(url)
			if err != nil {
				return nil, err
			}
			return m, nil
		}
	}
	return &out
}

func connectDatabase(ctx context.Context, url string, opts store.ConnectOptions) (Database, error) {
	pool, err := store.Connect(ctx, url, opts)
	if err != nil {
		return nil, err
	}
	return pool, nil
}
