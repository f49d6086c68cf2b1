// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sokoni Contributors

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/sokoni/sokoni/internal/auth"
	"github.com/sokoni/sokoni/internal/cipher"
	"github.com/sokoni/sokoni/internal/config"
	"github.com/sokoni/sokoni/internal/httpapi"
	"github.com/sokoni/sokoni/internal/logging"
	"github.com/sokoni/sokoni/internal/session"
	"github.com/sokoni/sokoni/internal/store"
	"github.com/sokoni/sokoni/internal/token"
	"github.com/sokoni/sokoni/internal/users"
	"github.com/sokoni/sokoni/pkg/errutil"
)

const readHeaderTimeout = 10 * time.Second

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long: `Start the HTTP API, the expired-session sweeper and the metrics
and health endpoints. SIGINT and SIGTERM trigger a graceful shutdown.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return oops.Code("CONFIG_INVALID").With("operation", "load config").Wrap(err)
			}
			return runServeWithDeps(cmd.Context(), cfg, cmd, nil)
		},
	}
}

// runServeWithDeps runs the server until ctx ends or a signal arrives.
// If deps is nil, default implementations are used.
func runServeWithDeps(ctx context.Context, cfg *config.Config, cmd *cobra.Command, deps *ServeDeps) error {
	deps = deps.withDefaults()

	logger := logging.SetDefault(logging.Options{
		Service: "sokoni",
		Version: version,
		Format:  cfg.Log.Format,
		Level:   cfg.Log.Level,
		Writer:  deps.LogWriter,
	})

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, err := newCipher(cfg.Crypto)
	if err != nil {
		return err
	}
	proxies, err := httpapi.ParseTrustedProxies(cfg.Server.TrustedProxies)
	if err != nil {
		return oops.Code("CONFIG_INVALID").With("key", "server.trusted_proxies").Wrap(err)
	}

	connectOpts := store.DefaultConnectOptions()
	connectOpts.MaxConns = cfg.Database.MaxConns
	connectOpts.Logger = logger
	if cfg.Database.ConnectAttempts > 0 {
		connectOpts.Attempts = cfg.Database.ConnectAttempts
	}
	db, err := deps.DatabaseFactory(ctx, cfg.Database.URL, connectOpts)
	if err != nil {
		return oops.Code("DB_CONNECT_FAILED").With("operation", "connect to database").Wrap(err)
	}
	defer db.Close()
	logger.Info("connected to database")

	if cfg.Database.AutoMigrate {
		if err := runAutoMigrate(deps, cfg.Database.URL, logger); err != nil {
			return err
		}
	}

	obs := deps.ObservabilityServerFactory(cfg.Metrics.Listen, db.Ping, logger)
	metrics := obs.Metrics()

	userStore, err := users.Open(ctx, db, cfg.Database.Name, cfg.Database.UsersCollection, c)
	if err != nil {
		return oops.Code("USER_STORE_OPEN_FAILED").With("operation", "open user store").Wrap(err)
	}
	issuer := token.NewIssuer(cfg.Token.Secret, token.WithTTL(cfg.Token.TTL))

	var backend session.Backend
	if cfg.Session.Backend == config.BackendMemory {
		backend = session.NewMemoryBackend()
	} else {
		backend = session.NewPostgresBackend(db)
	}
	sessions := session.NewStore(backend,
		session.WithInactivity(cfg.Session.Inactivity),
		session.WithSweepTimeout(cfg.Session.SweepTimeout),
		session.WithLogger(logger),
		session.WithSweepObserver(metrics),
	)

	svc, err := auth.NewService(userStore, issuer, auth.WithLogger(logger), auth.WithRecorder(metrics))
	if err != nil {
		return err
	}

	router := httpapi.NewRouter(httpapi.Deps{
		Auth:     svc,
		Sessions: sessions,
		Cookie: httpapi.CookieConfig{
			Name:   cfg.Server.Cookie.Name,
			Secure: cfg.Server.Cookie.Secure,
		},
		RateLimit: httpapi.RateLimitConfig{
			Rate:           rate.Limit(cfg.Server.RateLimit.Rate),
			Burst:          cfg.Server.RateLimit.Burst,
			IdleTTL:        cfg.Server.RateLimit.IdleTTL,
			TrustedProxies: proxies,
		},
		Recorder: metrics,
		Logger:   logger,
	})

	listener, err := deps.ListenerFactory("tcp", cfg.Server.Listen)
	if err != nil {
		return oops.Code("LISTEN_FAILED").With("addr", cfg.Server.Listen).Wrap(err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if cfg.Metrics.Listen != "" {
		obsErrChan, err := obs.Start()
		if err != nil {
			_ = listener.Close()
			return oops.Code("OBSERVABILITY_START_FAILED").With("operation", "start observability server").Wrap(err)
		}
		go monitorServerErrors(ctx, cancel, obsErrChan, "observability")
		logger.Info("observability server started", "addr", obs.Addr())
	}

	// The sweeper outlives the signal so shutdown can join it after the
	// HTTP server has drained.
	task := sessions.StartDeletionTask(context.WithoutCancel(ctx), cfg.Session.SweepInterval)

	srv := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: readHeaderTimeout,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}
	serveErr := make(chan error, 1)
	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	cmd.Println("Sokoni started")
	logger.Info("http server listening",
		"addr", listener.Addr().String(),
		"session_backend", cfg.Session.Backend,
	)

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down", "reason", context.Cause(ctx))
	case err, ok := <-serveErr:
		if ok {
			runErr = oops.Code("HTTP_SERVE_FAILED").Wrap(err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		errutil.LogErrorContext(shutdownCtx, logger, "http shutdown failed", err)
	}
	if err := task.Shutdown(shutdownCtx); err != nil {
		errutil.LogErrorContext(shutdownCtx, logger, "session sweeper did not stop cleanly", err)
	}
	if cfg.Metrics.Listen != "" {
		if err := obs.Stop(shutdownCtx); err != nil {
			errutil.LogErrorContext(shutdownCtx, logger, "observability shutdown failed", err)
		}
	}

	logger.Info("shutdown complete")
	return runErr
}

// newCipher builds the password cipher from cfg.
func newCipher(cfg config.CryptoConfig) (cipher.Cipher, error) {
	key, err := cipher.ParseKey(cfg.EncryptionKey)
	if err != nil {
		return nil, err
	}
	nonce, err := cipher.NewNonceSource(cfg.Nonce, key)
	if err != nil {
		return nil, err
	}
	return cipher.New(key, cipher.WithNonceSource(nonce))
}

// runAutoMigrate applies pending migrations before the server starts.
func runAutoMigrate(deps *ServeDeps, url string, logger *slog.Logger) error {
	m, err := deps.MigratorFactory(url)
	if err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "create migrator").Wrap(err)
	}
	defer func() {
		if closeErr := m.Close(); closeErr != nil {
			logger.Warn("failed to close migrator", "error", closeErr)
		}
	}()

	if err := m.Up(); err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "run migrations").Wrap(err)
	}
	logger.Info("database migrations applied")
	return nil
}

// monitorServerErrors cancels ctx when a server reports an error. It exits
// when an error is received, the channel is closed, or ctx ends.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
	}
}
