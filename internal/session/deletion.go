// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sokoni Contributors

package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/oops"

	"github.com/sokoni/sokoni/pkg/errutil"
)

// DeletionTask periodically removes expired sessions. It is created by
// Store.StartDeletionTask and runs until Stop is called or its parent
// context ends.
type DeletionTask struct {
	store    *Store
	interval time.Duration
	cancel   context.CancelFunc
	done     chan struct{}

	mu  sync.Mutex
	err error
}

// StartDeletionTask sweeps once immediately and then every interval.
// A non-positive interval uses DefaultSweepInterval.
func (s *Store) StartDeletionTask(ctx context.Context, interval time.Duration) *DeletionTask {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ctx, cancel := context.WithCancel(ctx)
	t := &DeletionTask{
		store:    s,
		interval: interval,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go t.run(ctx)
	return t
}

// Stop requests cancellation. An in-flight sweep completes first.
func (t *DeletionTask) Stop() {
	t.cancel()
}

// Done is closed once the task has returned.
func (t *DeletionTask) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the task returns or ctx ends. It returns the task's
// failure, if it crashed, or ctx's error when the join timed out.
func (t *DeletionTask) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		t.mu.Lock()
		defer t.mu.Unlock()
		return t.err
	case <-ctx.Done():
		return oops.Code("SESSION_SWEEP_JOIN_FAILED").
			With("operation", "wait for deletion task").
			Wrap(ctx.Err())
	}
}

// Shutdown stops the task and joins it.
func (t *DeletionTask) Shutdown(ctx context.Context) error {
	t.Stop()
	return t.Wait(ctx)
}

func (t *DeletionTask) run(ctx context.Context) {
	defer close(t.done)
	defer func() {
		if r := recover(); r != nil {
			t.mu.Lock()
			t.err = oops.Code("SESSION_SWEEP_PANIC").Errorf("deletion task panicked: %v", r)
			t.mu.Unlock()
		}
	}()

	logger := t.store.logger
	logger.InfoContext(ctx, "session deletion task started", "interval", t.interval)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		t.sweep(ctx)
		select {
		case <-ctx.Done():
			logger.Info("session deletion task stopped")
			return
		case <-ticker.C:
		}
	}
}

// sweep runs one DeleteExpired. It is detached from cancellation so a
// shutdown never interrupts a statement mid-flight; the sweep timeout still
// bounds it.
func (t *DeletionTask) sweep(parent context.Context) {
	if parent.Err() != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), t.store.sweepTimeout)
	defer cancel()

	start := time.Now()
	n, err := t.store.DeleteExpired(ctx)
	if t.store.observer != nil {
		t.store.observer.ObserveSweep(n, err)
	}
	if err != nil {
		errutil.LogErrorContext(ctx, t.store.logger, "session sweep failed", err)
		return
	}
	t.store.logger.DebugContext(ctx, "session sweep completed",
		slog.Int64("deleted", n),
		slog.Duration("duration", time.Since(start)),
	)
}
