// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sokoni Contributors

package session

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/sokoni/sokoni/pkg/errutil"
)

type sweepResult struct {
	deleted int64
	err     error
}

type chanObserver chan sweepResult

func (c chanObserver) ObserveSweep(deleted int64, err error) {
	c <- sweepResult{deleted: deleted, err: err}
}

// sweepBackend delegates to a MemoryBackend but lets tests intercept sweeps.
type sweepBackend struct {
	*MemoryBackend
	onSweep func(ctx context.Context) error
}

func (b *sweepBackend) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	if b.onSweep != nil {
		if err := b.onSweep(ctx); err != nil {
			return 0, err
		}
	}
	return b.MemoryBackend.DeleteExpired(ctx, now)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func receive(t *testing.T, ch chanObserver) sweepResult {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for sweep")
		return sweepResult{}
	}
}

func TestDeletionTask_SweepsImmediately(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx := context.Background()
	clock := newTestClock()
	backend := NewMemoryBackend()
	observed := make(chanObserver, 8)
	store := NewStore(backend,
		WithClock(clock.now),
		WithLogger(quietLogger()),
		WithSweepObserver(observed),
	)

	sess, err := store.New()
	require.NoError(t, err)
	require.NoError(t, sess.Set(ctx, "k", "v"))
	clock.advance(2 * time.Hour)

	task := store.StartDeletionTask(ctx, time.Hour)
	r := receive(t, observed)
	require.NoError(t, r.err)
	assert.Equal(t, int64(1), r.deleted)
	assert.Zero(t, backend.Len())

	require.NoError(t, task.Shutdown(ctx))
}

func TestDeletionTask_SweepsPeriodically(t *testing.T) {
	defer goleak.VerifyNone(t)

	observed := make(chanObserver, 16)
	store := NewStore(NewMemoryBackend(), WithLogger(quietLogger()), WithSweepObserver(observed))

	task := store.StartDeletionTask(context.Background(), 5*time.Millisecond)
	for range 3 {
		receive(t, observed)
	}
	require.NoError(t, task.Shutdown(context.Background()))
}

func TestDeletionTask_ContinuesAfterSweepError(t *testing.T) {
	defer goleak.VerifyNone(t)

	calls := 0
	backend := &sweepBackend{
		MemoryBackend: NewMemoryBackend(),
		onSweep: func(context.Context) error {
			calls++
			if calls == 1 {
				return errors.New("connection refused")
			}
			return nil
		},
	}
	observed := make(chanObserver, 16)
	store := NewStore(backend, WithLogger(quietLogger()), WithSweepObserver(observed))

	task := store.StartDeletionTask(context.Background(), 5*time.Millisecond)
	first := receive(t, observed)
	require.Error(t, first.err)
	errutil.AssertErrorCode(t, first.err, "SESSION_SWEEP_FAILED")

	second := receive(t, observed)
	require.NoError(t, second.err)

	require.NoError(t, task.Shutdown(context.Background()))
}

func TestDeletionTask_StopsWithParentContext(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancel(context.Background())
	observed := make(chanObserver, 8)
	store := NewStore(NewMemoryBackend(), WithLogger(quietLogger()), WithSweepObserver(observed))

	task := store.StartDeletionTask(ctx, time.Hour)
	receive(t, observed)
	cancel()

	select {
	case <-task.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("task did not stop")
	}
	require.NoError(t, task.Wait(context.Background()))
}

func TestDeletionTask_InFlightSweepCompletesOnShutdown(t *testing.T) {
	defer goleak.VerifyNone(t)

	started := make(chan struct{})
	release := make(chan struct{})
	var sweepErr error
	backend := &sweepBackend{
		MemoryBackend: NewMemoryBackend(),
		onSweep: func(ctx context.Context) error {
			close(started)
			<-release
			sweepErr = ctx.Err()
			return nil
		},
	}
	store := NewStore(backend, WithLogger(quietLogger()))

	task := store.StartDeletionTask(context.Background(), time.Hour)
	<-started

	expired, cancel := context.WithCancel(context.Background())
	cancel()
	err := task.Shutdown(expired)
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "SESSION_SWEEP_JOIN_FAILED")
	assert.ErrorIs(t, err, context.Canceled)

	close(release)
	require.NoError(t, task.Wait(context.Background()))
	assert.NoError(t, sweepErr, "stopping the task must not cancel the running sweep")
}

func TestDeletionTask_PanicIsReported(t *testing.T) {
	defer goleak.VerifyNone(t)

	backend := &sweepBackend{
		MemoryBackend: NewMemoryBackend(),
		onSweep: func(context.Context) error {
			panic("boom")
		},
	}
	store := NewStore(backend, WithLogger(quietLogger()))

	task := store.StartDeletionTask(context.Background(), time.Hour)
	err := task.Wait(context.Background())
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "SESSION_SWEEP_PANIC")
	assert.Contains(t, err.Error(), "boom")
}

func TestDeletionTask_DefaultInterval(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := NewStore(NewMemoryBackend(), WithLogger(quietLogger()))
	task := store.StartDeletionTask(context.Background(), 0)
	assert.Equal(t, DefaultSweepInterval, task.interval)
	require.NoError(t, task.Shutdown(context.Background()))
}
