// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sokoni Contributors

package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/samber/oops"
)

// Defaults for the expiry policy.
const (
	DefaultInactivity    = time.Hour
	DefaultSweepInterval = time.Minute
	DefaultSweepTimeout  = 30 * time.Second
)

// IDBytes is the number of random bytes in a session id.
const IDBytes = 32

// ErrNotFound is returned by backends for sessions that are absent or expired.
var ErrNotFound = errors.New("session not found")

// Record is the persisted form of a session.
type Record struct {
	ID        string
	Data      map[string]json.RawMessage
	ExpiresAt time.Time
}

// Backend persists session records. A record is expired when now is after
// its ExpiresAt.
type Backend interface {
	// Touch returns the unexpired record with id and moves its expiry to
	// expiresAt. It returns ErrNotFound for absent or expired records.
	Touch(ctx context.Context, id string, now, expiresAt time.Time) (*Record, error)
	// Save inserts or replaces rec.
	Save(ctx context.Context, rec *Record) error
	// Delete removes the record with id. Deleting an absent record is not an error.
	Delete(ctx context.Context, id string) error
	// DeleteExpired removes every record expired at now and returns the count.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// SweepObserver is notified after every expiry sweep.
type SweepObserver interface {
	ObserveSweep(deleted int64, err error)
}

// Store applies the sliding expiry policy to a Backend.
type Store struct {
	backend      Backend
	inactivity   time.Duration
	sweepTimeout time.Duration
	now          func() time.Time
	logger       *slog.Logger
	observer     SweepObserver
}

// Option configures a Store.
type Option func(*Store)

// WithInactivity sets how long an untouched session stays alive.
func WithInactivity(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.inactivity = d
		}
	}
}

// WithSweepTimeout bounds a single expiry sweep.
func WithSweepTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.sweepTimeout = d
		}
	}
}

// WithClock overrides the store clock.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the logger used by the deletion task.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithSweepObserver registers an observer for sweep results.
func WithSweepObserver(o SweepObserver) Option {
	return func(s *Store) {
		s.observer = o
	}
}

// NewStore creates a Store over backend.
func NewStore(backend Backend, opts ...Option) *Store {
	s := &Store{
		backend:      backend,
		inactivity:   DefaultInactivity,
		sweepTimeout: DefaultSweepTimeout,
		now:          time.Now,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Inactivity returns the sliding expiry window.
func (s *Store) Inactivity() time.Duration {
	return s.inactivity
}

// New returns a fresh session that is not persisted until its first Set.
func (s *Store) New() (*Session, error) {
	id, err := GenerateID()
	if err != nil {
		return nil, err
	}
	return &Session{
		id:        id,
		values:    map[string]json.RawMessage{},
		expiresAt: s.now().Add(s.inactivity),
		store:     s,
		fresh:     true,
	}, nil
}

// Load returns the live session with id and resets its expiry. Unknown,
// expired and empty ids yield a fresh session with a new id, so a client can
// never choose its own session id.
func (s *Store) Load(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		return s.New()
	}

	now := s.now()
	rec, err := s.backend.Touch(ctx, id, now, now.Add(s.inactivity))
	if errors.Is(err, ErrNotFound) {
		return s.New()
	}
	if err != nil {
		return nil, oops.Code("SESSION_LOAD_FAILED").In("session").Wrap(err)
	}

	values := rec.Data
	if values == nil {
		values = map[string]json.RawMessage{}
	}
	return &Session{
		id:        rec.ID,
		values:    values,
		expiresAt: rec.ExpiresAt,
		store:     s,
	}, nil
}

// DeleteExpired removes all sessions whose inactivity window has lapsed.
func (s *Store) DeleteExpired(ctx context.Context) (int64, error) {
	n, err := s.backend.DeleteExpired(ctx, s.now())
	if err != nil {
		return 0, oops.Code("SESSION_SWEEP_FAILED").In("session").Wrap(err)
	}
	return n, nil
}

func (s *Store) save(ctx context.Context, sess *Session) error {
	expiresAt := s.now().Add(s.inactivity)
	rec := &Record{ID: sess.id, Data: sess.values, ExpiresAt: expiresAt}
	if err := s.backend.Save(ctx, rec); err != nil {
		return oops.Code("SESSION_SAVE_FAILED").In("session").Wrap(err)
	}
	sess.expiresAt = expiresAt
	return nil
}

func (s *Store) delete(ctx context.Context, id string) error {
	if err := s.backend.Delete(ctx, id); err != nil {
		return oops.Code("SESSION_DELETE_FAILED").In("session").Wrap(err)
	}
	return nil
}

// GenerateID returns a random hex session id.
func GenerateID() (string, error) {
	b := make([]byte, IDBytes)
	if _, err := rand.Read(b); err != nil {
		return "", oops.Code("SESSION_ID_GENERATE_FAILED").
			With("operation", "crypto/rand.Read").
			With("requested_bytes", IDBytes).
			Wrap(err)
	}
	return hex.EncodeToString(b), nil
}
