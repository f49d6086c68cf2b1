// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sokoni Contributors

package session

import (
	"context"
	"encoding/json"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/samber/oops"
)

// Session is one client's server-side state. It is safe for concurrent use
// within a request.
type Session struct {
	mu        sync.Mutex
	id        string
	values    map[string]json.RawMessage
	expiresAt time.Time
	store     *Store
	fresh     bool
	saved     bool
	deleted   bool
}

// ID returns the session id.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// ExpiresAt returns when the session lapses if it is not accessed again.
func (s *Session) ExpiresAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expiresAt
}

// IsNew reports whether the session has never been persisted.
func (s *Session) IsNew() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fresh
}

// Saved reports whether the session was persisted through this handle.
func (s *Session) Saved() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saved
}

// Deleted reports whether the session was deleted through this handle.
func (s *Session) Deleted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleted
}

// Get decodes the value under key into v and reports whether it was present.
func (s *Session) Get(key string, v any) (bool, error) {
	s.mu.Lock()
	raw, ok := s.values[key]
	s.mu.Unlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, oops.Code("SESSION_VALUE_INVALID").With("key", key).Wrap(err)
	}
	return true, nil
}

// Set stores v under key and persists the session.
func (s *Session) Set(ctx context.Context, key string, v any) error {
	if err := s.SetMany(ctx, map[string]any{key: v}); err != nil {
		return oops.With("key", key).Wrap(err)
	}
	return nil
}

// SetMany stores every entry of values and persists the session with a
// single save. If encoding or the save fails, none of the entries is kept.
func (s *Session) SetMany(ctx context.Context, values map[string]any) error {
	keys := slices.Sorted(maps.Keys(values))
	encoded := make(map[string]json.RawMessage, len(keys))
	for _, k := range keys {
		raw, err := json.Marshal(values[k])
		if err != nil {
			return oops.Code("SESSION_VALUE_INVALID").With("key", k).Wrap(err)
		}
		encoded[k] = raw
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := maps.Clone(s.values)
	if next == nil {
		next = map[string]json.RawMessage{}
	}
	maps.Copy(next, encoded)
	prev := s.values
	s.values = next
	if err := s.store.save(ctx, s); err != nil {
		s.values = prev
		return oops.With("keys", keys).Wrap(err)
	}
	s.fresh = false
	s.saved = true
	s.deleted = false
	return nil
}

// Delete removes the session from the store.
func (s *Session) Delete(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.fresh {
		if err := s.store.delete(ctx, s.id); err != nil {
			return err
		}
	}
	s.values = map[string]json.RawMessage{}
	s.deleted = true
	s.saved = false
	return nil
}

// Get is a typed accessor for the value under key.
func Get[T any](s *Session, key string) (T, bool, error) {
	var v T
	ok, err := s.Get(key, &v)
	return v, ok, err
}
