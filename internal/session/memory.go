// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sokoni Contributors

package session

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// MemoryBackend keeps sessions in process memory. Sessions do not survive a
// restart; it is meant for tests and local development.
type MemoryBackend struct {
	mu      sync.Mutex
	records map[string]Record
}

var _ Backend = (*MemoryBackend)(nil)

// NewMemoryBackend creates an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{records: make(map[string]Record)}
}

// Touch implements Backend.
func (m *MemoryBackend) Touch(_ context.Context, id string, now, expiresAt time.Time) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]
	if !ok || now.After(rec.ExpiresAt) {
		return nil, ErrNotFound
	}
	rec.ExpiresAt = expiresAt
	m.records[id] = rec
	return copyRecord(rec), nil
}

// Save implements Backend.
func (m *MemoryBackend) Save(_ context.Context, rec *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.ID] = *copyRecord(*rec)
	return nil
}

// Delete implements Backend.
func (m *MemoryBackend) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, id)
	return nil
}

// DeleteExpired implements Backend.
func (m *MemoryBackend) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for id, rec := range m.records {
		if now.After(rec.ExpiresAt) {
			delete(m.records, id)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored sessions, expired or not.
func (m *MemoryBackend) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

func copyRecord(rec Record) *Record {
	data := make(map[string]json.RawMessage, len(rec.Data))
	for k, v := range rec.Data {
		data[k] = append(json.RawMessage(nil), v...)
	}
	rec.Data = data
	return &rec
}
