// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sokoni Contributors

package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/samber/oops"
)

// Querier is the subset of pgxpool.Pool used by PostgresBackend.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresBackend stores sessions in the sessions table created by the
// store migrations. Rows are keyed by the SHA-256 of the session id, so a
// copy of the table does not yield usable cookies.
type PostgresBackend struct {
	db Querier
}

var _ Backend = (*PostgresBackend)(nil)

// NewPostgresBackend creates a PostgresBackend.
func NewPostgresBackend(db Querier) *PostgresBackend {
	return &PostgresBackend{db: db}
}

// Touch implements Backend. The expiry check and the refresh happen in one
// statement, so a sweep cannot delete a session between the two.
func (b *PostgresBackend) Touch(ctx context.Context, id string, now, expiresAt time.Time) (*Record, error) {
	var (
		raw []byte
		exp time.Time
	)
	err := b.db.QueryRow(ctx, `
		UPDATE sessions SET expires_at = $3
		WHERE id_hash = $1 AND expires_at >= $2
		RETURNING data, expires_at
	`, hashID(id), now, expiresAt).Scan(&raw, &exp)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, oops.With("operation", "touch session").Wrap(err)
	}

	rec := &Record{ID: id, ExpiresAt: exp}
	if err := json.Unmarshal(raw, &rec.Data); err != nil {
		return nil, oops.With("operation", "decode session data").Wrap(err)
	}
	return rec, nil
}

// Save implements Backend.
func (b *PostgresBackend) Save(ctx context.Context, rec *Record) error {
	data := rec.Data
	if data == nil {
		data = map[string]json.RawMessage{}
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return oops.With("operation", "encode session data").Wrap(err)
	}

	_, err = b.db.Exec(ctx, `
		INSERT INTO sessions (id_hash, data, expires_at)
		VALUES ($1, $2::jsonb, $3)
		ON CONFLICT (id_hash) DO UPDATE SET data = EXCLUDED.data, expires_at = EXCLUDED.expires_at
	`, hashID(rec.ID), string(raw), rec.ExpiresAt)
	if err != nil {
		return oops.With("operation", "upsert session").Wrap(err)
	}
	return nil
}

// Delete implements Backend.
func (b *PostgresBackend) Delete(ctx context.Context, id string) error {
	if _, err := b.db.Exec(ctx, `DELETE FROM sessions WHERE id_hash = $1`, hashID(id)); err != nil {
		return oops.With("operation", "delete session").Wrap(err)
	}
	return nil
}

// DeleteExpired implements Backend.
func (b *PostgresBackend) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := b.db.Exec(ctx, `DELETE FROM sessions WHERE expires_at < $1`, now)
	if err != nil {
		return 0, oops.With("operation", "delete expired sessions").Wrap(err)
	}
	return tag.RowsAffected(), nil
}

func hashID(id string) string {
	sum := sha256.Sum256([]byte(id))
	return hex.EncodeToString(sum[:])
}
