// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sokoni Contributors

package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"regexp"
	"slices"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// IDField is the document key holding the document id.
const IDField = "_id"

// ErrInvalidID is returned for ids the repository could never have issued.
var ErrInvalidID = errors.New("invalid document id")

// Pool is the subset of pgxpool.Pool used by the repository.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Filter is an equality predicate over top-level document keys. A document
// matches when every key holds exactly the given value; objects and arrays
// compare as whole JSON values.
type Filter map[string]any

// Fields is a partial document merged into a stored document on update.
type Fields map[string]any

var fieldPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Repository is a CRUD façade over one collection of T documents.
// T must encode to a JSON object.
type Repository[T any] struct {
	pool       Pool
	database   string
	collection string
	table      string
}

// New binds a repository to database.collection, creating the schema and
// table when they do not exist yet.
func New[T any](ctx context.Context, pool Pool, database, collection string) (*Repository[T], error) {
	if database == "" || collection == "" {
		return nil, oops.Code("DOCSTORE_INVALID_NAME").
			With("database", database).
			With("collection", collection).
			Errorf("database and collection names are required")
	}

	r := &Repository[T]{
		pool:       pool,
		database:   database,
		collection: collection,
		table:      pgx.Identifier{database, collection}.Sanitize(),
	}
	if err := r.ensureCollection(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

// Collection returns the collection name.
func (r *Repository[T]) Collection() string {
	return r.collection
}

func (r *Repository[T]) ensureCollection(ctx context.Context) error {
	schema := pgx.Identifier{r.database}.Sanitize()
	if _, err := r.pool.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+schema); err != nil {
		return r.wrap("create schema", err)
	}

	_, err := r.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS `+r.table+` (
		id         TEXT PRIMARY KEY,
		doc        JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`)
	if err != nil {
		return r.wrap("create collection", err)
	}
	return nil
}

// Create inserts item and returns its generated id.
func (r *Repository[T]) Create(ctx context.Context, item T) (string, error) {
	body, err := json.Marshal(item)
	if err != nil {
		return "", r.wrap("encode document", err)
	}

	id := ulid.Make().String()
	_, err = r.pool.Exec(ctx,
		`INSERT INTO `+r.table+` (id, doc) VALUES ($1, jsonb_set($2::jsonb, '{`+IDField+`}', to_jsonb($1::text)))`,
		id, string(body))
	if err != nil {
		return "", r.wrap("create", err)
	}
	return id, nil
}

// GetByID returns the document with id, or nil when there is none.
func (r *Repository[T]) GetByID(ctx context.Context, id string) (*T, error) {
	if err := r.checkID(id); err != nil {
		return nil, err
	}
	row := r.pool.QueryRow(ctx, `SELECT doc FROM `+r.table+` WHERE id = $1`, id)
	return r.scanOne(row, "get by id")
}

// FindOne returns the oldest document matching filter, or nil when none does.
// An empty filter matches every document.
func (r *Repository[T]) FindOne(ctx context.Context, filter Filter) (*T, error) {
	where, args, err := r.filterClause(filter)
	if err != nil {
		return nil, err
	}
	row := r.pool.QueryRow(ctx,
		`SELECT doc FROM `+r.table+` WHERE `+where+` ORDER BY created_at, id LIMIT 1`,
		args...)
	return r.scanOne(row, "find one")
}

// UpdateByID merges fields into the document with id. It reports whether the
// stored document changed; updating to values already present is a no-op.
// The id key cannot be overwritten.
func (r *Repository[T]) UpdateByID(ctx context.Context, id string, fields Fields) (bool, error) {
	if err := r.checkID(id); err != nil {
		return false, err
	}

	patch := make(Fields, len(fields))
	for k, v := range fields {
		if k != IDField {
			patch[k] = v
		}
	}
	if len(patch) == 0 {
		return false, nil
	}

	body, err := encodeObject(patch)
	if err != nil {
		return false, r.wrap("encode fields", err)
	}
	tag, err := r.pool.Exec(ctx,
		`UPDATE `+r.table+` SET doc = doc || $2::jsonb WHERE id = $1 AND doc || $2::jsonb IS DISTINCT FROM doc`,
		id, body)
	if err != nil {
		return false, r.wrap("update by id", err)
	}
	return tag.RowsAffected() > 0, nil
}

// DeleteByID removes the document with id and reports whether it existed.
func (r *Repository[T]) DeleteByID(ctx context.Context, id string) (bool, error) {
	if err := r.checkID(id); err != nil {
		return false, err
	}
	tag, err := r.pool.Exec(ctx, `DELETE FROM `+r.table+` WHERE id = $1`, id)
	if err != nil {
		return false, r.wrap("delete by id", err)
	}
	return tag.RowsAffected() > 0, nil
}

// CreateUniqueIndex asserts a unique index over the text values of fields.
// It is safe to call on every startup.
func (r *Repository[T]) CreateUniqueIndex(ctx context.Context, fields ...string) error {
	if len(fields) == 0 {
		return oops.Code("DOCSTORE_INVALID_INDEX").
			With("collection", r.collection).
			Errorf("at least one field is required")
	}

	exprs := make([]string, 0, len(fields))
	for _, f := range fields {
		if !fieldPattern.MatchString(f) {
			return oops.Code("DOCSTORE_INVALID_INDEX").
				With("collection", r.collection).
				With("field", f).
				Errorf("invalid index field %q", f)
		}
		exprs = append(exprs, fmt.Sprintf("(doc->>'%s')", f))
	}

	name := pgx.Identifier{r.collection + "_" + strings.Join(fields, "_") + "_key"}.Sanitize()
	_, err := r.pool.Exec(ctx,
		`CREATE UNIQUE INDEX IF NOT EXISTS `+name+` ON `+r.table+` (`+strings.Join(exprs, ", ")+`)`)
	if err != nil {
		return oops.In("docstore").
			With("operation", "create unique index").
			With("collection", r.collection).
			With("fields", fields).
			Wrap(err)
	}
	return nil
}

// filterClause renders filter as a conjunction of per-key comparisons, in key
// order. String values compare through doc->>'key' so the expression indexes
// built by CreateUniqueIndex apply.
func (r *Repository[T]) filterClause(filter Filter) (string, []any, error) {
	if len(filter) == 0 {
		return "TRUE", nil, nil
	}

	keys := slices.Sorted(maps.Keys(filter))
	terms := make([]string, 0, len(keys))
	args := make([]any, 0, len(keys))
	for _, k := range keys {
		if !fieldPattern.MatchString(k) {
			return "", nil, oops.Code("DOCSTORE_INVALID_FILTER").
				In("docstore").
				With("collection", r.collection).
				With("field", k).
				Errorf("invalid filter field %q", k)
		}
		n := len(args) + 1
		if v, ok := filter[k].(string); ok {
			terms = append(terms, fmt.Sprintf("doc->>'%s' = $%d AND jsonb_typeof(doc->'%s') = 'string'", k, n, k))
			args = append(args, v)
			continue
		}
		b, err := json.Marshal(filter[k])
		if err != nil {
			return "", nil, r.wrap("encode filter", err)
		}
		terms = append(terms, fmt.Sprintf("doc->'%s' = $%d::jsonb", k, n))
		args = append(args, string(b))
	}
	return strings.Join(terms, " AND "), args, nil
}

func (r *Repository[T]) scanOne(row pgx.Row, operation string) (*T, error) {
	var raw []byte
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, r.wrap(operation, err)
	}

	var doc T
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, r.wrap("decode document", err)
	}
	return &doc, nil
}

func (r *Repository[T]) checkID(id string) error {
	if _, err := ulid.ParseStrict(id); err != nil {
		return oops.Code("DOCSTORE_INVALID_ID").
			In("docstore").
			With("collection", r.collection).
			With("id", id).
			Wrap(ErrInvalidID)
	}
	return nil
}

func (r *Repository[T]) wrap(operation string, err error) error {
	return oops.In("docstore").
		With("operation", operation).
		With("database", r.database).
		With("collection", r.collection).
		Wrap(err)
}

func encodeObject(m map[string]any) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
