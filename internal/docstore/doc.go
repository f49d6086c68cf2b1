// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sokoni Contributors

// Package docstore provides a typed, collection-scoped document repository on
// PostgreSQL JSONB.
//
// A database maps to a schema and a collection maps to a table:
//
//	CREATE TABLE <database>.<collection> (
//	    id         TEXT PRIMARY KEY,
//	    doc        JSONB NOT NULL,
//	    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
//	)
//
// Documents are stored with their id under the "_id" key, so a document type
// exposes its id with a `json:"_id,omitempty"` field.
//
// The repository does not interpret store errors. They are returned wrapped
// with operation context and still unwrap to *pgconn.PgError, so callers can
// inspect SQLSTATE codes such as unique_violation themselves.
package docstore
