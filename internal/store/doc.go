// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sokoni Contributors

// Package store bootstraps PostgreSQL: it opens the connection pool with a
// bounded retry and applies the embedded schema migrations.
//
// User documents live in tables created on demand by the docstore package;
// the migrations here own the sessions table.
package store
