// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sokoni Contributors

package store

import (
	"cmp"
	"embed"
	"errors"
	"io/fs"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	// pgx/v5 driver for golang-migrate.
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/samber/oops"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var migrationFile = regexp.MustCompile(`^(\d{6})_(\w+)\.up\.sql$`)

// Migration is one embedded schema migration.
type Migration struct {
	Version uint
	Name    string
}

// Status summarizes the schema state.
type Status struct {
	Version uint
	Dirty   bool
	Applied []Migration
	Pending []Migration
}

// migrator is the subset of *migrate.Migrate used here.
type migrator interface {
	Up() error
	Down() error
	Steps(n int) error
	Version() (version uint, dirty bool, err error)
	Force(version int) error
	Close() (source error, database error)
}

// Migrator applies the embedded migrations.
type Migrator struct {
	m      migrator
	source fs.FS
}

// NewMigrator connects golang-migrate to databaseURL. postgres:// and
// postgresql:// URLs are rewritten to the pgx5:// scheme the driver expects.
func NewMigrator(databaseURL string) (*Migrator, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, oops.Code("STORE_MIGRATION_SOURCE_FAILED").Wrap(err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, driverURL(databaseURL))
	if err != nil {
		_ = src.Close() //nolint:errcheck // init error takes precedence
		return nil, oops.Code("STORE_MIGRATION_INIT_FAILED").Wrap(err)
	}
	return &Migrator{m: m, source: migrationsFS}, nil
}

func driverURL(databaseURL string) string {
	for _, scheme := range []string{"postgres://", "postgresql://"} {
		if rest, ok := strings.CutPrefix(databaseURL, scheme); ok {
			return "pgx5://" + rest
		}
	}
	return databaseURL
}

// Up applies every pending migration.
func (m *Migrator) Up() error {
	return m.apply("STORE_MIGRATION_UP_FAILED", m.m.Up)
}

// Down reverts every migration. It drops the sessions table.
func (m *Migrator) Down() error {
	return m.apply("STORE_MIGRATION_DOWN_FAILED", m.m.Down)
}

// Steps applies n migrations, or reverts -n when n is negative.
func (m *Migrator) Steps(n int) error {
	if n == 0 {
		return nil
	}
	err := m.apply("STORE_MIGRATION_STEPS_FAILED", func() error { return m.m.Steps(n) })
	if err != nil {
		return oops.With("steps", n).Wrap(err)
	}
	return nil
}

func (m *Migrator) apply(code string, fn func() error) error {
	if err := fn(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return oops.Code(code).Wrap(err)
	}
	return nil
}

// Version returns the applied version, zero when nothing is applied. Dirty
// means a migration failed midway and needs Force after a manual fix.
func (m *Migrator) Version() (uint, bool, error) {
	v, dirty, err := m.m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		return 0, false, nil
	case err != nil:
		return 0, false, oops.Code("STORE_MIGRATION_VERSION_FAILED").Wrap(err)
	}
	return v, dirty, nil
}

// Force records version as applied without running anything.
func (m *Migrator) Force(version int) error {
	if version < 0 {
		return oops.Code("STORE_MIGRATION_VERSION_INVALID").
			With("version", version).
			Errorf("version must be non-negative")
	}
	if err := m.m.Force(version); err != nil {
		return oops.Code("STORE_MIGRATION_FORCE_FAILED").With("version", version).Wrap(err)
	}
	return nil
}

// Status reports the current version and splits the embedded migrations
// into applied and pending.
func (m *Migrator) Status() (*Status, error) {
	v, dirty, err := m.Version()
	if err != nil {
		return nil, err
	}
	all, err := listMigrations(m.source)
	if err != nil {
		return nil, err
	}
	st := &Status{Version: v, Dirty: dirty}
	for _, mig := range all {
		if mig.Version <= v {
			st.Applied = append(st.Applied, mig)
		} else {
			st.Pending = append(st.Pending, mig)
		}
	}
	return st, nil
}

// Pending returns the migrations Up would apply.
func (m *Migrator) Pending() ([]Migration, error) {
	st, err := m.Status()
	if err != nil {
		return nil, err
	}
	return st.Pending, nil
}

// Applied returns the migrations at or below the current version.
func (m *Migrator) Applied() ([]Migration, error) {
	st, err := m.Status()
	if err != nil {
		return nil, err
	}
	return st.Applied, nil
}

// Close releases the source and the database connection.
func (m *Migrator) Close() error {
	srcErr, dbErr := m.m.Close()
	if err := errors.Join(srcErr, dbErr); err != nil {
		return oops.Code("STORE_MIGRATION_CLOSE_FAILED").Wrap(err)
	}
	return nil
}

// Migrations lists the embedded migrations in version order.
func Migrations() ([]Migration, error) {
	return listMigrations(migrationsFS)
}

func listMigrations(fsys fs.FS) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, "migrations")
	if err != nil {
		return nil, oops.Code("STORE_MIGRATION_LIST_FAILED").Wrap(err)
	}

	var out []Migration
	for _, e := range entries {
		match := migrationFile.FindStringSubmatch(e.Name())
		if match == nil {
			continue
		}
		v, err := strconv.ParseUint(match[1], 10, 64)
		if err != nil {
			continue
		}
		out = append(out, Migration{Version: uint(v), Name: match[2]})
	}
	slices.SortFunc(out, func(a, b Migration) int {
		return cmp.Compare(a.Version, b.Version)
	})
	return out, nil
}
