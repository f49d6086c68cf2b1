// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sokoni Contributors

package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sokoni/sokoni/internal/store"
	"github.com/sokoni/sokoni/pkg/errutil"
)

// fakeMigrator implements both AutoMigrator and SchemaMigrator.
type fakeMigrator struct {
	upCalled    bool
	downCalled  bool
	closeCalled bool
	forced      *int
	upErr       error
	closeErr    error
	status      *store.Status
}

func (m *fakeMigrator) Up() error {
	m.upCalled = true
	return m.upErr
}

func (m *fakeMigrator) Down() error {
	m.downCalled = true
	return nil
}

func (m *fakeMigrator) Force(v int) error {
	m.forced = &v
	return nil
}

func (m *fakeMigrator) Status() (*store.Status, error) {
	if m.status == nil {
		return nil, errors.New("no status")
	}
	return m.status, nil
}

func (m *fakeMigrator) Close() error {
	m.closeCalled = true
	return m.closeErr
}

func runMigrate(t *testing.T, m *fakeMigrator, args ...string) (string, error) {
	t.Helper()
	configFile = ""
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	var gotURL string
	cmd := newMigrateCmdWithDeps(&DatabaseDeps{
		MigratorFactory: func(url string) (SchemaMigrator, error) {
			gotURL = url
			return m, nil
		},
	})
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	if err == nil {
		assert.Equal(t, "postgres://localhost:5432/testdb", gotURL)
	}
	return buf.String(), err
}

func TestParseForceVersion(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		wantVersion int
		wantErr     bool
	}{
		{name: "valid integer", input: "3", wantVersion: 3},
		{name: "zero is valid", input: "0", wantVersion: 0},
		{name: "non-numeric returns error", input: "abc", wantErr: true},
		{name: "float stops at the dot", input: "1.5", wantVersion: 1},
		{name: "trailing chars are ignored", input: "3abc", wantVersion: 3},
		{name: "negative parses", input: "-1", wantVersion: -1},
		{name: "empty string returns error", input: "", wantErr: true},
		{name: "whitespace only returns error", input: "   ", wantErr: true},
		{name: "leading whitespace is handled", input: "  42", wantVersion: 42},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			version, err := parseForceVersion(tt.input)

			if tt.wantErr {
				require.Error(t, err)
				errutil.AssertErrorCode(t, err, "INVALID_VERSION")
				assert.Equal(t, 0, version)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.wantVersion, version)
			}
		})
	}
}

func TestMigrateCommand_Properties(t *testing.T) {
	cmd := NewMigrateCmd()

	assert.Equal(t, "migrate", cmd.Use)
	assert.Contains(t, cmd.Short, "migration")
	assert.Contains(t, cmd.Long, "PostgreSQL")

	names := make([]string, 0, len(cmd.Commands()))
	for _, sub := range cmd.Commands() {
		names = append(names, sub.Name())
	}
	assert.ElementsMatch(t, []string{"up", "down", "status", "force"}, names)
}

func TestMigrateCommand_NoDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	_, err := runMigrate(t, &fakeMigrator{}, "up")

	errutil.AssertErrorCode(t, err, "CONFIG_INVALID")
	errutil.AssertErrorContext(t, err, "key", "database.url")
}

func TestMigrateCommand_DoesNotNeedSecrets(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/testdb")
	t.Setenv("ENCRYPTION_KEY", "")
	t.Setenv("JWT_PASSCODE", "")
	m := &fakeMigrator{}

	out, err := runMigrate(t, m, "up")

	require.NoError(t, err)
	assert.True(t, m.upCalled)
	assert.True(t, m.closeCalled)
	assert.Contains(t, out, "Migrations completed successfully")
}

func TestMigrateCommand_UpFailure(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/testdb")
	m := &fakeMigrator{upErr: errors.New("column already exists")}

	_, err := runMigrate(t, m, "up")

	errutil.AssertErrorCode(t, err, "MIGRATION_FAILED")
	assert.True(t, m.closeCalled, "migrator is closed on failure")
}

func TestMigrateCommand_Down(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/testdb")
	m := &fakeMigrator{}

	out, err := runMigrate(t, m, "down")

	require.NoError(t, err)
	assert.True(t, m.downCalled)
	assert.Contains(t, out, "Rollback completed successfully")
}

func TestMigrateCommand_Force(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/testdb")

	t.Run("valid version", func(t *testing.T) {
		m := &fakeMigrator{}
		out, err := runMigrate(t, m, "force", "1")

		require.NoError(t, err)
		require.NotNil(t, m.forced)
		assert.Equal(t, 1, *m.forced)
		assert.Contains(t, out, "Schema version forced to 1")
	})

	t.Run("invalid version never opens a migrator", func(t *testing.T) {
		m := &fakeMigrator{}
		_, err := runMigrate(t, m, "force", "abc")

		errutil.AssertErrorCode(t, err, "INVALID_VERSION")
		assert.False(t, m.closeCalled)
	})
}

func TestMigrateCommand_Status(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/testdb")
	st := &store.Status{
		Version: 1,
		Applied: []store.Migration{{Version: 1, Name: "sessions"}},
		Pending: []store.Migration{{Version: 2, Name: "audit"}},
	}

	t.Run("table", func(t *testing.T) {
		out, err := runMigrate(t, &fakeMigrator{status: st}, "status")

		require.NoError(t, err)
		assert.Contains(t, out, "Version:")
		assert.Regexp(t, `000001\s+sessions\s+applied`, out)
		assert.Regexp(t, `000002\s+audit\s+pending`, out)
	})

	t.Run("json", func(t *testing.T) {
		out, err := runMigrate(t, &fakeMigrator{status: st}, "status", "--json")
		require.NoError(t, err)

		var got statusJSON
		require.NoError(t, json.Unmarshal([]byte(out), &got))
		assert.Equal(t, uint(1), got.Version)
		assert.False(t, got.Dirty)
		assert.Equal(t, []migrationJSON{{Version: 1, Name: "sessions"}}, got.Applied)
		assert.Equal(t, []migrationJSON{{Version: 2, Name: "audit"}}, got.Pending)
	})

	t.Run("failure", func(t *testing.T) {
		_, err := runMigrate(t, &fakeMigrator{}, "status")
		errutil.AssertErrorCode(t, err, "MIGRATION_STATUS_FAILED")
	})
}
