// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sokoni Contributors

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/sokoni/sokoni/internal/store"
)

// NewMigrateCmd creates the migrate command group.
func NewMigrateCmd() *cobra.Command {
	return newMigrateCmdWithDeps(nil)
}

func newMigrateCmdWithDeps(deps *DatabaseDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage database migrations",
		Long:  `Apply, roll back and inspect the PostgreSQL schema migrations.`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, deps, func(m SchemaMigrator) error {
				cmd.Println("Running migrations...")
				if err := m.Up(); err != nil {
					return oops.Code("MIGRATION_FAILED").With("operation", "run migrations").Wrap(err)
				}
				cmd.Println("Migrations completed successfully")
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back all migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, deps, func(m SchemaMigrator) error {
				cmd.Println("Rolling back migrations...")
				if err := m.Down(); err != nil {
					return oops.Code("MIGRATION_FAILED").With("operation", "roll back migrations").Wrap(err)
				}
				cmd.Println("Rollback completed successfully")
				return nil
			})
		},
	})

	var jsonOutput bool
	status := &cobra.Command{
		Use:   "status",
		Short: "Show the schema version and pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, deps, func(m SchemaMigrator) error {
				st, err := m.Status()
				if err != nil {
					return oops.Code("MIGRATION_STATUS_FAILED").With("operation", "read migration status").Wrap(err)
				}
				if jsonOutput {
					return writeStatusJSON(cmd.OutOrStdout(), st)
				}
				return writeStatusTable(cmd.OutOrStdout(), st)
			})
		},
	}
	status.Flags().BoolVar(&jsonOutput, "json", false, "output status as JSON")
	cmd.AddCommand(status)

	cmd.AddCommand(&cobra.Command{
		Use:   "force VERSION",
		Short: "Set the schema version without running migrations",
		Long: `Set the recorded schema version and clear the dirty flag without
running any migration. Use it to recover from a failed migration after
repairing the schema by hand.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := parseForceVersion(args[0])
			if err != nil {
				return err
			}
			return withMigrator(cmd, deps, func(m SchemaMigrator) error {
				if err := m.Force(v); err != nil {
					return oops.Code("MIGRATION_FAILED").With("operation", "force version").With("version", v).Wrap(err)
				}
				cmd.Printf("Schema version forced to %d\n", v)
				return nil
			})
		},
	})

	return cmd
}

// withMigrator loads the database settings, opens a migrator and closes it
// after fn returns.
func withMigrator(cmd *cobra.Command, deps *DatabaseDeps, fn func(SchemaMigrator) error) error {
	deps = deps.withDefaults()

	cfg, err := loadDatabaseConfig(cmd)
	if err != nil {
		return err
	}

	m, err := deps.MigratorFactory(cfg.Database.URL)
	if err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "create migrator").Wrap(err)
	}
	defer func() {
		if closeErr := m.Close(); closeErr != nil {
			cmd.PrintErrf("failed to close migrator: %v\n", closeErr)
		}
	}()

	return fn(m)
}

// parseForceVersion parses the VERSION argument of migrate force. Trailing
// non-digits are ignored.
func parseForceVersion(s string) (int, error) {
	var v int
	if _, err := fmt.Sscanf(strings.TrimSpace(s), "%d", &v); err != nil {
		return 0, oops.Code("INVALID_VERSION").With("input", s).Wrapf(err, "version must be an integer")
	}
	return v, nil
}

type statusJSON struct {
	Version uint            `json:"version"`
	Dirty   bool            `json:"dirty"`
	Applied []migrationJSON `json:"applied"`
	Pending []migrationJSON `json:"pending"`
}

type migrationJSON struct {
	Version uint   `json:"version"`
	Name    string `json:"name"`
}

func toMigrationJSON(in []store.Migration) []migrationJSON {
	out := make([]migrationJSON, 0, len(in))
	for _, m := range in {
		out = append(out, migrationJSON{Version: m.Version, Name: m.Name})
	}
	return out
}

func writeStatusJSON(w io.Writer, st *store.Status) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(statusJSON{
		Version: st.Version,
		Dirty:   st.Dirty,
		Applied: toMigrationJSON(st.Applied),
		Pending: toMigrationJSON(st.Pending),
	})
}

func writeStatusTable(w io.Writer, st *store.Status) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Version:\t%d\n", st.Version)
	fmt.Fprintf(tw, "Dirty:\t%t\n", st.Dirty)
	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "VERSION\tNAME\tSTATE")
	for _, m := range st.Applied {
		fmt.Fprintf(tw, "%06d\t%s\tapplied\n", m.Version, m.Name)
	}
	for _, m := range st.Pending {
		fmt.Fprintf(tw, "%06d\t%s\tpending\n", m.Version, m.Name)
	}
	return tw.Flush()
}
