// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sokoni Contributors

package main

import (
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/sokoni/sokoni/internal/session"
	"github.com/sokoni/sokoni/internal/store"
)

// NewSweepCmd creates the sweep subcommand.
func NewSweepCmd() *cobra.Command {
	return newSweepCmdWithDeps(nil)
}

func newSweepCmdWithDeps(deps *DatabaseDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete expired sessions once",
		Long: `Delete every session whose inactivity window has lapsed, then exit.
The server runs the same sweep periodically; this command is for cron jobs
and manual cleanup.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			deps := deps.withDefaults()

			cfg, err := loadDatabaseConfig(cmd)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			db, err := deps.DatabaseFactory(ctx, cfg.Database.URL, store.DefaultConnectOptions())
			if err != nil {
				return oops.Code("DB_CONNECT_FAILED").With("operation", "connect to database").Wrap(err)
			}
			defer db.Close()

			sessions := session.NewStore(session.NewPostgresBackend(db))
			n, err := sessions.DeleteExpired(ctx)
			if err != nil {
				return err
			}
			cmd.Printf("Deleted %d expired sessions\n", n)
			return nil
		},
	}
}
