// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sokoni Contributors

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sokoni/sokoni/internal/cipher"
	"github.com/sokoni/sokoni/internal/config"
	"github.com/sokoni/sokoni/internal/xdg"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the sokoni CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sokoni",
		Short: "Sokoni - credential and session service",
		Long: `Sokoni registers marketplace users, logs them in with bearer tokens
and keeps their server-side sessions in PostgreSQL.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (default: XDG_CONFIG_HOME/sokoni/config.yaml)")
	config.RegisterFlags(cmd.PersistentFlags())

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewSweepCmd())
	cmd.AddCommand(NewKeygenCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// resolveConfigFile returns --config, or the XDG config file when the flag
// is unset. An empty result means defaults, env and flags only.
func resolveConfigFile() (string, error) {
	if configFile != "" {
		return configFile, nil
	}
	if _, err := xdg.ConfigDir(); err != nil {
		return "", nil //nolint:nilerr // no home directory means no default file
	}
	return xdg.ConfigFile()
}

// loadConfig loads and fully validates the configuration for cmd.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := resolveConfigFile()
	if err != nil {
		return nil, err
	}
	return config.Load(path, cmd.Flags())
}

// loadDatabaseConfig loads the configuration, checking only what is needed
// to reach the database.
func loadDatabaseConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := resolveConfigFile()
	if err != nil {
		return nil, err
	}
	cfg, err := config.Read(path, cmd.Flags())
	if err != nil {
		return nil, err
	}
	if err := cfg.ValidateDatabase(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// NewKeygenCmd creates the keygen subcommand.
func NewKeygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Print a random encryption key",
		Long:  `Print a random 32-byte key, hex encoded, suitable for ENCRYPTION_KEY.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := cipher.GenerateKey()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), key.Hex())
			return err
		},
	}
}

// NewVersionCmd creates the version subcommand.
func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			v := cmd.Root().Version
			if v == "" {
				v = version
			}
			fmt.Fprintln(cmd.OutOrStdout(), v)
		},
	}
}
