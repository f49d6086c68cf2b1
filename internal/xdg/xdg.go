// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sokoni Contributors

// Package xdg locates sokoni's files under the XDG Base Directory layout.
package xdg

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/samber/oops"
)

const appName = "sokoni"

// ConfigFileName is the file looked up in ConfigDir.
const ConfigFileName = "config.yaml"

// ConfigDir returns the sokoni config directory. It checks XDG_CONFIG_HOME
// first and falls back to ~/.config.
func ConfigDir() (string, error) {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home := os.Getenv("HOME")
		if home == "" {
			return "", oops.Code("XDG_HOME_UNSET").Errorf("neither XDG_CONFIG_HOME nor HOME is set")
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, appName), nil
}

// ConfigFile returns the path of the default config file if it exists, or
// "" when there is none.
func ConfigFile() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, ConfigFileName)
	info, err := os.Stat(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return "", nil
	case err != nil:
		return "", oops.Code("XDG_STAT_FAILED").With("path", path).Wrap(err)
	case info.IsDir():
		return "", oops.Code("XDG_NOT_A_FILE").With("path", path).Errorf("%s is a directory", path)
	}
	return path, nil
}
