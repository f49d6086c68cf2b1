// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sokoni Contributors

package config

import (
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
)

// EnvPrefix selects the environment variables read by Load. A double
// underscore separates nesting levels: SOKONI_SESSION__SWEEP_INTERVAL sets
// session.sweep_interval.
const EnvPrefix = "SOKONI_"

// legacyEnv maps the unprefixed variable names deployments already use.
var legacyEnv = map[string]string{
	"DATABASE_URL":   "database.url",
	"ENCRYPTION_KEY": "crypto.encryption_key",
	"JWT_PASSCODE":   "token.secret",
}

// flagKeys maps command-line flag names to configuration keys.
var flagKeys = map[string]string{
	"listen":          "server.listen",
	"metrics-listen":  "metrics.listen",
	"database-url":    "database.url",
	"auto-migrate":    "database.auto_migrate",
	"session-backend": "session.backend",
	"log-format":      "log.format",
	"log-level":       "log.level",
	"trusted-proxies": "server.trusted_proxies",
}

// RegisterFlags adds the configuration flags to fs. Only flags the user
// sets override lower layers.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("listen", d.Server.Listen, "HTTP listen address")
	fs.String("metrics-listen", d.Metrics.Listen, "metrics and health listen address (empty disables)")
	fs.String("database-url", "", "PostgreSQL connection URL")
	fs.Bool("auto-migrate", d.Database.AutoMigrate, "apply pending migrations on startup")
	fs.String("session-backend", d.Session.Backend, "session backend (postgres or memory)")
	fs.String("log-format", d.Log.Format, "log format (json or text)")
	fs.String("log-level", d.Log.Level, "log level (debug, info, warn, error)")
	fs.StringSlice("trusted-proxies", nil, "reverse proxy addresses or CIDRs whose forwarding headers are trusted")
}

// Load reads the layered sources and validates the result.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	cfg, err := Read(path, flags)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read builds a Config from the layered sources without validating it.
// path may be empty, and flags may be nil.
func Read(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	for key, val := range Default().values() {
		if err := k.Set(key, val); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").In("config").With("key", key).Wrap(err)
		}
	}

	if path != "" {
		fp := file.Provider(path)
		data, err := fp.ReadBytes()
		if err != nil {
			return nil, oops.Code("CONFIG_READ_FAILED").In("config").With("path", path).Wrap(err)
		}
		if err := ValidateYAML(data); err != nil {
			return nil, oops.Code("CONFIG_SCHEMA_INVALID").In("config").With("path", path).Wrap(err)
		}
		if err := k.Load(fp, yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_PARSE_FAILED").In("config").With("path", path).Wrap(err)
		}
	}

	legacy := env.Provider("", ".", func(name string) string {
		return legacyEnv[name]
	})
	if err := k.Load(legacy, nil); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").In("config").With("source", "legacy env").Wrap(err)
	}
	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", envValue), nil); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").In("config").With("source", "env").Wrap(err)
	}

	if flags != nil {
		p := posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		})
		if err := k.Load(p, nil); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").In("config").With("source", "flags").Wrap(err)
		}
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, oops.Code("CONFIG_DECODE_FAILED").In("config").Wrap(err)
	}
	return cfg, nil
}

// listKeys are keys whose environment values are comma-separated lists.
var listKeys = map[string]bool{
	"server.trusted_proxies": true,
}

// envValue maps a SOKONI_* variable to its key, splitting list values.
func envValue(name, value string) (string, any) {
	key := envKey(name)
	if !listKeys[key] {
		return key, value
	}
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return key, items
}

// envKey turns SOKONI_SERVER__COOKIE__NAME into server.cookie.name.
func envKey(name string) string {
	name = strings.TrimPrefix(name, EnvPrefix)
	return strings.ReplaceAll(strings.ToLower(name), "__", ".")
}
