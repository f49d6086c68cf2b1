// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sokoni Contributors

// Package config loads process configuration. Values are layered in this
// order, later layers winning: built-in defaults, an optional YAML file,
// the legacy environment names, SOKONI_* environment variables, and
// explicitly set command-line flags.
package config

import (
	"fmt"
	"net/netip"
	"regexp"
	"strings"
	"time"

	"github.com/samber/oops"

	"github.com/sokoni/sokoni/internal/cipher"
)

// Session backends.
const (
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Config is the full process configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server" json:"server"`
	Metrics  MetricsConfig  `koanf:"metrics" json:"metrics"`
	Database DatabaseConfig `koanf:"database" json:"database"`
	Crypto   CryptoConfig   `koanf:"crypto" json:"crypto"`
	Token    TokenConfig    `koanf:"token" json:"token"`
	Session  SessionConfig  `koanf:"session" json:"session"`
	Log      LogConfig      `koanf:"log" json:"log"`
}

// ServerConfig configures the public HTTP listener.
type ServerConfig struct {
	Listen          string          `koanf:"listen" json:"listen" jsonschema:"description=HTTP listen address"`
	ShutdownTimeout time.Duration   `koanf:"shutdown_timeout" json:"shutdown_timeout"`
	Cookie          CookieConfig    `koanf:"cookie" json:"cookie"`
	RateLimit       RateLimitConfig `koanf:"rate_limit" json:"rate_limit"`
	// TrustedProxies are the CIDR prefixes or addresses of reverse proxies
	// whose X-Forwarded-For and X-Real-IP headers name the client.
	TrustedProxies []string `koanf:"trusted_proxies" json:"trusted_proxies,omitempty"`
}

// CookieConfig configures the session cookie.
type CookieConfig struct {
	Name   string `koanf:"name" json:"name" jsonschema:"minLength=1"`
	Secure bool   `koanf:"secure" json:"secure"`
}

// RateLimitConfig bounds register and login attempts per client address.
// A zero rate disables limiting.
type RateLimitConfig struct {
	Rate    float64       `koanf:"rate" json:"rate" jsonschema:"minimum=0,description=requests per second"`
	Burst   int           `koanf:"burst" json:"burst" jsonschema:"minimum=1"`
	IdleTTL time.Duration `koanf:"idle_ttl" json:"idle_ttl"`
}

// MetricsConfig configures the observability listener. An empty address
// disables it.
type MetricsConfig struct {
	Listen string `koanf:"listen" json:"listen"`
}

// DatabaseConfig locates the PostgreSQL database.
type DatabaseConfig struct {
	URL             string `koanf:"url" json:"url" jsonschema:"description=PostgreSQL connection URL"`
	Name            string `koanf:"name" json:"name" jsonschema:"minLength=1"`
	UsersCollection string `koanf:"users_collection" json:"users_collection" jsonschema:"minLength=1"`
	AutoMigrate     bool   `koanf:"auto_migrate" json:"auto_migrate"`
	ConnectAttempts uint64 `koanf:"connect_attempts" json:"connect_attempts"`
	MaxConns        int32  `koanf:"max_conns" json:"max_conns" jsonschema:"minimum=0"`
}

// CryptoConfig configures password encryption.
type CryptoConfig struct {
	EncryptionKey string `koanf:"encryption_key" json:"encryption_key" jsonschema:"pattern=^[0-9a-fA-F]{64}$"`
	Nonce         string `koanf:"nonce" json:"nonce" jsonschema:"enum=sha256,enum=hmac"`
}

// TokenConfig configures bearer token issuance.
type TokenConfig struct {
	Secret string        `koanf:"secret" json:"secret"`
	TTL    time.Duration `koanf:"ttl" json:"ttl"`
}

// SessionConfig configures the session store and its sweeper.
type SessionConfig struct {
	Backend       string        `koanf:"backend" json:"backend" jsonschema:"enum=postgres,enum=memory"`
	Inactivity    time.Duration `koanf:"inactivity" json:"inactivity"`
	SweepInterval time.Duration `koanf:"sweep_interval" json:"sweep_interval"`
	SweepTimeout  time.Duration `koanf:"sweep_timeout" json:"sweep_timeout"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Format string `koanf:"format" json:"format" jsonschema:"enum=json,enum=text"`
	Level  string `koanf:"level" json:"level" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
}

// Default returns the built-in configuration. It is not valid on its own:
// the encryption key and the token secret have no defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:          "127.0.0.1:8080",
			ShutdownTimeout: 10 * time.Second,
			Cookie:          CookieConfig{Name: "session_id"},
			RateLimit: RateLimitConfig{
				Rate:    10.0 / 60.0,
				Burst:   10,
				IdleTTL: 10 * time.Minute,
			},
		},
		Metrics: MetricsConfig{Listen: "127.0.0.1:9100"},
		Database: DatabaseConfig{
			Name:            "sample_mflix",
			UsersCollection: "base_users",
			AutoMigrate:     true,
			ConnectAttempts: 8,
		},
		Crypto: CryptoConfig{Nonce: cipher.NonceSHA256},
		Token:  TokenConfig{TTL: time.Minute},
		Session: SessionConfig{
			Backend:       BackendPostgres,
			Inactivity:    time.Hour,
			SweepInterval: 60 * time.Second,
			SweepTimeout:  30 * time.Second,
		},
		Log: LogConfig{Format: "json", Level: "info"},
	}
}

// values flattens c into koanf keys.
func (c *Config) values() map[string]any {
	return map[string]any{
		"server.listen":              c.Server.Listen,
		"server.shutdown_timeout":    c.Server.ShutdownTimeout.String(),
		"server.cookie.name":         c.Server.Cookie.Name,
		"server.cookie.secure":       c.Server.Cookie.Secure,
		"server.rate_limit.rate":     c.Server.RateLimit.Rate,
		"server.rate_limit.burst":    c.Server.RateLimit.Burst,
		"server.rate_limit.idle_ttl": c.Server.RateLimit.IdleTTL.String(),
		"server.trusted_proxies":     append([]string{}, c.Server.TrustedProxies...),
		"metrics.listen":             c.Metrics.Listen,
		"database.url":               c.Database.URL,
		"database.name":              c.Database.Name,
		"database.users_collection":  c.Database.UsersCollection,
		"database.auto_migrate":      c.Database.AutoMigrate,
		"database.connect_attempts":  c.Database.ConnectAttempts,
		"database.max_conns":         c.Database.MaxConns,
		"crypto.encryption_key":      c.Crypto.EncryptionKey,
		"crypto.nonce":               c.Crypto.Nonce,
		"token.secret":               c.Token.Secret,
		"token.ttl":                  c.Token.TTL.String(),
		"session.backend":            c.Session.Backend,
		"session.inactivity":         c.Session.Inactivity.String(),
		"session.sweep_interval":     c.Session.SweepInterval.String(),
		"session.sweep_timeout":      c.Session.SweepTimeout.String(),
		"log.format":                 c.Log.Format,
		"log.level":                  c.Log.Level,
	}
}

var hexKey = regexp.MustCompile(`^[0-9a-fA-F]{64}$`)

// Validate reports the first problem found in c. Problems are returned as
// CONFIG_INVALID errors carrying the offending key.
func (c *Config) Validate() error {
	if c.Server.Listen == "" {
		return invalid("server.listen", "is required")
	}
	if c.Server.Cookie.Name == "" {
		return invalid("server.cookie.name", "is required")
	}
	if c.Server.RateLimit.Rate < 0 {
		return invalid("server.rate_limit.rate", "must not be negative")
	}
	if c.Server.RateLimit.Rate > 0 && c.Server.RateLimit.Burst < 1 {
		return invalid("server.rate_limit.burst", "must be at least 1")
	}
	for _, p := range c.Server.TrustedProxies {
		if !validProxy(p) {
			return invalid("server.trusted_proxies", fmt.Sprintf("%q is not an address or CIDR prefix", p))
		}
	}
	if c.Database.URL == "" {
		return invalid("database.url", "is required")
	}
	if c.Database.Name == "" {
		return invalid("database.name", "is required")
	}
	if c.Database.UsersCollection == "" {
		return invalid("database.users_collection", "is required")
	}
	if !hexKey.MatchString(c.Crypto.EncryptionKey) {
		return invalid("crypto.encryption_key", "must be 64 hex characters")
	}
	switch c.Crypto.Nonce {
	case cipher.NonceSHA256, cipher.NonceHMAC:
	default:
		return invalid("crypto.nonce", fmt.Sprintf("unknown nonce source %q", c.Crypto.Nonce))
	}
	if c.Token.Secret == "" {
		return invalid("token.secret", "is required")
	}
	switch c.Session.Backend {
	case BackendPostgres, BackendMemory:
	default:
		return invalid("session.backend", fmt.Sprintf("unknown backend %q", c.Session.Backend))
	}
	for _, d := range []struct {
		key string
		val time.Duration
	}{
		{"server.shutdown_timeout", c.Server.ShutdownTimeout},
		{"token.ttl", c.Token.TTL},
		{"session.inactivity", c.Session.Inactivity},
		{"session.sweep_interval", c.Session.SweepInterval},
		{"session.sweep_timeout", c.Session.SweepTimeout},
	} {
		if d.val <= 0 {
			return invalid(d.key, "must be positive")
		}
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return invalid("log.format", fmt.Sprintf("must be json or text, got %q", c.Log.Format))
	}
	return nil
}

// ValidateDatabase checks only the settings needed to reach the database.
func (c *Config) ValidateDatabase() error {
	if c.Database.URL == "" {
		return invalid("database.url", "is required")
	}
	return nil
}

func validProxy(s string) bool {
	s = strings.TrimSpace(s)
	if strings.Contains(s, "/") {
		_, err := netip.ParsePrefix(s)
		return err == nil
	}
	_, err := netip.ParseAddr(s)
	return err == nil
}

func invalid(key, msg string) error {
	return oops.Code("CONFIG_INVALID").In("config").With("key", key).Errorf("%s %s", key, msg)
}
