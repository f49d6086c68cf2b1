// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sokoni Contributors

// Package token issues and validates the short-lived bearer tokens handed out
// at login. A token carries the user's password ciphertext and an expiry; it
// is a liveness proof layered on the session, not the primary credential.
package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/samber/oops"
)

// DefaultTTL is how long an issued token stays valid.
const DefaultTTL = time.Minute

// Errors returned by Issue and Validate. Validation failures are not broken
// down further: expired, malformed and forged tokens all yield ErrValidate.
var (
	ErrIssue    = errors.New("token issue failed")
	ErrValidate = errors.New("token invalid")
)

// Claims is the token payload. Only password and exp are ever set.
type Claims struct {
	Password string `json:"password"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies HS256 tokens with a process-wide secret.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// Option configures an Issuer.
type Option func(*Issuer)

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(i *Issuer) {
		if ttl > 0 {
			i.ttl = ttl
		}
	}
}

// WithClock overrides the clock used for both issuing and validation.
func WithClock(now func() time.Time) Option {
	return func(i *Issuer) {
		if now != nil {
			i.now = now
		}
	}
}

// NewIssuer creates an Issuer. An empty secret is accepted here so that the
// failure surfaces from Issue, where callers already handle ErrIssue.
func NewIssuer(secret string, opts ...Option) *Issuer {
	i := &Issuer{
		secret: []byte(secret),
		ttl:    DefaultTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// TTL returns the token lifetime.
func (i *Issuer) TTL() time.Duration {
	return i.ttl
}

// Issue signs a token for the password ciphertext.
func (i *Issuer) Issue(ciphertext string) (string, error) {
	if len(i.secret) == 0 {
		return "", oops.Code("TOKEN_ISSUE_FAILED").
			In("token").
			Wrapf(ErrIssue, "signing secret not configured")
	}

	claims := Claims{
		Password: ciphertext,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(i.now().Add(i.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", oops.Code("TOKEN_ISSUE_FAILED").
			In("token").
			Wrap(errors.Join(ErrIssue, err))
	}
	return signed, nil
}

// Validate verifies the signature and expiry of raw and returns its claims.
func (i *Issuer) Validate(raw string) (*Claims, error) {
	if len(i.secret) == 0 {
		return nil, ErrValidate
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(raw, claims,
		func(*jwt.Token) (any, error) { return i.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil || !parsed.Valid {
		return nil, ErrValidate
	}
	return claims, nil
}
