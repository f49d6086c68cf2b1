// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sokoni Contributors

// Package users stores marketplace users keyed by their encrypted password.
//
// The password ciphertext is unique across users and is the only thing
// checked at login: presenting a password whose ciphertext matches a stored
// user authenticates as that user.
package users

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/samber/oops"
)

// Domain errors. Callers match them with errors.Is.
var (
	ErrCredentialExists = errors.New("credential already exists")
	ErrNotFound         = errors.New("user not found")
	ErrWriteFailed      = errors.New("user write failed")
	ErrUnexpected       = errors.New("unexpected user store failure")
)

// Role is what a user does on the marketplace.
type Role string

// Roles.
const (
	RoleBuyer  Role = "Buyer"
	RoleSeller Role = "Seller"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleBuyer || r == RoleSeller
}

// UnmarshalJSON rejects unknown roles.
func (r *Role) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	role := Role(s)
	if !role.Valid() {
		return oops.Code("USER_ROLE_INVALID").With("role", s).Errorf("unknown role %q", s)
	}
	*r = role
	return nil
}

// User is the stored user document. Password always holds ciphertext.
type User struct {
	ID       string    `json:"_id,omitempty"`
	Password string    `json:"password"`
	Role     Role      `json:"role"`
	Created  time.Time `json:"created"`
	Modified time.Time `json:"modified"`
}

// Credential is the plaintext input to Register and Login. A nil Role means
// RoleBuyer.
type Credential struct {
	Password string
	Role     *Role
}

// RoleOrDefault returns the requested role, defaulting to RoleBuyer.
func (c Credential) RoleOrDefault() Role {
	if c.Role == nil {
		return RoleBuyer
	}
	return *c.Role
}
