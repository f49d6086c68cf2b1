// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sokoni Contributors

// Package auth composes the user store, the token issuer and the session
// store into the register, login and authentication-check flows.
//
// # Outcomes
//
// Every error returned by Service classifies into exactly one Outcome via
// OutcomeOf. Boundary layers map outcomes to status codes and never inspect
// the underlying error, so cryptographic and storage failure details do not
// leak to clients.
//
// # Session keys
//
// A successful Login stores the user under KeyCurrentUser and the bearer
// token under KeyToken. CheckAuthenticated reads KeyToken back and requires
// the token to still validate.
package auth
