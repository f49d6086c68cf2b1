// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sokoni Contributors

package auth

import (
	"errors"
	"net/http"

	"github.com/sokoni/sokoni/internal/users"
)

// Errors produced by Service in addition to the users domain errors.
var (
	ErrUnauthenticated = errors.New("not authenticated")
	ErrInternal        = errors.New("internal failure")
)

// Outcome is the coarse result class of an auth operation.
type Outcome int

// Outcomes.
const (
	OK Outcome = iota
	Conflict
	NotFound
	Unauthenticated
	Internal
)

var outcomeNames = [...]string{
	OK:              "ok",
	Conflict:        "conflict",
	NotFound:        "not_found",
	Unauthenticated: "unauthenticated",
	Internal:        "internal",
}

func (o Outcome) String() string {
	if o < 0 || int(o) >= len(outcomeNames) {
		return "unknown"
	}
	return outcomeNames[o]
}

// HTTPStatus returns the status code a boundary layer reports for o.
func (o Outcome) HTTPStatus() int {
	switch o {
	case OK:
		return http.StatusOK
	case Conflict:
		return http.StatusConflict
	case NotFound:
		return http.StatusNotFound
	case Unauthenticated:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// OutcomeOf classifies err. Anything not recognized is Internal.
func OutcomeOf(err error) Outcome {
	switch {
	case err == nil:
		return OK
	case errors.Is(err, ErrInternal):
		return Internal
	case errors.Is(err, users.ErrCredentialExists):
		return Conflict
	case errors.Is(err, users.ErrNotFound):
		return NotFound
	case errors.Is(err, ErrUnauthenticated):
		return Unauthenticated
	default:
		return Internal
	}
}
