// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sokoni Contributors

package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/sokoni/sokoni/internal/auth"
	"github.com/sokoni/sokoni/internal/session"
	"github.com/sokoni/sokoni/internal/users"
)

// maxBodyBytes bounds credential payloads.
const maxBodyBytes = 4 << 10

// Authenticator is the auth surface the handlers call. *auth.Service
// implements it.
type Authenticator interface {
	Register(ctx context.Context, cred users.Credential) (*users.User, error)
	Login(ctx context.Context, sess *session.Session, cred users.Credential) (*users.User, error)
	CheckAuthenticated(ctx context.Context, sess *session.Session) (string, error)
	Logout(ctx context.Context, sess *session.Session) error
}

var _ Authenticator = (*auth.Service)(nil)

// credentialRequest is the JSON body of register and login.
type credentialRequest struct {
	Password string  `json:"password" validate:"required,min=10,max=14"`
	Role     *string `json:"role,omitempty" validate:"omitempty,oneof=Buyer Seller"`
}

func (c credentialRequest) credential() users.Credential {
	cred := users.Credential{Password: c.Password}
	if c.Role != nil {
		role := users.Role(*c.Role)
		cred.Role = &role
	}
	return cred
}

type tokenResponse struct {
	Token string `json:"token"`
}

type errorResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

// Handler serves the auth routes.
type Handler struct {
	auth     Authenticator
	validate *validator.Validate
	logger   *slog.Logger
}

// NewHandler creates a Handler.
func NewHandler(a Authenticator, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &Handler{auth: a, validate: v, logger: logger}
}

// Register handles POST /api/register.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeCredential(w, r)
	if !ok {
		return
	}
	user, err := h.auth.Register(r.Context(), req.credential())
	if err != nil {
		writeOutcome(w, auth.OutcomeOf(err))
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// Login handles POST /api/login.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	sess, ok := requestSession(w, r)
	if !ok {
		return
	}
	req, ok := h.decodeCredential(w, r)
	if !ok {
		return
	}
	user, err := h.auth.Login(r.Context(), sess, req.credential())
	if err != nil {
		writeOutcome(w, auth.OutcomeOf(err))
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// IsAuthenticated handles GET /api/is_authenticated.
func (h *Handler) IsAuthenticated(w http.ResponseWriter, r *http.Request) {
	sess, ok := requestSession(w, r)
	if !ok {
		return
	}
	tok, err := h.auth.CheckAuthenticated(r.Context(), sess)
	if err != nil {
		writeOutcome(w, auth.OutcomeOf(err))
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{Token: tok})
}

// Logout handles POST /api/logout.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	sess, ok := requestSession(w, r)
	if !ok {
		return
	}
	if err := h.auth.Logout(r.Context(), sess); err != nil {
		writeOutcome(w, auth.OutcomeOf(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) decodeCredential(w http.ResponseWriter, r *http.Request) (credentialRequest, bool) {
	var req credentialRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return req, false
	}

	if err := h.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			h.logger.ErrorContext(r.Context(), "credential validation failed", "error", err)
			writeError(w, http.StatusInternalServerError, "internal")
			return req, false
		}
		fields := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			fields[fe.Field()] = fe.Tag()
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid_credential", Fields: fields})
		return req, false
	}
	return req, true
}

func requestSession(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess, ok := SessionFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusInternalServerError, "internal")
	}
	return sess, ok
}

func writeOutcome(w http.ResponseWriter, o auth.Outcome) {
	writeError(w, o.HTTPStatus(), o.String())
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, errorResponse{Error: code})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // client went away
}
