// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sokoni Contributors

package auth

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/sokoni/sokoni/internal/session"
	"github.com/sokoni/sokoni/internal/token"
	"github.com/sokoni/sokoni/internal/users"
	"github.com/sokoni/sokoni/pkg/errutil"
)

// Session keys written by Login.
const (
	KeyCurrentUser = "current_user"
	KeyToken       = "jwt_token"
)

var tracer = otel.Tracer("sokoni/auth")

// UserStore registers and looks up users. *users.Store implements it.
type UserStore interface {
	Register(ctx context.Context, cred users.Credential) (*users.User, error)
	Login(ctx context.Context, cred users.Credential) (*users.User, error)
}

// TokenIssuer mints and checks bearer tokens. *token.Issuer implements it.
type TokenIssuer interface {
	Issue(ciphertext string) (string, error)
	Validate(raw string) (*token.Claims, error)
}

// Recorder receives the outcome of every operation.
type Recorder interface {
	RecordAuth(operation string, outcome Outcome)
}

var (
	_ UserStore   = (*users.Store)(nil)
	_ TokenIssuer = (*token.Issuer)(nil)
)

// Service runs the register, login and authentication-check flows. It keeps
// no state of its own between requests.
type Service struct {
	users    UserStore
	tokens   TokenIssuer
	logger   *slog.Logger
	recorder Recorder
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithRecorder sets the outcome recorder.
func WithRecorder(r Recorder) Option {
	return func(s *Service) {
		s.recorder = r
	}
}

// NewService creates a Service.
func NewService(us UserStore, tokens TokenIssuer, opts ...Option) (*Service, error) {
	if us == nil {
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("user store is required")
	}
	if tokens == nil {
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("token issuer is required")
	}
	s := &Service{users: us, tokens: tokens, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Register creates a user for cred.
func (s *Service) Register(ctx context.Context, cred users.Credential) (user *users.User, err error) {
	ctx, span := tracer.Start(ctx, "auth.register",
		trace.WithAttributes(attribute.String("user.role", string(cred.RoleOrDefault()))),
	)
	defer func() { s.finish(ctx, span, "register", user, err) }()

	user, err = s.users.Register(ctx, cred)
	if err != nil {
		return nil, oops.In("auth").With("operation", "register").Wrap(err)
	}
	return user, nil
}

// Login authenticates cred and records the user and a fresh token in sess
// with one save. A token or session failure fails the login even though the
// credential was valid, and leaves sess as it was.
func (s *Service) Login(ctx context.Context, sess *session.Session, cred users.Credential) (user *users.User, err error) {
	ctx, span := tracer.Start(ctx, "auth.login")
	defer func() { s.finish(ctx, span, "login", user, err) }()

	user, err = s.users.Login(ctx, cred)
	if err != nil {
		return nil, oops.In("auth").With("operation", "login").Wrap(err)
	}

	tok, err := s.tokens.Issue(user.Password)
	if err != nil {
		return nil, internal("issue token", err)
	}
	if err := sess.SetMany(ctx, map[string]any{KeyCurrentUser: user, KeyToken: tok}); err != nil {
		return nil, internal("store session", err)
	}
	return user, nil
}

// CheckAuthenticated returns the token held by sess. A missing or no longer
// valid token is ErrUnauthenticated.
func (s *Service) CheckAuthenticated(ctx context.Context, sess *session.Session) (tok string, err error) {
	ctx, span := tracer.Start(ctx, "auth.check_authenticated")
	defer func() { s.finish(ctx, span, "check_authenticated", nil, err) }()

	tok, ok, err := session.Get[string](sess, KeyToken)
	if err != nil {
		return "", unauthenticated(err)
	}
	if !ok {
		return "", unauthenticated(nil)
	}
	if _, err := s.tokens.Validate(tok); err != nil {
		return "", unauthenticated(err)
	}
	return tok, nil
}

// Logout deletes sess.
func (s *Service) Logout(ctx context.Context, sess *session.Session) (err error) {
	ctx, span := tracer.Start(ctx, "auth.logout")
	defer func() { s.finish(ctx, span, "logout", nil, err) }()

	if err := sess.Delete(ctx); err != nil {
		return internal("delete session", err)
	}
	return nil
}

func (s *Service) finish(ctx context.Context, span trace.Span, operation string, user *users.User, err error) {
	defer span.End()

	outcome := OutcomeOf(err)
	span.SetAttributes(attribute.String("auth.outcome", outcome.String()))
	if user != nil {
		span.SetAttributes(attribute.String("user.id", user.ID))
	}
	if s.recorder != nil {
		s.recorder.RecordAuth(operation, outcome)
	}

	if outcome == Internal {
		span.RecordError(err)
		span.SetStatus(codes.Error, "internal failure")
		errutil.LogErrorContext(ctx, s.logger, "auth "+operation+" failed", err)
		return
	}
	if err != nil {
		s.logger.DebugContext(ctx, "auth "+operation+" rejected", "outcome", outcome.String())
	}
}

func internal(step string, err error) error {
	return oops.Code("AUTH_INTERNAL").
		In("auth").
		With("step", step).
		Wrap(fmt.Errorf("%w: %w", ErrInternal, err))
}

func unauthenticated(cause error) error {
	err := ErrUnauthenticated
	if cause != nil {
		err = fmt.Errorf("%w: %w", ErrUnauthenticated, cause)
	}
	return oops.Code("AUTH_UNAUTHENTICATED").In("auth").Wrap(err)
}
