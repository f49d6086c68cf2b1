// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sokoni Contributors

package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/samber/oops"

	"github.com/sokoni/sokoni/internal/cipher"
	"github.com/sokoni/sokoni/internal/docstore"
)

// PasswordField is the document key holding the password ciphertext.
const PasswordField = "password"

// Collection is the document storage the Store needs.
// *docstore.Repository[User] implements it.
type Collection interface {
	Create(ctx context.Context, item User) (string, error)
	GetByID(ctx context.Context, id string) (*User, error)
	FindOne(ctx context.Context, filter docstore.Filter) (*User, error)
	CreateUniqueIndex(ctx context.Context, fields ...string) error
}

var _ Collection = (*docstore.Repository[User])(nil)

// Store registers and authenticates users.
type Store struct {
	coll   Collection
	cipher cipher.Cipher
	now    func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the clock used for created/modified timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore creates a Store over coll and asserts the unique password index.
func NewStore(ctx context.Context, coll Collection, c cipher.Cipher, opts ...Option) (*Store, error) {
	if coll == nil || c == nil {
		return nil, oops.Code("USER_STORE_INVALID").Errorf("collection and cipher are required")
	}

	s := &Store{coll: coll, cipher: c, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}

	if err := coll.CreateUniqueIndex(ctx, PasswordField); err != nil {
		return nil, oops.Code("USER_INDEX_FAILED").
			With("field", PasswordField).
			Wrap(err)
	}
	return s, nil
}

// Open binds a Store to database.collection on pool.
func Open(ctx context.Context, pool docstore.Pool, database, collection string, c cipher.Cipher, opts ...Option) (*Store, error) {
	repo, err := docstore.New[User](ctx, pool, database, collection)
	if err != nil {
		return nil, oops.Code("USER_STORE_OPEN_FAILED").
			With("collection", collection).
			Wrap(err)
	}
	return NewStore(ctx, repo, c, opts...)
}

// Register stores a new user for cred and returns it as stored.
func (s *Store) Register(ctx context.Context, cred Credential) (*User, error) {
	if err := checkCredential(cred); err != nil {
		return nil, domainError("register", ErrUnexpected, err)
	}

	now := s.now().UTC()
	user := User{
		Password: s.cipher.Encrypt(cred.Password),
		Role:     cred.RoleOrDefault(),
		Created:  now,
		Modified: now,
	}

	id, err := s.coll.Create(ctx, user)
	if err != nil {
		return nil, domainError("register", classifyWrite(err), err)
	}

	stored, err := s.coll.GetByID(ctx, id)
	if err != nil {
		return nil, domainError("register", ErrUnexpected, err)
	}
	if stored == nil {
		return nil, domainError("register", ErrUnexpected,
			oops.With("id", id).Errorf("user missing after insert"))
	}
	return stored, nil
}

// Login returns the user whose stored ciphertext matches cred's password.
func (s *Store) Login(ctx context.Context, cred Credential) (*User, error) {
	if err := checkCredential(cred); err != nil {
		return nil, domainError("login", ErrUnexpected, err)
	}

	user, err := s.coll.FindOne(ctx, docstore.Filter{PasswordField: s.cipher.Encrypt(cred.Password)})
	if err != nil {
		return nil, domainError("login", ErrUnexpected, err)
	}
	if user == nil {
		return nil, domainError("login", ErrNotFound, nil)
	}
	return user, nil
}

// Get returns the user with id.
func (s *Store) Get(ctx context.Context, id string) (*User, error) {
	user, err := s.coll.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, docstore.ErrInvalidID) {
			return nil, domainError("get", ErrNotFound, err)
		}
		return nil, domainError("get", ErrUnexpected, err)
	}
	if user == nil {
		return nil, domainError("get", ErrNotFound, nil)
	}
	return user, nil
}

func checkCredential(cred Credential) error {
	if cred.Password == "" {
		return oops.Errorf("empty password")
	}
	if role := cred.RoleOrDefault(); !role.Valid() {
		return oops.With("role", string(role)).Errorf("unknown role")
	}
	return nil
}

// classifyWrite maps a failed insert to a domain error. Unique violations
// mean the credential exists; other server-reported errors are write
// failures; anything else (connectivity, encoding) is unexpected.
func classifyWrite(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return ErrUnexpected
	}
	if pgErr.Code == pgerrcode.UniqueViolation {
		return ErrCredentialExists
	}
	return ErrWriteFailed
}

var codes = map[error]string{
	ErrCredentialExists: "USER_CREDENTIAL_EXISTS",
	ErrNotFound:         "USER_NOT_FOUND",
	ErrWriteFailed:      "USER_WRITE_FAILED",
	ErrUnexpected:       "USER_UNEXPECTED",
}

func domainError(operation string, kind, cause error) error {
	err := kind
	if cause != nil {
		err = fmt.Errorf("%w: %w", kind, cause)
	}
	return oops.Code(codes[kind]).
		In("users").
		With("operation", operation).
		Wrap(err)
}
