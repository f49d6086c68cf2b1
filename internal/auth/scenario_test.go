// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sokoni Contributors

package auth_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sokoni/sokoni/internal/auth"
	"github.com/sokoni/sokoni/internal/cipher"
	"github.com/sokoni/sokoni/internal/docstore"
	"github.com/sokoni/sokoni/internal/session"
	"github.com/sokoni/sokoni/internal/token"
	"github.com/sokoni/sokoni/internal/users"
)

// memoryCollection enforces the unique password index the way Postgres
// reports it.
type memoryCollection struct {
	mu   sync.Mutex
	byID map[string]users.User
}

func newMemoryCollection() *memoryCollection {
	return &memoryCollection{byID: make(map[string]users.User)}
}

func (c *memoryCollection) Create(_ context.Context, u users.User) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, existing := range c.byID {
		if existing.Password == u.Password {
			return "", &pgconn.PgError{Code: pgerrcode.UniqueViolation, ConstraintName: "base_users_password_key"}
		}
	}
	u.ID = ulid.Make().String()
	c.byID[u.ID] = u
	return u.ID, nil
}

func (c *memoryCollection) GetByID(_ context.Context, id string) (*users.User, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	u, ok := c.byID[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (c *memoryCollection) FindOne(_ context.Context, filter docstore.Filter) (*users.User, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, u := range c.byID {
		if u.Password == filter[users.PasswordField] {
			return &u, nil
		}
	}
	return nil, nil
}

func (c *memoryCollection) CreateUniqueIndex(context.Context, ...string) error {
	return nil
}

func TestRegisterLoginCheckScenario(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()

	key, err := cipher.ParseKey("000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f")
	require.NoError(t, err)
	aead, err := cipher.New(key)
	require.NoError(t, err)

	userStore, err := users.NewStore(ctx, newMemoryCollection(), aead, users.WithClock(clock.Now))
	require.NoError(t, err)
	issuer := token.NewIssuer("jwt-passcode", token.WithClock(clock.Now))
	backend := session.NewMemoryBackend()
	sessions := session.NewStore(backend, session.WithClock(clock.Now))

	svc, err := auth.NewService(userStore, issuer)
	require.NoError(t, err)

	buyer := users.RoleBuyer
	cred := users.Credential{Password: "+255712345678", Role: &buyer}

	user, err := svc.Register(ctx, cred)
	require.NoError(t, err)
	assert.Equal(t, users.RoleBuyer, user.Role)
	assert.NotEqual(t, cred.Password, user.Password)
	plain, err := aead.Decrypt(user.Password)
	require.NoError(t, err)
	assert.Equal(t, cred.Password, plain)

	_, err = svc.Register(ctx, cred)
	assert.Equal(t, auth.Conflict, auth.OutcomeOf(err))

	sess, err := sessions.Load(ctx, "")
	require.NoError(t, err)
	loggedIn, err := svc.Login(ctx, sess, users.Credential{Password: cred.Password})
	require.NoError(t, err)
	assert.Equal(t, user.ID, loggedIn.ID)

	_, err = svc.Login(ctx, sess, users.Credential{Password: "+255700000000"})
	assert.Equal(t, auth.NotFound, auth.OutcomeOf(err))

	clock.Advance(30 * time.Second)
	reloaded, err := sessions.Load(ctx, sess.ID())
	require.NoError(t, err)
	_, err = svc.CheckAuthenticated(ctx, reloaded)
	require.NoError(t, err)

	clock.Advance(31 * time.Second)
	_, err = svc.CheckAuthenticated(ctx, reloaded)
	assert.Equal(t, auth.Unauthenticated, auth.OutcomeOf(err), "token expired")

	// Log in again, then let the session lapse and sweep it.
	_, err = svc.Login(ctx, reloaded, users.Credential{Password: cred.Password})
	require.NoError(t, err)
	clock.Advance(time.Hour + time.Minute)
	n, err := sessions.DeleteExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	after, err := sessions.Load(ctx, reloaded.ID())
	require.NoError(t, err)
	assert.True(t, after.IsNew())
	_, err = svc.CheckAuthenticated(ctx, after)
	assert.Equal(t, auth.Unauthenticated, auth.OutcomeOf(err), "session swept")
}

func TestConcurrentDuplicateRegistration(t *testing.T) {
	ctx := context.Background()
	key, err := cipher.ParseKey("1f1e1d1c1b1a191817161514131211100f0e0d0c0b0a09080706050403020100")
	require.NoError(t, err)
	aead, err := cipher.New(key)
	require.NoError(t, err)
	userStore, err := users.NewStore(ctx, newMemoryCollection(), aead)
	require.NoError(t, err)
	svc, err := auth.NewService(userStore, token.NewIssuer("s"))
	require.NoError(t, err)

	const writers = 8
	outcomes := make(chan auth.Outcome, writers)
	var wg sync.WaitGroup
	for range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Register(ctx, users.Credential{Password: "0712345678"})
			outcomes <- auth.OutcomeOf(err)
		}()
	}
	wg.Wait()
	close(outcomes)

	counts := map[auth.Outcome]int{}
	for o := range outcomes {
		counts[o]++
	}
	assert.Equal(t, 1, counts[auth.OK])
	assert.Equal(t, writers-1, counts[auth.Conflict])
}
