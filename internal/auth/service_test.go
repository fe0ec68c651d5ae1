package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/aegis-admin/aegis-admin/internal/shared"
	"github.com/aegis-admin/aegis-admin/internal/users"
)

type memoryAuthRepo struct {
	users     map[string]users.User
	logins    map[int64]time.Time
	loginErr  error
	lookupErr error
}

func newMemoryAuthRepo() *memoryAuthRepo {
	return &memoryAuthRepo{users: make(map[string]users.User), logins: make(map[int64]time.Time)}
}

func (r *memoryAuthRepo) GetUserByEmail(_ context.Context, email string) (*users.User, error) {
	if r.lookupErr != nil {
		return nil, r.lookupErr
	}
	user, ok := r.users[email]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return &user, nil
}

func (r *memoryAuthRepo) RecordLogin(_ context.Context, userID int64, at time.Time) error {
	if r.loginErr != nil {
		return r.loginErr
	}
	r.logins[userID] = at
	return nil
}

func seedAccount(t *testing.T, repo *memoryAuthRepo, email, password string, active bool) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	repo.users[email] = users.User{
		ID:           int64(len(repo.users) + 1),
		Email:        email,
		PasswordHash: string(hash),
		IsActive:     active,
	}
}

func TestAuthenticate(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryAuthRepo()
	seedAccount(t, repo, "avery@aegis.local", "correct horse", true)
	svc := NewService(repo, nil)

	user, err := svc.Authenticate(ctx, "avery@aegis.local", "correct horse")
	require.NoError(t, err)
	require.Equal(t, "avery@aegis.local", user.Email)
	require.Contains(t, repo.logins, user.ID)
}

func TestAuthenticateFailureModesAreUniform(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryAuthRepo()
	seedAccount(t, repo, "avery@aegis.local", "correct horse", true)
	seedAccount(t, repo, "disabled@aegis.local", "correct horse", false)
	svc := NewService(repo, nil)

	// Unknown account, wrong password and disabled account must be
	// indistinguishable to the caller.
	_, err := svc.Authenticate(ctx, "nobody@aegis.local", "correct horse")
	require.ErrorIs(t, err, shared.ErrInvalidCredentials)

	_, err = svc.Authenticate(ctx, "avery@aegis.local", "wrong")
	require.ErrorIs(t, err, shared.ErrInvalidCredentials)

	_, err = svc.Authenticate(ctx, "disabled@aegis.local", "correct horse")
	require.ErrorIs(t, err, shared.ErrInvalidCredentials)
}

func TestAuthenticateRepoErrorPassesThrough(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryAuthRepo()
	repo.lookupErr = errors.New("db down")
	svc := NewService(repo, nil)

	_, err := svc.Authenticate(ctx, "avery@aegis.local", "correct horse")
	require.Error(t, err)
	require.NotErrorIs(t, err, shared.ErrInvalidCredentials)
}

func TestAuthenticateLoginBookkeepingBestEffort(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryAuthRepo()
	seedAccount(t, repo, "avery@aegis.local", "correct horse", true)
	repo.loginErr = errors.New("write failed")
	svc := NewService(repo, nil)

	user, err := svc.Authenticate(ctx, "avery@aegis.local", "correct horse")
	require.NoError(t, err)
	require.NotNil(t, user)
}

type recordingAuditor struct {
	actions []string
}

func (r *recordingAuditor) Record(_ context.Context, log shared.AuditLog) error {
	r.actions = append(r.actions, log.Action)
	return nil
}

func TestAuthenticateAuditsOutcomes(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryAuthRepo()
	seedAccount(t, repo, "avery@aegis.local", "correct horse", true)
	auditor := &recordingAuditor{}
	svc := NewService(repo, auditor)

	_, _ = svc.Authenticate(ctx, "avery@aegis.local", "wrong")
	_, err := svc.Authenticate(ctx, "avery@aegis.local", "correct horse")
	require.NoError(t, err)
	require.Equal(t, []string{"auth.login.failed", "auth.login.succeeded"}, auditor.actions)
}

func TestHashPassword(t *testing.T) {
	hash, err := HashPassword("secret password", bcrypt.MinCost)
	require.NoError(t, err)
	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("secret password")))

	// Non-positive cost falls back to the bcrypt default.
	hash, err = HashPassword("secret password", 0)
	require.NoError(t, err)
	cost, err := bcrypt.Cost([]byte(hash))
	require.NoError(t, err)
	require.Equal(t, bcrypt.DefaultCost, cost)
}
