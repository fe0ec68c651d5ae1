package users

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aegis-admin/aegis-admin/internal/invalidation"
	"github.com/aegis-admin/aegis-admin/internal/platform/cache"
	"github.com/aegis-admin/aegis-admin/internal/rbac"
	"github.com/aegis-admin/aegis-admin/internal/session"
	"github.com/aegis-admin/aegis-admin/internal/shared"
)

type memoryUserRepo struct {
	users    map[int64]User
	sessions map[int64][]string
}

func newMemoryUserRepo() *memoryUserRepo {
	return &memoryUserRepo{users: make(map[int64]User), sessions: make(map[int64][]string)}
}

func (r *memoryUserRepo) GetUser(_ context.Context, id int64) (*User, error) {
	user, ok := r.users[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return &user, nil
}

func (r *memoryUserRepo) GetUserByEmail(_ context.Context, email string) (*User, error) {
	for _, user := range r.users {
		if user.Email == email {
			user := user
			return &user, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (r *memoryUserRepo) ListUsers(_ context.Context, _ shared.Pagination) ([]User, int, error) {
	users := make([]User, 0, len(r.users))
	for _, user := range r.users {
		users = append(users, user)
	}
	return users, len(users), nil
}

func (r *memoryUserRepo) CreateUser(_ context.Context, user User) (*User, error) {
	for _, existing := range r.users {
		if existing.Email == user.Email {
			return nil, shared.ErrConflict
		}
	}
	user.ID = int64(len(r.users) + 1)
	r.users[user.ID] = user
	return &user, nil
}

func (r *memoryUserRepo) SetRole(_ context.Context, userID int64, roleID *int64, assignedBy int64) error {
	user, ok := r.users[userID]
	if !ok {
		return shared.ErrNotFound
	}
	user.RoleID = roleID
	user.RoleAssignedBy = &assignedBy
	user.TokenVersion++
	r.users[userID] = user
	return nil
}

func (r *memoryUserRepo) SetActive(_ context.Context, userID int64, active bool) error {
	user, ok := r.users[userID]
	if !ok {
		return shared.ErrNotFound
	}
	user.IsActive = active
	r.users[userID] = user
	return nil
}

func (r *memoryUserRepo) RecordLogin(_ context.Context, userID int64, at time.Time) error {
	user, ok := r.users[userID]
	if !ok {
		return shared.ErrNotFound
	}
	user.LastLoginAt = &at
	r.users[userID] = user
	return nil
}

func (r *memoryUserRepo) DeleteUser(_ context.Context, userID, _ int64) ([]string, error) {
	if _, ok := r.users[userID]; !ok {
		return nil, shared.ErrNotFound
	}
	tokens := r.sessions[userID]
	delete(r.sessions, userID)
	delete(r.users, userID)
	return tokens, nil
}

var _ Repository = (*memoryUserRepo)(nil)

type stubRoleDirectory struct {
	roles map[int64]rbac.Role
}

func (s stubRoleDirectory) GetRole(_ context.Context, id int64) (*rbac.Role, error) {
	role, ok := s.roles[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return &role, nil
}

type userScopedInvalidator struct {
	users  []int64
	tokens []string
}

func (r *userScopedInvalidator) InvalidateUserScoped(_ context.Context, userID int64) {
	r.users = append(r.users, userID)
}

func (r *userScopedInvalidator) InvalidateSessionTokens(_ context.Context, tokens ...string) {
	r.tokens = append(r.tokens, tokens...)
}

const (
	roleApexID   = int64(1)
	roleAdminID  = int64(2)
	roleEditorID = int64(3)
	roleMemberID = int64(4)
)

func newUsersFixture(t *testing.T) (*Service, *memoryUserRepo, *userScopedInvalidator) {
	t.Helper()
	repo := newMemoryUserRepo()
	roles := stubRoleDirectory{roles: map[int64]rbac.Role{
		roleApexID:   {ID: roleApexID, Name: rbac.RoleSuperAdmin, Power: 100, IsActive: true, IsProtected: true},
		roleAdminID:  {ID: roleAdminID, Name: rbac.RoleAdmin, Power: 80, IsActive: true, IsProtected: true},
		roleEditorID: {ID: roleEditorID, Name: "editor", Power: 40, IsActive: true},
		roleMemberID: {ID: roleMemberID, Name: rbac.RoleMember, Power: 10, IsActive: true, IsProtected: true},
	}}
	inv := &userScopedInvalidator{}
	return NewService(repo, roles, inv, nil, nil), repo, inv
}

func seedUser(repo *memoryUserRepo, id int64, roleID *int64) {
	repo.users[id] = User{ID: id, Email: "user@aegis.local", IsActive: true, RoleID: roleID, TokenVersion: 1}
}

func ref(v int64) *int64 { return &v }

func admin() *shared.Actor {
	return &shared.Actor{UserID: 1, RoleName: rbac.RoleAdmin, Power: 80}
}

func apex() *shared.Actor {
	return &shared.Actor{UserID: 2, RoleName: rbac.RoleSuperAdmin, Power: 100}
}

func TestAssignRole(t *testing.T) {
	ctx := context.Background()
	svc, repo, inv := newUsersFixture(t)
	seedUser(repo, 7, ref(roleMemberID))

	require.NoError(t, svc.AssignRole(ctx, admin(), 7, ref(roleEditorID)))

	user := repo.users[7]
	require.Equal(t, roleEditorID, *user.RoleID)
	// Role changes bump the token version so stale snapshots can be detected.
	require.Equal(t, 2, user.TokenVersion)
	require.Equal(t, []int64{7}, inv.users)
}

func TestAssignRoleClearsWithNil(t *testing.T) {
	ctx := context.Background()
	svc, repo, _ := newUsersFixture(t)
	seedUser(repo, 7, ref(roleEditorID))

	require.NoError(t, svc.AssignRole(ctx, admin(), 7, nil))
	require.Nil(t, repo.users[7].RoleID)
}

func TestAssignRoleRequiresSeniorityOverCurrentRole(t *testing.T) {
	ctx := context.Background()
	svc, repo, _ := newUsersFixture(t)
	seedUser(repo, 7, ref(roleAdminID)) // same power as the actor

	err := svc.AssignRole(ctx, admin(), 7, ref(roleEditorID))
	require.ErrorIs(t, err, shared.ErrForbidden)
}

func TestAssignRoleRequiresSeniorityOverNewRole(t *testing.T) {
	ctx := context.Background()
	svc, repo, _ := newUsersFixture(t)
	seedUser(repo, 7, ref(roleMemberID))

	err := svc.AssignRole(ctx, admin(), 7, ref(roleAdminID))
	require.ErrorIs(t, err, shared.ErrForbidden)
}

func TestAssignRoleNeverHandsOutApex(t *testing.T) {
	ctx := context.Background()
	svc, repo, _ := newUsersFixture(t)
	seedUser(repo, 7, ref(roleMemberID))

	err := svc.AssignRole(ctx, apex(), 7, ref(roleApexID))
	require.ErrorIs(t, err, shared.ErrForbidden)
}

func TestAssignRoleApexBypassesHierarchy(t *testing.T) {
	ctx := context.Background()
	svc, repo, _ := newUsersFixture(t)
	seedUser(repo, 7, ref(roleAdminID))

	require.NoError(t, svc.AssignRole(ctx, apex(), 7, ref(roleEditorID)))
	require.Equal(t, roleEditorID, *repo.users[7].RoleID)
}

func TestAssignRoleUnknownTargets(t *testing.T) {
	ctx := context.Background()
	svc, repo, _ := newUsersFixture(t)
	seedUser(repo, 7, ref(roleMemberID))

	require.ErrorIs(t, svc.AssignRole(ctx, admin(), 404, ref(roleEditorID)), shared.ErrNotFound)
	require.ErrorIs(t, svc.AssignRole(ctx, admin(), 7, ref(404)), shared.ErrNotFound)
}

func TestSetActive(t *testing.T) {
	ctx := context.Background()
	svc, repo, inv := newUsersFixture(t)
	seedUser(repo, 7, ref(roleMemberID))

	require.NoError(t, svc.SetActive(ctx, admin(), 7, false))
	require.False(t, repo.users[7].IsActive)
	require.Equal(t, []int64{7}, inv.users)

	seedUser(repo, 8, ref(roleAdminID))
	require.ErrorIs(t, svc.SetActive(ctx, admin(), 8, false), shared.ErrForbidden)
}

func TestDeleteUser(t *testing.T) {
	ctx := context.Background()
	svc, repo, inv := newUsersFixture(t)
	seedUser(repo, 7, ref(roleMemberID))
	repo.sessions[7] = []string{"tok-7a", "tok-7b"}

	require.NoError(t, svc.Delete(ctx, admin(), 7))
	require.NotContains(t, repo.users, int64(7))
	// The session rows are gone, so the purge must name the exact tokens.
	require.Equal(t, []string{"tok-7a", "tok-7b"}, inv.tokens)
}

func TestDeleteUserPurgesCachedSessions(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryUserRepo()
	roles := stubRoleDirectory{roles: map[int64]rbac.Role{
		roleMemberID: {ID: roleMemberID, Name: rbac.RoleMember, Power: 10, IsActive: true, IsProtected: true},
	}}
	sessCache := session.NewCache(cache.NewMemory(), time.Minute)
	coord := invalidation.NewCoordinator(sessCache, nil, nil, nil)
	svc := NewService(repo, roles, coord, nil, nil)

	seedUser(repo, 7, ref(roleMemberID))
	repo.sessions[7] = []string{"tok-7a"}
	sessCache.Set(ctx, &session.Resolved{Token: "tok-7a", UserID: 7, ExpiresAt: time.Now().Add(time.Hour)})

	require.NoError(t, svc.Delete(ctx, admin(), 7))

	// A cached resolution surviving the delete would keep authorizing the
	// deleted user until the cache TTL ran out.
	_, ok := sessCache.Get(ctx, "tok-7a")
	require.False(t, ok)
}

func TestDeleteUserSelf(t *testing.T) {
	ctx := context.Background()
	svc, repo, _ := newUsersFixture(t)
	actor := admin()
	seedUser(repo, actor.UserID, ref(roleAdminID))

	require.ErrorIs(t, svc.Delete(ctx, actor, actor.UserID), shared.ErrValidation)
}

func TestDeleteUserRequiresSeniority(t *testing.T) {
	ctx := context.Background()
	svc, repo, _ := newUsersFixture(t)
	seedUser(repo, 7, ref(roleApexID))

	require.ErrorIs(t, svc.Delete(ctx, admin(), 7), shared.ErrForbidden)
}

func TestRoleOfRolelessUserIsLeastPrivileged(t *testing.T) {
	ctx := context.Background()
	svc, repo, _ := newUsersFixture(t)
	seedUser(repo, 7, nil)

	// Even the weakest real role outranks the zero sentinel.
	actor := &shared.Actor{UserID: 1, RoleName: rbac.RoleMember, Power: 10}
	require.NoError(t, svc.SetActive(ctx, actor, 7, false))
}
