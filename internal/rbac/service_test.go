package rbac

import (
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aegis-admin/aegis-admin/internal/shared"
)

type memoryRBACRepo struct {
	roles      map[int64]Role
	perms      map[string]Permission
	grants     map[string][]RolePermission
	members    map[int64][]int64
	reassigned map[int64]int64
	nextID     int64
	txErr      error
}

func newMemoryRBACRepo() *memoryRBACRepo {
	return &memoryRBACRepo{
		roles:      make(map[int64]Role),
		perms:      make(map[string]Permission),
		grants:     make(map[string][]RolePermission),
		members:    make(map[int64][]int64),
		reassigned: make(map[int64]int64),
	}
}

func (r *memoryRBACRepo) addRole(role Role) Role {
	r.nextID++
	role.ID = r.nextID
	r.roles[role.ID] = role
	return role
}

func (r *memoryRBACRepo) addPermission(name, category, action string) {
	r.perms[name] = Permission{ID: int64(len(r.perms) + 1), Name: name, Category: category, Action: action, IsActive: true}
}

func (r *memoryRBACRepo) GetRole(_ context.Context, id int64) (*Role, error) {
	role, ok := r.roles[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return &role, nil
}

func (r *memoryRBACRepo) GetRoleByName(_ context.Context, name string) (*Role, error) {
	for _, role := range r.roles {
		if role.Name == name {
			role := role
			return &role, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (r *memoryRBACRepo) ListRoles(_ context.Context) ([]Role, error) {
	roles := make([]Role, 0, len(r.roles))
	for _, role := range r.roles {
		roles = append(roles, role)
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i].Power > roles[j].Power })
	return roles, nil
}

func (r *memoryRBACRepo) CreateRole(_ context.Context, role Role) (*Role, error) {
	for _, existing := range r.roles {
		if existing.Name == role.Name {
			return nil, shared.ErrConflict
		}
	}
	created := r.addRole(role)
	return &created, nil
}

func (r *memoryRBACRepo) UpdateRole(_ context.Context, id int64, displayName string, isActive bool) (*Role, error) {
	role, ok := r.roles[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	role.DisplayName = displayName
	role.IsActive = isActive
	r.roles[id] = role
	return &role, nil
}

func (r *memoryRBACRepo) ListPermissions(_ context.Context, filter PermissionFilter) ([]Permission, int, error) {
	var perms []Permission
	for _, perm := range r.perms {
		if filter.Category != "" && perm.Category != filter.Category {
			continue
		}
		perms = append(perms, perm)
	}
	sort.Slice(perms, func(i, j int) bool { return perms[i].Name < perms[j].Name })
	return perms, len(perms), nil
}

func (r *memoryRBACRepo) PermissionsByNames(_ context.Context, names []string) ([]Permission, error) {
	var perms []Permission
	for _, name := range names {
		if perm, ok := r.perms[name]; ok && perm.IsActive {
			perms = append(perms, perm)
		}
	}
	return perms, nil
}

func (r *memoryRBACRepo) EffectivePermissions(_ context.Context, roleName string) ([]string, error) {
	var names []string
	for _, grant := range r.grants[roleName] {
		if grant.IsAllowed && grant.IsActive {
			names = append(names, grant.PermissionName)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (r *memoryRBACRepo) RoleMemberIDs(_ context.Context, roleID int64) ([]int64, error) {
	return append([]int64(nil), r.members[roleID]...), nil
}

func (r *memoryRBACRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r.txErr != nil {
		return r.txErr
	}
	return fn(ctx, &memoryRBACTx{repo: r})
}

type memoryRBACTx struct {
	repo *memoryRBACRepo
}

func (tx *memoryRBACTx) DeleteRolePermissions(_ context.Context, roleName string) error {
	delete(tx.repo.grants, roleName)
	return nil
}

func (tx *memoryRBACTx) InsertRolePermissions(_ context.Context, rows []RolePermission) error {
	for _, row := range rows {
		tx.repo.grants[row.RoleName] = append(tx.repo.grants[row.RoleName], row)
	}
	return nil
}

func (tx *memoryRBACTx) ReassignMember(_ context.Context, userID, roleID, _ int64) error {
	tx.repo.reassigned[userID] = roleID
	return nil
}

func (tx *memoryRBACTx) DeleteRole(_ context.Context, roleID int64) error {
	role, ok := tx.repo.roles[roleID]
	if !ok || role.IsProtected {
		return shared.ErrNotFound
	}
	delete(tx.repo.roles, roleID)
	return nil
}

var _ Repository = (*memoryRBACRepo)(nil)

type recordingInvalidator struct {
	all         int
	users       []int64
	permissions int
}

func (r *recordingInvalidator) InvalidateAll(context.Context) { r.all++ }

func (r *recordingInvalidator) InvalidateUserScoped(_ context.Context, id int64) {
	r.users = append(r.users, id)
}

func (r *recordingInvalidator) InvalidatePermissionScoped(context.Context) { r.permissions++ }

func adminActor(perms ...string) *shared.Actor {
	set := make(map[string]struct{}, len(perms))
	for _, p := range perms {
		set[p] = struct{}{}
	}
	return &shared.Actor{UserID: 1, RoleName: RoleAdmin, Power: 80, Permissions: set}
}

func apexActor() *shared.Actor {
	return &shared.Actor{UserID: 99, RoleName: RoleSuperAdmin, Power: 100}
}

func newRBACFixture(t *testing.T) (*Service, *memoryRBACRepo, *recordingInvalidator) {
	t.Helper()
	repo := newMemoryRBACRepo()
	repo.addRole(Role{Name: RoleSuperAdmin, Power: 100, IsActive: true, IsProtected: true})
	repo.addRole(Role{Name: RoleAdmin, Power: 80, IsActive: true, IsProtected: true})
	repo.addRole(Role{Name: "editor", Power: 40, IsActive: true})
	repo.addRole(Role{Name: RoleMember, Power: 10, IsActive: true, IsProtected: true})
	repo.addPermission("content.posts.edit", CategoryContent, ActionEdit)
	repo.addPermission("content.posts.delete", CategoryContent, ActionDelete)
	repo.addPermission(PermUsersView, CategoryUsers, ActionView)
	inv := &recordingInvalidator{}
	return NewService(repo, nil, inv, nil, nil), repo, inv
}

func editorID(t *testing.T, repo *memoryRBACRepo) int64 {
	t.Helper()
	role, err := repo.GetRoleByName(context.Background(), "editor")
	require.NoError(t, err)
	return role.ID
}

func TestReplaceRolePermissionsFiltersUnheld(t *testing.T) {
	ctx := context.Background()
	svc, repo, inv := newRBACFixture(t)
	actor := adminActor("content.posts.edit")

	result, err := svc.ReplaceRolePermissions(ctx, actor, editorID(t, repo), []string{
		"content.posts.edit",
		"content.posts.delete", // not held by the actor
	})
	require.NoError(t, err)
	require.Equal(t, 1, result.Applied)
	require.Equal(t, []string{"content.posts.delete"}, result.Filtered)

	grants := repo.grants["editor"]
	require.Len(t, grants, 1)
	require.Equal(t, "content.posts.edit", grants[0].PermissionName)
	require.True(t, grants[0].IsAllowed)
	require.True(t, grants[0].IsActive)
	require.Equal(t, actor.UserID, grants[0].GrantedBy)
	require.Equal(t, 1, inv.permissions)
}

func TestReplaceRolePermissionsDropsUnknownNames(t *testing.T) {
	ctx := context.Background()
	svc, repo, _ := newRBACFixture(t)

	result, err := svc.ReplaceRolePermissions(ctx, apexActor(), editorID(t, repo), []string{
		"content.posts.edit",
		"content.posts.made_up",
	})
	require.NoError(t, err)
	require.Equal(t, 1, result.Applied)
	require.Equal(t, []string{"content.posts.made_up"}, result.Filtered)
}

func TestReplaceRolePermissionsDeduplicates(t *testing.T) {
	ctx := context.Background()
	svc, repo, _ := newRBACFixture(t)

	result, err := svc.ReplaceRolePermissions(ctx, apexActor(), editorID(t, repo), []string{
		"content.posts.edit", "content.posts.edit", " content.posts.edit ",
	})
	require.NoError(t, err)
	require.Equal(t, 1, result.Applied)
	require.Len(t, repo.grants["editor"], 1)
}

func TestReplaceRolePermissionsEmptyResultIsSuccess(t *testing.T) {
	ctx := context.Background()
	svc, repo, _ := newRBACFixture(t)
	repo.grants["editor"] = []RolePermission{{RoleName: "editor", PermissionName: "content.posts.edit", IsAllowed: true, IsActive: true}}

	// The actor holds none of the requested names: everything filters out and
	// the previous set is still replaced, with nothing.
	result, err := svc.ReplaceRolePermissions(ctx, adminActor(), editorID(t, repo), []string{"content.posts.delete"})
	require.NoError(t, err)
	require.Zero(t, result.Applied)
	require.Empty(t, repo.grants["editor"])
}

func TestReplaceRolePermissionsProtectedRole(t *testing.T) {
	ctx := context.Background()
	svc, repo, _ := newRBACFixture(t)
	member, err := repo.GetRoleByName(ctx, RoleMember)
	require.NoError(t, err)

	_, err = svc.ReplaceRolePermissions(ctx, apexActor(), member.ID, []string{"content.posts.edit"})
	require.ErrorIs(t, err, shared.ErrConflict)
}

func TestReplaceRolePermissionsRequiresSeniority(t *testing.T) {
	ctx := context.Background()
	svc, repo, _ := newRBACFixture(t)
	lateral := &shared.Actor{UserID: 2, RoleName: "editor", Power: 40,
		Permissions: map[string]struct{}{"content.posts.edit": {}}}

	_, err := svc.ReplaceRolePermissions(ctx, lateral, editorID(t, repo), []string{"content.posts.edit"})
	require.ErrorIs(t, err, shared.ErrForbidden)
}

func TestReplaceRolePermissionsUnknownRole(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newRBACFixture(t)

	_, err := svc.ReplaceRolePermissions(ctx, apexActor(), 404, []string{"content.posts.edit"})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestReplaceRolePermissionsTxFailureLeavesGrants(t *testing.T) {
	ctx := context.Background()
	svc, repo, inv := newRBACFixture(t)
	repo.grants["editor"] = []RolePermission{{RoleName: "editor", PermissionName: PermUsersView, IsAllowed: true, IsActive: true}}
	repo.txErr = errors.New("connection reset")

	_, err := svc.ReplaceRolePermissions(ctx, apexActor(), editorID(t, repo), []string{"content.posts.edit"})
	require.ErrorIs(t, err, shared.ErrInternal)
	require.Len(t, repo.grants["editor"], 1)
	require.Equal(t, PermUsersView, repo.grants["editor"][0].PermissionName)
	require.Zero(t, inv.permissions)
}

func TestReplaceRolePermissionsInvalidatesMembers(t *testing.T) {
	ctx := context.Background()
	svc, repo, inv := newRBACFixture(t)
	id := editorID(t, repo)
	repo.members[id] = []int64{7, 8}

	_, err := svc.ReplaceRolePermissions(ctx, apexActor(), id, []string{"content.posts.edit"})
	require.NoError(t, err)
	require.ElementsMatch(t, []int64{7, 8}, inv.users)
}

func TestDeleteRoleMigratesMembers(t *testing.T) {
	ctx := context.Background()
	svc, repo, inv := newRBACFixture(t)
	id := editorID(t, repo)
	member, err := repo.GetRoleByName(ctx, RoleMember)
	require.NoError(t, err)
	admin, err := repo.GetRoleByName(ctx, RoleAdmin)
	require.NoError(t, err)
	repo.members[id] = []int64{7, 8, 9}
	repo.grants["editor"] = []RolePermission{{RoleName: "editor", PermissionName: "content.posts.edit", IsAllowed: true, IsActive: true}}

	result, err := svc.DeleteRole(ctx, apexActor(), id, TransferPlan{
		PerUser: map[int64]int64{9: admin.ID},
	})
	require.NoError(t, err)
	require.Equal(t, 3, result.Transferred)

	// Unlisted members fall back to the system default role.
	require.Equal(t, member.ID, repo.reassigned[7])
	require.Equal(t, member.ID, repo.reassigned[8])
	require.Equal(t, admin.ID, repo.reassigned[9])

	_, err = repo.GetRole(ctx, id)
	require.ErrorIs(t, err, shared.ErrNotFound)
	require.Empty(t, repo.grants["editor"])
	require.Equal(t, 1, inv.all)
}

func TestDeleteRoleProtected(t *testing.T) {
	ctx := context.Background()
	svc, repo, _ := newRBACFixture(t)
	member, err := repo.GetRoleByName(ctx, RoleMember)
	require.NoError(t, err)

	_, err = svc.DeleteRole(ctx, apexActor(), member.ID, TransferPlan{})
	require.ErrorIs(t, err, shared.ErrConflict)
}

func TestDeleteRoleRequiresSeniority(t *testing.T) {
	ctx := context.Background()
	svc, repo, _ := newRBACFixture(t)
	lateral := &shared.Actor{UserID: 2, RoleName: "editor", Power: 40}

	_, err := svc.DeleteRole(ctx, lateral, editorID(t, repo), TransferPlan{})
	require.ErrorIs(t, err, shared.ErrForbidden)
}

func TestDeleteRoleRejectsSelfTransfer(t *testing.T) {
	ctx := context.Background()
	svc, repo, _ := newRBACFixture(t)
	id := editorID(t, repo)
	repo.members[id] = []int64{7}

	_, err := svc.DeleteRole(ctx, apexActor(), id, TransferPlan{DefaultRoleID: id})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestDeleteRoleTargetAboveActor(t *testing.T) {
	ctx := context.Background()
	svc, repo, _ := newRBACFixture(t)
	junior := repo.addRole(Role{Name: "intern", Power: 5, IsActive: true})
	admin, err := repo.GetRoleByName(ctx, RoleAdmin)
	require.NoError(t, err)
	repo.members[junior.ID] = []int64{7}

	// A power-40 actor cannot migrate members up into admin.
	actor := &shared.Actor{UserID: 2, RoleName: "editor", Power: 40}
	_, err = svc.DeleteRole(ctx, actor, junior.ID, TransferPlan{DefaultRoleID: admin.ID})
	require.ErrorIs(t, err, shared.ErrForbidden)
}

func TestDeleteRoleWithoutMembersNeedsNoFallback(t *testing.T) {
	ctx := context.Background()
	svc, repo, _ := newRBACFixture(t)
	id := editorID(t, repo)
	member, err := repo.GetRoleByName(ctx, RoleMember)
	require.NoError(t, err)
	delete(repo.roles, member.ID)

	result, err := svc.DeleteRole(ctx, apexActor(), id, TransferPlan{})
	require.NoError(t, err)
	require.Zero(t, result.Transferred)
	_, err = repo.GetRole(ctx, id)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestDeleteRolePerUserCoversEveryMember(t *testing.T) {
	ctx := context.Background()
	svc, repo, _ := newRBACFixture(t)
	id := editorID(t, repo)
	member, err := repo.GetRoleByName(ctx, RoleMember)
	require.NoError(t, err)
	admin, err := repo.GetRoleByName(ctx, RoleAdmin)
	require.NoError(t, err)
	delete(repo.roles, member.ID)
	repo.members[id] = []int64{7}

	result, err := svc.DeleteRole(ctx, apexActor(), id, TransferPlan{
		PerUser: map[int64]int64{7: admin.ID},
	})
	require.NoError(t, err)
	require.Equal(t, 1, result.Transferred)
	require.Equal(t, admin.ID, repo.reassigned[7])
}

func TestCreateRole(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newRBACFixture(t)

	role, err := svc.CreateRole(ctx, adminActor(), CreateRoleInput{Name: " Reviewer ", DisplayName: "Reviewer", Power: 30})
	require.NoError(t, err)
	require.Equal(t, "reviewer", role.Name)
	require.Equal(t, 30, role.Power)
	require.False(t, role.IsProtected)

	_, err = svc.CreateRole(ctx, adminActor(), CreateRoleInput{Name: "reviewer", Power: 30})
	require.ErrorIs(t, err, shared.ErrConflict)

	_, err = svc.CreateRole(ctx, adminActor(), CreateRoleInput{Name: "boss", Power: 80})
	require.ErrorIs(t, err, shared.ErrForbidden)

	_, err = svc.CreateRole(ctx, adminActor(), CreateRoleInput{Name: "", Power: 20})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.CreateRole(ctx, adminActor(), CreateRoleInput{Name: "zero", Power: 0})
	require.ErrorIs(t, err, shared.ErrValidation)

	// The apex actor may mint roles at any power.
	role, err = svc.CreateRole(ctx, apexActor(), CreateRoleInput{Name: "director", Power: 95})
	require.NoError(t, err)
	require.Equal(t, 95, role.Power)
}

func TestUpdateRoleProtected(t *testing.T) {
	ctx := context.Background()
	svc, repo, _ := newRBACFixture(t)
	admin, err := repo.GetRoleByName(ctx, RoleAdmin)
	require.NoError(t, err)

	_, err = svc.UpdateRole(ctx, adminActor(), admin.ID, UpdateRoleInput{DisplayName: "Ops", IsActive: true})
	require.ErrorIs(t, err, shared.ErrConflict)

	updated, err := svc.UpdateRole(ctx, apexActor(), admin.ID, UpdateRoleInput{DisplayName: "Ops", IsActive: true})
	require.NoError(t, err)
	require.Equal(t, "Ops", updated.DisplayName)
}

func TestListAssignableRoles(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newRBACFixture(t)

	roles, err := svc.ListAssignableRoles(ctx, adminActor())
	require.NoError(t, err)
	names := make([]string, 0, len(roles))
	for _, role := range roles {
		names = append(names, role.Name)
	}
	require.Equal(t, []string{"editor", RoleMember}, names)
}

func TestRoleWithPermissions(t *testing.T) {
	ctx := context.Background()
	svc, repo, _ := newRBACFixture(t)
	id := editorID(t, repo)
	repo.grants["editor"] = []RolePermission{
		{RoleName: "editor", PermissionName: "content.posts.edit", IsAllowed: true, IsActive: true},
		{RoleName: "editor", PermissionName: "content.posts.delete", IsAllowed: false, IsActive: true},
	}

	role, perms, err := svc.RoleWithPermissions(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "editor", role.Name)
	require.Equal(t, []string{"content.posts.edit"}, perms)
}
