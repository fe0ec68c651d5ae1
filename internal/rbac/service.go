package rbac

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aegis-admin/aegis-admin/internal/shared"
)

// Invalidator is the slice of the cache invalidation coordinator this service
// calls after its transactions commit.
type Invalidator interface {
	InvalidateAll(ctx context.Context)
	InvalidateUserScoped(ctx context.Context, userID int64)
	InvalidatePermissionScoped(ctx context.Context)
}

// Service orchestrates role and permission administration. Every mutation
// runs its storage work inside one transaction and notifies the invalidator
// only after the transaction has committed.
type Service struct {
	repo        Repository
	cache       *PermissionCache
	invalidator Invalidator
	audit       shared.Auditor
	logger      *slog.Logger
}

// NewService constructs a Service. cache, invalidator and audit may be nil.
func NewService(repo Repository, cache *PermissionCache, invalidator Invalidator, audit shared.Auditor, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, cache: cache, invalidator: invalidator, audit: audit, logger: logger}
}

// ReplaceResult reports the outcome of a permission replacement.
type ReplaceResult struct {
	Applied  int      `json:"applied"`
	Filtered []string `json:"filtered,omitempty"`
}

// ReplaceRolePermissions atomically replaces the target role's permission set.
//
// Preconditions, each a hard rejection, in order: the role exists; the role is
// not protected; unless the actor is apex, the actor strictly out-ranks the
// role. Requested names the actor does not itself hold, and names with no
// known permission record, are dropped from the applied set rather than
// failing the call; the drop is reported in Filtered.
func (s *Service) ReplaceRolePermissions(ctx context.Context, actor *shared.Actor, roleID int64, requested []string) (*ReplaceResult, error) {
	if actor == nil {
		return nil, shared.ErrUnauthorized
	}
	role, err := s.repo.GetRole(ctx, roleID)
	if err != nil {
		return nil, err
	}
	if role.IsProtected {
		return nil, fmt.Errorf("%w: role %q is protected", shared.ErrConflict, role.Name)
	}
	apex := IsApex(actor.RoleName)
	if !apex && actor.Power <= role.Power {
		return nil, fmt.Errorf("%w: role %q is not junior to the caller", shared.ErrForbidden, role.Name)
	}

	requested = dedupeNames(requested)
	result := &ReplaceResult{}

	// Self-referential possession check: a non-apex actor can only hand out
	// capabilities it already holds.
	candidates := make([]string, 0, len(requested))
	for _, name := range requested {
		if !apex && !actor.HasPermission(name) {
			result.Filtered = append(result.Filtered, name)
			continue
		}
		candidates = append(candidates, name)
	}

	known, err := s.repo.PermissionsByNames(ctx, candidates)
	if err != nil {
		return nil, fmt.Errorf("%w: load permissions: %v", shared.ErrInternal, err)
	}
	knownSet := make(map[string]struct{}, len(known))
	for _, perm := range known {
		knownSet[perm.Name] = struct{}{}
	}
	grants := make([]RolePermission, 0, len(candidates))
	for _, name := range candidates {
		if _, ok := knownSet[name]; !ok {
			result.Filtered = append(result.Filtered, name)
			continue
		}
		grants = append(grants, RolePermission{
			RoleName:       role.Name,
			PermissionName: name,
			IsAllowed:      true,
			IsActive:       true,
			GrantedBy:      actor.UserID,
		})
	}
	if len(result.Filtered) > 0 {
		s.logger.Info("permission grant filtered",
			slog.String("role", role.Name),
			slog.Int64("actor_id", actor.UserID),
			slog.String("dropped", strings.Join(result.Filtered, ",")))
	}

	// Delete-then-insert inside one transaction: no reader ever observes a
	// partially replaced set.
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.DeleteRolePermissions(ctx, role.Name); err != nil {
			return err
		}
		return tx.InsertRolePermissions(ctx, grants)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: replace role permissions: %v", shared.ErrInternal, err)
	}
	result.Applied = len(grants)

	s.invalidateRoleMembers(ctx, role.ID)
	if s.invalidator != nil {
		s.invalidator.InvalidatePermissionScoped(ctx)
	}
	s.record(ctx, actor.UserID, "rbac.permissions.replace", "role", role.Name, map[string]any{
		"applied":  result.Applied,
		"filtered": len(result.Filtered),
	})
	return result, nil
}

// TransferPlan directs where the members of a deleted role go. PerUser wins
// over DefaultRoleID; users in neither fall back to the system default role.
type TransferPlan struct {
	PerUser       map[int64]int64
	DefaultRoleID int64
}

// DeleteResult reports a completed role deletion.
type DeleteResult struct {
	Transferred int `json:"transferred"`
}

// DeleteRole removes a role after migrating every member to a replacement.
// Protected roles are rejected outright, whoever asks. Migration, the role's
// grant rows and the role row itself all go in one transaction.
func (s *Service) DeleteRole(ctx context.Context, actor *shared.Actor, roleID int64, plan TransferPlan) (*DeleteResult, error) {
	if actor == nil {
		return nil, shared.ErrUnauthorized
	}
	role, err := s.repo.GetRole(ctx, roleID)
	if err != nil {
		return nil, err
	}
	actorLevel := Level{Name: actor.RoleName, Power: actor.Power}
	if role.IsProtected {
		return nil, fmt.Errorf("%w: role %q is protected", shared.ErrConflict, role.Name)
	}
	if !CanDeleteRole(actorLevel, LevelOf(role), role.IsProtected) {
		return nil, fmt.Errorf("%w: role %q is not junior to the caller", shared.ErrForbidden, role.Name)
	}

	members, err := s.repo.RoleMemberIDs(ctx, roleID)
	if err != nil {
		return nil, fmt.Errorf("%w: list role members: %v", shared.ErrInternal, err)
	}

	targets := make(map[int64]*Role, len(plan.PerUser)+1)
	resolveTarget := func(targetID int64) (*Role, error) {
		if cached, ok := targets[targetID]; ok {
			return cached, nil
		}
		target, err := s.repo.GetRole(ctx, targetID)
		if err != nil {
			return nil, fmt.Errorf("%w: transfer target role %d", shared.ErrNotFound, targetID)
		}
		if target.ID == role.ID {
			return nil, fmt.Errorf("%w: cannot transfer members to the deleted role", shared.ErrValidation)
		}
		if !CanAssignRole(actorLevel, LevelOf(target)) {
			return nil, fmt.Errorf("%w: cannot assign role %q", shared.ErrForbidden, target.Name)
		}
		targets[targetID] = target
		return target, nil
	}

	// The fallback role is resolved only once a member actually needs it, so
	// memberless roles delete cleanly even without a system default role.
	var fallback *Role
	moves := make(map[int64]int64, len(members))
	for _, userID := range members {
		targetID, explicit := plan.PerUser[userID]
		if !explicit {
			if fallback == nil {
				fallback, err = s.transferFallback(ctx, plan)
				if err != nil {
					return nil, err
				}
			}
			targetID = fallback.ID
		}
		target, err := resolveTarget(targetID)
		if err != nil {
			return nil, err
		}
		moves[userID] = target.ID
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		for userID, targetID := range moves {
			if err := tx.ReassignMember(ctx, userID, targetID, actor.UserID); err != nil {
				return err
			}
		}
		if err := tx.DeleteRolePermissions(ctx, role.Name); err != nil {
			return err
		}
		return tx.DeleteRole(ctx, role.ID)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: delete role: %v", shared.ErrInternal, err)
	}

	if s.invalidator != nil {
		s.invalidator.InvalidateAll(ctx)
	}
	s.record(ctx, actor.UserID, "rbac.role.delete", "role", role.Name, map[string]any{
		"transferred": len(moves),
	})
	return &DeleteResult{Transferred: len(moves)}, nil
}

// CreateRoleInput describes a new role.
type CreateRoleInput struct {
	Name        string
	DisplayName string
	Power       int
}

// CreateRole inserts a new unprotected role junior to the caller.
func (s *Service) CreateRole(ctx context.Context, actor *shared.Actor, input CreateRoleInput) (*Role, error) {
	if actor == nil {
		return nil, shared.ErrUnauthorized
	}
	input.Name = strings.TrimSpace(strings.ToLower(input.Name))
	if input.Name == "" {
		return nil, fmt.Errorf("%w: role name required", shared.ErrValidation)
	}
	if input.Power <= 0 {
		return nil, fmt.Errorf("%w: role power must be positive", shared.ErrValidation)
	}
	if !IsApex(actor.RoleName) && actor.Power <= input.Power {
		return nil, fmt.Errorf("%w: cannot create a role at or above your own authority", shared.ErrForbidden)
	}
	role, err := s.repo.CreateRole(ctx, Role{
		Name:        input.Name,
		DisplayName: strings.TrimSpace(input.DisplayName),
		Power:       input.Power,
		IsActive:    true,
	})
	if err != nil {
		return nil, err
	}
	s.record(ctx, actor.UserID, "rbac.role.create", "role", role.Name, map[string]any{"power": role.Power})
	return role, nil
}

// UpdateRoleInput carries the mutable display fields of a role. Power is
// fixed at creation; re-ranking is a delete-and-recreate operation.
type UpdateRoleInput struct {
	DisplayName string
	IsActive    bool
}

// UpdateRole updates a role's display metadata.
func (s *Service) UpdateRole(ctx context.Context, actor *shared.Actor, roleID int64, input UpdateRoleInput) (*Role, error) {
	if actor == nil {
		return nil, shared.ErrUnauthorized
	}
	role, err := s.repo.GetRole(ctx, roleID)
	if err != nil {
		return nil, err
	}
	actorLevel := Level{Name: actor.RoleName, Power: actor.Power}
	if !CanEditRole(actorLevel, LevelOf(role), role.IsProtected) {
		if role.IsProtected {
			return nil, fmt.Errorf("%w: role %q is protected", shared.ErrConflict, role.Name)
		}
		return nil, fmt.Errorf("%w: role %q is not junior to the caller", shared.ErrForbidden, role.Name)
	}
	updated, err := s.repo.UpdateRole(ctx, roleID, strings.TrimSpace(input.DisplayName), input.IsActive)
	if err != nil {
		return nil, err
	}
	s.invalidateRoleMembers(ctx, role.ID)
	s.record(ctx, actor.UserID, "rbac.role.update", "role", updated.Name, nil)
	return updated, nil
}

// ListRoles returns all roles ordered by seniority.
func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	return s.repo.ListRoles(ctx)
}

// ListAssignableRoles returns the roles the actor may hand out.
func (s *Service) ListAssignableRoles(ctx context.Context, actor *shared.Actor) ([]Role, error) {
	if actor == nil {
		return nil, shared.ErrUnauthorized
	}
	roles, err := s.repo.ListRoles(ctx)
	if err != nil {
		return nil, err
	}
	return AssignableRoles(Level{Name: actor.RoleName, Power: actor.Power}, roles), nil
}

// ListPermissions serves one page of the permission catalog through the cache.
func (s *Service) ListPermissions(ctx context.Context, query PermissionQuery) (*PermissionPage, error) {
	return s.cache.Fetch(ctx, query, func(ctx context.Context) (*PermissionPage, error) {
		perms, total, err := s.repo.ListPermissions(ctx, PermissionFilter{
			Category: query.Category,
			Search:   query.Search,
			Page:     query.Page,
			PerPage:  query.PerPage,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: list permissions: %v", shared.ErrInternal, err)
		}
		page := &PermissionPage{
			Items:      make([]PermissionView, 0, len(perms)),
			Pagination: shared.NewPagination(query.Page, query.PerPage, total),
		}
		for _, perm := range perms {
			page.Items = append(page.Items, perm.Localize(query.Locale))
		}
		return page, nil
	})
}

// RoleWithPermissions returns a role plus its effective permission set.
// Session resolution composes actor snapshots from this.
func (s *Service) RoleWithPermissions(ctx context.Context, roleID int64) (*Role, []string, error) {
	role, err := s.repo.GetRole(ctx, roleID)
	if err != nil {
		return nil, nil, err
	}
	perms, err := s.repo.EffectivePermissions(ctx, role.Name)
	if err != nil {
		return nil, nil, err
	}
	return role, perms, nil
}

func (s *Service) transferFallback(ctx context.Context, plan TransferPlan) (*Role, error) {
	if plan.DefaultRoleID != 0 {
		role, err := s.repo.GetRole(ctx, plan.DefaultRoleID)
		if err != nil {
			return nil, fmt.Errorf("%w: default transfer role %d", shared.ErrNotFound, plan.DefaultRoleID)
		}
		return role, nil
	}
	role, err := s.repo.GetRoleByName(ctx, RoleMember)
	if err != nil {
		return nil, fmt.Errorf("%w: system default role %q missing", shared.ErrInternal, RoleMember)
	}
	return role, nil
}

func (s *Service) invalidateRoleMembers(ctx context.Context, roleID int64) {
	if s.invalidator == nil {
		return
	}
	members, err := s.repo.RoleMemberIDs(ctx, roleID)
	if err != nil {
		// Cannot enumerate; purge everything rather than leave stale actors.
		s.logger.Warn("list role members for invalidation", slog.Any("error", err))
		s.invalidator.InvalidateAll(ctx)
		return
	}
	for _, userID := range members {
		s.invalidator.InvalidateUserScoped(ctx, userID)
	}
}

func (s *Service) record(ctx context.Context, actorID int64, action, entity, entityID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   entity,
		EntityID: entityID,
		Meta:     meta,
	}); err != nil {
		s.logger.Warn("audit record", slog.String("action", action), slog.Any("error", err))
	}
}

func dedupeNames(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}
