package users

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aegis-admin/aegis-admin/internal/rbac"
	"github.com/aegis-admin/aegis-admin/internal/shared"
)

// RoleDirectory resolves roles for hierarchy checks.
type RoleDirectory interface {
	GetRole(ctx context.Context, id int64) (*rbac.Role, error)
}

// Invalidator is the slice of the cache invalidation coordinator that user
// mutations call after commit.
type Invalidator interface {
	InvalidateUserScoped(ctx context.Context, userID int64)
	InvalidateSessionTokens(ctx context.Context, tokens ...string)
}

// Service handles user administration. Hierarchy rule throughout: no actor
// may modify a user ranked at or above its own authority.
type Service struct {
	repo        Repository
	roles       RoleDirectory
	invalidator Invalidator
	audit       shared.Auditor
	logger      *slog.Logger
}

// NewService builds a Service instance.
func NewService(repo Repository, roles RoleDirectory, invalidator Invalidator, audit shared.Auditor, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, roles: roles, invalidator: invalidator, audit: audit, logger: logger}
}

// GetUser fetches a user by ID.
func (s *Service) GetUser(ctx context.Context, id int64) (*User, error) {
	return s.repo.GetUser(ctx, id)
}

// ListUsers returns one page of users.
func (s *Service) ListUsers(ctx context.Context, page, perPage int) ([]User, shared.Pagination, error) {
	users, total, err := s.repo.ListUsers(ctx, shared.NewPagination(page, perPage, 0))
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return users, shared.NewPagination(page, perPage, total), nil
}

// AssignRole sets (or clears, with nil) the target user's single role.
// A non-apex actor must strictly out-rank both the user's current role and
// the role being assigned.
func (s *Service) AssignRole(ctx context.Context, actor *shared.Actor, userID int64, roleID *int64) error {
	if actor == nil {
		return shared.ErrUnauthorized
	}
	user, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if err := s.requireSeniorityOver(ctx, actor, user); err != nil {
		return err
	}
	if roleID != nil {
		target, err := s.roles.GetRole(ctx, *roleID)
		if err != nil {
			return err
		}
		if !rbac.CanAssignRole(actorLevel(actor), rbac.LevelOf(target)) {
			return fmt.Errorf("%w: cannot assign role %q", shared.ErrForbidden, target.Name)
		}
	}
	if err := s.repo.SetRole(ctx, userID, roleID, actor.UserID); err != nil {
		return err
	}
	if s.invalidator != nil {
		s.invalidator.InvalidateUserScoped(ctx, userID)
	}
	s.record(ctx, actor.UserID, "users.role.assign", userID, map[string]any{"role_id": roleID})
	return nil
}

// SetActive enables or disables the target user's account.
func (s *Service) SetActive(ctx context.Context, actor *shared.Actor, userID int64, active bool) error {
	if actor == nil {
		return shared.ErrUnauthorized
	}
	user, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if err := s.requireSeniorityOver(ctx, actor, user); err != nil {
		return err
	}
	if err := s.repo.SetActive(ctx, userID, active); err != nil {
		return err
	}
	if s.invalidator != nil {
		s.invalidator.InvalidateUserScoped(ctx, userID)
	}
	s.record(ctx, actor.UserID, "users.account.set_active", userID, map[string]any{"active": active})
	return nil
}

// Delete removes the target user, reassigning dependent references to the
// acting administrator first.
func (s *Service) Delete(ctx context.Context, actor *shared.Actor, userID int64) error {
	if actor == nil {
		return shared.ErrUnauthorized
	}
	if actor.UserID == userID {
		return fmt.Errorf("%w: cannot delete your own account", shared.ErrValidation)
	}
	user, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if err := s.requireSeniorityOver(ctx, actor, user); err != nil {
		return err
	}
	// The delete removes the user's session rows, so the user-scoped purge
	// could no longer enumerate them. The repository hands back the tokens it
	// deleted; invalidate exactly those.
	tokens, err := s.repo.DeleteUser(ctx, userID, actor.UserID)
	if err != nil {
		return err
	}
	if s.invalidator != nil {
		s.invalidator.InvalidateSessionTokens(ctx, tokens...)
	}
	s.record(ctx, actor.UserID, "users.account.delete", userID, nil)
	return nil
}

func (s *Service) requireSeniorityOver(ctx context.Context, actor *shared.Actor, user *User) error {
	if rbac.IsApex(actor.RoleName) {
		return nil
	}
	current := rbac.Level{}
	if user.RoleID != nil {
		role, err := s.roles.GetRole(ctx, *user.RoleID)
		if err == nil {
			current = rbac.LevelOf(role)
		}
		// A missing role resolves to the least-privileged sentinel.
	}
	if rbac.IsApex(current.Name) || actor.Power <= current.Power {
		return fmt.Errorf("%w: user %d is not junior to the caller", shared.ErrForbidden, user.ID)
	}
	return nil
}

func (s *Service) record(ctx context.Context, actorID int64, action string, userID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "user",
		EntityID: fmt.Sprintf("%d", userID),
		Meta:     meta,
	}); err != nil {
		s.logger.Warn("audit record", slog.String("action", action), slog.Any("error", err))
	}
}

func actorLevel(actor *shared.Actor) rbac.Level {
	return rbac.Level{Name: actor.RoleName, Power: actor.Power}
}
