package auth

import (
	"context"
	"errors"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/aegis-admin/aegis-admin/internal/shared"
	"github.com/aegis-admin/aegis-admin/internal/users"
)

// Repository is the slice of user persistence authentication needs.
type Repository interface {
	GetUserByEmail(ctx context.Context, email string) (*users.User, error)
	RecordLogin(ctx context.Context, userID int64, at time.Time) error
}

// Service wraps authentication business rules.
type Service struct {
	repo  Repository
	audit shared.Auditor
	clock func() time.Time
}

// NewService constructs a Service. audit may be nil.
func NewService(repo Repository, audit shared.Auditor) *Service {
	return &Service{repo: repo, audit: audit, clock: func() time.Time { return time.Now().UTC() }}
}

// Authenticate validates email/password credentials. Every failure mode maps
// to the same ErrInvalidCredentials so the response does not leak which part
// was wrong.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*users.User, error) {
	user, err := s.repo.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			s.record(ctx, 0, "auth.login.failed", email)
			return nil, shared.ErrInvalidCredentials
		}
		return nil, err
	}
	if !user.IsActive {
		s.record(ctx, user.ID, "auth.login.failed", email)
		return nil, shared.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		s.record(ctx, user.ID, "auth.login.failed", email)
		return nil, shared.ErrInvalidCredentials
	}
	s.record(ctx, user.ID, "auth.login.succeeded", email)
	if err := s.repo.RecordLogin(ctx, user.ID, s.clock()); err != nil {
		// Login bookkeeping must not block the login itself.
		return user, nil
	}
	return user, nil
}

func (s *Service) record(ctx context.Context, actorID int64, action, email string) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "user",
		EntityID: email,
	})
}

// HashPassword produces a bcrypt hash for account provisioning.
func HashPassword(password string, cost int) (string, error) {
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
