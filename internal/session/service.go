package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/aegis-admin/aegis-admin/internal/shared"
)

const (
	defaultTTL  = 24 * time.Hour
	rememberTTL = 7 * 24 * time.Hour

	// suspicionWindow bounds the lookback for divergent-origin detection.
	suspicionWindow = 15 * time.Minute
	// suspicionOriginThreshold is the distinct-IP count that flags a user.
	suspicionOriginThreshold = 3
)

// RoleSource resolves a role snapshot for session resolution. Wired to the
// rbac service through a small adapter at composition time.
type RoleSource interface {
	RoleSnapshot(ctx context.Context, roleID int64) (name string, power int, permissions []string, err error)
}

// Invalidator is the slice of the cache invalidation coordinator that
// revocations call after their storage updates commit.
type Invalidator interface {
	InvalidateSessionTokens(ctx context.Context, tokens ...string)
}

// Config tunes session lifetimes.
type Config struct {
	TTL         time.Duration
	RememberTTL time.Duration
}

// Service manages the session lifecycle: created, active, then expired or
// revoked. Terminal states are final.
type Service struct {
	repo        Repository
	cache       *Cache
	roles       RoleSource
	invalidator Invalidator
	logger      *slog.Logger
	cfg         Config

	group   singleflight.Group
	clock   func() time.Time
	tokenFn func() string
}

// NewService constructs a Service. cache, roles and invalidator may be nil.
func NewService(repo Repository, cache *Cache, roles RoleSource, invalidator Invalidator, logger *slog.Logger, cfg Config) *Service {
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}
	if cfg.RememberTTL <= 0 {
		cfg.RememberTTL = rememberTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:        repo,
		cache:       cache,
		roles:       roles,
		invalidator: invalidator,
		logger:      logger,
		cfg:         cfg,
		clock:       func() time.Time { return time.Now().UTC() },
		tokenFn:     generateToken,
	}
}

// CreateOptions carries per-device metadata for a new session.
type CreateOptions struct {
	RememberDevice bool
	DeviceID       string
	IP             string
	UserAgent      string
}

// Create opens a session for userID and returns its opaque token.
func (s *Service) Create(ctx context.Context, userID int64, opts CreateOptions) (string, error) {
	user, err := s.repo.FindIdentity(ctx, userID)
	if err != nil {
		return "", err
	}
	if !user.IsActive {
		return "", fmt.Errorf("%w: user %d is disabled", shared.ErrForbidden, userID)
	}

	ttl := s.cfg.TTL
	if opts.RememberDevice {
		ttl = s.cfg.RememberTTL
	}
	deviceID := opts.DeviceID
	if deviceID == "" {
		deviceID = uuid.NewString()
	}
	now := s.clock()
	sess := Session{
		Token:        s.tokenFn(),
		UserID:       userID,
		DeviceID:     deviceID,
		IP:           opts.IP,
		UserAgent:    opts.UserAgent,
		IsActive:     true,
		CreatedAt:    now,
		ExpiresAt:    now.Add(ttl),
		LastActiveAt: now,
	}
	if err := s.repo.CreateSession(ctx, sess); err != nil {
		return "", fmt.Errorf("%w: create session: %v", shared.ErrInternal, err)
	}
	return sess.Token, nil
}

// Resolve looks a token up, cache first. Unknown, malformed, expired or
// revoked tokens resolve to (nil, nil), never an error.
func (s *Service) Resolve(ctx context.Context, token string) (*Resolved, error) {
	if token == "" {
		return nil, nil
	}
	now := s.clock()
	if resolved, ok := s.cache.Get(ctx, token); ok {
		// Entries are re-checked against expiry on every hit so a session
		// never outlives itself inside the cache TTL.
		if now.Before(resolved.ExpiresAt) {
			return resolved, nil
		}
		_ = s.cache.InvalidateToken(ctx, token)
		return nil, nil
	}

	value, err, _ := s.group.Do(token, func() (any, error) {
		return s.resolveFromStore(ctx, token)
	})
	if err != nil {
		return nil, err
	}
	resolved, _ := value.(*Resolved)
	return resolved, nil
}

func (s *Service) resolveFromStore(ctx context.Context, token string) (*Resolved, error) {
	sess, user, err := s.repo.FindSessionUser(ctx, token)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: resolve session: %v", shared.ErrInternal, err)
	}
	now := s.clock()
	if sess.StatusAt(now) != StatusActive || !user.IsActive {
		return nil, nil
	}

	resolved := &Resolved{
		Token:        sess.Token,
		UserID:       user.ID,
		Email:        user.Email,
		Name:         user.Name,
		TokenVersion: user.TokenVersion,
		ExpiresAt:    sess.ExpiresAt,
	}
	if user.RoleID != nil && s.roles != nil {
		name, power, perms, err := s.roles.RoleSnapshot(ctx, *user.RoleID)
		if err != nil && !errors.Is(err, shared.ErrNotFound) {
			return nil, fmt.Errorf("%w: role snapshot: %v", shared.ErrInternal, err)
		}
		if err == nil {
			resolved.RoleName = name
			resolved.Power = power
			resolved.Permissions = perms
		}
	}

	s.cache.Set(ctx, resolved)
	if err := s.repo.TouchLastActive(ctx, token, now); err != nil {
		s.logger.Debug("touch last active", slog.Any("error", err))
	}
	return resolved, nil
}

// RevokeResult reports how many sessions a revocation terminated.
type RevokeResult struct {
	Count int `json:"count"`
}

// RevokeSingle deactivates exactly one session.
func (s *Service) RevokeSingle(ctx context.Context, token string) (*RevokeResult, error) {
	affected, err := s.repo.RevokeByToken(ctx, token, s.clock())
	if err != nil {
		return nil, fmt.Errorf("%w: revoke session: %v", shared.ErrInternal, err)
	}
	if affected == 0 {
		return nil, fmt.Errorf("%w: session", shared.ErrNotFound)
	}
	s.invalidate(ctx, token)
	return &RevokeResult{Count: int(affected)}, nil
}

// RevokeOthers deactivates every session of userID except excludeToken.
func (s *Service) RevokeOthers(ctx context.Context, userID int64, excludeToken string) (*RevokeResult, error) {
	if _, err := s.repo.FindIdentity(ctx, userID); err != nil {
		return nil, err
	}
	tokens, err := s.repo.RevokeOthers(ctx, userID, excludeToken, s.clock())
	if err != nil {
		return nil, fmt.Errorf("%w: revoke other sessions: %v", shared.ErrInternal, err)
	}
	s.invalidate(ctx, tokens...)
	return &RevokeResult{Count: len(tokens)}, nil
}

// RevokeAll deactivates every session of userID, the caller's included.
func (s *Service) RevokeAll(ctx context.Context, userID int64) (*RevokeResult, error) {
	if _, err := s.repo.FindIdentity(ctx, userID); err != nil {
		return nil, err
	}
	tokens, err := s.repo.RevokeAll(ctx, userID, s.clock())
	if err != nil {
		return nil, fmt.Errorf("%w: revoke all sessions: %v", shared.ErrInternal, err)
	}
	s.invalidate(ctx, tokens...)
	return &RevokeResult{Count: len(tokens)}, nil
}

// CleanupExpired bulk-expires sessions past their deadline. Safe to run
// opportunistically from any read path or from the background sweep.
func (s *Service) CleanupExpired(ctx context.Context) (int64, error) {
	count, err := s.repo.ExpireStale(ctx, s.clock())
	if err != nil {
		return 0, fmt.Errorf("%w: cleanup expired sessions: %v", shared.ErrInternal, err)
	}
	return count, nil
}

// PruneTerminated deletes terminated session rows older than retention.
func (s *Service) PruneTerminated(ctx context.Context, retention time.Duration) (int64, error) {
	count, err := s.repo.PruneTerminated(ctx, s.clock().Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("%w: prune sessions: %v", shared.ErrInternal, err)
	}
	return count, nil
}

// ListActive returns the user's active sessions for device management views.
func (s *Service) ListActive(ctx context.Context, userID int64) ([]Session, error) {
	return s.repo.ActiveSessions(ctx, userID)
}

// DetectSuspiciousActivity reports whether the user's active sessions show
// divergent network origins inside a short window. Signal only; the caller
// decides whether to revoke.
func (s *Service) DetectSuspiciousActivity(ctx context.Context, userID int64) (bool, error) {
	sessions, err := s.repo.ActiveSessions(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("%w: list sessions: %v", shared.ErrInternal, err)
	}
	cutoff := s.clock().Add(-suspicionWindow)
	origins := make(map[string]struct{})
	for _, sess := range sessions {
		if sess.CreatedAt.Before(cutoff) || sess.IP == "" {
			continue
		}
		origins[sess.IP] = struct{}{}
	}
	return len(origins) >= suspicionOriginThreshold, nil
}

func (s *Service) invalidate(ctx context.Context, tokens ...string) {
	if s.invalidator != nil {
		s.invalidator.InvalidateSessionTokens(ctx, tokens...)
		return
	}
	for _, token := range tokens {
		if err := s.cache.InvalidateToken(ctx, token); err != nil {
			s.logger.Warn("session cache invalidate", slog.Any("error", err))
		}
	}
}

// generateToken returns an unguessable opaque token.
func generateToken() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return uuid.NewString()
	}
	return base64.RawURLEncoding.EncodeToString(b)
}
