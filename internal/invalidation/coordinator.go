// Package invalidation coordinates cache purges after committed mutations.
//
// The coordinator is invoked synchronously after the storage transaction has
// committed, never before: invalidating first would let a concurrent reader
// repopulate the cache with pre-transaction data. Cache failures are logged
// and swallowed, the mutation's correctness is defined by the store.
package invalidation

import (
	"context"
	"log/slog"
)

// SessionInvalidator purges cached session resolutions.
type SessionInvalidator interface {
	InvalidateToken(ctx context.Context, token string) error
	InvalidateAll(ctx context.Context) error
}

// PermissionInvalidator purges cached permission listings.
type PermissionInvalidator interface {
	InvalidateAll(ctx context.Context) error
}

// TokenLister resolves the active session tokens owned by a user. Implemented
// by the session repository; one indexed query per user-scoped purge.
type TokenLister interface {
	ActiveTokens(ctx context.Context, userID int64) ([]string, error)
}

// Coordinator fans invalidation out to the session and permission caches.
type Coordinator struct {
	sessions    SessionInvalidator
	permissions PermissionInvalidator
	tokens      TokenLister
	logger      *slog.Logger
}

// NewCoordinator wires the coordinator. Any dependency may be nil; the
// corresponding purges become no-ops, which keeps partial test setups simple.
func NewCoordinator(sessions SessionInvalidator, permissions PermissionInvalidator, tokens TokenLister, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{sessions: sessions, permissions: permissions, tokens: tokens, logger: logger}
}

// InvalidateAll purges both caches wholesale.
func (c *Coordinator) InvalidateAll(ctx context.Context) {
	if c == nil {
		return
	}
	if c.sessions != nil {
		if err := c.sessions.InvalidateAll(ctx); err != nil {
			c.logger.Warn("session cache invalidate all", slog.Any("error", err))
		}
	}
	if c.permissions != nil {
		if err := c.permissions.InvalidateAll(ctx); err != nil {
			c.logger.Warn("permission cache invalidate all", slog.Any("error", err))
		}
	}
}

// InvalidateUserScoped purges the cached resolution of every active session
// owned by userID.
func (c *Coordinator) InvalidateUserScoped(ctx context.Context, userID int64) {
	if c == nil || c.sessions == nil {
		return
	}
	if c.tokens == nil {
		if err := c.sessions.InvalidateAll(ctx); err != nil {
			c.logger.Warn("session cache invalidate all", slog.Any("error", err))
		}
		return
	}
	tokens, err := c.tokens.ActiveTokens(ctx, userID)
	if err != nil {
		// Cannot enumerate; fall back to a full purge so no stale entry survives.
		c.logger.Warn("list active tokens, purging session cache wholesale",
			slog.Int64("user_id", userID), slog.Any("error", err))
		if err := c.sessions.InvalidateAll(ctx); err != nil {
			c.logger.Warn("session cache invalidate all", slog.Any("error", err))
		}
		return
	}
	c.InvalidateSessionTokens(ctx, tokens...)
}

// InvalidateSessionTokens purges specific cached session resolutions. Used by
// revocation flows, which already hold the affected tokens.
func (c *Coordinator) InvalidateSessionTokens(ctx context.Context, tokens ...string) {
	if c == nil || c.sessions == nil {
		return
	}
	for _, token := range tokens {
		if err := c.sessions.InvalidateToken(ctx, token); err != nil {
			c.logger.Warn("session cache invalidate token", slog.Any("error", err))
		}
	}
}

// InvalidatePermissionScoped purges the permission listing cache wholesale.
// Query shapes are combinatorial, so no fine-grained variant exists.
func (c *Coordinator) InvalidatePermissionScoped(ctx context.Context) {
	if c == nil || c.permissions == nil {
		return
	}
	if err := c.permissions.InvalidateAll(ctx); err != nil {
		c.logger.Warn("permission cache invalidate", slog.Any("error", err))
	}
}
