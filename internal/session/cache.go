package session

import (
	"context"
	"encoding/json"
	"time"

	"github.com/aegis-admin/aegis-admin/internal/platform/cache"
)

const tokenKeyPrefix = "session:token:"

// Cache stores resolved session lookups keyed by token.
type Cache struct {
	store cache.Store
	ttl   time.Duration
}

// NewCache wraps the given store with the session TTL.
func NewCache(store cache.Store, ttl time.Duration) *Cache {
	return &Cache{store: store, ttl: ttl}
}

// Get returns the cached resolution for token, if any.
func (c *Cache) Get(ctx context.Context, token string) (*Resolved, bool) {
	if c == nil || c.store == nil {
		return nil, false
	}
	payload, ok, err := c.store.Get(ctx, tokenKeyPrefix+token)
	if err != nil || !ok {
		return nil, false
	}
	var resolved Resolved
	if err := json.Unmarshal(payload, &resolved); err != nil {
		_ = c.store.Invalidate(ctx, tokenKeyPrefix+token)
		return nil, false
	}
	return &resolved, true
}

// Set stores a resolution under its token.
func (c *Cache) Set(ctx context.Context, resolved *Resolved) {
	if c == nil || c.store == nil || resolved == nil {
		return
	}
	payload, err := json.Marshal(resolved)
	if err != nil {
		return
	}
	_ = c.store.Set(ctx, tokenKeyPrefix+resolved.Token, payload, c.ttl)
}

// InvalidateToken purges a single cached resolution.
func (c *Cache) InvalidateToken(ctx context.Context, token string) error {
	if c == nil || c.store == nil {
		return nil
	}
	return c.store.Invalidate(ctx, tokenKeyPrefix+token)
}

// InvalidateAll purges every cached resolution.
func (c *Cache) InvalidateAll(ctx context.Context) error {
	if c == nil || c.store == nil {
		return nil
	}
	return c.store.InvalidateByPrefix(ctx, tokenKeyPrefix)
}

// Stats reports the underlying store counters.
func (c *Cache) Stats(ctx context.Context) (cache.Stats, error) {
	if c == nil || c.store == nil {
		return cache.Stats{}, nil
	}
	return c.store.Stats(ctx)
}
