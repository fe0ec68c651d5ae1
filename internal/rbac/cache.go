package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"golang.org/x/text/language"

	"github.com/aegis-admin/aegis-admin/internal/platform/cache"
	"github.com/aegis-admin/aegis-admin/internal/shared"
)

const permissionKeyPrefix = "permissions:list:"

// PermissionQuery is the full shape of a permission listing request; every
// field participates in the cache key.
type PermissionQuery struct {
	Category string
	Search   string
	Page     int
	PerPage  int
	Locale   string
}

// PermissionPage is one cached page of the permission catalog.
type PermissionPage struct {
	Items      []PermissionView  `json:"items"`
	Pagination shared.Pagination `json:"pagination"`
}

// PermissionCache caches paginated permission listings. Invalidation is
// wholesale: query shapes are combinatorial, so fine-grained purging is not
// attempted.
type PermissionCache struct {
	store cache.Store
	ttl   time.Duration
}

// NewPermissionCache wraps the given store with a listing TTL.
func NewPermissionCache(store cache.Store, ttl time.Duration) *PermissionCache {
	return &PermissionCache{store: store, ttl: ttl}
}

// Key canonicalises the query into a cache key. The locale component goes
// through BCP 47 parsing so "EN-us" and "en-US" share an entry.
func (c *PermissionCache) Key(query PermissionQuery) string {
	return fmt.Sprintf("%scat=%s|page=%d|per=%d|q=%s|loc=%s",
		permissionKeyPrefix,
		url.QueryEscape(query.Category),
		query.Page,
		query.PerPage,
		url.QueryEscape(query.Search),
		canonicalLocale(query.Locale),
	)
}

// Fetch loads a cached page or populates it using the loader.
func (c *PermissionCache) Fetch(ctx context.Context, query PermissionQuery, loader func(context.Context) (*PermissionPage, error)) (*PermissionPage, error) {
	if loader == nil {
		return nil, errors.New("rbac: cache loader required")
	}
	if c == nil || c.store == nil {
		return loader(ctx)
	}

	key := c.Key(query)
	if payload, ok, err := c.store.Get(ctx, key); err == nil && ok {
		var page PermissionPage
		if err := json.Unmarshal(payload, &page); err == nil {
			return &page, nil
		}
		// Undecodable entry, drop it and fall through to the loader.
		_ = c.store.Invalidate(ctx, key)
	}

	page, err := loader(ctx)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(page)
	if err != nil {
		return nil, err
	}
	if err := c.store.Set(ctx, key, payload, c.ttl); err != nil {
		return page, nil
	}
	return page, nil
}

// InvalidateAll purges every cached permission listing.
func (c *PermissionCache) InvalidateAll(ctx context.Context) error {
	if c == nil || c.store == nil {
		return nil
	}
	return c.store.InvalidateByPrefix(ctx, permissionKeyPrefix)
}

// Stats reports the underlying store counters.
func (c *PermissionCache) Stats(ctx context.Context) (cache.Stats, error) {
	if c == nil || c.store == nil {
		return cache.Stats{}, nil
	}
	return c.store.Stats(ctx)
}

func canonicalLocale(locale string) string {
	if locale == "" {
		return "en"
	}
	tag, err := language.Parse(locale)
	if err != nil {
		return "en"
	}
	return tag.String()
}
