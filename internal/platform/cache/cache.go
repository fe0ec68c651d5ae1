// Package cache provides the TTL key/value stores backing the session and
// permission caches. Both implementations are safe for concurrent use and are
// injected behind the Store interface so tests can swap them freely.
package cache

import (
	"context"
	"time"
)

// Stats carries cumulative hit/miss counters and the current entry count.
type Stats struct {
	Hits   uint64
	Misses uint64
	Size   int
}

// HitRate returns hits/(hits+misses), or 0 before any lookups.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Store is a generic TTL cache with prefix-based invalidation.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Invalidate(ctx context.Context, key string) error
	InvalidateByPrefix(ctx context.Context, prefix string) error
	InvalidateAll(ctx context.Context) error
	Stats(ctx context.Context) (Stats, error)
}
