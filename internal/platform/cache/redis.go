package cache

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// NewClient creates a Redis client and verifies connectivity.
func NewClient(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("platform/cache: ping: %w", err)
	}

	return client, nil
}

// Redis is the Store implementation for multi-instance deployments. All keys
// live under a namespace so unrelated Redis usage (the job broker shares the
// instance) is never swept by InvalidateAll.
type Redis struct {
	client    *redis.Client
	namespace string
	hits      atomic.Uint64
	misses    atomic.Uint64
}

// NewRedis wraps an existing client under the given namespace.
func NewRedis(client *redis.Client, namespace string) *Redis {
	if namespace == "" {
		namespace = "cache"
	}
	return &Redis{client: client, namespace: namespace}
}

func (r *Redis) namespaced(key string) string {
	return r.namespace + ":" + key
}

// Get returns the value for key when present.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := r.client.Get(ctx, r.namespaced(key)).Bytes()
	if err == redis.Nil {
		r.misses.Add(1)
		return nil, false, nil
	}
	if err != nil {
		r.misses.Add(1)
		return nil, false, fmt.Errorf("platform/cache: get: %w", err)
	}
	r.hits.Add(1)
	return value, true, nil
}

// Set stores value under key for ttl.
func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := r.client.Set(ctx, r.namespaced(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("platform/cache: set: %w", err)
	}
	return nil
}

// Invalidate removes a single key.
func (r *Redis) Invalidate(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.namespaced(key)).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("platform/cache: del: %w", err)
	}
	return nil
}

// InvalidateByPrefix removes every key starting with prefix using SCAN so the
// server is never blocked on a large keyspace.
func (r *Redis) InvalidateByPrefix(ctx context.Context, prefix string) error {
	return r.deleteByPattern(ctx, r.namespaced(prefix)+"*")
}

// InvalidateAll removes every key in the namespace.
func (r *Redis) InvalidateAll(ctx context.Context) error {
	return r.deleteByPattern(ctx, r.namespace+":*")
}

func (r *Redis) deleteByPattern(ctx context.Context, pattern string) error {
	iter := r.client.Scan(ctx, 0, pattern, 256).Iterator()
	for iter.Next(ctx) {
		if err := r.client.Del(ctx, iter.Val()).Err(); err != nil && err != redis.Nil {
			return fmt.Errorf("platform/cache: del: %w", err)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("platform/cache: scan: %w", err)
	}
	return nil
}

// Stats reports process-local counters and the namespaced key count.
func (r *Redis) Stats(ctx context.Context) (Stats, error) {
	size := 0
	iter := r.client.Scan(ctx, 0, r.namespace+":*", 256).Iterator()
	for iter.Next(ctx) {
		size++
	}
	if err := iter.Err(); err != nil {
		return Stats{}, fmt.Errorf("platform/cache: scan: %w", err)
	}
	return Stats{Hits: r.hits.Load(), Misses: r.misses.Load(), Size: size}, nil
}

var _ Store = (*Redis)(nil)
