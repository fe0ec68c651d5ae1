package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryGetSet(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	_, ok, err := store.Get(ctx, "missing")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, store.Set(ctx, "k", []byte("v"), time.Minute))
	value, ok, err := store.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v"), value)
}

func TestMemoryNonPositiveTTLIgnored(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	require.NoError(t, store.Set(ctx, "k", []byte("v"), 0))
	_, ok, err := store.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMemoryExpiry(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	now := time.Now()
	store.clock = func() time.Time { return now }

	require.NoError(t, store.Set(ctx, "k", []byte("v"), time.Minute))

	_, ok, err := store.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)

	now = now.Add(2 * time.Minute)
	_, ok, err = store.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok)

	// The expired entry was dropped lazily.
	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	require.Zero(t, stats.Size)
}

func TestMemoryInvalidateByPrefix(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	require.NoError(t, store.Set(ctx, "session:token:a", []byte("1"), time.Minute))
	require.NoError(t, store.Set(ctx, "session:token:b", []byte("2"), time.Minute))
	require.NoError(t, store.Set(ctx, "permissions:list:x", []byte("3"), time.Minute))

	require.NoError(t, store.InvalidateByPrefix(ctx, "session:token:"))

	_, ok, _ := store.Get(ctx, "session:token:a")
	require.False(t, ok)
	_, ok, _ = store.Get(ctx, "session:token:b")
	require.False(t, ok)
	_, ok, _ = store.Get(ctx, "permissions:list:x")
	require.True(t, ok)
}

func TestMemoryInvalidateAllPreservesCounters(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	require.NoError(t, store.Set(ctx, "k", []byte("v"), time.Minute))
	_, _, _ = store.Get(ctx, "k")
	_, _, _ = store.Get(ctx, "missing")

	require.NoError(t, store.InvalidateAll(ctx))

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(1), stats.Hits)
	require.Equal(t, uint64(1), stats.Misses)
	require.Zero(t, stats.Size)
}

func TestMemoryGetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	require.NoError(t, store.Set(ctx, "k", []byte("abc"), time.Minute))
	value, ok, err := store.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	value[0] = 'z'

	again, _, err := store.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, []byte("abc"), again)
}

func TestStatsHitRate(t *testing.T) {
	require.Zero(t, Stats{}.HitRate())
	require.InDelta(t, 0.75, Stats{Hits: 3, Misses: 1}.HitRate(), 1e-9)
}
