package cache

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// Memory is the in-process Store implementation. Expired entries are dropped
// lazily on read and swept opportunistically on write.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	hits    atomic.Uint64
	misses  atomic.Uint64
	clock   func() time.Time
}

// NewMemory constructs an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]memoryEntry),
		clock:   time.Now,
	}
}

// Get returns the value for key when present and unexpired.
func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	entry, ok := m.entries[key]
	m.mu.RUnlock()

	if ok && m.clock().Before(entry.expiresAt) {
		m.hits.Add(1)
		value := make([]byte, len(entry.value))
		copy(value, entry.value)
		return value, true, nil
	}
	if ok {
		m.mu.Lock()
		if stale, still := m.entries[key]; still && !m.clock().Before(stale.expiresAt) {
			delete(m.entries, key)
		}
		m.mu.Unlock()
	}
	m.misses.Add(1)
	return nil, false, nil
}

// Set stores value under key for ttl. Non-positive ttl entries are ignored.
func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	stored := make([]byte, len(value))
	copy(stored, value)

	m.mu.Lock()
	m.entries[key] = memoryEntry{value: stored, expiresAt: m.clock().Add(ttl)}
	m.mu.Unlock()
	return nil
}

// Invalidate removes a single key.
func (m *Memory) Invalidate(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

// InvalidateByPrefix removes every key starting with prefix.
func (m *Memory) InvalidateByPrefix(_ context.Context, prefix string) error {
	m.mu.Lock()
	for key := range m.entries {
		if strings.HasPrefix(key, prefix) {
			delete(m.entries, key)
		}
	}
	m.mu.Unlock()
	return nil
}

// InvalidateAll empties the store. Counters are preserved, they are cumulative.
func (m *Memory) InvalidateAll(_ context.Context) error {
	m.mu.Lock()
	m.entries = make(map[string]memoryEntry)
	m.mu.Unlock()
	return nil
}

// Stats reports cumulative counters and the live entry count.
func (m *Memory) Stats(_ context.Context) (Stats, error) {
	now := m.clock()
	m.mu.RLock()
	size := 0
	for _, entry := range m.entries {
		if now.Before(entry.expiresAt) {
			size++
		}
	}
	m.mu.RUnlock()
	return Stats{Hits: m.hits.Load(), Misses: m.misses.Load(), Size: size}, nil
}

var _ Store = (*Memory)(nil)
