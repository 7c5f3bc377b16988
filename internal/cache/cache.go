package cache

import (
	"context"
	"path"
	"strings"
	"sync"
	"time"

	"autopress/internal/logger"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultMemoryMax bounds the in-process tier.
	DefaultMemoryMax = 1000

	// DefaultMemoryTTL keeps the in-process tier hot but short-lived;
	// Redis is the tier that carries real TTLs.
	DefaultMemoryTTL = 30 * time.Second

	keyPrefix = "cache:"
	tagPrefix = "cache:tag:"
)

// Stats reports cache effectiveness and degradation.
type Stats struct {
	Hits          int64 `json:"hits"`
	Misses        int64 `json:"misses"`
	MemoryHits    int64 `json:"memory_hits"`
	RedisHits     int64 `json:"redis_hits"`
	Sets          int64 `json:"sets"`
	Evictions     int64 `json:"evictions"`
	RedisErrors   int64 `json:"redis_errors"`
	MemoryEntries int   `json:"memory_entries"`
}

type memoryEntry struct {
	value   []byte
	tags    []string
	expires time.Time
}

// Manager is the two-tier cache: a small bounded in-process map in
// front of Redis. Redis being down degrades reads and writes to the
// memory tier; callers never see the failure.
type Manager struct {
	rdb        redis.UniversalClient
	memoryMax  int
	memoryTTL  time.Duration
	defaultTTL time.Duration

	mu     sync.Mutex
	memory map[string]memoryEntry
	order  []string // insertion order for FIFO eviction
	stats  Stats
}

// NewManager creates a cache manager. rdb may be nil for a
// memory-only cache (tests, or deployments without Redis).
func NewManager(rdb redis.UniversalClient, memoryMax int, memoryTTL, defaultTTL time.Duration) *Manager {
	if memoryMax <= 0 {
		memoryMax = DefaultMemoryMax
	}
	if memoryTTL <= 0 {
		memoryTTL = DefaultMemoryTTL
	}
	if defaultTTL <= 0 {
		defaultTTL = time.Hour
	}
	return &Manager{
		rdb:        rdb,
		memoryMax:  memoryMax,
		memoryTTL:  memoryTTL,
		defaultTTL: defaultTTL,
		memory:     make(map[string]memoryEntry),
	}
}

// Get returns the cached value for key, checking the memory tier
// first, then Redis. A Redis hit repopulates the memory tier.
func (m *Manager) Get(ctx context.Context, key string) ([]byte, bool) {
	m.mu.Lock()
	if entry, ok := m.memory[key]; ok {
		if time.Now().Before(entry.expires) {
			m.stats.Hits++
			m.stats.MemoryHits++
			value := entry.value
			m.mu.Unlock()
			return value, true
		}
		m.removeLocked(key)
	}
	m.mu.Unlock()

	if m.rdb != nil {
		value, err := m.rdb.Get(ctx, keyPrefix+key).Bytes()
		switch {
		case err == nil:
			m.mu.Lock()
			m.stats.Hits++
			m.stats.RedisHits++
			m.putMemoryLocked(key, value, nil)
			m.mu.Unlock()
			return value, true
		case err != redis.Nil:
			m.redisError("get", err)
		}
	}

	m.mu.Lock()
	m.stats.Misses++
	m.mu.Unlock()
	return nil, false
}

// Set stores a value under key with the given TTL and tags. A zero
// TTL uses the manager default.
func (m *Manager) Set(ctx context.Context, key string, value []byte, ttl time.Duration, tags ...string) {
	if ttl <= 0 {
		ttl = m.defaultTTL
	}

	m.mu.Lock()
	m.stats.Sets++
	m.putMemoryLocked(key, value, tags)
	m.mu.Unlock()

	if m.rdb == nil {
		return
	}
	if err := m.rdb.Set(ctx, keyPrefix+key, value, ttl).Err(); err != nil {
		m.redisError("set", err)
		return
	}
	for _, tag := range tags {
		tagKey := tagPrefix + tag
		if err := m.rdb.SAdd(ctx, tagKey, keyPrefix+key).Err(); err != nil {
			m.redisError("tag", err)
			continue
		}
		// The index lives as long as the longest entry under it.
		if err := m.rdb.Expire(ctx, tagKey, ttl).Err(); err != nil {
			m.redisError("tag expire", err)
		}
	}
}

// InvalidateByTag removes every entry registered under the tag, in
// both tiers.
func (m *Manager) InvalidateByTag(ctx context.Context, tag string) {
	m.mu.Lock()
	for key, entry := range m.memory {
		for _, t := range entry.tags {
			if t == tag {
				m.removeLocked(key)
				break
			}
		}
	}
	m.mu.Unlock()

	if m.rdb == nil {
		return
	}
	tagKey := tagPrefix + tag
	members, err := m.rdb.SMembers(ctx, tagKey).Result()
	if err != nil {
		m.redisError("tag members", err)
		return
	}
	if len(members) > 0 {
		if err := m.rdb.Del(ctx, members...).Err(); err != nil {
			m.redisError("tag del", err)
		}
		// Entries repopulated from Redis carry no tags in the memory
		// tier; drop them by key so a tag invalidation is not deferred
		// until the memory TTL runs out.
		m.dropMemoryKeys(members)
	}
	if err := m.rdb.Del(ctx, tagKey).Err(); err != nil {
		m.redisError("tag index del", err)
	}
}

// InvalidateByPattern removes entries whose key matches the glob
// pattern (e.g. "articles:*").
func (m *Manager) InvalidateByPattern(ctx context.Context, pattern string) {
	m.mu.Lock()
	for key := range m.memory {
		if matched, _ := path.Match(pattern, key); matched {
			m.removeLocked(key)
		}
	}
	m.mu.Unlock()

	if m.rdb == nil {
		return
	}
	iter := m.rdb.Scan(ctx, 0, keyPrefix+pattern, 200).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		m.redisError("scan", err)
		return
	}
	if len(keys) > 0 {
		if err := m.rdb.Del(ctx, keys...).Err(); err != nil {
			m.redisError("pattern del", err)
		}
	}
}

// ClearAll empties both tiers.
func (m *Manager) ClearAll(ctx context.Context) {
	m.mu.Lock()
	m.memory = make(map[string]memoryEntry)
	m.order = nil
	m.mu.Unlock()

	if m.rdb == nil {
		return
	}
	iter := m.rdb.Scan(ctx, 0, keyPrefix+"*", 200).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		m.redisError("scan", err)
		return
	}
	if len(keys) > 0 {
		if err := m.rdb.Del(ctx, keys...).Err(); err != nil {
			m.redisError("clear", err)
		}
	}
}

// Stats returns a snapshot of cache statistics.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.stats
	s.MemoryEntries = len(m.memory)
	return s
}

// putMemoryLocked inserts into the memory tier, evicting the oldest
// entry when full. Caller holds the lock.
func (m *Manager) putMemoryLocked(key string, value []byte, tags []string) {
	if _, exists := m.memory[key]; !exists {
		if len(m.memory) >= m.memoryMax {
			oldest := m.order[0]
			m.removeLocked(oldest)
			m.stats.Evictions++
		}
		m.order = append(m.order, key)
	}
	m.memory[key] = memoryEntry{
		value:   value,
		tags:    tags,
		expires: time.Now().Add(m.memoryTTL),
	}
}

// dropMemoryKeys removes memory-tier entries by their prefixed Redis
// keys, regardless of the tag metadata the entries carry locally.
func (m *Manager) dropMemoryKeys(members []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, member := range members {
		m.removeLocked(strings.TrimPrefix(member, keyPrefix))
	}
}

func (m *Manager) removeLocked(key string) {
	delete(m.memory, key)
	for i, k := range m.order {
		if k == key {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

func (m *Manager) redisError(op string, err error) {
	m.mu.Lock()
	m.stats.RedisErrors++
	m.mu.Unlock()
	if !strings.Contains(err.Error(), "context canceled") {
		logger.Warn("cache redis operation failed", "op", op, "error", err.Error())
	}
}
