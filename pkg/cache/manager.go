package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrCacheMiss indicates the requested key was not found in cache
	ErrCacheMiss = errors.New("cache miss")

	// ErrCacheStale accompanies an expired entry that still carries a
	// validator and may be revalidated with a conditional request
	ErrCacheStale = errors.New("cache entry stale")

	// ErrInvalidEntry indicates the cache entry is invalid or corrupted
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// Options configures a Manager.
type Options struct {
	// DefaultTTL applies when a response carries no Expires header.
	DefaultTTL time.Duration

	// StaleRetention keeps expired entries with validators around for
	// conditional requests.
	StaleRetention time.Duration

	// CleanupInterval of the in-process layer.
	CleanupInterval time.Duration
}

// DefaultOptions returns the default manager options.
func DefaultOptions() Options {
	return Options{
		DefaultTTL:      DefaultTTL,
		StaleRetention:  time.Hour,
		CleanupInterval: 5 * time.Minute,
	}
}

// Manager handles caching operations across the memory and Redis layers.
type Manager struct {
	memory *gocache.Cache
	redis  *redis.Client
	opts   Options
}

// NewManager creates a cache manager. redisClient may be nil for a
// memory-only cache.
func NewManager(redisClient *redis.Client, opts Options) *Manager {
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = DefaultTTL
	}
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = 5 * time.Minute
	}
	return &Manager{
		memory: gocache.New(opts.DefaultTTL, opts.CleanupInterval),
		redis:  redisClient,
		opts:   opts,
	}
}

// FromResponse converts a response using the manager's default TTL.
func (m *Manager) FromResponse(resp *http.Response) (*CacheEntry, error) {
	return ResponseToEntryWithTTL(resp, m.opts.DefaultTTL)
}

// Get retrieves a cache entry by key.
// Returns ErrCacheMiss if the key doesn't exist, and the entry together
// with ErrCacheStale if it expired but can be revalidated.
func (m *Manager) Get(ctx context.Context, key CacheKey) (*CacheEntry, error) {
	entry, layer, err := m.lookup(ctx, key)
	if err != nil {
		if errors.Is(err, ErrCacheMiss) {
			CacheMisses.Inc()
		}
		return nil, err
	}

	if entry.IsExpired() {
		if entry.HasValidator() {
			CacheStale.Inc()
			return entry, ErrCacheStale
		}
		_ = m.Delete(ctx, key)
		CacheMisses.Inc()
		return nil, ErrCacheMiss
	}

	CacheHits.WithLabelValues(layer).Inc()
	return entry, nil
}

func (m *Manager) lookup(ctx context.Context, key CacheKey) (*CacheEntry, string, error) {
	cacheKey := key.String()

	if v, ok := m.memory.Get(cacheKey); ok {
		if entry, ok := v.(*CacheEntry); ok {
			return entry, "memory", nil
		}
	}

	if m.redis == nil {
		return nil, "", ErrCacheMiss
	}

	data, err := m.redis.Get(ctx, cacheKey).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, "", ErrCacheMiss
		}
		CacheErrors.WithLabelValues("get").Inc()
		return nil, "", fmt.Errorf("redis get: %w", err)
	}

	var entry CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		CacheErrors.WithLabelValues("get").Inc()
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}

	// promote to the memory layer
	m.memory.Set(cacheKey, &entry, m.retention(&entry))
	return &entry, "redis", nil
}

// Set stores a cache entry with a TTL derived from its Expires field.
func (m *Manager) Set(ctx context.Context, key CacheKey, entry *CacheEntry) error {
	if entry == nil {
		return fmt.Errorf("cache entry cannot be nil")
	}

	retention := m.retention(entry)
	if retention <= 0 {
		// Already expired and not revalidatable
		return nil
	}

	cacheKey := key.String()
	m.memory.Set(cacheKey, entry, retention)

	if m.redis == nil {
		return nil
	}

	data, err := json.Marshal(entry)
	if err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	if err := m.redis.Set(ctx, cacheKey, data, retention).Err(); err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("redis set: %w", err)
	}

	return nil
}

// Delete removes a cache entry from both layers.
func (m *Manager) Delete(ctx context.Context, key CacheKey) error {
	cacheKey := key.String()
	m.memory.Delete(cacheKey)

	if m.redis == nil {
		return nil
	}
	if err := m.redis.Del(ctx, cacheKey).Err(); err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("redis del: %w", err)
	}

	return nil
}

// UpdateTTL moves the expiry of an existing (possibly stale) entry, as
// after a 304 Not Modified response.
func (m *Manager) UpdateTTL(ctx context.Context, key CacheKey, newExpires time.Time) error {
	entry, _, err := m.lookup(ctx, key)
	if err != nil {
		return err
	}

	updated := *entry
	updated.Expires = newExpires
	return m.Set(ctx, key, &updated)
}

// Flush drops every entry of the memory layer.
func (m *Manager) Flush() {
	m.memory.Flush()
}

// retention is how long an entry is kept: its TTL, plus StaleRetention if
// it can be revalidated.
func (m *Manager) retention(entry *CacheEntry) time.Duration {
	ttl := entry.TTL()
	if entry.HasValidator() {
		ttl += m.opts.StaleRetention
	}
	return ttl
}

// DefaultTTL returns the fallback TTL of the manager.
func (m *Manager) DefaultTTL() time.Duration {
	return m.opts.DefaultTTL
}
