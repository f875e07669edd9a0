package cache

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// setupTestRedis connects to a local Redis and skips when none is running.
// The integration build tag runs the same checks against a container.
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // Use a separate DB for tests
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available for testing: %v", err)
	}

	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("Failed to flush test DB: %v", err)
	}

	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})

	return client
}

func freshEntry() *CacheEntry {
	return &CacheEntry{
		Data:       []byte(`{"results": [{"cui": "C0027051"}]}`),
		ETag:       `"abc123"`,
		Expires:    time.Now().Add(5 * time.Minute),
		StatusCode: 200,
		Headers:    http.Header{"Content-Type": []string{"application/json"}},
		CachedAt:   time.Now(),
	}
}

func TestNewManager_Defaults(t *testing.T) {
	m := NewManager(nil, Options{})
	if m.DefaultTTL() != DefaultTTL {
		t.Errorf("DefaultTTL() = %v, want %v", m.DefaultTTL(), DefaultTTL)
	}
	if m.redis != nil {
		t.Error("memory-only manager should have no redis client")
	}
}

func testManagerSetAndGet(t *testing.T, m *Manager) {
	t.Helper()
	ctx := context.Background()
	key := CacheKey{Endpoint: "/api/concepts/"}

	if _, err := m.Get(ctx, key); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("Get() on empty cache error = %v, want ErrCacheMiss", err)
	}

	entry := freshEntry()
	if err := m.Set(ctx, key, entry); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, err := m.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(got.Data) != string(entry.Data) {
		t.Errorf("Data = %q, want %q", got.Data, entry.Data)
	}
	if got.ETag != entry.ETag {
		t.Errorf("ETag = %q, want %q", got.ETag, entry.ETag)
	}

	if err := m.Delete(ctx, key); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := m.Get(ctx, key); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Get() after Delete error = %v, want ErrCacheMiss", err)
	}
}

func TestManager_SetAndGet_Memory(t *testing.T) {
	testManagerSetAndGet(t, NewManager(nil, DefaultOptions()))
}

func TestManager_SetAndGet_Redis(t *testing.T) {
	testManagerSetAndGet(t, NewManager(setupTestRedis(t), DefaultOptions()))
}

func TestManager_RedisPromotesToMemory(t *testing.T) {
	client := setupTestRedis(t)
	ctx := context.Background()
	key := CacheKey{Endpoint: "/api/icd-codes/"}

	writer := NewManager(client, DefaultOptions())
	if err := writer.Set(ctx, key, freshEntry()); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	// a second process sharing Redis
	reader := NewManager(client, DefaultOptions())
	if _, err := reader.Get(ctx, key); err != nil {
		t.Fatalf("Get() via redis error = %v", err)
	}
	if _, ok := reader.memory.Get(key.String()); !ok {
		t.Error("entry was not promoted to the memory layer")
	}
}

func TestManager_StaleEntryWithValidator(t *testing.T) {
	m := NewManager(nil, DefaultOptions())
	ctx := context.Background()
	key := CacheKey{Endpoint: "/api/concepts/"}

	entry := freshEntry()
	if err := m.Set(ctx, key, entry); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	entry.Expires = time.Now().Add(-time.Second)

	got, err := m.Get(ctx, key)
	if !errors.Is(err, ErrCacheStale) {
		t.Fatalf("Get() error = %v, want ErrCacheStale", err)
	}
	if got == nil || got.ETag != `"abc123"` {
		t.Fatalf("stale Get() should return the entry with its validator, got %+v", got)
	}

	if err := m.UpdateTTL(ctx, key, time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("UpdateTTL() error = %v", err)
	}
	if _, err := m.Get(ctx, key); err != nil {
		t.Errorf("Get() after UpdateTTL error = %v", err)
	}
}

func TestManager_ExpiredWithoutValidator(t *testing.T) {
	m := NewManager(nil, DefaultOptions())
	ctx := context.Background()
	key := CacheKey{Endpoint: "/api/meta-tasks/"}

	entry := freshEntry()
	entry.ETag = ""
	if err := m.Set(ctx, key, entry); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	entry.Expires = time.Now().Add(-time.Second)

	if _, err := m.Get(ctx, key); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Get() error = %v, want ErrCacheMiss", err)
	}
}

func TestManager_SetRejectsNilAndSkipsExpired(t *testing.T) {
	m := NewManager(nil, DefaultOptions())
	ctx := context.Background()
	key := CacheKey{Endpoint: "/api/concepts/"}

	if err := m.Set(ctx, key, nil); err == nil {
		t.Error("Set(nil) should fail")
	}

	expired := freshEntry()
	expired.ETag = ""
	expired.Expires = time.Now().Add(-time.Minute)
	if err := m.Set(ctx, key, expired); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if _, err := m.Get(ctx, key); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("expired entry should not be stored, Get() error = %v", err)
	}
}

func TestManager_UpdateTTL_Miss(t *testing.T) {
	m := NewManager(nil, DefaultOptions())
	err := m.UpdateTTL(context.Background(), CacheKey{Endpoint: "/nope/"}, time.Now().Add(time.Minute))
	if !errors.Is(err, ErrCacheMiss) {
		t.Errorf("UpdateTTL() error = %v, want ErrCacheMiss", err)
	}
}
