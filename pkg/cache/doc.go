// Package cache provides the response cache for trainer reference lookups.
//
// Concept records, ICD-10/OPCS-4 codes, entity labels and meta-task
// definitions do not change while an annotator works through a project, so
// their GET responses are cached. Documents, annotated entities and
// meta-annotations are never cached.
//
// The manager has two layers:
//
//   - an in-process layer (github.com/patrickmn/go-cache), always present
//   - an optional Redis layer shared between processes
//
// # Basic Usage
//
//	redisClient := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	manager := cache.NewManager(redisClient, cache.DefaultOptions())
//
//	key := cache.CacheKey{
//		Scope:       "trainer.example.org",
//		Endpoint:    "/api/concepts/",
//		QueryParams: url.Values{"cui": []string{"C0027051"}},
//	}
//
//	entry, err := manager.Get(ctx, key)
//	switch {
//	case err == nil:
//		// fresh hit
//	case errors.Is(err, cache.ErrCacheStale):
//		// expired, revalidate with cache.AddConditionalHeaders
//	case errors.Is(err, cache.ErrCacheMiss):
//		// fetch from the backend
//	}
//
// Pass a nil Redis client for a memory-only cache.
//
// # Expiry
//
// The Expires header is honored when the backend sends one; otherwise the
// manager's DefaultTTL applies. Entries carrying an ETag or Last-Modified
// validator are retained for StaleRetention after expiry so the client can
// send If-None-Match / If-Modified-Since and accept a 304.
//
// # Metrics
//
//   - trainer_cache_hits_total{layer} - Cache hits by layer (memory, redis)
//   - trainer_cache_misses_total - Cache misses
//   - trainer_cache_stale_total - Expired entries returned for revalidation
//   - trainer_304_responses_total - Conditional request successes
//   - trainer_conditional_requests_total - Conditional requests sent
//   - trainer_cache_errors_total{operation} - Cache operation errors
package cache
