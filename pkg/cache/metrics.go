package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks cache hits by layer (memory, redis)
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trainer_cache_hits_total",
			Help: "Total number of trainer cache hits",
		},
		[]string{"layer"},
	)

	// CacheMisses tracks cache misses
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "trainer_cache_misses_total",
			Help: "Total number of trainer cache misses",
		},
	)

	// CacheStale tracks expired entries handed out for revalidation
	CacheStale = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "trainer_cache_stale_total",
			Help: "Total number of expired entries returned for revalidation",
		},
	)

	// NotModifiedResponses tracks 304 Not Modified responses
	NotModifiedResponses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "trainer_304_responses_total",
			Help: "Total number of 304 Not Modified responses",
		},
	)

	// ConditionalRequestsSent tracks requests sent with a validator
	ConditionalRequestsSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "trainer_conditional_requests_total",
			Help: "Total number of conditional requests sent",
		},
	)

	// CacheErrors tracks cache operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trainer_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"operation"}, // "get", "set", "delete"
	)
)
