// Package metrics exposes the Prometheus registry used by the trainer client.
// Metrics are defined in the packages that record them (client, cache,
// ratelimit, pagination, guard, enrich, navigator) and registered through
// promauto on the default registerer.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the registerer every package registers its metrics with.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the gatherer matching Registry.
var Gatherer = prometheus.DefaultGatherer

// Handler serves Registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - trainer_requests_total{endpoint, status} (Counter)
//   - trainer_request_duration_seconds{endpoint} (Histogram)
//   - trainer_errors_total{class} (Counter): client, server, rate_limit, network
//   - trainer_retries_total{error_class}, trainer_retry_backoff_seconds{error_class},
//     trainer_retry_exhausted_total{error_class}: only with MaxAttempts > 1
//
// Cache Metrics (pkg/cache):
//   - trainer_cache_hits_total{layer} (Counter): memory, redis
//   - trainer_cache_misses_total, trainer_cache_stale_total (Counter)
//   - trainer_304_responses_total, trainer_conditional_requests_total (Counter)
//   - trainer_cache_errors_total{operation} (Counter)
//
// Throttle Metrics (pkg/ratelimit):
//   - trainer_throttle_wait_seconds (Histogram)
//   - trainer_rate_limit_blocks_total (Counter): 429 responses honoured
//
// Navigation Metrics:
//   - trainer_pages_fetched_total{walker}, trainer_walks_total{walker, outcome} (pkg/pagination)
//   - trainer_stale_responses_dropped_total{guard} (pkg/guard)
//   - trainer_enrichments_total{outcome}, trainer_enrichment_duration_seconds,
//     trainer_meta_annotations_written_total{kind} (pkg/enrich)
//   - trainer_navigator_selections_total{kind}, trainer_navigator_loaded_documents (pkg/navigator)
//
// Example Prometheus Queries:
//
//   # Cache hit rate for reference lookups
//   sum(rate(trainer_cache_hits_total[5m])) /
//   (sum(rate(trainer_cache_hits_total[5m])) + sum(rate(trainer_cache_misses_total[5m])))
//
//   # Share of enrichments that came back partial
//   rate(trainer_enrichments_total{outcome="partial"}[5m]) / rate(trainer_enrichments_total[5m])
//
//   # Walks cut by the page budget
//   rate(trainer_walks_total{outcome="budget"}[5m])
