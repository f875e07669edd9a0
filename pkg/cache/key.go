package cache

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// CacheKey identifies a cached trainer response.
type CacheKey struct {
	// Scope separates trainer instances sharing one Redis (usually the host).
	Scope string

	// Endpoint is the request path (e.g. "/api/concepts/")
	Endpoint string

	// QueryParams are the query parameters (e.g. {"cui": "C0027051"})
	QueryParams url.Values
}

// String generates a deterministic cache key string.
// Format: mct[:scope]:endpoint:query1=val1:query2=val2
//
// Example:
//
//	mct:localhost:8001:api/concepts:cui=C0027051
func (k CacheKey) String() string {
	parts := []string{"mct"}

	if k.Scope != "" {
		parts = append(parts, k.Scope)
	}

	endpoint := strings.Trim(k.Endpoint, "/")
	if endpoint != "" {
		parts = append(parts, endpoint)
	}

	// Query params sorted for determinism; multi-valued params keep order
	if len(k.QueryParams) > 0 {
		queryKeys := make([]string, 0, len(k.QueryParams))
		for key := range k.QueryParams {
			queryKeys = append(queryKeys, key)
		}
		sort.Strings(queryKeys)

		for _, key := range queryKeys {
			parts = append(parts, fmt.Sprintf("%s=%s", key, strings.Join(k.QueryParams[key], ",")))
		}
	}

	return strings.Join(parts, ":")
}

// KeyForURL builds the key of a request URL.
func KeyForURL(scope string, u *url.URL) CacheKey {
	return CacheKey{
		Scope:       scope,
		Endpoint:    u.Path,
		QueryParams: u.Query(),
	}
}
