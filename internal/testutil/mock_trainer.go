// Package testutil provides a mock trainer backend for tests.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"time"
)

// DefaultPageSize matches the backend's list page size.
const DefaultPageSize = 10

// MockResponse defines a fixed response for a path.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// CollectionFunc returns the items of a collection for a query.
type CollectionFunc func(q url.Values) []any

// MockTrainer is a configurable mock trainer REST backend.
type MockTrainer struct {
	server *httptest.Server

	mu          sync.RWMutex
	handlers    map[string]http.HandlerFunc
	collections map[string]CollectionFunc
	delays      map[string]time.Duration
	pageSize    int

	// Tracking
	requestCount int
	pathCounts   map[string]int
	requests     []string
	posts        map[string][]json.RawMessage
}

// NewMockTrainer starts a mock backend.
func NewMockTrainer() *MockTrainer {
	m := &MockTrainer{
		handlers:    make(map[string]http.HandlerFunc),
		collections: make(map[string]CollectionFunc),
		delays:      make(map[string]time.Duration),
		pathCounts:  make(map[string]int),
		posts:       make(map[string][]json.RawMessage),
		pageSize:    DefaultPageSize,
	}

	m.server = httptest.NewServer(http.HandlerFunc(m.serve))
	return m
}

func (m *MockTrainer) serve(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.requestCount++
	m.pathCounts[r.URL.Path]++
	m.requests = append(m.requests, r.Method+" "+r.URL.RequestURI())
	delay := m.delays[r.URL.Path]
	handler, hasHandler := m.handlers[r.Method+" "+r.URL.Path]
	if !hasHandler {
		handler, hasHandler = m.handlers[r.URL.Path]
	}
	collection, hasCollection := m.collections[r.URL.Path]
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}

	switch {
	case hasHandler:
		handler(w, r)
	case hasCollection && r.Method == http.MethodGet:
		m.servePage(w, r, collection(r.URL.Query()))
	default:
		WriteJSON(w, http.StatusNotFound, map[string]string{"detail": "Not found."})
	}
}

// servePage writes one page of items in the paginated list envelope.
func (m *MockTrainer) servePage(w http.ResponseWriter, r *http.Request, items []any) {
	m.mu.RLock()
	size := m.pageSize
	m.mu.RUnlock()

	page := 1
	if p := r.URL.Query().Get("page"); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil || n < 1 {
			WriteJSON(w, http.StatusNotFound, map[string]string{"detail": "Invalid page."})
			return
		}
		page = n
	}

	start := (page - 1) * size
	if start > len(items) || (start == len(items) && page > 1) {
		WriteJSON(w, http.StatusNotFound, map[string]string{"detail": "Invalid page."})
		return
	}
	end := start + size
	if end > len(items) {
		end = len(items)
	}

	pageURL := func(n int) *string {
		q := r.URL.Query()
		if n == 1 {
			q.Del("page")
		} else {
			q.Set("page", strconv.Itoa(n))
		}
		s := m.server.URL + r.URL.Path
		if enc := q.Encode(); enc != "" {
			s += "?" + enc
		}
		return &s
	}

	var next, prev *string
	if end < len(items) {
		next = pageURL(page + 1)
	}
	if page > 1 {
		prev = pageURL(page - 1)
	}

	results := items[start:end]
	if results == nil {
		results = []any{}
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"count":    len(items),
		"next":     next,
		"previous": prev,
		"results":  results,
	})
}

// URL returns the mock server URL.
func (m *MockTrainer) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockTrainer) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockTrainer) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestCount = 0
	m.pathCounts = make(map[string]int)
	m.requests = nil
	m.posts = make(map[string][]json.RawMessage)
}

// SetPageSize changes the page size of every collection.
func (m *MockTrainer) SetPageSize(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pageSize = n
}

// SetHandler sets a custom handler for a path. key is either a path or
// "METHOD /path".
func (m *MockTrainer) SetHandler(key string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[key] = handler
}

// ClearHandler removes a handler set for key, restoring any collection
// served on the same path.
func (m *MockTrainer) ClearHandler(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.handlers, key)
}

// SetResponse configures a fixed response for a path.
func (m *MockTrainer) SetResponse(key string, resp MockResponse) {
	m.SetHandler(key, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}
		for k, v := range resp.Headers {
			w.Header().Set(k, v)
		}
		if w.Header().Get("Content-Type") == "" {
			w.Header().Set("Content-Type", "application/json")
		}
		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// SetJSON serves v as a 200 JSON body on path.
func (m *MockTrainer) SetJSON(key string, v any) {
	m.SetHandler(key, func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, v)
	})
}

// SetCollection serves a fixed list as a paginated collection.
func (m *MockTrainer) SetCollection(path string, items []any) {
	m.SetCollectionFunc(path, func(url.Values) []any { return items })
}

// SetCollectionFunc serves a query-dependent paginated collection.
func (m *MockTrainer) SetCollectionFunc(path string, fn CollectionFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.collections[path] = fn
}

// SetDelay delays every response on path.
func (m *MockTrainer) SetDelay(path string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delays[path] = d
}

// AcceptPosts records JSON bodies posted to path and answers 201 with the
// body plus an assigned id.
func (m *MockTrainer) AcceptPosts(path string, firstID int) {
	var mu sync.Mutex
	nextID := firstID
	m.SetHandler(http.MethodPost+" "+path, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteJSON(w, http.StatusBadRequest, map[string]string{"detail": err.Error()})
			return
		}
		m.recordPost(path, body)

		mu.Lock()
		body["id"] = nextID
		nextID++
		mu.Unlock()

		WriteJSON(w, http.StatusCreated, body)
	})
}

// Posts returns the JSON bodies written (POST or PUT) to path.
func (m *MockTrainer) Posts(path string) []json.RawMessage {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]json.RawMessage(nil), m.posts[path]...)
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockTrainer) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.requestCount
}

// PathCount returns the number of requests made to path.
func (m *MockTrainer) PathCount(path string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pathCounts[path]
}

// Requests returns "METHOD /path?query" for every request, in order.
func (m *MockTrainer) Requests() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.requests...)
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		panic(fmt.Sprintf("testutil: encode response: %v", err))
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"detail": "Internal server error"}`,
	}
}

// NewNotFoundResponse creates a 404 response.
func NewNotFoundResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusNotFound,
		Body:       `{"detail": "Not found."}`,
	}
}

// NewRateLimitResponse creates a 429 Too Many Requests response.
func NewRateLimitResponse(retryAfter int) MockResponse {
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"detail": "Request was throttled."}`,
		Headers:    map[string]string{"Retry-After": strconv.Itoa(retryAfter)},
	}
}
