package client

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Sternrassler/medcat-trainer-client/pkg/cache"
	"github.com/jarcoal/httpmock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const mockBase = "http://trainer.test"

// newMockedClient returns a client whose transport is intercepted by httpmock.
func newMockedClient(t *testing.T, mutate ...func(*Config)) *Client {
	t.Helper()
	cfg := DefaultConfig(mockBase)
	for _, m := range mutate {
		m(&cfg)
	}
	c, err := New(cfg)
	require.NoError(t, err)

	httpmock.ActivateNonDefault(c.HTTPClient())
	t.Cleanup(httpmock.DeactivateAndReset)
	return c
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name     string
		config   Config
		errorMsg string
	}{
		{
			name:   "valid config",
			config: DefaultConfig("http://localhost:8001"),
		},
		{
			name:     "empty base url",
			config:   Config{Timeout: time.Second},
			errorMsg: "base url is required",
		},
		{
			name:     "relative base url",
			config:   Config{BaseURL: "/api", Timeout: time.Second},
			errorMsg: `base url must be absolute (got "/api")`,
		},
		{
			name:     "zero timeout",
			config:   Config{BaseURL: "http://localhost:8001"},
			errorMsg: "timeout must be > 0 (got 0s)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(tt.config)
			if tt.errorMsg != "" {
				require.Error(t, err)
				assert.Equal(t, tt.errorMsg, err.Error())
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, c)
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("http://localhost:8001")

	assert.Equal(t, 1, cfg.MaxAttempts, "no retry by default")
	assert.Equal(t, 60*time.Second, cfg.Timeout)
	assert.Equal(t, DefaultCachePaths, cfg.CachePaths)
	assert.NotEmpty(t, cfg.UserAgent)
}

func TestClassifyError(t *testing.T) {
	c := &Client{logger: zerolog.Nop()}

	tests := []struct {
		name       string
		statusCode int
		err        error
		expected   ErrorClass
	}{
		{"network error", 0, io.EOF, ErrorClassNetwork},
		{"not found", 404, nil, ErrorClassClient},
		{"forbidden", 403, nil, ErrorClassClient},
		{"too many requests", 429, nil, ErrorClassRateLimit},
		{"server error", 500, nil, ErrorClassServer},
		{"bad gateway", 502, nil, ErrorClassServer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp *http.Response
			if tt.statusCode > 0 {
				resp = &http.Response{StatusCode: tt.statusCode}
			}
			assert.Equal(t, tt.expected, c.classifyError(resp, tt.err))
		})
	}
}

func TestResolve(t *testing.T) {
	c, err := New(DefaultConfig("http://localhost:8001"))
	require.NoError(t, err)

	u, err := c.Resolve("/api/documents/?dataset=1")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8001/api/documents/?dataset=1", u.String())

	// cursor URLs from the backend are absolute
	u, err = c.Resolve("http://backend:8000/api/documents/?dataset=1&page=2")
	require.NoError(t, err)
	assert.Equal(t, "http://backend:8000/api/documents/?dataset=1&page=2", u.String())
}

func TestGetJSON_SetsHeaders(t *testing.T) {
	c := newMockedClient(t, func(cfg *Config) { cfg.Token = "secret" })

	httpmock.RegisterResponder(http.MethodGet, mockBase+"/api/entities/7/",
		func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "Token secret", req.Header.Get("Authorization"))
			assert.Equal(t, "application/json", req.Header.Get("Accept"))
			assert.NotEmpty(t, req.Header.Get("X-Request-ID"))
			assert.NotEmpty(t, req.Header.Get("User-Agent"))
			return httpmock.NewStringResponse(200, `{"id": 7, "label": "C0027051"}`), nil
		})

	var out struct {
		Label string `json:"label"`
	}
	require.NoError(t, c.GetJSON(context.Background(), "/api/entities/7/", &out))
	assert.Equal(t, "C0027051", out.Label)
}

func TestGetJSON_Non2xxIsNetworkError(t *testing.T) {
	c := newMockedClient(t)

	httpmock.RegisterResponder(http.MethodGet, mockBase+"/api/documents/",
		httpmock.NewStringResponder(500, `{"detail": "boom"}`))

	var out map[string]any
	err := c.GetJSON(context.Background(), "/api/documents/?dataset=1", &out)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNetwork))

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 500, apiErr.StatusCode)
	assert.Equal(t, ErrorClassServer, apiErr.Class)
	assert.Equal(t, "/api/documents/", apiErr.Endpoint)
	assert.Contains(t, apiErr.Message, "boom")

	// single attempt, no built-in retry
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestGetJSON_TransportFailure(t *testing.T) {
	c := newMockedClient(t)

	httpmock.RegisterResponder(http.MethodGet, mockBase+"/api/concepts/",
		httpmock.NewErrorResponder(errors.New("connection refused")))

	var out map[string]any
	err := c.GetJSON(context.Background(), "/api/concepts/?cui=C1", &out)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNetwork)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, ErrorClassNetwork, apiErr.Class)
}

func TestGetJSON_DecodeError(t *testing.T) {
	c := newMockedClient(t)
	httpmock.RegisterResponder(http.MethodGet, mockBase+"/api/meta-tasks/",
		httpmock.NewStringResponder(200, `not json`))

	var out map[string]any
	err := c.GetJSON(context.Background(), "/api/meta-tasks/", &out)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNetwork)
}

func TestPostJSON(t *testing.T) {
	c := newMockedClient(t)

	httpmock.RegisterResponder(http.MethodPost, mockBase+"/api/meta-annotations/",
		func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
			body, _ := io.ReadAll(req.Body)
			assert.JSONEq(t, `{"annotated_entity": 5, "meta_task": 2, "meta_task_value": 3, "validated": true}`, string(body))
			return httpmock.NewStringResponse(201, `{"id": 99, "meta_task": 2, "meta_task_value": 3}`), nil
		})

	payload := map[string]any{"annotated_entity": 5, "meta_task": 2, "meta_task_value": 3, "validated": true}
	var out struct {
		ID int `json:"id"`
	}
	require.NoError(t, c.PostJSON(context.Background(), "/api/meta-annotations/", payload, &out))
	assert.Equal(t, 99, out.ID)
}

func TestPutJSON(t *testing.T) {
	c := newMockedClient(t)

	httpmock.RegisterResponder(http.MethodPut, mockBase+"/api/meta-annotations/17/",
		func(req *http.Request) (*http.Response, error) {
			body, _ := io.ReadAll(req.Body)
			assert.JSONEq(t, `{"meta_task_value": 4}`, string(body))
			return httpmock.NewStringResponse(200, `{"id": 17, "meta_task_value": 4}`), nil
		})

	var out struct {
		ID    int `json:"id"`
		Value int `json:"meta_task_value"`
	}
	require.NoError(t, c.PutJSON(context.Background(), "/api/meta-annotations/17/", map[string]int{"meta_task_value": 4}, &out))
	assert.Equal(t, 17, out.ID)
	assert.Equal(t, 4, out.Value)
}

func TestPostJSON_NeverCached(t *testing.T) {
	c := newMockedClient(t, func(cfg *Config) {
		cfg.Cache = cache.NewManager(nil, cache.DefaultOptions())
		cfg.CachePaths = []string{"/api/"}
	})
	httpmock.RegisterResponder(http.MethodPost, mockBase+"/api/meta-annotations/",
		httpmock.NewStringResponder(201, `{"id": 1}`))

	for i := 0; i < 2; i++ {
		require.NoError(t, c.PostJSON(context.Background(), "/api/meta-annotations/", map[string]int{"a": 1}, nil))
	}
	assert.Equal(t, 2, httpmock.GetTotalCallCount())
}

func TestDo_CachesReferenceLookups(t *testing.T) {
	c := newMockedClient(t, func(cfg *Config) {
		cfg.Cache = cache.NewManager(nil, cache.DefaultOptions())
	})

	httpmock.RegisterResponder(http.MethodGet, mockBase+"/api/concepts/",
		httpmock.NewStringResponder(200, `{"count": 1, "results": [{"cui": "C1"}]}`))
	httpmock.RegisterResponder(http.MethodGet, mockBase+"/api/documents/",
		httpmock.NewStringResponder(200, `{"count": 0, "results": []}`))

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		var out map[string]any
		require.NoError(t, c.GetJSON(ctx, "/api/concepts/?cui=C1", &out))
		require.NoError(t, c.GetJSON(ctx, "/api/documents/?dataset=1", &out))
	}

	info := httpmock.GetCallCountInfo()
	assert.Equal(t, 1, info["GET "+mockBase+"/api/concepts/"], "concept lookups are cached")
	assert.Equal(t, 3, info["GET "+mockBase+"/api/documents/"], "documents are never cached")
}

func TestDo_ConditionalRevalidation(t *testing.T) {
	var hits, conditional atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("If-None-Match") == `"v1"` {
			conditional.Add(1)
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		// already expired: next call must revalidate
		w.Header().Set("Expires", time.Now().Add(-time.Minute).Format(http.TimeFormat))
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"label": "C0027051"}`))
	}))
	defer server.Close()

	cfg := DefaultConfig(server.URL)
	cfg.Cache = cache.NewManager(nil, cache.DefaultOptions())
	c, err := New(cfg)
	require.NoError(t, err)

	ctx := context.Background()
	var first, second struct {
		Label string `json:"label"`
	}
	require.NoError(t, c.GetJSON(ctx, "/api/entities/1/", &first))
	require.NoError(t, c.GetJSON(ctx, "/api/entities/1/", &second))

	assert.Equal(t, "C0027051", second.Label, "304 is served from the cached body")
	assert.Equal(t, int32(2), hits.Load())
	assert.Equal(t, int32(1), conditional.Load())

	// the 304 refreshed the TTL
	var third struct {
		Label string `json:"label"`
	}
	require.NoError(t, c.GetJSON(ctx, "/api/entities/1/", &third))
	assert.Equal(t, int32(2), hits.Load())
}

func TestDo_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := DefaultConfig(server.URL)
	cfg.Timeout = 20 * time.Millisecond
	c, err := New(cfg)
	require.NoError(t, err)

	_, err = c.Get(context.Background(), "/api/documents/")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNetwork)
}

func TestDo_RetryWhenConfigured(t *testing.T) {
	c := newMockedClient(t, func(cfg *Config) {
		cfg.MaxAttempts = 3
		cfg.InitialBackoff = time.Millisecond
	})

	var calls int
	httpmock.RegisterResponder(http.MethodPost, mockBase+"/api/meta-annotations/",
		func(req *http.Request) (*http.Response, error) {
			calls++
			body, _ := io.ReadAll(req.Body)
			assert.JSONEq(t, `{"x": 1}`, string(body), "body is replayed on retry")
			if calls < 3 {
				return httpmock.NewStringResponse(503, "unavailable"), nil
			}
			return httpmock.NewStringResponse(201, `{}`), nil
		})

	require.NoError(t, c.PostJSON(context.Background(), "/api/meta-annotations/", map[string]int{"x": 1}, nil))
	assert.Equal(t, 3, calls)
}
