// Package client provides the HTTP client used for every call to the
// trainer REST backend, with throttling, reference-data caching and error
// classification.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/medcat-trainer-client/pkg/cache"
	"github.com/Sternrassler/medcat-trainer-client/pkg/ratelimit"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for backend requests.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trainer_requests_total",
		Help: "Total trainer API requests by endpoint and status",
	}, []string{"endpoint", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "trainer_request_duration_seconds",
		Help:    "Trainer API request duration in seconds by endpoint",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"endpoint"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trainer_errors_total",
		Help: "Total trainer API errors by class",
	}, []string{"class"})
)

// ErrorClass represents a classification of request failures.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 429 responses.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents transport failures and timeouts.
	ErrorClassNetwork ErrorClass = "network"
)

// DefaultCachePaths are the reference-data collections whose GET responses
// may be served from cache. Documents, annotations and projects change while
// annotating and are never cached.
var DefaultCachePaths = []string{
	"/api/entities/",
	"/api/concepts/",
	"/api/icd-codes/",
	"/api/opcs-codes/",
	"/api/meta-tasks/",
	"/api/meta-task-values/",
}

// Client is the trainer API client.
type Client struct {
	httpClient *http.Client
	baseURL    *url.URL
	limiter    *ratelimit.Limiter
	cache      *cache.Manager
	config     Config
	logger     zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// BaseURL of the trainer instance, e.g. "http://localhost:8001".
	BaseURL string

	// Token is sent as "Authorization: Token <token>" when set.
	Token string

	UserAgent string

	// Timeout is the upper bound applied to every outbound call.
	Timeout time.Duration

	// Cache for reference lookups; nil disables caching.
	Cache      *cache.Manager
	CachePaths []string

	// Limiter throttles outbound calls; nil disables throttling.
	Limiter *ratelimit.Limiter

	// MaxAttempts per call. 1 means a single attempt and no retry.
	MaxAttempts    int
	InitialBackoff time.Duration
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:        baseURL,
		UserAgent:      "medcat-trainer-client/0.1.0",
		Timeout:        60 * time.Second,
		CachePaths:     DefaultCachePaths,
		MaxAttempts:    1,
		InitialBackoff: 500 * time.Millisecond,
	}
}

// New creates a new trainer API client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}

	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base url must be absolute (got %q)", cfg.BaseURL)
	}

	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("timeout must be > 0 (got %s)", cfg.Timeout)
	}

	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}

	logger := log.With().Str("component", "trainer-client").Logger()

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		baseURL: base,
		limiter: cfg.Limiter,
		cache:   cfg.Cache,
		config:  cfg,
		logger:  logger,
	}, nil
}

// Do performs an HTTP request with throttling, caching and error
// classification. Non-2xx responses are returned as *APIError and the body
// is closed.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	endpoint := req.URL.Path

	startTime := time.Now()
	defer func() {
		requestDuration.WithLabelValues(endpoint).Observe(time.Since(startTime).Seconds())
	}()

	// Step 1: Throttle
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			requestsTotal.WithLabelValues(endpoint, "throttled").Inc()
			return nil, &APIError{
				Class:    ErrorClassNetwork,
				Endpoint: endpoint,
				Message:  "throttle wait aborted",
				Err:      err,
			}
		}
	}

	// Step 2: Check cache
	cacheable := c.isCacheable(req)
	cacheKey := cache.KeyForURL(c.baseURL.Host, req.URL)

	var cachedEntry *cache.CacheEntry
	if cacheable {
		entry, err := c.cache.Get(ctx, cacheKey)
		switch {
		case err == nil:
			c.logger.Debug().Str("endpoint", endpoint).Msg("Serving from cache")
			requestsTotal.WithLabelValues(endpoint, "cached").Inc()
			return cache.EntryToResponse(entry), nil
		case errors.Is(err, cache.ErrCacheStale):
			// keep the validator for a conditional request
			cachedEntry = entry
		case !errors.Is(err, cache.ErrCacheMiss):
			c.logger.Warn().Err(err).Str("endpoint", endpoint).Msg("Cache get error")
		}
	}

	// Step 3: Conditional request if we still hold a validator
	if cachedEntry != nil && cache.ShouldMakeConditionalRequest(cachedEntry) {
		cache.AddConditionalHeaders(req, cachedEntry)
		cache.ConditionalRequestsSent.Inc()
	}

	// Step 4: Headers
	if c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if c.config.Token != "" {
		req.Header.Set("Authorization", "Token "+c.config.Token)
	}

	c.logger.Debug().
		Str("endpoint", endpoint).
		Str("method", req.Method).
		Msg("Executing trainer request")

	// Step 5: Execute
	var resp *http.Response
	var errClass ErrorClass

	retryCfg := RetryConfigForAttempts(c.config.MaxAttempts, c.config.InitialBackoff)
	err := retryWithBackoff(ctx, retryCfg, func() ErrorClass { return errClass }, func() error {
		attemptReq, err := rewindRequest(req)
		if err != nil {
			return err
		}

		var reqErr error
		resp, reqErr = c.httpClient.Do(attemptReq)
		if reqErr != nil {
			errClass = c.classifyError(nil, reqErr)
			errorsTotal.WithLabelValues(string(errClass)).Inc()
			requestsTotal.WithLabelValues(endpoint, "network_error").Inc()
			c.logger.Warn().Err(reqErr).Str("endpoint", endpoint).Msg("HTTP request failed")
			return &APIError{
				Class:    errClass,
				Endpoint: endpoint,
				Message:  "transport failure",
				Err:      reqErr,
			}
		}

		if c.limiter != nil {
			c.limiter.UpdateFromResponse(resp)
		}

		if resp.StatusCode == http.StatusNotModified {
			return nil
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			errClass = c.classifyError(resp, nil)
			errorsTotal.WithLabelValues(string(errClass)).Inc()
			requestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()

			c.logger.Warn().
				Str("endpoint", endpoint).
				Int("status", resp.StatusCode).
				Str("error_class", string(errClass)).
				Msg("Trainer request error")

			apiErr := &APIError{
				StatusCode: resp.StatusCode,
				Class:      errClass,
				Endpoint:   endpoint,
				Message:    readErrorBody(resp),
			}
			resp.Body.Close()
			resp = nil
			return apiErr
		}

		requestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()
		return nil
	})
	if err != nil {
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		return nil, err
	}

	// Step 6: 304 Not Modified
	if resp.StatusCode == http.StatusNotModified && cachedEntry != nil {
		c.logger.Debug().Str("endpoint", endpoint).Msg("304 Not Modified - using cache")
		cache.NotModifiedResponses.Inc()
		resp.Body.Close()

		newExpires := time.Now().Add(c.cache.DefaultTTL())
		if expiresStr := resp.Header.Get("Expires"); expiresStr != "" {
			if parsed, err := http.ParseTime(expiresStr); err == nil {
				newExpires = parsed
			}
		}
		if err := c.cache.UpdateTTL(ctx, cacheKey, newExpires); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to update cache TTL")
		}
		return cache.EntryToResponse(cachedEntry), nil
	}

	// Step 7: Update cache
	if cacheable && resp.StatusCode == http.StatusOK {
		entry, err := c.cache.FromResponse(resp)
		if err != nil {
			c.logger.Warn().Err(err).Msg("Failed to create cache entry")
		} else if err := c.cache.Set(ctx, cacheKey, entry); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to cache response")
		}
	}

	return resp, nil
}

// classifyError categorizes a failure for observability.
func (c *Client) classifyError(resp *http.Response, err error) ErrorClass {
	if err != nil {
		return ErrorClassNetwork
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return ErrorClassRateLimit
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return ErrorClassClient
	case resp.StatusCode >= 500:
		return ErrorClassServer
	default:
		// 1xx/3xx outside the success range
		return ErrorClassClient
	}
}

func (c *Client) isCacheable(req *http.Request) bool {
	if c.cache == nil || req.Method != http.MethodGet {
		return false
	}
	for _, prefix := range c.config.CachePaths {
		if strings.HasPrefix(req.URL.Path, prefix) {
			return true
		}
	}
	return false
}

// Resolve turns a path ("/api/documents/?dataset=1") or an absolute cursor
// URL returned by the backend into a request URL.
func (c *Client) Resolve(ref string) (*url.URL, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return nil, fmt.Errorf("parse url %q: %w", ref, err)
	}
	return c.baseURL.ResolveReference(u), nil
}

// Get performs a GET request against a path or cursor URL.
func (c *Client) Get(ctx context.Context, ref string) (*http.Response, error) {
	u, err := c.Resolve(ref)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return c.Do(req)
}

// GetJSON performs a GET and decodes the JSON body into out.
func (c *Client) GetJSON(ctx context.Context, ref string, out any) error {
	resp, err := c.Get(ctx, ref)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeBody(resp, out)
}

// PostJSON sends body as JSON and decodes the response into out (if non-nil).
func (c *Client) PostJSON(ctx context.Context, ref string, body, out any) error {
	return c.sendJSON(ctx, http.MethodPost, ref, body, out)
}

// PutJSON replaces the resource at ref with body.
func (c *Client) PutJSON(ctx context.Context, ref string, body, out any) error {
	return c.sendJSON(ctx, http.MethodPut, ref, body, out)
}

func (c *Client) sendJSON(ctx context.Context, method, ref string, body, out any) error {
	u, err := c.Resolve(ref)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return decodeBody(resp, out)
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// HTTPClient returns the underlying HTTP client.
func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

func decodeBody(resp *http.Response, out any) error {
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		endpoint := ""
		if resp.Request != nil {
			endpoint = resp.Request.URL.Path
		}
		return &APIError{
			StatusCode: resp.StatusCode,
			Class:      ErrorClassServer,
			Endpoint:   endpoint,
			Message:    "decode response body",
			Err:        err,
		}
	}
	return nil
}

// rewindRequest returns a request whose body can be read again for a retry.
func rewindRequest(req *http.Request) (*http.Request, error) {
	if req.Body == nil || req.GetBody == nil {
		return req, nil
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, fmt.Errorf("rewind request body: %w", err)
	}
	clone := req.Clone(req.Context())
	clone.Body = body
	return clone, nil
}

func readErrorBody(resp *http.Response) string {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	msg := strings.TrimSpace(string(data))
	if msg == "" {
		return resp.Status
	}
	return msg
}
