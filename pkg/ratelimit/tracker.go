package ratelimit

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Prometheus metrics for throttling.
var (
	throttleWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "trainer_throttle_wait_seconds",
		Help:    "Time spent waiting for the client-side throttle",
		Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5},
	})

	rateLimitBlocksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trainer_rate_limit_blocks_total",
		Help: "Total number of 429 responses that blocked further requests",
	})
)

// Retry-After fallback when a 429 carries no usable header.
const DefaultRetryAfter = 5 * time.Second

// MaxRetryAfter caps how long a single 429 may block.
const MaxRetryAfter = 2 * time.Minute

// Limiter paces requests and honors 429 Retry-After windows.
type Limiter struct {
	mu     sync.Mutex
	bucket *rate.Limiter
	state  State
	logger zerolog.Logger
}

// NewLimiter creates a limiter allowing rps requests per second with the
// given burst. rps <= 0 disables proactive pacing.
func NewLimiter(rps float64, burst int, logger zerolog.Logger) *Limiter {
	limit := rate.Limit(rps)
	if rps <= 0 {
		limit = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		bucket: rate.NewLimiter(limit, burst),
		logger: logger,
	}
}

// Wait blocks until a request may be sent or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	start := time.Now()
	defer func() {
		throttleWaitSeconds.Observe(time.Since(start).Seconds())
	}()

	st := l.State()
	if wait := st.TimeUntilUnblocked(); wait > 0 {
		l.logger.Warn().
			Dur("wait_duration", wait).
			Int("last_status", st.LastStatus).
			Time("last_update", st.LastUpdate).
			Msg("Backend rate limit active - delaying request")

		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}

	return l.bucket.Wait(ctx)
}

// UpdateFromResponse records the response status and, for 429s, blocks
// requests for the Retry-After window.
func (l *Limiter) UpdateFromResponse(resp *http.Response) {
	if resp == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	l.state.LastStatus = resp.StatusCode
	l.state.LastUpdate = now

	if resp.StatusCode != http.StatusTooManyRequests {
		return
	}

	wait := parseRetryAfter(resp.Header.Get("Retry-After"), now)
	l.state.BlockedUntil = now.Add(wait)
	rateLimitBlocksTotal.Inc()

	l.logger.Warn().
		Dur("retry_after", wait).
		Time("blocked_until", l.state.BlockedUntil).
		Msg("Backend returned 429 - blocking requests")
}

// State returns a snapshot of the reactive state.
func (l *Limiter) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return DefaultRetryAfter
	}

	var wait time.Duration
	if secs, err := strconv.Atoi(v); err == nil {
		wait = time.Duration(secs) * time.Second
	} else if at, err := http.ParseTime(v); err == nil {
		wait = at.Sub(now)
	} else {
		return DefaultRetryAfter
	}

	if wait < 0 {
		return 0
	}
	if wait > MaxRetryAfter {
		return MaxRetryAfter
	}
	return wait
}
