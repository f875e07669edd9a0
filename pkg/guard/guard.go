// Package guard drops asynchronous responses that arrive after the user has
// moved on.
//
// A Guard holds the identity that is currently selected. Work is issued with
// a Ticket capturing the identity at issue time; when the work completes its
// result is applied only if the captured identity is still the selected one.
// In-flight requests are not cancelled, staleness is detected when they
// resolve.
package guard

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/medcat-trainer-client/pkg/logging"
)

var staleDropped = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "trainer_stale_responses_dropped_total",
		Help: "Responses discarded because the selection changed while they were in flight",
	},
	[]string{"guard"},
)

// Ticket is the identity captured when a request was issued.
type Ticket[K comparable] struct {
	ID K
}

// Guard tracks the selected identity of type K.
type Guard[K comparable] struct {
	mu       sync.Locker
	name     string
	current  K
	selected bool
	logger   zerolog.Logger
}

// Option configures a Guard.
type Option func(*options)

type options struct {
	locker sync.Locker
}

// WithLocker makes the guard share a lock with the state it protects. Apply
// callbacks then run under that lock, and the caller must use the *Locked
// methods while holding it.
func WithLocker(l sync.Locker) Option {
	return func(o *options) { o.locker = l }
}

// New creates a guard with nothing selected. name labels logs and metrics.
func New[K comparable](name string, opts ...Option) *Guard[K] {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.locker == nil {
		o.locker = &sync.Mutex{}
	}
	return &Guard[K]{
		mu:     o.locker,
		name:   name,
		logger: logging.NewLogger("guard").With().Str("guard", name).Logger(),
	}
}

// Select makes id the current identity.
func (g *Guard[K]) Select(id K) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.SelectLocked(id)
}

// SelectLocked is Select for callers already holding the guard's lock.
func (g *Guard[K]) SelectLocked(id K) {
	g.current = id
	g.selected = true
}

// Clear deselects. Every outstanding ticket becomes stale.
func (g *Guard[K]) Clear() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ClearLocked()
}

// ClearLocked is Clear for callers already holding the guard's lock.
func (g *Guard[K]) ClearLocked() {
	var zero K
	g.current = zero
	g.selected = false
}

// Current returns the selected identity.
func (g *Guard[K]) Current() (K, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.CurrentLocked()
}

// CurrentLocked is Current for callers already holding the guard's lock.
func (g *Guard[K]) CurrentLocked() (K, bool) {
	return g.current, g.selected
}

// Issue captures id for a request about to be sent.
func (g *Guard[K]) Issue(id K) Ticket[K] {
	return Ticket[K]{ID: id}
}

// Apply runs fn if t still matches the selection and reports whether it
// ran. fn runs under the guard's lock so the selection cannot change while
// the response is applied.
func (g *Guard[K]) Apply(t Ticket[K], fn func()) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.selected || g.current != t.ID {
		staleDropped.WithLabelValues(g.name).Inc()
		g.logger.Debug().
			Interface("issued_for", t.ID).
			Interface("selected", g.current).
			Bool("has_selection", g.selected).
			Msg("Stale response dropped")
		return false
	}
	fn()
	return true
}

// Run issues a ticket for id, performs fetch and applies its result through
// the guard. A fetch error is returned without applying anything.
func Run[K comparable, V any](ctx context.Context, g *Guard[K], id K, fetch func(context.Context) (V, error), apply func(V)) (bool, error) {
	t := g.Issue(id)
	v, err := fetch(ctx)
	if err != nil {
		return false, err
	}
	return g.Apply(t, func() { apply(v) }), nil
}
