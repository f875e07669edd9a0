package pagination

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/medcat-trainer-client/pkg/logging"
)

// Unbounded is the page budget that walks until the backend is exhausted.
const Unbounded = 0

var (
	pagesFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trainer_pages_fetched_total",
			Help: "List pages fetched, by walker",
		},
		[]string{"walker"},
	)

	walksCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trainer_walks_total",
			Help: "Finished page walks by walker and outcome (exhausted, budget, error)",
		},
		[]string{"walker", "outcome"},
	)
)

// Walker drives a Fetcher across pages.
type Walker[T any] struct {
	fetcher Fetcher[T]
	name    string
	logger  zerolog.Logger
}

// NewWalker creates a walker. name labels logs and metrics.
func NewWalker[T any](fetcher Fetcher[T], name string) *Walker[T] {
	return &Walker[T]{
		fetcher: fetcher,
		name:    name,
		logger:  logging.NewLogger("pagination").With().Str("walker", name).Logger(),
	}
}

// Start begins a walk at start consuming at most budget pages. A negative
// budget is treated as Unbounded. An empty start yields an exhausted walk.
func (w *Walker[T]) Start(start string, budget int) *Walk[T] {
	if budget < 0 {
		budget = Unbounded
	}
	return &Walk[T]{
		walker:  w,
		cursor:  start,
		budget:  budget,
		started: time.Now(),
	}
}

// Walk is one lazy, single-use pass over a paginated collection.
type Walk[T any] struct {
	walker  *Walker[T]
	cursor  string
	budget  int
	pages   int
	total   int
	err     error
	done    bool
	ended   bool
	started time.Time
}

// Next fetches the next page. It returns false once the walk is exhausted,
// the budget is consumed, or a fetch failed (see Err).
func (wk *Walk[T]) Next(ctx context.Context) (Page[T], bool) {
	if wk.done || wk.budgetSpent() {
		wk.finish()
		return Page[T]{}, false
	}
	if wk.cursor == "" {
		wk.finish()
		return Page[T]{}, false
	}

	page, err := wk.walker.fetcher.FetchPage(ctx, wk.cursor)
	if err != nil {
		wk.err = fmt.Errorf("fetch page %d of %s: %w", wk.pages+1, wk.walker.name, err)
		wk.finish()
		return Page[T]{}, false
	}

	wk.pages++
	wk.total = page.Total
	wk.cursor = page.Next
	pagesFetched.WithLabelValues(wk.walker.name).Inc()

	wk.walker.logger.Debug().
		Int("page", wk.pages).
		Int("items", len(page.Items)).
		Int("total", page.Total).
		Bool("has_next", page.Next != "").
		Msg("Page fetched")

	return page, true
}

// All returns the remaining pages as a sequence. Stopping the range early
// leaves the walk resumable through Next.
func (wk *Walk[T]) All(ctx context.Context) iter.Seq[Page[T]] {
	return func(yield func(Page[T]) bool) {
		for {
			page, ok := wk.Next(ctx)
			if !ok || !yield(page) {
				return
			}
		}
	}
}

// Err returns the fetch error that ended the walk, if any.
func (wk *Walk[T]) Err() error { return wk.err }

// Exhausted reports whether the backend has no pages left after this walk.
func (wk *Walk[T]) Exhausted() bool { return wk.err == nil && wk.cursor == "" }

// Cursor is the URL of the first page not yet fetched, empty when exhausted.
func (wk *Walk[T]) Cursor() string { return wk.cursor }

// Pages returns the number of pages fetched so far.
func (wk *Walk[T]) Pages() int { return wk.pages }

// Total returns the collection size reported by the last page.
func (wk *Walk[T]) Total() int { return wk.total }

func (wk *Walk[T]) budgetSpent() bool {
	return wk.budget != Unbounded && wk.pages >= wk.budget
}

func (wk *Walk[T]) finish() {
	wk.done = true
	if wk.ended {
		return
	}
	wk.ended = true

	outcome := "budget"
	switch {
	case wk.err != nil:
		outcome = "error"
	case wk.cursor == "":
		outcome = "exhausted"
	}
	walksCompleted.WithLabelValues(wk.walker.name, outcome).Inc()

	ev := wk.walker.logger.Debug()
	if wk.err != nil {
		ev = wk.walker.logger.Warn().Err(wk.err)
	}
	ev.Int("pages", wk.pages).
		Bool("exhausted", wk.Exhausted()).
		Dur("duration", time.Since(wk.started)).
		Msg("Walk finished")
}

// Result is the accumulated outcome of Collect.
type Result[T any] struct {
	// Items holds every fetched item in arrival order, without deduplication.
	Items []T
	Pages int
	// Exhausted is false when the walk was cut by the budget or an error.
	Exhausted bool
	// Next is the cursor to continue from when not exhausted.
	Next  string
	Total int
}

// Collect walks from start within budget and concatenates the items. On a
// fetch error it returns everything accumulated so far together with the
// error.
func (w *Walker[T]) Collect(ctx context.Context, start string, budget int) (Result[T], error) {
	walk := w.Start(start, budget)
	items := []T{}
	for page := range walk.All(ctx) {
		items = append(items, page.Items...)
	}
	res := Result[T]{
		Items:     items,
		Pages:     walk.Pages(),
		Exhausted: walk.Exhausted(),
		Next:      walk.Cursor(),
		Total:     walk.Total(),
	}
	return res, walk.Err()
}
