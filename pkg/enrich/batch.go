package enrich

import (
	"context"
	"sync"
	"time"
)

// Result is the outcome of enriching one entity in a batch.
type Result struct {
	Detail Detail
	Err    error
}

// Batch enriches many entities with a bounded worker pool and returns one
// Result per target, in target order. Entities for which hasDetail reports
// true skip the concept lookups. Workers stop picking up targets once ctx is
// done; targets never started carry ctx's error.
func (en *Enricher) Batch(ctx context.Context, targets []Target, hasDetail func(Target) bool, opts Options) []Result {
	start := time.Now()
	results := make([]Result, len(targets))
	if len(targets) == 0 {
		return results
	}

	workers := min(en.config.MaxConcurrency, len(targets))

	queue := make(chan int, len(targets))
	for i := range targets {
		queue <- i
	}
	close(queue)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go en.worker(ctx, w, targets, hasDetail, opts, queue, results, &wg)
	}
	wg.Wait()

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}

	ev := en.logger.Info()
	if failed > 0 {
		ev = en.logger.Warn()
	}
	ev.Int("entities", len(targets)).
		Int("failed", failed).
		Int("workers", workers).
		Dur("duration", time.Since(start)).
		Msg("Batch enrichment complete")

	return results
}

// worker processes targets from the queue. Each index is written by exactly
// one worker.
func (en *Enricher) worker(ctx context.Context, workerID int, targets []Target, hasDetail func(Target) bool, opts Options, queue <-chan int, results []Result, wg *sync.WaitGroup) {
	defer wg.Done()
	processed := 0

	for i := range queue {
		t := targets[i]
		if err := ctx.Err(); err != nil {
			results[i] = Result{Detail: Detail{EntityID: t.EntityID}, Err: err}
			continue
		}

		o := opts
		o.SkipConcept = opts.SkipConcept || (hasDetail != nil && hasDetail(t))
		d, err := en.Entity(ctx, t, o)
		results[i] = Result{Detail: d, Err: err}
		processed++
	}

	if processed > 0 {
		en.logger.Debug().
			Int("worker_id", workerID).
			Int("entities_processed", processed).
			Msg("Worker completed")
	}
}
