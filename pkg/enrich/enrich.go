// Package enrich fills the detail fields of annotated entities: the concept
// behind the entity, its ICD-10 and OPCS-4 codes and the entity's
// meta-annotations.
//
// Fetching and applying are separate steps. The fetch methods return a
// Detail that the owner of the entity applies, usually through a staleness
// guard, so a slow response never writes to an entity that is no longer
// selected.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/Sternrassler/medcat-trainer-client/pkg/logging"
	"github.com/Sternrassler/medcat-trainer-client/pkg/pagination"
	"github.com/Sternrassler/medcat-trainer-client/pkg/trainer"
)

// ErrEmptyResultSet is returned when a lookup matched nothing. Callers
// leave the affected fields blank.
var ErrEmptyResultSet = errors.New("empty result set")

var (
	enrichments = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trainer_enrichments_total",
			Help: "Entity enrichments by outcome (complete, partial, no_concept)",
		},
		[]string{"outcome"},
	)

	enrichmentDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "trainer_enrichment_duration_seconds",
			Help:    "Duration of a full entity enrichment including the fan-out join",
			Buckets: prometheus.DefBuckets,
		},
	)
)

// API is the part of the REST client the pipeline needs.
type API interface {
	GetJSON(ctx context.Context, ref string, out any) error
	PostJSON(ctx context.Context, ref string, body, out any) error
	PutJSON(ctx context.Context, ref string, body, out any) error
}

// Config holds enrichment configuration.
type Config struct {
	// MaxConcurrency bounds the entities enriched in parallel by Batch.
	MaxConcurrency int
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{MaxConcurrency: 5}
}

// Enricher runs the enrichment pipeline against the backend.
type Enricher struct {
	api    API
	config Config
	logger zerolog.Logger

	concepts *pagination.Walker[trainer.Concept]
	icd10    *pagination.Walker[trainer.Code]
	opcs4    *pagination.Walker[trainer.Code]
	tasks    *pagination.Walker[trainer.MetaTask]
	values   *pagination.Walker[trainer.MetaTaskValue]
	annos    *pagination.Walker[trainer.MetaAnnotation]
}

// New creates an Enricher.
func New(api API, cfg Config) *Enricher {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = DefaultConfig().MaxConcurrency
	}
	return &Enricher{
		api:      api,
		config:   cfg,
		logger:   logging.NewLogger("enrich"),
		concepts: pagination.NewWalker[trainer.Concept](pagination.NewHTTPFetcher[trainer.Concept](api), "concepts"),
		icd10:    pagination.NewWalker[trainer.Code](pagination.NewHTTPFetcher[trainer.Code](api), "icd10"),
		opcs4:    pagination.NewWalker[trainer.Code](pagination.NewHTTPFetcher[trainer.Code](api), "opcs4"),
		tasks:    pagination.NewWalker[trainer.MetaTask](pagination.NewHTTPFetcher[trainer.MetaTask](api), "meta_tasks"),
		values:   pagination.NewWalker[trainer.MetaTaskValue](pagination.NewHTTPFetcher[trainer.MetaTaskValue](api), "meta_task_values"),
		annos:    pagination.NewWalker[trainer.MetaAnnotation](pagination.NewHTTPFetcher[trainer.MetaAnnotation](api), "meta_annotations"),
	}
}

// Target identifies the entity to enrich.
type Target struct {
	EntityID    int
	EntityRefID int
}

// TargetOf returns the target for e.
func TargetOf(e *trainer.Entity) Target {
	return Target{EntityID: e.ID, EntityRefID: e.EntityRefID}
}

// Options selects the parts of the pipeline to run.
type Options struct {
	// SkipConcept skips the concept and code lookups.
	SkipConcept bool

	// Tasks are the project's resolved meta tasks. Meta-annotations are
	// fetched only when Tasks is non-empty.
	Tasks []trainer.MetaTask

	// UseDefault creates a validated annotation with the task default for
	// tasks that have no saved value.
	UseDefault bool
}

// Detail is the fetched detail of one entity.
type Detail struct {
	EntityID int

	// CUI is set once the entity label lookup succeeded.
	CUI string
	// Concept is nil when the lookup failed or matched nothing.
	Concept *trainer.Concept

	// ICD10 and OPCS4 are sorted ascending by code. A list is complete only
	// when its Fetched flag is set; a failed drain leaves the partial items
	// here for inspection but ApplyTo ignores them.
	ICD10        []trainer.Code
	OPCS4        []trainer.Code
	ICD10Fetched bool
	OPCS4Fetched bool

	MetaTasks   []trainer.TaskValue
	MetaFetched bool
}

// ApplyTo writes the fetched fields onto e. Fields that were not fetched are
// left untouched.
func (d *Detail) ApplyTo(e *trainer.Entity) {
	if d.CUI != "" {
		e.CUI = d.CUI
	}
	if c := d.Concept; c != nil {
		e.PrettyName = c.PrettyName
		e.Description = c.Description
		e.TypeIDs = c.TypeIDs
		e.SemanticType = c.SemanticType
		e.Synonyms = c.SynonymList()
	}
	if d.ICD10Fetched {
		e.ICD10 = append([]trainer.Code(nil), d.ICD10...)
		trainer.SortCodes(e.ICD10)
		e.ICD10Loaded = true
	}
	if d.OPCS4Fetched {
		e.OPCS4 = append([]trainer.Code(nil), d.OPCS4...)
		trainer.SortCodes(e.OPCS4)
		e.OPCS4Loaded = true
	}
	if d.MetaFetched {
		e.MetaTasks = append([]trainer.TaskValue(nil), d.MetaTasks...)
	}
}

// Entity runs the pipeline for one entity. The concept chain (label, concept,
// codes) and the meta-annotation branch run concurrently, and the ICD-10 and
// OPCS-4 drains run concurrently once the concept is known. Entity returns
// after every branch has settled.
//
// Failures are partial: the returned Detail carries whatever was fetched and
// the error joins every branch failure. No concept match is not a failure.
func (en *Enricher) Entity(ctx context.Context, t Target, opts Options) (Detail, error) {
	start := time.Now()
	d := Detail{EntityID: t.EntityID}

	var (
		g                   errgroup.Group
		conceptErr, metaErr error
		noConcept           bool
	)

	if !opts.SkipConcept {
		g.Go(func() error {
			conceptErr = en.conceptChain(ctx, t, &d)
			if errors.Is(conceptErr, ErrEmptyResultSet) {
				noConcept = true
				conceptErr = nil
			}
			return nil
		})
	}

	if len(opts.Tasks) > 0 {
		g.Go(func() error {
			d.MetaTasks, metaErr = en.MetaAnnotations(ctx, t.EntityID, opts.Tasks, opts.UseDefault)
			d.MetaFetched = metaErr == nil
			return nil
		})
	}

	_ = g.Wait()
	enrichmentDuration.Observe(time.Since(start).Seconds())

	err := errors.Join(conceptErr, metaErr)
	outcome := "complete"
	switch {
	case err != nil:
		outcome = "partial"
	case noConcept:
		outcome = "no_concept"
	}
	enrichments.WithLabelValues(outcome).Inc()

	ev := en.logger.Debug()
	if err != nil {
		ev = en.logger.Warn().Err(err)
	}
	ev.Int("entity_id", t.EntityID).
		Str("cui", d.CUI).
		Int("icd10", len(d.ICD10)).
		Int("opcs4", len(d.OPCS4)).
		Int("meta_tasks", len(d.MetaTasks)).
		Dur("duration", time.Since(start)).
		Msg("Entity enriched")

	return d, err
}

// conceptChain resolves label, concept and codes into d. Only the caller's
// goroutine writes the concept fields of d.
func (en *Enricher) conceptChain(ctx context.Context, t Target, d *Detail) error {
	cui, err := en.Label(ctx, t.EntityRefID)
	if err != nil {
		return err
	}
	d.CUI = cui

	concept, err := en.Concept(ctx, cui)
	if err != nil {
		return err
	}
	d.Concept = &concept

	icd, opcs, icdErr, opcsErr := en.conceptCodes(ctx, concept)
	d.ICD10, d.ICD10Fetched = icd, icdErr == nil
	d.OPCS4, d.OPCS4Fetched = opcs, opcsErr == nil
	return errors.Join(icdErr, opcsErr)
}

// Label resolves an entity reference to its CUI.
func (en *Enricher) Label(ctx context.Context, entityRefID int) (string, error) {
	var ref trainer.EntityRef
	if err := en.api.GetJSON(ctx, trainer.EntityURL(entityRefID), &ref); err != nil {
		return "", fmt.Errorf("resolve entity %d: %w", entityRefID, err)
	}
	if ref.Label == "" {
		return "", fmt.Errorf("resolve entity %d: %w", entityRefID, ErrEmptyResultSet)
	}
	return ref.Label, nil
}

// Concept looks up a concept by CUI. The first match wins.
func (en *Enricher) Concept(ctx context.Context, cui string) (trainer.Concept, error) {
	walk := en.concepts.Start(trainer.ConceptURL(cui), 1)
	page, ok := walk.Next(ctx)
	if !ok {
		if err := walk.Err(); err != nil {
			return trainer.Concept{}, fmt.Errorf("lookup concept %s: %w", cui, err)
		}
	}
	if len(page.Items) == 0 {
		return trainer.Concept{}, fmt.Errorf("lookup concept %s: %w", cui, ErrEmptyResultSet)
	}
	return page.Items[0], nil
}

// ConceptCodes drains the ICD-10 and OPCS-4 codes of c concurrently. Both
// results are sorted and may be partial when err is non-nil.
func (en *Enricher) ConceptCodes(ctx context.Context, c trainer.Concept) (icd, opcs []trainer.Code, err error) {
	icd, opcs, icdErr, opcsErr := en.conceptCodes(ctx, c)
	return icd, opcs, errors.Join(icdErr, opcsErr)
}

func (en *Enricher) conceptCodes(ctx context.Context, c trainer.Concept) (icd, opcs []trainer.Code, icdErr, opcsErr error) {
	var g errgroup.Group
	g.Go(func() error {
		icd, icdErr = en.Codes(ctx, en.icd10, trainer.ICDCodesURL, c.ICD10)
		return nil
	})
	g.Go(func() error {
		opcs, opcsErr = en.Codes(ctx, en.opcs4, trainer.OPCSCodesURL, c.OPCS4)
		return nil
	})
	_ = g.Wait()
	return icd, opcs, icdErr, opcsErr
}

// Codes drains every page of a code lookup and sorts the result ascending by
// code. No request is made for an empty id list.
func (en *Enricher) Codes(ctx context.Context, w *pagination.Walker[trainer.Code], urlFor func([]int) string, ids []int) ([]trainer.Code, error) {
	if len(ids) == 0 {
		return []trainer.Code{}, nil
	}
	res, err := w.Collect(ctx, urlFor(ids), pagination.Unbounded)
	trainer.SortCodes(res.Items)
	if err != nil {
		return res.Items, fmt.Errorf("drain codes: %w", err)
	}
	return res.Items, nil
}

// ICD10Codes drains the ICD-10 codes with the given ids.
func (en *Enricher) ICD10Codes(ctx context.Context, ids []int) ([]trainer.Code, error) {
	return en.Codes(ctx, en.icd10, trainer.ICDCodesURL, ids)
}

// OPCS4Codes drains the OPCS-4 codes with the given ids.
func (en *Enricher) OPCS4Codes(ctx context.Context, ids []int) ([]trainer.Code, error) {
	return en.Codes(ctx, en.opcs4, trainer.OPCSCodesURL, ids)
}
