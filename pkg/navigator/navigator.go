// Package navigator owns the document and entity selection of an annotation
// session.
//
// A Navigator loads a project and its document list, resolves the initial
// document, and moves the selection between documents and entities. Every
// selection change triggers enrichment of the newly visible entities. Late
// responses for a selection the user already left are dropped by identity
// guards, never applied.
//
// All state is guarded by one mutex. Network calls run without holding it.
package navigator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/medcat-trainer-client/pkg/enrich"
	"github.com/Sternrassler/medcat-trainer-client/pkg/guard"
	"github.com/Sternrassler/medcat-trainer-client/pkg/logging"
	"github.com/Sternrassler/medcat-trainer-client/pkg/pagination"
	"github.com/Sternrassler/medcat-trainer-client/pkg/trainer"
)

// DefaultDocPageBudget is the number of document list pages loaded up front.
const DefaultDocPageBudget = 10

var (
	selections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trainer_navigator_selections_total",
			Help: "Selection changes by kind (document, entity)",
		},
		[]string{"kind"},
	)

	loadedDocuments = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "trainer_navigator_loaded_documents",
			Help: "Documents currently held in the navigator's working set",
		},
	)
)

// Config holds navigator configuration.
type Config struct {
	// DocPageBudget bounds the initial document list walk.
	DocPageBudget int

	// EnrichOnSelect enriches every entity of a document when the document
	// is selected.
	EnrichOnSelect bool
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		DocPageBudget:  DefaultDocPageBudget,
		EnrichOnSelect: true,
	}
}

// Option configures a Navigator.
type Option func(*Navigator)

// WithRouter sets the route mirror. The default is an empty MemoryRouter.
func WithRouter(r Router) Option {
	return func(n *Navigator) { n.router = r }
}

// WithBus sets the event bus. The default is a private bus.
func WithBus(b *Bus) Option {
	return func(n *Navigator) { n.bus = b }
}

// Navigator is the selection state machine.
type Navigator struct {
	enricher *enrich.Enricher
	router   Router
	bus      *Bus
	config   Config
	logger   zerolog.Logger

	projects  *pagination.Walker[trainer.Project]
	documents *pagination.Walker[trainer.Document]
	entities  *pagination.Walker[trainer.Entity]

	// loadMu serializes document list walks.
	loadMu sync.Mutex

	mu        sync.Mutex
	state     State
	project   *trainer.Project
	tasks     []trainer.MetaTask
	docs      []*trainer.Document
	docIndex  map[int]int
	nextDocs  string
	totalDocs int
	lastErr   error
	loadSeq   int

	// The guards share mu. loadGuard holds the generation of the current
	// project load; the others hold the selection cursor.
	loadGuard   *guard.Guard[int]
	docGuard    *guard.Guard[int]
	entityGuard *guard.Guard[int]
}

// New creates an idle navigator.
func New(api pagination.JSONGetter, enricher *enrich.Enricher, cfg Config, opts ...Option) *Navigator {
	if cfg.DocPageBudget < 1 {
		cfg.DocPageBudget = DefaultDocPageBudget
	}
	n := &Navigator{
		enricher:  enricher,
		config:    cfg,
		logger:    logging.NewLogger("navigator"),
		projects:  pagination.NewWalker[trainer.Project](pagination.NewHTTPFetcher[trainer.Project](api), "projects"),
		documents: pagination.NewWalker[trainer.Document](pagination.NewHTTPFetcher[trainer.Document](api), "documents"),
		entities:  pagination.NewWalker[trainer.Entity](pagination.NewHTTPFetcher[trainer.Entity](api), "annotated_entities"),
		docIndex:  make(map[int]int),
	}
	n.loadGuard = guard.New[int]("project_load", guard.WithLocker(&n.mu))
	n.docGuard = guard.New[int]("document", guard.WithLocker(&n.mu))
	n.entityGuard = guard.New[int]("entity", guard.WithLocker(&n.mu))

	for _, opt := range opts {
		opt(n)
	}
	if n.router == nil {
		n.router = NewMemoryRouter(Route{})
	}
	if n.bus == nil {
		n.bus = NewBus()
	}
	return n
}

// Bus returns the navigator's event bus.
func (n *Navigator) Bus() *Bus { return n.bus }

// Router returns the navigator's route mirror.
func (n *Navigator) Router() Router { return n.router }

// LoadProject looks up the project, loads the first DocPageBudget pages of
// its documents and selects the initial document:
//
//  1. the document id in the current route, loading further pages until it
//     is found or the list is exhausted;
//  2. the first document that is not in the project's validated set;
//  3. the first loaded document.
//
// A lookup that matches no project moves the navigator to
// StateErrorNoProject and returns a *ProjectNotFoundError; no document is
// fetched in that case. A load replaced by a newer LoadProject while in
// flight discards everything it fetched and returns ErrSuperseded.
func (n *Navigator) LoadProject(ctx context.Context, projectID int) error {
	n.mu.Lock()
	n.resetLocked()
	n.loadSeq++
	load := n.loadGuard.Issue(n.loadSeq)
	n.loadGuard.SelectLocked(load.ID)
	n.state = StateListLoading
	n.mu.Unlock()

	logger := n.logger.With().Int("project_id", projectID).Logger()
	superseded := func() error {
		logger.Info().Int("load", load.ID).Msg("Project load superseded")
		return fmt.Errorf("load project %d: %w", projectID, ErrSuperseded)
	}

	res, err := n.projects.Collect(ctx, trainer.ProjectURL(projectID), 1)
	if err != nil {
		if !n.fail(load, StateIdle, err) {
			return superseded()
		}
		logger.Warn().Err(err).Msg("Project lookup failed")
		return fmt.Errorf("load project %d: %w", projectID, err)
	}
	if len(res.Items) == 0 {
		notFound := &ProjectNotFoundError{ProjectID: projectID}
		if !n.fail(load, StateErrorNoProject, notFound) {
			return superseded()
		}
		logger.Error().Err(notFound).Msg("Project not found")
		n.bus.Publish(Event{Type: EventProjectNotFound, ProjectID: projectID, Err: notFound})
		return notFound
	}
	project := res.Items[0]

	tasks, err := n.enricher.MetaTasks(ctx, project.Tasks)
	if err != nil {
		logger.Warn().Err(err).Msg("Meta tasks unavailable")
	}

	if !n.loadGuard.Apply(load, func() {
		n.project = &project
		n.tasks = tasks
		n.nextDocs = trainer.DocumentsURL(project.Dataset)
	}) {
		return superseded()
	}

	if _, err := n.loadDocuments(ctx, load, n.config.DocPageBudget); err != nil {
		if errors.Is(err, ErrSuperseded) {
			return superseded()
		}
		n.mu.Lock()
		empty := len(n.docs) == 0
		n.mu.Unlock()
		if empty {
			if !n.fail(load, StateIdle, err) {
				return superseded()
			}
			return fmt.Errorf("load documents of project %d: %w", projectID, err)
		}
		logger.Warn().Err(err).Msg("Document list partially loaded")
	}

	n.bus.Publish(Event{Type: EventProjectLoaded, ProjectID: projectID})

	doc, err := n.initialDocument(ctx, load, projectID)
	if err != nil {
		return err
	}

	var loaded int
	if !n.loadGuard.Apply(load, func() {
		n.state = StateReady
		loaded = len(n.docs)
	}) {
		return superseded()
	}

	logger.Info().
		Str("project", project.Name).
		Int("documents", loaded).
		Msg("Project loaded")

	if doc == nil {
		logger.Warn().Msg("Project has no documents")
		return nil
	}
	if err := n.selectDocument(ctx, doc); err != nil {
		if errors.Is(err, ErrDocumentNotFound) {
			return superseded()
		}
		return err
	}
	return nil
}

// initialDocument resolves the document selected after a project load.
func (n *Navigator) initialDocument(ctx context.Context, load guard.Ticket[int], projectID int) (*trainer.Document, error) {
	route := n.router.Route()
	if route.DocID != 0 && (route.ProjectID == 0 || route.ProjectID == projectID) {
		doc, err := n.ensureDocument(ctx, load, route.DocID)
		switch {
		case err == nil:
			return doc, nil
		case errors.Is(err, ErrSuperseded):
			return nil, fmt.Errorf("load project %d: %w", projectID, err)
		case errors.Is(err, ErrDocumentNotFound):
			n.logger.Warn().
				Int("project_id", projectID).
				Int("document_id", route.DocID).
				Msg("Route document not in project, falling back")
		default:
			n.logger.Warn().Err(err).Int("document_id", route.DocID).Msg("Route document lookup failed, falling back")
		}
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if cur, _ := n.loadGuard.CurrentLocked(); cur != load.ID || n.project == nil {
		return nil, fmt.Errorf("load project %d: %w", projectID, ErrSuperseded)
	}
	for _, d := range n.docs {
		if !n.project.IsValidated(d.ID) {
			return d, nil
		}
	}
	if len(n.docs) > 0 {
		return n.docs[0], nil
	}
	return nil, nil
}

// loadDocuments continues the document list walk for up to budget pages and
// reports whether anything was added. Pages are appended only while load is
// the current project load; otherwise the walk stops with ErrSuperseded.
func (n *Navigator) loadDocuments(ctx context.Context, load guard.Ticket[int], budget int) (bool, error) {
	n.loadMu.Lock()
	defer n.loadMu.Unlock()

	n.mu.Lock()
	cur, _ := n.loadGuard.CurrentLocked()
	cursor := n.nextDocs
	n.mu.Unlock()
	if cur != load.ID {
		return false, ErrSuperseded
	}
	if cursor == "" {
		return false, nil
	}

	walk := n.documents.Start(cursor, budget)
	added, count, projectID := 0, 0, 0
	for page := range walk.All(ctx) {
		if !n.loadGuard.Apply(load, func() {
			for i := range page.Items {
				d := page.Items[i]
				if _, dup := n.docIndex[d.ID]; dup {
					continue
				}
				d.Validated = n.project != nil && n.project.IsValidated(d.ID)
				n.docIndex[d.ID] = len(n.docs)
				n.docs = append(n.docs, &d)
				added++
			}
			n.nextDocs = walk.Cursor()
			n.totalDocs = page.Total
			count = len(n.docs)
			if n.project != nil {
				projectID = n.project.ID
			}
		}) {
			return false, ErrSuperseded
		}
		loadedDocuments.Set(float64(count))
	}

	n.logger.Debug().
		Int("project_id", projectID).
		Int("pages", walk.Pages()).
		Int("added", added).
		Bool("exhausted", walk.Exhausted()).
		Msg("Documents loaded")
	if added > 0 {
		n.bus.Publish(Event{Type: EventDocumentsLoaded, ProjectID: projectID, Documents: count})
	}
	return added > 0, walk.Err()
}

// ensureDocument returns the document with id, loading further pages one
// at a time until it appears or the list is exhausted.
func (n *Navigator) ensureDocument(ctx context.Context, load guard.Ticket[int], id int) (*trainer.Document, error) {
	for {
		n.mu.Lock()
		idx, ok := n.docIndex[id]
		var doc *trainer.Document
		if ok {
			doc = n.docs[idx]
		}
		more := n.nextDocs != ""
		n.mu.Unlock()

		if ok {
			return doc, nil
		}
		if !more {
			return nil, fmt.Errorf("document %d: %w", id, ErrDocumentNotFound)
		}
		if _, err := n.loadDocuments(ctx, load, 1); err != nil {
			return nil, fmt.Errorf("load documents looking for %d: %w", id, err)
		}
	}
}

// currentLoad returns a ticket for the project load now in effect.
func (n *Navigator) currentLoad() guard.Ticket[int] {
	id, _ := n.loadGuard.Current()
	return n.loadGuard.Issue(id)
}

func (n *Navigator) resetLocked() {
	n.project = nil
	n.tasks = nil
	n.docs = nil
	n.docIndex = make(map[int]int)
	n.nextDocs = ""
	n.totalDocs = 0
	n.lastErr = nil
	n.docGuard.ClearLocked()
	n.entityGuard.ClearLocked()
	loadedDocuments.Set(0)
}

// fail ends load with state and err, unless a newer load replaced it.
func (n *Navigator) fail(load guard.Ticket[int], state State, err error) bool {
	return n.loadGuard.Apply(load, func() {
		n.state = state
		n.lastErr = err
	})
}

// Snapshot returns a copy of the current state.
func (n *Navigator) Snapshot() Snapshot {
	n.mu.Lock()
	defer n.mu.Unlock()

	s := Snapshot{
		State:           n.state,
		LoadedDocuments: len(n.docs),
		TotalDocuments:  n.totalDocs,
		MoreDocuments:   n.nextDocs != "",
	}
	if n.lastErr != nil {
		s.Error = n.lastErr.Error()
	}
	if n.project != nil {
		s.ProjectID = n.project.ID
		s.ProjectName = n.project.Name
	}
	if doc := n.currentDocLocked(); doc != nil {
		s.DocumentID = doc.ID
		s.Document = newDocumentView(doc)
	}
	if id, ok := n.entityGuard.CurrentLocked(); ok {
		s.EntityID = id
	}
	return s
}

// State returns the lifecycle state.
func (n *Navigator) State() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// Err returns the error that ended the last project load, if any.
func (n *Navigator) Err() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.lastErr
}

// Documents returns the ids of the loaded documents in list order.
func (n *Navigator) Documents() []int {
	n.mu.Lock()
	defer n.mu.Unlock()
	ids := make([]int, len(n.docs))
	for i, d := range n.docs {
		ids[i] = d.ID
	}
	return ids
}

// Tasks returns the project's resolved meta tasks.
func (n *Navigator) Tasks() []trainer.MetaTask {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]trainer.MetaTask(nil), n.tasks...)
}

func (n *Navigator) currentDocLocked() *trainer.Document {
	id, ok := n.docGuard.CurrentLocked()
	if !ok {
		return nil
	}
	idx, ok := n.docIndex[id]
	if !ok {
		return nil
	}
	return n.docs[idx]
}
