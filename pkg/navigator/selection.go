package navigator

import (
	"context"
	"fmt"

	"github.com/Sternrassler/medcat-trainer-client/pkg/enrich"
	"github.com/Sternrassler/medcat-trainer-client/pkg/pagination"
	"github.com/Sternrassler/medcat-trainer-client/pkg/trainer"
)

// SelectDocument selects a loaded document, clears the entity selection and
// loads and enriches the document's entities.
func (n *Navigator) SelectDocument(ctx context.Context, id int) error {
	n.mu.Lock()
	if n.state != StateReady {
		n.mu.Unlock()
		return ErrNotReady
	}
	idx, ok := n.docIndex[id]
	var doc *trainer.Document
	if ok {
		doc = n.docs[idx]
	}
	n.mu.Unlock()

	if !ok {
		return fmt.Errorf("document %d: %w", id, ErrDocumentNotFound)
	}
	return n.selectDocument(ctx, doc)
}

// JumpTo selects a document by id, loading further pages of the document
// list until it is found or the list is exhausted.
func (n *Navigator) JumpTo(ctx context.Context, id int) error {
	if n.State() != StateReady {
		return ErrNotReady
	}
	doc, err := n.ensureDocument(ctx, n.currentLoad(), id)
	if err != nil {
		return err
	}
	return n.selectDocument(ctx, doc)
}

// NextDocument selects the document after the current one, loading the next
// page of the list when the loaded documents run out.
func (n *Navigator) NextDocument(ctx context.Context) error {
	for {
		n.mu.Lock()
		if n.state != StateReady {
			n.mu.Unlock()
			return ErrNotReady
		}
		next := 0
		if doc := n.currentDocLocked(); doc != nil {
			next = n.docIndex[doc.ID] + 1
		}
		var doc *trainer.Document
		if next < len(n.docs) {
			doc = n.docs[next]
		}
		more := n.nextDocs != ""
		n.mu.Unlock()

		if doc != nil {
			return n.selectDocument(ctx, doc)
		}
		if !more {
			return ErrEndOfList
		}
		if _, err := n.loadDocuments(ctx, n.currentLoad(), 1); err != nil {
			return fmt.Errorf("load next documents: %w", err)
		}
	}
}

// PreviousDocument selects the document before the current one.
func (n *Navigator) PreviousDocument(ctx context.Context) error {
	n.mu.Lock()
	if n.state != StateReady {
		n.mu.Unlock()
		return ErrNotReady
	}
	var doc *trainer.Document
	if cur := n.currentDocLocked(); cur != nil {
		if idx := n.docIndex[cur.ID]; idx > 0 {
			doc = n.docs[idx-1]
		}
	}
	n.mu.Unlock()

	if doc == nil {
		return ErrEndOfList
	}
	return n.selectDocument(ctx, doc)
}

// selectDocument moves the selection to doc. A failed entity load is logged
// and published as EventEntitiesUnavailable; it does not fail the selection.
func (n *Navigator) selectDocument(ctx context.Context, doc *trainer.Document) error {
	n.mu.Lock()
	if idx, ok := n.docIndex[doc.ID]; !ok || n.docs[idx] != doc || n.project == nil {
		n.mu.Unlock()
		return fmt.Errorf("document %d no longer loaded: %w", doc.ID, ErrDocumentNotFound)
	}
	n.docGuard.SelectLocked(doc.ID)
	n.entityGuard.ClearLocked()
	projectID := n.project.ID
	loaded := doc.EntitiesLoaded
	n.mu.Unlock()

	selections.WithLabelValues("document").Inc()

	if route := n.router.Route(); route.DocID != doc.ID {
		n.router.Replace(Route{ProjectID: projectID, DocID: doc.ID})
	}

	n.logger.Info().
		Int("project_id", projectID).
		Int("document_id", doc.ID).
		Msg("Document selected")
	n.bus.Publish(Event{Type: EventDocumentSelected, ProjectID: projectID, DocumentID: doc.ID})

	if !loaded {
		if err := n.loadEntities(ctx, projectID, doc); err != nil {
			n.bus.Publish(Event{Type: EventEntitiesUnavailable, ProjectID: projectID, DocumentID: doc.ID, Err: err})
			return nil
		}
	}
	if n.config.EnrichOnSelect {
		n.enrichDocument(ctx, doc)
	}
	return nil
}

// loadEntities drains the annotated entities of doc into it, unless the
// selection moved away in the meantime.
func (n *Navigator) loadEntities(ctx context.Context, projectID int, doc *trainer.Document) error {
	ticket := n.docGuard.Issue(doc.ID)
	res, err := n.entities.Collect(ctx, trainer.AnnotatedEntitiesURL(projectID, doc.ID), pagination.Unbounded)
	if err != nil {
		n.logger.Warn().Err(err).Int("document_id", doc.ID).Msg("Annotated entities unavailable")
		return fmt.Errorf("load entities of document %d: %w", doc.ID, err)
	}

	applied := n.docGuard.Apply(ticket, func() {
		doc.Entities = make([]*trainer.Entity, len(res.Items))
		for i := range res.Items {
			doc.Entities[i] = &res.Items[i]
		}
		doc.EntitiesLoaded = true
	})
	n.logger.Debug().
		Int("document_id", doc.ID).
		Int("entities", len(res.Items)).
		Bool("applied", applied).
		Msg("Annotated entities loaded")
	return nil
}

// EnrichDocument enriches every entity of the selected document that still
// lacks detail, and fetches meta-annotations without creating defaults.
func (n *Navigator) EnrichDocument(ctx context.Context) error {
	n.mu.Lock()
	if n.state != StateReady {
		n.mu.Unlock()
		return ErrNotReady
	}
	doc := n.currentDocLocked()
	n.mu.Unlock()
	if doc == nil {
		return fmt.Errorf("no document selected: %w", ErrDocumentNotFound)
	}
	n.enrichDocument(ctx, doc)
	return nil
}

func (n *Navigator) enrichDocument(ctx context.Context, doc *trainer.Document) {
	n.mu.Lock()
	targets := make([]enrich.Target, 0, len(doc.Entities))
	detailed := make(map[int]bool, len(doc.Entities))
	for _, e := range doc.Entities {
		targets = append(targets, enrich.TargetOf(e))
		detailed[e.ID] = e.HasDetail()
	}
	tasks := n.tasks
	n.mu.Unlock()

	if len(targets) == 0 {
		return
	}

	ticket := n.docGuard.Issue(doc.ID)
	results := n.enricher.Batch(ctx, targets,
		func(t enrich.Target) bool { return detailed[t.EntityID] },
		enrich.Options{Tasks: tasks, UseDefault: false},
	)

	var events []Event
	applied := n.docGuard.Apply(ticket, func() {
		for _, r := range results {
			e := doc.Entity(r.Detail.EntityID)
			if e == nil {
				continue
			}
			d := r.Detail
			// Never overwrite detail a concurrent entity enrichment already set.
			if e.HasDetail() {
				d.CUI, d.Concept = "", nil
				d.ICD10Fetched, d.OPCS4Fetched = false, false
			}
			if len(e.MetaTasks) > 0 {
				d.MetaFetched = false
			}
			d.ApplyTo(e)
			events = append(events, Event{Type: EventEntityEnriched, DocumentID: doc.ID, EntityID: e.ID, Err: r.Err})
		}
	})
	if !applied {
		return
	}
	for _, ev := range events {
		n.bus.Publish(ev)
	}
}

// SelectEntity selects an entity of the current document. An entity without
// cached detail is enriched; its meta-annotations are fetched, creating
// defaults for tasks that declare one. Enrichment failures are logged and
// reported through EventEntityEnriched, never returned.
func (n *Navigator) SelectEntity(ctx context.Context, id int) error {
	n.mu.Lock()
	if n.state != StateReady {
		n.mu.Unlock()
		return ErrNotReady
	}
	doc := n.currentDocLocked()
	if doc == nil {
		n.mu.Unlock()
		return fmt.Errorf("no document selected: %w", ErrDocumentNotFound)
	}
	e := doc.Entity(id)
	if e == nil {
		n.mu.Unlock()
		return fmt.Errorf("entity %d in document %d: %w", id, doc.ID, ErrEntityNotFound)
	}
	n.entityGuard.SelectLocked(id)
	target := enrich.TargetOf(e)
	opts := enrich.Options{SkipConcept: e.HasDetail(), Tasks: n.tasks, UseDefault: true}
	docID := doc.ID
	n.mu.Unlock()

	selections.WithLabelValues("entity").Inc()
	n.logger.Debug().Int("document_id", docID).Int("entity_id", id).Msg("Entity selected")
	n.bus.Publish(Event{Type: EventEntitySelected, DocumentID: docID, EntityID: id})

	if opts.SkipConcept && len(opts.Tasks) == 0 {
		return nil
	}

	ticket := n.entityGuard.Issue(id)
	d, err := n.enricher.Entity(ctx, target, opts)
	if err != nil {
		n.logger.Warn().Err(err).Int("entity_id", id).Msg("Entity enrichment incomplete")
	}
	if n.entityGuard.Apply(ticket, func() { d.ApplyTo(e) }) {
		n.bus.Publish(Event{Type: EventEntityEnriched, DocumentID: docID, EntityID: id, Err: err})
	}
	return nil
}

// NextEntity selects the entity after the current one in the document; with
// nothing selected it selects the first.
func (n *Navigator) NextEntity(ctx context.Context) error {
	return n.stepEntity(ctx, 1)
}

// PreviousEntity selects the entity before the current one; with nothing
// selected it selects the last.
func (n *Navigator) PreviousEntity(ctx context.Context) error {
	return n.stepEntity(ctx, -1)
}

func (n *Navigator) stepEntity(ctx context.Context, delta int) error {
	n.mu.Lock()
	if n.state != StateReady {
		n.mu.Unlock()
		return ErrNotReady
	}
	doc := n.currentDocLocked()
	if doc == nil {
		n.mu.Unlock()
		return fmt.Errorf("no document selected: %w", ErrDocumentNotFound)
	}

	next := -1
	if cur, ok := n.entityGuard.CurrentLocked(); ok {
		for i, e := range doc.Entities {
			if e.ID == cur {
				next = i + delta
				break
			}
		}
	} else if delta > 0 {
		next = 0
	} else {
		next = len(doc.Entities) - 1
	}

	if next < 0 || next >= len(doc.Entities) {
		n.mu.Unlock()
		return ErrEndOfList
	}
	id := doc.Entities[next].ID
	n.mu.Unlock()

	return n.SelectEntity(ctx, id)
}

// SetMetaAnnotation stores valueID as the entity's value for a meta task and
// returns the updated task value.
func (n *Navigator) SetMetaAnnotation(ctx context.Context, entityID, taskID, valueID int) (trainer.TaskValue, error) {
	n.mu.Lock()
	if n.state != StateReady {
		n.mu.Unlock()
		return trainer.TaskValue{}, ErrNotReady
	}
	doc := n.currentDocLocked()
	var e *trainer.Entity
	if doc != nil {
		e = doc.Entity(entityID)
	}
	if e == nil {
		n.mu.Unlock()
		return trainer.TaskValue{}, fmt.Errorf("entity %d: %w", entityID, ErrEntityNotFound)
	}

	tv, found := trainer.TaskValue{}, false
	for _, cur := range e.MetaTasks {
		if cur.Task.ID == taskID {
			tv, found = cur, true
			break
		}
	}
	if !found {
		for _, t := range n.tasks {
			if t.ID == taskID {
				tv, found = trainer.TaskValue{Task: t}, true
				break
			}
		}
	}
	n.mu.Unlock()

	if !found {
		return trainer.TaskValue{}, fmt.Errorf("task %d: %w", taskID, ErrTaskNotFound)
	}

	updated, err := n.enricher.SetMetaAnnotation(ctx, entityID, tv, valueID)
	if err != nil {
		return tv, err
	}

	n.mu.Lock()
	replaced := false
	for i := range e.MetaTasks {
		if e.MetaTasks[i].Task.ID == taskID {
			e.MetaTasks[i] = updated
			replaced = true
		}
	}
	if !replaced {
		e.MetaTasks = append(e.MetaTasks, updated)
	}
	n.mu.Unlock()

	n.logger.Info().
		Int("entity_id", entityID).
		Int("task_id", taskID).
		Int("value", valueID).
		Msg("Meta annotation saved")
	return updated, nil
}
