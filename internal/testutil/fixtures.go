package testutil

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/Sternrassler/medcat-trainer-client/pkg/trainer"
)

// InstallProjects serves projects filtered by ?id=.
func (m *MockTrainer) InstallProjects(projects ...trainer.Project) {
	m.SetCollectionFunc(trainer.PathProjects, func(q url.Values) []any {
		var out []any
		for _, p := range projects {
			if id := q.Get("id"); id == "" || id == strconv.Itoa(p.ID) {
				out = append(out, p)
			}
		}
		return out
	})
}

// InstallDocuments serves documents filtered by ?dataset=.
func (m *MockTrainer) InstallDocuments(docs ...trainer.Document) {
	m.SetCollectionFunc(trainer.PathDocuments, func(q url.Values) []any {
		var out []any
		for _, d := range docs {
			if ds := q.Get("dataset"); ds == "" || ds == strconv.Itoa(d.Dataset) {
				out = append(out, d)
			}
		}
		return out
	})
}

// NumberedDocuments builds n documents with ids 1..n in one dataset.
func NumberedDocuments(dataset, n int) []trainer.Document {
	docs := make([]trainer.Document, n)
	for i := range docs {
		docs[i] = trainer.Document{
			ID:      i + 1,
			Name:    "doc-" + strconv.Itoa(i+1),
			Dataset: dataset,
			Text:    "Patient presented with chest pain.",
		}
	}
	return docs
}

// InstallEntities serves annotated entities filtered by ?document=.
func (m *MockTrainer) InstallEntities(byDoc map[int][]trainer.Entity) {
	m.SetCollectionFunc(trainer.PathAnnotatedEntities, func(q url.Values) []any {
		docID, _ := strconv.Atoi(q.Get("document"))
		var out []any
		for _, e := range byDoc[docID] {
			out = append(out, e)
		}
		return out
	})
}

// InstallEntityLabels serves the entity reference -> CUI lookups.
func (m *MockTrainer) InstallEntityLabels(labels map[int]string) {
	for id, cui := range labels {
		m.SetJSON(trainer.EntityURL(id), trainer.EntityRef{ID: id, Label: cui})
	}
}

// InstallConcepts serves concepts filtered by ?cui=.
func (m *MockTrainer) InstallConcepts(concepts ...trainer.Concept) {
	m.SetCollectionFunc(trainer.PathConcepts, func(q url.Values) []any {
		var out []any
		for _, c := range concepts {
			if cui := q.Get("cui"); cui == "" || cui == c.CUI {
				out = append(out, c)
			}
		}
		return out
	})
}

// InstallCodes serves a code collection (ICD or OPCS) filtered by
// ?id__in=, in the given order.
func (m *MockTrainer) InstallCodes(path string, codes ...trainer.Code) {
	m.SetCollectionFunc(path, func(q url.Values) []any {
		want := map[string]bool{}
		for _, id := range strings.Split(q.Get("id__in"), ",") {
			want[id] = true
		}
		var out []any
		for _, c := range codes {
			if want[strconv.Itoa(c.ID)] {
				out = append(out, c)
			}
		}
		return out
	})
}

// InstallMetaTasks serves meta tasks and their values.
func (m *MockTrainer) InstallMetaTasks(tasks []trainer.MetaTask, values []trainer.MetaTaskValue) {
	taskItems := make([]any, len(tasks))
	for i, t := range tasks {
		taskItems[i] = t
	}
	valueItems := make([]any, len(values))
	for i, v := range values {
		valueItems[i] = v
	}
	m.SetCollection(trainer.PathMetaTasks, taskItems)
	m.SetCollection(trainer.PathMetaTaskValues, valueItems)
}

// MetaAnnotationStore is the mock backend's meta-annotation table.
type MetaAnnotationStore struct {
	mu     sync.Mutex
	annos  []trainer.MetaAnnotation
	nextID int
}

// All returns a copy of the stored annotations.
func (s *MetaAnnotationStore) All() []trainer.MetaAnnotation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]trainer.MetaAnnotation(nil), s.annos...)
}

// InstallMetaAnnotations serves GET (filtered by ?annotated_entity=), POST
// and per-annotation PUT on the meta-annotation collection, seeded with
// existing.
func (m *MockTrainer) InstallMetaAnnotations(existing ...trainer.MetaAnnotation) *MetaAnnotationStore {
	store := &MetaAnnotationStore{annos: append([]trainer.MetaAnnotation(nil), existing...), nextID: 1000}

	m.SetCollectionFunc(trainer.PathMetaAnnotations, func(q url.Values) []any {
		store.mu.Lock()
		defer store.mu.Unlock()
		var out []any
		for _, a := range store.annos {
			if ent := q.Get("annotated_entity"); ent == "" || ent == strconv.Itoa(a.AnnotatedEntity) {
				out = append(out, a)
			}
		}
		return out
	})

	m.SetHandler(http.MethodPost+" "+trainer.PathMetaAnnotations, func(w http.ResponseWriter, r *http.Request) {
		var anno trainer.MetaAnnotation
		if !decodeAnnotation(w, r, &anno) {
			return
		}
		m.recordPost(trainer.PathMetaAnnotations, anno)

		store.mu.Lock()
		anno.ID = store.nextID
		store.nextID++
		store.annos = append(store.annos, anno)
		store.mu.Unlock()

		m.servePut(store, anno.ID)
		WriteJSON(w, http.StatusCreated, anno)
	})

	for _, a := range existing {
		m.servePut(store, a.ID)
	}
	return store
}

func (m *MockTrainer) servePut(store *MetaAnnotationStore, id int) {
	m.SetHandler(http.MethodPut+" "+trainer.MetaAnnotationURL(id), func(w http.ResponseWriter, r *http.Request) {
		var anno trainer.MetaAnnotation
		if !decodeAnnotation(w, r, &anno) {
			return
		}
		anno.ID = id

		store.mu.Lock()
		for i := range store.annos {
			if store.annos[i].ID == id {
				store.annos[i] = anno
			}
		}
		store.mu.Unlock()

		m.recordPost(trainer.MetaAnnotationURL(id), anno)
		WriteJSON(w, http.StatusOK, anno)
	})
}

func (m *MockTrainer) recordPost(path string, v any) {
	raw, _ := json.Marshal(v)
	m.mu.Lock()
	m.posts[path] = append(m.posts[path], raw)
	m.mu.Unlock()
}

func decodeAnnotation(w http.ResponseWriter, r *http.Request, anno *trainer.MetaAnnotation) bool {
	if err := json.NewDecoder(r.Body).Decode(anno); err != nil {
		WriteJSON(w, http.StatusBadRequest, map[string]string{"detail": err.Error()})
		return false
	}
	return true
}
