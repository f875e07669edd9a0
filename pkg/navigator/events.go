package navigator

import (
	"slices"
	"sync"
)

// EventType names a navigator notification.
type EventType string

const (
	EventProjectLoaded    EventType = "project_loaded"
	EventProjectNotFound  EventType = "project_not_found"
	EventDocumentsLoaded  EventType = "documents_loaded"
	EventDocumentSelected EventType = "document_selected"
	EventEntitySelected   EventType = "entity_selected"
	EventEntityEnriched   EventType = "entity_enriched"

	// EventEntitiesUnavailable reports a failed annotated-entity load; the
	// document stays selected and the next selection retries.
	EventEntitiesUnavailable EventType = "entities_unavailable"
)

// Event is the payload delivered to subscribers. Fields that do not apply
// to the event type are zero.
type Event struct {
	Type       EventType
	ProjectID  int
	DocumentID int
	EntityID   int

	// Documents is the number of loaded documents (EventDocumentsLoaded).
	Documents int

	// Err carries a non-fatal failure, e.g. a partially enriched entity.
	Err error
}

// Handler receives events. It runs on the goroutine that published the
// event and must not call back into the navigator synchronously.
type Handler func(Event)

type subscription struct {
	id      int
	types   []EventType
	handler Handler
}

// Bus is a typed publish/subscribe hub.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   []subscription
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers h for the given types, or for every type when none
// are given. The returned function removes the subscription.
func (b *Bus) Subscribe(h Handler, types ...EventType) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, types: types, handler: h})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.subs = slices.DeleteFunc(b.subs, func(s subscription) bool { return s.id == id })
	}
}

// Publish delivers e to every matching subscriber in subscription order.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	subs := slices.Clone(b.subs)
	b.mu.RUnlock()

	for _, s := range subs {
		if len(s.types) == 0 || slices.Contains(s.types, e.Type) {
			s.handler(e)
		}
	}
}
