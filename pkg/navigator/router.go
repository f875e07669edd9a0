package navigator

import "sync"

// Route is the navigation location that mirrors the selection, e.g.
// /train/{ProjectID}/{DocID}. DocID 0 means no document in the route.
type Route struct {
	ProjectID int `json:"project_id"`
	DocID     int `json:"doc_id,omitempty"`
}

// Router exposes the current route. Replace swaps the current location
// without adding a history entry.
type Router interface {
	Route() Route
	Replace(Route)
}

// MemoryRouter is a Router held in memory. It records how many times the
// route was replaced.
type MemoryRouter struct {
	mu       sync.Mutex
	route    Route
	replaced int
}

// NewMemoryRouter creates a router positioned at r.
func NewMemoryRouter(r Route) *MemoryRouter {
	return &MemoryRouter{route: r}
}

// Route returns the current route.
func (m *MemoryRouter) Route() Route {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.route
}

// Replace sets the current route.
func (m *MemoryRouter) Replace(r Route) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.route = r
	m.replaced++
}

// Replacements returns the number of Replace calls.
func (m *MemoryRouter) Replacements() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.replaced
}
