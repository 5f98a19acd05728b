package realtime

import (
	"log"
	"sync"
)

// Registry is the process-wide map from session id to its live router.
// It is the only state shared across concurrent sessions.
type Registry struct {
	mu      sync.Mutex
	routers map[string]*Router
}

func NewRegistry() *Registry {
	return &Registry{routers: make(map[string]*Router)}
}

// Register installs a router under id. A second registration for the same
// id is rejected with ErrSessionExists rather than replacing the first, so
// an active session's upstream sockets are never orphaned.
func (g *Registry) Register(id string, r *Router) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.routers[id]; ok {
		return ErrSessionExists
	}
	g.routers[id] = r
	return nil
}

// Lookup resolves an active router by session id.
func (g *Registry) Lookup(id string) (*Router, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.routers[id]
	return r, ok
}

// Dispose closes the router registered under id and removes the entry.
func (g *Registry) Dispose(id string) error {
	g.mu.Lock()
	r, ok := g.routers[id]
	delete(g.routers, id)
	g.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	r.Close()
	return nil
}

// ActiveCount reports how many routers are registered.
func (g *Registry) ActiveCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.routers)
}

// Shutdown disposes every active session. Used at process stop.
func (g *Registry) Shutdown() {
	g.mu.Lock()
	routers := g.routers
	g.routers = make(map[string]*Router)
	g.mu.Unlock()

	for id, r := range routers {
		log.Printf("registry: disposing session %s on shutdown", id)
		r.Close()
	}
}
