package webtransport

import (
	"sync"

	"webtransport/carrier"
)

// Registry maps a SessionID to its live Session. The carrier layer (and
// UnidirectionalStream, once it has resolved a preamble) uses it to
// re-resolve a session by ID rather than holding a direct pointer, so
// that nothing outlives session teardown by accident.
type Registry struct {
	mu       sync.RWMutex
	sessions map[carrier.StreamID]*Session
}

// NewRegistry creates an empty session registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[carrier.StreamID]*Session)}
}

// Register adds s under its own SessionID. It is the caller's
// responsibility to Unregister once the session's CONNECT stream closes.
func (r *Registry) Register(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.id] = s
}

// Unregister removes the session with the given ID, if present.
func (r *Registry) Unregister(id carrier.StreamID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// Lookup resolves a SessionID to its live Session. Its signature matches
// sessionLookup so it can be passed directly to
// NewIncomingUnidirectionalStream.
func (r *Registry) Lookup(id carrier.StreamID) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}
