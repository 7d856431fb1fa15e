package session

import "sync"

// Notifiable is the subset of *Session the Registry needs in order to
// implement failover.WorkerNotifier without pkg/failover importing
// pkg/session (which would create an import cycle, since pkg/session
// itself does not need to know about failover requests).
type Notifiable interface {
	InvalidatePool()
}

// Registry tracks every live session so the failover executor's "sync
// workers" step (spec §4.7 step 5) can reach all of them. The supervisor
// registers a session when it starts and unregisters it when Run
// returns; Registry itself implements failover.WorkerNotifier.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]Notifiable
}

// NewRegistry builds an empty session registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]Notifiable)}
}

// Register adds a session to the registry under id.
func (r *Registry) Register(id string, s Notifiable) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[id] = s
}

// Unregister removes a session from the registry.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// InvalidateAll implements failover.WorkerNotifier: every currently live
// session is told to invalidate its cached pool slot at its next idle
// point. reason is accepted for interface compatibility and future
// logging; the invalidation itself is unconditional.
func (r *Registry) InvalidateAll(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		s.InvalidatePool()
	}
}

// Count reports the number of currently registered sessions, used by the
// admin API's GET /processes.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// IDs returns the id of every currently registered session, used by the
// admin API's GET /processes to list active connections.
func (r *Registry) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	return ids
}
