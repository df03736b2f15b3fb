// ABOUTME: In-memory registry mapping session IDs to live sessions.
// ABOUTME: Single source of truth for which sessions exist; all ops are atomic.

package session

import (
	"sort"
	"sync"
)

// Registry holds all live sessions. It is the only structure mutated by
// multiple actors (HTTP handlers, the event pump, logout) and guards the
// map with a single RWMutex; session cardinality is small enough that
// coarse exclusion is fine.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Create inserts a new session if the id is absent. Returns the session
// and whether it was created. Concurrent calls for the same id observe
// exactly one insertion; the existing session is never mutated.
func (r *Registry) Create(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.sessions[id]; ok {
		return existing, false
	}

	sess := newSession(id)
	r.sessions[id] = sess
	return sess, true
}

// Get returns the session with the given id, if present.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sess, ok := r.sessions[id]
	return sess, ok
}

// Remove deletes the session with the given id. Returns false if absent.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[id]; !ok {
		return false
	}
	delete(r.sessions, id)
	return true
}

// List returns snapshots of all sessions, sorted by id.
func (r *Registry) List() []Info {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	infos := make([]Info, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.Snapshot())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
