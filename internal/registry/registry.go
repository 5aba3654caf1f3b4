// Package registry tracks live connections and the identity bound to each.
package registry

import (
	"sort"
	"sync"

	"github.com/fathima-sithara/realtime-service/internal/apperr"
)

type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	// userID -> set of connection ids
	byUser map[string]map[string]struct{}
}

func New() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		byUser:   make(map[string]map[string]struct{}),
	}
}

func (r *Registry) Register(connID string, id Identity, sink Sink) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[connID]; ok {
		return nil, apperr.ErrDuplicateConnection
	}
	s := newSession(connID, id, sink)
	r.sessions[connID] = s
	if _, ok := r.byUser[id.UserID]; !ok {
		r.byUser[id.UserID] = make(map[string]struct{})
	}
	r.byUser[id.UserID][connID] = struct{}{}
	return s, nil
}

// Unregister removes the session and marks it closed so later joins fail.
func (r *Registry) Unregister(connID string) (*Session, error) {
	r.mu.Lock()
	s, ok := r.sessions[connID]
	if !ok {
		r.mu.Unlock()
		return nil, apperr.ErrConnectionNotFound
	}
	delete(r.sessions, connID)
	if set, ok := r.byUser[s.Identity.UserID]; ok {
		delete(set, connID)
		if len(set) == 0 {
			delete(r.byUser, s.Identity.UserID)
		}
	}
	r.mu.Unlock()

	s.markClosed()
	return s, nil
}

func (r *Registry) Get(connID string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[connID]
	if !ok {
		return nil, apperr.ErrConnectionNotFound
	}
	return s, nil
}

// FindByUser returns every connection bound to userID, sorted.
func (r *Registry) FindByUser(userID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.byUser[userID]
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// OnlineUsers returns one identity per connected user.
func (r *Registry) OnlineUsers() []Identity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Identity, 0, len(r.byUser))
	for _, set := range r.byUser {
		for connID := range set {
			out = append(out, r.sessions[connID].Identity)
			break
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
