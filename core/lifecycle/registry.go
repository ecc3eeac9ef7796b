package lifecycle

import (
	"container/list"
	"sync"
	"time"

	"github.com/cordum/mediadrop/core/storage"
)

// Registry is the authoritative set of live sessions. The lookup map and the
// insertion-ordered list always change together under one lock.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*list.Element
	order    *list.List
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*list.Element),
		order:    list.New(),
	}
}

func (r *Registry) Add(s Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s.ID]; ok {
		return ErrSessionExists
	}
	stored := s
	r.sessions[s.ID] = r.order.PushBack(&stored)
	return nil
}

func (r *Registry) Get(id string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	el, ok := r.sessions[id]
	if !ok {
		return Session{}, false
	}
	return *el.Value.(*Session), true
}

func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	el, ok := r.sessions[id]
	if !ok {
		return false
	}
	r.order.Remove(el)
	delete(r.sessions, id)
	return true
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Snapshot copies every session in insertion order.
func (r *Registry) Snapshot() []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Session, 0, r.order.Len())
	for el := r.order.Front(); el != nil; el = el.Next() {
		out = append(out, *el.Value.(*Session))
	}
	return out
}

// Expired copies sessions whose age at now is at least threshold, in insertion order.
func (r *Registry) Expired(now time.Time, threshold time.Duration) []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Session
	for el := r.order.Front(); el != nil; el = el.Next() {
		s := el.Value.(*Session)
		if now.Sub(s.CreatedAt) >= threshold {
			out = append(out, *s)
		}
	}
	return out
}

// IDs returns the set of registered session ids.
func (r *Registry) IDs() map[string]struct{} {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]struct{}, len(r.sessions))
	for id := range r.sessions {
		out[id] = struct{}{}
	}
	return out
}

// Swap atomically replaces a session's descriptor and state, but only while
// the session is still in state from. It reports false when the session is
// gone or has moved on.
func (r *Registry) Swap(id string, from State, desc storage.Descriptor, to State) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	el, ok := r.sessions[id]
	if !ok {
		return false
	}
	s := el.Value.(*Session)
	if s.State != from {
		return false
	}
	s.Descriptor = desc
	s.State = to
	return true
}

// markExpired moves a session to EXPIRED and returns the descriptor it held.
// Without force, sessions that are mid-upload are left alone.
func (r *Registry) markExpired(id string, force bool) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	el, found := r.sessions[id]
	if !found {
		return Session{}, false
	}
	s := el.Value.(*Session)
	if s.State == StateExpired || (!force && !s.Reclaimable()) {
		return Session{}, false
	}
	s.State = StateExpired
	return *s, true
}
