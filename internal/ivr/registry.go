package ivr

import "sync"

// Registry maps call-connection ids to live sessions. Sessions are
// registered when a call is answered and removed on terminal events, so
// handlers never accumulate past a call's lifetime.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

func (r *Registry) Register(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.CallConnectionID] = s
}

func (r *Registry) Lookup(callConnectionID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[callConnectionID]
	return s, ok
}

func (r *Registry) Remove(callConnectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, callConnectionID)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Snapshots returns a point-in-time view of every live session.
func (r *Registry) Snapshots() []SessionSnapshot {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	out := make([]SessionSnapshot, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Snapshot())
	}
	return out
}
