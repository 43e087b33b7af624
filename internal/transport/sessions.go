package transport

import "sync"

// SessionSet reports which MCP sessions are live.
type SessionSet interface {
	// Live runs fn while id is registered and reports whether it did.
	// An id removed concurrently is either seen before fn runs or not at all.
	Live(id string, fn func()) bool
}

// Sessions tracks the session ids the MCP server has registered. The
// server's register and unregister hooks keep it current.
type Sessions struct {
	mu  sync.RWMutex
	ids map[string]struct{}
}

// NewSessions returns an empty set.
func NewSessions() *Sessions {
	return &Sessions{ids: make(map[string]struct{})}
}

// Add marks id live.
func (s *Sessions) Add(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids[id] = struct{}{}
}

// Remove marks id closed. Once it returns no Live call for id runs its fn,
// so cleanup done after Remove cannot be undone by a racing request.
func (s *Sessions) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.ids, id)
}

// Known reports whether id is live.
func (s *Sessions) Known(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.ids[id]
	return ok
}

// Live implements SessionSet.
func (s *Sessions) Live(id string, fn func()) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.ids[id]; !ok {
		return false
	}
	fn()
	return true
}
