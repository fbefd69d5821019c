package network

import (
	"sync"
	"time"
)

// Table is the session table: concurrent accepts and disconnects never
// corrupt it or present inconsistent views. Each id maps to at most one live
// session and is removed exactly once.
type Table struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewTable creates an empty session table.
func NewTable() *Table {
	return &Table{sessions: make(map[string]*Session)}
}

// Add inserts a session.
func (t *Table) Add(s *Session) {
	t.mu.Lock()
	t.sessions[s.ID] = s
	t.mu.Unlock()
}

// Get returns a session by id.
func (t *Table) Get(id string) (*Session, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.sessions[id]
	return s, ok
}

// Remove deletes a session by id, returning it. The second return is false
// when the id was already removed, making removal idempotent for callers.
func (t *Table) Remove(id string) (*Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[id]
	if ok {
		delete(t.sessions, id)
	}
	return s, ok
}

// Count returns the number of live sessions.
func (t *Table) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions)
}

// Snapshot returns the current sessions.
func (t *Table) Snapshot() []*Session {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Session, 0, len(t.sessions))
	for _, s := range t.sessions {
		out = append(out, s)
	}
	return out
}

// IdleSince returns ids of sessions whose last activity is older than the
// timeout. The reaper disconnects them.
func (t *Table) IdleSince(timeout time.Duration) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var ids []string
	for id, s := range t.sessions {
		if s.IdleFor() > timeout {
			ids = append(ids, id)
		}
	}
	return ids
}
