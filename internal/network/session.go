package network

import (
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Session holds the server-side state for one live client connection. It is
// created at accept and destroyed exactly once on disconnect.
type Session struct {
	// ID uniquely identifies the connection.
	ID string

	// Conn is the transport handle.
	Conn net.Conn

	// Address is the peer address recorded at accept.
	Address string

	// ConnectedAt records accept time.
	ConnectedAt time.Time

	mu            sync.RWMutex
	lastActivity  time.Time
	authenticated bool
	attributes    map[string]any

	writeMu sync.Mutex // serializes frame writes

	limiter *rate.Limiter // inbound frame rate, nil when unlimited
}

// SessionInfo is the read-only projection of a session.
type SessionInfo struct {
	ID            string         `json:"id"`
	Address       string         `json:"address"`
	ConnectedAt   time.Time      `json:"connected_at"`
	LastActivity  time.Time      `json:"last_activity"`
	Authenticated bool           `json:"authenticated"`
	Attributes    map[string]any `json:"attributes,omitempty"`
}

// NewSession creates a session for an accepted connection. A messagesPerSec
// of zero disables inbound rate limiting.
func NewSession(id string, conn net.Conn, messagesPerSec int) *Session {
	now := time.Now()
	s := &Session{
		ID:           id,
		Conn:         conn,
		Address:      conn.RemoteAddr().String(),
		ConnectedAt:  now,
		lastActivity: now,
		attributes:   make(map[string]any),
	}
	if messagesPerSec > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(messagesPerSec), messagesPerSec)
	}
	return s
}

// Touch records activity on the session.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// LastActivity returns the last recorded activity time.
func (s *Session) LastActivity() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActivity
}

// IdleFor reports how long the session has been inactive.
func (s *Session) IdleFor() time.Duration {
	return time.Since(s.LastActivity())
}

// Authenticated reports the authentication flag.
func (s *Session) Authenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authenticated
}

// SetAuthenticated updates the authentication flag.
func (s *Session) SetAuthenticated(v bool) {
	s.mu.Lock()
	s.authenticated = v
	s.mu.Unlock()
}

// Attribute returns a session attribute.
func (s *Session) Attribute(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.attributes[key]
	return v, ok
}

// SetAttribute stores a session attribute.
func (s *Session) SetAttribute(key string, value any) {
	s.mu.Lock()
	s.attributes[key] = value
	s.mu.Unlock()
}

// AllowInbound reports whether an inbound frame is within the session's rate
// budget. Frames over budget are dropped by the read loop, not fatal.
func (s *Session) AllowInbound() bool {
	if s.limiter == nil {
		return true
	}
	return s.limiter.Allow()
}

// WriteFrame writes one frame on the session's transport, serialized against
// concurrent senders.
func (s *Session) WriteFrame(c Codec, payload []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return c.WriteFrame(s.Conn, payload)
}

// Info returns the read-only projection of the session.
func (s *Session) Info() SessionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	attrs := make(map[string]any, len(s.attributes))
	for k, v := range s.attributes {
		attrs[k] = v
	}
	return SessionInfo{
		ID:            s.ID,
		Address:       s.Address,
		ConnectedAt:   s.ConnectedAt,
		LastActivity:  s.lastActivity,
		Authenticated: s.authenticated,
		Attributes:    attrs,
	}
}
