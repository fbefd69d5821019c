// Package event implements the runtime's asynchronous notification bus.
// Producers emit typed events; consumers register prioritized handlers per
// event type. One ordered processing loop delivers each event to its handlers
// and retains a bounded history.
package event

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Priority orders handler invocation for one event. Higher runs first.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

// String returns the string representation of the priority.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "normal"
	}
}

// Standard event types shared across the runtime.
const (
	TypeServerStarted      = "server:started"
	TypeServerStopped      = "server:stopped"
	TypeClientConnected    = "client:connected"
	TypeClientDisconnected = "client:disconnected"
	TypeClientMessage      = "client:message"
)

// Event is a notification routed through the bus. Consumers treat it as
// immutable except for the propagation flag.
type Event struct {
	// Type is the routing key.
	Type string `json:"type"`

	// Source names the emitting module.
	Source string `json:"source"`

	// ID uniquely identifies this event.
	ID string `json:"id"`

	// Timestamp records creation time.
	Timestamp time.Time `json:"timestamp"`

	// Data is the open key/value payload.
	Data map[string]any `json:"data"`

	propagating atomic.Bool
}

// New constructs an event with a fresh id and timestamp, propagating.
func New(eventType, source string, data map[string]any) *Event {
	if data == nil {
		data = make(map[string]any)
	}
	e := &Event{
		Type:      eventType,
		Source:    source,
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		Data:      data,
	}
	e.propagating.Store(true)
	return e
}

// StopPropagation halts delivery to the remaining (lower priority) handlers
// for this event only.
func (e *Event) StopPropagation() {
	e.propagating.Store(false)
}

// Propagating reports whether delivery should continue.
func (e *Event) Propagating() bool {
	return e.propagating.Load()
}

// Handler processes one event. Handlers run sequentially on the bus loop and
// must not block unboundedly.
type Handler func(e *Event)

// Filter decides whether a handler sees an event. A false result skips the
// handler without affecting propagation.
type Filter func(e *Event) bool
