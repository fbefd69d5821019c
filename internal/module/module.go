package module

import (
	"context"

	"github.com/djames1987/DracoSoft-Server/internal/event"
	"github.com/djames1987/DracoSoft-Server/internal/metrics"
	"github.com/djames1987/DracoSoft-Server/pkg/logger"
)

// Info describes a module. It is immutable once the module is registered.
type Info struct {
	Name        string `json:"name" yaml:"name"`
	Version     string `json:"version" yaml:"version"`
	Description string `json:"description" yaml:"description"`
	Author      string `json:"author" yaml:"author"`

	// Dependencies lists the names of modules that must be enabled before
	// this module can be enabled, in order.
	Dependencies []string `json:"dependencies" yaml:"dependencies"`
}

// Module is the contract every module implements. The manager mediates all
// lifecycle transitions; modules must not call their own hooks.
type Module interface {
	// Info returns the module descriptor.
	Info() Info

	// Load acquires resources and registers event handlers. Called once per
	// instance; a failed load discards the instance.
	Load(ctx context.Context) error

	// Unload releases everything Load acquired. Must cancel any background
	// task the module started.
	Unload(ctx context.Context) error

	// Enable activates the module's functionality.
	Enable(ctx context.Context) error

	// Disable deactivates the module without unloading it. Must stop any
	// background task started by Enable before returning.
	Disable(ctx context.Context) error

	// Configure applies the bound configuration mapping. Called by the
	// manager after construction, before Load.
	Configure(cfg map[string]any)

	// State returns the current lifecycle state.
	State() State

	// SetState moves the module to the given state. Only the manager calls
	// this.
	SetState(s State)
}

// ServerEventHandler is an optional capability: modules implementing it
// receive server events the host chooses to fan out directly.
type ServerEventHandler interface {
	HandleServerEvent(ctx context.Context, eventType string, data map[string]any)
}

// ClientMessageHandler is an optional capability: modules implementing it
// receive client messages and may return a reply to be sent back.
type ClientMessageHandler interface {
	HandleClientMessage(ctx context.Context, sessionID string, msg map[string]any) (map[string]any, error)
}

// Host is the handle a module uses to reach the rest of the runtime. The
// composition root owns the concrete instances; nothing is ambient.
type Host interface {
	// Bus returns the shared event bus.
	Bus() *event.Bus

	// Modules returns the module manager, for dependency lookups.
	Modules() *Manager

	// Logger returns the host logger; modules derive their own with Named.
	Logger() *logger.Logger

	// Metrics returns the runtime metrics collector. May be nil; the
	// collector is nil-safe.
	Metrics() *metrics.Collector
}

// Status is the read-only projection of a module returned by the manager.
type Status struct {
	Name         string   `json:"name"`
	Version      string   `json:"version"`
	Description  string   `json:"description"`
	Author       string   `json:"author"`
	State        State    `json:"state"`
	Loaded       bool     `json:"loaded"`
	Enabled      bool     `json:"enabled"`
	Dependencies []string `json:"dependencies"`
}
