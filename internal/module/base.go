package module

import (
	"sync"
	"sync/atomic"

	"github.com/djames1987/DracoSoft-Server/pkg/logger"
)

// Base provides the common plumbing of a module: descriptor, configuration,
// state, and host handle. Concrete modules embed it and implement the
// lifecycle hooks.
type Base struct {
	info  Info
	host  Host
	log   *logger.Logger
	state atomic.Int32

	mu  sync.RWMutex
	cfg map[string]any
}

// NewBase constructs the embeddable module core.
func NewBase(info Info, host Host) Base {
	b := Base{info: info, host: host}
	if host != nil {
		b.log = host.Logger().Named("module." + info.Name)
	} else {
		b.log = logger.NewDefault("module." + info.Name)
	}
	b.state.Store(int32(StateUnloaded))
	return b
}

// Info returns the module descriptor.
func (b *Base) Info() Info { return b.info }

// Host returns the runtime handle.
func (b *Base) Host() Host { return b.host }

// Log returns the module logger.
func (b *Base) Log() *logger.Logger { return b.log }

// State returns the current lifecycle state.
func (b *Base) State() State { return State(b.state.Load()) }

// SetState moves the module to the given state.
func (b *Base) SetState(s State) { b.state.Store(int32(s)) }

// Configure stores the bound configuration mapping.
func (b *Base) Configure(cfg map[string]any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cfg = cfg
	b.log.WithField("keys", len(cfg)).Debug("module configured")
}

// Config returns the bound configuration mapping. May be nil.
func (b *Base) Config() map[string]any {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.cfg
}

// ConfigString reads a string config key, falling back when absent.
func (b *Base) ConfigString(key, fallback string) string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if v, ok := b.cfg[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

// ConfigInt reads an integer config key, falling back when absent. YAML
// decodes numbers as int; JSON-sourced maps carry float64, both accepted.
func (b *Base) ConfigInt(key string, fallback int) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	switch v := b.cfg[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return fallback
	}
}

// ConfigBool reads a boolean config key, falling back when absent.
func (b *Base) ConfigBool(key string, fallback bool) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if v, ok := b.cfg[key].(bool); ok {
		return v
	}
	return fallback
}

// Status returns the read-only projection of this module.
func (b *Base) Status() Status {
	s := b.State()
	return Status{
		Name:         b.info.Name,
		Version:      b.info.Version,
		Description:  b.info.Description,
		Author:       b.info.Author,
		State:        s,
		Loaded:       s.IsLoaded(),
		Enabled:      s.IsEnabled(),
		Dependencies: b.info.Dependencies,
	}
}
