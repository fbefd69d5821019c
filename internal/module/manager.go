package module

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/djames1987/DracoSoft-Server/internal/event"
	"github.com/djames1987/DracoSoft-Server/pkg/logger"
)

// Factory constructs a module instance bound to a host. Factories are
// registered at process start; there is no runtime plugin scanning.
type Factory func(host Host) Module

// Manager errors returned to callers. Every failed operation also produces a
// log line naming the module.
var (
	ErrNotRegistered = errors.New("module not registered")
	ErrAlreadyLoaded = errors.New("module already loaded")
	ErrNotLoaded     = errors.New("module not loaded")
	ErrDependency    = errors.New("dependency not satisfied")
	ErrRequiredBy    = errors.New("module required by an enabled module")
)

// Manager owns the module registry and all live instances, and mediates
// every lifecycle transition. It is safe for concurrent use.
type Manager struct {
	host Host
	log  *logger.Logger

	mu        sync.Mutex
	factories map[string]Factory
	instances map[string]Module
	configs   map[string]map[string]any
	loading   map[string]struct{}
	loadOrder []string
}

// NewManager creates a manager bound to the given host.
func NewManager(host Host, log *logger.Logger) *Manager {
	return &Manager{
		host:      host,
		log:       log.Named("modules"),
		factories: make(map[string]Factory),
		instances: make(map[string]Module),
		configs:   make(map[string]map[string]any),
		loading:   make(map[string]struct{}),
	}
}

// Register adds a module factory under a name. Registering an existing name
// overwrites the previous factory; this is how a rebuilt module type replaces
// an old one, and it is logged rather than being silently ambiguous.
func (m *Manager) Register(name string, factory Factory) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.factories[name]; exists {
		m.log.WithField("module", name).Warn("module factory overwritten")
	}
	m.factories[name] = factory
}

// Bind associates a configuration mapping with a module name. The mapping is
// applied to the instance on every load.
func (m *Manager) Bind(name string, cfg map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configs[name] = cfg
}

// Discover returns the names of all registered module types, sorted.
func (m *Manager) Discover() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.factories))
	for name := range m.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Load constructs the named module, applies its bound configuration and runs
// its load hook. A hook failure discards the instance; nothing
// half-initialized is retained.
func (m *Manager) Load(ctx context.Context, name string) error {
	m.mu.Lock()
	_, loaded := m.instances[name]
	_, inflight := m.loading[name]
	if loaded || inflight {
		m.mu.Unlock()
		m.log.WithField("module", name).Warn("load rejected: already loaded")
		return fmt.Errorf("%w: %s", ErrAlreadyLoaded, name)
	}
	factory, ok := m.factories[name]
	if !ok {
		m.mu.Unlock()
		m.log.WithField("module", name).Error("load rejected: not registered")
		return fmt.Errorf("%w: %s", ErrNotRegistered, name)
	}
	cfg := m.configs[name]
	// Reserve the name while the hook runs so a concurrent load of the same
	// module fails instead of racing to overwrite the instance.
	m.loading[name] = struct{}{}
	m.mu.Unlock()

	inst := factory(m.host)
	if cfg != nil {
		inst.Configure(cfg)
	}

	if err := safeHook(ctx, inst.Load); err != nil {
		inst.SetState(StateError)
		m.mu.Lock()
		delete(m.loading, name)
		m.mu.Unlock()
		m.log.WithField("module", name).WithError(err).Error("module load failed")
		return fmt.Errorf("load %s: %w", name, err)
	}
	inst.SetState(StateLoaded)

	m.mu.Lock()
	delete(m.loading, name)
	m.instances[name] = inst
	m.loadOrder = append(m.loadOrder, name)
	m.mu.Unlock()

	m.log.WithField("module", name).Info("module loaded")
	m.emit(EventModuleLoaded, name)
	return nil
}

// Unload disables the named module if needed, runs its unload hook and
// removes the instance. It fails while any still-enabled module depends on
// the target.
func (m *Manager) Unload(ctx context.Context, name string) error {
	m.mu.Lock()
	inst, ok := m.instances[name]
	if !ok {
		m.mu.Unlock()
		m.log.WithField("module", name).Warn("unload rejected: not loaded")
		return fmt.Errorf("%w: %s", ErrNotLoaded, name)
	}
	if dep := m.enabledDependentLocked(name); dep != "" {
		m.mu.Unlock()
		m.log.WithFields(map[string]interface{}{"module": name, "required_by": dep}).
			Error("unload rejected: required by enabled module")
		return fmt.Errorf("%w: %s required by %s", ErrRequiredBy, name, dep)
	}
	m.mu.Unlock()

	if inst.State().IsEnabled() {
		if err := m.Disable(ctx, name); err != nil {
			return fmt.Errorf("unload %s: %w", name, err)
		}
	}

	if err := safeHook(ctx, inst.Unload); err != nil {
		// Unload attempts cleanup even from degraded states; the failure is
		// reported but the instance is still removed so a reload can
		// recover.
		m.log.WithField("module", name).WithError(err).Error("module unload hook failed")
	}
	inst.SetState(StateUnloaded)

	m.mu.Lock()
	delete(m.instances, name)
	for i, n := range m.loadOrder {
		if n == name {
			m.loadOrder = append(m.loadOrder[:i], m.loadOrder[i+1:]...)
			break
		}
	}
	m.mu.Unlock()

	// Handlers the module registered are purged here; unload is the only
	// supported way to avoid leaked registrations.
	if m.host != nil && m.host.Bus() != nil {
		m.host.Bus().UnregisterAll(name)
	}

	m.log.WithField("module", name).Info("module unloaded")
	m.emit(EventModuleUnloaded, name)
	return nil
}

// Enable activates a loaded module after verifying that every declared
// dependency is loaded and enabled.
func (m *Manager) Enable(ctx context.Context, name string) error {
	m.mu.Lock()
	inst, ok := m.instances[name]
	if !ok {
		m.mu.Unlock()
		m.log.WithField("module", name).Error("enable rejected: not loaded")
		return fmt.Errorf("%w: %s", ErrNotLoaded, name)
	}
	for _, dep := range inst.Info().Dependencies {
		depInst, present := m.instances[dep]
		if !present {
			m.mu.Unlock()
			m.log.WithFields(map[string]interface{}{"module": name, "dependency": dep}).
				Error("enable rejected: missing dependency")
			return fmt.Errorf("%w: %s requires %s (not loaded)", ErrDependency, name, dep)
		}
		if !depInst.State().IsEnabled() {
			m.mu.Unlock()
			m.log.WithFields(map[string]interface{}{"module": name, "dependency": dep}).
				Error("enable rejected: dependency not enabled")
			return fmt.Errorf("%w: %s requires %s (not enabled)", ErrDependency, name, dep)
		}
	}
	m.mu.Unlock()

	if inst.State().IsEnabled() {
		return nil
	}
	if from := inst.State(); !CanTransition(from, StateEnabled) {
		m.log.WithFields(map[string]interface{}{"module": name, "from": from.String()}).
			Error("enable rejected: invalid transition")
		return TransitionError{Module: name, From: from, To: StateEnabled}
	}

	if err := safeHook(ctx, inst.Enable); err != nil {
		inst.SetState(StateError)
		m.log.WithField("module", name).WithError(err).Error("module enable failed")
		return fmt.Errorf("enable %s: %w", name, err)
	}
	inst.SetState(StateEnabled)

	m.log.WithField("module", name).Info("module enabled")
	m.emit(EventModuleEnabled, name)
	return nil
}

// Disable deactivates a module unless a still-enabled module depends on it.
func (m *Manager) Disable(ctx context.Context, name string) error {
	m.mu.Lock()
	inst, ok := m.instances[name]
	if !ok {
		m.mu.Unlock()
		m.log.WithField("module", name).Warn("disable rejected: not loaded")
		return fmt.Errorf("%w: %s", ErrNotLoaded, name)
	}
	if dep := m.enabledDependentLocked(name); dep != "" {
		m.mu.Unlock()
		m.log.WithFields(map[string]interface{}{"module": name, "required_by": dep}).
			Error("disable rejected: required by enabled module")
		return fmt.Errorf("%w: %s required by %s", ErrRequiredBy, name, dep)
	}
	m.mu.Unlock()

	if !inst.State().IsEnabled() {
		return nil
	}

	if err := safeHook(ctx, inst.Disable); err != nil {
		// Disable attempts cleanup even when the hook reports failure; the
		// error is returned so orchestration can escalate, never retried
		// automatically.
		inst.SetState(StateError)
		m.log.WithField("module", name).WithError(err).Error("module disable failed")
		return fmt.Errorf("disable %s: %w", name, err)
	}
	inst.SetState(StateDisabled)

	m.log.WithField("module", name).Info("module disabled")
	m.emit(EventModuleDisabled, name)
	return nil
}

// Reload unloads then loads the module. Either failure leaves the module
// unloaded.
func (m *Manager) Reload(ctx context.Context, name string) error {
	if err := m.Unload(ctx, name); err != nil {
		return err
	}
	return m.Load(ctx, name)
}

// Status returns the projection of one loaded module.
func (m *Manager) Status(name string) (Status, bool) {
	m.mu.Lock()
	inst, ok := m.instances[name]
	m.mu.Unlock()
	if !ok {
		return Status{}, false
	}
	return statusOf(inst), true
}

// StatusAll returns projections of every loaded module, keyed by name.
func (m *Manager) StatusAll() map[string]Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]Status, len(m.instances))
	for name, inst := range m.instances {
		out[name] = statusOf(inst)
	}
	return out
}

// Get returns a loaded module instance by name. Modules use this to reach
// their declared dependencies.
func (m *Manager) Get(name string) (Module, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.instances[name]
	return inst, ok
}

// Instances returns a snapshot of every live instance in load order. The host
// uses this to fan events out to modules implementing optional capabilities.
func (m *Manager) Instances() []Module {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Module, 0, len(m.loadOrder))
	for _, name := range m.loadOrder {
		if inst, ok := m.instances[name]; ok {
			out = append(out, inst)
		}
	}
	return out
}

// Shutdown unloads every instance, dependents first (reverse load order).
// Individual failures are logged and skipped so shutdown always completes.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	order := make([]string, len(m.loadOrder))
	copy(order, m.loadOrder)
	m.mu.Unlock()

	for i := len(order) - 1; i >= 0; i-- {
		if err := m.Unload(ctx, order[i]); err != nil {
			m.log.WithField("module", order[i]).WithError(err).Error("shutdown: unload failed")
		}
	}
}

// enabledDependentLocked returns the name of an enabled module that depends
// on target, or "" when none does. Caller holds m.mu.
func (m *Manager) enabledDependentLocked(target string) string {
	for name, inst := range m.instances {
		if name == target || !inst.State().IsEnabled() {
			continue
		}
		for _, dep := range inst.Info().Dependencies {
			if dep == target {
				return name
			}
		}
	}
	return ""
}

func (m *Manager) emit(eventType, name string) {
	if m.host == nil {
		return
	}
	if inst, ok := m.Get(name); ok {
		m.host.Metrics().ModuleState(name, int(inst.State()))
	} else {
		m.host.Metrics().ModuleState(name, int(StateUnloaded))
	}
	if m.host.Bus() == nil {
		return
	}
	ev := event.New(eventType, "manager", map[string]any{"module": name})
	if err := m.host.Bus().Emit(ev); err != nil {
		m.log.WithField("module", name).WithError(err).Debug("lifecycle event dropped")
	}
}

func statusOf(inst Module) Status {
	info := inst.Info()
	s := inst.State()
	return Status{
		Name:         info.Name,
		Version:      info.Version,
		Description:  info.Description,
		Author:       info.Author,
		State:        s,
		Loaded:       s.IsLoaded(),
		Enabled:      s.IsEnabled(),
		Dependencies: info.Dependencies,
	}
}

// safeHook runs a lifecycle hook, converting a panic into an error so a
// misbehaving module cannot take down the manager.
func safeHook(ctx context.Context, hook func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("hook panic: %v", r)
		}
	}()
	return hook(ctx)
}

// Lifecycle event types emitted by the manager.
const (
	EventModuleLoaded   = "module:loaded"
	EventModuleUnloaded = "module:unloaded"
	EventModuleEnabled  = "module:enabled"
	EventModuleDisabled = "module:disabled"
)
