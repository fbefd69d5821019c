// Package server is the composition root: it owns one event bus, one module
// manager and one metrics collector, wires them together and defines the
// start and shutdown ordering.
package server

import (
	"context"
	"fmt"
	"time"

	"github.com/djames1987/DracoSoft-Server/internal/config"
	"github.com/djames1987/DracoSoft-Server/internal/event"
	"github.com/djames1987/DracoSoft-Server/internal/metrics"
	"github.com/djames1987/DracoSoft-Server/internal/module"
	"github.com/djames1987/DracoSoft-Server/pkg/logger"
)

// Core owns the runtime's shared state and hands it to modules by handle.
type Core struct {
	cfg       *config.Config
	log       *logger.Logger
	bus       *event.Bus
	manager   *module.Manager
	collector *metrics.Collector
	startedAt time.Time
}

// New builds a core from configuration. Module factories are registered by
// the caller before Start.
func New(cfg *config.Config, log *logger.Logger) *Core {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = logger.NewDefault("server")
	}

	c := &Core{
		cfg:       cfg,
		log:       log,
		collector: metrics.NewCollector(),
	}
	c.bus = event.NewBus(log,
		event.WithQueueSize(cfg.Events.QueueSize),
		event.WithHistorySize(cfg.Events.HistorySize),
		event.WithMetrics(c.collector),
	)
	c.manager = module.NewManager(c, log)
	return c
}

// Bus implements module.Host.
func (c *Core) Bus() *event.Bus { return c.bus }

// Modules implements module.Host.
func (c *Core) Modules() *module.Manager { return c.manager }

// Logger implements module.Host.
func (c *Core) Logger() *logger.Logger { return c.log }

// Metrics implements module.Host.
func (c *Core) Metrics() *metrics.Collector { return c.collector }

// Config returns the loaded configuration.
func (c *Core) Config() *config.Config { return c.cfg }

// StartedAt returns when Start succeeded.
func (c *Core) StartedAt() time.Time { return c.startedAt }

// Register adds a module factory and binds its configuration from the config
// file.
func (c *Core) Register(name string, factory module.Factory) {
	c.manager.Register(name, factory)
	if cfg := c.cfg.ModuleConfig(name); cfg != nil {
		c.manager.Bind(name, cfg)
	}
}

// Start brings the runtime up: the bus first, then every configured module
// loaded and enabled in order. A sequencing failure aborts startup; the
// caller is expected to run Shutdown and exit.
func (c *Core) Start(ctx context.Context) error {
	c.bus.Start()

	// Fan server lifecycle events and client messages out to modules that
	// opt in via the capability interfaces, in addition to normal bus
	// subscriptions.
	for _, t := range []string{
		event.TypeServerStarted,
		event.TypeServerStopped,
		module.EventModuleLoaded,
		module.EventModuleUnloaded,
		module.EventModuleEnabled,
		module.EventModuleDisabled,
	} {
		c.bus.Register(t, c.dispatchServerEvent, "server", event.PriorityNormal, nil)
	}
	c.bus.Register(event.TypeClientMessage, c.dispatchClientMessage, "server", event.PriorityLow, nil)

	discovered := c.manager.Discover()
	c.log.WithField("modules", discovered).Info("discovered modules")

	for _, name := range c.cfg.Modules.LoadOrder {
		if err := c.manager.Load(ctx, name); err != nil {
			return fmt.Errorf("startup: %w", err)
		}
		if err := c.manager.Enable(ctx, name); err != nil {
			return fmt.Errorf("startup: %w", err)
		}
	}

	c.startedAt = time.Now()
	if err := c.bus.Emit(event.New(event.TypeServerStarted, "server", map[string]any{
		"name": c.cfg.Server.Name,
	})); err != nil {
		c.log.WithError(err).Warn("server started event dropped")
	}
	c.log.WithField("name", c.cfg.Server.Name).Info("server started")
	return nil
}

// sender is the slice of the network front door replies go through. The
// network module satisfies it; the lookup stays structural so the core does
// not import a concrete module.
type sender interface {
	Send(sessionID string, msg map[string]any) error
}

// dispatchServerEvent forwards server and lifecycle events to enabled modules
// implementing ServerEventHandler. Runs on the bus loop.
func (c *Core) dispatchServerEvent(e *event.Event) {
	for _, inst := range c.manager.Instances() {
		h, ok := inst.(module.ServerEventHandler)
		if !ok || !inst.State().IsEnabled() {
			continue
		}
		h.HandleServerEvent(context.Background(), e.Type, e.Data)
	}
}

// dispatchClientMessage forwards client messages to enabled modules
// implementing ClientMessageHandler and sends any reply back over the
// originating session. Registered at low priority so subscribers that consume
// a message can stop it from reaching the generic hooks.
func (c *Core) dispatchClientMessage(e *event.Event) {
	sessionID, _ := e.Data["sessionId"].(string)
	msg, _ := e.Data["message"].(map[string]any)
	if sessionID == "" || msg == nil {
		return
	}
	for _, inst := range c.manager.Instances() {
		h, ok := inst.(module.ClientMessageHandler)
		if !ok || !inst.State().IsEnabled() {
			continue
		}
		reply, err := h.HandleClientMessage(context.Background(), sessionID, msg)
		if err != nil {
			c.log.WithError(err).WithFields(map[string]any{
				"module":  inst.Info().Name,
				"session": sessionID,
			}).Warn("client message handler failed")
			continue
		}
		if reply == nil {
			continue
		}
		front, ok := c.manager.Get("network")
		if !ok {
			continue
		}
		s, ok := front.(sender)
		if !ok {
			continue
		}
		if err := s.Send(sessionID, reply); err != nil {
			c.log.WithError(err).WithField("session", sessionID).Warn("reply send failed")
		}
	}
}

// Shutdown unloads every module dependents-first, then drains and stops the
// bus. Safe to call after a failed Start.
func (c *Core) Shutdown(ctx context.Context) {
	c.log.Info("server shutting down")

	// Give subscribers a chance to observe the stop before modules go away.
	c.bus.EmitAndWait(event.New(event.TypeServerStopped, "server", nil), 2*time.Second)

	c.manager.Shutdown(ctx)
	c.bus.Stop()
	c.log.Info("server shutdown complete")
}
