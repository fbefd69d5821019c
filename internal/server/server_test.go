package server

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/djames1987/DracoSoft-Server/internal/config"
	"github.com/djames1987/DracoSoft-Server/internal/event"
	"github.com/djames1987/DracoSoft-Server/internal/module"
	"github.com/djames1987/DracoSoft-Server/pkg/logger"
)

type stubModule struct {
	module.Base
	loadErr error
	order   *[]string
}

func (s *stubModule) note(action string) {
	if s.order != nil {
		*s.order = append(*s.order, s.Info().Name+":"+action)
	}
}

func (s *stubModule) Load(context.Context) error   { s.note("load"); return s.loadErr }
func (s *stubModule) Unload(context.Context) error { s.note("unload"); return nil }
func (s *stubModule) Enable(context.Context) error { s.note("enable"); return nil }
func (s *stubModule) Disable(context.Context) error {
	s.note("disable")
	return nil
}

func testConfig(order ...string) *config.Config {
	cfg := config.Default()
	cfg.Modules.LoadOrder = order
	cfg.Modules.Configs = nil
	return cfg
}

func TestCoreStartsModulesInOrder(t *testing.T) {
	cfg := testConfig("first", "second")
	core := New(cfg, logger.NewNop())

	var order []string
	for _, name := range []string{"first", "second"} {
		name := name
		core.Register(name, func(h module.Host) module.Module {
			return &stubModule{Base: module.NewBase(module.Info{Name: name}, h), order: &order}
		})
	}

	ctx := context.Background()
	require.NoError(t, core.Start(ctx))
	t.Cleanup(func() { core.Shutdown(ctx) })

	require.Equal(t, []string{
		"first:load", "first:enable",
		"second:load", "second:enable",
	}, order)
	require.False(t, core.StartedAt().IsZero())

	st, ok := core.Modules().Status("second")
	require.True(t, ok)
	require.True(t, st.Enabled)
}

func TestCoreStartEmitsServerStarted(t *testing.T) {
	core := New(testConfig(), logger.NewNop())
	ctx := context.Background()
	require.NoError(t, core.Start(ctx))
	t.Cleanup(func() { core.Shutdown(ctx) })

	require.True(t, core.Bus().EmitAndWait(event.New("test:flush", "test", nil), time.Second))
	got := core.Bus().History(event.TypeServerStarted, "", 0)
	require.Len(t, got, 1)
	require.Equal(t, "draco", got[0].Data["name"])
}

func TestCoreStartFailureSurfaces(t *testing.T) {
	cfg := testConfig("broken")
	core := New(cfg, logger.NewNop())
	core.Register("broken", func(h module.Host) module.Module {
		return &stubModule{
			Base:    module.NewBase(module.Info{Name: "broken"}, h),
			loadErr: errors.New("no database"),
		}
	})

	ctx := context.Background()
	err := core.Start(ctx)
	require.Error(t, err)
	require.Contains(t, err.Error(), "no database")
	core.Shutdown(ctx)
}

func TestCoreShutdownUnloadsEverything(t *testing.T) {
	cfg := testConfig("first", "second")
	core := New(cfg, logger.NewNop())

	var order []string
	for _, name := range []string{"first", "second"} {
		name := name
		core.Register(name, func(h module.Host) module.Module {
			return &stubModule{Base: module.NewBase(module.Info{Name: name}, h), order: &order}
		})
	}

	ctx := context.Background()
	require.NoError(t, core.Start(ctx))
	order = order[:0]
	core.Shutdown(ctx)

	require.Equal(t, []string{
		"second:disable", "second:unload",
		"first:disable", "first:unload",
	}, order)
	require.Empty(t, core.Modules().StatusAll())

	// The bus rejects traffic after shutdown.
	require.Error(t, core.Bus().Emit(event.New("late", "test", nil)))
}

type hookModule struct {
	stubModule
	serverEvents []string
	messages     []map[string]any
	reply        map[string]any
}

func (h *hookModule) HandleServerEvent(_ context.Context, eventType string, _ map[string]any) {
	h.serverEvents = append(h.serverEvents, eventType)
}

func (h *hookModule) HandleClientMessage(_ context.Context, _ string, msg map[string]any) (map[string]any, error) {
	h.messages = append(h.messages, msg)
	return h.reply, nil
}

type frontStub struct {
	stubModule
	sent []map[string]any
}

func (f *frontStub) Send(_ string, msg map[string]any) error {
	f.sent = append(f.sent, msg)
	return nil
}

func TestCoreDispatchesCapabilityHooks(t *testing.T) {
	cfg := testConfig("network", "game")
	core := New(cfg, logger.NewNop())

	front := &frontStub{}
	hook := &hookModule{reply: map[string]any{"type": "echo"}}
	core.Register("network", func(h module.Host) module.Module {
		front.stubModule = stubModule{Base: module.NewBase(module.Info{Name: "network"}, h)}
		return front
	})
	core.Register("game", func(h module.Host) module.Module {
		hook.stubModule = stubModule{Base: module.NewBase(module.Info{Name: "game"}, h)}
		return hook
	})

	ctx := context.Background()
	require.NoError(t, core.Start(ctx))
	t.Cleanup(func() { core.Shutdown(ctx) })

	require.True(t, core.Bus().EmitAndWait(event.New(event.TypeClientMessage, "network", map[string]any{
		"sessionId": "sess-1",
		"message":   map[string]any{"type": "move", "x": 3},
	}), time.Second))
	require.True(t, core.Bus().EmitAndWait(event.New("test:flush", "test", nil), time.Second))

	require.Contains(t, hook.serverEvents, event.TypeServerStarted)
	require.Len(t, hook.messages, 1)
	require.Equal(t, "move", hook.messages[0]["type"])
	require.Len(t, front.sent, 1)
	require.Equal(t, "echo", front.sent[0]["type"])
}

func TestCoreUnknownModuleInLoadOrder(t *testing.T) {
	core := New(testConfig("ghost"), logger.NewNop())
	err := core.Start(context.Background())
	require.ErrorIs(t, err, module.ErrNotRegistered)
	core.Shutdown(context.Background())
}
