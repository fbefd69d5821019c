package ops

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/djames1987/DracoSoft-Server/internal/event"
	"github.com/djames1987/DracoSoft-Server/internal/metrics"
	"github.com/djames1987/DracoSoft-Server/internal/module"
	"github.com/djames1987/DracoSoft-Server/internal/modules/netfront"
	"github.com/djames1987/DracoSoft-Server/pkg/logger"
)

type testHost struct {
	bus       *event.Bus
	mgr       *module.Manager
	log       *logger.Logger
	collector *metrics.Collector
}

func (h *testHost) Bus() *event.Bus             { return h.bus }
func (h *testHost) Modules() *module.Manager    { return h.mgr }
func (h *testHost) Logger() *logger.Logger      { return h.log }
func (h *testHost) Metrics() *metrics.Collector { return h.collector }

func startOps(t *testing.T, withNetwork bool) (*Module, *testHost) {
	t.Helper()
	h := &testHost{log: logger.NewNop(), collector: metrics.NewCollector()}
	h.bus = event.NewBus(h.log, event.WithMetrics(h.collector))
	h.bus.Start()
	t.Cleanup(h.bus.Stop)
	h.mgr = module.NewManager(h, h.log)

	ctx := context.Background()
	if withNetwork {
		h.mgr.Register(netfront.Name, netfront.New)
		h.mgr.Bind(netfront.Name, map[string]any{"host": "127.0.0.1", "port": 0})
		require.NoError(t, h.mgr.Load(ctx, netfront.Name))
		require.NoError(t, h.mgr.Enable(ctx, netfront.Name))
	}

	h.mgr.Register(Name, New)
	h.mgr.Bind(Name, map[string]any{"addr": "127.0.0.1:0"})
	require.NoError(t, h.mgr.Load(ctx, Name))
	require.NoError(t, h.mgr.Enable(ctx, Name))
	t.Cleanup(func() { h.mgr.Shutdown(ctx) })

	inst, _ := h.mgr.Get(Name)
	return inst.(*Module), h
}

func get(t *testing.T, m *Module, path string) (int, []byte) {
	t.Helper()
	resp, err := http.Get(fmt.Sprintf("http://%s%s", m.Addr(), path))
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, body
}

func getJSON(t *testing.T, m *Module, path string, out any) int {
	t.Helper()
	code, body := get(t, m, path)
	require.NoError(t, json.Unmarshal(body, out))
	return code
}

func TestOpsHealth(t *testing.T) {
	m, _ := startOps(t, false)

	var body map[string]any
	code := getJSON(t, m, "/healthz", &body)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "ok", body["status"])
}

func TestOpsStatus(t *testing.T) {
	m, _ := startOps(t, true)

	var body map[string]any
	code := getJSON(t, m, "/status", &body)
	require.Equal(t, http.StatusOK, code)
	require.Contains(t, body, "uptimeSeconds")
	require.Contains(t, body, "goroutines")
	require.Contains(t, body, "goVersion")
	require.EqualValues(t, 0, body["sessions"])
}

func TestOpsModules(t *testing.T) {
	m, _ := startOps(t, true)

	var all map[string]module.Status
	code := getJSON(t, m, "/modules", &all)
	require.Equal(t, http.StatusOK, code)
	require.Contains(t, all, Name)
	require.Contains(t, all, netfront.Name)
	require.True(t, all[netfront.Name].Enabled)

	var one module.Status
	code = getJSON(t, m, "/modules/"+netfront.Name, &one)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, netfront.Name, one.Name)

	code, _ = get(t, m, "/modules/ghost")
	require.Equal(t, http.StatusNotFound, code)
}

func TestOpsSessions(t *testing.T) {
	m, h := startOps(t, true)

	inst, _ := h.mgr.Get(netfront.Name)
	front := inst.(*netfront.Module)
	conn, err := net.Dial("tcp", front.Addr())
	require.NoError(t, err)
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for front.SessionCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	var sessions []map[string]any
	code := getJSON(t, m, "/sessions", &sessions)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, sessions, 1)
	require.NotEmpty(t, sessions[0]["id"])
}

func TestOpsSessionsWithoutNetwork(t *testing.T) {
	m, _ := startOps(t, false)
	code, _ := get(t, m, "/sessions")
	require.Equal(t, http.StatusServiceUnavailable, code)
}

func TestOpsEvents(t *testing.T) {
	m, h := startOps(t, false)

	require.NoError(t, h.bus.Emit(event.New("game:tick", "test", map[string]any{"n": 1})))
	require.True(t, h.bus.EmitAndWait(event.New("test:flush", "test", nil), time.Second))

	var events []map[string]any
	code := getJSON(t, m, "/events?type=game:tick", &events)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, events, 1)
	require.Equal(t, "game:tick", events[0]["type"])

	code = getJSON(t, m, "/events?type=never:seen", &events)
	require.Equal(t, http.StatusOK, code)
	require.Empty(t, events)
}

func TestOpsMetricsEndpoint(t *testing.T) {
	m, h := startOps(t, false)

	require.True(t, h.bus.EmitAndWait(event.New("game:tick", "test", nil), time.Second))

	code, body := get(t, m, "/metrics")
	require.Equal(t, http.StatusOK, code)
	require.Contains(t, string(body), "draco_bus_events_emitted_total")
}

func TestOpsDisableStopsServing(t *testing.T) {
	m, _ := startOps(t, false)
	addr := m.Addr()

	require.NoError(t, m.Disable(context.Background()))
	require.Empty(t, m.Addr())

	_, err := http.Get(fmt.Sprintf("http://%s/healthz", addr))
	require.Error(t, err)
}
