// Package ops serves the operational HTTP surface: health, status, module
// and session inventories, event history, and Prometheus metrics.
package ops

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/djames1987/DracoSoft-Server/internal/module"
	"github.com/djames1987/DracoSoft-Server/internal/modules/netfront"
	"github.com/djames1987/DracoSoft-Server/internal/network"
)

// Name is the module name other modules declare as a dependency.
const Name = "ops"

// Module runs the HTTP server while enabled.
type Module struct {
	module.Base

	srv       *http.Server
	ln        net.Listener
	enabledAt time.Time
	proc      *process.Process
}

// New constructs the ops module.
func New(host module.Host) module.Module {
	return &Module{
		Base: module.NewBase(module.Info{
			Name:        Name,
			Version:     "1.0.0",
			Description: "Operational HTTP endpoints",
			Author:      "DracoSoft",
		}, host),
	}
}

// Load resolves the process handle used by /status.
func (m *Module) Load(ctx context.Context) error {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		m.Log().WithError(err).Warn("process stats unavailable")
	}
	m.proc = p
	return nil
}

func (m *Module) Unload(ctx context.Context) error {
	if m.State().IsEnabled() {
		return m.Disable(ctx)
	}
	return nil
}

// Enable starts the HTTP listener.
func (m *Module) Enable(ctx context.Context) error {
	addr := m.ConfigString("addr", "127.0.0.1:8890")

	r := mux.NewRouter()
	r.HandleFunc("/healthz", m.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/status", m.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/modules", m.handleModules).Methods(http.MethodGet)
	r.HandleFunc("/modules/{name}", m.handleModule).Methods(http.MethodGet)
	r.HandleFunc("/sessions", m.handleSessions).Methods(http.MethodGet)
	r.HandleFunc("/events", m.handleEvents).Methods(http.MethodGet)
	r.Handle("/metrics", m.Host().Metrics().Handler()).Methods(http.MethodGet)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("ops listen on %s: %w", addr, err)
	}

	m.srv = &http.Server{
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	m.ln = ln
	m.enabledAt = time.Now()

	srv := m.srv
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			m.Log().WithError(err).Error("ops server failed")
		}
	}()

	m.Log().WithField("addr", ln.Addr().String()).Info("ops endpoints serving")
	return nil
}

// Addr returns the bound listen address, or "" while disabled.
func (m *Module) Addr() string {
	if m.ln == nil {
		return ""
	}
	return m.ln.Addr().String()
}

// Disable shuts the HTTP server down.
func (m *Module) Disable(ctx context.Context) error {
	if m.srv == nil {
		return nil
	}
	shutCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	err := m.srv.Shutdown(shutCtx)
	m.srv = nil
	m.ln = nil
	return err
}

func (m *Module) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (m *Module) handleStatus(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"uptimeSeconds": int64(time.Since(m.enabledAt).Seconds()),
		"goVersion":     runtime.Version(),
		"goroutines":    runtime.NumGoroutine(),
		"modules":       len(m.Host().Modules().StatusAll()),
	}
	if m.proc != nil {
		if mem, err := m.proc.MemoryInfo(); err == nil {
			body["rssBytes"] = mem.RSS
		}
		if cpu, err := m.proc.CPUPercent(); err == nil {
			body["cpuPercent"] = cpu
		}
	}
	if front, ok := m.front(); ok {
		body["sessions"] = front.SessionCount()
	}
	writeJSON(w, http.StatusOK, body)
}

func (m *Module) handleModules(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, m.Host().Modules().StatusAll())
}

func (m *Module) handleModule(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	st, ok := m.Host().Modules().Status(name)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "unknown module"})
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (m *Module) handleSessions(w http.ResponseWriter, r *http.Request) {
	front, ok := m.front()
	if !ok {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "network module unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, front.Sessions())
}

func (m *Module) handleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 0
	if s := q.Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			limit = n
		}
	}
	events := m.Host().Bus().History(q.Get("type"), q.Get("source"), limit)
	writeJSON(w, http.StatusOK, events)
}

// inventory is the session surface /sessions and /status need from the
// network module.
type inventory interface {
	SessionCount() int
	Sessions() []network.SessionInfo
}

func (m *Module) front() (inventory, bool) {
	inst, ok := m.Host().Modules().Get(netfront.Name)
	if !ok {
		return nil, false
	}
	inv, ok := inst.(inventory)
	return inv, ok
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
