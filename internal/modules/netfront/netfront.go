// Package netfront implements the network front door as a lifecycle module:
// it terminates client connections, frames the wire protocol, tracks
// sessions, and bridges client traffic onto the event bus.
package netfront

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/tidwall/gjson"

	"github.com/djames1987/DracoSoft-Server/internal/event"
	"github.com/djames1987/DracoSoft-Server/internal/module"
	"github.com/djames1987/DracoSoft-Server/internal/network"
)

// Name is the module name other modules declare as a dependency.
const Name = "network"

// DefaultIdleTimeout retires sessions with no activity for this long.
const DefaultIdleTimeout = 5 * time.Minute

// ErrNoSession is returned by Send for an unknown session id.
var ErrNoSession = errors.New("no such session")

// Front is the network surface exposed to other modules.
type Front interface {
	Send(sessionID string, msg map[string]any) error
	Broadcast(msg map[string]any, excludeID string)
	Disconnect(sessionID string)
	SessionCount() int
	SessionInfo(sessionID string) (network.SessionInfo, bool)
	SetAuthenticated(sessionID string, v bool) bool
	IsAuthenticated(sessionID string) bool
}

// Module is the network front door.
type Module struct {
	module.Base

	codec    network.Codec
	sessions *network.Table

	mu       sync.Mutex
	listener net.Listener
	cron     *cron.Cron
	loops    sync.WaitGroup
	cancel   context.CancelFunc
}

// New constructs the front door module.
func New(host module.Host) module.Module {
	return &Module{
		Base: module.NewBase(module.Info{
			Name:        Name,
			Version:     "1.0.0",
			Description: "Terminates client connections and frames the wire protocol",
			Author:      "DracoSoft",
		}, host),
		sessions: network.NewTable(),
	}
}

// Load prepares the codec from configuration. The listener is not opened
// until Enable.
func (m *Module) Load(ctx context.Context) error {
	m.codec = network.NewCodec(uint32(m.ConfigInt("max_message_bytes", network.DefaultMaxFrameSize)))
	return nil
}

// Unload disables first when needed; nothing else to release.
func (m *Module) Unload(ctx context.Context) error {
	if m.State().IsEnabled() {
		return m.Disable(ctx)
	}
	return nil
}

// Enable opens the listener, starts the accept loop and the idle reaper.
func (m *Module) Enable(ctx context.Context) error {
	host := m.ConfigString("host", "0.0.0.0")
	port := m.ConfigInt("port", 8889)

	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return fmt.Errorf("listen %s:%d: %w", host, port, err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())

	m.mu.Lock()
	m.listener = ln
	m.cancel = cancel

	idle := time.Duration(m.ConfigInt("idle_timeout_seconds", int(DefaultIdleTimeout/time.Second))) * time.Second
	m.cron = cron.New()
	if _, err := m.cron.AddFunc("@every 1m", func() { m.reap(idle) }); err != nil {
		m.mu.Unlock()
		cancel()
		ln.Close()
		return fmt.Errorf("schedule idle reaper: %w", err)
	}
	m.cron.Start()
	m.mu.Unlock()

	m.loops.Add(1)
	go m.acceptLoop(loopCtx, ln)

	m.Log().WithField("addr", ln.Addr().String()).Info("listening")
	return nil
}

// Disable stops the accept loop and reaper, then disconnects every session.
// All background tasks are finished before it returns.
func (m *Module) Disable(ctx context.Context) error {
	m.mu.Lock()
	if m.cron != nil {
		m.cron.Stop()
		m.cron = nil
	}
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	if m.listener != nil {
		m.listener.Close()
		m.listener = nil
	}
	m.mu.Unlock()

	for _, s := range m.sessions.Snapshot() {
		m.Disconnect(s.ID)
	}
	m.loops.Wait()
	return nil
}

func (m *Module) acceptLoop(ctx context.Context, ln net.Listener) {
	defer m.loops.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			m.Log().WithError(err).Warn("accept failed")
			continue
		}
		m.handleAccept(ctx, conn)
	}
}

func (m *Module) handleAccept(ctx context.Context, conn net.Conn) {
	s := network.NewSession(uuid.NewString(), conn, m.ConfigInt("max_messages_per_second", 0))
	m.sessions.Add(s)
	m.Host().Metrics().SessionOpened()

	m.publish(event.TypeClientConnected, map[string]any{
		"sessionId": s.ID,
		"address":   s.Address,
	})

	m.loops.Add(1)
	go func() {
		defer m.loops.Done()
		m.readLoop(ctx, s)
		m.Disconnect(s.ID)
	}()

	m.Log().WithFields(map[string]interface{}{"session": s.ID, "address": s.Address}).
		Info("client connected")
}

// readLoop frames messages off one connection until the transport fails or
// the module shuts down. Malformed payloads are logged and skipped; only
// transport errors end the loop.
func (m *Module) readLoop(ctx context.Context, s *network.Session) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		payload, err := m.codec.ReadFrame(s.Conn)
		if err != nil {
			if errors.Is(err, network.ErrFrameTooLarge) || errors.Is(err, network.ErrEmptyFrame) {
				// Protocol violation for this message only.
				m.Host().Metrics().ProtocolError()
				m.Log().WithField("session", s.ID).WithError(err).Warn("frame discarded")
				continue
			}
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				m.Log().WithField("session", s.ID).WithError(err).Debug("read loop ended")
			}
			return
		}

		s.Touch()
		m.Host().Metrics().FrameIn()

		if !s.AllowInbound() {
			m.Log().WithField("session", s.ID).Warn("inbound rate exceeded, frame dropped")
			continue
		}

		// Reserved ping is answered inline and never reaches the bus.
		if gjson.GetBytes(payload, "type").String() == "ping" {
			if err := m.Send(s.ID, map[string]any{"type": "pong"}); err != nil {
				return
			}
			continue
		}

		var msg map[string]any
		if err := json.Unmarshal(payload, &msg); err != nil {
			m.Host().Metrics().ProtocolError()
			m.Log().WithField("session", s.ID).Warn("invalid message payload")
			continue
		}

		m.publish(event.TypeClientMessage, map[string]any{
			"sessionId":     s.ID,
			"message":       msg,
			"authenticated": s.Authenticated(),
		})
	}
}

// Send serializes and writes one message frame to a session. A missing
// timestamp field is stamped before serialization. Oversized messages are
// rejected without disconnecting; write failures disconnect the session.
func (m *Module) Send(sessionID string, msg map[string]any) error {
	s, ok := m.sessions.Get(sessionID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoSession, sessionID)
	}

	if _, ok := msg["timestamp"]; !ok {
		msg["timestamp"] = time.Now().Format(time.RFC3339Nano)
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	if err := s.WriteFrame(m.codec, payload); err != nil {
		if errors.Is(err, network.ErrFrameTooLarge) {
			m.Log().WithFields(map[string]interface{}{"session": sessionID, "bytes": len(payload)}).
				Error("outbound message rejected: too large")
			return err
		}
		m.Log().WithField("session", sessionID).WithError(err).Warn("write failed, disconnecting")
		m.Disconnect(sessionID)
		return err
	}

	s.Touch()
	m.Host().Metrics().FrameOut()
	return nil
}

// Broadcast sends a message to every session except excludeID. Per-session
// failures are already handled by Send.
func (m *Module) Broadcast(msg map[string]any, excludeID string) {
	for _, s := range m.sessions.Snapshot() {
		if s.ID == excludeID {
			continue
		}
		// Copy so each session gets its own timestamp stamping.
		out := make(map[string]any, len(msg))
		for k, v := range msg {
			out[k] = v
		}
		_ = m.Send(s.ID, out)
	}
}

// Disconnect closes a session's transport, removes it from the table and
// publishes the disconnect event. Safe to call more than once per id.
func (m *Module) Disconnect(sessionID string) {
	s, ok := m.sessions.Remove(sessionID)
	if !ok {
		return
	}

	_ = s.Conn.Close()
	m.Host().Metrics().SessionClosed()

	m.publish(event.TypeClientDisconnected, map[string]any{
		"sessionId": s.ID,
		"address":   s.Address,
	})
	m.Log().WithField("session", s.ID).Info("client disconnected")
}

// Addr returns the bound listen address, or "" while disabled. Useful when
// the configured port is 0.
func (m *Module) Addr() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listener == nil {
		return ""
	}
	return m.listener.Addr().String()
}

// SessionCount returns the number of live sessions.
func (m *Module) SessionCount() int { return m.sessions.Count() }

// SessionInfo returns the projection of one session.
func (m *Module) SessionInfo(sessionID string) (network.SessionInfo, bool) {
	s, ok := m.sessions.Get(sessionID)
	if !ok {
		return network.SessionInfo{}, false
	}
	return s.Info(), true
}

// Sessions returns projections of every live session.
func (m *Module) Sessions() []network.SessionInfo {
	live := m.sessions.Snapshot()
	out := make([]network.SessionInfo, 0, len(live))
	for _, s := range live {
		out = append(out, s.Info())
	}
	return out
}

// SetAuthenticated updates a session's authenticated flag.
func (m *Module) SetAuthenticated(sessionID string, v bool) bool {
	s, ok := m.sessions.Get(sessionID)
	if !ok {
		return false
	}
	s.SetAuthenticated(v)
	return true
}

// IsAuthenticated reports a session's authenticated flag.
func (m *Module) IsAuthenticated(sessionID string) bool {
	s, ok := m.sessions.Get(sessionID)
	return ok && s.Authenticated()
}

// reap disconnects sessions idle past the timeout.
func (m *Module) reap(idle time.Duration) {
	for _, id := range m.sessions.IdleSince(idle) {
		m.Log().WithField("session", id).Info("disconnecting idle client")
		m.Disconnect(id)
	}
}

func (m *Module) publish(eventType string, data map[string]any) {
	if err := m.Host().Bus().Emit(event.New(eventType, Name, data)); err != nil {
		m.Log().WithField("event_type", eventType).WithError(err).Warn("event dropped")
	}
}
