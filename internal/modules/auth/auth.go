// Package auth authenticates client sessions with JWT tokens persisted in
// the sessions table. It handles "auth" typed client messages on the bus and
// marks network sessions authenticated on success.
package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/robfig/cron/v3"

	"github.com/djames1987/DracoSoft-Server/internal/event"
	"github.com/djames1987/DracoSoft-Server/internal/module"
	"github.com/djames1987/DracoSoft-Server/internal/modules/netfront"
	"github.com/djames1987/DracoSoft-Server/internal/modules/users"
	"github.com/djames1987/DracoSoft-Server/internal/storage"
)

// Name is the module name other modules declare as a dependency.
const Name = "auth"

// DefaultTokenTTL bounds a login session's lifetime.
const DefaultTokenTTL = 24 * time.Hour

// ErrTokenInvalid is returned for expired, revoked, or malformed tokens.
var ErrTokenInvalid = errors.New("token invalid")

// Module wires authentication into the message flow.
type Module struct {
	module.Base

	store  storage.Store
	users  users.Directory
	front  netfront.Front
	secret []byte
	ttl    time.Duration
	cron   *cron.Cron

	mu     sync.Mutex
	tokens map[string]string // session id -> issued token
}

// New constructs the auth module.
func New(host module.Host) module.Module {
	return &Module{
		Base: module.NewBase(module.Info{
			Name:         Name,
			Version:      "1.0.0",
			Description:  "Session authentication",
			Author:       "DracoSoft",
			Dependencies: []string{"sqlite", "users", "network"},
		}, host),
	}
}

// Load resolves dependencies and registers bus handlers.
func (m *Module) Load(ctx context.Context) error {
	mods := m.Host().Modules()

	inst, ok := mods.Get("sqlite")
	if !ok {
		return fmt.Errorf("storage module not loaded")
	}
	store, ok := inst.(storage.Store)
	if !ok {
		return fmt.Errorf("module %q does not provide storage", "sqlite")
	}
	m.store = store

	inst, ok = mods.Get("users")
	if !ok {
		return fmt.Errorf("users module not loaded")
	}
	dir, ok := inst.(users.Directory)
	if !ok {
		return fmt.Errorf("module %q does not provide a user directory", "users")
	}
	m.users = dir

	inst, ok = mods.Get("network")
	if !ok {
		return fmt.Errorf("network module not loaded")
	}
	front, ok := inst.(netfront.Front)
	if !ok {
		return fmt.Errorf("module %q does not provide a network front", "network")
	}
	m.front = front

	secret := m.ConfigString("jwt_secret", os.Getenv("DRACO_JWT_SECRET"))
	if secret == "" {
		return fmt.Errorf("jwt_secret is required (config key or DRACO_JWT_SECRET)")
	}
	m.secret = []byte(secret)
	m.ttl = time.Duration(m.ConfigInt("token_ttl_seconds", int(DefaultTokenTTL/time.Second))) * time.Second
	m.tokens = make(map[string]string)

	bus := m.Host().Bus()
	// Auth runs before ordinary message consumers so unauthenticated traffic
	// can be answered without reaching them. The first handler consumes auth
	// messages; the second gates everything else.
	bus.Register(event.TypeClientMessage, m.onAuthMessage, Name, event.PriorityHigh,
		event.PathFilter("$.message.type", "auth"))
	bus.Register(event.TypeClientMessage, m.onOtherMessage, Name, event.PriorityHigh, nil)
	bus.Register(event.TypeClientDisconnected, m.onClientDisconnected, Name, event.PriorityNormal, nil)
	return nil
}

// Unload drops handler registrations and forgets persisted sessions for a
// clean next start.
func (m *Module) Unload(ctx context.Context) error {
	if m.State().IsEnabled() {
		if err := m.Disable(ctx); err != nil {
			return err
		}
	}
	m.Host().Bus().UnregisterAll(Name)
	return nil
}

// Enable starts the periodic expired-session sweep.
func (m *Module) Enable(ctx context.Context) error {
	m.cron = cron.New()
	if _, err := m.cron.AddFunc("@every 5m", m.sweepExpired); err != nil {
		return fmt.Errorf("schedule session sweep: %w", err)
	}
	m.cron.Start()
	return nil
}

// Disable stops the sweep and clears persisted sessions.
func (m *Module) Disable(ctx context.Context) error {
	if m.cron != nil {
		m.cron.Stop()
		m.cron = nil
	}
	if _, err := m.store.Execute(ctx, "DELETE FROM sessions"); err != nil {
		m.Log().WithError(err).Warn("clearing sessions failed")
	}
	m.mu.Lock()
	m.tokens = make(map[string]string)
	m.mu.Unlock()
	return nil
}

// onOtherMessage gates non-auth traffic: an unauthenticated session gets an
// auth-required answer and the message goes no further. Auth messages never
// reach this handler; they are consumed at the same priority first.
func (m *Module) onOtherMessage(e *event.Event) {
	if !m.State().IsEnabled() {
		return
	}
	sessionID, _ := e.Data["sessionId"].(string)
	if sessionID == "" || m.front.IsAuthenticated(sessionID) {
		return
	}
	e.StopPropagation()
	m.Log().WithField("session", sessionID).Warn("unauthenticated request")
	m.reply(sessionID, "auth_required", false, "authentication required", nil)
}

func (m *Module) onAuthMessage(e *event.Event) {
	if !m.State().IsEnabled() {
		return
	}
	sessionID, _ := e.Data["sessionId"].(string)
	msg, _ := e.Data["message"].(map[string]any)
	if sessionID == "" || msg == nil {
		return
	}
	// Auth messages are consumed here; nothing downstream should see raw
	// credentials.
	e.StopPropagation()

	ctx := context.Background()
	action, _ := msg["action"].(string)
	username, _ := msg["username"].(string)
	password, _ := msg["password"].(string)

	switch action {
	case "register":
		email, _ := msg["email"].(string)
		u, err := m.users.CreateUser(ctx, username, password, email)
		if err != nil {
			m.reply(sessionID, "register", false, err.Error(), nil)
			return
		}
		m.reply(sessionID, "register", true, "", map[string]any{"userId": u.ID})

	case "login":
		u, err := m.users.VerifyPassword(ctx, username, password)
		if err != nil {
			m.Log().WithField("username", username).Info("login rejected")
			m.reply(sessionID, "login", false, "invalid credentials", nil)
			return
		}
		token, err := m.issueToken(ctx, u, sessionID)
		if err != nil {
			m.Log().WithError(err).Error("token issue failed")
			m.reply(sessionID, "login", false, "internal error", nil)
			return
		}
		m.front.SetAuthenticated(sessionID, true)
		if err := m.users.UpdateLastLogin(ctx, username); err != nil {
			m.Log().WithError(err).Warn("last login update failed")
		}
		m.Log().WithField("username", username).Info("login accepted")
		m.reply(sessionID, "login", true, "", map[string]any{"token": token, "userId": u.ID})

	case "validate":
		token, _ := msg["token"].(string)
		username, err := m.ValidateToken(ctx, token)
		if err != nil {
			m.reply(sessionID, "validate", false, "token invalid", nil)
			return
		}
		m.front.SetAuthenticated(sessionID, true)
		m.reply(sessionID, "validate", true, "", map[string]any{"username": username})

	case "logout":
		token, _ := msg["token"].(string)
		if token != "" {
			if _, err := m.store.Execute(ctx, "DELETE FROM sessions WHERE token = ?", token); err != nil {
				m.Log().WithError(err).Warn("logout cleanup failed")
			}
		}
		m.mu.Lock()
		delete(m.tokens, sessionID)
		m.mu.Unlock()
		m.front.SetAuthenticated(sessionID, false)
		m.reply(sessionID, "logout", true, "", nil)

	default:
		m.reply(sessionID, action, false, "unknown auth action", nil)
	}
}

func (m *Module) onClientDisconnected(e *event.Event) {
	sessionID, _ := e.Data["sessionId"].(string)
	if sessionID == "" {
		return
	}
	m.mu.Lock()
	token, ok := m.tokens[sessionID]
	delete(m.tokens, sessionID)
	m.mu.Unlock()
	if !ok {
		return
	}
	// Tokens bound to the transport session die with it.
	if _, err := m.store.Execute(context.Background(),
		"DELETE FROM sessions WHERE token = ?", token); err != nil {
		m.Log().WithField("session", sessionID).WithError(err).Warn("session cleanup failed")
	}
}

func (m *Module) issueToken(ctx context.Context, u *users.User, sessionID string) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": u.Username,
		"uid": u.ID,
		"sid": sessionID,
		"iat": now.Unix(),
		"exp": now.Add(m.ttl).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", err
	}
	_, err = m.store.Execute(ctx,
		"INSERT INTO sessions (user_id, token, expires_at) VALUES (?, ?, ?)",
		u.ID, token, now.Add(m.ttl).UTC().Format(time.RFC3339))
	if err != nil {
		return "", fmt.Errorf("persist session: %w", err)
	}
	m.mu.Lock()
	m.tokens[sessionID] = token
	m.mu.Unlock()
	return token, nil
}

// ValidateToken checks signature, expiry, and revocation, returning the
// username the token was issued to.
func (m *Module) ValidateToken(ctx context.Context, tokenStr string) (string, error) {
	if tokenStr == "" {
		return "", ErrTokenInvalid
	}
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil || !token.Valid {
		return "", ErrTokenInvalid
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrTokenInvalid
	}
	username, _ := claims["sub"].(string)

	row, err := m.store.FetchOne(ctx, "SELECT id FROM sessions WHERE token = ?", tokenStr)
	if err != nil {
		return "", err
	}
	if row == nil {
		return "", ErrTokenInvalid
	}
	return username, nil
}

func (m *Module) sweepExpired() {
	_, err := m.store.Execute(context.Background(),
		"DELETE FROM sessions WHERE expires_at <= ?", time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		m.Log().WithError(err).Warn("expired session sweep failed")
		return
	}
	m.Log().Debug("expired session sweep completed")
}

func (m *Module) reply(sessionID, action string, ok bool, reason string, extra map[string]any) {
	msg := map[string]any{
		"type":    "auth",
		"action":  action,
		"success": ok,
	}
	if reason != "" {
		msg["error"] = reason
	}
	for k, v := range extra {
		msg[k] = v
	}
	if err := m.front.Send(sessionID, msg); err != nil {
		m.Log().WithField("session", sessionID).WithError(err).Warn("auth reply not delivered")
	}
}
