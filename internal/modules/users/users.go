// Package users manages user accounts on top of the storage module.
package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/djames1987/DracoSoft-Server/internal/module"
	"github.com/djames1987/DracoSoft-Server/internal/storage"
)

// Name is the module name other modules declare as a dependency.
const Name = "users"

var (
	// ErrUserExists is returned when creating a user whose username or email
	// is already taken.
	ErrUserExists = errors.New("user already exists")

	// ErrUserNotFound is returned when a lookup matches no user.
	ErrUserNotFound = errors.New("user not found")

	// ErrBadCredentials is returned when a password check fails. Callers
	// should not distinguish it from an unknown user in client responses.
	ErrBadCredentials = errors.New("invalid credentials")
)

// User is an account record. The password hash never leaves this package.
type User struct {
	ID        int64      `json:"id"`
	Username  string     `json:"username"`
	Email     string     `json:"email,omitempty"`
	Status    string     `json:"status"`
	CreatedAt string     `json:"createdAt,omitempty"`
	LastLogin *time.Time `json:"lastLogin,omitempty"`
}

// Directory is the account surface other modules use.
type Directory interface {
	CreateUser(ctx context.Context, username, password, email string) (*User, error)
	GetUser(ctx context.Context, username string) (*User, error)
	VerifyPassword(ctx context.Context, username, password string) (*User, error)
	UpdateUser(ctx context.Context, username string, fields map[string]any) error
	UpdateLastLogin(ctx context.Context, username string) error
}

// Module implements Directory over the sqlite module.
type Module struct {
	module.Base

	store storage.Store
	cost  int
}

// New constructs the users module.
func New(host module.Host) module.Module {
	return &Module{
		Base: module.NewBase(module.Info{
			Name:         Name,
			Version:      "1.0.0",
			Description:  "User account management",
			Author:       "DracoSoft",
			Dependencies: []string{"sqlite"},
		}, host),
	}
}

// Load resolves the storage dependency.
func (m *Module) Load(ctx context.Context) error {
	inst, ok := m.Host().Modules().Get("sqlite")
	if !ok {
		return fmt.Errorf("storage module not loaded")
	}
	store, ok := inst.(storage.Store)
	if !ok {
		return fmt.Errorf("module %q does not provide storage", "sqlite")
	}
	m.store = store
	m.cost = m.ConfigInt("bcrypt_cost", bcrypt.DefaultCost)
	return nil
}

func (m *Module) Unload(ctx context.Context) error {
	m.store = nil
	return nil
}

func (m *Module) Enable(ctx context.Context) error  { return nil }
func (m *Module) Disable(ctx context.Context) error { return nil }

// CreateUser registers a new account with a bcrypt password hash.
func (m *Module) CreateUser(ctx context.Context, username, password, email string) (*User, error) {
	if username == "" || password == "" {
		return nil, fmt.Errorf("username and password are required")
	}
	existing, err := m.store.FetchOne(ctx,
		"SELECT id FROM users WHERE username = ? OR (email = ? AND email IS NOT NULL AND email != '')",
		username, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrUserExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), m.cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	var emailArg any
	if email != "" {
		emailArg = email
	}
	id, err := m.store.Execute(ctx,
		"INSERT INTO users (username, password_hash, email) VALUES (?, ?, ?)",
		username, string(hash), emailArg)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}

	m.Log().WithField("username", username).Info("user created")
	return &User{ID: id, Username: username, Email: email, Status: "active"}, nil
}

// GetUser returns the account for a username.
func (m *Module) GetUser(ctx context.Context, username string) (*User, error) {
	row, err := m.store.FetchOne(ctx,
		"SELECT id, username, email, status, created_at, last_login FROM users WHERE username = ?",
		username)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, ErrUserNotFound
	}
	return userFromRow(row), nil
}

// VerifyPassword checks a username/password pair and returns the account on
// success.
func (m *Module) VerifyPassword(ctx context.Context, username, password string) (*User, error) {
	row, err := m.store.FetchOne(ctx,
		"SELECT id, username, email, status, created_at, last_login, password_hash FROM users WHERE username = ?",
		username)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, ErrBadCredentials
	}
	hash, _ := row["password_hash"].(string)
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return nil, ErrBadCredentials
	}
	return userFromRow(row), nil
}

// UpdateUser changes a restricted set of account fields.
func (m *Module) UpdateUser(ctx context.Context, username string, fields map[string]any) error {
	allowed := map[string]string{
		"email":  "email",
		"status": "status",
	}
	query := "UPDATE users SET "
	var args []any
	first := true
	for key, col := range allowed {
		v, ok := fields[key]
		if !ok {
			continue
		}
		if !first {
			query += ", "
		}
		query += col + " = ?"
		args = append(args, v)
		first = false
	}
	if pw, ok := fields["password"].(string); ok && pw != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(pw), m.cost)
		if err != nil {
			return fmt.Errorf("hash password: %w", err)
		}
		if !first {
			query += ", "
		}
		query += "password_hash = ?"
		args = append(args, string(hash))
		first = false
	}
	if first {
		return fmt.Errorf("no updatable fields given")
	}
	query += " WHERE username = ?"
	args = append(args, username)

	if _, err := m.store.Execute(ctx, query, args...); err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	return nil
}

// UpdateLastLogin stamps the account's last login time.
func (m *Module) UpdateLastLogin(ctx context.Context, username string) error {
	_, err := m.store.Execute(ctx,
		"UPDATE users SET last_login = CURRENT_TIMESTAMP WHERE username = ?",
		username)
	return err
}

func userFromRow(row map[string]any) *User {
	u := &User{}
	switch v := row["id"].(type) {
	case int64:
		u.ID = v
	case int:
		u.ID = int64(v)
	}
	u.Username, _ = row["username"].(string)
	u.Email, _ = row["email"].(string)
	u.Status, _ = row["status"].(string)
	switch v := row["created_at"].(type) {
	case string:
		u.CreatedAt = v
	case time.Time:
		u.CreatedAt = v.Format(time.RFC3339)
	}
	// Timestamp columns surface as time.Time or as stored text depending on
	// how the row was written.
	switch v := row["last_login"].(type) {
	case time.Time:
		u.LastLogin = &v
	case string:
		for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05"} {
			if ts, err := time.Parse(layout, v); err == nil {
				u.LastLogin = &ts
				break
			}
		}
	}
	return u
}
