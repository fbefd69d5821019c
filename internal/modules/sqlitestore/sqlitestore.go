// Package sqlitestore implements the persistence contract on an embedded
// SQLite database, managed as a lifecycle module.
package sqlitestore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/djames1987/DracoSoft-Server/internal/module"
)

// Name is the module name other modules declare as a dependency.
const Name = "sqlite"

// Schema created at load. Kept small on purpose; storage modules with real
// migration needs replace this module behind the same contract.
const schema = `
CREATE TABLE IF NOT EXISTS users (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    username TEXT UNIQUE NOT NULL,
    password_hash TEXT NOT NULL,
    email TEXT UNIQUE,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    last_login TIMESTAMP,
    status TEXT DEFAULT 'active'
);
CREATE TABLE IF NOT EXISTS sessions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id INTEGER NOT NULL,
    token TEXT UNIQUE NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    expires_at TIMESTAMP NOT NULL,
    FOREIGN KEY (user_id) REFERENCES users (id)
);
`

// Module owns the database handle and serializes all access through one
// mutex: SQLite allows a single writer, and the contract promises one shared
// serialization discipline.
type Module struct {
	module.Base

	mu sync.Mutex
	db *sqlx.DB
}

// New constructs the sqlite storage module.
func New(host module.Host) module.Module {
	return &Module{
		Base: module.NewBase(module.Info{
			Name:        Name,
			Version:     "1.0.0",
			Description: "Embedded SQLite persistence",
			Author:      "DracoSoft",
		}, host),
	}
}

// Load opens the database and creates the schema.
func (m *Module) Load(ctx context.Context) error {
	path := m.ConfigString("path", "data/server.db")
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	// One connection keeps modernc's sqlite serialization simple and makes
	// the mutex the single ordering authority.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return fmt.Errorf("create schema: %w", err)
	}

	m.mu.Lock()
	m.db = db
	m.mu.Unlock()

	m.Log().WithField("path", path).Info("database ready")
	return nil
}

// Unload closes the database.
func (m *Module) Unload(ctx context.Context) error {
	if m.State().IsEnabled() {
		if err := m.Disable(ctx); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.db != nil {
		err := m.db.Close()
		m.db = nil
		return err
	}
	return nil
}

// Enable has nothing extra to do; the handle is opened at load.
func (m *Module) Enable(ctx context.Context) error { return nil }

// Disable keeps the handle open so a re-enable is cheap; queries are rejected
// by callers honoring module state.
func (m *Module) Disable(ctx context.Context) error { return nil }

// Execute implements storage.Store.
func (m *Module) Execute(ctx context.Context, query string, args ...any) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.db == nil {
		return 0, fmt.Errorf("sqlite module not loaded")
	}
	res, err := m.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("execute: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, nil
	}
	return id, nil
}

// FetchOne implements storage.Store.
func (m *Module) FetchOne(ctx context.Context, query string, args ...any) (map[string]any, error) {
	rows, err := m.FetchAll(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// FetchAll implements storage.Store.
func (m *Module) FetchAll(ctx context.Context, query string, args ...any) ([]map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.db == nil {
		return nil, fmt.Errorf("sqlite module not loaded")
	}

	rows, err := m.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var out []map[string]any
	for rows.Next() {
		row := make(map[string]any)
		if err := rows.MapScan(row); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
