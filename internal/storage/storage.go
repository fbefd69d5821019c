// Package storage declares the persistence contract storage modules provide
// to the rest of the runtime. Callers must not assume concurrent queries are
// independent: the store serializes access unless its backend guarantees
// isolation.
package storage

import "context"

// Store is the collaborator persistence interface.
type Store interface {
	// Execute runs a statement and returns the last insert id.
	Execute(ctx context.Context, query string, args ...any) (int64, error)

	// FetchOne returns the first row as a column-keyed map, or nil when the
	// query matches nothing.
	FetchOne(ctx context.Context, query string, args ...any) (map[string]any, error)

	// FetchAll returns every row as column-keyed maps.
	FetchAll(ctx context.Context, query string, args ...any) ([]map[string]any, error)
}
