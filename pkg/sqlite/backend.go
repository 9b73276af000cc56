// Package sqlite exposes the SQLite record store while keeping its
// implementation internal.
package sqlite

import (
	"github.com/mesh-intelligence/batchtree/internal/sqlite"
)

// Backend is the SQLite record store and identity source.
type Backend = sqlite.Backend

// NewBackend creates a detached SQLite backend. Call Attach before use.
//
// Example:
//
//	backend := sqlite.NewBackend()
//	err := backend.Attach(types.Config{
//	    Backend: types.BackendSQLite,
//	    DataDir: ".batchtree",
//	})
//	defer backend.Detach()
func NewBackend() *Backend {
	return sqlite.NewBackend()
}
