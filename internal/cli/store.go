package cli

import (
	"context"

	"github.com/mesh-intelligence/batchtree/internal/postgres"
	"github.com/mesh-intelligence/batchtree/pkg/batchtree"
	"github.com/mesh-intelligence/batchtree/pkg/sqlite"
	"github.com/mesh-intelligence/batchtree/pkg/types"
)

// store is what the commands need from a backend: local ids, saving,
// fetching one tree, and listing everything.
type store interface {
	types.IdentitySource
	types.RecordStore
	All(ctx context.Context) ([]types.FlatRecord, error)
}

// openStore opens the configured backend. The returned func releases it.
func (a *app) openStore(ctx context.Context) (store, func() error, error) {
	switch a.config.Backend {
	case types.BackendSQLite:
		b := sqlite.NewBackend()
		if err := b.Attach(a.config); err != nil {
			return nil, nil, sysError("attach sqlite backend: %w", err)
		}
		return b, b.Detach, nil
	case types.BackendPostgres:
		s, err := postgres.NewStore(ctx, a.config.DSN)
		if err != nil {
			return nil, nil, sysError("open postgres store: %w", err)
		}
		return s, s.Close, nil
	case types.BackendMemory:
		return batchtree.NewMemoryStore(), func() error { return nil }, nil
	default:
		return nil, nil, userError("%w: %q", types.ErrBackendUnknown, a.config.Backend)
	}
}

// withStore opens the backend, runs fn, and releases the backend.
func (a *app) withStore(ctx context.Context, fn func(store) error) (err error) {
	s, closeFn, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := closeFn(); cerr != nil && err == nil {
			err = sysError("close backend: %w", cerr)
		}
	}()
	return fn(s)
}

func (a *app) newSession(s store) *batchtree.Session {
	return batchtree.NewSession(s, s, batchtree.WithMetrics(a.metrics))
}
