// Package postgres provides a Postgres-backed record store: the server side
// of a save, handing out server ids from a sequence table and reading trees
// back with a recursive query.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"github.com/mesh-intelligence/batchtree/internal/log"
	"github.com/mesh-intelligence/batchtree/internal/recordsql"
	"github.com/mesh-intelligence/batchtree/pkg/types"
)

var (
	_ types.RecordStore    = (*Store)(nil)
	_ types.IdentitySource = (*Store)(nil)
)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/batchtree?sslmode=disable"

	serverSequence = "record"
	localSequence  = "local"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

var ddl = []string{
	`CREATE TABLE IF NOT EXISTS batchtree_records (
		id BIGINT PRIMARY KEY,
		parent_id BIGINT,
		rank_order INTEGER NOT NULL,
		label TEXT NOT NULL,
		kind TEXT NOT NULL DEFAULT '',
		individual_count BIGINT,
		sampling_ratio DOUBLE PRECISION,
		sampling_ratio_text TEXT NOT NULL DEFAULT '',
		taxon_group TEXT NOT NULL DEFAULT '',
		measurement_values JSONB
	)`,
	`CREATE INDEX IF NOT EXISTS batchtree_records_parent ON batchtree_records (parent_id, rank_order)`,
	`CREATE TABLE IF NOT EXISTS batchtree_sequences (
		name TEXT PRIMARY KEY,
		last BIGINT NOT NULL
	)`,
}

// Store is a types.RecordStore on Postgres.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// NewStore opens the database at dsn (defaultDSN when empty), applies the
// schema and seeds the server id sequence.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	for _, stmt := range ddl {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("execute ddl: %w", err)
		}
	}
	if _, err := db.ExecContext(ctx,
		`INSERT INTO batchtree_sequences (name, last) VALUES ($1, -1) ON CONFLICT (name) DO NOTHING`,
		serverSequence); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("seed sequence: %w", err)
	}
	return &Store{db: db}, nil
}

// DB exposes the underlying sql.DB for tests.
func (s *Store) DB() *sql.DB { return s.db }

// Close releases the connection pool.
func (s *Store) Close() error { return s.db.Close() }

// NextIDs reserves count local ids for entityName from the local sequence
// row, so several offline clients of one server never overlap. Every entity
// shares that row, since parent references carry no kind.
func (s *Store) NextIDs(ctx context.Context, entityName string, count int) ([]types.ID, error) {
	if entityName == "" {
		return nil, fmt.Errorf("next ids: invalid entity name %q", entityName)
	}
	if count <= 0 {
		return nil, fmt.Errorf("next ids: count %d must be positive", count)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO batchtree_sequences (name, last) VALUES ($1, 0) ON CONFLICT (name) DO NOTHING`, localSequence); err != nil {
		return nil, fmt.Errorf("next ids %s: %w", entityName, err)
	}
	var last int64
	if err := tx.QueryRowContext(ctx,
		`UPDATE batchtree_sequences SET last = last - $1 WHERE name = $2 RETURNING last`, count, localSequence).Scan(&last); err != nil {
		return nil, fmt.Errorf("next ids %s: %w", entityName, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	ids := make([]types.ID, count)
	for i := range ids {
		ids[i] = types.ID(last + int64(count-1-i))
	}
	return ids, nil
}

// Save upserts records in one transaction and returns them in input order
// with server ids.
func (s *Store) Save(ctx context.Context, records []types.FlatRecord) ([]types.FlatRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin save: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	assigned := make(map[types.ID]types.ID)
	next := func() (types.ID, error) {
		var last int64
		err := tx.QueryRowContext(ctx,
			`UPDATE batchtree_sequences SET last = last + 1 WHERE name = $1 RETURNING last`, serverSequence).Scan(&last)
		if err != nil {
			return 0, fmt.Errorf("next server id: %w", err)
		}
		return types.ID(last), nil
	}

	out := make([]types.FlatRecord, len(records))
	for i, rec := range records {
		r, err := recordsql.Remap(rec, assigned, next)
		if err != nil {
			return nil, err
		}
		args, err := recordsql.Args(r)
		if err != nil {
			return nil, err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO batchtree_records (`+recordsql.Columns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (id) DO UPDATE SET
			    parent_id = excluded.parent_id,
			    rank_order = excluded.rank_order,
			    label = excluded.label,
			    kind = excluded.kind,
			    individual_count = excluded.individual_count,
			    sampling_ratio = excluded.sampling_ratio,
			    sampling_ratio_text = excluded.sampling_ratio_text,
			    taxon_group = excluded.taxon_group,
			    measurement_values = excluded.measurement_values`, args...); err != nil {
			return nil, fmt.Errorf("save %q: %w", r.Label, err)
		}
		out[i] = r
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit save: %w", err)
	}
	log.Debugw(ctx, "saved records", "count", len(out), "new", len(assigned))
	return out, nil
}

// FetchTree returns the record with rootID first, then its descendants.
func (s *Store) FetchTree(ctx context.Context, rootID types.ID) ([]types.FlatRecord, error) {
	rows, err := s.db.QueryContext(ctx, `WITH RECURSIVE sub(id) AS (
		    SELECT id FROM batchtree_records WHERE id = $1
		    UNION
		    SELECT r.id FROM batchtree_records r JOIN sub ON r.parent_id = sub.id
		)
		SELECT `+recordsql.Columns+` FROM batchtree_records WHERE id IN (SELECT id FROM sub)
		ORDER BY id <> $1, parent_id, rank_order`, int64(rootID))
	if err != nil {
		return nil, fmt.Errorf("fetch tree %d: %w", rootID, err)
	}
	out, err := recordsql.ScanAll(rows)
	if err != nil {
		return nil, fmt.Errorf("fetch tree %d: %w", rootID, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("fetch tree %d: %w", rootID, types.ErrNotFound)
	}
	return out, nil
}

// All returns every stored record ordered by id.
func (s *Store) All(ctx context.Context) ([]types.FlatRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+recordsql.Columns+` FROM batchtree_records ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("select records: %w", err)
	}
	return recordsql.ScanAll(rows)
}

// OverrideSQLOpen swaps the function used to open connections and returns a
// restore func.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
