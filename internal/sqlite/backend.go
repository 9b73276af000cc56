// Package sqlite stores flat sampling records in SQLite, with JSONL files in
// the data directory as the durable copy. The database is rebuilt from the
// JSONL files on every Attach.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/mesh-intelligence/batchtree/pkg/types"
)

var (
	_ types.RecordStore    = (*Backend)(nil)
	_ types.IdentitySource = (*Backend)(nil)
)

// dbFile is the SQLite file created inside DataDir.
const dbFile = "batchtree.db"

// Backend is a record store and local identity source over SQLite.
type Backend struct {
	mu       sync.RWMutex
	attached bool
	dataDir  string
	db       *sql.DB
}

// NewBackend creates a detached backend; call Attach before use.
func NewBackend() *Backend {
	return &Backend{}
}

// Attach opens the backend in config.DataDir, creating the directory and the
// mirror files when needed, and loads the mirror into a fresh database.
// Returns ErrAlreadyAttached if already attached.
func (b *Backend) Attach(config types.Config) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.attached {
		return types.ErrAlreadyAttached
	}
	if err := config.Validate(); err != nil {
		return err
	}

	dataDir := config.DataDir
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return err
	}

	dbPath := filepath.Join(dataDir, dbFile)
	// The JSONL files are the source of truth.
	_ = os.Remove(dbPath)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return err
	}
	// One connection keeps sequence reservations serialized.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return fmt.Errorf("creating schema: %w", err)
	}
	if err := initJSONLFiles(dataDir); err != nil {
		db.Close()
		return err
	}
	if err := loadJSONL(context.Background(), db, dataDir); err != nil {
		db.Close()
		return fmt.Errorf("load JSONL: %w", err)
	}

	b.db = db
	b.dataDir = dataDir
	b.attached = true
	return nil
}

// Detach closes the database. It is idempotent; after Detach every
// operation returns ErrDetached.
func (b *Backend) Detach() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.attached {
		return nil
	}
	if b.db != nil {
		if err := b.db.Close(); err != nil {
			return err
		}
		b.db = nil
	}
	b.attached = false
	return nil
}

// NextIDs reserves count local ids for entityName. Every entity draws from
// the one local sequence, since parent references carry no kind. The
// reservation is one UPDATE ... RETURNING, so concurrent callers never
// overlap.
func (b *Backend) NextIDs(ctx context.Context, entityName string, count int) ([]types.ID, error) {
	if entityName == "" {
		return nil, fmt.Errorf("next ids: empty entity name")
	}
	if count <= 0 {
		return nil, fmt.Errorf("next ids: count %d must be positive", count)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.attached {
		return nil, types.ErrDetached
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO sequences (name, last) VALUES (?, 0) ON CONFLICT(name) DO NOTHING`, localSequence); err != nil {
		return nil, fmt.Errorf("next ids %s: %w", entityName, err)
	}
	var last int64
	if err := tx.QueryRowContext(ctx,
		`UPDATE sequences SET last = last - ? WHERE name = ? RETURNING last`, count, localSequence).Scan(&last); err != nil {
		return nil, fmt.Errorf("next ids %s: %w", entityName, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	if err := b.persistSequences(ctx); err != nil {
		return nil, err
	}

	ids := make([]types.ID, count)
	for i := range ids {
		ids[i] = types.ID(last + int64(count-1-i))
	}
	return ids, nil
}

func (b *Backend) persistSequences(ctx context.Context) error {
	rows, err := b.db.QueryContext(ctx, `SELECT name, last FROM sequences ORDER BY name`)
	if err != nil {
		return fmt.Errorf("reading sequences for JSONL: %w", err)
	}
	defer rows.Close()

	var seqs []sequenceJSON
	for rows.Next() {
		var s sequenceJSON
		if err := rows.Scan(&s.Name, &s.Last); err != nil {
			return fmt.Errorf("scanning sequence for JSONL: %w", err)
		}
		seqs = append(seqs, s)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	lines, err := marshalLines(seqs)
	if err != nil {
		return err
	}
	return writeJSONL(filepath.Join(b.dataDir, sequencesJSONL), lines)
}
