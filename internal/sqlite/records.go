package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/mesh-intelligence/batchtree/internal/recordsql"
	"github.com/mesh-intelligence/batchtree/pkg/types"
)

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Save stores records in one transaction and returns them in input order
// with server ids. A local id gets the next server id; a local parent id
// must belong to a record earlier in the same call. Records that already
// carry a server id are updated in place.
func (b *Backend) Save(ctx context.Context, records []types.FlatRecord) ([]types.FlatRecord, error) {
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

	assigned := make(map[types.ID]types.ID)
	out := make([]types.FlatRecord, len(records))
	next := func() (types.ID, error) { return nextServerID(ctx, tx) }
	for i, rec := range records {
		r, err := recordsql.Remap(rec, assigned, next)
		if err != nil {
			return nil, err
		}
		if err := upsertRecord(ctx, tx, r); err != nil {
			return nil, fmt.Errorf("save %q: %w", r.Label, err)
		}
		out[i] = r
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	if err := b.persistRecords(ctx); err != nil {
		return nil, err
	}
	if len(assigned) > 0 {
		if err := b.persistSequences(ctx); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func nextServerID(ctx context.Context, tx *sql.Tx) (types.ID, error) {
	var last int64
	err := tx.QueryRowContext(ctx,
		`UPDATE sequences SET last = last + 1 WHERE name = ? RETURNING last`, serverSequence).Scan(&last)
	if err != nil {
		return 0, fmt.Errorf("next server id: %w", err)
	}
	return types.ID(last), nil
}

func upsertRecord(ctx context.Context, ex execer, r types.FlatRecord) error {
	args, err := recordsql.Args(r)
	if err != nil {
		return err
	}
	_, err = ex.ExecContext(ctx, `INSERT INTO records (`+recordsql.Columns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		    parent_id = excluded.parent_id,
		    rank_order = excluded.rank_order,
		    label = excluded.label,
		    kind = excluded.kind,
		    individual_count = excluded.individual_count,
		    sampling_ratio = excluded.sampling_ratio,
		    sampling_ratio_text = excluded.sampling_ratio_text,
		    taxon_group = excluded.taxon_group,
		    measurement_values = excluded.measurement_values`, args...)
	return err
}

func (b *Backend) queryRecords(ctx context.Context, query string, args ...any) ([]types.FlatRecord, error) {
	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return recordsql.ScanAll(rows)
}

// Fetch returns the record with id, or ErrNotFound.
func (b *Backend) Fetch(ctx context.Context, id types.ID) (types.FlatRecord, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.attached {
		return types.FlatRecord{}, types.ErrDetached
	}

	row := b.db.QueryRowContext(ctx, `SELECT `+recordsql.Columns+` FROM records WHERE id = ?`, int64(id))
	r, err := recordsql.Scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return r, fmt.Errorf("fetch %d: %w", id, types.ErrNotFound)
	}
	return r, err
}

// FetchTree returns the record with rootID followed by all its descendants,
// walked with a recursive query.
func (b *Backend) FetchTree(ctx context.Context, rootID types.ID) ([]types.FlatRecord, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.attached {
		return nil, types.ErrDetached
	}

	out, err := b.queryRecords(ctx, `WITH RECURSIVE sub(id) AS (
		    SELECT id FROM records WHERE id = ?
		    UNION
		    SELECT r.id FROM records r JOIN sub ON r.parent_id = sub.id
		)
		SELECT `+recordsql.Columns+` FROM records WHERE id IN (SELECT id FROM sub)
		ORDER BY id <> ?, parent_id, rank_order`, int64(rootID), int64(rootID))
	if err != nil {
		return nil, fmt.Errorf("fetch tree %d: %w", rootID, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("fetch tree %d: %w", rootID, types.ErrNotFound)
	}
	return out, nil
}

// All returns every stored record ordered by id.
func (b *Backend) All(ctx context.Context) ([]types.FlatRecord, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.attached {
		return nil, types.ErrDetached
	}
	return b.queryRecords(ctx, `SELECT `+recordsql.Columns+` FROM records ORDER BY id`)
}

// Delete removes the record with id and all its descendants, returning how
// many records were removed.
func (b *Backend) Delete(ctx context.Context, id types.ID) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.attached {
		return 0, types.ErrDetached
	}

	res, err := b.db.ExecContext(ctx, `WITH RECURSIVE sub(id) AS (
		    SELECT id FROM records WHERE id = ?
		    UNION
		    SELECT r.id FROM records r JOIN sub ON r.parent_id = sub.id
		)
		DELETE FROM records WHERE id IN (SELECT id FROM sub)`, int64(id))
	if err != nil {
		return 0, fmt.Errorf("delete %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, fmt.Errorf("delete %d: %w", id, types.ErrNotFound)
	}
	if err := b.persistRecords(ctx); err != nil {
		return 0, err
	}
	return int(n), nil
}

// persistRecords rewrites records.jsonl from the database. The caller holds
// b.mu.
func (b *Backend) persistRecords(ctx context.Context) error {
	records, err := b.queryRecords(ctx, `SELECT `+recordsql.Columns+` FROM records ORDER BY id`)
	if err != nil {
		return fmt.Errorf("reading records for JSONL: %w", err)
	}
	lines, err := marshalLines(records)
	if err != nil {
		return err
	}
	return writeJSONL(filepath.Join(b.dataDir, recordsJSONL), lines)
}
