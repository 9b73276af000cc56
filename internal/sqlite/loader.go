package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"

	"github.com/goccy/go-json"

	"github.com/mesh-intelligence/batchtree/internal/log"
	"github.com/mesh-intelligence/batchtree/pkg/types"
)

// loadJSONL fills an empty database from the mirror files in one
// transaction. Lines that do not decode, or that violate a constraint, are
// skipped and counted.
func loadJSONL(ctx context.Context, db *sql.DB, dataDir string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning load transaction: %w", err)
	}
	defer tx.Rollback()

	lines, err := readJSONL(filepath.Join(dataDir, recordsJSONL))
	if err != nil {
		return err
	}
	loaded, skipped := 0, 0
	for _, line := range lines {
		var rec types.FlatRecord
		if err := json.Unmarshal(line, &rec); err != nil || rec.ID.IsLocal() {
			skipped++
			continue
		}
		if err := upsertRecord(ctx, tx, rec); err != nil {
			skipped++
			continue
		}
		loaded++
	}

	lines, err = readJSONL(filepath.Join(dataDir, sequencesJSONL))
	if err != nil {
		return err
	}
	for _, line := range lines {
		var seq sequenceJSON
		if err := json.Unmarshal(line, &seq); err != nil || seq.Name == "" {
			skipped++
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO sequences (name, last) VALUES (?, ?)
			 ON CONFLICT(name) DO UPDATE SET last = excluded.last`, seq.Name, seq.Last); err != nil {
			skipped++
		}
	}

	if err := foldLocalSequences(ctx, tx); err != nil {
		return err
	}

	// Server ids stay above every stored id even if the sequence line is lost.
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO sequences (name, last) SELECT ?, COALESCE(MAX(id), -1) FROM records WHERE true
		 ON CONFLICT(name) DO UPDATE SET last = MAX(last, excluded.last)`, serverSequence); err != nil {
		return fmt.Errorf("seeding server sequence: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing load transaction: %w", err)
	}
	log.Debugw(ctx, "loaded mirror", "dir", dataDir, "records", loaded, "skipped", skipped)
	return nil
}

// foldLocalSequences merges per-entity countdowns left by older mirrors into
// the shared local sequence, keeping the lowest id any of them reached.
func foldLocalSequences(ctx context.Context, tx *sql.Tx) error {
	var (
		n      int
		lowest sql.NullInt64
	)
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*), MIN(last) FROM sequences WHERE name NOT IN (?, ?)`,
		serverSequence, localSequence).Scan(&n, &lowest); err != nil {
		return fmt.Errorf("reading entity sequences: %w", err)
	}
	if n == 0 {
		return nil
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO sequences (name, last) VALUES (?, ?)
		 ON CONFLICT(name) DO UPDATE SET last = MIN(last, excluded.last)`,
		localSequence, lowest.Int64); err != nil {
		return fmt.Errorf("folding entity sequences: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM sequences WHERE name NOT IN (?, ?)`, serverSequence, localSequence); err != nil {
		return fmt.Errorf("folding entity sequences: %w", err)
	}
	return nil
}
