// Package recordsql maps flat records to and from SQL rows for the SQL
// backed stores.
package recordsql

import (
	"database/sql"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/mesh-intelligence/batchtree/pkg/types"
)

// Columns lists the record columns in the order Args and Scan use.
const Columns = `id, parent_id, rank_order, label, kind, individual_count,
    sampling_ratio, sampling_ratio_text, taxon_group, measurement_values`

// Scanner is satisfied by *sql.Row and *sql.Rows.
type Scanner interface {
	Scan(dest ...any) error
}

// Args returns the column values of r in Columns order. Nil pointers become
// SQL NULL and measurement values are encoded as JSON text.
func Args(r types.FlatRecord) ([]any, error) {
	var values any
	if r.MeasurementValues != nil {
		b, err := json.Marshal(r.MeasurementValues)
		if err != nil {
			return nil, fmt.Errorf("encoding measurement values: %w", err)
		}
		values = string(b)
	}
	var parent any
	if r.ParentID != nil {
		parent = int64(*r.ParentID)
	}
	var count any
	if r.IndividualCount != nil {
		count = *r.IndividualCount
	}
	var ratio any
	if r.SamplingRatio != nil {
		ratio = *r.SamplingRatio
	}
	return []any{
		int64(r.ID), parent, r.RankOrder, r.Label, string(r.Kind), count,
		ratio, r.SamplingRatioText, r.TaxonGroup, values,
	}, nil
}

// Scan reads one row selected with Columns.
func Scan(s Scanner) (types.FlatRecord, error) {
	var (
		r      types.FlatRecord
		id     int64
		parent sql.NullInt64
		kind   string
		count  sql.NullInt64
		ratio  sql.NullFloat64
		values sql.NullString
	)
	if err := s.Scan(&id, &parent, &r.RankOrder, &r.Label, &kind, &count,
		&ratio, &r.SamplingRatioText, &r.TaxonGroup, &values); err != nil {
		return r, err
	}
	r.ID = types.ID(id)
	r.Kind = types.RecordKind(kind)
	if parent.Valid {
		r.ParentID = types.IDPtr(types.ID(parent.Int64))
	}
	if count.Valid {
		v := count.Int64
		r.IndividualCount = &v
	}
	if ratio.Valid {
		v := ratio.Float64
		r.SamplingRatio = &v
	}
	if values.Valid {
		if err := json.Unmarshal([]byte(values.String), &r.MeasurementValues); err != nil {
			return r, fmt.Errorf("decoding measurement values of %d: %w", id, err)
		}
	}
	return r, nil
}

// ScanAll drains rows and closes them.
func ScanAll(rows *sql.Rows) ([]types.FlatRecord, error) {
	defer rows.Close()
	var out []types.FlatRecord
	for rows.Next() {
		r, err := Scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Remap rewrites the ids of one record about to be saved. A local parent id
// must already be in assigned. When the record's own id is local, next
// supplies the server id, which is recorded in assigned.
func Remap(r types.FlatRecord, assigned map[types.ID]types.ID, next func() (types.ID, error)) (types.FlatRecord, error) {
	r = r.Clone()
	if r.ParentID != nil && r.ParentID.IsLocal() {
		p, ok := assigned[*r.ParentID]
		if !ok {
			return r, fmt.Errorf("save %q: parent %d: %w", r.Label, *r.ParentID, types.ErrOrphanRecord)
		}
		r.ParentID = types.IDPtr(p)
	}
	if r.ID.IsLocal() {
		if _, dup := assigned[r.ID]; dup {
			return r, fmt.Errorf("save %q: %w: %d", r.Label, types.ErrDuplicateID, r.ID)
		}
		id, err := next()
		if err != nil {
			return r, err
		}
		assigned[r.ID] = id
		r.ID = id
	}
	return r, nil
}
