package recordsql

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/batchtree/pkg/types"
)

// rowOf feeds Args output back through Scan the way a driver would.
type rowOf []any

func (r rowOf) Scan(dest ...any) error {
	if len(dest) != len(r) {
		return errors.New("column count mismatch")
	}
	for i, d := range dest {
		switch p := d.(type) {
		case *int64:
			*p = r[i].(int64)
		case *int:
			*p = r[i].(int)
		case *string:
			*p = r[i].(string)
		default:
			if s, ok := d.(interface{ Scan(any) error }); ok {
				if err := s.Scan(r[i]); err != nil {
					return err
				}
				continue
			}
			return errors.New("unsupported destination")
		}
	}
	return nil
}

func TestArgsScanRoundTrip(t *testing.T) {
	count := int64(7)
	ratio := 0.25
	tests := []struct {
		name string
		rec  types.FlatRecord
	}{
		{"root with nulls", types.FlatRecord{ID: 4, RankOrder: 1, Label: "CATCH_BATCH", Kind: types.KindBatch}},
		{"full", types.FlatRecord{
			ID: 9, ParentID: types.IDPtr(4), RankOrder: 2, Label: "SORTING_BATCH#1",
			IndividualCount: &count, SamplingRatio: &ratio, SamplingRatioText: "25%",
			TaxonGroup: "COD", Kind: types.KindSample,
			MeasurementValues: map[string]any{"weight": 1.5, "sex": "F"},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args, err := Args(tt.rec)
			require.NoError(t, err)
			got, err := Scan(rowOf(args))
			require.NoError(t, err)
			assert.Equal(t, tt.rec, got)
		})
	}
}

func TestRemap(t *testing.T) {
	assigned := map[types.ID]types.ID{}
	next := types.ID(100)
	gen := func() (types.ID, error) { next++; return next, nil }

	root, err := Remap(types.FlatRecord{ID: -1, Label: "root"}, assigned, gen)
	require.NoError(t, err)
	assert.Equal(t, types.ID(101), root.ID)

	child, err := Remap(types.FlatRecord{ID: -2, ParentID: types.IDPtr(-1), Label: "child"}, assigned, gen)
	require.NoError(t, err)
	assert.Equal(t, types.ID(102), child.ID)
	assert.Equal(t, types.ID(101), *child.ParentID)

	kept, err := Remap(types.FlatRecord{ID: 5, ParentID: types.IDPtr(-2), Label: "existing"}, assigned, gen)
	require.NoError(t, err)
	assert.Equal(t, types.ID(5), kept.ID)
	assert.Equal(t, types.ID(102), *kept.ParentID)

	_, err = Remap(types.FlatRecord{ID: -3, ParentID: types.IDPtr(-9), Label: "stray"}, assigned, gen)
	assert.ErrorIs(t, err, types.ErrOrphanRecord)

	_, err = Remap(types.FlatRecord{ID: -1, Label: "again"}, assigned, gen)
	assert.ErrorIs(t, err, types.ErrDuplicateID)
}
