package types

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIDClass(t *testing.T) {
	assert.True(t, ID(-1).IsLocal())
	assert.False(t, ID(-1).IsServer())
	assert.True(t, ID(0).IsServer())
	assert.True(t, ID(42).IsServer())
	assert.Equal(t, "-7", ID(-7).String())
}

func TestRecordKindEntityName(t *testing.T) {
	tests := []struct {
		kind RecordKind
		want string
	}{
		{KindBatch, "Batch"},
		{KindSample, "Sample"},
		{KindComposition, "Batch"},
		{KindRelease, "Sample"},
		{"", "Batch"},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.kind.EntityName())
		})
	}
	assert.False(t, RecordKind("landing").Valid())
	assert.True(t, KindSample.Valid())
}

func TestFlatRecordClone(t *testing.T) {
	count := int64(3)
	orig := FlatRecord{
		ID:                -1,
		ParentID:          IDPtr(-2),
		IndividualCount:   &count,
		MeasurementValues: map[string]any{"weight": 1.5},
	}
	cp := orig.Clone()
	*cp.ParentID = 9
	*cp.IndividualCount = 10
	cp.MeasurementValues["weight"] = 2.0

	assert.Equal(t, ID(-2), *orig.ParentID)
	assert.Equal(t, int64(3), *orig.IndividualCount)
	assert.Equal(t, 1.5, orig.MeasurementValues["weight"])
}

func TestPromotionMapping(t *testing.T) {
	t.Run("maps local ids in order", func(t *testing.T) {
		sent := []FlatRecord{{ID: -1}, {ID: 5}, {ID: -2, ParentID: IDPtr(-1)}}
		saved := []FlatRecord{{ID: 100}, {ID: 5}, {ID: 101, ParentID: IDPtr(100)}}

		mapping, err := PromotionMapping(sent, saved)
		require.NoError(t, err)
		assert.Equal(t, map[ID]ID{-1: 100, -2: 101}, mapping)
	})

	t.Run("length mismatch", func(t *testing.T) {
		_, err := PromotionMapping([]FlatRecord{{ID: -1}}, nil)
		assert.ErrorIs(t, err, ErrSaveMismatch)
	})

	t.Run("saved record still local", func(t *testing.T) {
		_, err := PromotionMapping([]FlatRecord{{ID: -1}}, []FlatRecord{{ID: -1}})
		assert.ErrorIs(t, err, ErrUnpromotedRecord)
	})

	t.Run("server id changed", func(t *testing.T) {
		_, err := PromotionMapping([]FlatRecord{{ID: 3}}, []FlatRecord{{ID: 4}})
		assert.ErrorIs(t, err, ErrSaveMismatch)
	})
}

func TestErrorTaxonomy(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		target error
	}{
		{"allocation", &AllocationError{Entity: "Batch", Requested: 2}, ErrAllocation},
		{"unassigned", &UnassignedIdentifierError{Label: "CATCH_BATCH"}, ErrUnassignedIdentifier},
		{"orphan", &OrphanRecordError{Orphans: []FlatRecord{{ID: 2}}}, ErrOrphanRecord},
		{"promotion", &PromotionConflictError{Local: -1, Server: 3, Reason: "taken"}, ErrPromotionConflict},
		{"rounding", &RoundingInconsistencyWarning{Label: "X", Ratio: 0}, ErrRoundingInconsistency},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.err, tt.target)
			assert.NotEmpty(t, tt.err.Error())
		})
	}

	cause := errors.New("connection refused")
	err := &AllocationError{Entity: "Sample", Requested: 3, Err: cause}
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "connection refused")
}
