package identity

import (
	"context"
	"errors"
	"testing"

	"github.com/mesh-intelligence/batchtree/internal/tree"
	"github.com/mesh-intelligence/batchtree/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingSource wraps a source and records every request.
type recordingSource struct {
	inner types.IdentitySource
	calls []call
	fail  map[string]error
	short map[string]bool
}

type call struct {
	entity string
	count  int
}

func (s *recordingSource) NextIDs(ctx context.Context, entity string, count int) ([]types.ID, error) {
	s.calls = append(s.calls, call{entity, count})
	if err := s.fail[entity]; err != nil {
		return nil, err
	}
	ids, err := s.inner.NextIDs(ctx, entity, count)
	if s.short[entity] && len(ids) > 0 {
		ids = ids[:len(ids)-1]
	}
	return ids, err
}

type countingObserver map[string]int

func (o countingObserver) IDsAllocated(entity string, n int) { o[entity] += n }

// mixedTree builds a batch tree with one sample lineage hanging off it.
func mixedTree(t *testing.T) (*tree.Tree, []tree.NodeRef) {
	t.Helper()
	tr := tree.New()
	root, err := tr.AddRoot(tree.Node{Label: "CATCH_BATCH", Kind: types.KindBatch})
	require.NoError(t, err)
	s1, err := tr.AddChild(root, tree.Node{Label: "SORTING_BATCH#1", Kind: types.KindBatch})
	require.NoError(t, err)
	sample, err := tr.AddChild(root, tree.Node{Label: "SAMPLE#1", Kind: types.KindSample})
	require.NoError(t, err)
	comp, err := tr.AddChild(s1, tree.Node{Label: "COMPOSITION#1", Kind: types.KindComposition})
	require.NoError(t, err)
	release, err := tr.AddChild(sample, tree.Node{Label: "RELEASE#1", Kind: types.KindRelease})
	require.NoError(t, err)
	return tr, []tree.NodeRef{root, s1, sample, comp, release}
}

func TestFillTreeOneCallPerEntity(t *testing.T) {
	tr, refs := mixedTree(t)
	src := &recordingSource{inner: NewMemorySource()}
	obs := countingObserver{}
	a := NewAllocator(src, WithObserver(obs))

	require.NoError(t, a.FillTree(context.Background(), tr))

	assert.Equal(t, []call{{"Batch", 3}, {"Sample", 2}}, src.calls)
	assert.Equal(t, countingObserver{"Batch": 3, "Sample": 2}, obs)

	// Pre-order is root, SORTING_BATCH#1, COMPOSITION#1, SAMPLE#1, RELEASE#1.
	root, s1, sample, comp, release := refs[0], refs[1], refs[2], refs[3], refs[4]
	assert.Equal(t, types.ID(-1), *tr.Node(root).ID)
	assert.Equal(t, types.ID(-2), *tr.Node(s1).ID)
	assert.Equal(t, types.ID(-3), *tr.Node(comp).ID)
	assert.Equal(t, types.ID(-4), *tr.Node(sample).ID)
	assert.Equal(t, types.ID(-5), *tr.Node(release).ID)
}

func TestFillIdempotent(t *testing.T) {
	tr := tree.New()
	root, err := tr.AddRoot(tree.Node{Label: "CATCH_BATCH"})
	require.NoError(t, err)
	_, err = tr.AddChild(root, tree.Node{Label: "SORTING_BATCH#1", ID: types.IDPtr(12)})
	require.NoError(t, err)

	src := &recordingSource{inner: NewMemorySource()}
	a := NewAllocator(src)
	ctx := context.Background()

	require.NoError(t, a.FillTree(ctx, tr))
	first, err := tree.Flatten(tr)
	require.NoError(t, err)
	assert.Equal(t, types.ID(12), first[1].ID, "server ids are never reassigned")

	require.NoError(t, a.FillTree(ctx, tr))
	second, err := tree.Flatten(tr)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Len(t, src.calls, 1, "nothing missing means no source call")
}

func TestFillAllOrNothing(t *testing.T) {
	tests := []struct {
		name string
		src  func() *recordingSource
	}{
		{
			name: "source unreachable for second entity",
			src: func() *recordingSource {
				return &recordingSource{inner: NewMemorySource(), fail: map[string]error{"Sample": errors.New("connection refused")}}
			},
		},
		{
			name: "source returns fewer ids",
			src: func() *recordingSource {
				return &recordingSource{inner: NewMemorySource(), short: map[string]bool{"Sample": true}}
			},
		},
		{
			name: "source returns server ids",
			src: func() *recordingSource {
				return &recordingSource{inner: positiveSource{}}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, _ := mixedTree(t)
			a := NewAllocator(tt.src())

			err := a.FillTree(context.Background(), tr)
			require.Error(t, err)
			assert.ErrorIs(t, err, types.ErrAllocation)
			var alloc *types.AllocationError
			require.True(t, errors.As(err, &alloc))

			tr.Walk(func(ref tree.NodeRef, _ int) bool {
				assert.False(t, tr.Node(ref).HasID(), "no partial assignment")
				return true
			})
		})
	}
}

type positiveSource struct{}

func (positiveSource) NextIDs(_ context.Context, _ string, count int) ([]types.ID, error) {
	ids := make([]types.ID, count)
	for i := range ids {
		ids[i] = types.ID(i + 1)
	}
	return ids, nil
}

func TestFillRejectsCollidingIDs(t *testing.T) {
	tr := tree.New()
	root, err := tr.AddRoot(tree.Node{Label: "CATCH_BATCH", ID: types.IDPtr(-1)})
	require.NoError(t, err)
	_, err = tr.AddChild(root, tree.Node{Label: "SORTING_BATCH#1"})
	require.NoError(t, err)

	// A fresh source starts again at -1, which the root already carries.
	err = NewAllocator(NewMemorySource()).FillTree(context.Background(), tr)
	assert.ErrorIs(t, err, types.ErrAllocation)

	// A source whose entity counters overlap is rejected as well.
	mixed, _ := mixedTree(t)
	err = NewAllocator(perEntitySource{}).FillTree(context.Background(), mixed)
	assert.ErrorIs(t, err, types.ErrAllocation)
	mixed.Walk(func(ref tree.NodeRef, _ int) bool {
		assert.False(t, mixed.Node(ref).HasID())
		return true
	})
}

// perEntitySource restarts at -1 for every entity.
type perEntitySource map[string]types.ID

func (s perEntitySource) NextIDs(_ context.Context, entity string, count int) ([]types.ID, error) {
	ids := make([]types.ID, count)
	for i := range ids {
		s[entity]--
		ids[i] = s[entity]
	}
	return ids, nil
}

func TestFillMixedKindsOnFreshSource(t *testing.T) {
	tr := tree.New()
	root, err := tr.AddRoot(tree.Node{Label: "CATCH_BATCH", Kind: types.KindBatch})
	require.NoError(t, err)
	sample, err := tr.AddChild(root, tree.Node{Label: "SAMPLE#1", Kind: types.KindSample})
	require.NoError(t, err)

	require.NoError(t, NewAllocator(NewMemorySource()).FillTree(context.Background(), tr))
	assert.Equal(t, types.ID(-1), *tr.Node(root).ID)
	assert.Equal(t, types.ID(-2), *tr.Node(sample).ID)

	records, err := tree.Flatten(tr)
	require.NoError(t, err)
	assert.Equal(t, types.ID(-1), *records[1].ParentID)
}

func TestFillLocalIDsSubset(t *testing.T) {
	tr, refs := mixedTree(t)
	a := NewAllocator(NewMemorySource())
	require.NoError(t, a.FillLocalIDs(context.Background(), tr, []tree.NodeRef{refs[3], refs[0], refs[3]}))

	assert.Equal(t, types.ID(-1), *tr.Node(refs[3]).ID, "ids follow the order of refs")
	assert.Equal(t, types.ID(-2), *tr.Node(refs[0]).ID)
	assert.False(t, tr.Node(refs[1]).HasID())

	err := a.FillLocalIDs(context.Background(), tr, []tree.NodeRef{tree.NodeRef(77)})
	assert.ErrorIs(t, err, types.ErrInvalidNode)
}
