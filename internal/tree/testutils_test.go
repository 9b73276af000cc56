package tree

import (
	"testing"

	"github.com/mesh-intelligence/batchtree/pkg/types"
	"github.com/stretchr/testify/require"
)

func idp(id types.ID) *types.ID { return types.IDPtr(id) }

func countp(v int64) *int64 { return &v }

func ratiop(v float64) *float64 { return &v }

// catchTree builds CATCH_BATCH > SORTING_BATCH#1 > INDIVIDUAL#1 with local ids.
func catchTree(t *testing.T) (*Tree, NodeRef, NodeRef, NodeRef) {
	t.Helper()
	tr := New()
	root, err := tr.AddRoot(Node{ID: idp(-1), RankOrder: 1, Label: "CATCH_BATCH", Kind: types.KindBatch})
	require.NoError(t, err)
	child, err := tr.AddChild(root, Node{ID: idp(-2), RankOrder: 1, Label: "SORTING_BATCH#1", Kind: types.KindBatch})
	require.NoError(t, err)
	leaf, err := tr.AddChild(child, Node{
		ID:              idp(-3),
		RankOrder:       1,
		Label:           "INDIVIDUAL#1",
		Kind:            types.KindBatch,
		IndividualCount: countp(1),
	})
	require.NoError(t, err)
	return tr, root, child, leaf
}

// edges returns child id -> parent id for every live node.
func edges(t *testing.T, tr *Tree) map[types.ID]*types.ID {
	t.Helper()
	out := make(map[types.ID]*types.ID)
	tr.Walk(func(ref NodeRef, _ int) bool {
		n := tr.Node(ref)
		require.NotNil(t, n.ID)
		var parent *types.ID
		if p := tr.Parent(ref); p != NoNode {
			parent = tr.Node(p).ID
		}
		out[*n.ID] = parent
		return true
	})
	return out
}
