package tree

import (
	"fmt"

	"github.com/mesh-intelligence/batchtree/pkg/types"
)

// Flatten emits one record per live node, depth first with parents before
// children and siblings in rank order. Every node must already have an id;
// the first one without returns an *types.UnassignedIdentifierError.
// Flattening an unmodified tree twice yields equal output.
func Flatten(t *Tree) ([]types.FlatRecord, error) {
	out := make([]types.FlatRecord, 0, t.Len())
	for _, r := range t.roots {
		var err error
		if out, err = t.flatten(out, r); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// FlattenSubtree is Flatten for the subtree rooted at ref. The first record
// keeps a parent id when ref is not a root.
func FlattenSubtree(t *Tree, ref NodeRef) ([]types.FlatRecord, error) {
	if !t.valid(ref) {
		return nil, fmt.Errorf("%w: %d", types.ErrInvalidNode, ref)
	}
	return t.flatten(nil, ref)
}

func (t *Tree) flatten(out []types.FlatRecord, ref NodeRef) ([]types.FlatRecord, error) {
	n := &t.nodes[ref]
	if n.ID == nil {
		return nil, &types.UnassignedIdentifierError{Label: n.Label, Kind: n.Kind}
	}
	rec := toRecord(n)
	if n.parent != NoNode {
		p := &t.nodes[n.parent]
		if p.ID == nil {
			return nil, &types.UnassignedIdentifierError{Label: p.Label, Kind: p.Kind}
		}
		rec.ParentID = types.IDPtr(*p.ID)
	}
	out = append(out, rec)
	for _, c := range n.children {
		var err error
		if out, err = t.flatten(out, c); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func toRecord(n *Node) types.FlatRecord {
	p := n.payload()
	return types.FlatRecord{
		ID:                *p.ID,
		RankOrder:         p.RankOrder,
		Label:             p.Label,
		IndividualCount:   p.IndividualCount,
		SamplingRatio:     p.SamplingRatio,
		SamplingRatioText: p.SamplingRatioText,
		TaxonGroup:        p.TaxonGroup,
		MeasurementValues: p.MeasurementValues,
		Kind:              p.Kind,
	}
}

func fromRecord(r types.FlatRecord) Node {
	c := r.Clone()
	return Node{
		ID:                types.IDPtr(c.ID),
		Kind:              c.Kind,
		RankOrder:         c.RankOrder,
		Label:             c.Label,
		TaxonGroup:        c.TaxonGroup,
		IndividualCount:   c.IndividualCount,
		SamplingRatio:     c.SamplingRatio,
		SamplingRatioText: c.SamplingRatioText,
		MeasurementValues: c.MeasurementValues,
	}
}

// Result is the outcome of Reconstruct.
type Result struct {
	Tree *Tree

	// Orphans lists, in input order, every record that could not be placed
	// under a root: records whose parent id matches nothing, their
	// descendants, and records caught in a parent cycle.
	Orphans []types.FlatRecord
}

// Err returns an *types.OrphanRecordError when records were left unplaced,
// for callers that treat a partial load as corruption.
func (r Result) Err() error {
	if len(r.Orphans) == 0 {
		return nil
	}
	return &types.OrphanRecordError{Orphans: r.Orphans}
}

// Reconstruct rebuilds a forest from flat records. Children are attached in
// rank order and roots are the records without a parent id. Unplaceable
// records are returned in Result.Orphans rather than as an error; the only
// error is ErrDuplicateID for two records sharing an id.
func Reconstruct(records []types.FlatRecord) (Result, error) {
	t := &Tree{nodes: make([]Node, 0, len(records))}
	index := make(map[types.ID]NodeRef, len(records))
	for _, rec := range records {
		if _, dup := index[rec.ID]; dup {
			return Result{}, fmt.Errorf("%w: %d", types.ErrDuplicateID, rec.ID)
		}
		index[rec.ID] = t.insert(fromRecord(rec))
	}

	for i, rec := range records {
		ref := NodeRef(i)
		if rec.ParentID == nil {
			t.attach(NoNode, ref)
			continue
		}
		if p, ok := index[*rec.ParentID]; ok && p != ref {
			t.attach(p, ref)
		}
	}

	reached := make([]bool, len(t.nodes))
	t.Walk(func(ref NodeRef, _ int) bool {
		reached[ref] = true
		return true
	})

	res := Result{Tree: t}
	for i := range records {
		if reached[i] {
			continue
		}
		t.nodes[i].dead = true
		t.live--
		res.Orphans = append(res.Orphans, records[i].Clone())
	}
	return res, nil
}
