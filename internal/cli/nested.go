package cli

import (
	"bytes"
	"fmt"
	"io"

	"github.com/goccy/go-json"

	"github.com/mesh-intelligence/batchtree/internal/tree"
	"github.com/mesh-intelligence/batchtree/pkg/types"
)

// nestedNode is the document form of a tree: each node carries its
// children inline and needs no id until it is saved.
type nestedNode struct {
	ID                *types.ID        `json:"id,omitempty"`
	Kind              types.RecordKind `json:"kind,omitempty"`
	RankOrder         int              `json:"rankOrder,omitempty"`
	Label             string           `json:"label"`
	TaxonGroup        string           `json:"taxonGroup,omitempty"`
	IndividualCount   *int64           `json:"individualCount,omitempty"`
	SamplingRatio     *float64         `json:"samplingRatio,omitempty"`
	SamplingRatioText string           `json:"samplingRatioText,omitempty"`
	MeasurementValues map[string]any   `json:"measurementValues,omitempty"`
	Children          []nestedNode     `json:"children,omitempty"`
}

// decodeNested reads one nested object or an array of them into a tree.
func decodeNested(r io.Reader) (*tree.Tree, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read tree: %w", err)
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("tree document is empty")
	}

	var roots []nestedNode
	if data[0] == '[' {
		err = json.Unmarshal(data, &roots)
	} else {
		var one nestedNode
		err = json.Unmarshal(data, &one)
		roots = []nestedNode{one}
	}
	if err != nil {
		return nil, fmt.Errorf("decode tree: %w", err)
	}

	t := tree.New()
	for _, n := range roots {
		if err := addNested(t, tree.NoNode, n); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func addNested(t *tree.Tree, parent tree.NodeRef, n nestedNode) error {
	if n.Kind != "" && !n.Kind.Valid() {
		return fmt.Errorf("node %q: unknown kind %q", n.Label, n.Kind)
	}
	node := tree.Node{
		ID:                n.ID,
		Kind:              n.Kind,
		RankOrder:         n.RankOrder,
		Label:             n.Label,
		TaxonGroup:        n.TaxonGroup,
		IndividualCount:   n.IndividualCount,
		SamplingRatio:     n.SamplingRatio,
		SamplingRatioText: n.SamplingRatioText,
		MeasurementValues: n.MeasurementValues,
	}
	var (
		ref tree.NodeRef
		err error
	)
	if parent == tree.NoNode {
		ref, err = t.AddRoot(node)
	} else {
		ref, err = t.AddChild(parent, node)
	}
	if err != nil {
		return fmt.Errorf("node %q: %w", n.Label, err)
	}
	for _, c := range n.Children {
		if err := addNested(t, ref, c); err != nil {
			return err
		}
	}
	return nil
}

// encodeNested turns every root of t into a nested document.
func encodeNested(t *tree.Tree) []nestedNode {
	out := make([]nestedNode, 0, len(t.Roots()))
	for _, r := range t.Roots() {
		out = append(out, nestedFrom(t, r))
	}
	return out
}

func nestedFrom(t *tree.Tree, ref tree.NodeRef) nestedNode {
	n := t.Node(ref)
	out := nestedNode{
		ID:                n.ID,
		Kind:              n.Kind,
		RankOrder:         n.RankOrder,
		Label:             n.Label,
		TaxonGroup:        n.TaxonGroup,
		IndividualCount:   n.IndividualCount,
		SamplingRatio:     n.SamplingRatio,
		SamplingRatioText: n.SamplingRatioText,
		MeasurementValues: n.MeasurementValues,
	}
	for _, c := range t.Children(ref) {
		out.Children = append(out.Children, nestedFrom(t, c))
	}
	return out
}
