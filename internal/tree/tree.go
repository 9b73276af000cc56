// Package tree holds batch and sample trees in an index-based arena and
// converts them to and from flat, parent-referenced records.
//
// Nodes live in one slice and point at each other by NodeRef index, so the
// parent/children relation carries no pointer cycle. Removed subtrees leave
// tombstones behind; every traversal starts at the live roots and never sees
// them.
package tree

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mesh-intelligence/batchtree/pkg/types"
)

// NodeRef addresses a node inside one Tree.
type NodeRef int

// NoNode is the parent of a root.
const NoNode NodeRef = -1

// Role decides how the aggregate pass treats a node. It is set when the node
// enters the tree and refreshed only by SetSamplingRatio and SetLabel.
type Role uint8

const (
	// RolePlain sums its children without scaling; as a leaf it counts 0.
	RolePlain Role = iota
	// RoleSampling scales the sum of its children by its sampling ratio.
	RoleSampling
	// RoleIndividual is a countable unit; as a leaf it counts 1.
	RoleIndividual
)

func (r Role) String() string {
	switch r {
	case RoleSampling:
		return "sampling"
	case RoleIndividual:
		return "individual"
	default:
		return "plain"
	}
}

// Fraction tags the landing and discard halves of a sorting batch.
type Fraction uint8

const (
	FractionNone Fraction = iota
	FractionLanding
	FractionDiscard
)

// Label suffixes of the landing and discard sorting batches.
const (
	LandingSuffix = ".LAN"
	DiscardSuffix = ".DIS"
)

// Node is one sampling record. Payload fields are exported; tree links are
// not. Once a node is in a tree its ID is written only through AssignID and
// Promote, and SamplingRatio and Label only through the Tree setters.
type Node struct {
	ID                *types.ID
	Kind              types.RecordKind
	RankOrder         int
	Label             string
	TaxonGroup        string
	IndividualCount   *int64
	SamplingRatio     *float64
	SamplingRatioText string
	MeasurementValues map[string]any

	role     Role
	fraction Fraction
	parent   NodeRef
	children []NodeRef
	dead     bool
}

// Role returns the aggregate role fixed when the node was classified.
func (n *Node) Role() Role { return n.role }

// Fraction returns the landing/discard tag fixed when the node was classified.
func (n *Node) Fraction() Fraction { return n.fraction }

// HasID reports whether the node has been given an id.
func (n *Node) HasID() bool { return n.ID != nil }

func (n *Node) classify() {
	switch {
	case n.SamplingRatio != nil:
		n.role = RoleSampling
	case n.Kind == types.KindSample || n.Kind == types.KindRelease:
		n.role = RoleIndividual
	case strings.Contains(n.Label, "INDIVIDUAL"):
		n.role = RoleIndividual
	default:
		n.role = RolePlain
	}
	switch {
	case strings.HasSuffix(n.Label, LandingSuffix):
		n.fraction = FractionLanding
	case strings.HasSuffix(n.Label, DiscardSuffix):
		n.fraction = FractionDiscard
	default:
		n.fraction = FractionNone
	}
}

// payload returns a copy of n's exported fields with no tree links.
func (n *Node) payload() Node {
	out := Node{
		Kind:              n.Kind,
		RankOrder:         n.RankOrder,
		Label:             n.Label,
		TaxonGroup:        n.TaxonGroup,
		SamplingRatioText: n.SamplingRatioText,
		MeasurementValues: types.CloneValues(n.MeasurementValues),
	}
	if n.ID != nil {
		out.ID = types.IDPtr(*n.ID)
	}
	if n.IndividualCount != nil {
		v := *n.IndividualCount
		out.IndividualCount = &v
	}
	if n.SamplingRatio != nil {
		v := *n.SamplingRatio
		out.SamplingRatio = &v
	}
	return out
}

// Tree is a forest of nodes stored in an arena.
type Tree struct {
	nodes []Node
	roots []NodeRef
	live  int
}

// New returns an empty tree.
func New() *Tree {
	return &Tree{}
}

// Len returns the number of live nodes.
func (t *Tree) Len() int {
	return t.live
}

func (t *Tree) valid(ref NodeRef) bool {
	return ref >= 0 && int(ref) < len(t.nodes) && !t.nodes[ref].dead
}

// Node returns the node at ref, or nil for an invalid or removed ref. The
// pointer stays valid until the next node is added to the tree.
func (t *Tree) Node(ref NodeRef) *Node {
	if !t.valid(ref) {
		return nil
	}
	return &t.nodes[ref]
}

// Parent returns the parent of ref, or NoNode for roots.
func (t *Tree) Parent(ref NodeRef) NodeRef {
	if !t.valid(ref) {
		return NoNode
	}
	return t.nodes[ref].parent
}

// Children returns the children of ref in rank order.
func (t *Tree) Children(ref NodeRef) []NodeRef {
	if !t.valid(ref) {
		return nil
	}
	return append([]NodeRef(nil), t.nodes[ref].children...)
}

// Roots returns the roots in rank order.
func (t *Tree) Roots() []NodeRef {
	return append([]NodeRef(nil), t.roots...)
}

// AddRoot adds n as a new root. A zero RankOrder is replaced by one past the
// highest rank among the existing roots.
func (t *Tree) AddRoot(n Node) (NodeRef, error) {
	return t.add(NoNode, n)
}

// AddChild adds n under parent. A zero RankOrder is replaced by one past the
// highest rank among the existing siblings; an explicit rank already taken by
// a sibling returns ErrDuplicateRankOrder.
func (t *Tree) AddChild(parent NodeRef, n Node) (NodeRef, error) {
	if !t.valid(parent) {
		return NoNode, fmt.Errorf("%w: parent %d", types.ErrInvalidNode, parent)
	}
	return t.add(parent, n)
}

func (t *Tree) add(parent NodeRef, n Node) (NodeRef, error) {
	siblings := t.siblings(parent)
	if n.RankOrder == 0 {
		n.RankOrder = 1
		if len(siblings) > 0 {
			n.RankOrder = t.nodes[siblings[len(siblings)-1]].RankOrder + 1
		}
	} else {
		for _, s := range siblings {
			if t.nodes[s].RankOrder == n.RankOrder {
				return NoNode, fmt.Errorf("%w: rank %d under %q", types.ErrDuplicateRankOrder, n.RankOrder, t.labelOf(parent))
			}
		}
	}
	ref := t.insert(n)
	t.attach(parent, ref)
	return ref, nil
}

// insert appends a detached node to the arena.
func (t *Tree) insert(n Node) NodeRef {
	n.parent = NoNode
	n.children = nil
	n.dead = false
	n.classify()
	t.nodes = append(t.nodes, n)
	t.live++
	return NodeRef(len(t.nodes) - 1)
}

// attach links ref under parent (or among the roots), keeping the sibling
// list sorted by rank. Equal ranks keep attachment order.
func (t *Tree) attach(parent, ref NodeRef) {
	t.nodes[ref].parent = parent
	list := t.siblings(parent)
	rank := t.nodes[ref].RankOrder
	pos := sort.Search(len(list), func(i int) bool {
		return t.nodes[list[i]].RankOrder > rank
	})
	list = append(list, NoNode)
	copy(list[pos+1:], list[pos:])
	list[pos] = ref
	if parent == NoNode {
		t.roots = list
	} else {
		t.nodes[parent].children = list
	}
}

func (t *Tree) siblings(parent NodeRef) []NodeRef {
	if parent == NoNode {
		return t.roots
	}
	return t.nodes[parent].children
}

func (t *Tree) labelOf(ref NodeRef) string {
	if ref == NoNode {
		return "<root>"
	}
	return t.nodes[ref].Label
}

// AssignID sets the id of a node that has none.
func (t *Tree) AssignID(ref NodeRef, id types.ID) error {
	if !t.valid(ref) {
		return fmt.Errorf("%w: %d", types.ErrInvalidNode, ref)
	}
	n := &t.nodes[ref]
	if n.ID != nil {
		return fmt.Errorf("node %q already has id %d", n.Label, *n.ID)
	}
	n.ID = types.IDPtr(id)
	return nil
}

// SetSamplingRatio replaces the sampling ratio of ref and reclassifies it.
func (t *Tree) SetSamplingRatio(ref NodeRef, ratio *float64) error {
	if !t.valid(ref) {
		return fmt.Errorf("%w: %d", types.ErrInvalidNode, ref)
	}
	n := &t.nodes[ref]
	n.SamplingRatio = ratio
	if ratio == nil {
		n.SamplingRatioText = ""
	}
	n.classify()
	return nil
}

// SetLabel replaces the label of ref and reclassifies it.
func (t *Tree) SetLabel(ref NodeRef, label string) error {
	if !t.valid(ref) {
		return fmt.Errorf("%w: %d", types.ErrInvalidNode, ref)
	}
	t.nodes[ref].Label = label
	t.nodes[ref].classify()
	return nil
}

// Find returns the live node carrying id, or NoNode.
func (t *Tree) Find(id types.ID) NodeRef {
	found := NoNode
	t.Walk(func(ref NodeRef, _ int) bool {
		if found != NoNode {
			return false
		}
		if n := &t.nodes[ref]; n.ID != nil && *n.ID == id {
			found = ref
			return false
		}
		return true
	})
	return found
}

// Walk visits every live node depth first, parents before children, roots
// and siblings in rank order. Returning false from fn skips the children of
// the node just visited.
func (t *Tree) Walk(fn func(ref NodeRef, depth int) bool) {
	for _, r := range t.roots {
		t.walk(r, 0, fn)
	}
}

// WalkFrom is Walk restricted to the subtree rooted at ref.
func (t *Tree) WalkFrom(ref NodeRef, fn func(ref NodeRef, depth int) bool) {
	if t.valid(ref) {
		t.walk(ref, 0, fn)
	}
}

func (t *Tree) walk(ref NodeRef, depth int, fn func(NodeRef, int) bool) {
	if !fn(ref, depth) {
		return
	}
	for _, c := range t.nodes[ref].children {
		t.walk(c, depth+1, fn)
	}
}

// PostOrder visits the subtree rooted at ref, children before parents.
func (t *Tree) PostOrder(ref NodeRef, fn func(ref NodeRef)) {
	if !t.valid(ref) {
		return
	}
	for _, c := range t.nodes[ref].children {
		t.PostOrder(c, fn)
	}
	fn(ref)
}

// Detach removes the subtree rooted at ref from the tree.
func (t *Tree) Detach(ref NodeRef) error {
	if !t.valid(ref) {
		return fmt.Errorf("%w: %d", types.ErrInvalidNode, ref)
	}
	parent := t.nodes[ref].parent
	list := t.siblings(parent)
	for i, s := range list {
		if s == ref {
			list = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if parent == NoNode {
		t.roots = list
	} else {
		t.nodes[parent].children = list
	}
	t.PostOrder(ref, func(r NodeRef) {
		t.nodes[r].dead = true
		t.live--
	})
	return nil
}

// Graft copies the subtree rooted at srcRoot in src under parent in t (or as
// a new root when parent is NoNode). Ranks are kept; a rank already taken
// among the new siblings returns ErrDuplicateRankOrder. src is not modified.
func (t *Tree) Graft(parent NodeRef, src *Tree, srcRoot NodeRef) (NodeRef, error) {
	if parent != NoNode && !t.valid(parent) {
		return NoNode, fmt.Errorf("%w: parent %d", types.ErrInvalidNode, parent)
	}
	if !src.valid(srcRoot) {
		return NoNode, fmt.Errorf("%w: source %d", types.ErrInvalidNode, srcRoot)
	}
	rank := src.nodes[srcRoot].RankOrder
	for _, s := range t.siblings(parent) {
		if t.nodes[s].RankOrder == rank {
			return NoNode, fmt.Errorf("%w: rank %d under %q", types.ErrDuplicateRankOrder, rank, t.labelOf(parent))
		}
	}
	return t.copyFrom(parent, src, srcRoot), nil
}

func (t *Tree) copyFrom(parent NodeRef, src *Tree, srcRef NodeRef) NodeRef {
	ref := t.insert(src.nodes[srcRef].payload())
	t.attach(parent, ref)
	for _, c := range src.nodes[srcRef].children {
		t.copyFrom(ref, src, c)
	}
	return ref
}

// CopySubtree returns a new tree holding an isolated copy of the subtree
// rooted at ref. Nothing in the copy is shared with src.
func CopySubtree(src *Tree, ref NodeRef) *Tree {
	dst := New()
	if src.valid(ref) {
		dst.copyFrom(NoNode, src, ref)
	}
	return dst
}
