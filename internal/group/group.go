// Package group projects the species groups under a catch batch into
// isolated trees and merges edited groups back.
package group

import (
	"context"
	"fmt"

	"github.com/mesh-intelligence/batchtree/internal/aggregate"
	"github.com/mesh-intelligence/batchtree/internal/log"
	"github.com/mesh-intelligence/batchtree/internal/tree"
	"github.com/mesh-intelligence/batchtree/pkg/types"
)

// Group is a detached copy of one species subtree. Edits to Tree do not
// reach the source until MergeInto.
type Group struct {
	TaxonGroup string
	RankOrder  int
	Tree       *tree.Tree
}

// Head returns the group's root in Tree, or tree.NoNode when the group is
// malformed.
func (g Group) Head() tree.NodeRef {
	roots := g.Tree.Roots()
	if len(roots) != 1 {
		return tree.NoNode
	}
	return roots[0]
}

// Landing returns the first landing fraction under the head.
func (g Group) Landing() tree.NodeRef {
	return g.firstFraction(tree.FractionLanding)
}

// Discard returns the first discard fraction under the head.
func (g Group) Discard() tree.NodeRef {
	return g.firstFraction(tree.FractionDiscard)
}

func (g Group) firstFraction(f tree.Fraction) tree.NodeRef {
	found := tree.NoNode
	head := g.Head()
	if head == tree.NoNode {
		return found
	}
	g.Tree.WalkFrom(head, func(ref tree.NodeRef, _ int) bool {
		if found != tree.NoNode {
			return false
		}
		if ref != head && g.Tree.Node(ref).Fraction() == f {
			found = ref
			return false
		}
		return true
	})
	return found
}

// Individuals lists the individual nodes of the group in pre-order.
func (g Group) Individuals() []tree.NodeRef {
	var out []tree.NodeRef
	head := g.Head()
	if head == tree.NoNode {
		return nil
	}
	g.Tree.WalkFrom(head, func(ref tree.NodeRef, _ int) bool {
		if g.Tree.Node(ref).Role() == tree.RoleIndividual {
			out = append(out, ref)
		}
		return true
	})
	return out
}

// Project returns one Group per direct child of catchRoot that carries a
// taxon group, in rank order.
func Project(t *tree.Tree, catchRoot tree.NodeRef) []Group {
	var out []Group
	for _, ref := range t.Children(catchRoot) {
		n := t.Node(ref)
		if n.TaxonGroup == "" {
			continue
		}
		out = append(out, Group{
			TaxonGroup: n.TaxonGroup,
			RankOrder:  n.RankOrder,
			Tree:       tree.CopySubtree(t, ref),
		})
	}
	return out
}

type mergeStep struct {
	group   Group
	head    *tree.Node
	replace tree.NodeRef
	rank    int
}

// MergeInto writes groups back under catchRoot. A child matching a group
// head, by id or else by taxon group, is replaced by the group's subtree;
// groups without a match are appended. Other children are left alone. The
// merged subtree is then recomputed from catchRoot.
//
// Every group is checked before t is touched: a group whose tree does not
// have exactly one root, or that carries an id another group or a kept node
// of t already uses, returns ErrInvalidGroup, and a head rank that would
// clash with a remaining sibling returns ErrDuplicateRankOrder.
func MergeInto(ctx context.Context, t *tree.Tree, catchRoot tree.NodeRef, groups []Group) (aggregate.Report, error) {
	if t.Node(catchRoot) == nil {
		return aggregate.Report{}, fmt.Errorf("merge: %w: %d", types.ErrInvalidNode, catchRoot)
	}

	children := t.Children(catchRoot)
	taken := make(map[tree.NodeRef]bool)
	steps := make([]mergeStep, 0, len(groups))
	for i, g := range groups {
		if g.Tree == nil || len(g.Tree.Roots()) != 1 {
			return aggregate.Report{}, fmt.Errorf("merge group %d (%s): %w", i, g.TaxonGroup, types.ErrInvalidGroup)
		}
		head := g.Tree.Node(g.Head())
		step := mergeStep{group: g, head: head, replace: tree.NoNode, rank: head.RankOrder}
		for _, c := range children {
			if !taken[c] && matches(t.Node(c), head) {
				step.replace = c
				taken[c] = true
				break
			}
		}
		steps = append(steps, step)
	}
	if err := checkGroupIDs(t, taken, steps); err != nil {
		return aggregate.Report{}, err
	}

	ranks := make(map[int]bool)
	maxRank := 0
	for _, c := range children {
		r := t.Node(c).RankOrder
		maxRank = max(maxRank, r)
		if !taken[c] {
			ranks[r] = true
		}
	}
	for i := range steps {
		if steps[i].replace == tree.NoNode {
			continue
		}
		if ranks[steps[i].rank] {
			return aggregate.Report{}, fmt.Errorf("merge group %s: %w: rank %d", steps[i].group.TaxonGroup, types.ErrDuplicateRankOrder, steps[i].rank)
		}
		ranks[steps[i].rank] = true
		maxRank = max(maxRank, steps[i].rank)
	}
	for i := range steps {
		if steps[i].replace != tree.NoNode {
			continue
		}
		if steps[i].rank <= 0 || ranks[steps[i].rank] {
			maxRank++
			steps[i].rank = maxRank
		}
		ranks[steps[i].rank] = true
		maxRank = max(maxRank, steps[i].rank)
	}

	for _, s := range steps {
		if s.replace != tree.NoNode {
			if err := t.Detach(s.replace); err != nil {
				return aggregate.Report{}, err
			}
		}
	}
	for _, s := range steps {
		src := s.group.Tree
		if s.rank != s.head.RankOrder {
			src = tree.CopySubtree(src, s.group.Head())
			src.Node(src.Roots()[0]).RankOrder = s.rank
		}
		if _, err := t.Graft(catchRoot, src, src.Roots()[0]); err != nil {
			return aggregate.Report{}, err
		}
		log.Debugw(ctx, "merged group", "taxon_group", s.group.TaxonGroup, "rank", s.rank, "replaced", s.replace != tree.NoNode)
	}
	return aggregate.Recompute(ctx, t, catchRoot)
}

// checkGroupIDs rejects an id repeated across groups, or one used in t
// outside the children the groups replace.
func checkGroupIDs(t *tree.Tree, replaced map[tree.NodeRef]bool, steps []mergeStep) error {
	kept := make(map[types.ID]bool)
	t.Walk(func(ref tree.NodeRef, _ int) bool {
		if replaced[ref] {
			return false
		}
		if n := t.Node(ref); n.ID != nil {
			kept[*n.ID] = true
		}
		return true
	})

	seen := make(map[types.ID]bool)
	for _, s := range steps {
		var err error
		s.group.Tree.Walk(func(ref tree.NodeRef, _ int) bool {
			n := s.group.Tree.Node(ref)
			if err != nil || n.ID == nil {
				return err == nil
			}
			switch id := *n.ID; {
			case kept[id]:
				err = fmt.Errorf("merge group %s: %w: id %d is already in the tree", s.group.TaxonGroup, types.ErrInvalidGroup, id)
			case seen[id]:
				err = fmt.Errorf("merge group %s: %w: id %d appears in another group", s.group.TaxonGroup, types.ErrInvalidGroup, id)
			default:
				seen[id] = true
			}
			return err == nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func matches(child, head *tree.Node) bool {
	if head.ID != nil {
		return child.ID != nil && *child.ID == *head.ID
	}
	return head.TaxonGroup != "" && child.TaxonGroup == head.TaxonGroup
}
