// Package identity issues local ids to tree nodes created before their first
// save.
//
// Local ids come from an IdentitySource in batches: one request per entity
// name per fill, never one per node, so the number of round trips grows with
// the number of record kinds in a tree rather than with its size.
package identity

import (
	"context"
	"fmt"

	"github.com/mesh-intelligence/batchtree/internal/log"
	"github.com/mesh-intelligence/batchtree/internal/tree"
	"github.com/mesh-intelligence/batchtree/pkg/types"
)

// Observer is told how many ids each entity batch received.
type Observer interface {
	IDsAllocated(entity string, n int)
}

// Allocator fills missing node ids from an IdentitySource.
type Allocator struct {
	source   types.IdentitySource
	observer Observer
}

// Option configures an Allocator.
type Option func(*Allocator)

// WithObserver reports allocations to o.
func WithObserver(o Observer) Option {
	return func(a *Allocator) { a.observer = o }
}

// NewAllocator returns an Allocator drawing ids from source.
func NewAllocator(source types.IdentitySource, opts ...Option) *Allocator {
	a := &Allocator{source: source}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// FillTree gives an id to every live node of t that has none, visiting
// nodes in depth-first order.
func (a *Allocator) FillTree(ctx context.Context, t *tree.Tree) error {
	var refs []tree.NodeRef
	t.Walk(func(ref tree.NodeRef, _ int) bool {
		refs = append(refs, ref)
		return true
	})
	return a.FillLocalIDs(ctx, t, refs)
}

// batch collects the nodes of one entity that need an id.
type batch struct {
	entity string
	refs   []tree.NodeRef
	ids    []types.ID
}

// FillLocalIDs gives an id to each node in refs that has none. Nodes are
// grouped by entity name and each group is requested from the source in a
// single call; ids are handed out in the order the nodes appear in refs.
//
// Nothing is assigned unless every group was served in full with strictly
// negative, strictly decreasing ids not already used in t. Otherwise an
// *types.AllocationError is returned and t is unchanged. Nodes that already
// carry an id are never touched, so a second call is a no-op.
func (a *Allocator) FillLocalIDs(ctx context.Context, t *tree.Tree, refs []tree.NodeRef) error {
	var batches []*batch
	byEntity := make(map[string]*batch)
	seen := make(map[tree.NodeRef]bool, len(refs))
	for _, ref := range refs {
		n := t.Node(ref)
		if n == nil {
			return fmt.Errorf("fill local ids: %w: %d", types.ErrInvalidNode, ref)
		}
		if n.HasID() || seen[ref] {
			continue
		}
		seen[ref] = true
		entity := n.Kind.EntityName()
		b, ok := byEntity[entity]
		if !ok {
			b = &batch{entity: entity}
			byEntity[entity] = b
			batches = append(batches, b)
		}
		b.refs = append(b.refs, ref)
	}
	if len(batches) == 0 {
		return nil
	}

	used := usedIDs(t)
	for _, b := range batches {
		ids, err := a.source.NextIDs(ctx, b.entity, len(b.refs))
		if err != nil {
			return &types.AllocationError{Entity: b.entity, Requested: len(b.refs), Received: len(ids), Err: err}
		}
		if err := validate(ids, len(b.refs), used); err != nil {
			return &types.AllocationError{Entity: b.entity, Requested: len(b.refs), Received: len(ids), Err: err}
		}
		b.ids = ids
	}

	for _, b := range batches {
		for i, ref := range b.refs {
			if err := t.AssignID(ref, b.ids[i]); err != nil {
				return fmt.Errorf("fill local ids: %w", err)
			}
		}
		if a.observer != nil {
			a.observer.IDsAllocated(b.entity, len(b.ids))
		}
		log.Debugw(ctx, "allocated local ids", "entity", b.entity, "count", len(b.ids), "first", b.ids[0])
	}
	return nil
}

func usedIDs(t *tree.Tree) map[types.ID]bool {
	used := make(map[types.ID]bool, t.Len())
	t.Walk(func(ref tree.NodeRef, _ int) bool {
		if n := t.Node(ref); n.ID != nil {
			used[*n.ID] = true
		}
		return true
	})
	return used
}

// validate checks one batch and records its ids in used.
func validate(ids []types.ID, want int, used map[types.ID]bool) error {
	if len(ids) != want {
		return fmt.Errorf("received %d ids, want %d", len(ids), want)
	}
	for i, id := range ids {
		if !id.IsLocal() {
			return fmt.Errorf("id %d is not a local id", id)
		}
		if i > 0 && id >= ids[i-1] {
			return fmt.Errorf("id %d does not decrease from %d", id, ids[i-1])
		}
		if used[id] {
			return fmt.Errorf("id %d is already in use", id)
		}
	}
	for _, id := range ids {
		used[id] = true
	}
	return nil
}
