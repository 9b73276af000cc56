package tree

import (
	"sort"

	"github.com/mesh-intelligence/batchtree/pkg/types"
)

// Promote replaces local ids with the server ids in mapping. Children refer
// to their parent by arena index, so every parent id emitted by a later
// Flatten follows the promotion without further rewriting.
//
// The whole mapping is checked before any id changes: a source that is not
// local, a target that is not a server id, a target already carried by
// another node, or a target shared by two sources returns an
// *types.PromotionConflictError and leaves the tree untouched. Local ids
// absent from the tree are ignored.
func Promote(t *Tree, mapping map[types.ID]types.ID) error {
	if len(mapping) == 0 {
		return nil
	}
	present := make(map[types.ID]NodeRef, t.Len())
	t.Walk(func(ref NodeRef, _ int) bool {
		if id := t.nodes[ref].ID; id != nil {
			present[*id] = ref
		}
		return true
	})

	if err := checkPromotion(mapping, func(id types.ID) bool {
		_, ok := present[id]
		return ok
	}); err != nil {
		return err
	}

	for local, server := range mapping {
		if ref, ok := present[local]; ok {
			t.nodes[ref].ID = types.IDPtr(server)
		}
	}
	return nil
}

// PromoteRecords applies mapping to a flat slice, rewriting ids and parent
// ids, and returns the result as a new slice. records is not modified. The
// checks match Promote.
func PromoteRecords(records []types.FlatRecord, mapping map[types.ID]types.ID) ([]types.FlatRecord, error) {
	present := make(map[types.ID]bool, len(records))
	for _, r := range records {
		present[r.ID] = true
	}
	if err := checkPromotion(mapping, func(id types.ID) bool {
		return present[id]
	}); err != nil {
		return nil, err
	}

	out := make([]types.FlatRecord, len(records))
	for i, r := range records {
		c := r.Clone()
		if server, ok := mapping[c.ID]; ok {
			c.ID = server
		}
		if c.ParentID != nil {
			if server, ok := mapping[*c.ParentID]; ok {
				c.ParentID = types.IDPtr(server)
			}
		}
		out[i] = c
	}
	return out, nil
}

// checkPromotion validates mapping against the ids currently present.
func checkPromotion(mapping map[types.ID]types.ID, isPresent func(types.ID) bool) error {
	locals := make([]types.ID, 0, len(mapping))
	for l := range mapping {
		locals = append(locals, l)
	}
	sort.Slice(locals, func(i, j int) bool { return locals[i] > locals[j] })

	claimed := make(map[types.ID]types.ID, len(mapping))
	for _, local := range locals {
		server := mapping[local]
		if !local.IsLocal() {
			return &types.PromotionConflictError{Local: local, Server: server, Reason: "source is not a local id"}
		}
		if !server.IsServer() {
			return &types.PromotionConflictError{Local: local, Server: server, Reason: "target is not a server id"}
		}
		if other, ok := claimed[server]; ok {
			return &types.PromotionConflictError{Local: local, Server: server, Reason: "target already claimed by " + other.String()}
		}
		claimed[server] = local
		if isPresent(server) {
			return &types.PromotionConflictError{Local: local, Server: server, Reason: "target id already present"}
		}
	}
	return nil
}
