package batchtree

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/mesh-intelligence/batchtree/internal/identity"
	"github.com/mesh-intelligence/batchtree/internal/recordsql"
	"github.com/mesh-intelligence/batchtree/pkg/types"
)

var (
	_ types.RecordStore    = (*MemoryStore)(nil)
	_ types.IdentitySource = (*MemoryStore)(nil)
)

// MemoryStore is an in-process record store and identity source. Nothing
// survives the process.
type MemoryStore struct {
	*identity.MemorySource

	mu      sync.Mutex
	records map[types.ID]types.FlatRecord
	next    types.ID
}

// NewMemoryStore returns an empty store whose first server id is 0.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		MemorySource: identity.NewMemorySource(),
		records:      make(map[types.ID]types.FlatRecord),
	}
}

// Save stores records all-or-nothing and returns them with server ids.
func (m *MemoryStore) Save(ctx context.Context, records []types.FlatRecord) ([]types.FlatRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	next := m.next
	gen := func() (types.ID, error) {
		id := next
		next++
		return id, nil
	}
	assigned := make(map[types.ID]types.ID)
	out := make([]types.FlatRecord, len(records))
	for i, rec := range records {
		r, err := recordsql.Remap(rec, assigned, gen)
		if err != nil {
			return nil, err
		}
		out[i] = r
	}
	for _, r := range out {
		m.records[r.ID] = r.Clone()
	}
	m.next = max(m.next, next)
	for _, r := range out {
		m.next = max(m.next, r.ID+1)
	}
	return out, nil
}

// FetchTree returns the record with rootID first, then its descendants
// level by level in rank order.
func (m *MemoryStore) FetchTree(ctx context.Context, rootID types.ID) ([]types.FlatRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	root, ok := m.records[rootID]
	if !ok {
		return nil, fmt.Errorf("fetch tree %d: %w", rootID, types.ErrNotFound)
	}
	children := make(map[types.ID][]types.FlatRecord)
	for _, r := range m.records {
		if r.ParentID != nil {
			children[*r.ParentID] = append(children[*r.ParentID], r)
		}
	}

	out := []types.FlatRecord{root.Clone()}
	seen := map[types.ID]bool{rootID: true}
	for i := 0; i < len(out); i++ {
		kids := children[out[i].ID]
		sort.Slice(kids, func(a, b int) bool { return kids[a].RankOrder < kids[b].RankOrder })
		for _, k := range kids {
			if seen[k.ID] {
				continue
			}
			seen[k.ID] = true
			out = append(out, k.Clone())
		}
	}
	return out, nil
}

// All returns every record ordered by id.
func (m *MemoryStore) All(ctx context.Context) ([]types.FlatRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]types.FlatRecord, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, r.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
