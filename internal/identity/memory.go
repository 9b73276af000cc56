package identity

import (
	"context"
	"fmt"
	"sync"

	"github.com/mesh-intelligence/batchtree/pkg/types"
)

// Compile-time interface check.
var _ types.IdentitySource = (*MemorySource)(nil)

// MemorySource is a process-local IdentitySource. Every entity draws from
// one shared countdown, since parent references carry no kind and local
// ids must not repeat across entities. A request reserves its whole range
// under one lock.
type MemorySource struct {
	mu     sync.Mutex
	next   types.ID
	issued map[string]types.ID
}

// NewMemorySource returns a source whose first id is -1.
func NewMemorySource() *MemorySource {
	return &MemorySource{next: -1, issued: make(map[string]types.ID)}
}

// NextIDs returns count ids for entityName, each one lower than the last id
// handed to any entity.
func (s *MemorySource) NextIDs(ctx context.Context, entityName string, count int) ([]types.ID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if count <= 0 {
		return nil, fmt.Errorf("count must be positive, got %d", count)
	}
	if entityName == "" {
		return nil, fmt.Errorf("entity name must not be empty")
	}

	s.mu.Lock()
	start := s.next
	s.next -= types.ID(count)
	s.issued[entityName] = s.next + 1
	s.mu.Unlock()

	ids := make([]types.ID, count)
	for i := range ids {
		ids[i] = start - types.ID(i)
	}
	return ids, nil
}

// Last returns the most recent id issued for entityName, or 0 if none.
func (s *MemorySource) Last(entityName string) types.ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.issued[entityName]
}
