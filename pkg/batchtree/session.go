// Package batchtree ties the tree codec, identity allocation, aggregate
// recomputation and a persistence gateway into one save and load cycle.
//
// A save runs, in order: recompute derived counts, give every new node a
// local id, flatten, hand the records to the gateway, and promote the local
// ids the gateway replaced. The tree is promoted only after the gateway
// succeeded; on any error it keeps its local ids and can be saved again.
package batchtree

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/mesh-intelligence/batchtree/internal/aggregate"
	"github.com/mesh-intelligence/batchtree/internal/identity"
	"github.com/mesh-intelligence/batchtree/internal/log"
	"github.com/mesh-intelligence/batchtree/internal/metrics"
	"github.com/mesh-intelligence/batchtree/internal/tree"
	"github.com/mesh-intelligence/batchtree/pkg/types"
)

// ErrNoFetch is returned by LoadTree when the gateway cannot read records
// back.
var ErrNoFetch = errors.New("gateway does not support fetching trees")

// Session saves and loads trees through one gateway.
type Session struct {
	id        string
	gateway   types.PersistenceGateway
	allocator *identity.Allocator
	calc      *aggregate.Calculator
	metrics   *metrics.Metrics
}

// Option configures a Session.
type Option func(*sessionOptions)

type sessionOptions struct {
	metrics *metrics.Metrics
}

// WithMetrics counts session activity on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *sessionOptions) { o.metrics = m }
}

// NewSession returns a Session drawing local ids from source and saving
// through gateway.
func NewSession(source types.IdentitySource, gateway types.PersistenceGateway, opts ...Option) *Session {
	var o sessionOptions
	for _, opt := range opts {
		opt(&o)
	}
	s := &Session{
		id:      uuid.NewString(),
		gateway: gateway,
		metrics: o.metrics,
	}
	if o.metrics != nil {
		s.allocator = identity.NewAllocator(source, identity.WithObserver(o.metrics))
		s.calc = aggregate.NewCalculator(aggregate.WithObserver(o.metrics))
	} else {
		s.allocator = identity.NewAllocator(source)
		s.calc = aggregate.NewCalculator()
	}
	return s
}

// ID identifies the session in logs.
func (s *Session) ID() string { return s.id }

// SaveResult describes one successful save.
type SaveResult struct {
	SaveID   string
	Records  []types.FlatRecord
	Promoted map[types.ID]types.ID
	Report   aggregate.Report
}

// Save recomputes, fills ids, and stores every tree of t, then promotes the
// local ids the gateway replaced. Nodes created since the last save keep
// the local ids they were given here if the save fails.
func (s *Session) Save(ctx context.Context, t *tree.Tree) (SaveResult, error) {
	res := SaveResult{SaveID: uuid.NewString()}
	ctx = log.AddTags(ctx, "session", s.id, "save", res.SaveID)
	if err := ctx.Err(); err != nil {
		return res, err
	}

	res.Report = s.calc.RecomputeAll(ctx, t)
	if err := s.allocator.FillTree(ctx, t); err != nil {
		return res, fmt.Errorf("allocating ids: %w", err)
	}
	sent, err := tree.Flatten(t)
	if err != nil {
		return res, err
	}

	var saved []types.FlatRecord
	func() {
		if s.metrics != nil {
			defer s.metrics.SaveTimer().ObserveDuration()
		}
		saved, err = s.gateway.Save(ctx, sent)
	}()
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		if s.metrics != nil {
			s.metrics.SaveFailed()
		}
		log.Warnw(ctx, "save failed, tree keeps local ids", "records", len(sent), "error", err)
		return res, fmt.Errorf("saving %d records: %w", len(sent), err)
	}

	mapping, err := types.PromotionMapping(sent, saved)
	if err != nil {
		return res, err
	}
	if err := tree.Promote(t, mapping); err != nil {
		return res, err
	}
	if s.metrics != nil {
		s.metrics.RecordsSaved(len(saved))
	}
	res.Records = saved
	res.Promoted = mapping
	log.Infow(ctx, "saved tree", "records", len(saved), "promoted", len(mapping),
		"warnings", len(res.Report.Warnings))
	return res, nil
}

// Load rebuilds a forest from records. Unplaceable records are returned in
// the result's Orphans, logged, and counted.
func (s *Session) Load(ctx context.Context, records []types.FlatRecord) (tree.Result, error) {
	ctx = log.AddTags(ctx, "session", s.id)
	res, err := tree.Reconstruct(records)
	if err != nil {
		return res, err
	}
	if n := len(res.Orphans); n > 0 {
		if s.metrics != nil {
			s.metrics.Orphans(n)
		}
		for _, o := range res.Orphans {
			var parent any
			if o.ParentID != nil {
				parent = int64(*o.ParentID)
			}
			log.Warnw(ctx, "orphan record", "id", int64(o.ID), "parent", parent, "label", o.Label)
		}
	}
	return res, nil
}

// LoadTree fetches the tree rooted at rootID from the gateway and rebuilds
// it. rootID becomes the root even if it has a parent in storage.
func (s *Session) LoadTree(ctx context.Context, rootID types.ID) (tree.Result, error) {
	store, ok := s.gateway.(types.RecordStore)
	if !ok {
		return tree.Result{}, ErrNoFetch
	}
	records, err := store.FetchTree(ctx, rootID)
	if err != nil {
		return tree.Result{}, err
	}
	for i := range records {
		if records[i].ID == rootID {
			records[i].ParentID = nil
		}
	}
	return s.Load(ctx, records)
}
