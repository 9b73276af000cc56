// Package aggregate recomputes derived individual counts over a tree in one
// bottom-up pass.
//
// Counting rules:
//   - a leaf contributes its entered count, or 1 when it is an individual
//     and 0 otherwise; leaves are never written;
//   - a plain node holds the sum of its children;
//   - a sampling node holds the sum of its children divided by its sampling
//     ratio, rounded half up. Rounding happens once per sampling node, and
//     ancestors add the rounded value. A ratio that cannot scale the sum
//     leaves it unscaled and is reported as a warning.
package aggregate

import (
	"context"
	"fmt"
	"math"
	"strconv"

	"github.com/mesh-intelligence/batchtree/internal/log"
	"github.com/mesh-intelligence/batchtree/internal/tree"
	"github.com/mesh-intelligence/batchtree/pkg/types"
)

// Report summarizes one pass.
type Report struct {
	Visited  int
	Warnings []*types.RoundingInconsistencyWarning
}

func (r *Report) merge(o Report) {
	r.Visited += o.Visited
	r.Warnings = append(r.Warnings, o.Warnings...)
}

// Observer is told about every rounding inconsistency found.
type Observer interface {
	RoundingWarning()
}

// Calculator runs aggregate passes.
type Calculator struct {
	observer Observer
}

// Option configures a Calculator.
type Option func(*Calculator)

// WithObserver reports warnings to o.
func WithObserver(o Observer) Option {
	return func(c *Calculator) { c.observer = o }
}

// NewCalculator returns a Calculator.
func NewCalculator(opts ...Option) *Calculator {
	c := &Calculator{}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Recompute runs a pass with a default Calculator.
func Recompute(ctx context.Context, t *tree.Tree, root tree.NodeRef) (Report, error) {
	return NewCalculator().Recompute(ctx, t, root)
}

// RecomputeAll runs a pass over every root with a default Calculator.
func RecomputeAll(ctx context.Context, t *tree.Tree) Report {
	return NewCalculator().RecomputeAll(ctx, t)
}

// RecomputeAll recomputes every tree of the forest.
func (c *Calculator) RecomputeAll(ctx context.Context, t *tree.Tree) Report {
	var rep Report
	for _, r := range t.Roots() {
		sub, _ := c.Recompute(ctx, t, r)
		rep.merge(sub)
	}
	return rep
}

// Recompute overwrites the derived count of every internal node under root,
// and the ratio text of every sampling node, visiting each node once.
func (c *Calculator) Recompute(ctx context.Context, t *tree.Tree, root tree.NodeRef) (Report, error) {
	if t.Node(root) == nil {
		return Report{}, fmt.Errorf("recompute: %w: %d", types.ErrInvalidNode, root)
	}
	var rep Report
	counts := make(map[tree.NodeRef]int64)
	t.PostOrder(root, func(ref tree.NodeRef) {
		rep.Visited++
		n := t.Node(ref)
		children := t.Children(ref)
		if len(children) == 0 {
			if sampling(n) {
				n.SamplingRatioText = ""
				if usableRatio(*n.SamplingRatio) {
					n.SamplingRatioText = ratioText(*n.SamplingRatio)
				}
			}
			counts[ref] = leafCount(n)
			return
		}

		var sum int64
		for _, ch := range children {
			sum += counts[ch]
			delete(counts, ch)
		}
		total := sum
		if sampling(n) {
			total = c.scale(ctx, &rep, n, sum)
		}
		n.IndividualCount = &total
		counts[ref] = total
	})
	return rep, nil
}

// sampling reports whether n scales its children. A node whose ratio was
// cleared behind the tree's back counts as plain.
func sampling(n *tree.Node) bool {
	return n.Role() == tree.RoleSampling && n.SamplingRatio != nil
}

func usableRatio(ratio float64) bool {
	return ratio > 0 && !math.IsInf(ratio, 1)
}

// scale returns sum divided by n's ratio and refreshes n's ratio text. A
// ratio that is not positive, or that scales sum out of the int64 range,
// yields a warning and the unscaled sum, and clears the text.
func (c *Calculator) scale(ctx context.Context, rep *Report, n *tree.Node, sum int64) int64 {
	ratio := *n.SamplingRatio
	if usableRatio(ratio) {
		if total, ok := roundHalfUp(float64(sum) / ratio); ok {
			n.SamplingRatioText = ratioText(ratio)
			return total
		}
	}
	n.SamplingRatioText = ""
	w := &types.RoundingInconsistencyWarning{Label: n.Label, Ratio: ratio}
	rep.Warnings = append(rep.Warnings, w)
	if c.observer != nil {
		c.observer.RoundingWarning()
	}
	log.Warnw(ctx, "sampling ratio cannot scale count, count left unscaled",
		"label", n.Label, "ratio", ratio, "sampled", sum)
	return sum
}

func leafCount(n *tree.Node) int64 {
	if n.IndividualCount != nil {
		return *n.IndividualCount
	}
	if n.Role() == tree.RoleIndividual {
		return 1
	}
	return 0
}

// roundHalfUp reports false when x does not round to an int64.
func roundHalfUp(x float64) (int64, bool) {
	r := math.Floor(x + 0.5)
	if math.IsNaN(r) || r >= math.MaxInt64 || r < math.MinInt64 {
		return 0, false
	}
	return int64(r), true
}

// ratioText renders a ratio as a percentage with at most four decimals.
func ratioText(ratio float64) string {
	pct := math.Round(ratio*100*1e4) / 1e4
	return strconv.FormatFloat(pct, 'f', -1, 64) + "%"
}
