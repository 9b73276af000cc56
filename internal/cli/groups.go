package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/batchtree/internal/aggregate"
	"github.com/mesh-intelligence/batchtree/internal/group"
	"github.com/mesh-intelligence/batchtree/internal/tree"
	"github.com/mesh-intelligence/batchtree/pkg/types"
)

type groupSummary struct {
	TaxonGroup string `json:"taxonGroup"`
	RankOrder  int    `json:"rankOrder"`
	Count      *int64 `json:"count"`
	Landing    *int64 `json:"landing,omitempty"`
	Discard    *int64 `json:"discard,omitempty"`
	Individual int    `json:"individuals"`
}

func newGroupsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "groups <catchRootID>",
		Short: "Summarize the species groups under a catch batch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return a.withStore(cmd.Context(), func(s store) error {
				res, err := a.newSession(s).LoadTree(cmd.Context(), id)
				if err != nil {
					return storeError("load catch", err)
				}
				catch := res.Tree.Find(id)
				if catch == tree.NoNode {
					return sysError("load catch: %w: %d", types.ErrNotFound, id)
				}

				calc := aggregate.NewCalculator(aggregate.WithObserver(a.metrics))
				var summaries []groupSummary
				for _, g := range group.Project(res.Tree, catch) {
					report, err := calc.Recompute(cmd.Context(), g.Tree, g.Head())
					if err != nil {
						return sysError("recompute group %q: %w", g.TaxonGroup, err)
					}
					printWarnings(cmd.ErrOrStderr(), report.Warnings)
					summaries = append(summaries, summarize(g))
				}

				if a.jsonMode {
					return writeJSON(cmd.OutOrStdout(), summaries)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%-5s %-12s %8s %8s %8s %6s\n", "RANK", "GROUP", "COUNT", "LANDING", "DISCARD", "INDIV")
				for _, row := range summaries {
					fmt.Fprintf(out, "%-5d %-12s %8s %8s %8s %6d\n",
						row.RankOrder, row.TaxonGroup, countText(row.Count), countText(row.Landing), countText(row.Discard), row.Individual)
				}
				return nil
			})
		},
	}
}

func summarize(g group.Group) groupSummary {
	return groupSummary{
		TaxonGroup: g.TaxonGroup,
		RankOrder:  g.RankOrder,
		Count:      countAt(g.Tree, g.Head()),
		Landing:    countAt(g.Tree, g.Landing()),
		Discard:    countAt(g.Tree, g.Discard()),
		Individual: len(g.Individuals()),
	}
}

func countAt(t *tree.Tree, ref tree.NodeRef) *int64 {
	if ref == tree.NoNode {
		return nil
	}
	return t.Node(ref).IndividualCount
}

func countText(c *int64) string {
	if c == nil {
		return "-"
	}
	return fmt.Sprint(*c)
}
