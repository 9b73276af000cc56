package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/batchtree/internal/tree"
)

func newShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show [rootID]",
		Short: "Print a stored tree, or every stored tree",
		Long: "show rebuilds stored records into trees and prints them indented by depth.\n" +
			"Records whose parent cannot be found are reported on stderr.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(cmd.Context(), func(s store) error {
				records, err := fetchRecords(cmd, s, args)
				if err != nil {
					return err
				}
				res, err := a.newSession(s).Load(cmd.Context(), records)
				if err != nil {
					return sysError("show: %w", err)
				}
				printOrphans(cmd.ErrOrStderr(), res.Orphans)
				if a.jsonMode {
					return writeJSON(cmd.OutOrStdout(), encodeNested(res.Tree))
				}
				printTree(cmd.OutOrStdout(), res.Tree)
				return nil
			})
		},
	}
}

func printTree(w io.Writer, t *tree.Tree) {
	t.Walk(func(ref tree.NodeRef, depth int) bool {
		fmt.Fprintf(w, "%s%s\n", strings.Repeat("  ", depth), describeNode(t.Node(ref)))
		return true
	})
}

// describeNode renders a node as "label [id] kind count=N ratio=R".
func describeNode(n *tree.Node) string {
	var b strings.Builder
	b.WriteString(n.Label)
	if n.ID != nil {
		fmt.Fprintf(&b, " [%d]", *n.ID)
	}
	if n.Kind != "" {
		fmt.Fprintf(&b, " %s", n.Kind)
	}
	if n.IndividualCount != nil {
		fmt.Fprintf(&b, " count=%d", *n.IndividualCount)
	}
	switch {
	case n.SamplingRatioText != "":
		fmt.Fprintf(&b, " ratio=%s", n.SamplingRatioText)
	case n.SamplingRatio != nil:
		fmt.Fprintf(&b, " ratio=%g", *n.SamplingRatio)
	}
	return b.String()
}
