package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/batchtree/internal/tree"
	"github.com/mesh-intelligence/batchtree/pkg/types"
)

type importResult struct {
	SaveID   string                `json:"saveId"`
	Records  int                   `json:"records"`
	Promoted map[types.ID]types.ID `json:"promoted"`
	Roots    []types.ID            `json:"roots"`
	Warnings []string              `json:"warnings,omitempty"`
}

func newImportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file|->",
		Short: "Recompute, number and save a nested tree document",
		Long: "import reads one nested tree (or an array of them), recomputes the derived\n" +
			"counts, gives every new node a local id, and saves the flattened records.\n" +
			"The output lists the server ids of the saved roots.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := openInput(args[0], cmd.InOrStdin())
			if err != nil {
				return err
			}
			defer in.Close()
			t, err := decodeNested(in)
			if err != nil {
				return userError("%w", err)
			}

			return a.withStore(cmd.Context(), func(s store) error {
				res, err := a.newSession(s).Save(cmd.Context(), t)
				if err != nil {
					return sysError("import: %w", err)
				}
				printWarnings(cmd.ErrOrStderr(), res.Report.Warnings)

				out := importResult{
					SaveID:   res.SaveID,
					Records:  len(res.Records),
					Promoted: res.Promoted,
					Roots:    rootIDs(t),
				}
				for _, w := range res.Report.Warnings {
					out.Warnings = append(out.Warnings, w.Error())
				}
				if a.jsonMode {
					return writeJSON(cmd.OutOrStdout(), out)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Saved %d records (%d new ids)\n", out.Records, len(out.Promoted))
				for _, id := range out.Roots {
					fmt.Fprintln(cmd.OutOrStdout(), "root", id)
				}
				return nil
			})
		},
	}
}

func rootIDs(t *tree.Tree) []types.ID {
	var ids []types.ID
	for _, r := range t.Roots() {
		if n := t.Node(r); n.ID != nil {
			ids = append(ids, *n.ID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
