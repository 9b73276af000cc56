package cli

import (
	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/batchtree/internal/aggregate"
)

func newRecomputeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "recompute <file|->",
		Short: "Recompute the derived counts of a nested tree document",
		Long: "recompute fills in the individual counts of every inner node and writes\n" +
			"the document back to stdout. Nothing is stored.",
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

			calc := aggregate.NewCalculator(aggregate.WithObserver(a.metrics))
			report := calc.RecomputeAll(cmd.Context(), t)
			printWarnings(cmd.ErrOrStderr(), report.Warnings)
			return writeJSON(cmd.OutOrStdout(), encodeNested(t))
		},
	}
}
