package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/batchtree/pkg/types"
)

// deleter is implemented by backends that can remove a stored subtree.
type deleter interface {
	Delete(ctx context.Context, id types.ID) (int, error)
}

func newDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a stored record and everything below it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return a.withStore(cmd.Context(), func(s store) error {
				d, ok := s.(deleter)
				if !ok {
					return userError("delete: %s backend does not support deletion", a.config.Backend)
				}
				n, err := d.Delete(cmd.Context(), id)
				if err != nil {
					return storeError("delete", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d records\n", n)
				return nil
			})
		},
	}
}
