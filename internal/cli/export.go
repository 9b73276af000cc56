package cli

import (
	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/batchtree/pkg/types"
)

func newExportCmd(a *app) *cobra.Command {
	var nested bool
	cmd := &cobra.Command{
		Use:   "export [rootID]",
		Short: "Write stored records as JSON lines, or as a nested document",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(cmd.Context(), func(s store) error {
				records, err := fetchRecords(cmd, s, args)
				if err != nil {
					return err
				}
				if nested {
					res, err := a.newSession(s).Load(cmd.Context(), records)
					if err != nil {
						return sysError("export: %w", err)
					}
					printOrphans(cmd.ErrOrStderr(), res.Orphans)
					return writeJSON(cmd.OutOrStdout(), encodeNested(res.Tree))
				}

				enc := json.NewEncoder(cmd.OutOrStdout())
				for _, r := range records {
					if err := enc.Encode(r); err != nil {
						return sysError("export: %w", err)
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&nested, "nested", false, "write a nested tree document instead of flat records")
	return cmd
}

// fetchRecords returns the tree under args[0], or every record when no id
// is given. A fetched root loses its parent reference.
func fetchRecords(cmd *cobra.Command, s store, args []string) ([]types.FlatRecord, error) {
	if len(args) == 0 {
		records, err := s.All(cmd.Context())
		if err != nil {
			return nil, storeError("list records", err)
		}
		return records, nil
	}
	id, err := parseID(args[0])
	if err != nil {
		return nil, err
	}
	records, err := s.FetchTree(cmd.Context(), id)
	if err != nil {
		return nil, storeError("fetch tree", err)
	}
	for i := range records {
		if records[i].ID == id {
			records[i].ParentID = nil
		}
	}
	return records, nil
}
