package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/batchtree/internal/paths"
	"github.com/mesh-intelligence/batchtree/pkg/types"
)

func newInitCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config and prepare the backend",
		Long: "init writes config.yaml to the config directory unless one exists, then\n" +
			"opens the configured backend once so its schema and data files are created.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			written, err := writeConfigIfMissing(a.resolvedConfigDir, configFile{
				Backend:  a.config.Backend,
				DataDir:  a.config.DataDir,
				DSN:      a.config.DSN,
				LogLevel: a.config.LogLevel,
			})
			if err != nil {
				return sysError("%w", err)
			}
			if err := a.withStore(cmd.Context(), func(store) error { return nil }); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if written {
				fmt.Fprintln(out, "Wrote", paths.ConfigFile(a.resolvedConfigDir))
			}
			fmt.Fprintf(out, "Initialized %s backend", a.config.Backend)
			if a.config.Backend == types.BackendSQLite {
				fmt.Fprintf(out, " in %s", a.config.DataDir)
			}
			fmt.Fprintln(out)
			return nil
		},
	}
}
