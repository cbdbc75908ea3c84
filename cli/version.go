package cli

import (
	"fmt"

	"github.com/Oudwins/clawd/internals/core"
	"github.com/Oudwins/clawd/internals/version"
	"github.com/spf13/cobra"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), version.Version())
			return err
		},
	}
}

func newDBCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "db-check",
		Short: "Open the task store, apply migrations and report the schema version",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBase(cmd, nil, func(base *core.BaseServer) error {
				ctx := cmd.Context()
				if err := base.Store.Ping(ctx); err != nil {
					return err
				}
				schemaVersion, err := base.Store.SchemaVersion(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "store: %s\n", base.Config.Store.Path)
				fmt.Fprintf(out, "schema version: %d\n", schemaVersion)
				return nil
			})
		},
	}
}
