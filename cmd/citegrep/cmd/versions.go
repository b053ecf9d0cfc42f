package cmd

import (
	"github.com/spf13/cobra"

	"github.com/citegrep/citegrep/internal/output"
)

// newVersionsCmd creates the versions command: list indexed builds.
func newVersionsCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "versions",
		Short: "List indexed versions and their builds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, cleanup, err := openService(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			infos, err := svc.ListVersions(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd, infos)
			}
			output.New(cmd.OutOrStdout()).Versions(infos)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output JSON")
	return cmd
}
