package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/citegrep/citegrep/configs"
	"github.com/citegrep/citegrep/internal/config"
	"github.com/citegrep/citegrep/internal/errors"
	"github.com/citegrep/citegrep/internal/output"
)

// newInitCmd creates the init command: write an annotated .citegrep.yaml
// into the current directory.
func newInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write an annotated .citegrep.yaml to the current directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := output.New(cmd.OutOrStdout())

			if _, err := os.Stat(config.ConfigFileName); err == nil && !force {
				return errors.Newf(errors.KindValidation,
					"%s already exists (use --force to overwrite)", config.ConfigFileName)
			}
			if err := os.WriteFile(config.ConfigFileName, []byte(configs.ProjectConfigTemplate), 0o644); err != nil {
				return errors.Wrap(errors.KindInternal, "write config file", err)
			}

			out.Statusf("wrote %s", config.ConfigFileName)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config file")
	return cmd
}
