package cmd

import (
	"github.com/spf13/cobra"

	"github.com/citegrep/citegrep/internal/embed"
	"github.com/citegrep/citegrep/internal/errors"
	"github.com/citegrep/citegrep/internal/preflight"
)

// newDoctorCmd creates the doctor command: environment checks for the
// data directory and the configured providers.
func newDoctorCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check the environment before indexing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			checkCfg := preflight.Config{
				DataDir:    cfg.DataDir,
				OllamaHost: cfg.Embeddings.OllamaHost,
			}
			if cfg.Embeddings.Provider == embed.ProviderOllama {
				checkCfg.EmbedModel = cfg.Embeddings.Model
			}
			if cfg.Answer.Summarize {
				checkCfg.SummarizerModel = cfg.Answer.SummarizerModel
			}

			results := preflight.New(checkCfg).RunAll(cmd.Context())
			if jsonOutput {
				if err := printJSON(cmd, results); err != nil {
					return err
				}
			} else {
				preflight.PrintResults(cmd.OutOrStdout(), results)
			}

			if preflight.HasCriticalFailures(results) {
				return errors.New(errors.KindInternal, "preflight checks failed")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output JSON")
	return cmd
}
