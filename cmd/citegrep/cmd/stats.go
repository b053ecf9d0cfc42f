package cmd

import (
	"github.com/spf13/cobra"

	"github.com/citegrep/citegrep/internal/output"
)

// newStatsCmd creates the stats command: local query statistics.
func newStatsCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show local query statistics",
		Long: `Stats summarizes recorded queries: mode frequency, latency
histogram, and recent queries that matched nothing. Everything stays in
the data directory; nothing is reported anywhere.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rec, err := openStatsRecorder()
			if err != nil {
				return err
			}
			defer rec.Close()

			summary, err := rec.Summarize(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd, summary)
			}
			output.New(cmd.OutOrStdout()).Stats(summary)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output JSON")
	return cmd
}
