package cmd

import (
	"encoding/json"
	"strings"

	"github.com/spf13/cobra"

	"github.com/citegrep/citegrep/internal/errors"
	"github.com/citegrep/citegrep/internal/output"
	"github.com/citegrep/citegrep/internal/search"
	"github.com/citegrep/citegrep/internal/service"
)

// newQueryCmd creates the query command: ranked candidates for one or
// several versions. With multiple refs the result lists stay separate
// per version.
func newQueryCmd() *cobra.Command {
	var refs []string
	var buildID string
	var mode string
	var k int
	var exact bool
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "query <terms...>",
		Short: "Retrieve ranked, version-pinned candidates for a query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(refs) == 0 && buildID == "" {
				return errors.New(errors.KindValidation, "at least one --ref (or --build) is required")
			}
			query := strings.Join(args, " ")

			svc, cleanup, err := openService(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			out := output.New(cmd.OutOrStdout())

			if len(refs) > 1 {
				results, err := svc.QueryVersions(cmd.Context(), refs, query, search.Mode(mode), k)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(cmd, results)
				}
				out.VersionResults(results)
				return nil
			}

			req := &service.QueryRequest{
				BuildID: buildID,
				Query:   query,
				Mode:    search.Mode(mode),
				K:       k,
				Exact:   exact,
			}
			if len(refs) == 1 {
				req.RootRef = refs[0]
			}
			result, err := svc.Query(cmd.Context(), req)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd, result)
			}
			out.Candidates(result)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&refs, "ref", nil, "Version ref to query (repeatable for multi-version)")
	cmd.Flags().StringVar(&buildID, "build", "", "Query an explicit build instead of the current one")
	cmd.Flags().StringVar(&mode, "mode", "", "Query mode: lexical (default) or hybrid")
	cmd.Flags().IntVarP(&k, "limit", "k", 0, "Maximum candidates to return")
	cmd.Flags().BoolVar(&exact, "exact", false, "Exact nearest-neighbor search in hybrid mode")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output JSON")

	return cmd
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
