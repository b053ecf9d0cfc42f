package cmd

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/citegrep/citegrep/internal/answer"
	"github.com/citegrep/citegrep/internal/errors"
	"github.com/citegrep/citegrep/internal/output"
	"github.com/citegrep/citegrep/internal/service"
)

// newAskCmd creates the ask command: an evidence-backed answer for a
// question against one version. Questions without supporting evidence
// are refused.
func newAskCmd() *cobra.Command {
	var rootRef string
	var buildID string
	var k int
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "ask <question...>",
		Short: "Answer a question with verbatim, line-anchored evidence",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if rootRef == "" && buildID == "" {
				return errors.New(errors.KindValidation, "--ref (or --build) is required")
			}

			svc, cleanup, err := openService(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			payload, err := svc.Ask(cmd.Context(), &service.AskRequest{
				RootRef:  rootRef,
				BuildID:  buildID,
				Question: strings.Join(args, " "),
				K:        k,
			})
			if err != nil {
				return err
			}

			if jsonOutput {
				if err := printJSON(cmd, payload); err != nil {
					return err
				}
			} else {
				output.New(cmd.OutOrStdout()).Answer(payload)
			}

			// The refusal payload is rendered above; the exit code
			// still has to signal it so scripts can tell a refusal
			// from an answered question.
			if payload.State == answer.StateRefused {
				return errors.New(errors.KindNoEvidence, "no supporting evidence for this question")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&rootRef, "ref", "", "Version ref to ask against")
	cmd.Flags().StringVar(&buildID, "build", "", "Ask against an explicit build")
	cmd.Flags().IntVarP(&k, "limit", "k", 0, "Maximum candidates to retrieve")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output JSON")

	return cmd
}
