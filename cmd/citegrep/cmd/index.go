package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/citegrep/citegrep/internal/embed"
	"github.com/citegrep/citegrep/internal/errors"
	"github.com/citegrep/citegrep/internal/index"
	"github.com/citegrep/citegrep/internal/ingest"
	"github.com/citegrep/citegrep/internal/output"
	"github.com/citegrep/citegrep/internal/profiling"
)

// newIndexCmd creates the index command: ingest a chunk record file and
// publish a new build for its version.
func newIndexCmd() *cobra.Command {
	var rootRef string
	var commit string
	var noEmbed bool
	var cpuProfile string
	var heapProfile string

	cmd := &cobra.Command{
		Use:   "index <chunks.jsonl>",
		Short: "Ingest chunk records and publish a new index build",
		Long: `Index reads newline-delimited JSON chunk records produced by the
parser toolchain, validates them, builds the lexical (and, when an
embedding provider is reachable, vector) indexes, and atomically
publishes the result as the current build for its version.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := output.New(cmd.OutOrStdout())

			profiler := profiling.New()
			if cpuProfile != "" {
				stop, err := profiler.StartCPU(cpuProfile)
				if err != nil {
					return err
				}
				defer stop()
			}
			if heapProfile != "" {
				defer func() {
					if err := profiler.WriteHeap(heapProfile); err != nil {
						slog.Warn("heap profile failed", slog.String("error", err.Error()))
					}
				}()
			}

			chunks, err := ingest.ReadChunksFile(args[0])
			if err != nil {
				return err
			}
			if len(chunks) == 0 {
				return errors.New(errors.KindValidation, "no chunk records in input")
			}

			// Ref and commit default to the first record's provenance.
			if rootRef == "" {
				rootRef = chunks[0].RootRef
			}
			if commit == "" {
				commit = chunks[0].ResolvedCommit
			}

			chunkStore, err := openChunkStore()
			if err != nil {
				return err
			}
			defer chunkStore.Close()

			var embedder embed.Embedder
			if !noEmbed {
				embedder, err = newEmbedder(ctx)
				if err != nil {
					return err
				}
				if embedder != nil {
					defer embedder.Close()
				}
			}

			builder, err := index.NewBuilder(chunkStore, embedder, cfg.BuilderConfig())
			if err != nil {
				return err
			}

			build, err := builder.Build(ctx, rootRef, commit, chunks)
			if err != nil {
				return err
			}

			out.Statusf("published %s (%d chunks, build %s)",
				build.CorpusID(), build.ChunkCount, build.BuildID)
			if build.HasVector {
				out.Statusf("vector index: %s", build.EmbedModel)
			} else {
				out.Status(build.VectorNote)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&rootRef, "ref", "", "Version ref being indexed (default: from records)")
	cmd.Flags().StringVar(&commit, "commit", "", "Resolved commit hash (default: from records)")
	cmd.Flags().BoolVar(&noEmbed, "no-embed", false, "Skip the vector index, build lexical-only")
	cmd.Flags().StringVar(&cpuProfile, "cpu-profile", "", "Write a CPU profile of the build to this file")
	cmd.Flags().StringVar(&heapProfile, "heap-profile", "", "Write a heap profile after the build to this file")
	_ = cmd.Flags().MarkHidden("cpu-profile")
	_ = cmd.Flags().MarkHidden("heap-profile")

	return cmd
}
