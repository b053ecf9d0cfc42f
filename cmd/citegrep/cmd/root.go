// Package cmd provides the CLI commands for citegrep.
package cmd

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/citegrep/citegrep/internal/answer"
	"github.com/citegrep/citegrep/internal/config"
	"github.com/citegrep/citegrep/internal/embed"
	"github.com/citegrep/citegrep/internal/errors"
	"github.com/citegrep/citegrep/internal/logging"
	"github.com/citegrep/citegrep/internal/service"
	"github.com/citegrep/citegrep/internal/store"
	"github.com/citegrep/citegrep/internal/telemetry"
	"github.com/citegrep/citegrep/pkg/version"
)

// chunkDBName is the chunk store file inside the data directory.
const chunkDBName = "chunks.db"

// statsDBName is the query statistics file inside the data directory.
const statsDBName = "stats.db"

var (
	flagDataDir  string
	flagLogLevel string
	cfg          *config.Config
)

// NewRootCmd creates the root command for the citegrep CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "citegrep",
		Short: "Version-partitioned retrieval over large C/C++ codebases",
		Long: `citegrep answers technical questions about a large codebase with
verbatim, line-anchored evidence. Every chunk is pinned to an exact
revision; queries never mix versions, and answers without supporting
evidence are refused instead of guessed.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			loaded, err := config.Load(".")
			if err != nil {
				return errors.Wrap(errors.KindValidation, "load configuration", err)
			}
			if flagDataDir != "" {
				loaded.DataDir = flagDataDir
			}
			if flagLogLevel != "" {
				loaded.LogLevel = flagLogLevel
			}
			cfg = loaded
			logging.Setup(logging.Config{Level: cfg.LogLevel})
			return nil
		},
	}

	cmd.SetVersionTemplate("citegrep version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&flagDataDir, "data-dir", "", "Data directory (default ~/.citegrep)")
	cmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level: debug, info, warn, error")

	cmd.AddCommand(newInitCmd())
	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newQueryCmd())
	cmd.AddCommand(newAskCmd())
	cmd.AddCommand(newVersionsCmd())
	cmd.AddCommand(newDoctorCmd())
	cmd.AddCommand(newStatsCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command and returns the process exit code,
// mapped from the error kind.
func Execute() int {
	cmd := NewRootCmd()
	if err := cmd.Execute(); err != nil {
		cmd.PrintErrln("citegrep:", err.Error())
		return exitCode(err)
	}
	return 0
}

// exitCode maps an error kind to a distinct exit code, so scripts can
// tell a missing version from a missing index or a refusal.
func exitCode(err error) int {
	switch errors.KindOf(err) {
	case "":
		return 0
	case errors.KindValidation:
		return 2
	case errors.KindVersionNotFound:
		return 3
	case errors.KindIndexNotFound:
		return 4
	case errors.KindNoEvidence:
		return 5
	case errors.KindInsufficientEvidence:
		return 6
	case errors.KindProviderUnavailable:
		return 7
	case errors.KindChunkIntegrityConflict:
		return 8
	default:
		return 1
	}
}

// openChunkStore opens the shared chunk store, creating the data
// directory on first use.
func openChunkStore() (*store.SQLiteChunkStore, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, errors.Wrap(errors.KindInternal, "create data directory", err)
	}
	return store.OpenChunkStore(filepath.Join(cfg.DataDir, chunkDBName))
}

// newEmbedder builds the configured embedding provider. A nil return
// with nil error means semantic retrieval is disabled; an unreachable
// provider degrades to lexical-only instead of failing the command.
func newEmbedder(ctx context.Context) (embed.Embedder, error) {
	embedder, err := embed.NewEmbedder(ctx, cfg.ProviderConfig())
	if err != nil {
		if errors.IsKind(err, errors.KindProviderUnavailable) {
			slog.Warn("embedding provider unavailable, continuing lexical-only",
				slog.String("provider", cfg.Embeddings.Provider),
				slog.String("error", err.Error()))
			return nil, nil
		}
		return nil, err
	}
	return embedder, nil
}

// openStatsRecorder opens the query statistics store.
func openStatsRecorder() (*telemetry.Recorder, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, errors.Wrap(errors.KindInternal, "create data directory", err)
	}
	return telemetry.Open(filepath.Join(cfg.DataDir, statsDBName))
}

// newSummarizer builds the optional answer summarizer.
func newSummarizer() (answer.Summarizer, error) {
	if !cfg.Answer.Summarize {
		return nil, nil
	}
	timeout, err := cfg.SummarizerTimeout()
	if err != nil {
		return nil, errors.Wrap(errors.KindValidation, "summarizer timeout", err)
	}
	return answer.NewOllamaSummarizer(answer.SummarizerConfig{
		Host:    cfg.Embeddings.OllamaHost,
		Model:   cfg.Answer.SummarizerModel,
		Timeout: timeout,
	}), nil
}

// openService wires the chunk store, embedder and summarizer into a
// service. The returned cleanup closes everything.
func openService(ctx context.Context) (*service.Service, func(), error) {
	chunks, err := openChunkStore()
	if err != nil {
		return nil, nil, err
	}
	embedder, err := newEmbedder(ctx)
	if err != nil {
		_ = chunks.Close()
		return nil, nil, err
	}
	summarizer, err := newSummarizer()
	if err != nil {
		_ = chunks.Close()
		return nil, nil, err
	}

	// Stats are best-effort: a broken stats store must not block
	// retrieval.
	var opts []service.Option
	stats, err := openStatsRecorder()
	if err != nil {
		slog.Warn("query stats unavailable", slog.String("error", err.Error()))
		stats = nil
	} else {
		opts = append(opts, service.WithQueryStats(stats))
	}

	svc, err := service.NewService(chunks, embedder, summarizer, cfg.ServiceConfig(), opts...)
	if err != nil {
		if stats != nil {
			_ = stats.Close()
		}
		_ = chunks.Close()
		return nil, nil, err
	}
	cleanup := func() {
		_ = svc.Close()
		if stats != nil {
			_ = stats.Close()
		}
		if embedder != nil {
			_ = embedder.Close()
		}
		_ = chunks.Close()
	}
	return svc, cleanup, nil
}
