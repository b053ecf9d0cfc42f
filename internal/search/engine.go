package search

import (
	"context"
	stderrors "errors"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/citegrep/citegrep/internal/embed"
	"github.com/citegrep/citegrep/internal/errors"
	"github.com/citegrep/citegrep/internal/store"
)

// Engine runs retrieval against one immutable build. The lexical index
// is mandatory; vector index and embedder are optional and their absence
// degrades hybrid queries instead of failing them.
type Engine struct {
	build    *store.Build
	lexical  store.LexicalIndex
	vector   store.VectorIndex
	embedder embed.Embedder
	fuser    *Fuser
	config   Config
}

// NewEngine creates an engine for one build.
func NewEngine(build *store.Build, lexical store.LexicalIndex, vector store.VectorIndex,
	embedder embed.Embedder, cfg Config) (*Engine, error) {
	if build == nil {
		return nil, errors.New(errors.KindValidation, "build is required")
	}
	if lexical == nil {
		return nil, errors.New(errors.KindValidation, "lexical index is required")
	}
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = DefaultConfig().DefaultLimit
	}
	if cfg.FetchFactor <= 0 {
		cfg.FetchFactor = DefaultConfig().FetchFactor
	}
	return &Engine{
		build:    build,
		lexical:  lexical,
		vector:   vector,
		embedder: embedder,
		fuser:    NewFuser(cfg.Weights, cfg.FloorRank),
		config:   cfg,
	}, nil
}

// Build returns the build this engine serves.
func (e *Engine) Build() *store.Build {
	return e.build
}

// Search executes one query. The lexical query always runs; in hybrid
// mode the semantic query runs in parallel when the build has a vector
// index and an embedder is configured. Candidates are fused, labeled
// with the build's version, and truncated to the limit.
func (e *Engine) Search(ctx context.Context, query string, opts Options) (*Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return &Result{Candidates: []*Candidate{}, ModeUsed: ModeLexical}, nil
	}

	if opts.Mode == "" {
		opts.Mode = ModeLexical
	}
	if opts.Mode != ModeLexical && opts.Mode != ModeHybrid {
		return nil, errors.Newf(errors.KindValidation, "unknown query mode %q", opts.Mode)
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = e.config.DefaultLimit
	}
	fetchLimit := limit * e.config.FetchFactor

	result := &Result{ModeUsed: ModeLexical}
	semEnabled := opts.Mode == ModeHybrid
	if semEnabled {
		switch {
		case e.vector == nil || !e.build.HasVector:
			semEnabled = false
			result.Warnings = append(result.Warnings, Warning{
				Code:    WarnIndexNotFound,
				Message: "no vector index for this build, falling back to lexical-only",
			})
		case e.embedder == nil:
			semEnabled = false
			result.Warnings = append(result.Warnings, Warning{
				Code:    WarnProviderUnavailable,
				Message: "no embedding provider configured, falling back to lexical-only",
			})
		}
	}

	var (
		lexHits []*store.LexicalHit
		semHits []*store.VectorHit
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hits, err := e.lexical.Search(gctx, query, fetchLimit)
		if err != nil {
			return err
		}
		lexHits = hits
		return nil
	})

	var semErr error
	if semEnabled {
		g.Go(func() error {
			// Semantic failures never fail the query: record and degrade.
			hits, err := e.semanticSearch(gctx, query, fetchLimit, opts.Exact)
			if err != nil {
				semErr = err
				return nil
			}
			semHits = hits
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if deadlineExpired(err) {
			// Out of time: return what we have instead of failing.
			result.Warnings = append(result.Warnings, Warning{
				Code:    WarnTimeout,
				Message: "query deadline exceeded, returning partial results",
			})
			result.Candidates = e.finalize(lexHits, semHits, query, limit)
			return result, nil
		}
		return nil, errors.Wrap(errors.KindInternal, "lexical search", err)
	}

	if semErr != nil {
		if deadlineExpired(semErr) {
			result.Warnings = append(result.Warnings, Warning{
				Code:    WarnTimeout,
				Message: "semantic search deadline exceeded, returning lexical results",
			})
		} else {
			slog.Warn("semantic search degraded to lexical-only",
				slog.String("root_ref", e.build.RootRef),
				slog.String("error", semErr.Error()))
			result.Warnings = append(result.Warnings, Warning{
				Code:    WarnProviderUnavailable,
				Message: "semantic provider unavailable, falling back to lexical-only",
			})
		}
		semHits = nil
	}

	if len(semHits) > 0 || (semEnabled && semErr == nil) {
		result.ModeUsed = ModeHybrid
	}
	result.Candidates = e.finalize(lexHits, semHits, query, limit)
	return result, nil
}

// semanticSearch embeds the query and runs the vector lookup.
func (e *Engine) semanticSearch(ctx context.Context, query string, limit int, exact bool) ([]*store.VectorHit, error) {
	vec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	return e.vector.Search(ctx, vec, limit, exact)
}

// finalize fuses, labels every candidate with the build's version, and
// truncates to the limit.
func (e *Engine) finalize(lex []*store.LexicalHit, sem []*store.VectorHit, query string, limit int) []*Candidate {
	candidates := e.fuser.Fuse(lex, sem, store.PrimaryToken(query))
	for _, c := range candidates {
		c.RootRef = e.build.RootRef
		c.ResolvedCommit = e.build.ResolvedCommit
	}
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates
}

// VerifyVersion checks that a resolved chunk belongs to this engine's
// build. A mismatch is an internal invariant violation (cross-version
// leakage), never a user error.
func (e *Engine) VerifyVersion(chunk *store.Chunk) error {
	if chunk.ResolvedCommit != e.build.ResolvedCommit {
		slog.Error("cross-version evidence leak",
			slog.String("chunk_id", chunk.ChunkID),
			slog.String("chunk_commit", chunk.ResolvedCommit),
			slog.String("build_commit", e.build.ResolvedCommit))
		return errors.Newf(errors.KindInternal,
			"chunk %s belongs to commit %s, build targets %s",
			chunk.ChunkID, chunk.ResolvedCommit, e.build.ResolvedCommit)
	}
	return nil
}

func deadlineExpired(err error) bool {
	return stderrors.Is(err, context.DeadlineExceeded)
}
