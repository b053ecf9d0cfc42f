// Package service is the top-level API surface: it resolves version
// refs to published builds, opens per-build retrieval engines on
// demand, and exposes query, ask and version-listing operations.
package service

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/citegrep/citegrep/internal/answer"
	"github.com/citegrep/citegrep/internal/embed"
	"github.com/citegrep/citegrep/internal/errors"
	"github.com/citegrep/citegrep/internal/index"
	"github.com/citegrep/citegrep/internal/search"
	"github.com/citegrep/citegrep/internal/store"
	"github.com/citegrep/citegrep/internal/telemetry"
)

// Config configures the service.
type Config struct {
	// DataDir is the root data directory holding per-build indexes.
	DataDir string

	// LexicalBackend selects the lexical index implementation.
	LexicalBackend string

	// Lexical configures BM25 scoring.
	Lexical store.LexicalConfig

	// Search configures fusion and limits.
	Search search.Config

	// Answer configures evidence assembly.
	Answer answer.Config

	// QueryTimeout bounds one retrieval call. When it expires the
	// engine returns whatever it has, flagged with a timeout warning,
	// instead of failing. Zero disables the deadline.
	QueryTimeout time.Duration
}

// DefaultQueryTimeout bounds one retrieval call unless configured
// otherwise.
const DefaultQueryTimeout = 10 * time.Second

// DefaultServiceConfig returns the default service configuration.
func DefaultServiceConfig(dataDir string) Config {
	return Config{
		DataDir:        dataDir,
		LexicalBackend: store.LexicalBackendSQLite,
		Lexical:        store.DefaultLexicalConfig(),
		Search:         search.DefaultConfig(),
		Answer:         answer.DefaultConfig(),
		QueryTimeout:   DefaultQueryTimeout,
	}
}

// QueryRequest is one retrieval request against one version.
type QueryRequest struct {
	// RootRef is the version ref to query (e.g. "v6-32-00").
	RootRef string `json:"root_ref"`

	// BuildID pins the query to an explicit build instead of the
	// ref's current one. Optional.
	BuildID string `json:"build_id,omitempty"`

	// Query is the free-text query.
	Query string `json:"query"`

	// Mode selects lexical or hybrid retrieval.
	Mode search.Mode `json:"mode,omitempty"`

	// K bounds the number of candidates returned.
	K int `json:"k,omitempty"`

	// Exact forces exact nearest-neighbor search in hybrid mode.
	Exact bool `json:"exact,omitempty"`
}

// QueryResult labels a retrieval result with the version it came from.
type QueryResult struct {
	RootRef        string              `json:"root_ref"`
	ResolvedCommit string              `json:"resolved_commit"`
	BuildID        string              `json:"build_id"`
	Candidates     []*search.Candidate `json:"candidates"`
	ModeUsed       search.Mode         `json:"mode_used"`
	Warnings       []search.Warning    `json:"warnings,omitempty"`
}

// VersionResult is one entry of a multi-version query: either a result
// or a per-version error, never both. One missing version does not fail
// the others.
type VersionResult struct {
	RootRef string       `json:"root_ref"`
	Result  *QueryResult `json:"result,omitempty"`
	Err     error        `json:"-"`
	Error   string       `json:"error,omitempty"`
}

// AskRequest is one evidence-backed question against one version.
type AskRequest struct {
	RootRef  string `json:"root_ref"`
	BuildID  string `json:"build_id,omitempty"`
	Question string `json:"question"`
	K        int    `json:"k,omitempty"`
}

// VersionInfo describes one indexed version.
type VersionInfo struct {
	RootRef        string    `json:"root_ref"`
	ResolvedCommit string    `json:"resolved_commit"`
	BuildID        string    `json:"build_id"`
	CorpusID       string    `json:"corpus_id"`
	ChunkCount     int       `json:"chunk_count"`
	Current        bool      `json:"current"`
	BuiltAt        time.Time `json:"built_at"`
	Modes          []string  `json:"modes"`
	VectorNote     string    `json:"vector_note,omitempty"`
}

// engineHandle owns one build's open indexes.
type engineHandle struct {
	engine  *search.Engine
	lexical store.LexicalIndex
	vector  store.VectorIndex
}

func (h *engineHandle) close() {
	if h.vector != nil {
		_ = h.vector.Close()
	}
	_ = h.lexical.Close()
}

// Service answers queries over the published builds in one data
// directory. Engines are opened lazily per build and cached.
type Service struct {
	chunks    store.ChunkStore
	embedder  embed.Embedder
	assembler *answer.Assembler
	config    Config
	stats     *telemetry.Recorder

	mu      sync.Mutex
	engines map[string]*engineHandle
	closed  bool
}

// Option configures optional service behavior.
type Option func(*Service)

// WithQueryStats records query statistics to rec. The recorder stays
// owned by the caller and is not closed by the service.
func WithQueryStats(rec *telemetry.Recorder) Option {
	return func(s *Service) {
		s.stats = rec
	}
}

// NewService creates a service. The embedder and summarizer are
// optional; without them queries degrade to lexical-only and answers
// carry bare evidence.
func NewService(chunks store.ChunkStore, embedder embed.Embedder, summarizer answer.Summarizer, cfg Config, opts ...Option) (*Service, error) {
	if chunks == nil {
		return nil, errors.New(errors.KindValidation, "chunk store is required")
	}
	if cfg.DataDir == "" {
		return nil, errors.New(errors.KindValidation, "data directory is required")
	}
	if cfg.LexicalBackend == "" {
		cfg.LexicalBackend = store.LexicalBackendSQLite
	}

	var answerOpts []answer.Option
	if summarizer != nil {
		answerOpts = append(answerOpts, answer.WithSummarizer(summarizer))
	}
	s := &Service{
		chunks:    chunks,
		embedder:  embedder,
		assembler: answer.NewAssembler(cfg.Answer, answerOpts...),
		config:    cfg,
		engines:   make(map[string]*engineHandle),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Query runs one retrieval request against one version.
func (s *Service) Query(ctx context.Context, req *QueryRequest) (*QueryResult, error) {
	handle, build, err := s.engineFor(ctx, req.RootRef, req.BuildID)
	if err != nil {
		return nil, err
	}

	sctx, cancel := s.searchContext(ctx)
	defer cancel()

	start := time.Now()
	result, err := handle.engine.Search(sctx, req.Query, search.Options{
		Mode:  req.Mode,
		Limit: req.K,
		Exact: req.Exact,
	})
	if err != nil {
		return nil, err
	}
	s.recordQuery(ctx, build.RootRef, req.Query, result, time.Since(start))

	if err := s.fillProvenance(ctx, build, result.Candidates); err != nil {
		return nil, err
	}

	return &QueryResult{
		RootRef:        build.RootRef,
		ResolvedCommit: build.ResolvedCommit,
		BuildID:        build.BuildID,
		Candidates:     result.Candidates,
		ModeUsed:       result.ModeUsed,
		Warnings:       result.Warnings,
	}, nil
}

// QueryVersions runs the same query against several versions. Each
// version is queried independently; a missing version yields a
// per-version error entry without failing the others. Results stay
// separate per version and are never merged.
func (s *Service) QueryVersions(ctx context.Context, refs []string, query string, mode search.Mode, k int) ([]*VersionResult, error) {
	if len(refs) == 0 {
		return nil, errors.New(errors.KindValidation, "at least one root_ref is required")
	}

	results := make([]*VersionResult, 0, len(refs))
	for _, ref := range refs {
		entry := &VersionResult{RootRef: ref}
		result, err := s.Query(ctx, &QueryRequest{RootRef: ref, Query: query, Mode: mode, K: k})
		if err != nil {
			entry.Err = err
			entry.Error = err.Error()
		} else {
			entry.Result = result
		}
		results = append(results, entry)
	}
	return results, nil
}

// Ask retrieves evidence for a question and assembles an answer
// payload. Retrieval runs in hybrid mode and degrades on its own.
func (s *Service) Ask(ctx context.Context, req *AskRequest) (*answer.AnswerPayload, error) {
	handle, build, err := s.engineFor(ctx, req.RootRef, req.BuildID)
	if err != nil {
		return nil, err
	}

	sctx, cancel := s.searchContext(ctx)
	defer cancel()

	start := time.Now()
	result, err := handle.engine.Search(sctx, req.Question, search.Options{
		Mode:  search.ModeHybrid,
		Limit: req.K,
	})
	if err != nil {
		return nil, err
	}
	s.recordQuery(ctx, build.RootRef, req.Question, result, time.Since(start))

	chunks, err := s.resolveChunks(ctx, handle.engine, build, result.Candidates)
	if err != nil {
		return nil, err
	}
	labelProvenance(result.Candidates, chunks)

	return s.assembler.Assemble(ctx, req.Question, result, chunks, build.RootRef, build.ResolvedCommit), nil
}

// searchContext derives the retrieval deadline. The engine turns an
// expired deadline into partial results with a timeout warning, so the
// budget covers the searches but not chunk resolution or rendering.
func (s *Service) searchContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.config.QueryTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.config.QueryTimeout)
}

// fillProvenance resolves chunk records for candidates that semantic
// retrieval produced without lexical metadata and copies their file
// and line provenance onto the candidates.
func (s *Service) fillProvenance(ctx context.Context, build *store.Build, candidates []*search.Candidate) error {
	var ids []string
	for _, c := range candidates {
		if c.FilePath == "" {
			ids = append(ids, c.ChunkID)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	chunks, err := s.chunks.GetMany(ctx, build.BuildID, ids)
	if err != nil {
		return err
	}
	resolved := make(map[string]*store.Chunk, len(chunks))
	for _, c := range chunks {
		if c != nil {
			resolved[c.ChunkID] = c
		}
	}
	labelProvenance(candidates, resolved)
	return nil
}

// labelProvenance copies provenance from resolved chunks onto
// candidates that carry none of their own.
func labelProvenance(candidates []*search.Candidate, chunks map[string]*store.Chunk) {
	for _, c := range candidates {
		if c.FilePath != "" {
			continue
		}
		chunk, ok := chunks[c.ChunkID]
		if !ok {
			continue
		}
		c.FilePath = chunk.FilePath
		c.StartLine = chunk.StartLine
		c.EndLine = chunk.EndLine
		c.SymbolPath = chunk.SymbolPath
		c.HasDoxygen = chunk.HasDoxygen
	}
}

// recordQuery persists query statistics when a recorder is configured.
// Recording is best-effort: a stats failure never fails the query.
func (s *Service) recordQuery(ctx context.Context, rootRef, query string, result *search.Result, latency time.Duration) {
	if s.stats == nil {
		return
	}
	err := s.stats.Record(ctx, telemetry.QueryEvent{
		RootRef:     rootRef,
		Query:       query,
		Mode:        string(result.ModeUsed),
		ResultCount: len(result.Candidates),
		Latency:     latency,
	})
	if err != nil {
		slog.Debug("query stats write failed", slog.String("error", err.Error()))
	}
}

// resolveChunks fetches candidate chunks and verifies each one belongs
// to the queried build before it can become evidence.
func (s *Service) resolveChunks(ctx context.Context, engine *search.Engine, build *store.Build,
	candidates []*search.Candidate) (map[string]*store.Chunk, error) {

	if len(candidates) == 0 {
		return map[string]*store.Chunk{}, nil
	}
	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.ChunkID
	}
	chunks, err := s.chunks.GetMany(ctx, build.BuildID, ids)
	if err != nil {
		return nil, err
	}

	resolved := make(map[string]*store.Chunk, len(chunks))
	for _, c := range chunks {
		if c == nil {
			continue
		}
		if err := engine.VerifyVersion(c); err != nil {
			return nil, err
		}
		resolved[c.ChunkID] = c
	}
	return resolved, nil
}

// ListVersions returns all indexed builds, newest first.
func (s *Service) ListVersions(ctx context.Context) ([]*VersionInfo, error) {
	builds, err := s.chunks.ListBuilds(ctx)
	if err != nil {
		return nil, err
	}

	infos := make([]*VersionInfo, 0, len(builds))
	for _, b := range builds {
		modes := []string{string(search.ModeLexical)}
		if b.HasVector {
			modes = append(modes, string(search.ModeHybrid))
		}
		infos = append(infos, &VersionInfo{
			RootRef:        b.RootRef,
			ResolvedCommit: b.ResolvedCommit,
			BuildID:        b.BuildID,
			CorpusID:       b.CorpusID(),
			ChunkCount:     b.ChunkCount,
			Current:        b.Current,
			BuiltAt:        b.BuiltAt,
			Modes:          modes,
			VectorNote:     b.VectorNote,
		})
	}
	return infos, nil
}

// engineFor resolves a ref (or explicit build id) to its build and a
// cached engine, opening the build's indexes on first use.
func (s *Service) engineFor(ctx context.Context, rootRef, buildID string) (*engineHandle, *store.Build, error) {
	if rootRef == "" && buildID == "" {
		return nil, nil, errors.New(errors.KindValidation, "root_ref is required")
	}

	var (
		build *store.Build
		err   error
	)
	if buildID != "" {
		build, err = s.chunks.GetBuild(ctx, buildID)
		if err == nil && rootRef != "" && build.RootRef != rootRef {
			return nil, nil, errors.Newf(errors.KindVersionNotFound,
				"build %s belongs to %s, not %s", buildID, build.RootRef, rootRef)
		}
	} else {
		build, err = s.chunks.CurrentBuild(ctx, rootRef)
	}
	if err != nil {
		return nil, nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, nil, errors.New(errors.KindInternal, "service is closed")
	}
	if handle, ok := s.engines[build.BuildID]; ok {
		return handle, build, nil
	}

	handle, err := s.openEngine(build)
	if err != nil {
		return nil, nil, err
	}
	s.engines[build.BuildID] = handle
	return handle, build, nil
}

// openEngine opens one build's indexes. A missing or unreadable vector
// index downgrades the build to lexical-only instead of failing.
func (s *Service) openEngine(build *store.Build) (*engineHandle, error) {
	lexicalPath := index.LexicalIndexPath(s.config.DataDir, build.BuildID, s.config.LexicalBackend)
	if _, err := os.Stat(lexicalPath); err != nil {
		return nil, errors.Newf(errors.KindIndexNotFound,
			"lexical index missing for build %s", build.BuildID)
	}
	lexical, err := store.NewLexicalIndex(s.config.LexicalBackend, lexicalPath, s.config.Lexical)
	if err != nil {
		return nil, errors.Wrap(errors.KindInternal, "open lexical index", err)
	}

	var vector store.VectorIndex
	if build.HasVector {
		vectorPath := index.VectorIndexPath(s.config.DataDir, build.BuildID)
		v, err := store.OpenHNSWVectorIndex(vectorPath)
		if err != nil {
			slog.Warn("vector index unreadable, serving lexical-only",
				slog.String("build_id", build.BuildID),
				slog.String("error", err.Error()))
			build.HasVector = false
		} else {
			vector = v
		}
	}

	engine, err := search.NewEngine(build, lexical, vector, s.embedder, s.config.Search)
	if err != nil {
		_ = lexical.Close()
		if vector != nil {
			_ = vector.Close()
		}
		return nil, err
	}
	return &engineHandle{engine: engine, lexical: lexical, vector: vector}, nil
}

// Close releases all cached engines. Idempotent.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for _, handle := range s.engines {
		handle.close()
	}
	s.engines = nil
	return nil
}
