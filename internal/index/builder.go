// Package index builds immutable, version-partitioned index builds:
// chunk records go into the store, a lexical index is always built, a
// vector index is built when an embedding provider is available, and the
// finished build is published with an atomic current-pointer swap.
package index

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/citegrep/citegrep/internal/embed"
	"github.com/citegrep/citegrep/internal/errors"
	"github.com/citegrep/citegrep/internal/store"
)

// DefaultWorkers is the default lexical indexing parallelism.
const DefaultWorkers = 4

// publishLockFile guards the publish pointer swap across processes.
const publishLockFile = "publish.lock"

// BuilderConfig configures the build pipeline.
type BuilderConfig struct {
	// DataDir is the root data directory; each build gets its own
	// subdirectory under DataDir/builds/<build_id>.
	DataDir string

	// LexicalBackend selects the lexical index implementation.
	LexicalBackend string

	// Lexical configures BM25 scoring for the built index.
	Lexical store.LexicalConfig

	// Workers bounds the lexical indexing parallelism.
	Workers int

	// EmbedBatchSize is the number of chunks embedded per provider call.
	EmbedBatchSize int
}

// DefaultBuilderConfig returns the default build configuration.
func DefaultBuilderConfig(dataDir string) BuilderConfig {
	return BuilderConfig{
		DataDir:        dataDir,
		LexicalBackend: store.LexicalBackendSQLite,
		Lexical:        store.DefaultLexicalConfig(),
		Workers:        DefaultWorkers,
		EmbedBatchSize: embed.DefaultBatchSize,
	}
}

// BuildDir returns the directory holding one build's index files.
func BuildDir(dataDir, buildID string) string {
	return filepath.Join(dataDir, "builds", buildID)
}

// LexicalIndexPath returns the lexical index location for a build.
func LexicalIndexPath(dataDir, buildID, backend string) string {
	name := "lexical.db"
	if backend == store.LexicalBackendBleve {
		name = "lexical.bleve"
	}
	return filepath.Join(BuildDir(dataDir, buildID), name)
}

// VectorIndexPath returns the vector index location for a build.
func VectorIndexPath(dataDir, buildID string) string {
	return filepath.Join(BuildDir(dataDir, buildID), "vectors.hnsw")
}

// Builder runs the build pipeline. The embedder is optional: without
// one, builds are lexical-only.
type Builder struct {
	chunks   store.ChunkStore
	embedder embed.Embedder
	config   BuilderConfig
}

// NewBuilder creates a builder over a chunk store.
func NewBuilder(chunks store.ChunkStore, embedder embed.Embedder, cfg BuilderConfig) (*Builder, error) {
	if chunks == nil {
		return nil, errors.New(errors.KindValidation, "chunk store is required")
	}
	if cfg.DataDir == "" {
		return nil, errors.New(errors.KindValidation, "data directory is required")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.EmbedBatchSize <= 0 {
		cfg.EmbedBatchSize = embed.DefaultBatchSize
	}
	if cfg.LexicalBackend == "" {
		cfg.LexicalBackend = store.LexicalBackendSQLite
	}
	return &Builder{chunks: chunks, embedder: embedder, config: cfg}, nil
}

// Build validates and stores the chunk set, builds the indexes and
// publishes the result as the current build for its root_ref. Any
// validation or integrity failure aborts the build and discards its
// partial state; the previously published build is never touched.
func (b *Builder) Build(ctx context.Context, rootRef, resolvedCommit string, chunks []*store.Chunk) (*store.Build, error) {
	if rootRef == "" {
		return nil, errors.New(errors.KindValidation, "root_ref is required")
	}
	if resolvedCommit == "" {
		return nil, errors.New(errors.KindValidation, "resolved_commit is required")
	}
	if len(chunks) == 0 {
		return nil, errors.New(errors.KindValidation, "no chunks to index")
	}

	build := &store.Build{
		BuildID:        uuid.NewString(),
		RootRef:        rootRef,
		ResolvedCommit: resolvedCommit,
		BuiltAt:        time.Now().UTC(),
	}

	for _, c := range chunks {
		if c.RootRef != rootRef || c.ResolvedCommit != resolvedCommit {
			return nil, errors.Newf(errors.KindValidation,
				"chunk %s targets %s@%s, build targets %s@%s",
				c.ChunkID, c.RootRef, c.ResolvedCommit, rootRef, resolvedCommit)
		}
		c.BuildID = build.BuildID
		if err := c.Validate(); err != nil {
			return nil, err
		}
	}

	slog.Info("starting index build",
		slog.String("build_id", build.BuildID),
		slog.String("root_ref", rootRef),
		slog.String("resolved_commit", resolvedCommit),
		slog.Int("chunks", len(chunks)))

	if err := b.chunks.CreateBuild(ctx, build); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(BuildDir(b.config.DataDir, build.BuildID), 0o755); err != nil {
		return nil, errors.Wrap(errors.KindInternal, "create build directory", err)
	}

	if err := b.storeChunks(ctx, chunks); err != nil {
		b.discard(ctx, build.BuildID)
		return nil, err
	}

	if err := b.buildLexical(ctx, build.BuildID, chunks); err != nil {
		b.discard(ctx, build.BuildID)
		return nil, err
	}

	b.buildVector(ctx, build, chunks)

	if err := b.chunks.SetChunkCount(ctx, build.BuildID, len(chunks)); err != nil {
		b.discard(ctx, build.BuildID)
		return nil, err
	}
	build.ChunkCount = len(chunks)

	if err := b.publish(ctx, build); err != nil {
		b.discard(ctx, build.BuildID)
		return nil, err
	}
	build.Current = true

	slog.Info("index build published",
		slog.String("build_id", build.BuildID),
		slog.String("corpus_id", build.CorpusID()),
		slog.Bool("has_vector", build.HasVector))
	return build, nil
}

// storeChunks persists the chunk records. An integrity conflict (same
// provenance, different content hash) is fatal for the whole build.
func (b *Builder) storeChunks(ctx context.Context, chunks []*store.Chunk) error {
	for _, c := range chunks {
		if err := b.chunks.Put(ctx, c); err != nil {
			if errors.IsKind(err, errors.KindChunkIntegrityConflict) {
				slog.Error("chunk integrity conflict, aborting build",
					slog.String("chunk_id", c.ChunkID),
					slog.String("file_path", c.FilePath))
			}
			return err
		}
	}
	return nil
}

// buildLexical creates the build's lexical index and fills it with the
// chunk set, partitioned across workers.
func (b *Builder) buildLexical(ctx context.Context, buildID string, chunks []*store.Chunk) error {
	path := LexicalIndexPath(b.config.DataDir, buildID, b.config.LexicalBackend)
	lexical, err := store.NewLexicalIndex(b.config.LexicalBackend, path, b.config.Lexical)
	if err != nil {
		return errors.Wrap(errors.KindInternal, "create lexical index", err)
	}
	defer lexical.Close()

	g, gctx := errgroup.WithContext(ctx)
	for _, part := range partition(chunks, b.config.Workers) {
		g.Go(func() error {
			return lexical.Index(gctx, part)
		})
	}
	if err := g.Wait(); err != nil {
		return errors.Wrap(errors.KindInternal, "lexical indexing", err)
	}
	return nil
}

// buildVector embeds the chunk set and writes the vector index. Vector
// failures never fail the build: the build degrades to lexical-only
// with a note recording why.
func (b *Builder) buildVector(ctx context.Context, build *store.Build, chunks []*store.Chunk) {
	note := ""
	switch {
	case b.embedder == nil:
		note = "no embedding provider configured"
	case !b.embedder.Available(ctx):
		note = "embedding provider unavailable"
	default:
		if err := b.embedAndStore(ctx, build, chunks); err != nil {
			slog.Warn("vector index build failed, publishing lexical-only",
				slog.String("build_id", build.BuildID),
				slog.String("error", err.Error()))
			note = fmt.Sprintf("vector index build failed: %v", err)
		}
	}

	if note == "" {
		build.HasVector = true
		build.EmbedModel = b.embedder.ModelName()
	} else {
		build.VectorNote = "vector: absent (" + note + ")"
	}
	if err := b.chunks.SetVectorState(ctx, build.BuildID, build.HasVector, build.VectorNote, build.EmbedModel); err != nil {
		slog.Warn("failed to record vector state", slog.String("error", err.Error()))
	}
}

func (b *Builder) embedAndStore(ctx context.Context, build *store.Build, chunks []*store.Chunk) error {
	vector, err := store.NewHNSWVectorIndex(store.DefaultVectorConfig(b.embedder.Dimensions()))
	if err != nil {
		return err
	}
	defer vector.Close()

	for start := 0; start < len(chunks); start += b.config.EmbedBatchSize {
		end := min(start+b.config.EmbedBatchSize, len(chunks))
		batch := chunks[start:end]

		ids := make([]string, len(batch))
		texts := make([]string, len(batch))
		for i, c := range batch {
			ids[i] = c.ChunkID
			texts[i] = c.Content
		}
		vecs, err := b.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return err
		}
		if err := vector.Add(ctx, ids, vecs); err != nil {
			return err
		}
	}

	return vector.Save(VectorIndexPath(b.config.DataDir, build.BuildID))
}

// publish swaps the current-build pointer under a cross-process file
// lock, so concurrent builders for the same root_ref serialize instead
// of racing the compare-and-swap.
func (b *Builder) publish(ctx context.Context, build *store.Build) error {
	lock := flock.New(filepath.Join(b.config.DataDir, publishLockFile))
	locked, err := lock.TryLockContext(ctx, 100*time.Millisecond)
	if err != nil {
		return errors.Wrap(errors.KindInternal, "acquire publish lock", err)
	}
	if !locked {
		return errors.New(errors.KindInternal, "publish lock unavailable")
	}
	defer lock.Unlock()

	expectedOld := ""
	if current, err := b.chunks.CurrentBuild(ctx, build.RootRef); err == nil {
		expectedOld = current.BuildID
	} else if !errors.IsKind(err, errors.KindVersionNotFound) {
		return err
	}
	return b.chunks.Publish(ctx, build.BuildID, expectedOld)
}

// discard removes a failed build's store rows and on-disk directory.
// The failed build is never visible to queries.
func (b *Builder) discard(ctx context.Context, buildID string) {
	if err := b.chunks.DeleteBuild(ctx, buildID); err != nil {
		slog.Warn("failed to discard aborted build",
			slog.String("build_id", buildID),
			slog.String("error", err.Error()))
	}
	if err := os.RemoveAll(BuildDir(b.config.DataDir, buildID)); err != nil {
		slog.Warn("failed to remove aborted build directory",
			slog.String("build_id", buildID),
			slog.String("error", err.Error()))
	}
}

// partition splits chunks into at most n contiguous slices.
func partition(chunks []*store.Chunk, n int) [][]*store.Chunk {
	if n > len(chunks) {
		n = len(chunks)
	}
	parts := make([][]*store.Chunk, 0, n)
	size := (len(chunks) + n - 1) / n
	for start := 0; start < len(chunks); start += size {
		end := min(start+size, len(chunks))
		parts = append(parts, chunks[start:end])
	}
	return parts
}
