// Package store provides chunk persistence (SQLite), the lexical BM25
// index (SQLite FTS5 or Bleve), and the vector index (HNSW). All indexed
// data is partitioned by (root_ref, resolved_commit, build_id); published
// builds are immutable.
package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/citegrep/citegrep/internal/errors"
)

// DocOrigin categorizes where a chunk's text came from.
type DocOrigin string

const (
	OriginSourceHeader   DocOrigin = "source_header"
	OriginSourceImpl     DocOrigin = "source_impl"
	OriginDoxygenComment DocOrigin = "doxygen_comment"
	OriginReferenceDoc   DocOrigin = "reference_doc"
	OriginTutorialDoc    DocOrigin = "tutorial_doc"
)

// validOrigins is the closed set accepted from the parser boundary.
var validOrigins = map[DocOrigin]struct{}{
	OriginSourceHeader:   {},
	OriginSourceImpl:     {},
	OriginDoxygenComment: {},
	OriginReferenceDoc:   {},
	OriginTutorialDoc:    {},
}

// MaxContentBytes caps chunk content size (1 MiB).
const MaxContentBytes = 1 << 20

// ChunkSchemaVersion is the current chunk record schema version.
// Required fields are frozen except through a bump of this version.
const ChunkSchemaVersion = "1.0.0"

// Chunk is the atomic unit of evidence: a contiguous line range of one
// file in one revision, with provenance metadata. Chunks are created once
// per index build and immutable thereafter.
type Chunk struct {
	ChunkID        string    `json:"chunk_id"`
	RootRef        string    `json:"root_ref"`
	ResolvedCommit string    `json:"resolved_commit"`
	FilePath       string    `json:"file_path"`
	Language       string    `json:"language"`
	StartLine      int       `json:"start_line"`
	EndLine        int       `json:"end_line"`
	Content        string    `json:"content"`
	DocOrigin      DocOrigin `json:"doc_origin"`
	SchemaVersion  string    `json:"schema_version"`

	SymbolPath    string   `json:"symbol_path,omitempty"`
	SymbolKind    string   `json:"symbol_kind,omitempty"`
	Keywords      []string `json:"keywords,omitempty"`
	HasDoxygen    bool     `json:"has_doxygen,omitempty"`
	Imports       []string `json:"imports,omitempty"`
	ParserName    string   `json:"parser_name,omitempty"`
	ParserVersion string   `json:"parser_version,omitempty"`
	SourceHash    string   `json:"source_hash,omitempty"`
	BuildID       string   `json:"build_id,omitempty"`
}

// Span returns the number of lines the chunk covers.
func (c *Chunk) Span() int {
	return c.EndLine - c.StartLine + 1
}

// ComputeChunkID derives the deterministic chunk identifier from the
// provenance tuple: first 12 hex chars of SHA-256 over
// "root_ref:resolved_commit:file_path:start_line:end_line".
// Identical inputs always produce identical IDs.
func ComputeChunkID(rootRef, resolvedCommit, filePath string, startLine, endLine int) string {
	provenance := fmt.Sprintf("%s:%s:%s:%d:%d", rootRef, resolvedCommit, filePath, startLine, endLine)
	digest := sha256.Sum256([]byte(provenance))
	return hex.EncodeToString(digest[:])[:12]
}

// ComputeSourceHash returns the SHA-256 hex digest of chunk content.
func ComputeSourceHash(content string) string {
	digest := sha256.Sum256([]byte(content))
	return hex.EncodeToString(digest[:])
}

// Validate checks the chunk record invariants from the wire contract.
// Validation failures are fatal at build time.
func (c *Chunk) Validate() error {
	if c.ChunkID == "" {
		return errors.New(errors.KindValidation, "chunk_id is required")
	}
	if c.RootRef == "" {
		return errors.New(errors.KindValidation, "root_ref is required")
	}
	if c.ResolvedCommit == "" {
		return errors.New(errors.KindValidation, "resolved_commit is required")
	}
	if c.FilePath == "" {
		return errors.New(errors.KindValidation, "file_path is required")
	}
	if strings.HasPrefix(c.FilePath, "/") || strings.HasPrefix(c.FilePath, "\\") {
		return errors.Newf(errors.KindValidation, "file_path must be relative, got %q", c.FilePath).
			WithDetail("chunk_id", c.ChunkID)
	}
	if strings.Contains(c.FilePath, "\\") {
		return errors.Newf(errors.KindValidation, "file_path must use POSIX separators, got %q", c.FilePath).
			WithDetail("chunk_id", c.ChunkID)
	}
	if c.FilePath == "." || strings.HasPrefix(c.FilePath, "../") {
		return errors.Newf(errors.KindValidation, "file_path must not escape repo root, got %q", c.FilePath).
			WithDetail("chunk_id", c.ChunkID)
	}
	if c.StartLine < 1 {
		return errors.Newf(errors.KindValidation, "start_line must be >= 1, got %d", c.StartLine).
			WithDetail("chunk_id", c.ChunkID)
	}
	if c.EndLine < c.StartLine {
		return errors.Newf(errors.KindValidation, "end_line (%d) must be >= start_line (%d)", c.EndLine, c.StartLine).
			WithDetail("chunk_id", c.ChunkID)
	}
	if strings.TrimSpace(c.Content) == "" {
		return errors.New(errors.KindValidation, "content must not be empty").
			WithDetail("chunk_id", c.ChunkID)
	}
	if len(c.Content) > MaxContentBytes {
		return errors.Newf(errors.KindValidation, "content exceeds maximum length (%d bytes)", MaxContentBytes).
			WithDetail("chunk_id", c.ChunkID)
	}
	if _, ok := validOrigins[c.DocOrigin]; !ok {
		return errors.Newf(errors.KindValidation, "unknown doc_origin %q", c.DocOrigin).
			WithDetail("chunk_id", c.ChunkID)
	}
	if c.Language == "" || c.Language != strings.ToLower(c.Language) {
		return errors.Newf(errors.KindValidation, "language must be a lowercase identifier, got %q", c.Language).
			WithDetail("chunk_id", c.ChunkID)
	}
	return nil
}

// Build groups a set of chunks under one (root_ref, resolved_commit,
// build_id) key and owns the indexes built from that chunk set.
type Build struct {
	BuildID        string
	RootRef        string
	ResolvedCommit string
	ChunkCount     int
	HasVector      bool   // vector index was built for this build
	VectorNote     string // why the vector index is absent, if it is
	EmbedModel     string // embedding model used, if any
	BuiltAt        time.Time
	Current        bool // this is the current build for its root_ref
}

// CorpusID returns the deterministic corpus identifier for a build:
// "{root_ref}__{commit[:12]}".
func (b *Build) CorpusID() string {
	commit := b.ResolvedCommit
	if len(commit) > 12 {
		commit = commit[:12]
	}
	return b.RootRef + "__" + commit
}

// ChunkStore persists chunk records partitioned by build.
type ChunkStore interface {
	// CreateBuild registers a new build. Builds start unpublished.
	CreateBuild(ctx context.Context, build *Build) error

	// Put stores a chunk in its build's partition. Idempotent on
	// identical re-insertion; rejects with KindChunkIntegrityConflict
	// if the same chunk_id exists with a different source_hash.
	Put(ctx context.Context, chunk *Chunk) error

	// Get retrieves a chunk by id within one build. Returns a
	// KindValidation error for empty ids and sql.ErrNoRows-backed
	// KindInternal is never leaked: missing chunks yield (nil, nil).
	Get(ctx context.Context, buildID, chunkID string) (*Chunk, error)

	// GetMany retrieves several chunks by id within one build. Missing
	// chunks are omitted from the result.
	GetMany(ctx context.Context, buildID string, chunkIDs []string) ([]*Chunk, error)

	// ListByBuild returns a page of chunks in deterministic order
	// (file_path, start_line, end_line, chunk_id) starting after the
	// cursor. An empty cursor starts from the beginning; the returned
	// cursor is "" when the sequence is exhausted. The listing is
	// restartable: re-issuing with the same cursor yields the same page.
	ListByBuild(ctx context.Context, buildID, cursor string, limit int) ([]*Chunk, string, error)

	// DeleteBuild removes a build and its chunks in one transaction.
	// The deletion is never partially visible.
	DeleteBuild(ctx context.Context, buildID string) error

	// GetBuild returns build metadata, or KindVersionNotFound.
	GetBuild(ctx context.Context, buildID string) (*Build, error)

	// CurrentBuild resolves root_ref to its current published build,
	// or KindVersionNotFound if the ref has none.
	CurrentBuild(ctx context.Context, rootRef string) (*Build, error)

	// Publish atomically swaps the current-build pointer for the
	// build's root_ref from expectedOld (empty for "no current build")
	// to the given build. Fails without side effects if the pointer
	// has moved. Prior builds remain queryable by explicit build_id.
	Publish(ctx context.Context, buildID, expectedOld string) error

	// ListBuilds returns all builds ordered by built_at descending.
	ListBuilds(ctx context.Context) ([]*Build, error)

	// SetChunkCount records the number of chunks in a build.
	SetChunkCount(ctx context.Context, buildID string, count int) error

	// SetVectorState records whether the build has a vector index and,
	// if not, why; model names the embedding model used, if any.
	SetVectorState(ctx context.Context, buildID string, hasVector bool, note, model string) error

	// Close releases resources.
	Close() error
}

// LexicalHit is a single lexical index match with the metadata needed
// for deterministic tie-breaking.
type LexicalHit struct {
	ChunkID      string
	Score        float64
	SymbolPath   string
	HasDoxygen   bool
	FilePath     string
	StartLine    int
	EndLine      int
	MatchedTerms []string
}

// LexicalIndex is a field-weighted BM25 index over one build's chunks.
// Implementations are immutable once built: Index may only be called
// before the owning build is published.
type LexicalIndex interface {
	// Index adds chunks to the index.
	Index(ctx context.Context, chunks []*Chunk) error

	// Search returns hits scored by field-weighted BM25, sorted by
	// score with the deterministic tie-break order applied.
	Search(ctx context.Context, query string, limit int) ([]*LexicalHit, error)

	// DocCount returns the number of indexed chunks.
	DocCount() (int, error)

	// Close releases resources.
	Close() error
}

// LexicalConfig configures BM25 scoring and field weights.
type LexicalConfig struct {
	// K1 is the term frequency saturation parameter. Honored by the
	// Bleve backend; SQLite FTS5 hard-codes 1.2.
	K1 float64
	// B is the document-length normalization parameter. Honored by the
	// Bleve backend; SQLite FTS5 hard-codes 0.75.
	B float64
	// SymbolWeight, ContentWeight and KeywordWeight are the relative
	// field weights; symbol_path is weighted highest.
	SymbolWeight  float64
	ContentWeight float64
	KeywordWeight float64
	// StopWords are filtered during tokenization.
	StopWords []string
}

// DefaultLexicalConfig returns the default BM25 configuration. The
// numeric defaults are deliberately explicit configuration, not
// hard-coded constants buried in the scorer.
func DefaultLexicalConfig() LexicalConfig {
	return LexicalConfig{
		K1:            1.2,
		B:             0.75,
		SymbolWeight:  3.0,
		ContentWeight: 1.0,
		KeywordWeight: 1.5,
		StopWords:     DefaultCodeStopWords,
	}
}

// DefaultCodeStopWords contains C/C++ keywords and filler identifiers
// that carry no retrieval signal.
var DefaultCodeStopWords = []string{
	"auto", "const", "class", "struct", "void", "int", "char", "bool",
	"return", "if", "else", "for", "while", "static", "virtual",
	"public", "private", "protected", "namespace", "using", "template",
	"typename", "this", "new", "delete", "include",
}

// VectorHit is a nearest-neighbor match: chunk id plus cosine similarity.
type VectorHit struct {
	ChunkID    string
	Similarity float32
}

// VectorIndex stores one embedding per chunk_id and supports cosine
// nearest-neighbor search, exact or approximate per call.
type VectorIndex interface {
	// Add inserts vectors keyed by chunk id.
	Add(ctx context.Context, ids []string, vectors [][]float32) error

	// Search returns the k nearest neighbors by cosine similarity.
	// When exact is true a brute-force scan is used instead of the
	// HNSW graph.
	Search(ctx context.Context, query []float32, k int, exact bool) ([]*VectorHit, error)

	// Count returns the number of stored vectors.
	Count() int

	// Dimensions returns the vector dimensionality.
	Dimensions() int

	// Close releases resources.
	Close() error
}

// VectorConfig configures the HNSW vector index.
type VectorConfig struct {
	Dimensions int
	M          int // max connections per layer
	EfSearch   int // query-time search width
}

// DefaultVectorConfig returns sensible HNSW defaults.
func DefaultVectorConfig(dimensions int) VectorConfig {
	return VectorConfig{
		Dimensions: dimensions,
		M:          16,
		EfSearch:   64,
	}
}

// ErrDimensionMismatch indicates an embedding dimension mismatch between
// the index and a query or inserted vector.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}
