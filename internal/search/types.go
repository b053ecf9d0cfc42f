// Package search merges lexical and semantic hits into one ranked
// candidate list under explicit tie-break and non-suppression rules.
// Results are fused by weighted score normalization, lexical favored.
package search

// Mode selects the retrieval pipeline.
type Mode string

const (
	// ModeLexical runs BM25 retrieval only.
	ModeLexical Mode = "lexical"

	// ModeHybrid adds semantic retrieval when a vector index exists for
	// the target build; otherwise it degrades to lexical with a warning.
	ModeHybrid Mode = "hybrid"
)

// SourceMode tags which index contributed a candidate.
type SourceMode string

const (
	SourceLexical  SourceMode = "lexical"
	SourceSemantic SourceMode = "semantic"
)

// Warning codes attached to query diagnostics.
const (
	WarnProviderUnavailable = "PROVIDER_UNAVAILABLE"
	WarnIndexNotFound       = "INDEX_NOT_FOUND"
	WarnTimeout             = "TIMEOUT"
)

// Warning is a non-fatal diagnostic attached to a query result.
type Warning struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Candidate is one ranked evidence candidate. Transient: produced per
// query, never persisted.
type Candidate struct {
	ChunkID       string       `json:"chunk_id"`
	LexicalScore  float64      `json:"lexical_score"`
	SemanticScore float64      `json:"semantic_score,omitempty"`
	CombinedScore float64      `json:"combined_score"`
	SourceModes   []SourceMode `json:"source_modes"`
	Rank          int          `json:"rank"`

	// Provenance and tie-break metadata carried from the index.
	RootRef        string `json:"root_ref"`
	ResolvedCommit string `json:"resolved_commit"`
	FilePath       string `json:"file_path"`
	StartLine      int    `json:"start_line"`
	EndLine        int    `json:"end_line"`
	SymbolPath     string `json:"symbol_path,omitempty"`
	HasDoxygen     bool   `json:"has_doxygen,omitempty"`

	MatchedTerms []string `json:"matched_terms,omitempty"`
}

// hasSource reports whether the candidate carries the given source mode.
func (c *Candidate) hasSource(m SourceMode) bool {
	for _, s := range c.SourceModes {
		if s == m {
			return true
		}
	}
	return false
}

// Result is the outcome of one single-version query.
type Result struct {
	Candidates []*Candidate `json:"candidates"`
	ModeUsed   Mode         `json:"mode_used"`
	Warnings   []Warning    `json:"warnings,omitempty"`
}

// Config holds fusion and retrieval parameters. All numeric defaults
// live in DefaultConfig, not in the scorer.
type Config struct {
	// Weights for combining normalized lexical and semantic scores.
	Weights Weights

	// FloorRank is the non-suppression floor: a symbol-exact chunk is
	// boosted to at least the score at this rank before the final sort.
	FloorRank int

	// DefaultLimit is the result limit when the caller passes k <= 0.
	DefaultLimit int

	// FetchFactor over-fetches per source before fusion (limit * factor).
	FetchFactor int
}

// DefaultConfig returns the default fusion configuration.
func DefaultConfig() Config {
	return Config{
		Weights:      DefaultWeights(),
		FloorRank:    3,
		DefaultLimit: 10,
		FetchFactor:  2,
	}
}

// Options configures one Search call.
type Options struct {
	// Mode is lexical or hybrid (default lexical).
	Mode Mode

	// Limit is the maximum number of candidates (default from config).
	Limit int

	// Exact forces a brute-force scan in the vector index instead of
	// the approximate graph search.
	Exact bool
}
