package store

import (
	"fmt"
	"sort"
	"strings"
)

// Lexical index backends.
const (
	// LexicalBackendSQLite is the default: SQLite FTS5 with per-column
	// bm25() weights. Works concurrently across processes via WAL.
	LexicalBackendSQLite = "sqlite"

	// LexicalBackendBleve uses Bleve v2 with per-field boosted queries.
	LexicalBackendBleve = "bleve"
)

// NewLexicalIndex creates a lexical index with the selected backend.
// An empty path creates an in-memory index for testing.
func NewLexicalIndex(backend, path string, cfg LexicalConfig) (LexicalIndex, error) {
	switch backend {
	case LexicalBackendSQLite, "":
		return NewSQLiteLexicalIndex(path, cfg)
	case LexicalBackendBleve:
		return NewBleveLexicalIndex(path, cfg)
	default:
		return nil, fmt.Errorf("unknown lexical backend %q (want %q or %q)",
			backend, LexicalBackendSQLite, LexicalBackendBleve)
	}
}

// PrimaryToken returns the query's primary token: the first
// whitespace-separated field of the raw query string. Symbol-exact
// matching compares this token case-sensitively against symbol_path.
func PrimaryToken(query string) string {
	fields := strings.Fields(query)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// sortLexicalHits orders hits by score descending, then by the
// deterministic tie-break chain for equal scores:
//  1. exact case-sensitive symbol match on the query's primary token
//  2. has_doxygen = true
//  3. shorter chunk span
//  4. lexicographically smaller file_path
//  5. chunk_id (total order)
func sortLexicalHits(hits []*LexicalHit, primaryToken string) {
	sort.SliceStable(hits, func(i, j int) bool {
		a, b := hits[i], hits[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		aExact := primaryToken != "" && a.SymbolPath == primaryToken
		bExact := primaryToken != "" && b.SymbolPath == primaryToken
		if aExact != bExact {
			return aExact
		}
		if a.HasDoxygen != b.HasDoxygen {
			return a.HasDoxygen
		}
		aSpan := a.EndLine - a.StartLine
		bSpan := b.EndLine - b.StartLine
		if aSpan != bSpan {
			return aSpan < bSpan
		}
		if a.FilePath != b.FilePath {
			return a.FilePath < b.FilePath
		}
		return a.ChunkID < b.ChunkID
	})
}

// ftsTerm normalizes a token for FTS5 storage and matching. Qualified
// C++ paths collapse to a single term ("TTree::Draw" -> "ttreedraw")
// because the unicode61 tokenizer would otherwise split on the colons.
func ftsTerm(token string) string {
	return strings.ReplaceAll(strings.ToLower(token), "::", "")
}
