package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
)

// SQLiteLexicalIndex implements LexicalIndex using SQLite FTS5 with
// per-column bm25() weighting: symbol_path, content, and keywords are
// separate indexed columns, so field weights map directly onto the
// bm25() auxiliary function's column arguments. FTS5 hard-codes the
// BM25 k1/b parameters to 1.2/0.75; the configured K1 and B apply to
// the Bleve backend only.
type SQLiteLexicalIndex struct {
	mu        sync.RWMutex
	db        *sql.DB
	path      string
	config    LexicalConfig
	closed    bool
	stopWords map[string]struct{}
}

var _ LexicalIndex = (*SQLiteLexicalIndex)(nil)

// NewSQLiteLexicalIndex creates a new FTS5-based lexical index.
// An empty path creates an in-memory index for testing.
func NewSQLiteLexicalIndex(path string, cfg LexicalConfig) (*SQLiteLexicalIndex, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("create index directory: %w", err)
		}
		dsn = path + "?_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open lexical index: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}

	idx := &SQLiteLexicalIndex{
		db:        db,
		path:      path,
		config:    cfg,
		stopWords: BuildStopWordMap(cfg.StopWords),
	}
	if err := idx.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize FTS5 schema: %w", err)
	}
	return idx, nil
}

func (s *SQLiteLexicalIndex) initSchema() error {
	// Indexed columns carry the scored fields; everything needed for
	// tie-breaking rides along unindexed.
	schema := `
	CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts USING fts5(
		symbol_path,
		content,
		keywords,
		chunk_id UNINDEXED,
		raw_symbol UNINDEXED,
		file_path UNINDEXED,
		start_line UNINDEXED,
		end_line UNINDEXED,
		has_doxygen UNINDEXED,
		tokenize='unicode61'
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Index adds chunks to the index. Content is pre-tokenized with the
// code-aware tokenizer so camelCase/snake_case identifiers and C++
// qualified paths match naturally.
func (s *SQLiteLexicalIndex) Index(ctx context.Context, chunks []*Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("lexical index is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin index transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks_fts (symbol_path, content, keywords, chunk_id,
			raw_symbol, file_path, start_line, end_line, has_doxygen)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, chunk := range chunks {
		_, err := stmt.ExecContext(ctx,
			s.prepareField(chunk.SymbolPath),
			s.prepareField(chunk.Content),
			s.prepareField(strings.Join(chunk.Keywords, " ")),
			chunk.ChunkID,
			chunk.SymbolPath,
			chunk.FilePath,
			chunk.StartLine,
			chunk.EndLine,
			boolToInt(chunk.HasDoxygen))
		if err != nil {
			return fmt.Errorf("index chunk %s: %w", chunk.ChunkID, err)
		}
	}
	return tx.Commit()
}

// prepareField tokenizes text for FTS5 storage: code-aware split, stop
// word filtering, and qualified-path collapsing.
func (s *SQLiteLexicalIndex) prepareField(text string) string {
	if text == "" {
		return ""
	}
	tokens := FilterStopWords(TokenizeCode(text), s.stopWords)
	terms := make([]string, 0, len(tokens))
	for _, t := range tokens {
		terms = append(terms, ftsTerm(t))
	}
	return strings.Join(terms, " ")
}

// Search returns chunks scored by field-weighted BM25. FTS5's bm25()
// takes one weight per indexed column, in column order.
func (s *SQLiteLexicalIndex) Search(ctx context.Context, query string, limit int) ([]*LexicalHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("lexical index is closed")
	}

	if strings.TrimSpace(query) == "" {
		return []*LexicalHit{}, nil
	}

	tokens := FilterStopWords(TokenizeCode(query), s.stopWords)
	if len(tokens) == 0 {
		return []*LexicalHit{}, nil
	}
	terms := make([]string, 0, len(tokens))
	for _, t := range tokens {
		terms = append(terms, ftsTerm(t))
	}
	// OR matching: any term may contribute, ranking sorts it out.
	matchExpr := strings.Join(terms, " OR ")

	// bm25() returns negative values where lower is better.
	sqlQuery := `
		SELECT chunk_id, raw_symbol, file_path, start_line, end_line, has_doxygen,
			bm25(chunks_fts, ?, ?, ?) AS score
		FROM chunks_fts
		WHERE chunks_fts MATCH ?
		ORDER BY score
		LIMIT ?`

	rows, err := s.db.QueryContext(ctx, sqlQuery,
		s.config.SymbolWeight, s.config.ContentWeight, s.config.KeywordWeight,
		matchExpr, limit)
	if err != nil {
		// FTS5 rejects some token sequences as syntax errors; treat as
		// no results rather than failing the query.
		if strings.Contains(err.Error(), "fts5:") || strings.Contains(err.Error(), "syntax error") {
			return []*LexicalHit{}, nil
		}
		return nil, fmt.Errorf("lexical search: %w", err)
	}
	defer rows.Close()

	var hits []*LexicalHit
	for rows.Next() {
		var h LexicalHit
		var hasDoxygen int
		var score float64
		if err := rows.Scan(&h.ChunkID, &h.SymbolPath, &h.FilePath,
			&h.StartLine, &h.EndLine, &hasDoxygen, &score); err != nil {
			return nil, fmt.Errorf("scan hit: %w", err)
		}
		h.HasDoxygen = hasDoxygen != 0
		h.Score = -score // negate: higher is better
		h.MatchedTerms = terms
		hits = append(hits, &h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sortLexicalHits(hits, PrimaryToken(query))
	return hits, nil
}

// DocCount returns the number of indexed chunks.
func (s *SQLiteLexicalIndex) DocCount() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, fmt.Errorf("lexical index is closed")
	}

	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM chunks_fts`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count documents: %w", err)
	}
	return count, nil
}

// Close closes the index. Idempotent.
func (s *SQLiteLexicalIndex) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.db != nil {
		_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
		return s.db.Close()
	}
	return nil
}
