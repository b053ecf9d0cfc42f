package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	"github.com/citegrep/citegrep/internal/errors"
)

// cursorSep separates the ordering-tuple fields inside a list cursor.
const cursorSep = "\x1f"

// SQLiteChunkStore implements ChunkStore on SQLite with WAL mode.
// Chunks are partitioned by build_id; the current-build pointer per
// root_ref lives in its own table and is only ever moved by the
// compare-and-swap in Publish.
type SQLiteChunkStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	closed bool
}

var _ ChunkStore = (*SQLiteChunkStore)(nil)

// OpenChunkStore opens (or creates) a chunk store at path.
// An empty path opens an in-memory store for testing.
func OpenChunkStore(path string) (*SQLiteChunkStore, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
		dsn = path + "?_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open chunk store: %w", err)
	}

	// Single writer prevents lock contention with modernc.org/sqlite.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// WAL must be set via PRAGMA for modernc.org/sqlite; DSN params can
	// be ignored by the driver.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}

	s := &SQLiteChunkStore{db: db, path: path}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteChunkStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);

	CREATE TABLE IF NOT EXISTS builds (
		build_id        TEXT PRIMARY KEY,
		root_ref        TEXT NOT NULL,
		resolved_commit TEXT NOT NULL,
		chunk_count     INTEGER NOT NULL DEFAULT 0,
		has_vector      INTEGER NOT NULL DEFAULT 0,
		vector_note     TEXT NOT NULL DEFAULT '',
		embed_model     TEXT NOT NULL DEFAULT '',
		built_at        TEXT NOT NULL
	);

	-- Current-build pointer per root_ref, moved only by CAS in Publish.
	CREATE TABLE IF NOT EXISTS current_builds (
		root_ref TEXT PRIMARY KEY,
		build_id TEXT NOT NULL REFERENCES builds(build_id)
	);

	CREATE TABLE IF NOT EXISTS chunks (
		build_id        TEXT NOT NULL REFERENCES builds(build_id) ON DELETE CASCADE,
		chunk_id        TEXT NOT NULL,
		root_ref        TEXT NOT NULL,
		resolved_commit TEXT NOT NULL,
		file_path       TEXT NOT NULL,
		language        TEXT NOT NULL,
		start_line      INTEGER NOT NULL,
		end_line        INTEGER NOT NULL,
		content         TEXT NOT NULL,
		doc_origin      TEXT NOT NULL,
		schema_version  TEXT NOT NULL,
		symbol_path     TEXT NOT NULL DEFAULT '',
		symbol_kind     TEXT NOT NULL DEFAULT '',
		keywords        TEXT NOT NULL DEFAULT '[]',
		has_doxygen     INTEGER NOT NULL DEFAULT 0,
		imports         TEXT NOT NULL DEFAULT '[]',
		parser_name     TEXT NOT NULL DEFAULT '',
		parser_version  TEXT NOT NULL DEFAULT '',
		source_hash     TEXT NOT NULL,
		PRIMARY KEY (build_id, chunk_id)
	);

	CREATE INDEX IF NOT EXISTS chunks_list_order
		ON chunks(build_id, file_path, start_line, end_line, chunk_id);

	INSERT OR IGNORE INTO schema_version (version) VALUES (1);
	`
	_, err := s.db.Exec(schema)
	return err
}

// CreateBuild registers a new, unpublished build.
func (s *SQLiteChunkStore) CreateBuild(ctx context.Context, build *Build) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("chunk store is closed")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO builds (build_id, root_ref, resolved_commit, chunk_count, has_vector, vector_note, embed_model, built_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		build.BuildID, build.RootRef, build.ResolvedCommit, build.ChunkCount,
		boolToInt(build.HasVector), build.VectorNote, build.EmbedModel,
		build.BuiltAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("create build %s: %w", build.BuildID, err)
	}
	return nil
}

// Put stores a chunk. Re-inserting an identical chunk is a no-op;
// the same chunk_id with a different source_hash is an integrity
// conflict and rejects the write.
func (s *SQLiteChunkStore) Put(ctx context.Context, chunk *Chunk) error {
	if err := chunk.Validate(); err != nil {
		return err
	}
	if chunk.BuildID == "" {
		return errors.New(errors.KindValidation, "chunk has no build_id")
	}

	sourceHash := chunk.SourceHash
	if sourceHash == "" {
		sourceHash = ComputeSourceHash(chunk.Content)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("chunk store is closed")
	}

	var existing string
	err := s.db.QueryRowContext(ctx,
		`SELECT source_hash FROM chunks WHERE build_id = ? AND chunk_id = ?`,
		chunk.BuildID, chunk.ChunkID).Scan(&existing)
	switch {
	case err == nil:
		if existing != sourceHash {
			return errors.Newf(errors.KindChunkIntegrityConflict,
				"chunk %s already exists in build %s with a different source hash",
				chunk.ChunkID, chunk.BuildID).
				WithDetail("existing_hash", existing).
				WithDetail("incoming_hash", sourceHash)
		}
		return nil // idempotent re-insertion
	case err != sql.ErrNoRows:
		return fmt.Errorf("check existing chunk %s: %w", chunk.ChunkID, err)
	}

	keywords, err := json.Marshal(chunk.Keywords)
	if err != nil {
		return fmt.Errorf("marshal keywords: %w", err)
	}
	imports, err := json.Marshal(chunk.Imports)
	if err != nil {
		return fmt.Errorf("marshal imports: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO chunks (build_id, chunk_id, root_ref, resolved_commit, file_path, language,
			start_line, end_line, content, doc_origin, schema_version,
			symbol_path, symbol_kind, keywords, has_doxygen, imports,
			parser_name, parser_version, source_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		chunk.BuildID, chunk.ChunkID, chunk.RootRef, chunk.ResolvedCommit,
		chunk.FilePath, chunk.Language, chunk.StartLine, chunk.EndLine,
		chunk.Content, string(chunk.DocOrigin), chunk.SchemaVersion,
		chunk.SymbolPath, chunk.SymbolKind, string(keywords),
		boolToInt(chunk.HasDoxygen), string(imports),
		chunk.ParserName, chunk.ParserVersion, sourceHash)
	if err != nil {
		return fmt.Errorf("insert chunk %s: %w", chunk.ChunkID, err)
	}
	return nil
}

const chunkColumns = `build_id, chunk_id, root_ref, resolved_commit, file_path, language,
	start_line, end_line, content, doc_origin, schema_version,
	symbol_path, symbol_kind, keywords, has_doxygen, imports,
	parser_name, parser_version, source_hash`

// Get retrieves a chunk by id within one build. Missing chunks yield
// (nil, nil).
func (s *SQLiteChunkStore) Get(ctx context.Context, buildID, chunkID string) (*Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("chunk store is closed")
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT `+chunkColumns+` FROM chunks WHERE build_id = ? AND chunk_id = ?`,
		buildID, chunkID)
	chunk, err := scanChunk(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get chunk %s: %w", chunkID, err)
	}
	return chunk, nil
}

// GetMany retrieves several chunks from one build in a single query.
// Missing ids are silently skipped; the result preserves the input order.
func (s *SQLiteChunkStore) GetMany(ctx context.Context, buildID string, chunkIDs []string) ([]*Chunk, error) {
	if len(chunkIDs) == 0 {
		return []*Chunk{}, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("chunk store is closed")
	}

	placeholders := make([]string, len(chunkIDs))
	args := make([]any, 0, len(chunkIDs)+1)
	args = append(args, buildID)
	for i, id := range chunkIDs {
		placeholders[i] = "?"
		args = append(args, id)
	}

	query := fmt.Sprintf(`SELECT %s FROM chunks WHERE build_id = ? AND chunk_id IN (%s)`,
		chunkColumns, strings.Join(placeholders, ","))
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get chunks: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]*Chunk, len(chunkIDs))
	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		byID[chunk.ChunkID] = chunk
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	result := make([]*Chunk, 0, len(byID))
	for _, id := range chunkIDs {
		if c, ok := byID[id]; ok {
			result = append(result, c)
		}
	}
	return result, nil
}

// ListByBuild returns a page of chunks in deterministic order. The
// cursor encodes the last row's ordering tuple, so a listing can be
// restarted from any page.
func (s *SQLiteChunkStore) ListByBuild(ctx context.Context, buildID, cursor string, limit int) ([]*Chunk, string, error) {
	if limit <= 0 {
		limit = 500
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, "", fmt.Errorf("chunk store is closed")
	}

	query := `SELECT ` + chunkColumns + ` FROM chunks WHERE build_id = ?`
	args := []any{buildID}
	if cursor != "" {
		filePath, startLine, endLine, chunkID, err := decodeCursor(cursor)
		if err != nil {
			return nil, "", err
		}
		query += ` AND (file_path, start_line, end_line, chunk_id) > (?, ?, ?, ?)`
		args = append(args, filePath, startLine, endLine, chunkID)
	}
	query += ` ORDER BY file_path, start_line, end_line, chunk_id LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, "", fmt.Errorf("list chunks: %w", err)
	}
	defer rows.Close()

	var chunks []*Chunk
	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return nil, "", fmt.Errorf("scan chunk: %w", err)
		}
		chunks = append(chunks, chunk)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}

	next := ""
	if len(chunks) == limit {
		last := chunks[len(chunks)-1]
		next = encodeCursor(last.FilePath, last.StartLine, last.EndLine, last.ChunkID)
	}
	return chunks, next, nil
}

// DeleteBuild removes a build, its chunks, and its current pointer (if
// any) in one transaction. Never partially visible.
func (s *SQLiteChunkStore) DeleteBuild(ctx context.Context, buildID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("chunk store is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM current_builds WHERE build_id = ?`, buildID); err != nil {
		return fmt.Errorf("clear current pointer: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE build_id = ?`, buildID); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM builds WHERE build_id = ?`, buildID); err != nil {
		return fmt.Errorf("delete build: %w", err)
	}
	return tx.Commit()
}

// GetBuild returns build metadata by id.
func (s *SQLiteChunkStore) GetBuild(ctx context.Context, buildID string) (*Build, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("chunk store is closed")
	}

	build, err := s.scanBuild(s.db.QueryRowContext(ctx, `
		SELECT b.build_id, b.root_ref, b.resolved_commit, b.chunk_count, b.has_vector,
			b.vector_note, b.embed_model, b.built_at,
			EXISTS(SELECT 1 FROM current_builds c WHERE c.build_id = b.build_id)
		FROM builds b WHERE b.build_id = ?`, buildID))
	if err == sql.ErrNoRows {
		return nil, errors.Newf(errors.KindVersionNotFound, "build %s not found", buildID)
	}
	if err != nil {
		return nil, fmt.Errorf("get build %s: %w", buildID, err)
	}
	return build, nil
}

// CurrentBuild resolves root_ref to its current published build.
func (s *SQLiteChunkStore) CurrentBuild(ctx context.Context, rootRef string) (*Build, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("chunk store is closed")
	}

	build, err := s.scanBuild(s.db.QueryRowContext(ctx, `
		SELECT b.build_id, b.root_ref, b.resolved_commit, b.chunk_count, b.has_vector,
			b.vector_note, b.embed_model, b.built_at, 1
		FROM current_builds c JOIN builds b ON b.build_id = c.build_id
		WHERE c.root_ref = ?`, rootRef))
	if err == sql.ErrNoRows {
		return nil, errors.Newf(errors.KindVersionNotFound, "no build published for root_ref %q", rootRef)
	}
	if err != nil {
		return nil, fmt.Errorf("resolve current build for %s: %w", rootRef, err)
	}
	return build, nil
}

// Publish atomically swaps the current-build pointer for the build's
// root_ref from expectedOld to buildID. Compare-and-swap: if another
// publisher moved the pointer since expectedOld was read, the swap
// fails with no side effects.
func (s *SQLiteChunkStore) Publish(ctx context.Context, buildID, expectedOld string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("chunk store is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin publish: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var rootRef string
	if err := tx.QueryRowContext(ctx,
		`SELECT root_ref FROM builds WHERE build_id = ?`, buildID).Scan(&rootRef); err != nil {
		if err == sql.ErrNoRows {
			return errors.Newf(errors.KindVersionNotFound, "build %s not found", buildID)
		}
		return fmt.Errorf("resolve build %s: %w", buildID, err)
	}

	var current string
	err = tx.QueryRowContext(ctx,
		`SELECT build_id FROM current_builds WHERE root_ref = ?`, rootRef).Scan(&current)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("read current pointer: %w", err)
	}
	if current != expectedOld {
		return errors.Newf(errors.KindInternal,
			"publish conflict for %q: current build is %q, expected %q", rootRef, current, expectedOld)
	}

	if current == "" {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO current_builds (root_ref, build_id) VALUES (?, ?)`, rootRef, buildID)
	} else {
		_, err = tx.ExecContext(ctx,
			`UPDATE current_builds SET build_id = ? WHERE root_ref = ? AND build_id = ?`,
			buildID, rootRef, current)
	}
	if err != nil {
		return fmt.Errorf("swap current pointer: %w", err)
	}
	return tx.Commit()
}

// ListBuilds returns all builds, newest first.
func (s *SQLiteChunkStore) ListBuilds(ctx context.Context) ([]*Build, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("chunk store is closed")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT b.build_id, b.root_ref, b.resolved_commit, b.chunk_count, b.has_vector,
			b.vector_note, b.embed_model, b.built_at,
			EXISTS(SELECT 1 FROM current_builds c WHERE c.build_id = b.build_id)
		FROM builds b ORDER BY b.built_at DESC, b.build_id`)
	if err != nil {
		return nil, fmt.Errorf("list builds: %w", err)
	}
	defer rows.Close()

	var builds []*Build
	for rows.Next() {
		build, err := s.scanBuild(rows)
		if err != nil {
			return nil, fmt.Errorf("scan build: %w", err)
		}
		builds = append(builds, build)
	}
	return builds, rows.Err()
}

// SetChunkCount records the final chunk count on a build row.
func (s *SQLiteChunkStore) SetChunkCount(ctx context.Context, buildID string, count int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("chunk store is closed")
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE builds SET chunk_count = ? WHERE build_id = ?`, count, buildID)
	return err
}

// SetVectorState records whether the build got a vector index and why not.
func (s *SQLiteChunkStore) SetVectorState(ctx context.Context, buildID string, hasVector bool, note, model string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("chunk store is closed")
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE builds SET has_vector = ?, vector_note = ?, embed_model = ? WHERE build_id = ?`,
		boolToInt(hasVector), note, model, buildID)
	return err
}

// Close closes the store. Idempotent.
func (s *SQLiteChunkStore) Close() error {
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

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChunk(row rowScanner) (*Chunk, error) {
	var c Chunk
	var origin, keywords, imports string
	var hasDoxygen int
	err := row.Scan(&c.BuildID, &c.ChunkID, &c.RootRef, &c.ResolvedCommit,
		&c.FilePath, &c.Language, &c.StartLine, &c.EndLine, &c.Content,
		&origin, &c.SchemaVersion, &c.SymbolPath, &c.SymbolKind, &keywords,
		&hasDoxygen, &imports, &c.ParserName, &c.ParserVersion, &c.SourceHash)
	if err != nil {
		return nil, err
	}
	c.DocOrigin = DocOrigin(origin)
	c.HasDoxygen = hasDoxygen != 0
	if err := json.Unmarshal([]byte(keywords), &c.Keywords); err != nil {
		return nil, fmt.Errorf("unmarshal keywords: %w", err)
	}
	if err := json.Unmarshal([]byte(imports), &c.Imports); err != nil {
		return nil, fmt.Errorf("unmarshal imports: %w", err)
	}
	return &c, nil
}

func (s *SQLiteChunkStore) scanBuild(row rowScanner) (*Build, error) {
	var b Build
	var hasVector, current int
	var builtAt string
	err := row.Scan(&b.BuildID, &b.RootRef, &b.ResolvedCommit, &b.ChunkCount,
		&hasVector, &b.VectorNote, &b.EmbedModel, &builtAt, &current)
	if err != nil {
		return nil, err
	}
	b.HasVector = hasVector != 0
	b.Current = current != 0
	if t, err := time.Parse(time.RFC3339Nano, builtAt); err == nil {
		b.BuiltAt = t
	}
	return &b, nil
}

func encodeCursor(filePath string, startLine, endLine int, chunkID string) string {
	return strings.Join([]string{
		filePath,
		strconv.Itoa(startLine),
		strconv.Itoa(endLine),
		chunkID,
	}, cursorSep)
}

func decodeCursor(cursor string) (filePath string, startLine, endLine int, chunkID string, err error) {
	parts := strings.Split(cursor, cursorSep)
	if len(parts) != 4 {
		return "", 0, 0, "", errors.Newf(errors.KindValidation, "malformed list cursor")
	}
	startLine, err = strconv.Atoi(parts[1])
	if err != nil {
		return "", 0, 0, "", errors.Newf(errors.KindValidation, "malformed list cursor")
	}
	endLine, err = strconv.Atoi(parts[2])
	if err != nil {
		return "", 0, 0, "", errors.Newf(errors.KindValidation, "malformed list cursor")
	}
	return parts[0], startLine, endLine, parts[3], nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
