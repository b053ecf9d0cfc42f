// Package ingest reads chunk records from the external parser boundary.
// Records arrive as JSONL; unknown fields are ignored, required fields
// are validated, and any invalid record fails the whole build.
package ingest

import (
	"bufio"
	"encoding/json"
	"io"
	"os"
	"strings"

	"github.com/citegrep/citegrep/internal/errors"
	"github.com/citegrep/citegrep/internal/store"
)

// maxRecordBytes bounds a single JSONL line: content caps at 1 MiB,
// leave headroom for metadata and JSON escaping.
const maxRecordBytes = 4 * store.MaxContentBytes

// ReadChunks decodes chunk records from r. Blank lines are skipped.
// Missing derivable fields (chunk_id, source_hash, schema_version) are
// filled in; everything else must satisfy the record invariants.
func ReadChunks(r io.Reader) ([]*store.Chunk, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxRecordBytes)

	var chunks []*store.Chunk
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}

		var chunk store.Chunk
		if err := json.Unmarshal([]byte(text), &chunk); err != nil {
			return nil, errors.Wrapf(errors.KindValidation, err,
				"chunk record at line %d is not valid JSON", line)
		}

		normalize(&chunk)
		if err := chunk.Validate(); err != nil {
			return nil, errors.Wrapf(errors.KindValidation, err,
				"chunk record at line %d failed validation", line)
		}
		chunks = append(chunks, &chunk)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(errors.KindValidation, "read chunk records", err)
	}
	return chunks, nil
}

// ReadChunksFile reads chunk records from a JSONL file.
func ReadChunksFile(path string) ([]*store.Chunk, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(errors.KindValidation, err, "open chunk records %s", path)
	}
	defer f.Close()
	return ReadChunks(f)
}

// normalize fills derivable fields the parser may omit.
func normalize(c *store.Chunk) {
	if c.ChunkID == "" {
		c.ChunkID = store.ComputeChunkID(c.RootRef, c.ResolvedCommit, c.FilePath, c.StartLine, c.EndLine)
	}
	if c.SourceHash == "" && c.Content != "" {
		c.SourceHash = store.ComputeSourceHash(c.Content)
	}
	if c.SchemaVersion == "" {
		c.SchemaVersion = store.ChunkSchemaVersion
	}
}
