package ingest

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/citegrep/citegrep/internal/errors"
	"github.com/citegrep/citegrep/internal/store"
)

const validRecord = `{"root_ref":"v6-32-00","resolved_commit":"abc123def456","file_path":"tree/inc/TTree.h","language":"cpp","start_line":210,"end_line":245,"content":"virtual void Draw(Option_t* option);","doc_origin":"source_header","symbol_path":"TTree::Draw"}`

func TestReadChunksFillsDerivedFields(t *testing.T) {
	chunks, err := ReadChunks(strings.NewReader(validRecord + "\n"))
	require.NoError(t, err)
	require.Len(t, chunks, 1)

	c := chunks[0]
	assert.Equal(t, store.ComputeChunkID("v6-32-00", "abc123def456", "tree/inc/TTree.h", 210, 245), c.ChunkID)
	assert.Equal(t, store.ComputeSourceHash(c.Content), c.SourceHash)
	assert.Equal(t, store.ChunkSchemaVersion, c.SchemaVersion)
	assert.Equal(t, "TTree::Draw", c.SymbolPath)
	assert.Equal(t, store.OriginSourceHeader, c.DocOrigin)
}

func TestReadChunksSkipsBlankLinesAndIgnoresUnknownFields(t *testing.T) {
	withUnknown := strings.Replace(validRecord, `"language":"cpp"`,
		`"language":"cpp","future_field":{"nested":true}`, 1)
	input := "\n" + validRecord + "\n\n" + withUnknown + "\n"

	chunks, err := ReadChunks(strings.NewReader(input))
	require.NoError(t, err)
	assert.Len(t, chunks, 2)
}

func TestReadChunksRejectsMalformedJSON(t *testing.T) {
	_, err := ReadChunks(strings.NewReader(validRecord + "\n{not json\n"))
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindValidation))
	assert.Contains(t, err.Error(), "line 2")
}

func TestReadChunksRejectsInvalidRecord(t *testing.T) {
	bad := strings.Replace(validRecord, `"start_line":210`, `"start_line":0`, 1)
	_, err := ReadChunks(strings.NewReader(bad + "\n"))
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindValidation))
}

func TestReadChunksEmptyInput(t *testing.T) {
	chunks, err := ReadChunks(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestReadChunksFileMissing(t *testing.T) {
	_, err := ReadChunksFile("/nonexistent/chunks.jsonl")
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindValidation))
}
