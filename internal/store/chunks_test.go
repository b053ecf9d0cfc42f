package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/citegrep/citegrep/internal/errors"
)

func newTestChunkStore(t *testing.T) *SQLiteChunkStore {
	t.Helper()
	s, err := OpenChunkStore("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testBuild(buildID, rootRef string) *Build {
	return &Build{
		BuildID:        buildID,
		RootRef:        rootRef,
		ResolvedCommit: "abcdef1234567890abcdef1234567890abcdef12",
		BuiltAt:        time.Now().UTC(),
	}
}

func testChunk(buildID, filePath string, startLine, endLine int, content string) *Chunk {
	return &Chunk{
		ChunkID:        ComputeChunkID("v6-32-00", "abcdef1234567890", filePath, startLine, endLine),
		RootRef:        "v6-32-00",
		ResolvedCommit: "abcdef1234567890",
		FilePath:       filePath,
		Language:       "cpp",
		StartLine:      startLine,
		EndLine:        endLine,
		Content:        content,
		DocOrigin:      OriginSourceImpl,
		SchemaVersion:  ChunkSchemaVersion,
		BuildID:        buildID,
	}
}

func TestComputeChunkID(t *testing.T) {
	id := ComputeChunkID("v6-32-00", "abc123", "tree/src/TTree.cxx", 100, 150)
	assert.Len(t, id, 12)

	// Deterministic: identical inputs, identical ids.
	assert.Equal(t, id, ComputeChunkID("v6-32-00", "abc123", "tree/src/TTree.cxx", 100, 150))

	// Any component change produces a different id.
	assert.NotEqual(t, id, ComputeChunkID("v6-30-00", "abc123", "tree/src/TTree.cxx", 100, 150))
	assert.NotEqual(t, id, ComputeChunkID("v6-32-00", "abc124", "tree/src/TTree.cxx", 100, 150))
	assert.NotEqual(t, id, ComputeChunkID("v6-32-00", "abc123", "tree/src/TTree.cxx", 100, 151))
}

func TestChunkValidate(t *testing.T) {
	valid := testChunk("b1", "tree/src/TTree.cxx", 10, 20, "Long64_t TTree::GetEntries()")
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*Chunk)
	}{
		{"missing chunk_id", func(c *Chunk) { c.ChunkID = "" }},
		{"missing root_ref", func(c *Chunk) { c.RootRef = "" }},
		{"absolute path", func(c *Chunk) { c.FilePath = "/etc/passwd" }},
		{"windows separators", func(c *Chunk) { c.FilePath = `tree\src\TTree.cxx` }},
		{"path escapes root", func(c *Chunk) { c.FilePath = "../outside.cxx" }},
		{"zero start_line", func(c *Chunk) { c.StartLine = 0 }},
		{"end before start", func(c *Chunk) { c.EndLine = c.StartLine - 1 }},
		{"blank content", func(c *Chunk) { c.Content = "   \n" }},
		{"unknown doc_origin", func(c *Chunk) { c.DocOrigin = "wiki_page" }},
		{"uppercase language", func(c *Chunk) { c.Language = "CPP" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := testChunk("b1", "tree/src/TTree.cxx", 10, 20, "Long64_t TTree::GetEntries()")
			tt.mutate(c)
			err := c.Validate()
			require.Error(t, err)
			assert.True(t, errors.IsKind(err, errors.KindValidation))
		})
	}
}

func TestPutGetRoundtrip(t *testing.T) {
	s := newTestChunkStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateBuild(ctx, testBuild("b1", "v6-32-00")))

	chunk := testChunk("b1", "tree/src/TTree.cxx", 100, 150, "Long64_t TTree::GetEntries() { return fEntries; }")
	chunk.SymbolPath = "TTree::GetEntries"
	chunk.SymbolKind = "method"
	chunk.Keywords = []string{"entries", "tree"}
	chunk.HasDoxygen = true
	chunk.Imports = []string{"TBranch.h"}
	require.NoError(t, s.Put(ctx, chunk))

	got, err := s.Get(ctx, "b1", chunk.ChunkID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, chunk.ChunkID, got.ChunkID)
	assert.Equal(t, chunk.Content, got.Content)
	assert.Equal(t, "TTree::GetEntries", got.SymbolPath)
	assert.Equal(t, []string{"entries", "tree"}, got.Keywords)
	assert.Equal(t, []string{"TBranch.h"}, got.Imports)
	assert.True(t, got.HasDoxygen)
	assert.Equal(t, OriginSourceImpl, got.DocOrigin)
	// source_hash is filled in on write when absent.
	assert.Equal(t, ComputeSourceHash(chunk.Content), got.SourceHash)
}

func TestPutIdempotentAndConflict(t *testing.T) {
	s := newTestChunkStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateBuild(ctx, testBuild("b1", "v6-32-00")))

	chunk := testChunk("b1", "tree/src/TTree.cxx", 100, 150, "original content")
	require.NoError(t, s.Put(ctx, chunk))

	// Identical re-insertion is a no-op.
	require.NoError(t, s.Put(ctx, chunk))

	// Same id with different content is an integrity conflict.
	conflicting := testChunk("b1", "tree/src/TTree.cxx", 100, 150, "different content")
	err := s.Put(ctx, conflicting)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindChunkIntegrityConflict))

	// The original write is untouched.
	got, err := s.Get(ctx, "b1", chunk.ChunkID)
	require.NoError(t, err)
	assert.Equal(t, "original content", got.Content)
}

func TestGetMissingChunk(t *testing.T) {
	s := newTestChunkStore(t)
	got, err := s.Get(context.Background(), "b1", "000000000000")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestGetManyPreservesOrder(t *testing.T) {
	s := newTestChunkStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateBuild(ctx, testBuild("b1", "v6-32-00")))

	a := testChunk("b1", "a.cxx", 1, 5, "chunk a content")
	b := testChunk("b1", "b.cxx", 1, 5, "chunk b content")
	c := testChunk("b1", "c.cxx", 1, 5, "chunk c content")
	for _, ch := range []*Chunk{a, b, c} {
		require.NoError(t, s.Put(ctx, ch))
	}

	got, err := s.GetMany(ctx, "b1", []string{c.ChunkID, "missing00000", a.ChunkID})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, c.ChunkID, got[0].ChunkID)
	assert.Equal(t, a.ChunkID, got[1].ChunkID)
}

func TestListByBuildPagination(t *testing.T) {
	s := newTestChunkStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateBuild(ctx, testBuild("b1", "v6-32-00")))

	for i := 0; i < 7; i++ {
		chunk := testChunk("b1", fmt.Sprintf("src/file%02d.cxx", i), 1, 10,
			fmt.Sprintf("content of file %d", i))
		require.NoError(t, s.Put(ctx, chunk))
	}

	var all []*Chunk
	cursor := ""
	pages := 0
	for {
		page, next, err := s.ListByBuild(ctx, "b1", cursor, 3)
		require.NoError(t, err)
		all = append(all, page...)
		pages++
		if next == "" {
			break
		}
		cursor = next
	}
	require.Len(t, all, 7)
	assert.GreaterOrEqual(t, pages, 3)

	// Deterministic order: file_path ascending.
	for i := 1; i < len(all); i++ {
		assert.Less(t, all[i-1].FilePath, all[i].FilePath)
	}

	// Restartable: re-issuing a cursor yields the same page.
	first, next, err := s.ListByBuild(ctx, "b1", "", 3)
	require.NoError(t, err)
	again, _, err := s.ListByBuild(ctx, "b1", "", 3)
	require.NoError(t, err)
	assert.Equal(t, first, again)

	second, _, err := s.ListByBuild(ctx, "b1", next, 3)
	require.NoError(t, err)
	secondAgain, _, err := s.ListByBuild(ctx, "b1", next, 3)
	require.NoError(t, err)
	assert.Equal(t, second, secondAgain)
}

func TestDeleteBuild(t *testing.T) {
	s := newTestChunkStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateBuild(ctx, testBuild("b1", "v6-32-00")))

	chunk := testChunk("b1", "tree/src/TTree.cxx", 1, 10, "some content")
	require.NoError(t, s.Put(ctx, chunk))
	require.NoError(t, s.Publish(ctx, "b1", ""))

	require.NoError(t, s.DeleteBuild(ctx, "b1"))

	got, err := s.Get(ctx, "b1", chunk.ChunkID)
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = s.GetBuild(ctx, "b1")
	assert.True(t, errors.IsKind(err, errors.KindVersionNotFound))

	_, err = s.CurrentBuild(ctx, "v6-32-00")
	assert.True(t, errors.IsKind(err, errors.KindVersionNotFound))
}

func TestGetBuildNotFound(t *testing.T) {
	s := newTestChunkStore(t)
	_, err := s.GetBuild(context.Background(), "nope")
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindVersionNotFound))
}

func TestCurrentBuildUnpublishedRef(t *testing.T) {
	s := newTestChunkStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateBuild(ctx, testBuild("b1", "v6-32-00")))

	// A build exists but nothing is published yet.
	_, err := s.CurrentBuild(ctx, "v6-32-00")
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindVersionNotFound))
}

func TestPublishCompareAndSwap(t *testing.T) {
	s := newTestChunkStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateBuild(ctx, testBuild("b1", "v6-32-00")))
	require.NoError(t, s.CreateBuild(ctx, testBuild("b2", "v6-32-00")))

	// First publish expects no current build.
	require.NoError(t, s.Publish(ctx, "b1", ""))

	current, err := s.CurrentBuild(ctx, "v6-32-00")
	require.NoError(t, err)
	assert.Equal(t, "b1", current.BuildID)
	assert.True(t, current.Current)

	// Stale expectation fails with no side effects.
	err = s.Publish(ctx, "b2", "")
	require.Error(t, err)
	current, err = s.CurrentBuild(ctx, "v6-32-00")
	require.NoError(t, err)
	assert.Equal(t, "b1", current.BuildID)

	// Correct expectation swaps the pointer.
	require.NoError(t, s.Publish(ctx, "b2", "b1"))
	current, err = s.CurrentBuild(ctx, "v6-32-00")
	require.NoError(t, err)
	assert.Equal(t, "b2", current.BuildID)

	// The superseded build remains queryable by explicit id.
	old, err := s.GetBuild(ctx, "b1")
	require.NoError(t, err)
	assert.False(t, old.Current)
}

func TestPublishUnknownBuild(t *testing.T) {
	s := newTestChunkStore(t)
	err := s.Publish(context.Background(), "missing", "")
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindVersionNotFound))
}

func TestListBuildsNewestFirst(t *testing.T) {
	s := newTestChunkStore(t)
	ctx := context.Background()

	older := testBuild("b1", "v6-30-00")
	older.BuiltAt = time.Now().UTC().Add(-time.Hour)
	newer := testBuild("b2", "v6-32-00")
	newer.BuiltAt = time.Now().UTC()

	require.NoError(t, s.CreateBuild(ctx, older))
	require.NoError(t, s.CreateBuild(ctx, newer))

	builds, err := s.ListBuilds(ctx)
	require.NoError(t, err)
	require.Len(t, builds, 2)
	assert.Equal(t, "b2", builds[0].BuildID)
	assert.Equal(t, "b1", builds[1].BuildID)
}

func TestBuildCorpusID(t *testing.T) {
	b := testBuild("b1", "v6-32-00")
	assert.Equal(t, "v6-32-00__abcdef123456", b.CorpusID())

	short := &Build{RootRef: "master", ResolvedCommit: "abc"}
	assert.Equal(t, "master__abc", short.CorpusID())
}

func TestChunkStoreCloseIdempotent(t *testing.T) {
	s, err := OpenChunkStore("")
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
}
