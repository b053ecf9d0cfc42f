package answer

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/citegrep/citegrep/internal/errors"
	"github.com/citegrep/citegrep/internal/search"
	"github.com/citegrep/citegrep/internal/store"
)

func candidate(id, file string, start, end int, score float64) *search.Candidate {
	return &search.Candidate{
		ChunkID:       id,
		CombinedScore: score,
		FilePath:      file,
		StartLine:     start,
		EndLine:       end,
	}
}

func chunkFor(c *search.Candidate) *store.Chunk {
	return &store.Chunk{
		ChunkID:   c.ChunkID,
		FilePath:  c.FilePath,
		StartLine: c.StartLine,
		EndLine:   c.EndLine,
		Content:   "content of " + c.ChunkID,
	}
}

func chunkMap(candidates ...*search.Candidate) map[string]*store.Chunk {
	m := make(map[string]*store.Chunk, len(candidates))
	for _, c := range candidates {
		m[c.ChunkID] = chunkFor(c)
	}
	return m
}

func TestAssembleRefusesWithoutEvidence(t *testing.T) {
	a := NewAssembler(DefaultConfig())

	payload := a.Assemble(context.Background(), "What does TotallyFakeClass do?",
		&search.Result{Candidates: []*search.Candidate{}},
		map[string]*store.Chunk{}, "v6-32-00", "abc123")

	assert.Equal(t, StateRefused, payload.State)
	assert.Equal(t, RefusalText, payload.AnswerText)
	assert.Empty(t, payload.Evidence)
	assert.Equal(t, "v6-32-00", payload.RootRef)
	assert.Equal(t, "abc123", payload.ResolvedCommit)
}

func TestAssembleDeduplicatesOverlappingRanges(t *testing.T) {
	a := NewAssembler(DefaultConfig())

	// Two overlapping ranges in the same file: the higher-ranked wins.
	// The third shares lines but lives in a different file, so it stays.
	c1 := candidate("c1", "tree/src/TTree.cxx", 100, 150, 0.9)
	c2 := candidate("c2", "tree/src/TTree.cxx", 140, 180, 0.8)
	c3 := candidate("c3", "tree/inc/TTree.h", 100, 150, 0.7)

	payload := a.Assemble(context.Background(), "q",
		&search.Result{Candidates: []*search.Candidate{c1, c2, c3}},
		chunkMap(c1, c2, c3), "ref", "commit")

	require.Len(t, payload.Evidence, 2)
	assert.Equal(t, "c1", payload.Evidence[0].Candidate.ChunkID)
	assert.Equal(t, "c3", payload.Evidence[1].Candidate.ChunkID)
	assert.Equal(t, StateAnswerFinal, payload.State)
}

func TestAssembleKeepsSemanticOnlyEvidenceFromDistinctFiles(t *testing.T) {
	a := NewAssembler(DefaultConfig())

	// Candidates that came in through semantic retrieval alone carry no
	// file metadata of their own; only the resolved chunks do. Chunks in
	// different files never count as overlapping.
	c1 := &search.Candidate{ChunkID: "s1", CombinedScore: 0.9}
	c2 := &search.Candidate{ChunkID: "s2", CombinedScore: 0.8}
	chunks := map[string]*store.Chunk{
		"s1": {ChunkID: "s1", FilePath: "tree/inc/TTree.h", StartLine: 10, EndLine: 20, Content: "virtual void Draw(Option_t* option);"},
		"s2": {ChunkID: "s2", FilePath: "hist/src/TH1.cxx", StartLine: 100, EndLine: 150, Content: "Int_t TH1::Fill(Double_t x) { ... }"},
	}

	payload := a.Assemble(context.Background(), "q",
		&search.Result{Candidates: []*search.Candidate{c1, c2}},
		chunks, "ref", "commit")

	require.Len(t, payload.Evidence, 2)
	assert.Equal(t, "s1", payload.Evidence[0].Candidate.ChunkID)
	assert.Equal(t, "s2", payload.Evidence[1].Candidate.ChunkID)
}

func TestAssembleDeduplicatesByResolvedChunkRange(t *testing.T) {
	a := NewAssembler(DefaultConfig())

	// A semantic-only candidate whose chunk overlaps an already retained
	// range in the same file is dropped, based on the chunk's range.
	c1 := candidate("c1", "tree/src/TTree.cxx", 100, 150, 0.9)
	c2 := &search.Candidate{ChunkID: "c2", CombinedScore: 0.8}
	chunks := chunkMap(c1)
	chunks["c2"] = &store.Chunk{
		ChunkID: "c2", FilePath: "tree/src/TTree.cxx",
		StartLine: 140, EndLine: 180, Content: "content of c2",
	}

	payload := a.Assemble(context.Background(), "q",
		&search.Result{Candidates: []*search.Candidate{c1, c2}},
		chunks, "ref", "commit")

	require.Len(t, payload.Evidence, 1)
	assert.Equal(t, "c1", payload.Evidence[0].Candidate.ChunkID)
}

func TestAssembleKeepsAdjacentNonOverlappingRanges(t *testing.T) {
	a := NewAssembler(DefaultConfig())

	c1 := candidate("c1", "f.cxx", 100, 150, 0.9)
	c2 := candidate("c2", "f.cxx", 151, 200, 0.8)

	payload := a.Assemble(context.Background(), "q",
		&search.Result{Candidates: []*search.Candidate{c1, c2}},
		chunkMap(c1, c2), "ref", "commit")

	assert.Len(t, payload.Evidence, 2)
}

func TestAssembleInsufficientEvidenceWarning(t *testing.T) {
	a := NewAssembler(Config{ConfidenceFloor: 0.5, MaxEvidence: 5})

	c1 := candidate("c1", "a.cxx", 1, 10, 0.2)
	c2 := candidate("c2", "b.cxx", 1, 10, 0.1)

	payload := a.Assemble(context.Background(), "q",
		&search.Result{Candidates: []*search.Candidate{c1, c2}},
		chunkMap(c1, c2), "ref", "commit")

	// Weak evidence is still returned, flagged rather than suppressed.
	assert.Len(t, payload.Evidence, 2)
	require.Len(t, payload.Warnings, 1)
	assert.Equal(t, WarnInsufficientEvidence, payload.Warnings[0].Code)
	assert.Equal(t, StateAnswerFinal, payload.State)
}

func TestAssembleNoWarningAboveFloor(t *testing.T) {
	a := NewAssembler(Config{ConfidenceFloor: 0.5, MaxEvidence: 5})

	c1 := candidate("c1", "a.cxx", 1, 10, 0.8)
	c2 := candidate("c2", "b.cxx", 1, 10, 0.1)

	payload := a.Assemble(context.Background(), "q",
		&search.Result{Candidates: []*search.Candidate{c1, c2}},
		chunkMap(c1, c2), "ref", "commit")

	assert.Empty(t, payload.Warnings)
}

func TestAssembleTruncatesToMaxEvidence(t *testing.T) {
	a := NewAssembler(Config{MaxEvidence: 2})

	var candidates []*search.Candidate
	for i := 0; i < 5; i++ {
		candidates = append(candidates,
			candidate(fmt.Sprintf("c%d", i), fmt.Sprintf("f%d.cxx", i), 1, 10, 0.9-float64(i)*0.1))
	}

	payload := a.Assemble(context.Background(), "q",
		&search.Result{Candidates: candidates},
		chunkMap(candidates...), "ref", "commit")

	assert.Len(t, payload.Evidence, 2)
}

func TestAssembleDropsUnresolvedCandidates(t *testing.T) {
	a := NewAssembler(DefaultConfig())

	c1 := candidate("c1", "a.cxx", 1, 10, 0.9)
	c2 := candidate("missing", "b.cxx", 1, 10, 0.8)

	payload := a.Assemble(context.Background(), "q",
		&search.Result{Candidates: []*search.Candidate{c1, c2}},
		chunkMap(c1), "ref", "commit")

	require.Len(t, payload.Evidence, 1)
	assert.Equal(t, "c1", payload.Evidence[0].Candidate.ChunkID)
}

// recordingSummarizer captures what it was asked to summarize.
type recordingSummarizer struct {
	question string
	evidence []*Evidence
	text     string
	err      error
}

func (r *recordingSummarizer) Summarize(ctx context.Context, question string, evidence []*Evidence) (string, error) {
	r.question = question
	r.evidence = evidence
	return r.text, r.err
}

func TestAssembleWithSummarizer(t *testing.T) {
	s := &recordingSummarizer{text: "TTree::Draw forwards to the player [1]."}
	a := NewAssembler(DefaultConfig(), WithSummarizer(s))

	c1 := candidate("c1", "a.cxx", 1, 10, 0.9)
	payload := a.Assemble(context.Background(), "How does Draw work?",
		&search.Result{Candidates: []*search.Candidate{c1}},
		chunkMap(c1), "ref", "commit")

	assert.Equal(t, "TTree::Draw forwards to the player [1].", payload.AnswerText)
	assert.Equal(t, "How does Draw work?", s.question)
	require.Len(t, s.evidence, 1)

	// Raw evidence rides along with the summary.
	require.Len(t, payload.Evidence, 1)
	assert.Equal(t, "content of c1", payload.Evidence[0].Chunk.Content)
}

func TestAssembleSummarizerFailureKeepsEvidence(t *testing.T) {
	s := &recordingSummarizer{err: errors.New(errors.KindProviderUnavailable, "model not loaded")}
	a := NewAssembler(DefaultConfig(), WithSummarizer(s))

	c1 := candidate("c1", "a.cxx", 1, 10, 0.9)
	payload := a.Assemble(context.Background(), "q",
		&search.Result{Candidates: []*search.Candidate{c1}},
		chunkMap(c1), "ref", "commit")

	assert.Empty(t, payload.AnswerText)
	require.Len(t, payload.Evidence, 1)
	require.Len(t, payload.Warnings, 1)
	assert.Equal(t, search.WarnProviderUnavailable, payload.Warnings[0].Code)
	assert.Equal(t, StateAnswerFinal, payload.State)
}

func TestAssembleNoSummarizerReturnsBareEvidence(t *testing.T) {
	a := NewAssembler(DefaultConfig())

	c1 := candidate("c1", "a.cxx", 1, 10, 0.9)
	payload := a.Assemble(context.Background(), "q",
		&search.Result{Candidates: []*search.Candidate{c1}},
		chunkMap(c1), "ref", "commit")

	assert.Empty(t, payload.AnswerText)
	assert.Len(t, payload.Evidence, 1)
	assert.Equal(t, StateAnswerFinal, payload.State)
}

func TestAssembleCarriesRetrievalWarnings(t *testing.T) {
	a := NewAssembler(DefaultConfig())

	c1 := candidate("c1", "a.cxx", 1, 10, 0.9)
	result := &search.Result{
		Candidates: []*search.Candidate{c1},
		Warnings: []search.Warning{
			{Code: search.WarnIndexNotFound, Message: "no vector index"},
		},
	}

	payload := a.Assemble(context.Background(), "q", result, chunkMap(c1), "ref", "commit")
	require.Len(t, payload.Warnings, 1)
	assert.Equal(t, search.WarnIndexNotFound, payload.Warnings[0].Code)
}
