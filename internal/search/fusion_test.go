package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/citegrep/citegrep/internal/store"
)

func lexHit(id string, score float64, symbol string) *store.LexicalHit {
	return &store.LexicalHit{
		ChunkID:    id,
		Score:      score,
		SymbolPath: symbol,
		FilePath:   id + ".cxx",
		StartLine:  1,
		EndLine:    10,
	}
}

func semHit(id string, similarity float32) *store.VectorHit {
	return &store.VectorHit{ChunkID: id, Similarity: similarity}
}

func TestFuseLexicalOnlyNormalization(t *testing.T) {
	f := NewFuser(DefaultWeights(), 3)

	candidates := f.Fuse([]*store.LexicalHit{
		lexHit("top", 8.0, ""),
		lexHit("half", 4.0, ""),
	}, nil, "")

	require.Len(t, candidates, 2)
	assert.Equal(t, "top", candidates[0].ChunkID)
	// Max-normalized: the best lexical hit gets the full lexical weight.
	assert.InDelta(t, 0.7, candidates[0].CombinedScore, 1e-9)
	assert.InDelta(t, 0.35, candidates[1].CombinedScore, 1e-9)
	assert.Equal(t, 1, candidates[0].Rank)
	assert.Equal(t, 2, candidates[1].Rank)
	assert.Equal(t, []SourceMode{SourceLexical}, candidates[0].SourceModes)
}

func TestFuseMergesByChunkID(t *testing.T) {
	f := NewFuser(DefaultWeights(), 3)

	candidates := f.Fuse(
		[]*store.LexicalHit{lexHit("both", 5.0, ""), lexHit("lexonly", 2.5, "")},
		[]*store.VectorHit{semHit("both", 0.9), semHit("semonly", 0.6)},
		"")

	require.Len(t, candidates, 3)

	byID := make(map[string]*Candidate)
	for _, c := range candidates {
		byID[c.ChunkID] = c
	}

	both := byID["both"]
	assert.InDelta(t, 0.7+0.3, both.CombinedScore, 1e-9)
	assert.True(t, both.hasSource(SourceLexical))
	assert.True(t, both.hasSource(SourceSemantic))

	assert.InDelta(t, 0.35, byID["lexonly"].CombinedScore, 1e-9)
	assert.InDelta(t, 0.3*(0.6/0.9), byID["semonly"].CombinedScore, 1e-9)
	assert.False(t, byID["semonly"].hasSource(SourceLexical))

	assert.Equal(t, "both", candidates[0].ChunkID)
}

func TestFuseNonSuppressionBoostsSymbolExact(t *testing.T) {
	f := NewFuser(DefaultWeights(), 3)

	// The symbol-exact chunk has a weak lexical score and no semantic
	// support; everything else is semantically popular.
	lex := []*store.LexicalHit{
		lexHit("b", 5.0, ""),
		lexHit("c", 4.0, ""),
		lexHit("d", 3.0, ""),
		lexHit("e", 2.0, ""),
		lexHit("exact", 1.0, "TTree::Draw"),
	}
	sem := []*store.VectorHit{
		semHit("b", 1.0),
		semHit("c", 0.9),
		semHit("d", 0.8),
		semHit("e", 0.7),
	}

	candidates := f.Fuse(lex, sem, "TTree::Draw")
	require.Len(t, candidates, 5)

	rankOf := func(id string) int {
		for _, c := range candidates {
			if c.ChunkID == id {
				return c.Rank
			}
		}
		return -1
	}
	// Fusion weighting alone would leave the exact match last; the
	// floor boost pulls it into the top 3.
	assert.LessOrEqual(t, rankOf("exact"), 3)
	assert.Equal(t, 1, rankOf("b"))
}

func TestFuseNonSuppressionDisabled(t *testing.T) {
	f := NewFuser(DefaultWeights(), 0)

	candidates := f.Fuse(
		[]*store.LexicalHit{
			lexHit("b", 5.0, ""),
			lexHit("c", 4.0, ""),
			lexHit("d", 3.0, ""),
			lexHit("exact", 1.0, "TTree::Draw"),
		},
		nil, "TTree::Draw")

	require.Len(t, candidates, 4)
	assert.Equal(t, "exact", candidates[3].ChunkID)
}

func TestFuseEmptyInputs(t *testing.T) {
	f := NewFuser(DefaultWeights(), 3)
	assert.Empty(t, f.Fuse(nil, nil, ""))
}

func TestFuseDeterministicTieBreak(t *testing.T) {
	f := NewFuser(DefaultWeights(), 3)

	// Identical scores: order falls to the tie-break chain (doxygen,
	// span, file path, chunk id).
	lex := []*store.LexicalHit{
		{ChunkID: "zz", Score: 2.0, FilePath: "b.cxx", StartLine: 1, EndLine: 10},
		{ChunkID: "aa", Score: 2.0, FilePath: "b.cxx", StartLine: 1, EndLine: 10},
		{ChunkID: "dox", Score: 2.0, FilePath: "z.cxx", StartLine: 1, EndLine: 50, HasDoxygen: true},
	}

	first := f.Fuse(lex, nil, "")
	second := f.Fuse([]*store.LexicalHit{lex[2], lex[0], lex[1]}, nil, "")

	require.Len(t, first, 3)
	assert.Equal(t, "dox", first[0].ChunkID)
	assert.Equal(t, "aa", first[1].ChunkID)
	assert.Equal(t, "zz", first[2].ChunkID)

	for i := range first {
		assert.Equal(t, first[i].ChunkID, second[i].ChunkID)
	}
}
