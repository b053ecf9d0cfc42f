package search

import (
	"sort"

	"github.com/citegrep/citegrep/internal/store"
)

// Weights for combining lexical and semantic scores. Lexical is favored
// by default: exact term evidence is what the citations hang on.
type Weights struct {
	Lexical  float64
	Semantic float64
}

// DefaultWeights returns the default fusion weights (0.7 lexical,
// 0.3 semantic).
func DefaultWeights() Weights {
	return Weights{Lexical: 0.7, Semantic: 0.3}
}

// Fuser merges lexical and semantic hit lists by chunk id:
//
//	combined = wLex * normalize(lexical) + wSem * normalize(semantic)
//
// where normalize divides by the maximum score of its source, so both
// contributions land on [0, 1] before weighting.
type Fuser struct {
	weights   Weights
	floorRank int
}

// NewFuser creates a fuser. Non-positive floorRank disables the
// non-suppression boost.
func NewFuser(weights Weights, floorRank int) *Fuser {
	if weights.Lexical == 0 && weights.Semantic == 0 {
		weights = DefaultWeights()
	}
	return &Fuser{weights: weights, floorRank: floorRank}
}

// Fuse combines the two hit lists into one ranked candidate list.
// primaryToken is the query's primary token for symbol-exact handling.
func (f *Fuser) Fuse(lex []*store.LexicalHit, sem []*store.VectorHit, primaryToken string) []*Candidate {
	if len(lex) == 0 && len(sem) == 0 {
		return []*Candidate{}
	}

	byID := make(map[string]*Candidate, len(lex)+len(sem))

	maxLex := maxLexicalScore(lex)
	for _, h := range lex {
		c := &Candidate{
			ChunkID:      h.ChunkID,
			LexicalScore: h.Score,
			SourceModes:  []SourceMode{SourceLexical},
			FilePath:     h.FilePath,
			StartLine:    h.StartLine,
			EndLine:      h.EndLine,
			SymbolPath:   h.SymbolPath,
			HasDoxygen:   h.HasDoxygen,
			MatchedTerms: h.MatchedTerms,
		}
		if maxLex > 0 {
			c.CombinedScore = f.weights.Lexical * (h.Score / maxLex)
		}
		byID[h.ChunkID] = c
	}

	maxSem := maxSemanticScore(sem)
	for _, h := range sem {
		c, ok := byID[h.ChunkID]
		if !ok {
			c = &Candidate{ChunkID: h.ChunkID}
			byID[h.ChunkID] = c
		}
		c.SemanticScore = float64(h.Similarity)
		c.SourceModes = append(c.SourceModes, SourceSemantic)
		if maxSem > 0 {
			c.CombinedScore += f.weights.Semantic * (float64(h.Similarity) / maxSem)
		}
	}

	candidates := make([]*Candidate, 0, len(byID))
	for _, c := range byID {
		candidates = append(candidates, c)
	}

	f.sortCandidates(candidates, primaryToken)
	f.applyNonSuppression(candidates, primaryToken)

	for i, c := range candidates {
		c.Rank = i + 1
	}
	return candidates
}

// applyNonSuppression enforces the symbol-exact floor: a chunk with an
// exact symbol match on the primary token is boosted to at least the
// score at the floor rank, so fusion weighting alone can never push it
// out of the top ranks.
func (f *Fuser) applyNonSuppression(candidates []*Candidate, primaryToken string) {
	if f.floorRank <= 0 || primaryToken == "" || len(candidates) <= f.floorRank {
		return
	}

	floorScore := candidates[f.floorRank-1].CombinedScore
	boosted := false
	for _, c := range candidates[f.floorRank:] {
		if c.SymbolPath == primaryToken && c.CombinedScore < floorScore {
			c.CombinedScore = floorScore
			boosted = true
		}
	}
	if boosted {
		f.sortCandidates(candidates, primaryToken)
	}
}

// sortCandidates orders by combined score descending, then by the
// deterministic tie-break chain.
func (f *Fuser) sortCandidates(candidates []*Candidate, primaryToken string) {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.CombinedScore != b.CombinedScore {
			return a.CombinedScore > b.CombinedScore
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

func maxLexicalScore(hits []*store.LexicalHit) float64 {
	var max float64
	for _, h := range hits {
		if h.Score > max {
			max = h.Score
		}
	}
	return max
}

func maxSemanticScore(hits []*store.VectorHit) float64 {
	var max float64
	for _, h := range hits {
		if float64(h.Similarity) > max {
			max = float64(h.Similarity)
		}
	}
	return max
}
