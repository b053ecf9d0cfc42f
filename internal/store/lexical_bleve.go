package store

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/registry"
	"github.com/blevesearch/bleve/v2/search"
	index "github.com/blevesearch/bleve_index_api"
)

const (
	// codeTokenizerName is the name of the registered code tokenizer.
	codeTokenizerName = "code_tokenizer"

	// codeStopFilterName is the name of the registered stop word filter.
	codeStopFilterName = "code_stop"

	// codeAnalyzerName is the name of the registered code analyzer.
	codeAnalyzerName = "code_analyzer"
)

func init() {
	_ = registry.RegisterTokenizer(codeTokenizerName, codeTokenizerConstructor)
	_ = registry.RegisterTokenFilter(codeStopFilterName, codeStopFilterConstructor)
}

// BleveLexicalIndex implements LexicalIndex using Bleve v2. Field
// weighting is expressed as per-field query boosts over a disjunction
// of match queries.
type BleveLexicalIndex struct {
	mu     sync.RWMutex
	index  bleve.Index
	path   string
	config LexicalConfig
	closed bool
}

var _ LexicalIndex = (*BleveLexicalIndex)(nil)

// bleveChunkDoc is the document structure for Bleve indexing. The
// searchable fields use the code analyzer; the rest is stored for
// tie-breaking only.
type bleveChunkDoc struct {
	SymbolPath string  `json:"symbol_path"`
	Content    string  `json:"content"`
	Keywords   string  `json:"keywords"`
	RawSymbol  string  `json:"raw_symbol"`
	FilePath   string  `json:"file_path"`
	StartLine  float64 `json:"start_line"`
	EndLine    float64 `json:"end_line"`
	HasDoxygen bool    `json:"has_doxygen"`
}

// NewBleveLexicalIndex creates a new Bleve-based lexical index.
// An empty path creates an in-memory index for testing.
func NewBleveLexicalIndex(path string, cfg LexicalConfig) (*BleveLexicalIndex, error) {
	applyBM25Parameters(cfg)

	indexMapping, err := createChunkMapping()
	if err != nil {
		return nil, fmt.Errorf("create index mapping: %w", err)
	}

	var idx bleve.Index
	if path == "" {
		idx, err = bleve.NewMemOnly(indexMapping)
	} else {
		idx, err = bleve.Open(path)
		if err == bleve.ErrorIndexPathDoesNotExist {
			idx, err = bleve.New(path, indexMapping)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("create/open bleve index: %w", err)
	}

	return &BleveLexicalIndex{
		index:  idx,
		path:   path,
		config: cfg,
	}, nil
}

// applyBM25Parameters sets Bleve's BM25 scorer parameters. Bleve keeps
// them as process-wide scorer state, not per-index mapping state.
func applyBM25Parameters(cfg LexicalConfig) {
	if cfg.K1 > 0 {
		search.BM25_k1 = cfg.K1
	}
	if cfg.B > 0 && cfg.B <= 1 {
		search.BM25_b = cfg.B
	}
}

func createChunkMapping() (*mapping.IndexMappingImpl, error) {
	indexMapping := bleve.NewIndexMapping()
	indexMapping.ScoringModel = index.BM25Scoring

	err := indexMapping.AddCustomAnalyzer(codeAnalyzerName, map[string]interface{}{
		"type":      custom.Name,
		"tokenizer": codeTokenizerName,
		"token_filters": []string{
			lowercase.Name,
			codeStopFilterName,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("add custom analyzer: %w", err)
	}

	searchable := bleve.NewTextFieldMapping()
	searchable.Analyzer = codeAnalyzerName
	searchable.Store = false

	storedText := bleve.NewTextFieldMapping()
	storedText.Index = false
	storedText.Store = true

	storedNum := bleve.NewNumericFieldMapping()
	storedNum.Index = false
	storedNum.Store = true

	storedBool := bleve.NewBooleanFieldMapping()
	storedBool.Index = false
	storedBool.Store = true

	doc := bleve.NewDocumentMapping()
	doc.AddFieldMappingsAt("symbol_path", searchable)
	doc.AddFieldMappingsAt("content", searchable)
	doc.AddFieldMappingsAt("keywords", searchable)
	doc.AddFieldMappingsAt("raw_symbol", storedText)
	doc.AddFieldMappingsAt("file_path", storedText)
	doc.AddFieldMappingsAt("start_line", storedNum)
	doc.AddFieldMappingsAt("end_line", storedNum)
	doc.AddFieldMappingsAt("has_doxygen", storedBool)

	indexMapping.DefaultMapping = doc
	indexMapping.DefaultAnalyzer = codeAnalyzerName
	return indexMapping, nil
}

// Index adds chunks to the index.
func (b *BleveLexicalIndex) Index(ctx context.Context, chunks []*Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("lexical index is closed")
	}

	batch := b.index.NewBatch()
	for _, chunk := range chunks {
		doc := bleveChunkDoc{
			SymbolPath: chunk.SymbolPath,
			Content:    chunk.Content,
			Keywords:   strings.Join(chunk.Keywords, " "),
			RawSymbol:  chunk.SymbolPath,
			FilePath:   chunk.FilePath,
			StartLine:  float64(chunk.StartLine),
			EndLine:    float64(chunk.EndLine),
			HasDoxygen: chunk.HasDoxygen,
		}
		if err := batch.Index(chunk.ChunkID, doc); err != nil {
			return fmt.Errorf("index chunk %s: %w", chunk.ChunkID, err)
		}
	}

	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("execute batch: %w", err)
	}
	return nil
}

// Search returns hits scored by a field-boosted disjunction: each of
// symbol_path, content, and keywords contributes a match query weighted
// by its configured field weight.
func (b *BleveLexicalIndex) Search(ctx context.Context, queryStr string, limit int) ([]*LexicalHit, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, fmt.Errorf("lexical index is closed")
	}

	if strings.TrimSpace(queryStr) == "" {
		return []*LexicalHit{}, nil
	}

	symbolQuery := bleve.NewMatchQuery(queryStr)
	symbolQuery.SetField("symbol_path")
	symbolQuery.SetBoost(b.config.SymbolWeight)

	contentQuery := bleve.NewMatchQuery(queryStr)
	contentQuery.SetField("content")
	contentQuery.SetBoost(b.config.ContentWeight)

	keywordQuery := bleve.NewMatchQuery(queryStr)
	keywordQuery.SetField("keywords")
	keywordQuery.SetBoost(b.config.KeywordWeight)

	fieldQuery := bleve.NewDisjunctionQuery(symbolQuery, contentQuery, keywordQuery)

	req := bleve.NewSearchRequest(fieldQuery)
	req.Size = limit
	req.IncludeLocations = true
	req.Fields = []string{"raw_symbol", "file_path", "start_line", "end_line", "has_doxygen"}

	result, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("lexical search: %w", err)
	}

	hits := make([]*LexicalHit, 0, len(result.Hits))
	for _, hit := range result.Hits {
		h := &LexicalHit{
			ChunkID:      hit.ID,
			Score:        hit.Score,
			MatchedTerms: extractMatchedTerms(hit),
		}
		if v, ok := hit.Fields["raw_symbol"].(string); ok {
			h.SymbolPath = v
		}
		if v, ok := hit.Fields["file_path"].(string); ok {
			h.FilePath = v
		}
		if v, ok := hit.Fields["start_line"].(float64); ok {
			h.StartLine = int(v)
		}
		if v, ok := hit.Fields["end_line"].(float64); ok {
			h.EndLine = int(v)
		}
		if v, ok := hit.Fields["has_doxygen"].(bool); ok {
			h.HasDoxygen = v
		}
		hits = append(hits, h)
	}

	sortLexicalHits(hits, PrimaryToken(queryStr))
	return hits, nil
}

// DocCount returns the number of indexed chunks.
func (b *BleveLexicalIndex) DocCount() (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return 0, fmt.Errorf("lexical index is closed")
	}

	count, err := b.index.DocCount()
	if err != nil {
		return 0, fmt.Errorf("count documents: %w", err)
	}
	return int(count), nil
}

// Close closes the index. Idempotent.
func (b *BleveLexicalIndex) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	if b.index != nil {
		return b.index.Close()
	}
	return nil
}

// extractMatchedTerms extracts matched terms from a search hit.
func extractMatchedTerms(hit *search.DocumentMatch) []string {
	terms := make(map[string]struct{})
	for _, locations := range hit.Locations {
		for term := range locations {
			terms[term] = struct{}{}
		}
	}

	result := make([]string, 0, len(terms))
	for term := range terms {
		result = append(result, term)
	}
	return result
}

// codeTokenizerConstructor creates the code tokenizer for Bleve.
func codeTokenizerConstructor(config map[string]interface{}, cache *registry.Cache) (analysis.Tokenizer, error) {
	return &bleveCodeTokenizer{}, nil
}

// bleveCodeTokenizer implements analysis.Tokenizer over TokenizeCode.
type bleveCodeTokenizer struct{}

// Tokenize implements analysis.Tokenizer.
func (t *bleveCodeTokenizer) Tokenize(input []byte) analysis.TokenStream {
	text := string(input)
	tokens := TokenizeCode(text)

	result := make(analysis.TokenStream, 0, len(tokens))
	pos := 1
	offset := 0

	for _, token := range tokens {
		// Best-effort offsets: find the token in the remaining text.
		start := strings.Index(strings.ToLower(text[offset:]), strings.ToLower(token))
		if start == -1 {
			start = offset
		} else {
			start += offset
		}
		end := start + len(token)

		result = append(result, &analysis.Token{
			Term:     []byte(token),
			Start:    start,
			End:      end,
			Position: pos,
			Type:     analysis.AlphaNumeric,
		})
		pos++
		if end <= len(text) {
			offset = end
		}
	}

	return result
}

// codeStopFilterConstructor creates the code stop word filter for Bleve.
func codeStopFilterConstructor(config map[string]interface{}, cache *registry.Cache) (analysis.TokenFilter, error) {
	return &bleveCodeStopFilter{
		stopWords: BuildStopWordMap(DefaultCodeStopWords),
	}, nil
}

// bleveCodeStopFilter implements analysis.TokenFilter for code stop words.
type bleveCodeStopFilter struct {
	stopWords map[string]struct{}
}

// Filter implements analysis.TokenFilter.
func (f *bleveCodeStopFilter) Filter(input analysis.TokenStream) analysis.TokenStream {
	result := make(analysis.TokenStream, 0, len(input))
	for _, token := range input {
		term := strings.ToLower(string(token.Term))
		if _, isStop := f.stopWords[term]; !isStop {
			result = append(result, token)
		}
	}
	return result
}
