package store

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/coder/hnsw"
)

// HNSWVectorIndex implements VectorIndex with a coder/hnsw graph for
// approximate search plus a retained vector table for exact brute-force
// scans. Vectors are normalized on insert so cosine similarity reduces
// to a dot product.
type HNSWVectorIndex struct {
	mu     sync.RWMutex
	graph  *hnsw.Graph[uint64]
	config VectorConfig

	// chunk_id <-> internal graph key
	idMap   map[string]uint64
	keyMap  map[uint64]string
	nextKey uint64

	// Normalized vectors by key, for exact search and persistence.
	vectors map[uint64][]float32

	closed bool
}

var _ VectorIndex = (*HNSWVectorIndex)(nil)

// vectorMetadata is the gob-persisted sidecar: ID mappings plus the
// raw vectors so an exact scan survives reload.
type vectorMetadata struct {
	IDMap   map[string]uint64
	Vectors map[uint64][]float32
	NextKey uint64
	Config  VectorConfig
}

// NewHNSWVectorIndex creates an empty in-memory vector index.
func NewHNSWVectorIndex(cfg VectorConfig) (*HNSWVectorIndex, error) {
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("vector index requires positive dimensions, got %d", cfg.Dimensions)
	}
	if cfg.M == 0 {
		cfg.M = 16
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = 64
	}

	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = cfg.M
	graph.EfSearch = cfg.EfSearch
	graph.Ml = 0.25

	return &HNSWVectorIndex{
		graph:   graph,
		config:  cfg,
		idMap:   make(map[string]uint64),
		keyMap:  make(map[uint64]string),
		vectors: make(map[uint64][]float32),
	}, nil
}

// OpenHNSWVectorIndex loads a persisted vector index from path.
func OpenHNSWVectorIndex(path string) (*HNSWVectorIndex, error) {
	meta, err := loadVectorMetadata(path + ".meta")
	if err != nil {
		return nil, fmt.Errorf("load vector metadata: %w", err)
	}

	idx, err := NewHNSWVectorIndex(meta.Config)
	if err != nil {
		return nil, err
	}
	idx.idMap = meta.IDMap
	idx.vectors = meta.Vectors
	idx.nextKey = meta.NextKey
	for id, key := range meta.IDMap {
		idx.keyMap[key] = id
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open vector index: %w", err)
	}
	defer file.Close()

	// Import requires an io.ByteReader.
	if err := idx.graph.Import(bufio.NewReader(file)); err != nil {
		return nil, fmt.Errorf("import hnsw graph: %w", err)
	}
	return idx, nil
}

// Add inserts vectors keyed by chunk id. Re-adding an existing id uses
// lazy deletion: the old graph node is orphaned rather than removed,
// which sidesteps a coder/hnsw bug when deleting the last node.
func (v *HNSWVectorIndex) Add(ctx context.Context, ids []string, vectors [][]float32) error {
	if len(ids) == 0 {
		return nil
	}
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch: %d vs %d", len(ids), len(vectors))
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return fmt.Errorf("vector index is closed")
	}

	for _, vec := range vectors {
		if len(vec) != v.config.Dimensions {
			return ErrDimensionMismatch{Expected: v.config.Dimensions, Got: len(vec)}
		}
	}

	for i, id := range ids {
		if existingKey, exists := v.idMap[id]; exists {
			delete(v.keyMap, existingKey)
			delete(v.vectors, existingKey)
			delete(v.idMap, id)
		}

		key := v.nextKey
		v.nextKey++

		vec := make([]float32, len(vectors[i]))
		copy(vec, vectors[i])
		normalizeVector(vec)

		v.graph.Add(hnsw.MakeNode(key, vec))
		v.idMap[id] = key
		v.keyMap[key] = id
		v.vectors[key] = vec
	}
	return nil
}

// Search returns the k nearest neighbors by cosine similarity.
func (v *HNSWVectorIndex) Search(ctx context.Context, query []float32, k int, exact bool) ([]*VectorHit, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.closed {
		return nil, fmt.Errorf("vector index is closed")
	}

	if len(query) != v.config.Dimensions {
		return nil, ErrDimensionMismatch{Expected: v.config.Dimensions, Got: len(query)}
	}
	if len(v.idMap) == 0 {
		return []*VectorHit{}, nil
	}

	q := make([]float32, len(query))
	copy(q, query)
	normalizeVector(q)

	if exact {
		return v.exactSearch(q, k), nil
	}
	return v.approxSearch(q, k), nil
}

// exactSearch brute-forces the retained vector table. For unit vectors
// cosine similarity is the dot product; it is mapped to [0, 1] as
// (1+cos)/2, the same scale approxSearch derives from cosine distance,
// so fusion sees one scale regardless of the search mode.
func (v *HNSWVectorIndex) exactSearch(q []float32, k int) []*VectorHit {
	hits := make([]*VectorHit, 0, len(v.idMap))
	for id, key := range v.idMap {
		vec, ok := v.vectors[key]
		if !ok {
			continue
		}
		hits = append(hits, &VectorHit{
			ChunkID:    id,
			Similarity: (1 + dotProduct(q, vec)) / 2,
		})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Similarity != hits[j].Similarity {
			return hits[i].Similarity > hits[j].Similarity
		}
		return hits[i].ChunkID < hits[j].ChunkID
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits
}

func (v *HNSWVectorIndex) approxSearch(q []float32, k int) []*VectorHit {
	// Over-fetch to compensate for orphaned nodes from lazy deletion.
	fetchK := k
	if orphans := v.graph.Len() - len(v.idMap); orphans > 0 {
		fetchK += orphans
	}

	nodes := v.graph.Search(q, fetchK)
	hits := make([]*VectorHit, 0, k)
	for _, node := range nodes {
		id, exists := v.keyMap[node.Key]
		if !exists {
			continue // lazily deleted
		}
		distance := v.graph.Distance(q, node.Value)
		hits = append(hits, &VectorHit{
			ChunkID:    id,
			Similarity: 1.0 - distance/2.0,
		})
		if len(hits) == k {
			break
		}
	}
	return hits
}

// Count returns the number of stored vectors.
func (v *HNSWVectorIndex) Count() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.closed {
		return 0
	}
	return len(v.idMap)
}

// Dimensions returns the vector dimensionality.
func (v *HNSWVectorIndex) Dimensions() int {
	return v.config.Dimensions
}

// Save persists the graph and its metadata sidecar atomically
// (temp file + rename).
func (v *HNSWVectorIndex) Save(path string) error {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.closed {
		return fmt.Errorf("vector index is closed")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create index directory: %w", err)
	}

	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create index file: %w", err)
	}
	if err := v.graph.Export(file); err != nil {
		_ = file.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("export hnsw graph: %w", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close index file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename index file: %w", err)
	}

	return v.saveMetadata(path + ".meta")
}

func (v *HNSWVectorIndex) saveMetadata(path string) error {
	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create metadata file: %w", err)
	}

	meta := vectorMetadata{
		IDMap:   v.idMap,
		Vectors: v.vectors,
		NextKey: v.nextKey,
		Config:  v.config,
	}
	if err := gob.NewEncoder(file).Encode(meta); err != nil {
		_ = file.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("encode vector metadata: %w", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close metadata file: %w", err)
	}
	return os.Rename(tmpPath, path)
}

func loadVectorMetadata(path string) (*vectorMetadata, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var meta vectorMetadata
	if err := gob.NewDecoder(file).Decode(&meta); err != nil {
		return nil, fmt.Errorf("decode vector metadata: %w", err)
	}
	if meta.Vectors == nil {
		meta.Vectors = make(map[uint64][]float32)
	}
	return &meta, nil
}

// ReadVectorIndexDimensions reads the dimensionality of a persisted
// vector index. Returns 0 if no index exists at the path.
func ReadVectorIndexDimensions(path string) (int, error) {
	meta, err := loadVectorMetadata(path + ".meta")
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	return meta.Config.Dimensions, nil
}

// Close releases resources. Idempotent.
func (v *HNSWVectorIndex) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return nil
	}
	v.closed = true
	v.graph = nil
	v.vectors = nil
	return nil
}

// normalizeVector scales v to unit length in place.
func normalizeVector(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= inv
	}
}

// dotProduct computes the dot product of two equal-length vectors.
func dotProduct(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}
