// Package config loads the layered citegrep configuration: hardcoded
// defaults, then a project config file, then CITEGREP_* environment
// variables, in increasing precedence.
package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/citegrep/citegrep/internal/answer"
	"github.com/citegrep/citegrep/internal/embed"
	"github.com/citegrep/citegrep/internal/index"
	"github.com/citegrep/citegrep/internal/search"
	"github.com/citegrep/citegrep/internal/service"
	"github.com/citegrep/citegrep/internal/store"
)

// ConfigFileName is the project configuration file name.
const ConfigFileName = ".citegrep.yaml"

// Config is the complete citegrep configuration. All retrieval
// parameters are explicit configuration with documented defaults, never
// constants buried in the scorers.
type Config struct {
	Version    int              `yaml:"version"`
	DataDir    string           `yaml:"data_dir"`
	Search     SearchConfig     `yaml:"search"`
	Embeddings EmbeddingsConfig `yaml:"embeddings"`
	Answer     AnswerConfig     `yaml:"answer"`
	Build      BuildConfig      `yaml:"build"`
	LogLevel   string           `yaml:"log_level"`
}

// SearchConfig configures lexical scoring and hybrid fusion.
type SearchConfig struct {
	// Backend selects the lexical index: "sqlite" or "bleve".
	Backend string `yaml:"backend"`

	// K1 and B are the BM25 parameters. The bleve backend honors them;
	// the sqlite backend uses FTS5's built-in 1.2/0.75.
	K1 float64 `yaml:"bm25_k1"`
	B  float64 `yaml:"bm25_b"`

	// SymbolWeight, ContentWeight and KeywordWeight are the BM25 field
	// weights; symbol_path is weighted highest.
	SymbolWeight  float64 `yaml:"symbol_weight"`
	ContentWeight float64 `yaml:"content_weight"`
	KeywordWeight float64 `yaml:"keyword_weight"`

	// LexicalWeight and SemanticWeight combine the two retrieval
	// sources in hybrid mode. They must sum to 1.0.
	LexicalWeight  float64 `yaml:"lexical_weight"`
	SemanticWeight float64 `yaml:"semantic_weight"`

	// FloorRank is the non-suppression floor for symbol-exact matches.
	// Zero disables the boost.
	FloorRank int `yaml:"floor_rank"`

	// MaxResults is the default candidate limit per query.
	MaxResults int `yaml:"max_results"`

	// QueryTimeout bounds one retrieval call; on expiry partial
	// results are returned with a timeout warning. "0" disables it.
	QueryTimeout string `yaml:"query_timeout"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	// Provider is "ollama", "static" or "none".
	Provider string `yaml:"provider"`

	Model      string `yaml:"model"`
	OllamaHost string `yaml:"ollama_host"`
	Dimensions int    `yaml:"dimensions"`
	BatchSize  int    `yaml:"batch_size"`
	CacheSize  int    `yaml:"cache_size"`
}

// AnswerConfig configures evidence assembly and the summarizer.
type AnswerConfig struct {
	ConfidenceFloor float64 `yaml:"confidence_floor"`
	MaxEvidence     int     `yaml:"max_evidence"`

	// Summarize enables the Ollama-backed answer summarizer.
	Summarize         bool   `yaml:"summarize"`
	SummarizerModel   string `yaml:"summarizer_model"`
	SummarizerTimeout string `yaml:"summarizer_timeout"`
}

// BuildConfig configures the index build pipeline.
type BuildConfig struct {
	Workers int `yaml:"workers"`
}

// NewConfig returns the configuration defaults.
func NewConfig() *Config {
	lexical := store.DefaultLexicalConfig()
	fusion := search.DefaultWeights()
	assemble := answer.DefaultConfig()
	return &Config{
		Version: 1,
		DataDir: defaultDataDir(),
		Search: SearchConfig{
			Backend:        store.LexicalBackendSQLite,
			K1:             lexical.K1,
			B:              lexical.B,
			SymbolWeight:   lexical.SymbolWeight,
			ContentWeight:  lexical.ContentWeight,
			KeywordWeight:  lexical.KeywordWeight,
			LexicalWeight:  fusion.Lexical,
			SemanticWeight: fusion.Semantic,
			FloorRank:      search.DefaultConfig().FloorRank,
			MaxResults:     search.DefaultConfig().DefaultLimit,
			QueryTimeout:   service.DefaultQueryTimeout.String(),
		},
		Embeddings: EmbeddingsConfig{
			Provider:   embed.ProviderOllama,
			Model:      embed.DefaultOllamaModel,
			OllamaHost: embed.DefaultOllamaHost,
			BatchSize:  embed.DefaultBatchSize,
			CacheSize:  embed.DefaultEmbeddingCacheSize,
		},
		Answer: AnswerConfig{
			ConfidenceFloor:   assemble.ConfidenceFloor,
			MaxEvidence:       assemble.MaxEvidence,
			Summarize:         false,
			SummarizerModel:   answer.DefaultSummarizerModel,
			SummarizerTimeout: "120s",
		},
		Build: BuildConfig{
			Workers: index.DefaultWorkers,
		},
		LogLevel: "info",
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".citegrep")
	}
	return filepath.Join(home, ".citegrep")
}

// Load builds the effective configuration for a project directory:
// defaults, then .citegrep.yaml (or .yml) from dir, then CITEGREP_*
// environment variables.
func Load(dir string) (*Config, error) {
	cfg := NewConfig()
	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}
	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFromFile(dir string) error {
	for _, name := range []string{ConfigFileName, ".citegrep.yml"} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return c.loadYAML(path)
		}
	}
	// No config file is fine, defaults apply.
	return nil
}

func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}
	if other.DataDir != "" {
		c.DataDir = other.DataDir
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}

	if other.Search.Backend != "" {
		c.Search.Backend = other.Search.Backend
	}
	if other.Search.K1 != 0 {
		c.Search.K1 = other.Search.K1
	}
	if other.Search.B != 0 {
		c.Search.B = other.Search.B
	}
	if other.Search.SymbolWeight != 0 {
		c.Search.SymbolWeight = other.Search.SymbolWeight
	}
	if other.Search.ContentWeight != 0 {
		c.Search.ContentWeight = other.Search.ContentWeight
	}
	if other.Search.KeywordWeight != 0 {
		c.Search.KeywordWeight = other.Search.KeywordWeight
	}
	if other.Search.LexicalWeight != 0 {
		c.Search.LexicalWeight = other.Search.LexicalWeight
	}
	if other.Search.SemanticWeight != 0 {
		c.Search.SemanticWeight = other.Search.SemanticWeight
	}
	if other.Search.FloorRank != 0 {
		c.Search.FloorRank = other.Search.FloorRank
	}
	if other.Search.MaxResults != 0 {
		c.Search.MaxResults = other.Search.MaxResults
	}
	if other.Search.QueryTimeout != "" {
		c.Search.QueryTimeout = other.Search.QueryTimeout
	}

	if other.Embeddings.Provider != "" {
		c.Embeddings.Provider = other.Embeddings.Provider
	}
	if other.Embeddings.Model != "" {
		c.Embeddings.Model = other.Embeddings.Model
	}
	if other.Embeddings.OllamaHost != "" {
		c.Embeddings.OllamaHost = other.Embeddings.OllamaHost
	}
	if other.Embeddings.Dimensions != 0 {
		c.Embeddings.Dimensions = other.Embeddings.Dimensions
	}
	if other.Embeddings.BatchSize != 0 {
		c.Embeddings.BatchSize = other.Embeddings.BatchSize
	}
	if other.Embeddings.CacheSize != 0 {
		c.Embeddings.CacheSize = other.Embeddings.CacheSize
	}

	if other.Answer.ConfidenceFloor != 0 {
		c.Answer.ConfidenceFloor = other.Answer.ConfidenceFloor
	}
	if other.Answer.MaxEvidence != 0 {
		c.Answer.MaxEvidence = other.Answer.MaxEvidence
	}
	if other.Answer.Summarize {
		c.Answer.Summarize = true
	}
	if other.Answer.SummarizerModel != "" {
		c.Answer.SummarizerModel = other.Answer.SummarizerModel
	}
	if other.Answer.SummarizerTimeout != "" {
		c.Answer.SummarizerTimeout = other.Answer.SummarizerTimeout
	}

	if other.Build.Workers != 0 {
		c.Build.Workers = other.Build.Workers
	}
}

// applyEnvOverrides applies CITEGREP_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("CITEGREP_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("CITEGREP_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("CITEGREP_LEXICAL_BACKEND"); v != "" {
		c.Search.Backend = v
	}
	if v := os.Getenv("CITEGREP_LEXICAL_WEIGHT"); v != "" {
		if w, err := strconv.ParseFloat(v, 64); err == nil && w >= 0 && w <= 1 {
			c.Search.LexicalWeight = w
		}
	}
	if v := os.Getenv("CITEGREP_SEMANTIC_WEIGHT"); v != "" {
		if w, err := strconv.ParseFloat(v, 64); err == nil && w >= 0 && w <= 1 {
			c.Search.SemanticWeight = w
		}
	}
	if v := os.Getenv("CITEGREP_FLOOR_RANK"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.Search.FloorRank = n
		}
	}
	if v := os.Getenv("CITEGREP_QUERY_TIMEOUT"); v != "" {
		c.Search.QueryTimeout = v
	}
	if v := os.Getenv("CITEGREP_EMBEDDINGS_PROVIDER"); v != "" {
		c.Embeddings.Provider = v
	}
	if v := os.Getenv("CITEGREP_EMBEDDINGS_MODEL"); v != "" {
		c.Embeddings.Model = v
	}
	if v := os.Getenv("CITEGREP_OLLAMA_HOST"); v != "" {
		c.Embeddings.OllamaHost = v
	}
	if v := os.Getenv("CITEGREP_SUMMARIZE"); v != "" {
		c.Answer.Summarize = strings.ToLower(v) == "true" || v == "1"
	}
}

// Validate checks the effective configuration.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	if c.Search.Backend != store.LexicalBackendSQLite && c.Search.Backend != store.LexicalBackendBleve {
		return fmt.Errorf("search.backend must be %q or %q, got %q",
			store.LexicalBackendSQLite, store.LexicalBackendBleve, c.Search.Backend)
	}
	if c.Search.LexicalWeight < 0 || c.Search.LexicalWeight > 1 {
		return fmt.Errorf("search.lexical_weight must be between 0 and 1, got %f", c.Search.LexicalWeight)
	}
	if c.Search.SemanticWeight < 0 || c.Search.SemanticWeight > 1 {
		return fmt.Errorf("search.semantic_weight must be between 0 and 1, got %f", c.Search.SemanticWeight)
	}
	if sum := c.Search.LexicalWeight + c.Search.SemanticWeight; math.Abs(sum-1.0) > 0.01 {
		return fmt.Errorf("search.lexical_weight + search.semantic_weight must equal 1.0, got %.2f", sum)
	}
	if c.Search.MaxResults < 0 {
		return fmt.Errorf("search.max_results must be non-negative, got %d", c.Search.MaxResults)
	}
	if c.Search.K1 <= 0 {
		return fmt.Errorf("search.bm25_k1 must be positive, got %f", c.Search.K1)
	}
	if c.Search.B < 0 || c.Search.B > 1 {
		return fmt.Errorf("search.bm25_b must be between 0 and 1, got %f", c.Search.B)
	}
	if _, err := c.QueryTimeout(); err != nil {
		return fmt.Errorf("search.query_timeout: %w", err)
	}

	switch strings.ToLower(c.Embeddings.Provider) {
	case embed.ProviderOllama, embed.ProviderStatic, embed.ProviderNone, "":
	default:
		return fmt.Errorf("embeddings.provider must be 'ollama', 'static' or 'none', got %q", c.Embeddings.Provider)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("log_level must be 'debug', 'info', 'warn' or 'error', got %q", c.LogLevel)
	}
	if _, err := c.SummarizerTimeout(); err != nil {
		return fmt.Errorf("answer.summarizer_timeout: %w", err)
	}
	return nil
}

// QueryTimeout parses the configured retrieval deadline. Negative
// values are rejected; zero disables the deadline.
func (c *Config) QueryTimeout() (time.Duration, error) {
	if c.Search.QueryTimeout == "" {
		return service.DefaultQueryTimeout, nil
	}
	d, err := time.ParseDuration(c.Search.QueryTimeout)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("must not be negative, got %s", d)
	}
	return d, nil
}

// SummarizerTimeout parses the configured summarizer timeout.
func (c *Config) SummarizerTimeout() (time.Duration, error) {
	if c.Answer.SummarizerTimeout == "" {
		return answer.DefaultSummarizerTimeout, nil
	}
	return time.ParseDuration(c.Answer.SummarizerTimeout)
}

// LexicalConfig converts to the store's lexical configuration.
func (c *Config) LexicalConfig() store.LexicalConfig {
	cfg := store.DefaultLexicalConfig()
	cfg.K1 = c.Search.K1
	cfg.B = c.Search.B
	cfg.SymbolWeight = c.Search.SymbolWeight
	cfg.ContentWeight = c.Search.ContentWeight
	cfg.KeywordWeight = c.Search.KeywordWeight
	return cfg
}

// SearchEngineConfig converts to the search engine configuration.
func (c *Config) SearchEngineConfig() search.Config {
	cfg := search.DefaultConfig()
	cfg.Weights = search.Weights{Lexical: c.Search.LexicalWeight, Semantic: c.Search.SemanticWeight}
	cfg.FloorRank = c.Search.FloorRank
	cfg.DefaultLimit = c.Search.MaxResults
	return cfg
}

// ProviderConfig converts to the embedding provider configuration.
func (c *Config) ProviderConfig() embed.ProviderConfig {
	ollama := embed.DefaultOllamaConfig()
	ollama.Host = c.Embeddings.OllamaHost
	ollama.Model = c.Embeddings.Model
	ollama.Dimensions = c.Embeddings.Dimensions
	ollama.BatchSize = c.Embeddings.BatchSize
	return embed.ProviderConfig{
		Provider:  strings.ToLower(c.Embeddings.Provider),
		Ollama:    ollama,
		CacheSize: c.Embeddings.CacheSize,
	}
}

// AnswerAssemblyConfig converts to the answer assembly configuration.
func (c *Config) AnswerAssemblyConfig() answer.Config {
	return answer.Config{
		ConfidenceFloor: c.Answer.ConfidenceFloor,
		MaxEvidence:     c.Answer.MaxEvidence,
	}
}

// BuilderConfig converts to the index builder configuration.
func (c *Config) BuilderConfig() index.BuilderConfig {
	cfg := index.DefaultBuilderConfig(c.DataDir)
	cfg.LexicalBackend = c.Search.Backend
	cfg.Lexical = c.LexicalConfig()
	cfg.Workers = c.Build.Workers
	cfg.EmbedBatchSize = c.Embeddings.BatchSize
	return cfg
}

// ServiceConfig converts to the service configuration.
func (c *Config) ServiceConfig() service.Config {
	timeout, _ := c.QueryTimeout() // validated on load
	return service.Config{
		DataDir:        c.DataDir,
		LexicalBackend: c.Search.Backend,
		Lexical:        c.LexicalConfig(),
		Search:         c.SearchEngineConfig(),
		Answer:         c.AnswerAssemblyConfig(),
		QueryTimeout:   timeout,
	}
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}
