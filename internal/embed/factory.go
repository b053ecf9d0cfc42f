package embed

import (
	"context"

	"github.com/citegrep/citegrep/internal/errors"
)

// Provider names accepted by the factory.
const (
	ProviderOllama = "ollama"
	ProviderStatic = "static"
	ProviderNone   = "none"
)

// ProviderConfig selects and configures an embedding provider.
type ProviderConfig struct {
	// Provider is one of "ollama", "static", or "none".
	Provider string

	// Ollama holds provider-specific settings when Provider is "ollama".
	Ollama OllamaConfig

	// CacheSize bounds the query embedding cache (0 = default).
	CacheSize int
}

// NewEmbedder creates the configured embedding provider wrapped in an
// LRU cache. Provider "none" yields (nil, nil): semantic retrieval is
// disabled, lexical-only search still works.
func NewEmbedder(ctx context.Context, cfg ProviderConfig) (Embedder, error) {
	switch cfg.Provider {
	case ProviderNone, "":
		return nil, nil
	case ProviderStatic:
		return NewCachedEmbedder(NewStaticEmbedder(), cfg.CacheSize), nil
	case ProviderOllama:
		inner, err := NewOllamaEmbedder(ctx, cfg.Ollama)
		if err != nil {
			return nil, err
		}
		return NewCachedEmbedder(inner, cfg.CacheSize), nil
	default:
		return nil, errors.Newf(errors.KindValidation,
			"unknown embedding provider %q (want %q, %q, or %q)",
			cfg.Provider, ProviderOllama, ProviderStatic, ProviderNone)
	}
}
