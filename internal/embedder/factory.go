package embedder

import (
	"fmt"
	"strings"
	"time"

	"github.com/dshills/devmemory-mcp/internal/config"
)

// Config selects and configures a provider
type Config struct {
	Provider  string
	Model     string
	APIKey    string
	BaseURL   string
	Dimension int
	CacheSize int
	Timeout   time.Duration
}

// New creates an embedder with explicit configuration
func New(cfg Config) (Embedder, error) {
	var cache *Cache
	if cfg.CacheSize > 0 {
		cache = NewCache(cfg.CacheSize)
	}

	opts := RemoteOptions{
		APIKey:    cfg.APIKey,
		BaseURL:   cfg.BaseURL,
		Model:     cfg.Model,
		Dimension: cfg.Dimension,
		Timeout:   cfg.Timeout,
	}

	switch strings.ToLower(cfg.Provider) {
	case ProviderJina:
		return NewJinaProvider(opts, cache)
	case ProviderOpenAI:
		return NewOpenAIProvider(opts, cache)
	case ProviderOllama:
		return NewOllamaProvider(opts, cache), nil
	case ProviderLocal:
		return NewLocalProvider(cfg.Dimension, cache), nil
	default:
		return nil, fmt.Errorf("%w: unknown provider %s", ErrUnsupportedModel, cfg.Provider)
	}
}

// DetectProvider resolves the provider name for a server configuration.
// Priority: explicit provider, OpenAI key, Jina key, local.
func DetectProvider(cfg *config.Config) string {
	if cfg.EmbeddingProvider != "" {
		return strings.ToLower(cfg.EmbeddingProvider)
	}
	if cfg.OpenAIAPIKey != "" {
		return ProviderOpenAI
	}
	if cfg.JinaAPIKey != "" {
		return ProviderJina
	}
	return ProviderLocal
}

// NewServiceFromConfig builds the embedding service described by the server configuration
func NewServiceFromConfig(cfg *config.Config) (*Service, error) {
	provider := DetectProvider(cfg)

	ec := Config{
		Provider:  provider,
		Model:     cfg.EmbeddingModel,
		Dimension: cfg.EmbeddingDimension,
		CacheSize: cfg.EmbedCacheSize,
	}
	switch provider {
	case ProviderOpenAI:
		ec.APIKey = cfg.OpenAIAPIKey
	case ProviderJina:
		ec.APIKey = cfg.JinaAPIKey
	case ProviderOllama:
		ec.BaseURL = cfg.OllamaURL
	}

	emb, err := New(ec)
	if err != nil {
		return nil, err
	}

	svc, err := NewService(emb, cfg.EmbeddingDimension, cfg.MaxEmbedChars)
	if err != nil {
		_ = emb.Close()
		return nil, err
	}
	return svc, nil
}
