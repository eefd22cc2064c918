package embedder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/devmemory-mcp/internal/config"
	"github.com/dshills/devmemory-mcp/pkg/types"
)

func TestDetectProvider(t *testing.T) {
	tests := []struct {
		name      string
		provider  string
		openaiKey string
		jinaKey   string
		want      string
	}{
		{"explicit provider wins", "Ollama", "k", "k", ProviderOllama},
		{"openai key", "", "k", "k", ProviderOpenAI},
		{"jina key", "", "", "k", ProviderJina},
		{"fallback to local", "", "", "", ProviderLocal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.EmbeddingProvider = tt.provider
			cfg.OpenAIAPIKey = tt.openaiKey
			cfg.JinaAPIKey = tt.jinaKey
			assert.Equal(t, tt.want, DetectProvider(cfg))
		})
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		want    string
		wantErr bool
	}{
		{"local", Config{Provider: "local", Dimension: 64}, ProviderLocal, false},
		{"ollama", Config{Provider: "ollama", Dimension: 768}, ProviderOllama, false},
		{"openai", Config{Provider: "openai", APIKey: "k"}, ProviderOpenAI, false},
		{"jina", Config{Provider: "JINA", APIKey: "k", Dimension: 512}, ProviderJina, false},
		{"openai without key", Config{Provider: "openai"}, "", true},
		{"unknown", Config{Provider: "word2vec"}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			emb, err := New(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			defer emb.Close()
			assert.Equal(t, tt.want, emb.Provider())
		})
	}
}

func TestNewServiceFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.EmbeddingProvider = ProviderLocal
	cfg.EmbeddingDimension = 256

	svc, err := NewServiceFromConfig(cfg)
	require.NoError(t, err)
	defer svc.Close()
	assert.Equal(t, 256, svc.Dimension())

	// Jina cannot serve more than 1024 dimensions
	cfg.EmbeddingProvider = ProviderJina
	cfg.JinaAPIKey = "k"
	cfg.EmbeddingDimension = 2048
	_, err = NewServiceFromConfig(cfg)
	assert.ErrorIs(t, err, ErrUnsupportedModel)
}

func TestNewServiceDimensionMismatchFromProvider(t *testing.T) {
	_, err := NewService(NewOllamaProvider(RemoteOptions{Dimension: 768}, nil), 1536, 8000)
	assert.ErrorIs(t, err, types.ErrDimensionMismatch)
}
