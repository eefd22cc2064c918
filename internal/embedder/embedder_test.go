package embedder

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeHash(t *testing.T) {
	a := ComputeHash("model-a", "hello world")
	assert.Len(t, a, 64)
	assert.Equal(t, a, ComputeHash("model-a", "hello world"))
	assert.NotEqual(t, a, ComputeHash("model-b", "hello world"))
	assert.NotEqual(t, a, ComputeHash("model-a", "hello world!"))
}

func TestValidateRequest(t *testing.T) {
	assert.NoError(t, ValidateRequest(EmbeddingRequest{Text: "test text"}))
	assert.True(t, errors.Is(ValidateRequest(EmbeddingRequest{}), ErrEmptyText))
}

func TestValidateBatchRequest(t *testing.T) {
	tests := []struct {
		name    string
		req     BatchEmbeddingRequest
		wantErr bool
	}{
		{"valid batch", BatchEmbeddingRequest{Texts: []string{"text1", "text2"}}, false},
		{"empty batch", BatchEmbeddingRequest{Texts: []string{}}, true},
		{"contains empty text", BatchEmbeddingRequest{Texts: []string{"text1", ""}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateBatchRequest(tt.req)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidInput)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCache(t *testing.T) {
	cache := NewCache(2)
	emb := &Embedding{Vector: []float32{1, 2, 3}, Dimension: 3, Provider: ProviderLocal, Model: LocalModel, Hash: "a"}
	cache.Set("a", emb)

	got, ok := cache.Get("a")
	require.True(t, ok)
	assert.Equal(t, emb.Vector, got.Vector)

	// Mutating the copy must not touch the cached entry
	got.Vector[0] = 99
	again, _ := cache.Get("a")
	assert.Equal(t, float32(1), again.Vector[0])

	cache.Set("b", emb)
	cache.Set("c", emb)
	assert.Equal(t, 2, cache.Size())
	_, ok = cache.Get("a")
	assert.False(t, ok, "oldest entry should be evicted")

	cache.Clear()
	assert.Zero(t, cache.Size())
}

func TestNilCacheIsSafe(t *testing.T) {
	var cache *Cache
	cache.Set("a", &Embedding{})
	_, ok := cache.Get("a")
	assert.False(t, ok)
	assert.Zero(t, cache.Size())
}

func TestNormalizeVector(t *testing.T) {
	v := NormalizeVector([]float32{3, 4})
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)

	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-6)

	zero := []float32{0, 0}
	assert.Equal(t, zero, NormalizeVector(zero))
}
