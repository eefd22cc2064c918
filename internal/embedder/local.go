package embedder

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

const (
	LocalModel     = "feature-hash-v1"
	LocalDimension = 1536

	trigramWeight = 0.35
)

// LocalProvider is an offline embedder based on signed feature hashing.
// Each lower-cased word and each of its character trigrams is hashed into a
// bucket of the vector; the result is L2-normalised. Texts sharing words end
// up close in cosine space, identical texts map to identical vectors.
type LocalProvider struct {
	dimension int
	cache     *Cache
}

// NewLocalProvider creates a local embedder producing vectors of the given dimension
func NewLocalProvider(dimension int, cache *Cache) *LocalProvider {
	if dimension <= 0 {
		dimension = LocalDimension
	}
	return &LocalProvider{dimension: dimension, cache: cache}
}

func (l *LocalProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	hash := ComputeHash(LocalModel, req.Text)
	if emb, ok := l.cache.Get(hash); ok {
		return emb, nil
	}

	emb := &Embedding{
		Vector:    l.embed(req.Text),
		Dimension: l.dimension,
		Provider:  ProviderLocal,
		Model:     LocalModel,
		Hash:      hash,
	}
	l.cache.Set(hash, emb)

	return emb, nil
}

func (l *LocalProvider) embed(text string) []float32 {
	vector := make([]float32, l.dimension)

	for _, token := range tokenize(text) {
		l.add(vector, "w:"+token, 1)

		padded := "<" + token + ">"
		runes := []rune(padded)
		for i := 0; i+3 <= len(runes); i++ {
			l.add(vector, "t:"+string(runes[i:i+3]), trigramWeight)
		}
	}

	return NormalizeVector(vector)
}

// add accumulates a feature. The top hash bit picks the sign so that
// collisions cancel out on average instead of piling up.
func (l *LocalProvider) add(vector []float32, feature string, weight float32) {
	h := xxhash.Sum64String(feature)
	idx := h % uint64(l.dimension)
	if h>>63 == 1 {
		weight = -weight
	}
	vector[idx] += weight
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func (l *LocalProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := ValidateBatchRequest(req); err != nil {
		return nil, err
	}

	embeddings := make([]*Embedding, len(req.Texts))
	for i, text := range req.Texts {
		emb, err := l.GenerateEmbedding(ctx, EmbeddingRequest{Text: text})
		if err != nil {
			return nil, fmt.Errorf("embedding text %d: %w", i, err)
		}
		embeddings[i] = emb
	}

	return &BatchEmbeddingResponse{
		Embeddings: embeddings,
		Provider:   ProviderLocal,
		Model:      LocalModel,
	}, nil
}

func (l *LocalProvider) Dimension() int {
	return l.dimension
}

func (l *LocalProvider) Provider() string {
	return ProviderLocal
}

func (l *LocalProvider) Model() string {
	return LocalModel
}

func (l *LocalProvider) Close() error {
	return nil
}
