package embedder

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/singleflight"

	"github.com/dshills/devmemory-mcp/pkg/types"
)

// DefaultCallTimeout bounds one shared provider call. Callers wait on their
// own context, never longer than this.
const DefaultCallTimeout = 60 * time.Second

// Service wraps a provider with the deployment's vector dimension and input cap.
// Every vector it returns has exactly Dimension() finite components.
type Service struct {
	provider  Embedder
	dimension int
	maxChars  int
	inflight  singleflight.Group

	callTimeout time.Duration
}

// ServiceOption configures a Service
type ServiceOption func(*Service)

// WithCallTimeout bounds each shared provider call
func WithCallTimeout(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.callTimeout = d
		}
	}
}

// NewService checks that the provider produces the configured dimension
func NewService(provider Embedder, dimension, maxChars int, opts ...ServiceOption) (*Service, error) {
	if provider == nil {
		return nil, ErrNoProviderEnabled
	}
	if dimension <= 0 {
		return nil, fmt.Errorf("%w: dimension must be positive, got %d", ErrInvalidInput, dimension)
	}
	if provider.Dimension() != dimension {
		return nil, fmt.Errorf("%w: provider %s/%s produces %d dimensions, deployment uses %d",
			types.ErrDimensionMismatch, provider.Provider(), provider.Model(), provider.Dimension(), dimension)
	}
	if maxChars <= 0 {
		maxChars = 8000
	}
	s := &Service{provider: provider, dimension: dimension, maxChars: maxChars, callTimeout: DefaultCallTimeout}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// GenerateEmbedding embeds text, truncating it to the configured number of characters first.
// Concurrent requests for the same text share one provider call. The shared
// call is detached from every caller and bounded by the call timeout; each
// caller stops waiting when its own ctx is done.
func (s *Service) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	text = Truncate(text, s.maxChars)
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ch := s.inflight.DoChan(text, func() (interface{}, error) {
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.callTimeout)
		defer cancel()
		emb, err := s.provider.GenerateEmbedding(callCtx, EmbeddingRequest{Text: text})
		if err != nil {
			return nil, err
		}
		if err := s.validate(emb.Vector); err != nil {
			return nil, err
		}
		return emb.Vector, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		shared := res.Val.([]float32)
		out := make([]float32, len(shared))
		copy(out, shared)
		return out, nil
	}
}

func (s *Service) validate(v []float32) error {
	if len(v) != s.dimension {
		return fmt.Errorf("%w: %s returned %d dimensions, want %d",
			types.ErrDimensionMismatch, s.provider.Provider(), len(v), s.dimension)
	}
	for _, x := range v {
		if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
			return ErrInvalidEmbedding
		}
	}
	return nil
}

// ValidateEmbedding reports whether v has the deployment dimension and only finite values
func (s *Service) ValidateEmbedding(v []float32) bool {
	return s.validate(v) == nil
}

// CosineSimilarity returns the cosine similarity of a and b
func (s *Service) CosineSimilarity(a, b []float32) float64 {
	return CosineSimilarity(a, b)
}

// Dimension returns the deployment vector dimension
func (s *Service) Dimension() int {
	return s.dimension
}

// Model names the provider model, recorded next to stored vectors
func (s *Service) Model() string {
	return s.provider.Provider() + "/" + s.provider.Model()
}

// Close releases the provider
func (s *Service) Close() error {
	return s.provider.Close()
}

// CosineSimilarity returns a value in [-1, 1]. Vectors of different length or
// with zero magnitude have similarity 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	if math.IsNaN(sim) {
		return 0
	}
	return math.Max(-1, math.Min(1, sim))
}

// Truncate cuts text to at most maxChars runes
func Truncate(text string, maxChars int) string {
	if maxChars <= 0 || utf8.RuneCountInString(text) <= maxChars {
		return text
	}
	count := 0
	for i := range text {
		if count == maxChars {
			return text[:i]
		}
		count++
	}
	return text
}
