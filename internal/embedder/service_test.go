package embedder

import (
	"context"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/devmemory-mcp/pkg/types"
)

// fixedEmbedder returns a preset vector and records the last text it saw
type fixedEmbedder struct {
	dim      int
	vector   []float32
	lastText string
}

func (f *fixedEmbedder) GenerateEmbedding(_ context.Context, req EmbeddingRequest) (*Embedding, error) {
	f.lastText = req.Text
	return &Embedding{Vector: f.vector, Dimension: len(f.vector), Provider: "fixed", Model: "m"}, nil
}

func (f *fixedEmbedder) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	return nil, ErrInvalidInput
}

func (f *fixedEmbedder) Dimension() int   { return f.dim }
func (f *fixedEmbedder) Provider() string { return "fixed" }
func (f *fixedEmbedder) Model() string    { return "m" }
func (f *fixedEmbedder) Close() error     { return nil }

// slowEmbedder answers after delay unless its ctx ends first
type slowEmbedder struct {
	fixedEmbedder
	delay time.Duration
	calls atomic.Int32
}

func (s *slowEmbedder) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	s.calls.Add(1)
	select {
	case <-time.After(s.delay):
		return &Embedding{Vector: s.vector, Dimension: len(s.vector), Provider: "slow", Model: "m"}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestServiceSharedCallHonoursEachDeadline(t *testing.T) {
	provider := &slowEmbedder{fixedEmbedder: fixedEmbedder{dim: 2, vector: []float32{1, 0}}, delay: 200 * time.Millisecond}
	svc, err := NewService(provider, 2, 100)
	require.NoError(t, err)

	var wg sync.WaitGroup
	var shortErr, longErr, joinErr error
	var longVec []float32
	var joinElapsed time.Duration

	wg.Add(3)
	go func() {
		defer wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		_, shortErr = svc.GenerateEmbedding(ctx, "shared text")
	}()
	time.Sleep(10 * time.Millisecond)
	go func() {
		defer wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		longVec, longErr = svc.GenerateEmbedding(ctx, "shared text")
	}()
	go func() {
		defer wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		start := time.Now()
		_, joinErr = svc.GenerateEmbedding(ctx, "shared text")
		joinElapsed = time.Since(start)
	}()
	wg.Wait()

	assert.ErrorIs(t, shortErr, context.DeadlineExceeded)
	require.NoError(t, longErr, "an early caller's deadline must not fail later callers")
	assert.Equal(t, []float32{1, 0}, longVec)
	assert.ErrorIs(t, joinErr, context.DeadlineExceeded)
	assert.Less(t, joinElapsed, 150*time.Millisecond)
	assert.Equal(t, int32(1), provider.calls.Load())
}

func TestServiceCallTimeout(t *testing.T) {
	provider := &slowEmbedder{fixedEmbedder: fixedEmbedder{dim: 2, vector: []float32{1, 0}}, delay: time.Second}
	svc, err := NewService(provider, 2, 100, WithCallTimeout(30*time.Millisecond))
	require.NoError(t, err)

	_, err = svc.GenerateEmbedding(context.Background(), "text")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestServiceCancelledBeforeCall(t *testing.T) {
	provider := &slowEmbedder{fixedEmbedder: fixedEmbedder{dim: 2, vector: []float32{1, 0}}}
	svc, err := NewService(provider, 2, 100)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = svc.GenerateEmbedding(ctx, "text")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, provider.calls.Load())
}

func TestNewServiceRejectsDimensionMismatch(t *testing.T) {
	_, err := NewService(NewLocalProvider(384, nil), 1536, 8000)
	assert.ErrorIs(t, err, types.ErrDimensionMismatch)

	svc, err := NewService(NewLocalProvider(384, nil), 384, 8000)
	require.NoError(t, err)
	assert.Equal(t, 384, svc.Dimension())
	assert.Equal(t, "local/"+LocalModel, svc.Model())
}

func TestServiceTruncatesInput(t *testing.T) {
	fe := &fixedEmbedder{dim: 2, vector: []float32{1, 0}}
	svc, err := NewService(fe, 2, 10)
	require.NoError(t, err)

	_, err = svc.GenerateEmbedding(context.Background(), strings.Repeat("é", 25))
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("é", 10), fe.lastText)
}

func TestServiceRejectsWrongVectors(t *testing.T) {
	tests := []struct {
		name   string
		vector []float32
		want   error
	}{
		{"short vector", []float32{1}, types.ErrDimensionMismatch},
		{"long vector", []float32{1, 2, 3}, types.ErrDimensionMismatch},
		{"nan", []float32{float32(math.NaN()), 1}, ErrInvalidEmbedding},
		{"inf", []float32{float32(math.Inf(1)), 1}, ErrInvalidEmbedding},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, err := NewService(&fixedEmbedder{dim: 2, vector: tt.vector}, 2, 100)
			require.NoError(t, err)
			_, err = svc.GenerateEmbedding(context.Background(), "text")
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestServiceRejectsBlankText(t *testing.T) {
	svc, err := NewService(NewLocalProvider(8, nil), 8, 100)
	require.NoError(t, err)
	_, err = svc.GenerateEmbedding(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyText)
}

func TestServiceReturnsIndependentCopies(t *testing.T) {
	svc, err := NewService(&fixedEmbedder{dim: 2, vector: []float32{0.5, 0.5}}, 2, 100)
	require.NoError(t, err)

	a, err := svc.GenerateEmbedding(context.Background(), "x")
	require.NoError(t, err)
	a[0] = 42

	b, err := svc.GenerateEmbedding(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, float32(0.5), b[0])
}

func TestValidateEmbedding(t *testing.T) {
	svc, err := NewService(NewLocalProvider(3, nil), 3, 100)
	require.NoError(t, err)

	assert.True(t, svc.ValidateEmbedding([]float32{0, 1, 0}))
	assert.False(t, svc.ValidateEmbedding([]float32{0, 1}))
	assert.False(t, svc.ValidateEmbedding([]float32{0, float32(math.NaN()), 0}))
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"length mismatch", []float32{1, 0}, []float32{1, 0, 0}, 0},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 0},
		{"empty", nil, nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CosineSimilarity(tt.a, tt.b)
			assert.InDelta(t, tt.want, got, 1e-6)
			assert.GreaterOrEqual(t, got, -1.0)
			assert.LessOrEqual(t, got, 1.0)
		})
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", Truncate("abc", 5))
	assert.Equal(t, "ab", Truncate("abc", 2))
	assert.Equal(t, "日本", Truncate("日本語", 2))
	assert.Equal(t, "abc", Truncate("abc", 0))
}
