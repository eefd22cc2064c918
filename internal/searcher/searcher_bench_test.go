package searcher

import (
	"context"
	"fmt"
	"testing"

	"github.com/dshills/devmemory-mcp/internal/storage"
	"github.com/dshills/devmemory-mcp/pkg/types"
)

var benchTopics = []string{
	"database migration", "embedding cache", "naming registry", "decision ledger",
	"vector search", "session handling", "backfill worker", "error wrapping",
}

// setupSearchBenchmark stores n embedded contexts in an in-memory database
func setupSearchBenchmark(b *testing.B, n int) *fixture {
	b.Helper()
	f := setupFixture(b)
	for i := 0; i < n; i++ {
		topic := benchTopics[i%len(benchTopics)]
		f.add(b, types.ContextCode, fmt.Sprintf("%s note %d about %s", topic, i, benchTopics[(i+3)%len(benchTopics)]), float64(i%10), true)
	}
	return f
}

func benchmarkMode(b *testing.B, mode SearchMode) {
	f := setupSearchBenchmark(b, 500)
	s := f.searcher()
	req := SearchRequest{ProjectID: f.project.ID, Query: "vector search cache", Mode: mode, Limit: 10}

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, err := s.Search(context.Background(), req); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkVectorSearch benchmarks similarity ranking over a full scan
func BenchmarkVectorSearch(b *testing.B) { benchmarkMode(b, SearchModeVector) }

// BenchmarkKeywordSearch benchmarks FTS5 ranking
func BenchmarkKeywordSearch(b *testing.B) { benchmarkMode(b, SearchModeKeyword) }

// BenchmarkHybridSearch benchmarks vector + full-text + RRF
func BenchmarkHybridSearch(b *testing.B) { benchmarkMode(b, SearchModeHybrid) }

// BenchmarkRRF benchmarks Reciprocal Rank Fusion algorithm
func BenchmarkRRF(b *testing.B) {
	vectorResults := make([]storage.ScoredContext, 20)
	for i := range vectorResults {
		vectorResults[i] = storage.ScoredContext{
			Context: &types.Context{ID: fmt.Sprintf("ctx-%d", i)},
			Score:   float64(20-i) / 20.0,
		}
	}
	textResults := make([]storage.ScoredContext, 20)
	for i := range textResults {
		textResults[i] = storage.ScoredContext{
			Context: &types.Context{ID: fmt.Sprintf("ctx-%d", i+10)},
			Score:   float64(20-i) / 40.0,
		}
	}

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_ = applyRRF(vectorResults, textResults, 60)
	}
}
