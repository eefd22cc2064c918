package types

import (
	"errors"
	"math"
)

// Search result errors
var (
	ErrInvalidRank       = errors.New("rank must be >= 1")
	ErrInvalidSimilarity = errors.New("similarity must be between -1 and 1")
	ErrMissingContext    = errors.New("context is required")
)

// SearchResult is one ranked context returned by the retrieval ranker
type SearchResult struct {
	Context *Context
	Rank    int // Position in the full ordering (1-based, offset included)

	// Similarity is the cosine similarity to the query, or the normalised
	// full-text score when the search ran degraded or in keyword mode.
	Similarity float64
}

// SimilarityPercent rounds the similarity to a whole percentage
func (sr *SearchResult) SimilarityPercent() int {
	return int(math.Round(sr.Similarity * 100))
}

// Validate checks if the search result is well formed
func (sr *SearchResult) Validate() error {
	if sr.Context == nil {
		return ErrMissingContext
	}
	if sr.Rank < 1 {
		return ErrInvalidRank
	}
	if sr.Similarity < -1 || sr.Similarity > 1 {
		return ErrInvalidSimilarity
	}
	return nil
}
