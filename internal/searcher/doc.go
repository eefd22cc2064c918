// Package searcher implements the retrieval ranker over stored contexts.
//
// The searcher provides three search modes:
//   - Vector (default): cosine similarity between the query embedding and each
//     candidate row, after the non-similarity filters
//   - Keyword: full-text rank only, works without an embedding provider
//   - Hybrid: vector and full-text searches run concurrently and are merged
//     with Reciprocal Rank Fusion
//
// # Basic Usage
//
//	s := searcher.NewSearcher(store, embedService,
//	    searcher.WithEmbedTimeout(cfg.EmbedTimeout),
//	    searcher.WithLogger(logger),
//	)
//
//	resp, err := s.Search(ctx, searcher.SearchRequest{
//	    ProjectID: projectID,
//	    Query:     "database setup",
//	    Filters: storage.ContextFilters{
//	        Types:         []types.ContextType{types.ContextCode},
//	        MinSimilarity: 0.5,
//	    },
//	    Limit: 10,
//	})
//
// # Ordering
//
// Vector results are ordered by similarity descending, then relevance score
// descending, then created_at descending. Limit and offset are applied last;
// Rank is the position in the full ordering.
//
// Rows without an embedding are skipped unless IncludeUnembedded is set, in
// which case they rank after every embedded row with similarity 0. A positive
// MinSimilarity drops rows below the threshold, unembedded rows included.
//
// # Degraded search
//
// When the query cannot be embedded (provider down, timeout) or the vector
// query fails, vector mode falls back to full-text ranking with the same
// tie-breaks and sets SearchResponse.Degraded. Similarity then carries the
// normalised full-text score in [0, 1). The fallback is logged as a warning.
//
// # Reciprocal Rank Fusion (RRF)
//
// Hybrid mode merges the two lists:
//
//	For each result r in vector_results:
//	    rrf_score[r.id] += 1 / (k + r.rank)
//
//	For each result r in keyword_results:
//	    rrf_score[r.id] += 1 / (k + r.rank)
//
//	Sort by rrf_score descending
//
// Where k = 60 unless SearchRequest.RRFConstant is set. Results are not
// cached: a context stored a moment ago must be findable by the next search.
package searcher
