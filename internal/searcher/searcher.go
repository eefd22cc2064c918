package searcher

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/dshills/devmemory-mcp/internal/embedder"
	"github.com/dshills/devmemory-mcp/internal/storage"
	"github.com/dshills/devmemory-mcp/internal/telemetry"
	"github.com/dshills/devmemory-mcp/pkg/types"
)

// SearchMode defines how search is performed
type SearchMode string

const (
	SearchModeVector  SearchMode = "vector"  // Cosine similarity, full-text fallback
	SearchModeKeyword SearchMode = "keyword" // Full-text rank only
	SearchModeHybrid  SearchMode = "hybrid"  // Vector + full-text with RRF
)

const (
	DefaultLimit       = 10
	MaxLimit           = 100
	DefaultRRFConstant = 60
)

// QueryEmbedder embeds query text. *embedder.Service satisfies it.
type QueryEmbedder interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
}

// SearchRequest contains parameters for a search operation
type SearchRequest struct {
	ProjectID   string
	Query       string
	Mode        SearchMode
	Filters     storage.ContextFilters
	Limit       int
	Offset      int
	RRFConstant float64 // k value for Reciprocal Rank Fusion (default 60)
}

// SearchResponse contains search results and metadata
type SearchResponse struct {
	Results      []types.SearchResult
	TotalResults int
	SearchMode   SearchMode

	// Degraded is set when similarity ranking was unavailable and the
	// results come from full-text ranking instead
	Degraded bool

	Duration      time.Duration
	VectorResults int
	TextResults   int
}

// Searcher ranks a project's contexts against a query
type Searcher struct {
	storage  storage.Storage
	embedder QueryEmbedder
	timeout  time.Duration
	logger   zerolog.Logger
	metrics  *telemetry.Metrics
}

// Option configures a Searcher
type Option func(*Searcher)

// WithEmbedTimeout bounds the query embedding call; a timeout degrades the search
func WithEmbedTimeout(d time.Duration) Option {
	return func(s *Searcher) { s.timeout = d }
}

// WithLogger sets the logger
func WithLogger(l zerolog.Logger) Option {
	return func(s *Searcher) { s.logger = l }
}

// WithMetrics sets the metrics recorder
func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Searcher) { s.metrics = m }
}

// NewSearcher creates a new Searcher instance. A nil embedder makes every
// similarity search degrade to full-text ranking.
func NewSearcher(st storage.Storage, emb QueryEmbedder, opts ...Option) *Searcher {
	s := &Searcher{
		storage:  st,
		embedder: emb,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Search performs a search based on the request parameters
func (s *Searcher) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	startTime := time.Now()

	if err := validateRequest(&req); err != nil {
		return nil, err
	}

	var response *SearchResponse
	var err error

	switch req.Mode {
	case SearchModeVector:
		response, err = s.vectorSearch(ctx, req)
	case SearchModeKeyword:
		response, err = s.keywordSearch(ctx, req)
	case SearchModeHybrid:
		response, err = s.hybridSearch(ctx, req)
	}
	if err != nil {
		return nil, err
	}

	response.SearchMode = req.Mode
	response.TotalResults = len(response.Results)
	response.Duration = time.Since(startTime)

	s.metrics.Search(ctx, string(req.Mode), response.Degraded)
	s.logger.Debug().
		Str("project_id", req.ProjectID).
		Str("mode", string(req.Mode)).
		Bool("degraded", response.Degraded).
		Int("results", response.TotalResults).
		Dur("duration", response.Duration).
		Msg("search completed")

	return response, nil
}

// queryVector embeds the query, honouring the configured timeout
func (s *Searcher) queryVector(ctx context.Context, query string) ([]float32, error) {
	if s.embedder == nil {
		return nil, errors.New("no embedder configured")
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	vector, err := s.embedder.GenerateEmbedding(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to generate query embedding: %w", err)
	}
	return vector, nil
}

// vectorSearch ranks by cosine similarity and falls back to full-text
// ranking when the query cannot be embedded or the vector search fails
func (s *Searcher) vectorSearch(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	fetch := req.Offset + req.Limit

	vector, err := s.queryVector(ctx, req.Query)
	if err == nil {
		var scored []storage.ScoredContext
		scored, err = s.storage.SearchVector(ctx, req.ProjectID, vector, &req.Filters, fetch)
		if err == nil {
			return &SearchResponse{
				Results:       toResults(scored, req.Offset, req.Limit),
				VectorResults: len(scored),
			}, nil
		}
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	s.logger.Warn().Err(err).Str("project_id", req.ProjectID).Msg("similarity ranking unavailable, using full-text ranking")
	response, textErr := s.keywordSearch(ctx, req)
	if textErr != nil {
		return nil, fmt.Errorf("full-text fallback failed: %w (vector: %v)", textErr, err)
	}
	response.Degraded = true
	return response, nil
}

// keywordSearch ranks by full-text relevance. The normalised text score is
// reported as the similarity and MinSimilarity applies to it.
func (s *Searcher) keywordSearch(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	fetch := req.Offset + req.Limit
	scored, err := s.storage.SearchText(ctx, req.ProjectID, req.Query, &req.Filters, fetch)
	if err != nil {
		return nil, err
	}
	scored = applyMinScore(scored, req.Filters.MinSimilarity)
	return &SearchResponse{
		Results:     toResults(scored, req.Offset, req.Limit),
		TextResults: len(scored),
	}, nil
}

// searchResult holds results from concurrent search operations
type searchResult struct {
	scored []storage.ScoredContext
	vector []float32
	err    error
}

// runVectorSearch executes vector search in a goroutine
func (s *Searcher) runVectorSearch(ctx context.Context, req SearchRequest, fetch int, resultChan chan<- searchResult) {
	var res searchResult
	res.vector, res.err = s.queryVector(ctx, req.Query)
	if res.err == nil {
		// Unfiltered by similarity; the fused list is thresholded once
		filters := req.Filters
		filters.MinSimilarity = 0
		filters.IncludeUnembedded = false
		res.scored, res.err = s.storage.SearchVector(ctx, req.ProjectID, res.vector, &filters, fetch)
	}
	select {
	case resultChan <- res:
	case <-ctx.Done():
	}
}

// runTextSearch executes text search in a goroutine
func (s *Searcher) runTextSearch(ctx context.Context, req SearchRequest, fetch int, resultChan chan<- searchResult) {
	var res searchResult
	res.scored, res.err = s.storage.SearchText(ctx, req.ProjectID, req.Query, &req.Filters, fetch)
	select {
	case resultChan <- res:
	case <-ctx.Done():
	}
}

// hybridSearch combines vector and full-text search using Reciprocal Rank Fusion
func (s *Searcher) hybridSearch(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	fetch := (req.Offset + req.Limit) * 2
	vectorChan := make(chan searchResult, 1)
	textChan := make(chan searchResult, 1)

	go s.runVectorSearch(ctx, req, fetch, vectorChan)
	go s.runTextSearch(ctx, req, fetch, textChan)

	// Wait for both searches
	var vectorRes, textRes searchResult
	var vectorDone, textDone bool
	for !vectorDone || !textDone {
		select {
		case vectorRes = <-vectorChan:
			vectorDone = true
		case textRes = <-textChan:
			textDone = true
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	// Allow one to fail
	if vectorRes.err != nil && textRes.err != nil {
		return nil, fmt.Errorf("both searches failed: vector=%w, text=%v", vectorRes.err, textRes.err)
	}
	degraded := vectorRes.err != nil
	if degraded {
		s.logger.Warn().Err(vectorRes.err).Str("project_id", req.ProjectID).Msg("similarity ranking unavailable, hybrid search uses full-text only")
	}
	if textRes.err != nil {
		s.logger.Warn().Err(textRes.err).Str("project_id", req.ProjectID).Msg("full-text ranking failed, hybrid search uses vectors only")
	}

	fused := applyRRF(vectorRes.scored, textRes.scored, req.RRFConstant)

	kept := fused[:0]
	for _, f := range fused {
		if degraded {
			// Text score stands in for similarity
			f.similarity = f.textScore
		} else if f.context.HasEmbedding() {
			f.similarity = embedder.CosineSimilarity(vectorRes.vector, f.context.Embedding)
		} else if !req.Filters.IncludeUnembedded || req.Filters.MinSimilarity > 0 {
			continue
		}
		if req.Filters.MinSimilarity > 0 && f.similarity < req.Filters.MinSimilarity {
			continue
		}
		kept = append(kept, f)
	}

	return &SearchResponse{
		Results:       pageFused(kept, req.Offset, req.Limit),
		Degraded:      degraded,
		VectorResults: len(vectorRes.scored),
		TextResults:   len(textRes.scored),
	}, nil
}

// fusedResult is a context with its combined RRF score
type fusedResult struct {
	context    *types.Context
	score      float64
	textScore  float64
	similarity float64
}

// applyRRF applies Reciprocal Rank Fusion to combine vector and text results
// RRF formula: RRF(d) = Σ 1/(k + rank(d))
func applyRRF(vectorResults, textResults []storage.ScoredContext, k float64) []fusedResult {
	if k <= 0 {
		k = DefaultRRFConstant
	}

	byID := make(map[string]*fusedResult)
	order := make([]string, 0, len(vectorResults)+len(textResults))
	add := func(sc storage.ScoredContext, rank int, text bool) {
		f, ok := byID[sc.Context.ID]
		if !ok {
			f = &fusedResult{context: sc.Context}
			byID[sc.Context.ID] = f
			order = append(order, sc.Context.ID)
		}
		f.score += 1.0 / (k + float64(rank+1))
		if text {
			f.textScore = sc.Score
		}
	}
	for rank, vr := range vectorResults {
		add(vr, rank, false)
	}
	for rank, tr := range textResults {
		add(tr, rank, true)
	}

	results := make([]fusedResult, 0, len(order))
	for _, id := range order {
		results = append(results, *byID[id])
	}
	sortFused(results)
	return results
}

// sortFused orders by RRF score, then relevance and recency
func sortFused(results []fusedResult) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if a.context.RelevanceScore != b.context.RelevanceScore {
			return a.context.RelevanceScore > b.context.RelevanceScore
		}
		if !a.context.CreatedAt.Equal(b.context.CreatedAt) {
			return a.context.CreatedAt.After(b.context.CreatedAt)
		}
		return a.context.ID < b.context.ID
	})
}

func pageFused(fused []fusedResult, offset, limit int) []types.SearchResult {
	if offset >= len(fused) {
		return []types.SearchResult{}
	}
	end := min(offset+limit, len(fused))
	results := make([]types.SearchResult, 0, end-offset)
	for i := offset; i < end; i++ {
		results = append(results, types.SearchResult{
			Context:    fused[i].context,
			Rank:       i + 1,
			Similarity: fused[i].similarity,
		})
	}
	return results
}

// toResults pages an already ordered list. Ranks count from the start of the
// full ordering, so page two starts at offset+1.
func toResults(scored []storage.ScoredContext, offset, limit int) []types.SearchResult {
	if offset >= len(scored) {
		return []types.SearchResult{}
	}
	end := min(offset+limit, len(scored))
	results := make([]types.SearchResult, 0, end-offset)
	for i := offset; i < end; i++ {
		results = append(results, types.SearchResult{
			Context:    scored[i].Context,
			Rank:       i + 1,
			Similarity: scored[i].Score,
		})
	}
	return results
}

func applyMinScore(scored []storage.ScoredContext, minScore float64) []storage.ScoredContext {
	if minScore <= 0 {
		return scored
	}
	kept := scored[:0]
	for _, sc := range scored {
		if sc.Score >= minScore {
			kept = append(kept, sc)
		}
	}
	return kept
}

// validateRequest ensures search request is valid and fills defaults
func validateRequest(req *SearchRequest) error {
	if strings.TrimSpace(req.Query) == "" {
		return types.NewValidationError("query", "cannot be empty")
	}
	if strings.TrimSpace(req.ProjectID) == "" {
		return types.NewValidationError("projectId", "is required")
	}

	switch {
	case req.Limit < 0:
		return types.NewValidationError("limit", "must not be negative")
	case req.Limit == 0:
		req.Limit = DefaultLimit
	case req.Limit > MaxLimit:
		req.Limit = MaxLimit
	}
	if req.Offset < 0 {
		return types.NewValidationError("offset", "must not be negative")
	}

	switch req.Mode {
	case "":
		req.Mode = SearchModeVector
	case SearchModeVector, SearchModeKeyword, SearchModeHybrid:
	default:
		return types.NewValidationError("mode", "unsupported search mode %q", req.Mode)
	}

	if req.RRFConstant == 0 {
		req.RRFConstant = DefaultRRFConstant
	}

	req.Filters.Tags = types.NormalizeTags(req.Filters.Tags)
	return req.Filters.Validate()
}
