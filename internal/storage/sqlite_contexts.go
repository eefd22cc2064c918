package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dshills/devmemory-mcp/pkg/types"
)

const contextColumns = `c.id, c.project_id, c.session_id, c.context_type, c.content, c.embedding,
	c.embedding_model, c.relevance_score, c.tags, c.metadata, c.created_at`

func scanContext(row rowScanner, extra ...interface{}) (*types.Context, error) {
	var c types.Context
	var sessionID sql.NullString
	var contextType, tags, metadata, createdAt string
	var embedding []byte

	dest := []interface{}{
		&c.ID, &c.ProjectID, &sessionID, &contextType, &c.Content, &embedding,
		&c.EmbeddingModel, &c.RelevanceScore, &tags, &metadata, &createdAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}

	c.SessionID = stringPtr(sessionID)
	c.Type = types.ContextType(contextType)
	if len(embedding) > 0 {
		c.Embedding = deserializeVector(embedding)
	}
	if err := json.Unmarshal([]byte(tags), &c.Tags); err != nil {
		return nil, fmt.Errorf("failed to decode tags for context %s: %w", c.ID, err)
	}
	if c.Tags == nil {
		c.Tags = []string{}
	}
	if metadata != "" && metadata != "{}" {
		if err := json.Unmarshal([]byte(metadata), &c.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata for context %s: %w", c.ID, err)
		}
	}
	var err error
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &c, nil
}

func scanContexts(rows *sql.Rows) ([]*types.Context, error) {
	defer func() { _ = rows.Close() }()
	var out []*types.Context
	for rows.Next() {
		c, err := scanContext(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// checkVector enforces the deployment dimension on every embedding write
func checkVector(vector []float32, dim int) error {
	if len(vector) != dim {
		return fmt.Errorf("%w: got %d, want %d", types.ErrDimensionMismatch, len(vector), dim)
	}
	return nil
}

func (s *sqliteQueries) InsertContext(ctx context.Context, c *types.Context) error {
	if err := c.Validate(); err != nil {
		return err
	}
	var embedding []byte
	if c.HasEmbedding() {
		if err := checkVector(c.Embedding, s.dim); err != nil {
			return err
		}
		embedding = serializeVector(c.Embedding)
	} else {
		c.EmbeddingModel = ""
	}

	c.Tags = types.NormalizeTags(c.Tags)
	tags, err := encodeJSON(c.Tags)
	if err != nil {
		return err
	}
	metadata := "{}"
	if len(c.Metadata) > 0 {
		if metadata, err = encodeJSON(c.Metadata); err != nil {
			return types.NewValidationError("metadata", "not JSON encodable: %v", err)
		}
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}

	_, err = s.q.ExecContext(ctx, `
		INSERT INTO contexts (id, project_id, session_id, context_type, content, embedding,
			embedding_model, relevance_score, tags, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.ProjectID, nullString(c.SessionID), string(c.Type), c.Content, embedding,
		c.EmbeddingModel, c.RelevanceScore, tags, metadata, formatTime(c.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert context: %w", err)
	}
	return nil
}

func (s *sqliteQueries) GetContext(ctx context.Context, id string) (*types.Context, error) {
	c, err := scanContext(s.q.QueryRowContext(ctx, "SELECT "+contextColumns+" FROM contexts c WHERE c.id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.NewNotFoundError("context", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get context: %w", err)
	}
	return c, nil
}

func (s *sqliteQueries) ListRecentContexts(ctx context.Context, projectID string, limit int) ([]*types.Context, error) {
	rows, err := s.q.QueryContext(ctx, "SELECT "+contextColumns+`
		FROM contexts c
		WHERE c.project_id = ?
		ORDER BY c.created_at DESC, c.seq DESC
		LIMIT ?`, projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list contexts: %w", err)
	}
	return scanContexts(rows)
}

// SearchVector ranks contexts by cosine similarity to vector. With the
// sqlite-vec extension the distance is computed in SQL; otherwise, or if
// the extension query fails, candidates are scored in Go.
func (s *sqliteQueries) SearchVector(ctx context.Context, projectID string, vector []float32, filters *ContextFilters, limit int) ([]ScoredContext, error) {
	if err := checkVector(vector, s.dim); err != nil {
		return nil, err
	}
	if filters == nil {
		filters = &ContextFilters{}
	}

	if VectorExtensionAvailable {
		results, err := s.searchVectorExtension(ctx, projectID, vector, filters, limit)
		if err == nil {
			return results, nil
		}
	}
	return s.searchVectorScan(ctx, projectID, vector, filters, limit)
}

func includeUnembedded(f *ContextFilters) bool {
	return f.IncludeUnembedded && f.MinSimilarity <= 0
}

func (s *sqliteQueries) vectorWhere(projectID string, filters *ContextFilters) *whereBuilder {
	w := newWhere(sqliteDialect{})
	w.add("c.project_id = ?", projectID)
	w.contextFilters(filters)
	if !includeUnembedded(filters) {
		w.add("c.embedding IS NOT NULL")
	}
	return w
}

func (s *sqliteQueries) searchVectorExtension(ctx context.Context, projectID string, vector []float32, filters *ContextFilters, limit int) ([]ScoredContext, error) {
	blob := serializeVector(vector)
	w := s.vectorWhere(projectID, filters)

	query := "SELECT " + contextColumns + `,
		CASE WHEN c.embedding IS NULL THEN 0 ELSE 1.0 - vec_distance_cosine(c.embedding, ?) END AS similarity
		FROM contexts c` + w.sql()
	args := append([]interface{}{blob}, w.args...)
	if filters.MinSimilarity > 0 {
		query += " AND (1.0 - vec_distance_cosine(c.embedding, ?)) >= ?"
		args = append(args, blob, filters.MinSimilarity)
	}
	query += " ORDER BY (c.embedding IS NULL), similarity DESC, c.relevance_score DESC, c.created_at DESC, c.id"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var results []ScoredContext
	for rows.Next() {
		var sim float64
		c, err := scanContext(rows, &sim)
		if err != nil {
			return nil, err
		}
		results = append(results, ScoredContext{Context: c, Score: clampSimilarity(sim)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortScored(results)
	return results, nil
}

func (s *sqliteQueries) searchVectorScan(ctx context.Context, projectID string, vector []float32, filters *ContextFilters, limit int) ([]ScoredContext, error) {
	w := s.vectorWhere(projectID, filters)
	rows, err := s.q.QueryContext(ctx, "SELECT "+contextColumns+" FROM contexts c"+w.sql(), w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load search candidates: %w", err)
	}
	candidates, err := scanContexts(rows)
	if err != nil {
		return nil, err
	}
	return rankCandidates(candidates, vector, filters, limit), nil
}

// rankCandidates scores rows in memory; shared by both dialects' fallbacks
func rankCandidates(candidates []*types.Context, vector []float32, filters *ContextFilters, limit int) []ScoredContext {
	results := make([]ScoredContext, 0, len(candidates))
	for _, c := range candidates {
		if !c.HasEmbedding() {
			if includeUnembedded(filters) {
				results = append(results, ScoredContext{Context: c})
			}
			continue
		}
		sim := cosineSimilarity(vector, c.Embedding)
		if filters.MinSimilarity > 0 && sim < filters.MinSimilarity {
			continue
		}
		results = append(results, ScoredContext{Context: c, Score: sim})
	}
	sortScored(results)
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}

func (s *sqliteQueries) SearchText(ctx context.Context, projectID string, query string, filters *ContextFilters, limit int) ([]ScoredContext, error) {
	match := sanitizeFTSQuery(query)
	if match == "" {
		return nil, nil
	}

	w := newWhere(sqliteDialect{})
	w.add("contexts_fts MATCH ?", match)
	w.add("c.project_id = ?", projectID)
	w.contextFilters(filters)

	// bm25 is negative; more negative is a better match
	sqlQuery := "SELECT " + contextColumns + `, bm25(contexts_fts) AS rank
		FROM contexts_fts
		JOIN contexts c ON c.seq = contexts_fts.rowid` + w.sql() + `
		ORDER BY rank`
	args := w.args
	if limit > 0 {
		sqlQuery += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.q.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search text: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var results []ScoredContext
	for rows.Next() {
		var rank float64
		c, err := scanContext(rows, &rank)
		if err != nil {
			return nil, err
		}
		results = append(results, ScoredContext{Context: c, Score: normalizeTextScore(rank)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortTextScored(results)
	return results, nil
}

func (s *sqliteQueries) ListContextsMissingEmbedding(ctx context.Context, limit int) ([]*types.Context, error) {
	query := "SELECT " + contextColumns + `
		FROM contexts c
		WHERE c.embedding IS NULL
		ORDER BY c.created_at DESC, c.seq DESC`
	var args []interface{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list unembedded contexts: %w", err)
	}
	return scanContexts(rows)
}

// SetContextEmbedding fills a null embedding. It reports false when the row
// already has one or no longer exists.
func (s *sqliteQueries) SetContextEmbedding(ctx context.Context, id string, vector []float32, model string) (bool, error) {
	if err := checkVector(vector, s.dim); err != nil {
		return false, err
	}
	res, err := s.q.ExecContext(ctx,
		"UPDATE contexts SET embedding = ?, embedding_model = ? WHERE id = ? AND embedding IS NULL",
		serializeVector(vector), model, id)
	if err != nil {
		return false, fmt.Errorf("failed to set embedding: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *sqliteQueries) DeleteContext(ctx context.Context, id string) error {
	res, err := s.q.ExecContext(ctx, "DELETE FROM contexts WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete context: %w", err)
	}
	return requireAffected(res, "context", id)
}

func (s *sqliteQueries) DeleteContexts(ctx context.Context, projectID string, filters *ContextFilters) (int, error) {
	w := newWhere(sqliteDialect{})
	w.add("c.project_id = ?", projectID)
	w.contextFilters(filters)

	res, err := s.q.ExecContext(ctx, "DELETE FROM contexts WHERE seq IN (SELECT c.seq FROM contexts c"+w.sql()+")", w.args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete contexts: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// ContextStats aggregates over one project, or all projects when projectID is empty
func (s *sqliteQueries) ContextStats(ctx context.Context, projectID string, since time.Time) (*types.ContextStats, error) {
	w := newWhere(sqliteDialect{})
	if projectID != "" {
		w.add("c.project_id = ?", projectID)
	}

	stats := &types.ContextStats{ContextsByType: make(map[types.ContextType]int)}
	args := append([]interface{}{formatTime(since)}, w.args...)
	err := s.q.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN c.embedding IS NOT NULL THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN c.created_at >= ? THEN 1 ELSE 0 END), 0)
		FROM contexts c`+w.sql(), args...,
	).Scan(&stats.TotalContexts, &stats.EmbeddedContexts, &stats.RecentContexts)
	if err != nil {
		return nil, fmt.Errorf("failed to count contexts: %w", err)
	}
	stats.UnembeddedContexts = stats.TotalContexts - stats.EmbeddedContexts

	rows, err := s.q.QueryContext(ctx, "SELECT c.context_type, COUNT(*) FROM contexts c"+w.sql()+" GROUP BY c.context_type", w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to count contexts by type: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var t string
		var n int
		if err := rows.Scan(&t, &n); err != nil {
			return nil, err
		}
		stats.ContextsByType[types.ContextType(t)] = n
	}
	return stats, rows.Err()
}
