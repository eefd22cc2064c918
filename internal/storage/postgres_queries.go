package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/dshills/devmemory-mcp/pkg/types"
)

// Context operations

func scanPgContext(row pgx.Row, extra ...any) (*types.Context, error) {
	var c types.Context
	var contextType string
	var embedding *pgvector.Vector
	var metadata []byte

	dest := []any{
		&c.ID, &c.ProjectID, &c.SessionID, &contextType, &c.Content, &embedding,
		&c.EmbeddingModel, &c.RelevanceScore, &c.Tags, &metadata, &c.CreatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	c.Type = types.ContextType(contextType)
	if embedding != nil {
		c.Embedding = embedding.Slice()
	}
	if c.Tags == nil {
		c.Tags = []string{}
	}
	if len(metadata) > 0 && string(metadata) != "{}" {
		if err := json.Unmarshal(metadata, &c.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata for context %s: %w", c.ID, err)
		}
	}
	return &c, nil
}

func collectPgContexts(rows pgx.Rows) ([]*types.Context, error) {
	defer rows.Close()
	var out []*types.Context
	for rows.Next() {
		c, err := scanPgContext(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *pgQueries) InsertContext(ctx context.Context, c *types.Context) error {
	if err := c.Validate(); err != nil {
		return err
	}
	var embedding any
	if c.HasEmbedding() {
		if err := checkVector(c.Embedding, s.dim); err != nil {
			return err
		}
		embedding = pgvector.NewVector(c.Embedding)
	} else {
		c.EmbeddingModel = ""
	}
	c.Tags = types.NormalizeTags(c.Tags)
	metadata := c.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}

	_, err := s.q.Exec(ctx, `
		INSERT INTO contexts (id, project_id, session_id, context_type, content, embedding,
			embedding_model, relevance_score, tags, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		c.ID, c.ProjectID, c.SessionID, string(c.Type), c.Content, embedding,
		c.EmbeddingModel, c.RelevanceScore, c.Tags, metadata, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert context: %w", err)
	}
	return nil
}

func (s *pgQueries) GetContext(ctx context.Context, id string) (*types.Context, error) {
	c, err := scanPgContext(s.q.QueryRow(ctx, "SELECT "+contextColumns+" FROM contexts c WHERE c.id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, types.NewNotFoundError("context", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get context: %w", err)
	}
	return c, nil
}

func (s *pgQueries) ListRecentContexts(ctx context.Context, projectID string, limit int) ([]*types.Context, error) {
	rows, err := s.q.Query(ctx, "SELECT "+contextColumns+`
		FROM contexts c
		WHERE c.project_id = $1
		ORDER BY c.created_at DESC, c.id
		LIMIT $2`, projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list contexts: %w", err)
	}
	return collectPgContexts(rows)
}

// SearchVector orders by cosine distance so the HNSW index serves the scan
func (s *pgQueries) SearchVector(ctx context.Context, projectID string, vector []float32, filters *ContextFilters, limit int) ([]ScoredContext, error) {
	if err := checkVector(vector, s.dim); err != nil {
		return nil, err
	}
	if filters == nil {
		filters = &ContextFilters{}
	}
	vec := pgvector.NewVector(vector)

	w := newWhere(pgDialect{})
	w.add("c.project_id = ?", projectID)
	w.contextFilters(filters)
	if !includeUnembedded(filters) {
		w.add("c.embedding IS NOT NULL")
	}
	if filters.MinSimilarity > 0 {
		w.add("(c.embedding <=> ?) <= ?", vec, 1-filters.MinSimilarity)
	}

	query := "SELECT " + contextColumns + `, COALESCE(1 - (c.embedding <=> ?), 0) AS similarity
		FROM contexts c` + w.sql() + `
		ORDER BY c.embedding <=> ? ASC NULLS LAST, c.relevance_score DESC, c.created_at DESC, c.id`
	args := append([]any{vec}, w.args...)
	args = append(args, vec)
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.q.Query(ctx, rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search vectors: %w", err)
	}
	defer rows.Close()

	var results []ScoredContext
	for rows.Next() {
		var sim float64
		c, err := scanPgContext(rows, &sim)
		if err != nil {
			return nil, err
		}
		sim = clampSimilarity(sim)
		if filters.MinSimilarity > 0 && sim < filters.MinSimilarity {
			continue
		}
		results = append(results, ScoredContext{Context: c, Score: sim})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortScored(results)
	return results, nil
}

func (s *pgQueries) SearchText(ctx context.Context, projectID string, query string, filters *ContextFilters, limit int) ([]ScoredContext, error) {
	tsq := tsQuery(query)
	if tsq == "" {
		return nil, nil
	}

	w := newWhere(pgDialect{})
	w.add("to_tsvector('english', c.content) @@ to_tsquery('english', ?)", tsq)
	w.add("c.project_id = ?", projectID)
	w.contextFilters(filters)

	// normalization 32 maps rank into [0, 1)
	sqlQuery := "SELECT " + contextColumns + `,
		ts_rank(to_tsvector('english', c.content), to_tsquery('english', ?), 32) AS rank
		FROM contexts c` + w.sql() + `
		ORDER BY rank DESC, c.relevance_score DESC, c.created_at DESC`
	args := append([]any{tsq}, w.args...)
	if limit > 0 {
		sqlQuery += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.q.Query(ctx, rebind(sqlQuery), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search text: %w", err)
	}
	defer rows.Close()

	var results []ScoredContext
	for rows.Next() {
		var rank float32
		c, err := scanPgContext(rows, &rank)
		if err != nil {
			return nil, err
		}
		results = append(results, ScoredContext{Context: c, Score: float64(rank)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortTextScored(results)
	return results, nil
}

func (s *pgQueries) ListContextsMissingEmbedding(ctx context.Context, limit int) ([]*types.Context, error) {
	query := "SELECT " + contextColumns + `
		FROM contexts c
		WHERE c.embedding IS NULL
		ORDER BY c.created_at DESC, c.id`
	var args []any
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}
	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list unembedded contexts: %w", err)
	}
	return collectPgContexts(rows)
}

func (s *pgQueries) SetContextEmbedding(ctx context.Context, id string, vector []float32, model string) (bool, error) {
	if err := checkVector(vector, s.dim); err != nil {
		return false, err
	}
	tag, err := s.q.Exec(ctx,
		"UPDATE contexts SET embedding = $1, embedding_model = $2 WHERE id = $3 AND embedding IS NULL",
		pgvector.NewVector(vector), model, id)
	if err != nil {
		return false, fmt.Errorf("failed to set embedding: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *pgQueries) DeleteContext(ctx context.Context, id string) error {
	tag, err := s.q.Exec(ctx, "DELETE FROM contexts WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete context: %w", err)
	}
	return pgCommandAffected(tag, "context", id)
}

func (s *pgQueries) DeleteContexts(ctx context.Context, projectID string, filters *ContextFilters) (int, error) {
	w := newWhere(pgDialect{})
	w.add("c.project_id = ?", projectID)
	w.contextFilters(filters)
	tag, err := s.q.Exec(ctx, rebind("DELETE FROM contexts AS c"+w.sql()), w.args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete contexts: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *pgQueries) ContextStats(ctx context.Context, projectID string, since time.Time) (*types.ContextStats, error) {
	w := newWhere(pgDialect{})
	if projectID != "" {
		w.add("c.project_id = ?", projectID)
	}
	stats := &types.ContextStats{ContextsByType: make(map[types.ContextType]int)}

	rows, err := s.q.Query(ctx, rebind(`
		SELECT c.context_type, COUNT(*),
		       COUNT(*) FILTER (WHERE c.embedding IS NOT NULL),
		       COUNT(*) FILTER (WHERE c.created_at >= ?)
		FROM contexts c`+w.sql()+`
		GROUP BY c.context_type`), append([]any{since.UTC()}, w.args...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to count contexts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var t string
		var total, embedded, recent int
		if err := rows.Scan(&t, &total, &embedded, &recent); err != nil {
			return nil, err
		}
		stats.ContextsByType[types.ContextType(t)] = total
		stats.TotalContexts += total
		stats.EmbeddedContexts += embedded
		stats.RecentContexts += recent
	}
	stats.UnembeddedContexts = stats.TotalContexts - stats.EmbeddedContexts
	return stats, rows.Err()
}

// Naming registry operations

func scanPgNamingEntry(row pgx.Row) (*types.NamingEntry, error) {
	var e types.NamingEntry
	var entityType string
	if err := row.Scan(&e.ID, &e.ProjectID, &entityType, &e.CanonicalName, &e.Aliases, &e.Description,
		&e.NamingConvention, &e.UsageCount, &e.FirstSeen, &e.LastUsed, &e.Deprecated,
		&e.DeprecationReason, &e.ReplacementID); err != nil {
		return nil, err
	}
	e.EntityType = types.EntityType(entityType)
	if e.Aliases == nil {
		e.Aliases = []string{}
	}
	return &e, nil
}

func collectPgNamingEntries(rows pgx.Rows) ([]*types.NamingEntry, error) {
	defer rows.Close()
	var out []*types.NamingEntry
	for rows.Next() {
		e, err := scanPgNamingEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *pgQueries) UpsertNamingEntry(ctx context.Context, entry *types.NamingEntry) (bool, error) {
	now := time.Now().UTC()
	proposedID := entry.ID
	stored, err := scanPgNamingEntry(s.q.QueryRow(ctx, `
		INSERT INTO naming_registry (id, project_id, entity_type, canonical_name, aliases,
			description, naming_convention, usage_count, first_seen, last_used)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 1, $8, $8)
		ON CONFLICT (project_id, entity_type, canonical_name) DO UPDATE SET
			usage_count = naming_registry.usage_count + 1,
			last_used = excluded.last_used,
			description = COALESCE(NULLIF(excluded.description, ''), naming_registry.description),
			naming_convention = COALESCE(NULLIF(excluded.naming_convention, ''), naming_registry.naming_convention)
		RETURNING `+namingReturning,
		entry.ID, entry.ProjectID, string(entry.EntityType), entry.CanonicalName, nonNil(entry.Aliases),
		entry.Description, entry.NamingConvention, now))
	if err != nil {
		return false, fmt.Errorf("failed to upsert naming entry: %w", err)
	}
	*entry = *stored
	return stored.ID == proposedID, nil
}

func (s *pgQueries) GetNamingEntry(ctx context.Context, id string) (*types.NamingEntry, error) {
	e, err := scanPgNamingEntry(s.q.QueryRow(ctx, "SELECT "+namingColumns+" FROM naming_registry n WHERE n.id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, types.NewNotFoundError("naming entry", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get naming entry: %w", err)
	}
	return e, nil
}

func (s *pgQueries) SetNamingAliases(ctx context.Context, id string, aliases []string) error {
	tag, err := s.q.Exec(ctx, "UPDATE naming_registry SET aliases = $1 WHERE id = $2", nonNil(aliases), id)
	if err != nil {
		return fmt.Errorf("failed to set aliases: %w", err)
	}
	return pgCommandAffected(tag, "naming entry", id)
}

func (s *pgQueries) ListNamingEntries(ctx context.Context, projectID string, entityType types.EntityType) ([]*types.NamingEntry, error) {
	w := newWhere(pgDialect{})
	w.add("n.project_id = ?", projectID)
	if entityType != "" {
		w.add("n.entity_type = ?", string(entityType))
	}
	rows, err := s.q.Query(ctx, rebind("SELECT "+namingColumns+" FROM naming_registry n"+w.sql()+
		" ORDER BY n.usage_count DESC, n.last_used DESC, n.canonical_name"), w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list naming entries: %w", err)
	}
	return collectPgNamingEntries(rows)
}

func (s *pgQueries) FindNamingMatches(ctx context.Context, projectID string, entityType types.EntityType, name string) ([]*types.NamingEntry, error) {
	rows, err := s.q.Query(ctx, "SELECT "+namingColumns+`
		FROM naming_registry n
		WHERE n.project_id = $1 AND n.entity_type = $2
		  AND (lower(n.canonical_name) = lower($3)
		       OR EXISTS (SELECT 1 FROM unnest(n.aliases) AS a WHERE lower(a) = lower($3)))
		ORDER BY (n.canonical_name = $3) DESC, n.usage_count DESC`,
		projectID, string(entityType), name)
	if err != nil {
		return nil, fmt.Errorf("failed to find naming matches: %w", err)
	}
	return collectPgNamingEntries(rows)
}

func (s *pgQueries) DeprecateNamingEntry(ctx context.Context, id string, replacementID *string, reason string) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE naming_registry
		SET deprecated = TRUE, deprecation_reason = $1, replacement_id = $2
		WHERE id = $3`, reason, replacementID, id)
	if err != nil {
		return fmt.Errorf("failed to deprecate naming entry: %w", err)
	}
	return pgCommandAffected(tag, "naming entry", id)
}

func (s *pgQueries) NamingStats(ctx context.Context, projectID string) (*types.NamingStats, error) {
	w := newWhere(pgDialect{})
	if projectID != "" {
		w.add("n.project_id = ?", projectID)
	}
	stats := &types.NamingStats{EntriesByType: make(map[types.EntityType]int), MostUsed: []types.NamingUsage{}}

	rows, err := s.q.Query(ctx, rebind(`
		SELECT n.entity_type, COUNT(*), COUNT(*) FILTER (WHERE n.deprecated), COALESCE(SUM(n.usage_count), 0)
		FROM naming_registry n`+w.sql()+`
		GROUP BY n.entity_type`), w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to count naming entries: %w", err)
	}
	for rows.Next() {
		var t string
		var total, deprecated, usage int
		if err := rows.Scan(&t, &total, &deprecated, &usage); err != nil {
			rows.Close()
			return nil, err
		}
		stats.EntriesByType[types.EntityType(t)] = total
		stats.TotalEntries += total
		stats.DeprecatedEntries += deprecated
		stats.TotalUsage += usage
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	top, err := s.q.Query(ctx, rebind("SELECT n.entity_type, n.canonical_name, n.usage_count FROM naming_registry n"+w.sql()+
		" ORDER BY n.usage_count DESC, n.last_used DESC LIMIT ?"), append(w.args, mostUsedLimit)...)
	if err != nil {
		return nil, fmt.Errorf("failed to list most used names: %w", err)
	}
	defer top.Close()
	for top.Next() {
		var u types.NamingUsage
		var t string
		if err := top.Scan(&t, &u.CanonicalName, &u.UsageCount); err != nil {
			return nil, err
		}
		u.EntityType = types.EntityType(t)
		stats.MostUsed = append(stats.MostUsed, u)
	}
	return stats, top.Err()
}

// Decision ledger operations

func scanPgDecision(row pgx.Row) (*types.Decision, error) {
	var d types.Decision
	var decisionType, status, impact, outcome string
	var alternatives []byte
	if err := row.Scan(&d.ID, &d.ProjectID, &d.SessionID, &decisionType, &d.Title, &d.Description,
		&d.Rationale, &alternatives, &d.Tags, &status, &d.SupersededBy, &impact,
		&outcome, &d.OutcomeNotes, &d.LessonsLearned, &d.DecisionDate, &d.UpdatedAt); err != nil {
		return nil, err
	}
	d.DecisionType = types.DecisionType(decisionType)
	d.Status = types.DecisionStatus(status)
	d.ImpactLevel = types.ImpactLevel(impact)
	d.OutcomeStatus = types.OutcomeStatus(outcome)
	if err := json.Unmarshal(alternatives, &d.AlternativesConsidered); err != nil {
		return nil, fmt.Errorf("failed to decode alternatives for decision %s: %w", d.ID, err)
	}
	if d.AlternativesConsidered == nil {
		d.AlternativesConsidered = []types.Alternative{}
	}
	if d.Tags == nil {
		d.Tags = []string{}
	}
	return &d, nil
}

func (s *pgQueries) InsertDecision(ctx context.Context, d *types.Decision) error {
	if d.AlternativesConsidered == nil {
		d.AlternativesConsidered = []types.Alternative{}
	}
	d.Tags = types.NormalizeTags(d.Tags)
	now := time.Now().UTC()
	if d.DecisionDate.IsZero() {
		d.DecisionDate = now
	}
	d.UpdatedAt = now

	_, err := s.q.Exec(ctx, `
		INSERT INTO technical_decisions (id, project_id, session_id, decision_type, title, description,
			rationale, alternatives_considered, tags, status, superseded_by, impact_level,
			outcome_status, outcome_notes, lessons_learned, decision_date, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		d.ID, d.ProjectID, d.SessionID, string(d.DecisionType), d.Title, d.Description,
		d.Rationale, d.AlternativesConsidered, d.Tags, string(d.Status), d.SupersededBy, string(d.ImpactLevel),
		string(d.OutcomeStatus), d.OutcomeNotes, d.LessonsLearned, d.DecisionDate, now)
	if err != nil {
		return fmt.Errorf("failed to insert decision: %w", err)
	}
	return nil
}

func (s *pgQueries) GetDecision(ctx context.Context, id string) (*types.Decision, error) {
	d, err := scanPgDecision(s.q.QueryRow(ctx, "SELECT "+decisionColumns+" FROM technical_decisions d WHERE d.id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, types.NewNotFoundError("decision", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get decision: %w", err)
	}
	return d, nil
}

const pgDecisionDocument = `to_tsvector('english', d.title || ' ' || d.description || ' ' || d.rationale)`

func (s *pgQueries) SearchDecisions(ctx context.Context, projectID string, filters *DecisionFilters) ([]*types.Decision, error) {
	if filters == nil {
		filters = &DecisionFilters{}
	}
	w := decisionWhere(pgDialect{}, projectID, filters)

	var query string
	var args []any
	if tsq := tsQuery(filters.TextQuery); tsq != "" {
		w.add(pgDecisionDocument+" @@ to_tsquery('english', ?)", tsq)
		query = "SELECT " + decisionColumns + " FROM technical_decisions d" + w.sql() +
			" ORDER BY ts_rank(" + pgDecisionDocument + ", to_tsquery('english', ?)) DESC, d.decision_date DESC"
		args = append(w.args, tsq)
	} else {
		query = "SELECT " + decisionColumns + " FROM technical_decisions d" + w.sql() +
			" ORDER BY d.decision_date DESC, d.id"
		args = w.args
	}
	if filters.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filters.Limit)
	}

	rows, err := s.q.Query(ctx, rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search decisions: %w", err)
	}
	defer rows.Close()

	var out []*types.Decision
	for rows.Next() {
		d, err := scanPgDecision(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *pgQueries) UpdateDecision(ctx context.Context, d *types.Decision, expectedStatus types.DecisionStatus) (bool, error) {
	now := time.Now().UTC()
	tag, err := s.q.Exec(ctx, `
		UPDATE technical_decisions
		SET status = $1, superseded_by = $2, outcome_status = $3, outcome_notes = $4,
		    lessons_learned = $5, updated_at = $6
		WHERE id = $7 AND status = $8`,
		string(d.Status), d.SupersededBy, string(d.OutcomeStatus), d.OutcomeNotes,
		d.LessonsLearned, now, d.ID, string(expectedStatus))
	if err != nil {
		return false, fmt.Errorf("failed to update decision: %w", err)
	}
	if tag.RowsAffected() == 1 {
		d.UpdatedAt = now
		return true, nil
	}
	return false, nil
}

func (s *pgQueries) DecisionStats(ctx context.Context, projectID string, since time.Time) (*types.DecisionStats, error) {
	w := newWhere(pgDialect{})
	if projectID != "" {
		w.add("d.project_id = ?", projectID)
	}
	stats := &types.DecisionStats{
		ByType:   make(map[types.DecisionType]int),
		ByStatus: make(map[types.DecisionStatus]int),
		ByImpact: make(map[types.ImpactLevel]int),
	}

	rows, err := s.q.Query(ctx, rebind(`
		SELECT d.decision_type, d.status, d.impact_level, COUNT(*),
		       COUNT(*) FILTER (WHERE d.decision_date >= ?)
		FROM technical_decisions d`+w.sql()+`
		GROUP BY d.decision_type, d.status, d.impact_level`), append([]any{since.UTC()}, w.args...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to count decisions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var dt, st, il string
		var n, recent int
		if err := rows.Scan(&dt, &st, &il, &n, &recent); err != nil {
			return nil, err
		}
		addDecisionGroup(stats, dt, st, il, n, recent)
	}
	return stats, rows.Err()
}
