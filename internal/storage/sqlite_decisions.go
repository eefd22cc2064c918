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

const decisionColumns = `d.id, d.project_id, d.session_id, d.decision_type, d.title, d.description,
	d.rationale, d.alternatives_considered, d.tags, d.status, d.superseded_by, d.impact_level,
	d.outcome_status, d.outcome_notes, d.lessons_learned, d.decision_date, d.updated_at`

func scanDecision(row rowScanner) (*types.Decision, error) {
	var d types.Decision
	var sessionID, supersededBy sql.NullString
	var decisionType, alternatives, tags, status, impact, outcome, decisionDate, updatedAt string
	if err := row.Scan(&d.ID, &d.ProjectID, &sessionID, &decisionType, &d.Title, &d.Description,
		&d.Rationale, &alternatives, &tags, &status, &supersededBy, &impact,
		&outcome, &d.OutcomeNotes, &d.LessonsLearned, &decisionDate, &updatedAt); err != nil {
		return nil, err
	}
	d.SessionID = stringPtr(sessionID)
	d.SupersededBy = stringPtr(supersededBy)
	d.DecisionType = types.DecisionType(decisionType)
	d.Status = types.DecisionStatus(status)
	d.ImpactLevel = types.ImpactLevel(impact)
	d.OutcomeStatus = types.OutcomeStatus(outcome)
	if err := json.Unmarshal([]byte(alternatives), &d.AlternativesConsidered); err != nil {
		return nil, fmt.Errorf("failed to decode alternatives for decision %s: %w", d.ID, err)
	}
	if d.AlternativesConsidered == nil {
		d.AlternativesConsidered = []types.Alternative{}
	}
	if err := json.Unmarshal([]byte(tags), &d.Tags); err != nil {
		return nil, fmt.Errorf("failed to decode tags for decision %s: %w", d.ID, err)
	}
	if d.Tags == nil {
		d.Tags = []string{}
	}
	var err error
	if d.DecisionDate, err = parseTime(decisionDate); err != nil {
		return nil, err
	}
	if d.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *sqliteQueries) InsertDecision(ctx context.Context, d *types.Decision) error {
	if d.AlternativesConsidered == nil {
		d.AlternativesConsidered = []types.Alternative{}
	}
	alternatives, err := encodeJSON(d.AlternativesConsidered)
	if err != nil {
		return err
	}
	d.Tags = types.NormalizeTags(d.Tags)
	tags, err := encodeJSON(d.Tags)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if d.DecisionDate.IsZero() {
		d.DecisionDate = now
	}
	d.UpdatedAt = now

	_, err = s.q.ExecContext(ctx, `
		INSERT INTO technical_decisions (id, project_id, session_id, decision_type, title, description,
			rationale, alternatives_considered, tags, status, superseded_by, impact_level,
			outcome_status, outcome_notes, lessons_learned, decision_date, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.ProjectID, nullString(d.SessionID), string(d.DecisionType), d.Title, d.Description,
		d.Rationale, alternatives, tags, string(d.Status), nullString(d.SupersededBy), string(d.ImpactLevel),
		string(d.OutcomeStatus), d.OutcomeNotes, d.LessonsLearned, formatTime(d.DecisionDate), formatTime(now))
	if err != nil {
		return fmt.Errorf("failed to insert decision: %w", err)
	}
	return nil
}

func (s *sqliteQueries) GetDecision(ctx context.Context, id string) (*types.Decision, error) {
	d, err := scanDecision(s.q.QueryRowContext(ctx, "SELECT "+decisionColumns+" FROM technical_decisions d WHERE d.id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.NewNotFoundError("decision", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get decision: %w", err)
	}
	return d, nil
}

func decisionWhere(d dialect, projectID string, filters *DecisionFilters) *whereBuilder {
	w := newWhere(d)
	w.add("d.project_id = ?", projectID)
	if filters.DecisionType != "" {
		w.add("d.decision_type = ?", string(filters.DecisionType))
	}
	if filters.Status != "" {
		w.add("d.status = ?", string(filters.Status))
	}
	if filters.ImpactLevel != "" {
		w.add("d.impact_level = ?", string(filters.ImpactLevel))
	}
	if len(filters.Tags) > 0 {
		cond, args := d.tagsAny("d.tags", filters.Tags)
		w.add(cond, args...)
	}
	return w
}

// SearchDecisions lists decisions newest first, or by full-text rank when
// filters.TextQuery is set
func (s *sqliteQueries) SearchDecisions(ctx context.Context, projectID string, filters *DecisionFilters) ([]*types.Decision, error) {
	if filters == nil {
		filters = &DecisionFilters{}
	}
	w := decisionWhere(sqliteDialect{}, projectID, filters)

	var query string
	if match := sanitizeFTSQuery(filters.TextQuery); match != "" {
		w.add("decisions_fts MATCH ?", match)
		query = "SELECT " + decisionColumns + `
			FROM decisions_fts
			JOIN technical_decisions d ON d.seq = decisions_fts.rowid` + w.sql() + `
			ORDER BY bm25(decisions_fts), d.decision_date DESC, d.seq DESC`
	} else {
		query = "SELECT " + decisionColumns + " FROM technical_decisions d" + w.sql() +
			" ORDER BY d.decision_date DESC, d.seq DESC"
	}
	args := w.args
	if filters.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filters.Limit)
	}

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search decisions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.Decision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// UpdateDecision writes the mutable fields of d only if the stored status
// still equals expectedStatus. It reports false when the row changed underneath.
func (s *sqliteQueries) UpdateDecision(ctx context.Context, d *types.Decision, expectedStatus types.DecisionStatus) (bool, error) {
	now := time.Now().UTC()
	res, err := s.q.ExecContext(ctx, `
		UPDATE technical_decisions
		SET status = ?, superseded_by = ?, outcome_status = ?, outcome_notes = ?,
		    lessons_learned = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(d.Status), nullString(d.SupersededBy), string(d.OutcomeStatus), d.OutcomeNotes,
		d.LessonsLearned, formatTime(now), d.ID, string(expectedStatus))
	if err != nil {
		return false, fmt.Errorf("failed to update decision: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 1 {
		d.UpdatedAt = now
	}
	return n == 1, nil
}

func (s *sqliteQueries) DecisionStats(ctx context.Context, projectID string, since time.Time) (*types.DecisionStats, error) {
	w := newWhere(sqliteDialect{})
	if projectID != "" {
		w.add("d.project_id = ?", projectID)
	}
	stats := &types.DecisionStats{
		ByType:   make(map[types.DecisionType]int),
		ByStatus: make(map[types.DecisionStatus]int),
		ByImpact: make(map[types.ImpactLevel]int),
	}

	rows, err := s.q.QueryContext(ctx, `
		SELECT d.decision_type, d.status, d.impact_level, COUNT(*),
		       COALESCE(SUM(CASE WHEN d.decision_date >= ? THEN 1 ELSE 0 END), 0)
		FROM technical_decisions d`+w.sql()+`
		GROUP BY d.decision_type, d.status, d.impact_level`,
		append([]interface{}{formatTime(since)}, w.args...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to count decisions: %w", err)
	}
	defer func() { _ = rows.Close() }()

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

// addDecisionGroup folds one (type, status, impact) count row into stats
func addDecisionGroup(stats *types.DecisionStats, decisionType, status, impact string, n, recent int) {
	stats.TotalDecisions += n
	stats.RecentDecisions += recent
	stats.ByType[types.DecisionType(decisionType)] += n
	stats.ByStatus[types.DecisionStatus(status)] += n
	stats.ByImpact[types.ImpactLevel(impact)] += n
}
