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

const namingColumns = `n.id, n.project_id, n.entity_type, n.canonical_name, n.aliases, n.description,
	n.naming_convention, n.usage_count, n.first_seen, n.last_used, n.deprecated,
	n.deprecation_reason, n.replacement_id`

// namingReturning lists the same columns unqualified, for RETURNING
const namingReturning = `id, project_id, entity_type, canonical_name, aliases, description,
	naming_convention, usage_count, first_seen, last_used, deprecated,
	deprecation_reason, replacement_id`

// mostUsedLimit caps NamingStats.MostUsed
const mostUsedLimit = 10

func scanNamingEntry(row rowScanner) (*types.NamingEntry, error) {
	var e types.NamingEntry
	var entityType, aliases, firstSeen, lastUsed string
	var replacementID sql.NullString
	if err := row.Scan(&e.ID, &e.ProjectID, &entityType, &e.CanonicalName, &aliases, &e.Description,
		&e.NamingConvention, &e.UsageCount, &firstSeen, &lastUsed, &e.Deprecated,
		&e.DeprecationReason, &replacementID); err != nil {
		return nil, err
	}
	e.EntityType = types.EntityType(entityType)
	e.ReplacementID = stringPtr(replacementID)
	if err := json.Unmarshal([]byte(aliases), &e.Aliases); err != nil {
		return nil, fmt.Errorf("failed to decode aliases for entry %s: %w", e.ID, err)
	}
	if e.Aliases == nil {
		e.Aliases = []string{}
	}
	var err error
	if e.FirstSeen, err = parseTime(firstSeen); err != nil {
		return nil, err
	}
	if e.LastUsed, err = parseTime(lastUsed); err != nil {
		return nil, err
	}
	return &e, nil
}

func scanNamingEntries(rows *sql.Rows) ([]*types.NamingEntry, error) {
	defer func() { _ = rows.Close() }()
	var out []*types.NamingEntry
	for rows.Next() {
		e, err := scanNamingEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// UpsertNamingEntry inserts entry, or atomically bumps usage_count and
// last_used of the existing (project, type, name) row. entry is overwritten
// with the stored row; created reports whether a new row was inserted.
func (s *sqliteQueries) UpsertNamingEntry(ctx context.Context, entry *types.NamingEntry) (bool, error) {
	aliases, err := encodeJSON(nonNil(entry.Aliases))
	if err != nil {
		return false, err
	}
	now := formatTime(time.Now())
	proposedID := entry.ID

	stored, err := scanNamingEntry(s.q.QueryRowContext(ctx, `
		INSERT INTO naming_registry (id, project_id, entity_type, canonical_name, aliases,
			description, naming_convention, usage_count, first_seen, last_used)
		VALUES (?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT (project_id, entity_type, canonical_name) DO UPDATE SET
			usage_count = usage_count + 1,
			last_used = excluded.last_used,
			description = COALESCE(NULLIF(excluded.description, ''), description),
			naming_convention = COALESCE(NULLIF(excluded.naming_convention, ''), naming_convention)
		RETURNING `+namingReturning,
		entry.ID, entry.ProjectID, string(entry.EntityType), entry.CanonicalName, aliases,
		entry.Description, entry.NamingConvention, now, now))
	if err != nil {
		return false, fmt.Errorf("failed to upsert naming entry: %w", err)
	}
	*entry = *stored
	return stored.ID == proposedID, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func (s *sqliteQueries) GetNamingEntry(ctx context.Context, id string) (*types.NamingEntry, error) {
	e, err := scanNamingEntry(s.q.QueryRowContext(ctx, "SELECT "+namingColumns+" FROM naming_registry n WHERE n.id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.NewNotFoundError("naming entry", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get naming entry: %w", err)
	}
	return e, nil
}

func (s *sqliteQueries) SetNamingAliases(ctx context.Context, id string, aliases []string) error {
	encoded, err := encodeJSON(nonNil(aliases))
	if err != nil {
		return err
	}
	res, err := s.q.ExecContext(ctx, "UPDATE naming_registry SET aliases = ? WHERE id = ?", encoded, id)
	if err != nil {
		return fmt.Errorf("failed to set aliases: %w", err)
	}
	return requireAffected(res, "naming entry", id)
}

func (s *sqliteQueries) ListNamingEntries(ctx context.Context, projectID string, entityType types.EntityType) ([]*types.NamingEntry, error) {
	w := newWhere(sqliteDialect{})
	w.add("n.project_id = ?", projectID)
	if entityType != "" {
		w.add("n.entity_type = ?", string(entityType))
	}
	rows, err := s.q.QueryContext(ctx, "SELECT "+namingColumns+" FROM naming_registry n"+w.sql()+
		" ORDER BY n.usage_count DESC, n.last_used DESC, n.canonical_name", w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list naming entries: %w", err)
	}
	return scanNamingEntries(rows)
}

// FindNamingMatches returns entries whose canonical name or an alias equals
// name, ignoring case
func (s *sqliteQueries) FindNamingMatches(ctx context.Context, projectID string, entityType types.EntityType, name string) ([]*types.NamingEntry, error) {
	rows, err := s.q.QueryContext(ctx, "SELECT "+namingColumns+`
		FROM naming_registry n
		WHERE n.project_id = ? AND n.entity_type = ?
		  AND (lower(n.canonical_name) = lower(?)
		       OR EXISTS (SELECT 1 FROM json_each(n.aliases) WHERE lower(json_each.value) = lower(?)))
		ORDER BY (n.canonical_name = ?) DESC, n.usage_count DESC`,
		projectID, string(entityType), name, name, name)
	if err != nil {
		return nil, fmt.Errorf("failed to find naming matches: %w", err)
	}
	return scanNamingEntries(rows)
}

func (s *sqliteQueries) DeprecateNamingEntry(ctx context.Context, id string, replacementID *string, reason string) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE naming_registry
		SET deprecated = 1, deprecation_reason = ?, replacement_id = ?
		WHERE id = ?`, reason, nullString(replacementID), id)
	if err != nil {
		return fmt.Errorf("failed to deprecate naming entry: %w", err)
	}
	return requireAffected(res, "naming entry", id)
}

func (s *sqliteQueries) NamingStats(ctx context.Context, projectID string) (*types.NamingStats, error) {
	w := newWhere(sqliteDialect{})
	if projectID != "" {
		w.add("n.project_id = ?", projectID)
	}

	stats := &types.NamingStats{EntriesByType: make(map[types.EntityType]int)}
	err := s.q.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(n.deprecated), 0), COALESCE(SUM(n.usage_count), 0)
		FROM naming_registry n`+w.sql(), w.args...,
	).Scan(&stats.TotalEntries, &stats.DeprecatedEntries, &stats.TotalUsage)
	if err != nil {
		return nil, fmt.Errorf("failed to count naming entries: %w", err)
	}

	byType, err := s.q.QueryContext(ctx, "SELECT n.entity_type, COUNT(*) FROM naming_registry n"+w.sql()+" GROUP BY n.entity_type", w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to count naming entries by type: %w", err)
	}
	for byType.Next() {
		var t string
		var n int
		if err := byType.Scan(&t, &n); err != nil {
			_ = byType.Close()
			return nil, err
		}
		stats.EntriesByType[types.EntityType(t)] = n
	}
	_ = byType.Close()
	if err := byType.Err(); err != nil {
		return nil, err
	}

	args := append(append([]interface{}{}, w.args...), mostUsedLimit)
	rows, err := s.q.QueryContext(ctx, "SELECT n.entity_type, n.canonical_name, n.usage_count FROM naming_registry n"+w.sql()+
		" ORDER BY n.usage_count DESC, n.last_used DESC LIMIT ?", args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list most used names: %w", err)
	}
	defer func() { _ = rows.Close() }()
	stats.MostUsed = []types.NamingUsage{}
	for rows.Next() {
		var u types.NamingUsage
		var t string
		if err := rows.Scan(&t, &u.CanonicalName, &u.UsageCount); err != nil {
			return nil, err
		}
		u.EntityType = types.EntityType(t)
		stats.MostUsed = append(stats.MostUsed, u)
	}
	return stats, rows.Err()
}
