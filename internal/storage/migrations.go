package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Masterminds/semver/v3"
)

const (
	// CurrentSchemaVersion tracks the database schema version
	CurrentSchemaVersion = "1.1.0"
)

// Migration represents a database schema migration
type Migration struct {
	Version string
	Up      string
	Down    string
}

// AllMigrations contains all SQLite migrations in order
var AllMigrations = []Migration{
	{
		Version: "1.0.0",
		Up:      migrationV1Up,
		Down:    migrationV1Down,
	},
	{
		Version: "1.1.0",
		Up:      migrationV11Up,
		Down:    migrationV11Down,
	},
}

const migrationV1Up = `
-- Schema version tracking
CREATE TABLE IF NOT EXISTS schema_version (
    version TEXT PRIMARY KEY,
    applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS projects (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL UNIQUE,
    description TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'active'
        CHECK (status IN ('active', 'archived', 'completed', 'paused')),
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS sessions (
    id TEXT PRIMARY KEY,
    project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
    agent_type TEXT NOT NULL DEFAULT '',
    started_at TEXT NOT NULL,
    ended_at TEXT,
    CHECK (ended_at IS NULL OR ended_at >= started_at)
);

CREATE INDEX IF NOT EXISTS idx_sessions_project ON sessions(project_id);

-- seq is the stable rowid the FTS index points at
CREATE TABLE IF NOT EXISTS contexts (
    seq INTEGER PRIMARY KEY,
    id TEXT NOT NULL UNIQUE,
    project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
    session_id TEXT REFERENCES sessions(id) ON DELETE SET NULL,
    context_type TEXT NOT NULL CHECK (context_type IN
        ('code', 'decision', 'error', 'discussion', 'planning', 'completion', 'milestone')),
    content TEXT NOT NULL CHECK (length(trim(content)) > 0),
    embedding BLOB,
    embedding_model TEXT NOT NULL DEFAULT '',
    relevance_score REAL NOT NULL DEFAULT 5
        CHECK (relevance_score >= 0 AND relevance_score <= 10),
    tags TEXT NOT NULL DEFAULT '[]',
    metadata TEXT NOT NULL DEFAULT '{}',
    created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_contexts_project_created ON contexts(project_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_contexts_project_type ON contexts(project_id, context_type);
CREATE INDEX IF NOT EXISTS idx_contexts_session ON contexts(session_id);
CREATE INDEX IF NOT EXISTS idx_contexts_missing_embedding ON contexts(created_at DESC) WHERE embedding IS NULL;

CREATE VIRTUAL TABLE IF NOT EXISTS contexts_fts USING fts5(
    content,
    content='contexts',
    content_rowid='seq'
);

CREATE TRIGGER IF NOT EXISTS contexts_ai AFTER INSERT ON contexts BEGIN
    INSERT INTO contexts_fts(rowid, content) VALUES (new.seq, new.content);
END;

CREATE TRIGGER IF NOT EXISTS contexts_ad AFTER DELETE ON contexts BEGIN
    INSERT INTO contexts_fts(contexts_fts, rowid, content) VALUES ('delete', old.seq, old.content);
END;

CREATE TRIGGER IF NOT EXISTS contexts_au AFTER UPDATE OF content ON contexts BEGIN
    INSERT INTO contexts_fts(contexts_fts, rowid, content) VALUES ('delete', old.seq, old.content);
    INSERT INTO contexts_fts(rowid, content) VALUES (new.seq, new.content);
END;

CREATE TABLE IF NOT EXISTS naming_registry (
    id TEXT PRIMARY KEY,
    project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
    entity_type TEXT NOT NULL,
    canonical_name TEXT NOT NULL,
    aliases TEXT NOT NULL DEFAULT '[]',
    description TEXT NOT NULL DEFAULT '',
    naming_convention TEXT NOT NULL DEFAULT '',
    usage_count INTEGER NOT NULL DEFAULT 1 CHECK (usage_count >= 1),
    first_seen TEXT NOT NULL,
    last_used TEXT NOT NULL,
    deprecated INTEGER NOT NULL DEFAULT 0,
    deprecation_reason TEXT NOT NULL DEFAULT '',
    replacement_id TEXT REFERENCES naming_registry(id) ON DELETE SET NULL,
    UNIQUE (project_id, entity_type, canonical_name),
    CHECK (replacement_id IS NULL OR replacement_id <> id)
);

CREATE INDEX IF NOT EXISTS idx_naming_project_type ON naming_registry(project_id, entity_type);

CREATE TABLE IF NOT EXISTS technical_decisions (
    seq INTEGER PRIMARY KEY,
    id TEXT NOT NULL UNIQUE,
    project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
    session_id TEXT REFERENCES sessions(id) ON DELETE SET NULL,
    decision_type TEXT NOT NULL,
    title TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    rationale TEXT NOT NULL DEFAULT '',
    alternatives_considered TEXT NOT NULL DEFAULT '[]',
    tags TEXT NOT NULL DEFAULT '[]',
    status TEXT NOT NULL DEFAULT 'active'
        CHECK (status IN ('active', 'deprecated', 'superseded', 'under_review')),
    superseded_by TEXT REFERENCES technical_decisions(id) ON DELETE SET NULL,
    impact_level TEXT NOT NULL DEFAULT 'medium'
        CHECK (impact_level IN ('low', 'medium', 'high', 'critical')),
    outcome_status TEXT NOT NULL DEFAULT 'unknown',
    outcome_notes TEXT NOT NULL DEFAULT '',
    lessons_learned TEXT NOT NULL DEFAULT '',
    decision_date TEXT NOT NULL,
    updated_at TEXT NOT NULL,
    CHECK (superseded_by IS NULL OR superseded_by <> id),
    CHECK (superseded_by IS NULL OR status = 'superseded')
);

CREATE INDEX IF NOT EXISTS idx_decisions_project_date ON technical_decisions(project_id, decision_date DESC);
CREATE INDEX IF NOT EXISTS idx_decisions_status ON technical_decisions(project_id, status);

CREATE VIRTUAL TABLE IF NOT EXISTS decisions_fts USING fts5(
    title, description, rationale,
    content='technical_decisions',
    content_rowid='seq'
);

CREATE TRIGGER IF NOT EXISTS decisions_ai AFTER INSERT ON technical_decisions BEGIN
    INSERT INTO decisions_fts(rowid, title, description, rationale)
    VALUES (new.seq, new.title, new.description, new.rationale);
END;

CREATE TRIGGER IF NOT EXISTS decisions_ad AFTER DELETE ON technical_decisions BEGIN
    INSERT INTO decisions_fts(decisions_fts, rowid, title, description, rationale)
    VALUES ('delete', old.seq, old.title, old.description, old.rationale);
END;

CREATE TRIGGER IF NOT EXISTS decisions_au AFTER UPDATE OF title, description, rationale ON technical_decisions BEGIN
    INSERT INTO decisions_fts(decisions_fts, rowid, title, description, rationale)
    VALUES ('delete', old.seq, old.title, old.description, old.rationale);
    INSERT INTO decisions_fts(rowid, title, description, rationale)
    VALUES (new.seq, new.title, new.description, new.rationale);
END;
`

const migrationV1Down = `
DROP TRIGGER IF EXISTS decisions_au;
DROP TRIGGER IF EXISTS decisions_ad;
DROP TRIGGER IF EXISTS decisions_ai;
DROP TRIGGER IF EXISTS contexts_au;
DROP TRIGGER IF EXISTS contexts_ad;
DROP TRIGGER IF EXISTS contexts_ai;

DROP TABLE IF EXISTS decisions_fts;
DROP TABLE IF EXISTS technical_decisions;
DROP TABLE IF EXISTS naming_registry;
DROP TABLE IF EXISTS contexts_fts;
DROP TABLE IF EXISTS contexts;
DROP TABLE IF EXISTS sessions;
DROP TABLE IF EXISTS projects;
DROP TABLE IF EXISTS schema_version;
`

// 1.1.0 records the embedding dimension the database was created with
const migrationV11Up = `
CREATE TABLE IF NOT EXISTS store_settings (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`

const migrationV11Down = `
DROP TABLE IF EXISTS store_settings;
`

// pendingMigrations returns the migrations newer than current, in order
func pendingMigrations(current string, all []Migration) ([]Migration, error) {
	currentVersion := semver.MustParse("0.0.0")
	if current != "" {
		v, err := semver.NewVersion(current)
		if err != nil {
			return nil, fmt.Errorf("invalid current schema version %s: %w", current, err)
		}
		currentVersion = v
	}

	var pending []Migration
	for _, migration := range all {
		migrationVersion, err := semver.NewVersion(migration.Version)
		if err != nil {
			return nil, fmt.Errorf("invalid migration version %s: %w", migration.Version, err)
		}
		if currentVersion.LessThan(migrationVersion) {
			pending = append(pending, migration)
		}
	}
	return pending, nil
}

// currentSQLiteVersion reads the newest applied version, "" when none
func currentSQLiteVersion(ctx context.Context, db *sql.DB) (string, error) {
	var tableName string
	err := db.QueryRowContext(ctx, "SELECT name FROM sqlite_master WHERE type='table' AND name='schema_version'").Scan(&tableName)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to check schema_version table: %w", err)
	}

	versions, err := db.QueryContext(ctx, "SELECT version FROM schema_version")
	if err != nil {
		return "", fmt.Errorf("failed to read schema_version: %w", err)
	}
	defer func() { _ = versions.Close() }()

	var all []string
	for versions.Next() {
		var v string
		if err := versions.Scan(&v); err != nil {
			return "", err
		}
		all = append(all, v)
	}
	if err := versions.Err(); err != nil {
		return "", err
	}
	return newestVersion(all)
}

// newestVersion returns the highest semver in versions, "" when empty
func newestVersion(versions []string) (string, error) {
	var newest *semver.Version
	for _, s := range versions {
		v, err := semver.NewVersion(s)
		if err != nil {
			return "", fmt.Errorf("invalid schema version %s: %w", s, err)
		}
		if newest == nil || newest.LessThan(v) {
			newest = v
		}
	}
	if newest == nil {
		return "", nil
	}
	return newest.Original(), nil
}

// ApplyMigrations runs all pending SQLite migrations
func ApplyMigrations(ctx context.Context, db *sql.DB) error {
	current, err := currentSQLiteVersion(ctx, db)
	if err != nil {
		return err
	}

	pending, err := pendingMigrations(current, AllMigrations)
	if err != nil {
		return err
	}

	for _, migration := range pending {
		if _, err := db.ExecContext(ctx, migration.Up); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", migration.Version, err)
		}
		if _, err := db.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", migration.Version); err != nil {
			return fmt.Errorf("failed to record migration %s: %w", migration.Version, err)
		}
	}

	return nil
}

// RollbackMigration rolls back the most recent SQLite migration
func RollbackMigration(ctx context.Context, db *sql.DB) error {
	currentVersion, err := currentSQLiteVersion(ctx, db)
	if err != nil {
		return err
	}
	if currentVersion == "" {
		return errors.New("no migrations to rollback")
	}

	var migration *Migration
	for i := range AllMigrations {
		if AllMigrations[i].Version == currentVersion {
			migration = &AllMigrations[i]
			break
		}
	}
	if migration == nil {
		return fmt.Errorf("migration %s not found", currentVersion)
	}

	if _, err := db.ExecContext(ctx, migration.Down); err != nil {
		return fmt.Errorf("failed to rollback migration %s: %w", currentVersion, err)
	}

	// The 1.0.0 down migration drops schema_version itself
	if migration.Version != AllMigrations[0].Version {
		if _, err := db.ExecContext(ctx, "DELETE FROM schema_version WHERE version = ?", currentVersion); err != nil {
			return fmt.Errorf("failed to remove migration record %s: %w", currentVersion, err)
		}
	}

	return nil
}
