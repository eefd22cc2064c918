package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/dshills/devmemory-mcp/pkg/types"
)

// PostgresStorage implements Storage on Postgres with the pgvector extension
type PostgresStorage struct {
	pgQueries
	pool *pgxpool.Pool
}

// pgQueries holds every data method, bound to the pool or a transaction
type pgQueries struct {
	q   pgQuerier
	dim int
}

// pgQuerier is implemented by both *pgxpool.Pool and pgx.Tx
type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NewPostgresStorage connects to databaseURL, registers the vector type on
// every pooled connection and applies pending migrations
func NewPostgresStorage(ctx context.Context, databaseURL string, dimension int) (*PostgresStorage, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("invalid embedding dimension %d", dimension)
	}

	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}

	// The extension must exist before the vector type can be registered
	bootstrap, err := pgx.ConnectConfig(ctx, cfg.ConnConfig.Copy())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	_, err = bootstrap.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector")
	_ = bootstrap.Close(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create vector extension: %w", err)
	}

	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open pool: %w", err)
	}

	if err := applyPostgresMigrations(ctx, pool, dimension); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &PostgresStorage{
		pgQueries: pgQueries{q: pool, dim: dimension},
		pool:      pool,
	}, nil
}

// Close releases every pooled connection
func (s *PostgresStorage) Close() error {
	s.pool.Close()
	return nil
}

// BeginTx starts a new transaction
func (s *PostgresStorage) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &pgTx{pgQueries: pgQueries{q: tx, dim: s.dim}, tx: tx}, nil
}

// pgTx wraps a pgx transaction
type pgTx struct {
	pgQueries
	tx pgx.Tx
}

func (t *pgTx) Commit() error {
	return t.tx.Commit(context.Background())
}

func (t *pgTx) Rollback() error {
	return t.tx.Rollback(context.Background())
}

func (t *pgTx) Close() error {
	return nil
}

func (t *pgTx) BeginTx(ctx context.Context) (Tx, error) {
	return nil, ErrNestedTx
}

// pgDialect renders filters for Postgres: tags are text[] and times bind natively
type pgDialect struct{}

func (pgDialect) tagsAny(column string, tags []string) (string, []interface{}) {
	return column + " && ?::text[]", []interface{}{tags}
}

func (pgDialect) timeArg(t time.Time) interface{} {
	return t.UTC()
}

func pgCommandAffected(tag pgconn.CommandTag, kind, id string) error {
	if tag.RowsAffected() == 0 {
		return types.NewNotFoundError(kind, id)
	}
	return nil
}

// Project operations

const pgProjectColumns = `id, name, description, status, created_at, updated_at`

func scanPgProject(row pgx.Row) (*types.Project, error) {
	var p types.Project
	var status string
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &status, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Status = types.ProjectStatus(status)
	return &p, nil
}

func (s *pgQueries) CreateProject(ctx context.Context, project *types.Project) error {
	if project.Status == "" {
		project.Status = types.ProjectActive
	}
	now := time.Now().UTC()
	project.CreatedAt = now
	project.UpdatedAt = now
	_, err := s.q.Exec(ctx, rebind(`
		INSERT INTO projects (id, name, description, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`),
		project.ID, project.Name, project.Description, string(project.Status), now, now)
	if err != nil {
		return fmt.Errorf("failed to create project: %w", err)
	}
	return nil
}

func (s *pgQueries) getProjectBy(ctx context.Context, column, value string) (*types.Project, error) {
	p, err := scanPgProject(s.q.QueryRow(ctx, "SELECT "+pgProjectColumns+" FROM projects WHERE "+column+" = $1", value))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, types.NewNotFoundError("project", value)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	return p, nil
}

func (s *pgQueries) GetProject(ctx context.Context, id string) (*types.Project, error) {
	return s.getProjectBy(ctx, "id", id)
}

func (s *pgQueries) GetProjectByName(ctx context.Context, name string) (*types.Project, error) {
	return s.getProjectBy(ctx, "name", name)
}

func (s *pgQueries) ListProjects(ctx context.Context, status types.ProjectStatus) ([]*types.Project, error) {
	query := "SELECT " + pgProjectColumns + " FROM projects"
	var args []any
	if status != "" {
		query += " WHERE status = $1"
		args = append(args, string(status))
	}
	rows, err := s.q.Query(ctx, query+" ORDER BY name", args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	var projects []*types.Project
	for rows.Next() {
		p, err := scanPgProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

func (s *pgQueries) UpdateProjectStatus(ctx context.Context, id string, status types.ProjectStatus) error {
	tag, err := s.q.Exec(ctx, "UPDATE projects SET status = $1, updated_at = $2 WHERE id = $3",
		string(status), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update project: %w", err)
	}
	return pgCommandAffected(tag, "project", id)
}

func (s *pgQueries) DeleteProject(ctx context.Context, id string) error {
	tag, err := s.q.Exec(ctx, "DELETE FROM projects WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete project: %w", err)
	}
	return pgCommandAffected(tag, "project", id)
}

// Session operations

func (s *pgQueries) CreateSession(ctx context.Context, session *types.Session) error {
	if session.StartedAt.IsZero() {
		session.StartedAt = time.Now().UTC()
	}
	_, err := s.q.Exec(ctx, `
		INSERT INTO sessions (id, project_id, agent_type, started_at)
		VALUES ($1, $2, $3, $4)`,
		session.ID, session.ProjectID, session.AgentType, session.StartedAt)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

func (s *pgQueries) GetSession(ctx context.Context, id string) (*types.Session, error) {
	var session types.Session
	err := s.q.QueryRow(ctx,
		"SELECT id, project_id, agent_type, started_at, ended_at FROM sessions WHERE id = $1", id,
	).Scan(&session.ID, &session.ProjectID, &session.AgentType, &session.StartedAt, &session.EndedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, types.NewNotFoundError("session", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return &session, nil
}

func (s *pgQueries) EndSession(ctx context.Context, id string, endedAt time.Time) error {
	session, err := s.GetSession(ctx, id)
	if err != nil {
		return err
	}
	if endedAt.Before(session.StartedAt) {
		return types.NewValidationError("endedAt", "must not be before the session start")
	}
	if _, err := s.q.Exec(ctx, "UPDATE sessions SET ended_at = $1 WHERE id = $2", endedAt.UTC(), id); err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}
	return nil
}

// Migrations

// hnswMaxDimension is the largest vector pgvector can index with HNSW
const hnswMaxDimension = 2000

func postgresMigrations(dimension int) []Migration {
	index := ""
	if dimension <= hnswMaxDimension {
		index = "CREATE INDEX IF NOT EXISTS idx_contexts_embedding ON contexts USING hnsw (embedding vector_cosine_ops);"
	}
	return []Migration{
		{
			Version: "1.0.0",
			Up: fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS schema_version (
    version TEXT PRIMARY KEY,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS projects (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL UNIQUE,
    description TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'active'
        CHECK (status IN ('active', 'archived', 'completed', 'paused')),
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS sessions (
    id TEXT PRIMARY KEY,
    project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
    agent_type TEXT NOT NULL DEFAULT '',
    started_at TIMESTAMPTZ NOT NULL,
    ended_at TIMESTAMPTZ,
    CHECK (ended_at IS NULL OR ended_at >= started_at)
);

CREATE TABLE IF NOT EXISTS contexts (
    id TEXT PRIMARY KEY,
    project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
    session_id TEXT REFERENCES sessions(id) ON DELETE SET NULL,
    context_type TEXT NOT NULL CHECK (context_type IN
        ('code', 'decision', 'error', 'discussion', 'planning', 'completion', 'milestone')),
    content TEXT NOT NULL CHECK (length(trim(content)) > 0),
    embedding VECTOR(%[1]d),
    embedding_model TEXT NOT NULL DEFAULT '',
    relevance_score DOUBLE PRECISION NOT NULL DEFAULT 5
        CHECK (relevance_score >= 0 AND relevance_score <= 10),
    tags TEXT[] NOT NULL DEFAULT '{}',
    metadata JSONB NOT NULL DEFAULT '{}',
    created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_contexts_project_created ON contexts(project_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_contexts_project_type ON contexts(project_id, context_type);
CREATE INDEX IF NOT EXISTS idx_contexts_missing_embedding ON contexts(created_at DESC) WHERE embedding IS NULL;
CREATE INDEX IF NOT EXISTS idx_contexts_content_fts ON contexts USING gin (to_tsvector('english', content));
CREATE INDEX IF NOT EXISTS idx_contexts_tags ON contexts USING gin (tags);
%[2]s

CREATE TABLE IF NOT EXISTS naming_registry (
    id TEXT PRIMARY KEY,
    project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
    entity_type TEXT NOT NULL,
    canonical_name TEXT NOT NULL,
    aliases TEXT[] NOT NULL DEFAULT '{}',
    description TEXT NOT NULL DEFAULT '',
    naming_convention TEXT NOT NULL DEFAULT '',
    usage_count INTEGER NOT NULL DEFAULT 1 CHECK (usage_count >= 1),
    first_seen TIMESTAMPTZ NOT NULL,
    last_used TIMESTAMPTZ NOT NULL,
    deprecated BOOLEAN NOT NULL DEFAULT FALSE,
    deprecation_reason TEXT NOT NULL DEFAULT '',
    replacement_id TEXT REFERENCES naming_registry(id) ON DELETE SET NULL,
    UNIQUE (project_id, entity_type, canonical_name),
    CHECK (replacement_id IS NULL OR replacement_id <> id)
);

CREATE INDEX IF NOT EXISTS idx_naming_project_type ON naming_registry(project_id, entity_type);
CREATE INDEX IF NOT EXISTS idx_naming_aliases ON naming_registry USING gin (aliases);

CREATE TABLE IF NOT EXISTS technical_decisions (
    id TEXT PRIMARY KEY,
    project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
    session_id TEXT REFERENCES sessions(id) ON DELETE SET NULL,
    decision_type TEXT NOT NULL,
    title TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    rationale TEXT NOT NULL DEFAULT '',
    alternatives_considered JSONB NOT NULL DEFAULT '[]',
    tags TEXT[] NOT NULL DEFAULT '{}',
    status TEXT NOT NULL DEFAULT 'active'
        CHECK (status IN ('active', 'deprecated', 'superseded', 'under_review')),
    superseded_by TEXT REFERENCES technical_decisions(id) ON DELETE SET NULL,
    impact_level TEXT NOT NULL DEFAULT 'medium'
        CHECK (impact_level IN ('low', 'medium', 'high', 'critical')),
    outcome_status TEXT NOT NULL DEFAULT 'unknown',
    outcome_notes TEXT NOT NULL DEFAULT '',
    lessons_learned TEXT NOT NULL DEFAULT '',
    decision_date TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL,
    CHECK (superseded_by IS NULL OR superseded_by <> id),
    CHECK (superseded_by IS NULL OR status = 'superseded')
);

CREATE INDEX IF NOT EXISTS idx_decisions_project_date ON technical_decisions(project_id, decision_date DESC);
CREATE INDEX IF NOT EXISTS idx_decisions_fts ON technical_decisions
    USING gin (to_tsvector('english', title || ' ' || description || ' ' || rationale));
`, dimension, index),
		},
		{
			Version: "1.1.0",
			Up: `
CREATE TABLE IF NOT EXISTS store_settings (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);`,
		},
	}
}

func applyPostgresMigrations(ctx context.Context, pool *pgxpool.Pool, dimension int) error {
	if _, err := pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_version (
		version TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW())`); err != nil {
		return err
	}

	rows, err := pool.Query(ctx, "SELECT version FROM schema_version")
	if err != nil {
		return err
	}
	versions, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return err
	}
	current, err := newestVersion(versions)
	if err != nil {
		return err
	}

	pending, err := pendingMigrations(current, postgresMigrations(dimension))
	if err != nil {
		return err
	}
	for _, migration := range pending {
		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, migration.Up); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("failed to apply migration %s: %w", migration.Version, err)
		}
		if _, err := tx.Exec(ctx, "INSERT INTO schema_version (version) VALUES ($1)", migration.Version); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("failed to record migration %s: %w", migration.Version, err)
		}
		if err := tx.Commit(ctx); err != nil {
			return err
		}
	}

	var stored string
	err = pool.QueryRow(ctx, "SELECT value FROM store_settings WHERE key = $1", settingEmbeddingDimension).Scan(&stored)
	if errors.Is(err, pgx.ErrNoRows) {
		_, err = pool.Exec(ctx, "INSERT INTO store_settings (key, value) VALUES ($1, $2)",
			settingEmbeddingDimension, strconv.Itoa(dimension))
		return err
	}
	if err != nil {
		return err
	}
	if stored != strconv.Itoa(dimension) {
		return fmt.Errorf("%w: database uses %s, configured %d", types.ErrDimensionMismatch, stored, dimension)
	}
	return nil
}
