package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dshills/devmemory-mcp/pkg/types"
)

// ErrNestedTx is returned by BeginTx on a transaction
var ErrNestedTx = errors.New("nested transactions are not supported")

const settingEmbeddingDimension = "embedding_dimension"

// SQLiteStorage implements the Storage interface using SQLite
type SQLiteStorage struct {
	sqliteQueries
	db *sql.DB
}

// sqliteQueries holds every data method, bound to either the DB or a transaction
type sqliteQueries struct {
	q   querier
	dim int
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Single writer connection; every read inside a transaction must use the tx
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return db, nil
}

// NewSQLiteStorage opens (creating if needed) the database at dbPath.
// dimension is the deployment's embedding dimension; a database created
// with a different dimension is rejected.
func NewSQLiteStorage(ctx context.Context, dbPath string, dimension int) (*SQLiteStorage, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("invalid embedding dimension %d", dimension)
	}

	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := ApplyMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	if err := checkDimension(ctx, db, dimension); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &SQLiteStorage{
		sqliteQueries: sqliteQueries{q: db, dim: dimension},
		db:            db,
	}, nil
}

// checkDimension pins the embedding dimension on first open
func checkDimension(ctx context.Context, db *sql.DB, dimension int) error {
	var stored string
	err := db.QueryRowContext(ctx, "SELECT value FROM store_settings WHERE key = ?", settingEmbeddingDimension).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		_, err = db.ExecContext(ctx, "INSERT INTO store_settings (key, value) VALUES (?, ?)",
			settingEmbeddingDimension, strconv.Itoa(dimension))
		if err != nil {
			return fmt.Errorf("failed to record embedding dimension: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read embedding dimension: %w", err)
	}
	if stored != strconv.Itoa(dimension) {
		return fmt.Errorf("%w: database uses %s, configured %d", types.ErrDimensionMismatch, stored, dimension)
	}
	return nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// BeginTx starts a new transaction
func (s *SQLiteStorage) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &sqliteTx{sqliteQueries: sqliteQueries{q: tx, dim: s.dim}, tx: tx}, nil
}

// DB exposes the underlying handle for maintenance commands
func (s *SQLiteStorage) DB() *sql.DB {
	return s.db
}

// sqliteTx wraps a SQL transaction
type sqliteTx struct {
	sqliteQueries
	tx *sql.Tx
}

func (t *sqliteTx) Commit() error {
	return t.tx.Commit()
}

func (t *sqliteTx) Rollback() error {
	return t.tx.Rollback()
}

func (t *sqliteTx) Close() error {
	return nil
}

func (t *sqliteTx) BeginTx(ctx context.Context) (Tx, error) {
	return nil, ErrNestedTx
}

// sqliteDialect renders filters for SQLite: tags are JSON arrays, times are fixed-width text
type sqliteDialect struct{}

func (sqliteDialect) tagsAny(column string, tags []string) (string, []interface{}) {
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(tags)), ",")
	args := make([]interface{}, len(tags))
	for i, t := range tags {
		args[i] = t
	}
	return "EXISTS (SELECT 1 FROM json_each(" + column + ") WHERE json_each.value IN (" + placeholders + "))", args
}

func (sqliteDialect) timeArg(t time.Time) interface{} {
	return formatTime(t)
}

// rowScanner is implemented by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func encodeJSON(v interface{}) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func nullString(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

// Project operations

const projectColumns = `id, name, description, status, created_at, updated_at`

func scanProject(row rowScanner) (*types.Project, error) {
	var p types.Project
	var status, createdAt, updatedAt string
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &status, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	p.Status = types.ProjectStatus(status)
	var err error
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if p.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *sqliteQueries) CreateProject(ctx context.Context, project *types.Project) error {
	if project.Status == "" {
		project.Status = types.ProjectActive
	}
	now := time.Now().UTC()
	project.CreatedAt = now
	project.UpdatedAt = now

	_, err := s.q.ExecContext(ctx, `
		INSERT INTO projects (id, name, description, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		project.ID, project.Name, project.Description, string(project.Status),
		formatTime(now), formatTime(now))
	if err != nil {
		return fmt.Errorf("failed to create project: %w", err)
	}
	return nil
}

func (s *sqliteQueries) GetProject(ctx context.Context, id string) (*types.Project, error) {
	p, err := scanProject(s.q.QueryRowContext(ctx, "SELECT "+projectColumns+" FROM projects WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.NewNotFoundError("project", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	return p, nil
}

func (s *sqliteQueries) GetProjectByName(ctx context.Context, name string) (*types.Project, error) {
	p, err := scanProject(s.q.QueryRowContext(ctx, "SELECT "+projectColumns+" FROM projects WHERE name = ?", name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.NewNotFoundError("project", name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	return p, nil
}

func (s *sqliteQueries) ListProjects(ctx context.Context, status types.ProjectStatus) ([]*types.Project, error) {
	query := "SELECT " + projectColumns + " FROM projects"
	var args []interface{}
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, string(status))
	}
	query += " ORDER BY name"

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var projects []*types.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

func (s *sqliteQueries) UpdateProjectStatus(ctx context.Context, id string, status types.ProjectStatus) error {
	res, err := s.q.ExecContext(ctx, "UPDATE projects SET status = ?, updated_at = ? WHERE id = ?",
		string(status), formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("failed to update project: %w", err)
	}
	return requireAffected(res, "project", id)
}

func (s *sqliteQueries) DeleteProject(ctx context.Context, id string) error {
	res, err := s.q.ExecContext(ctx, "DELETE FROM projects WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete project: %w", err)
	}
	return requireAffected(res, "project", id)
}

func requireAffected(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return types.NewNotFoundError(kind, id)
	}
	return nil
}

// Session operations

func (s *sqliteQueries) CreateSession(ctx context.Context, session *types.Session) error {
	if session.StartedAt.IsZero() {
		session.StartedAt = time.Now().UTC()
	}
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO sessions (id, project_id, agent_type, started_at)
		VALUES (?, ?, ?, ?)`,
		session.ID, session.ProjectID, session.AgentType, formatTime(session.StartedAt))
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

func (s *sqliteQueries) GetSession(ctx context.Context, id string) (*types.Session, error) {
	var session types.Session
	var startedAt string
	var endedAt sql.NullString
	err := s.q.QueryRowContext(ctx,
		"SELECT id, project_id, agent_type, started_at, ended_at FROM sessions WHERE id = ?", id,
	).Scan(&session.ID, &session.ProjectID, &session.AgentType, &startedAt, &endedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.NewNotFoundError("session", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	if session.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, err
	}
	if endedAt.Valid {
		t, err := parseTime(endedAt.String)
		if err != nil {
			return nil, err
		}
		session.EndedAt = &t
	}
	return &session, nil
}

func (s *sqliteQueries) EndSession(ctx context.Context, id string, endedAt time.Time) error {
	session, err := s.GetSession(ctx, id)
	if err != nil {
		return err
	}
	if endedAt.Before(session.StartedAt) {
		return types.NewValidationError("endedAt", "must not be before the session start")
	}
	_, err = s.q.ExecContext(ctx, "UPDATE sessions SET ended_at = ? WHERE id = ?", formatTime(endedAt), id)
	if err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}
	return nil
}
