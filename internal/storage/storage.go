package storage

import (
	"context"
	"math"
	"time"

	"github.com/dshills/devmemory-mcp/pkg/types"
)

// Storage defines persistence for projects, contexts, the naming registry
// and the decision ledger. Every method takes the owning identifiers
// explicitly; implementations hold no per-project state.
type Storage interface {
	// Project operations
	CreateProject(ctx context.Context, project *types.Project) error
	GetProject(ctx context.Context, id string) (*types.Project, error)
	GetProjectByName(ctx context.Context, name string) (*types.Project, error)
	ListProjects(ctx context.Context, status types.ProjectStatus) ([]*types.Project, error)
	UpdateProjectStatus(ctx context.Context, id string, status types.ProjectStatus) error
	DeleteProject(ctx context.Context, id string) error

	// Session operations
	CreateSession(ctx context.Context, session *types.Session) error
	GetSession(ctx context.Context, id string) (*types.Session, error)
	EndSession(ctx context.Context, id string, endedAt time.Time) error

	// Context operations
	InsertContext(ctx context.Context, c *types.Context) error
	GetContext(ctx context.Context, id string) (*types.Context, error)
	ListRecentContexts(ctx context.Context, projectID string, limit int) ([]*types.Context, error)
	SearchVector(ctx context.Context, projectID string, vector []float32, filters *ContextFilters, limit int) ([]ScoredContext, error)
	SearchText(ctx context.Context, projectID string, query string, filters *ContextFilters, limit int) ([]ScoredContext, error)
	ListContextsMissingEmbedding(ctx context.Context, limit int) ([]*types.Context, error)
	SetContextEmbedding(ctx context.Context, id string, vector []float32, model string) (bool, error)
	DeleteContext(ctx context.Context, id string) error
	DeleteContexts(ctx context.Context, projectID string, filters *ContextFilters) (int, error)
	ContextStats(ctx context.Context, projectID string, since time.Time) (*types.ContextStats, error)

	// Naming registry operations
	UpsertNamingEntry(ctx context.Context, entry *types.NamingEntry) (created bool, err error)
	GetNamingEntry(ctx context.Context, id string) (*types.NamingEntry, error)
	SetNamingAliases(ctx context.Context, id string, aliases []string) error
	ListNamingEntries(ctx context.Context, projectID string, entityType types.EntityType) ([]*types.NamingEntry, error)
	FindNamingMatches(ctx context.Context, projectID string, entityType types.EntityType, name string) ([]*types.NamingEntry, error)
	DeprecateNamingEntry(ctx context.Context, id string, replacementID *string, reason string) error
	NamingStats(ctx context.Context, projectID string) (*types.NamingStats, error)

	// Decision ledger operations
	InsertDecision(ctx context.Context, d *types.Decision) error
	GetDecision(ctx context.Context, id string) (*types.Decision, error)
	SearchDecisions(ctx context.Context, projectID string, filters *DecisionFilters) ([]*types.Decision, error)
	UpdateDecision(ctx context.Context, d *types.Decision, expectedStatus types.DecisionStatus) (bool, error)
	DecisionStats(ctx context.Context, projectID string, since time.Time) (*types.DecisionStats, error)

	// Database operations
	Close() error
	BeginTx(ctx context.Context) (Tx, error)
}

// Tx represents a database transaction
type Tx interface {
	Commit() error
	Rollback() error
	Storage // Embed Storage interface for transaction operations
}

// ContextFilters narrows context searches and bulk deletes.
// Zero values mean "no filter".
type ContextFilters struct {
	Types     []types.ContextType
	Tags      []string // Any-of match against normalised tags
	SessionID string
	From      time.Time // Inclusive
	To        time.Time // Inclusive

	// MinSimilarity discards vector results below the threshold when > 0
	MinSimilarity float64

	// IncludeUnembedded ranks rows without embeddings last with similarity 0
	IncludeUnembedded bool
}

// Validate rejects malformed filter values
func (f *ContextFilters) Validate() error {
	if f == nil {
		return nil
	}
	for _, t := range f.Types {
		if !t.Valid() {
			return types.NewValidationError("type", "unknown context type %q", t)
		}
	}
	if !f.From.IsZero() && !f.To.IsZero() && f.From.After(f.To) {
		return types.NewValidationError("dateRange", "from %s is after to %s",
			f.From.Format(time.RFC3339), f.To.Format(time.RFC3339))
	}
	if math.IsNaN(f.MinSimilarity) || f.MinSimilarity < -1 || f.MinSimilarity > 1 {
		return types.NewValidationError("minSimilarity", "%v is outside [-1, 1]", f.MinSimilarity)
	}
	return nil
}

// Selective reports whether any row-narrowing filter is set
func (f *ContextFilters) Selective() bool {
	if f == nil {
		return false
	}
	return len(f.Types) > 0 || len(f.Tags) > 0 || f.SessionID != "" || !f.From.IsZero() || !f.To.IsZero()
}

// ScoredContext is a context with its similarity (vector search) or
// normalised full-text score in [0, 1] (text search)
type ScoredContext struct {
	Context *types.Context
	Score   float64
}

// DecisionFilters narrows decision searches
type DecisionFilters struct {
	DecisionType types.DecisionType
	Status       types.DecisionStatus
	ImpactLevel  types.ImpactLevel
	Tags         []string
	TextQuery    string
	Limit        int
}

// WithTx runs fn inside a transaction, committing on success and rolling back on error
func WithTx(ctx context.Context, s Storage, fn func(tx Tx) error) error {
	tx, err := s.BeginTx(ctx)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
