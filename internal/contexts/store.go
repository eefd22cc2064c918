package contexts

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dshills/devmemory-mcp/internal/storage"
	"github.com/dshills/devmemory-mcp/internal/telemetry"
	"github.com/dshills/devmemory-mcp/pkg/types"
)

const (
	// DefaultRecentLimit is used when GetRecentContexts gets no limit
	DefaultRecentLimit = 10
	// MaxRecentLimit caps GetRecentContexts
	MaxRecentLimit = 100
	// RecentWindow is the "recent" bucket of Stats
	RecentWindow = 24 * time.Hour
)

// Embedder produces vectors for content. *embedder.Service satisfies it.
type Embedder interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
	Model() string
}

// Notifier is nudged when a context is stored without an embedding
type Notifier interface {
	Notify()
}

// Store persists contexts, embedding them inline when the provider answers
// within the timeout
type Store struct {
	storage  storage.Storage
	embedder Embedder
	timeout  time.Duration
	notifier Notifier
	logger   zerolog.Logger
	metrics  *telemetry.Metrics
}

// Option configures a Store
type Option func(*Store)

// WithNotifier sets the backfill trigger used for deferred embeddings
func WithNotifier(n Notifier) Option {
	return func(s *Store) { s.notifier = n }
}

// WithLogger sets the logger
func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithMetrics sets the metrics recorder
func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// NewStore creates a Store. timeout bounds each inline embedding call.
func NewStore(st storage.Storage, emb Embedder, timeout time.Duration, opts ...Option) *Store {
	s := &Store{
		storage:  st,
		embedder: emb,
		timeout:  timeout,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StoreRequest describes a new context fragment
type StoreRequest struct {
	ProjectID      string
	SessionID      string
	Type           types.ContextType
	Content        string
	Tags           []string
	RelevanceScore *float64
	Metadata       map[string]any
}

// StoreContext validates and persists a context. Embedding failure or
// timeout never fails the call: the row is stored with a null embedding and
// the backfill job is notified.
func (s *Store) StoreContext(ctx context.Context, req StoreRequest) (*types.Context, error) {
	c := &types.Context{
		ID:             uuid.NewString(),
		ProjectID:      req.ProjectID,
		Type:           req.Type,
		Content:        req.Content,
		RelevanceScore: types.DefaultRelevanceScore,
		Tags:           types.NormalizeTags(req.Tags),
		Metadata:       req.Metadata,
		CreatedAt:      time.Now().UTC(),
	}
	if req.RelevanceScore != nil {
		c.RelevanceScore = *req.RelevanceScore
	}
	if err := c.Validate(); err != nil {
		s.metrics.ContextStored(ctx, "rejected")
		return nil, err
	}

	if _, err := s.storage.GetProject(ctx, req.ProjectID); err != nil {
		return nil, err
	}
	if req.SessionID != "" {
		session, err := s.storage.GetSession(ctx, req.SessionID)
		if err != nil {
			return nil, err
		}
		if session.ProjectID != req.ProjectID {
			return nil, types.NewValidationError("sessionId", "session %s belongs to another project", req.SessionID)
		}
		sessionID := req.SessionID
		c.SessionID = &sessionID
	}

	deferred := false
	if vector, err := s.embed(ctx, c.Content); err != nil {
		deferred = true
		event := s.logger.Warn()
		if errors.Is(err, types.ErrDimensionMismatch) {
			event = s.logger.Error()
		}
		event.Err(err).Str("context_id", c.ID).Msg("embedding deferred to backfill")
	} else {
		c.Embedding = vector
		c.EmbeddingModel = s.embedder.Model()
	}

	if err := s.storage.InsertContext(ctx, c); err != nil {
		return nil, err
	}

	if deferred {
		s.metrics.ContextStored(ctx, "deferred")
		if s.notifier != nil {
			s.notifier.Notify()
		}
	} else {
		s.metrics.ContextStored(ctx, "inline")
	}
	s.logger.Debug().
		Str("context_id", c.ID).
		Str("project_id", c.ProjectID).
		Str("type", string(c.Type)).
		Bool("embedded", !deferred).
		Msg("context stored")
	return c, nil
}

func (s *Store) embed(ctx context.Context, text string) ([]float32, error) {
	if s.embedder == nil {
		return nil, errors.New("no embedder configured")
	}
	embedCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.embedder.GenerateEmbedding(embedCtx, text)
}

// GetContext returns one context by id
func (s *Store) GetContext(ctx context.Context, id string) (*types.Context, error) {
	if strings.TrimSpace(id) == "" {
		return nil, types.NewValidationError("id", "is required")
	}
	return s.storage.GetContext(ctx, id)
}

// GetRecentContexts lists a project's contexts, newest first
func (s *Store) GetRecentContexts(ctx context.Context, projectID string, limit int) ([]*types.Context, error) {
	switch {
	case limit < 0:
		return nil, types.NewValidationError("limit", "must not be negative")
	case limit == 0:
		limit = DefaultRecentLimit
	case limit > MaxRecentLimit:
		limit = MaxRecentLimit
	}
	return s.storage.ListRecentContexts(ctx, projectID, limit)
}

// Stats aggregates context counts for projectID, or all projects when empty
func (s *Store) Stats(ctx context.Context, projectID string) (*types.ContextStats, error) {
	return s.storage.ContextStats(ctx, projectID, time.Now().Add(-RecentWindow))
}

// DeleteContext removes one context
func (s *Store) DeleteContext(ctx context.Context, id string) error {
	if err := s.storage.DeleteContext(ctx, id); err != nil {
		return err
	}
	s.logger.Info().Str("context_id", id).Msg("context deleted")
	return nil
}

// DeleteRequest selects contexts for bulk deletion. Deleting a whole
// project's contexts requires All.
type DeleteRequest struct {
	ProjectID string
	Filters   storage.ContextFilters
	All       bool
}

// DeleteContexts removes every context of the project matching the filters
func (s *Store) DeleteContexts(ctx context.Context, req DeleteRequest) (int, error) {
	filters := req.Filters
	filters.Tags = types.NormalizeTags(filters.Tags)
	if err := filters.Validate(); err != nil {
		return 0, err
	}
	if !filters.Selective() && !req.All {
		return 0, types.NewValidationError("filters", "at least one filter is required unless all is set")
	}
	n, err := s.storage.DeleteContexts(ctx, req.ProjectID, &filters)
	if err != nil {
		return 0, err
	}
	s.logger.Info().Str("project_id", req.ProjectID).Int("deleted", n).Msg("contexts deleted")
	return n, nil
}
