package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/devmemory-mcp/internal/contexts"
	"github.com/dshills/devmemory-mcp/internal/decisions"
	"github.com/dshills/devmemory-mcp/internal/naming"
	"github.com/dshills/devmemory-mcp/internal/searcher"
	"github.com/dshills/devmemory-mcp/internal/storage"
	"github.com/dshills/devmemory-mcp/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams        = -32602 // Invalid method parameters
	ErrorCodeInternalError        = -32603 // Internal JSON-RPC error
	ErrorCodeNotFound             = -32001 // Project, session, context, entry or decision does not exist
	ErrorCodeEmbeddingUnavailable = -32002 // No embedding provider configured
	ErrorCodeDimensionMismatch    = -32003 // Vector dimension differs from the deployment
	ErrorCodeEmptyQuery           = -32004 // Query parameter is empty
	ErrorCodeCycle                = -32005 // Replacement or supersession would form a cycle
	ErrorCodeStaleStatus          = -32006 // Decision status changed concurrently
	ErrorCodeInvalidTransition    = -32007 // Decision status change not allowed
)

var errEmbeddingUnavailable = errors.New("no embedding provider configured")

// MCPError is the body of a failed tool call
type MCPError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// newMCPError creates a coded error for a handler to return
func newMCPError(code int, message string, data interface{}) error {
	return &MCPError{Code: code, Message: message, Data: data}
}

// toMCPError maps service errors to error codes
func toMCPError(err error) *MCPError {
	var mcpErr *MCPError
	if errors.As(err, &mcpErr) {
		return mcpErr
	}

	var validation *types.ValidationError
	var notFound *types.NotFoundError
	var cycle *types.CycleError
	switch {
	case errors.As(err, &validation):
		return &MCPError{Code: ErrorCodeInvalidParams, Message: err.Error(), Data: map[string]interface{}{
			"param":  validation.Field,
			"reason": validation.Reason,
		}}
	case errors.As(err, &notFound):
		return &MCPError{Code: ErrorCodeNotFound, Message: err.Error(), Data: map[string]interface{}{
			"kind": notFound.Kind,
			"id":   notFound.ID,
		}}
	case errors.As(err, &cycle):
		return &MCPError{Code: ErrorCodeCycle, Message: err.Error(), Data: map[string]interface{}{
			"chain": cycle.Chain,
		}}
	case errors.Is(err, types.ErrStaleStatus):
		return &MCPError{Code: ErrorCodeStaleStatus, Message: err.Error()}
	case errors.Is(err, types.ErrInvalidTransition):
		return &MCPError{Code: ErrorCodeInvalidTransition, Message: err.Error()}
	case errors.Is(err, types.ErrDimensionMismatch):
		return &MCPError{Code: ErrorCodeDimensionMismatch, Message: err.Error()}
	case errors.Is(err, errEmbeddingUnavailable):
		return &MCPError{Code: ErrorCodeEmbeddingUnavailable, Message: err.Error()}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return &MCPError{Code: ErrorCodeInternalError, Message: "request cancelled", Data: map[string]interface{}{"error": err.Error()}}
	}
	return &MCPError{Code: ErrorCodeInternalError, Message: "internal error", Data: map[string]interface{}{"error": err.Error()}}
}

// bind decodes the call arguments into target
func bind(request mcp.CallToolRequest, target interface{}) error {
	raw := request.Params.Arguments
	if raw == nil {
		raw = map[string]interface{}{}
	}
	if _, ok := raw.(map[string]interface{}); !ok {
		return newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return newMCPError(ErrorCodeInvalidParams, "invalid arguments", map[string]interface{}{"error": err.Error()})
	}
	if err := json.Unmarshal(data, target); err != nil {
		return newMCPError(ErrorCodeInvalidParams, "invalid arguments", map[string]interface{}{"error": err.Error()})
	}
	return nil
}

func requireString(param, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", newMCPError(ErrorCodeInvalidParams, param+" parameter is required", map[string]interface{}{
			"param":  param,
			"reason": "missing or empty",
		})
	}
	return value, nil
}

// formatJSON formats a response as indented JSON
func formatJSON(data interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// Project resolution

// lookupProject resolves a project name for read tools
func (s *Server) lookupProject(ctx context.Context, name string) (*types.Project, error) {
	name, err := requireString("project", name)
	if err != nil {
		return nil, err
	}
	return s.storage.GetProjectByName(ctx, name)
}

// ensureProject resolves a project name for write tools, creating the
// project on first use
func (s *Server) ensureProject(ctx context.Context, name string) (*types.Project, bool, error) {
	name, err := requireString("project", name)
	if err != nil {
		return nil, false, err
	}
	p, err := s.storage.GetProjectByName(ctx, name)
	if err == nil {
		return p, false, nil
	}
	if !errors.Is(err, types.ErrNotFound) {
		return nil, false, err
	}

	p = &types.Project{ID: uuid.NewString(), Name: name, Status: types.ProjectActive}
	if err := s.storage.CreateProject(ctx, p); err != nil {
		// lost a race with a concurrent first use
		if existing, getErr := s.storage.GetProjectByName(ctx, name); getErr == nil {
			return existing, false, nil
		}
		return nil, false, err
	}
	s.logger.Info().Str("project_id", p.ID).Str("project", p.Name).Msg("project created")
	return p, true, nil
}

// optionalProjectID resolves name to an id, or "" for all projects
func (s *Server) optionalProjectID(ctx context.Context, name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", nil
	}
	p, err := s.lookupProject(ctx, name)
	if err != nil {
		return "", err
	}
	return p.ID, nil
}

// Projects and sessions

func (s *Server) handleProjectList(ctx context.Context, request mcp.CallToolRequest) (interface{}, error) {
	var args struct {
		Status types.ProjectStatus `json:"status"`
	}
	if err := bind(request, &args); err != nil {
		return nil, err
	}
	if args.Status != "" && !args.Status.Valid() {
		return nil, types.NewValidationError("status", "unknown project status %q", args.Status)
	}
	projects, err := s.storage.ListProjects(ctx, args.Status)
	if err != nil {
		return nil, err
	}
	if projects == nil {
		projects = []*types.Project{}
	}
	return projectListResponse{Projects: projects}, nil
}

func (s *Server) handleProjectCreate(ctx context.Context, request mcp.CallToolRequest) (interface{}, error) {
	var args struct {
		Project     string `json:"project"`
		Description string `json:"description"`
	}
	if err := bind(request, &args); err != nil {
		return nil, err
	}
	name, err := requireString("project", args.Project)
	if err != nil {
		return nil, err
	}
	if existing, err := s.storage.GetProjectByName(ctx, name); err == nil {
		return projectResponse{Project: existing}, nil
	}

	p := &types.Project{
		ID:          uuid.NewString(),
		Name:        name,
		Description: strings.TrimSpace(args.Description),
		Status:      types.ProjectActive,
	}
	if err := s.storage.CreateProject(ctx, p); err != nil {
		if existing, getErr := s.storage.GetProjectByName(ctx, name); getErr == nil {
			return projectResponse{Project: existing}, nil
		}
		return nil, err
	}
	return projectResponse{Project: p, Created: true}, nil
}

func (s *Server) handleProjectArchive(ctx context.Context, request mcp.CallToolRequest) (interface{}, error) {
	var args struct {
		Project string `json:"project"`
	}
	if err := bind(request, &args); err != nil {
		return nil, err
	}
	p, err := s.lookupProject(ctx, args.Project)
	if err != nil {
		return nil, err
	}
	if err := s.storage.UpdateProjectStatus(ctx, p.ID, types.ProjectArchived); err != nil {
		return nil, err
	}
	p, err = s.storage.GetProject(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	return projectResponse{Project: p}, nil
}

func (s *Server) handleSessionStart(ctx context.Context, request mcp.CallToolRequest) (interface{}, error) {
	var args struct {
		Project   string `json:"project"`
		AgentType string `json:"agentType"`
	}
	if err := bind(request, &args); err != nil {
		return nil, err
	}
	p, _, err := s.ensureProject(ctx, args.Project)
	if err != nil {
		return nil, err
	}
	agent := strings.TrimSpace(args.AgentType)
	if agent == "" {
		agent = "unknown"
	}
	session := &types.Session{
		ID:        uuid.NewString(),
		ProjectID: p.ID,
		AgentType: agent,
		StartedAt: time.Now().UTC(),
	}
	if err := s.storage.CreateSession(ctx, session); err != nil {
		return nil, err
	}
	return sessionResponse{Session: session}, nil
}

func (s *Server) handleSessionEnd(ctx context.Context, request mcp.CallToolRequest) (interface{}, error) {
	var args struct {
		Project   string `json:"project"`
		SessionID string `json:"sessionId"`
	}
	if err := bind(request, &args); err != nil {
		return nil, err
	}
	p, err := s.lookupProject(ctx, args.Project)
	if err != nil {
		return nil, err
	}
	id, err := requireString("sessionId", args.SessionID)
	if err != nil {
		return nil, err
	}
	session, err := s.storage.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if session.ProjectID != p.ID {
		return nil, types.NewNotFoundError("session", id)
	}
	if err := s.storage.EndSession(ctx, id, time.Now().UTC()); err != nil {
		return nil, err
	}
	session, err = s.storage.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	return sessionResponse{Session: session}, nil
}

// Contexts

func (s *Server) handleContextStore(ctx context.Context, request mcp.CallToolRequest) (interface{}, error) {
	var args struct {
		Project        string            `json:"project"`
		Content        string            `json:"content"`
		Type           types.ContextType `json:"type"`
		Tags           []string          `json:"tags"`
		RelevanceScore *float64          `json:"relevanceScore"`
		SessionID      string            `json:"sessionId"`
		Metadata       map[string]any    `json:"metadata"`
	}
	if err := bind(request, &args); err != nil {
		return nil, err
	}
	// validate before a first-use project gets created
	if strings.TrimSpace(args.Content) == "" {
		return nil, types.NewValidationError("content", "must not be empty")
	}
	if !args.Type.Valid() {
		return nil, types.NewValidationError("type", "unknown context type %q", args.Type)
	}
	if args.RelevanceScore != nil {
		if err := types.ValidateRelevanceScore(*args.RelevanceScore); err != nil {
			return nil, err
		}
	}

	p, _, err := s.ensureProject(ctx, args.Project)
	if err != nil {
		return nil, err
	}
	c, err := s.contexts.StoreContext(ctx, contexts.StoreRequest{
		ProjectID:      p.ID,
		SessionID:      args.SessionID,
		Type:           args.Type,
		Content:        args.Content,
		Tags:           args.Tags,
		RelevanceScore: args.RelevanceScore,
		Metadata:       args.Metadata,
	})
	if err != nil {
		return nil, err
	}
	return contextStoreResponse{
		ID:             c.ID,
		ContextType:    string(c.Type),
		Tags:           c.Tags,
		RelevanceScore: c.RelevanceScore,
		Embedded:       c.HasEmbedding(),
		CreatedAt:      c.CreatedAt,
	}, nil
}

type contextFilterArgs struct {
	Types     []types.ContextType `json:"types"`
	Tags      []string            `json:"tags"`
	SessionID string              `json:"sessionId"`
	From      *time.Time          `json:"from"`
	To        *time.Time          `json:"to"`
}

func (a contextFilterArgs) filters() storage.ContextFilters {
	f := storage.ContextFilters{
		Types:     a.Types,
		Tags:      a.Tags,
		SessionID: strings.TrimSpace(a.SessionID),
	}
	if a.From != nil {
		f.From = a.From.UTC()
	}
	if a.To != nil {
		f.To = a.To.UTC()
	}
	return f
}

func (s *Server) handleContextSearch(ctx context.Context, request mcp.CallToolRequest) (interface{}, error) {
	var args struct {
		contextFilterArgs
		Project           string              `json:"project"`
		Query             string              `json:"query"`
		Type              types.ContextType   `json:"type"`
		MinSimilarity     float64             `json:"minSimilarity"`
		IncludeUnembedded *bool               `json:"includeUnembedded"`
		Mode              searcher.SearchMode `json:"mode"`
		Limit             int                 `json:"limit"`
		Offset            int                 `json:"offset"`
	}
	if err := bind(request, &args); err != nil {
		return nil, err
	}
	if strings.TrimSpace(args.Query) == "" {
		return nil, newMCPError(ErrorCodeEmptyQuery, "query parameter is required and cannot be empty", map[string]interface{}{
			"param":  "query",
			"reason": "missing or empty",
		})
	}
	p, err := s.lookupProject(ctx, args.Project)
	if err != nil {
		return nil, err
	}

	filters := args.filters()
	if args.Type != "" {
		filters.Types = append(filters.Types, args.Type)
	}
	filters.MinSimilarity = args.MinSimilarity
	filters.IncludeUnembedded = s.includeUnembedded
	if args.IncludeUnembedded != nil {
		filters.IncludeUnembedded = *args.IncludeUnembedded
	}

	resp, err := s.searcher.Search(ctx, searcher.SearchRequest{
		ProjectID: p.ID,
		Query:     args.Query,
		Mode:      args.Mode,
		Filters:   filters,
		Limit:     args.Limit,
		Offset:    args.Offset,
	})
	if err != nil {
		return nil, err
	}

	hits := make([]searchHit, 0, len(resp.Results))
	for i := range resp.Results {
		r := &resp.Results[i]
		hits = append(hits, searchHit{
			ID:                r.Context.ID,
			Rank:              r.Rank,
			ContextType:       string(r.Context.Type),
			Content:           r.Context.Content,
			SimilarityPercent: r.SimilarityPercent(),
			Similarity:        r.Similarity,
			RelevanceScore:    r.Context.RelevanceScore,
			Tags:              r.Context.Tags,
			SessionID:         r.Context.SessionID,
			CreatedAt:         r.Context.CreatedAt,
		})
	}
	return contextSearchResponse{
		Query:        args.Query,
		Mode:         string(resp.SearchMode),
		Degraded:     resp.Degraded,
		TotalResults: resp.TotalResults,
		DurationMS:   resp.Duration.Milliseconds(),
		Results:      hits,
	}, nil
}

func (s *Server) handleContextGetRecent(ctx context.Context, request mcp.CallToolRequest) (interface{}, error) {
	var args struct {
		Project string `json:"project"`
		Limit   int    `json:"limit"`
	}
	if err := bind(request, &args); err != nil {
		return nil, err
	}
	p, err := s.lookupProject(ctx, args.Project)
	if err != nil {
		return nil, err
	}
	recent, err := s.contexts.GetRecentContexts(ctx, p.ID, args.Limit)
	if err != nil {
		return nil, err
	}
	if recent == nil {
		recent = []*types.Context{}
	}
	return contextListResponse{Contexts: recent}, nil
}

func (s *Server) handleContextStats(ctx context.Context, request mcp.CallToolRequest) (interface{}, error) {
	var args struct {
		Project string `json:"project"`
	}
	if err := bind(request, &args); err != nil {
		return nil, err
	}
	projectID, err := s.optionalProjectID(ctx, args.Project)
	if err != nil {
		return nil, err
	}
	return s.contexts.Stats(ctx, projectID)
}

func (s *Server) handleContextDelete(ctx context.Context, request mcp.CallToolRequest) (interface{}, error) {
	var args struct {
		contextFilterArgs
		Project string `json:"project"`
		ID      string `json:"id"`
		All     bool   `json:"all"`
	}
	if err := bind(request, &args); err != nil {
		return nil, err
	}
	p, err := s.lookupProject(ctx, args.Project)
	if err != nil {
		return nil, err
	}

	if id := strings.TrimSpace(args.ID); id != "" {
		c, err := s.contexts.GetContext(ctx, id)
		if err != nil {
			return nil, err
		}
		if c.ProjectID != p.ID {
			return nil, types.NewNotFoundError("context", id)
		}
		if err := s.contexts.DeleteContext(ctx, id); err != nil {
			return nil, err
		}
		return contextDeleteResponse{Deleted: 1}, nil
	}

	n, err := s.contexts.DeleteContexts(ctx, contexts.DeleteRequest{
		ProjectID: p.ID,
		Filters:   args.filters(),
		All:       args.All,
	})
	if err != nil {
		return nil, err
	}
	return contextDeleteResponse{Deleted: n}, nil
}

func (s *Server) handleContextBackfill(ctx context.Context, request mcp.CallToolRequest) (interface{}, error) {
	if s.backfill == nil {
		return nil, errEmbeddingUnavailable
	}
	stats, err := s.backfill.Run(ctx)
	if err != nil {
		return nil, err
	}
	return backfillResponse{Statistics: stats, DurationMS: stats.Duration.Milliseconds()}, nil
}

// Naming registry

func (s *Server) handleNamingRegister(ctx context.Context, request mcp.CallToolRequest) (interface{}, error) {
	var args struct {
		Project          string           `json:"project"`
		EntityType       types.EntityType `json:"entityType"`
		CanonicalName    string           `json:"canonicalName"`
		Aliases          []string         `json:"aliases"`
		Description      string           `json:"description"`
		NamingConvention string           `json:"namingConvention"`
	}
	if err := bind(request, &args); err != nil {
		return nil, err
	}
	if !args.EntityType.Valid() {
		return nil, types.NewValidationError("entityType", "unknown entity type %q", args.EntityType)
	}
	if _, err := requireString("canonicalName", args.CanonicalName); err != nil {
		return nil, err
	}
	p, _, err := s.ensureProject(ctx, args.Project)
	if err != nil {
		return nil, err
	}
	return s.naming.Register(ctx, naming.RegisterRequest{
		ProjectID:        p.ID,
		EntityType:       args.EntityType,
		CanonicalName:    args.CanonicalName,
		Aliases:          args.Aliases,
		Description:      args.Description,
		NamingConvention: args.NamingConvention,
	})
}

func (s *Server) handleNamingCheck(ctx context.Context, request mcp.CallToolRequest) (interface{}, error) {
	var args struct {
		Project       string           `json:"project"`
		EntityType    types.EntityType `json:"entityType"`
		CandidateName string           `json:"candidateName"`
	}
	if err := bind(request, &args); err != nil {
		return nil, err
	}
	p, err := s.lookupProject(ctx, args.Project)
	if err != nil {
		return nil, err
	}
	return s.naming.Check(ctx, p.ID, args.EntityType, args.CandidateName)
}

func (s *Server) handleNamingSuggest(ctx context.Context, request mcp.CallToolRequest) (interface{}, error) {
	var args struct {
		Project     string           `json:"project"`
		EntityType  types.EntityType `json:"entityType"`
		PartialName string           `json:"partialName"`
		Limit       int              `json:"limit"`
	}
	if err := bind(request, &args); err != nil {
		return nil, err
	}
	p, err := s.lookupProject(ctx, args.Project)
	if err != nil {
		return nil, err
	}
	suggestions, err := s.naming.Suggest(ctx, p.ID, args.EntityType, args.PartialName, args.Limit)
	if err != nil {
		return nil, err
	}
	resp := suggestResponse{
		Suggestions: make([]string, 0, len(suggestions)),
		Entries:     make([]*types.NamingEntry, 0, len(suggestions)),
	}
	for _, sg := range suggestions {
		resp.Suggestions = append(resp.Suggestions, sg.CanonicalName)
		resp.Entries = append(resp.Entries, sg.Entry)
	}
	return resp, nil
}

func (s *Server) handleNamingDeprecate(ctx context.Context, request mcp.CallToolRequest) (interface{}, error) {
	var args struct {
		Project       string `json:"project"`
		EntryID       string `json:"entryId"`
		ReplacementID string `json:"replacementId"`
		Reason        string `json:"reason"`
	}
	if err := bind(request, &args); err != nil {
		return nil, err
	}
	p, err := s.lookupProject(ctx, args.Project)
	if err != nil {
		return nil, err
	}
	id, err := requireString("entryId", args.EntryID)
	if err != nil {
		return nil, err
	}
	entry, err := s.naming.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if entry.ProjectID != p.ID {
		return nil, types.NewNotFoundError("naming entry", id)
	}
	entry, err = s.naming.Deprecate(ctx, naming.DeprecateRequest{
		EntryID:       id,
		ReplacementID: strings.TrimSpace(args.ReplacementID),
		Reason:        args.Reason,
	})
	if err != nil {
		return nil, err
	}
	return namingEntryResponse{Entry: entry}, nil
}

func (s *Server) handleNamingList(ctx context.Context, request mcp.CallToolRequest) (interface{}, error) {
	var args struct {
		Project    string           `json:"project"`
		EntityType types.EntityType `json:"entityType"`
	}
	if err := bind(request, &args); err != nil {
		return nil, err
	}
	p, err := s.lookupProject(ctx, args.Project)
	if err != nil {
		return nil, err
	}
	entries, err := s.naming.List(ctx, p.ID, args.EntityType)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []*types.NamingEntry{}
	}
	return namingListResponse{Entries: entries}, nil
}

func (s *Server) handleNamingStats(ctx context.Context, request mcp.CallToolRequest) (interface{}, error) {
	var args struct {
		Project string `json:"project"`
	}
	if err := bind(request, &args); err != nil {
		return nil, err
	}
	projectID, err := s.optionalProjectID(ctx, args.Project)
	if err != nil {
		return nil, err
	}
	return s.naming.Stats(ctx, projectID)
}

// Decision ledger

func (s *Server) handleDecisionRecord(ctx context.Context, request mcp.CallToolRequest) (interface{}, error) {
	var args struct {
		Project      string              `json:"project"`
		SessionID    string              `json:"sessionId"`
		DecisionType types.DecisionType  `json:"decisionType"`
		Title        string              `json:"title"`
		Description  string              `json:"description"`
		Rationale    string              `json:"rationale"`
		Alternatives []types.Alternative `json:"alternatives"`
		ImpactLevel  types.ImpactLevel   `json:"impactLevel"`
		Tags         []string            `json:"tags"`
	}
	if err := bind(request, &args); err != nil {
		return nil, err
	}
	if !args.DecisionType.Valid() {
		return nil, types.NewValidationError("decisionType", "unknown decision type %q", args.DecisionType)
	}
	p, _, err := s.ensureProject(ctx, args.Project)
	if err != nil {
		return nil, err
	}
	d, err := s.decisions.Record(ctx, decisions.RecordRequest{
		ProjectID:    p.ID,
		SessionID:    strings.TrimSpace(args.SessionID),
		DecisionType: args.DecisionType,
		Title:        args.Title,
		Description:  args.Description,
		Rationale:    args.Rationale,
		Alternatives: args.Alternatives,
		ImpactLevel:  args.ImpactLevel,
		Tags:         types.NormalizeTags(args.Tags),
	})
	if err != nil {
		return nil, err
	}
	return decisionResponse{Decision: d}, nil
}

func (s *Server) handleDecisionSearch(ctx context.Context, request mcp.CallToolRequest) (interface{}, error) {
	var args struct {
		Project      string               `json:"project"`
		DecisionType types.DecisionType   `json:"decisionType"`
		Status       types.DecisionStatus `json:"status"`
		ImpactLevel  types.ImpactLevel    `json:"impactLevel"`
		Tags         []string             `json:"tags"`
		TextQuery    string               `json:"textQuery"`
		Limit        int                  `json:"limit"`
	}
	if err := bind(request, &args); err != nil {
		return nil, err
	}
	p, err := s.lookupProject(ctx, args.Project)
	if err != nil {
		return nil, err
	}
	found, err := s.decisions.Search(ctx, p.ID, storage.DecisionFilters{
		DecisionType: args.DecisionType,
		Status:       args.Status,
		ImpactLevel:  args.ImpactLevel,
		Tags:         args.Tags,
		TextQuery:    strings.TrimSpace(args.TextQuery),
		Limit:        args.Limit,
	})
	if err != nil {
		return nil, err
	}
	return decisionListResponse{Decisions: found}, nil
}

func (s *Server) handleDecisionUpdate(ctx context.Context, request mcp.CallToolRequest) (interface{}, error) {
	var args struct {
		Project        string                `json:"project"`
		DecisionID     string                `json:"decisionId"`
		ExpectedStatus types.DecisionStatus  `json:"expectedStatus"`
		Status         *types.DecisionStatus `json:"status"`
		SupersededBy   *string               `json:"supersededBy"`
		OutcomeStatus  *types.OutcomeStatus  `json:"outcomeStatus"`
		OutcomeNotes   *string               `json:"outcomeNotes"`
		LessonsLearned *string               `json:"lessonsLearned"`
	}
	if err := bind(request, &args); err != nil {
		return nil, err
	}
	p, err := s.lookupProject(ctx, args.Project)
	if err != nil {
		return nil, err
	}
	id, err := requireString("decisionId", args.DecisionID)
	if err != nil {
		return nil, err
	}
	current, err := s.decisions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.ProjectID != p.ID {
		return nil, types.NewNotFoundError("decision", id)
	}

	d, err := s.decisions.Update(ctx, decisions.UpdateRequest{
		DecisionID:     id,
		ExpectedStatus: args.ExpectedStatus,
		Status:         args.Status,
		SupersededBy:   args.SupersededBy,
		OutcomeStatus:  args.OutcomeStatus,
		OutcomeNotes:   args.OutcomeNotes,
		LessonsLearned: args.LessonsLearned,
	})
	if err != nil {
		return nil, err
	}
	return decisionResponse{Decision: d}, nil
}

func (s *Server) handleDecisionStats(ctx context.Context, request mcp.CallToolRequest) (interface{}, error) {
	var args struct {
		Project string `json:"project"`
	}
	if err := bind(request, &args); err != nil {
		return nil, err
	}
	projectID, err := s.optionalProjectID(ctx, args.Project)
	if err != nil {
		return nil, err
	}
	return s.decisions.Stats(ctx, projectID)
}
