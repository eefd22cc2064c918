package mcp

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/devmemory-mcp/internal/backfill"
	"github.com/dshills/devmemory-mcp/internal/contexts"
	"github.com/dshills/devmemory-mcp/internal/decisions"
	"github.com/dshills/devmemory-mcp/internal/embedder"
	"github.com/dshills/devmemory-mcp/internal/naming"
	"github.com/dshills/devmemory-mcp/internal/searcher"
	"github.com/dshills/devmemory-mcp/internal/storage"
	"github.com/dshills/devmemory-mcp/pkg/types"
)

const testDim = 384

func newTestServer(t *testing.T, withBackfill bool, opts ...Option) (*Server, *storage.SQLiteStorage) {
	t.Helper()
	ctx := context.Background()

	st, err := storage.NewSQLiteStorage(ctx, ":memory:", testDim)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	emb, err := embedder.NewService(embedder.NewLocalProvider(testDim, nil), testDim, 0)
	require.NoError(t, err)

	svc := Services{
		Storage:   st,
		Contexts:  contexts.NewStore(st, emb, time.Second),
		Searcher:  searcher.NewSearcher(st, emb),
		Naming:    naming.NewRegistry(st, zerolog.Nop()),
		Decisions: decisions.NewLedger(st, zerolog.Nop()),
	}
	if withBackfill {
		svc.Backfill = backfill.New(st, emb, backfill.Config{})
	}

	s, err := NewServer(svc, opts...)
	require.NoError(t, err)
	return s, st
}

func call(t *testing.T, s *Server, name string, args map[string]interface{}) *mcp.CallToolResult {
	t.Helper()
	handler, ok := s.handlers[name]
	require.True(t, ok, "tool %s not registered", name)

	var req mcp.CallToolRequest
	req.Params.Name = name
	req.Params.Arguments = args
	res, err := handler(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, res)
	require.Len(t, res.Content, 1)
	return res
}

func text(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	content, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return content.Text
}

func callOK[T any](t *testing.T, s *Server, name string, args map[string]interface{}) T {
	t.Helper()
	res := call(t, s, name, args)
	require.False(t, res.IsError, text(t, res))
	var out T
	require.NoError(t, json.Unmarshal([]byte(text(t, res)), &out))
	return out
}

func callErr(t *testing.T, s *Server, name string, args map[string]interface{}) MCPError {
	t.Helper()
	res := call(t, s, name, args)
	require.True(t, res.IsError, text(t, res))
	var out MCPError
	require.NoError(t, json.Unmarshal([]byte(text(t, res)), &out))
	return out
}

func TestCapabilities(t *testing.T) {
	caps := capabilities()
	require.Len(t, caps, 21)

	seen := map[string]bool{}
	for _, c := range caps {
		require.NotEmpty(t, c.tool.Name)
		require.NotNil(t, c.handle)
		assert.False(t, seen[c.tool.Name], "duplicate tool %s", c.tool.Name)
		seen[c.tool.Name] = true
		for _, legacy := range c.deprecated {
			assert.False(t, seen[legacy], "duplicate tool %s", legacy)
			seen[legacy] = true
		}
	}

	s, _ := newTestServer(t, false)
	assert.Len(t, s.ToolNames(), len(seen))
	for name := range seen {
		assert.Contains(t, s.ToolNames(), name)
	}
}

func TestNewServer_RequiresServices(t *testing.T) {
	_, err := NewServer(Services{})
	assert.Error(t, err)
}

func TestContextStoreAndSearch(t *testing.T) {
	s, _ := newTestServer(t, false)

	stored := callOK[contextStoreResponse](t, s, "context_store", map[string]interface{}{
		"project": "memory",
		"type":    "code",
		"content": "PostgreSQL database setup with pgvector for vector search",
		"tags":    []string{"postgresql", "pgvector"},
	})
	assert.NotEmpty(t, stored.ID)
	assert.True(t, stored.Embedded)
	assert.Equal(t, []string{"pgvector", "postgresql"}, stored.Tags)
	assert.Equal(t, types.DefaultRelevanceScore, stored.RelevanceScore)

	callOK[contextStoreResponse](t, s, "context_store", map[string]interface{}{
		"project": "memory",
		"type":    "planning",
		"content": "Phase 2 roadmap for context management",
	})

	found := callOK[contextSearchResponse](t, s, "context_search", map[string]interface{}{
		"project": "memory",
		"query":   "database setup",
	})
	require.Len(t, found.Results, 2)
	assert.False(t, found.Degraded)
	assert.Equal(t, "vector", found.Mode)
	assert.Equal(t, stored.ID, found.Results[0].ID)
	assert.Equal(t, 1, found.Results[0].Rank)
	assert.GreaterOrEqual(t, found.Results[0].SimilarityPercent, found.Results[1].SimilarityPercent)

	filtered := callOK[contextSearchResponse](t, s, "context_search", map[string]interface{}{
		"project": "memory",
		"query":   "database setup",
		"type":    "planning",
	})
	require.Len(t, filtered.Results, 1)
	assert.Equal(t, "planning", filtered.Results[0].ContextType)

	recent := callOK[contextListResponse](t, s, "context_get_recent", map[string]interface{}{
		"project": "memory",
		"limit":   1,
	})
	require.Len(t, recent.Contexts, 1)

	stats := callOK[types.ContextStats](t, s, "context_stats", map[string]interface{}{"project": "memory"})
	assert.Equal(t, 2, stats.TotalContexts)
	assert.Equal(t, 2, stats.EmbeddedContexts)
	assert.Equal(t, 2, stats.RecentContexts)
	assert.Equal(t, 1, stats.ContextsByType[types.ContextCode])
}

func TestContextStore_RejectsBeforeCreatingProject(t *testing.T) {
	s, _ := newTestServer(t, false)

	tests := []struct {
		name string
		args map[string]interface{}
	}{
		{"score too high", map[string]interface{}{"project": "p", "type": "code", "content": "x", "relevanceScore": 11}},
		{"score negative", map[string]interface{}{"project": "p", "type": "code", "content": "x", "relevanceScore": -1}},
		{"blank content", map[string]interface{}{"project": "p", "type": "code", "content": "   "}},
		{"unknown type", map[string]interface{}{"project": "p", "type": "gossip", "content": "x"}},
		{"missing project", map[string]interface{}{"type": "code", "content": "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := callErr(t, s, "context_store", tt.args)
			assert.Equal(t, ErrorCodeInvalidParams, e.Code)
		})
	}

	projects := callOK[projectListResponse](t, s, "project_list", nil)
	assert.Empty(t, projects.Projects)
}

func TestReadTools_UnknownProject(t *testing.T) {
	s, _ := newTestServer(t, false)

	for _, name := range []string{"context_get_recent", "naming_check", "decision_search"} {
		t.Run(name, func(t *testing.T) {
			e := callErr(t, s, name, map[string]interface{}{
				"project":       "nope",
				"entityType":    "function",
				"candidateName": "x",
			})
			assert.Equal(t, ErrorCodeNotFound, e.Code)
		})
	}

	e := callErr(t, s, "context_search", map[string]interface{}{"project": "nope", "query": "x"})
	assert.Equal(t, ErrorCodeNotFound, e.Code)
}

func TestContextSearch_EmptyQuery(t *testing.T) {
	s, _ := newTestServer(t, false)
	e := callErr(t, s, "context_search", map[string]interface{}{"project": "memory", "query": " "})
	assert.Equal(t, ErrorCodeEmptyQuery, e.Code)
}

func TestContextDelete(t *testing.T) {
	s, _ := newTestServer(t, false)
	for _, content := range []string{"one", "two", "three"} {
		callOK[contextStoreResponse](t, s, "context_store", map[string]interface{}{
			"project": "memory", "type": "discussion", "content": content, "tags": []string{content},
		})
	}

	e := callErr(t, s, "context_delete", map[string]interface{}{"project": "memory"})
	assert.Equal(t, ErrorCodeInvalidParams, e.Code)

	deleted := callOK[contextDeleteResponse](t, s, "context_delete", map[string]interface{}{
		"project": "memory", "tags": []string{"two"},
	})
	assert.Equal(t, 1, deleted.Deleted)

	deleted = callOK[contextDeleteResponse](t, s, "context_delete", map[string]interface{}{
		"project": "memory", "all": true,
	})
	assert.Equal(t, 2, deleted.Deleted)
}

func TestContextBackfill(t *testing.T) {
	s, _ := newTestServer(t, false)
	e := callErr(t, s, "context_backfill", nil)
	assert.Equal(t, ErrorCodeEmbeddingUnavailable, e.Code)

	s, _ = newTestServer(t, true)
	stats := callOK[backfill.Statistics](t, s, "context_backfill", nil)
	assert.Zero(t, stats.Scanned)
	assert.Zero(t, stats.Embedded)
}

func TestContextSearch_IncludeUnembedded(t *testing.T) {
	ctx := context.Background()
	s, st := newTestServer(t, false, WithIncludeUnembedded(true))

	created := callOK[projectResponse](t, s, "project_create", map[string]interface{}{"project": "memory"})
	require.NoError(t, st.InsertContext(ctx, &types.Context{
		ID:             "pending",
		ProjectID:      created.Project.ID,
		Type:           types.ContextDiscussion,
		Content:        "cache invalidation notes",
		RelevanceScore: 5,
	}))

	args := map[string]interface{}{"project": "memory", "query": "cache invalidation", "mode": "vector"}
	resp := callOK[contextSearchResponse](t, s, "context_search", args)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "pending", resp.Results[0].ID)
	assert.Zero(t, resp.Results[0].Similarity)

	args["includeUnembedded"] = false
	resp = callOK[contextSearchResponse](t, s, "context_search", args)
	assert.Empty(t, resp.Results)
}

func TestSessionLifecycle(t *testing.T) {
	s, _ := newTestServer(t, false)

	started := callOK[sessionResponse](t, s, "session_start", map[string]interface{}{
		"project": "memory", "agentType": "claude",
	})
	require.NotNil(t, started.Session)
	assert.Nil(t, started.Session.EndedAt)

	stored := callOK[contextStoreResponse](t, s, "context_store", map[string]interface{}{
		"project": "memory", "type": "error", "content": "nil map write", "sessionId": started.Session.ID,
	})
	assert.NotEmpty(t, stored.ID)

	ended := callOK[sessionResponse](t, s, "session_end", map[string]interface{}{
		"project": "memory", "sessionId": started.Session.ID,
	})
	require.NotNil(t, ended.Session.EndedAt)
	assert.False(t, ended.Session.EndedAt.Before(ended.Session.StartedAt))

	callOK[projectResponse](t, s, "project_create", map[string]interface{}{"project": "other"})
	e := callErr(t, s, "session_end", map[string]interface{}{
		"project": "other", "sessionId": started.Session.ID,
	})
	assert.Equal(t, ErrorCodeNotFound, e.Code)
}

func TestProjects(t *testing.T) {
	s, _ := newTestServer(t, false)

	created := callOK[projectResponse](t, s, "project_create", map[string]interface{}{
		"project": "alpha", "description": "first",
	})
	assert.True(t, created.Created)
	assert.Equal(t, types.ProjectActive, created.Project.Status)

	again := callOK[projectResponse](t, s, "project_create", map[string]interface{}{"project": "alpha"})
	assert.False(t, again.Created)
	assert.Equal(t, created.Project.ID, again.Project.ID)

	archived := callOK[projectResponse](t, s, "project_archive", map[string]interface{}{"project": "alpha"})
	assert.Equal(t, types.ProjectArchived, archived.Project.Status)

	list := callOK[projectListResponse](t, s, "project_list", map[string]interface{}{"status": "archived"})
	require.Len(t, list.Projects, 1)
	list = callOK[projectListResponse](t, s, "project_list", map[string]interface{}{"status": "active"})
	assert.Empty(t, list.Projects)
}

func TestNamingTools(t *testing.T) {
	s, st := newTestServer(t, false)
	args := map[string]interface{}{
		"project":       "MyProject",
		"entityType":    "function",
		"canonicalName": "generateEmbedding",
	}

	first := callOK[naming.RegisterResult](t, s, "naming_register", args)
	assert.True(t, first.Created)
	assert.False(t, first.Conflict)

	second := callOK[naming.RegisterResult](t, s, "naming_register", args)
	assert.False(t, second.Conflict)
	assert.Equal(t, 2, second.Entry.UsageCount)
	assert.Equal(t, first.Entry.ID, second.Entry.ID)

	var rows int
	require.NoError(t, st.DB().QueryRow(
		"SELECT count(*) FROM naming_registry WHERE entity_type = 'function' AND canonical_name = 'generateEmbedding'",
	).Scan(&rows))
	assert.Equal(t, 1, rows)

	look := callOK[naming.RegisterResult](t, s, "naming_register", map[string]interface{}{
		"project":       "MyProject",
		"entityType":    "function",
		"canonicalName": "generate_embedding",
	})
	assert.True(t, look.Conflict)
	require.NotEmpty(t, look.Matches)
	assert.Equal(t, first.Entry.ID, look.Matches[0].Entry.ID)

	check := callOK[naming.CheckResult](t, s, "naming_check", map[string]interface{}{
		"project": "MyProject", "entityType": "function", "candidateName": "generateEmbedding",
	})
	assert.False(t, check.Available)

	suggested := callOK[suggestResponse](t, s, "naming_suggest", map[string]interface{}{
		"project": "MyProject", "entityType": "function", "partialName": "gener",
	})
	require.NotEmpty(t, suggested.Suggestions)
	assert.Equal(t, "generateEmbedding", suggested.Suggestions[0])

	deprecated := callOK[namingEntryResponse](t, s, "naming_deprecate", map[string]interface{}{
		"project": "MyProject", "entryId": look.Entry.ID, "replacementId": first.Entry.ID, "reason": "snake case",
	})
	assert.True(t, deprecated.Entry.Deprecated)

	e := callErr(t, s, "naming_deprecate", map[string]interface{}{
		"project": "MyProject", "entryId": first.Entry.ID, "replacementId": look.Entry.ID, "reason": "loop",
	})
	assert.Equal(t, ErrorCodeCycle, e.Code)

	listed := callOK[namingListResponse](t, s, "naming_list", map[string]interface{}{
		"project": "MyProject", "entityType": "function",
	})
	require.Len(t, listed.Entries, 2)
	names := []string{listed.Entries[0].CanonicalName, listed.Entries[1].CanonicalName}
	assert.ElementsMatch(t, []string{"generateEmbedding", "generate_embedding"}, names)

	none := callOK[namingListResponse](t, s, "naming_list", map[string]interface{}{
		"project": "MyProject", "entityType": "class",
	})
	assert.Empty(t, none.Entries)

	e = callErr(t, s, "naming_list", map[string]interface{}{"project": "nobody"})
	assert.Equal(t, ErrorCodeNotFound, e.Code)

	stats := callOK[types.NamingStats](t, s, "naming_stats", map[string]interface{}{"project": "MyProject"})
	assert.Equal(t, 2, stats.TotalEntries)
	assert.Equal(t, 1, stats.DeprecatedEntries)
}

func TestDecisionTools(t *testing.T) {
	s, _ := newTestServer(t, false)
	record := func(title string) *types.Decision {
		resp := callOK[decisionResponse](t, s, "decision_record", map[string]interface{}{
			"project":      "memory",
			"decisionType": "database",
			"title":        title,
			"description":  "store for " + title,
			"rationale":    "because",
			"alternatives": []map[string]interface{}{{"name": "mysql", "cons": []string{"no vectors"}}},
			"impactLevel":  "high",
		})
		return resp.Decision
	}
	a := record("use postgres")
	b := record("use sqlite")
	assert.Equal(t, types.StatusActive, a.Status)
	require.Len(t, a.AlternativesConsidered, 1)

	superseded := callOK[decisionResponse](t, s, "decision_update", map[string]interface{}{
		"project": "memory", "decisionId": a.ID, "status": "superseded", "supersededBy": b.ID,
	})
	assert.Equal(t, types.StatusSuperseded, superseded.Decision.Status)

	e := callErr(t, s, "decision_update", map[string]interface{}{
		"project": "memory", "decisionId": b.ID, "status": "superseded", "supersededBy": a.ID,
	})
	assert.Equal(t, ErrorCodeCycle, e.Code)

	found := callOK[decisionListResponse](t, s, "decision_search", map[string]interface{}{
		"project": "memory", "status": "active",
	})
	require.Len(t, found.Decisions, 1)
	assert.Equal(t, b.ID, found.Decisions[0].ID)

	e = callErr(t, s, "decision_update", map[string]interface{}{
		"project": "memory", "decisionId": a.ID, "status": "active",
	})
	assert.Equal(t, ErrorCodeInvalidTransition, e.Code)

	e = callErr(t, s, "decision_update", map[string]interface{}{
		"project": "memory", "decisionId": b.ID, "expectedStatus": "under_review", "outcomeStatus": "successful",
	})
	assert.Equal(t, ErrorCodeStaleStatus, e.Code)

	stats := callOK[types.DecisionStats](t, s, "decision_stats", nil)
	assert.Equal(t, 2, stats.TotalDecisions)
	assert.Equal(t, 1, stats.ByStatus[types.StatusSuperseded])
}

func TestDeprecatedAlias(t *testing.T) {
	s, _ := newTestServer(t, false)

	stored := callOK[contextStoreResponse](t, s, "store_context", map[string]interface{}{
		"project": "memory", "type": "milestone", "content": "v1 shipped",
	})
	assert.NotEmpty(t, stored.ID)

	found := callOK[contextSearchResponse](t, s, "context_search", map[string]interface{}{
		"project": "memory", "query": "v1 shipped",
	})
	require.Len(t, found.Results, 1)
	assert.Equal(t, stored.ID, found.Results[0].ID)
}

func TestToMCPError(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{types.NewValidationError("limit", "bad"), ErrorCodeInvalidParams},
		{types.NewNotFoundError("project", "x"), ErrorCodeNotFound},
		{&types.CycleError{Kind: "naming replacement", Chain: []string{"a", "b", "a"}}, ErrorCodeCycle},
		{types.ErrStaleStatus, ErrorCodeStaleStatus},
		{types.ErrInvalidTransition, ErrorCodeInvalidTransition},
		{types.ErrDimensionMismatch, ErrorCodeDimensionMismatch},
		{errEmbeddingUnavailable, ErrorCodeEmbeddingUnavailable},
		{context.Canceled, ErrorCodeInternalError},
		{assert.AnError, ErrorCodeInternalError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.code, toMCPError(tt.err).Code, tt.err.Error())
	}
}

func TestBind_InvalidArguments(t *testing.T) {
	var req mcp.CallToolRequest
	req.Params.Arguments = "not an object"
	var target struct{}
	err := bind(req, &target)
	require.Error(t, err)
	assert.Equal(t, ErrorCodeInvalidParams, toMCPError(err).Code)

	req.Params.Arguments = map[string]interface{}{"limit": "ten"}
	var typed struct {
		Limit int `json:"limit"`
	}
	err = bind(req, &typed)
	require.Error(t, err)
	assert.Equal(t, ErrorCodeInvalidParams, toMCPError(err).Code)
}
