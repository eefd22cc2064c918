package mcp

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"sort"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"

	"github.com/dshills/devmemory-mcp/internal/backfill"
	"github.com/dshills/devmemory-mcp/internal/contexts"
	"github.com/dshills/devmemory-mcp/internal/decisions"
	"github.com/dshills/devmemory-mcp/internal/naming"
	"github.com/dshills/devmemory-mcp/internal/searcher"
	"github.com/dshills/devmemory-mcp/internal/storage"
)

const (
	// ServerName is the MCP server name
	ServerName = "devmemory-mcp"

	// HTTPEndpoint is the streamable HTTP path
	HTTPEndpoint = "/mcp"

	shutdownTimeout = 5 * time.Second
)

// Services are the application services exposed as tools
type Services struct {
	Storage   storage.Storage
	Contexts  *contexts.Store
	Searcher  *searcher.Searcher
	Naming    *naming.Registry
	Decisions *decisions.Ledger

	// Backfill may be nil when no embedding provider is configured
	Backfill *backfill.Job
}

// Server wraps the MCP server with application dependencies
type Server struct {
	mcp       *server.MCPServer
	storage   storage.Storage
	contexts  *contexts.Store
	searcher  *searcher.Searcher
	naming    *naming.Registry
	decisions *decisions.Ledger
	backfill  *backfill.Job
	logger    zerolog.Logger
	version   string

	// includeUnembedded is the context_search default when the caller omits it
	includeUnembedded bool

	// handlers holds the dispatch function of every registered name,
	// deprecated aliases included
	handlers map[string]server.ToolHandlerFunc
}

// Option configures a Server
type Option func(*Server)

// WithLogger sets the server logger
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithVersion sets the version reported to clients
func WithVersion(version string) Option {
	return func(s *Server) { s.version = version }
}

// WithIncludeUnembedded sets whether context_search ranks rows without an
// embedding last instead of skipping them, unless the call says otherwise
func WithIncludeUnembedded(include bool) Option {
	return func(s *Server) { s.includeUnembedded = include }
}

// NewServer creates the MCP server and registers every tool
func NewServer(svc Services, opts ...Option) (*Server, error) {
	if svc.Storage == nil || svc.Contexts == nil || svc.Searcher == nil || svc.Naming == nil || svc.Decisions == nil {
		return nil, errors.New("mcp: storage, contexts, searcher, naming and decisions are required")
	}

	s := &Server{
		storage:   svc.Storage,
		contexts:  svc.Contexts,
		searcher:  svc.Searcher,
		naming:    svc.Naming,
		decisions: svc.Decisions,
		backfill:  svc.Backfill,
		logger:    zerolog.Nop(),
		version:   "dev",
		handlers:  make(map[string]server.ToolHandlerFunc),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.mcp = server.NewMCPServer(
		ServerName,
		s.version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions(instructions),
	)

	if err := s.registerTools(); err != nil {
		return nil, fmt.Errorf("failed to register tools: %w", err)
	}
	return s, nil
}

const instructions = `Persistent development memory. Every tool takes the project name explicitly.
Store decisions, errors and plans with context_store and recall them with context_search.
Register identifiers with naming_register and check new names with naming_check before using them.
Record architectural choices with decision_record; supersede them with decision_update.`

// MCPServer exposes the underlying server, for tests and custom transports
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

// ServeStdio serves MCP over stdin/stdout until ctx is cancelled or stdin closes
func (s *Server) ServeStdio(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(log.New(s.logger, "", 0))
	s.logger.Info().Str("transport", "stdio").Int("tools", len(s.handlers)).Msg("serving")
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// ServeHTTP serves MCP over streamable HTTP on addr until ctx is cancelled
func (s *Server) ServeHTTP(ctx context.Context, addr string) error {
	httpServer := server.NewStreamableHTTPServer(s.mcp, server.WithEndpointPath(HTTPEndpoint))

	errCh := make(chan error, 1)
	go func() { errCh <- httpServer.Start(addr) }()
	s.logger.Info().Str("transport", "http").Str("addr", addr).Str("path", HTTPEndpoint).Msg("serving")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	}
}

// handlerFunc produces a typed response that dispatch encodes as JSON
type handlerFunc func(s *Server, ctx context.Context, req mcp.CallToolRequest) (interface{}, error)

// capability is one tool: its definition, its handler and the legacy names
// that still route to it
type capability struct {
	tool       mcp.Tool
	handle     handlerFunc
	deprecated []string
}

// capabilities is the single table every tool is registered from
func capabilities() []capability {
	return []capability{
		{tool: projectListTool(), handle: (*Server).handleProjectList},
		{tool: projectCreateTool(), handle: (*Server).handleProjectCreate},
		{tool: projectArchiveTool(), handle: (*Server).handleProjectArchive},
		{tool: sessionStartTool(), handle: (*Server).handleSessionStart},
		{tool: sessionEndTool(), handle: (*Server).handleSessionEnd},

		{tool: contextStoreTool(), handle: (*Server).handleContextStore, deprecated: []string{"store_context", "memory_store"}},
		{tool: contextSearchTool(), handle: (*Server).handleContextSearch, deprecated: []string{"search_context", "memory_search"}},
		{tool: contextGetRecentTool(), handle: (*Server).handleContextGetRecent, deprecated: []string{"get_recent_contexts"}},
		{tool: contextStatsTool(), handle: (*Server).handleContextStats, deprecated: []string{"get_context_stats"}},
		{tool: contextDeleteTool(), handle: (*Server).handleContextDelete},
		{tool: contextBackfillTool(), handle: (*Server).handleContextBackfill},

		{tool: namingRegisterTool(), handle: (*Server).handleNamingRegister, deprecated: []string{"register_name"}},
		{tool: namingCheckTool(), handle: (*Server).handleNamingCheck, deprecated: []string{"check_name"}},
		{tool: namingSuggestTool(), handle: (*Server).handleNamingSuggest, deprecated: []string{"suggest_names"}},
		{tool: namingDeprecateTool(), handle: (*Server).handleNamingDeprecate},
		{tool: namingListTool(), handle: (*Server).handleNamingList},
		{tool: namingStatsTool(), handle: (*Server).handleNamingStats},

		{tool: decisionRecordTool(), handle: (*Server).handleDecisionRecord, deprecated: []string{"record_decision"}},
		{tool: decisionSearchTool(), handle: (*Server).handleDecisionSearch, deprecated: []string{"search_decisions"}},
		{tool: decisionUpdateTool(), handle: (*Server).handleDecisionUpdate, deprecated: []string{"update_decision"}},
		{tool: decisionStatsTool(), handle: (*Server).handleDecisionStats},
	}
}

// registerTools registers every capability and its deprecated aliases
func (s *Server) registerTools() error {
	for _, c := range capabilities() {
		if err := s.addTool(c.tool, c.handle, ""); err != nil {
			return err
		}
		for _, legacy := range c.deprecated {
			alias := c.tool
			alias.Name = legacy
			alias.Description = fmt.Sprintf("Deprecated: use %s. %s", c.tool.Name, c.tool.Description)
			if err := s.addTool(alias, c.handle, c.tool.Name); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Server) addTool(tool mcp.Tool, handle handlerFunc, replacement string) error {
	if _, dup := s.handlers[tool.Name]; dup {
		return fmt.Errorf("tool %s registered twice", tool.Name)
	}
	h := s.dispatch(tool.Name, handle, replacement)
	s.handlers[tool.Name] = h
	s.mcp.AddTool(tool, h)
	return nil
}

// ToolNames lists every registered name, deprecated aliases included
func (s *Server) ToolNames() []string {
	names := make([]string, 0, len(s.handlers))
	for name := range s.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// dispatch is the one path every tool call goes through. Handler errors are
// mapped to coded tool errors so the calling agent can react to them.
func (s *Server) dispatch(name string, handle handlerFunc, replacement string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if replacement != "" {
			s.logger.Warn().Str("tool", name).Str("replacement", replacement).Msg("deprecated tool name called")
		}

		start := time.Now()
		resp, err := handle(s, ctx, req)
		if err != nil {
			mcpErr := toMCPError(err)
			event := s.logger.Warn()
			if mcpErr.Code == ErrorCodeInternalError {
				event = s.logger.Error()
			}
			event.Err(err).Str("tool", name).Int("code", mcpErr.Code).Dur("duration", time.Since(start)).Msg("tool call failed")
			return mcp.NewToolResultError(formatJSON(mcpErr)), nil
		}

		s.logger.Debug().Str("tool", name).Dur("duration", time.Since(start)).Msg("tool call")
		return mcp.NewToolResultText(formatJSON(resp)), nil
	}
}
