// Package mcp implements the Model Context Protocol (MCP) server for devmemory.
//
// The server exposes the memory store, the naming registry and the decision
// ledger to AI coding agents as tools:
//
//   - project_list, project_create, project_archive
//   - session_start, session_end
//   - context_store, context_search, context_get_recent, context_stats,
//     context_delete, context_backfill
//   - naming_register, naming_check, naming_suggest, naming_deprecate, naming_list,
//     naming_stats
//   - decision_record, decision_search, decision_update, decision_stats
//
// Every tool names its project explicitly with the "project" argument; the
// server keeps no notion of a current project. Write tools create the project
// on first use, read tools report it as not found. The stats tools aggregate
// over every project when the argument is omitted.
//
// # Transports
//
// The server speaks MCP over stdio (the default, used by desktop agents) or
// streamable HTTP on HTTPEndpoint:
//
//	devmemory serve
//	devmemory serve --transport http --addr :8080
//
// # Responses
//
// Successful calls return a single text content holding the JSON encoding of
// a typed response. Failed calls return a tool error whose text is a JSON
// MCPError:
//
//	{
//	  "code": -32005,
//	  "message": "decision supersession chain would form a cycle: b -> a -> b",
//	  "data": {"chain": ["b", "a", "b"]}
//	}
//
// Error codes:
//
//	-32602  invalid parameters (validation)
//	-32603  internal error
//	-32001  project, session, context, entry or decision not found
//	-32002  no embedding provider configured
//	-32003  embedding dimension mismatch
//	-32004  empty search query
//	-32005  cycle in a replacement or supersession chain
//	-32006  decision status changed concurrently
//	-32007  decision status transition not allowed
//
// A naming conflict is not an error: naming_register succeeds and reports
// conflict=true with the look-alike entries.
//
// # Tool: context_store
//
//	Request:
//	{
//	  "name": "context_store",
//	  "arguments": {
//	    "project": "devmemory",
//	    "type": "code",
//	    "content": "PostgreSQL database setup with pgvector for vector search",
//	    "tags": ["postgresql", "pgvector"]
//	  }
//	}
//
//	Response:
//	{
//	  "id": "0b6c...",
//	  "contextType": "code",
//	  "tags": ["pgvector", "postgresql"],
//	  "relevanceScore": 5,
//	  "embedded": true,
//	  "createdAt": "2025-01-02T15:04:05Z"
//	}
//
// "embedded": false means the provider was slow or down; the backfill job
// fills the embedding in later and the context is found by full-text search
// meanwhile.
//
// # Tool: context_search
//
//	Request:
//	{
//	  "name": "context_search",
//	  "arguments": {
//	    "project": "devmemory",
//	    "query": "database setup",
//	    "minSimilarity": 0.3,
//	    "limit": 5
//	  }
//	}
//
//	Response:
//	{
//	  "query": "database setup",
//	  "mode": "vector",
//	  "degraded": false,
//	  "totalResults": 1,
//	  "results": [
//	    {"id": "0b6c...", "rank": 1, "contextType": "code", "similarityPercent": 71, ...}
//	  ]
//	}
//
// # Deprecated names
//
// Earlier tool names (store_context, search_context, register_name, ...)
// remain registered as aliases of their replacements. They share the
// replacement's handler and log a warning on every call.
package mcp
