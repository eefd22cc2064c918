package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/devmemory-mcp/internal/searcher"
	"github.com/dshills/devmemory-mcp/pkg/types"
)

func enumOf[T ~string](values []T) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = string(v)
	}
	return out
}

var (
	contextTypeEnum  = enumOf(types.ContextTypes)
	entityTypeEnum   = enumOf(types.EntityTypes)
	decisionTypeEnum = enumOf(types.DecisionTypes)
	statusEnum       = []string{string(types.StatusActive), string(types.StatusUnderReview), string(types.StatusDeprecated), string(types.StatusSuperseded)}
	impactEnum       = []string{string(types.ImpactLow), string(types.ImpactMedium), string(types.ImpactHigh), string(types.ImpactCritical)}
	outcomeEnum      = []string{string(types.OutcomeUnknown), string(types.OutcomeSuccessful), string(types.OutcomeFailed), string(types.OutcomeMixed), string(types.OutcomeTooEarly)}
	projectEnum      = []string{string(types.ProjectActive), string(types.ProjectArchived), string(types.ProjectCompleted), string(types.ProjectPaused)}
	modeEnum         = []string{string(searcher.SearchModeVector), string(searcher.SearchModeKeyword), string(searcher.SearchModeHybrid)}
)

var stringItems = mcp.Items(map[string]interface{}{"type": "string"})

func projectArg(desc string) mcp.ToolOption {
	return mcp.WithString("project", mcp.Required(), mcp.Description(desc))
}

func optionalProjectArg() mcp.ToolOption {
	return mcp.WithString("project", mcp.Description("Project name; omit to aggregate over every project"))
}

// Projects and sessions

func projectListTool() mcp.Tool {
	return mcp.NewTool("project_list",
		mcp.WithDescription("List projects, optionally by status"),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithString("status", mcp.Description("Only projects in this status"), mcp.Enum(projectEnum...)),
	)
}

func projectCreateTool() mcp.Tool {
	return mcp.NewTool("project_create",
		mcp.WithDescription("Create a project. Returns the existing project when the name is taken."),
		projectArg("Unique project name"),
		mcp.WithString("description", mcp.Description("Free-form project description")),
	)
}

func projectArchiveTool() mcp.Tool {
	return mcp.NewTool("project_archive",
		mcp.WithDescription("Mark a project archived. Its memory stays readable."),
		projectArg("Project name"),
	)
}

func sessionStartTool() mcp.Tool {
	return mcp.NewTool("session_start",
		mcp.WithDescription("Start an agent working session in a project"),
		projectArg("Project name (created on first use)"),
		mcp.WithString("agentType", mcp.Description("Kind of agent, e.g. claude, codex, cursor")),
	)
}

func sessionEndTool() mcp.Tool {
	return mcp.NewTool("session_end",
		mcp.WithDescription("End a working session"),
		projectArg("Project name"),
		mcp.WithString("sessionId", mcp.Required(), mcp.Description("Session to end")),
	)
}

// Contexts

func contextStoreTool() mcp.Tool {
	return mcp.NewTool("context_store",
		mcp.WithDescription("Store a development context fragment. The embedding is computed inline or deferred to the backfill job when the provider is slow."),
		projectArg("Project name (created on first use)"),
		mcp.WithString("content", mcp.Required(), mcp.Description("Text to remember")),
		mcp.WithString("type", mcp.Required(), mcp.Description("Context type"), mcp.Enum(contextTypeEnum...)),
		mcp.WithArray("tags", mcp.Description("Tags; normalised to lower case"), stringItems),
		mcp.WithNumber("relevanceScore", mcp.Description("Importance from 0 to 10"), mcp.Min(0), mcp.Max(10), mcp.DefaultNumber(types.DefaultRelevanceScore)),
		mcp.WithString("sessionId", mcp.Description("Session the context belongs to")),
		mcp.WithObject("metadata", mcp.Description("Free-form key/value metadata")),
	)
}

func contextSearchTool() mcp.Tool {
	return mcp.NewTool("context_search",
		mcp.WithDescription("Search a project's contexts by meaning. Falls back to full-text ranking when similarity search is unavailable."),
		mcp.WithReadOnlyHintAnnotation(true),
		projectArg("Project name"),
		mcp.WithString("query", mcp.Required(), mcp.Description("Natural language or keyword query")),
		mcp.WithString("type", mcp.Description("Only this context type"), mcp.Enum(contextTypeEnum...)),
		mcp.WithArray("types", mcp.Description("Only these context types"), stringItems),
		mcp.WithArray("tags", mcp.Description("Match contexts carrying any of these tags"), stringItems),
		mcp.WithString("sessionId", mcp.Description("Only contexts from this session")),
		mcp.WithString("from", mcp.Description("Created at or after (RFC 3339)")),
		mcp.WithString("to", mcp.Description("Created at or before (RFC 3339)")),
		mcp.WithNumber("minSimilarity", mcp.Description("Drop results below this similarity (0-1)"), mcp.Min(0), mcp.Max(1)),
		mcp.WithBoolean("includeUnembedded", mcp.Description("Rank contexts without embeddings last instead of skipping them")),
		mcp.WithString("mode", mcp.Description("Ranking strategy"), mcp.Enum(modeEnum...), mcp.DefaultString(string(searcher.SearchModeVector))),
		mcp.WithNumber("limit", mcp.Description("Maximum results (1-100)"), mcp.Min(1), mcp.Max(searcher.MaxLimit), mcp.DefaultNumber(searcher.DefaultLimit)),
		mcp.WithNumber("offset", mcp.Description("Results to skip"), mcp.Min(0)),
	)
}

func contextGetRecentTool() mcp.Tool {
	return mcp.NewTool("context_get_recent",
		mcp.WithDescription("List a project's most recent contexts, newest first"),
		mcp.WithReadOnlyHintAnnotation(true),
		projectArg("Project name"),
		mcp.WithNumber("limit", mcp.Description("Maximum contexts (1-100)"), mcp.Min(1), mcp.Max(100), mcp.DefaultNumber(10)),
	)
}

func contextStatsTool() mcp.Tool {
	return mcp.NewTool("context_stats",
		mcp.WithDescription("Count contexts by type and embedding state"),
		mcp.WithReadOnlyHintAnnotation(true),
		optionalProjectArg(),
	)
}

func contextDeleteTool() mcp.Tool {
	return mcp.NewTool("context_delete",
		mcp.WithDescription("Delete one context by id, or every context matching the filters. Deleting a whole project's contexts requires all=true."),
		mcp.WithDestructiveHintAnnotation(true),
		projectArg("Project name"),
		mcp.WithString("id", mcp.Description("Context to delete")),
		mcp.WithArray("types", mcp.Description("Delete contexts of these types"), stringItems),
		mcp.WithArray("tags", mcp.Description("Delete contexts carrying any of these tags"), stringItems),
		mcp.WithString("sessionId", mcp.Description("Delete contexts from this session")),
		mcp.WithString("from", mcp.Description("Created at or after (RFC 3339)")),
		mcp.WithString("to", mcp.Description("Created at or before (RFC 3339)")),
		mcp.WithBoolean("all", mcp.Description("Delete every context in the project")),
	)
}

func contextBackfillTool() mcp.Tool {
	return mcp.NewTool("context_backfill",
		mcp.WithDescription("Embed contexts stored without an embedding. Runs once and reports counts; a run already in progress is not repeated."),
		mcp.WithIdempotentHintAnnotation(true),
	)
}

// Naming registry

func namingRegisterTool() mcp.Tool {
	return mcp.NewTool("naming_register",
		mcp.WithDescription("Register a canonical name. Re-registering bumps its usage; look-alike names are reported as conflicts but still stored."),
		projectArg("Project name (created on first use)"),
		mcp.WithString("entityType", mcp.Required(), mcp.Enum(entityTypeEnum...)),
		mcp.WithString("canonicalName", mcp.Required(), mcp.Description("The name to make canonical")),
		mcp.WithArray("aliases", mcp.Description("Other spellings that refer to the same entity"), stringItems),
		mcp.WithString("description", mcp.Description("What the entity is")),
		mcp.WithString("namingConvention", mcp.Description("Convention the name follows, e.g. camelCase")),
	)
}

func namingCheckTool() mcp.Tool {
	return mcp.NewTool("naming_check",
		mcp.WithDescription("Check whether a name is free before using it"),
		mcp.WithReadOnlyHintAnnotation(true),
		projectArg("Project name"),
		mcp.WithString("entityType", mcp.Required(), mcp.Enum(entityTypeEnum...)),
		mcp.WithString("candidateName", mcp.Required()),
	)
}

func namingSuggestTool() mcp.Tool {
	return mcp.NewTool("naming_suggest",
		mcp.WithDescription("Suggest existing canonical names matching a partial name"),
		mcp.WithReadOnlyHintAnnotation(true),
		projectArg("Project name"),
		mcp.WithString("entityType", mcp.Required(), mcp.Enum(entityTypeEnum...)),
		mcp.WithString("partialName", mcp.Required()),
		mcp.WithNumber("limit", mcp.Description("Maximum suggestions (1-50)"), mcp.Min(1), mcp.Max(50), mcp.DefaultNumber(10)),
	)
}

func namingDeprecateTool() mcp.Tool {
	return mcp.NewTool("naming_deprecate",
		mcp.WithDescription("Deprecate a canonical name, optionally pointing at its replacement"),
		projectArg("Project name"),
		mcp.WithString("entryId", mcp.Required()),
		mcp.WithString("replacementId", mcp.Description("Entry that replaces this one")),
		mcp.WithString("reason", mcp.Required()),
	)
}

func namingListTool() mcp.Tool {
	return mcp.NewTool("naming_list",
		mcp.WithDescription("List a project's registered names, most used first"),
		mcp.WithReadOnlyHintAnnotation(true),
		projectArg("Project name"),
		mcp.WithString("entityType", mcp.Description("Only entries of this type"), mcp.Enum(entityTypeEnum...)),
	)
}

func namingStatsTool() mcp.Tool {
	return mcp.NewTool("naming_stats",
		mcp.WithDescription("Aggregate naming registry counts"),
		mcp.WithReadOnlyHintAnnotation(true),
		optionalProjectArg(),
	)
}

// Decision ledger

func decisionRecordTool() mcp.Tool {
	return mcp.NewTool("decision_record",
		mcp.WithDescription("Record a technical decision"),
		projectArg("Project name (created on first use)"),
		mcp.WithString("decisionType", mcp.Required(), mcp.Enum(decisionTypeEnum...)),
		mcp.WithString("title", mcp.Required()),
		mcp.WithString("description", mcp.Required()),
		mcp.WithString("rationale", mcp.Required()),
		mcp.WithArray("alternatives",
			mcp.Description("Options considered and rejected"),
			mcp.Items(map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"name":           map[string]interface{}{"type": "string"},
					"pros":           map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
					"cons":           map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
					"reasonRejected": map[string]interface{}{"type": "string"},
				},
				"required": []string{"name"},
			}),
		),
		mcp.WithString("impactLevel", mcp.Enum(impactEnum...), mcp.DefaultString(string(types.ImpactMedium))),
		mcp.WithArray("tags", stringItems),
		mcp.WithString("sessionId", mcp.Description("Session the decision was made in")),
	)
}

func decisionSearchTool() mcp.Tool {
	return mcp.NewTool("decision_search",
		mcp.WithDescription("Search decisions, newest first or by full-text rank when textQuery is set"),
		mcp.WithReadOnlyHintAnnotation(true),
		projectArg("Project name"),
		mcp.WithString("decisionType", mcp.Enum(decisionTypeEnum...)),
		mcp.WithString("status", mcp.Enum(statusEnum...)),
		mcp.WithString("impactLevel", mcp.Enum(impactEnum...)),
		mcp.WithArray("tags", stringItems),
		mcp.WithString("textQuery", mcp.Description("Full-text query over title, description and rationale")),
		mcp.WithNumber("limit", mcp.Min(1), mcp.Max(100), mcp.DefaultNumber(20)),
	)
}

func decisionUpdateTool() mcp.Tool {
	return mcp.NewTool("decision_update",
		mcp.WithDescription("Change a decision's status or outcome. Superseding requires supersededBy and is rejected when it would form a cycle."),
		projectArg("Project name"),
		mcp.WithString("decisionId", mcp.Required()),
		mcp.WithString("expectedStatus", mcp.Description("Fail if the stored status differs"), mcp.Enum(statusEnum...)),
		mcp.WithString("status", mcp.Enum(statusEnum...)),
		mcp.WithString("supersededBy", mcp.Description("Decision that replaces this one")),
		mcp.WithString("outcomeStatus", mcp.Enum(outcomeEnum...)),
		mcp.WithString("outcomeNotes"),
		mcp.WithString("lessonsLearned"),
	)
}

func decisionStatsTool() mcp.Tool {
	return mcp.NewTool("decision_stats",
		mcp.WithDescription("Aggregate decision counts by type, status and impact"),
		mcp.WithReadOnlyHintAnnotation(true),
		optionalProjectArg(),
	)
}
