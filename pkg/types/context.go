package types

import (
	"math"
	"sort"
	"strings"
	"time"
)

// ContextType classifies a stored context fragment
type ContextType string

const (
	ContextCode       ContextType = "code"
	ContextDecision   ContextType = "decision"
	ContextError      ContextType = "error"
	ContextDiscussion ContextType = "discussion"
	ContextPlanning   ContextType = "planning"
	ContextCompletion ContextType = "completion"
	ContextMilestone  ContextType = "milestone"
)

// ContextTypes lists every accepted context type in display order
var ContextTypes = []ContextType{
	ContextCode, ContextDecision, ContextError, ContextDiscussion,
	ContextPlanning, ContextCompletion, ContextMilestone,
}

// Valid reports whether t is a known context type
func (t ContextType) Valid() bool {
	for _, known := range ContextTypes {
		if t == known {
			return true
		}
	}
	return false
}

const (
	MinRelevanceScore     = 0.0
	MaxRelevanceScore     = 10.0
	DefaultRelevanceScore = 5.0
)

// Context is an append-only memory fragment. Embedding is nil until computed.
type Context struct {
	ID             string         `json:"id"`
	ProjectID      string         `json:"projectId"`
	SessionID      *string        `json:"sessionId,omitempty"`
	Type           ContextType    `json:"contextType"`
	Content        string         `json:"content"`
	Embedding      []float32      `json:"-"`
	EmbeddingModel string         `json:"embeddingModel,omitempty"`
	RelevanceScore float64        `json:"relevanceScore"`
	Tags           []string       `json:"tags"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
}

// HasEmbedding reports whether the row is searchable by similarity
func (c *Context) HasEmbedding() bool {
	return len(c.Embedding) > 0
}

// Validate checks the write-time invariants of a context
func (c *Context) Validate() error {
	if strings.TrimSpace(c.ProjectID) == "" {
		return NewValidationError("projectId", "is required")
	}
	if !c.Type.Valid() {
		return NewValidationError("type", "unknown context type %q", c.Type)
	}
	if strings.TrimSpace(c.Content) == "" {
		return NewValidationError("content", "must not be empty")
	}
	return ValidateRelevanceScore(c.RelevanceScore)
}

// ValidateRelevanceScore checks the [0,10] inclusive range
func ValidateRelevanceScore(score float64) error {
	if math.IsNaN(score) || score < MinRelevanceScore || score > MaxRelevanceScore {
		return NewValidationError("relevanceScore", "%v is outside [%v, %v]", score, MinRelevanceScore, MaxRelevanceScore)
	}
	return nil
}

// NormalizeTags trims, lower-cases, de-duplicates and sorts tags.
// Empty tags are dropped. The result is never nil.
func NormalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}

// ContextStats aggregates context counts for one project or all projects
type ContextStats struct {
	TotalContexts      int                 `json:"totalContexts"`
	EmbeddedContexts   int                 `json:"embeddedContexts"`
	UnembeddedContexts int                 `json:"unembeddedContexts"`
	RecentContexts     int                 `json:"recentContexts"`
	ContextsByType     map[ContextType]int `json:"contextsByType"`
}
