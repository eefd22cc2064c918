package mcp

import (
	"time"

	"github.com/dshills/devmemory-mcp/internal/backfill"
	"github.com/dshills/devmemory-mcp/pkg/types"
)

type projectListResponse struct {
	Projects []*types.Project `json:"projects"`
}

type projectResponse struct {
	Project *types.Project `json:"project"`
	Created bool           `json:"created"`
}

type sessionResponse struct {
	Session *types.Session `json:"session"`
}

type contextStoreResponse struct {
	ID             string    `json:"id"`
	ContextType    string    `json:"contextType"`
	Tags           []string  `json:"tags"`
	RelevanceScore float64   `json:"relevanceScore"`
	Embedded       bool      `json:"embedded"`
	CreatedAt      time.Time `json:"createdAt"`
}

type searchHit struct {
	ID                string    `json:"id"`
	Rank              int       `json:"rank"`
	ContextType       string    `json:"contextType"`
	Content           string    `json:"content"`
	SimilarityPercent int       `json:"similarityPercent"`
	Similarity        float64   `json:"similarity"`
	RelevanceScore    float64   `json:"relevanceScore"`
	Tags              []string  `json:"tags"`
	SessionID         *string   `json:"sessionId,omitempty"`
	CreatedAt         time.Time `json:"createdAt"`
}

type contextSearchResponse struct {
	Query        string      `json:"query"`
	Mode         string      `json:"mode"`
	Degraded     bool        `json:"degraded"`
	TotalResults int         `json:"totalResults"`
	DurationMS   int64       `json:"durationMs"`
	Results      []searchHit `json:"results"`
}

type contextListResponse struct {
	Contexts []*types.Context `json:"contexts"`
}

type contextDeleteResponse struct {
	Deleted int `json:"deleted"`
}

type backfillResponse struct {
	*backfill.Statistics
	DurationMS int64 `json:"durationMs"`
}

type suggestResponse struct {
	Suggestions []string             `json:"suggestions"`
	Entries     []*types.NamingEntry `json:"entries"`
}

type namingEntryResponse struct {
	Entry *types.NamingEntry `json:"entry"`
}

type namingListResponse struct {
	Entries []*types.NamingEntry `json:"entries"`
}

type decisionResponse struct {
	Decision *types.Decision `json:"decision"`
}

type decisionListResponse struct {
	Decisions []*types.Decision `json:"decisions"`
}
