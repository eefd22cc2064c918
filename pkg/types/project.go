package types

import "time"

// ProjectStatus is the lifecycle state of a project
type ProjectStatus string

const (
	ProjectActive    ProjectStatus = "active"
	ProjectArchived  ProjectStatus = "archived"
	ProjectCompleted ProjectStatus = "completed"
	ProjectPaused    ProjectStatus = "paused"
)

// Valid reports whether s is a known project status
func (s ProjectStatus) Valid() bool {
	switch s {
	case ProjectActive, ProjectArchived, ProjectCompleted, ProjectPaused:
		return true
	}
	return false
}

// Project owns every other entity; deleting it cascades.
type Project struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Status      ProjectStatus `json:"status"`
	CreatedAt   time.Time     `json:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt"`
}

// Session is one agent's working period inside a project
type Session struct {
	ID        string     `json:"id"`
	ProjectID string     `json:"projectId"`
	AgentType string     `json:"agentType"`
	StartedAt time.Time  `json:"startedAt"`
	EndedAt   *time.Time `json:"endedAt,omitempty"`
}
