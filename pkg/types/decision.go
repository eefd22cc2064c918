package types

import "time"

// DecisionType classifies a technical decision
type DecisionType string

const (
	DecisionArchitecture     DecisionType = "architecture"
	DecisionLibrary          DecisionType = "library"
	DecisionFramework        DecisionType = "framework"
	DecisionPattern          DecisionType = "pattern"
	DecisionAPIDesign        DecisionType = "api_design"
	DecisionDatabase         DecisionType = "database"
	DecisionDeployment       DecisionType = "deployment"
	DecisionSecurity         DecisionType = "security"
	DecisionPerformance      DecisionType = "performance"
	DecisionUIUX             DecisionType = "ui_ux"
	DecisionTesting          DecisionType = "testing"
	DecisionTooling          DecisionType = "tooling"
	DecisionProcess          DecisionType = "process"
	DecisionNamingConvention DecisionType = "naming_convention"
	DecisionCodeStyle        DecisionType = "code_style"
)

// DecisionTypes lists every accepted decision type
var DecisionTypes = []DecisionType{
	DecisionArchitecture, DecisionLibrary, DecisionFramework, DecisionPattern,
	DecisionAPIDesign, DecisionDatabase, DecisionDeployment, DecisionSecurity,
	DecisionPerformance, DecisionUIUX, DecisionTesting, DecisionTooling,
	DecisionProcess, DecisionNamingConvention, DecisionCodeStyle,
}

// Valid reports whether t is a known decision type
func (t DecisionType) Valid() bool {
	for _, known := range DecisionTypes {
		if t == known {
			return true
		}
	}
	return false
}

// DecisionStatus is the lifecycle state of a decision
type DecisionStatus string

const (
	StatusActive      DecisionStatus = "active"
	StatusDeprecated  DecisionStatus = "deprecated"
	StatusSuperseded  DecisionStatus = "superseded"
	StatusUnderReview DecisionStatus = "under_review"
)

// Valid reports whether s is a known decision status
func (s DecisionStatus) Valid() bool {
	switch s {
	case StatusActive, StatusDeprecated, StatusSuperseded, StatusUnderReview:
		return true
	}
	return false
}

// Terminal reports whether no further status change is allowed
func (s DecisionStatus) Terminal() bool {
	return s == StatusDeprecated || s == StatusSuperseded
}

var decisionTransitions = map[DecisionStatus][]DecisionStatus{
	StatusActive:      {StatusUnderReview, StatusSuperseded},
	StatusUnderReview: {StatusActive, StatusDeprecated, StatusSuperseded},
}

// CanTransition reports whether a decision may move from one status to another.
// Staying in the same status is always allowed.
func CanTransition(from, to DecisionStatus) bool {
	if from == to {
		return true
	}
	for _, next := range decisionTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ImpactLevel grades how far a decision reaches
type ImpactLevel string

const (
	ImpactLow      ImpactLevel = "low"
	ImpactMedium   ImpactLevel = "medium"
	ImpactHigh     ImpactLevel = "high"
	ImpactCritical ImpactLevel = "critical"
)

// Valid reports whether l is a known impact level
func (l ImpactLevel) Valid() bool {
	switch l {
	case ImpactLow, ImpactMedium, ImpactHigh, ImpactCritical:
		return true
	}
	return false
}

// OutcomeStatus records how a decision turned out
type OutcomeStatus string

const (
	OutcomeUnknown    OutcomeStatus = "unknown"
	OutcomeSuccessful OutcomeStatus = "successful"
	OutcomeFailed     OutcomeStatus = "failed"
	OutcomeMixed      OutcomeStatus = "mixed"
	OutcomeTooEarly   OutcomeStatus = "too_early"
)

// Valid reports whether o is a known outcome status
func (o OutcomeStatus) Valid() bool {
	switch o {
	case OutcomeUnknown, OutcomeSuccessful, OutcomeFailed, OutcomeMixed, OutcomeTooEarly:
		return true
	}
	return false
}

// Alternative is an option that was weighed and rejected
type Alternative struct {
	Name           string   `json:"name"`
	Pros           []string `json:"pros,omitempty"`
	Cons           []string `json:"cons,omitempty"`
	ReasonRejected string   `json:"reasonRejected,omitempty"`
}

// Decision is a technical decision in the ledger. Decisions are never deleted;
// superseded ones stay readable to keep the history.
type Decision struct {
	ID                     string         `json:"id"`
	ProjectID              string         `json:"projectId"`
	SessionID              *string        `json:"sessionId,omitempty"`
	DecisionType           DecisionType   `json:"decisionType"`
	Title                  string         `json:"title"`
	Description            string         `json:"description"`
	Rationale              string         `json:"rationale"`
	AlternativesConsidered []Alternative  `json:"alternativesConsidered"`
	Tags                   []string       `json:"tags"`
	Status                 DecisionStatus `json:"status"`
	SupersededBy           *string        `json:"supersededBy,omitempty"`
	ImpactLevel            ImpactLevel    `json:"impactLevel"`
	OutcomeStatus          OutcomeStatus  `json:"outcomeStatus"`
	OutcomeNotes           string         `json:"outcomeNotes,omitempty"`
	LessonsLearned         string         `json:"lessonsLearned,omitempty"`
	DecisionDate           time.Time      `json:"decisionDate"`
	UpdatedAt              time.Time      `json:"updatedAt"`
}

// DecisionStats aggregates ledger counts
type DecisionStats struct {
	TotalDecisions  int                    `json:"totalDecisions"`
	RecentDecisions int                    `json:"recentDecisions"`
	ByType          map[DecisionType]int   `json:"byType"`
	ByStatus        map[DecisionStatus]int `json:"byStatus"`
	ByImpact        map[ImpactLevel]int    `json:"byImpact"`
}
