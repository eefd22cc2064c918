package decisions

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dshills/devmemory-mcp/internal/storage"
	"github.com/dshills/devmemory-mcp/pkg/types"
)

const (
	// MaxChainDepth bounds the supersession chain walk
	MaxChainDepth = 64

	DefaultSearchLimit = 20
	MaxSearchLimit     = 100

	// RecentWindow is the "recent" bucket of Stats
	RecentWindow = 7 * 24 * time.Hour
)

// Ledger records technical decisions and their supersession history
type Ledger struct {
	storage storage.Storage
	logger  zerolog.Logger
}

// NewLedger creates a Ledger
func NewLedger(st storage.Storage, logger zerolog.Logger) *Ledger {
	return &Ledger{storage: st, logger: logger}
}

// RecordRequest describes a new decision
type RecordRequest struct {
	ProjectID    string
	SessionID    string
	DecisionType types.DecisionType
	Title        string
	Description  string
	Rationale    string
	Alternatives []types.Alternative
	ImpactLevel  types.ImpactLevel
	Tags         []string
}

func required(field, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", types.NewValidationError(field, "must not be empty")
	}
	return value, nil
}

// Record stores a new active decision
func (l *Ledger) Record(ctx context.Context, req RecordRequest) (*types.Decision, error) {
	if !req.DecisionType.Valid() {
		return nil, types.NewValidationError("decisionType", "unknown decision type %q", req.DecisionType)
	}
	if req.ImpactLevel == "" {
		req.ImpactLevel = types.ImpactMedium
	}
	if !req.ImpactLevel.Valid() {
		return nil, types.NewValidationError("impactLevel", "unknown impact level %q", req.ImpactLevel)
	}
	title, err := required("title", req.Title)
	if err != nil {
		return nil, err
	}
	description, err := required("description", req.Description)
	if err != nil {
		return nil, err
	}
	rationale, err := required("rationale", req.Rationale)
	if err != nil {
		return nil, err
	}
	for i, alt := range req.Alternatives {
		if strings.TrimSpace(alt.Name) == "" {
			return nil, types.NewValidationError("alternatives", "alternative %d has no name", i)
		}
	}

	if _, err := l.storage.GetProject(ctx, req.ProjectID); err != nil {
		return nil, err
	}

	d := &types.Decision{
		ID:                     uuid.NewString(),
		ProjectID:              req.ProjectID,
		DecisionType:           req.DecisionType,
		Title:                  title,
		Description:            description,
		Rationale:              rationale,
		AlternativesConsidered: req.Alternatives,
		Tags:                   req.Tags,
		Status:                 types.StatusActive,
		ImpactLevel:            req.ImpactLevel,
		OutcomeStatus:          types.OutcomeUnknown,
	}
	if req.SessionID != "" {
		session, err := l.storage.GetSession(ctx, req.SessionID)
		if err != nil {
			return nil, err
		}
		if session.ProjectID != req.ProjectID {
			return nil, types.NewValidationError("sessionId", "session %s belongs to another project", req.SessionID)
		}
		sessionID := req.SessionID
		d.SessionID = &sessionID
	}

	if err := l.storage.InsertDecision(ctx, d); err != nil {
		return nil, err
	}
	l.logger.Info().
		Str("decision_id", d.ID).
		Str("project_id", d.ProjectID).
		Str("type", string(d.DecisionType)).
		Str("impact", string(d.ImpactLevel)).
		Msg("decision recorded")
	return d, nil
}

// Get returns one decision, superseded or not
func (l *Ledger) Get(ctx context.Context, id string) (*types.Decision, error) {
	return l.storage.GetDecision(ctx, id)
}

// Search lists a project's decisions, newest first, or by full-text rank
// when filters.TextQuery is set
func (l *Ledger) Search(ctx context.Context, projectID string, filters storage.DecisionFilters) ([]*types.Decision, error) {
	if filters.DecisionType != "" && !filters.DecisionType.Valid() {
		return nil, types.NewValidationError("decisionType", "unknown decision type %q", filters.DecisionType)
	}
	if filters.Status != "" && !filters.Status.Valid() {
		return nil, types.NewValidationError("status", "unknown status %q", filters.Status)
	}
	if filters.ImpactLevel != "" && !filters.ImpactLevel.Valid() {
		return nil, types.NewValidationError("impactLevel", "unknown impact level %q", filters.ImpactLevel)
	}
	switch {
	case filters.Limit < 0:
		return nil, types.NewValidationError("limit", "must not be negative")
	case filters.Limit == 0:
		filters.Limit = DefaultSearchLimit
	case filters.Limit > MaxSearchLimit:
		filters.Limit = MaxSearchLimit
	}
	filters.Tags = types.NormalizeTags(filters.Tags)

	found, err := l.storage.SearchDecisions(ctx, projectID, &filters)
	if err != nil {
		return nil, err
	}
	if found == nil {
		found = []*types.Decision{}
	}
	return found, nil
}

// UpdateRequest changes the mutable fields of a decision. Nil fields are
// left alone. ExpectedStatus, when set, must equal the stored status.
type UpdateRequest struct {
	DecisionID     string
	ExpectedStatus types.DecisionStatus
	Status         *types.DecisionStatus
	SupersededBy   *string
	OutcomeStatus  *types.OutcomeStatus
	OutcomeNotes   *string
	LessonsLearned *string
}

func (r *UpdateRequest) validate() error {
	if r.Status == nil && r.SupersededBy == nil && r.OutcomeStatus == nil && r.OutcomeNotes == nil && r.LessonsLearned == nil {
		return types.NewValidationError("changes", "nothing to update")
	}
	if r.ExpectedStatus != "" && !r.ExpectedStatus.Valid() {
		return types.NewValidationError("expectedStatus", "unknown status %q", r.ExpectedStatus)
	}
	if r.Status != nil && !r.Status.Valid() {
		return types.NewValidationError("status", "unknown status %q", *r.Status)
	}
	if r.OutcomeStatus != nil && !r.OutcomeStatus.Valid() {
		return types.NewValidationError("outcomeStatus", "unknown outcome status %q", *r.OutcomeStatus)
	}
	superseding := r.Status != nil && *r.Status == types.StatusSuperseded
	hasTarget := r.SupersededBy != nil && strings.TrimSpace(*r.SupersededBy) != ""
	if superseding && !hasTarget {
		return types.NewValidationError("supersededBy", "required when status is superseded")
	}
	if !superseding && r.SupersededBy != nil {
		return types.NewValidationError("supersededBy", "only allowed when status changes to superseded")
	}
	return nil
}

// Update applies a status and/or outcome change under an optimistic status
// check. Superseding walks the new target's own chain first and rejects a
// change that would lead back to this decision. Nothing is written on error.
func (l *Ledger) Update(ctx context.Context, req UpdateRequest) (*types.Decision, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	var updated *types.Decision
	err := storage.WithTx(ctx, l.storage, func(tx storage.Tx) error {
		d, err := tx.GetDecision(ctx, req.DecisionID)
		if err != nil {
			return err
		}
		expected := d.Status
		if req.ExpectedStatus != "" && req.ExpectedStatus != d.Status {
			return fmt.Errorf("%w: decision %s is %s, expected %s", types.ErrStaleStatus, d.ID, d.Status, req.ExpectedStatus)
		}

		if req.Status != nil && *req.Status != d.Status {
			if d.Status.Terminal() || !types.CanTransition(d.Status, *req.Status) {
				return fmt.Errorf("%w: %s -> %s", types.ErrInvalidTransition, d.Status, *req.Status)
			}
			d.Status = *req.Status
		} else if req.Status != nil && *req.Status == types.StatusSuperseded {
			return fmt.Errorf("%w: decision %s is already superseded", types.ErrInvalidTransition, d.ID)
		}

		if req.SupersededBy != nil {
			targetID := strings.TrimSpace(*req.SupersededBy)
			if targetID == d.ID {
				return types.NewValidationError("supersededBy", "a decision cannot supersede itself")
			}
			target, err := tx.GetDecision(ctx, targetID)
			if err != nil {
				return err
			}
			if target.ProjectID != d.ProjectID {
				return types.NewValidationError("supersededBy", "decision %s belongs to another project", target.ID)
			}
			if err := checkChain(ctx, tx, d.ID, target); err != nil {
				return err
			}
			d.SupersededBy = &target.ID
		}

		if req.OutcomeStatus != nil {
			d.OutcomeStatus = *req.OutcomeStatus
		}
		if req.OutcomeNotes != nil {
			d.OutcomeNotes = strings.TrimSpace(*req.OutcomeNotes)
		}
		if req.LessonsLearned != nil {
			d.LessonsLearned = strings.TrimSpace(*req.LessonsLearned)
		}

		ok, err := tx.UpdateDecision(ctx, d, expected)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: decision %s", types.ErrStaleStatus, d.ID)
		}
		updated = d
		return nil
	})
	if err != nil {
		return nil, err
	}

	event := l.logger.Info().Str("decision_id", updated.ID).Str("status", string(updated.Status))
	if updated.SupersededBy != nil {
		event = event.Str("superseded_by", *updated.SupersededBy)
	}
	event.Msg("decision updated")
	return updated, nil
}

// checkChain follows superseded_by pointers from start and fails if they
// reach target, revisit a decision or run deeper than MaxChainDepth
func checkChain(ctx context.Context, s storage.Storage, target string, start *types.Decision) error {
	chain := []string{start.ID}
	visited := map[string]bool{}
	cur := start
	for depth := 0; ; depth++ {
		if cur.ID == target || visited[cur.ID] || depth >= MaxChainDepth {
			return &types.CycleError{Kind: "decision supersession", Chain: append([]string{target}, chain...)}
		}
		visited[cur.ID] = true
		if cur.SupersededBy == nil {
			return nil
		}
		next, err := s.GetDecision(ctx, *cur.SupersededBy)
		if err != nil {
			return err
		}
		chain = append(chain, next.ID)
		cur = next
	}
}

// Stats aggregates ledger counts for projectID, or all projects when empty
func (l *Ledger) Stats(ctx context.Context, projectID string) (*types.DecisionStats, error) {
	return l.storage.DecisionStats(ctx, projectID, time.Now().Add(-RecentWindow))
}
