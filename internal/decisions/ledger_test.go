package decisions

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/devmemory-mcp/internal/storage"
	"github.com/dshills/devmemory-mcp/pkg/types"
)

func setupLedger(t *testing.T) (*Ledger, storage.Storage, string) {
	t.Helper()
	st, err := storage.NewSQLiteStorage(context.Background(), ":memory:", 4)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	p := &types.Project{ID: uuid.NewString(), Name: "ledger"}
	require.NoError(t, st.CreateProject(context.Background(), p))
	return NewLedger(st, zerolog.Nop()), st, p.ID
}

func record(t *testing.T, l *Ledger, projectID, title string) *types.Decision {
	t.Helper()
	d, err := l.Record(context.Background(), RecordRequest{
		ProjectID:    projectID,
		DecisionType: types.DecisionDatabase,
		Title:        title,
		Description:  "Store contexts in " + title,
		Rationale:    "Needs vector search and full-text ranking",
		Alternatives: []types.Alternative{{Name: "MongoDB", Cons: []string{"no pgvector"}, ReasonRejected: "weak joins"}},
		ImpactLevel:  types.ImpactHigh,
		Tags:         []string{"Storage"},
	})
	require.NoError(t, err)
	return d
}

func status(s types.DecisionStatus) *types.DecisionStatus { return &s }
func str(s string) *string                                { return &s }

func TestRecord(t *testing.T) {
	l, _, projectID := setupLedger(t)
	ctx := context.Background()

	d := record(t, l, projectID, "PostgreSQL")
	assert.Equal(t, types.StatusActive, d.Status)
	assert.Equal(t, types.OutcomeUnknown, d.OutcomeStatus)
	assert.Equal(t, []string{"storage"}, d.Tags)
	assert.False(t, d.DecisionDate.IsZero())

	got, err := l.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, d.Title, got.Title)
	require.Len(t, got.AlternativesConsidered, 1)
	assert.Equal(t, "weak joins", got.AlternativesConsidered[0].ReasonRejected)

	tests := []struct {
		name    string
		req     RecordRequest
		wantErr error
	}{
		{"unknown type", RecordRequest{ProjectID: projectID, DecisionType: "vibes", Title: "t", Description: "d", Rationale: "r"}, types.ErrValidation},
		{"unknown impact", RecordRequest{ProjectID: projectID, DecisionType: types.DecisionLibrary, Title: "t", Description: "d", Rationale: "r", ImpactLevel: "huge"}, types.ErrValidation},
		{"empty title", RecordRequest{ProjectID: projectID, DecisionType: types.DecisionLibrary, Title: " ", Description: "d", Rationale: "r"}, types.ErrValidation},
		{"empty rationale", RecordRequest{ProjectID: projectID, DecisionType: types.DecisionLibrary, Title: "t", Description: "d"}, types.ErrValidation},
		{"unnamed alternative", RecordRequest{ProjectID: projectID, DecisionType: types.DecisionLibrary, Title: "t", Description: "d", Rationale: "r", Alternatives: []types.Alternative{{}}}, types.ErrValidation},
		{"unknown project", RecordRequest{ProjectID: uuid.NewString(), DecisionType: types.DecisionLibrary, Title: "t", Description: "d", Rationale: "r"}, types.ErrNotFound},
		{"unknown session", RecordRequest{ProjectID: projectID, SessionID: uuid.NewString(), DecisionType: types.DecisionLibrary, Title: "t", Description: "d", Rationale: "r"}, types.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.Record(ctx, tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	defaulted, err := l.Record(ctx, RecordRequest{ProjectID: projectID, DecisionType: types.DecisionTooling, Title: "t", Description: "d", Rationale: "r"})
	require.NoError(t, err)
	assert.Equal(t, types.ImpactMedium, defaulted.ImpactLevel)
}

func TestUpdate_StateMachine(t *testing.T) {
	tests := []struct {
		name    string
		path    []types.DecisionStatus
		wantErr error
	}{
		{"active to review", []types.DecisionStatus{types.StatusUnderReview}, nil},
		{"review back to active", []types.DecisionStatus{types.StatusUnderReview, types.StatusActive}, nil},
		{"review to deprecated", []types.DecisionStatus{types.StatusUnderReview, types.StatusDeprecated}, nil},
		{"active to deprecated", []types.DecisionStatus{types.StatusDeprecated}, types.ErrInvalidTransition},
		{"deprecated is terminal", []types.DecisionStatus{types.StatusUnderReview, types.StatusDeprecated, types.StatusActive}, types.ErrInvalidTransition},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, _, projectID := setupLedger(t)
			ctx := context.Background()
			d := record(t, l, projectID, "SQLite")

			var err error
			for _, next := range tt.path {
				_, err = l.Update(ctx, UpdateRequest{DecisionID: d.ID, Status: status(next)})
				if err != nil {
					break
				}
			}
			if tt.wantErr == nil {
				require.NoError(t, err)
				got, err := l.Get(ctx, d.ID)
				require.NoError(t, err)
				assert.Equal(t, tt.path[len(tt.path)-1], got.Status)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestUpdate_Supersede(t *testing.T) {
	l, _, projectID := setupLedger(t)
	ctx := context.Background()
	a := record(t, l, projectID, "SQLite")
	b := record(t, l, projectID, "PostgreSQL")

	_, err := l.Update(ctx, UpdateRequest{DecisionID: a.ID, Status: status(types.StatusSuperseded)})
	assert.ErrorIs(t, err, types.ErrValidation, "target required")

	_, err = l.Update(ctx, UpdateRequest{DecisionID: a.ID, SupersededBy: str(b.ID)})
	assert.ErrorIs(t, err, types.ErrValidation, "status required with target")

	_, err = l.Update(ctx, UpdateRequest{DecisionID: a.ID, Status: status(types.StatusSuperseded), SupersededBy: str(a.ID)})
	assert.ErrorIs(t, err, types.ErrValidation, "self")

	_, err = l.Update(ctx, UpdateRequest{DecisionID: a.ID, Status: status(types.StatusSuperseded), SupersededBy: str(uuid.NewString())})
	assert.ErrorIs(t, err, types.ErrNotFound)

	updated, err := l.Update(ctx, UpdateRequest{DecisionID: a.ID, Status: status(types.StatusSuperseded), SupersededBy: str(b.ID)})
	require.NoError(t, err)
	assert.Equal(t, types.StatusSuperseded, updated.Status)
	require.NotNil(t, updated.SupersededBy)
	assert.Equal(t, b.ID, *updated.SupersededBy)

	// B -> A would close A -> B -> A
	_, err = l.Update(ctx, UpdateRequest{DecisionID: b.ID, Status: status(types.StatusSuperseded), SupersededBy: str(a.ID)})
	var cycle *types.CycleError
	require.ErrorAs(t, err, &cycle)
	assert.Equal(t, []string{b.ID, a.ID, b.ID}, cycle.Chain)

	gotA, err := l.Get(ctx, a.ID)
	require.NoError(t, err)
	gotB, err := l.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusSuperseded, gotA.Status)
	assert.Equal(t, types.StatusActive, gotB.Status)
	assert.Nil(t, gotB.SupersededBy)

	// Superseded stays readable and terminal, but outcome fields still change
	_, err = l.Update(ctx, UpdateRequest{DecisionID: a.ID, Status: status(types.StatusActive)})
	assert.ErrorIs(t, err, types.ErrInvalidTransition)
	_, err = l.Update(ctx, UpdateRequest{DecisionID: a.ID, Status: status(types.StatusSuperseded), SupersededBy: str(b.ID)})
	assert.ErrorIs(t, err, types.ErrInvalidTransition)

	outcome := types.OutcomeFailed
	withOutcome, err := l.Update(ctx, UpdateRequest{
		DecisionID:     a.ID,
		OutcomeStatus:  &outcome,
		OutcomeNotes:   str("write contention under load"),
		LessonsLearned: str("benchmark with real concurrency"),
	})
	require.NoError(t, err)
	assert.Equal(t, types.StatusSuperseded, withOutcome.Status)
	assert.Equal(t, types.OutcomeFailed, withOutcome.OutcomeStatus)
	assert.Equal(t, "benchmark with real concurrency", withOutcome.LessonsLearned)
}

func TestUpdate_CrossProject(t *testing.T) {
	l, st, projectID := setupLedger(t)
	ctx := context.Background()
	other := &types.Project{ID: uuid.NewString(), Name: "other"}
	require.NoError(t, st.CreateProject(ctx, other))

	a := record(t, l, projectID, "SQLite")
	foreign := record(t, l, other.ID, "Redis")

	_, err := l.Update(ctx, UpdateRequest{DecisionID: a.ID, Status: status(types.StatusSuperseded), SupersededBy: str(foreign.ID)})
	assert.ErrorIs(t, err, types.ErrValidation)
}

func TestUpdate_OptimisticStatus(t *testing.T) {
	l, _, projectID := setupLedger(t)
	ctx := context.Background()
	a := record(t, l, projectID, "SQLite")

	_, err := l.Update(ctx, UpdateRequest{DecisionID: a.ID, ExpectedStatus: types.StatusUnderReview, Status: status(types.StatusActive)})
	assert.ErrorIs(t, err, types.ErrStaleStatus)

	_, err = l.Update(ctx, UpdateRequest{})
	assert.ErrorIs(t, err, types.ErrValidation)

	// Two agents supersede the same decision; exactly one wins
	successors := []*types.Decision{record(t, l, projectID, "PostgreSQL"), record(t, l, projectID, "CockroachDB")}
	var wg sync.WaitGroup
	errs := make([]error, len(successors))
	for i, s := range successors {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			_, errs[i] = l.Update(ctx, UpdateRequest{
				DecisionID:     a.ID,
				ExpectedStatus: types.StatusActive,
				Status:         status(types.StatusSuperseded),
				SupersededBy:   str(id),
			})
		}(i, s.ID)
	}
	wg.Wait()

	var wins, stale int
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case assert.ErrorIs(t, err, types.ErrStaleStatus):
			stale++
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, 1, stale)
}

func TestSearchAndStats(t *testing.T) {
	l, _, projectID := setupLedger(t)
	ctx := context.Background()

	first := record(t, l, projectID, "SQLite")
	second := record(t, l, projectID, "PostgreSQL")
	lib, err := l.Record(ctx, RecordRequest{
		ProjectID: projectID, DecisionType: types.DecisionLibrary, Title: "zerolog",
		Description: "Structured logging", Rationale: "Fast JSON logs", ImpactLevel: types.ImpactLow,
		Tags: []string{"logging"},
	})
	require.NoError(t, err)

	all, err := l.Search(ctx, projectID, storage.DecisionFilters{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, lib.ID, all[0].ID, "newest first")
	assert.Equal(t, first.ID, all[2].ID)

	byType, err := l.Search(ctx, projectID, storage.DecisionFilters{DecisionType: types.DecisionDatabase})
	require.NoError(t, err)
	assert.Len(t, byType, 2)

	byTag, err := l.Search(ctx, projectID, storage.DecisionFilters{Tags: []string{"LOGGING"}})
	require.NoError(t, err)
	require.Len(t, byTag, 1)
	assert.Equal(t, lib.ID, byTag[0].ID)

	text, err := l.Search(ctx, projectID, storage.DecisionFilters{TextQuery: "postgresql"})
	require.NoError(t, err)
	require.NotEmpty(t, text)
	assert.Equal(t, second.ID, text[0].ID)

	none, err := l.Search(ctx, projectID, storage.DecisionFilters{Status: types.StatusDeprecated})
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)

	_, err = l.Search(ctx, projectID, storage.DecisionFilters{Status: "gone"})
	assert.ErrorIs(t, err, types.ErrValidation)

	stats, err := l.Stats(ctx, projectID)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalDecisions)
	assert.Equal(t, 3, stats.RecentDecisions)
	assert.Equal(t, 2, stats.ByType[types.DecisionDatabase])
	assert.Equal(t, 3, stats.ByStatus[types.StatusActive])
	assert.Equal(t, 1, stats.ByImpact[types.ImpactLow])
}
