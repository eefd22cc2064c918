package contexts

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/devmemory-mcp/internal/embedder"
	"github.com/dshills/devmemory-mcp/internal/storage"
	"github.com/dshills/devmemory-mcp/pkg/types"
)

const testDim = 8

type stubEmbedder struct {
	vector []float32
	err    error
	block  bool
}

func (s *stubEmbedder) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	if s.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return s.vector, s.err
}

func (s *stubEmbedder) Model() string { return "stub" }

type countingNotifier struct{ n atomic.Int32 }

func (c *countingNotifier) Notify() { c.n.Add(1) }

func setup(t *testing.T, emb Embedder) (*Store, storage.Storage, *countingNotifier, *types.Project) {
	t.Helper()
	st, err := storage.NewSQLiteStorage(context.Background(), ":memory:", testDim)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	p := &types.Project{ID: uuid.NewString(), Name: "memory"}
	require.NoError(t, st.CreateProject(context.Background(), p))

	notifier := &countingNotifier{}
	return NewStore(st, emb, 50*time.Millisecond, WithNotifier(notifier)), st, notifier, p
}

func localEmbedder(t *testing.T) *embedder.Service {
	t.Helper()
	svc, err := embedder.NewService(embedder.NewLocalProvider(testDim, nil), testDim, 0)
	require.NoError(t, err)
	return svc
}

func TestStoreContext_Inline(t *testing.T) {
	store, st, notifier, p := setup(t, localEmbedder(t))
	ctx := context.Background()

	c, err := store.StoreContext(ctx, StoreRequest{
		ProjectID: p.ID,
		Type:      types.ContextCode,
		Content:   "func main() {}",
		Tags:      []string{" Go ", "go", "CLI"},
	})
	require.NoError(t, err)
	assert.Equal(t, types.DefaultRelevanceScore, c.RelevanceScore)
	assert.Equal(t, []string{"cli", "go"}, c.Tags)
	assert.Equal(t, "local/"+embedder.LocalModel, c.EmbeddingModel)

	got, err := st.GetContext(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, got.HasEmbedding())
	assert.Len(t, got.Embedding, testDim)
	assert.Zero(t, notifier.n.Load())
}

func TestStoreContext_Deferred(t *testing.T) {
	tests := []struct {
		name string
		emb  Embedder
	}{
		{"provider error", &stubEmbedder{err: errors.New("connection refused")}},
		{"timeout", &stubEmbedder{block: true}},
		{"dimension mismatch", &stubEmbedder{err: types.ErrDimensionMismatch}},
		{"no embedder", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, st, notifier, p := setup(t, tt.emb)
			ctx := context.Background()

			c, err := store.StoreContext(ctx, StoreRequest{ProjectID: p.ID, Type: types.ContextError, Content: "panic: nil map"})
			require.NoError(t, err)

			got, err := st.GetContext(ctx, c.ID)
			require.NoError(t, err)
			assert.False(t, got.HasEmbedding())
			assert.Equal(t, int32(1), notifier.n.Load())

			pending, err := st.ListContextsMissingEmbedding(ctx, 10)
			require.NoError(t, err)
			require.Len(t, pending, 1)
			assert.Equal(t, c.ID, pending[0].ID)
		})
	}
}

func TestStoreContext_Validation(t *testing.T) {
	store, st, _, p := setup(t, localEmbedder(t))
	ctx := context.Background()
	score := func(v float64) *float64 { return &v }

	session := &types.Session{ID: uuid.NewString(), ProjectID: p.ID, AgentType: "claude"}
	require.NoError(t, st.CreateSession(ctx, session))
	other := &types.Project{ID: uuid.NewString(), Name: "other"}
	require.NoError(t, st.CreateProject(ctx, other))

	tests := []struct {
		name    string
		req     StoreRequest
		wantErr error
	}{
		{"empty content", StoreRequest{ProjectID: p.ID, Type: types.ContextCode, Content: "  \n"}, types.ErrValidation},
		{"unknown type", StoreRequest{ProjectID: p.ID, Type: "gossip", Content: "x"}, types.ErrValidation},
		{"score above range", StoreRequest{ProjectID: p.ID, Type: types.ContextCode, Content: "x", RelevanceScore: score(10.5)}, types.ErrValidation},
		{"negative score", StoreRequest{ProjectID: p.ID, Type: types.ContextCode, Content: "x", RelevanceScore: score(-1)}, types.ErrValidation},
		{"unknown project", StoreRequest{ProjectID: uuid.NewString(), Type: types.ContextCode, Content: "x"}, types.ErrNotFound},
		{"unknown session", StoreRequest{ProjectID: p.ID, SessionID: uuid.NewString(), Type: types.ContextCode, Content: "x"}, types.ErrNotFound},
		{"foreign session", StoreRequest{ProjectID: other.ID, SessionID: session.ID, Type: types.ContextCode, Content: "x"}, types.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.StoreContext(ctx, tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	// Boundaries are accepted
	for _, v := range []float64{0, 10} {
		_, err := store.StoreContext(ctx, StoreRequest{ProjectID: p.ID, Type: types.ContextCode, Content: "edge", RelevanceScore: score(v)})
		assert.NoError(t, err)
	}

	c, err := store.StoreContext(ctx, StoreRequest{ProjectID: p.ID, SessionID: session.ID, Type: types.ContextPlanning, Content: "plan"})
	require.NoError(t, err)
	require.NotNil(t, c.SessionID)
	assert.Equal(t, session.ID, *c.SessionID)
}

func TestGetRecentContexts(t *testing.T) {
	store, _, _, p := setup(t, localEmbedder(t))
	ctx := context.Background()

	var ids []string
	for _, content := range []string{"first", "second", "third"} {
		c, err := store.StoreContext(ctx, StoreRequest{ProjectID: p.ID, Type: types.ContextDiscussion, Content: content})
		require.NoError(t, err)
		ids = append(ids, c.ID)
	}

	recent, err := store.GetRecentContexts(ctx, p.ID, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, ids[2], recent[0].ID)
	assert.Equal(t, ids[1], recent[1].ID)

	all, err := store.GetRecentContexts(ctx, p.ID, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	_, err = store.GetRecentContexts(ctx, p.ID, -1)
	assert.ErrorIs(t, err, types.ErrValidation)
}

func TestStatsAndDelete(t *testing.T) {
	store, _, _, p := setup(t, localEmbedder(t))
	ctx := context.Background()

	keep, err := store.StoreContext(ctx, StoreRequest{ProjectID: p.ID, Type: types.ContextCode, Content: "keep", Tags: []string{"core"}})
	require.NoError(t, err)
	_, err = store.StoreContext(ctx, StoreRequest{ProjectID: p.ID, Type: types.ContextError, Content: "drop one", Tags: []string{"flaky"}})
	require.NoError(t, err)
	_, err = store.StoreContext(ctx, StoreRequest{ProjectID: p.ID, Type: types.ContextError, Content: "drop two"})
	require.NoError(t, err)

	stats, err := store.Stats(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalContexts)
	assert.Equal(t, 3, stats.EmbeddedContexts)
	assert.Equal(t, 3, stats.RecentContexts)
	assert.Equal(t, 2, stats.ContextsByType[types.ContextError])

	_, err = store.DeleteContexts(ctx, DeleteRequest{ProjectID: p.ID})
	assert.ErrorIs(t, err, types.ErrValidation)

	n, err := store.DeleteContexts(ctx, DeleteRequest{
		ProjectID: p.ID,
		Filters:   storage.ContextFilters{Types: []types.ContextType{types.ContextError}},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, store.DeleteContext(ctx, keep.ID))
	assert.ErrorIs(t, store.DeleteContext(ctx, keep.ID), types.ErrNotFound)

	_, err = store.GetContext(ctx, keep.ID)
	assert.ErrorIs(t, err, types.ErrNotFound)

	_, err = store.StoreContext(ctx, StoreRequest{ProjectID: p.ID, Type: types.ContextCode, Content: "again"})
	require.NoError(t, err)
	n, err = store.DeleteContexts(ctx, DeleteRequest{ProjectID: p.ID, All: true})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
