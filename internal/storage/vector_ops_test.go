package storage

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/devmemory-mcp/pkg/types"
)

func TestSerializeVector(t *testing.T) {
	v := []float32{0, -1.5, 3.25, float32(math.Pi)}
	blob := serializeVector(v)
	assert.Len(t, blob, 16)
	assert.Equal(t, v, deserializeVector(blob))
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"length mismatch", []float32{1, 0}, []float32{1, 0, 0}, 0},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 0},
		{"empty", nil, nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, cosineSimilarity(tt.a, tt.b), 1e-9)
		})
	}
	assert.Equal(t, 1.0, clampSimilarity(1.0000001))
	assert.Equal(t, 0.0, clampSimilarity(math.NaN()))
}

func TestSortScored(t *testing.T) {
	now := time.Now()
	mk := func(id string, score, relevance float64, age time.Duration, embedded bool) ScoredContext {
		c := &types.Context{ID: id, RelevanceScore: relevance, CreatedAt: now.Add(-age)}
		if embedded {
			c.Embedding = []float32{1}
		}
		return ScoredContext{Context: c, Score: score}
	}

	results := []ScoredContext{
		mk("unembedded", 0, 10, 0, false),
		mk("low", 0.2, 5, 0, true),
		mk("old", 0.8, 5, time.Hour, true),
		mk("new", 0.8, 5, 0, true),
		mk("relevant", 0.8, 9, 2*time.Hour, true),
		mk("negative", -0.5, 5, 0, true),
	}
	sortScored(results)

	var ids []string
	for _, r := range results {
		ids = append(ids, r.Context.ID)
	}
	assert.Equal(t, []string{"relevant", "new", "old", "low", "negative", "unembedded"}, ids)

	text := []ScoredContext{mk("b", 0.5, 5, 0, false), mk("a", 0.9, 1, 0, true)}
	sortTextScored(text)
	assert.Equal(t, "a", text[0].Context.ID)
}

func TestNormalizeTextScore(t *testing.T) {
	assert.Equal(t, 0.0, normalizeTextScore(0))
	assert.InDelta(t, 0.5, normalizeTextScore(-1), 1e-9)
	assert.Greater(t, normalizeTextScore(-5), normalizeTextScore(-1))
	assert.Less(t, normalizeTextScore(-1000), 1.0)
}

func TestSanitizeFTSQuery(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"database setup", `"database" OR "setup"`},
		{`foo" OR bar*`, `"foo" OR "or" OR "bar"`},
		{"C++ & Go", `"c" OR "go"`},
		{"   ", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, sanitizeFTSQuery(tt.in), tt.in)
	}
	assert.Equal(t, "database | setup", tsQuery("Database, setup!"))
}

func TestRebind(t *testing.T) {
	assert.Equal(t, "SELECT * FROM t WHERE a = $1 AND b IN ($2,$3)", rebind("SELECT * FROM t WHERE a = ? AND b IN (?,?)"))
	assert.Equal(t, "SELECT 1", rebind("SELECT 1"))
}

func TestWhereBuilder(t *testing.T) {
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	filters := &ContextFilters{
		Types:     []types.ContextType{types.ContextCode, types.ContextError},
		Tags:      []string{"go"},
		SessionID: "s1",
		From:      from,
	}

	w := newWhere(sqliteDialect{})
	w.add("c.project_id = ?", "p1")
	w.contextFilters(filters)
	assert.Equal(t,
		" WHERE c.project_id = ? AND c.context_type IN (?,?) AND EXISTS (SELECT 1 FROM json_each(c.tags) WHERE json_each.value IN (?)) AND c.session_id = ? AND c.created_at >= ?",
		w.sql())
	assert.Equal(t, []interface{}{"p1", "code", "error", "go", "s1", formatTime(from)}, w.args)

	pg := newWhere(pgDialect{})
	pg.contextFilters(&ContextFilters{Tags: []string{"a", "b"}})
	assert.Equal(t, " WHERE c.tags && $1::text[]", rebind(pg.sql()))
	require.Len(t, pg.args, 1)
	assert.Equal(t, []string{"a", "b"}, pg.args[0])

	assert.Equal(t, "", newWhere(sqliteDialect{}).sql())
}

func TestTimeFormat(t *testing.T) {
	ts := time.Date(2026, 10, 15, 8, 30, 0, 123, time.FixedZone("x", 3600))
	parsed, err := parseTime(formatTime(ts))
	require.NoError(t, err)
	assert.True(t, ts.Equal(parsed))

	// Lexical order matches chronological order
	assert.Less(t, formatTime(ts), formatTime(ts.Add(time.Nanosecond)))
}
