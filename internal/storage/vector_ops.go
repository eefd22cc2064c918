package storage

import (
	"encoding/binary"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// serializeVector converts a float32 slice to a byte blob (little-endian)
func serializeVector(vector []float32) []byte {
	blob := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(v))
	}
	return blob
}

// deserializeVector converts a byte blob back to a float32 slice
func deserializeVector(blob []byte) []float32 {
	vector := make([]float32, len(blob)/4)
	for i := range vector {
		bits := binary.LittleEndian.Uint32(blob[i*4:])
		vector[i] = math.Float32frombits(bits)
	}
	return vector
}

// cosineSimilarity computes the cosine similarity between two vectors, clamped to [-1, 1]
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return clampSimilarity(dotProduct / (math.Sqrt(normA) * math.Sqrt(normB)))
}

func clampSimilarity(s float64) float64 {
	if math.IsNaN(s) {
		return 0
	}
	return math.Max(-1, math.Min(1, s))
}

// sortScored orders results by: embedded before unembedded, score desc,
// relevance_score desc, created_at desc. ID breaks the remaining ties so the
// order is stable across calls.
func sortScored(results []ScoredContext) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if ae, be := a.Context.HasEmbedding(), b.Context.HasEmbedding(); ae != be {
			return ae
		}
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Context.RelevanceScore != b.Context.RelevanceScore {
			return a.Context.RelevanceScore > b.Context.RelevanceScore
		}
		if !a.Context.CreatedAt.Equal(b.Context.CreatedAt) {
			return a.Context.CreatedAt.After(b.Context.CreatedAt)
		}
		return a.Context.ID < b.Context.ID
	})
}

// sortTextScored is sortScored without the embedded-first key; full-text
// ranking does not look at embeddings.
func sortTextScored(results []ScoredContext) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Context.RelevanceScore != b.Context.RelevanceScore {
			return a.Context.RelevanceScore > b.Context.RelevanceScore
		}
		if !a.Context.CreatedAt.Equal(b.Context.CreatedAt) {
			return a.Context.CreatedAt.After(b.Context.CreatedAt)
		}
		return a.Context.ID < b.Context.ID
	})
}

// normalizeTextScore maps a raw full-text score (BM25 magnitude or ts_rank,
// higher is better) into [0, 1)
func normalizeTextScore(raw float64) float64 {
	raw = math.Abs(raw)
	return raw / (1 + raw)
}

// queryTerms splits a free-text query into lower-cased word tokens
func queryTerms(query string) []string {
	return strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// sanitizeFTSQuery turns free text into an FTS5 query: every term is quoted
// (so operators and special characters are literal) and terms are OR-ed.
func sanitizeFTSQuery(query string) string {
	terms := queryTerms(query)
	if len(terms) == 0 {
		return ""
	}
	quoted := make([]string, len(terms))
	for i, t := range terms {
		quoted[i] = `"` + t + `"`
	}
	return strings.Join(quoted, " OR ")
}

// tsQuery builds a Postgres to_tsquery expression OR-ing the terms
func tsQuery(query string) string {
	terms := queryTerms(query)
	return strings.Join(terms, " | ")
}

// Timestamps are stored in SQLite as fixed-width UTC text so that string
// comparison matches chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

// rebind rewrites ? placeholders to Postgres $n placeholders
func rebind(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// dialect isolates the SQL differences between SQLite and Postgres filters
type dialect interface {
	// tagsAny returns a condition true when column shares at least one tag with tags
	tagsAny(column string, tags []string) (string, []interface{})
	// timeArg converts a timestamp into a bind argument
	timeArg(t time.Time) interface{}
}

// whereBuilder accumulates AND-ed conditions with ? placeholders
type whereBuilder struct {
	d     dialect
	conds []string
	args  []interface{}
}

func newWhere(d dialect) *whereBuilder {
	return &whereBuilder{d: d}
}

func (w *whereBuilder) add(cond string, args ...interface{}) {
	w.conds = append(w.conds, cond)
	w.args = append(w.args, args...)
}

func (w *whereBuilder) in(column string, values []string) {
	if len(values) == 0 {
		return
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(values)), ",")
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	w.add(column+" IN ("+placeholders+")", args...)
}

// contextFilters applies the non-similarity context filters, with table alias c
func (w *whereBuilder) contextFilters(f *ContextFilters) {
	if f == nil {
		return
	}
	if len(f.Types) > 0 {
		vals := make([]string, len(f.Types))
		for i, t := range f.Types {
			vals[i] = string(t)
		}
		w.in("c.context_type", vals)
	}
	if len(f.Tags) > 0 {
		cond, args := w.d.tagsAny("c.tags", f.Tags)
		w.add(cond, args...)
	}
	if f.SessionID != "" {
		w.add("c.session_id = ?", f.SessionID)
	}
	if !f.From.IsZero() {
		w.add("c.created_at >= ?", w.d.timeArg(f.From))
	}
	if !f.To.IsZero() {
		w.add("c.created_at <= ?", w.d.timeArg(f.To))
	}
}

func (w *whereBuilder) sql() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}
