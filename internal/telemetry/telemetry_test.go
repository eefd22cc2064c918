package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRecordWithoutSDK(t *testing.T) {
	m, err := New()
	require.NoError(t, err)

	ctx := context.Background()
	assert.NotPanics(t, func() {
		m.ContextStored(ctx, "inline")
		m.Search(ctx, "vector", true)
		m.BackfillRows(ctx, "embedded", 3)
		m.BackfillRows(ctx, "failed", 0)
	})
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ContextStored(context.Background(), "deferred")
		m.Search(context.Background(), "keyword", false)
		m.BackfillRows(context.Background(), "skipped", 1)
	})
}
