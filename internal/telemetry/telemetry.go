// Package telemetry holds the OpenTelemetry instruments recorded by the
// services. Instruments come from the global MeterProvider and are no-ops
// until the process installs an SDK.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/dshills/devmemory-mcp"

// Metrics bundles the counters used across the server
type Metrics struct {
	contextsStored metric.Int64Counter
	searches       metric.Int64Counter
	backfillRows   metric.Int64Counter
}

// New creates the instruments against the global meter provider
func New() (*Metrics, error) {
	meter := otel.Meter(meterName)

	contextsStored, err := meter.Int64Counter("devmemory.contexts.stored",
		metric.WithDescription("Contexts persisted, by embedding outcome"))
	if err != nil {
		return nil, err
	}
	searches, err := meter.Int64Counter("devmemory.search.requests",
		metric.WithDescription("Context searches, by mode and degradation"))
	if err != nil {
		return nil, err
	}
	backfillRows, err := meter.Int64Counter("devmemory.backfill.rows",
		metric.WithDescription("Rows processed by the embedding backfill, by result"))
	if err != nil {
		return nil, err
	}

	return &Metrics{
		contextsStored: contextsStored,
		searches:       searches,
		backfillRows:   backfillRows,
	}, nil
}

// ContextStored records one persisted context. embedding is "inline",
// "deferred" or "rejected".
func (m *Metrics) ContextStored(ctx context.Context, embedding string) {
	if m == nil {
		return
	}
	m.contextsStored.Add(ctx, 1, metric.WithAttributes(attribute.String("embedding", embedding)))
}

// Search records one search request
func (m *Metrics) Search(ctx context.Context, mode string, degraded bool) {
	if m == nil {
		return
	}
	m.searches.Add(ctx, 1, metric.WithAttributes(
		attribute.String("mode", mode),
		attribute.Bool("degraded", degraded),
	))
}

// BackfillRows records n rows with the given result ("embedded", "failed", "skipped")
func (m *Metrics) BackfillRows(ctx context.Context, result string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.backfillRows.Add(ctx, int64(n), metric.WithAttributes(attribute.String("result", result)))
}
