package backfill

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/devmemory-mcp/internal/storage"
	"github.com/dshills/devmemory-mcp/internal/telemetry"
	"github.com/dshills/devmemory-mcp/pkg/types"
)

const (
	DefaultMaxPerRun    = 500
	DefaultWorkers      = 4
	DefaultEmbedTimeout = 30 * time.Second

	// maxErrorMessages caps Statistics.ErrorMessages
	maxErrorMessages = 20
)

// Embedder produces vectors for backfilled rows
type Embedder interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
	Model() string
}

// Config tunes a Job
type Config struct {
	MaxPerRun    int
	Workers      int
	EmbedTimeout time.Duration
}

// Statistics describes one backfill run
type Statistics struct {
	Scanned        int           `json:"scanned"`
	Embedded       int           `json:"embedded"`
	Failed         int           `json:"failed"`
	Skipped        int           `json:"skipped"`
	Duration       time.Duration `json:"duration"`
	ErrorMessages  []string      `json:"errorMessages,omitempty"`
	AlreadyRunning bool          `json:"alreadyRunning,omitempty"`
}

// Job embeds contexts whose embedding is missing
type Job struct {
	storage   storage.Storage
	embedder  Embedder
	maxPerRun int
	workers   int
	timeout   time.Duration
	lock      runLock
	logger    zerolog.Logger
	metrics   *telemetry.Metrics
}

// Option configures a Job
type Option func(*Job)

// WithLogger sets the job logger
func WithLogger(logger zerolog.Logger) Option {
	return func(j *Job) { j.logger = logger }
}

// WithMetrics records per-row results
func WithMetrics(m *telemetry.Metrics) Option {
	return func(j *Job) { j.metrics = m }
}

// New creates a Job. Zero config values take the defaults.
func New(st storage.Storage, emb Embedder, cfg Config, opts ...Option) *Job {
	if cfg.MaxPerRun <= 0 {
		cfg.MaxPerRun = DefaultMaxPerRun
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.EmbedTimeout <= 0 {
		cfg.EmbedTimeout = DefaultEmbedTimeout
	}
	j := &Job{
		storage:   st,
		embedder:  emb,
		maxPerRun: cfg.MaxPerRun,
		workers:   cfg.Workers,
		timeout:   cfg.EmbedTimeout,
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// running reports whether a run is in progress
func (j *Job) running() bool {
	return j.lock.Held()
}

// Run embeds one batch of rows with a null embedding. Per-row failures are
// counted and leave the row null; only a failure to list rows or a
// cancelled context is returned as an error.
func (j *Job) Run(ctx context.Context) (*Statistics, error) {
	if j.embedder == nil {
		return nil, fmt.Errorf("backfill: no embedding provider configured")
	}
	if !j.lock.TryAcquire() {
		return &Statistics{AlreadyRunning: true}, nil
	}
	defer j.lock.Release()

	start := time.Now()
	rows, err := j.storage.ListContextsMissingEmbedding(ctx, j.maxPerRun)
	if err != nil {
		return nil, fmt.Errorf("list contexts missing embedding: %w", err)
	}

	stats := &Statistics{Scanned: len(rows)}
	if len(rows) == 0 {
		stats.Duration = time.Since(start)
		return stats, nil
	}

	var (
		embedded atomic.Int32
		failed   atomic.Int32
		skipped  atomic.Int32
		errMu    sync.Mutex
	)
	fail := func(id string, err error) {
		failed.Add(1)
		j.logger.Warn().Err(err).Str("context_id", id).Msg("backfill embedding failed")
		errMu.Lock()
		if len(stats.ErrorMessages) < maxErrorMessages {
			stats.ErrorMessages = append(stats.ErrorMessages, fmt.Sprintf("%s: %v", id, err))
		}
		errMu.Unlock()
	}

	semaphore := make(chan struct{}, j.workers)
	g, gctx := errgroup.WithContext(ctx)

	for _, row := range rows {
		select {
		case semaphore <- struct{}{}:
		case <-gctx.Done():
		}
		if gctx.Err() != nil {
			break
		}

		g.Go(func() error {
			defer func() { <-semaphore }()
			return j.embedRow(gctx, row, &embedded, &skipped, fail)
		})
	}

	waitErr := g.Wait()
	stats.Embedded = int(embedded.Load())
	stats.Failed = int(failed.Load())
	stats.Skipped = int(skipped.Load())
	stats.Duration = time.Since(start)

	j.metrics.BackfillRows(ctx, "embedded", stats.Embedded)
	j.metrics.BackfillRows(ctx, "failed", stats.Failed)
	j.metrics.BackfillRows(ctx, "skipped", stats.Skipped)

	j.logger.Info().
		Int("scanned", stats.Scanned).
		Int("embedded", stats.Embedded).
		Int("failed", stats.Failed).
		Int("skipped", stats.Skipped).
		Dur("duration", stats.Duration).
		Msg("backfill run finished")

	if waitErr != nil {
		return stats, waitErr
	}
	if err := ctx.Err(); err != nil {
		return stats, err
	}
	return stats, nil
}

// embedRow returns an error only when the run itself must stop
func (j *Job) embedRow(ctx context.Context, row *types.Context, embedded, skipped *atomic.Int32, fail func(string, error)) error {
	embedCtx, cancel := context.WithTimeout(ctx, j.timeout)
	vector, err := j.embedder.GenerateEmbedding(embedCtx, row.Content)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		fail(row.ID, err)
		return nil
	}

	ok, err := j.storage.SetContextEmbedding(ctx, row.ID, vector, j.embedder.Model())
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		fail(row.ID, err)
		return nil
	}
	if !ok {
		skipped.Add(1)
		return nil
	}
	embedded.Add(1)
	return nil
}
