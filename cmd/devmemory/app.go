package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/dshills/devmemory-mcp/internal/backfill"
	"github.com/dshills/devmemory-mcp/internal/config"
	"github.com/dshills/devmemory-mcp/internal/contexts"
	"github.com/dshills/devmemory-mcp/internal/decisions"
	"github.com/dshills/devmemory-mcp/internal/embedder"
	"github.com/dshills/devmemory-mcp/internal/logging"
	"github.com/dshills/devmemory-mcp/internal/naming"
	"github.com/dshills/devmemory-mcp/internal/searcher"
	"github.com/dshills/devmemory-mcp/internal/storage"
	"github.com/dshills/devmemory-mcp/internal/telemetry"
)

// app holds the wired services for one command invocation
type app struct {
	cfg       *config.Config
	logger    zerolog.Logger
	storage   storage.Storage
	embedder  *embedder.Service
	metrics   *telemetry.Metrics
	contexts  *contexts.Store
	searcher  *searcher.Searcher
	naming    *naming.Registry
	decisions *decisions.Ledger
	backfill  *backfill.Job
}

// loadConfig applies the command-line flags over the loaded configuration
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	override := func(flag string, dst *string) {
		if flag != "" {
			*dst = flag
		}
	}
	override(dbDriver, &cfg.DBDriver)
	override(dbPath, &cfg.DBPath)
	override(databaseURL, &cfg.DatabaseURL)
	override(logLevel, &cfg.LogLevel)
	override(logFormat, &cfg.LogFormat)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newApp wires storage, the embedding service and every domain service
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}

	metrics, err := telemetry.New()
	if err != nil {
		return nil, fmt.Errorf("create metrics: %w", err)
	}

	st, err := storage.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	emb, err := embedder.NewServiceFromConfig(cfg)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("create embedder: %w", err)
	}

	logger.Info().
		Str("driver", cfg.DBDriver).
		Str("sqlite_build", storage.BuildMode).
		Str("embedding_provider", embedder.DetectProvider(cfg)).
		Str("embedding_model", emb.Model()).
		Int("dimension", emb.Dimension()).
		Msg("devmemory initialised")

	a := &app{
		cfg:      cfg,
		logger:   logger,
		storage:  st,
		embedder: emb,
		metrics:  metrics,
	}
	a.backfill = backfill.New(st, emb, backfill.Config{
		MaxPerRun:    cfg.BackfillMaxPerRun,
		Workers:      cfg.BackfillWorkers,
		EmbedTimeout: cfg.EmbedTimeout,
	}, backfill.WithLogger(logging.Component(logger, "backfill")), backfill.WithMetrics(metrics))
	a.searcher = searcher.NewSearcher(st, emb,
		searcher.WithEmbedTimeout(cfg.EmbedTimeout),
		searcher.WithLogger(logging.Component(logger, "searcher")),
		searcher.WithMetrics(metrics),
	)
	a.naming = naming.NewRegistry(st, logging.Component(logger, "naming"))
	a.decisions = decisions.NewLedger(st, logging.Component(logger, "decisions"))
	return a, nil
}

// withContextStore builds the context store; notifier may be nil
func (a *app) withContextStore(notifier contexts.Notifier) {
	opts := []contexts.Option{
		contexts.WithLogger(logging.Component(a.logger, "contexts")),
		contexts.WithMetrics(a.metrics),
	}
	if notifier != nil {
		opts = append(opts, contexts.WithNotifier(notifier))
	}
	a.contexts = contexts.NewStore(a.storage, a.embedder, a.cfg.EmbedTimeout, opts...)
}

func (a *app) Close() {
	if err := a.embedder.Close(); err != nil {
		a.logger.Warn().Err(err).Msg("close embedder")
	}
	if err := a.storage.Close(); err != nil {
		a.logger.Warn().Err(err).Msg("close storage")
	}
}

// printJSON writes a command result to stdout
func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
