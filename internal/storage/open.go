package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dshills/devmemory-mcp/internal/config"
)

// Open returns the storage backend selected by cfg.DBDriver
func Open(ctx context.Context, cfg *config.Config) (Storage, error) {
	switch cfg.DBDriver {
	case config.DriverPostgres:
		return NewPostgresStorage(ctx, cfg.DatabaseURL, cfg.EmbeddingDimension)
	case config.DriverSQLite, "":
		if cfg.DBPath != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		return NewSQLiteStorage(ctx, cfg.DBPath, cfg.EmbeddingDimension)
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.DBDriver)
	}
}
