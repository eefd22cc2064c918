package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 1536, cfg.EmbeddingDimension)
	assert.Equal(t, 8000, cfg.MaxEmbedChars)
	assert.Equal(t, DriverSQLite, cfg.DBDriver)
	assert.Equal(t, TransportStdio, cfg.Transport)
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := cfg.applyEnv(envMap(map[string]string{
		EnvDBDriver:           "postgres",
		EnvDatabaseURL:        "postgres://localhost/devmemory",
		EnvEmbeddingDimension: "768",
		EnvEmbedTimeout:       "250ms",
		EnvIncludeUnembedded:  "true",
		EnvBackfillSchedule:   "off",
		EnvBackfillWorkers:    "8",
	}))
	require.NoError(t, err)

	assert.Equal(t, DriverPostgres, cfg.DBDriver)
	assert.Equal(t, "postgres://localhost/devmemory", cfg.DatabaseURL)
	assert.Equal(t, 768, cfg.EmbeddingDimension)
	assert.Equal(t, 250*time.Millisecond, cfg.EmbedTimeout)
	assert.True(t, cfg.IncludeUnembedded)
	assert.Empty(t, cfg.BackfillSchedule)
	assert.Equal(t, 8, cfg.BackfillWorkers)
	require.NoError(t, cfg.Validate())
}

func TestApplyEnvRejectsMalformedValues(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"dimension", map[string]string{EnvEmbeddingDimension: "lots"}},
		{"timeout", map[string]string{EnvEmbedTimeout: "soon"}},
		{"bool", map[string]string{EnvIncludeUnembedded: "maybe"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Default().applyEnv(envMap(tt.env))
			assert.Error(t, err)
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown driver", func(c *Config) { c.DBDriver = "mysql" }},
		{"postgres without url", func(c *Config) { c.DBDriver = DriverPostgres }},
		{"zero dimension", func(c *Config) { c.EmbeddingDimension = 0 }},
		{"huge dimension", func(c *Config) { c.EmbeddingDimension = MaxEmbeddingDimension + 1 }},
		{"zero timeout", func(c *Config) { c.EmbedTimeout = 0 }},
		{"zero workers", func(c *Config) { c.BackfillWorkers = 0 }},
		{"bad cron", func(c *Config) { c.BackfillSchedule = "every now and then" }},
		{"bad transport", func(c *Config) { c.Transport = "carrier-pigeon" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devmemory.yaml")
	data := []byte("db_path: /tmp/custom.db\nembedding_dimension: 384\nembed_timeout: 2s\nbackfill_schedule: \"*/10 * * * *\"\n")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	cfg := Default()
	require.NoError(t, cfg.loadFile(path))

	assert.Equal(t, "/tmp/custom.db", cfg.DBPath)
	assert.Equal(t, 384, cfg.EmbeddingDimension)
	assert.Equal(t, 2*time.Second, cfg.EmbedTimeout)
	assert.Equal(t, "*/10 * * * *", cfg.BackfillSchedule)
	require.NoError(t, cfg.Validate())
}

func TestLoadFileMissing(t *testing.T) {
	err := Default().loadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
