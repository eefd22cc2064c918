// Package config loads the devmemory server configuration.
//
// Sources are applied in order, each overriding the previous one:
// built-in defaults, an optional YAML file, a .env file in the working
// directory, and DEVMEMORY_* environment variables. Command-line flags are
// applied last by the caller.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Environment variable names
const (
	EnvPrefix = "DEVMEMORY_"

	EnvConfigFile         = "DEVMEMORY_CONFIG"
	EnvDBDriver           = "DEVMEMORY_DB_DRIVER"
	EnvDBPath             = "DEVMEMORY_DB_PATH"
	EnvDatabaseURL        = "DEVMEMORY_DATABASE_URL"
	EnvEmbeddingProvider  = "DEVMEMORY_EMBEDDING_PROVIDER"
	EnvEmbeddingModel     = "DEVMEMORY_EMBEDDING_MODEL"
	EnvEmbeddingDimension = "DEVMEMORY_EMBEDDING_DIMENSION"
	EnvMaxEmbedChars      = "DEVMEMORY_MAX_EMBED_CHARS"
	EnvEmbedTimeout       = "DEVMEMORY_EMBED_TIMEOUT"
	EnvEmbedCacheSize     = "DEVMEMORY_EMBED_CACHE_SIZE"
	EnvOllamaURL          = "DEVMEMORY_OLLAMA_URL"
	EnvIncludeUnembedded  = "DEVMEMORY_INCLUDE_UNEMBEDDED"
	EnvBackfillSchedule   = "DEVMEMORY_BACKFILL_SCHEDULE"
	EnvBackfillMaxPerRun  = "DEVMEMORY_BACKFILL_MAX_PER_RUN"
	EnvBackfillWorkers    = "DEVMEMORY_BACKFILL_WORKERS"
	EnvLogLevel           = "DEVMEMORY_LOG_LEVEL"
	EnvLogFormat          = "DEVMEMORY_LOG_FORMAT"
	EnvTransport          = "DEVMEMORY_TRANSPORT"
	EnvHTTPAddr           = "DEVMEMORY_HTTP_ADDR"

	// Provider keys keep their conventional names
	EnvOpenAIAPIKey = "OPENAI_API_KEY"
	EnvJinaAPIKey   = "JINA_API_KEY"
)

// Supported values
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	TransportStdio = "stdio"
	TransportHTTP  = "http"

	MaxEmbeddingDimension = 16000
)

// Config is the full server configuration
type Config struct {
	DBDriver    string `yaml:"db_driver"`
	DBPath      string `yaml:"db_path"`
	DatabaseURL string `yaml:"database_url"`

	EmbeddingProvider  string        `yaml:"embedding_provider"`
	EmbeddingModel     string        `yaml:"embedding_model"`
	EmbeddingDimension int           `yaml:"embedding_dimension"`
	MaxEmbedChars      int           `yaml:"max_embed_chars"`
	EmbedTimeout       time.Duration `yaml:"embed_timeout"`
	EmbedCacheSize     int           `yaml:"embed_cache_size"`
	OpenAIAPIKey       string        `yaml:"openai_api_key"`
	JinaAPIKey         string        `yaml:"jina_api_key"`
	OllamaURL          string        `yaml:"ollama_url"`

	// IncludeUnembedded ranks rows without embeddings last instead of skipping them
	IncludeUnembedded bool `yaml:"include_unembedded"`

	// BackfillSchedule is a cron spec ("@every 5m", "*/10 * * * *"); empty disables the schedule
	BackfillSchedule  string `yaml:"backfill_schedule"`
	BackfillMaxPerRun int    `yaml:"backfill_max_per_run"`
	BackfillWorkers   int    `yaml:"backfill_workers"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	Transport string `yaml:"transport"`
	HTTPAddr  string `yaml:"http_addr"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		DBDriver:           DriverSQLite,
		DBPath:             defaultDBPath(),
		EmbeddingProvider:  "",
		EmbeddingDimension: 1536,
		MaxEmbedChars:      8000,
		EmbedTimeout:       5 * time.Second,
		EmbedCacheSize:     10000,
		OllamaURL:          "http://localhost:11434",
		BackfillSchedule:   "@every 5m",
		BackfillMaxPerRun:  500,
		BackfillWorkers:    4,
		LogLevel:           "info",
		LogFormat:          "json",
		Transport:          TransportStdio,
		HTTPAddr:           ":8080",
	}
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "devmemory.db"
	}
	return home + "/.devmemory/devmemory.db"
}

// Load builds a configuration from defaults, the YAML file at path (skipped when
// empty), .env and the environment, then validates it.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(EnvConfigFile)
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	// .env never overrides variables already set in the process environment
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// applyEnv overlays environment values. lookup is os.LookupEnv outside tests.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	integer := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: invalid integer %q", key, v)
		}
		*dst = n
		return nil
	}

	str(EnvDBDriver, &c.DBDriver)
	str(EnvDBPath, &c.DBPath)
	str(EnvDatabaseURL, &c.DatabaseURL)
	str(EnvEmbeddingProvider, &c.EmbeddingProvider)
	str(EnvEmbeddingModel, &c.EmbeddingModel)
	str(EnvOpenAIAPIKey, &c.OpenAIAPIKey)
	str(EnvJinaAPIKey, &c.JinaAPIKey)
	str(EnvOllamaURL, &c.OllamaURL)
	str(EnvBackfillSchedule, &c.BackfillSchedule)
	str(EnvLogLevel, &c.LogLevel)
	str(EnvLogFormat, &c.LogFormat)
	str(EnvTransport, &c.Transport)
	str(EnvHTTPAddr, &c.HTTPAddr)

	for key, dst := range map[string]*int{
		EnvEmbeddingDimension: &c.EmbeddingDimension,
		EnvMaxEmbedChars:      &c.MaxEmbedChars,
		EnvEmbedCacheSize:     &c.EmbedCacheSize,
		EnvBackfillMaxPerRun:  &c.BackfillMaxPerRun,
		EnvBackfillWorkers:    &c.BackfillWorkers,
	} {
		if err := integer(key, dst); err != nil {
			return err
		}
	}

	if v, ok := lookup(EnvEmbedTimeout); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: invalid duration %q", EnvEmbedTimeout, v)
		}
		c.EmbedTimeout = d
	}

	if v, ok := lookup(EnvIncludeUnembedded); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: invalid boolean %q", EnvIncludeUnembedded, v)
		}
		c.IncludeUnembedded = b
	}

	// Backfill schedule "off" or "none" disables the cron trigger
	switch strings.ToLower(c.BackfillSchedule) {
	case "off", "none", "disabled":
		c.BackfillSchedule = ""
	}

	return nil
}

// Validate checks the configuration for values the server cannot start with
func (c *Config) Validate() error {
	switch c.DBDriver {
	case DriverSQLite:
		if c.DBPath == "" {
			return errors.New("db_path is required for the sqlite driver")
		}
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return errors.New("database_url is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown db_driver %q (want %s or %s)", c.DBDriver, DriverSQLite, DriverPostgres)
	}

	if c.EmbeddingDimension <= 0 || c.EmbeddingDimension > MaxEmbeddingDimension {
		return fmt.Errorf("embedding_dimension must be in [1, %d], got %d", MaxEmbeddingDimension, c.EmbeddingDimension)
	}
	if c.MaxEmbedChars <= 0 {
		return fmt.Errorf("max_embed_chars must be positive, got %d", c.MaxEmbedChars)
	}
	if c.EmbedTimeout <= 0 {
		return fmt.Errorf("embed_timeout must be positive, got %s", c.EmbedTimeout)
	}
	if c.BackfillWorkers <= 0 {
		return fmt.Errorf("backfill_workers must be positive, got %d", c.BackfillWorkers)
	}
	if c.BackfillMaxPerRun <= 0 {
		return fmt.Errorf("backfill_max_per_run must be positive, got %d", c.BackfillMaxPerRun)
	}
	if c.BackfillSchedule != "" {
		if _, err := cron.ParseStandard(c.BackfillSchedule); err != nil {
			return fmt.Errorf("backfill_schedule %q: %w", c.BackfillSchedule, err)
		}
	}

	switch c.Transport {
	case TransportStdio, TransportHTTP:
	default:
		return fmt.Errorf("unknown transport %q (want %s or %s)", c.Transport, TransportStdio, TransportHTTP)
	}

	return nil
}
