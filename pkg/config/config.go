package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for oppmine-engine.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords, keys) must only come from environment variables.
type Config struct {
	Env     string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version string `yaml:"-"` // Set at load time, not from config

	// Database configuration (PostgreSQL)
	Database DatabaseConfig `yaml:"database"`

	// Reddit opportunity source configuration
	Reddit RedditConfig `yaml:"reddit"`

	// Scoring LLM endpoint configuration
	Scoring ScoringConfig `yaml:"scoring"`

	// Harvest batch settings
	Harvest HarvestConfig `yaml:"harvest"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"oppmine"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"oppmine_engine"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
	MigrationsPath string `yaml:"migrations_path" env:"PGMIGRATIONS_PATH" env-default:"migrations"`
}

// RedditConfig holds settings for the opportunity source.
// The engine only pulls single listing pages; rate limiting and pagination
// are deliberately left to the upstream fetcher deployment.
type RedditConfig struct {
	BaseURL    string        `yaml:"base_url" env:"REDDIT_BASE_URL" env-default:"https://www.reddit.com"`
	UserAgent  string        `yaml:"user_agent" env:"REDDIT_USER_AGENT" env-default:"oppmine-engine/1.0"`
	Subreddit  string        `yaml:"subreddit" env:"REDDIT_SUBREDDIT" env-default:"SomebodyMakeThis"`
	FetchLimit int           `yaml:"fetch_limit" env:"REDDIT_FETCH_LIMIT" env-default:"50"`
	Timeout    time.Duration `yaml:"timeout" env:"REDDIT_TIMEOUT" env-default:"15s"`
}

// ScoringConfig holds the OpenAI-compatible scoring endpoint settings.
type ScoringConfig struct {
	Endpoint    string  `yaml:"endpoint" env:"SCORING_ENDPOINT" env-default:"https://api.openai.com/v1"`
	Model       string  `yaml:"model" env:"SCORING_MODEL" env-default:"gpt-4o-mini"`
	APIKey      string  `yaml:"-" env:"SCORING_API_KEY"` // Secret - not in YAML
	Temperature float64 `yaml:"temperature" env:"SCORING_TEMPERATURE" env-default:"0.2"`
	// Enabled controls whether unique concepts are scored after dedup.
	// Disable for dry runs and backfills that only classify.
	Enabled bool `yaml:"enabled" env:"SCORING_ENABLED" env-default:"true"`
}

// HarvestConfig holds batch driver settings.
type HarvestConfig struct {
	// MaxStoreRetries bounds retries of transient store failures per record.
	MaxStoreRetries int `yaml:"max_store_retries" env:"HARVEST_MAX_STORE_RETRIES" env-default:"3"`
	// KeepResults controls whether per-record results are retained in
	// BatchStats (memory-heavy for large backfills).
	KeepResults bool `yaml:"keep_results" env:"HARVEST_KEEP_RESULTS" env-default:"false"`
}

// Load reads configuration from config.yaml with environment variable
// overrides. The version parameter is injected at build time and set on the
// returned Config. Secrets (PGPASSWORD, SCORING_API_KEY) must come from
// environment variables (yaml:"-" fields). If config.yaml does not exist,
// configuration comes from environment variables alone.
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if _, err := os.Stat("config.yaml"); err == nil {
		if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
			return nil, fmt.Errorf("failed to read config.yaml: %w", err)
		}
	} else {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Reddit.FetchLimit <= 0 || c.Reddit.FetchLimit > 100 {
		return fmt.Errorf("reddit fetch_limit must be in 1..100, got %d", c.Reddit.FetchLimit)
	}
	if c.Scoring.Enabled && c.Scoring.Endpoint == "" {
		return fmt.Errorf("scoring endpoint is required when scoring is enabled")
	}
	if c.Scoring.Enabled && c.Scoring.Model == "" {
		return fmt.Errorf("scoring model is required when scoring is enabled")
	}
	return nil
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}
