package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Environment string `envconfig:"ENVIRONMENT" default:"local"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	DatabaseURL string `envconfig:"DATABASE_URL" default:""`
	DBMinConns  int32  `envconfig:"INSIGHTS_DB_MIN_CONNS" default:"1"`
	DBMaxConns  int32  `envconfig:"INSIGHTS_DB_MAX_CONNS" default:"8"`

	EmbeddingEndpoint     string        `envconfig:"EMBEDDING_ENDPOINT" default:"http://127.0.0.1:8844/embed"`
	EmbeddingModelName    string        `envconfig:"EMBEDDING_MODEL_NAME" default:"Qwen3-Embedding-8B"`
	EmbeddingModelVersion string        `envconfig:"EMBEDDING_MODEL_VERSION" default:"v1"`
	EmbeddingTimeout      time.Duration `envconfig:"EMBEDDING_TIMEOUT" default:"45s"`
	EmbeddingRatePerSec   float64       `envconfig:"EMBEDDING_RATE_PER_SEC" default:"8"`
	EmbeddingRateBurst    int           `envconfig:"EMBEDDING_RATE_BURST" default:"4"`
	EmbeddingMaxRetries   int           `envconfig:"EMBEDDING_MAX_RETRIES" default:"3"`

	MaxSummaryLen  int           `envconfig:"MAX_SUMMARY_LEN" default:"260"`
	ShortThreshold int           `envconfig:"SHORT_THRESHOLD" default:"120"`
	VectorCacheTTL time.Duration `envconfig:"VECTOR_CACHE_TTL" default:"6h"`

	MaxEvidence int           `envconfig:"MAX_EVIDENCE" default:"50"`
	LockTimeout time.Duration `envconfig:"ROW_LOCK_TIMEOUT" default:"5s"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.DBMinConns < 0 {
		return fmt.Errorf("INSIGHTS_DB_MIN_CONNS must be >= 0")
	}
	if c.DBMaxConns < 1 {
		return fmt.Errorf("INSIGHTS_DB_MAX_CONNS must be >= 1")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("INSIGHTS_DB_MIN_CONNS (%d) cannot exceed INSIGHTS_DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if strings.TrimSpace(c.EmbeddingModelName) == "" {
		return fmt.Errorf("EMBEDDING_MODEL_NAME is required")
	}
	if strings.TrimSpace(c.EmbeddingModelVersion) == "" {
		return fmt.Errorf("EMBEDDING_MODEL_VERSION is required")
	}
	if c.EmbeddingTimeout <= 0 {
		return fmt.Errorf("EMBEDDING_TIMEOUT must be positive")
	}
	if c.EmbeddingRatePerSec <= 0 {
		return fmt.Errorf("EMBEDDING_RATE_PER_SEC must be positive")
	}
	if c.MaxSummaryLen < 40 {
		return fmt.Errorf("MAX_SUMMARY_LEN must be >= 40")
	}
	if c.ShortThreshold < 0 || c.ShortThreshold >= c.MaxSummaryLen {
		return fmt.Errorf("SHORT_THRESHOLD (%d) must be in [0, MAX_SUMMARY_LEN)", c.ShortThreshold)
	}
	if c.MaxEvidence < 1 {
		return fmt.Errorf("MAX_EVIDENCE must be >= 1")
	}
	if c.LockTimeout <= 0 {
		return fmt.Errorf("ROW_LOCK_TIMEOUT must be positive")
	}
	return nil
}
