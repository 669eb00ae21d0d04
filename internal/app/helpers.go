package app

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/insights/internal/cli"
	"horse.fit/insights/internal/compress"
	"horse.fit/insights/internal/config"
	"horse.fit/insights/internal/db"
	"horse.fit/insights/internal/embed"
	"horse.fit/insights/internal/insight"
	"horse.fit/insights/internal/metrics"
	"horse.fit/insights/internal/retry"
)

const (
	outputFormatTable = "table"
	outputFormatJSON  = "json"
)

func parseOutputFormat(raw, defaultFormat string) (string, error) {
	format := strings.TrimSpace(strings.ToLower(raw))
	if format == "" {
		format = strings.TrimSpace(strings.ToLower(defaultFormat))
	}
	switch format {
	case outputFormatTable, outputFormatJSON:
		return format, nil
	default:
		return "", fmt.Errorf("--format must be table or json")
	}
}

func loadJSONInput(inlineValue, filePath, label string) (json.RawMessage, error) {
	if path := strings.TrimSpace(filePath); path != "" {
		payload, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s file %q: %w", label, path, err)
		}
		trimmed := strings.TrimSpace(string(payload))
		if trimmed == "" {
			return nil, fmt.Errorf("%s file %q is empty", label, path)
		}
		return json.RawMessage(trimmed), nil
	}

	trimmed := strings.TrimSpace(inlineValue)
	if trimmed == "" {
		return nil, fmt.Errorf("%s JSON is empty", label)
	}
	return json.RawMessage(trimmed), nil
}

func printJSON(value any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}

func writeTable(headers []string, rows [][]string) error {
	writer := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	if _, err := fmt.Fprintln(writer, strings.Join(headers, "\t")); err != nil {
		return err
	}
	for _, row := range rows {
		if _, err := fmt.Fprintln(writer, strings.Join(row, "\t")); err != nil {
			return err
		}
	}
	return writer.Flush()
}

func loadEnvAndConfig(envLoader *cli.EnvLoader) (*config.Config, error) {
	if envLoader != nil {
		if _, err := envLoader.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func connectPool(timeout time.Duration, envLoader *cli.EnvLoader) (context.Context, context.CancelFunc, *config.Config, *db.Pool, error) {
	cfg, err := loadEnvAndConfig(envLoader)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		cancel()
		return nil, nil, nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return ctx, cancel, cfg, pool, nil
}

// buildService wires embedder, compression pipeline, and the
// database-backed edge store into one ingest service.
func buildService(cfg *config.Config, pool *db.Pool, registry *metrics.Registry, logger zerolog.Logger) *insight.Service {
	embedder := embed.NewClient(embed.Options{
		Endpoint:       cfg.EmbeddingEndpoint,
		ModelName:      cfg.EmbeddingModelName,
		ModelVersion:   cfg.EmbeddingModelVersion,
		RequestTimeout: cfg.EmbeddingTimeout,
		RatePerSec:     cfg.EmbeddingRatePerSec,
		RateBurst:      cfg.EmbeddingRateBurst,
	})

	pipeline := compress.NewPipeline(embedder, registry, logger, compress.Options{
		MaxSummaryLen:  cfg.MaxSummaryLen,
		ShortThreshold: cfg.ShortThreshold,
		CacheTTL:       cfg.VectorCacheTTL,
		RetryPolicy: retry.Policy{
			MaxAttempts: cfg.EmbeddingMaxRetries,
			BaseDelay:   200 * time.Millisecond,
			Retryable:   embed.IsTransient,
		},
	})

	store := db.NewEdgeStore(pool, cfg.LockTimeout)
	return insight.NewService(store, pipeline, registry, logger, insight.ServiceOptions{
		MaxEvidence: cfg.MaxEvidence,
	})
}
