package app

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"horse.fit/insights/internal/cli"
	"horse.fit/insights/internal/httpapi"
	"horse.fit/insights/internal/insight"
	"horse.fit/insights/internal/logging"
	"horse.fit/insights/internal/metrics"
	"horse.fit/insights/internal/worker"
	payloadschema "horse.fit/insights/schema"
)

func runBatch(args []string) int {
	fs := flag.NewFlagSet("batch", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 10*time.Minute, "Command timeout")
	payloadFile := fs.String("payload-file", "", "Path to a JSON array of insight payloads")
	workers := fs.Int("workers", 4, "Concurrent ingest workers")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	batchJSON, err := loadJSONInput("", *payloadFile, "batch")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid batch input: %v\n", err)
		return 2
	}

	var rawItems []json.RawMessage
	if err := json.Unmarshal(batchJSON, &rawItems); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid batch input: expected a JSON array of payloads: %v\n", err)
		return 2
	}
	if len(rawItems) == 0 {
		fmt.Fprintln(os.Stderr, "Invalid batch input: batch must not be empty")
		return 2
	}

	requests := make([]insight.Request, 0, len(rawItems))
	for i, raw := range rawItems {
		item, err := payloadschema.ValidateInsightPayload(raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid payload at index %d: %v\n", i, err)
			return 2
		}
		requests = append(requests, httpapi.PayloadToRequest(item))
	}

	ctx, cancel, cfg, pool, err := connectPool(*timeout, envLoader)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer cancel()
	defer pool.Close()

	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return 1
	}

	registry := metrics.NewRegistry()
	service := buildService(cfg, pool, registry, logger)
	batch := worker.NewPool(service, logger, *workers)

	results := batch.Run(ctx, requests)
	summary := worker.Summarize(results)

	failed := 0
	for _, item := range results {
		if item.Err != nil {
			failed++
		}
	}

	output := map[string]any{
		"total":   len(results),
		"summary": summary,
		"metrics": registry.Snapshot(),
	}
	if err := printJSON(output); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to encode JSON: %v\n", err)
		return 1
	}

	if failed > 0 {
		fmt.Fprintf(os.Stderr, "%d of %d items failed\n", failed, len(results))
		return 1
	}
	return 0
}
