package worker

import (
	"context"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"horse.fit/insights/internal/insight"
)

const defaultWorkers = 4

// BatchItem pairs one request with its ingest result. A failed item
// carries its error here instead of aborting the batch.
type BatchItem struct {
	Request insight.Request
	Outcome insight.Outcome
	Err     error
}

// Pool fans a batch of insight requests over a bounded number of
// concurrent ingest calls. Row-level locking in the store keeps
// concurrent items targeting the same claim safe.
type Pool struct {
	service *insight.Service
	logger  zerolog.Logger
	workers int
}

func NewPool(service *insight.Service, logger zerolog.Logger, workers int) *Pool {
	if workers <= 0 {
		workers = defaultWorkers
	}
	return &Pool{
		service: service,
		logger:  logger,
		workers: workers,
	}
}

// Run ingests every request and returns one result per request, in
// input order. Item failures never fail the batch; a canceled context
// surfaces as per-item errors.
func (p *Pool) Run(ctx context.Context, requests []insight.Request) []BatchItem {
	results := make([]BatchItem, len(requests))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)

	for i, req := range requests {
		g.Go(func() error {
			outcome, err := p.service.Ingest(gCtx, req)
			results[i] = BatchItem{Request: req, Outcome: outcome, Err: err}
			if err != nil {
				p.logger.Warn().Err(err).
					Str("origin_document_id", req.OriginDocumentID).
					Str("target_code", req.TargetCode).
					Msg("batch item failed")
			}
			return nil
		})
	}

	_ = g.Wait()
	return results
}

// Summarize tallies batch results by outcome status.
func Summarize(results []BatchItem) map[insight.Status]int {
	summary := make(map[insight.Status]int, len(results))
	for _, item := range results {
		summary[item.Outcome.Status]++
	}
	return summary
}
