package insight

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"horse.fit/insights/internal/compress"
	"horse.fit/insights/internal/evidence"
	"horse.fit/insights/internal/fingerprint"
	"horse.fit/insights/internal/globaltime"
	"horse.fit/insights/internal/langdetect"
	"horse.fit/insights/internal/language"
	"horse.fit/insights/internal/metrics"
)

// Status is the outcome taxonomy of one ingest call. Callers only ever
// see these plus counts; no store error types cross this boundary.
type Status string

const (
	StatusCreated          Status = "CREATED"
	StatusUpdated          Status = "UPDATED"
	StatusEvidenceAppended Status = "EVIDENCE_APPENDED"
	StatusEvidenceNoop     Status = "EVIDENCE_NOOP"
	StatusSkippedConflict  Status = "SKIPPED_CONFLICT"
	StatusSkippedEmpty     Status = "SKIPPED_EMPTY"
	StatusFailed           Status = "FAILED"
)

// Request is one extracted insight arriving from the document-parsing
// pipeline.
type Request struct {
	OriginDocumentID string
	DriverCode       string
	TargetCode       string
	RawText          string
	HintSentence     string
	Language         string
	Publisher        string
	PublishedAtRaw   string
	Title            string
	URL              string
	SourceType       string
	ValidFrom        *time.Time
	ValidTo          *time.Time
}

func (r Request) businessKey() BusinessKey {
	return BusinessKey{
		OriginDocumentID: r.OriginDocumentID,
		DriverCode:       r.DriverCode,
		TargetCode:       r.TargetCode,
	}.Normalized()
}

type Outcome struct {
	Status        Status `json:"status"`
	RecordID      string `json:"record_id,omitempty"`
	EvidenceCount int    `json:"evidence_count"`
	EvictedCount  int    `json:"evicted_count"`
}

type ServiceOptions struct {
	MaxEvidence int
}

// Service is the dedup/upsert engine: it orchestrates compression,
// fingerprinting, cross-key duplicate resolution, and evidence
// accumulation against the store. One instance serves all workers.
type Service struct {
	store    Store
	pipeline *compress.Pipeline
	metrics  *metrics.Registry
	logger   zerolog.Logger
	opts     ServiceOptions
}

func NewService(store Store, pipeline *compress.Pipeline, registry *metrics.Registry, logger zerolog.Logger, opts ServiceOptions) *Service {
	if opts.MaxEvidence <= 0 {
		opts.MaxEvidence = evidence.DefaultCap
	}
	return &Service{
		store:    store,
		pipeline: pipeline,
		metrics:  registry,
		logger:   logger,
		opts:     opts,
	}
}

// errCreateRace signals a lost create race inside one attempt; the
// ingest loop retries the lookup once before giving up.
var errCreateRace = errors.New("create race lost")

// Ingest runs the LOOKUP → {CREATE, CONTENT_DUPLICATE,
// KEY_MATCH_UPDATE} state machine for one request. Compression and
// embedding happen before any lock is taken; the row lock spans only
// the read-modify-write of the store transaction.
func (s *Service) Ingest(ctx context.Context, req Request) (Outcome, error) {
	started := globaltime.Now()
	outcome, err := s.ingest(ctx, req)
	s.metrics.ObserveOutcome(string(outcome.Status))
	s.metrics.ObserveLatency(globaltime.Since(started))
	return outcome, err
}

func (s *Service) ingest(ctx context.Context, req Request) (Outcome, error) {
	if s == nil || s.store == nil {
		return Outcome{Status: StatusFailed}, fmt.Errorf("insight service is not initialized")
	}

	key := req.businessKey()
	if !key.IsComplete() || strings.TrimSpace(req.RawText) == "" {
		return Outcome{Status: StatusSkippedEmpty}, nil
	}

	// Expensive, lock-free preparation.
	compressed := s.pipeline.Compress(ctx, req.RawText, req.HintSentence)
	summary := compressed.Text
	exact := fingerprint.Exact(summary)
	fuzzy := fingerprint.Fuzzy(summary)
	vector, _ := s.pipeline.Vector(ctx, summary)
	lang := language.NormalizeCode(req.Language)
	if lang == "" {
		lang = langdetect.DetectISO6391(req.RawText)
	}

	citation := s.buildCitation(req)

	outcome, err := s.attempt(ctx, req, key, summary, exact, fuzzy, vector, lang, citation)
	if errors.Is(err, errCreateRace) {
		// Another writer created the record between our lookup and
		// insert; one fresh lookup resolves it as a duplicate.
		outcome, err = s.attempt(ctx, req, key, summary, exact, fuzzy, vector, lang, citation)
		if errors.Is(err, errCreateRace) {
			return Outcome{Status: StatusSkippedConflict}, nil
		}
	}
	if errors.Is(err, ErrLockTimeout) {
		s.logger.Warn().
			Str("origin_document_id", key.OriginDocumentID).
			Str("target_code", key.TargetCode).
			Msg("row lock timed out; skipping as conflict")
		return Outcome{Status: StatusSkippedConflict}, nil
	}
	if err != nil {
		s.logger.Error().Err(err).
			Str("origin_document_id", key.OriginDocumentID).
			Str("target_code", key.TargetCode).
			Msg("ingest failed")
		return Outcome{Status: StatusFailed}, err
	}
	return outcome, nil
}

func (s *Service) attempt(
	ctx context.Context,
	req Request,
	key BusinessKey,
	summary string,
	exact, fuzzy fingerprint.Hash,
	vector []float64,
	lang string,
	citation evidence.Citation,
) (Outcome, error) {
	var outcome Outcome

	err := s.store.WithinTx(ctx, func(tx Tx) error {
		existing, found, err := tx.GetForUpdate(ctx, key)
		if err != nil {
			return err
		}

		if found {
			result, err := s.mergeIntoOwnKey(ctx, tx, existing, summary, exact, fuzzy, vector, citation)
			if err != nil {
				return err
			}
			outcome = result
			return nil
		}

		duplicate, err := s.findCrossKeyDuplicate(ctx, tx, key, summary, exact, fuzzy, vector)
		if err != nil {
			return err
		}
		if duplicate != nil {
			result, err := s.appendEvidence(ctx, tx, duplicate, citation)
			if err != nil {
				return err
			}
			outcome = result
			return nil
		}

		record := s.newRecord(req, key, summary, exact, fuzzy, vector, lang, citation)
		if err := tx.Insert(ctx, record); err != nil {
			if errors.Is(err, ErrConflict) {
				return errCreateRace
			}
			return err
		}
		outcome = Outcome{
			Status:        StatusCreated,
			RecordID:      record.ID,
			EvidenceCount: 1,
		}
		return nil
	})
	if err != nil {
		return Outcome{}, err
	}
	return outcome, nil
}

// mergeIntoOwnKey handles the record already stored under this
// business key: either a content revision or an evidence append.
func (s *Service) mergeIntoOwnKey(
	ctx context.Context,
	tx Tx,
	existing *Record,
	summary string,
	exact, fuzzy fingerprint.Hash,
	vector []float64,
	citation evidence.Citation,
) (Outcome, error) {
	if existing.ExactFingerprint != exact {
		// Content revision: overwrite the claim, keep the evidence.
		if err := tx.UpdateSummary(ctx, existing.Key, summary, exact, fuzzy, vector, globaltime.UTC()); err != nil {
			return Outcome{}, err
		}
		return Outcome{
			Status:        StatusUpdated,
			RecordID:      existing.ID,
			EvidenceCount: len(existing.Evidence),
		}, nil
	}
	return s.appendEvidence(ctx, tx, existing, citation)
}

// findCrossKeyDuplicate looks for a different-key record stating the
// same logical claim about the same target, then re-locks the chosen
// record so the evidence read-modify-write is serialized.
func (s *Service) findCrossKeyDuplicate(
	ctx context.Context,
	tx Tx,
	key BusinessKey,
	summary string,
	exact, fuzzy fingerprint.Hash,
	vector []float64,
) (*Record, error) {
	candidates, err := tx.FindCandidatesByTarget(ctx, key.TargetCode, key)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	match, signal, score := matchContentDuplicate(candidates, exact, fuzzy, fingerprint.Normalize(summary), vector)
	if match == nil {
		return nil, nil
	}

	locked, found, err := tx.LockRecord(ctx, match.Key)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}

	s.logger.Debug().
		Str("signal", string(signal)).
		Float64("score", score).
		Str("record_id", locked.ID).
		Str("target_code", key.TargetCode).
		Msg("cross-key content duplicate matched")
	return locked, nil
}

func (s *Service) appendEvidence(ctx context.Context, tx Tx, record *Record, citation evidence.Citation) (Outcome, error) {
	if evidence.Contains(record.Evidence, citation.SourceUID) {
		return Outcome{
			Status:        StatusEvidenceNoop,
			RecordID:      record.ID,
			EvidenceCount: len(record.Evidence),
		}, nil
	}

	updated, evicted, err := evidence.Append(record.Evidence, citation, s.opts.MaxEvidence)
	if err != nil {
		return Outcome{}, err
	}
	if err := tx.UpdateEvidence(ctx, record.Key, updated, globaltime.UTC()); err != nil {
		return Outcome{}, err
	}
	return Outcome{
		Status:        StatusEvidenceAppended,
		RecordID:      record.ID,
		EvidenceCount: len(updated),
		EvictedCount:  evicted,
	}, nil
}

func (s *Service) newRecord(
	req Request,
	key BusinessKey,
	summary string,
	exact, fuzzy fingerprint.Hash,
	vector []float64,
	lang string,
	citation evidence.Citation,
) *Record {
	now := globaltime.UTC()
	return &Record{
		ID:               uuid.NewString(),
		Key:              key,
		RelationType:     RelationTypeDriverImpact,
		SummaryText:      summary,
		ExactFingerprint: exact,
		FuzzyFingerprint: fuzzy,
		SummaryVector:    vector,
		Language:         lang,
		Evidence:         []evidence.Citation{citation},
		ValidFrom:        req.ValidFrom,
		ValidTo:          req.ValidTo,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func (s *Service) buildCitation(req Request) evidence.Citation {
	publishedAt, dateFailed := evidence.NormalizeDate(req.PublishedAtRaw)
	return evidence.Citation{
		SourceUID:           evidence.SourceUID(req.SourceType, req.OriginDocumentID),
		OriginDocumentID:    strings.TrimSpace(req.OriginDocumentID),
		Publisher:           strings.TrimSpace(req.Publisher),
		PublishedAt:         publishedAt,
		DateNormalizeFailed: dateFailed,
		Title:               strings.TrimSpace(req.Title),
		URL:                 strings.TrimSpace(req.URL),
		SourceType:          strings.TrimSpace(strings.ToLower(req.SourceType)),
		AddedAt:             globaltime.UTC(),
	}
}
