package insight

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/insights/internal/compress"
	"horse.fit/insights/internal/evidence"
	"horse.fit/insights/internal/fingerprint"
	"horse.fit/insights/internal/metrics"
)

type stubEmbedder struct {
	vec []float64
}

func (s *stubEmbedder) Embed(_ context.Context, _ string) ([]float64, error) {
	return append([]float64(nil), s.vec...), nil
}

func (s *stubEmbedder) ModelName() string    { return "stub-embedder" }
func (s *stubEmbedder) ModelVersion() string { return "v1" }

func newTestService(t *testing.T, store Store, embedder compress.Embedder, maxEvidence int) *Service {
	t.Helper()
	registry := metrics.NewRegistry()
	pipeline := compress.NewPipeline(embedder, registry, zerolog.Nop(), compress.Options{})
	return NewService(store, pipeline, registry, zerolog.Nop(), ServiceOptions{MaxEvidence: maxEvidence})
}

func testRequest(doc, text, published string) Request {
	return Request{
		OriginDocumentID: doc,
		DriverCode:       "opec_supply",
		TargetCode:       "WTI",
		RawText:          text,
		Language:         "en",
		Publisher:        "Example Wire",
		PublishedAtRaw:   published,
		Title:            "Oil market update",
		URL:              "https://news.example.com/" + doc,
		SourceType:       "news",
	}
}

func TestIngest_CreatedThenEvidenceNoop(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	svc := newTestService(t, store, nil, 0)
	req := testRequest("doc-1", "Oil prices rose 12% this quarter amid supply constraints.", "2026-01-05")

	first, err := svc.Ingest(context.Background(), req)
	if err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	if first.Status != StatusCreated {
		t.Fatalf("first status = %s, want %s", first.Status, StatusCreated)
	}
	if first.EvidenceCount != 1 {
		t.Fatalf("first evidence count = %d, want 1", first.EvidenceCount)
	}

	second, err := svc.Ingest(context.Background(), req)
	if err != nil {
		t.Fatalf("second ingest: %v", err)
	}
	if second.Status != StatusEvidenceNoop {
		t.Fatalf("second status = %s, want %s", second.Status, StatusEvidenceNoop)
	}
	if second.RecordID != first.RecordID {
		t.Fatalf("record id changed across identical ingests: %s vs %s", first.RecordID, second.RecordID)
	}
	if store.Count() != 1 {
		t.Fatalf("store count = %d, want 1", store.Count())
	}
}

func TestIngest_SkippedEmpty(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, NewMemoryStore(), nil, 0)

	blank := testRequest("doc-1", "   ", "2026-01-05")
	outcome, err := svc.Ingest(context.Background(), blank)
	if err != nil {
		t.Fatalf("blank text ingest: %v", err)
	}
	if outcome.Status != StatusSkippedEmpty {
		t.Fatalf("blank text status = %s, want %s", outcome.Status, StatusSkippedEmpty)
	}

	noTarget := testRequest("doc-2", "Oil prices rose.", "2026-01-05")
	noTarget.TargetCode = ""
	outcome, err = svc.Ingest(context.Background(), noTarget)
	if err != nil {
		t.Fatalf("missing target ingest: %v", err)
	}
	if outcome.Status != StatusSkippedEmpty {
		t.Fatalf("missing target status = %s, want %s", outcome.Status, StatusSkippedEmpty)
	}
}

func TestIngest_KeyMatchUpdateKeepsEvidence(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	svc := newTestService(t, store, nil, 0)

	original := testRequest("doc-1", "Oil prices rose 12% this quarter amid supply constraints.", "2026-01-05")
	created, err := svc.Ingest(context.Background(), original)
	if err != nil {
		t.Fatalf("create ingest: %v", err)
	}

	revised := testRequest("doc-1", "Oil prices rose 14% this quarter after the revised supply data.", "2026-01-06")
	updated, err := svc.Ingest(context.Background(), revised)
	if err != nil {
		t.Fatalf("revision ingest: %v", err)
	}
	if updated.Status != StatusUpdated {
		t.Fatalf("revision status = %s, want %s", updated.Status, StatusUpdated)
	}
	if updated.RecordID != created.RecordID {
		t.Fatalf("revision changed record id: %s vs %s", created.RecordID, updated.RecordID)
	}

	record, found := store.Get(revised.businessKey())
	if !found {
		t.Fatalf("record missing after revision")
	}
	if record.ExactFingerprint != fingerprint.Exact(record.SummaryText) {
		t.Fatalf("stored fingerprint does not match stored summary")
	}
	if record.SummaryText == "Oil prices rose 12% this quarter amid supply constraints." {
		t.Fatalf("summary was not overwritten by the revision")
	}
	if len(record.Evidence) != 1 {
		t.Fatalf("evidence count after revision = %d, want 1", len(record.Evidence))
	}
}

func TestIngest_ParaphraseMergesBySemanticSignal(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	embedder := &stubEmbedder{vec: []float64{0.2, 0.4, 0.6}}
	svc := newTestService(t, store, embedder, 0)

	first := testRequest("doc-1", "Oil prices rose 12% this quarter amid persistent supply constraints.", "2026-01-05")
	created, err := svc.Ingest(context.Background(), first)
	if err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	if created.Status != StatusCreated {
		t.Fatalf("first status = %s, want %s", created.Status, StatusCreated)
	}

	// A different document stating the same claim in different words:
	// fingerprints and token overlap both miss, the cosine signal hits.
	second := testRequest("doc-2", "Crude climbed twelve percent over the period as output stayed tight.", "2026-01-06")
	merged, err := svc.Ingest(context.Background(), second)
	if err != nil {
		t.Fatalf("paraphrase ingest: %v", err)
	}
	if merged.Status != StatusEvidenceAppended {
		t.Fatalf("paraphrase status = %s, want %s", merged.Status, StatusEvidenceAppended)
	}
	if merged.RecordID != created.RecordID {
		t.Fatalf("paraphrase created a second record: %s vs %s", created.RecordID, merged.RecordID)
	}
	if merged.EvidenceCount != 2 {
		t.Fatalf("evidence count after merge = %d, want 2", merged.EvidenceCount)
	}
	if store.Count() != 1 {
		t.Fatalf("store count = %d, want 1", store.Count())
	}
}

func TestIngest_EvidenceCapEvictsOldest(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	svc := newTestService(t, store, nil, 3)

	text := "Oil prices rose 12% this quarter amid persistent supply constraints."
	var firstKey BusinessKey
	var last Outcome
	for day := 1; day <= 5; day++ {
		req := testRequest(fmt.Sprintf("doc-%d", day), text, fmt.Sprintf("2026-01-%02d", day))
		if day == 1 {
			firstKey = req.businessKey()
		}
		outcome, err := svc.Ingest(context.Background(), req)
		if err != nil {
			t.Fatalf("ingest day %d: %v", day, err)
		}
		last = outcome
	}

	if store.Count() != 1 {
		t.Fatalf("store count = %d, want 1", store.Count())
	}
	if last.Status != StatusEvidenceAppended {
		t.Fatalf("final status = %s, want %s", last.Status, StatusEvidenceAppended)
	}
	if last.EvidenceCount != 3 {
		t.Fatalf("final evidence count = %d, want 3", last.EvidenceCount)
	}
	if last.EvictedCount != 1 {
		t.Fatalf("final evicted count = %d, want 1", last.EvictedCount)
	}

	record, found := store.Get(firstKey)
	if !found {
		t.Fatalf("record missing under creating key")
	}
	wantDocs := []string{"doc-5", "doc-4", "doc-3"}
	for i, want := range wantDocs {
		if record.Evidence[i].OriginDocumentID != want {
			t.Fatalf("evidence[%d] = %s, want %s", i, record.Evidence[i].OriginDocumentID, want)
		}
	}
}

func TestIngest_ConcurrentSameClaimLosesNoCitations(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	svc := newTestService(t, store, nil, 0)

	const writers = 12
	text := "Oil prices rose 12% this quarter amid persistent supply constraints."

	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := testRequest(fmt.Sprintf("doc-%02d", i), text, "2026-01-05")
			if _, err := svc.Ingest(context.Background(), req); err != nil {
				errs <- fmt.Errorf("writer %d: %w", i, err)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}

	if store.Count() != 1 {
		t.Fatalf("store count = %d, want 1", store.Count())
	}
	record, found := store.Get(testRequest("doc-00", text, "").businessKey())
	if !found {
		// The creating writer is nondeterministic; find the record by
		// trying every key.
		for i := 0; i < writers; i++ {
			if record, found = store.Get(testRequest(fmt.Sprintf("doc-%02d", i), text, "").businessKey()); found {
				break
			}
		}
	}
	if !found {
		t.Fatalf("no record found under any writer key")
	}
	if len(record.Evidence) != writers {
		t.Fatalf("evidence count = %d, want %d", len(record.Evidence), writers)
	}
	seen := make(map[string]bool, writers)
	for _, c := range record.Evidence {
		if seen[c.SourceUID] {
			t.Fatalf("duplicate source uid %s in evidence", c.SourceUID)
		}
		seen[c.SourceUID] = true
	}
}

// raceStore simulates losing a create race: the first transaction sees
// no record and its insert hits the unique constraint; the retried
// transaction finds the competing record.
type raceStore struct {
	mu       sync.Mutex
	attempts int
	existing *Record
	updated  []evidence.Citation
}

func (s *raceStore) WithinTx(_ context.Context, fn func(Tx) error) error {
	s.mu.Lock()
	s.attempts++
	attempt := s.attempts
	s.mu.Unlock()
	return fn(&raceTx{store: s, attempt: attempt})
}

type raceTx struct {
	store   *raceStore
	attempt int
}

func (t *raceTx) GetForUpdate(_ context.Context, _ BusinessKey) (*Record, bool, error) {
	if t.attempt == 1 || t.store.existing == nil {
		return nil, false, nil
	}
	return t.store.existing, true, nil
}

func (t *raceTx) LockRecord(ctx context.Context, key BusinessKey) (*Record, bool, error) {
	return t.GetForUpdate(ctx, key)
}

func (t *raceTx) FindCandidatesByTarget(_ context.Context, _ string, _ BusinessKey) ([]*Record, error) {
	return nil, nil
}

func (t *raceTx) Insert(_ context.Context, _ *Record) error {
	return ErrConflict
}

func (t *raceTx) UpdateSummary(_ context.Context, _ BusinessKey, _ string, _, _ fingerprint.Hash, _ []float64, _ time.Time) error {
	return nil
}

func (t *raceTx) UpdateEvidence(_ context.Context, _ BusinessKey, list []evidence.Citation, _ time.Time) error {
	t.store.updated = list
	return nil
}

func TestIngest_CreateRaceRetriesOnce(t *testing.T) {
	t.Parallel()

	req := testRequest("doc-1", "Oil prices rose 12% this quarter amid supply constraints.", "2026-01-05")
	summary := req.RawText // short inputs pass through compression untouched

	store := &raceStore{
		existing: &Record{
			ID:               "winner",
			Key:              req.businessKey(),
			RelationType:     RelationTypeDriverImpact,
			SummaryText:      summary,
			ExactFingerprint: fingerprint.Exact(summary),
			FuzzyFingerprint: fingerprint.Fuzzy(summary),
			Evidence: []evidence.Citation{{
				SourceUID:        "news:doc-0",
				OriginDocumentID: "doc-0",
				AddedAt:          time.Date(2026, 1, 4, 0, 0, 0, 0, time.UTC),
			}},
		},
	}
	svc := newTestService(t, store, nil, 0)

	outcome, err := svc.Ingest(context.Background(), req)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if outcome.Status != StatusEvidenceAppended {
		t.Fatalf("status = %s, want %s", outcome.Status, StatusEvidenceAppended)
	}
	if outcome.RecordID != "winner" {
		t.Fatalf("record id = %s, want winner", outcome.RecordID)
	}
	if store.attempts != 2 {
		t.Fatalf("transaction attempts = %d, want 2", store.attempts)
	}
	if len(store.updated) != 2 {
		t.Fatalf("updated evidence length = %d, want 2", len(store.updated))
	}
}

func TestIngest_RepeatedCreateRaceSkipsAsConflict(t *testing.T) {
	t.Parallel()

	store := &raceStore{} // existing stays nil: every attempt loses the race
	svc := newTestService(t, store, nil, 0)

	req := testRequest("doc-1", "Oil prices rose 12% this quarter.", "2026-01-05")
	outcome, err := svc.Ingest(context.Background(), req)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if outcome.Status != StatusSkippedConflict {
		t.Fatalf("status = %s, want %s", outcome.Status, StatusSkippedConflict)
	}
	if store.attempts != 2 {
		t.Fatalf("transaction attempts = %d, want 2", store.attempts)
	}
}

type lockTimeoutStore struct{}

func (lockTimeoutStore) WithinTx(_ context.Context, fn func(Tx) error) error {
	return fn(lockTimeoutTx{})
}

type lockTimeoutTx struct{}

func (lockTimeoutTx) GetForUpdate(_ context.Context, _ BusinessKey) (*Record, bool, error) {
	return nil, false, fmt.Errorf("acquire row lock: %w", ErrLockTimeout)
}

func (lockTimeoutTx) LockRecord(_ context.Context, _ BusinessKey) (*Record, bool, error) {
	return nil, false, ErrLockTimeout
}

func (lockTimeoutTx) FindCandidatesByTarget(_ context.Context, _ string, _ BusinessKey) ([]*Record, error) {
	return nil, nil
}

func (lockTimeoutTx) Insert(_ context.Context, _ *Record) error { return nil }

func (lockTimeoutTx) UpdateSummary(_ context.Context, _ BusinessKey, _ string, _, _ fingerprint.Hash, _ []float64, _ time.Time) error {
	return nil
}

func (lockTimeoutTx) UpdateEvidence(_ context.Context, _ BusinessKey, _ []evidence.Citation, _ time.Time) error {
	return nil
}

func TestIngest_LockTimeoutSkipsAsConflict(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, lockTimeoutStore{}, nil, 0)
	req := testRequest("doc-1", "Oil prices rose 12% this quarter.", "2026-01-05")

	outcome, err := svc.Ingest(context.Background(), req)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if outcome.Status != StatusSkippedConflict {
		t.Fatalf("status = %s, want %s", outcome.Status, StatusSkippedConflict)
	}
}
