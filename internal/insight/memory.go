package insight

import (
	"context"
	"fmt"
	"sync"
	"time"

	"horse.fit/insights/internal/evidence"
	"horse.fit/insights/internal/fingerprint"
)

// MemoryStore is an in-process Store used by tests and the dry-run
// ingest path. Transactions are serialized by one mutex; writes are
// staged per transaction and only reach the shared maps on commit, so
// a failed fn leaves no partial state behind.
type MemoryStore struct {
	mu      sync.Mutex
	records map[BusinessKey]*Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[BusinessKey]*Record)}
}

func (s *MemoryStore) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memoryTx{store: s, staged: make(map[BusinessKey]*Record)}
	if err := fn(tx); err != nil {
		return err
	}
	for key, record := range tx.staged {
		s.records[key] = record
	}
	return nil
}

// Count returns the number of stored records.
func (s *MemoryStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Get returns a clone of the stored record outside any transaction.
func (s *MemoryStore) Get(key BusinessKey) (*Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, found := s.records[key]
	if !found {
		return nil, false
	}
	return record.Clone(), true
}

type memoryTx struct {
	store  *MemoryStore
	staged map[BusinessKey]*Record
}

func (t *memoryTx) lookup(key BusinessKey) (*Record, bool) {
	if record, found := t.staged[key]; found {
		return record, true
	}
	record, found := t.store.records[key]
	return record, found
}

func (t *memoryTx) GetForUpdate(_ context.Context, key BusinessKey) (*Record, bool, error) {
	record, found := t.lookup(key)
	if !found {
		return nil, false, nil
	}
	return record.Clone(), true, nil
}

func (t *memoryTx) LockRecord(ctx context.Context, key BusinessKey) (*Record, bool, error) {
	return t.GetForUpdate(ctx, key)
}

func (t *memoryTx) FindCandidatesByTarget(_ context.Context, targetCode string, exclude BusinessKey) ([]*Record, error) {
	var candidates []*Record
	for key, record := range t.store.records {
		if key == exclude || key.TargetCode != targetCode {
			continue
		}
		if _, staged := t.staged[key]; staged {
			continue
		}
		candidates = append(candidates, record.Clone())
	}
	for key, record := range t.staged {
		if key == exclude || key.TargetCode != targetCode {
			continue
		}
		candidates = append(candidates, record.Clone())
	}
	return candidates, nil
}

func (t *memoryTx) Insert(_ context.Context, record *Record) error {
	key := record.Key
	if _, found := t.lookup(key); found {
		return ErrConflict
	}
	t.staged[key] = record.Clone()
	return nil
}

func (t *memoryTx) UpdateSummary(_ context.Context, key BusinessKey, summary string, exact, fuzzy fingerprint.Hash, vector []float64, updatedAt time.Time) error {
	record, found := t.lookup(key)
	if !found {
		return fmt.Errorf("update summary: record not found for key %+v", key)
	}
	updated := record.Clone()
	updated.SummaryText = summary
	updated.ExactFingerprint = exact
	updated.FuzzyFingerprint = fuzzy
	if vector != nil {
		updated.SummaryVector = append([]float64(nil), vector...)
	}
	updated.UpdatedAt = updatedAt
	t.staged[key] = updated
	return nil
}

func (t *memoryTx) UpdateEvidence(_ context.Context, key BusinessKey, list []evidence.Citation, updatedAt time.Time) error {
	record, found := t.lookup(key)
	if !found {
		return fmt.Errorf("update evidence: record not found for key %+v", key)
	}
	updated := record.Clone()
	updated.Evidence = append([]evidence.Citation(nil), list...)
	updated.UpdatedAt = updatedAt
	t.staged[key] = updated
	return nil
}
