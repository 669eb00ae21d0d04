package db

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"horse.fit/insights/internal/evidence"
	"horse.fit/insights/internal/fingerprint"
	"horse.fit/insights/internal/insight"
)

// candidateLimit caps the cross-key candidate scan per target. Targets
// with more records than this are pathological; the newest rows are
// the ones a fresh document is most likely to duplicate.
const candidateLimit = 64

const edgeColumns = `edge_uuid, origin_document_id, driver_code, target_code, relation_type,
summary_text, exact_fingerprint, fuzzy_fingerprint, summary_vector, language, evidence,
valid_from, valid_to, created_at, updated_at`

// EdgeStore implements the insight store over Postgres. Row locks are
// taken with SELECT FOR UPDATE under a per-transaction lock_timeout so
// a contended row degrades to a skip instead of a pile-up.
type EdgeStore struct {
	pool        *Pool
	lockTimeout time.Duration
}

func NewEdgeStore(pool *Pool, lockTimeout time.Duration) *EdgeStore {
	if lockTimeout <= 0 {
		lockTimeout = 5 * time.Second
	}
	return &EdgeStore{pool: pool, lockTimeout: lockTimeout}
}

func (s *EdgeStore) WithinTx(ctx context.Context, fn func(tx insight.Tx) error) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("edge store is not initialized")
	}

	tx, err := s.pool.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	lockMS := s.lockTimeout.Milliseconds()
	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", lockMS)); err != nil {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("set lock timeout: %w", err)
	}

	if err := fn(&edgeTx{tx: tx}); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

type edgeTx struct {
	tx Tx
}

func (t *edgeTx) GetForUpdate(ctx context.Context, key insight.BusinessKey) (*insight.Record, bool, error) {
	return t.fetch(ctx, key, true)
}

func (t *edgeTx) LockRecord(ctx context.Context, key insight.BusinessKey) (*insight.Record, bool, error) {
	return t.fetch(ctx, key, true)
}

func (t *edgeTx) fetch(ctx context.Context, key insight.BusinessKey, forUpdate bool) (*insight.Record, bool, error) {
	query := `SELECT ` + edgeColumns + `
FROM insights.insight_edges
WHERE origin_document_id = ? AND driver_code = ? AND target_code = ?`
	if forUpdate {
		query += "\nFOR UPDATE"
	}

	record, err := scanEdge(t.tx.QueryRow(ctx, query, key.OriginDocumentID, key.DriverCode, key.TargetCode))
	if IsNoRows(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, mapLockError(fmt.Errorf("fetch edge: %w", err))
	}
	return record, true, nil
}

func (t *edgeTx) FindCandidatesByTarget(ctx context.Context, targetCode string, exclude insight.BusinessKey) ([]*insight.Record, error) {
	query := `SELECT ` + edgeColumns + `
FROM insights.insight_edges
WHERE target_code = ?
  AND NOT (origin_document_id = ? AND driver_code = ? AND target_code = ?)
ORDER BY updated_at DESC
LIMIT ?`

	rows, err := t.tx.Query(ctx, query,
		targetCode,
		exclude.OriginDocumentID, exclude.DriverCode, exclude.TargetCode,
		candidateLimit,
	)
	if err != nil {
		return nil, fmt.Errorf("query candidates: %w", err)
	}
	defer rows.Close()

	var candidates []*insight.Record
	for rows.Next() {
		record, err := scanEdgeRows(rows)
		if err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		candidates = append(candidates, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candidates: %w", err)
	}
	return candidates, nil
}

func (t *edgeTx) Insert(ctx context.Context, record *insight.Record) error {
	evidenceJSON, err := json.Marshal(record.Evidence)
	if err != nil {
		return fmt.Errorf("marshal evidence: %w", err)
	}
	vectorJSON, err := marshalVector(record.SummaryVector)
	if err != nil {
		return err
	}

	_, err = t.tx.Exec(ctx, `INSERT INTO insights.insight_edges
(edge_uuid, origin_document_id, driver_code, target_code, relation_type,
 summary_text, exact_fingerprint, fuzzy_fingerprint, summary_vector, language, evidence,
 valid_from, valid_to, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID,
		record.Key.OriginDocumentID, record.Key.DriverCode, record.Key.TargetCode,
		record.RelationType,
		record.SummaryText,
		record.ExactFingerprint.Bytes(), record.FuzzyFingerprint.Bytes(),
		vectorJSON,
		record.Language,
		evidenceJSON,
		record.ValidFrom, record.ValidTo,
		record.CreatedAt, record.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return insight.ErrConflict
		}
		return fmt.Errorf("insert edge: %w", err)
	}

	return t.recordEvent(ctx, record.ID, "created")
}

func (t *edgeTx) UpdateSummary(ctx context.Context, key insight.BusinessKey, summary string, exact, fuzzy fingerprint.Hash, vector []float64, updatedAt time.Time) error {
	vectorJSON, err := marshalVector(vector)
	if err != nil {
		return err
	}

	var edgeUUID string
	err = t.tx.QueryRow(ctx, `UPDATE insights.insight_edges
SET summary_text = ?, exact_fingerprint = ?, fuzzy_fingerprint = ?, summary_vector = ?, updated_at = ?
WHERE origin_document_id = ? AND driver_code = ? AND target_code = ?
RETURNING edge_uuid`,
		summary, exact.Bytes(), fuzzy.Bytes(), vectorJSON, updatedAt,
		key.OriginDocumentID, key.DriverCode, key.TargetCode,
	).Scan(&edgeUUID)
	if IsNoRows(err) {
		return fmt.Errorf("update summary: edge not found for %s/%s/%s", key.OriginDocumentID, key.DriverCode, key.TargetCode)
	}
	if err != nil {
		return fmt.Errorf("update summary: %w", err)
	}

	return t.recordEvent(ctx, edgeUUID, "summary_updated")
}

func (t *edgeTx) UpdateEvidence(ctx context.Context, key insight.BusinessKey, list []evidence.Citation, updatedAt time.Time) error {
	evidenceJSON, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("marshal evidence: %w", err)
	}

	var edgeUUID string
	err = t.tx.QueryRow(ctx, `UPDATE insights.insight_edges
SET evidence = ?, updated_at = ?
WHERE origin_document_id = ? AND driver_code = ? AND target_code = ?
RETURNING edge_uuid`,
		evidenceJSON, updatedAt,
		key.OriginDocumentID, key.DriverCode, key.TargetCode,
	).Scan(&edgeUUID)
	if IsNoRows(err) {
		return fmt.Errorf("update evidence: edge not found for %s/%s/%s", key.OriginDocumentID, key.DriverCode, key.TargetCode)
	}
	if err != nil {
		return fmt.Errorf("update evidence: %w", err)
	}

	return t.recordEvent(ctx, edgeUUID, "evidence_updated")
}

func (t *edgeTx) recordEvent(ctx context.Context, edgeUUID, eventType string) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO insights.edge_events (edge_uuid, event_type) VALUES (?, ?)`,
		edgeUUID, eventType,
	)
	if err != nil {
		return fmt.Errorf("record edge event: %w", err)
	}
	return nil
}

type edgeScanner interface {
	Scan(dest ...any) error
}

func scanEdge(row *Row) (*insight.Record, error) {
	return scanEdgeFrom(row)
}

func scanEdgeRows(rows *Rows) (*insight.Record, error) {
	return scanEdgeFrom(rows)
}

func scanEdgeFrom(scanner edgeScanner) (*insight.Record, error) {
	var (
		record       insight.Record
		exactRaw     []byte
		fuzzyRaw     []byte
		vectorJSON   []byte
		evidenceJSON []byte
	)
	err := scanner.Scan(
		&record.ID,
		&record.Key.OriginDocumentID, &record.Key.DriverCode, &record.Key.TargetCode,
		&record.RelationType,
		&record.SummaryText,
		&exactRaw, &fuzzyRaw,
		&vectorJSON,
		&record.Language,
		&evidenceJSON,
		&record.ValidFrom, &record.ValidTo,
		&record.CreatedAt, &record.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if hash, ok := fingerprint.FromBytes(exactRaw); ok {
		record.ExactFingerprint = hash
	}
	if hash, ok := fingerprint.FromBytes(fuzzyRaw); ok {
		record.FuzzyFingerprint = hash
	}
	if len(vectorJSON) > 0 {
		if err := json.Unmarshal(vectorJSON, &record.SummaryVector); err != nil {
			return nil, fmt.Errorf("unmarshal summary vector: %w", err)
		}
	}
	if len(evidenceJSON) > 0 {
		if err := json.Unmarshal(evidenceJSON, &record.Evidence); err != nil {
			return nil, fmt.Errorf("unmarshal evidence: %w", err)
		}
	}
	return &record, nil
}

func marshalVector(vector []float64) ([]byte, error) {
	if len(vector) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(vector)
	if err != nil {
		return nil, fmt.Errorf("marshal summary vector: %w", err)
	}
	return raw, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "duplicate key value")
}

func mapLockError(err error) error {
	if err == nil {
		return nil
	}
	lower := strings.ToLower(err.Error())
	if strings.Contains(lower, "lock timeout") || strings.Contains(lower, "lock_not_available") {
		return fmt.Errorf("%w: %s", insight.ErrLockTimeout, err)
	}
	return err
}
