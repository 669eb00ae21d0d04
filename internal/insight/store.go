package insight

import (
	"context"
	"errors"
	"time"

	"horse.fit/insights/internal/evidence"
	"horse.fit/insights/internal/fingerprint"
)

var (
	// ErrConflict reports a uniqueness violation on insert: another
	// writer created the same business key first.
	ErrConflict = errors.New("insight record already exists")

	// ErrLockTimeout reports that a row lock could not be acquired
	// within the store's bounded timeout.
	ErrLockTimeout = errors.New("row lock acquisition timed out")
)

// Store is the persistence boundary for insight records. WithinTx runs
// fn inside one transaction; row locks taken through the Tx are
// released on every exit path, commit and rollback alike.
type Store interface {
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx exposes the keyed operations of one open transaction. GetForUpdate
// and LockRecord take an exclusive row lock before returning record
// state, so a read-modify-write through them cannot lose updates.
type Tx interface {
	// GetForUpdate fetches the record for a business key under an
	// exclusive row lock.
	GetForUpdate(ctx context.Context, key BusinessKey) (*Record, bool, error)

	// LockRecord re-fetches an already-discovered record under an
	// exclusive row lock, by its business key.
	LockRecord(ctx context.Context, key BusinessKey) (*Record, bool, error)

	// FindCandidatesByTarget returns all records pointing at the same
	// target, excluding one key, without locking. Candidates feed the
	// cross-key content-duplicate scoring.
	FindCandidatesByTarget(ctx context.Context, targetCode string, exclude BusinessKey) ([]*Record, error)

	// Insert persists a new record; ErrConflict if the business key
	// already exists.
	Insert(ctx context.Context, record *Record) error

	// UpdateSummary overwrites summary, fingerprints, and vector for a
	// content revision; evidence is untouched.
	UpdateSummary(ctx context.Context, key BusinessKey, summary string, exact, fuzzy fingerprint.Hash, vector []float64, updatedAt time.Time) error

	// UpdateEvidence replaces the evidence list of a locked record.
	UpdateEvidence(ctx context.Context, key BusinessKey, list []evidence.Citation, updatedAt time.Time) error
}
