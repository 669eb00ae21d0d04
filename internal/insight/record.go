package insight

import (
	"strings"
	"time"

	"horse.fit/insights/internal/evidence"
	"horse.fit/insights/internal/fingerprint"
)

// RelationTypeDriverImpact is the edge kind for driver→target claims.
const RelationTypeDriverImpact = "driver_impact"

// BusinessKey identifies one document's claim about one driver→target
// relation; it is the upsert key.
type BusinessKey struct {
	OriginDocumentID string
	DriverCode       string
	TargetCode       string
}

func (k BusinessKey) IsComplete() bool {
	return strings.TrimSpace(k.OriginDocumentID) != "" &&
		strings.TrimSpace(k.DriverCode) != "" &&
		strings.TrimSpace(k.TargetCode) != ""
}

func (k BusinessKey) Normalized() BusinessKey {
	return BusinessKey{
		OriginDocumentID: strings.TrimSpace(k.OriginDocumentID),
		DriverCode:       strings.TrimSpace(strings.ToLower(k.DriverCode)),
		TargetCode:       strings.TrimSpace(strings.ToUpper(k.TargetCode)),
	}
}

// Record is the persisted knowledge-graph edge: one deduplicated
// insight with its accumulated evidence.
type Record struct {
	ID               string
	Key              BusinessKey
	RelationType     string
	SummaryText      string
	ExactFingerprint fingerprint.Hash
	FuzzyFingerprint fingerprint.Hash
	SummaryVector    []float64
	Language         string
	Evidence         []evidence.Citation
	ValidFrom        *time.Time
	ValidTo          *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Clone returns a deep copy; stores hand out clones so callers never
// alias persisted state.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	clone := *r
	if r.SummaryVector != nil {
		clone.SummaryVector = append([]float64(nil), r.SummaryVector...)
	}
	if r.Evidence != nil {
		clone.Evidence = append([]evidence.Citation(nil), r.Evidence...)
	}
	if r.ValidFrom != nil {
		from := *r.ValidFrom
		clone.ValidFrom = &from
	}
	if r.ValidTo != nil {
		to := *r.ValidTo
		clone.ValidTo = &to
	}
	return &clone
}
