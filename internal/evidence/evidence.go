package evidence

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

// DefaultCap bounds the number of citations retained per insight.
const DefaultCap = 50

// Citation records one source document's contribution of evidence to a
// stored insight. SourceUID is the dedup key within an evidence list.
type Citation struct {
	SourceUID           string     `json:"source_uid"`
	OriginDocumentID    string     `json:"origin_document_id"`
	Publisher           string     `json:"publisher,omitempty"`
	PublishedAt         *time.Time `json:"published_at,omitempty"`
	DateNormalizeFailed bool       `json:"date_normalize_failed,omitempty"`
	Title               string     `json:"title,omitempty"`
	URL                 string     `json:"url,omitempty"`
	SourceType          string     `json:"source_type"`
	AddedAt             time.Time  `json:"added_at"`
}

// SourceUID builds the globally unique citation key.
func SourceUID(sourceType, originDocumentID string) string {
	return strings.TrimSpace(strings.ToLower(sourceType)) + ":" + strings.TrimSpace(originDocumentID)
}

// NormalizeDate parses a raw publish date into UTC. On failure it
// returns (nil, true) so the caller keeps an explicit failure flag; a
// date is never fabricated.
func NormalizeDate(raw string) (*time.Time, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, false
	}
	parsed, err := dateparse.ParseAny(trimmed)
	if err != nil {
		return nil, true
	}
	utc := parsed.UTC()
	return &utc, false
}

// Append inserts a citation into an evidence list, keeping the list
// sorted newest-first and capped. A citation whose SourceUID is
// already present is a no-op. Returns the updated list and how many
// entries were evicted.
func Append(existing []Citation, citation Citation, limit int) ([]Citation, int, error) {
	if strings.TrimSpace(citation.SourceUID) == "" {
		return existing, 0, fmt.Errorf("citation source_uid is empty")
	}
	if limit <= 0 {
		limit = DefaultCap
	}

	for _, current := range existing {
		if current.SourceUID == citation.SourceUID {
			return existing, 0, nil
		}
	}

	updated := make([]Citation, 0, len(existing)+1)
	updated = append(updated, existing...)
	updated = append(updated, citation)
	Sort(updated)

	evicted := 0
	if len(updated) > limit {
		evicted = len(updated) - limit
		updated = updated[:limit]
	}
	return updated, evicted, nil
}

// Contains reports whether a citation with the given uid is present.
func Contains(list []Citation, sourceUID string) bool {
	for _, c := range list {
		if c.SourceUID == sourceUID {
			return true
		}
	}
	return false
}

// Sort orders citations by (published_at desc, added_at desc), placing
// citations with unknown publish dates last. Final evidence order is
// always this derived sort, never append order, so concurrent appends
// converge on the same list.
func Sort(list []Citation) {
	sort.SliceStable(list, func(i, j int) bool {
		leftDate, leftKnown := publishInstant(list[i])
		rightDate, rightKnown := publishInstant(list[j])
		switch {
		case leftKnown && !rightKnown:
			return true
		case !leftKnown && rightKnown:
			return false
		case leftKnown && rightKnown && !leftDate.Equal(rightDate):
			return leftDate.After(rightDate)
		default:
			return list[i].AddedAt.After(list[j].AddedAt)
		}
	})
}

func publishInstant(c Citation) (time.Time, bool) {
	if c.PublishedAt == nil || c.PublishedAt.IsZero() {
		return time.Time{}, false
	}
	return c.PublishedAt.UTC(), true
}
