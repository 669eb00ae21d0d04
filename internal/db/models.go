package db

import (
	"encoding/json"
	"time"
)

// InsightEdge maps insights.insight_edges: one row per business key,
// holding the canonical summary, its fingerprints, and the citation
// list as jsonb. The unique index over the business-key columns is the
// backstop for the create race.
type InsightEdge struct {
	EdgeID           int64           `gorm:"column:edge_id;primaryKey;autoIncrement"`
	EdgeUUID         string          `gorm:"column:edge_uuid;type:uuid;not null;unique"`
	OriginDocumentID string          `gorm:"column:origin_document_id;type:text;not null"`
	DriverCode       string          `gorm:"column:driver_code;type:text;not null"`
	TargetCode       string          `gorm:"column:target_code;type:text;not null"`
	RelationType     string          `gorm:"column:relation_type;type:text;not null;default:driver_impact"`
	SummaryText      string          `gorm:"column:summary_text;type:text;not null"`
	ExactFingerprint []byte          `gorm:"column:exact_fingerprint;type:bytea;not null"`
	FuzzyFingerprint []byte          `gorm:"column:fuzzy_fingerprint;type:bytea;not null"`
	SummaryVector    json.RawMessage `gorm:"column:summary_vector;type:jsonb"`
	Language         string          `gorm:"column:language;type:text;not null;default:''"`
	Evidence         json.RawMessage `gorm:"column:evidence;type:jsonb;not null;default:'[]'"`
	SchemaVersion    int             `gorm:"column:schema_version;type:integer;not null;default:1"`
	ValidFrom        *time.Time      `gorm:"column:valid_from;type:timestamptz"`
	ValidTo          *time.Time      `gorm:"column:valid_to;type:timestamptz"`
	CreatedAt        time.Time       `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt        time.Time       `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (InsightEdge) TableName() string { return "insights.insight_edges" }

// EdgeEvent maps insights.edge_events: an append-only audit trail of
// every mutation to an edge row, one event per committed write.
type EdgeEvent struct {
	EdgeEventID int64     `gorm:"column:edge_event_id;primaryKey;autoIncrement"`
	EdgeUUID    string    `gorm:"column:edge_uuid;type:uuid;not null"`
	EventType   string    `gorm:"column:event_type;type:text;not null"`
	CreatedAt   time.Time `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
}

func (EdgeEvent) TableName() string { return "insights.edge_events" }

func autoMigrateModels() []any {
	return []any{
		&InsightEdge{},
		&EdgeEvent{},
	}
}
