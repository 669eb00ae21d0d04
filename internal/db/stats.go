package db

import (
	"context"
	"fmt"
)

// EdgeStats is a point-in-time snapshot of the edge store, served by
// the stats endpoint.
type EdgeStats struct {
	TotalEdges      int64            `json:"total_edges"`
	EventsByType    map[string]int64 `json:"events_by_type"`
	DistinctTargets int64            `json:"distinct_targets"`
}

func (p *Pool) EdgeStats(ctx context.Context) (EdgeStats, error) {
	stats := EdgeStats{EventsByType: map[string]int64{}}
	if p == nil || p.gdb == nil {
		return stats, fmt.Errorf("database pool is not initialized")
	}

	err := p.QueryRow(ctx,
		`SELECT count(*), count(DISTINCT target_code) FROM insights.insight_edges`,
	).Scan(&stats.TotalEdges, &stats.DistinctTargets)
	if err != nil {
		return stats, fmt.Errorf("count edges: %w", err)
	}

	rows, err := p.Query(ctx,
		`SELECT event_type, count(*) FROM insights.edge_events GROUP BY event_type`,
	)
	if err != nil {
		return stats, fmt.Errorf("count edge events: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var eventType string
		var count int64
		if err := rows.Scan(&eventType, &count); err != nil {
			return stats, fmt.Errorf("scan event count: %w", err)
		}
		stats.EventsByType[eventType] = count
	}
	if err := rows.Err(); err != nil {
		return stats, fmt.Errorf("iterate event counts: %w", err)
	}
	return stats, nil
}
