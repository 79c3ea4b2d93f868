package search

import "time"

// SearchParams controls a search over the index.
type SearchParams struct {
	Query   string
	Limit   int
	Filters map[string]any // exact-match, all must hold; keys are gjson paths
	// Plain treats Query as literal words rather than FTS5 syntax. Every
	// word must match.
	Plain bool
}

// Result is one matching index entry. Higher Score means more relevant.
type Result struct {
	MemoryID int64          `json:"memory_id"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata"`
	Score    float64        `json:"relevance_score"`
}

// Stats is the most recently computed index metadata.
type Stats struct {
	LastUpdate     *time.Time `json:"last_update"`
	TotalDocuments int64      `json:"total_documents"`
	AvgLength      float64    `json:"avg_length"`
}

// ReconcileReport describes what a reconciliation pass found.
type ReconcileReport struct {
	OrphansRemoved int64   `json:"orphans_removed"`
	Unindexed      []int64 `json:"unindexed"` // live records with no index entry
}
