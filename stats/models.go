package stats

import (
	"time"

	"github.com/aschepis/memvault/memory"
)

// Summary holds headline counters over the record table.
type Summary struct {
	TotalMemories     int64 `json:"total_memories"`
	ExpiredPending    int64 `json:"expired_pending"`
	ActiveConnections int64 `json:"active_connections"`
	StorageBytes      int64 `json:"storage_bytes"`
}

// ActivityBucket counts records created in [Start, Start+bucket size).
type ActivityBucket struct {
	Start time.Time `json:"start"`
	Count int64     `json:"count"`
}

// TypeCount is the number of active records of one type.
type TypeCount struct {
	Type  memory.RecordType `json:"type"`
	Count int64             `json:"count"`
}

// ConnectionStat is one named connection counter.
type ConnectionStat struct {
	Name  string `json:"name"`
	Count int64  `json:"count"`
}

// Snapshot combines every aggregator view for one window.
type Snapshot struct {
	Window      Window           `json:"window"`
	Summary     Summary          `json:"summary"`
	Activity    []ActivityBucket `json:"activity"`
	Types       []TypeCount      `json:"types"`
	Connections []ConnectionStat `json:"connections"`
}
