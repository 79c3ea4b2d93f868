package stats

import (
	"context"
	"database/sql"
)

// ConnectionCounter reports connection figures for the summary and the
// connections view. The aggregator does not define what a connection is.
type ConnectionCounter interface {
	ActiveConnections(ctx context.Context) (int64, error)
	Connections(ctx context.Context) ([]ConnectionStat, error)
}

// DBConnectionCounter reports the database/sql pool of db as connections.
type DBConnectionCounter struct {
	db *sql.DB
}

// NewDBConnectionCounter returns a ConnectionCounter backed by db.Stats.
func NewDBConnectionCounter(db *sql.DB) *DBConnectionCounter {
	return &DBConnectionCounter{db: db}
}

// ActiveConnections returns the number of connections currently in use.
func (c *DBConnectionCounter) ActiveConnections(_ context.Context) (int64, error) {
	return int64(c.db.Stats().InUse), nil
}

// Connections returns open, in-use and idle pool counts.
func (c *DBConnectionCounter) Connections(_ context.Context) ([]ConnectionStat, error) {
	s := c.db.Stats()
	return []ConnectionStat{
		{Name: "open", Count: int64(s.OpenConnections)},
		{Name: "in_use", Count: int64(s.InUse)},
		{Name: "idle", Count: int64(s.Idle)},
	}, nil
}
