package memory

import (
	"time"

	sq "github.com/Masterminds/squirrel"
)

// StatementBuilder returns a Squirrel StatementBuilder configured for SQLite.
// SQLite uses '?' as placeholders, which is Squirrel's default.
func StatementBuilder() sq.StatementBuilderType {
	return sq.StatementBuilder
}

// SelectRecordColumns returns the standard column list for memories SELECT queries.
func SelectRecordColumns() []string {
	return []string{
		"id", "type", "content", "metadata", "created_at", "expires_at", "importance",
	}
}

// ActiveCondition matches rows of the memories table that are not expired at
// now. qualifier is the table name or alias used in the query, or "".
func ActiveCondition(qualifier string, now time.Time) sq.Sqlizer {
	col := "expires_at"
	if qualifier != "" {
		col = qualifier + "." + col
	}
	return sq.Or{
		sq.Eq{col: nil},
		sq.Gt{col: now.UnixNano()},
	}
}
