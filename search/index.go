// Package search implements the full-text search index over memory records.
//
// The index is derived from the record store but not transactionally tied to
// it: callers index a record after storing it, and entries are never removed
// automatically when the record is deleted. Reconcile brings the two back in
// line on demand.
package search

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/rs/zerolog"

	"github.com/aschepis/memvault/memerr"
	"github.com/aschepis/memvault/memory"
)

// Index manages the memory_index FTS5 table and its metadata row.
type Index struct {
	db     *sql.DB
	logger zerolog.Logger
	now    func() time.Time
}

// Option configures an Index.
type Option func(*Index)

// WithClock overrides the time source used for last_update and expiry checks.
func WithClock(clock func() time.Time) Option {
	return func(ix *Index) {
		ix.now = clock
	}
}

// NewIndex creates and returns an Index.
func NewIndex(db *sql.DB, logger zerolog.Logger, opts ...Option) (*Index, error) {
	if db == nil {
		return nil, errors.New("db cannot be nil")
	}
	ix := &Index{
		db:     db,
		logger: logger.With().Str("component", "search_index").Logger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(ix)
	}
	return ix, nil
}

// Index appends an entry for memoryID. Entries are never replaced: indexing
// the same id twice leaves two searchable entries.
func (ix *Index) Index(ctx context.Context, memoryID int64, content string, metadata map[string]any) error {
	ix.logger.Debug().
		Str("method", "Index").
		Int64("memoryID", memoryID).
		Int("contentLength", len(content)).
		Msg("called")

	metaJSON, err := memory.EncodeMetadata(metadata)
	if err != nil {
		return err
	}

	query := memory.StatementBuilder().
		Insert("memory_index").
		Columns("memory_id", "content", "metadata").
		Values(memoryID, content, metaJSON)

	err = ix.mutate(ctx, "Index", func(tx *sql.Tx) (int64, error) {
		queryStr, args, err := query.ToSql()
		if err != nil {
			return 0, memerr.NewStorageError("build index insert query", err)
		}
		if _, err := tx.ExecContext(ctx, queryStr, args...); err != nil {
			return 0, memerr.NewStorageError("insert index entry", err)
		}
		return 1, nil
	})
	if err != nil {
		return err
	}

	ix.logger.Info().Str("method", "Index").Int64("memoryID", memoryID).Msg("Memory indexed")
	return nil
}

// Remove deletes every entry for memoryID and returns how many were removed.
func (ix *Index) Remove(ctx context.Context, memoryID int64) (int64, error) {
	ix.logger.Debug().Str("method", "Remove").Int64("memoryID", memoryID).Msg("called")

	var removed int64
	err := ix.mutate(ctx, "Remove", func(tx *sql.Tx) (int64, error) {
		n, err := execDelete(ctx, tx, memory.StatementBuilder().
			Delete("memory_index").
			Where(sq.Eq{"memory_id": memoryID}))
		removed = n
		return n, err
	})
	return removed, err
}

// Reconcile removes orphan entries whose record no longer exists and reports
// live records that have no entry yet. It does not index those records: the
// index never reads record content on its own.
func (ix *Index) Reconcile(ctx context.Context) (ReconcileReport, error) {
	ix.logger.Debug().Str("method", "Reconcile").Msg("called")

	var report ReconcileReport
	err := ix.mutate(ctx, "Reconcile", func(tx *sql.Tx) (int64, error) {
		n, err := execDelete(ctx, tx, memory.StatementBuilder().
			Delete("memory_index").
			Where(sq.Expr("memory_id NOT IN (SELECT id FROM memories)")))
		report.OrphansRemoved = n
		return n, err
	})
	if err != nil {
		return ReconcileReport{}, err
	}

	query := memory.StatementBuilder().
		Select("id").
		From("memories").
		Where(memory.ActiveCondition("", ix.now())).
		Where(sq.Expr("id NOT IN (SELECT memory_id FROM memory_index)")).
		OrderBy("id ASC")
	queryStr, args, err := query.ToSql()
	if err != nil {
		return ReconcileReport{}, memerr.NewStorageError("build unindexed query", err)
	}
	rows, err := ix.db.QueryContext(ctx, queryStr, args...)
	if err != nil {
		return ReconcileReport{}, memerr.NewStorageError("query unindexed memories", err)
	}
	defer rows.Close() //nolint:errcheck // no remedy for rows close error
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return ReconcileReport{}, memerr.NewStorageError("scan unindexed id", err)
		}
		report.Unindexed = append(report.Unindexed, id)
	}
	if err := rows.Err(); err != nil {
		return ReconcileReport{}, memerr.NewStorageError("iterate unindexed memories", err)
	}

	ix.logger.Info().
		Str("method", "Reconcile").
		Int64("orphansRemoved", report.OrphansRemoved).
		Int("unindexed", len(report.Unindexed)).
		Msg("Reconcile completed")
	return report, nil
}

// GetStats returns the most recently computed index metadata, or zero values
// if the index has never been updated.
func (ix *Index) GetStats(ctx context.Context) (Stats, error) {
	query := memory.StatementBuilder().
		Select("last_update", "total_documents", "avg_length").
		From("index_metadata").
		Where(sq.Eq{"id": 1})
	queryStr, args, err := query.ToSql()
	if err != nil {
		return Stats{}, memerr.NewStorageError("build stats query", err)
	}

	var (
		stats      Stats
		lastUpdate int64
	)
	err = ix.db.QueryRowContext(ctx, queryStr, args...).Scan(&lastUpdate, &stats.TotalDocuments, &stats.AvgLength)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return Stats{}, nil
	case err != nil:
		ix.logger.Error().Str("method", "GetStats").Err(err).Msg("Failed to read index metadata")
		return Stats{}, memerr.NewStorageError("read index metadata", err)
	}
	t := time.Unix(0, lastUpdate)
	stats.LastUpdate = &t
	return stats, nil
}

// mutate runs fn in a transaction and, if fn changed any rows, recomputes the
// index metadata before committing.
func (ix *Index) mutate(ctx context.Context, method string, fn func(tx *sql.Tx) (int64, error)) error {
	tx, err := ix.db.BeginTx(ctx, nil)
	if err != nil {
		ix.logger.Error().Str("method", method).Err(err).Msg("Failed to begin transaction")
		return memerr.NewStorageError("begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	changed, err := fn(tx)
	if err != nil {
		ix.logger.Error().Str("method", method).Err(err).Msg("Index mutation failed")
		return err
	}
	if changed > 0 {
		if err := ix.refreshMetadata(ctx, tx); err != nil {
			ix.logger.Error().Str("method", method).Err(err).Msg("Failed to refresh index metadata")
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		ix.logger.Error().Str("method", method).Err(err).Msg("Transaction commit failed")
		return memerr.NewStorageError("commit", err)
	}
	return nil
}

// refreshMetadata recomputes count and average length over the whole index.
func (ix *Index) refreshMetadata(ctx context.Context, tx *sql.Tx) error {
	var (
		total     int64
		avgLength float64
	)
	err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(AVG(LENGTH(content)), 0) FROM memory_index`).
		Scan(&total, &avgLength)
	if err != nil {
		return memerr.NewStorageError("compute index metadata", err)
	}

	query := memory.StatementBuilder().
		Insert("index_metadata").
		Columns("id", "last_update", "total_documents", "avg_length").
		Values(1, ix.now().UnixNano(), total, avgLength).
		Suffix(strings.Join([]string{
			"ON CONFLICT(id) DO UPDATE SET",
			"last_update = excluded.last_update,",
			"total_documents = excluded.total_documents,",
			"avg_length = excluded.avg_length",
		}, " "))
	queryStr, args, err := query.ToSql()
	if err != nil {
		return memerr.NewStorageError("build metadata upsert", err)
	}
	if _, err := tx.ExecContext(ctx, queryStr, args...); err != nil {
		return memerr.NewStorageError("upsert index metadata", err)
	}

	ix.logger.Debug().
		Int64("totalDocuments", total).
		Float64("avgLength", avgLength).
		Msg("Index metadata refreshed")
	return nil
}

func execDelete(ctx context.Context, tx *sql.Tx, query sq.DeleteBuilder) (int64, error) {
	queryStr, args, err := query.ToSql()
	if err != nil {
		return 0, memerr.NewStorageError("build index delete query", err)
	}
	res, err := tx.ExecContext(ctx, queryStr, args...)
	if err != nil {
		return 0, memerr.NewStorageError("delete index entries", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, memerr.NewStorageError("delete index entries", err)
	}
	return n, nil
}
