package search

import (
	"context"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"github.com/aschepis/memvault/memerr"
	"github.com/aschepis/memvault/memory"
)

// Search runs a ranked full-text query combined with exact-match metadata
// filters.
//
// Scores are the negated FTS5 bm25 value, so a higher score is a better match.
// Results are ordered by score descending and then by insertion order, which
// makes repeated searches over an unchanged index return identical sequences.
//
// An empty query with no filters returns no results. An empty query with
// filters returns every entry whose metadata matches, newest entry first, each
// with a zero score.
//
// Entries whose record exists but has expired are skipped. Orphan entries,
// whose record has been deleted, stay visible until Reconcile removes them.
func (ix *Index) Search(ctx context.Context, p SearchParams) ([]Result, error) {
	queryText := strings.TrimSpace(p.Query)

	ix.logger.Debug().
		Str("method", "Search").
		Str("queryText", queryText).
		Int("limit", p.Limit).
		Interface("filters", p.Filters).
		Msg("called")

	if p.Limit <= 0 {
		return nil, memerr.NewValidationError("limit must be positive, got %d", p.Limit)
	}
	filter, err := newMetadataFilter(p.Filters)
	if err != nil {
		return nil, err
	}
	if queryText == "" && filter == nil {
		ix.logger.Debug().Str("method", "Search").Msg("empty query without filters, returning no results")
		return nil, nil
	}
	if p.Plain && queryText != "" {
		queryText = plainQuery(queryText)
		if queryText == "" {
			ix.logger.Debug().Str("method", "Search").Msg("plain query has no searchable words, returning no results")
			return nil, nil
		}
	}

	// Orphans carry a NULL expires_at through the LEFT JOIN, so the active
	// condition keeps them.
	query := memory.StatementBuilder().
		Select("memory_index.memory_id", "memory_index.content", "memory_index.metadata").
		From("memory_index").
		LeftJoin("memories m ON m.id = memory_index.memory_id").
		Where(memory.ActiveCondition("m", ix.now()))

	if queryText != "" {
		query = query.
			Column("-bm25(memory_index) AS score").
			Where(sq.Expr("memory_index MATCH ?", queryText)).
			OrderBy("score DESC", "memory_index.rowid ASC")
	} else {
		query = query.
			Column("0.0 AS score").
			OrderBy("memory_index.rowid DESC")
	}
	if filter == nil {
		query = query.Limit(uint64(p.Limit))
	}

	queryStr, args, err := query.ToSql()
	if err != nil {
		return nil, memerr.NewStorageError("build search query", err)
	}

	rows, err := ix.db.QueryContext(ctx, queryStr, args...)
	if err != nil {
		err = classifyQueryError(err, "search index")
		ix.logger.Error().Str("method", "Search").Err(err).Msg("Search query failed")
		return nil, err
	}
	defer rows.Close() //nolint:errcheck // no remedy for rows close error

	var (
		results  []Result
		scanned  int
		filtered int
	)
	for rows.Next() {
		var (
			r        Result
			metaJSON string
		)
		if err := rows.Scan(&r.MemoryID, &r.Content, &metaJSON, &r.Score); err != nil {
			return nil, memerr.NewStorageError("scan search row", err)
		}
		scanned++

		if filter != nil && !filter.matches(metaJSON) {
			filtered++
			continue
		}

		r.Metadata, err = memory.DecodeMetadata(metaJSON)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
		if len(results) >= p.Limit {
			break
		}
	}
	if err := rows.Err(); err != nil {
		err = classifyQueryError(err, "iterate search results")
		ix.logger.Error().Str("method", "Search").Err(err).Msg("Search iteration failed")
		return nil, err
	}

	ix.logger.Info().
		Str("method", "Search").
		Str("queryText", queryText).
		Int("scanned", scanned).
		Int("filtered", filtered).
		Int("returning", len(results)).
		Msg("Search completed")
	return results, nil
}
