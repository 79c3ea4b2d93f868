// Package stats computes read-only summaries over the memory record table.
// Nothing here is persisted; every view is recomputed on demand and respects
// record expiry.
package stats

import (
	"context"
	"database/sql"
	"errors"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/aschepis/memvault/memerr"
	"github.com/aschepis/memvault/memory"
)

// Aggregator computes statistics views.
type Aggregator struct {
	db          *sql.DB
	logger      zerolog.Logger
	now         func() time.Time
	connections ConnectionCounter
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithClock overrides the time source used for expiry and window alignment.
func WithClock(clock func() time.Time) Option {
	return func(a *Aggregator) {
		a.now = clock
	}
}

// WithConnectionCounter sets the source of connection figures. Without one,
// connection counts are zero and the connections view is empty.
func WithConnectionCounter(c ConnectionCounter) Option {
	return func(a *Aggregator) {
		a.connections = c
	}
}

// NewAggregator creates and returns an Aggregator.
func NewAggregator(db *sql.DB, logger zerolog.Logger, opts ...Option) (*Aggregator, error) {
	if db == nil {
		return nil, errors.New("db cannot be nil")
	}
	a := &Aggregator{
		db:     db,
		logger: logger.With().Str("component", "stats_aggregator").Logger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Summary returns the headline counters.
func (a *Aggregator) Summary(ctx context.Context) (Summary, error) {
	a.logger.Debug().Str("method", "Summary").Msg("called")

	now := a.now().UnixNano()
	query := memory.StatementBuilder().
		Select().
		Column(sq.Expr("COALESCE(SUM(CASE WHEN expires_at IS NULL OR expires_at > ? THEN 1 ELSE 0 END), 0)", now)).
		Column(sq.Expr("COALESCE(SUM(CASE WHEN expires_at IS NOT NULL AND expires_at <= ? THEN 1 ELSE 0 END), 0)", now)).
		From("memories")
	queryStr, args, err := query.ToSql()
	if err != nil {
		return Summary{}, memerr.NewStorageError("build summary query", err)
	}

	var s Summary
	if err := a.db.QueryRowContext(ctx, queryStr, args...).Scan(&s.TotalMemories, &s.ExpiredPending); err != nil {
		a.logger.Error().Str("method", "Summary").Err(err).Msg("Failed to count memories")
		return Summary{}, memerr.NewStorageError("count memories", err)
	}

	err = a.db.QueryRowContext(ctx,
		`SELECT page_count * page_size FROM pragma_page_count(), pragma_page_size()`).
		Scan(&s.StorageBytes)
	if err != nil {
		a.logger.Error().Str("method", "Summary").Err(err).Msg("Failed to read storage size")
		return Summary{}, memerr.NewStorageError("read storage size", err)
	}

	if a.connections != nil {
		n, err := a.connections.ActiveConnections(ctx)
		if err != nil {
			return Summary{}, memerr.NewStorageError("count active connections", err)
		}
		s.ActiveConnections = n
	}
	return s, nil
}

// Activity returns the number of active records created in each bucket of w,
// oldest bucket first. Buckets without records are present with a zero count.
func (a *Aggregator) Activity(ctx context.Context, w Window) ([]ActivityBucket, error) {
	a.logger.Debug().Str("method", "Activity").Str("window", string(w)).Msg("called")

	if !w.Valid() {
		return nil, memerr.NewValidationError("unsupported window %q", w)
	}

	now := a.now()
	start, end := w.bounds(now)
	size := w.BucketSize()

	query := memory.StatementBuilder().
		Select().
		Column(sq.Expr("(created_at - ?) / ? AS bucket", start.UnixNano(), size.Nanoseconds())).
		Column("COUNT(*)").
		From("memories").
		Where(memory.ActiveCondition("", now)).
		Where(sq.GtOrEq{"created_at": start.UnixNano()}).
		Where(sq.Lt{"created_at": end.UnixNano()}).
		GroupBy("bucket")
	queryStr, args, err := query.ToSql()
	if err != nil {
		return nil, memerr.NewStorageError("build activity query", err)
	}

	rows, err := a.db.QueryContext(ctx, queryStr, args...)
	if err != nil {
		a.logger.Error().Str("method", "Activity").Err(err).Msg("Failed to query activity")
		return nil, memerr.NewStorageError("query activity", err)
	}
	defer rows.Close() //nolint:errcheck // no remedy for rows close error

	counts := make(map[int]int64, w.Buckets())
	for rows.Next() {
		var (
			bucket int
			count  int64
		)
		if err := rows.Scan(&bucket, &count); err != nil {
			return nil, memerr.NewStorageError("scan activity row", err)
		}
		counts[bucket] = count
	}
	if err := rows.Err(); err != nil {
		return nil, memerr.NewStorageError("iterate activity", err)
	}

	return lo.Times(w.Buckets(), func(i int) ActivityBucket {
		return ActivityBucket{
			Start: start.Add(time.Duration(i) * size),
			Count: counts[i],
		}
	}), nil
}

// TypeDistribution returns the number of active records per type, largest
// first, ties by type name. Types with no records are omitted.
func (a *Aggregator) TypeDistribution(ctx context.Context) ([]TypeCount, error) {
	a.logger.Debug().Str("method", "TypeDistribution").Msg("called")

	query := memory.StatementBuilder().
		Select("type", "COUNT(*) AS n").
		From("memories").
		Where(memory.ActiveCondition("", a.now())).
		GroupBy("type").
		OrderBy("n DESC", "type ASC")
	queryStr, args, err := query.ToSql()
	if err != nil {
		return nil, memerr.NewStorageError("build type distribution query", err)
	}

	rows, err := a.db.QueryContext(ctx, queryStr, args...)
	if err != nil {
		a.logger.Error().Str("method", "TypeDistribution").Err(err).Msg("Failed to query type distribution")
		return nil, memerr.NewStorageError("query type distribution", err)
	}
	defer rows.Close() //nolint:errcheck // no remedy for rows close error

	out := []TypeCount{}
	for rows.Next() {
		var (
			typ   string
			count int64
		)
		if err := rows.Scan(&typ, &count); err != nil {
			return nil, memerr.NewStorageError("scan type distribution row", err)
		}
		out = append(out, TypeCount{Type: memory.RecordType(typ), Count: count})
	}
	if err := rows.Err(); err != nil {
		return nil, memerr.NewStorageError("iterate type distribution", err)
	}
	return out, nil
}

// Connections returns whatever the configured ConnectionCounter reports.
func (a *Aggregator) Connections(ctx context.Context) ([]ConnectionStat, error) {
	if a.connections == nil {
		return []ConnectionStat{}, nil
	}
	conns, err := a.connections.Connections(ctx)
	if err != nil {
		return nil, memerr.NewStorageError("list connections", err)
	}
	return conns, nil
}

// Snapshot computes every view for w.
func (a *Aggregator) Snapshot(ctx context.Context, w Window) (Snapshot, error) {
	if !w.Valid() {
		return Snapshot{}, memerr.NewValidationError("unsupported window %q", w)
	}

	snap := Snapshot{Window: w}
	var err error
	if snap.Summary, err = a.Summary(ctx); err != nil {
		return Snapshot{}, err
	}
	if snap.Activity, err = a.Activity(ctx, w); err != nil {
		return Snapshot{}, err
	}
	if snap.Types, err = a.TypeDistribution(ctx); err != nil {
		return Snapshot{}, err
	}
	if snap.Connections, err = a.Connections(ctx); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}
