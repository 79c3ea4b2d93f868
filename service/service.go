// Package service is the call surface over the record store, the search index
// and the statistics aggregator. It validates input, indexes records after
// storing them and retries idempotent calls on storage failures.
package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/aschepis/memvault/memerr"
	"github.com/aschepis/memvault/memory"
	"github.com/aschepis/memvault/search"
	"github.com/aschepis/memvault/stats"
)

// RecordStore is the subset of memory.Store the service uses.
type RecordStore interface {
	Store(ctx context.Context, p memory.StoreParams) (int64, error)
	Retrieve(ctx context.Context, p memory.RetrieveParams) ([]memory.Record, error)
	Get(ctx context.Context, id int64) (memory.Record, bool, error)
	Delete(ctx context.Context, id int64) (bool, error)
	Clear(ctx context.Context, typ *memory.RecordType) (int64, error)
	PurgeExpired(ctx context.Context) (int64, error)
}

// SearchIndex is the subset of search.Index the service uses.
type SearchIndex interface {
	Index(ctx context.Context, memoryID int64, content string, metadata map[string]any) error
	Search(ctx context.Context, p search.SearchParams) ([]search.Result, error)
	Remove(ctx context.Context, memoryID int64) (int64, error)
	Reconcile(ctx context.Context) (search.ReconcileReport, error)
	GetStats(ctx context.Context) (search.Stats, error)
}

// StatsSource is the subset of stats.Aggregator the service uses.
type StatsSource interface {
	Snapshot(ctx context.Context, w stats.Window) (stats.Snapshot, error)
}

// Service coordinates the store, the index and the aggregator.
type Service struct {
	store  RecordStore
	index  SearchIndex
	stats  StatsSource
	logger zerolog.Logger
	retry  RetryPolicy
}

// Option configures a Service.
type Option func(*Service)

// WithRetryPolicy sets the retry policy for idempotent calls.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(s *Service) {
		s.retry = p
	}
}

// New creates a Service over existing components.
func New(store RecordStore, index SearchIndex, agg StatsSource, logger zerolog.Logger, opts ...Option) (*Service, error) {
	if store == nil || index == nil || agg == nil {
		return nil, errors.New("store, index and aggregator are required")
	}
	s := &Service{
		store:  store,
		index:  index,
		stats:  agg,
		logger: logger.With().Str("component", "memory_service").Logger(),
		retry:  DefaultRetryPolicy(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Components holds the concrete components built by NewFromDB.
type Components struct {
	Store      *memory.Store
	Index      *search.Index
	Aggregator *stats.Aggregator
}

// NewFromDB builds the store, index and aggregator on db and returns a
// Service over them. clock may be nil to use the wall clock.
func NewFromDB(db *sql.DB, logger zerolog.Logger, clock func() time.Time, opts ...Option) (*Service, Components, error) {
	if clock == nil {
		clock = time.Now
	}
	store, err := memory.NewStore(db, logger, memory.WithClock(clock))
	if err != nil {
		return nil, Components{}, err
	}
	index, err := search.NewIndex(db, logger, search.WithClock(clock))
	if err != nil {
		return nil, Components{}, err
	}
	agg, err := stats.NewAggregator(db, logger,
		stats.WithClock(clock),
		stats.WithConnectionCounter(stats.NewDBConnectionCounter(db)))
	if err != nil {
		return nil, Components{}, err
	}
	svc, err := New(store, index, agg, logger, opts...)
	if err != nil {
		return nil, Components{}, err
	}
	return svc, Components{Store: store, Index: index, Aggregator: agg}, nil
}

// RememberParams describes a record to store and index.
type RememberParams struct {
	Content    any
	Type       memory.RecordType
	Metadata   map[string]any
	ExpiresAt  *time.Time
	Importance int
}

// Remember stores a record and then indexes it. It is never retried, since
// a retry after an ambiguous failure could store a duplicate.
//
// If indexing fails after the record was stored, the new id is returned
// together with the error; the record exists and Reconcile will report it.
func (s *Service) Remember(ctx context.Context, p RememberParams) (int64, error) {
	s.logger.Debug().
		Str("method", "Remember").
		Str("type", string(p.Type)).
		Int("importance", p.Importance).
		Msg("called")

	if isEmptyContent(p.Content) {
		return 0, memerr.NewValidationError("content is required")
	}
	if !p.Type.Valid() {
		return 0, memerr.NewValidationError("unknown memory type %q", p.Type)
	}
	if p.Importance < memory.MinImportance || p.Importance > memory.MaxImportance {
		return 0, memerr.NewValidationError("importance must be between %d and %d, got %d",
			memory.MinImportance, memory.MaxImportance, p.Importance)
	}

	id, err := s.store.Store(ctx, memory.StoreParams{
		Content:    p.Content,
		Type:       p.Type,
		Metadata:   p.Metadata,
		ExpiresAt:  p.ExpiresAt,
		Importance: p.Importance,
	})
	if err != nil {
		return 0, err
	}

	if err := s.indexRecord(ctx, id, p.Content, p.Type, p.Importance, p.Metadata); err != nil {
		s.logger.Error().Str("method", "Remember").Int64("id", id).Err(err).Msg("Stored memory but failed to index it")
		return id, err
	}
	return id, nil
}

// Get returns a non-expired record by id.
func (s *Service) Get(ctx context.Context, id int64) (memory.Record, bool, error) {
	type found struct {
		rec memory.Record
		ok  bool
	}
	res, err := retry(ctx, s, "Get", func() (found, error) {
		rec, ok, err := s.store.Get(ctx, id)
		return found{rec, ok}, err
	})
	return res.rec, res.ok, err
}

// List returns non-expired records, newest first.
func (s *Service) List(ctx context.Context, p memory.RetrieveParams) ([]memory.Record, error) {
	if p.MinImportance < memory.MinImportance || p.MinImportance > memory.MaxImportance {
		return nil, memerr.NewValidationError("min importance must be between %d and %d, got %d",
			memory.MinImportance, memory.MaxImportance, p.MinImportance)
	}
	return retry(ctx, s, "List", func() ([]memory.Record, error) {
		return s.store.Retrieve(ctx, p)
	})
}

// Delete removes a record and its index entries. It reports whether the
// record existed.
func (s *Service) Delete(ctx context.Context, id int64) (bool, error) {
	deleted, err := retry(ctx, s, "Delete", func() (bool, error) {
		return s.store.Delete(ctx, id)
	})
	if err != nil {
		return false, err
	}
	removed, err := retry(ctx, s, "Delete", func() (int64, error) {
		return s.index.Remove(ctx, id)
	})
	if err != nil {
		return deleted, err
	}
	s.logger.Info().
		Str("method", "Delete").
		Int64("id", id).
		Bool("deleted", deleted).
		Int64("indexEntriesRemoved", removed).
		Msg("Delete completed")
	return deleted, nil
}

// Clear removes every record of typ, or all records when typ is nil. Index
// entries of cleared records become orphans until Reconcile runs.
func (s *Service) Clear(ctx context.Context, typ *memory.RecordType) (int64, error) {
	return retry(ctx, s, "Clear", func() (int64, error) {
		return s.store.Clear(ctx, typ)
	})
}

// Search runs a ranked full-text query with metadata filters.
func (s *Service) Search(ctx context.Context, p search.SearchParams) ([]search.Result, error) {
	return retry(ctx, s, "Search", func() ([]search.Result, error) {
		return s.index.Search(ctx, p)
	})
}

// IndexStats returns the index metadata.
func (s *Service) IndexStats(ctx context.Context) (search.Stats, error) {
	return retry(ctx, s, "IndexStats", func() (search.Stats, error) {
		return s.index.GetStats(ctx)
	})
}

// Stats validates window and returns the aggregator snapshot for it.
func (s *Service) Stats(ctx context.Context, window string) (stats.Snapshot, error) {
	w, err := stats.ParseWindow(window)
	if err != nil {
		return stats.Snapshot{}, err
	}
	return retry(ctx, s, "Stats", func() (stats.Snapshot, error) {
		return s.stats.Snapshot(ctx, w)
	})
}

// ReconcileResult reports what Reconcile changed.
type ReconcileResult struct {
	OrphansRemoved int64   `json:"orphans_removed"`
	Reindexed      []int64 `json:"reindexed"`
}

// Reconcile removes orphan index entries and indexes live records that have
// no entry.
func (s *Service) Reconcile(ctx context.Context) (ReconcileResult, error) {
	s.logger.Debug().Str("method", "Reconcile").Msg("called")

	report, err := s.index.Reconcile(ctx)
	if err != nil {
		return ReconcileResult{}, err
	}

	result := ReconcileResult{OrphansRemoved: report.OrphansRemoved, Reindexed: []int64{}}
	for _, id := range report.Unindexed {
		rec, ok, err := s.store.Get(ctx, id)
		if err != nil {
			return result, err
		}
		if !ok {
			continue
		}
		if err := s.indexRecord(ctx, rec.ID, rec.Content, rec.Type, rec.Importance, rec.Metadata); err != nil {
			return result, err
		}
		result.Reindexed = append(result.Reindexed, rec.ID)
	}

	s.logger.Info().
		Str("method", "Reconcile").
		Int64("orphansRemoved", result.OrphansRemoved).
		Int("reindexed", len(result.Reindexed)).
		Msg("Reconcile completed")
	return result, nil
}

// PurgeExpired physically removes expired records.
func (s *Service) PurgeExpired(ctx context.Context) (int64, error) {
	return retry(ctx, s, "PurgeExpired", func() (int64, error) {
		return s.store.PurgeExpired(ctx)
	})
}

func (s *Service) indexRecord(ctx context.Context, id int64, content any, typ memory.RecordType, importance int, metadata map[string]any) error {
	text, err := ContentText(content)
	if err != nil {
		return err
	}
	return s.index.Index(ctx, id, text, IndexMetadata(metadata, typ, importance))
}

// ContentText renders content as indexable text: strings as-is, anything
// else as JSON.
func ContentText(content any) (string, error) {
	if str, ok := content.(string); ok {
		return str, nil
	}
	b, err := json.Marshal(content)
	if err != nil {
		return "", memerr.NewEncodingError("marshal content for indexing", err)
	}
	return string(b), nil
}

// IndexMetadata returns the metadata stored with an index entry: the record
// metadata plus its type and importance, which take precedence.
func IndexMetadata(metadata map[string]any, typ memory.RecordType, importance int) map[string]any {
	return lo.Assign(metadata, map[string]any{
		"type":       string(typ),
		"importance": importance,
	})
}

func isEmptyContent(content any) bool {
	switch c := content.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(c) == ""
	default:
		return false
	}
}
