// Package memory implements the record store: the canonical table of typed
// memory records with lazy, read-time expiration.
package memory

import (
	"context"
	"database/sql"
	"errors"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/rs/zerolog"

	"github.com/aschepis/memvault/memerr"
)

// Store manages memory record persistence.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
	now    func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for created_at and expiry checks.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) {
		s.now = clock
	}
}

// NewStore creates and returns a Store.
func NewStore(db *sql.DB, logger zerolog.Logger, opts ...Option) (*Store, error) {
	if db == nil {
		return nil, errors.New("db cannot be nil")
	}
	logger = logger.With().Str("component", "memory_store").Logger()
	s := &Store{db: db, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	logger.Info().Msg("Initializing new Store")
	return s, nil
}

// Store inserts a new record and returns its id.
func (s *Store) Store(ctx context.Context, p StoreParams) (int64, error) {
	s.logger.Debug().
		Str("method", "Store").
		Str("type", string(p.Type)).
		Int("importance", p.Importance).
		Interface("metadata", p.Metadata).
		Msg("called")

	if !p.Type.Valid() {
		return 0, memerr.NewValidationError("unknown memory type %q", p.Type)
	}
	if err := validateImportance(p.Importance); err != nil {
		return 0, err
	}
	if err := validateExpiresAt(p.ExpiresAt); err != nil {
		return 0, err
	}

	contentJSON, err := EncodeContent(p.Content)
	if err != nil {
		s.logger.Error().Str("method", "Store").Err(err).Msg("Failed to marshal content")
		return 0, err
	}
	metaJSON, err := EncodeMetadata(p.Metadata)
	if err != nil {
		s.logger.Error().Str("method", "Store").Err(err).Msg("Failed to marshal metadata")
		return 0, err
	}

	var expiresAt interface{}
	if p.ExpiresAt != nil {
		expiresAt = p.ExpiresAt.UnixNano()
	}

	now := s.now()
	query := StatementBuilder().
		Insert("memories").
		Columns("type", "content", "metadata", "created_at", "expires_at", "importance").
		Values(string(p.Type), contentJSON, metaJSON, now.UnixNano(), expiresAt, p.Importance)

	queryStr, args, err := query.ToSql()
	if err != nil {
		return 0, memerr.NewStorageError("build insert query", err)
	}

	res, err := s.db.ExecContext(ctx, queryStr, args...)
	if err != nil {
		s.logger.Error().Str("method", "Store").Err(err).Msg("Failed to insert memory")
		return 0, memerr.NewStorageError("insert memory", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		s.logger.Error().Str("method", "Store").Err(err).Msg("Failed to retrieve LastInsertId for memories")
		return 0, memerr.NewStorageError("read inserted id", err)
	}

	s.logger.Info().
		Str("method", "Store").
		Int64("id", id).
		Str("type", string(p.Type)).
		Msg("Memory stored")
	return id, nil
}

// Retrieve lists non-expired records, newest first.
func (s *Store) Retrieve(ctx context.Context, p RetrieveParams) ([]Record, error) {
	s.logger.Debug().
		Str("method", "Retrieve").
		Str("type", string(p.Type)).
		Int("limit", p.Limit).
		Int("minImportance", p.MinImportance).
		Msg("called")

	if p.Limit <= 0 {
		return nil, memerr.NewValidationError("limit must be positive, got %d", p.Limit)
	}
	if p.Type != "" && !p.Type.Valid() {
		return nil, memerr.NewValidationError("unknown memory type %q", p.Type)
	}

	query := StatementBuilder().
		Select(SelectRecordColumns()...).
		From("memories").
		Where(ActiveCondition("", s.now()))
	if p.Type != "" {
		query = query.Where(sq.Eq{"type": string(p.Type)})
	}
	if p.MinImportance > 0 {
		query = query.Where(sq.GtOrEq{"importance": p.MinImportance})
	}
	query = query.
		OrderBy("created_at DESC", "id DESC").
		Limit(uint64(p.Limit))

	records, err := s.queryRecords(ctx, query)
	if err != nil {
		s.logger.Error().Str("method", "Retrieve").Err(err).Msg("Failed to retrieve memories")
		return nil, err
	}
	s.logger.Debug().Str("method", "Retrieve").Int("count", len(records)).Msg("Retrieved memories")
	return records, nil
}

// Get fetches a single non-expired record. The boolean is false when no such
// record exists; absence is not an error.
func (s *Store) Get(ctx context.Context, id int64) (Record, bool, error) {
	s.logger.Debug().Str("method", "Get").Int64("id", id).Msg("called")

	query := StatementBuilder().
		Select(SelectRecordColumns()...).
		From("memories").
		Where(sq.Eq{"id": id}).
		Where(ActiveCondition("", s.now())).
		Limit(1)

	records, err := s.queryRecords(ctx, query)
	if err != nil {
		s.logger.Error().Str("method", "Get").Int64("id", id).Err(err).Msg("Failed to get memory")
		return Record{}, false, err
	}
	if len(records) == 0 {
		return Record{}, false, nil
	}
	return records[0], true, nil
}

// Delete removes a record. It reports whether a row existed.
func (s *Store) Delete(ctx context.Context, id int64) (bool, error) {
	s.logger.Debug().Str("method", "Delete").Int64("id", id).Msg("called")

	n, err := s.exec(ctx, StatementBuilder().Delete("memories").Where(sq.Eq{"id": id}), "delete memory")
	if err != nil {
		s.logger.Error().Str("method", "Delete").Int64("id", id).Err(err).Msg("Failed to delete memory")
		return false, err
	}
	s.logger.Info().Str("method", "Delete").Int64("id", id).Bool("deleted", n > 0).Msg("Delete completed")
	return n > 0, nil
}

// Clear removes every record of typ, or every record when typ is nil.
func (s *Store) Clear(ctx context.Context, typ *RecordType) (int64, error) {
	query := StatementBuilder().Delete("memories")
	typeStr := ""
	if typ != nil {
		if !typ.Valid() {
			return 0, memerr.NewValidationError("unknown memory type %q", *typ)
		}
		typeStr = string(*typ)
		query = query.Where(sq.Eq{"type": typeStr})
	}
	s.logger.Debug().Str("method", "Clear").Str("type", typeStr).Msg("called")

	n, err := s.exec(ctx, query, "clear memories")
	if err != nil {
		s.logger.Error().Str("method", "Clear").Err(err).Msg("Failed to clear memories")
		return 0, err
	}
	s.logger.Info().Str("method", "Clear").Str("type", typeStr).Int64("removed", n).Msg("Memories cleared")
	return n, nil
}

// PurgeExpired physically removes records whose expiry has passed. Reads
// already hide such rows, so this only reclaims space.
func (s *Store) PurgeExpired(ctx context.Context) (int64, error) {
	now := s.now()
	query := StatementBuilder().
		Delete("memories").
		Where(sq.NotEq{"expires_at": nil}).
		Where(sq.LtOrEq{"expires_at": now.UnixNano()})

	n, err := s.exec(ctx, query, "purge expired memories")
	if err != nil {
		s.logger.Error().Str("method", "PurgeExpired").Err(err).Msg("Failed to purge expired memories")
		return 0, err
	}
	if n > 0 {
		s.logger.Info().Str("method", "PurgeExpired").Int64("removed", n).Msg("Expired memories purged")
	}
	return n, nil
}

func (s *Store) exec(ctx context.Context, query sq.DeleteBuilder, what string) (int64, error) {
	queryStr, args, err := query.ToSql()
	if err != nil {
		return 0, memerr.NewStorageError("build "+what+" query", err)
	}
	res, err := s.db.ExecContext(ctx, queryStr, args...)
	if err != nil {
		return 0, memerr.NewStorageError(what, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, memerr.NewStorageError(what, err)
	}
	return n, nil
}

func (s *Store) queryRecords(ctx context.Context, query sq.SelectBuilder) ([]Record, error) {
	queryStr, args, err := query.ToSql()
	if err != nil {
		return nil, memerr.NewStorageError("build select query", err)
	}
	rows, err := s.db.QueryContext(ctx, queryStr, args...)
	if err != nil {
		return nil, memerr.NewStorageError("query memories", err)
	}
	defer rows.Close() //nolint:errcheck // no remedy for rows close error

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, memerr.NewStorageError("iterate memories", err)
	}
	return records, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row scanner) (Record, error) {
	var (
		rec         Record
		typ         string
		contentJSON string
		metaJSON    sql.NullString
		createdAt   int64
		expiresAt   sql.NullInt64
	)
	if err := row.Scan(&rec.ID, &typ, &contentJSON, &metaJSON, &createdAt, &expiresAt, &rec.Importance); err != nil {
		return Record{}, memerr.NewStorageError("scan memory row", err)
	}

	content, err := DecodeContent(contentJSON)
	if err != nil {
		return Record{}, err
	}
	meta, err := DecodeMetadata(metaJSON.String)
	if err != nil {
		return Record{}, err
	}

	rec.Type = RecordType(typ)
	rec.Content = content
	rec.Metadata = meta
	rec.CreatedAt = time.Unix(0, createdAt)
	if expiresAt.Valid {
		t := time.Unix(0, expiresAt.Int64)
		rec.ExpiresAt = &t
	}
	return rec, nil
}
