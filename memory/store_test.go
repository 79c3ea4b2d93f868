package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aschepis/memvault/database"
	"github.com/aschepis/memvault/memerr"
)

type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

// setupTestDB opens a migrated database in a temp dir.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.Open(database.Options{Path: filepath.Join(t.TempDir(), "memories.db")}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newTestStore(t *testing.T, clock *fakeClock) *Store {
	t.Helper()
	var opts []Option
	if clock != nil {
		opts = append(opts, WithClock(clock.Now))
	}
	store, err := NewStore(setupTestDB(t), zerolog.Nop(), opts...)
	require.NoError(t, err)
	return store
}

func TestNewStoreRequiresDB(t *testing.T) {
	_, err := NewStore(nil, zerolog.Nop())
	require.Error(t, err)
}

func TestStore_StoreAndGet(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store := newTestStore(t, clock)

	id, err := store.Store(ctx, StoreParams{Content: "buy milk", Type: TypeFact, Importance: 3})
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)

	rec, ok, err := store.Get(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "buy milk", rec.Content)
	assert.Equal(t, TypeFact, rec.Type)
	assert.Equal(t, 3, rec.Importance)
	assert.Empty(t, rec.Metadata)
	assert.NotNil(t, rec.Metadata)
	assert.True(t, rec.CreatedAt.Equal(clock.Now()))
	assert.Nil(t, rec.ExpiresAt)
}

func TestStore_StructuredContentRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, nil)

	content := map[string]any{
		"role":  "user",
		"turns": []any{"hi", "hello", json.Number("2.5"), true, nil},
		"inner": map[string]any{"k": "v"},
	}
	metadata := map[string]any{"source": "chat", "importance": json.Number("5"), "tags": []any{"a", "b"}}

	id, err := store.Store(ctx, StoreParams{Content: content, Type: TypeConversation, Metadata: metadata, Importance: 5})
	require.NoError(t, err)

	rec, ok, err := store.Get(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, content, rec.Content)
	assert.Equal(t, metadata, rec.Metadata)
}

func TestStore_IDsNeverReused(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, nil)

	first, err := store.Store(ctx, StoreParams{Content: "a", Type: TypeFact})
	require.NoError(t, err)
	deleted, err := store.Delete(ctx, first)
	require.NoError(t, err)
	require.True(t, deleted)

	second, err := store.Store(ctx, StoreParams{Content: "b", Type: TypeFact})
	require.NoError(t, err)
	assert.Greater(t, second, first)
}

func TestStore_RejectsInvalidInput(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, nil)

	_, err := store.Store(ctx, StoreParams{Content: "x", Type: "NOTE"})
	assert.True(t, memerr.IsValidation(err))

	_, err = store.Store(ctx, StoreParams{Content: "x", Type: TypeFact, Importance: 11})
	assert.True(t, memerr.IsValidation(err))

	_, err = store.Store(ctx, StoreParams{Content: "x", Type: TypeFact, Importance: -1})
	assert.True(t, memerr.IsValidation(err))

	_, err = store.Store(ctx, StoreParams{Content: "x", Type: TypeFact, Importance: 10})
	assert.NoError(t, err)
}

func TestStore_ExpiresAtRange(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, newFakeClock())

	for _, at := range []time.Time{
		time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC),
		time.Date(1600, 1, 1, 0, 0, 0, 0, time.UTC),
	} {
		_, err := store.Store(ctx, StoreParams{Content: "x", Type: TypeFact, ExpiresAt: &at})
		assert.True(t, memerr.IsValidation(err), "expires_at %s", at)
	}

	recs, err := store.Retrieve(ctx, RetrieveParams{Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, recs)

	far := time.Date(2200, 1, 1, 0, 0, 0, 0, time.UTC)
	id, err := store.Store(ctx, StoreParams{Content: "x", Type: TypeFact, ExpiresAt: &far})
	require.NoError(t, err)
	rec, ok, err := store.Get(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, rec.ExpiresAt)
	assert.True(t, far.Equal(*rec.ExpiresAt))

	past := time.Date(1700, 1, 1, 0, 0, 0, 0, time.UTC)
	id, err = store.Store(ctx, StoreParams{Content: "x", Type: TypeFact, ExpiresAt: &past})
	require.NoError(t, err)
	_, ok, err = store.Get(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_EncodingError(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, nil)

	_, err := store.Store(ctx, StoreParams{Content: make(chan int), Type: TypeFact})
	assert.True(t, memerr.IsEncoding(err))

	_, err = store.Store(ctx, StoreParams{Content: "ok", Type: TypeFact, Metadata: map[string]any{"f": func() {}}})
	assert.True(t, memerr.IsEncoding(err))
}

func TestStore_RetrieveByTypeNewestFirst(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store := newTestStore(t, clock)

	older, err := store.Store(ctx, StoreParams{Content: "fact one", Type: TypeFact})
	require.NoError(t, err)
	clock.Advance(time.Second)
	_, err = store.Store(ctx, StoreParams{Content: "hello", Type: TypeConversation})
	require.NoError(t, err)
	clock.Advance(time.Second)
	newer, err := store.Store(ctx, StoreParams{Content: "fact two", Type: TypeFact})
	require.NoError(t, err)

	records, err := store.Retrieve(ctx, RetrieveParams{Type: TypeFact, Limit: 10})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, newer, records[0].ID)
	assert.Equal(t, older, records[1].ID)
}

func TestStore_RetrieveTiesBrokenByID(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store := newTestStore(t, clock)

	var ids []int64
	for i := 0; i < 3; i++ {
		id, err := store.Store(ctx, StoreParams{Content: i, Type: TypeContext})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	records, err := store.Retrieve(ctx, RetrieveParams{Limit: 10})
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, []int64{ids[2], ids[1], ids[0]}, []int64{records[0].ID, records[1].ID, records[2].ID})
}

func TestStore_RetrieveLimitAndImportance(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, nil)

	for i := 0; i <= 10; i++ {
		_, err := store.Store(ctx, StoreParams{Content: i, Type: TypePreference, Importance: i})
		require.NoError(t, err)
	}

	records, err := store.Retrieve(ctx, RetrieveParams{Limit: 4})
	require.NoError(t, err)
	assert.Len(t, records, 4)

	records, err = store.Retrieve(ctx, RetrieveParams{Limit: 100, MinImportance: 7})
	require.NoError(t, err)
	require.Len(t, records, 4)
	for _, rec := range records {
		assert.GreaterOrEqual(t, rec.Importance, 7)
	}

	_, err = store.Retrieve(ctx, RetrieveParams{Limit: 0})
	assert.True(t, memerr.IsValidation(err))
	_, err = store.Retrieve(ctx, RetrieveParams{Limit: -3})
	assert.True(t, memerr.IsValidation(err))
	_, err = store.Retrieve(ctx, RetrieveParams{Limit: 1, Type: "bogus"})
	assert.True(t, memerr.IsValidation(err))
}

func TestStore_ExpiredRecordsAreInvisible(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store := newTestStore(t, clock)

	expires := clock.Now().Add(time.Second)
	id, err := store.Store(ctx, StoreParams{Content: "short lived", Type: TypeContext, ExpiresAt: &expires})
	require.NoError(t, err)
	keep, err := store.Store(ctx, StoreParams{Content: "durable", Type: TypeContext})
	require.NoError(t, err)

	rec, ok, err := store.Get(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, rec.ExpiresAt)
	assert.True(t, rec.ExpiresAt.Equal(expires))

	clock.Advance(2 * time.Second)

	_, ok, err = store.Get(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)

	records, err := store.Retrieve(ctx, RetrieveParams{Limit: 10})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, keep, records[0].ID)

	// The row still physically exists until deleted.
	var n int
	require.NoError(t, store.db.QueryRow(`SELECT COUNT(*) FROM memories`).Scan(&n))
	assert.Equal(t, 2, n)
}

func TestStore_ExpiryBoundaryIsExclusive(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store := newTestStore(t, clock)

	expires := clock.Now().Add(time.Minute)
	id, err := store.Store(ctx, StoreParams{Content: "edge", Type: TypeFact, ExpiresAt: &expires})
	require.NoError(t, err)

	clock.Advance(time.Minute)
	_, ok, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok, "expires_at == now counts as expired")
}

func TestStore_ExpiryWithWallClock(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, nil)

	expires := time.Now().Add(50 * time.Millisecond)
	id, err := store.Store(ctx, StoreParams{Content: "soon gone", Type: TypeFact, ExpiresAt: &expires})
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)
	_, ok, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_DeleteMissingReturnsFalse(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, nil)

	deleted, err := store.Delete(ctx, 42)
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestStore_Clear(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, nil)

	for _, typ := range []RecordType{TypeFact, TypeFact, TypePrompt} {
		_, err := store.Store(ctx, StoreParams{Content: "x", Type: typ})
		require.NoError(t, err)
	}

	fact := TypeFact
	n, err := store.Clear(ctx, &fact)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = store.Clear(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = store.Clear(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	for _, limit := range []int{1, 10, 1000} {
		records, err := store.Retrieve(ctx, RetrieveParams{Limit: limit})
		require.NoError(t, err)
		assert.Empty(t, records)
	}
}

func TestStore_PurgeExpired(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store := newTestStore(t, clock)

	past := clock.Now().Add(time.Second)
	_, err := store.Store(ctx, StoreParams{Content: "old", Type: TypeFact, ExpiresAt: &past})
	require.NoError(t, err)
	future := clock.Now().Add(time.Hour)
	_, err = store.Store(ctx, StoreParams{Content: "later", Type: TypeFact, ExpiresAt: &future})
	require.NoError(t, err)
	_, err = store.Store(ctx, StoreParams{Content: "forever", Type: TypeFact})
	require.NoError(t, err)

	clock.Advance(time.Minute)
	n, err := store.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	records, err := store.Retrieve(ctx, RetrieveParams{Limit: 10})
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestStore_StorageErrorWhenClosed(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, nil)
	require.NoError(t, store.db.Close())

	_, err := store.Store(ctx, StoreParams{Content: "x", Type: TypeFact})
	assert.True(t, memerr.IsStorage(err))

	_, err = store.Retrieve(ctx, RetrieveParams{Limit: 1})
	assert.True(t, memerr.IsStorage(err))

	_, _, err = store.Get(ctx, 1)
	assert.True(t, memerr.IsStorage(err))

	_, err = store.Delete(ctx, 1)
	assert.True(t, memerr.IsStorage(err))
}

func TestParseRecordType(t *testing.T) {
	typ, err := ParseRecordType(" fact ")
	require.NoError(t, err)
	assert.Equal(t, TypeFact, typ)

	_, err = ParseRecordType("memo")
	assert.True(t, memerr.IsValidation(err))
}

func TestRecordExpired(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Second)
	future := now.Add(time.Second)

	assert.False(t, Record{}.Expired(now))
	assert.True(t, Record{ExpiresAt: &past}.Expired(now))
	assert.True(t, Record{ExpiresAt: &now}.Expired(now))
	assert.False(t, Record{ExpiresAt: &future}.Expired(now))
}
