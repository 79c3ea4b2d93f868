package search

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
	"github.com/aschepis/memvault/memory"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

type fixture struct {
	db    *sql.DB
	clock *fakeClock
	store *memory.Store
	index *Index
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := database.Open(database.Options{Path: filepath.Join(t.TempDir(), "memories.db")}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	clock := &fakeClock{t: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
	store, err := memory.NewStore(db, zerolog.Nop(), memory.WithClock(clock.Now))
	require.NoError(t, err)
	index, err := NewIndex(db, zerolog.Nop(), WithClock(clock.Now))
	require.NoError(t, err)
	return &fixture{db: db, clock: clock, store: store, index: index}
}

// remember stores a record and indexes it, the way callers are expected to.
func (f *fixture) remember(t *testing.T, content string, metadata map[string]any) int64 {
	t.Helper()
	ctx := context.Background()
	id, err := f.store.Store(ctx, memory.StoreParams{Content: content, Type: memory.TypeFact, Metadata: metadata})
	require.NoError(t, err)
	require.NoError(t, f.index.Index(ctx, id, content, metadata))
	return id
}

func ids(results []Result) []int64 {
	out := make([]int64, len(results))
	for i, r := range results {
		out[i] = r.MemoryID
	}
	return out
}

func TestNewIndexRequiresDB(t *testing.T) {
	_, err := NewIndex(nil, zerolog.Nop())
	require.Error(t, err)
}

func TestSearch_RanksMatchingEntries(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	apple := f.remember(t, "apple pie recipe", nil)
	banana := f.remember(t, "banana bread recipe", nil)

	results, err := f.index.Search(ctx, SearchParams{Query: "recipe", Limit: 10})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.ElementsMatch(t, []int64{apple, banana}, ids(results))
	assert.GreaterOrEqual(t, results[0].Score, results[1].Score)

	results, err = f.index.Search(ctx, SearchParams{Query: "apple", Limit: 10})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, apple, results[0].MemoryID)
	assert.Equal(t, "apple pie recipe", results[0].Content)
	assert.Greater(t, results[0].Score, 0.0)
}

func TestSearch_HigherScoreForBetterMatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	weak := f.remember(t, "a long note that mentions tea once among many other unrelated words here", nil)
	strong := f.remember(t, "tea tea tea", nil)

	results, err := f.index.Search(ctx, SearchParams{Query: "tea", Limit: 10})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, []int64{strong, weak}, ids(results))
	assert.Greater(t, results[0].Score, results[1].Score)
}

func TestSearch_StemmingAndCase(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	id := f.remember(t, "She was Running to the Markets", nil)

	for _, q := range []string{"run", "RUNS", "market", "running markets"} {
		results, err := f.index.Search(ctx, SearchParams{Query: q, Limit: 5})
		require.NoError(t, err, q)
		require.Len(t, results, 1, q)
		assert.Equal(t, id, results[0].MemoryID, q)
	}
}

func TestSearch_MetadataIsNotSearchable(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.remember(t, "plain content", map[string]any{"topic": "zebra"})

	results, err := f.index.Search(ctx, SearchParams{Query: "zebra", Limit: 5})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearch_MetadataFilters(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	five := f.remember(t, "apple pie recipe", map[string]any{"importance": 5, "lang": "en"})
	f.remember(t, "banana bread recipe", map[string]any{"importance": 3, "lang": "en"})
	f.remember(t, "cherry tart recipe", map[string]any{"lang": "fr"})

	results, err := f.index.Search(ctx, SearchParams{Query: "recipe", Limit: 10, Filters: map[string]any{"importance": 5}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, five, results[0].MemoryID)
	assert.Equal(t, json.Number("5"), results[0].Metadata["importance"])

	results, err = f.index.Search(ctx, SearchParams{Query: "recipe", Limit: 10, Filters: map[string]any{"importance": 5.0, "lang": "en"}})
	require.NoError(t, err)
	assert.Equal(t, []int64{five}, ids(results))

	results, err = f.index.Search(ctx, SearchParams{Query: "recipe", Limit: 10, Filters: map[string]any{"importance": 5, "lang": "fr"}})
	require.NoError(t, err)
	assert.Empty(t, results)

	results, err = f.index.Search(ctx, SearchParams{Query: "recipe", Limit: 10, Filters: map[string]any{"missing": "x"}})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearch_NestedAndStructuredFilters(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	id := f.remember(t, "quarterly report", map[string]any{
		"source": map[string]any{"kind": "email", "thread": 7},
		"tags":   []string{"work", "finance"},
		"urgent": true,
	})
	f.remember(t, "quarterly plan", map[string]any{"source": map[string]any{"kind": "chat"}})

	results, err := f.index.Search(ctx, SearchParams{Query: "quarterly", Limit: 10, Filters: map[string]any{"source.kind": "email"}})
	require.NoError(t, err)
	assert.Equal(t, []int64{id}, ids(results))

	results, err = f.index.Search(ctx, SearchParams{Query: "quarterly", Limit: 10, Filters: map[string]any{
		"tags":   []string{"work", "finance"},
		"urgent": true,
	}})
	require.NoError(t, err)
	assert.Equal(t, []int64{id}, ids(results))
}

func TestSearch_LimitAppliesAfterFiltering(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	for i := 0; i < 5; i++ {
		f.remember(t, "note about gardening", map[string]any{"keep": false})
	}
	var kept []int64
	for i := 0; i < 3; i++ {
		kept = append(kept, f.remember(t, "note about gardening", map[string]any{"keep": true}))
	}

	results, err := f.index.Search(ctx, SearchParams{Query: "gardening", Limit: 2, Filters: map[string]any{"keep": true}})
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.Contains(t, kept, r.MemoryID)
	}

	results, err = f.index.Search(ctx, SearchParams{Query: "gardening", Limit: 3})
	require.NoError(t, err)
	assert.Len(t, results, 3)
}

func TestSearch_EmptyQuery(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	first := f.remember(t, "alpha", map[string]any{"group": "g"})
	f.remember(t, "beta", map[string]any{"group": "h"})
	third := f.remember(t, "gamma", map[string]any{"group": "g"})

	results, err := f.index.Search(ctx, SearchParams{Query: "   ", Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, results)

	results, err = f.index.Search(ctx, SearchParams{Limit: 10, Filters: map[string]any{"group": "g"}})
	require.NoError(t, err)
	assert.Equal(t, []int64{third, first}, ids(results))
	for _, r := range results {
		assert.Zero(t, r.Score)
	}
}

func TestSearch_Deterministic(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	for _, c := range []string{"red apple", "green apple", "apple apple", "apple pie", "red pie"} {
		f.remember(t, c, nil)
	}

	first, err := f.index.Search(ctx, SearchParams{Query: "apple OR pie", Limit: 10})
	require.NoError(t, err)
	require.NotEmpty(t, first)
	for i := 0; i < 5; i++ {
		again, err := f.index.Search(ctx, SearchParams{Query: "apple OR pie", Limit: 10})
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestSearch_DuplicateEntriesAreAllReturned(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	id := f.remember(t, "duplicate text", nil)
	require.NoError(t, f.index.Index(ctx, id, "duplicate text", nil))

	results, err := f.index.Search(ctx, SearchParams{Query: "duplicate", Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, []int64{id, id}, ids(results))

	stats, err := f.index.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.TotalDocuments)
}

func TestSearch_ExcludesExpiredRecords(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	expires := f.clock.Now().Add(time.Second)
	id, err := f.store.Store(ctx, memory.StoreParams{Content: "ephemeral reminder", Type: memory.TypeContext, ExpiresAt: &expires})
	require.NoError(t, err)
	require.NoError(t, f.index.Index(ctx, id, "ephemeral reminder", nil))

	results, err := f.index.Search(ctx, SearchParams{Query: "reminder", Limit: 10})
	require.NoError(t, err)
	require.Len(t, results, 1)

	f.clock.Advance(2 * time.Second)
	results, err = f.index.Search(ctx, SearchParams{Query: "reminder", Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearch_OrphansVisibleUntilReconciled(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	id := f.remember(t, "orphaned entry", nil)
	deleted, err := f.store.Delete(ctx, id)
	require.NoError(t, err)
	require.True(t, deleted)

	results, err := f.index.Search(ctx, SearchParams{Query: "orphaned", Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, []int64{id}, ids(results))

	report, err := f.index.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), report.OrphansRemoved)

	results, err = f.index.Search(ctx, SearchParams{Query: "orphaned", Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestReconcile_ReportsUnindexedRecords(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.remember(t, "indexed", nil)
	unindexed, err := f.store.Store(ctx, memory.StoreParams{Content: "not yet indexed", Type: memory.TypeFact})
	require.NoError(t, err)
	expires := f.clock.Now().Add(time.Second)
	_, err = f.store.Store(ctx, memory.StoreParams{Content: "expired", Type: memory.TypeFact, ExpiresAt: &expires})
	require.NoError(t, err)
	f.clock.Advance(time.Minute)

	report, err := f.index.Reconcile(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.OrphansRemoved)
	assert.Equal(t, []int64{unindexed}, report.Unindexed)
}

func TestSearch_QuerySyntaxErrors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.remember(t, "some text", nil)

	for _, q := range []string{`"unbalanced`, `text AND`, `nocolumn:text`} {
		_, err := f.index.Search(ctx, SearchParams{Query: q, Limit: 10})
		require.Error(t, err, q)
		assert.True(t, memerr.IsQuerySyntax(err), "query %q: %v", q, err)
	}
}

func TestSearch_PunctuationNeedsPlainMode(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	milk := f.remember(t, "buy milk and bread, don't forget", nil)
	f.remember(t, "walk the dog", nil)

	for _, q := range []string{`milk?`, `milk, bread`} {
		_, err := f.index.Search(ctx, SearchParams{Query: q, Limit: 10})
		assert.True(t, memerr.IsQuerySyntax(err), "query %q: %v", q, err)
	}

	for _, q := range []string{`milk?`, `milk, bread`, `don't`, `buy-milk`, `"milk" AND`, `bread: and`} {
		results, err := f.index.Search(ctx, SearchParams{Query: q, Limit: 10, Plain: true})
		require.NoError(t, err, q)
		assert.Equal(t, []int64{milk}, ids(results), q)
	}

	results, err := f.index.Search(ctx, SearchParams{Query: "milk dog", Limit: 10, Plain: true})
	require.NoError(t, err)
	assert.Empty(t, results)

	results, err = f.index.Search(ctx, SearchParams{Query: "?? --", Limit: 10, Plain: true})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestPlainQuery(t *testing.T) {
	assert.Equal(t, `"milk?" "bread"`, plainQuery("milk?  bread"))
	assert.Equal(t, `"say" """hi"""`, plainQuery(`say "hi"`))
	assert.Equal(t, `"don't"`, plainQuery(`don't --`))
	assert.Empty(t, plainQuery("  ? ! "))
}

func TestSearch_Validation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.index.Search(ctx, SearchParams{Query: "x", Limit: 0})
	assert.True(t, memerr.IsValidation(err))

	_, err = f.index.Search(ctx, SearchParams{Query: "x", Limit: 1, Filters: map[string]any{"bad": make(chan int)}})
	assert.True(t, memerr.IsEncoding(err))
}

func TestGetStats(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	stats, err := f.index.GetStats(ctx)
	require.NoError(t, err)
	assert.Nil(t, stats.LastUpdate)
	assert.Zero(t, stats.TotalDocuments)
	assert.Zero(t, stats.AvgLength)

	f.remember(t, "abcd", nil)
	f.clock.Advance(time.Minute)
	f.remember(t, "abcdefgh", nil)

	stats, err = f.index.GetStats(ctx)
	require.NoError(t, err)
	require.NotNil(t, stats.LastUpdate)
	assert.True(t, stats.LastUpdate.Equal(f.clock.Now()))
	assert.Equal(t, int64(2), stats.TotalDocuments)
	assert.InDelta(t, 6.0, stats.AvgLength, 1e-9)
}

func TestRemove(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	id := f.remember(t, "to be removed", nil)
	require.NoError(t, f.index.Index(ctx, id, "to be removed again", nil))
	keep := f.remember(t, "kept", nil)

	n, err := f.index.Remove(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = f.index.Remove(ctx, id)
	require.NoError(t, err)
	assert.Zero(t, n)

	stats, err := f.index.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalDocuments)

	results, err := f.index.Search(ctx, SearchParams{Query: "kept", Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, []int64{keep}, ids(results))
}
