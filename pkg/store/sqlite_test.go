package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLiteStore(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteRoundTrip(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()

	ev := testEvent("a1", 10)
	ev.Tags = [][]string{{"price", "100"}, {"t", "books"}}
	ev.ReceivedAt = time.Unix(100, 123456789).UTC()

	inserted, err := s.InsertIfAbsent(ctx, ev)
	require.NoError(t, err)
	assert.True(t, inserted)

	got, err := s.GetByID(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, ev.ID, got.ID)
	assert.Equal(t, ev.PubKey, got.PubKey)
	assert.Equal(t, ev.Tags, got.Tags)
	assert.Equal(t, ev.Content, got.Content)
	assert.True(t, ev.ReceivedAt.Equal(got.ReceivedAt))
}

func TestSQLiteInsertOrIgnore(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()

	inserted, err := s.InsertIfAbsent(ctx, testEvent("a1", 10))
	require.NoError(t, err)
	assert.True(t, inserted)

	// A replay with different content but the same id stays a no-op.
	replay := testEvent("a1", 10)
	replay.Content = "different"
	inserted, err = s.InsertIfAbsent(ctx, replay)
	require.NoError(t, err)
	assert.False(t, inserted)

	got, err := s.GetByID(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "c", got.Content)
}

func TestSQLiteSelectPageOrderingAndCursor(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()
	for _, ev := range []struct {
		id string
		ts int64
	}{
		{"b2", 20}, {"b1", 20}, {"c1", 30}, {"a1", 10},
	} {
		_, err := s.InsertIfAbsent(ctx, testEvent(ev.id, ev.ts))
		require.NoError(t, err)
	}

	page, err := s.SelectPage(ctx, Filter{}, nil, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "c1", page[0].ID)
	assert.Equal(t, "b1", page[1].ID)

	rest, err := s.SelectPage(ctx, Filter{}, &Position{CreatedAt: 20, ID: "b1"}, 10)
	require.NoError(t, err)
	require.Len(t, rest, 2)
	assert.Equal(t, "b2", rest[0].ID)
	assert.Equal(t, "a1", rest[1].ID)
}

func TestSQLiteFilters(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()

	listing := testEvent("x1", 15)
	listing.Kind = 30402
	for _, ev := range []struct {
		id string
		ts int64
	}{
		{"a1", 10}, {"b1", 20},
	} {
		_, err := s.InsertIfAbsent(ctx, testEvent(ev.id, ev.ts))
		require.NoError(t, err)
	}
	_, err := s.InsertIfAbsent(ctx, listing)
	require.NoError(t, err)

	kind := 30402
	page, err := s.SelectPage(ctx, Filter{Kind: &kind}, nil, 10)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "x1", page[0].ID)

	since, until := int64(10), int64(15)
	page, err = s.SelectPage(ctx, Filter{Since: &since, Until: &until}, nil, 10)
	require.NoError(t, err)
	assert.Len(t, page, 2)

	page, err = s.SelectPage(ctx, Filter{ReceivedBefore: time.Unix(15, 0).UTC()}, nil, 10)
	require.NoError(t, err)
	assert.Len(t, page, 2)
}

func TestSQLiteSnapshotFractionalSeconds(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()

	// A half-second admission time, where a textual encoding would trim
	// the trailing zeros and sort after longer same-prefix snapshots.
	ev := testEvent("a1", 10)
	ev.ReceivedAt = time.Date(2024, 1, 2, 12, 0, 0, 500000000, time.UTC)
	_, err := s.InsertIfAbsent(ctx, ev)
	require.NoError(t, err)

	snapshot := time.Date(2024, 1, 2, 12, 0, 0, 512000000, time.UTC)
	page, err := s.SelectPage(ctx, Filter{ReceivedBefore: snapshot}, nil, 10)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "a1", page[0].ID)
	assert.True(t, ev.ReceivedAt.Equal(page[0].ReceivedAt))

	// An earlier snapshot must still exclude it.
	earlier := time.Date(2024, 1, 2, 12, 0, 0, 400000000, time.UTC)
	page, err = s.SelectPage(ctx, Filter{ReceivedBefore: earlier}, nil, 10)
	require.NoError(t, err)
	assert.Empty(t, page)
}

func TestSQLiteGetMissing(t *testing.T) {
	s := openTestSQLite(t)
	_, err := s.GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
