package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/docket/internal/stock"
	"github.com/roach88/docket/internal/testutil"
)

var (
	treated = stock.MustKey("treated", "90x45mm", "2.4m")
	rough   = stock.MustKey("rough", "150x50mm", "6.0m")
)

func TestStore_ReadEmptySheet(t *testing.T) {
	s := createTestStore(t)

	cs, err := s.ReadCounters(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, cs)
	assert.Empty(t, cs)

	rev, err := s.Revision(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), rev)
}

func TestStore_WriteReplacesWholeSheet(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.WriteCounters(ctx, stock.Counters{
		treated: {Runnable: 3},
		rough:   {NonRunnable: 2},
	}, "yard"))
	require.NoError(t, s.WriteCounters(ctx, stock.Counters{
		treated: {Runnable: 1, NonRunnable: 1},
	}, "office"))

	cs, err := s.ReadCounters(ctx)
	require.NoError(t, err)
	assert.Equal(t, stock.Counters{treated: {Runnable: 1, NonRunnable: 1}}, cs)

	sheet, err := s.ReadSheet(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), sheet.Revision)
	want, err := stock.Digest(cs)
	require.NoError(t, err)
	assert.Equal(t, want, sheet.Digest)
}

func TestStore_WriteRejectsInvalid(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	err := s.WriteCounters(ctx, stock.Counters{treated: {Runnable: -2}}, "yard")
	assert.ErrorIs(t, err, stock.ErrNegativeCount)

	err = s.WriteCounters(ctx, stock.Counters{treated: {Runnable: 1}}, "")
	assert.ErrorContains(t, err, "actor id required")

	rev, err := s.Revision(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), rev, "rejected writes leave no history")
}

func TestStore_Reset(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.WriteCounters(ctx, stock.Counters{treated: {Runnable: 5}}, "yard"))
	require.NoError(t, s.ResetCounters(ctx, "office"))

	cs, err := s.ReadCounters(ctx)
	require.NoError(t, err)
	assert.Empty(t, cs)

	entries, err := s.History(ctx, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, OpReset, entries[0].Op)
	assert.Equal(t, "office", entries[0].ActorID)
	assert.Empty(t, entries[0].Counters)
}

func TestStore_Apply(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	c, err := s.Apply(ctx, OpWrite, stock.Counters{treated: {Runnable: 2}}, "yard")
	require.NoError(t, err)
	assert.Equal(t, int64(1), c.Revision)
	assert.Equal(t, OpWrite, c.Op)

	c, err = s.Apply(ctx, OpReset, stock.Counters{treated: {Runnable: 9}}, "yard")
	require.NoError(t, err)
	assert.Equal(t, int64(2), c.Revision)
	assert.Empty(t, c.Counters, "reset ignores counters")

	_, err = s.Apply(ctx, Op("merge"), nil, "yard")
	assert.ErrorContains(t, err, "unknown op")
}

func TestStore_SubscribeSeesCommitsInOrder(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	var totals []int
	unsub, err := s.Subscribe(ctx, func(cs stock.Counters) {
		totals = append(totals, cs.Total().Runnable)
	})
	require.NoError(t, err)

	var revs []int64
	unwatch := s.Hub().Subscribe(func(c Change) { revs = append(revs, c.Revision) })
	defer unwatch()

	for i := 1; i <= 3; i++ {
		require.NoError(t, s.WriteCounters(ctx, stock.Counters{treated: {Runnable: i}}, "yard"))
	}
	require.NoError(t, s.ResetCounters(ctx, "yard"))

	assert.Equal(t, []int{1, 2, 3, 0}, totals)
	assert.Equal(t, []int64{1, 2, 3, 4}, revs)

	unsub()
	require.NoError(t, s.WriteCounters(ctx, stock.Counters{treated: {Runnable: 7}}, "yard"))
	assert.Len(t, totals, 4)
	assert.Len(t, revs, 5)
}

func TestStore_SubscriptionOutlivesContext(t *testing.T) {
	s := createTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())

	var got []stock.Counters
	unsub, err := s.Subscribe(ctx, func(cs stock.Counters) { got = append(got, cs) })
	require.NoError(t, err)
	defer unsub()
	cancel()

	require.NoError(t, s.WriteCounters(context.Background(), stock.Counters{rough: {NonRunnable: 2}}, "yard"))
	require.Len(t, got, 1)
	assert.Equal(t, stock.Counter{NonRunnable: 2}, got[0][rough])
}

func TestStore_HistoryNewestFirstWithLimit(t *testing.T) {
	clk := testutil.NewFakeClock(testutil.Epoch)
	s := createTestStore(t, WithClock(clk))
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		require.NoError(t, s.WriteCounters(ctx, stock.Counters{treated: {Runnable: i}}, "yard"))
		clk.Advance(time.Minute)
	}

	entries, err := s.History(ctx, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, int64(5), entries[0].Seq)
	assert.Equal(t, int64(4), entries[1].Seq)
	assert.Equal(t, 5, entries[0].Counters[treated].Runnable)
	assert.True(t, entries[0].CreatedAt.Equal(testutil.Epoch.Add(4*time.Minute)))

	d, err := stock.Digest(entries[0].Counters)
	require.NoError(t, err)
	assert.Equal(t, d, entries[0].Digest)
}

func TestStore_HistoryEmpty(t *testing.T) {
	s := createTestStore(t)

	entries, err := s.History(context.Background(), 10)
	require.NoError(t, err)
	assert.NotNil(t, entries)
	assert.Empty(t, entries)
}

func TestStore_VerifyHistory(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.WriteCounters(ctx, stock.Counters{treated: {Runnable: 1}}, "yard"))
	require.NoError(t, s.WriteCounters(ctx, stock.Counters{rough: {Runnable: 2}}, "yard"))

	bad, err := s.VerifyHistory(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), bad)

	_, err = s.db.Exec(`UPDATE sheet_history SET digest = 'tampered' WHERE seq = 2`)
	require.NoError(t, err)

	bad, err = s.VerifyHistory(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), bad)
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sheet.db")
	ctx := context.Background()

	s1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s1.WriteCounters(ctx, stock.Counters{rough: {Runnable: 4, NonRunnable: 1}}, "yard"))
	require.NoError(t, s1.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	sheet, err := s2.ReadSheet(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), sheet.Revision)
	assert.Equal(t, stock.Counter{Runnable: 4, NonRunnable: 1}, sheet.Counters[rough])
}
