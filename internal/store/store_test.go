package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/elonfeng/gearrank/pkg/popularity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	items := []Item{
		{ID: "canon-eos-r5", Name: "Canon EOS R5", BrandID: "canon", MountID: "rf", GearType: "camera"},
		{ID: "canon-rf-50", Name: "Canon RF 50mm f/1.8", BrandID: "canon", MountID: "rf", GearType: "lens"},
		{ID: "sony-a7iv", Name: "Sony A7 IV", BrandID: "sony", MountID: "e", GearType: "camera"},
	}
	for i := range items {
		require.NoError(t, s.UpsertItem(ctx, &items[i]))
	}
	return s
}

func strPtr(s string) *string { return &s }

func TestItems(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ok, err := s.ItemExists(ctx, "canon-eos-r5")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.ItemExists(ctx, "nikon-z8")
	require.NoError(t, err)
	assert.False(t, ok)

	// Upsert updates attributes in place.
	require.NoError(t, s.UpsertItem(ctx, &Item{ID: "sony-a7iv", Name: "Sony α7 IV", BrandID: "sony", MountID: "fe", GearType: "camera"}))
	ok, err = s.AnyItemMatches(ctx, ItemFilter{MountID: "fe"})
	require.NoError(t, err)
	assert.True(t, ok)

	tests := []struct {
		name   string
		filter ItemFilter
		want   bool
	}{
		{"empty filter", ItemFilter{}, true},
		{"brand", ItemFilter{BrandID: "canon"}, true},
		{"brand and type", ItemFilter{BrandID: "canon", GearType: "lens"}, true},
		{"unknown brand", ItemFilter{BrandID: "leica"}, false},
		{"mismatched mount", ItemFilter{BrandID: "sony", MountID: "rf"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.AnyItemMatches(ctx, tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestUpsertItem_NormalizesGearType(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertItem(ctx, &Item{ID: " nikon-z8 ", BrandID: "nikon", MountID: "z", GearType: " Camera "}))
	ok, err := s.AnyItemMatches(ctx, ItemFilter{BrandID: "nikon", GearType: "camera"})
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.ItemExists(ctx, "nikon-z8")
	require.NoError(t, err)
	assert.True(t, ok)

	tests := []struct {
		name string
		item Item
	}{
		{"unknown gear type", Item{ID: "gitzo-gt3543", GearType: "tripod"}},
		{"missing gear type", Item{ID: "mystery"}},
		{"missing id", Item{ID: "  ", GearType: "lens"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.UpsertItem(ctx, &tt.item)
			assert.ErrorIs(t, err, popularity.ErrValidation)
		})
	}
}

func TestInsertEvent_ViewUniquePerDay(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	view := func(id, actor, day string) bool {
		t.Helper()
		ok, err := s.InsertEvent(ctx, &Event{
			ID: id, ItemID: "canon-eos-r5", ActorID: strPtr(actor),
			EventType: popularity.EventView, Points: 1, Day: day, CreatedAt: now,
		})
		require.NoError(t, err)
		return ok
	}

	assert.True(t, view("e1", "u:1", "2026-03-10"))
	assert.False(t, view("e2", "u:1", "2026-03-10"), "second view same day is ignored")
	assert.True(t, view("e3", "u:1", "2026-03-11"), "new day counts again")
	assert.True(t, view("e4", "u:2", "2026-03-10"), "different actor counts")

	// Anonymous views and non-view events are never deduped by the index.
	for _, id := range []string{"e5", "e6"} {
		ok, err := s.InsertEvent(ctx, &Event{ID: id, ItemID: "canon-eos-r5", EventType: popularity.EventView, Day: "2026-03-10", CreatedAt: now})
		require.NoError(t, err)
		assert.True(t, ok)
	}
	for _, id := range []string{"e7", "e8"} {
		ok, err := s.InsertEvent(ctx, &Event{ID: id, ItemID: "canon-eos-r5", ActorID: strPtr("u:1"), EventType: popularity.EventWishlistAdd, Points: 5, Day: "2026-03-10", CreatedAt: now})
		require.NoError(t, err)
		assert.True(t, ok)
	}

	seen, err := s.HasEventOnDay(ctx, "canon-eos-r5", "u:1", popularity.EventView, "2026-03-10")
	require.NoError(t, err)
	assert.True(t, seen)
	seen, err = s.HasEventOnDay(ctx, "canon-eos-r5", "u:3", popularity.EventView, "2026-03-10")
	require.NoError(t, err)
	assert.False(t, seen)

	byDay, err := s.CountEventsByDay(ctx, "2026-03-10", "2026-03-12")
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"2026-03-10": 6, "2026-03-11": 1}, byDay)

	groups, err := s.GroupEventsByDay(ctx, "2026-03-10")
	require.NoError(t, err)
	assert.Equal(t, []EventGroup{
		{ItemID: "canon-eos-r5", EventType: popularity.EventView, N: 4},
		{ItemID: "canon-eos-r5", EventType: popularity.EventWishlistAdd, N: 2},
	}, groups)
}

func TestDayEventCounts_Filtered(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	add := func(id, item string, et popularity.EventType) {
		_, err := s.InsertEvent(ctx, &Event{ID: id, ItemID: item, EventType: et, Day: "2026-03-10", CreatedAt: now})
		require.NoError(t, err)
	}
	add("a", "canon-eos-r5", popularity.EventView)
	add("b", "canon-eos-r5", popularity.EventOwnerAdd)
	add("c", "sony-a7iv", popularity.EventCompareAdd)
	add("d", "canon-rf-50", popularity.EventAPIFetch)

	counts, err := s.DayEventCounts(ctx, "2026-03-10", ItemFilter{BrandID: "canon"})
	require.NoError(t, err)
	assert.Equal(t, popularity.Counts{Views: 1, OwnerAdds: 1}, counts["canon-eos-r5"])
	assert.NotContains(t, counts, "sony-a7iv")
}

func TestReplaceDailyAggregates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.ReplaceDailyAggregates(ctx, "2026-03-10", []DailyAggregate{
		{ItemID: "canon-eos-r5", Views: 4, Score: 4},
		{ItemID: "sony-a7iv", WishlistAdds: 1, Score: 5},
	}, 5))

	// Second pass overwrites and prunes items no longer present.
	require.NoError(t, s.ReplaceDailyAggregates(ctx, "2026-03-10", []DailyAggregate{
		{ItemID: "canon-eos-r5", Views: 6, Score: 6},
	}, 6))

	rows, err := s.ListDailyAggregates(ctx, "2026-03-10")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "canon-eos-r5", rows[0].ItemID)
	assert.Equal(t, int64(6), rows[0].Views)
	assert.Equal(t, int64(6), rows[0].Score)

	rolled, err := s.RolledDays(ctx, "2026-03-01", "2026-03-31")
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"2026-03-10": 6}, rolled)

	// An empty set clears the day but still marks it rolled.
	require.NoError(t, s.ReplaceDailyAggregates(ctx, "2026-03-10", nil, 0))
	rows, err = s.ListDailyAggregates(ctx, "2026-03-10")
	require.NoError(t, err)
	assert.Empty(t, rows)
	rolled, err = s.RolledDays(ctx, "2026-03-10", "2026-03-11")
	require.NoError(t, err)
	assert.Equal(t, int64(0), rolled["2026-03-10"])
	assert.Contains(t, rolled, "2026-03-10")
}

func TestReplaceDailyAggregates_ManyItems(t *testing.T) {
	if testing.Short() {
		t.Skip("inserts more rows than SQLite allows bind variables in one statement")
	}
	s := newTestStore(t)
	ctx := context.Background()

	const n = 33000
	rows := make([]DailyAggregate, n)
	for i := range rows {
		rows[i] = DailyAggregate{ItemID: fmt.Sprintf("item-%05d", i), Views: 1, Score: 1}
	}
	require.NoError(t, s.ReplaceDailyAggregates(ctx, "2026-03-10", rows, n))
	require.NoError(t, s.ReplaceDailyAggregates(ctx, "2026-03-10", rows[:n-1], n-1))

	got, err := s.ListDailyAggregates(ctx, "2026-03-10")
	require.NoError(t, err)
	assert.Len(t, got, n-1)
	assert.Equal(t, "item-32998", got[len(got)-1].ItemID)
}

func TestSumDailyAggregates_Bounds(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, d := range []string{"2026-03-01", "2026-03-05", "2026-03-10"} {
		require.NoError(t, s.ReplaceDailyAggregates(ctx, d, []DailyAggregate{
			{ItemID: "canon-eos-r5", Views: 1, ReviewSubmits: 1},
		}, 2))
	}

	sums, err := s.SumDailyAggregates(ctx, "2026-03-05", "2026-03-10")
	require.NoError(t, err)
	require.Len(t, sums, 1)
	assert.Equal(t, int64(2), sums[0].Views, "both bounds inclusive")

	sums, err = s.SumDailyAggregates(ctx, "", "")
	require.NoError(t, err)
	require.Len(t, sums, 1)
	assert.Equal(t, popularity.Counts{Views: 3, ReviewSubmits: 3}, sums[0].Counts)

	sums, err = s.SumDailyAggregates(ctx, "2026-03-11", "2026-03-20")
	require.NoError(t, err)
	assert.Empty(t, sums)
}

func TestWindowedAggregates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	asOf, err := s.LatestWindowAsOf(ctx, popularity.Timeframe7d)
	require.NoError(t, err)
	assert.Empty(t, asOf)

	require.NoError(t, s.ReplaceWindowedAggregates(ctx, popularity.Timeframe7d, "2026-03-09", []WindowedAggregate{
		{ItemID: "canon-eos-r5", ViewsSum: 10, Score: 10},
	}))
	require.NoError(t, s.ReplaceWindowedAggregates(ctx, popularity.Timeframe7d, "2026-03-10", []WindowedAggregate{
		{ItemID: "canon-eos-r5", ViewsSum: 12, Score: 12},
		{ItemID: "sony-a7iv", OwnerAddsSum: 1, Score: 10},
	}))
	require.NoError(t, s.ReplaceWindowedAggregates(ctx, popularity.Timeframe30d, "2026-03-08", []WindowedAggregate{
		{ItemID: "sony-a7iv", ViewsSum: 1, Score: 1},
	}))

	asOf, err = s.LatestWindowAsOf(ctx, popularity.Timeframe7d)
	require.NoError(t, err)
	assert.Equal(t, "2026-03-10", asOf)

	rows, err := s.ListWindowedAggregates(ctx, popularity.Timeframe7d, "2026-03-10", ItemFilter{})
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	rows, err = s.ListWindowedAggregates(ctx, popularity.Timeframe7d, "2026-03-10", ItemFilter{BrandID: "sony"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(1), rows[0].Counts().OwnerAdds)

	wa, err := s.GetWindowedAggregate(ctx, popularity.Timeframe7d, "2026-03-09", "canon-eos-r5")
	require.NoError(t, err)
	assert.Equal(t, int64(10), wa.Score)

	_, err = s.GetWindowedAggregate(ctx, popularity.Timeframe7d, "2026-03-09", "sony-a7iv")
	assert.ErrorIs(t, err, popularity.ErrNotFound)

	// Replacing a snapshot drops rows that are no longer present.
	require.NoError(t, s.ReplaceWindowedAggregates(ctx, popularity.Timeframe7d, "2026-03-10", nil))
	rows, err = s.ListWindowedAggregates(ctx, popularity.Timeframe7d, "2026-03-10", ItemFilter{})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestLifetimeAggregates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetLifetimeAggregate(ctx, "canon-eos-r5")
	assert.ErrorIs(t, err, popularity.ErrNotFound)

	require.NoError(t, s.UpsertLifetimeAggregates(ctx, []LifetimeAggregate{
		{ItemID: "canon-eos-r5", ViewsLifetime: 3, ScoreLifetime: 3},
	}))
	require.NoError(t, s.UpsertLifetimeAggregates(ctx, []LifetimeAggregate{
		{ItemID: "canon-eos-r5", ViewsLifetime: 5, OwnerAddsLifetime: 1, ScoreLifetime: 15},
	}))

	la, err := s.GetLifetimeAggregate(ctx, "canon-eos-r5")
	require.NoError(t, err)
	assert.Equal(t, int64(5), la.ViewsLifetime)
	assert.Equal(t, int64(15), la.ScoreLifetime)
}

func TestRollupRuns_NewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 10, 0, 10, 0, 0, time.UTC)

	for i, asOf := range []string{"2026-03-07", "2026-03-08", "2026-03-09"} {
		require.NoError(t, s.InsertRollupRun(ctx, &RollupRun{
			ID:            asOf,
			CreatedAt:     base.Add(time.Duration(i) * time.Minute),
			AsOfDate:      asOf,
			CorrectedDate: asOf,
			Success:       i != 1,
			Error:         map[bool]string{true: "daily: boom"}[i == 1],
		}))
	}

	runs, err := s.ListRollupRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "2026-03-09", runs[0].AsOfDate)
	assert.Equal(t, "2026-03-08", runs[1].AsOfDate)
	assert.False(t, runs[1].Success)
	assert.Equal(t, "daily: boom", runs[1].Error)

	runs, err = s.ListRollupRuns(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, runs, 3)
}
