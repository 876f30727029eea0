package rollup

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/elonfeng/gearrank/internal/store"
	"github.com/elonfeng/gearrank/pkg/alert"
	"github.com/elonfeng/gearrank/pkg/popularity"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	for _, id := range []string{"item-x", "item-y"} {
		require.NoError(t, s.UpsertItem(ctx, &store.Item{ID: id, Name: id, BrandID: "canon", MountID: "rf", GearType: "camera"}))
	}
	return s
}

func day(s string) time.Time {
	t, err := popularity.ParseDay(s)
	if err != nil {
		panic(err)
	}
	return t
}

func addEvents(t *testing.T, s store.Store, itemID string, et popularity.EventType, d string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := s.InsertEvent(context.Background(), &store.Event{
			ID:        uuid.NewString(),
			ItemID:    itemID,
			EventType: et,
			Day:       d,
			CreatedAt: day(d).Add(12 * time.Hour),
		})
		require.NoError(t, err)
	}
}

func newJob(s store.Store, now time.Time, opts ...Option) *Job {
	opts = append([]Option{WithClock(func() time.Time { return now })}, opts...)
	return New(s, popularity.DefaultWeights(), Config{LookbackDays: DefaultLookbackDays}, opts...)
}

func TestRun_WeightCorrectness(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	addEvents(t, s, "item-x", popularity.EventView, "2026-03-09", 3)
	addEvents(t, s, "item-x", popularity.EventWishlistAdd, "2026-03-09", 2)
	addEvents(t, s, "item-x", popularity.EventReviewSubmit, "2026-03-09", 1)
	addEvents(t, s, "item-x", popularity.EventAPIFetch, "2026-03-09", 4)

	w, err := popularity.NewWeights(map[string]int{"view": 2, "wishlist_add": 3, "review_submit": 7})
	require.NoError(t, err)
	job := New(s, w, Config{}, WithClock(func() time.Time { return day("2026-03-10").Add(time.Hour) }))

	run, err := job.Run(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, "2026-03-09", run.AsOfDate)
	assert.True(t, run.Success)
	assert.Equal(t, 1, run.DailyRows)

	rows, err := s.ListDailyAggregates(ctx, "2026-03-09")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(3), rows[0].Views)
	assert.Equal(t, int64(2), rows[0].WishlistAdds)
	assert.Equal(t, int64(1), rows[0].ReviewSubmits)
	assert.Equal(t, int64(3*2+2*3+1*7), rows[0].Score)
}

func snapshot(t *testing.T, s store.Store, d string) ([]store.DailyAggregate, []store.WindowedAggregate, *store.LifetimeAggregate) {
	t.Helper()
	ctx := context.Background()
	daily, err := s.ListDailyAggregates(ctx, d)
	require.NoError(t, err)
	for i := range daily {
		daily[i].UpdatedAt = time.Time{}
	}
	win, err := s.ListWindowedAggregates(ctx, popularity.Timeframe7d, d, store.ItemFilter{})
	require.NoError(t, err)
	life, err := s.GetLifetimeAggregate(ctx, "item-x")
	require.NoError(t, err)
	life.UpdatedAt = time.Time{}
	return daily, win, life
}

func TestRun_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	addEvents(t, s, "item-x", popularity.EventView, "2026-03-09", 5)
	addEvents(t, s, "item-y", popularity.EventOwnerAdd, "2026-03-09", 1)
	job := newJob(s, day("2026-03-10"))

	asOf := day("2026-03-09")
	_, err := job.Run(ctx, &asOf)
	require.NoError(t, err)
	d1, w1, l1 := snapshot(t, s, "2026-03-09")

	second, err := job.Run(ctx, &asOf)
	require.NoError(t, err)
	assert.Equal(t, int64(0), second.LateArrivals)
	d2, w2, l2 := snapshot(t, s, "2026-03-09")

	assert.Equal(t, d1, d2)
	assert.Equal(t, w1, w2)
	assert.Equal(t, l1, l2)
	assert.Equal(t, int64(5), l2.ViewsLifetime, "lifetime does not double count a re-rolled day")

	runs, err := job.Runs(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestRun_LateArrivalCorrection(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	addEvents(t, s, "item-x", popularity.EventView, "2026-03-09", 2)

	first, err := newJob(s, day("2026-03-10")).Run(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, "2026-03-09", first.CorrectedDate)

	// An event for the 9th shows up after the 9th was rolled up.
	addEvents(t, s, "item-x", popularity.EventView, "2026-03-09", 1)
	addEvents(t, s, "item-x", popularity.EventView, "2026-03-10", 4)

	second, err := newJob(s, day("2026-03-11")).Run(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, "2026-03-10", second.AsOfDate)
	assert.Equal(t, "2026-03-09", second.CorrectedDate)
	assert.Equal(t, int64(1), second.LateArrivals)
	assert.Equal(t, 2, second.DailyRows)

	rows, err := s.ListDailyAggregates(ctx, "2026-03-09")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(3), rows[0].Views)

	life, err := s.GetLifetimeAggregate(ctx, "item-x")
	require.NoError(t, err)
	assert.Equal(t, int64(7), life.ViewsLifetime)
}

func TestRun_LateArrivalOutsideLookbackIgnored(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	addEvents(t, s, "item-x", popularity.EventView, "2026-03-01", 1)

	job := New(s, popularity.DefaultWeights(), Config{LookbackDays: 3},
		WithClock(func() time.Time { return day("2026-03-11") }))
	run, err := job.Run(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), run.LateArrivals)
	assert.Equal(t, "2026-03-10", run.CorrectedDate)

	rows, err := s.ListDailyAggregates(ctx, "2026-03-01")
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestRun_ZeroLookbackOnlyRollsAsOf(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	addEvents(t, s, "item-x", popularity.EventView, "2026-03-06", 2)
	addEvents(t, s, "item-x", popularity.EventView, "2026-03-09", 1)

	job := New(s, popularity.DefaultWeights(), Config{LookbackDays: 0},
		WithClock(func() time.Time { return day("2026-03-10") }))
	run, err := job.Run(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, "2026-03-09", run.CorrectedDate)
	assert.Equal(t, int64(0), run.LateArrivals)
	assert.Equal(t, 1, run.DailyRows)

	rows, err := s.ListDailyAggregates(ctx, "2026-03-06")
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestRun_ConcurrentInvocations(t *testing.T) {
	seed := func(s store.Store) {
		addEvents(t, s, "item-x", popularity.EventView, "2026-03-08", 3)
		addEvents(t, s, "item-x", popularity.EventView, "2026-03-09", 5)
		addEvents(t, s, "item-y", popularity.EventReviewSubmit, "2026-03-09", 2)
	}
	now := day("2026-03-10")
	ctx := context.Background()

	ref := newTestStore(t)
	seed(ref)
	_, err := newJob(ref, now).Run(ctx, nil)
	require.NoError(t, err)
	wantDaily, wantWin, wantLife := snapshot(t, ref, "2026-03-09")

	s := newTestStore(t)
	seed(s)
	job := newJob(s, now)

	const workers = 8
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = job.Run(ctx, nil)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err, "worker %d", i)
	}

	gotDaily, gotWin, gotLife := snapshot(t, s, "2026-03-09")
	assert.Equal(t, wantDaily, gotDaily)
	assert.Equal(t, wantWin, gotWin)
	assert.Equal(t, wantLife, gotLife)
	assert.Equal(t, int64(8), gotLife.ViewsLifetime)

	prev, err := s.ListDailyAggregates(ctx, "2026-03-08")
	require.NoError(t, err)
	require.Len(t, prev, 1)
	assert.Equal(t, int64(3), prev[0].Views)

	runs, err := job.Runs(ctx, 50)
	require.NoError(t, err)
	assert.Len(t, runs, workers)
	for _, r := range runs {
		assert.True(t, r.Success, r.Error)
	}
}

func TestRun_WindowedSums(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	start := day("2026-03-01")
	for i := 1; i <= 10; i++ {
		addEvents(t, s, "item-x", popularity.EventView, popularity.DayKey(start.AddDate(0, 0, i-1)), i)
	}

	// Roll each day as a daily scheduler would.
	for i := 1; i <= 10; i++ {
		d := start.AddDate(0, 0, i-1)
		_, err := newJob(s, d.AddDate(0, 0, 1)).Run(ctx, &d)
		require.NoError(t, err)
	}

	asOf := "2026-03-10"
	w7, err := s.ListWindowedAggregates(ctx, popularity.Timeframe7d, asOf, store.ItemFilter{})
	require.NoError(t, err)
	require.Len(t, w7, 1)
	assert.Equal(t, int64(4+5+6+7+8+9+10), w7[0].ViewsSum)
	assert.Equal(t, int64(49), w7[0].Score)

	w30, err := s.ListWindowedAggregates(ctx, popularity.Timeframe30d, asOf, store.ItemFilter{})
	require.NoError(t, err)
	require.Len(t, w30, 1)
	assert.Equal(t, int64(55), w30[0].ViewsSum)

	latest, err := s.LatestWindowAsOf(ctx, popularity.Timeframe7d)
	require.NoError(t, err)
	assert.Equal(t, asOf, latest)
}

func TestRun_CatchUpFromNothing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	addEvents(t, s, "item-x", popularity.EventView, "2026-03-07", 1)
	addEvents(t, s, "item-x", popularity.EventView, "2026-03-08", 1)

	run, err := newJob(s, day("2026-03-10")).Run(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, "2026-03-07", run.CorrectedDate)
	assert.Equal(t, int64(2), run.LateArrivals)

	w7, err := s.ListWindowedAggregates(ctx, popularity.Timeframe7d, "2026-03-09", store.ItemFilter{})
	require.NoError(t, err)
	require.Len(t, w7, 1)
	assert.Equal(t, int64(2), w7[0].ViewsSum)
}

func TestRun_RejectsTodayAndFuture(t *testing.T) {
	s := newTestStore(t)
	job := newJob(s, day("2026-03-10").Add(5*time.Hour))

	for _, d := range []string{"2026-03-10", "2026-03-12"} {
		asOf := day(d)
		run, err := job.Run(context.Background(), &asOf)
		assert.Nil(t, run)
		assert.True(t, errors.Is(err, popularity.ErrValidation))
	}

	runs, err := s.ListRollupRuns(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, runs, "rejected dates are not runs")
}

type failingStore struct {
	store.Store
	err error
}

func (f *failingStore) SumDailyAggregates(ctx context.Context, from, to string) ([]store.ItemSums, error) {
	return nil, f.err
}

type captureNotifier struct{ got []*alert.Notification }

func (c *captureNotifier) Name() string { return "capture" }
func (c *captureNotifier) Send(_ context.Context, n *alert.Notification) error {
	c.got = append(c.got, n)
	return nil
}

func TestRun_StageFailureRecorded(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	addEvents(t, s, "item-x", popularity.EventView, "2026-03-09", 1)

	notifier := &captureNotifier{}
	fs := &failingStore{Store: s, err: errors.New("disk I/O error")}
	job := newJob(fs, day("2026-03-10"), WithAlerts(alert.NewManager([]alert.Notifier{notifier})))

	run, err := job.Run(ctx, nil)
	require.Error(t, err)
	var re *popularity.RollupError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, popularity.StageWindowed, re.Stage)

	require.NotNil(t, run)
	assert.False(t, run.Success)
	assert.Contains(t, run.Error, "disk I/O error")

	runs, err := s.ListRollupRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.False(t, runs[0].Success)
	assert.Equal(t, run.ID, runs[0].ID)
	assert.Equal(t, "2026-03-09", runs[0].AsOfDate)

	require.Len(t, notifier.got, 1)
	assert.Equal(t, popularity.StageWindowed, notifier.got[0].Stage)
	assert.Equal(t, alert.SeverityCritical, notifier.got[0].Severity)
}

func TestRun_CancelledContextStillRecorded(t *testing.T) {
	s := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	run, err := newJob(s, day("2026-03-10")).Run(ctx, nil)
	require.Error(t, err)
	require.NotNil(t, run)

	runs, err := s.ListRollupRuns(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.False(t, runs[0].Success)
}
