// Package rollup turns raw popularity events into daily, windowed and
// lifetime aggregates and records every execution in the run ledger.
//
// Every write is an overwrite keyed by natural key, so a run can be
// repeated or overlap with another run for the same date without drift.
package rollup

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/elonfeng/gearrank/internal/logging"
	"github.com/elonfeng/gearrank/internal/metrics"
	"github.com/elonfeng/gearrank/internal/store"
	"github.com/elonfeng/gearrank/pkg/alert"
	"github.com/elonfeng/gearrank/pkg/popularity"
	"github.com/google/uuid"
)

const (
	DefaultLookbackDays = 7
	DefaultTimeout      = 300 * time.Second

	ledgerTimeout = 10 * time.Second
	alertTimeout  = 15 * time.Second
)

// Config tunes a Job.
type Config struct {
	// LookbackDays before the as-of date are checked for late arrivals.
	// Zero disables the check; a negative value takes DefaultLookbackDays.
	LookbackDays int
	Timeout      time.Duration
}

// Job is the daily rollup.
type Job struct {
	store    store.Store
	weights  popularity.Weights
	lookback int
	timeout  time.Duration
	alerts   *alert.Manager
	now      func() time.Time
}

// Option configures a Job.
type Option func(*Job)

// WithAlerts broadcasts failed runs through m.
func WithAlerts(m *alert.Manager) Option {
	return func(j *Job) { j.alerts = m }
}

// WithClock overrides time.Now for choosing the default as-of date.
func WithClock(now func() time.Time) Option {
	return func(j *Job) { j.now = now }
}

// New creates a Job. A zero Timeout takes DefaultTimeout.
func New(s store.Store, weights popularity.Weights, cfg Config, opts ...Option) *Job {
	j := &Job{
		store:    s,
		weights:  weights,
		lookback: cfg.LookbackDays,
		timeout:  cfg.Timeout,
		now:      time.Now,
	}
	if j.lookback < 0 {
		j.lookback = DefaultLookbackDays
	}
	if j.timeout <= 0 {
		j.timeout = DefaultTimeout
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Run rolls up asOf, or yesterday (UTC) when asOf is nil. asOf must be a
// day that has already ended.
//
// The returned run is always non-nil once the date is valid, and is
// recorded in the ledger whether the run succeeded or not. A failed stage
// is reported as a *popularity.RollupError.
func (j *Job) Run(ctx context.Context, asOf *time.Time) (*store.RollupRun, error) {
	today := popularity.Day(j.now())
	day := today.AddDate(0, 0, -1)
	if asOf != nil {
		day = popularity.Day(*asOf)
	}
	if !day.Before(today) {
		return nil, popularity.Invalid("date", fmt.Sprintf("as-of date %s must be before today (%s)",
			popularity.DayKey(day), popularity.DayKey(today)))
	}

	started := time.Now()
	run := &store.RollupRun{
		ID:            uuid.NewString(),
		CreatedAt:     started.UTC(),
		AsOfDate:      popularity.DayKey(day),
		CorrectedDate: popularity.DayKey(day),
	}

	runCtx, cancel := context.WithTimeout(ctx, j.timeout)
	err := j.execute(runCtx, day, run)
	cancel()

	run.DurationMs = time.Since(started).Milliseconds()
	run.Success = err == nil
	if err != nil {
		run.Error = err.Error()
	}

	// The ledger entry must survive a blown budget or a cancelled caller.
	ledgerCtx, cancelLedger := context.WithTimeout(context.WithoutCancel(ctx), ledgerTimeout)
	defer cancelLedger()
	if lerr := j.store.InsertRollupRun(ledgerCtx, run); lerr != nil {
		logging.Error().Err(lerr).Str("run_id", run.ID).Str("as_of", run.AsOfDate).Msg("record rollup run failed")
		if err == nil {
			err = &popularity.RollupError{Stage: popularity.StageLedger, Err: lerr}
			run.Success = false
			run.Error = err.Error()
		}
	}

	metrics.RecordRollup(time.Since(started), run.LateArrivals, err)

	if err != nil {
		logging.Error().Err(err).
			Str("run_id", run.ID).
			Str("as_of", run.AsOfDate).
			Int64("duration_ms", run.DurationMs).
			Msg("rollup failed")
		j.notify(ctx, run, err)
		return run, err
	}

	logging.Info().
		Str("run_id", run.ID).
		Str("as_of", run.AsOfDate).
		Str("corrected", run.CorrectedDate).
		Int("daily_rows", run.DailyRows).
		Int64("late_arrivals", run.LateArrivals).
		Int("windows_rows", run.WindowsRows).
		Int("lifetime_rows", run.LifetimeTotalRows).
		Int64("duration_ms", run.DurationMs).
		Msg("rollup complete")
	return run, nil
}

// Runs lists the most recent ledger entries.
func (j *Job) Runs(ctx context.Context, limit int) ([]store.RollupRun, error) {
	runs, err := j.store.ListRollupRuns(ctx, limit)
	if err != nil {
		return nil, popularity.Storage("list rollup runs", err)
	}
	return runs, nil
}

func (j *Job) execute(ctx context.Context, asOf time.Time, run *store.RollupRun) error {
	days, late, err := j.resolve(ctx, asOf)
	if err != nil {
		return stageErr(popularity.StageResolve, err)
	}
	run.LateArrivals = late
	run.CorrectedDate = days[0]

	for _, day := range days {
		n, err := j.rollDay(ctx, day)
		if err != nil {
			return stageErr(popularity.StageDaily, fmt.Errorf("day %s: %w", day, err))
		}
		run.DailyRows += n
	}

	for _, tf := range popularity.Timeframes() {
		n, err := j.rollWindow(ctx, tf, asOf)
		if err != nil {
			return stageErr(popularity.StageWindowed, fmt.Errorf("%s: %w", tf, err))
		}
		run.WindowsRows += n
	}

	n, err := j.rollLifetime(ctx)
	if err != nil {
		return stageErr(popularity.StageLifetime, err)
	}
	run.LifetimeTotalRows = n
	return nil
}

// resolve returns the days to recompute in ascending order, ending with
// asOf, and the number of events not yet reflected in earlier rollups.
func (j *Job) resolve(ctx context.Context, asOf time.Time) ([]string, int64, error) {
	from := popularity.DayKey(asOf.AddDate(0, 0, -j.lookback))
	to := popularity.DayKey(asOf)

	raw, err := j.store.CountEventsByDay(ctx, from, to)
	if err != nil {
		return nil, 0, err
	}
	rolled, err := j.store.RolledDays(ctx, from, to)
	if err != nil {
		return nil, 0, err
	}

	var days []string
	var late int64
	for day, n := range raw {
		if diff := n - rolled[day]; diff > 0 {
			days = append(days, day)
			late += diff
		}
	}
	sort.Strings(days)
	return append(days, to), late, nil
}

func (j *Job) rollDay(ctx context.Context, day string) (int, error) {
	groups, err := j.store.GroupEventsByDay(ctx, day)
	if err != nil {
		return 0, err
	}

	var total int64
	byItem := make(map[string]*popularity.Counts)
	var order []string
	for _, g := range groups {
		total += g.N
		c, ok := byItem[g.ItemID]
		if !ok {
			c = &popularity.Counts{}
			byItem[g.ItemID] = c
			order = append(order, g.ItemID)
		}
		c.Inc(g.EventType, g.N)
	}

	rows := make([]store.DailyAggregate, 0, len(order))
	for _, id := range order {
		c := *byItem[id]
		if c.IsZero() {
			continue
		}
		rows = append(rows, store.DailyAggregate{
			ItemID:        id,
			Day:           day,
			Views:         c.Views,
			WishlistAdds:  c.WishlistAdds,
			OwnerAdds:     c.OwnerAdds,
			CompareAdds:   c.CompareAdds,
			ReviewSubmits: c.ReviewSubmits,
			Score:         j.weights.Score(c),
		})
	}

	if err := j.store.ReplaceDailyAggregates(ctx, day, rows, total); err != nil {
		return 0, err
	}
	return len(rows), nil
}

// rollWindow sums the tf.Days() days ending at asOf inclusive.
func (j *Job) rollWindow(ctx context.Context, tf popularity.Timeframe, asOf time.Time) (int, error) {
	from := popularity.DayKey(asOf.AddDate(0, 0, -(tf.Days() - 1)))
	to := popularity.DayKey(asOf)

	sums, err := j.store.SumDailyAggregates(ctx, from, to)
	if err != nil {
		return 0, err
	}

	rows := make([]store.WindowedAggregate, 0, len(sums))
	for _, s := range sums {
		rows = append(rows, store.WindowedAggregate{
			ItemID:           s.ItemID,
			Timeframe:        tf,
			AsOfDate:         to,
			ViewsSum:         s.Views,
			WishlistAddsSum:  s.WishlistAdds,
			OwnerAddsSum:     s.OwnerAdds,
			CompareAddsSum:   s.CompareAdds,
			ReviewSubmitsSum: s.ReviewSubmits,
			Score:            j.weights.Score(s.Counts),
		})
	}

	if err := j.store.ReplaceWindowedAggregates(ctx, tf, to, rows); err != nil {
		return 0, err
	}
	return len(rows), nil
}

func (j *Job) rollLifetime(ctx context.Context) (int, error) {
	sums, err := j.store.SumDailyAggregates(ctx, "", "")
	if err != nil {
		return 0, err
	}

	rows := make([]store.LifetimeAggregate, 0, len(sums))
	for _, s := range sums {
		rows = append(rows, store.LifetimeAggregate{
			ItemID:                s.ItemID,
			ViewsLifetime:         s.Views,
			WishlistAddsLifetime:  s.WishlistAdds,
			OwnerAddsLifetime:     s.OwnerAdds,
			CompareAddsLifetime:   s.CompareAdds,
			ReviewSubmitsLifetime: s.ReviewSubmits,
			ScoreLifetime:         j.weights.Score(s.Counts),
		})
	}

	if err := j.store.UpsertLifetimeAggregates(ctx, rows); err != nil {
		return 0, err
	}
	return len(rows), nil
}

func (j *Job) notify(ctx context.Context, run *store.RollupRun, err error) {
	if !j.alerts.HasNotifiers() {
		return
	}

	stage := ""
	var re *popularity.RollupError
	if errors.As(err, &re) {
		stage = re.Stage
	}

	n := &alert.Notification{
		Title:    "Popularity rollup failed",
		Body:     run.Error,
		Severity: alert.SeverityCritical,
		RunID:    run.ID,
		AsOfDate: run.AsOfDate,
		Stage:    stage,
		Fields: []alert.Field{
			{Name: "As of", Value: run.AsOfDate},
			{Name: "Corrected from", Value: run.CorrectedDate},
			{Name: "Duration", Value: fmt.Sprintf("%dms", run.DurationMs)},
		},
	}
	if errors.Is(err, context.DeadlineExceeded) {
		n.Title = "Popularity rollup timed out"
	}

	alertCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), alertTimeout)
	defer cancel()
	if aerr := j.alerts.Broadcast(alertCtx, n); aerr != nil {
		logging.Warn().Err(aerr).Str("run_id", run.ID).Msg("rollup alert delivery failed")
	}
}

func stageErr(stage string, err error) error {
	return &popularity.RollupError{Stage: stage, Err: err}
}
