package scheduler

import (
	"context"
	"time"

	"github.com/elonfeng/gearrank/internal/logging"
	"github.com/elonfeng/gearrank/internal/store"
)

// Runner executes one rollup. A nil asOf means yesterday.
type Runner interface {
	Run(ctx context.Context, asOf *time.Time) (*store.RollupRun, error)
}

// Scheduler triggers the daily rollup once per UTC day at hour:minute.
type Scheduler struct {
	job    Runner
	hour   int
	minute int
	now    func() time.Time
	after  func(time.Duration) <-chan time.Time
}

// New creates a scheduler firing at hour:minute UTC.
func New(job Runner, hour, minute int) *Scheduler {
	return &Scheduler{
		job:    job,
		hour:   hour,
		minute: minute,
		now:    time.Now,
		after:  time.After,
	}
}

// NextRun returns the first hour:minute UTC strictly after now.
func NextRun(now time.Time, hour, minute int) time.Time {
	u := now.UTC()
	next := time.Date(u.Year(), u.Month(), u.Day(), hour, minute, 0, 0, time.UTC)
	if !next.After(u) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// Serve blocks until ctx is cancelled. A failed rollup is already in the
// run ledger and alerted on, so it is logged and the loop continues.
func (s *Scheduler) Serve(ctx context.Context) error {
	for {
		next := NextRun(s.now(), s.hour, s.minute)
		logging.Info().Time("next_run", next).Msg("rollup scheduled")

		select {
		case <-ctx.Done():
			logging.Info().Msg("rollup scheduler stopped")
			return ctx.Err()
		case <-s.after(next.Sub(s.now())):
		}

		s.runOnce(ctx)
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	run, err := s.job.Run(ctx, nil)
	if err != nil {
		logging.Error().Err(err).Msg("scheduled rollup failed")
		return
	}
	logging.Info().
		Str("run_id", run.ID).
		Str("as_of_date", run.AsOfDate).
		Int64("late_arrivals", run.LateArrivals).
		Msg("scheduled rollup complete")
}

func (s *Scheduler) String() string { return "rollup-scheduler" }
