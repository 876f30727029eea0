package store

import (
	"context"
	"fmt"
)

// InsertRollupRun appends run to the ledger. Runs are never updated.
func (s *SQLiteStore) InsertRollupRun(ctx context.Context, run *RollupRun) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO rollup_runs (id, created_at, as_of_date, corrected_date, daily_rows, late_arrivals,
			windows_rows, lifetime_total_rows, duration_ms, success, error)
		VALUES (:id, :created_at, :as_of_date, :corrected_date, :daily_rows, :late_arrivals,
			:windows_rows, :lifetime_total_rows, :duration_ms, :success, :error)
	`, run)
	if err != nil {
		return fmt.Errorf("insert rollup run %s: %w", run.AsOfDate, err)
	}
	return nil
}

// ListRollupRuns returns the most recent runs first.
func (s *SQLiteStore) ListRollupRuns(ctx context.Context, limit int) ([]RollupRun, error) {
	if limit <= 0 {
		limit = 50
	}
	var runs []RollupRun
	err := s.db.SelectContext(ctx, &runs,
		"SELECT * FROM rollup_runs ORDER BY created_at DESC, rowid DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("list rollup runs: %w", err)
	}
	return runs, nil
}
