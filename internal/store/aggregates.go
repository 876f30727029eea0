package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/elonfeng/gearrank/pkg/popularity"
)

// RolledDays returns the event count recorded at rollup time for each
// rolled day in [fromDay, toDay).
func (s *SQLiteStore) RolledDays(ctx context.Context, fromDay, toDay string) (map[string]int64, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT day, event_count FROM rolled_days
		WHERE day >= ? AND day < ?
	`, fromDay, toDay)
	if err != nil {
		return nil, fmt.Errorf("rolled days: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var day string
		var n int64
		if err := rows.Scan(&day, &n); err != nil {
			return nil, err
		}
		out[day] = n
	}
	return out, rows.Err()
}

// ReplaceDailyAggregates makes rows the complete set of aggregates for day
// and marks the day as rolled with eventCount raw events. The old rows are
// cleared in the same transaction, so items absent from rows disappear.
func (s *SQLiteStore) ReplaceDailyAggregates(ctx context.Context, day string, rows []DailyAggregate, eventCount int64) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin daily %s: %w", day, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM daily_aggregates WHERE day = ?", day); err != nil {
		return fmt.Errorf("clear daily %s: %w", day, err)
	}

	now := time.Now().UTC()
	for i := range rows {
		r := &rows[i]
		_, err := tx.ExecContext(ctx, `
			INSERT INTO daily_aggregates (item_id, day, views, wishlist_adds, owner_adds, compare_adds, review_submits, score, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, r.ItemID, day, r.Views, r.WishlistAdds, r.OwnerAdds, r.CompareAdds, r.ReviewSubmits, r.Score, now)
		if err != nil {
			return fmt.Errorf("insert daily %s/%s: %w", r.ItemID, day, err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO rolled_days (day, event_count, rolled_at) VALUES (?, ?, ?)
		ON CONFLICT(day) DO UPDATE SET event_count = excluded.event_count, rolled_at = excluded.rolled_at
	`, day, eventCount, now)
	if err != nil {
		return fmt.Errorf("mark rolled %s: %w", day, err)
	}

	return tx.Commit()
}

func (s *SQLiteStore) ListDailyAggregates(ctx context.Context, day string) ([]DailyAggregate, error) {
	var rows []DailyAggregate
	err := s.db.SelectContext(ctx, &rows,
		"SELECT * FROM daily_aggregates WHERE day = ? ORDER BY item_id", day)
	if err != nil {
		return nil, fmt.Errorf("list daily %s: %w", day, err)
	}
	return rows, nil
}

// SumDailyAggregates sums daily counters per item over [fromDay, toDay],
// both inclusive. Empty bounds are open.
func (s *SQLiteStore) SumDailyAggregates(ctx context.Context, fromDay, toDay string) ([]ItemSums, error) {
	query := `
		SELECT item_id,
			SUM(views) AS views,
			SUM(wishlist_adds) AS wishlist_adds,
			SUM(owner_adds) AS owner_adds,
			SUM(compare_adds) AS compare_adds,
			SUM(review_submits) AS review_submits
		FROM daily_aggregates WHERE 1=1`
	var args []any
	if fromDay != "" {
		query += " AND day >= ?"
		args = append(args, fromDay)
	}
	if toDay != "" {
		query += " AND day <= ?"
		args = append(args, toDay)
	}
	query += " GROUP BY item_id ORDER BY item_id"

	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sum daily: %w", err)
	}
	defer rows.Close()

	var out []ItemSums
	for rows.Next() {
		var sum ItemSums
		if err := rows.Scan(&sum.ItemID, &sum.Views, &sum.WishlistAdds, &sum.OwnerAdds, &sum.CompareAdds, &sum.ReviewSubmits); err != nil {
			return nil, err
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

// ReplaceWindowedAggregates swaps the (tf, asOf) snapshot for rows.
func (s *SQLiteStore) ReplaceWindowedAggregates(ctx context.Context, tf popularity.Timeframe, asOf string, rows []WindowedAggregate) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin window %s/%s: %w", tf, asOf, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM windowed_aggregates WHERE timeframe = ? AND as_of_date = ?", string(tf), asOf); err != nil {
		return fmt.Errorf("clear window %s/%s: %w", tf, asOf, err)
	}

	for i := range rows {
		r := &rows[i]
		_, err := tx.ExecContext(ctx, `
			INSERT INTO windowed_aggregates (item_id, timeframe, as_of_date, views_sum, wishlist_adds_sum, owner_adds_sum, compare_adds_sum, review_submits_sum, score)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, r.ItemID, string(tf), asOf, r.ViewsSum, r.WishlistAddsSum, r.OwnerAddsSum, r.CompareAddsSum, r.ReviewSubmitsSum, r.Score)
		if err != nil {
			return fmt.Errorf("insert window %s/%s/%s: %w", r.ItemID, tf, asOf, err)
		}
	}

	return tx.Commit()
}

// LatestWindowAsOf returns the newest committed as-of date for tf, or ""
// when no window has been computed yet.
func (s *SQLiteStore) LatestWindowAsOf(ctx context.Context, tf popularity.Timeframe) (string, error) {
	var asOf sql.NullString
	err := s.db.GetContext(ctx, &asOf,
		"SELECT MAX(as_of_date) FROM windowed_aggregates WHERE timeframe = ?", string(tf))
	if err != nil {
		return "", fmt.Errorf("latest window %s: %w", tf, err)
	}
	return asOf.String, nil
}

func (s *SQLiteStore) ListWindowedAggregates(ctx context.Context, tf popularity.Timeframe, asOf string, f ItemFilter) ([]WindowedAggregate, error) {
	query := `
		SELECT w.* FROM windowed_aggregates w
		JOIN items i ON i.id = w.item_id
		WHERE w.timeframe = ? AND w.as_of_date = ?`
	clause, args := filterClause(f, []any{string(tf), asOf})
	query += clause + " ORDER BY w.item_id"

	var rows []WindowedAggregate
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list window %s/%s: %w", tf, asOf, err)
	}
	return rows, nil
}

// GetWindowedAggregate returns popularity.ErrNotFound when itemID has no
// row in the (tf, asOf) snapshot.
func (s *SQLiteStore) GetWindowedAggregate(ctx context.Context, tf popularity.Timeframe, asOf, itemID string) (*WindowedAggregate, error) {
	var wa WindowedAggregate
	err := s.db.GetContext(ctx, &wa,
		"SELECT * FROM windowed_aggregates WHERE timeframe = ? AND as_of_date = ? AND item_id = ?",
		string(tf), asOf, itemID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("window %s/%s/%s: %w", tf, asOf, itemID, popularity.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get window %s/%s/%s: %w", tf, asOf, itemID, err)
	}
	return &wa, nil
}

func (s *SQLiteStore) UpsertLifetimeAggregates(ctx context.Context, rows []LifetimeAggregate) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin lifetime: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for i := range rows {
		r := &rows[i]
		_, err := tx.ExecContext(ctx, `
			INSERT INTO lifetime_aggregates (item_id, views_lifetime, wishlist_adds_lifetime, owner_adds_lifetime, compare_adds_lifetime, review_submits_lifetime, score_lifetime, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(item_id) DO UPDATE SET
				views_lifetime = excluded.views_lifetime,
				wishlist_adds_lifetime = excluded.wishlist_adds_lifetime,
				owner_adds_lifetime = excluded.owner_adds_lifetime,
				compare_adds_lifetime = excluded.compare_adds_lifetime,
				review_submits_lifetime = excluded.review_submits_lifetime,
				score_lifetime = excluded.score_lifetime,
				updated_at = excluded.updated_at
		`, r.ItemID, r.ViewsLifetime, r.WishlistAddsLifetime, r.OwnerAddsLifetime,
			r.CompareAddsLifetime, r.ReviewSubmitsLifetime, r.ScoreLifetime, now)
		if err != nil {
			return fmt.Errorf("upsert lifetime %s: %w", r.ItemID, err)
		}
	}

	return tx.Commit()
}

// GetLifetimeAggregate returns popularity.ErrNotFound when the item has
// never been rolled up.
func (s *SQLiteStore) GetLifetimeAggregate(ctx context.Context, itemID string) (*LifetimeAggregate, error) {
	var la LifetimeAggregate
	err := s.db.GetContext(ctx, &la, "SELECT * FROM lifetime_aggregates WHERE item_id = ?", itemID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("lifetime %s: %w", itemID, popularity.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get lifetime %s: %w", itemID, err)
	}
	return &la, nil
}
