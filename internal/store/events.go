package store

import (
	"context"
	"fmt"

	"github.com/elonfeng/gearrank/pkg/popularity"
)

// InsertEvent appends e to the ledger. It returns false when the per-day
// view uniqueness index swallowed the row.
func (s *SQLiteStore) InsertEvent(ctx context.Context, e *Event) (bool, error) {
	if e.Context == "" {
		e.Context = "{}"
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO popularity_events (id, item_id, actor_id, event_type, points, context, day, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.ItemID, nullable(e.ActorID), string(e.EventType), e.Points, e.Context, e.Day, e.CreatedAt.UTC())
	if err != nil {
		return false, fmt.Errorf("insert event %s: %w", e.ItemID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert event %s: %w", e.ItemID, err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) HasEventOnDay(ctx context.Context, itemID, actorID string, et popularity.EventType, day string) (bool, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `
		SELECT COUNT(*) FROM popularity_events
		WHERE item_id = ? AND actor_id = ? AND event_type = ? AND day = ?
	`, itemID, actorID, string(et), day)
	if err != nil {
		return false, fmt.Errorf("dedupe check %s: %w", itemID, err)
	}
	return n > 0, nil
}

// CountEventsByDay returns raw event counts per day in [fromDay, toDay).
func (s *SQLiteStore) CountEventsByDay(ctx context.Context, fromDay, toDay string) (map[string]int64, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT day, COUNT(*) FROM popularity_events
		WHERE day >= ? AND day < ?
		GROUP BY day
	`, fromDay, toDay)
	if err != nil {
		return nil, fmt.Errorf("count events by day: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var day string
		var n int64
		if err := rows.Scan(&day, &n); err != nil {
			return nil, err
		}
		counts[day] = n
	}
	return counts, rows.Err()
}

// GroupEventsByDay returns per-item, per-type event counts for one day,
// api_fetch included so callers can reconcile the raw event total.
func (s *SQLiteStore) GroupEventsByDay(ctx context.Context, day string) ([]EventGroup, error) {
	var groups []EventGroup
	err := s.db.SelectContext(ctx, &groups, `
		SELECT item_id, event_type, COUNT(*) AS n FROM popularity_events
		WHERE day = ?
		GROUP BY item_id, event_type
		ORDER BY item_id, event_type
	`, day)
	if err != nil {
		return nil, fmt.Errorf("group events %s: %w", day, err)
	}
	return groups, nil
}

// DayEventCounts returns counters per item for one day restricted by f.
func (s *SQLiteStore) DayEventCounts(ctx context.Context, day string, f ItemFilter) (map[string]popularity.Counts, error) {
	query := `
		SELECT e.item_id, e.event_type, COUNT(*) AS n
		FROM popularity_events e
		JOIN items i ON i.id = e.item_id
		WHERE e.day = ?`
	clause, args := filterClause(f, []any{day})
	query += clause + " GROUP BY e.item_id, e.event_type"

	var groups []EventGroup
	if err := s.db.SelectContext(ctx, &groups, query, args...); err != nil {
		return nil, fmt.Errorf("day event counts %s: %w", day, err)
	}

	counts := make(map[string]popularity.Counts)
	for _, g := range groups {
		c := counts[g.ItemID]
		c.Inc(g.EventType, g.N)
		counts[g.ItemID] = c
	}
	return counts, nil
}

func nullable(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
