package store

import (
	"context"
	"fmt"
	"time"

	"github.com/elonfeng/gearrank/pkg/popularity"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// Item mirrors the external gear catalog entry events are keyed by.
type Item struct {
	ID        string    `db:"id" json:"id" yaml:"id"`
	Name      string    `db:"name" json:"name" yaml:"name"`
	BrandID   string    `db:"brand_id" json:"brandId" yaml:"brand_id"`
	MountID   string    `db:"mount_id" json:"mountId" yaml:"mount_id"`
	GearType  string    `db:"gear_type" json:"gearType" yaml:"gear_type"`
	CreatedAt time.Time `db:"created_at" json:"createdAt" yaml:"-"`
}

// ItemFilter restricts reads to items with matching static attributes.
// Empty fields match everything.
type ItemFilter struct {
	BrandID  string `json:"brandId,omitempty"`
	MountID  string `json:"mountId,omitempty"`
	GearType string `json:"gearType,omitempty"`
}

// IsZero reports whether the filter matches every item.
func (f ItemFilter) IsZero() bool {
	return f == ItemFilter{}
}

// Event is one immutable row of the popularity ledger.
type Event struct {
	ID        string               `db:"id" json:"id"`
	ItemID    string               `db:"item_id" json:"itemId"`
	ActorID   *string              `db:"actor_id" json:"actorId,omitempty"`
	EventType popularity.EventType `db:"event_type" json:"eventType"`
	Points    int                  `db:"points" json:"points"`
	Context   string               `db:"context" json:"-"`
	Day       string               `db:"day" json:"day"`
	CreatedAt time.Time            `db:"created_at" json:"createdAt"`
}

// EventGroup is the number of events of one type for one item.
type EventGroup struct {
	ItemID    string               `db:"item_id"`
	EventType popularity.EventType `db:"event_type"`
	N         int64                `db:"n"`
}

// DailyAggregate is the rolled-up activity of one item on one UTC day.
type DailyAggregate struct {
	ItemID        string    `db:"item_id" json:"itemId"`
	Day           string    `db:"day" json:"date"`
	Views         int64     `db:"views" json:"views"`
	WishlistAdds  int64     `db:"wishlist_adds" json:"wishlistAdds"`
	OwnerAdds     int64     `db:"owner_adds" json:"ownerAdds"`
	CompareAdds   int64     `db:"compare_adds" json:"compareAdds"`
	ReviewSubmits int64     `db:"review_submits" json:"reviewSubmits"`
	Score         int64     `db:"score" json:"score"`
	UpdatedAt     time.Time `db:"updated_at" json:"updatedAt"`
}

// Counts returns the counters of d.
func (d DailyAggregate) Counts() popularity.Counts {
	return popularity.Counts{
		Views:         d.Views,
		WishlistAdds:  d.WishlistAdds,
		OwnerAdds:     d.OwnerAdds,
		CompareAdds:   d.CompareAdds,
		ReviewSubmits: d.ReviewSubmits,
	}
}

// ItemSums is the sum of daily counters for one item over a span of days.
type ItemSums struct {
	ItemID string
	popularity.Counts
}

// WindowedAggregate is a trailing sum of daily aggregates ending at AsOfDate.
type WindowedAggregate struct {
	ItemID           string               `db:"item_id" json:"itemId"`
	Timeframe        popularity.Timeframe `db:"timeframe" json:"timeframe"`
	AsOfDate         string               `db:"as_of_date" json:"asOfDate"`
	ViewsSum         int64                `db:"views_sum" json:"viewsSum"`
	WishlistAddsSum  int64                `db:"wishlist_adds_sum" json:"wishlistAddsSum"`
	OwnerAddsSum     int64                `db:"owner_adds_sum" json:"ownerAddsSum"`
	CompareAddsSum   int64                `db:"compare_adds_sum" json:"compareAddsSum"`
	ReviewSubmitsSum int64                `db:"review_submits_sum" json:"reviewSubmitsSum"`
	Score            int64                `db:"score" json:"score"`
}

// Counts returns the summed counters of w.
func (w WindowedAggregate) Counts() popularity.Counts {
	return popularity.Counts{
		Views:         w.ViewsSum,
		WishlistAdds:  w.WishlistAddsSum,
		OwnerAdds:     w.OwnerAddsSum,
		CompareAdds:   w.CompareAddsSum,
		ReviewSubmits: w.ReviewSubmitsSum,
	}
}

// LifetimeAggregate holds all-time totals for one item.
type LifetimeAggregate struct {
	ItemID                string    `db:"item_id" json:"itemId"`
	ViewsLifetime         int64     `db:"views_lifetime" json:"viewsLifetime"`
	WishlistAddsLifetime  int64     `db:"wishlist_adds_lifetime" json:"wishlistAddsLifetime"`
	OwnerAddsLifetime     int64     `db:"owner_adds_lifetime" json:"ownerAddsLifetime"`
	CompareAddsLifetime   int64     `db:"compare_adds_lifetime" json:"compareAddsLifetime"`
	ReviewSubmitsLifetime int64     `db:"review_submits_lifetime" json:"reviewSubmitsLifetime"`
	ScoreLifetime         int64     `db:"score_lifetime" json:"scoreLifetime"`
	UpdatedAt             time.Time `db:"updated_at" json:"updatedAt"`
}

// RollupRun is one entry of the run ledger.
type RollupRun struct {
	ID                string    `db:"id" json:"id"`
	CreatedAt         time.Time `db:"created_at" json:"createdAt"`
	AsOfDate          string    `db:"as_of_date" json:"asOfDate"`
	CorrectedDate     string    `db:"corrected_date" json:"correctedDate"`
	DailyRows         int       `db:"daily_rows" json:"dailyRows"`
	LateArrivals      int64     `db:"late_arrivals" json:"lateArrivals"`
	WindowsRows       int       `db:"windows_rows" json:"windowsRows"`
	LifetimeTotalRows int       `db:"lifetime_total_rows" json:"lifetimeTotalRows"`
	DurationMs        int64     `db:"duration_ms" json:"durationMs"`
	Success           bool      `db:"success" json:"success"`
	Error             string    `db:"error" json:"error,omitempty"`
}

// Store is the persistence interface.
type Store interface {
	UpsertItem(ctx context.Context, item *Item) error
	ItemExists(ctx context.Context, id string) (bool, error)
	AnyItemMatches(ctx context.Context, f ItemFilter) (bool, error)

	InsertEvent(ctx context.Context, e *Event) (bool, error)
	HasEventOnDay(ctx context.Context, itemID, actorID string, et popularity.EventType, day string) (bool, error)
	CountEventsByDay(ctx context.Context, fromDay, toDay string) (map[string]int64, error)
	GroupEventsByDay(ctx context.Context, day string) ([]EventGroup, error)
	DayEventCounts(ctx context.Context, day string, f ItemFilter) (map[string]popularity.Counts, error)

	RolledDays(ctx context.Context, fromDay, toDay string) (map[string]int64, error)
	ReplaceDailyAggregates(ctx context.Context, day string, rows []DailyAggregate, eventCount int64) error
	ListDailyAggregates(ctx context.Context, day string) ([]DailyAggregate, error)
	SumDailyAggregates(ctx context.Context, fromDay, toDay string) ([]ItemSums, error)

	ReplaceWindowedAggregates(ctx context.Context, tf popularity.Timeframe, asOf string, rows []WindowedAggregate) error
	LatestWindowAsOf(ctx context.Context, tf popularity.Timeframe) (string, error)
	ListWindowedAggregates(ctx context.Context, tf popularity.Timeframe, asOf string, f ItemFilter) ([]WindowedAggregate, error)
	GetWindowedAggregate(ctx context.Context, tf popularity.Timeframe, asOf, itemID string) (*WindowedAggregate, error)

	UpsertLifetimeAggregates(ctx context.Context, rows []LifetimeAggregate) error
	GetLifetimeAggregate(ctx context.Context, itemID string) (*LifetimeAggregate, error)

	InsertRollupRun(ctx context.Context, run *RollupRun) error
	ListRollupRuns(ctx context.Context, limit int) ([]RollupRun, error)

	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sqlx.DB
}

// New opens a SQLite database and runs migrations.
func New(path string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// filterClause appends item attribute conditions against alias i.
func filterClause(f ItemFilter, args []any) (string, []any) {
	var clause string
	if f.BrandID != "" {
		clause += " AND i.brand_id = ?"
		args = append(args, f.BrandID)
	}
	if f.MountID != "" {
		clause += " AND i.mount_id = ?"
		args = append(args, f.MountID)
	}
	if f.GearType != "" {
		clause += " AND i.gear_type = ?"
		args = append(args, f.GearType)
	}
	return clause, args
}
