// Package popularity defines the vocabulary shared by the recorder, the
// rollup job and the trending service: event types, point weights,
// timeframes and UTC calendar-day helpers.
package popularity

import (
	"fmt"
	"strings"
	"time"
)

// EventType identifies a kind of interaction with an item.
type EventType string

const (
	EventView         EventType = "view"
	EventWishlistAdd  EventType = "wishlist_add"
	EventOwnerAdd     EventType = "owner_add"
	EventCompareAdd   EventType = "compare_add"
	EventReviewSubmit EventType = "review_submit"
	EventAPIFetch     EventType = "api_fetch"
)

// AllEventTypes returns every known event type.
func AllEventTypes() []EventType {
	return []EventType{
		EventView,
		EventWishlistAdd,
		EventOwnerAdd,
		EventCompareAdd,
		EventReviewSubmit,
		EventAPIFetch,
	}
}

// ParseEventType validates s as an event type.
func ParseEventType(s string) (EventType, error) {
	et := EventType(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range AllEventTypes() {
		if et == known {
			return et, nil
		}
	}
	return "", Invalid("eventType", fmt.Sprintf("unknown event type %q", s))
}

// Counts holds per-type event counters for one item over some span of days.
// api_fetch events are not counted; they carry no aggregate column.
type Counts struct {
	Views         int64 `json:"views"`
	WishlistAdds  int64 `json:"wishlistAdds"`
	OwnerAdds     int64 `json:"ownerAdds"`
	CompareAdds   int64 `json:"compareAdds"`
	ReviewSubmits int64 `json:"reviewSubmits"`
}

// Inc adds n events of type et.
func (c *Counts) Inc(et EventType, n int64) {
	switch et {
	case EventView:
		c.Views += n
	case EventWishlistAdd:
		c.WishlistAdds += n
	case EventOwnerAdd:
		c.OwnerAdds += n
	case EventCompareAdd:
		c.CompareAdds += n
	case EventReviewSubmit:
		c.ReviewSubmits += n
	}
}

// Add returns the element-wise sum of c and o.
func (c Counts) Add(o Counts) Counts {
	return Counts{
		Views:         c.Views + o.Views,
		WishlistAdds:  c.WishlistAdds + o.WishlistAdds,
		OwnerAdds:     c.OwnerAdds + o.OwnerAdds,
		CompareAdds:   c.CompareAdds + o.CompareAdds,
		ReviewSubmits: c.ReviewSubmits + o.ReviewSubmits,
	}
}

// IsZero reports whether every counter is zero.
func (c Counts) IsZero() bool {
	return c == Counts{}
}

// Timeframe is a trailing window length.
type Timeframe string

const (
	Timeframe7d  Timeframe = "7d"
	Timeframe30d Timeframe = "30d"
)

// Timeframes lists the windows the rollup job maintains.
func Timeframes() []Timeframe {
	return []Timeframe{Timeframe7d, Timeframe30d}
}

// ParseTimeframe validates s. An empty string yields 30d.
func ParseTimeframe(s string) (Timeframe, error) {
	switch Timeframe(strings.TrimSpace(s)) {
	case "", Timeframe30d:
		return Timeframe30d, nil
	case Timeframe7d:
		return Timeframe7d, nil
	}
	return "", Invalid("timeframe", fmt.Sprintf("timeframe must be 7d or 30d, got %q", s))
}

// Days returns the number of calendar days in the window.
func (tf Timeframe) Days() int {
	if tf == Timeframe7d {
		return 7
	}
	return 30
}

// DayLayout is the storage and wire format of a calendar day.
const DayLayout = "2006-01-02"

// Day truncates t to midnight UTC.
func Day(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// DayKey formats the UTC calendar day containing t.
func DayKey(t time.Time) string {
	return t.UTC().Format(DayLayout)
}

// ParseDay parses a YYYY-MM-DD string as a UTC day.
func ParseDay(s string) (time.Time, error) {
	t, err := time.ParseInLocation(DayLayout, strings.TrimSpace(s), time.UTC)
	if err != nil {
		return time.Time{}, Invalid("date", fmt.Sprintf("date must be YYYY-MM-DD, got %q", s))
	}
	return t, nil
}

// DayBounds returns [start, end) of the UTC day containing t.
func DayBounds(t time.Time) (time.Time, time.Time) {
	start := Day(t)
	return start, start.AddDate(0, 0, 1)
}

// Yesterday returns the UTC day before now.
func Yesterday(now time.Time) time.Time {
	return Day(now).AddDate(0, 0, -1)
}
