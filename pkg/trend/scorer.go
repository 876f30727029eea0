package trend

import (
	"sort"

	"github.com/elonfeng/gearrank/internal/store"
	"github.com/elonfeng/gearrank/pkg/popularity"
)

// Entry is one ranked item.
type Entry struct {
	ItemID      string `json:"itemId"`
	Score       int64  `json:"score"`
	WindowScore int64  `json:"windowScore"`
	LiveBoost   int64  `json:"liveBoost"`
	AsOfDate    string `json:"asOfDate,omitempty"`
	LiveOnly    bool   `json:"liveOnly"`
}

// Blend adds today's live boost to the committed window scores and returns
// the ranked list: score descending, then item id ascending. Items with no
// counted events in either part are left out, whatever their weight. Both
// scores are computed from raw counters with w, so a weight change applies
// to history immediately.
func Blend(windowed []store.WindowedAggregate, live map[string]popularity.Counts, w popularity.Weights) []Entry {
	byItem := make(map[string]*Entry, len(windowed)+len(live))

	for i := range windowed {
		wa := &windowed[i]
		if wa.Counts().IsZero() {
			continue
		}
		byItem[wa.ItemID] = &Entry{
			ItemID:      wa.ItemID,
			WindowScore: w.Score(wa.Counts()),
			AsOfDate:    wa.AsOfDate,
		}
	}

	for itemID, c := range live {
		if c.IsZero() {
			continue
		}
		e, ok := byItem[itemID]
		if !ok {
			e = &Entry{ItemID: itemID, LiveOnly: true}
			byItem[itemID] = e
		}
		e.LiveBoost += w.Score(c)
	}

	out := make([]Entry, 0, len(byItem))
	for _, e := range byItem {
		e.Score = e.WindowScore + e.LiveBoost
		out = append(out, *e)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ItemID < out[j].ItemID
	})
	return out
}

// paginate returns the 1-based page of entries and the page count.
func paginate(entries []Entry, page, perPage int) ([]Entry, int) {
	totalPages := (len(entries) + perPage - 1) / perPage
	if page < 1 || page > totalPages {
		return []Entry{}, totalPages
	}
	start := (page - 1) * perPage
	end := start + perPage
	if end > len(entries) {
		end = len(entries)
	}
	return entries[start:end], totalPages
}
