package popularity

import "fmt"

// Weights maps each event type to the points it contributes to a score.
// A Weights value is immutable once built; share it freely.
type Weights struct {
	points map[EventType]int
}

// DefaultWeights returns the stock weight table.
func DefaultWeights() Weights {
	return Weights{points: map[EventType]int{
		EventView:         1,
		EventWishlistAdd:  1,
		EventOwnerAdd:     1,
		EventCompareAdd:   1,
		EventReviewSubmit: 2,
		EventAPIFetch:     0,
	}}
}

// NewWeights builds a table from overrides on top of the defaults.
// Keys must be known event types and values non-negative. api_fetch has no
// aggregate counter, so it can only weigh 0.
func NewWeights(overrides map[string]int) (Weights, error) {
	w := DefaultWeights()
	points := make(map[EventType]int, len(w.points))
	for k, v := range w.points {
		points[k] = v
	}
	for name, v := range overrides {
		et, err := ParseEventType(name)
		if err != nil {
			return Weights{}, fmt.Errorf("weights: %w", err)
		}
		if v < 0 {
			return Weights{}, Invalid("weights", fmt.Sprintf("weight for %s must be >= 0, got %d", et, v))
		}
		if et == EventAPIFetch && v != 0 {
			return Weights{}, Invalid("weights", fmt.Sprintf("weight for %s must be 0, got %d", et, v))
		}
		points[et] = v
	}
	return Weights{points: points}, nil
}

// Points returns the weight of a single event of type et.
func (w Weights) Points(et EventType) int {
	return w.points[et]
}

// Score is the weighted sum of c.
func (w Weights) Score(c Counts) int64 {
	return c.Views*int64(w.points[EventView]) +
		c.WishlistAdds*int64(w.points[EventWishlistAdd]) +
		c.OwnerAdds*int64(w.points[EventOwnerAdd]) +
		c.CompareAdds*int64(w.points[EventCompareAdd]) +
		c.ReviewSubmits*int64(w.points[EventReviewSubmit])
}

// Map returns a copy of the table keyed by event type name.
func (w Weights) Map() map[string]int {
	out := make(map[string]int, len(w.points))
	for k, v := range w.points {
		out[string(k)] = v
	}
	return out
}
