// Package trend ranks items by committed window score plus live activity.
package trend

import (
	"context"
	"errors"
	"time"

	"github.com/elonfeng/gearrank/internal/metrics"
	"github.com/elonfeng/gearrank/internal/store"
	"github.com/elonfeng/gearrank/pkg/popularity"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultPerPage = 20
	MaxPerPage     = 100
)

// Filters restrict the ranking to items with matching static attributes.
type Filters struct {
	BrandID  string `json:"brandId,omitempty" validate:"omitempty,max=100"`
	MountID  string `json:"mountId,omitempty" validate:"omitempty,max=100"`
	GearType string `json:"gearType,omitempty" validate:"omitempty,oneof=camera lens"`
}

func (f Filters) itemFilter() store.ItemFilter {
	return store.ItemFilter{BrandID: f.BrandID, MountID: f.MountID, GearType: f.GearType}
}

// Query selects one page of a ranking. Zero Page and PerPage take defaults.
type Query struct {
	Timeframe popularity.Timeframe `json:"timeframe" validate:"oneof=7d 30d"`
	Page      int                  `json:"page" validate:"min=1,max=1000000"`
	PerPage   int                  `json:"perPage" validate:"min=1,max=100"`
	Filters   Filters              `json:"filters"`
}

func (q Query) withDefaults() Query {
	if q.Timeframe == "" {
		q.Timeframe = popularity.Timeframe30d
	}
	if q.Page == 0 {
		q.Page = 1
	}
	if q.PerPage == 0 {
		q.PerPage = DefaultPerPage
	}
	return q
}

// Page is one page of a ranking.
type Page struct {
	Items       []Entry              `json:"items"`
	Total       int                  `json:"total"`
	Page        int                  `json:"page"`
	PerPage     int                  `json:"perPage"`
	TotalPages  int                  `json:"totalPages"`
	Timeframe   popularity.Timeframe `json:"timeframe"`
	AsOfDate    string               `json:"asOfDate,omitempty"`
	Filters     Filters              `json:"filters"`
	GeneratedAt time.Time            `json:"generatedAt"`
}

// Service computes trending pages. It never writes.
type Service struct {
	store   store.Store
	weights popularity.Weights
	now     func() time.Time
}

// NewService creates a trending service.
func NewService(s store.Store, weights popularity.Weights) *Service {
	return &Service{store: s, weights: weights, now: time.Now}
}

// WithClock overrides time.Now, which decides the live day.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Trending returns one page of items ranked by the newest committed window
// for q.Timeframe plus the live boost from today's events.
func (s *Service) Trending(ctx context.Context, q Query) (*Page, error) {
	started := time.Now()
	q = q.withDefaults()
	if err := popularity.Validate(q); err != nil {
		return nil, err
	}

	if err := s.checkScope(ctx, q.Filters); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	filter := q.Filters.itemFilter()

	var (
		asOf     string
		windowed []store.WindowedAggregate
		live     map[string]popularity.Counts
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		asOf, err = s.store.LatestWindowAsOf(gctx, q.Timeframe)
		if err != nil || asOf == "" {
			return err
		}
		windowed, err = s.store.ListWindowedAggregates(gctx, q.Timeframe, asOf, filter)
		return err
	})
	g.Go(func() error {
		var err error
		live, err = s.store.DayEventCounts(gctx, popularity.DayKey(now), filter)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, popularity.Storage("trending "+string(q.Timeframe), err)
	}

	ranked := Blend(windowed, live, s.weights)
	items, totalPages := paginate(ranked, q.Page, q.PerPage)

	metrics.RecordTrendingQuery(string(q.Timeframe), time.Since(started))

	return &Page{
		Items:       items,
		Total:       len(ranked),
		Page:        q.Page,
		PerPage:     q.PerPage,
		TotalPages:  totalPages,
		Timeframe:   q.Timeframe,
		AsOfDate:    asOf,
		Filters:     q.Filters,
		GeneratedAt: now,
	}, nil
}

// checkScope rejects brand and mount ids no catalog item carries.
func (s *Service) checkScope(ctx context.Context, f Filters) error {
	for _, scope := range []store.ItemFilter{{BrandID: f.BrandID}, {MountID: f.MountID}} {
		if scope.IsZero() {
			continue
		}
		ok, err := s.store.AnyItemMatches(ctx, scope)
		if err != nil {
			return popularity.Storage("resolve filters", err)
		}
		if !ok {
			return popularity.ErrNotFound
		}
	}
	return nil
}

// Popularity is the stored history of one item.
type Popularity struct {
	ItemID   string                          `json:"itemId"`
	Lifetime *store.LifetimeAggregate        `json:"lifetime"`
	Windows  map[popularity.Timeframe]*Entry `json:"windows"`
}

// ItemPopularity returns the lifetime totals and latest window scores of
// one item. Items that have never been rolled up report zero totals.
func (s *Service) ItemPopularity(ctx context.Context, itemID string) (*Popularity, error) {
	ok, err := s.store.ItemExists(ctx, itemID)
	if err != nil {
		return nil, popularity.Storage("item lookup", err)
	}
	if !ok {
		return nil, popularity.ErrNotFound
	}

	out := &Popularity{ItemID: itemID, Windows: make(map[popularity.Timeframe]*Entry)}

	life, err := s.store.GetLifetimeAggregate(ctx, itemID)
	switch {
	case err == nil:
		out.Lifetime = life
	case errors.Is(err, popularity.ErrNotFound):
		out.Lifetime = &store.LifetimeAggregate{ItemID: itemID}
	default:
		return nil, popularity.Storage("lifetime", err)
	}

	for _, tf := range popularity.Timeframes() {
		asOf, err := s.store.LatestWindowAsOf(ctx, tf)
		if err != nil {
			return nil, popularity.Storage("latest window", err)
		}
		if asOf == "" {
			continue
		}
		wa, err := s.store.GetWindowedAggregate(ctx, tf, asOf, itemID)
		if errors.Is(err, popularity.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, popularity.Storage("window", err)
		}
		score := s.weights.Score(wa.Counts())
		out.Windows[tf] = &Entry{ItemID: itemID, Score: score, WindowScore: score, AsOfDate: asOf}
	}
	return out, nil
}
