// Package recorder appends popularity events to the ledger.
package recorder

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/elonfeng/gearrank/internal/logging"
	"github.com/elonfeng/gearrank/internal/metrics"
	"github.com/elonfeng/gearrank/internal/store"
	"github.com/elonfeng/gearrank/pkg/popularity"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// ViewCache is a fast first-view check in front of the store.
// MarkView reports true when the view was already seen that day.
type ViewCache interface {
	MarkView(ctx context.Context, day time.Time, itemID, actorID string) (bool, error)
	Forget(ctx context.Context, day time.Time, itemID, actorID string) error
}

// Input is one interaction to record.
type Input struct {
	ItemID    string
	ActorID   string // "u:<id>" or "a:<visitor token>"; empty when unknown
	EventType string
	Context   map[string]any
}

// Result reports what Record did.
type Result struct {
	EventID string `json:"eventId,omitempty"`
	Deduped bool   `json:"deduped"`
}

// Recorder validates and persists events.
type Recorder struct {
	store   store.Store
	weights popularity.Weights
	cache   ViewCache
	now     func() time.Time
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithViewCache puts cache in front of the store dedupe check.
func WithViewCache(cache ViewCache) Option {
	return func(r *Recorder) { r.cache = cache }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) { r.now = now }
}

// New creates a Recorder.
func New(s store.Store, weights popularity.Weights, opts ...Option) *Recorder {
	r := &Recorder{store: s, weights: weights, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record appends one event. Repeat views of an item by the same actor on
// the same UTC day are dropped and reported as deduped.
func (r *Recorder) Record(ctx context.Context, in Input) (Result, error) {
	itemID := strings.TrimSpace(in.ItemID)
	if itemID == "" {
		return Result{}, popularity.Invalid("itemId", "itemId is required")
	}
	et, err := popularity.ParseEventType(in.EventType)
	if err != nil {
		return Result{}, err
	}

	payload := []byte("{}")
	if len(in.Context) > 0 {
		payload, err = json.Marshal(in.Context)
		if err != nil {
			return Result{}, popularity.Invalid("context", "context must be a JSON object")
		}
	}

	exists, err := r.store.ItemExists(ctx, itemID)
	if err != nil {
		return Result{}, popularity.Storage("item lookup", err)
	}
	if !exists {
		return Result{}, popularity.ErrNotFound
	}

	now := r.now().UTC()
	day := popularity.DayKey(now)
	actor := strings.TrimSpace(in.ActorID)
	dedupe := et == popularity.EventView && actor != ""

	cached := false
	if dedupe && r.cache != nil {
		seen, err := r.cache.MarkView(ctx, now, itemID, actor)
		switch {
		case err != nil:
			logging.Ctx(ctx).Warn().Err(err).Str("item_id", itemID).Msg("view cache unavailable, falling back to store")
		case seen:
			metrics.RecordDedupe("redis")
			return Result{Deduped: true}, nil
		default:
			cached = true
		}
	}

	if dedupe {
		seen, err := r.store.HasEventOnDay(ctx, itemID, actor, et, day)
		if err != nil {
			r.forget(ctx, cached, now, itemID, actor)
			return Result{}, popularity.Storage("dedupe check", err)
		}
		if seen {
			metrics.RecordDedupe("store")
			return Result{Deduped: true}, nil
		}
	}

	e := &store.Event{
		ID:        uuid.NewString(),
		ItemID:    itemID,
		EventType: et,
		Points:    r.weights.Points(et),
		Context:   string(payload),
		Day:       day,
		CreatedAt: now,
	}
	if actor != "" {
		e.ActorID = &actor
	}

	inserted, err := r.store.InsertEvent(ctx, e)
	if err != nil {
		r.forget(ctx, cached, now, itemID, actor)
		logging.Ctx(ctx).Error().Err(err).Str("item_id", itemID).Str("event_type", string(et)).Msg("record event failed")
		return Result{}, popularity.Storage("insert event", err)
	}
	if !inserted {
		// lost a race with a concurrent first view
		metrics.RecordDedupe("store")
		return Result{Deduped: true}, nil
	}

	metrics.RecordEvent(string(et))
	return Result{EventID: e.ID}, nil
}

func (r *Recorder) forget(ctx context.Context, cached bool, day time.Time, itemID, actor string) {
	if !cached {
		return
	}
	if err := r.cache.Forget(ctx, day, itemID, actor); err != nil && !errors.Is(err, context.Canceled) {
		logging.Ctx(ctx).Warn().Err(err).Str("item_id", itemID).Msg("view cache forget failed")
	}
}
