// Package server exposes the recorder, the trending service and the rollup
// trigger over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/elonfeng/gearrank/internal/logging"
	"github.com/elonfeng/gearrank/internal/store"
	"github.com/elonfeng/gearrank/pkg/recorder"
	"github.com/elonfeng/gearrank/pkg/trend"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// EventRecorder records one interaction.
type EventRecorder interface {
	Record(ctx context.Context, in recorder.Input) (recorder.Result, error)
}

// Ranker serves trending pages and per-item history.
type Ranker interface {
	Trending(ctx context.Context, q trend.Query) (*trend.Page, error)
	ItemPopularity(ctx context.Context, itemID string) (*trend.Popularity, error)
}

// RollupRunner runs the rollup and reads its ledger.
type RollupRunner interface {
	Run(ctx context.Context, asOf *time.Time) (*store.RollupRun, error)
	Runs(ctx context.Context, limit int) ([]store.RollupRun, error)
}

// Config holds HTTP settings.
type Config struct {
	Port         int
	RollupSecret string

	CookieSecret string
	CookieTTL    time.Duration
	CookieSecure bool

	// Per-IP limit on POST /events. Zero disables limiting.
	EventsPerWindow int
	RateWindow      time.Duration
}

// Server provides the HTTP API.
type Server struct {
	cfg      Config
	recorder EventRecorder
	ranker   Ranker
	rollup   RollupRunner
	ping     func(context.Context) error
}

// New creates a new HTTP server. ping may be nil.
func New(cfg Config, rec EventRecorder, ranker Ranker, rollup RollupRunner, ping func(context.Context) error) *Server {
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.CookieTTL == 0 {
		cfg.CookieTTL = 365 * 24 * time.Hour
	}
	if cfg.RateWindow == 0 {
		cfg.RateWindow = time.Minute
	}
	return &Server{
		cfg:      cfg,
		recorder: rec,
		ranker:   ranker,
		rollup:   rollup,
		ping:     ping,
	}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(accessLog)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/trending", s.handleTrending)
	r.Get("/items/{itemId}/popularity", s.handleItemPopularity)

	r.Group(func(r chi.Router) {
		if s.cfg.EventsPerWindow > 0 {
			r.Use(httprate.Limit(
				s.cfg.EventsPerWindow,
				s.cfg.RateWindow,
				httprate.WithKeyFuncs(httprate.KeyByIP),
				httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
					writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate limit exceeded"})
				}),
			))
		}
		r.Use(Visitor(s.cfg.CookieSecret, s.cfg.CookieTTL, s.cfg.CookieSecure))
		r.Post("/events", s.handleEvents)
	})

	r.Group(func(r chi.Router) {
		r.Use(requireBearer(s.cfg.RollupSecret))
		r.Get("/rollup", s.handleRollup)
		r.Post("/rollup", s.handleRollup)
		r.Get("/rollup/runs", s.handleRuns)
	})

	return r
}

// HTTPServer returns a configured *http.Server for the router.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// Rollup requests may run for the whole job budget.
		WriteTimeout: 6 * time.Minute,
		IdleTimeout:  2 * time.Minute,
	}
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := s.HTTPServer()

	errCh := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", srv.Addr).Msg("gearrank server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
