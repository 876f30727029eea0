package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/elonfeng/gearrank/pkg/popularity"
	"github.com/elonfeng/gearrank/pkg/recorder"
	"github.com/elonfeng/gearrank/pkg/trend"
	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
)

const maxEventBody = 16 << 10

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.ping != nil {
		if err := s.ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRollup(w http.ResponseWriter, r *http.Request) {
	var asOf *time.Time
	if d := r.URL.Query().Get("date"); d != "" {
		t, err := popularity.ParseDay(d)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": err.Error()})
			return
		}
		asOf = &t
	}

	run, err := s.rollup.Run(r.Context(), asOf)
	if err != nil {
		status, msg := statusOf(err)
		body := map[string]any{"ok": false, "error": msg}
		var re *popularity.RollupError
		if errors.As(err, &re) {
			body["error"] = "rollup failed at " + re.Stage + " stage"
		}
		if run != nil {
			body["asOfDate"] = run.AsOfDate
			body["run"] = run
		}
		writeJSON(w, status, body)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":       true,
		"asOfDate": run.AsOfDate,
		"run":      run,
	})
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", 50)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if limit < 1 || limit > 500 {
		writeError(w, r, popularity.Invalid("limit", "limit must be between 1 and 500"))
		return
	}

	runs, err := s.rollup.Runs(r.Context(), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":  runs,
		"count": len(runs),
	})
}

func (s *Server) handleTrending(w http.ResponseWriter, r *http.Request) {
	// Live boost changes continuously.
	w.Header().Set("Cache-Control", "no-store")

	q := r.URL.Query()
	tf, err := popularity.ParseTimeframe(q.Get("timeframe"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	page, err := intParam(r, "page", 1)
	if err != nil {
		writeError(w, r, err)
		return
	}
	perPage, err := intParam(r, "perPage", trend.DefaultPerPage)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if page < 1 || perPage < 1 {
		writeError(w, r, popularity.Invalid("page", "page and perPage must be >= 1"))
		return
	}

	result, err := s.ranker.Trending(r.Context(), trend.Query{
		Timeframe: tf,
		Page:      page,
		PerPage:   perPage,
		Filters: trend.Filters{
			BrandID:  q.Get("brandId"),
			MountID:  q.Get("mountId"),
			GearType: q.Get("gearType"),
		},
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleItemPopularity(w http.ResponseWriter, r *http.Request) {
	p, err := s.ranker.ItemPopularity(r.Context(), chi.URLParam(r, "itemId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type eventRequest struct {
	ItemID       string         `json:"itemId" validate:"required,max=200"`
	EventType    string         `json:"eventType" validate:"required"`
	VisitorToken string         `json:"visitorToken" validate:"omitempty,max=128"`
	Context      map[string]any `json:"context"`
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxEventBody))
	if err := dec.Decode(&req); err != nil {
		writeError(w, r, popularity.Invalid("body", "request body must be a JSON object"))
		return
	}
	if err := popularity.Validate(req); err != nil {
		writeError(w, r, err)
		return
	}

	res, err := s.recorder.Record(r.Context(), recorder.Input{
		ItemID:    req.ItemID,
		ActorID:   actorID(r, req.VisitorToken),
		EventType: req.EventType,
		Context:   req.Context,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// actorID prefers the authenticated user, then an explicit visitor token,
// then the signed visitor cookie.
func actorID(r *http.Request, visitorToken string) string {
	if uid := strings.TrimSpace(r.Header.Get("X-User-ID")); uid != "" {
		return "u:" + uid
	}
	if tok := strings.TrimSpace(visitorToken); tok != "" {
		return "a:" + tok
	}
	if id, ok := VisitorFromContext(r.Context()); ok {
		return "a:" + id
	}
	return ""
}

func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, popularity.Invalid(name, name+" must be an integer")
	}
	return n, nil
}
