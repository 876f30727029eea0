package server

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/elonfeng/gearrank/internal/logging"
	"github.com/elonfeng/gearrank/internal/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

// VisitorCookie is the name of the signed anonymous visitor cookie.
const VisitorCookie = "visitor_id"

type visitorKey struct{}

// Visitor issues and verifies an HMAC-signed visitor cookie so anonymous
// views can be deduplicated. Cookie format: <id>.<exp_unix>.<sig>
func Visitor(secret string, ttl time.Duration, secure bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				next.ServeHTTP(w, r)
				return
			}

			var id string
			if c, err := r.Cookie(VisitorCookie); err == nil {
				id, _ = verifyVisitor(secret, c.Value, time.Now())
			}

			if id == "" {
				id = uuid.NewString()
				http.SetCookie(w, &http.Cookie{
					Name:     VisitorCookie,
					Value:    signVisitor(secret, id, time.Now().Add(ttl).Unix()),
					Path:     "/",
					MaxAge:   int(ttl.Seconds()),
					HttpOnly: true,
					SameSite: http.SameSiteLaxMode,
					Secure:   secure,
				})
			}

			ctx := context.WithValue(r.Context(), visitorKey{}, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// VisitorFromContext returns the visitor id set by Visitor.
func VisitorFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(visitorKey{}).(string)
	return v, ok && v != ""
}

func signVisitor(secret, id string, exp int64) string {
	payload := fmt.Sprintf("%s.%d", id, exp)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return payload + "." + base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func verifyVisitor(secret, cookie string, now time.Time) (string, bool) {
	parts := strings.SplitN(cookie, ".", 3)
	if len(parts) != 3 {
		return "", false
	}
	exp, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || now.Unix() > exp {
		return "", false
	}
	if !hmac.Equal([]byte(cookie), []byte(signVisitor(secret, parts[0], exp))) {
		return "", false
	}
	return parts[0], true
}

// requireBearer rejects requests without "Authorization: Bearer <secret>".
// An empty secret rejects everything.
func requireBearer(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || secret == "" || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(token)), []byte(secret)) != 1 {
				writeJSON(w, http.StatusUnauthorized, map[string]any{"ok": false, "error": "unauthorized"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// accessLog logs each request and records its latency by route pattern.
func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := logging.ContextWithRequestID(r.Context(), middleware.GetReqID(r.Context()))
		r = r.WithContext(ctx)
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		duration := time.Since(start)
		metrics.RecordAPIRequest(r.Method, route, status, duration)

		logging.Ctx(ctx).Debug().
			Str("method", r.Method).
			Str("route", route).
			Int("status", status).
			Dur("duration", duration).
			Msg("http request")
	})
}
