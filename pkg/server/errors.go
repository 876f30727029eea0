package server

import (
	"errors"
	"net/http"

	"github.com/elonfeng/gearrank/internal/logging"
	"github.com/elonfeng/gearrank/pkg/popularity"
)

// statusOf maps a domain error to an HTTP status and a caller-safe message.
func statusOf(err error) (int, string) {
	var ve *popularity.ValidationError
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest, ve.Error()
	case errors.Is(err, popularity.ErrNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, popularity.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := statusOf(err)
	if status >= http.StatusInternalServerError {
		logging.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	writeJSON(w, status, map[string]string{"error": msg})
}
