package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"voyagedesk.app/internal/auth"
	"voyagedesk.app/internal/obs"
)

const maxJSONBody = 1 << 20

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	body := map[string]any{"error": msg}
	if r != nil {
		if rid := obs.RequestIDFromContext(r.Context()); rid != "" {
			body["request_id"] = rid
		}
	}
	writeJSON(w, code, body)
}

// decodeJSON reads exactly one JSON object into dst and validates it.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, r, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return false
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		writeError(w, r, http.StatusBadRequest, "invalid JSON: trailing data")
		return false
	}
	if err := auth.ValidateStruct(dst); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

// handleServiceError maps domain sentinels onto HTTP statuses.
func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "not found")
	case errors.Is(err, auth.ErrConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, auth.ErrUnauthorized), errors.Is(err, auth.ErrInvalidToken):
		writeError(w, r, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, auth.ErrUpstreamUnavailable):
		w.Header().Set("Retry-After", "1")
		writeError(w, r, http.StatusServiceUnavailable, "upstream unavailable")
	case errors.Is(err, auth.ErrInvalidRequest):
		obs.Logger().Warn().Err(err).Str("request_id", obs.RequestIDFromContext(r.Context())).Msg("invalid_authorization_request")
		writeError(w, r, http.StatusBadRequest, "invalid authorization request")
	default:
		obs.Logger().Error().Err(err).Str("request_id", obs.RequestIDFromContext(r.Context())).
			Str("path", r.URL.Path).Msg("request_failed")
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
