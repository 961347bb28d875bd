package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"voyagedesk.app/internal/auth"
	"voyagedesk.app/internal/obs"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var publicPaths = []string{
	"/v1/auth/login",
	"/healthz",
	"/readyz",
	"/metrics",
}

// withAuth resolves the bearer token into an Actor. Every path outside
// publicPaths requires a valid token.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}

		actor, err := a.identity.AuthenticateToken(r.Context(), token)
		if err != nil {
			switch {
			case errors.Is(err, auth.ErrInvalidToken):
				writeError(w, r, http.StatusUnauthorized, "invalid token")
			case errors.Is(err, auth.ErrUpstreamUnavailable):
				w.Header().Set("Retry-After", "1")
				writeError(w, r, http.StatusServiceUnavailable, "identity store unavailable")
			default:
				obs.Logger().Error().Err(err).Str("request_id", obs.RequestIDFromContext(r.Context())).Msg("authentication_failed")
				writeError(w, r, http.StatusInternalServerError, "authentication error")
			}
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.ContextWithActor(r.Context(), actor)))
	})
}

// requireAccess gates a handler on module/action. It writes the response and
// returns false when the request must stop.
func (a *API) requireAccess(w http.ResponseWriter, r *http.Request, module, action string) (*auth.Actor, bool) {
	actor, ok := auth.ActorFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return nil, false
	}
	res, err := a.model.Authorize(r.Context(), actor, module, action)
	if err != nil {
		handleServiceError(w, r, err)
		return nil, false
	}
	if res.Allowed() {
		return actor, true
	}
	if res.Retryable() {
		w.Header().Set("Retry-After", "1")
		writeError(w, r, http.StatusServiceUnavailable, res.Reason.String())
		return nil, false
	}
	writeError(w, r, http.StatusForbidden, res.Reason.String())
	return nil, false
}

// requireTenant checks that actor administers agencyID.
func (a *API) requireTenant(w http.ResponseWriter, r *http.Request, actor *auth.Actor, agencyID string) bool {
	if a.model.Administers(actor, agencyID) {
		return true
	}
	writeError(w, r, http.StatusForbidden, "agency outside actor scope")
	return false
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}
