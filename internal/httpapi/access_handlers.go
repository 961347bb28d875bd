package httpapi

import (
	"errors"
	"net/http"
	"time"

	"voyagedesk.app/internal/auth"
)

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type loginResponse struct {
	AccessToken string     `json:"access_token"`
	TokenType   string     `json:"token_type"`
	ExpiresAt   time.Time  `json:"expires_at"`
	Actor       auth.Actor `json:"actor"`
}

type moduleAccess struct {
	Module  string   `json:"module"`
	Actions []string `json:"actions"`
}

type accessResponse struct {
	Actor   auth.Actor     `json:"actor"`
	Modules []moduleAccess `json:"modules"`
}

type authorizeRequest struct {
	Module string `json:"module" validate:"required"`
	Action string `json:"action" validate:"required"`
}

type authorizeResponse struct {
	Module    string `json:"module"`
	Action    string `json:"action"`
	Decision  string `json:"decision"`
	Reason    string `json:"reason,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

func (a *API) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	tok, actor, err := a.identity.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrUnauthorized) {
			writeError(w, r, http.StatusUnauthorized, "invalid credentials")
			return
		}
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{
		AccessToken: tok.AccessToken,
		TokenType:   tok.TokenType,
		ExpiresAt:   tok.ExpiresAt,
		Actor:       actor,
	})
}

// MyAccess returns the modules the caller may open, with their actions, in
// catalog order. Clients use it to decide what to render.
func (a *API) MyAccess(w http.ResponseWriter, r *http.Request) {
	actor, ok := auth.ActorFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	perms, err := a.model.AccessMap(r.Context(), actor)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	resp := accessResponse{Actor: *actor, Modules: make([]moduleAccess, 0, len(perms))}
	for _, module := range a.model.Catalog().Modules() {
		if acts, ok := perms[module]; ok {
			resp.Modules = append(resp.Modules, moduleAccess{Module: module, Actions: acts})
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// Authorize answers an explicit module/action check for the caller.
func (a *API) Authorize(w http.ResponseWriter, r *http.Request) {
	actor, ok := auth.ActorFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	var req authorizeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	cat := a.model.Catalog()
	if !cat.HasModule(req.Module) || !cat.HasAction(req.Module, req.Action) {
		writeError(w, r, http.StatusBadRequest, "unknown module or action")
		return
	}
	res, err := a.model.Authorize(r.Context(), actor, req.Module, req.Action)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, authorizeResponse{
		Module:    req.Module,
		Action:    req.Action,
		Decision:  res.Decision.String(),
		Reason:    res.Reason.String(),
		Retryable: res.Retryable(),
	})
}
