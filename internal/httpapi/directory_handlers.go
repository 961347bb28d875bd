package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"voyagedesk.app/internal/audit"
	"voyagedesk.app/internal/auth"
)

type createAgencyRequest struct {
	Name          string   `json:"name" validate:"required,max=200"`
	ActiveModules []string `json:"active_modules" validate:"omitempty,dive,required"`
}

type agencyStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=pending approved rejected suspended"`
}

type agencyModulesRequest struct {
	ActiveModules []string `json:"active_modules" validate:"omitempty,dive,required"`
}

type createUserRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
	Role     string `json:"role" validate:"required,oneof=agence agent"`
}

type userStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=active suspended pending"`
}

type permissionsRequest struct {
	Permissions []auth.PermissionGrant `json:"permissions" validate:"omitempty,dive"`
}

type userResponse struct {
	auth.User
	Permissions []auth.PermissionGrant `json:"permissions,omitempty"`
}

func (a *API) ListAgencies(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.requireAccess(w, r, auth.ModuleAgencies, auth.ActionRead); !ok {
		return
	}
	agencies, err := a.directory.ListAgencies(r.Context())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"agencies": agencies})
}

func (a *API) CreateAgency(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.requireAccess(w, r, auth.ModuleAgencies, auth.ActionCreate); !ok {
		return
	}
	var req createAgencyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	agency, err := a.directory.CreateAgency(r.Context(), req.Name, req.ActiveModules)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "agency_created", map[string]any{
		"agency":         agency.ID,
		"active_modules": agency.ActiveModules,
	})
	writeJSON(w, http.StatusCreated, agency)
}

// GetAgency lets a superadmin inspect any agency and an agency admin see its
// own entitlements.
func (a *API) GetAgency(w http.ResponseWriter, r *http.Request) {
	actor, ok := a.requireAccess(w, r, auth.ModuleModules, auth.ActionRead)
	if !ok {
		return
	}
	id := mux.Vars(r)["id"]
	if !a.requireTenant(w, r, actor, id) {
		return
	}
	agency, err := a.directory.GetAgency(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, agency)
}

func (a *API) SetAgencyStatus(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.requireAccess(w, r, auth.ModuleAgencies, auth.ActionUpdate); !ok {
		return
	}
	var req agencyStatusRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	id := mux.Vars(r)["id"]
	agency, err := a.directory.SetAgencyStatus(r.Context(), id, auth.AgencyStatus(req.Status))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "agency_status_changed", map[string]any{
		"agency": agency.ID,
		"status": agency.Status,
	})
	writeJSON(w, http.StatusOK, agency)
}

func (a *API) SetAgencyModules(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.requireAccess(w, r, auth.ModuleAgencies, auth.ActionUpdate); !ok {
		return
	}
	var req agencyModulesRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	id := mux.Vars(r)["id"]
	agency, err := a.directory.SetAgencyModules(r.Context(), id, req.ActiveModules)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "agency_modules_changed", map[string]any{
		"agency":         agency.ID,
		"active_modules": agency.ActiveModules,
	})
	writeJSON(w, http.StatusOK, agency)
}

func (a *API) ListUsers(w http.ResponseWriter, r *http.Request) {
	actor, ok := a.requireAccess(w, r, auth.ModuleAgents, auth.ActionRead)
	if !ok {
		return
	}
	id := mux.Vars(r)["id"]
	if !a.requireTenant(w, r, actor, id) {
		return
	}
	users, err := a.directory.ListUsers(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

// CreateUser adds staff to an agency. Agency admins may only add agents.
func (a *API) CreateUser(w http.ResponseWriter, r *http.Request) {
	actor, ok := a.requireAccess(w, r, auth.ModuleAgents, auth.ActionCreate)
	if !ok {
		return
	}
	id := mux.Vars(r)["id"]
	if !a.requireTenant(w, r, actor, id) {
		return
	}
	var req createUserRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	role := auth.Role(req.Role)
	if role == auth.RoleAgence && actor.Role != auth.RoleSuperadmin {
		writeError(w, r, http.StatusForbidden, "only platform operators can create agency admins")
		return
	}
	user, err := a.directory.CreateUser(r.Context(), id, req.Email, req.Password, role)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "user_created", map[string]any{
		"user":   user.ID,
		"agency": user.AgencyID,
		"role":   user.Role,
		"status": user.Status,
	})
	writeJSON(w, http.StatusCreated, userResponse{User: user})
}

func (a *API) SetUserStatus(w http.ResponseWriter, r *http.Request) {
	actor, ok := a.requireAccess(w, r, auth.ModuleAgents, auth.ActionUpdate)
	if !ok {
		return
	}
	id := mux.Vars(r)["id"]
	if id == actor.ID {
		writeError(w, r, http.StatusForbidden, "cannot change own status")
		return
	}
	target, ok := a.loadManagedUser(w, r, actor, id)
	if !ok {
		return
	}
	var req userStatusRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	user, err := a.directory.SetUserStatus(r.Context(), target.ID, auth.ActorStatus(req.Status))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "user_status_changed", map[string]any{
		"user":   user.ID,
		"agency": user.AgencyID,
		"from":   target.Status,
		"to":     user.Status,
	})
	writeJSON(w, http.StatusOK, userResponse{User: user})
}

func (a *API) SetUserPermissions(w http.ResponseWriter, r *http.Request) {
	actor, ok := a.requireAccess(w, r, auth.ModuleAgents, auth.ActionUpdate)
	if !ok {
		return
	}
	id := mux.Vars(r)["id"]
	target, ok := a.loadManagedUser(w, r, actor, id)
	if !ok {
		return
	}
	var req permissionsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	grants, err := a.directory.SetAgentPermissions(r.Context(), target.ID, req.Permissions)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	modules := make([]string, 0, len(grants))
	for _, g := range grants {
		modules = append(modules, g.Module)
	}
	_ = audit.LogEvent(r.Context(), "agent_permissions_changed", map[string]any{
		"user":    target.ID,
		"agency":  target.AgencyID,
		"modules": modules,
	})
	writeJSON(w, http.StatusOK, userResponse{User: target, Permissions: grants})
}

// loadManagedUser fetches a staff account the actor administers. Accounts
// outside the actor's scope are reported as not found.
func (a *API) loadManagedUser(w http.ResponseWriter, r *http.Request, actor *auth.Actor, id string) (auth.User, bool) {
	user, err := a.directory.GetUser(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, err)
		return auth.User{}, false
	}
	if !a.model.Administers(actor, user.AgencyID) {
		writeError(w, r, http.StatusNotFound, "not found")
		return auth.User{}, false
	}
	return user, true
}
