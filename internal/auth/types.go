package auth

import "time"

// Role is the closed set of actor roles.
type Role string

const (
	RoleSuperadmin Role = "superadmin"
	RoleAgence     Role = "agence"
	RoleAgent      Role = "agent"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSuperadmin, RoleAgence, RoleAgent:
		return true
	}
	return false
}

// ActorStatus is the lifecycle state of a user account.
type ActorStatus string

const (
	StatusActive    ActorStatus = "active"
	StatusSuspended ActorStatus = "suspended"
	StatusPending   ActorStatus = "pending"
)

func (s ActorStatus) Valid() bool {
	switch s {
	case StatusActive, StatusSuspended, StatusPending:
		return true
	}
	return false
}

// AgencyStatus is the platform approval state of a tenant.
type AgencyStatus string

const (
	AgencyPending   AgencyStatus = "pending"
	AgencyApproved  AgencyStatus = "approved"
	AgencyRejected  AgencyStatus = "rejected"
	AgencySuspended AgencyStatus = "suspended"
)

func (s AgencyStatus) Valid() bool {
	switch s {
	case AgencyPending, AgencyApproved, AgencyRejected, AgencySuspended:
		return true
	}
	return false
}

// PermissionGrant authorizes an agent for a set of actions on one module.
type PermissionGrant struct {
	Module  string   `json:"module" validate:"required"`
	Actions []string `json:"actions" validate:"required,min=1,dive,required"`
}

// Allows reports whether action is part of the grant.
func (g PermissionGrant) Allows(action string) bool {
	for _, a := range g.Actions {
		if a == action {
			return true
		}
	}
	return false
}

// Actor is the authenticated requester as resolved by the identity provider.
type Actor struct {
	ID          string            `json:"id" validate:"required"`
	Role        Role              `json:"role" validate:"required,role"`
	AgencyID    string            `json:"agency_id,omitempty" validate:"required_unless=Role superadmin"`
	Permissions []PermissionGrant `json:"permissions,omitempty" validate:"dive"`
	Status      ActorStatus       `json:"status" validate:"required,actor_status"`
}

// Grant returns the first grant for module. Stored grant lists never hold
// duplicates; first-match keeps lookups deterministic if one slips through.
func (a *Actor) Grant(module string) (PermissionGrant, bool) {
	for _, g := range a.Permissions {
		if g.Module == module {
			return g, true
		}
	}
	return PermissionGrant{}, false
}

// Agency is a tenant. ActiveModules is platform controlled.
type Agency struct {
	ID            string       `json:"id"`
	Name          string       `json:"name"`
	Status        AgencyStatus `json:"status"`
	ActiveModules []string     `json:"active_modules"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// HasModule reports whether module is in the agency's active list.
func (a Agency) HasModule(module string) bool {
	for _, m := range a.ActiveModules {
		if m == module {
			return true
		}
	}
	return false
}

// Clone returns a copy that shares no slices with a.
func (a Agency) Clone() Agency {
	a.ActiveModules = append([]string(nil), a.ActiveModules...)
	return a
}

// User is the stored account behind an Actor.
type User struct {
	ID           string      `json:"id"`
	AgencyID     string      `json:"agency_id,omitempty"`
	Email        string      `json:"email"`
	PasswordHash string      `json:"-"`
	Role         Role        `json:"role"`
	Status       ActorStatus `json:"status"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// Actor builds the authorization view of u with the given grants. Grants are
// dropped for non-agent roles.
func (u User) Actor(grants []PermissionGrant) Actor {
	a := Actor{ID: u.ID, Role: u.Role, AgencyID: u.AgencyID, Status: u.Status}
	if u.Role == RoleSuperadmin {
		a.AgencyID = ""
	}
	if u.Role == RoleAgent && len(grants) > 0 {
		a.Permissions = cloneGrants(grants)
	}
	return a
}

func cloneGrants(grants []PermissionGrant) []PermissionGrant {
	if grants == nil {
		return nil
	}
	out := make([]PermissionGrant, len(grants))
	for i, g := range grants {
		out[i] = PermissionGrant{Module: g.Module, Actions: append([]string(nil), g.Actions...)}
	}
	return out
}
