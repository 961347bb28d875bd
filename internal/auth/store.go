package auth

import "context"

// Store describes persistence operations required by the directory service.
// Writes that depend on an agency's state check it inside the same
// transaction, holding the agency row, so a concurrent agency change cannot
// slip between the check and the write.
type Store interface {
	AgencyStore
	UserStore
}

// AgencyStore manages tenants. GetAgency returns ErrNotFound for unknown ids.
type AgencyStore interface {
	CreateAgency(ctx context.Context, name string, modules []string) (Agency, error)
	GetAgency(ctx context.Context, id string) (Agency, error)
	ListAgencies(ctx context.Context) ([]Agency, error)

	// UpdateAgencyStatus sets the status and, unless it is approved,
	// suspends the agency's active agents in the same transaction. It
	// returns the number of agents suspended.
	UpdateAgencyStatus(ctx context.Context, id string, status AgencyStatus) (Agency, int, error)

	// UpdateAgencyModules replaces the active modules and deletes grants of
	// the agency's agents for modules outside keep in the same transaction.
	// It returns the number of grants deleted.
	UpdateAgencyModules(ctx context.Context, id string, modules, keep []string) (Agency, int, error)
}

// UserStore manages accounts and agent grants.
type UserStore interface {
	// CreateUser stores u. Staff (a non-empty AgencyID) get their status from
	// the agency: active when it is approved, pending otherwise. Unknown
	// agencies are ErrNotFound.
	CreateUser(ctx context.Context, u User) (User, error)
	GetUser(ctx context.Context, id string) (User, error)
	FindUserByEmail(ctx context.Context, email string) (User, error)
	ListUsers(ctx context.Context, agencyID string) ([]User, error)

	// UpdateUserStatus returns ErrConflict when activating staff of an
	// agency that is not approved.
	UpdateUserStatus(ctx context.Context, id string, status ActorStatus) (User, error)

	// SetPermissions replaces an agent's grant list, preserving order. Every
	// grant must name a module active for the agent's agency or listed in
	// alwaysOn, otherwise nothing is written and ErrInvalidInput is returned.
	// Non-agents are ErrInvalidInput.
	SetPermissions(ctx context.Context, userID string, grants []PermissionGrant, alwaysOn []string) error
	Permissions(ctx context.Context, userID string) ([]PermissionGrant, error)
}
