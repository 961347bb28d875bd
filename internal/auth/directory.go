package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"voyagedesk.app/internal/obs"
)

// CacheInvalidator drops cached agency snapshots after a write.
type CacheInvalidator interface {
	InvalidateAgency(ctx context.Context, id string) error
}

// DirectoryService validates and applies writes to agencies, users and grants.
// It keeps agent grants inside their agency's entitlements.
type DirectoryService struct {
	store       Store
	catalog     *Catalog
	invalidator CacheInvalidator
}

// DirectoryOption configures DirectoryService.
type DirectoryOption func(*DirectoryService)

// WithInvalidator registers a cache to invalidate on agency changes.
func WithInvalidator(inv CacheInvalidator) DirectoryOption {
	return func(s *DirectoryService) {
		s.invalidator = inv
	}
}

func NewDirectoryService(store Store, catalog *Catalog, opts ...DirectoryOption) (*DirectoryService, error) {
	if store == nil {
		return nil, errors.New("directory store is required")
	}
	if catalog == nil {
		return nil, errors.New("directory catalog is required")
	}
	s := &DirectoryService{store: store, catalog: catalog}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// GetAgency reads straight from the store; it satisfies AgencyDirectory.
func (s *DirectoryService) GetAgency(ctx context.Context, id string) (Agency, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Agency{}, fmt.Errorf("%w: agency_id is required", ErrInvalidInput)
	}
	return s.store.GetAgency(ctx, id)
}

func (s *DirectoryService) ListAgencies(ctx context.Context) ([]Agency, error) {
	return s.store.ListAgencies(ctx)
}

// CreateAgency registers a pending agency entitled to modules.
func (s *DirectoryService) CreateAgency(ctx context.Context, name string, modules []string) (Agency, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Agency{}, fmt.Errorf("%w: agency name is required", ErrInvalidInput)
	}
	normalized, err := s.agencyModules(modules)
	if err != nil {
		return Agency{}, err
	}
	return s.store.CreateAgency(ctx, name, normalized)
}

// SetAgencyStatus changes the approval state. Leaving approved suspends the
// agency's active agents, whose grants are otherwise evaluated without
// looking at the agency.
func (s *DirectoryService) SetAgencyStatus(ctx context.Context, id string, status AgencyStatus) (Agency, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Agency{}, fmt.Errorf("%w: agency_id is required", ErrInvalidInput)
	}
	status = AgencyStatus(strings.TrimSpace(strings.ToLower(string(status))))
	if !status.Valid() {
		return Agency{}, fmt.Errorf("%w: unsupported agency status %q", ErrInvalidInput, status)
	}
	agency, suspended, err := s.store.UpdateAgencyStatus(ctx, id, status)
	if err != nil {
		return Agency{}, err
	}
	s.invalidate(ctx, id)
	if suspended > 0 {
		obs.Logger().Info().Str("agency_id", id).Int("agents", suspended).Str("status", string(status)).Msg("agents_suspended")
	}
	return agency, nil
}

// SetAgencyModules replaces the agency's entitlements and prunes agent grants
// for modules it lost.
func (s *DirectoryService) SetAgencyModules(ctx context.Context, id string, modules []string) (Agency, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Agency{}, fmt.Errorf("%w: agency_id is required", ErrInvalidInput)
	}
	normalized, err := s.agencyModules(modules)
	if err != nil {
		return Agency{}, err
	}
	agency, pruned, err := s.store.UpdateAgencyModules(ctx, id, normalized, s.entitled(normalized))
	if err != nil {
		return Agency{}, err
	}
	s.invalidate(ctx, id)
	if pruned > 0 {
		obs.Logger().Info().Str("agency_id", id).Int("grants", pruned).Msg("stale_grants_pruned")
	}
	return agency, nil
}

// CreateUser registers staff for an agency. Staff of an approved agency start
// active, otherwise pending. Superadmins are provisioned out of band.
func (s *DirectoryService) CreateUser(ctx context.Context, agencyID, email, password string, role Role) (User, error) {
	agencyID = strings.TrimSpace(agencyID)
	if agencyID == "" {
		return User{}, fmt.Errorf("%w: agency_id is required", ErrInvalidInput)
	}
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || !strings.Contains(email, "@") {
		return User{}, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	role = Role(strings.TrimSpace(strings.ToLower(string(role))))
	if role != RoleAgence && role != RoleAgent {
		return User{}, fmt.Errorf("%w: unsupported staff role %q", ErrInvalidInput, role)
	}
	hash, err := HashPassword(password)
	if err != nil {
		return User{}, err
	}
	return s.store.CreateUser(ctx, User{
		AgencyID:     agencyID,
		Email:        email,
		PasswordHash: hash,
		Role:         role,
	})
}

// CreateSuperadmin provisions a platform operator account.
func (s *DirectoryService) CreateSuperadmin(ctx context.Context, email, password string) (User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || !strings.Contains(email, "@") {
		return User{}, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	hash, err := HashPassword(password)
	if err != nil {
		return User{}, err
	}
	return s.store.CreateUser(ctx, User{Email: email, PasswordHash: hash, Role: RoleSuperadmin, Status: StatusActive})
}

func (s *DirectoryService) GetUser(ctx context.Context, userID string) (User, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return User{}, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	return s.store.GetUser(ctx, userID)
}

func (s *DirectoryService) ListUsers(ctx context.Context, agencyID string) ([]User, error) {
	agencyID = strings.TrimSpace(agencyID)
	if agencyID == "" {
		return nil, fmt.Errorf("%w: agency_id is required", ErrInvalidInput)
	}
	return s.store.ListUsers(ctx, agencyID)
}

// SetUserStatus changes a staff account's status. Staff of an agency that is
// not approved cannot be activated.
func (s *DirectoryService) SetUserStatus(ctx context.Context, userID string, status ActorStatus) (User, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return User{}, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	status = ActorStatus(strings.TrimSpace(strings.ToLower(string(status))))
	if !status.Valid() {
		return User{}, fmt.Errorf("%w: unsupported status %q", ErrInvalidInput, status)
	}
	return s.store.UpdateUserStatus(ctx, userID, status)
}

// SetAgentPermissions replaces an agent's grants. Duplicate modules, unknown
// modules or actions, and modules the agency is not entitled to are rejected.
func (s *DirectoryService) SetAgentPermissions(ctx context.Context, userID string, grants []PermissionGrant) ([]PermissionGrant, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	normalized, err := s.catalog.NormalizeGrants(grants)
	if err != nil {
		return nil, err
	}
	if err := s.store.SetPermissions(ctx, userID, normalized, s.catalog.AlwaysOn()); err != nil {
		return nil, err
	}
	return normalized, nil
}

// Actor resolves the current authorization view of a user.
func (s *DirectoryService) Actor(ctx context.Context, userID string) (Actor, error) {
	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return Actor{}, err
	}
	var grants []PermissionGrant
	if user.Role == RoleAgent {
		grants, err = s.store.Permissions(ctx, userID)
		if err != nil {
			return Actor{}, err
		}
	}
	actor := user.Actor(grants)
	if err := ValidateActor(actor); err != nil {
		return Actor{}, err
	}
	return actor, nil
}

// agencyModules normalizes an entitlement list. Tenant management stays with
// the platform and can never be entitled to an agency.
func (s *DirectoryService) agencyModules(modules []string) ([]string, error) {
	normalized, err := s.catalog.NormalizeModules(modules)
	if err != nil {
		return nil, err
	}
	if contains(normalized, ModuleAgencies) {
		return nil, fmt.Errorf("%w: module %q is reserved to the platform", ErrInvalidInput, ModuleAgencies)
	}
	return normalized, nil
}

// entitled is the agency's module list plus the always-on modules.
func (s *DirectoryService) entitled(active []string) []string {
	return EntitledModules(active, s.catalog.AlwaysOn())
}

func (s *DirectoryService) invalidate(ctx context.Context, id string) {
	if s.invalidator == nil {
		return
	}
	if err := s.invalidator.InvalidateAgency(ctx, id); err != nil {
		obs.Logger().Warn().Err(err).Str("agency_id", id).Msg("agency_cache_invalidate_failed")
	}
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
