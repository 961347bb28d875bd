package auth_test

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"

	"voyagedesk.app/internal/auth"
)

type recordingInvalidator struct {
	ids []string
}

func (r *recordingInvalidator) InvalidateAgency(ctx context.Context, id string) error {
	r.ids = append(r.ids, id)
	return nil
}

func newDirectory(t *testing.T) (*auth.DirectoryService, *auth.MemoryStore, *recordingInvalidator) {
	t.Helper()
	store := auth.NewMemoryStore()
	inv := &recordingInvalidator{}
	svc, err := auth.NewDirectoryService(store, auth.DefaultCatalog(), auth.WithInvalidator(inv))
	if err != nil {
		t.Fatalf("NewDirectoryService: %v", err)
	}
	return svc, store, inv
}

func approvedAgency(t *testing.T, svc *auth.DirectoryService, name string, modules ...string) auth.Agency {
	t.Helper()
	ctx := context.Background()
	a, err := svc.CreateAgency(ctx, name, modules)
	if err != nil {
		t.Fatalf("CreateAgency: %v", err)
	}
	a, err = svc.SetAgencyStatus(ctx, a.ID, auth.AgencyApproved)
	if err != nil {
		t.Fatalf("SetAgencyStatus: %v", err)
	}
	return a
}

func TestDirectoryCreateAgency(t *testing.T) {
	svc, _, _ := newDirectory(t)
	ctx := context.Background()

	a, err := svc.CreateAgency(ctx, "Atlas Voyages", []string{auth.ModuleInvoices, auth.ModuleClients})
	if err != nil {
		t.Fatalf("CreateAgency: %v", err)
	}
	if a.Status != auth.AgencyPending {
		t.Fatalf("new agency should be pending, got %s", a.Status)
	}
	if !slices.Equal(a.ActiveModules, []string{auth.ModuleClients, auth.ModuleInvoices}) {
		t.Fatalf("modules not normalized: %v", a.ActiveModules)
	}
	if _, err := svc.CreateAgency(ctx, "atlas voyages", nil); !errors.Is(err, auth.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if _, err := svc.CreateAgency(ctx, "Other", []string{"billing"}); !errors.Is(err, auth.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if _, err := svc.CreateAgency(ctx, "  ", nil); !errors.Is(err, auth.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestDirectoryUserLifecycle(t *testing.T) {
	svc, _, _ := newDirectory(t)
	ctx := context.Background()

	pending, err := svc.CreateAgency(ctx, "Pending Travel", nil)
	if err != nil {
		t.Fatalf("CreateAgency: %v", err)
	}
	u, err := svc.CreateUser(ctx, pending.ID, "Admin@Pending.test", "longenough", auth.RoleAgence)
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if u.Status != auth.StatusPending || u.Email != "admin@pending.test" {
		t.Fatalf("unexpected user: %+v", u)
	}
	if _, err := svc.SetUserStatus(ctx, u.ID, auth.StatusActive); !errors.Is(err, auth.ErrConflict) {
		t.Fatalf("activating staff of a pending agency should conflict, got %v", err)
	}

	approved := approvedAgency(t, svc, "Sahara Tours", auth.ModuleClients)
	agent, err := svc.CreateUser(ctx, approved.ID, "agent@sahara.test", "longenough", auth.RoleAgent)
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if agent.Status != auth.StatusActive {
		t.Fatalf("staff of approved agency should start active, got %s", agent.Status)
	}
	if _, err := svc.CreateUser(ctx, approved.ID, "agent@sahara.test", "longenough", auth.RoleAgent); !errors.Is(err, auth.ErrConflict) {
		t.Fatalf("expected duplicate email conflict, got %v", err)
	}
	if _, err := svc.CreateUser(ctx, approved.ID, "root@sahara.test", "longenough", auth.RoleSuperadmin); !errors.Is(err, auth.ErrInvalidInput) {
		t.Fatalf("superadmins cannot be created as agency staff, got %v", err)
	}
	if _, err := svc.CreateUser(ctx, "agc_missing", "x@y.test", "longenough", auth.RoleAgent); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDirectoryAgentPermissions(t *testing.T) {
	svc, _, _ := newDirectory(t)
	ctx := context.Background()
	agency := approvedAgency(t, svc, "Oasis", auth.ModuleClients, auth.ModuleInvoices)
	agent, err := svc.CreateUser(ctx, agency.ID, "a@oasis.test", "longenough", auth.RoleAgent)
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	grants, err := svc.SetAgentPermissions(ctx, agent.ID, []auth.PermissionGrant{
		{Module: auth.ModuleClients, Actions: []string{auth.ActionCreate, auth.ActionRead}},
		{Module: auth.ModuleDashboard, Actions: []string{auth.ActionRead}},
	})
	if err != nil {
		t.Fatalf("SetAgentPermissions: %v", err)
	}
	if !slices.Equal(grants[0].Actions, []string{auth.ActionRead, auth.ActionCreate}) {
		t.Fatalf("actions not normalized: %v", grants[0].Actions)
	}

	if _, err := svc.SetAgentPermissions(ctx, agent.ID, []auth.PermissionGrant{
		{Module: auth.ModuleCash, Actions: []string{auth.ActionRead}},
	}); !errors.Is(err, auth.ErrInvalidInput) {
		t.Fatalf("grant outside agency entitlements should fail, got %v", err)
	}
	if _, err := svc.SetAgentPermissions(ctx, agent.ID, []auth.PermissionGrant{
		{Module: auth.ModuleClients, Actions: []string{auth.ActionRead}},
		{Module: auth.ModuleClients, Actions: []string{auth.ActionDelete}},
	}); !errors.Is(err, auth.ErrInvalidInput) {
		t.Fatalf("duplicate module should fail, got %v", err)
	}

	admin, err := svc.CreateUser(ctx, agency.ID, "boss@oasis.test", "longenough", auth.RoleAgence)
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if _, err := svc.SetAgentPermissions(ctx, admin.ID, grants); !errors.Is(err, auth.ErrInvalidInput) {
		t.Fatalf("grants on agence admin should fail, got %v", err)
	}

	actor, err := svc.Actor(ctx, agent.ID)
	if err != nil {
		t.Fatalf("Actor: %v", err)
	}
	if len(actor.Permissions) != 2 || actor.AgencyID != agency.ID {
		t.Fatalf("unexpected actor: %+v", actor)
	}
}

func TestDirectoryModuleChangePrunesGrants(t *testing.T) {
	svc, _, inv := newDirectory(t)
	ctx := context.Background()
	agency := approvedAgency(t, svc, "Medina", auth.ModuleClients, auth.ModuleInvoices)
	agent, err := svc.CreateUser(ctx, agency.ID, "a@medina.test", "longenough", auth.RoleAgent)
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if _, err := svc.SetAgentPermissions(ctx, agent.ID, []auth.PermissionGrant{
		{Module: auth.ModuleClients, Actions: []string{auth.ActionRead}},
		{Module: auth.ModuleInvoices, Actions: []string{auth.ActionRead}},
		{Module: auth.ModuleProfile, Actions: []string{auth.ActionRead}},
	}); err != nil {
		t.Fatalf("SetAgentPermissions: %v", err)
	}

	inv.ids = nil
	if _, err := svc.SetAgencyModules(ctx, agency.ID, []string{auth.ModuleClients}); err != nil {
		t.Fatalf("SetAgencyModules: %v", err)
	}
	if !slices.Equal(inv.ids, []string{agency.ID}) {
		t.Fatalf("expected cache invalidation for %s, got %v", agency.ID, inv.ids)
	}

	actor, err := svc.Actor(ctx, agent.ID)
	if err != nil {
		t.Fatalf("Actor: %v", err)
	}
	var mods []string
	for _, g := range actor.Permissions {
		mods = append(mods, g.Module)
	}
	if !slices.Equal(mods, []string{auth.ModuleClients, auth.ModuleProfile}) {
		t.Fatalf("expected factures grant pruned, got %v", mods)
	}
}

func TestDirectorySuspendAgencySuspendsAgents(t *testing.T) {
	svc, _, inv := newDirectory(t)
	ctx := context.Background()
	agency := approvedAgency(t, svc, "Dunes", auth.ModuleClients)
	agent, err := svc.CreateUser(ctx, agency.ID, "a@dunes.test", "longenough", auth.RoleAgent)
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	admin, err := svc.CreateUser(ctx, agency.ID, "boss@dunes.test", "longenough", auth.RoleAgence)
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	inv.ids = nil
	if _, err := svc.SetAgencyStatus(ctx, agency.ID, auth.AgencySuspended); err != nil {
		t.Fatalf("SetAgencyStatus: %v", err)
	}
	if len(inv.ids) != 1 {
		t.Fatalf("expected one invalidation, got %v", inv.ids)
	}
	got, _ := svc.GetUser(ctx, agent.ID)
	if got.Status != auth.StatusSuspended {
		t.Fatalf("agent should be suspended, got %s", got.Status)
	}
	got, _ = svc.GetUser(ctx, admin.ID)
	if got.Status != auth.StatusActive {
		t.Fatalf("agence admin is gated by agency status, got %s", got.Status)
	}
	if _, err := svc.SetAgencyStatus(ctx, agency.ID, "closed"); !errors.Is(err, auth.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestDirectoryFeedsModel(t *testing.T) {
	svc, _, _ := newDirectory(t)
	ctx := context.Background()
	agency := approvedAgency(t, svc, "Kasbah", auth.ModuleClients)
	admin, err := svc.CreateUser(ctx, agency.ID, "boss@kasbah.test", "longenough", auth.RoleAgence)
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	actor, err := svc.Actor(ctx, admin.ID)
	if err != nil {
		t.Fatalf("Actor: %v", err)
	}

	m, err := auth.NewModel(auth.DefaultCatalog(), svc)
	if err != nil {
		t.Fatalf("NewModel: %v", err)
	}
	res, err := m.Authorize(ctx, &actor, auth.ModuleInvoices, auth.ActionRead)
	if err != nil || res.Allowed() {
		t.Fatalf("factures should be denied: %s %v", res, err)
	}
	if _, err := svc.SetAgencyModules(ctx, agency.ID, []string{auth.ModuleClients, auth.ModuleInvoices}); err != nil {
		t.Fatalf("SetAgencyModules: %v", err)
	}
	res, err = m.Authorize(ctx, &actor, auth.ModuleInvoices, auth.ActionRead)
	if err != nil || !res.Allowed() {
		t.Fatalf("factures should now be allowed: %s %v", res, err)
	}
}

func TestDirectoryRejectsPlatformModule(t *testing.T) {
	svc, _, _ := newDirectory(t)
	ctx := context.Background()

	if _, err := svc.CreateAgency(ctx, "Nomad Trips", []string{auth.ModuleAgencies}); !errors.Is(err, auth.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for platform module, got %v", err)
	}
	a := approvedAgency(t, svc, "Nomad Trips", auth.ModuleClients)
	if _, err := svc.SetAgencyModules(ctx, a.ID, []string{auth.ModuleClients, auth.ModuleAgencies}); !errors.Is(err, auth.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput on update, got %v", err)
	}
	got, err := svc.GetAgency(ctx, a.ID)
	if err != nil {
		t.Fatalf("GetAgency: %v", err)
	}
	if !slices.Equal(got.ActiveModules, []string{auth.ModuleClients}) {
		t.Fatalf("rejected update must not change modules: %v", got.ActiveModules)
	}
}

// brokenWrites fails the agency-level writes after the directory has
// validated its input.
type brokenWrites struct {
	*auth.MemoryStore
}

func (b brokenWrites) UpdateAgencyStatus(ctx context.Context, id string, status auth.AgencyStatus) (auth.Agency, int, error) {
	return auth.Agency{}, 0, errors.New("db down")
}

func (b brokenWrites) UpdateAgencyModules(ctx context.Context, id string, modules, keep []string) (auth.Agency, int, error) {
	return auth.Agency{}, 0, errors.New("db down")
}

func TestDirectoryFailedAgencyWriteKeepsGrantsConsistent(t *testing.T) {
	svc, store, _ := newDirectory(t)
	ctx := context.Background()
	agency := approvedAgency(t, svc, "Erg", auth.ModuleClients, auth.ModuleInvoices)
	agent, err := svc.CreateUser(ctx, agency.ID, "a@erg.test", "longenough", auth.RoleAgent)
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if _, err := svc.SetAgentPermissions(ctx, agent.ID, []auth.PermissionGrant{
		{Module: auth.ModuleInvoices, Actions: []string{auth.ActionRead}},
	}); err != nil {
		t.Fatalf("SetAgentPermissions: %v", err)
	}

	inv := &recordingInvalidator{}
	broken, err := auth.NewDirectoryService(brokenWrites{store}, auth.DefaultCatalog(), auth.WithInvalidator(inv))
	if err != nil {
		t.Fatalf("NewDirectoryService: %v", err)
	}
	if _, err := broken.SetAgencyModules(ctx, agency.ID, []string{auth.ModuleClients}); err == nil {
		t.Fatalf("expected module change to fail")
	}
	if _, err := broken.SetAgencyStatus(ctx, agency.ID, auth.AgencySuspended); err == nil {
		t.Fatalf("expected status change to fail")
	}
	if len(inv.ids) != 0 {
		t.Fatalf("failed writes must not invalidate: %v", inv.ids)
	}

	// The agency still lists factures and is approved, so the surviving grant
	// and active agent agree with it.
	got, _ := svc.GetAgency(ctx, agency.ID)
	if got.Status != auth.AgencyApproved || !slices.Contains(got.ActiveModules, auth.ModuleInvoices) {
		t.Fatalf("agency changed by failed write: %+v", got)
	}

	// Once the write succeeds the grant goes with the module.
	if _, err := svc.SetAgencyModules(ctx, agency.ID, []string{auth.ModuleClients}); err != nil {
		t.Fatalf("SetAgencyModules: %v", err)
	}
	actor, err := svc.Actor(ctx, agent.ID)
	if err != nil {
		t.Fatalf("Actor: %v", err)
	}
	m, err := auth.NewModel(auth.DefaultCatalog(), svc)
	if err != nil {
		t.Fatalf("NewModel: %v", err)
	}
	res, err := m.Authorize(ctx, &actor, auth.ModuleInvoices, auth.ActionRead)
	if err != nil || res.Allowed() {
		t.Fatalf("factures should be denied after removal: %s %v", res, err)
	}
}

// interleaved runs an agency change just before each user-side write reaches
// the store, the window a read-then-write directory would leave open.
type interleaved struct {
	*auth.MemoryStore
	before func()
}

func (s interleaved) CreateUser(ctx context.Context, u auth.User) (auth.User, error) {
	s.before()
	return s.MemoryStore.CreateUser(ctx, u)
}

func (s interleaved) UpdateUserStatus(ctx context.Context, id string, status auth.ActorStatus) (auth.User, error) {
	s.before()
	return s.MemoryStore.UpdateUserStatus(ctx, id, status)
}

func (s interleaved) SetPermissions(ctx context.Context, userID string, grants []auth.PermissionGrant, alwaysOn []string) error {
	s.before()
	return s.MemoryStore.SetPermissions(ctx, userID, grants, alwaysOn)
}

func TestDirectoryAgencySuspendedDuringStaffWrites(t *testing.T) {
	svc, store, _ := newDirectory(t)
	ctx := context.Background()
	agency := approvedAgency(t, svc, "Reg", auth.ModuleClients)
	existing, err := svc.CreateUser(ctx, agency.ID, "old@reg.test", "longenough", auth.RoleAgent)
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if _, err := svc.SetUserStatus(ctx, existing.ID, auth.StatusSuspended); err != nil {
		t.Fatalf("SetUserStatus: %v", err)
	}

	racing, err := auth.NewDirectoryService(interleaved{store, func() {
		if _, _, err := store.UpdateAgencyStatus(ctx, agency.ID, auth.AgencySuspended); err != nil {
			t.Fatalf("UpdateAgencyStatus: %v", err)
		}
	}}, auth.DefaultCatalog())
	if err != nil {
		t.Fatalf("NewDirectoryService: %v", err)
	}

	created, err := racing.CreateUser(ctx, agency.ID, "new@reg.test", "longenough", auth.RoleAgent)
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if created.Status != auth.StatusPending {
		t.Fatalf("agent created under a suspended agency is %s", created.Status)
	}
	if _, err := racing.SetUserStatus(ctx, existing.ID, auth.StatusActive); !errors.Is(err, auth.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	got, _ := svc.GetUser(ctx, existing.ID)
	if got.Status != auth.StatusSuspended {
		t.Fatalf("agent reactivated under a suspended agency: %s", got.Status)
	}
}

func TestDirectoryModuleRemovedDuringGrantWrite(t *testing.T) {
	svc, store, _ := newDirectory(t)
	ctx := context.Background()
	agency := approvedAgency(t, svc, "Tassili", auth.ModuleClients, auth.ModuleInvoices)
	agent, err := svc.CreateUser(ctx, agency.ID, "a@tassili.test", "longenough", auth.RoleAgent)
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	racing, err := auth.NewDirectoryService(interleaved{store, func() {
		keep := auth.EntitledModules([]string{auth.ModuleClients}, auth.DefaultCatalog().AlwaysOn())
		if _, _, err := store.UpdateAgencyModules(ctx, agency.ID, []string{auth.ModuleClients}, keep); err != nil {
			t.Fatalf("UpdateAgencyModules: %v", err)
		}
	}}, auth.DefaultCatalog())
	if err != nil {
		t.Fatalf("NewDirectoryService: %v", err)
	}

	if _, err := racing.SetAgentPermissions(ctx, agent.ID, []auth.PermissionGrant{
		{Module: auth.ModuleInvoices, Actions: []string{auth.ActionRead}},
	}); !errors.Is(err, auth.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if grants, _ := store.Permissions(ctx, agent.ID); len(grants) != 0 {
		t.Fatalf("stale grant written: %v", grants)
	}
}

func TestDirectoryConcurrentSuspensionLeavesNoActiveAgent(t *testing.T) {
	svc, _, _ := newDirectory(t)
	ctx := context.Background()
	agency := approvedAgency(t, svc, "Hoggar", auth.ModuleClients)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = svc.CreateUser(ctx, agency.ID, fmt.Sprintf("a%d@hoggar.test", i), "longenough", auth.RoleAgent)
		}(i)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = svc.SetAgencyStatus(ctx, agency.ID, auth.AgencySuspended)
	}()
	wg.Wait()

	users, err := svc.ListUsers(ctx, agency.ID)
	if err != nil {
		t.Fatalf("ListUsers: %v", err)
	}
	for _, u := range users {
		if u.Status == auth.StatusActive {
			t.Fatalf("agent %s active under a suspended agency", u.Email)
		}
	}
}
