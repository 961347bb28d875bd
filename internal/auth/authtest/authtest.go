// Package authtest provides fixtures for code that depends on the
// authorization model.
package authtest

import (
	"context"
	"sync"

	"voyagedesk.app/internal/auth"
)

// Superadmin returns an active platform operator. It replaces any need for an
// unauthenticated development bypass.
func Superadmin() *auth.Actor {
	return &auth.Actor{ID: "usr_test_superadmin", Role: auth.RoleSuperadmin, Status: auth.StatusActive}
}

// AgencyAdmin returns an active agence actor of agencyID.
func AgencyAdmin(agencyID string) *auth.Actor {
	return &auth.Actor{ID: "usr_test_admin_" + agencyID, Role: auth.RoleAgence, AgencyID: agencyID, Status: auth.StatusActive}
}

// Agent returns an active agent of agencyID holding grants.
func Agent(agencyID string, grants ...auth.PermissionGrant) *auth.Actor {
	return &auth.Actor{ID: "usr_test_agent_" + agencyID, Role: auth.RoleAgent, AgencyID: agencyID, Status: auth.StatusActive, Permissions: grants}
}

// Grant is shorthand for a PermissionGrant.
func Grant(module string, actions ...string) auth.PermissionGrant {
	return auth.PermissionGrant{Module: module, Actions: actions}
}

// Directory is a settable AgencyDirectory. Err, when set, is returned by
// every lookup.
type Directory struct {
	mu       sync.Mutex
	agencies map[string]auth.Agency
	Err      error
	Calls    int
}

// NewDirectory returns a Directory seeded with agencies.
func NewDirectory(agencies ...auth.Agency) *Directory {
	d := &Directory{agencies: make(map[string]auth.Agency)}
	for _, a := range agencies {
		d.agencies[a.ID] = a.Clone()
	}
	return d
}

// Put inserts or replaces an agency.
func (d *Directory) Put(a auth.Agency) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.agencies[a.ID] = a.Clone()
}

// Fail makes every following lookup return err.
func (d *Directory) Fail(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Err = err
}

// Lookups returns how many GetAgency calls were served.
func (d *Directory) Lookups() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.Calls
}

func (d *Directory) GetAgency(ctx context.Context, id string) (auth.Agency, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Calls++
	if d.Err != nil {
		return auth.Agency{}, d.Err
	}
	a, ok := d.agencies[id]
	if !ok {
		return auth.Agency{}, auth.ErrNotFound
	}
	return a.Clone(), nil
}

// Approved returns an approved agency with modules active.
func Approved(id string, modules ...string) auth.Agency {
	return auth.Agency{ID: id, Name: id, Status: auth.AgencyApproved, ActiveModules: modules}
}

// Sink collects audit records in memory.
type Sink struct {
	mu      sync.Mutex
	Records []auth.DecisionRecord
	Err     error
}

func (s *Sink) Record(ctx context.Context, rec auth.DecisionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Records = append(s.Records, rec)
	return s.Err
}

// Len returns the number of collected records.
func (s *Sink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Records)
}
