package auth

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"voyagedesk.app/internal/ids"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore implements Store in process memory. Every read returns copies.
type MemoryStore struct {
	mu       sync.RWMutex
	agencies map[string]Agency
	users    map[string]User
	grants   map[string][]PermissionGrant
	now      func() time.Time
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		agencies: make(map[string]Agency),
		users:    make(map[string]User),
		grants:   make(map[string][]PermissionGrant),
		now:      time.Now,
	}
}

func (s *MemoryStore) CreateAgency(ctx context.Context, name string, modules []string) (Agency, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.agencies {
		if strings.EqualFold(a.Name, name) {
			return Agency{}, fmt.Errorf("%w: agency %q already exists", ErrConflict, name)
		}
	}
	now := s.now().UTC()
	a := Agency{
		ID:            ids.NewWithPrefix(ids.PrefixAgency),
		Name:          name,
		Status:        AgencyPending,
		ActiveModules: append([]string{}, modules...),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	s.agencies[a.ID] = a
	return a.Clone(), nil
}

func (s *MemoryStore) GetAgency(ctx context.Context, id string) (Agency, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.agencies[id]
	if !ok {
		return Agency{}, ErrNotFound
	}
	return a.Clone(), nil
}

func (s *MemoryStore) ListAgencies(ctx context.Context) ([]Agency, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Agency, 0, len(s.agencies))
	for _, a := range s.agencies {
		out = append(out, a.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemoryStore) UpdateAgencyStatus(ctx context.Context, id string, status AgencyStatus) (Agency, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agencies[id]
	if !ok {
		return Agency{}, 0, ErrNotFound
	}
	now := s.now().UTC()
	a.Status = status
	a.UpdatedAt = now
	s.agencies[id] = a

	suspended := 0
	if status != AgencyApproved {
		for uid, u := range s.users {
			if u.AgencyID != id || u.Role != RoleAgent || u.Status != StatusActive {
				continue
			}
			u.Status = StatusSuspended
			u.UpdatedAt = now
			s.users[uid] = u
			suspended++
		}
	}
	return a.Clone(), suspended, nil
}

func (s *MemoryStore) UpdateAgencyModules(ctx context.Context, id string, modules, keep []string) (Agency, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agencies[id]
	if !ok {
		return Agency{}, 0, ErrNotFound
	}
	// Replace rather than mutate so earlier snapshots keep their slice.
	a.ActiveModules = append([]string{}, modules...)
	a.UpdatedAt = s.now().UTC()
	s.agencies[id] = a

	removed := 0
	for userID, grants := range s.grants {
		if s.users[userID].AgencyID != id {
			continue
		}
		kept := grants[:0:0]
		for _, g := range grants {
			if contains(keep, g.Module) {
				kept = append(kept, g)
				continue
			}
			removed++
		}
		if len(kept) == 0 {
			delete(s.grants, userID)
		} else {
			s.grants[userID] = kept
		}
	}
	return a.Clone(), removed, nil
}

func (s *MemoryStore) CreateUser(ctx context.Context, u User) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if existing.Email == u.Email {
			return User{}, fmt.Errorf("%w: email %q already registered", ErrConflict, u.Email)
		}
	}
	if u.AgencyID != "" {
		a, ok := s.agencies[u.AgencyID]
		if !ok {
			return User{}, ErrNotFound
		}
		u.Status = InitialStaffStatus(a.Status)
	}
	if u.ID == "" {
		u.ID = ids.NewWithPrefix(ids.PrefixUser)
	}
	now := s.now().UTC()
	u.CreatedAt, u.UpdatedAt = now, now
	s.users[u.ID] = u
	return u, nil
}

func (s *MemoryStore) GetUser(ctx context.Context, id string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (s *MemoryStore) FindUserByEmail(ctx context.Context, email string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Email == email {
			return u, nil
		}
	}
	return User{}, ErrNotFound
}

func (s *MemoryStore) ListUsers(ctx context.Context, agencyID string) ([]User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []User
	for _, u := range s.users {
		if u.AgencyID == agencyID {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) UpdateUserStatus(ctx context.Context, id string, status ActorStatus) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	if u.AgencyID != "" {
		if err := CheckActivation(status, s.agencies[u.AgencyID]); err != nil {
			return User{}, err
		}
	}
	u.Status = status
	u.UpdatedAt = s.now().UTC()
	s.users[id] = u
	return u, nil
}

func (s *MemoryStore) SetPermissions(ctx context.Context, userID string, grants []PermissionGrant, alwaysOn []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return ErrNotFound
	}
	if err := CheckGrantTarget(u, s.agencies[u.AgencyID], grants, alwaysOn); err != nil {
		return err
	}
	if len(grants) == 0 {
		delete(s.grants, userID)
		return nil
	}
	s.grants[userID] = cloneGrants(grants)
	return nil
}

func (s *MemoryStore) Permissions(ctx context.Context, userID string) ([]PermissionGrant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.users[userID]; !ok {
		return nil, ErrNotFound
	}
	return cloneGrants(s.grants[userID]), nil
}
