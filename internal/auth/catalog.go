package auth

import (
	"errors"
	"fmt"
	"strings"
)

// Actions recognised by catalog modules.
const (
	ActionRead   = "lire"
	ActionCreate = "creer"
	ActionUpdate = "modifier"
	ActionDelete = "supprimer"
	ActionExport = "exporter"
)

// Modules of the back-office.
const (
	ModuleDashboard = "dashboard"
	ModuleProfile   = "profil"
	ModuleModules   = "modules"
	ModuleClients   = "clients"
	ModuleSuppliers = "fournisseurs"
	ModuleInvoices  = "factures"
	ModuleBookings  = "reservations"
	ModulePackages  = "packages"
	ModuleCash      = "caisse"
	ModuleDocuments = "documents"
	ModuleReports   = "rapports"
	ModuleAgents    = "agents"
	ModuleAgencies  = "agences"
)

// ModuleDef declares one module and the actions it recognises.
type ModuleDef struct {
	Name    string
	Actions []string
}

// Catalog is the fixed, ordered set of modules and their actions. It is
// immutable once built and safe for concurrent use.
type Catalog struct {
	order    []string
	actions  map[string][]string
	index    map[string]map[string]struct{}
	alwaysOn []string
}

var crud = []string{ActionRead, ActionCreate, ActionUpdate, ActionDelete, ActionExport}

var defaultModules = []ModuleDef{
	{Name: ModuleDashboard, Actions: []string{ActionRead}},
	{Name: ModuleProfile, Actions: []string{ActionRead, ActionUpdate}},
	{Name: ModuleModules, Actions: []string{ActionRead, ActionUpdate}},
	{Name: ModuleClients, Actions: crud},
	{Name: ModuleSuppliers, Actions: crud},
	{Name: ModuleInvoices, Actions: crud},
	{Name: ModuleBookings, Actions: crud},
	{Name: ModulePackages, Actions: crud},
	{Name: ModuleCash, Actions: []string{ActionRead, ActionCreate, ActionUpdate, ActionExport}},
	{Name: ModuleDocuments, Actions: []string{ActionRead, ActionCreate, ActionDelete, ActionExport}},
	{Name: ModuleReports, Actions: []string{ActionRead, ActionExport}},
	{Name: ModuleAgents, Actions: []string{ActionRead, ActionCreate, ActionUpdate, ActionDelete}},
	{Name: ModuleAgencies, Actions: []string{ActionRead, ActionCreate, ActionUpdate, ActionDelete}},
}

// DefaultCatalog returns the back-office catalog. Dashboard, profile and
// module management are always on for agency admins.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(defaultModules, ModuleDashboard, ModuleProfile, ModuleModules)
	if err != nil {
		panic(err)
	}
	return c
}

// NewCatalog builds a catalog from module definitions. alwaysOn names modules
// every agency is entitled to regardless of its active module list.
func NewCatalog(defs []ModuleDef, alwaysOn ...string) (*Catalog, error) {
	if len(defs) == 0 {
		return nil, errors.New("catalog requires at least one module")
	}
	c := &Catalog{
		actions: make(map[string][]string, len(defs)),
		index:   make(map[string]map[string]struct{}, len(defs)),
	}
	for _, def := range defs {
		name := strings.TrimSpace(def.Name)
		if name == "" {
			return nil, errors.New("catalog module name is required")
		}
		if _, dup := c.index[name]; dup {
			return nil, fmt.Errorf("catalog module %q declared twice", name)
		}
		if len(def.Actions) == 0 {
			return nil, fmt.Errorf("catalog module %q has no actions", name)
		}
		set := make(map[string]struct{}, len(def.Actions))
		acts := make([]string, 0, len(def.Actions))
		for _, a := range def.Actions {
			a = strings.TrimSpace(a)
			if a == "" {
				return nil, fmt.Errorf("catalog module %q has an empty action", name)
			}
			if _, dup := set[a]; dup {
				continue
			}
			set[a] = struct{}{}
			acts = append(acts, a)
		}
		c.order = append(c.order, name)
		c.actions[name] = acts
		c.index[name] = set
	}
	for _, m := range alwaysOn {
		if !c.HasModule(m) {
			return nil, fmt.Errorf("always-on module %q is not in the catalog", m)
		}
		c.alwaysOn = append(c.alwaysOn, m)
	}
	return c, nil
}

// Modules returns every module in catalog order.
func (c *Catalog) Modules() []string {
	return append([]string(nil), c.order...)
}

// Actions returns the actions recognised by module.
func (c *Catalog) Actions(module string) ([]string, bool) {
	acts, ok := c.actions[module]
	if !ok {
		return nil, false
	}
	return append([]string(nil), acts...), true
}

func (c *Catalog) HasModule(module string) bool {
	_, ok := c.index[module]
	return ok
}

func (c *Catalog) HasAction(module, action string) bool {
	set, ok := c.index[module]
	if !ok {
		return false
	}
	_, ok = set[action]
	return ok
}

// AlwaysOn returns the modules implicitly entitled to every agency.
func (c *Catalog) AlwaysOn() []string {
	return append([]string(nil), c.alwaysOn...)
}

func (c *Catalog) isAlwaysOn(module string) bool {
	for _, m := range c.alwaysOn {
		if m == module {
			return true
		}
	}
	return false
}

// NormalizeModules trims, dedupes and checks a module list against the
// catalog. The result follows catalog order.
func (c *Catalog) NormalizeModules(modules []string) ([]string, error) {
	want := make(map[string]struct{}, len(modules))
	for _, m := range modules {
		m = strings.TrimSpace(m)
		if m == "" {
			continue
		}
		if !c.HasModule(m) {
			return nil, fmt.Errorf("%w: unknown module %q", ErrInvalidInput, m)
		}
		want[m] = struct{}{}
	}
	out := make([]string, 0, len(want))
	for _, m := range c.order {
		if _, ok := want[m]; ok {
			out = append(out, m)
		}
	}
	return out, nil
}

// NormalizeGrants validates an agent's grant list for storage. Duplicate
// modules, unknown modules or actions, and empty action lists are rejected.
// Actions inside a grant are deduped and put in catalog order.
func (c *Catalog) NormalizeGrants(grants []PermissionGrant) ([]PermissionGrant, error) {
	seen := make(map[string]struct{}, len(grants))
	out := make([]PermissionGrant, 0, len(grants))
	for _, g := range grants {
		module := strings.TrimSpace(g.Module)
		if !c.HasModule(module) {
			return nil, fmt.Errorf("%w: unknown module %q", ErrInvalidInput, module)
		}
		if _, dup := seen[module]; dup {
			return nil, fmt.Errorf("%w: duplicate grant for module %q", ErrInvalidInput, module)
		}
		seen[module] = struct{}{}

		want := make(map[string]struct{}, len(g.Actions))
		for _, a := range g.Actions {
			a = strings.TrimSpace(a)
			if !c.HasAction(module, a) {
				return nil, fmt.Errorf("%w: action %q is not valid for module %q", ErrInvalidInput, a, module)
			}
			want[a] = struct{}{}
		}
		if len(want) == 0 {
			return nil, fmt.Errorf("%w: grant for module %q has no actions", ErrInvalidInput, module)
		}
		acts := make([]string, 0, len(want))
		for _, a := range c.actions[module] {
			if _, ok := want[a]; ok {
				acts = append(acts, a)
			}
		}
		out = append(out, PermissionGrant{Module: module, Actions: acts})
	}
	return out, nil
}
