package auth

import (
	"errors"
	"slices"
	"testing"
)

func TestDefaultCatalogShape(t *testing.T) {
	c := DefaultCatalog()
	mods := c.Modules()
	if mods[0] != ModuleDashboard || mods[len(mods)-1] != ModuleAgencies {
		t.Fatalf("unexpected catalog order: %v", mods)
	}
	if c.HasAction(ModuleDashboard, ActionDelete) {
		t.Fatalf("dashboard must be read only")
	}
	if !c.HasAction(ModuleInvoices, ActionExport) {
		t.Fatalf("factures must allow exporter")
	}
	if !slices.Equal(c.AlwaysOn(), []string{ModuleDashboard, ModuleProfile, ModuleModules}) {
		t.Fatalf("unexpected always-on modules: %v", c.AlwaysOn())
	}
	mods[0] = "tampered"
	if c.Modules()[0] != ModuleDashboard {
		t.Fatalf("Modules must return a copy")
	}
}

func TestNewCatalogRejectsBadDefinitions(t *testing.T) {
	cases := map[string][]ModuleDef{
		"empty":      nil,
		"no name":    {{Name: " ", Actions: []string{ActionRead}}},
		"duplicate":  {{Name: "a", Actions: []string{ActionRead}}, {Name: "a", Actions: []string{ActionRead}}},
		"no actions": {{Name: "a"}},
		"blank act":  {{Name: "a", Actions: []string{""}}},
	}
	for name, defs := range cases {
		if _, err := NewCatalog(defs); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
	if _, err := NewCatalog([]ModuleDef{{Name: "a", Actions: []string{ActionRead}}}, "b"); err == nil {
		t.Fatalf("expected error for unknown always-on module")
	}
}

func TestNormalizeModules(t *testing.T) {
	c := DefaultCatalog()
	got, err := c.NormalizeModules([]string{" factures", ModuleClients, ModuleClients, ""})
	if err != nil {
		t.Fatalf("NormalizeModules: %v", err)
	}
	if !slices.Equal(got, []string{ModuleClients, ModuleInvoices}) {
		t.Fatalf("unexpected modules: %v", got)
	}
	if _, err := c.NormalizeModules([]string{"billing"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestNormalizeGrants(t *testing.T) {
	c := DefaultCatalog()
	got, err := c.NormalizeGrants([]PermissionGrant{
		{Module: ModuleClients, Actions: []string{ActionExport, ActionRead, ActionRead}},
	})
	if err != nil {
		t.Fatalf("NormalizeGrants: %v", err)
	}
	if !slices.Equal(got[0].Actions, []string{ActionRead, ActionExport}) {
		t.Fatalf("unexpected actions: %v", got[0].Actions)
	}

	bad := map[string][]PermissionGrant{
		"duplicate module": {{Module: ModuleClients, Actions: []string{ActionRead}}, {Module: ModuleClients, Actions: []string{ActionCreate}}},
		"unknown module":   {{Module: "billing", Actions: []string{ActionRead}}},
		"unknown action":   {{Module: ModuleReports, Actions: []string{ActionDelete}}},
		"no actions":       {{Module: ModuleClients}},
	}
	for name, grants := range bad {
		if _, err := c.NormalizeGrants(grants); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("%s: expected ErrInvalidInput, got %v", name, err)
		}
	}
}

func TestValidateActor(t *testing.T) {
	ok := []Actor{
		{ID: "u1", Role: RoleSuperadmin, Status: StatusActive},
		{ID: "u2", Role: RoleAgent, AgencyID: "a1", Status: StatusSuspended, Permissions: []PermissionGrant{{Module: ModuleClients, Actions: []string{ActionRead}}}},
	}
	for _, a := range ok {
		if err := ValidateActor(a); err != nil {
			t.Fatalf("ValidateActor(%+v): %v", a, err)
		}
	}
	bad := []Actor{
		{Role: RoleSuperadmin, Status: StatusActive},
		{ID: "u", Role: "guest", Status: StatusActive},
		{ID: "u", Role: RoleAgence, Status: StatusActive},
		{ID: "u", Role: RoleAgent, AgencyID: "a1", Status: "archived"},
		{ID: "u", Role: RoleAgent, AgencyID: "a1", Status: StatusActive, Permissions: []PermissionGrant{{Module: ModuleClients}}},
	}
	for _, a := range bad {
		if err := ValidateActor(a); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("ValidateActor(%+v): expected ErrInvalidInput, got %v", a, err)
		}
	}
}

func TestResultString(t *testing.T) {
	if s := denied(ReasonNoGrant).String(); s != "deny: no grant for module" {
		t.Fatalf("unexpected %q", s)
	}
	if !allowed().Allowed() || allowed().Retryable() {
		t.Fatalf("allow result is broken")
	}
	if !denied(ReasonUpstreamUnavailable).Retryable() {
		t.Fatalf("upstream deny must be retryable")
	}
}

func TestPasswordHashing(t *testing.T) {
	if _, err := HashPassword("short"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	hash, err := HashPassword("correct horse")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if err := VerifyPassword(hash, "correct horse"); err != nil {
		t.Fatalf("VerifyPassword: %v", err)
	}
	if err := VerifyPassword(hash, "wrong horse"); err == nil {
		t.Fatalf("expected mismatch")
	}
}
