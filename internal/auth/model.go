package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"voyagedesk.app/internal/obs"
)

// AgencyDirectory resolves tenants by id. Implementations return ErrNotFound
// for unknown ids and must hand out copies, so a caller never observes a list
// that is being mutated.
type AgencyDirectory interface {
	GetAgency(ctx context.Context, id string) (Agency, error)
}

// DecisionRecord is the audit view of one Authorize call.
type DecisionRecord struct {
	OccurredAt time.Time `json:"ts"`
	RequestID  string    `json:"request_id,omitempty"`
	ActorID    string    `json:"actor_id"`
	Role       Role      `json:"role"`
	AgencyID   string    `json:"agency_id,omitempty"`
	Module     string    `json:"module"`
	Action     string    `json:"action"`
	Decision   string    `json:"decision"`
	Reason     string    `json:"reason,omitempty"`
}

// AuditSink receives decision records. Record must not block for long;
// errors are logged and otherwise ignored.
type AuditSink interface {
	Record(ctx context.Context, rec DecisionRecord) error
}

// Model is the single authorization entry point shared by the request gate
// and the presentation layer. It holds no mutable state.
type Model struct {
	catalog  *Catalog
	agencies AgencyDirectory
	audit    AuditSink
	now      func() time.Time
}

// ModelOption configures a Model.
type ModelOption func(*Model)

// WithAuditSink sends every Authorize decision to sink.
func WithAuditSink(sink AuditSink) ModelOption {
	return func(m *Model) {
		m.audit = sink
	}
}

// WithModelClock overrides the audit timestamp source.
func WithModelClock(fn func() time.Time) ModelOption {
	return func(m *Model) {
		if fn != nil {
			m.now = fn
		}
	}
}

// NewModel builds the authorization model over catalog and agencies.
func NewModel(catalog *Catalog, agencies AgencyDirectory, opts ...ModelOption) (*Model, error) {
	if catalog == nil {
		return nil, errors.New("auth: catalog is required")
	}
	if agencies == nil {
		return nil, errors.New("auth: agency directory is required")
	}
	m := &Model{catalog: catalog, agencies: agencies, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Catalog exposes the module catalog the model checks against.
func (m *Model) Catalog() *Catalog { return m.catalog }

// Authorize decides whether actor may perform action on module. A deny is a
// normal Result; the error is reserved for malformed requests
// (ErrInvalidRequest).
func (m *Model) Authorize(ctx context.Context, actor *Actor, module, action string) (Result, error) {
	if err := m.checkActor(actor); err != nil {
		return Result{}, m.invalid("actor", err)
	}
	if !m.catalog.HasModule(module) {
		return Result{}, m.invalid("module", fmt.Errorf("unknown module %q", module))
	}
	if !m.catalog.HasAction(module, action) {
		return Result{}, m.invalid("action", fmt.Errorf("action %q is not valid for module %q", action, module))
	}

	snap := &agencySnapshot{}
	res := m.evaluate(ctx, actor, module, action, snap)

	obs.ObserveDecision(module, res.Decision.String(), reasonLabel(res.Reason))
	m.record(ctx, actor, module, action, res)
	return res, nil
}

// AccessibleModules lists, in catalog order, the modules where actor has at
// least one allowed action.
func (m *Model) AccessibleModules(ctx context.Context, actor *Actor) ([]string, error) {
	perms, err := m.AccessMap(ctx, actor)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(perms))
	for _, module := range m.catalog.order {
		if _, ok := perms[module]; ok {
			out = append(out, module)
		}
	}
	return out, nil
}

// ModulePermissions returns the actions actor may perform on module, in
// catalog order. Empty when the module is not accessible.
func (m *Model) ModulePermissions(ctx context.Context, actor *Actor, module string) ([]string, error) {
	if err := m.checkActor(actor); err != nil {
		return nil, m.invalid("actor", err)
	}
	if !m.catalog.HasModule(module) {
		return nil, m.invalid("module", fmt.Errorf("unknown module %q", module))
	}
	return m.modulePermissions(ctx, actor, module, &agencySnapshot{})
}

// AccessMap returns every accessible module with its allowed actions. All
// modules are evaluated against a single agency snapshot.
func (m *Model) AccessMap(ctx context.Context, actor *Actor) (map[string][]string, error) {
	if err := m.checkActor(actor); err != nil {
		return nil, m.invalid("actor", err)
	}
	snap := &agencySnapshot{}
	out := make(map[string][]string)
	for _, module := range m.candidates(actor) {
		acts, err := m.modulePermissions(ctx, actor, module, snap)
		if err != nil {
			return nil, err
		}
		if len(acts) > 0 {
			out[module] = acts
		}
	}
	return out, nil
}

// Administers reports whether actor may manage the staff, grants and
// entitlements of agencyID: an active superadmin, or the active admin of that
// agency.
func (m *Model) Administers(actor *Actor, agencyID string) bool {
	if actor == nil || actor.Status != StatusActive || strings.TrimSpace(agencyID) == "" {
		return false
	}
	switch actor.Role {
	case RoleSuperadmin:
		return true
	case RoleAgence:
		return actor.AgencyID == agencyID
	default:
		return false
	}
}

func (m *Model) modulePermissions(ctx context.Context, actor *Actor, module string, snap *agencySnapshot) ([]string, error) {
	var out []string
	for _, action := range m.catalog.actions[module] {
		res := m.evaluate(ctx, actor, module, action, snap)
		if res.Retryable() {
			return nil, ErrUpstreamUnavailable
		}
		if res.Allowed() {
			out = append(out, action)
		}
	}
	if out == nil {
		out = []string{}
	}
	return out, nil
}

// candidates is the superset of modules worth evaluating for actor.
func (m *Model) candidates(actor *Actor) []string {
	switch actor.Role {
	case RoleSuperadmin, RoleAgence:
		return m.catalog.order
	case RoleAgent:
		out := make([]string, 0, len(actor.Permissions))
		for _, g := range actor.Permissions {
			if m.catalog.HasModule(g.Module) {
				out = append(out, g.Module)
			}
		}
		return out
	default:
		return nil
	}
}

// evaluate applies the rules in order; the first match wins.
func (m *Model) evaluate(ctx context.Context, actor *Actor, module, action string, snap *agencySnapshot) Result {
	if actor.Status != StatusActive {
		return denied(ReasonActorNotActive)
	}
	switch actor.Role {
	case RoleSuperadmin:
		return allowed()
	case RoleAgence:
		agency, err := snap.get(ctx, m.agencies, actor.AgencyID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return denied(ReasonAgencyNotApproved)
			}
			return denied(ReasonUpstreamUnavailable)
		}
		if agency.Status != AgencyApproved {
			return denied(ReasonAgencyNotApproved)
		}
		if agency.HasModule(module) || m.catalog.isAlwaysOn(module) {
			return allowed()
		}
		return denied(ReasonModuleNotActive)
	case RoleAgent:
		grant, ok := actor.Grant(module)
		if !ok {
			return denied(ReasonNoGrant)
		}
		if !grant.Allows(action) {
			return denied(ReasonActionNotGranted)
		}
		return allowed()
	default:
		return denied(ReasonUnrecognizedRole)
	}
}

// checkActor rejects nil or incomplete actors. An unknown but non-empty role
// is left to evaluate, which denies it.
func (m *Model) checkActor(actor *Actor) error {
	if actor == nil {
		return errors.New("actor is nil")
	}
	if strings.TrimSpace(actor.ID) == "" {
		return errors.New("actor id is empty")
	}
	if actor.Role == "" {
		return errors.New("actor role is empty")
	}
	if actor.Status == "" {
		return errors.New("actor status is empty")
	}
	if (actor.Role == RoleAgence || actor.Role == RoleAgent) && strings.TrimSpace(actor.AgencyID) == "" {
		return fmt.Errorf("%s actor has no agency", actor.Role)
	}
	return nil
}

func (m *Model) invalid(kind string, err error) error {
	obs.ObserveInvalidRequest(kind)
	obs.Logger().Error().Str("kind", kind).Err(err).Msg("authz_invalid_request")
	return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
}

func (m *Model) record(ctx context.Context, actor *Actor, module, action string, res Result) {
	if m.audit == nil {
		return
	}
	rec := DecisionRecord{
		OccurredAt: m.now().UTC(),
		RequestID:  obs.RequestIDFromContext(ctx),
		ActorID:    actor.ID,
		Role:       actor.Role,
		AgencyID:   actor.AgencyID,
		Module:     module,
		Action:     action,
		Decision:   res.Decision.String(),
		Reason:     res.Reason.String(),
	}
	if err := m.audit.Record(ctx, rec); err != nil {
		obs.Logger().Warn().Err(err).Str("actor_id", actor.ID).Str("module", module).Msg("authz_audit_failed")
	}
}

func reasonLabel(r Reason) string {
	if r == ReasonNone {
		return "none"
	}
	return strings.ReplaceAll(r.String(), " ", "_")
}

// agencySnapshot memoizes one directory read so every rule evaluated in a
// single call sees the same agency.
type agencySnapshot struct {
	loaded bool
	agency Agency
	err    error
}

func (s *agencySnapshot) get(ctx context.Context, dir AgencyDirectory, id string) (Agency, error) {
	if !s.loaded {
		s.agency, s.err = dir.GetAgency(ctx, id)
		s.loaded = true
	}
	return s.agency, s.err
}
