package auth

import "fmt"

// InitialStaffStatus is the status new staff of an agency in state s get.
func InitialStaffStatus(s AgencyStatus) ActorStatus {
	if s == AgencyApproved {
		return StatusActive
	}
	return StatusPending
}

// CheckActivation rejects activating staff of an agency that is not approved.
func CheckActivation(status ActorStatus, agency Agency) error {
	if status == StatusActive && agency.Status != AgencyApproved {
		return fmt.Errorf("%w: agency %s is %s", ErrConflict, agency.ID, agency.Status)
	}
	return nil
}

// EntitledModules is the agency's active list plus alwaysOn, without repeats.
func EntitledModules(active, alwaysOn []string) []string {
	out := append([]string(nil), active...)
	for _, m := range alwaysOn {
		if !contains(out, m) {
			out = append(out, m)
		}
	}
	return out
}

// CheckEntitled rejects grants for modules the agency is not entitled to.
func CheckEntitled(agency Agency, grants []PermissionGrant, alwaysOn []string) error {
	entitled := EntitledModules(agency.ActiveModules, alwaysOn)
	for _, g := range grants {
		if !contains(entitled, g.Module) {
			return fmt.Errorf("%w: module %q is not active for agency %s", ErrInvalidInput, g.Module, agency.ID)
		}
	}
	return nil
}

func checkAgent(u User) error {
	if u.Role != RoleAgent {
		return fmt.Errorf("%w: grants apply to agents only, user %s is %s", ErrInvalidInput, u.ID, u.Role)
	}
	return nil
}

// CheckGrantTarget validates an agent grant write against the locked agency.
func CheckGrantTarget(u User, agency Agency, grants []PermissionGrant, alwaysOn []string) error {
	if err := checkAgent(u); err != nil {
		return err
	}
	return CheckEntitled(agency, grants, alwaysOn)
}
