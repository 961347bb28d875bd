package auth

// Decision is the outcome of an authorization check.
type Decision int

const (
	// Deny is the zero value so an unset result never grants access.
	Deny Decision = iota
	Allow
)

// String returns "allow" or "deny".
func (d Decision) String() string {
	if d == Allow {
		return "allow"
	}
	return "deny"
}

// Reason explains a Deny.
type Reason int

const (
	ReasonNone Reason = iota
	ReasonActorNotActive
	ReasonAgencyNotApproved
	ReasonModuleNotActive
	ReasonNoGrant
	ReasonActionNotGranted
	ReasonUnrecognizedRole

	// ReasonUpstreamUnavailable is a fail-closed deny caused by the agency
	// directory, not by policy. Callers may retry.
	ReasonUpstreamUnavailable
)

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return ""
	case ReasonActorNotActive:
		return "actor not active"
	case ReasonAgencyNotApproved:
		return "agency not approved"
	case ReasonModuleNotActive:
		return "module not active for agency"
	case ReasonNoGrant:
		return "no grant for module"
	case ReasonActionNotGranted:
		return "action not granted"
	case ReasonUnrecognizedRole:
		return "unrecognized role"
	case ReasonUpstreamUnavailable:
		return "agency directory unavailable"
	default:
		return "unknown"
	}
}

// Result is the tagged outcome returned by Model.Authorize.
type Result struct {
	Decision Decision
	Reason   Reason
}

func (r Result) Allowed() bool { return r.Decision == Allow }

// Retryable reports whether the deny came from a transient upstream failure.
func (r Result) Retryable() bool {
	return r.Decision == Deny && r.Reason == ReasonUpstreamUnavailable
}

func (r Result) String() string {
	if r.Decision == Allow {
		return "allow"
	}
	return "deny: " + r.Reason.String()
}

func allowed() Result { return Result{Decision: Allow} }

func denied(reason Reason) Result { return Result{Decision: Deny, Reason: reason} }
