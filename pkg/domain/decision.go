package domain

import "time"

// Outcome is the result of an authorization check.
type Outcome string

const (
	OutcomeAllow Outcome = "allow"
	OutcomeDeny  Outcome = "deny"
)

// Reason explains a decision. Denial reasons are normal outcomes, not errors;
// infrastructure reasons mark fail-closed conversions at the guard boundary.
type Reason string

const (
	ReasonGranted Reason = "granted"

	// Normal denials.
	ReasonUnknownPermission    Reason = "unknown_permission"
	ReasonPermissionNotGranted Reason = "permission_not_granted"
	ReasonDenyOverride         Reason = "deny_override"
	ReasonTenantAccessDenied   Reason = "tenant_access_denied"

	// Fail-closed infrastructure denials.
	ReasonResolverUnavailable Reason = "resolver_unavailable"
	ReasonAuditUnavailable    Reason = "audit_unavailable"
	ReasonSequenceUnavailable Reason = "sequence_unavailable"

	// ReasonAborted marks a check whose caller went away after the entry
	// became durable. The infrastructure was healthy.
	ReasonAborted Reason = "aborted"
)

// Decision is the ephemeral outcome of one guarded check. It lives only for
// the duration of the call and is embedded into the audit entry.
type Decision struct {
	Outcome     Outcome
	Reason      Reason
	EvaluatedAt time.Time
}

// Allowed reports whether the caller may proceed with the guarded mutation.
func (d Decision) Allowed() bool { return d.Outcome == OutcomeAllow }

// Allow builds an allowing decision.
func Allow(at time.Time) Decision {
	return Decision{Outcome: OutcomeAllow, Reason: ReasonGranted, EvaluatedAt: at}
}

// Deny builds a denying decision with the given reason.
func Deny(reason Reason, at time.Time) Decision {
	return Decision{Outcome: OutcomeDeny, Reason: reason, EvaluatedAt: at}
}

// Action names what a principal attempts against a resource type, e.g.
// "read", "create", "update", "delete", "export".
type Action string

// ResourceType names a protected resource class, e.g. "account",
// "transaction", "budget", "audit".
type ResourceType string

// TenantContext is the request-scoped product of tenant resolution: the
// principal, the tenant it claimed, the roles it holds there, and the
// highest role version seen (the cache-validity token). Never persisted.
type TenantContext struct {
	Principal   PrincipalID
	Scope       TenantScope
	RoleIDs     []RoleID
	RoleVersion int64
}
