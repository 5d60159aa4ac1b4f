package httptransport

import (
	"time"

	"aegis/internal/audit"
	id "aegis/pkg/domain"
)

// ContextResponse is the wire form of a resolved tenant context.
type ContextResponse struct {
	PrincipalID string   `json:"principal_id"`
	TenantType  string   `json:"tenant_type"`
	TenantID    string   `json:"tenant_id"`
	RoleIDs     []string `json:"role_ids"`
	RoleVersion int64    `json:"role_version"`
}

// CheckResponse carries the decision and, for allowed mutations, the audit
// handle the caller must finalize.
type CheckResponse struct {
	Outcome     string    `json:"outcome"`
	Reason      string    `json:"reason"`
	EvaluatedAt time.Time `json:"evaluated_at"`
	EntryID     string    `json:"entry_id,omitempty"`
	Seq         int64     `json:"seq,omitempty"`
}

// EntryResponse is the wire form of one audit entry.
type EntryResponse struct {
	ID           string     `json:"id"`
	Seq          int64      `json:"seq"`
	Actor        string     `json:"actor"`
	Action       string     `json:"action"`
	Resource     string     `json:"resource"`
	ResourceID   string     `json:"resource_id,omitempty"`
	Outcome      string     `json:"outcome"`
	Reason       string     `json:"reason"`
	BeforeDigest string     `json:"before_digest,omitempty"`
	AfterDigest  string     `json:"after_digest,omitempty"`
	Completion   string     `json:"completion"`
	RecordedAt   time.Time  `json:"recorded_at"`
	FinalizedAt  *time.Time `json:"finalized_at,omitempty"`
	ChainHash    string     `json:"chain_hash"`
	CausalToken  string     `json:"causal_token,omitempty"`
	RequestID    string     `json:"request_id,omitempty"`
}

// EntriesResponse is one page of the audit log.
type EntriesResponse struct {
	Entries       []EntryResponse `json:"entries"`
	NextToken     string          `json:"next_token,omitempty"`
	StaleFindings []string        `json:"stale_findings,omitempty"`
}

// RoleResponse is the wire form of a role definition.
type RoleResponse struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	TenantType      string   `json:"tenant_type,omitempty"`
	TenantID        string   `json:"tenant_id,omitempty"`
	Permissions     []string `json:"permissions"`
	DenyPermissions []string `json:"deny_permissions,omitempty"`
	Version         int64    `json:"version"`
}

// VerifyChainResponse reports the outcome of a tenant chain verification.
type VerifyChainResponse struct {
	Intact   bool  `json:"intact"`
	BrokenAt int64 `json:"broken_at,omitempty"`
}

func toEntryResponse(entry *audit.Entry) EntryResponse {
	resp := EntryResponse{
		ID:           entry.ID.String(),
		Seq:          entry.Seq,
		Actor:        entry.Actor.String(),
		Action:       string(entry.Action),
		Resource:     string(entry.Resource),
		ResourceID:   entry.ResourceID,
		Outcome:      string(entry.Outcome),
		Reason:       string(entry.Reason),
		BeforeDigest: entry.BeforeDigest,
		AfterDigest:  entry.AfterDigest,
		Completion:   string(entry.Completion),
		RecordedAt:   entry.RecordedAt,
		FinalizedAt:  entry.FinalizedAt,
		ChainHash:    entry.ChainHash,
		RequestID:    entry.RequestID,
	}
	if !entry.CausalToken.IsNil() {
		resp.CausalToken = entry.CausalToken.String()
	}
	return resp
}

func toContextResponse(tc *id.TenantContext) ContextResponse {
	roleIDs := make([]string, len(tc.RoleIDs))
	for i, roleID := range tc.RoleIDs {
		roleIDs[i] = roleID.String()
	}
	return ContextResponse{
		PrincipalID: tc.Principal.String(),
		TenantType:  string(tc.Scope.Type),
		TenantID:    tc.Scope.ID,
		RoleIDs:     roleIDs,
		RoleVersion: tc.RoleVersion,
	}
}
