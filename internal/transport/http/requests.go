package httptransport

import "encoding/json"

// ResolveContextRequest claims a tenant for the authenticated principal.
type ResolveContextRequest struct {
	TenantType string `json:"tenant_type"`
	TenantID   string `json:"tenant_id"`
}

// CheckRequest asks the guard to gate one operation. BeforeState is the
// caller's snapshot of the resource prior to mutation; only its digest is
// retained.
type CheckRequest struct {
	TenantType  string          `json:"tenant_type"`
	TenantID    string          `json:"tenant_id"`
	Action      string          `json:"action"`
	Resource    string          `json:"resource"`
	ResourceID  string          `json:"resource_id,omitempty"`
	BeforeState json.RawMessage `json:"before_state,omitempty"`
}

// FinalizeRequest reports a guarded mutation's outcome back to the audit
// trail using the handle returned by check.
type FinalizeRequest struct {
	TenantType string          `json:"tenant_type"`
	TenantID   string          `json:"tenant_id"`
	EntryID    string          `json:"entry_id"`
	Seq        int64           `json:"seq"`
	Succeeded  bool            `json:"succeeded"`
	AfterState json.RawMessage `json:"after_state,omitempty"`
}

// UpsertRoleRequest creates or replaces a role definition.
type UpsertRoleRequest struct {
	ID              string   `json:"id,omitempty"`
	Name            string   `json:"name"`
	TenantType      string   `json:"tenant_type,omitempty"`
	TenantID        string   `json:"tenant_id,omitempty"`
	Permissions     []string `json:"permissions"`
	DenyPermissions []string `json:"deny_permissions,omitempty"`
}

// BindRoleRequest assigns a role to a principal within a scope.
type BindRoleRequest struct {
	PrincipalID string `json:"principal_id"`
	RoleID      string `json:"role_id"`
	TenantType  string `json:"tenant_type,omitempty"`
	TenantID    string `json:"tenant_id,omitempty"`
}
