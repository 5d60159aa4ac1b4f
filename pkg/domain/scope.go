package domain

import (
	"fmt"
	"strings"

	dErrors "aegis/pkg/domain-errors"
)

// TenantType distinguishes the two isolation boundaries resources live in.
type TenantType string

const (
	TenantUser         TenantType = "user"
	TenantOrganization TenantType = "organization"
)

// TenantScope is the isolation boundary a resource, role, or audit entry
// belongs to. A resource's scope never changes after creation.
type TenantScope struct {
	Type TenantType
	ID   string
}

// GlobalScope marks system roles that apply in every tenant.
// It is never a valid scope for a resource or an audit entry.
var GlobalScope = TenantScope{}

// IsGlobal reports whether the scope is the system-wide scope.
func (s TenantScope) IsGlobal() bool { return s.Type == "" && s.ID == "" }

// Key returns a stable string form usable as a map or cache key.
func (s TenantScope) Key() string {
	if s.IsGlobal() {
		return "global"
	}
	return string(s.Type) + "/" + s.ID
}

func (s TenantScope) String() string { return s.Key() }

// Validate rejects malformed scopes at trust boundaries. Global is not
// accepted here: callers claiming a tenant must name a concrete one.
func (s TenantScope) Validate() error {
	switch s.Type {
	case TenantUser, TenantOrganization:
	default:
		return dErrors.New(dErrors.CodeInvalidInput,
			fmt.Sprintf("unknown tenant type %q", s.Type))
	}
	if strings.TrimSpace(s.ID) == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "tenant id is required")
	}
	return nil
}

// ParseTenantScope builds and validates a scope from its wire form.
func ParseTenantScope(tenantType, tenantID string) (TenantScope, error) {
	scope := TenantScope{Type: TenantType(tenantType), ID: strings.TrimSpace(tenantID)}
	if err := scope.Validate(); err != nil {
		return TenantScope{}, err
	}
	return scope, nil
}
