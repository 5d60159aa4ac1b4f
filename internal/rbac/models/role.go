package models

import (
	"time"

	"aegis/internal/catalog"
	id "aegis/pkg/domain"
	dErrors "aegis/pkg/domain-errors"
)

// PermissionSet is a flat set of permission identifiers. Roles compose by
// set union plus an explicit deny-override set; there is no role inheritance.
type PermissionSet map[catalog.PermissionID]struct{}

// NewPermissionSet builds a set from its members.
func NewPermissionSet(perms ...catalog.PermissionID) PermissionSet {
	set := make(PermissionSet, len(perms))
	for _, p := range perms {
		set[p] = struct{}{}
	}
	return set
}

// Has reports membership.
func (s PermissionSet) Has(permID catalog.PermissionID) bool {
	_, ok := s[permID]
	return ok
}

// Equal reports whether two sets have identical members.
func (s PermissionSet) Equal(other PermissionSet) bool {
	if len(s) != len(other) {
		return false
	}
	for p := range s {
		if !other.Has(p) {
			return false
		}
	}
	return true
}

// Clone returns an independent copy.
func (s PermissionSet) Clone() PermissionSet {
	clone := make(PermissionSet, len(s))
	for p := range s {
		clone[p] = struct{}{}
	}
	return clone
}

// Members returns the set as a slice, for serialization.
func (s PermissionSet) Members() []catalog.PermissionID {
	members := make([]catalog.PermissionID, 0, len(s))
	for p := range s {
		members = append(members, p)
	}
	return members
}

// Role is a named, versioned set of permissions bindable to principals
// within a tenant scope. Scope is GlobalScope for system roles. Version
// increments on every mutation of either permission set and is the cache
// invalidation token for resolved decisions.
type Role struct {
	ID          id.RoleID
	Name        string
	Scope       id.TenantScope
	Permissions PermissionSet
	// DenyPermissions forces denial of its members regardless of grants in
	// any other bound role. Explicit deny always wins.
	DenyPermissions PermissionSet
	Version         int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Validate rejects malformed roles at the admin write boundary.
func (r *Role) Validate() error {
	if r.ID.IsNil() {
		return dErrors.New(dErrors.CodeInvalidInput, "role id is required")
	}
	if r.Name == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "role name is required")
	}
	if !r.Scope.IsGlobal() {
		if err := r.Scope.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// RoleBinding assigns a role to a principal within a tenant scope. A
// principal may hold different roles in different tenants.
type RoleBinding struct {
	Principal id.PrincipalID
	RoleID    id.RoleID
	Scope     id.TenantScope
	BoundAt   time.Time
}

// Validate rejects malformed bindings at the admin write boundary.
func (b RoleBinding) Validate() error {
	if b.Principal.IsNil() {
		return dErrors.New(dErrors.CodeInvalidInput, "binding principal is required")
	}
	if b.RoleID.IsNil() {
		return dErrors.New(dErrors.CodeInvalidInput, "binding role id is required")
	}
	if !b.Scope.IsGlobal() {
		if err := b.Scope.Validate(); err != nil {
			return err
		}
	}
	return nil
}
