// Package rbac holds role and role-binding state. The authorization
// subsystem only reads this state; writes come from the external
// administrative collaborator through the same stores.
package rbac

import (
	"context"

	"aegis/internal/rbac/models"
	id "aegis/pkg/domain"
)

// Store is interface-driven so domain logic stays testable and persistence
// can move between in-memory and Postgres without rewiring business code.
type Store interface {
	// ListBindings returns the principal's bindings in the exact scope plus
	// any bindings to global (system) roles.
	ListBindings(ctx context.Context, principal id.PrincipalID, scope id.TenantScope) ([]models.RoleBinding, error)

	// GetRoles loads roles by ID. Unknown IDs are skipped, not errors: a
	// binding to a deleted role simply grants nothing.
	GetRoles(ctx context.Context, roleIDs []id.RoleID) ([]*models.Role, error)

	// UpsertRole creates or replaces a role. The store bumps Version when
	// either permission set changes, never the caller.
	UpsertRole(ctx context.Context, role *models.Role) (*models.Role, error)

	// BindRole assigns a role to a principal in a scope. Idempotent.
	BindRole(ctx context.Context, binding models.RoleBinding) error

	// UnbindRole removes an assignment. Missing bindings are not errors.
	UnbindRole(ctx context.Context, principal id.PrincipalID, roleID id.RoleID, scope id.TenantScope) error
}
