package authz

import (
	"aegis/internal/catalog"
	"aegis/internal/rbac/models"
	id "aegis/pkg/domain"
)

// EvaluateRoles applies the permission composition rules to a resolved role
// set. This is pure domain logic: no I/O, no side effects, deterministic for
// identical inputs.
//
// Rule order:
//  1. Uncataloged (resource, action) pairs deny: nothing is permitted unless
//     explicitly cataloged.
//  2. An explicit deny-override in any bound role wins over every grant, so
//     privilege cannot leak through role composition.
//  3. Otherwise allow iff the permission appears in the union of the bound
//     roles' grant sets.
func EvaluateRoles(cat *catalog.Catalog, roles []*models.Role, action id.Action, resource id.ResourceType) (id.Outcome, id.Reason) {
	permID, ok := cat.Lookup(resource, action)
	if !ok {
		return id.OutcomeDeny, id.ReasonUnknownPermission
	}

	granted := false
	for _, role := range roles {
		if role.DenyPermissions.Has(permID) {
			return id.OutcomeDeny, id.ReasonDenyOverride
		}
		if role.Permissions.Has(permID) {
			granted = true
		}
	}
	if granted {
		return id.OutcomeAllow, id.ReasonGranted
	}
	return id.OutcomeDeny, id.ReasonPermissionNotGranted
}
