// Package tenantctx resolves an authenticated principal's claim to act
// within a tenant. Resolution is a pure read and is deliberately uncached:
// it is cheap, and it is the correctness-critical gate that keeps one tenant
// from leaking into another.
package tenantctx

import (
	"context"
	"errors"
	"log/slog"

	"aegis/internal/rbac"
	id "aegis/pkg/domain"
	dErrors "aegis/pkg/domain-errors"
)

// ErrTenantAccessDenied marks a principal with no role binding in the
// claimed tenant. Callers surface it as an authorization failure; it is
// never widened to another tenant.
var ErrTenantAccessDenied = errors.New("tenant access denied")

// Resolver validates tenant membership and builds request-scoped contexts.
type Resolver struct {
	roles  rbac.Store
	logger *slog.Logger
}

// Option configures the Resolver.
type Option func(*Resolver)

// WithLogger sets a logger for denial visibility.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) { r.logger = logger }
}

// New constructs a Resolver.
func New(roles rbac.Store, opts ...Option) *Resolver {
	r := &Resolver{roles: roles}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve validates that the principal holds at least one role binding in
// the exact claimed scope (or a global system role) and returns the
// TenantContext carrying the resolved role set and the maximum role version
// seen, which permission caching uses as its validity token.
func (r *Resolver) Resolve(ctx context.Context, principal id.PrincipalID, scope id.TenantScope) (*id.TenantContext, error) {
	if principal.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "principal is required")
	}
	if err := scope.Validate(); err != nil {
		return nil, err
	}

	bindings, err := r.roles.ListBindings(ctx, principal, scope)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "role binding lookup failed")
	}
	if len(bindings) == 0 {
		if r.logger != nil {
			r.logger.InfoContext(ctx, "tenant access denied",
				"principal", principal.String(),
				"tenant", scope.Key(),
			)
		}
		return nil, dErrors.Wrap(ErrTenantAccessDenied, dErrors.CodeForbidden,
			"principal has no role binding in the claimed tenant")
	}

	roleIDs := make([]id.RoleID, 0, len(bindings))
	for _, b := range bindings {
		roleIDs = append(roleIDs, b.RoleID)
	}

	roles, err := r.roles.GetRoles(ctx, roleIDs)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "role lookup failed")
	}

	// Bindings to since-deleted roles grant nothing; if none of the bound
	// roles exist anymore the claim is no better than no binding at all.
	if len(roles) == 0 {
		return nil, dErrors.Wrap(ErrTenantAccessDenied, dErrors.CodeForbidden,
			"principal has no live role in the claimed tenant")
	}

	resolved := make([]id.RoleID, 0, len(roles))
	var maxVersion int64
	for _, role := range roles {
		resolved = append(resolved, role.ID)
		if role.Version > maxVersion {
			maxVersion = role.Version
		}
	}

	return &id.TenantContext{
		Principal:   principal,
		Scope:       scope,
		RoleIDs:     resolved,
		RoleVersion: maxVersion,
	}, nil
}
