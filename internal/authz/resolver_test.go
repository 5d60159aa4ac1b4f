package authz_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"aegis/internal/authz"
	"aegis/internal/authz/cache"
	"aegis/internal/catalog"
	"aegis/internal/rbac/models"
	"aegis/internal/rbac/store"
	"aegis/internal/tenantctx"
	id "aegis/pkg/domain"
	dErrors "aegis/pkg/domain-errors"
)

type ResolverSuite struct {
	suite.Suite
	roles    *store.InMemory
	cache    *cache.Recording
	resolver *authz.Resolver
	tenants  *tenantctx.Resolver
	ctx      context.Context
}

func (s *ResolverSuite) SetupTest() {
	s.roles = store.NewInMemory()
	s.cache = cache.NewRecording()
	s.resolver = authz.New(catalog.Default(), s.roles, authz.WithCache(s.cache))
	s.tenants = tenantctx.New(s.roles)
	s.ctx = context.Background()
}

func TestResolverSuite(t *testing.T) {
	suite.Run(t, new(ResolverSuite))
}

func (s *ResolverSuite) bind(principal id.PrincipalID, scope id.TenantScope, role *models.Role) *models.Role {
	stored, err := s.roles.UpsertRole(s.ctx, role)
	s.Require().NoError(err)
	s.Require().NoError(s.roles.BindRole(s.ctx, models.RoleBinding{
		Principal: principal, RoleID: stored.ID, Scope: scope,
	}))
	return stored
}

func (s *ResolverSuite) viewerRole(scope id.TenantScope) *models.Role {
	return &models.Role{
		ID:              id.RoleID(uuid.New()),
		Name:            "viewer",
		Scope:           scope,
		Permissions:     models.NewPermissionSet(catalog.PermAccountRead),
		DenyPermissions: models.NewPermissionSet(),
	}
}

func (s *ResolverSuite) TestResolveOutcomes() {
	principal := id.PrincipalID(uuid.New())
	orgScope := id.TenantScope{Type: id.TenantOrganization, ID: "o1"}
	s.bind(principal, orgScope, s.viewerRole(orgScope))

	tc, err := s.tenants.Resolve(s.ctx, principal, orgScope)
	s.Require().NoError(err)

	s.Run("grants cataloged permission held by a role", func() {
		decision, err := s.resolver.Resolve(s.ctx, tc, "read", "account")
		s.Require().NoError(err)
		s.True(decision.Allowed())
		s.Equal(id.ReasonGranted, decision.Reason)
	})

	s.Run("denies permission not granted", func() {
		decision, err := s.resolver.Resolve(s.ctx, tc, "delete", "account")
		s.Require().NoError(err)
		s.False(decision.Allowed())
		s.Equal(id.ReasonPermissionNotGranted, decision.Reason)
	})

	s.Run("denies uncataloged pair with unknown_permission", func() {
		decision, err := s.resolver.Resolve(s.ctx, tc, "export", "ledger")
		s.Require().NoError(err)
		s.False(decision.Allowed())
		s.Equal(id.ReasonUnknownPermission, decision.Reason)
	})
}

func (s *ResolverSuite) TestDenyOverrideWins() {
	principal := id.PrincipalID(uuid.New())
	orgScope := id.TenantScope{Type: id.TenantOrganization, ID: "o1"}

	s.bind(principal, orgScope, s.viewerRole(orgScope))
	s.bind(principal, orgScope, &models.Role{
		ID:              id.RoleID(uuid.New()),
		Name:            "frozen",
		Scope:           orgScope,
		Permissions:     models.NewPermissionSet(),
		DenyPermissions: models.NewPermissionSet(catalog.PermAccountRead),
	})

	tc, err := s.tenants.Resolve(s.ctx, principal, orgScope)
	s.Require().NoError(err)

	decision, err := s.resolver.Resolve(s.ctx, tc, "read", "account")
	s.Require().NoError(err)
	s.False(decision.Allowed(), "explicit deny must win over allow elsewhere")
	s.Equal(id.ReasonDenyOverride, decision.Reason)
}

func (s *ResolverSuite) TestDeterminism() {
	principal := id.PrincipalID(uuid.New())
	orgScope := id.TenantScope{Type: id.TenantOrganization, ID: "o1"}
	s.bind(principal, orgScope, s.viewerRole(orgScope))

	tc, err := s.tenants.Resolve(s.ctx, principal, orgScope)
	s.Require().NoError(err)

	first, err := s.resolver.Resolve(s.ctx, tc, "read", "account")
	s.Require().NoError(err)
	second, err := s.resolver.Resolve(s.ctx, tc, "read", "account")
	s.Require().NoError(err)

	s.Equal(first.Outcome, second.Outcome)
	s.Equal(first.Reason, second.Reason)
}

func (s *ResolverSuite) TestCacheReadThrough() {
	principal := id.PrincipalID(uuid.New())
	orgScope := id.TenantScope{Type: id.TenantOrganization, ID: "o1"}
	s.bind(principal, orgScope, s.viewerRole(orgScope))

	tc, err := s.tenants.Resolve(s.ctx, principal, orgScope)
	s.Require().NoError(err)

	_, err = s.resolver.Resolve(s.ctx, tc, "read", "account")
	s.Require().NoError(err)
	s.Equal(1, s.cache.Misses)
	s.Len(s.cache.Sets, 1)

	_, err = s.resolver.Resolve(s.ctx, tc, "read", "account")
	s.Require().NoError(err)
	s.Equal(1, s.cache.Misses, "second resolve must be served from cache")
	s.Len(s.cache.Sets, 1)
}

// TestVersionBasedInvalidation covers the new-role-grant scenario: a role
// edit becomes visible on the next check without restarts or TTL expiry
// because the version snapshot is part of the cache key.
func (s *ResolverSuite) TestVersionBasedInvalidation() {
	principal := id.PrincipalID(uuid.New())
	orgScope := id.TenantScope{Type: id.TenantOrganization, ID: "o1"}
	role := s.bind(principal, orgScope, s.viewerRole(orgScope))

	tc, err := s.tenants.Resolve(s.ctx, principal, orgScope)
	s.Require().NoError(err)

	decision, err := s.resolver.Resolve(s.ctx, tc, "update", "account")
	s.Require().NoError(err)
	s.False(decision.Allowed())

	// Admin widens the role; version bumps.
	role.Permissions = models.NewPermissionSet(catalog.PermAccountRead, catalog.PermAccountUpdate)
	_, err = s.roles.UpsertRole(s.ctx, role)
	s.Require().NoError(err)

	// A fresh request resolves a fresh context and therefore fresh keys.
	tc, err = s.tenants.Resolve(s.ctx, principal, orgScope)
	s.Require().NoError(err)

	decision, err = s.resolver.Resolve(s.ctx, tc, "update", "account")
	s.Require().NoError(err)
	s.True(decision.Allowed(), "role edit must be visible without process restart")
}

type failingRoles struct {
	*store.InMemory
}

func (f failingRoles) GetRoles(context.Context, []id.RoleID) ([]*models.Role, error) {
	return nil, errors.New("connection refused")
}

func (s *ResolverSuite) TestStoreFailureIsAnErrorNotADecision() {
	resolver := authz.New(catalog.Default(), failingRoles{s.roles})
	tc := &id.TenantContext{
		Principal: id.PrincipalID(uuid.New()),
		Scope:     id.TenantScope{Type: id.TenantOrganization, ID: "o1"},
		RoleIDs:   []id.RoleID{id.RoleID(uuid.New())},
	}

	_, err := resolver.Resolve(s.ctx, tc, "read", "account")
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))
}
