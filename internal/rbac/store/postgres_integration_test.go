//go:build integration

package store

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"aegis/internal/catalog"
	"aegis/internal/rbac/models"
	id "aegis/pkg/domain"
	"aegis/pkg/testutil/containers"
)

type PostgresRoleStoreSuite struct {
	suite.Suite
	pg    *containers.PostgresContainer
	store *Postgres
	ctx   context.Context
}

func (s *PostgresRoleStoreSuite) SetupSuite() {
	s.pg = containers.NewPostgresContainer(s.T())
	s.store = NewPostgres(s.pg.DB)
	s.ctx = context.Background()
}

func (s *PostgresRoleStoreSuite) SetupTest() {
	s.Require().NoError(s.pg.Truncate(s.ctx, "role_bindings", "roles"))
}

func TestPostgresRoleStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresRoleStoreSuite))
}

func (s *PostgresRoleStoreSuite) newRole(name string, scope id.TenantScope, perms ...catalog.PermissionID) *models.Role {
	return &models.Role{
		ID:              id.RoleID(uuid.New()),
		Name:            name,
		Scope:           scope,
		Permissions:     models.NewPermissionSet(perms...),
		DenyPermissions: models.NewPermissionSet(),
	}
}

func (s *PostgresRoleStoreSuite) TestVersioning() {
	scope := id.TenantScope{Type: id.TenantOrganization, ID: "o1"}

	role := s.newRole("editor", scope, catalog.PermAccountRead)
	stored, err := s.store.UpsertRole(s.ctx, role)
	s.Require().NoError(err)
	s.Equal(int64(1), stored.Version)

	s.Run("permission change bumps version", func() {
		role.Permissions = models.NewPermissionSet(catalog.PermAccountRead, catalog.PermAccountUpdate)
		updated, err := s.store.UpsertRole(s.ctx, role)
		s.Require().NoError(err)
		s.Equal(int64(2), updated.Version)
	})

	s.Run("rename keeps version", func() {
		role.Name = "senior-editor"
		updated, err := s.store.UpsertRole(s.ctx, role)
		s.Require().NoError(err)
		s.Equal(int64(2), updated.Version)
	})

	s.Run("deny set change bumps version", func() {
		role.DenyPermissions = models.NewPermissionSet(catalog.PermAccountDelete)
		updated, err := s.store.UpsertRole(s.ctx, role)
		s.Require().NoError(err)
		s.Equal(int64(3), updated.Version)
	})
}

func (s *PostgresRoleStoreSuite) TestBindings() {
	scope := id.TenantScope{Type: id.TenantOrganization, ID: "o1"}
	other := id.TenantScope{Type: id.TenantOrganization, ID: "o2"}
	principal := id.PrincipalID(uuid.New())

	scoped, err := s.store.UpsertRole(s.ctx, s.newRole("viewer", scope, catalog.PermAccountRead))
	s.Require().NoError(err)
	global, err := s.store.UpsertRole(s.ctx, s.newRole("platform-auditor", id.GlobalScope, catalog.PermAuditRead))
	s.Require().NoError(err)

	s.Require().NoError(s.store.BindRole(s.ctx, models.RoleBinding{Principal: principal, RoleID: scoped.ID, Scope: scope}))
	s.Require().NoError(s.store.BindRole(s.ctx, models.RoleBinding{Principal: principal, RoleID: global.ID, Scope: id.GlobalScope}))

	s.Run("rebinding is idempotent", func() {
		s.Require().NoError(s.store.BindRole(s.ctx, models.RoleBinding{Principal: principal, RoleID: scoped.ID, Scope: scope}))
	})

	s.Run("exact scope plus global", func() {
		bindings, err := s.store.ListBindings(s.ctx, principal, scope)
		s.Require().NoError(err)
		s.Len(bindings, 2)
	})

	s.Run("other tenants see only global", func() {
		bindings, err := s.store.ListBindings(s.ctx, principal, other)
		s.Require().NoError(err)
		s.Require().Len(bindings, 1)
		s.Equal(global.ID, bindings[0].RoleID)
	})

	s.Run("unbind removes the exact binding", func() {
		s.Require().NoError(s.store.UnbindRole(s.ctx, principal, scoped.ID, scope))
		bindings, err := s.store.ListBindings(s.ctx, principal, scope)
		s.Require().NoError(err)
		s.Len(bindings, 1)
	})

	s.Run("unknown role ids are skipped on load", func() {
		roles, err := s.store.GetRoles(s.ctx, []id.RoleID{scoped.ID, id.RoleID(uuid.New())})
		s.Require().NoError(err)
		s.Len(roles, 1)
	})
}
