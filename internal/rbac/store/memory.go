package store

import (
	"context"
	"sync"
	"time"

	"aegis/internal/rbac/models"
	id "aegis/pkg/domain"
)

// InMemory keeps role state in process. It favors clarity over performance
// and is the store unit tests run against.
type InMemory struct {
	mu       sync.RWMutex
	roles    map[id.RoleID]*models.Role
	bindings map[bindingKey]models.RoleBinding
}

type bindingKey struct {
	principal id.PrincipalID
	roleID    id.RoleID
	scope     string
}

// NewInMemory returns an empty in-memory role store.
func NewInMemory() *InMemory {
	return &InMemory{
		roles:    make(map[id.RoleID]*models.Role),
		bindings: make(map[bindingKey]models.RoleBinding),
	}
}

func (s *InMemory) ListBindings(_ context.Context, principal id.PrincipalID, scope id.TenantScope) ([]models.RoleBinding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.RoleBinding
	for _, b := range s.bindings {
		if b.Principal != principal {
			continue
		}
		if b.Scope == scope || b.Scope.IsGlobal() {
			out = append(out, b)
		}
	}
	return out, nil
}

func (s *InMemory) GetRoles(_ context.Context, roleIDs []id.RoleID) ([]*models.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	roles := make([]*models.Role, 0, len(roleIDs))
	for _, roleID := range roleIDs {
		if role, ok := s.roles[roleID]; ok {
			roles = append(roles, cloneRole(role))
		}
	}
	return roles, nil
}

func (s *InMemory) UpsertRole(_ context.Context, role *models.Role) (*models.Role, error) {
	if err := role.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	stored := cloneRole(role)
	if existing, ok := s.roles[role.ID]; ok {
		stored.CreatedAt = existing.CreatedAt
		stored.Version = existing.Version
		if !existing.Permissions.Equal(role.Permissions) ||
			!existing.DenyPermissions.Equal(role.DenyPermissions) {
			stored.Version = existing.Version + 1
		}
	} else {
		stored.CreatedAt = now
		stored.Version = 1
	}
	stored.UpdatedAt = now
	s.roles[role.ID] = stored
	return cloneRole(stored), nil
}

func (s *InMemory) BindRole(_ context.Context, binding models.RoleBinding) error {
	if err := binding.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := bindingKey{principal: binding.Principal, roleID: binding.RoleID, scope: binding.Scope.Key()}
	if _, exists := s.bindings[key]; exists {
		return nil
	}
	if binding.BoundAt.IsZero() {
		binding.BoundAt = time.Now()
	}
	s.bindings[key] = binding
	return nil
}

func (s *InMemory) UnbindRole(_ context.Context, principal id.PrincipalID, roleID id.RoleID, scope id.TenantScope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.bindings, bindingKey{principal: principal, roleID: roleID, scope: scope.Key()})
	return nil
}

func cloneRole(role *models.Role) *models.Role {
	clone := *role
	clone.Permissions = role.Permissions.Clone()
	clone.DenyPermissions = role.DenyPermissions.Clone()
	return &clone
}
