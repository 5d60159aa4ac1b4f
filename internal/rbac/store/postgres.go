package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"aegis/internal/catalog"
	"aegis/internal/rbac/models"
	id "aegis/pkg/domain"
)

// Postgres persists roles and bindings in the roles / role_bindings tables.
// Permission sets are stored as sorted JSONB arrays so IS DISTINCT FROM in
// the upsert compares set content, not insertion order.
type Postgres struct {
	db *sql.DB
}

// NewPostgres creates a Postgres-backed role store.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (s *Postgres) ListBindings(ctx context.Context, principal id.PrincipalID, scope id.TenantScope) ([]models.RoleBinding, error) {
	query := `
		SELECT principal_id, role_id, tenant_type, tenant_id, bound_at
		FROM role_bindings
		WHERE principal_id = $1
		  AND ((tenant_type = $2 AND tenant_id = $3) OR (tenant_type = '' AND tenant_id = ''))
	`
	rows, err := s.db.QueryContext(ctx, query, uuid.UUID(principal), string(scope.Type), scope.ID)
	if err != nil {
		return nil, fmt.Errorf("query role bindings: %w", err)
	}
	defer rows.Close()

	var bindings []models.RoleBinding
	for rows.Next() {
		var (
			principalID uuid.UUID
			roleID      uuid.UUID
			tenantType  string
			tenantID    string
			boundAt     time.Time
		)
		if err := rows.Scan(&principalID, &roleID, &tenantType, &tenantID, &boundAt); err != nil {
			return nil, fmt.Errorf("scan role binding: %w", err)
		}
		bindings = append(bindings, models.RoleBinding{
			Principal: id.PrincipalID(principalID),
			RoleID:    id.RoleID(roleID),
			Scope:     id.TenantScope{Type: id.TenantType(tenantType), ID: tenantID},
			BoundAt:   boundAt,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate role bindings: %w", err)
	}
	return bindings, nil
}

func (s *Postgres) GetRoles(ctx context.Context, roleIDs []id.RoleID) ([]*models.Role, error) {
	if len(roleIDs) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(roleIDs))
	args := make([]any, len(roleIDs))
	for i, roleID := range roleIDs {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = uuid.UUID(roleID)
	}
	query := fmt.Sprintf(`
		SELECT id, name, tenant_type, tenant_id, permissions, deny_permissions, version, created_at, updated_at
		FROM roles
		WHERE id IN (%s)
	`, strings.Join(placeholders, ", "))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query roles: %w", err)
	}
	defer rows.Close()

	var roles []*models.Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate roles: %w", err)
	}
	return roles, nil
}

func (s *Postgres) UpsertRole(ctx context.Context, role *models.Role) (*models.Role, error) {
	if err := role.Validate(); err != nil {
		return nil, err
	}

	perms, err := marshalPermissions(role.Permissions)
	if err != nil {
		return nil, err
	}
	denies, err := marshalPermissions(role.DenyPermissions)
	if err != nil {
		return nil, err
	}

	query := `
		INSERT INTO roles (id, name, tenant_type, tenant_id, permissions, deny_permissions, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 1, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			permissions = EXCLUDED.permissions,
			deny_permissions = EXCLUDED.deny_permissions,
			version = roles.version + CASE
				WHEN roles.permissions IS DISTINCT FROM EXCLUDED.permissions
				  OR roles.deny_permissions IS DISTINCT FROM EXCLUDED.deny_permissions
				THEN 1 ELSE 0 END,
			updated_at = NOW()
		RETURNING id, name, tenant_type, tenant_id, permissions, deny_permissions, version, created_at, updated_at
	`
	row := s.db.QueryRowContext(ctx, query,
		uuid.UUID(role.ID),
		role.Name,
		string(role.Scope.Type),
		role.Scope.ID,
		perms,
		denies,
	)
	return scanRole(row)
}

func (s *Postgres) BindRole(ctx context.Context, binding models.RoleBinding) error {
	if err := binding.Validate(); err != nil {
		return err
	}

	boundAt := binding.BoundAt
	if boundAt.IsZero() {
		boundAt = time.Now()
	}
	query := `
		INSERT INTO role_bindings (principal_id, role_id, tenant_type, tenant_id, bound_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (principal_id, role_id, tenant_type, tenant_id) DO NOTHING
	`
	_, err := s.db.ExecContext(ctx, query,
		uuid.UUID(binding.Principal),
		uuid.UUID(binding.RoleID),
		string(binding.Scope.Type),
		binding.Scope.ID,
		boundAt,
	)
	if err != nil {
		return fmt.Errorf("insert role binding: %w", err)
	}
	return nil
}

func (s *Postgres) UnbindRole(ctx context.Context, principal id.PrincipalID, roleID id.RoleID, scope id.TenantScope) error {
	query := `
		DELETE FROM role_bindings
		WHERE principal_id = $1 AND role_id = $2 AND tenant_type = $3 AND tenant_id = $4
	`
	_, err := s.db.ExecContext(ctx, query,
		uuid.UUID(principal), uuid.UUID(roleID), string(scope.Type), scope.ID)
	if err != nil {
		return fmt.Errorf("delete role binding: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRole(row rowScanner) (*models.Role, error) {
	var (
		roleID     uuid.UUID
		name       string
		tenantType string
		tenantID   string
		permsRaw   []byte
		deniesRaw  []byte
		version    int64
		createdAt  time.Time
		updatedAt  time.Time
	)
	if err := row.Scan(&roleID, &name, &tenantType, &tenantID, &permsRaw, &deniesRaw, &version, &createdAt, &updatedAt); err != nil {
		return nil, fmt.Errorf("scan role: %w", err)
	}

	perms, err := unmarshalPermissions(permsRaw)
	if err != nil {
		return nil, err
	}
	denies, err := unmarshalPermissions(deniesRaw)
	if err != nil {
		return nil, err
	}
	return &models.Role{
		ID:              id.RoleID(roleID),
		Name:            name,
		Scope:           id.TenantScope{Type: id.TenantType(tenantType), ID: tenantID},
		Permissions:     perms,
		DenyPermissions: denies,
		Version:         version,
		CreatedAt:       createdAt,
		UpdatedAt:       updatedAt,
	}, nil
}

func marshalPermissions(set models.PermissionSet) ([]byte, error) {
	members := set.Members()
	sort.Slice(members, func(i, j int) bool { return members[i] < members[j] })
	raw, err := json.Marshal(members)
	if err != nil {
		return nil, fmt.Errorf("marshal permission set: %w", err)
	}
	return raw, nil
}

func unmarshalPermissions(raw []byte) (models.PermissionSet, error) {
	var members []catalog.PermissionID
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &members); err != nil {
			return nil, fmt.Errorf("unmarshal permission set: %w", err)
		}
	}
	return models.NewPermissionSet(members...), nil
}
