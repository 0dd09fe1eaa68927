package postgres

import (
	"context"
	"fmt"

	"github.com/dungkhmt/serp-sub000/pkg/identity"
	"github.com/dungkhmt/serp-sub000/pkg/modules"
	"github.com/lib/pq"
)

// ModuleCatalog implements modules.Catalog.
type ModuleCatalog struct {
	q querier
}

var _ modules.Catalog = (*ModuleCatalog)(nil)

// GetModulesByIDs returns the modules that exist; unknown ids are omitted.
func (c *ModuleCatalog) GetModulesByIDs(ctx context.Context, ids []int64) ([]*modules.Module, error) {
	rows, err := c.q.QueryContext(ctx,
		"SELECT id, code, name, is_active, created_at FROM modules WHERE id = ANY($1) ORDER BY id",
		pq.Array(ids),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get modules: %w", err)
	}
	defer rows.Close()

	var out []*modules.Module
	for rows.Next() {
		var m modules.Module
		if err := rows.Scan(&m.ID, &m.Code, &m.Name, &m.IsActive, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan module: %w", err)
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

func (c *ModuleCatalog) ModuleIsAvailable(ctx context.Context, id int64) (bool, error) {
	var available bool
	err := c.q.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM modules WHERE id = $1 AND is_active)", id,
	).Scan(&available)
	if err != nil {
		return false, fmt.Errorf("failed to check module %d: %w", id, err)
	}
	return available, nil
}

// RoleStore implements identity.Directory over the roles and user_roles
// tables.
type RoleStore struct {
	q querier
}

var _ identity.Directory = (*RoleStore)(nil)

func (r *RoleStore) GetRolesByModuleID(ctx context.Context, moduleID int64) ([]identity.Role, error) {
	rows, err := r.q.QueryContext(ctx,
		"SELECT id, name, module_id FROM roles WHERE module_id = $1 ORDER BY id", moduleID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get module roles: %w", err)
	}
	defer rows.Close()

	var out []identity.Role
	for rows.Next() {
		var role identity.Role
		if err := rows.Scan(&role.ID, &role.Name, &role.ModuleID); err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		out = append(out, role)
	}
	return out, rows.Err()
}

func (r *RoleStore) AssignRolesToUser(ctx context.Context, userID, orgID int64, roles []identity.Role) error {
	if len(roles) == 0 {
		return nil
	}
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO user_roles (user_id, organization_id, role_id)
		SELECT $1, $2, UNNEST($3::bigint[])
		ON CONFLICT DO NOTHING
	`, userID, orgID, pq.Array(roleIDs(roles)))
	if err != nil {
		return fmt.Errorf("failed to assign roles: %w", err)
	}
	return nil
}

func (r *RoleStore) RemoveRolesFromUser(ctx context.Context, userID, orgID int64, roles []identity.Role) error {
	if len(roles) == 0 {
		return nil
	}
	_, err := r.q.ExecContext(ctx,
		"DELETE FROM user_roles WHERE user_id = $1 AND organization_id = $2 AND role_id = ANY($3)",
		userID, orgID, pq.Array(roleIDs(roles)),
	)
	if err != nil {
		return fmt.Errorf("failed to remove roles: %w", err)
	}
	return nil
}

func roleIDs(roles []identity.Role) []int64 {
	ids := make([]int64, len(roles))
	for i, role := range roles {
		ids[i] = role.ID
	}
	return ids
}
